package hevcparser

import (
	"github.com/bugVanisher/heif/common/errs"
	"github.com/bugVanisher/heif/utils/bits"
)

// RepFormat is one VPS-extension representation-format table entry.
type RepFormat struct {
	PicWidthInLumaSamples  uint32
	PicHeightInLumaSamples uint32
	ChromaAndBitDepthPresent bool
	ChromaFormatIdc        uint32
	SeparateColourPlane    bool
	BitDepthLumaMinus8     uint32
	BitDepthChromaMinus8   uint32
}

// OutputLayerSet is one OLS of the VPS extension with derived flags.
type OutputLayerSet struct {
	LayerSetIdx      uint32
	OutputLayerFlags []bool
	PtlIdx           []uint32
}

// VpsExtension is the layered-HEVC VPS extension with its derived
// dependency closure.
type VpsExtension struct {
	SplittingFlag   bool
	ScalabilityMask [16]bool
	DimensionIdLen  []uint8
	NuhLayerIdPresent bool
	LayerIdInNuh    []uint8 // indexed by layer order index
	DimensionID     [][]uint8

	ViewIdLen uint32
	ViewIdVal []uint32

	// DirectDependency[i][j]: layer order index i depends directly on j.
	DirectDependency [][]bool

	DefaultRefLayersActive bool
	MaxTidIlRefPicsPlus1   [][]uint8

	NumProfileTierLevels uint32
	ProfileTierLevels    []*ProfileTierLevel

	NumAddOlss             uint32
	DefaultOutputLayerIdc  uint32
	OutputLayerSets        []OutputLayerSet

	RepFormats       []RepFormat
	RepFormatIdxPresent bool
	RepFormatIdx     []uint32

	MaxOneActiveRefLayer bool
	PocLsbAligned        bool
	PocLsbNotPresent     []bool

	// Derived per layer order index.
	NumDirectRefLayers []int
	NumRefLayers       []int
	NumPredictedLayers []int
}

// VPS is a decoded HEVC video parameter set.
type VPS struct {
	VpsID              uint32
	BaseLayerInternal  bool
	BaseLayerAvailable bool
	MaxLayersMinus1    uint32
	MaxSubLayersMinus1 uint32
	TemporalIdNesting  bool
	Ptl                *ProfileTierLevel

	MaxDecPicBufferingMinus1 []uint32
	MaxNumReorderPics        []uint32
	MaxLatencyIncreasePlus1  []uint32

	MaxLayerID         uint32
	NumLayerSetsMinus1 uint32
	// LayerIdIncluded[set][layerID]
	LayerIdIncluded [][]bool

	TimingInfoPresent bool
	NumUnitsInTick    uint32
	TimeScale         uint32

	Extension *VpsExtension
}

// LayerIdList returns the nuh_layer_id list of a layer set, with its
// num_layers_in_id_list implied by the length.
func (v *VPS) LayerIdList(setIdx uint32) []uint8 {
	if int(setIdx) >= len(v.LayerIdIncluded) {
		return nil
	}
	var out []uint8
	for id, inc := range v.LayerIdIncluded[setIdx] {
		if inc {
			out = append(out, uint8(id))
		}
	}
	return out
}

// LayerOrderIdx maps a nuh_layer_id to its layer order index.
func (e *VpsExtension) LayerOrderIdx(nuhLayerID uint8) int {
	for i, id := range e.LayerIdInNuh {
		if id == nuhLayerID {
			return i
		}
	}
	return -1
}

// DirectRefLayerIds lists the nuh_layer_ids the given layer directly
// depends on.
func (e *VpsExtension) DirectRefLayerIds(nuhLayerID uint8) []uint8 {
	i := e.LayerOrderIdx(nuhLayerID)
	if i < 0 {
		return nil
	}
	var out []uint8
	for j := 0; j < i; j++ {
		if e.DirectDependency[i][j] {
			out = append(out, e.LayerIdInNuh[j])
		}
	}
	return out
}

func (e *VpsExtension) deriveDependencies(maxLayers int) {
	e.NumDirectRefLayers = make([]int, maxLayers)
	e.NumRefLayers = make([]int, maxLayers)
	e.NumPredictedLayers = make([]int, maxLayers)

	// Transitive reference-layer closure.
	closure := make([][]bool, maxLayers)
	for i := 0; i < maxLayers; i++ {
		closure[i] = make([]bool, maxLayers)
		copy(closure[i], e.DirectDependency[i])
	}
	for k := 0; k < maxLayers; k++ {
		for i := 0; i < maxLayers; i++ {
			for j := 0; j < maxLayers; j++ {
				if closure[i][k] && closure[k][j] {
					closure[i][j] = true
				}
			}
		}
	}
	for i := 0; i < maxLayers; i++ {
		for j := 0; j < maxLayers; j++ {
			if e.DirectDependency[i][j] {
				e.NumDirectRefLayers[i]++
			}
			if closure[i][j] {
				e.NumRefLayers[i]++
			}
			if closure[j][i] {
				e.NumPredictedLayers[i]++
			}
		}
	}
}

func parseRepFormat(r *bits.Reader) (RepFormat, error) {
	var rf RepFormat
	v, err := r.ReadBits(16)
	if err != nil {
		return rf, err
	}
	rf.PicWidthInLumaSamples = v
	if v, err = r.ReadBits(16); err != nil {
		return rf, err
	}
	rf.PicHeightInLumaSamples = v
	if rf.ChromaAndBitDepthPresent, err = r.ReadFlag(); err != nil {
		return rf, err
	}
	if rf.ChromaAndBitDepthPresent {
		if rf.ChromaFormatIdc, err = r.ReadBits(2); err != nil {
			return rf, err
		}
		if rf.ChromaFormatIdc == 3 {
			if rf.SeparateColourPlane, err = r.ReadFlag(); err != nil {
				return rf, err
			}
		}
		if rf.BitDepthLumaMinus8, err = r.ReadBits(4); err != nil {
			return rf, err
		}
		if rf.BitDepthChromaMinus8, err = r.ReadBits(4); err != nil {
			return rf, err
		}
	}
	confWindow, err := r.ReadFlag()
	if err != nil {
		return rf, err
	}
	if confWindow {
		for i := 0; i < 4; i++ {
			if _, err := r.ReadUE(); err != nil {
				return rf, err
			}
		}
	}
	return rf, nil
}

func ceilLog2(n uint32) int {
	width := 0
	for (1 << width) < int(n) {
		width++
	}
	return width
}

// ParseVPS decodes a VPS RBSP, the two header bytes excluded.
func ParseVPS(rbsp []byte) (*VPS, error) {
	r := bits.NewReader(rbsp)
	v := &VPS{}
	var err error
	if v.VpsID, err = r.ReadBits(4); err != nil {
		return nil, err
	}
	if v.BaseLayerInternal, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	if v.BaseLayerAvailable, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	if v.MaxLayersMinus1, err = r.ReadBits(6); err != nil {
		return nil, err
	}
	if v.MaxSubLayersMinus1, err = r.ReadBits(3); err != nil {
		return nil, err
	}
	if v.TemporalIdNesting, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	if _, err = r.ReadBits(16); err != nil { // vps_reserved_0xffff_16bits
		return nil, err
	}
	if v.Ptl, err = parseProfileTierLevel(r, true, int(v.MaxSubLayersMinus1)); err != nil {
		return nil, err
	}
	subLayerOrderingPresent, err := r.ReadFlag()
	if err != nil {
		return nil, err
	}
	start := uint32(0)
	if !subLayerOrderingPresent {
		start = v.MaxSubLayersMinus1
	}
	for i := start; i <= v.MaxSubLayersMinus1; i++ {
		a, err := r.ReadUE()
		if err != nil {
			return nil, err
		}
		b, err := r.ReadUE()
		if err != nil {
			return nil, err
		}
		c, err := r.ReadUE()
		if err != nil {
			return nil, err
		}
		v.MaxDecPicBufferingMinus1 = append(v.MaxDecPicBufferingMinus1, a)
		v.MaxNumReorderPics = append(v.MaxNumReorderPics, b)
		v.MaxLatencyIncreasePlus1 = append(v.MaxLatencyIncreasePlus1, c)
	}
	if v.MaxLayerID, err = r.ReadBits(6); err != nil {
		return nil, err
	}
	if v.NumLayerSetsMinus1, err = r.ReadUE(); err != nil {
		return nil, err
	}
	if v.NumLayerSetsMinus1 > 1023 {
		return nil, errs.Wrapf(errs.ErrMalformedBitstream, "vps_num_layer_sets_minus1 %d", v.NumLayerSetsMinus1)
	}
	v.LayerIdIncluded = make([][]bool, v.NumLayerSetsMinus1+1)
	v.LayerIdIncluded[0] = make([]bool, v.MaxLayerID+1)
	v.LayerIdIncluded[0][0] = true
	for i := uint32(1); i <= v.NumLayerSetsMinus1; i++ {
		v.LayerIdIncluded[i] = make([]bool, v.MaxLayerID+1)
		for j := uint32(0); j <= v.MaxLayerID; j++ {
			inc, err := r.ReadFlag()
			if err != nil {
				return nil, err
			}
			v.LayerIdIncluded[i][j] = inc
		}
	}
	if v.TimingInfoPresent, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	if v.TimingInfoPresent {
		if v.NumUnitsInTick, err = r.ReadBits(32); err != nil {
			return nil, err
		}
		if v.TimeScale, err = r.ReadBits(32); err != nil {
			return nil, err
		}
		pocProportional, err := r.ReadFlag()
		if err != nil {
			return nil, err
		}
		if pocProportional {
			if _, err := r.ReadUE(); err != nil { // vps_num_ticks_poc_diff_one_minus1
				return nil, err
			}
		}
		numHrd, err := r.ReadUE()
		if err != nil {
			return nil, err
		}
		for i := uint32(0); i < numHrd; i++ {
			if _, err := r.ReadUE(); err != nil { // hrd_layer_set_idx
				return nil, err
			}
			commonInfPresent := true
			if i > 0 {
				if commonInfPresent, err = r.ReadFlag(); err != nil {
					return nil, err
				}
			}
			if err := skipHrdParameters(r, commonInfPresent, int(v.MaxSubLayersMinus1)); err != nil {
				return nil, err
			}
		}
	}
	extensionFlag, err := r.ReadFlag()
	if err != nil {
		return nil, err
	}
	if extensionFlag {
		r.AlignToByte()
		if v.Extension, err = parseVpsExtension(r, v); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func parseVpsExtension(r *bits.Reader, v *VPS) (*VpsExtension, error) {
	e := &VpsExtension{}
	var err error
	maxLayers := int(v.MaxLayersMinus1) + 1
	if v.MaxLayersMinus1 > 0 && v.BaseLayerInternal {
		if _, err = parseProfileTierLevel(r, false, int(v.MaxSubLayersMinus1)); err != nil {
			return nil, err
		}
	}
	if e.SplittingFlag, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	numScalabilityTypes := 0
	for i := 0; i < 16; i++ {
		flag, err := r.ReadFlag()
		if err != nil {
			return nil, err
		}
		e.ScalabilityMask[i] = flag
		if flag {
			numScalabilityTypes++
		}
	}
	dimLenCount := numScalabilityTypes
	if e.SplittingFlag {
		dimLenCount--
	}
	for j := 0; j < dimLenCount; j++ {
		l, err := r.ReadBits(3)
		if err != nil {
			return nil, err
		}
		e.DimensionIdLen = append(e.DimensionIdLen, uint8(l+1))
	}
	if e.NuhLayerIdPresent, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	e.LayerIdInNuh = make([]uint8, maxLayers)
	e.DimensionID = make([][]uint8, maxLayers)
	for i := 0; i < maxLayers; i++ {
		if i > 0 && e.NuhLayerIdPresent {
			id, err := r.ReadBits(6)
			if err != nil {
				return nil, err
			}
			e.LayerIdInNuh[i] = uint8(id)
		} else {
			e.LayerIdInNuh[i] = uint8(i)
		}
		if !e.SplittingFlag && i > 0 {
			for j := 0; j < numScalabilityTypes; j++ {
				width := int(e.DimensionIdLen[j])
				d, err := r.ReadBits(width)
				if err != nil {
					return nil, err
				}
				e.DimensionID[i] = append(e.DimensionID[i], uint8(d))
			}
		}
	}
	if e.ViewIdLen, err = r.ReadBits(4); err != nil {
		return nil, err
	}
	if e.ViewIdLen > 0 {
		// One view id per distinct view order index; HEIF layered content
		// carries one view per layer at most.
		for i := 0; i < maxLayers; i++ {
			id, err := r.ReadBits(int(e.ViewIdLen))
			if err != nil {
				return nil, err
			}
			e.ViewIdVal = append(e.ViewIdVal, id)
		}
	}
	e.DirectDependency = make([][]bool, maxLayers)
	for i := 0; i < maxLayers; i++ {
		e.DirectDependency[i] = make([]bool, maxLayers)
	}
	for i := 1; i < maxLayers; i++ {
		for j := 0; j < i; j++ {
			if e.DirectDependency[i][j], err = r.ReadFlag(); err != nil {
				return nil, err
			}
		}
	}
	e.deriveDependencies(maxLayers)

	// Independent layers beyond the base would introduce additional layer
	// sets; HEIF layered images keep a single dependency tree.
	numIndependent := 0
	for i := 0; i < maxLayers; i++ {
		if e.NumDirectRefLayers[i] == 0 {
			numIndependent++
		}
	}
	if numIndependent > 1 {
		numAddLayerSets, err := r.ReadUE()
		if err != nil {
			return nil, err
		}
		if numAddLayerSets > 0 {
			return nil, errs.Wrapf(errs.ErrUnsupportedFeature, "vps extension additional layer sets")
		}
	}
	subLayersMaxPresent, err := r.ReadFlag()
	if err != nil {
		return nil, err
	}
	if subLayersMaxPresent {
		for i := 0; i < maxLayers; i++ {
			if _, err := r.ReadBits(3); err != nil {
				return nil, err
			}
		}
	}
	maxTidRefPresent, err := r.ReadFlag()
	if err != nil {
		return nil, err
	}
	e.MaxTidIlRefPicsPlus1 = make([][]uint8, maxLayers)
	for i := 0; i < maxLayers; i++ {
		e.MaxTidIlRefPicsPlus1[i] = make([]uint8, maxLayers)
		for j := range e.MaxTidIlRefPicsPlus1[i] {
			e.MaxTidIlRefPicsPlus1[i][j] = 7
		}
	}
	if maxTidRefPresent {
		for i := 0; i < maxLayers-1; i++ {
			for j := i + 1; j < maxLayers; j++ {
				if e.DirectDependency[j][i] {
					t, err := r.ReadBits(3)
					if err != nil {
						return nil, err
					}
					e.MaxTidIlRefPicsPlus1[i][j] = uint8(t)
				}
			}
		}
	}
	if e.DefaultRefLayersActive, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	numPtlMinus1, err := r.ReadUE()
	if err != nil {
		return nil, err
	}
	e.NumProfileTierLevels = numPtlMinus1 + 1
	for i := uint32(1); i <= numPtlMinus1; i++ {
		profilePresent, err := r.ReadFlag()
		if err != nil {
			return nil, err
		}
		ptl, err := parseProfileTierLevel(r, profilePresent, int(v.MaxSubLayersMinus1))
		if err != nil {
			return nil, err
		}
		e.ProfileTierLevels = append(e.ProfileTierLevels, ptl)
	}
	numLayerSets := v.NumLayerSetsMinus1 + 1
	if numLayerSets > 1 {
		if e.NumAddOlss, err = r.ReadUE(); err != nil {
			return nil, err
		}
		if e.DefaultOutputLayerIdc, err = r.ReadBits(2); err != nil {
			return nil, err
		}
	}
	numOls := numLayerSets + e.NumAddOlss
	ptlIdxWidth := ceilLog2(e.NumProfileTierLevels)
	for i := uint32(0); i < numOls; i++ {
		ols := OutputLayerSet{LayerSetIdx: i}
		if i >= 1 && numLayerSets > 2 && i >= numLayerSets {
			idx, err := r.ReadBits(ceilLog2(numLayerSets - 1))
			if err != nil {
				return nil, err
			}
			ols.LayerSetIdx = idx + 1
		}
		layerIds := v.LayerIdList(ols.LayerSetIdx)
		if i > 1 && (i >= numLayerSets || e.DefaultOutputLayerIdc == 2) {
			for range layerIds {
				flag, err := r.ReadFlag()
				if err != nil {
					return nil, err
				}
				ols.OutputLayerFlags = append(ols.OutputLayerFlags, flag)
			}
		} else {
			// Implied: the highest layer (idc 0/1) is the output layer.
			ols.OutputLayerFlags = make([]bool, len(layerIds))
			if len(layerIds) > 0 {
				ols.OutputLayerFlags[len(layerIds)-1] = true
			}
		}
		if ptlIdxWidth > 0 {
			for range layerIds {
				idx, err := r.ReadBits(ptlIdxWidth)
				if err != nil {
					return nil, err
				}
				ols.PtlIdx = append(ols.PtlIdx, idx)
			}
		}
		outputCount := 0
		for _, f := range ols.OutputLayerFlags {
			if f {
				outputCount++
			}
		}
		if outputCount == 1 {
			if _, err := r.ReadFlag(); err != nil { // alt_output_layer_flag
				return nil, err
			}
		}
		e.OutputLayerSets = append(e.OutputLayerSets, ols)
	}
	numRepFormatsMinus1, err := r.ReadUE()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i <= numRepFormatsMinus1; i++ {
		rf, err := parseRepFormat(r)
		if err != nil {
			return nil, err
		}
		e.RepFormats = append(e.RepFormats, rf)
	}
	if numRepFormatsMinus1 > 0 {
		if e.RepFormatIdxPresent, err = r.ReadFlag(); err != nil {
			return nil, err
		}
	}
	e.RepFormatIdx = make([]uint32, maxLayers)
	for i := 1; i < maxLayers; i++ {
		if e.RepFormatIdxPresent {
			idx, err := r.ReadBits(ceilLog2(numRepFormatsMinus1 + 1))
			if err != nil {
				return nil, err
			}
			e.RepFormatIdx[i] = idx
		} else {
			idx := uint32(i)
			if idx > numRepFormatsMinus1 {
				idx = numRepFormatsMinus1
			}
			e.RepFormatIdx[i] = idx
		}
	}
	if e.MaxOneActiveRefLayer, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	if e.PocLsbAligned, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	e.PocLsbNotPresent = make([]bool, maxLayers)
	for i := 1; i < maxLayers; i++ {
		if e.NumDirectRefLayers[i] == 0 {
			if e.PocLsbNotPresent[i], err = r.ReadFlag(); err != nil {
				return nil, err
			}
		}
	}
	// dpb_size and the remaining extension syntax do not feed the item
	// model; the extension tail is left unread.
	return e, nil
}

func skipHrdParameters(r *bits.Reader, commonInfPresent bool, maxSubLayersMinus1 int) error {
	nalHrd, vclHrd := false, false
	subPicHrd := false
	var err error
	if commonInfPresent {
		if nalHrd, err = r.ReadFlag(); err != nil {
			return err
		}
		if vclHrd, err = r.ReadFlag(); err != nil {
			return err
		}
		if nalHrd || vclHrd {
			if subPicHrd, err = r.ReadFlag(); err != nil {
				return err
			}
			if subPicHrd {
				if err := r.SkipBits(8 + 5 + 1 + 5); err != nil {
					return err
				}
			}
			if err := r.SkipBits(4 + 4); err != nil { // bit_rate_scale, cpb_size_scale
				return err
			}
			if subPicHrd {
				if err := r.SkipBits(4); err != nil { // cpb_size_du_scale
					return err
				}
			}
			if err := r.SkipBits(5 + 5 + 5); err != nil { // delay lengths
				return err
			}
		}
	}
	for i := 0; i <= maxSubLayersMinus1; i++ {
		fixedRate := false
		lowDelay := false
		cpbCnt := uint32(1)
		fixedRateGeneral, err := r.ReadFlag()
		if err != nil {
			return err
		}
		if !fixedRateGeneral {
			if fixedRate, err = r.ReadFlag(); err != nil {
				return err
			}
		} else {
			fixedRate = true
		}
		if fixedRate {
			if _, err := r.ReadUE(); err != nil { // elemental_duration_in_tc_minus1
				return err
			}
		} else {
			if lowDelay, err = r.ReadFlag(); err != nil {
				return err
			}
		}
		if !lowDelay {
			c, err := r.ReadUE()
			if err != nil {
				return err
			}
			cpbCnt = c + 1
		}
		skipSubLayer := func() error {
			for j := uint32(0); j < cpbCnt; j++ {
				if _, err := r.ReadUE(); err != nil { // bit_rate_value_minus1
					return err
				}
				if _, err := r.ReadUE(); err != nil { // cpb_size_value_minus1
					return err
				}
				if subPicHrd {
					if _, err := r.ReadUE(); err != nil {
						return err
					}
					if _, err := r.ReadUE(); err != nil {
						return err
					}
				}
				if _, err := r.ReadFlag(); err != nil { // cbr_flag
					return err
				}
			}
			return nil
		}
		if nalHrd {
			if err := skipSubLayer(); err != nil {
				return err
			}
		}
		if vclHrd {
			if err := skipSubLayer(); err != nil {
				return err
			}
		}
	}
	return nil
}
