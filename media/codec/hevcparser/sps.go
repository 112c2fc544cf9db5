package hevcparser

import (
	"github.com/bugVanisher/heif/common/errs"
	"github.com/bugVanisher/heif/utils/bits"
)

// ShortTermRPS is one short-term reference picture set in expanded form:
// negative deltas in S0, positive deltas in S1, both cumulative.
type ShortTermRPS struct {
	DeltaPocS0     []int32
	DeltaPocS1     []int32
	UsedByCurrPicS0 []bool
	UsedByCurrPicS1 []bool
}

func (s *ShortTermRPS) NumDeltaPocs() int {
	return len(s.DeltaPocS0) + len(s.DeltaPocS1)
}

// parseShortTermRPS decodes st_ref_pic_set(stRpsIdx), expanding inter-RPS
// prediction against the already-decoded sets.
func parseShortTermRPS(r *bits.Reader, stRpsIdx int, sets []ShortTermRPS) (ShortTermRPS, error) {
	var rps ShortTermRPS
	interPrediction := false
	var err error
	if stRpsIdx != 0 {
		if interPrediction, err = r.ReadFlag(); err != nil {
			return rps, err
		}
	}
	if interPrediction {
		deltaIdxMinus1 := uint32(0)
		if stRpsIdx == len(sets) {
			// Only the slice-header RPS can reference a non-adjacent set.
			if deltaIdxMinus1, err = r.ReadUE(); err != nil {
				return rps, err
			}
		}
		refIdx := stRpsIdx - int(deltaIdxMinus1) - 1
		if refIdx < 0 || refIdx >= len(sets) {
			return rps, errs.Wrapf(errs.ErrMalformedBitstream, "rps inter prediction references set %d", refIdx)
		}
		ref := sets[refIdx]
		deltaRpsSign, err := r.ReadBit()
		if err != nil {
			return rps, err
		}
		absDeltaRpsMinus1, err := r.ReadUE()
		if err != nil {
			return rps, err
		}
		deltaRps := (1 - 2*int32(deltaRpsSign)) * int32(absDeltaRpsMinus1+1)

		numDelta := ref.NumDeltaPocs()
		usedByCurr := make([]bool, numDelta+1)
		useDelta := make([]bool, numDelta+1)
		for j := 0; j <= numDelta; j++ {
			if usedByCurr[j], err = r.ReadFlag(); err != nil {
				return rps, err
			}
			if !usedByCurr[j] {
				if useDelta[j], err = r.ReadFlag(); err != nil {
					return rps, err
				}
			} else {
				useDelta[j] = true
			}
		}
		numS0 := len(ref.DeltaPocS0)
		numS1 := len(ref.DeltaPocS1)
		// S0: reference S1 in reverse, then deltaRps itself, then S0 forward.
		for j := numS1 - 1; j >= 0; j-- {
			dPoc := ref.DeltaPocS1[j] + deltaRps
			if dPoc < 0 && useDelta[numS0+j] {
				rps.DeltaPocS0 = append(rps.DeltaPocS0, dPoc)
				rps.UsedByCurrPicS0 = append(rps.UsedByCurrPicS0, usedByCurr[numS0+j])
			}
		}
		if deltaRps < 0 && useDelta[numDelta] {
			rps.DeltaPocS0 = append(rps.DeltaPocS0, deltaRps)
			rps.UsedByCurrPicS0 = append(rps.UsedByCurrPicS0, usedByCurr[numDelta])
		}
		for j := 0; j < numS0; j++ {
			dPoc := ref.DeltaPocS0[j] + deltaRps
			if dPoc < 0 && useDelta[j] {
				rps.DeltaPocS0 = append(rps.DeltaPocS0, dPoc)
				rps.UsedByCurrPicS0 = append(rps.UsedByCurrPicS0, usedByCurr[j])
			}
		}
		// S1: mirror of the S0 procedure.
		for j := numS0 - 1; j >= 0; j-- {
			dPoc := ref.DeltaPocS0[j] + deltaRps
			if dPoc > 0 && useDelta[j] {
				rps.DeltaPocS1 = append(rps.DeltaPocS1, dPoc)
				rps.UsedByCurrPicS1 = append(rps.UsedByCurrPicS1, usedByCurr[j])
			}
		}
		if deltaRps > 0 && useDelta[numDelta] {
			rps.DeltaPocS1 = append(rps.DeltaPocS1, deltaRps)
			rps.UsedByCurrPicS1 = append(rps.UsedByCurrPicS1, usedByCurr[numDelta])
		}
		for j := 0; j < numS1; j++ {
			dPoc := ref.DeltaPocS1[j] + deltaRps
			if dPoc > 0 && useDelta[numS0+j] {
				rps.DeltaPocS1 = append(rps.DeltaPocS1, dPoc)
				rps.UsedByCurrPicS1 = append(rps.UsedByCurrPicS1, usedByCurr[numS0+j])
			}
		}
		return rps, nil
	}

	numNegative, err := r.ReadUE()
	if err != nil {
		return rps, err
	}
	numPositive, err := r.ReadUE()
	if err != nil {
		return rps, err
	}
	if numNegative > 16 || numPositive > 16 {
		return rps, errs.Wrapf(errs.ErrMalformedBitstream, "rps with %d/%d pictures", numNegative, numPositive)
	}
	prev := int32(0)
	for i := uint32(0); i < numNegative; i++ {
		d, err := r.ReadUE()
		if err != nil {
			return rps, err
		}
		prev -= int32(d + 1)
		rps.DeltaPocS0 = append(rps.DeltaPocS0, prev)
		used, err := r.ReadFlag()
		if err != nil {
			return rps, err
		}
		rps.UsedByCurrPicS0 = append(rps.UsedByCurrPicS0, used)
	}
	prev = 0
	for i := uint32(0); i < numPositive; i++ {
		d, err := r.ReadUE()
		if err != nil {
			return rps, err
		}
		prev += int32(d + 1)
		rps.DeltaPocS1 = append(rps.DeltaPocS1, prev)
		used, err := r.ReadFlag()
		if err != nil {
			return rps, err
		}
		rps.UsedByCurrPicS1 = append(rps.UsedByCurrPicS1, used)
	}
	return rps, nil
}

func parseHevcScalingListData(r *bits.Reader) error {
	for sizeID := 0; sizeID < 4; sizeID++ {
		step := 1
		if sizeID == 3 {
			step = 3
		}
		for matrixID := 0; matrixID < 6; matrixID += step {
			predMode, err := r.ReadFlag()
			if err != nil {
				return err
			}
			if !predMode {
				if _, err := r.ReadUE(); err != nil { // scaling_list_pred_matrix_id_delta
					return err
				}
				continue
			}
			coefNum := 64
			if sizeID == 0 {
				coefNum = 16
			}
			if sizeID > 1 {
				if _, err := r.ReadSE(); err != nil { // scaling_list_dc_coef_minus8
					return err
				}
			}
			nextCoef := int32(8)
			for i := 0; i < coefNum; i++ {
				delta, err := r.ReadSE()
				if err != nil {
					return err
				}
				nextCoef = (nextCoef + delta + 256) % 256
			}
		}
	}
	return nil
}

// HevcVui holds the SPS VUI fields the toolkit consumes.
type HevcVui struct {
	AspectRatioIdc uint32
	SarWidth       uint32
	SarHeight      uint32

	TimingInfoPresent bool
	NumUnitsInTick    uint32
	TimeScale         uint32
}

func parseHevcVui(r *bits.Reader, maxSubLayersMinus1 int) (*HevcVui, error) {
	vui := &HevcVui{}
	aspectPresent, err := r.ReadFlag()
	if err != nil {
		return nil, err
	}
	if aspectPresent {
		if vui.AspectRatioIdc, err = r.ReadBits(8); err != nil {
			return nil, err
		}
		if vui.AspectRatioIdc == 255 {
			if vui.SarWidth, err = r.ReadBits(16); err != nil {
				return nil, err
			}
			if vui.SarHeight, err = r.ReadBits(16); err != nil {
				return nil, err
			}
		}
	}
	overscanPresent, err := r.ReadFlag()
	if err != nil {
		return nil, err
	}
	if overscanPresent {
		if _, err := r.ReadFlag(); err != nil {
			return nil, err
		}
	}
	videoSignalPresent, err := r.ReadFlag()
	if err != nil {
		return nil, err
	}
	if videoSignalPresent {
		if err := r.SkipBits(3 + 1); err != nil {
			return nil, err
		}
		colourPresent, err := r.ReadFlag()
		if err != nil {
			return nil, err
		}
		if colourPresent {
			if err := r.SkipBits(24); err != nil {
				return nil, err
			}
		}
	}
	chromaLocPresent, err := r.ReadFlag()
	if err != nil {
		return nil, err
	}
	if chromaLocPresent {
		if _, err := r.ReadUE(); err != nil {
			return nil, err
		}
		if _, err := r.ReadUE(); err != nil {
			return nil, err
		}
	}
	if err := r.SkipBits(3); err != nil { // neutral_chroma, field_seq, frame_field_info
		return nil, err
	}
	defaultDisplayWindow, err := r.ReadFlag()
	if err != nil {
		return nil, err
	}
	if defaultDisplayWindow {
		for i := 0; i < 4; i++ {
			if _, err := r.ReadUE(); err != nil {
				return nil, err
			}
		}
	}
	if vui.TimingInfoPresent, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	if vui.TimingInfoPresent {
		if vui.NumUnitsInTick, err = r.ReadBits(32); err != nil {
			return nil, err
		}
		if vui.TimeScale, err = r.ReadBits(32); err != nil {
			return nil, err
		}
		pocProportional, err := r.ReadFlag()
		if err != nil {
			return nil, err
		}
		if pocProportional {
			if _, err := r.ReadUE(); err != nil {
				return nil, err
			}
		}
		hrdPresent, err := r.ReadFlag()
		if err != nil {
			return nil, err
		}
		if hrdPresent {
			if err := skipHrdParameters(r, true, maxSubLayersMinus1); err != nil {
				return nil, err
			}
		}
	}
	// bitstream_restriction tail is not consumed by any reader API.
	return vui, nil
}

// SPS is a decoded HEVC sequence parameter set.
type SPS struct {
	VpsID              uint32
	MaxSubLayersMinus1 uint32
	TemporalIdNesting  bool
	Ptl                *ProfileTierLevel
	SpsID              uint32

	// Multi-layer extension form (nuh_layer_id > 0 with ext marker).
	MultiLayerExt    bool
	UpdateRepFormat  bool
	RepFormatIdx     uint32

	ChromaFormatIdc     uint32
	SeparateColourPlane bool

	PicWidthInLumaSamples  uint32
	PicHeightInLumaSamples uint32

	ConformanceWindow bool
	ConfWinLeftOffset   uint32
	ConfWinRightOffset  uint32
	ConfWinTopOffset    uint32
	ConfWinBottomOffset uint32

	BitDepthLumaMinus8   uint32
	BitDepthChromaMinus8 uint32

	Log2MaxPicOrderCntLsbMinus4 uint32

	MaxDecPicBufferingMinus1 []uint32
	MaxNumReorderPics        []uint32

	Log2MinLumaCodingBlockSizeMinus3   uint32
	Log2DiffMaxMinLumaCodingBlockSize  uint32
	Log2MinLumaTransformBlockSizeMinus2  uint32
	Log2DiffMaxMinLumaTransformBlockSize uint32
	MaxTransformHierarchyDepthInter      uint32
	MaxTransformHierarchyDepthIntra      uint32

	AmpEnabled                bool
	SampleAdaptiveOffsetEnabled bool

	PcmEnabled bool

	ShortTermRefPicSets []ShortTermRPS

	LongTermRefPicsPresent bool
	LtRefPicPocLsbSps      []uint32
	UsedByCurrPicLtSps     []bool

	TemporalMvpEnabled    bool
	StrongIntraSmoothing  bool

	Vui *HevcVui
}

// MaxPicOrderCntLsb is 2^(log2_max_pic_order_cnt_lsb_minus4+4).
func (s *SPS) MaxPicOrderCntLsb() int32 {
	return 1 << (s.Log2MaxPicOrderCntLsbMinus4 + 4)
}

// CtbLog2SizeY derives the coding-tree-block size exponent.
func (s *SPS) CtbLog2SizeY() uint32 {
	return s.Log2MinLumaCodingBlockSizeMinus3 + 3 + s.Log2DiffMaxMinLumaCodingBlockSize
}

// PicSizeInCtbsY is the CTB count of one picture.
func (s *SPS) PicSizeInCtbsY() uint32 {
	ctbSize := uint32(1) << s.CtbLog2SizeY()
	widthInCtbs := (s.PicWidthInLumaSamples + ctbSize - 1) / ctbSize
	heightInCtbs := (s.PicHeightInLumaSamples + ctbSize - 1) / ctbSize
	return widthInCtbs * heightInCtbs
}

// SliceAddressLength is the bit width of slice_segment_address.
func (s *SPS) SliceAddressLength() int {
	return ceilLog2(s.PicSizeInCtbsY())
}

// Width is the conformance-cropped luma width.
func (s *SPS) Width() uint32 {
	w := s.PicWidthInLumaSamples
	subWidthC := uint32(1)
	if s.ChromaFormatIdc == 1 || s.ChromaFormatIdc == 2 {
		subWidthC = 2
	}
	crop := (s.ConfWinLeftOffset + s.ConfWinRightOffset) * subWidthC
	if crop < w {
		w -= crop
	}
	return w
}

// Height is the conformance-cropped luma height.
func (s *SPS) Height() uint32 {
	h := s.PicHeightInLumaSamples
	subHeightC := uint32(1)
	if s.ChromaFormatIdc == 1 {
		subHeightC = 2
	}
	crop := (s.ConfWinTopOffset + s.ConfWinBottomOffset) * subHeightC
	if crop < h {
		h -= crop
	}
	return h
}

// ApplyRepFormat overrides the dimensions of a multi-layer-ext SPS from
// the VPS representation-format table.
func (s *SPS) ApplyRepFormat(rf RepFormat) {
	s.PicWidthInLumaSamples = rf.PicWidthInLumaSamples
	s.PicHeightInLumaSamples = rf.PicHeightInLumaSamples
	if rf.ChromaAndBitDepthPresent {
		s.ChromaFormatIdc = rf.ChromaFormatIdc
		s.SeparateColourPlane = rf.SeparateColourPlane
		s.BitDepthLumaMinus8 = rf.BitDepthLumaMinus8
		s.BitDepthChromaMinus8 = rf.BitDepthChromaMinus8
	}
}

// ParseSPS decodes an SPS RBSP, the two header bytes excluded. nuhLayerID
// selects the multi-layer extension form.
func ParseSPS(rbsp []byte, nuhLayerID uint8) (*SPS, error) {
	r := bits.NewReader(rbsp)
	s := &SPS{}
	var err error
	if s.VpsID, err = r.ReadBits(4); err != nil {
		return nil, err
	}
	extOrMaxSubLayersMinus1, err := r.ReadBits(3)
	if err != nil {
		return nil, err
	}
	s.MaxSubLayersMinus1 = extOrMaxSubLayersMinus1
	s.MultiLayerExt = nuhLayerID != 0 && extOrMaxSubLayersMinus1 == 7
	if !s.MultiLayerExt {
		if s.TemporalIdNesting, err = r.ReadFlag(); err != nil {
			return nil, err
		}
		if s.Ptl, err = parseProfileTierLevel(r, true, int(s.MaxSubLayersMinus1)); err != nil {
			return nil, err
		}
	}
	if s.SpsID, err = r.ReadUE(); err != nil {
		return nil, err
	}
	if s.SpsID > 15 {
		return nil, errs.Wrapf(errs.ErrMalformedBitstream, "sps id %d out of range", s.SpsID)
	}
	if s.MultiLayerExt {
		if s.UpdateRepFormat, err = r.ReadFlag(); err != nil {
			return nil, err
		}
		if s.UpdateRepFormat {
			if s.RepFormatIdx, err = r.ReadBits(8); err != nil {
				return nil, err
			}
		}
	} else {
		if s.ChromaFormatIdc, err = r.ReadUE(); err != nil {
			return nil, err
		}
		if s.ChromaFormatIdc == 3 {
			if s.SeparateColourPlane, err = r.ReadFlag(); err != nil {
				return nil, err
			}
		}
		if s.PicWidthInLumaSamples, err = r.ReadUE(); err != nil {
			return nil, err
		}
		if s.PicHeightInLumaSamples, err = r.ReadUE(); err != nil {
			return nil, err
		}
		if s.ConformanceWindow, err = r.ReadFlag(); err != nil {
			return nil, err
		}
		if s.ConformanceWindow {
			if s.ConfWinLeftOffset, err = r.ReadUE(); err != nil {
				return nil, err
			}
			if s.ConfWinRightOffset, err = r.ReadUE(); err != nil {
				return nil, err
			}
			if s.ConfWinTopOffset, err = r.ReadUE(); err != nil {
				return nil, err
			}
			if s.ConfWinBottomOffset, err = r.ReadUE(); err != nil {
				return nil, err
			}
		}
		if s.BitDepthLumaMinus8, err = r.ReadUE(); err != nil {
			return nil, err
		}
		if s.BitDepthChromaMinus8, err = r.ReadUE(); err != nil {
			return nil, err
		}
	}
	if s.Log2MaxPicOrderCntLsbMinus4, err = r.ReadUE(); err != nil {
		return nil, err
	}
	if s.Log2MaxPicOrderCntLsbMinus4 > 12 {
		return nil, errs.Wrapf(errs.ErrMalformedBitstream, "log2_max_pic_order_cnt_lsb_minus4 %d", s.Log2MaxPicOrderCntLsbMinus4)
	}
	if !s.MultiLayerExt {
		subLayerOrderingPresent, err := r.ReadFlag()
		if err != nil {
			return nil, err
		}
		start := uint32(0)
		if !subLayerOrderingPresent {
			start = s.MaxSubLayersMinus1
		}
		for i := start; i <= s.MaxSubLayersMinus1; i++ {
			a, err := r.ReadUE()
			if err != nil {
				return nil, err
			}
			b, err := r.ReadUE()
			if err != nil {
				return nil, err
			}
			if _, err := r.ReadUE(); err != nil { // sps_max_latency_increase_plus1
				return nil, err
			}
			s.MaxDecPicBufferingMinus1 = append(s.MaxDecPicBufferingMinus1, a)
			s.MaxNumReorderPics = append(s.MaxNumReorderPics, b)
		}
	}
	if s.Log2MinLumaCodingBlockSizeMinus3, err = r.ReadUE(); err != nil {
		return nil, err
	}
	if s.Log2DiffMaxMinLumaCodingBlockSize, err = r.ReadUE(); err != nil {
		return nil, err
	}
	if s.Log2MinLumaTransformBlockSizeMinus2, err = r.ReadUE(); err != nil {
		return nil, err
	}
	if s.Log2DiffMaxMinLumaTransformBlockSize, err = r.ReadUE(); err != nil {
		return nil, err
	}
	if s.MaxTransformHierarchyDepthInter, err = r.ReadUE(); err != nil {
		return nil, err
	}
	if s.MaxTransformHierarchyDepthIntra, err = r.ReadUE(); err != nil {
		return nil, err
	}
	scalingListEnabled, err := r.ReadFlag()
	if err != nil {
		return nil, err
	}
	if scalingListEnabled {
		var inferFromVps bool
		if s.MultiLayerExt {
			if inferFromVps, err = r.ReadFlag(); err != nil {
				return nil, err
			}
		}
		if inferFromVps {
			if _, err := r.ReadUE(); err != nil { // sps_scaling_list_ref_layer_id
				return nil, err
			}
		} else {
			present, err := r.ReadFlag()
			if err != nil {
				return nil, err
			}
			if present {
				if err := parseHevcScalingListData(r); err != nil {
					return nil, err
				}
			}
		}
	}
	if s.AmpEnabled, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	if s.SampleAdaptiveOffsetEnabled, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	if s.PcmEnabled, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	if s.PcmEnabled {
		if err := r.SkipBits(4 + 4); err != nil { // pcm bit depths
			return nil, err
		}
		if _, err := r.ReadUE(); err != nil { // log2_min_pcm_luma_coding_block_size_minus3
			return nil, err
		}
		if _, err := r.ReadUE(); err != nil { // log2_diff
			return nil, err
		}
		if _, err := r.ReadFlag(); err != nil { // pcm_loop_filter_disabled
			return nil, err
		}
	}
	numShortTermRps, err := r.ReadUE()
	if err != nil {
		return nil, err
	}
	if numShortTermRps > 64 {
		return nil, errs.Wrapf(errs.ErrMalformedBitstream, "num_short_term_ref_pic_sets %d", numShortTermRps)
	}
	for i := 0; i < int(numShortTermRps); i++ {
		rps, err := parseShortTermRPS(r, i, s.ShortTermRefPicSets)
		if err != nil {
			return nil, err
		}
		s.ShortTermRefPicSets = append(s.ShortTermRefPicSets, rps)
	}
	if s.LongTermRefPicsPresent, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	if s.LongTermRefPicsPresent {
		count, err := r.ReadUE()
		if err != nil {
			return nil, err
		}
		if count > 32 {
			return nil, errs.Wrapf(errs.ErrMalformedBitstream, "num_long_term_ref_pics_sps %d", count)
		}
		for i := uint32(0); i < count; i++ {
			lsb, err := r.ReadBits(int(s.Log2MaxPicOrderCntLsbMinus4 + 4))
			if err != nil {
				return nil, err
			}
			used, err := r.ReadFlag()
			if err != nil {
				return nil, err
			}
			s.LtRefPicPocLsbSps = append(s.LtRefPicPocLsbSps, lsb)
			s.UsedByCurrPicLtSps = append(s.UsedByCurrPicLtSps, used)
		}
	}
	if s.TemporalMvpEnabled, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	if s.StrongIntraSmoothing, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	vuiPresent, err := r.ReadFlag()
	if err != nil {
		return nil, err
	}
	if vuiPresent {
		if s.Vui, err = parseHevcVui(r, int(s.MaxSubLayersMinus1)); err != nil {
			return nil, err
		}
	}
	return s, nil
}
