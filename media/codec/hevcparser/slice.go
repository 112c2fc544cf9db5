package hevcparser

import (
	"github.com/bugVanisher/heif/common/errs"
	"github.com/bugVanisher/heif/media/codec/nal"
	"github.com/bugVanisher/heif/utils/bits"
)

// HEVC slice types.
const (
	SliceB = 0
	SliceP = 1
	SliceI = 2
)

// LongTermEntry is one resolved long-term reference of a slice.
type LongTermEntry struct {
	PocLsb            uint32
	UsedByCurrPic     bool
	MsbPresent        bool
	DeltaPocMsbCycleLt uint32
}

// SliceHeader carries the HEVC slice segment header fields the toolkit
// consumes.
type SliceHeader struct {
	NalUnitType uint8
	NuhLayerID  uint8

	FirstSliceSegmentInPic bool
	NoOutputOfPriorPics    bool
	PpsID                  uint32
	SpsID                  uint32
	DependentSliceSegment  bool
	SliceSegmentAddress    uint32

	SliceType uint32
	PicOutputFlag bool
	PicOrderCntLsb uint32

	// Active short-term RPS, either by SPS index or parsed inline.
	ShortTermRpsIdx    uint32
	ShortTermRps       ShortTermRPS
	UsesInlineRps      bool

	LongTermEntries []LongTermEntry

	TemporalMvpEnabled bool

	// Inter-layer prediction (nuh_layer_id > 0).
	InterLayerPredEnabled  bool
	InterLayerPredLayerIdc []uint32

	SaoLuma   bool
	SaoChroma bool

	NumRefIdxL0ActiveMinus1 uint32
	NumRefIdxL1ActiveMinus1 uint32

	RefPicListModificationL0 []uint32
	RefPicListModificationL1 []uint32

	FiveMinusMaxNumMergeCand uint32
	SliceQpDelta             int32
}

// IsIdr reports an IDR NAL type.
func (sh *SliceHeader) IsIdr() bool {
	return sh.NalUnitType == nal.HevcNalIdrWRadl || sh.NalUnitType == nal.HevcNalIdrNLp
}

// IsIrap reports any intra random access point type.
func (sh *SliceHeader) IsIrap() bool {
	return sh.NalUnitType >= nal.HevcNalBlaWLp && sh.NalUnitType <= nal.HevcNalRsvIrapVcl23
}

// IsBla reports a broken-link access type.
func (sh *SliceHeader) IsBla() bool {
	return sh.NalUnitType >= nal.HevcNalBlaWLp && sh.NalUnitType <= nal.HevcNalBlaNLp
}

// ActiveRps returns the slice's short-term RPS given its SPS.
func (sh *SliceHeader) ActiveRps(sps *SPS) *ShortTermRPS {
	if sh.UsesInlineRps {
		return &sh.ShortTermRps
	}
	if int(sh.ShortTermRpsIdx) < len(sps.ShortTermRefPicSets) {
		return &sps.ShortTermRefPicSets[sh.ShortTermRpsIdx]
	}
	return &ShortTermRPS{}
}

// ParseSliceHeader decodes a slice segment header RBSP, the two header
// bytes excluded. The VPS extension, when present, supplies the
// inter-layer dependency widths for nuh_layer_id > 0.
func ParseSliceHeader(rbsp []byte, hdr nal.HevcHeader,
	lookupSps func(id uint32) *SPS, lookupPps func(id uint32) *PPS,
	vpsExt *VpsExtension) (*SliceHeader, error) {

	r := bits.NewReader(rbsp)
	sh := &SliceHeader{NalUnitType: hdr.NalUnitType, NuhLayerID: hdr.NuhLayerID, PicOutputFlag: true}
	var err error
	if sh.FirstSliceSegmentInPic, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	if sh.IsIrap() {
		if sh.NoOutputOfPriorPics, err = r.ReadFlag(); err != nil {
			return nil, err
		}
	}
	if sh.PpsID, err = r.ReadUE(); err != nil {
		return nil, err
	}
	pps := lookupPps(sh.PpsID)
	if pps == nil {
		return nil, errs.Wrapf(errs.ErrMalformedBitstream, "slice references unknown pps %d", sh.PpsID)
	}
	sps := lookupSps(pps.SpsID)
	if sps == nil {
		return nil, errs.Wrapf(errs.ErrMalformedBitstream, "pps %d references unknown sps %d", sh.PpsID, pps.SpsID)
	}
	sh.SpsID = sps.SpsID
	if !sh.FirstSliceSegmentInPic {
		if pps.DependentSliceSegmentsEnabled {
			if sh.DependentSliceSegment, err = r.ReadFlag(); err != nil {
				return nil, err
			}
		}
		if width := sps.SliceAddressLength(); width > 0 {
			if sh.SliceSegmentAddress, err = r.ReadBits(width); err != nil {
				return nil, err
			}
		}
	}
	if sh.DependentSliceSegment {
		// The independent segment carries the rest of the header.
		return sh, nil
	}
	for i := uint32(0); i < pps.NumExtraSliceHeaderBits; i++ {
		if _, err := r.ReadBit(); err != nil {
			return nil, err
		}
	}
	if sh.SliceType, err = r.ReadUE(); err != nil {
		return nil, err
	}
	if sh.SliceType > 2 {
		return nil, errs.Wrapf(errs.ErrMalformedBitstream, "slice_type %d", sh.SliceType)
	}
	if pps.OutputFlagPresent {
		if sh.PicOutputFlag, err = r.ReadFlag(); err != nil {
			return nil, err
		}
	}
	if sps.SeparateColourPlane {
		if _, err := r.ReadBits(2); err != nil { // colour_plane_id
			return nil, err
		}
	}
	pocLsbPresent := !sh.IsIdr()
	if vpsExt != nil && sh.NuhLayerID > 0 {
		if i := vpsExt.LayerOrderIdx(sh.NuhLayerID); i >= 0 && vpsExt.PocLsbNotPresent[i] {
			pocLsbPresent = false
		}
		// poc_lsb_aligned layered streams still carry the lsb for IDR.
		if sh.IsIdr() && vpsExt.PocLsbAligned {
			pocLsbPresent = true
		}
	}
	if pocLsbPresent {
		if sh.PicOrderCntLsb, err = r.ReadBits(int(sps.Log2MaxPicOrderCntLsbMinus4 + 4)); err != nil {
			return nil, err
		}
	}
	if !sh.IsIdr() {
		spsRpsFlag, err := r.ReadFlag()
		if err != nil {
			return nil, err
		}
		if !spsRpsFlag {
			sh.UsesInlineRps = true
			rps, err := parseShortTermRPS(r, len(sps.ShortTermRefPicSets), sps.ShortTermRefPicSets)
			if err != nil {
				return nil, err
			}
			sh.ShortTermRps = rps
		} else if len(sps.ShortTermRefPicSets) > 1 {
			idx, err := r.ReadBits(ceilLog2(uint32(len(sps.ShortTermRefPicSets))))
			if err != nil {
				return nil, err
			}
			sh.ShortTermRpsIdx = idx
		}
		if sps.LongTermRefPicsPresent {
			numLtSps := uint32(0)
			if len(sps.LtRefPicPocLsbSps) > 0 {
				if numLtSps, err = r.ReadUE(); err != nil {
					return nil, err
				}
			}
			numLtPics, err := r.ReadUE()
			if err != nil {
				return nil, err
			}
			if numLtSps+numLtPics > 32 {
				return nil, errs.Wrapf(errs.ErrMalformedBitstream, "long-term entry count %d", numLtSps+numLtPics)
			}
			for i := uint32(0); i < numLtSps+numLtPics; i++ {
				var entry LongTermEntry
				if i < numLtSps {
					idx := uint32(0)
					if len(sps.LtRefPicPocLsbSps) > 1 {
						if idx, err = r.ReadBits(ceilLog2(uint32(len(sps.LtRefPicPocLsbSps)))); err != nil {
							return nil, err
						}
					}
					if int(idx) >= len(sps.LtRefPicPocLsbSps) {
						return nil, errs.Wrapf(errs.ErrMalformedBitstream, "lt_idx_sps %d", idx)
					}
					entry.PocLsb = sps.LtRefPicPocLsbSps[idx]
					entry.UsedByCurrPic = sps.UsedByCurrPicLtSps[idx]
				} else {
					if entry.PocLsb, err = r.ReadBits(int(sps.Log2MaxPicOrderCntLsbMinus4 + 4)); err != nil {
						return nil, err
					}
					if entry.UsedByCurrPic, err = r.ReadFlag(); err != nil {
						return nil, err
					}
				}
				if entry.MsbPresent, err = r.ReadFlag(); err != nil {
					return nil, err
				}
				if entry.MsbPresent {
					if entry.DeltaPocMsbCycleLt, err = r.ReadUE(); err != nil {
						return nil, err
					}
				}
				sh.LongTermEntries = append(sh.LongTermEntries, entry)
			}
		}
		if sps.TemporalMvpEnabled {
			if sh.TemporalMvpEnabled, err = r.ReadFlag(); err != nil {
				return nil, err
			}
		}
	}
	if vpsExt != nil && sh.NuhLayerID > 0 {
		layerIdx := vpsExt.LayerOrderIdx(sh.NuhLayerID)
		if layerIdx >= 0 && vpsExt.NumDirectRefLayers[layerIdx] > 0 && !vpsExt.DefaultRefLayersActive {
			if sh.InterLayerPredEnabled, err = r.ReadFlag(); err != nil {
				return nil, err
			}
			if sh.InterLayerPredEnabled && vpsExt.NumDirectRefLayers[layerIdx] > 1 {
				numRefs := uint32(0)
				if !vpsExt.MaxOneActiveRefLayer {
					if numRefs, err = r.ReadUE(); err != nil {
						return nil, err
					}
					numRefs++
				} else {
					numRefs = 1
				}
				width := ceilLog2(uint32(vpsExt.NumDirectRefLayers[layerIdx]))
				for i := uint32(0); i < numRefs; i++ {
					idc := uint32(0)
					if width > 0 {
						if idc, err = r.ReadBits(width); err != nil {
							return nil, err
						}
					}
					sh.InterLayerPredLayerIdc = append(sh.InterLayerPredLayerIdc, idc)
				}
			}
		}
	}
	if sps.SampleAdaptiveOffsetEnabled {
		if sh.SaoLuma, err = r.ReadFlag(); err != nil {
			return nil, err
		}
		if sh.SaoChroma, err = r.ReadFlag(); err != nil {
			return nil, err
		}
	}
	sh.NumRefIdxL0ActiveMinus1 = pps.NumRefIdxL0DefaultActiveMinus1
	sh.NumRefIdxL1ActiveMinus1 = pps.NumRefIdxL1DefaultActiveMinus1
	if sh.SliceType == SliceP || sh.SliceType == SliceB {
		override, err := r.ReadFlag()
		if err != nil {
			return nil, err
		}
		if override {
			if sh.NumRefIdxL0ActiveMinus1, err = r.ReadUE(); err != nil {
				return nil, err
			}
			if sh.SliceType == SliceB {
				if sh.NumRefIdxL1ActiveMinus1, err = r.ReadUE(); err != nil {
					return nil, err
				}
			}
		}
		numPicTotalCurr := sh.numPicTotalCurr(sps)
		if pps.ListsModificationPresent && numPicTotalCurr > 1 {
			width := ceilLog2(numPicTotalCurr)
			flag0, err := r.ReadFlag()
			if err != nil {
				return nil, err
			}
			if flag0 {
				for i := uint32(0); i <= sh.NumRefIdxL0ActiveMinus1; i++ {
					v, err := r.ReadBits(width)
					if err != nil {
						return nil, err
					}
					sh.RefPicListModificationL0 = append(sh.RefPicListModificationL0, v)
				}
			}
			if sh.SliceType == SliceB {
				flag1, err := r.ReadFlag()
				if err != nil {
					return nil, err
				}
				if flag1 {
					for i := uint32(0); i <= sh.NumRefIdxL1ActiveMinus1; i++ {
						v, err := r.ReadBits(width)
						if err != nil {
							return nil, err
						}
						sh.RefPicListModificationL1 = append(sh.RefPicListModificationL1, v)
					}
				}
			}
		}
		if sh.SliceType == SliceB {
			if _, err := r.ReadFlag(); err != nil { // mvd_l1_zero_flag
				return nil, err
			}
		}
		if pps.CabacInitPresent {
			if _, err := r.ReadFlag(); err != nil {
				return nil, err
			}
		}
		if sh.TemporalMvpEnabled {
			collocatedFromL0 := true
			if sh.SliceType == SliceB {
				if collocatedFromL0, err = r.ReadFlag(); err != nil {
					return nil, err
				}
			}
			if (collocatedFromL0 && sh.NumRefIdxL0ActiveMinus1 > 0) ||
				(!collocatedFromL0 && sh.NumRefIdxL1ActiveMinus1 > 0) {
				if _, err := r.ReadUE(); err != nil { // collocated_ref_idx
					return nil, err
				}
			}
		}
		if (pps.WeightedPred && sh.SliceType == SliceP) ||
			(pps.WeightedBipred && sh.SliceType == SliceB) {
			if err := parseHevcPredWeightTable(r, sps, sh); err != nil {
				return nil, err
			}
		}
		if sh.FiveMinusMaxNumMergeCand, err = r.ReadUE(); err != nil {
			return nil, err
		}
	}
	if sh.SliceQpDelta, err = r.ReadSE(); err != nil {
		return nil, err
	}
	// Chroma QP offsets, deblocking overrides and entry points follow; none
	// feed the reference model.
	return sh, nil
}

// numPicTotalCurr counts the pictures the current slice may reference.
func (sh *SliceHeader) numPicTotalCurr(sps *SPS) uint32 {
	var n uint32
	rps := sh.ActiveRps(sps)
	for _, used := range rps.UsedByCurrPicS0 {
		if used {
			n++
		}
	}
	for _, used := range rps.UsedByCurrPicS1 {
		if used {
			n++
		}
	}
	for _, lt := range sh.LongTermEntries {
		if lt.UsedByCurrPic {
			n++
		}
	}
	n += uint32(len(sh.InterLayerPredLayerIdc))
	return n
}

func parseHevcPredWeightTable(r *bits.Reader, sps *SPS, sh *SliceHeader) error {
	if _, err := r.ReadUE(); err != nil { // luma_log2_weight_denom
		return err
	}
	chromaArrayType := sps.ChromaFormatIdc
	if sps.SeparateColourPlane {
		chromaArrayType = 0
	}
	if chromaArrayType != 0 {
		if _, err := r.ReadSE(); err != nil { // delta_chroma_log2_weight_denom
			return err
		}
	}
	readList := func(count uint32) error {
		lumaFlags := make([]bool, count+1)
		chromaFlags := make([]bool, count+1)
		for i := uint32(0); i <= count; i++ {
			f, err := r.ReadFlag()
			if err != nil {
				return err
			}
			lumaFlags[i] = f
		}
		if chromaArrayType != 0 {
			for i := uint32(0); i <= count; i++ {
				f, err := r.ReadFlag()
				if err != nil {
					return err
				}
				chromaFlags[i] = f
			}
		}
		for i := uint32(0); i <= count; i++ {
			if lumaFlags[i] {
				if _, err := r.ReadSE(); err != nil {
					return err
				}
				if _, err := r.ReadSE(); err != nil {
					return err
				}
			}
			if chromaFlags[i] {
				for j := 0; j < 4; j++ {
					if _, err := r.ReadSE(); err != nil {
						return err
					}
				}
			}
		}
		return nil
	}
	if err := readList(sh.NumRefIdxL0ActiveMinus1); err != nil {
		return err
	}
	if sh.SliceType == SliceB {
		return readList(sh.NumRefIdxL1ActiveMinus1)
	}
	return nil
}
