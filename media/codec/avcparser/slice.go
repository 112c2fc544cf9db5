package avcparser

import (
	"github.com/bugVanisher/heif/common/errs"
	"github.com/bugVanisher/heif/utils/bits"
)

// Slice types after modulo 5.
const (
	SliceP = iota
	SliceB
	SliceI
	SliceSP
	SliceSI
)

// RefListModOp is one ref_pic_list_modification command.
type RefListModOp struct {
	Idc                 uint32 // 0,1 short-term, 2 long-term
	AbsDiffPicNumMinus1 uint32
	LongTermPicNum      uint32
}

// MmcoOp is one memory_management_control_operation command.
type MmcoOp struct {
	Op                      uint32
	DifferenceOfPicNumsM1   uint32
	LongTermPicNum          uint32
	LongTermFrameIdx        uint32
	MaxLongTermFrameIdxPlus1 uint32
}

const maxMmcoCommands = 35

// SliceHeader carries the AVC slice-header fields needed for POC
// derivation, reference-list construction, and AU boundary tests. The
// active parameter sets are referenced by ID.
type SliceHeader struct {
	NalRefIdc   uint8
	NalUnitType uint8

	FirstMbInSlice uint32
	SliceType      uint32 // modulo 5
	PpsID          uint32
	SpsID          uint32

	FrameNum       uint32
	FieldPic       bool
	BottomField    bool
	IdrPicID       uint32

	PicOrderCntLsb         uint32
	DeltaPicOrderCntBottom int32
	DeltaPicOrderCnt       [2]int32

	RedundantPicCnt   uint32
	DirectSpatialMvPred bool

	NumRefIdxActiveOverride bool
	NumRefIdxL0ActiveMinus1 uint32
	NumRefIdxL1ActiveMinus1 uint32

	RefPicListModificationL0 []RefListModOp
	RefPicListModificationL1 []RefListModOp

	NoOutputOfPriorPics   bool
	LongTermReferenceFlag bool
	AdaptiveRefPicMarking bool
	MmcoOps               []MmcoOp

	CabacInitIdc uint32
	SliceQpDelta int32
}

// IsIdr reports whether the slice belongs to an IDR picture.
func (sh *SliceHeader) IsIdr() bool {
	return sh.NalUnitType == 5
}

// HasMmco5 reports whether the marking commands include operation 5.
func (sh *SliceHeader) HasMmco5() bool {
	for _, op := range sh.MmcoOps {
		if op.Op == 5 {
			return true
		}
	}
	return false
}

func parseRefPicListModification(r *bits.Reader) ([]RefListModOp, error) {
	present, err := r.ReadFlag()
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, nil
	}
	var ops []RefListModOp
	for {
		idc, err := r.ReadUE()
		if err != nil {
			return nil, err
		}
		if idc == 3 {
			return ops, nil
		}
		op := RefListModOp{Idc: idc}
		switch idc {
		case 0, 1:
			if op.AbsDiffPicNumMinus1, err = r.ReadUE(); err != nil {
				return nil, err
			}
		case 2:
			if op.LongTermPicNum, err = r.ReadUE(); err != nil {
				return nil, err
			}
		default:
			return nil, errs.Wrapf(errs.ErrMalformedBitstream, "modification_of_pic_nums_idc %d", idc)
		}
		ops = append(ops, op)
		if len(ops) > 64 {
			return nil, errs.Wrapf(errs.ErrMalformedBitstream, "runaway ref list modification")
		}
	}
}

func parsePredWeightTable(r *bits.Reader, sps *SPS, sh *SliceHeader) error {
	if _, err := r.ReadUE(); err != nil { // luma_log2_weight_denom
		return err
	}
	chromaArrayType := sps.ChromaFormatIdc
	if sps.SeparateColourPlane {
		chromaArrayType = 0
	}
	if chromaArrayType != 0 {
		if _, err := r.ReadUE(); err != nil { // chroma_log2_weight_denom
			return err
		}
	}
	readEntries := func(count uint32) error {
		for i := uint32(0); i <= count; i++ {
			lumaFlag, err := r.ReadFlag()
			if err != nil {
				return err
			}
			if lumaFlag {
				if _, err := r.ReadSE(); err != nil {
					return err
				}
				if _, err := r.ReadSE(); err != nil {
					return err
				}
			}
			if chromaArrayType != 0 {
				chromaFlag, err := r.ReadFlag()
				if err != nil {
					return err
				}
				if chromaFlag {
					for j := 0; j < 4; j++ {
						if _, err := r.ReadSE(); err != nil {
							return err
						}
					}
				}
			}
		}
		return nil
	}
	if err := readEntries(sh.NumRefIdxL0ActiveMinus1); err != nil {
		return err
	}
	if sh.SliceType == SliceB {
		return readEntries(sh.NumRefIdxL1ActiveMinus1)
	}
	return nil
}

func parseDecRefPicMarking(r *bits.Reader, sh *SliceHeader) error {
	if sh.IsIdr() {
		var err error
		if sh.NoOutputOfPriorPics, err = r.ReadFlag(); err != nil {
			return err
		}
		if sh.LongTermReferenceFlag, err = r.ReadFlag(); err != nil {
			return err
		}
		return nil
	}
	adaptive, err := r.ReadFlag()
	if err != nil {
		return err
	}
	sh.AdaptiveRefPicMarking = adaptive
	if !adaptive {
		return nil
	}
	for {
		opCode, err := r.ReadUE()
		if err != nil {
			return err
		}
		if opCode == 0 {
			return nil
		}
		op := MmcoOp{Op: opCode}
		switch opCode {
		case 1:
			if op.DifferenceOfPicNumsM1, err = r.ReadUE(); err != nil {
				return err
			}
		case 2:
			if op.LongTermPicNum, err = r.ReadUE(); err != nil {
				return err
			}
		case 3:
			if op.DifferenceOfPicNumsM1, err = r.ReadUE(); err != nil {
				return err
			}
			if op.LongTermFrameIdx, err = r.ReadUE(); err != nil {
				return err
			}
		case 4:
			if op.MaxLongTermFrameIdxPlus1, err = r.ReadUE(); err != nil {
				return err
			}
		case 5:
			// marks everything unused
		case 6:
			if op.LongTermFrameIdx, err = r.ReadUE(); err != nil {
				return err
			}
		default:
			return errs.Wrapf(errs.ErrMalformedBitstream, "mmco op %d", opCode)
		}
		sh.MmcoOps = append(sh.MmcoOps, op)
		if len(sh.MmcoOps) > maxMmcoCommands {
			return errs.Wrapf(errs.ErrMalformedBitstream, "more than %d MMCO commands", maxMmcoCommands)
		}
	}
}

// ParseSliceHeader decodes an AVC slice header RBSP, NAL header byte
// excluded. Parameter sets are resolved through the lookups.
func ParseSliceHeader(rbsp []byte, hdr uint8, nalRefIdc uint8,
	lookupSps func(id uint32) *SPS, lookupPps func(id uint32) *PPS) (*SliceHeader, error) {

	r := bits.NewReader(rbsp)
	sh := &SliceHeader{NalRefIdc: nalRefIdc, NalUnitType: hdr}
	var err error
	if sh.FirstMbInSlice, err = r.ReadUE(); err != nil {
		return nil, err
	}
	if sh.SliceType, err = r.ReadUE(); err != nil {
		return nil, err
	}
	if sh.SliceType > 9 {
		return nil, errs.Wrapf(errs.ErrMalformedBitstream, "slice_type %d", sh.SliceType)
	}
	sh.SliceType %= 5
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
	if sps.SeparateColourPlane {
		if _, err = r.ReadBits(2); err != nil { // colour_plane_id
			return nil, err
		}
	}
	if sh.FrameNum, err = r.ReadBits(int(sps.Log2MaxFrameNumMinus4 + 4)); err != nil {
		return nil, err
	}
	if !sps.FrameMbsOnly {
		if sh.FieldPic, err = r.ReadFlag(); err != nil {
			return nil, err
		}
		if sh.FieldPic {
			if sh.BottomField, err = r.ReadFlag(); err != nil {
				return nil, err
			}
		}
	}
	if sh.IsIdr() {
		if sh.IdrPicID, err = r.ReadUE(); err != nil {
			return nil, err
		}
	}
	if sps.PicOrderCntType == 0 {
		if sh.PicOrderCntLsb, err = r.ReadBits(int(sps.Log2MaxPicOrderCntLsbMinus4 + 4)); err != nil {
			return nil, err
		}
		if pps.PicOrderPresent && !sh.FieldPic {
			if sh.DeltaPicOrderCntBottom, err = r.ReadSE(); err != nil {
				return nil, err
			}
		}
	}
	if sps.PicOrderCntType == 1 && !sps.DeltaPicOrderAlwaysZero {
		if sh.DeltaPicOrderCnt[0], err = r.ReadSE(); err != nil {
			return nil, err
		}
		if pps.PicOrderPresent && !sh.FieldPic {
			if sh.DeltaPicOrderCnt[1], err = r.ReadSE(); err != nil {
				return nil, err
			}
		}
	}
	if pps.RedundantPicCntPresent {
		if sh.RedundantPicCnt, err = r.ReadUE(); err != nil {
			return nil, err
		}
	}
	if sh.SliceType == SliceB {
		if sh.DirectSpatialMvPred, err = r.ReadFlag(); err != nil {
			return nil, err
		}
	}
	sh.NumRefIdxL0ActiveMinus1 = pps.NumRefIdxL0DefaultActiveMinus1
	sh.NumRefIdxL1ActiveMinus1 = pps.NumRefIdxL1DefaultActiveMinus1
	if sh.SliceType == SliceP || sh.SliceType == SliceSP || sh.SliceType == SliceB {
		if sh.NumRefIdxActiveOverride, err = r.ReadFlag(); err != nil {
			return nil, err
		}
		if sh.NumRefIdxActiveOverride {
			if sh.NumRefIdxL0ActiveMinus1, err = r.ReadUE(); err != nil {
				return nil, err
			}
			if sh.SliceType == SliceB {
				if sh.NumRefIdxL1ActiveMinus1, err = r.ReadUE(); err != nil {
					return nil, err
				}
			}
		}
	}
	if sh.SliceType != SliceI && sh.SliceType != SliceSI {
		if sh.RefPicListModificationL0, err = parseRefPicListModification(r); err != nil {
			return nil, err
		}
	}
	if sh.SliceType == SliceB {
		if sh.RefPicListModificationL1, err = parseRefPicListModification(r); err != nil {
			return nil, err
		}
	}
	if (pps.WeightedPred && (sh.SliceType == SliceP || sh.SliceType == SliceSP)) ||
		(pps.WeightedBipredIdc == 1 && sh.SliceType == SliceB) {
		if err = parsePredWeightTable(r, sps, sh); err != nil {
			return nil, err
		}
	}
	if nalRefIdc != 0 {
		if err = parseDecRefPicMarking(r, sh); err != nil {
			return nil, err
		}
	}
	if pps.EntropyCodingMode && sh.SliceType != SliceI && sh.SliceType != SliceSI {
		if sh.CabacInitIdc, err = r.ReadUE(); err != nil {
			return nil, err
		}
	}
	if sh.SliceQpDelta, err = r.ReadSE(); err != nil {
		return nil, err
	}
	// The remaining deblocking and slice-group fields do not feed POC or
	// reference-list construction.
	return sh, nil
}
