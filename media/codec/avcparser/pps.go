package avcparser

import (
	"github.com/bugVanisher/heif/common/errs"
	"github.com/bugVanisher/heif/utils/bits"
)

// PPS is a fully decoded AVC picture parameter set.
type PPS struct {
	PpsID uint32
	SpsID uint32

	EntropyCodingMode bool // CABAC when set
	PicOrderPresent   bool

	NumSliceGroupsMinus1      uint32
	SliceGroupMapType         uint32
	RunLengthMinus1           []uint32
	TopLeft                   []uint32
	BottomRight               []uint32
	SliceGroupChangeDirection bool
	SliceGroupChangeRateM1    uint32

	NumRefIdxL0DefaultActiveMinus1 uint32
	NumRefIdxL1DefaultActiveMinus1 uint32

	WeightedPred     bool
	WeightedBipredIdc uint32

	PicInitQpMinus26 int32
	PicInitQsMinus26 int32
	ChromaQpIndexOffset int32

	DeblockingFilterControlPresent bool
	ConstrainedIntraPred           bool
	RedundantPicCntPresent         bool

	// Optional tail, present with more RBSP data.
	Transform8x8Mode          bool
	PicScalingMatrixPresent   bool
	SecondChromaQpIndexOffset int32
}

// ParsePPS decodes a PPS RBSP, header byte excluded. lookupSps resolves the
// referenced SPS for the scaling-list count in the optional tail; it may
// be nil when the tail is absent.
func ParsePPS(rbsp []byte, lookupSps func(id uint32) *SPS) (*PPS, error) {
	r := bits.NewReader(rbsp)
	p := &PPS{}
	var err error
	if p.PpsID, err = r.ReadUE(); err != nil {
		return nil, err
	}
	if p.PpsID > 255 {
		return nil, errs.Wrapf(errs.ErrMalformedBitstream, "pps id %d out of range", p.PpsID)
	}
	if p.SpsID, err = r.ReadUE(); err != nil {
		return nil, err
	}
	if p.EntropyCodingMode, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	if p.PicOrderPresent, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	if p.NumSliceGroupsMinus1, err = r.ReadUE(); err != nil {
		return nil, err
	}
	if p.NumSliceGroupsMinus1 > 0 {
		if p.SliceGroupMapType, err = r.ReadUE(); err != nil {
			return nil, err
		}
		switch p.SliceGroupMapType {
		case 0:
			for i := uint32(0); i <= p.NumSliceGroupsMinus1; i++ {
				v, err := r.ReadUE()
				if err != nil {
					return nil, err
				}
				p.RunLengthMinus1 = append(p.RunLengthMinus1, v)
			}
		case 2:
			for i := uint32(0); i < p.NumSliceGroupsMinus1; i++ {
				v, err := r.ReadUE()
				if err != nil {
					return nil, err
				}
				p.TopLeft = append(p.TopLeft, v)
				if v, err = r.ReadUE(); err != nil {
					return nil, err
				}
				p.BottomRight = append(p.BottomRight, v)
			}
		case 3, 4, 5:
			if p.SliceGroupChangeDirection, err = r.ReadFlag(); err != nil {
				return nil, err
			}
			if p.SliceGroupChangeRateM1, err = r.ReadUE(); err != nil {
				return nil, err
			}
		case 6:
			// Explicit slice-group maps never occur in HEIF content.
			return nil, errs.Wrapf(errs.ErrUnsupportedFeature, "pps slice_group_map_type 6")
		case 1:
			// dispersed mapping carries no extra syntax
		default:
			return nil, errs.Wrapf(errs.ErrMalformedBitstream, "slice_group_map_type %d", p.SliceGroupMapType)
		}
	}
	if p.NumRefIdxL0DefaultActiveMinus1, err = r.ReadUE(); err != nil {
		return nil, err
	}
	if p.NumRefIdxL1DefaultActiveMinus1, err = r.ReadUE(); err != nil {
		return nil, err
	}
	if p.WeightedPred, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	if p.WeightedBipredIdc, err = r.ReadBits(2); err != nil {
		return nil, err
	}
	if p.PicInitQpMinus26, err = r.ReadSE(); err != nil {
		return nil, err
	}
	if p.PicInitQsMinus26, err = r.ReadSE(); err != nil {
		return nil, err
	}
	if p.ChromaQpIndexOffset, err = r.ReadSE(); err != nil {
		return nil, err
	}
	if p.DeblockingFilterControlPresent, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	if p.ConstrainedIntraPred, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	if p.RedundantPicCntPresent, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	if moreRBSPData(r) {
		if p.Transform8x8Mode, err = r.ReadFlag(); err != nil {
			return nil, err
		}
		if p.PicScalingMatrixPresent, err = r.ReadFlag(); err != nil {
			return nil, err
		}
		if p.PicScalingMatrixPresent {
			chromaFormatIdc := uint32(1)
			if sps := lookupSps(p.SpsID); sps != nil {
				chromaFormatIdc = sps.ChromaFormatIdc
			}
			listCount := 6
			if p.Transform8x8Mode {
				if chromaFormatIdc == 3 {
					listCount += 6
				} else {
					listCount += 2
				}
			}
			for i := 0; i < listCount; i++ {
				present, err := r.ReadFlag()
				if err != nil {
					return nil, err
				}
				if !present {
					continue
				}
				size := 16
				if i >= 6 {
					size = 64
				}
				dummy := make([]int32, size)
				var flag bool
				if err := readScalingList(r, dummy, &flag); err != nil {
					return nil, err
				}
			}
		}
		if p.SecondChromaQpIndexOffset, err = r.ReadSE(); err != nil {
			return nil, err
		}
	} else {
		p.SecondChromaQpIndexOffset = p.ChromaQpIndexOffset
	}
	return p, nil
}

// moreRBSPData reports whether syntax elements remain before the trailing
// stop bit.
func moreRBSPData(r *bits.Reader) bool {
	left := r.BitsLeft()
	if left <= 0 {
		return false
	}
	// Scan back from the end for the rbsp_stop_one_bit.
	probe := *r
	var tail []uint32
	for probe.BitsLeft() > 0 {
		b, err := probe.ReadBit()
		if err != nil {
			return false
		}
		tail = append(tail, b)
	}
	last := len(tail) - 1
	for last >= 0 && tail[last] == 0 {
		last--
	}
	return last > 0
}
