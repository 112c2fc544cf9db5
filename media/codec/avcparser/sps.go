// Package avcparser parses AVC elementary streams: parameter sets, slice
// headers, picture order counts, and the decoded-picture-buffer state
// needed to resolve reference picture lists.
package avcparser

import (
	"github.com/bugVanisher/heif/common/errs"
	"github.com/bugVanisher/heif/utils/bits"
)

// HrdParameters carries the hypothetical reference decoder fields of VUI.
type HrdParameters struct {
	CpbCntMinus1                   uint32
	BitRateScale                   uint32
	CpbSizeScale                   uint32
	BitRateValueMinus1             []uint32
	CpbSizeValueMinus1             []uint32
	CbrFlag                        []bool
	InitialCpbRemovalDelayLengthM1 uint32
	CpbRemovalDelayLengthMinus1    uint32
	DpbOutputDelayLengthMinus1     uint32
	TimeOffsetLength               uint32
}

func parseHrdParameters(r *bits.Reader) (*HrdParameters, error) {
	hrd := &HrdParameters{}
	var err error
	if hrd.CpbCntMinus1, err = r.ReadUE(); err != nil {
		return nil, err
	}
	if hrd.BitRateScale, err = r.ReadBits(4); err != nil {
		return nil, err
	}
	if hrd.CpbSizeScale, err = r.ReadBits(4); err != nil {
		return nil, err
	}
	for i := uint32(0); i <= hrd.CpbCntMinus1; i++ {
		v, err := r.ReadUE()
		if err != nil {
			return nil, err
		}
		hrd.BitRateValueMinus1 = append(hrd.BitRateValueMinus1, v)
		if v, err = r.ReadUE(); err != nil {
			return nil, err
		}
		hrd.CpbSizeValueMinus1 = append(hrd.CpbSizeValueMinus1, v)
		cbr, err := r.ReadFlag()
		if err != nil {
			return nil, err
		}
		hrd.CbrFlag = append(hrd.CbrFlag, cbr)
	}
	if hrd.InitialCpbRemovalDelayLengthM1, err = r.ReadBits(5); err != nil {
		return nil, err
	}
	if hrd.CpbRemovalDelayLengthMinus1, err = r.ReadBits(5); err != nil {
		return nil, err
	}
	if hrd.DpbOutputDelayLengthMinus1, err = r.ReadBits(5); err != nil {
		return nil, err
	}
	if hrd.TimeOffsetLength, err = r.ReadBits(5); err != nil {
		return nil, err
	}
	return hrd, nil
}

// VuiParameters holds the decoded VUI block of an SPS.
type VuiParameters struct {
	AspectRatioInfoPresent bool
	AspectRatioIdc         uint32
	SarWidth               uint32
	SarHeight              uint32

	OverscanInfoPresent bool
	OverscanAppropriate bool

	VideoSignalTypePresent  bool
	VideoFormat             uint32
	VideoFullRange          bool
	ColourDescriptionPresent bool
	ColourPrimaries         uint32
	TransferCharacteristics uint32
	MatrixCoefficients      uint32

	ChromaLocInfoPresent           bool
	ChromaSampleLocTypeTopField    uint32
	ChromaSampleLocTypeBottomField uint32

	TimingInfoPresent bool
	NumUnitsInTick    uint32
	TimeScale         uint32
	FixedFrameRate    bool

	NalHrd *HrdParameters
	VclHrd *HrdParameters
	LowDelayHrd bool

	PicStructPresent bool

	BitstreamRestriction             bool
	MotionVectorsOverPicBoundaries   bool
	MaxBytesPerPicDenom              uint32
	MaxBitsPerMbDenom                uint32
	Log2MaxMvLengthHorizontal        uint32
	Log2MaxMvLengthVertical          uint32
	MaxNumReorderFrames              uint32
	MaxDecFrameBuffering             uint32
}

func parseVuiParameters(r *bits.Reader) (*VuiParameters, error) {
	vui := &VuiParameters{}
	var err error
	if vui.AspectRatioInfoPresent, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	if vui.AspectRatioInfoPresent {
		if vui.AspectRatioIdc, err = r.ReadBits(8); err != nil {
			return nil, err
		}
		if vui.AspectRatioIdc == 255 { // Extended_SAR
			if vui.SarWidth, err = r.ReadBits(16); err != nil {
				return nil, err
			}
			if vui.SarHeight, err = r.ReadBits(16); err != nil {
				return nil, err
			}
		}
	}
	if vui.OverscanInfoPresent, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	if vui.OverscanInfoPresent {
		if vui.OverscanAppropriate, err = r.ReadFlag(); err != nil {
			return nil, err
		}
	}
	if vui.VideoSignalTypePresent, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	if vui.VideoSignalTypePresent {
		if vui.VideoFormat, err = r.ReadBits(3); err != nil {
			return nil, err
		}
		if vui.VideoFullRange, err = r.ReadFlag(); err != nil {
			return nil, err
		}
		if vui.ColourDescriptionPresent, err = r.ReadFlag(); err != nil {
			return nil, err
		}
		if vui.ColourDescriptionPresent {
			if vui.ColourPrimaries, err = r.ReadBits(8); err != nil {
				return nil, err
			}
			if vui.TransferCharacteristics, err = r.ReadBits(8); err != nil {
				return nil, err
			}
			if vui.MatrixCoefficients, err = r.ReadBits(8); err != nil {
				return nil, err
			}
		}
	}
	if vui.ChromaLocInfoPresent, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	if vui.ChromaLocInfoPresent {
		if vui.ChromaSampleLocTypeTopField, err = r.ReadUE(); err != nil {
			return nil, err
		}
		if vui.ChromaSampleLocTypeBottomField, err = r.ReadUE(); err != nil {
			return nil, err
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
		if vui.FixedFrameRate, err = r.ReadFlag(); err != nil {
			return nil, err
		}
	}
	nalHrdPresent, err := r.ReadFlag()
	if err != nil {
		return nil, err
	}
	if nalHrdPresent {
		if vui.NalHrd, err = parseHrdParameters(r); err != nil {
			return nil, err
		}
	}
	vclHrdPresent, err := r.ReadFlag()
	if err != nil {
		return nil, err
	}
	if vclHrdPresent {
		if vui.VclHrd, err = parseHrdParameters(r); err != nil {
			return nil, err
		}
	}
	if nalHrdPresent || vclHrdPresent {
		if vui.LowDelayHrd, err = r.ReadFlag(); err != nil {
			return nil, err
		}
	}
	if vui.PicStructPresent, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	if vui.BitstreamRestriction, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	if vui.BitstreamRestriction {
		if vui.MotionVectorsOverPicBoundaries, err = r.ReadFlag(); err != nil {
			return nil, err
		}
		if vui.MaxBytesPerPicDenom, err = r.ReadUE(); err != nil {
			return nil, err
		}
		if vui.MaxBitsPerMbDenom, err = r.ReadUE(); err != nil {
			return nil, err
		}
		if vui.Log2MaxMvLengthHorizontal, err = r.ReadUE(); err != nil {
			return nil, err
		}
		if vui.Log2MaxMvLengthVertical, err = r.ReadUE(); err != nil {
			return nil, err
		}
		if vui.MaxNumReorderFrames, err = r.ReadUE(); err != nil {
			return nil, err
		}
		if vui.MaxDecFrameBuffering, err = r.ReadUE(); err != nil {
			return nil, err
		}
	}
	return vui, nil
}

// SPS is a fully decoded AVC sequence parameter set.
type SPS struct {
	ProfileIdc      uint32
	ConstraintFlags uint32 // six flags, MSB first
	LevelIdc        uint32
	SpsID           uint32

	ChromaFormatIdc              uint32
	SeparateColourPlane          bool
	BitDepthLumaMinus8           uint32
	BitDepthChromaMinus8         uint32
	QpprimeYZeroTransformBypass  bool
	ScalingMatrixPresent         bool
	ScalingList4x4               [6][16]int32
	ScalingList8x8               [6][64]int32
	UseDefaultScaling4x4         [6]bool
	UseDefaultScaling8x8         [6]bool

	Log2MaxFrameNumMinus4 uint32
	PicOrderCntType       uint32

	Log2MaxPicOrderCntLsbMinus4 uint32

	DeltaPicOrderAlwaysZero   bool
	OffsetForNonRefPic        int32
	OffsetForTopToBottomField int32
	OffsetForRefFrame         []int32

	MaxNumRefFrames            uint32
	GapsInFrameNumValueAllowed bool

	PicWidthInMbsMinus1       uint32
	PicHeightInMapUnitsMinus1 uint32
	FrameMbsOnly              bool
	MbAdaptiveFrameField      bool
	Direct8x8Inference        bool

	FrameCropping   bool
	CropLeft        uint32
	CropRight       uint32
	CropTop         uint32
	CropBottom      uint32

	Vui *VuiParameters
}

// MaxFrameNum is 2^(log2_max_frame_num_minus4+4).
func (s *SPS) MaxFrameNum() uint32 {
	return 1 << (s.Log2MaxFrameNumMinus4 + 4)
}

// MaxPicOrderCntLsb is 2^(log2_max_pic_order_cnt_lsb_minus4+4).
func (s *SPS) MaxPicOrderCntLsb() int32 {
	return 1 << (s.Log2MaxPicOrderCntLsbMinus4 + 4)
}

// Width is the cropped luma width in samples.
func (s *SPS) Width() uint32 {
	w := (s.PicWidthInMbsMinus1 + 1) * 16
	crop := (s.CropLeft + s.CropRight) * s.cropUnitX()
	if crop < w {
		w -= crop
	}
	return w
}

// Height is the cropped luma height in samples.
func (s *SPS) Height() uint32 {
	frameHeightFactor := uint32(2)
	if s.FrameMbsOnly {
		frameHeightFactor = 1
	}
	h := frameHeightFactor * (s.PicHeightInMapUnitsMinus1 + 1) * 16
	crop := (s.CropTop + s.CropBottom) * s.cropUnitY() * frameHeightFactor
	if crop < h {
		h -= crop
	}
	return h
}

func (s *SPS) cropUnitX() uint32 {
	switch s.ChromaFormatIdc {
	case 0:
		return 1
	case 3:
		if s.SeparateColourPlane {
			return 1
		}
		return 1
	default:
		return 2
	}
}

func (s *SPS) cropUnitY() uint32 {
	switch s.ChromaFormatIdc {
	case 0, 3:
		return 1
	case 2:
		return 2
	default:
		return 2
	}
}

// ExpectedDeltaPerPicOrderCntCycle sums the per-cycle POC offsets for
// pic_order_cnt_type 1.
func (s *SPS) ExpectedDeltaPerPicOrderCntCycle() int32 {
	var sum int32
	for _, off := range s.OffsetForRefFrame {
		sum += off
	}
	return sum
}

func readScalingList(r *bits.Reader, list []int32, useDefault *bool) error {
	lastScale := int32(8)
	nextScale := int32(8)
	for j := range list {
		if nextScale != 0 {
			delta, err := r.ReadSE()
			if err != nil {
				return err
			}
			nextScale = (lastScale + delta + 256) % 256
			*useDefault = j == 0 && nextScale == 0
		}
		if nextScale == 0 {
			list[j] = lastScale
		} else {
			list[j] = nextScale
			lastScale = nextScale
		}
	}
	return nil
}

var highProfiles = map[uint32]bool{
	100: true, 110: true, 122: true, 244: true, 44: true, 83: true,
	86: true, 118: true, 128: true, 138: true, 139: true, 134: true, 135: true,
}

// ParseSPS decodes an SPS RBSP, header byte excluded.
func ParseSPS(rbsp []byte) (*SPS, error) {
	r := bits.NewReader(rbsp)
	s := &SPS{ChromaFormatIdc: 1}
	var err error
	if s.ProfileIdc, err = r.ReadBits(8); err != nil {
		return nil, err
	}
	if s.ConstraintFlags, err = r.ReadBits(6); err != nil {
		return nil, err
	}
	if _, err = r.ReadBits(2); err != nil { // reserved_zero_2bits
		return nil, err
	}
	if s.LevelIdc, err = r.ReadBits(8); err != nil {
		return nil, err
	}
	if s.SpsID, err = r.ReadUE(); err != nil {
		return nil, err
	}
	if s.SpsID > 31 {
		return nil, errs.Wrapf(errs.ErrMalformedBitstream, "sps id %d out of range", s.SpsID)
	}
	if highProfiles[s.ProfileIdc] {
		if s.ChromaFormatIdc, err = r.ReadUE(); err != nil {
			return nil, err
		}
		if s.ChromaFormatIdc == 3 {
			if s.SeparateColourPlane, err = r.ReadFlag(); err != nil {
				return nil, err
			}
		}
		if s.BitDepthLumaMinus8, err = r.ReadUE(); err != nil {
			return nil, err
		}
		if s.BitDepthChromaMinus8, err = r.ReadUE(); err != nil {
			return nil, err
		}
		if s.QpprimeYZeroTransformBypass, err = r.ReadFlag(); err != nil {
			return nil, err
		}
		if s.ScalingMatrixPresent, err = r.ReadFlag(); err != nil {
			return nil, err
		}
		if s.ScalingMatrixPresent {
			listCount := 8
			if s.ChromaFormatIdc == 3 {
				listCount = 12
			}
			for i := 0; i < listCount; i++ {
				present, err := r.ReadFlag()
				if err != nil {
					return nil, err
				}
				if !present {
					continue
				}
				if i < 6 {
					if err := readScalingList(r, s.ScalingList4x4[i][:], &s.UseDefaultScaling4x4[i]); err != nil {
						return nil, err
					}
				} else if i-6 < 6 {
					if err := readScalingList(r, s.ScalingList8x8[i-6][:], &s.UseDefaultScaling8x8[i-6]); err != nil {
						return nil, err
					}
				} else {
					// 4:4:4 extra 8x8 chroma lists are consumed but not kept
					var dummy [64]int32
					var flag bool
					if err := readScalingList(r, dummy[:], &flag); err != nil {
						return nil, err
					}
				}
			}
		}
	}
	if s.Log2MaxFrameNumMinus4, err = r.ReadUE(); err != nil {
		return nil, err
	}
	if s.PicOrderCntType, err = r.ReadUE(); err != nil {
		return nil, err
	}
	switch s.PicOrderCntType {
	case 0:
		if s.Log2MaxPicOrderCntLsbMinus4, err = r.ReadUE(); err != nil {
			return nil, err
		}
	case 1:
		if s.DeltaPicOrderAlwaysZero, err = r.ReadFlag(); err != nil {
			return nil, err
		}
		if s.OffsetForNonRefPic, err = r.ReadSE(); err != nil {
			return nil, err
		}
		if s.OffsetForTopToBottomField, err = r.ReadSE(); err != nil {
			return nil, err
		}
		count, err := r.ReadUE()
		if err != nil {
			return nil, err
		}
		if count > 255 {
			return nil, errs.Wrapf(errs.ErrMalformedBitstream, "num_ref_frames_in_pic_order_cnt_cycle %d", count)
		}
		for i := uint32(0); i < count; i++ {
			off, err := r.ReadSE()
			if err != nil {
				return nil, err
			}
			s.OffsetForRefFrame = append(s.OffsetForRefFrame, off)
		}
	case 2:
		// nothing more
	default:
		return nil, errs.Wrapf(errs.ErrMalformedBitstream, "pic_order_cnt_type %d", s.PicOrderCntType)
	}
	if s.MaxNumRefFrames, err = r.ReadUE(); err != nil {
		return nil, err
	}
	if s.GapsInFrameNumValueAllowed, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	if s.PicWidthInMbsMinus1, err = r.ReadUE(); err != nil {
		return nil, err
	}
	if s.PicHeightInMapUnitsMinus1, err = r.ReadUE(); err != nil {
		return nil, err
	}
	if s.FrameMbsOnly, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	if !s.FrameMbsOnly {
		if s.MbAdaptiveFrameField, err = r.ReadFlag(); err != nil {
			return nil, err
		}
	}
	if s.Direct8x8Inference, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	if s.FrameCropping, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	if s.FrameCropping {
		if s.CropLeft, err = r.ReadUE(); err != nil {
			return nil, err
		}
		if s.CropRight, err = r.ReadUE(); err != nil {
			return nil, err
		}
		if s.CropTop, err = r.ReadUE(); err != nil {
			return nil, err
		}
		if s.CropBottom, err = r.ReadUE(); err != nil {
			return nil, err
		}
	}
	vuiPresent, err := r.ReadFlag()
	if err != nil {
		return nil, err
	}
	if vuiPresent {
		if s.Vui, err = parseVuiParameters(r); err != nil {
			return nil, err
		}
	}
	return s, nil
}
