package hevcparser

import (
	"github.com/bugVanisher/heif/common/errs"
	"github.com/bugVanisher/heif/utils/bits"
)

// PPS is a decoded HEVC picture parameter set.
type PPS struct {
	PpsID uint32
	SpsID uint32

	DependentSliceSegmentsEnabled bool
	OutputFlagPresent             bool
	NumExtraSliceHeaderBits       uint32
	SignDataHiding                bool
	CabacInitPresent              bool

	NumRefIdxL0DefaultActiveMinus1 uint32
	NumRefIdxL1DefaultActiveMinus1 uint32

	InitQpMinus26        int32
	ConstrainedIntraPred bool
	TransformSkipEnabled bool

	CuQpDeltaEnabled    bool
	DiffCuQpDeltaDepth  uint32
	CbQpOffset          int32
	CrQpOffset          int32
	SliceChromaQpOffsetsPresent bool

	WeightedPred      bool
	WeightedBipred    bool
	TransquantBypass  bool

	TilesEnabled          bool
	EntropyCodingSync     bool
	NumTileColumnsMinus1  uint32
	NumTileRowsMinus1     uint32
	UniformSpacing        bool
	ColumnWidthMinus1     []uint32
	RowHeightMinus1       []uint32
	LoopFilterAcrossTiles bool

	LoopFilterAcrossSlices bool

	DeblockingFilterControlPresent  bool
	DeblockingFilterOverrideEnabled bool
	DeblockingFilterDisabled        bool
	BetaOffsetDiv2                  int32
	TcOffsetDiv2                    int32

	ListsModificationPresent bool
	Log2ParallelMergeLevelMinus2 uint32
	SliceSegmentHeaderExtension  bool
}

// ParsePPS decodes a PPS RBSP, the two header bytes excluded.
func ParsePPS(rbsp []byte) (*PPS, error) {
	r := bits.NewReader(rbsp)
	p := &PPS{}
	var err error
	if p.PpsID, err = r.ReadUE(); err != nil {
		return nil, err
	}
	if p.PpsID > 63 {
		return nil, errs.Wrapf(errs.ErrMalformedBitstream, "pps id %d out of range", p.PpsID)
	}
	if p.SpsID, err = r.ReadUE(); err != nil {
		return nil, err
	}
	if p.DependentSliceSegmentsEnabled, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	if p.OutputFlagPresent, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	if p.NumExtraSliceHeaderBits, err = r.ReadBits(3); err != nil {
		return nil, err
	}
	if p.SignDataHiding, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	if p.CabacInitPresent, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	if p.NumRefIdxL0DefaultActiveMinus1, err = r.ReadUE(); err != nil {
		return nil, err
	}
	if p.NumRefIdxL1DefaultActiveMinus1, err = r.ReadUE(); err != nil {
		return nil, err
	}
	if p.InitQpMinus26, err = r.ReadSE(); err != nil {
		return nil, err
	}
	if p.ConstrainedIntraPred, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	if p.TransformSkipEnabled, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	if p.CuQpDeltaEnabled, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	if p.CuQpDeltaEnabled {
		if p.DiffCuQpDeltaDepth, err = r.ReadUE(); err != nil {
			return nil, err
		}
	}
	if p.CbQpOffset, err = r.ReadSE(); err != nil {
		return nil, err
	}
	if p.CrQpOffset, err = r.ReadSE(); err != nil {
		return nil, err
	}
	if p.SliceChromaQpOffsetsPresent, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	if p.WeightedPred, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	if p.WeightedBipred, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	if p.TransquantBypass, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	if p.TilesEnabled, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	if p.EntropyCodingSync, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	if p.TilesEnabled {
		if p.NumTileColumnsMinus1, err = r.ReadUE(); err != nil {
			return nil, err
		}
		if p.NumTileRowsMinus1, err = r.ReadUE(); err != nil {
			return nil, err
		}
		if p.UniformSpacing, err = r.ReadFlag(); err != nil {
			return nil, err
		}
		if !p.UniformSpacing {
			for i := uint32(0); i < p.NumTileColumnsMinus1; i++ {
				v, err := r.ReadUE()
				if err != nil {
					return nil, err
				}
				p.ColumnWidthMinus1 = append(p.ColumnWidthMinus1, v)
			}
			for i := uint32(0); i < p.NumTileRowsMinus1; i++ {
				v, err := r.ReadUE()
				if err != nil {
					return nil, err
				}
				p.RowHeightMinus1 = append(p.RowHeightMinus1, v)
			}
		}
		if p.LoopFilterAcrossTiles, err = r.ReadFlag(); err != nil {
			return nil, err
		}
	}
	if p.LoopFilterAcrossSlices, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	if p.DeblockingFilterControlPresent, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	if p.DeblockingFilterControlPresent {
		if p.DeblockingFilterOverrideEnabled, err = r.ReadFlag(); err != nil {
			return nil, err
		}
		if p.DeblockingFilterDisabled, err = r.ReadFlag(); err != nil {
			return nil, err
		}
		if !p.DeblockingFilterDisabled {
			if p.BetaOffsetDiv2, err = r.ReadSE(); err != nil {
				return nil, err
			}
			if p.TcOffsetDiv2, err = r.ReadSE(); err != nil {
				return nil, err
			}
		}
	}
	scalingListPresent, err := r.ReadFlag()
	if err != nil {
		return nil, err
	}
	if scalingListPresent {
		if err := parseHevcScalingListData(r); err != nil {
			return nil, err
		}
	}
	if p.ListsModificationPresent, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	if p.Log2ParallelMergeLevelMinus2, err = r.ReadUE(); err != nil {
		return nil, err
	}
	if p.SliceSegmentHeaderExtension, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	return p, nil
}
