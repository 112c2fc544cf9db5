// Package hevcparser parses HEVC and layered-HEVC elementary streams:
// parameter sets with their substructures, slice segment headers, and the
// reference-picture-set engine.
package hevcparser

import (
	"github.com/bugVanisher/heif/utils/bits"
)

// ProfileTierLevel is the general PTL block plus sub-layer variants.
type ProfileTierLevel struct {
	GeneralProfileSpace              uint8
	GeneralTierFlag                  uint8
	GeneralProfileIdc                uint8
	GeneralProfileCompatibilityFlags uint32
	GeneralConstraintIndicatorFlags  uint64 // 48 bits incl. progressive/interlaced/non-packed/frame-only
	GeneralLevelIdc                  uint8

	SubLayerProfilePresent []bool
	SubLayerLevelPresent   []bool
	SubLayerLevelIdc       []uint8
}

func parseProfileTierLevel(r *bits.Reader, profilePresent bool, maxNumSubLayersMinus1 int) (*ProfileTierLevel, error) {
	ptl := &ProfileTierLevel{}
	var err error
	if profilePresent {
		v, err := r.ReadBits(8)
		if err != nil {
			return nil, err
		}
		ptl.GeneralProfileSpace = uint8(v >> 6)
		ptl.GeneralTierFlag = uint8(v >> 5 & 1)
		ptl.GeneralProfileIdc = uint8(v & 0x1f)
		if ptl.GeneralProfileCompatibilityFlags, err = r.ReadBits(32); err != nil {
			return nil, err
		}
		hi, err := r.ReadBits(16)
		if err != nil {
			return nil, err
		}
		lo, err := r.ReadBits(32)
		if err != nil {
			return nil, err
		}
		ptl.GeneralConstraintIndicatorFlags = uint64(hi)<<32 | uint64(lo)
	}
	v, err := r.ReadBits(8)
	if err != nil {
		return nil, err
	}
	ptl.GeneralLevelIdc = uint8(v)
	for i := 0; i < maxNumSubLayersMinus1; i++ {
		pp, err := r.ReadFlag()
		if err != nil {
			return nil, err
		}
		lp, err := r.ReadFlag()
		if err != nil {
			return nil, err
		}
		ptl.SubLayerProfilePresent = append(ptl.SubLayerProfilePresent, pp)
		ptl.SubLayerLevelPresent = append(ptl.SubLayerLevelPresent, lp)
	}
	if maxNumSubLayersMinus1 > 0 {
		for i := maxNumSubLayersMinus1; i < 8; i++ {
			if _, err := r.ReadBits(2); err != nil { // reserved_zero_2bits
				return nil, err
			}
		}
	}
	ptl.SubLayerLevelIdc = make([]uint8, maxNumSubLayersMinus1)
	for i := 0; i < maxNumSubLayersMinus1; i++ {
		if ptl.SubLayerProfilePresent[i] {
			if err := r.SkipBits(88); err != nil { // sub-layer profile block
				return nil, err
			}
		}
		if ptl.SubLayerLevelPresent[i] {
			v, err := r.ReadBits(8)
			if err != nil {
				return nil, err
			}
			ptl.SubLayerLevelIdc[i] = uint8(v)
		}
	}
	return ptl, nil
}
