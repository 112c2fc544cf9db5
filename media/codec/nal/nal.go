// Package nal handles Annex-B elementary streams: start-code scanning,
// emulation-prevention removal, and the AVC/HEVC NAL unit headers.
package nal

import (
	"github.com/bugVanisher/heif/common/errs"
)

var StartCode = []byte{0, 0, 0, 1}

// AVC NAL unit types.
const (
	AvcNalSliceNonIdr = 1
	AvcNalSlicePartA  = 2
	AvcNalSlicePartB  = 3
	AvcNalSlicePartC  = 4
	AvcNalSliceIdr    = 5
	AvcNalSei         = 6
	AvcNalSps         = 7
	AvcNalPps         = 8
	AvcNalAud         = 9
	AvcNalEndOfSeq    = 10
	AvcNalEndOfStream = 11
)

// HEVC NAL unit types.
const (
	HevcNalTrailN       = 0
	HevcNalTrailR       = 1
	HevcNalTsaN         = 2
	HevcNalTsaR         = 3
	HevcNalStsaN        = 4
	HevcNalStsaR        = 5
	HevcNalRadlN        = 6
	HevcNalRadlR        = 7
	HevcNalRaslN        = 8
	HevcNalRaslR        = 9
	HevcNalBlaWLp       = 16
	HevcNalBlaWRadl     = 17
	HevcNalBlaNLp       = 18
	HevcNalIdrWRadl     = 19
	HevcNalIdrNLp       = 20
	HevcNalCra          = 21
	HevcNalRsvIrapVcl22 = 22
	HevcNalRsvIrapVcl23 = 23
	HevcNalVps          = 32
	HevcNalSps          = 33
	HevcNalPps          = 34
	HevcNalAud          = 35
	HevcNalEos          = 36
	HevcNalEob          = 37
	HevcNalFd           = 38
	HevcNalPrefixSei    = 39
	HevcNalSuffixSei    = 40
)

// SplitAnnexB slices an Annex-B byte stream into NAL unit bodies. The
// scanner first records every start-code position, then cuts bodies
// between them, so the trailing zeros of one unit are never confused with
// the next unit's start code.
func SplitAnnexB(data []byte) ([][]byte, error) {
	var starts []int // index of first body byte per unit
	i := 0
	for i+2 < len(data) {
		if data[i] == 0 && data[i+1] == 0 {
			if data[i+2] == 1 {
				starts = append(starts, i+3)
				i += 3
				continue
			}
			if data[i+2] == 0 && i+3 < len(data) && data[i+3] == 1 {
				starts = append(starts, i+4)
				i += 4
				continue
			}
		}
		i++
	}
	if len(starts) == 0 {
		return nil, errs.Wrapf(errs.ErrMalformedBitstream, "nal: no start code found in %d bytes", len(data))
	}
	units := make([][]byte, 0, len(starts))
	for n, start := range starts {
		end := len(data)
		if n+1 < len(starts) {
			end = starts[n+1] - 3
			if end >= 1 && data[end-1] == 0 {
				end-- // four-byte start code
			}
		}
		// strip this unit's own trailing zero bytes
		for end > start && data[end-1] == 0 {
			end--
		}
		if end <= start {
			return nil, errs.Wrapf(errs.ErrMalformedBitstream, "nal: empty NAL unit at %d", start)
		}
		units = append(units, data[start:end])
	}
	return units, nil
}

// ToRBSP strips emulation-prevention bytes: every 0x00 0x00 0x03 triplet
// drops the 0x03.
func ToRBSP(data []byte) []byte {
	out := make([]byte, 0, len(data))
	zeros := 0
	for i := 0; i < len(data); i++ {
		if zeros >= 2 && data[i] == 3 {
			zeros = 0
			continue
		}
		if data[i] == 0 {
			zeros++
		} else {
			zeros = 0
		}
		out = append(out, data[i])
	}
	return out
}

// AddEmulationPrevention inserts 0x03 before any byte <= 3 that follows
// two zero bytes, producing a legal NAL unit payload from an RBSP.
func AddEmulationPrevention(rbsp []byte) []byte {
	out := make([]byte, 0, len(rbsp))
	zeros := 0
	for i := 0; i < len(rbsp); i++ {
		if zeros >= 2 && rbsp[i] <= 3 {
			out = append(out, 3)
			zeros = 0
		}
		if rbsp[i] == 0 {
			zeros++
		} else {
			zeros = 0
		}
		out = append(out, rbsp[i])
	}
	return out
}

// WriteAnnexB concatenates NAL unit bodies with 4-byte start codes.
func WriteAnnexB(units [][]byte) []byte {
	size := 0
	for _, u := range units {
		size += len(StartCode) + len(u)
	}
	out := make([]byte, 0, size)
	for _, u := range units {
		out = append(out, StartCode...)
		out = append(out, u...)
	}
	return out
}

// AvcHeader is the one-byte AVC NAL unit header.
type AvcHeader struct {
	NalRefIdc   uint8
	NalUnitType uint8
}

func ParseAvcHeader(unit []byte) (AvcHeader, error) {
	if len(unit) < 1 {
		return AvcHeader{}, errs.ErrUnexpectedEOF
	}
	if unit[0]&0x80 != 0 {
		return AvcHeader{}, errs.Wrapf(errs.ErrMalformedBitstream, "nal: forbidden_zero_bit set")
	}
	return AvcHeader{
		NalRefIdc:   unit[0] >> 5 & 3,
		NalUnitType: unit[0] & 0x1f,
	}, nil
}

// IsVcl reports whether the unit carries coded slice data.
func (h AvcHeader) IsVcl() bool {
	return h.NalUnitType >= AvcNalSliceNonIdr && h.NalUnitType <= AvcNalSliceIdr
}

// HevcHeader is the two-byte HEVC NAL unit header.
type HevcHeader struct {
	NalUnitType     uint8
	NuhLayerID      uint8
	TemporalIDPlus1 uint8
}

func ParseHevcHeader(unit []byte) (HevcHeader, error) {
	if len(unit) < 2 {
		return HevcHeader{}, errs.ErrUnexpectedEOF
	}
	if unit[0]&0x80 != 0 {
		return HevcHeader{}, errs.Wrapf(errs.ErrMalformedBitstream, "nal: forbidden_zero_bit set")
	}
	return HevcHeader{
		NalUnitType:     unit[0] >> 1 & 0x3f,
		NuhLayerID:      (unit[0]&1)<<5 | unit[1]>>3,
		TemporalIDPlus1: unit[1] & 7,
	}, nil
}

// IsVcl reports whether the unit carries coded slice data.
func (h HevcHeader) IsVcl() bool {
	return h.NalUnitType <= 31
}

// IsIrap reports whether the unit is an intra random access point.
func (h HevcHeader) IsIrap() bool {
	return h.NalUnitType >= HevcNalBlaWLp && h.NalUnitType <= HevcNalRsvIrapVcl23
}
