package isobmff

import (
	"github.com/bugVanisher/heif/common/errs"
	"github.com/bugVanisher/heif/utils/bits"
)

func init() {
	register("avcC", parseAvcConfigurationBox)
	register("hvcC", parseHevcConfigurationBox)
	register("lhvC", parseLhevcConfigurationBox)
}

// NalArray is one parameter-set array of a decoder configuration record,
// keyed by NAL unit type.
type NalArray struct {
	ArrayCompleteness bool
	NalUnitType       uint8
	NalUnits          [][]byte
}

// AVCDecoderConfRecord is the bit-exact avcC payload.
type AVCDecoderConfRecord struct {
	ConfigurationVersion uint8
	AVCProfileIndication uint8
	ProfileCompatibility uint8
	AVCLevelIndication   uint8
	LengthSizeMinusOne   uint8
	SPS                  [][]byte
	PPS                  [][]byte
}

func (rec *AVCDecoderConfRecord) Unmarshal(data []byte) error {
	r := bits.NewReader(data)
	var err error
	if rec.ConfigurationVersion, err = r.ReadU8(); err != nil {
		return err
	}
	if rec.AVCProfileIndication, err = r.ReadU8(); err != nil {
		return err
	}
	if rec.ProfileCompatibility, err = r.ReadU8(); err != nil {
		return err
	}
	if rec.AVCLevelIndication, err = r.ReadU8(); err != nil {
		return err
	}
	v, err := r.ReadU8()
	if err != nil {
		return err
	}
	rec.LengthSizeMinusOne = v & 3
	v, err = r.ReadU8()
	if err != nil {
		return err
	}
	spsCount := int(v & 0x1f)
	for i := 0; i < spsCount; i++ {
		n, err := r.ReadU16()
		if err != nil {
			return err
		}
		nal, err := r.ReadBytes(int(n))
		if err != nil {
			return err
		}
		rec.SPS = append(rec.SPS, nal)
	}
	ppsCount, err := r.ReadU8()
	if err != nil {
		return err
	}
	for i := uint8(0); i < ppsCount; i++ {
		n, err := r.ReadU16()
		if err != nil {
			return err
		}
		nal, err := r.ReadBytes(int(n))
		if err != nil {
			return err
		}
		rec.PPS = append(rec.PPS, nal)
	}
	return nil
}

func (rec *AVCDecoderConfRecord) Marshal(w *bits.Writer) error {
	if err := w.WriteU8(1); err != nil {
		return err
	}
	if err := w.WriteU8(rec.AVCProfileIndication); err != nil {
		return err
	}
	if err := w.WriteU8(rec.ProfileCompatibility); err != nil {
		return err
	}
	if err := w.WriteU8(rec.AVCLevelIndication); err != nil {
		return err
	}
	if err := w.WriteU8(rec.LengthSizeMinusOne | 0xfc); err != nil {
		return err
	}
	if err := w.WriteU8(uint8(len(rec.SPS)) | 0xe0); err != nil {
		return err
	}
	for _, sps := range rec.SPS {
		if err := w.WriteU16(uint16(len(sps))); err != nil {
			return err
		}
		if err := w.WriteBytes(sps); err != nil {
			return err
		}
	}
	if err := w.WriteU8(uint8(len(rec.PPS))); err != nil {
		return err
	}
	for _, pps := range rec.PPS {
		if err := w.WriteU16(uint16(len(pps))); err != nil {
			return err
		}
		if err := w.WriteBytes(pps); err != nil {
			return err
		}
	}
	return nil
}

// ParameterSetNals returns the record's parameter sets in decode order
// (SPS then PPS).
func (rec *AVCDecoderConfRecord) ParameterSetNals() [][]byte {
	var out [][]byte
	out = append(out, rec.SPS...)
	out = append(out, rec.PPS...)
	return out
}

// HEVCDecoderConfRecord is the bit-exact hvcC payload.
type HEVCDecoderConfRecord struct {
	ConfigurationVersion             uint8
	GeneralProfileSpace              uint8
	GeneralTierFlag                  uint8
	GeneralProfileIdc                uint8
	GeneralProfileCompatibilityFlags uint32
	GeneralConstraintIndicatorFlags  uint64 // 48 bits
	GeneralLevelIdc                  uint8
	MinSpatialSegmentationIdc        uint16
	ParallelismType                  uint8
	ChromaFormat                     uint8
	BitDepthLumaMinus8               uint8
	BitDepthChromaMinus8             uint8
	AvgFrameRate                     uint16
	ConstantFrameRate                uint8
	NumTemporalLayers                uint8
	TemporalIdNested                 uint8
	LengthSizeMinusOne               uint8
	NalArrays                        []NalArray
}

func (rec *HEVCDecoderConfRecord) Unmarshal(data []byte) error {
	r := bits.NewReader(data)
	var err error
	if rec.ConfigurationVersion, err = r.ReadU8(); err != nil {
		return err
	}
	v, err := r.ReadBits(8)
	if err != nil {
		return err
	}
	rec.GeneralProfileSpace = uint8(v >> 6)
	rec.GeneralTierFlag = uint8(v >> 5 & 1)
	rec.GeneralProfileIdc = uint8(v & 0x1f)
	if rec.GeneralProfileCompatibilityFlags, err = r.ReadU32(); err != nil {
		return err
	}
	hi, err := r.ReadU16()
	if err != nil {
		return err
	}
	lo, err := r.ReadU32()
	if err != nil {
		return err
	}
	rec.GeneralConstraintIndicatorFlags = uint64(hi)<<32 | uint64(lo)
	if rec.GeneralLevelIdc, err = r.ReadU8(); err != nil {
		return err
	}
	v16, err := r.ReadU16()
	if err != nil {
		return err
	}
	rec.MinSpatialSegmentationIdc = v16 & 0xfff
	if v, err = r.ReadBits(8); err != nil {
		return err
	}
	rec.ParallelismType = uint8(v & 3)
	if v, err = r.ReadBits(8); err != nil {
		return err
	}
	rec.ChromaFormat = uint8(v & 3)
	if v, err = r.ReadBits(8); err != nil {
		return err
	}
	rec.BitDepthLumaMinus8 = uint8(v & 7)
	if v, err = r.ReadBits(8); err != nil {
		return err
	}
	rec.BitDepthChromaMinus8 = uint8(v & 7)
	if rec.AvgFrameRate, err = r.ReadU16(); err != nil {
		return err
	}
	if v, err = r.ReadBits(8); err != nil {
		return err
	}
	rec.ConstantFrameRate = uint8(v >> 6)
	rec.NumTemporalLayers = uint8(v >> 3 & 7)
	rec.TemporalIdNested = uint8(v >> 2 & 1)
	rec.LengthSizeMinusOne = uint8(v & 3)
	return unmarshalNalArrays(r, &rec.NalArrays)
}

func unmarshalNalArrays(r *bits.Reader, arrays *[]NalArray) error {
	count, err := r.ReadU8()
	if err != nil {
		return err
	}
	for i := uint8(0); i < count; i++ {
		v, err := r.ReadBits(8)
		if err != nil {
			return err
		}
		arr := NalArray{
			ArrayCompleteness: v>>7 == 1,
			NalUnitType:       uint8(v & 0x3f),
		}
		nalCount, err := r.ReadU16()
		if err != nil {
			return err
		}
		for n := uint16(0); n < nalCount; n++ {
			size, err := r.ReadU16()
			if err != nil {
				return err
			}
			nal, err := r.ReadBytes(int(size))
			if err != nil {
				return err
			}
			arr.NalUnits = append(arr.NalUnits, nal)
		}
		*arrays = append(*arrays, arr)
	}
	return nil
}

func marshalNalArrays(w *bits.Writer, arrays []NalArray) error {
	if err := w.WriteU8(uint8(len(arrays))); err != nil {
		return err
	}
	for _, arr := range arrays {
		v := uint32(arr.NalUnitType) & 0x3f
		if arr.ArrayCompleteness {
			v |= 0x80
		}
		w.WriteBits(v, 8)
		if err := w.WriteU16(uint16(len(arr.NalUnits))); err != nil {
			return err
		}
		for _, nal := range arr.NalUnits {
			if err := w.WriteU16(uint16(len(nal))); err != nil {
				return err
			}
			if err := w.WriteBytes(nal); err != nil {
				return err
			}
		}
	}
	return nil
}

func (rec *HEVCDecoderConfRecord) Marshal(w *bits.Writer) error {
	if err := w.WriteU8(1); err != nil {
		return err
	}
	w.WriteBits(uint32(rec.GeneralProfileSpace)<<6|uint32(rec.GeneralTierFlag)<<5|uint32(rec.GeneralProfileIdc&0x1f), 8)
	if err := w.WriteU32(rec.GeneralProfileCompatibilityFlags); err != nil {
		return err
	}
	if err := w.WriteU16(uint16(rec.GeneralConstraintIndicatorFlags >> 32)); err != nil {
		return err
	}
	if err := w.WriteU32(uint32(rec.GeneralConstraintIndicatorFlags)); err != nil {
		return err
	}
	if err := w.WriteU8(rec.GeneralLevelIdc); err != nil {
		return err
	}
	if err := w.WriteU16(rec.MinSpatialSegmentationIdc | 0xf000); err != nil {
		return err
	}
	w.WriteBits(0xfc|uint32(rec.ParallelismType&3), 8)
	w.WriteBits(0xfc|uint32(rec.ChromaFormat&3), 8)
	w.WriteBits(0xf8|uint32(rec.BitDepthLumaMinus8&7), 8)
	w.WriteBits(0xf8|uint32(rec.BitDepthChromaMinus8&7), 8)
	if err := w.WriteU16(rec.AvgFrameRate); err != nil {
		return err
	}
	w.WriteBits(uint32(rec.ConstantFrameRate)<<6|uint32(rec.NumTemporalLayers&7)<<3|
		uint32(rec.TemporalIdNested&1)<<2|uint32(rec.LengthSizeMinusOne&3), 8)
	return marshalNalArrays(w, rec.NalArrays)
}

// NalUnitsOfType returns the parameter sets stored under one NAL type.
func (rec *HEVCDecoderConfRecord) NalUnitsOfType(nalType uint8) [][]byte {
	for _, arr := range rec.NalArrays {
		if arr.NalUnitType == nalType {
			return arr.NalUnits
		}
	}
	return nil
}

// ParameterSetNals returns all stored parameter sets in array order.
func (rec *HEVCDecoderConfRecord) ParameterSetNals() [][]byte {
	var out [][]byte
	for _, arr := range rec.NalArrays {
		out = append(out, arr.NalUnits...)
	}
	return out
}

// LHEVCDecoderConfRecord is the bit-exact lhvC payload. Unlike hvcC it
// carries no general profile-tier-level; operating points live in oinf.
type LHEVCDecoderConfRecord struct {
	ConfigurationVersion      uint8
	MinSpatialSegmentationIdc uint16
	ParallelismType           uint8
	NumTemporalLayers         uint8
	TemporalIdNested          uint8
	LengthSizeMinusOne        uint8
	NalArrays                 []NalArray
}

func (rec *LHEVCDecoderConfRecord) Unmarshal(data []byte) error {
	r := bits.NewReader(data)
	var err error
	if rec.ConfigurationVersion, err = r.ReadU8(); err != nil {
		return err
	}
	v16, err := r.ReadU16()
	if err != nil {
		return err
	}
	rec.MinSpatialSegmentationIdc = v16 & 0xfff
	v, err := r.ReadBits(8)
	if err != nil {
		return err
	}
	rec.ParallelismType = uint8(v & 3)
	if v, err = r.ReadBits(8); err != nil {
		return err
	}
	rec.NumTemporalLayers = uint8(v >> 3 & 7)
	rec.TemporalIdNested = uint8(v >> 2 & 1)
	rec.LengthSizeMinusOne = uint8(v & 3)
	return unmarshalNalArrays(r, &rec.NalArrays)
}

func (rec *LHEVCDecoderConfRecord) Marshal(w *bits.Writer) error {
	if err := w.WriteU8(1); err != nil {
		return err
	}
	if err := w.WriteU16(rec.MinSpatialSegmentationIdc | 0xf000); err != nil {
		return err
	}
	w.WriteBits(0xfc|uint32(rec.ParallelismType&3), 8)
	w.WriteBits(0xc0|uint32(rec.NumTemporalLayers&7)<<3|
		uint32(rec.TemporalIdNested&1)<<2|uint32(rec.LengthSizeMinusOne&3), 8)
	return marshalNalArrays(w, rec.NalArrays)
}

func (rec *LHEVCDecoderConfRecord) ParameterSetNals() [][]byte {
	var out [][]byte
	for _, arr := range rec.NalArrays {
		out = append(out, arr.NalUnits...)
	}
	return out
}

// AvcConfigurationBox carries an AVC record as an item property or a
// sample-entry child.
type AvcConfigurationBox struct {
	Record AVCDecoderConfRecord
}

func parseAvcConfigurationBox(h Header, payload []byte) (Box, error) {
	b := &AvcConfigurationBox{}
	if err := b.Record.Unmarshal(payload); err != nil {
		return nil, errs.Wrapf(err, "avcC record")
	}
	return b, nil
}

func (b *AvcConfigurationBox) Type() BoxType {
	return Type("avcC")
}

func (b *AvcConfigurationBox) Encode(w *bits.Writer) error {
	pos, err := beginBox(w, b.Type())
	if err != nil {
		return err
	}
	if err := b.Record.Marshal(w); err != nil {
		return err
	}
	return endBox(w, pos)
}

// HevcConfigurationBox carries an HEVC record.
type HevcConfigurationBox struct {
	Record HEVCDecoderConfRecord
}

func parseHevcConfigurationBox(h Header, payload []byte) (Box, error) {
	b := &HevcConfigurationBox{}
	if err := b.Record.Unmarshal(payload); err != nil {
		return nil, errs.Wrapf(err, "hvcC record")
	}
	return b, nil
}

func (b *HevcConfigurationBox) Type() BoxType {
	return Type("hvcC")
}

func (b *HevcConfigurationBox) Encode(w *bits.Writer) error {
	pos, err := beginBox(w, b.Type())
	if err != nil {
		return err
	}
	if err := b.Record.Marshal(w); err != nil {
		return err
	}
	return endBox(w, pos)
}

// LhevcConfigurationBox carries a layered-HEVC record.
type LhevcConfigurationBox struct {
	Record LHEVCDecoderConfRecord
}

func parseLhevcConfigurationBox(h Header, payload []byte) (Box, error) {
	b := &LhevcConfigurationBox{}
	if err := b.Record.Unmarshal(payload); err != nil {
		return nil, errs.Wrapf(err, "lhvC record")
	}
	return b, nil
}

func (b *LhevcConfigurationBox) Type() BoxType {
	return Type("lhvC")
}

func (b *LhevcConfigurationBox) Encode(w *bits.Writer) error {
	pos, err := beginBox(w, b.Type())
	if err != nil {
		return err
	}
	if err := b.Record.Marshal(w); err != nil {
		return err
	}
	return endBox(w, pos)
}
