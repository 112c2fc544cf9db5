package isobmff

import (
	"github.com/bugVanisher/heif/utils/bits"
)

func init() {
	register("mvex", parseContainer("mvex"))
	register("mehd", parseMovieExtendsHeaderBox)
	register("trex", parseTrackExtendsBox)
	register("moof", parseContainer("moof"))
	register("mfhd", parseMovieFragmentHeaderBox)
	register("traf", parseContainer("traf"))
	register("tfhd", parseTrackFragmentHeaderBox)
	register("tfdt", parseTrackFragmentBaseMediaDecodeTimeBox)
	register("trun", parseTrackRunBox)
}

// MovieExtendsHeaderBox (mehd).
type MovieExtendsHeaderBox struct {
	FullBox
	FragmentDuration uint64
}

func parseMovieExtendsHeaderBox(h Header, payload []byte) (Box, error) {
	r := bits.NewReader(payload)
	fb, err := parseFullBox(r)
	if err != nil {
		return nil, err
	}
	b := &MovieExtendsHeaderBox{FullBox: fb}
	if fb.Version == 1 {
		if b.FragmentDuration, err = r.ReadU64(); err != nil {
			return nil, err
		}
	} else {
		v, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		b.FragmentDuration = uint64(v)
	}
	return b, nil
}

func (b *MovieExtendsHeaderBox) Type() BoxType {
	return Type("mehd")
}

func (b *MovieExtendsHeaderBox) Encode(w *bits.Writer) error {
	pos, err := beginFullBox(w, b.Type(), 1, b.Flags)
	if err != nil {
		return err
	}
	if err := w.WriteU64(b.FragmentDuration); err != nil {
		return err
	}
	return endBox(w, pos)
}

// TrackExtendsBox (trex) supplies fragment run defaults.
type TrackExtendsBox struct {
	FullBox
	TrackID                       uint32
	DefaultSampleDescriptionIndex uint32
	DefaultSampleDuration         uint32
	DefaultSampleSize             uint32
	DefaultSampleFlags            uint32
}

func parseTrackExtendsBox(h Header, payload []byte) (Box, error) {
	r := bits.NewReader(payload)
	fb, err := parseFullBox(r)
	if err != nil {
		return nil, err
	}
	b := &TrackExtendsBox{FullBox: fb}
	for _, dst := range []*uint32{
		&b.TrackID, &b.DefaultSampleDescriptionIndex,
		&b.DefaultSampleDuration, &b.DefaultSampleSize, &b.DefaultSampleFlags,
	} {
		if *dst, err = r.ReadU32(); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (b *TrackExtendsBox) Type() BoxType {
	return Type("trex")
}

func (b *TrackExtendsBox) Encode(w *bits.Writer) error {
	pos, err := beginFullBox(w, b.Type(), b.Version, b.Flags)
	if err != nil {
		return err
	}
	for _, v := range []uint32{
		b.TrackID, b.DefaultSampleDescriptionIndex,
		b.DefaultSampleDuration, b.DefaultSampleSize, b.DefaultSampleFlags,
	} {
		if err := w.WriteU32(v); err != nil {
			return err
		}
	}
	return endBox(w, pos)
}

// MovieFragmentHeaderBox (mfhd).
type MovieFragmentHeaderBox struct {
	FullBox
	SequenceNumber uint32
}

func parseMovieFragmentHeaderBox(h Header, payload []byte) (Box, error) {
	r := bits.NewReader(payload)
	fb, err := parseFullBox(r)
	if err != nil {
		return nil, err
	}
	seq, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	return &MovieFragmentHeaderBox{FullBox: fb, SequenceNumber: seq}, nil
}

func (b *MovieFragmentHeaderBox) Type() BoxType {
	return Type("mfhd")
}

func (b *MovieFragmentHeaderBox) Encode(w *bits.Writer) error {
	pos, err := beginFullBox(w, b.Type(), b.Version, b.Flags)
	if err != nil {
		return err
	}
	if err := w.WriteU32(b.SequenceNumber); err != nil {
		return err
	}
	return endBox(w, pos)
}

// tfhd flag bits.
const (
	TfhdBaseDataOffsetPresent        = 0x000001
	TfhdSampleDescriptionPresent     = 0x000002
	TfhdDefaultSampleDurationPresent = 0x000008
	TfhdDefaultSampleSizePresent     = 0x000010
	TfhdDefaultSampleFlagsPresent    = 0x000020
	TfhdDefaultBaseIsMoof            = 0x020000
)

// TrackFragmentHeaderBox (tfhd).
type TrackFragmentHeaderBox struct {
	FullBox
	TrackID                uint32
	BaseDataOffset         uint64
	SampleDescriptionIndex uint32
	DefaultSampleDuration  uint32
	DefaultSampleSize      uint32
	DefaultSampleFlags     uint32
}

func parseTrackFragmentHeaderBox(h Header, payload []byte) (Box, error) {
	r := bits.NewReader(payload)
	fb, err := parseFullBox(r)
	if err != nil {
		return nil, err
	}
	b := &TrackFragmentHeaderBox{FullBox: fb}
	if b.TrackID, err = r.ReadU32(); err != nil {
		return nil, err
	}
	if fb.Flags&TfhdBaseDataOffsetPresent != 0 {
		if b.BaseDataOffset, err = r.ReadU64(); err != nil {
			return nil, err
		}
	}
	if fb.Flags&TfhdSampleDescriptionPresent != 0 {
		if b.SampleDescriptionIndex, err = r.ReadU32(); err != nil {
			return nil, err
		}
	}
	if fb.Flags&TfhdDefaultSampleDurationPresent != 0 {
		if b.DefaultSampleDuration, err = r.ReadU32(); err != nil {
			return nil, err
		}
	}
	if fb.Flags&TfhdDefaultSampleSizePresent != 0 {
		if b.DefaultSampleSize, err = r.ReadU32(); err != nil {
			return nil, err
		}
	}
	if fb.Flags&TfhdDefaultSampleFlagsPresent != 0 {
		if b.DefaultSampleFlags, err = r.ReadU32(); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (b *TrackFragmentHeaderBox) Type() BoxType {
	return Type("tfhd")
}

func (b *TrackFragmentHeaderBox) Encode(w *bits.Writer) error {
	pos, err := beginFullBox(w, b.Type(), b.Version, b.Flags)
	if err != nil {
		return err
	}
	if err := w.WriteU32(b.TrackID); err != nil {
		return err
	}
	if b.Flags&TfhdBaseDataOffsetPresent != 0 {
		if err := w.WriteU64(b.BaseDataOffset); err != nil {
			return err
		}
	}
	if b.Flags&TfhdSampleDescriptionPresent != 0 {
		if err := w.WriteU32(b.SampleDescriptionIndex); err != nil {
			return err
		}
	}
	if b.Flags&TfhdDefaultSampleDurationPresent != 0 {
		if err := w.WriteU32(b.DefaultSampleDuration); err != nil {
			return err
		}
	}
	if b.Flags&TfhdDefaultSampleSizePresent != 0 {
		if err := w.WriteU32(b.DefaultSampleSize); err != nil {
			return err
		}
	}
	if b.Flags&TfhdDefaultSampleFlagsPresent != 0 {
		if err := w.WriteU32(b.DefaultSampleFlags); err != nil {
			return err
		}
	}
	return endBox(w, pos)
}

// TrackFragmentBaseMediaDecodeTimeBox (tfdt).
type TrackFragmentBaseMediaDecodeTimeBox struct {
	FullBox
	BaseMediaDecodeTime uint64
}

func parseTrackFragmentBaseMediaDecodeTimeBox(h Header, payload []byte) (Box, error) {
	r := bits.NewReader(payload)
	fb, err := parseFullBox(r)
	if err != nil {
		return nil, err
	}
	b := &TrackFragmentBaseMediaDecodeTimeBox{FullBox: fb}
	if fb.Version == 1 {
		if b.BaseMediaDecodeTime, err = r.ReadU64(); err != nil {
			return nil, err
		}
	} else {
		v, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		b.BaseMediaDecodeTime = uint64(v)
	}
	return b, nil
}

func (b *TrackFragmentBaseMediaDecodeTimeBox) Type() BoxType {
	return Type("tfdt")
}

func (b *TrackFragmentBaseMediaDecodeTimeBox) Encode(w *bits.Writer) error {
	pos, err := beginFullBox(w, b.Type(), 1, b.Flags)
	if err != nil {
		return err
	}
	if err := w.WriteU64(b.BaseMediaDecodeTime); err != nil {
		return err
	}
	return endBox(w, pos)
}

// trun flag bits.
const (
	TrunDataOffsetPresent                 = 0x000001
	TrunFirstSampleFlagsPresent           = 0x000004
	TrunSampleDurationPresent             = 0x000100
	TrunSampleSizePresent                 = 0x000200
	TrunSampleFlagsPresent                = 0x000400
	TrunSampleCompositionTimeOffsetPresent = 0x000800
)

// TrackRunSample is one trun sample row with absent fields left zero.
type TrackRunSample struct {
	Duration              uint32
	Size                  uint32
	Flags                 uint32
	CompositionTimeOffset int64
}

// TrackRunBox (trun).
type TrackRunBox struct {
	FullBox
	DataOffset       int32
	FirstSampleFlags uint32
	Samples          []TrackRunSample
}

func parseTrackRunBox(h Header, payload []byte) (Box, error) {
	r := bits.NewReader(payload)
	fb, err := parseFullBox(r)
	if err != nil {
		return nil, err
	}
	b := &TrackRunBox{FullBox: fb}
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	if fb.Flags&TrunDataOffsetPresent != 0 {
		v, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		b.DataOffset = int32(v)
	}
	if fb.Flags&TrunFirstSampleFlagsPresent != 0 {
		if b.FirstSampleFlags, err = r.ReadU32(); err != nil {
			return nil, err
		}
	}
	for i := uint32(0); i < count; i++ {
		var s TrackRunSample
		if fb.Flags&TrunSampleDurationPresent != 0 {
			if s.Duration, err = r.ReadU32(); err != nil {
				return nil, err
			}
		}
		if fb.Flags&TrunSampleSizePresent != 0 {
			if s.Size, err = r.ReadU32(); err != nil {
				return nil, err
			}
		}
		if fb.Flags&TrunSampleFlagsPresent != 0 {
			if s.Flags, err = r.ReadU32(); err != nil {
				return nil, err
			}
		}
		if fb.Flags&TrunSampleCompositionTimeOffsetPresent != 0 {
			v, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			if fb.Version == 0 {
				s.CompositionTimeOffset = int64(v)
			} else {
				s.CompositionTimeOffset = int64(int32(v))
			}
		}
		b.Samples = append(b.Samples, s)
	}
	return b, nil
}

func (b *TrackRunBox) Type() BoxType {
	return Type("trun")
}

func (b *TrackRunBox) Encode(w *bits.Writer) error {
	pos, err := beginFullBox(w, b.Type(), b.Version, b.Flags)
	if err != nil {
		return err
	}
	if err := w.WriteU32(uint32(len(b.Samples))); err != nil {
		return err
	}
	if b.Flags&TrunDataOffsetPresent != 0 {
		if err := w.WriteU32(uint32(b.DataOffset)); err != nil {
			return err
		}
	}
	if b.Flags&TrunFirstSampleFlagsPresent != 0 {
		if err := w.WriteU32(b.FirstSampleFlags); err != nil {
			return err
		}
	}
	for _, s := range b.Samples {
		if b.Flags&TrunSampleDurationPresent != 0 {
			if err := w.WriteU32(s.Duration); err != nil {
				return err
			}
		}
		if b.Flags&TrunSampleSizePresent != 0 {
			if err := w.WriteU32(s.Size); err != nil {
				return err
			}
		}
		if b.Flags&TrunSampleFlagsPresent != 0 {
			if err := w.WriteU32(s.Flags); err != nil {
				return err
			}
		}
		if b.Flags&TrunSampleCompositionTimeOffsetPresent != 0 {
			if err := w.WriteU32(uint32(int32(s.CompositionTimeOffset))); err != nil {
				return err
			}
		}
	}
	return endBox(w, pos)
}
