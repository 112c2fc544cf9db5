package isobmff

import (
	"github.com/bugVanisher/heif/utils/bits"
)

func init() {
	register("moov", parseMovieBox)
	register("mvhd", parseMovieHeaderBox)
	register("trak", parseTrackBox)
	register("tkhd", parseTrackHeaderBox)
	register("tref", parseTrackReferenceBox)
	register("edts", parseContainer("edts"))
	register("elst", parseEditListBox)
	register("mdia", parseContainer("mdia"))
	register("mdhd", parseMediaHeaderBox)
	register("minf", parseContainer("minf"))
	register("vmhd", parseVideoMediaHeaderBox)
	register("nmhd", parseNullMediaHeaderBox)
}

// MovieBox is the moov root.
type MovieBox struct {
	Children []Box
}

func parseMovieBox(h Header, payload []byte) (Box, error) {
	children, err := ParseChildren(payload)
	if err != nil {
		return nil, err
	}
	return &MovieBox{Children: children}, nil
}

func (b *MovieBox) Type() BoxType {
	return Type("moov")
}

func (b *MovieBox) Encode(w *bits.Writer) error {
	pos, err := beginBox(w, b.Type())
	if err != nil {
		return err
	}
	for _, c := range b.Children {
		if err := c.Encode(w); err != nil {
			return err
		}
	}
	return endBox(w, pos)
}

func (b *MovieBox) Header() *MovieHeaderBox {
	if v, ok := FindChild(b.Children, "mvhd").(*MovieHeaderBox); ok {
		return v
	}
	return nil
}

func (b *MovieBox) Tracks() []*TrackBox {
	var out []*TrackBox
	for _, c := range b.Children {
		if t, ok := c.(*TrackBox); ok {
			out = append(out, t)
		}
	}
	return out
}

// MovieHeaderBox (mvhd) carries the movie timescale and duration.
type MovieHeaderBox struct {
	FullBox
	CreationTime     uint64
	ModificationTime uint64
	Timescale        uint32
	Duration         uint64
	NextTrackID      uint32
}

func parseMovieHeaderBox(h Header, payload []byte) (Box, error) {
	r := bits.NewReader(payload)
	fb, err := parseFullBox(r)
	if err != nil {
		return nil, err
	}
	b := &MovieHeaderBox{FullBox: fb}
	if fb.Version == 1 {
		if b.CreationTime, err = r.ReadU64(); err != nil {
			return nil, err
		}
		if b.ModificationTime, err = r.ReadU64(); err != nil {
			return nil, err
		}
		if b.Timescale, err = r.ReadU32(); err != nil {
			return nil, err
		}
		if b.Duration, err = r.ReadU64(); err != nil {
			return nil, err
		}
	} else {
		ct, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		mt, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		if b.Timescale, err = r.ReadU32(); err != nil {
			return nil, err
		}
		d, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		b.CreationTime, b.ModificationTime, b.Duration = uint64(ct), uint64(mt), uint64(d)
	}
	// rate, volume, reserved, matrix, pre_defined
	if err := r.SkipBits((4 + 2 + 2 + 8 + 36 + 24) * 8); err != nil {
		return nil, err
	}
	if b.NextTrackID, err = r.ReadU32(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *MovieHeaderBox) Type() BoxType {
	return Type("mvhd")
}

var identityMatrix = []uint32{0x10000, 0, 0, 0, 0x10000, 0, 0, 0, 0x40000000}

func (b *MovieHeaderBox) Encode(w *bits.Writer) error {
	version := b.Version
	if b.Duration > 0xffffffff {
		version = 1
	}
	pos, err := beginFullBox(w, b.Type(), version, b.Flags)
	if err != nil {
		return err
	}
	if version == 1 {
		for _, v := range []uint64{b.CreationTime, b.ModificationTime} {
			if err := w.WriteU64(v); err != nil {
				return err
			}
		}
		if err := w.WriteU32(b.Timescale); err != nil {
			return err
		}
		if err := w.WriteU64(b.Duration); err != nil {
			return err
		}
	} else {
		for _, v := range []uint32{uint32(b.CreationTime), uint32(b.ModificationTime), b.Timescale, uint32(b.Duration)} {
			if err := w.WriteU32(v); err != nil {
				return err
			}
		}
	}
	if err := w.WriteU32(0x00010000); err != nil { // rate 1.0
		return err
	}
	if err := w.WriteU16(0x0100); err != nil { // volume 1.0
		return err
	}
	if err := w.WriteBytes(make([]byte, 2+8)); err != nil { // reserved
		return err
	}
	for _, v := range identityMatrix {
		if err := w.WriteU32(v); err != nil {
			return err
		}
	}
	if err := w.WriteBytes(make([]byte, 24)); err != nil { // pre_defined
		return err
	}
	if err := w.WriteU32(b.NextTrackID); err != nil {
		return err
	}
	return endBox(w, pos)
}

// TrackBox is one trak.
type TrackBox struct {
	Children []Box
}

func parseTrackBox(h Header, payload []byte) (Box, error) {
	children, err := ParseChildren(payload)
	if err != nil {
		return nil, err
	}
	return &TrackBox{Children: children}, nil
}

func (b *TrackBox) Type() BoxType {
	return Type("trak")
}

func (b *TrackBox) Encode(w *bits.Writer) error {
	pos, err := beginBox(w, b.Type())
	if err != nil {
		return err
	}
	for _, c := range b.Children {
		if err := c.Encode(w); err != nil {
			return err
		}
	}
	return endBox(w, pos)
}

func (b *TrackBox) Header() *TrackHeaderBox {
	if v, ok := FindChild(b.Children, "tkhd").(*TrackHeaderBox); ok {
		return v
	}
	return nil
}

func (b *TrackBox) Reference() *TrackReferenceBox {
	if v, ok := FindChild(b.Children, "tref").(*TrackReferenceBox); ok {
		return v
	}
	return nil
}

func (b *TrackBox) EditList() *EditListBox {
	edts, ok := FindChild(b.Children, "edts").(*ContainerBox)
	if !ok {
		return nil
	}
	if v, ok := FindChild(edts.Children, "elst").(*EditListBox); ok {
		return v
	}
	return nil
}

func (b *TrackBox) Media() *ContainerBox {
	if v, ok := FindChild(b.Children, "mdia").(*ContainerBox); ok {
		return v
	}
	return nil
}

func (b *TrackBox) MediaHeader() *MediaHeaderBox {
	mdia := b.Media()
	if mdia == nil {
		return nil
	}
	if v, ok := FindChild(mdia.Children, "mdhd").(*MediaHeaderBox); ok {
		return v
	}
	return nil
}

func (b *TrackBox) Handler() *HandlerBox {
	mdia := b.Media()
	if mdia == nil {
		return nil
	}
	if v, ok := FindChild(mdia.Children, "hdlr").(*HandlerBox); ok {
		return v
	}
	return nil
}

func (b *TrackBox) SampleTable() *SampleTableBox {
	mdia := b.Media()
	if mdia == nil {
		return nil
	}
	minf, ok := FindChild(mdia.Children, "minf").(*ContainerBox)
	if !ok {
		return nil
	}
	if v, ok := FindChild(minf.Children, "stbl").(*SampleTableBox); ok {
		return v
	}
	return nil
}

// TrackHeaderBox (tkhd). Width and height are 16.16 fixed point.
type TrackHeaderBox struct {
	FullBox
	CreationTime     uint64
	ModificationTime uint64
	TrackID          uint32
	Duration         uint64
	AlternateGroup   uint16
	Width            uint32
	Height           uint32
}

func parseTrackHeaderBox(h Header, payload []byte) (Box, error) {
	r := bits.NewReader(payload)
	fb, err := parseFullBox(r)
	if err != nil {
		return nil, err
	}
	b := &TrackHeaderBox{FullBox: fb}
	if fb.Version == 1 {
		if b.CreationTime, err = r.ReadU64(); err != nil {
			return nil, err
		}
		if b.ModificationTime, err = r.ReadU64(); err != nil {
			return nil, err
		}
		if b.TrackID, err = r.ReadU32(); err != nil {
			return nil, err
		}
		if _, err = r.ReadU32(); err != nil { // reserved
			return nil, err
		}
		if b.Duration, err = r.ReadU64(); err != nil {
			return nil, err
		}
	} else {
		ct, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		mt, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		if b.TrackID, err = r.ReadU32(); err != nil {
			return nil, err
		}
		if _, err = r.ReadU32(); err != nil { // reserved
			return nil, err
		}
		d, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		b.CreationTime, b.ModificationTime, b.Duration = uint64(ct), uint64(mt), uint64(d)
	}
	if err := r.SkipBits(8 * 8); err != nil { // reserved u32[2]
		return nil, err
	}
	if err := r.SkipBits(2 * 8); err != nil { // layer
		return nil, err
	}
	ag, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	b.AlternateGroup = ag
	if err := r.SkipBits((2 + 2 + 36) * 8); err != nil { // volume, reserved, matrix
		return nil, err
	}
	if b.Width, err = r.ReadU32(); err != nil {
		return nil, err
	}
	if b.Height, err = r.ReadU32(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *TrackHeaderBox) Type() BoxType {
	return Type("tkhd")
}

func (b *TrackHeaderBox) Encode(w *bits.Writer) error {
	version := b.Version
	if b.Duration > 0xffffffff {
		version = 1
	}
	pos, err := beginFullBox(w, b.Type(), version, b.Flags)
	if err != nil {
		return err
	}
	if version == 1 {
		if err := w.WriteU64(b.CreationTime); err != nil {
			return err
		}
		if err := w.WriteU64(b.ModificationTime); err != nil {
			return err
		}
		if err := w.WriteU32(b.TrackID); err != nil {
			return err
		}
		if err := w.WriteU32(0); err != nil {
			return err
		}
		if err := w.WriteU64(b.Duration); err != nil {
			return err
		}
	} else {
		for _, v := range []uint32{uint32(b.CreationTime), uint32(b.ModificationTime), b.TrackID, 0, uint32(b.Duration)} {
			if err := w.WriteU32(v); err != nil {
				return err
			}
		}
	}
	if err := w.WriteBytes(make([]byte, 8)); err != nil { // reserved
		return err
	}
	if err := w.WriteU16(0); err != nil { // layer
		return err
	}
	if err := w.WriteU16(b.AlternateGroup); err != nil {
		return err
	}
	if err := w.WriteBytes(make([]byte, 4)); err != nil { // volume + reserved
		return err
	}
	for _, v := range identityMatrix {
		if err := w.WriteU32(v); err != nil {
			return err
		}
	}
	if err := w.WriteU32(b.Width); err != nil {
		return err
	}
	if err := w.WriteU32(b.Height); err != nil {
		return err
	}
	return endBox(w, pos)
}

// TrackReference is one typed track-to-track edge set.
type TrackReference struct {
	ReferenceType string
	TrackIDs      []uint32
}

// TrackReferenceBox (tref).
type TrackReferenceBox struct {
	References []TrackReference
}

func parseTrackReferenceBox(h Header, payload []byte) (Box, error) {
	b := &TrackReferenceBox{}
	data := payload
	for len(data) > 0 {
		rh, err := ParseHeader(data)
		if err != nil {
			return nil, err
		}
		r := bits.NewReader(data[rh.HeaderSize:rh.Size])
		ref := TrackReference{ReferenceType: rh.BoxType.String()}
		for r.BytesLeft() >= 4 {
			id, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			ref.TrackIDs = append(ref.TrackIDs, id)
		}
		b.References = append(b.References, ref)
		data = data[rh.Size:]
	}
	return b, nil
}

func (b *TrackReferenceBox) Type() BoxType {
	return Type("tref")
}

func (b *TrackReferenceBox) Encode(w *bits.Writer) error {
	pos, err := beginBox(w, b.Type())
	if err != nil {
		return err
	}
	for _, ref := range b.References {
		rpos, err := beginBox(w, Type(ref.ReferenceType))
		if err != nil {
			return err
		}
		for _, id := range ref.TrackIDs {
			if err := w.WriteU32(id); err != nil {
				return err
			}
		}
		if err := endBox(w, rpos); err != nil {
			return err
		}
	}
	return endBox(w, pos)
}

func (b *TrackReferenceBox) TrackIDsOfType(refType string) []uint32 {
	var out []uint32
	for _, ref := range b.References {
		if ref.ReferenceType == refType {
			out = append(out, ref.TrackIDs...)
		}
	}
	return out
}

// EditEntry is the widened form of both elst entry versions.
type EditEntry struct {
	SegmentDuration   uint64 // movie timescale
	MediaTime         int64  // media timescale, -1 marks an empty edit
	MediaRateInteger  int16
	MediaRateFraction int16
}

// EditListBox (elst).
type EditListBox struct {
	FullBox
	Entries []EditEntry
}

func parseEditListBox(h Header, payload []byte) (Box, error) {
	r := bits.NewReader(payload)
	fb, err := parseFullBox(r)
	if err != nil {
		return nil, err
	}
	b := &EditListBox{FullBox: fb}
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < count; i++ {
		var e EditEntry
		if fb.Version == 1 {
			if e.SegmentDuration, err = r.ReadU64(); err != nil {
				return nil, err
			}
			mt, err := r.ReadU64()
			if err != nil {
				return nil, err
			}
			e.MediaTime = int64(mt)
		} else {
			sd, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			e.SegmentDuration = uint64(sd)
			mt, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			e.MediaTime = int64(int32(mt))
		}
		ri, err := r.ReadU16()
		if err != nil {
			return nil, err
		}
		e.MediaRateInteger = int16(ri)
		rf, err := r.ReadU16()
		if err != nil {
			return nil, err
		}
		e.MediaRateFraction = int16(rf)
		b.Entries = append(b.Entries, e)
	}
	return b, nil
}

func (b *EditListBox) Type() BoxType {
	return Type("elst")
}

func (b *EditListBox) Encode(w *bits.Writer) error {
	version := uint8(0)
	for _, e := range b.Entries {
		if e.SegmentDuration > 0xffffffff || e.MediaTime > 0x7fffffff {
			version = 1
		}
	}
	pos, err := beginFullBox(w, b.Type(), version, b.Flags)
	if err != nil {
		return err
	}
	if err := w.WriteU32(uint32(len(b.Entries))); err != nil {
		return err
	}
	for _, e := range b.Entries {
		if version == 1 {
			if err := w.WriteU64(e.SegmentDuration); err != nil {
				return err
			}
			if err := w.WriteU64(uint64(e.MediaTime)); err != nil {
				return err
			}
		} else {
			if err := w.WriteU32(uint32(e.SegmentDuration)); err != nil {
				return err
			}
			if err := w.WriteU32(uint32(int32(e.MediaTime))); err != nil {
				return err
			}
		}
		if err := w.WriteU16(uint16(e.MediaRateInteger)); err != nil {
			return err
		}
		if err := w.WriteU16(uint16(e.MediaRateFraction)); err != nil {
			return err
		}
	}
	return endBox(w, pos)
}

// MediaHeaderBox (mdhd) carries the media timescale.
type MediaHeaderBox struct {
	FullBox
	CreationTime     uint64
	ModificationTime uint64
	Timescale        uint32
	Duration         uint64
}

func parseMediaHeaderBox(h Header, payload []byte) (Box, error) {
	r := bits.NewReader(payload)
	fb, err := parseFullBox(r)
	if err != nil {
		return nil, err
	}
	b := &MediaHeaderBox{FullBox: fb}
	if fb.Version == 1 {
		if b.CreationTime, err = r.ReadU64(); err != nil {
			return nil, err
		}
		if b.ModificationTime, err = r.ReadU64(); err != nil {
			return nil, err
		}
		if b.Timescale, err = r.ReadU32(); err != nil {
			return nil, err
		}
		if b.Duration, err = r.ReadU64(); err != nil {
			return nil, err
		}
	} else {
		ct, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		mt, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		if b.Timescale, err = r.ReadU32(); err != nil {
			return nil, err
		}
		d, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		b.CreationTime, b.ModificationTime, b.Duration = uint64(ct), uint64(mt), uint64(d)
	}
	return b, nil
}

func (b *MediaHeaderBox) Type() BoxType {
	return Type("mdhd")
}

func (b *MediaHeaderBox) Encode(w *bits.Writer) error {
	version := b.Version
	if b.Duration > 0xffffffff {
		version = 1
	}
	pos, err := beginFullBox(w, b.Type(), version, b.Flags)
	if err != nil {
		return err
	}
	if version == 1 {
		for _, v := range []uint64{b.CreationTime, b.ModificationTime} {
			if err := w.WriteU64(v); err != nil {
				return err
			}
		}
		if err := w.WriteU32(b.Timescale); err != nil {
			return err
		}
		if err := w.WriteU64(b.Duration); err != nil {
			return err
		}
	} else {
		for _, v := range []uint32{uint32(b.CreationTime), uint32(b.ModificationTime), b.Timescale, uint32(b.Duration)} {
			if err := w.WriteU32(v); err != nil {
				return err
			}
		}
	}
	// language "und" + pre_defined
	if err := w.WriteU16(0x55c4); err != nil {
		return err
	}
	if err := w.WriteU16(0); err != nil {
		return err
	}
	return endBox(w, pos)
}

// VideoMediaHeaderBox (vmhd).
type VideoMediaHeaderBox struct {
	FullBox
}

func parseVideoMediaHeaderBox(h Header, payload []byte) (Box, error) {
	r := bits.NewReader(payload)
	fb, err := parseFullBox(r)
	if err != nil {
		return nil, err
	}
	return &VideoMediaHeaderBox{FullBox: fb}, nil
}

func (b *VideoMediaHeaderBox) Type() BoxType {
	return Type("vmhd")
}

func (b *VideoMediaHeaderBox) Encode(w *bits.Writer) error {
	pos, err := beginFullBox(w, b.Type(), b.Version, 1)
	if err != nil {
		return err
	}
	if err := w.WriteBytes(make([]byte, 8)); err != nil { // graphicsmode + opcolor
		return err
	}
	return endBox(w, pos)
}

// NullMediaHeaderBox (nmhd) for metadata tracks.
type NullMediaHeaderBox struct {
	FullBox
}

func parseNullMediaHeaderBox(h Header, payload []byte) (Box, error) {
	r := bits.NewReader(payload)
	fb, err := parseFullBox(r)
	if err != nil {
		return nil, err
	}
	return &NullMediaHeaderBox{FullBox: fb}, nil
}

func (b *NullMediaHeaderBox) Type() BoxType {
	return Type("nmhd")
}

func (b *NullMediaHeaderBox) Encode(w *bits.Writer) error {
	pos, err := beginFullBox(w, b.Type(), b.Version, b.Flags)
	if err != nil {
		return err
	}
	return endBox(w, pos)
}
