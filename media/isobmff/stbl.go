package isobmff

import (
	"github.com/bugVanisher/heif/common/errs"
	"github.com/bugVanisher/heif/utils/bits"
)

func init() {
	register("stbl", parseSampleTableBox)
	register("stsd", parseSampleDescriptionBox)
	register("stts", parseTimeToSampleBox)
	register("ctts", parseCompositionOffsetBox)
	register("cslg", parseCompositionToDecodeBox)
	register("stsc", parseSampleToChunkBox)
	register("stco", parseChunkOffsetBox)
	register("co64", parseChunkLargeOffsetBox)
	register("stsz", parseSampleSizeBox)
	register("stz2", parseCompactSampleSizeBox)
	register("stss", parseSyncSampleBox)
	register("sbgp", parseSampleToGroupBox)
	register("sgpd", parseSampleGroupDescriptionBox)
	register("ccst", parseCodingConstraintsBox)
	for _, tag := range []string{"hvc1", "hev1", "avc1", "avc3", "lhv1", "lhe1"} {
		register(tag, parseVisualSampleEntry(tag))
	}
	for _, tag := range []string{"mett", "tmet"} {
		register(tag, parseMetadataSampleEntry(tag))
	}
}

// SampleTableBox is the stbl container with typed accessors.
type SampleTableBox struct {
	Children []Box
}

func parseSampleTableBox(h Header, payload []byte) (Box, error) {
	children, err := ParseChildren(payload)
	if err != nil {
		return nil, err
	}
	return &SampleTableBox{Children: children}, nil
}

func (b *SampleTableBox) Type() BoxType {
	return Type("stbl")
}

func (b *SampleTableBox) Encode(w *bits.Writer) error {
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

func (b *SampleTableBox) SampleDescription() *SampleDescriptionBox {
	if v, ok := FindChild(b.Children, "stsd").(*SampleDescriptionBox); ok {
		return v
	}
	return nil
}

func (b *SampleTableBox) TimeToSample() *TimeToSampleBox {
	if v, ok := FindChild(b.Children, "stts").(*TimeToSampleBox); ok {
		return v
	}
	return nil
}

func (b *SampleTableBox) CompositionOffset() *CompositionOffsetBox {
	if v, ok := FindChild(b.Children, "ctts").(*CompositionOffsetBox); ok {
		return v
	}
	return nil
}

func (b *SampleTableBox) CompositionToDecode() *CompositionToDecodeBox {
	if v, ok := FindChild(b.Children, "cslg").(*CompositionToDecodeBox); ok {
		return v
	}
	return nil
}

func (b *SampleTableBox) SampleToChunk() *SampleToChunkBox {
	if v, ok := FindChild(b.Children, "stsc").(*SampleToChunkBox); ok {
		return v
	}
	return nil
}

func (b *SampleTableBox) ChunkOffsets() *ChunkOffsetBox {
	if v, ok := FindChild(b.Children, "stco").(*ChunkOffsetBox); ok {
		return v
	}
	if v, ok := FindChild(b.Children, "co64").(*ChunkOffsetBox); ok {
		return v
	}
	return nil
}

func (b *SampleTableBox) SampleSizes() *SampleSizeBox {
	if v, ok := FindChild(b.Children, "stsz").(*SampleSizeBox); ok {
		return v
	}
	if v, ok := FindChild(b.Children, "stz2").(*SampleSizeBox); ok {
		return v
	}
	return nil
}

func (b *SampleTableBox) SyncSamples() *SyncSampleBox {
	if v, ok := FindChild(b.Children, "stss").(*SyncSampleBox); ok {
		return v
	}
	return nil
}

func (b *SampleTableBox) SampleToGroups() []*SampleToGroupBox {
	var out []*SampleToGroupBox
	for _, c := range b.Children {
		if v, ok := c.(*SampleToGroupBox); ok {
			out = append(out, v)
		}
	}
	return out
}

func (b *SampleTableBox) SampleGroupDescriptions() []*SampleGroupDescriptionBox {
	var out []*SampleGroupDescriptionBox
	for _, c := range b.Children {
		if v, ok := c.(*SampleGroupDescriptionBox); ok {
			out = append(out, v)
		}
	}
	return out
}

// SampleDescriptionBox (stsd) lists codec-specific sample entries.
type SampleDescriptionBox struct {
	FullBox
	Entries []Box
}

func parseSampleDescriptionBox(h Header, payload []byte) (Box, error) {
	r := bits.NewReader(payload)
	fb, err := parseFullBox(r)
	if err != nil {
		return nil, err
	}
	if _, err := r.ReadU32(); err != nil { // entry_count
		return nil, err
	}
	entries, err := ParseChildren(payload[r.Pos():])
	if err != nil {
		return nil, err
	}
	return &SampleDescriptionBox{FullBox: fb, Entries: entries}, nil
}

func (b *SampleDescriptionBox) Type() BoxType {
	return Type("stsd")
}

func (b *SampleDescriptionBox) Encode(w *bits.Writer) error {
	pos, err := beginFullBox(w, b.Type(), b.Version, b.Flags)
	if err != nil {
		return err
	}
	if err := w.WriteU32(uint32(len(b.Entries))); err != nil {
		return err
	}
	for _, e := range b.Entries {
		if err := e.Encode(w); err != nil {
			return err
		}
	}
	return endBox(w, pos)
}

// Entry resolves a 1-based sample description index.
func (b *SampleDescriptionBox) Entry(index uint32) (Box, error) {
	if index == 0 || index > uint32(len(b.Entries)) {
		return nil, errs.ErrInvalidSampleDescriptionIndex
	}
	return b.Entries[index-1], nil
}

// VisualSampleEntry is the shared layout of the coded video sample entries
// (hvc1, hev1, avc1, avc3, lhv1, lhe1). Decoder configuration and other
// per-entry boxes are children.
type VisualSampleEntry struct {
	Tag                BoxType
	DataReferenceIndex uint16
	Width              uint16
	Height             uint16
	CompressorName     string
	Children           []Box
}

func parseVisualSampleEntry(tag string) parseFunc {
	return func(h Header, payload []byte) (Box, error) {
		r := bits.NewReader(payload)
		if err := r.SkipBits(6 * 8); err != nil { // reserved
			return nil, err
		}
		b := &VisualSampleEntry{Tag: Type(tag)}
		var err error
		if b.DataReferenceIndex, err = r.ReadU16(); err != nil {
			return nil, err
		}
		if err := r.SkipBits(16 * 8); err != nil { // pre_defined + reserved
			return nil, err
		}
		if b.Width, err = r.ReadU16(); err != nil {
			return nil, err
		}
		if b.Height, err = r.ReadU16(); err != nil {
			return nil, err
		}
		if err := r.SkipBits((4 + 4 + 4 + 2) * 8); err != nil { // resolutions, reserved, frame_count
			return nil, err
		}
		name, err := r.ReadBytes(32)
		if err != nil {
			return nil, err
		}
		nameLen := int(name[0])
		if nameLen > 31 {
			nameLen = 31
		}
		b.CompressorName = string(name[1 : 1+nameLen])
		if err := r.SkipBits((2 + 2) * 8); err != nil { // depth + pre_defined
			return nil, err
		}
		if b.Children, err = ParseChildren(payload[r.Pos():]); err != nil {
			return nil, err
		}
		return b, nil
	}
}

func (b *VisualSampleEntry) Type() BoxType {
	return b.Tag
}

func (b *VisualSampleEntry) Encode(w *bits.Writer) error {
	pos, err := beginBox(w, b.Tag)
	if err != nil {
		return err
	}
	if err := w.WriteBytes(make([]byte, 6)); err != nil {
		return err
	}
	if err := w.WriteU16(b.DataReferenceIndex); err != nil {
		return err
	}
	if err := w.WriteBytes(make([]byte, 16)); err != nil {
		return err
	}
	if err := w.WriteU16(b.Width); err != nil {
		return err
	}
	if err := w.WriteU16(b.Height); err != nil {
		return err
	}
	if err := w.WriteU32(0x00480000); err != nil { // horizresolution 72 dpi
		return err
	}
	if err := w.WriteU32(0x00480000); err != nil {
		return err
	}
	if err := w.WriteU32(0); err != nil { // reserved
		return err
	}
	if err := w.WriteU16(1); err != nil { // frame_count
		return err
	}
	name := make([]byte, 32)
	n := len(b.CompressorName)
	if n > 31 {
		n = 31
	}
	name[0] = byte(n)
	copy(name[1:], b.CompressorName[:n])
	if err := w.WriteBytes(name); err != nil {
		return err
	}
	if err := w.WriteU16(0x0018); err != nil { // depth
		return err
	}
	if err := w.WriteU16(0xffff); err != nil { // pre_defined -1
		return err
	}
	for _, c := range b.Children {
		if err := c.Encode(w); err != nil {
			return err
		}
	}
	return endBox(w, pos)
}

// ConfigBox returns the entry's decoder configuration child, if any.
func (b *VisualSampleEntry) ConfigBox() Box {
	for _, tag := range []string{"hvcC", "avcC", "lhvC"} {
		if c := FindChild(b.Children, tag); c != nil {
			return c
		}
	}
	return nil
}

// MetadataSampleEntry covers mett and tmet entries.
type MetadataSampleEntry struct {
	Tag                BoxType
	DataReferenceIndex uint16
	ContentEncoding    string
	MimeFormat         string
}

func parseMetadataSampleEntry(tag string) parseFunc {
	return func(h Header, payload []byte) (Box, error) {
		r := bits.NewReader(payload)
		if err := r.SkipBits(6 * 8); err != nil {
			return nil, err
		}
		b := &MetadataSampleEntry{Tag: Type(tag)}
		var err error
		if b.DataReferenceIndex, err = r.ReadU16(); err != nil {
			return nil, err
		}
		if r.BytesLeft() > 0 {
			if b.ContentEncoding, err = r.ReadString(); err != nil {
				return nil, err
			}
		}
		if r.BytesLeft() > 0 {
			if b.MimeFormat, err = r.ReadString(); err != nil {
				return nil, err
			}
		}
		return b, nil
	}
}

func (b *MetadataSampleEntry) Type() BoxType {
	return b.Tag
}

func (b *MetadataSampleEntry) Encode(w *bits.Writer) error {
	pos, err := beginBox(w, b.Tag)
	if err != nil {
		return err
	}
	if err := w.WriteBytes(make([]byte, 6)); err != nil {
		return err
	}
	if err := w.WriteU16(b.DataReferenceIndex); err != nil {
		return err
	}
	if err := w.WriteString(b.ContentEncoding); err != nil {
		return err
	}
	if err := w.WriteString(b.MimeFormat); err != nil {
		return err
	}
	return endBox(w, pos)
}

// CodingConstraintsBox (ccst) follows a sample entry in image sequences.
type CodingConstraintsBox struct {
	FullBox
	AllRefPicsIntra bool
	IntraPredUsed   bool
	MaxRefPerPic    uint8
}

func parseCodingConstraintsBox(h Header, payload []byte) (Box, error) {
	r := bits.NewReader(payload)
	fb, err := parseFullBox(r)
	if err != nil {
		return nil, err
	}
	v, err := r.ReadBits(8)
	if err != nil {
		return nil, err
	}
	return &CodingConstraintsBox{
		FullBox:         fb,
		AllRefPicsIntra: v>>7 == 1,
		IntraPredUsed:   v>>6&1 == 1,
		MaxRefPerPic:    uint8(v >> 2 & 0xf),
	}, nil
}

func (b *CodingConstraintsBox) Type() BoxType {
	return Type("ccst")
}

func (b *CodingConstraintsBox) Encode(w *bits.Writer) error {
	pos, err := beginFullBox(w, b.Type(), b.Version, b.Flags)
	if err != nil {
		return err
	}
	var v uint32
	if b.AllRefPicsIntra {
		v |= 1 << 7
	}
	if b.IntraPredUsed {
		v |= 1 << 6
	}
	v |= uint32(b.MaxRefPerPic&0xf) << 2
	w.WriteBits(v, 8)
	if err := w.WriteBytes(make([]byte, 3)); err != nil { // reserved
		return err
	}
	return endBox(w, pos)
}

// TimeToSampleEntry is one stts run.
type TimeToSampleEntry struct {
	SampleCount uint32
	SampleDelta uint32
}

// TimeToSampleBox (stts).
type TimeToSampleBox struct {
	FullBox
	Entries []TimeToSampleEntry
}

func parseTimeToSampleBox(h Header, payload []byte) (Box, error) {
	r := bits.NewReader(payload)
	fb, err := parseFullBox(r)
	if err != nil {
		return nil, err
	}
	b := &TimeToSampleBox{FullBox: fb}
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < count; i++ {
		var e TimeToSampleEntry
		if e.SampleCount, err = r.ReadU32(); err != nil {
			return nil, err
		}
		if e.SampleDelta, err = r.ReadU32(); err != nil {
			return nil, err
		}
		b.Entries = append(b.Entries, e)
	}
	return b, nil
}

func (b *TimeToSampleBox) Type() BoxType {
	return Type("stts")
}

func (b *TimeToSampleBox) Encode(w *bits.Writer) error {
	pos, err := beginFullBox(w, b.Type(), b.Version, b.Flags)
	if err != nil {
		return err
	}
	if err := w.WriteU32(uint32(len(b.Entries))); err != nil {
		return err
	}
	for _, e := range b.Entries {
		if err := w.WriteU32(e.SampleCount); err != nil {
			return err
		}
		if err := w.WriteU32(e.SampleDelta); err != nil {
			return err
		}
	}
	return endBox(w, pos)
}

// SampleDeltas expands the run-length table to one delta per sample. The
// summed count is bounded to keep a malformed file from exhausting memory.
func (b *TimeToSampleBox) SampleDeltas() ([]uint32, error) {
	var total uint64
	for _, e := range b.Entries {
		total += uint64(e.SampleCount)
		if total >= 1<<32 {
			return nil, errs.Wrapf(errs.ErrMalformedBitstream, "stts sample count overflows")
		}
	}
	deltas := make([]uint32, 0, total)
	for _, e := range b.Entries {
		for i := uint32(0); i < e.SampleCount; i++ {
			deltas = append(deltas, e.SampleDelta)
		}
	}
	return deltas, nil
}

// CompositionOffsetBox (ctts). Offsets are widened to int64 so both entry
// versions share one form.
type CompositionOffsetBox struct {
	FullBox
	SampleCounts []uint32
	Offsets      []int64
}

func parseCompositionOffsetBox(h Header, payload []byte) (Box, error) {
	r := bits.NewReader(payload)
	fb, err := parseFullBox(r)
	if err != nil {
		return nil, err
	}
	b := &CompositionOffsetBox{FullBox: fb}
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < count; i++ {
		sc, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		off, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		b.SampleCounts = append(b.SampleCounts, sc)
		if fb.Version == 0 {
			b.Offsets = append(b.Offsets, int64(off))
		} else {
			b.Offsets = append(b.Offsets, int64(int32(off)))
		}
	}
	return b, nil
}

func (b *CompositionOffsetBox) Type() BoxType {
	return Type("ctts")
}

func (b *CompositionOffsetBox) Encode(w *bits.Writer) error {
	version := uint8(0)
	for _, off := range b.Offsets {
		if off < 0 {
			version = 1
		}
	}
	pos, err := beginFullBox(w, b.Type(), version, b.Flags)
	if err != nil {
		return err
	}
	if err := w.WriteU32(uint32(len(b.SampleCounts))); err != nil {
		return err
	}
	for i, sc := range b.SampleCounts {
		if err := w.WriteU32(sc); err != nil {
			return err
		}
		if err := w.WriteU32(uint32(int32(b.Offsets[i]))); err != nil {
			return err
		}
	}
	return endBox(w, pos)
}

// SampleOffsets expands the run-length table to one offset per sample.
func (b *CompositionOffsetBox) SampleOffsets() ([]int64, error) {
	var total uint64
	for _, sc := range b.SampleCounts {
		total += uint64(sc)
		if total >= 1<<32 {
			return nil, errs.Wrapf(errs.ErrMalformedBitstream, "ctts sample count overflows")
		}
	}
	offsets := make([]int64, 0, total)
	for i, sc := range b.SampleCounts {
		for n := uint32(0); n < sc; n++ {
			offsets = append(offsets, b.Offsets[i])
		}
	}
	return offsets, nil
}

// CompositionToDecodeBox (cslg).
type CompositionToDecodeBox struct {
	FullBox
	CompositionToDtsShift        int64
	LeastDecodeToDisplayDelta    int64
	GreatestDecodeToDisplayDelta int64
	CompositionStartTime         int64
	CompositionEndTime           int64
}

func parseCompositionToDecodeBox(h Header, payload []byte) (Box, error) {
	r := bits.NewReader(payload)
	fb, err := parseFullBox(r)
	if err != nil {
		return nil, err
	}
	b := &CompositionToDecodeBox{FullBox: fb}
	read := func() (int64, error) {
		if fb.Version == 0 {
			v, err := r.ReadU32()
			return int64(int32(v)), err
		}
		v, err := r.ReadU64()
		return int64(v), err
	}
	for _, dst := range []*int64{
		&b.CompositionToDtsShift, &b.LeastDecodeToDisplayDelta,
		&b.GreatestDecodeToDisplayDelta, &b.CompositionStartTime, &b.CompositionEndTime,
	} {
		if *dst, err = read(); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (b *CompositionToDecodeBox) Type() BoxType {
	return Type("cslg")
}

func (b *CompositionToDecodeBox) Encode(w *bits.Writer) error {
	pos, err := beginFullBox(w, b.Type(), 0, b.Flags)
	if err != nil {
		return err
	}
	for _, v := range []int64{
		b.CompositionToDtsShift, b.LeastDecodeToDisplayDelta,
		b.GreatestDecodeToDisplayDelta, b.CompositionStartTime, b.CompositionEndTime,
	} {
		if err := w.WriteU32(uint32(int32(v))); err != nil {
			return err
		}
	}
	return endBox(w, pos)
}

// SampleToChunkEntry is one stsc run.
type SampleToChunkEntry struct {
	FirstChunk             uint32
	SamplesPerChunk        uint32
	SampleDescriptionIndex uint32
}

// SampleToChunkBox (stsc).
type SampleToChunkBox struct {
	FullBox
	Entries []SampleToChunkEntry
}

func parseSampleToChunkBox(h Header, payload []byte) (Box, error) {
	r := bits.NewReader(payload)
	fb, err := parseFullBox(r)
	if err != nil {
		return nil, err
	}
	b := &SampleToChunkBox{FullBox: fb}
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < count; i++ {
		var e SampleToChunkEntry
		if e.FirstChunk, err = r.ReadU32(); err != nil {
			return nil, err
		}
		if e.SamplesPerChunk, err = r.ReadU32(); err != nil {
			return nil, err
		}
		if e.SampleDescriptionIndex, err = r.ReadU32(); err != nil {
			return nil, err
		}
		b.Entries = append(b.Entries, e)
	}
	return b, nil
}

func (b *SampleToChunkBox) Type() BoxType {
	return Type("stsc")
}

func (b *SampleToChunkBox) Encode(w *bits.Writer) error {
	pos, err := beginFullBox(w, b.Type(), b.Version, b.Flags)
	if err != nil {
		return err
	}
	if err := w.WriteU32(uint32(len(b.Entries))); err != nil {
		return err
	}
	for _, e := range b.Entries {
		if err := w.WriteU32(e.FirstChunk); err != nil {
			return err
		}
		if err := w.WriteU32(e.SamplesPerChunk); err != nil {
			return err
		}
		if err := w.WriteU32(e.SampleDescriptionIndex); err != nil {
			return err
		}
	}
	return endBox(w, pos)
}

// ChunkAndDescription locates one sample's chunk without materializing a
// per-sample table.
type ChunkAndDescription struct {
	ChunkIndex             uint32 // 1-based
	IndexInChunk           uint32
	SampleDescriptionIndex uint32
}

// Locate resolves sampleIndex (0-based) against the run-length table.
// chunkCount bounds the last run.
func (b *SampleToChunkBox) Locate(sampleIndex uint32, chunkCount uint32) (ChunkAndDescription, error) {
	var consumed uint64
	for i, e := range b.Entries {
		lastChunk := chunkCount + 1
		if i+1 < len(b.Entries) {
			lastChunk = b.Entries[i+1].FirstChunk
		}
		if e.FirstChunk == 0 || lastChunk < e.FirstChunk {
			return ChunkAndDescription{}, errs.Wrapf(errs.ErrMalformedBitstream, "stsc chunk runs not increasing")
		}
		runChunks := uint64(lastChunk - e.FirstChunk)
		runSamples := runChunks * uint64(e.SamplesPerChunk)
		if uint64(sampleIndex) < consumed+runSamples {
			within := uint64(sampleIndex) - consumed
			if e.SamplesPerChunk == 0 {
				return ChunkAndDescription{}, errs.Wrapf(errs.ErrMalformedBitstream, "stsc zero samples per chunk")
			}
			return ChunkAndDescription{
				ChunkIndex:             e.FirstChunk + uint32(within/uint64(e.SamplesPerChunk)),
				IndexInChunk:           uint32(within % uint64(e.SamplesPerChunk)),
				SampleDescriptionIndex: e.SampleDescriptionIndex,
			}, nil
		}
		consumed += runSamples
	}
	return ChunkAndDescription{}, errs.Wrapf(errs.ErrMalformedBitstream, "sample %d beyond stsc runs", sampleIndex)
}

// ChunkOffsetBox covers both stco and co64. Offsets are widened to u64; the
// encoder picks co64 when an offset needs it or when the box was read from
// co64 (Large).
type ChunkOffsetBox struct {
	FullBox
	Large   bool
	Offsets []uint64
}

func parseChunkOffsetBox(h Header, payload []byte) (Box, error) {
	r := bits.NewReader(payload)
	fb, err := parseFullBox(r)
	if err != nil {
		return nil, err
	}
	b := &ChunkOffsetBox{FullBox: fb}
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < count; i++ {
		v, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		b.Offsets = append(b.Offsets, uint64(v))
	}
	return b, nil
}

func parseChunkLargeOffsetBox(h Header, payload []byte) (Box, error) {
	r := bits.NewReader(payload)
	fb, err := parseFullBox(r)
	if err != nil {
		return nil, err
	}
	b := &ChunkOffsetBox{FullBox: fb, Large: true}
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < count; i++ {
		v, err := r.ReadU64()
		if err != nil {
			return nil, err
		}
		b.Offsets = append(b.Offsets, v)
	}
	return b, nil
}

func (b *ChunkOffsetBox) Type() BoxType {
	if b.needsLarge() {
		return Type("co64")
	}
	return Type("stco")
}

func (b *ChunkOffsetBox) needsLarge() bool {
	if b.Large {
		return true
	}
	for _, off := range b.Offsets {
		if off > 0xffffffff {
			return true
		}
	}
	return false
}

func (b *ChunkOffsetBox) Encode(w *bits.Writer) error {
	large := b.needsLarge()
	pos, err := beginFullBox(w, b.Type(), b.Version, b.Flags)
	if err != nil {
		return err
	}
	if err := w.WriteU32(uint32(len(b.Offsets))); err != nil {
		return err
	}
	for _, off := range b.Offsets {
		if large {
			if err := w.WriteU64(off); err != nil {
				return err
			}
		} else {
			if err := w.WriteU32(uint32(off)); err != nil {
				return err
			}
		}
	}
	return endBox(w, pos)
}

// SampleSizeBox covers stsz and the stz2 compact form.
type SampleSizeBox struct {
	FullBox
	Compact     bool
	FieldSize   uint8 // stz2 only: 4, 8 or 16
	UniformSize uint32
	SampleCount uint32
	Sizes       []uint32 // empty when UniformSize != 0
}

func parseSampleSizeBox(h Header, payload []byte) (Box, error) {
	r := bits.NewReader(payload)
	fb, err := parseFullBox(r)
	if err != nil {
		return nil, err
	}
	b := &SampleSizeBox{FullBox: fb}
	if b.UniformSize, err = r.ReadU32(); err != nil {
		return nil, err
	}
	if b.SampleCount, err = r.ReadU32(); err != nil {
		return nil, err
	}
	if b.UniformSize == 0 {
		for i := uint32(0); i < b.SampleCount; i++ {
			v, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			b.Sizes = append(b.Sizes, v)
		}
	}
	return b, nil
}

func parseCompactSampleSizeBox(h Header, payload []byte) (Box, error) {
	r := bits.NewReader(payload)
	fb, err := parseFullBox(r)
	if err != nil {
		return nil, err
	}
	b := &SampleSizeBox{FullBox: fb, Compact: true}
	if _, err := r.ReadU24(); err != nil { // reserved
		return nil, err
	}
	fieldSize, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	if fieldSize != 4 && fieldSize != 8 && fieldSize != 16 {
		return nil, errs.Wrapf(errs.ErrMalformedBitstream, "stz2 field size %d", fieldSize)
	}
	b.FieldSize = fieldSize
	if b.SampleCount, err = r.ReadU32(); err != nil {
		return nil, err
	}
	for i := uint32(0); i < b.SampleCount; i++ {
		v, err := r.ReadBits(int(fieldSize))
		if err != nil {
			return nil, err
		}
		b.Sizes = append(b.Sizes, v)
	}
	return b, nil
}

func (b *SampleSizeBox) Type() BoxType {
	if b.Compact {
		return Type("stz2")
	}
	return Type("stsz")
}

func (b *SampleSizeBox) Encode(w *bits.Writer) error {
	pos, err := beginFullBox(w, b.Type(), b.Version, b.Flags)
	if err != nil {
		return err
	}
	if b.Compact {
		if err := w.WriteU24(0); err != nil {
			return err
		}
		if err := w.WriteU8(b.FieldSize); err != nil {
			return err
		}
		if err := w.WriteU32(b.SampleCount); err != nil {
			return err
		}
		for _, v := range b.Sizes {
			w.WriteBits(v, int(b.FieldSize))
		}
		if b.FieldSize == 4 && len(b.Sizes)%2 == 1 {
			w.WriteBits(0, 4)
		}
	} else {
		if err := w.WriteU32(b.UniformSize); err != nil {
			return err
		}
		if err := w.WriteU32(b.SampleCount); err != nil {
			return err
		}
		if b.UniformSize == 0 {
			for _, v := range b.Sizes {
				if err := w.WriteU32(v); err != nil {
					return err
				}
			}
		}
	}
	return endBox(w, pos)
}

// SizeOf reports the byte size of a 0-based sample.
func (b *SampleSizeBox) SizeOf(sampleIndex uint32) (uint32, error) {
	if sampleIndex >= b.SampleCount {
		return 0, errs.Wrapf(errs.ErrMalformedBitstream, "sample %d beyond stsz count %d", sampleIndex, b.SampleCount)
	}
	if b.UniformSize != 0 {
		return b.UniformSize, nil
	}
	return b.Sizes[sampleIndex], nil
}

// SyncSampleBox (stss) lists sync samples by 1-based number.
type SyncSampleBox struct {
	FullBox
	SampleNumbers []uint32
}

func parseSyncSampleBox(h Header, payload []byte) (Box, error) {
	r := bits.NewReader(payload)
	fb, err := parseFullBox(r)
	if err != nil {
		return nil, err
	}
	b := &SyncSampleBox{FullBox: fb}
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < count; i++ {
		v, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		b.SampleNumbers = append(b.SampleNumbers, v)
	}
	return b, nil
}

func (b *SyncSampleBox) Type() BoxType {
	return Type("stss")
}

func (b *SyncSampleBox) Encode(w *bits.Writer) error {
	pos, err := beginFullBox(w, b.Type(), b.Version, b.Flags)
	if err != nil {
		return err
	}
	if err := w.WriteU32(uint32(len(b.SampleNumbers))); err != nil {
		return err
	}
	for _, v := range b.SampleNumbers {
		if err := w.WriteU32(v); err != nil {
			return err
		}
	}
	return endBox(w, pos)
}

// SampleToGroupEntry is one sbgp run.
type SampleToGroupEntry struct {
	SampleCount           uint32
	GroupDescriptionIndex uint32
}

// SampleToGroupBox (sbgp).
type SampleToGroupBox struct {
	FullBox
	GroupingType          string
	GroupingTypeParameter uint32
	Entries               []SampleToGroupEntry
}

func parseSampleToGroupBox(h Header, payload []byte) (Box, error) {
	r := bits.NewReader(payload)
	fb, err := parseFullBox(r)
	if err != nil {
		return nil, err
	}
	b := &SampleToGroupBox{FullBox: fb}
	gt, err := r.ReadBytes(4)
	if err != nil {
		return nil, err
	}
	b.GroupingType = string(gt)
	if fb.Version == 1 {
		if b.GroupingTypeParameter, err = r.ReadU32(); err != nil {
			return nil, err
		}
	}
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < count; i++ {
		var e SampleToGroupEntry
		if e.SampleCount, err = r.ReadU32(); err != nil {
			return nil, err
		}
		if e.GroupDescriptionIndex, err = r.ReadU32(); err != nil {
			return nil, err
		}
		b.Entries = append(b.Entries, e)
	}
	return b, nil
}

func (b *SampleToGroupBox) Type() BoxType {
	return Type("sbgp")
}

func (b *SampleToGroupBox) Encode(w *bits.Writer) error {
	pos, err := beginFullBox(w, b.Type(), b.Version, b.Flags)
	if err != nil {
		return err
	}
	groupingType := Type(b.GroupingType)
	if err := w.WriteBytes(groupingType[:]); err != nil {
		return err
	}
	if b.Version == 1 {
		if err := w.WriteU32(b.GroupingTypeParameter); err != nil {
			return err
		}
	}
	if err := w.WriteU32(uint32(len(b.Entries))); err != nil {
		return err
	}
	for _, e := range b.Entries {
		if err := w.WriteU32(e.SampleCount); err != nil {
			return err
		}
		if err := w.WriteU32(e.GroupDescriptionIndex); err != nil {
			return err
		}
	}
	return endBox(w, pos)
}

// SampleGroupIndices expands the run-length table to a per-sample vector of
// 1-based group description indexes (0 = no group).
func (b *SampleToGroupBox) SampleGroupIndices() ([]uint32, error) {
	var total uint64
	for _, e := range b.Entries {
		total += uint64(e.SampleCount)
		if total >= 1<<32 {
			return nil, errs.Wrapf(errs.ErrMalformedBitstream, "sbgp sample count overflows")
		}
	}
	out := make([]uint32, 0, total)
	for _, e := range b.Entries {
		for i := uint32(0); i < e.SampleCount; i++ {
			out = append(out, e.GroupDescriptionIndex)
		}
	}
	return out, nil
}

// DirectReferenceSamplesEntry is one 'refs' sgpd entry: a sample and the
// decode-order samples it references.
type DirectReferenceSamplesEntry struct {
	SampleID                 uint32
	DirectReferenceSampleIDs []uint32
}

// SampleGroupDescriptionBox (sgpd). The 'refs' grouping is decoded; other
// groupings keep opaque entry payloads.
type SampleGroupDescriptionBox struct {
	FullBox
	GroupingType         string
	DefaultLength        uint32
	ReferenceEntries     []DirectReferenceSamplesEntry
	OpaqueEntries        [][]byte
}

func parseSampleGroupDescriptionBox(h Header, payload []byte) (Box, error) {
	r := bits.NewReader(payload)
	fb, err := parseFullBox(r)
	if err != nil {
		return nil, err
	}
	b := &SampleGroupDescriptionBox{FullBox: fb}
	gt, err := r.ReadBytes(4)
	if err != nil {
		return nil, err
	}
	b.GroupingType = string(gt)
	if fb.Version == 1 {
		if b.DefaultLength, err = r.ReadU32(); err != nil {
			return nil, err
		}
	}
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < count; i++ {
		length := b.DefaultLength
		if fb.Version == 1 && b.DefaultLength == 0 {
			if length, err = r.ReadU32(); err != nil {
				return nil, err
			}
		}
		if b.GroupingType == "refs" {
			sampleID, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			refCount, err := r.ReadU8()
			if err != nil {
				return nil, err
			}
			entry := DirectReferenceSamplesEntry{SampleID: sampleID}
			for n := uint8(0); n < refCount; n++ {
				id, err := r.ReadU32()
				if err != nil {
					return nil, err
				}
				entry.DirectReferenceSampleIDs = append(entry.DirectReferenceSampleIDs, id)
			}
			b.ReferenceEntries = append(b.ReferenceEntries, entry)
		} else {
			if length == 0 {
				length = uint32(r.BytesLeft())
			}
			data, err := r.ReadBytes(int(length))
			if err != nil {
				return nil, err
			}
			b.OpaqueEntries = append(b.OpaqueEntries, data)
		}
	}
	return b, nil
}

func (b *SampleGroupDescriptionBox) Type() BoxType {
	return Type("sgpd")
}

func (b *SampleGroupDescriptionBox) Encode(w *bits.Writer) error {
	pos, err := beginFullBox(w, b.Type(), b.Version, b.Flags)
	if err != nil {
		return err
	}
	groupingType := Type(b.GroupingType)
	if err := w.WriteBytes(groupingType[:]); err != nil {
		return err
	}
	if b.Version == 1 {
		if err := w.WriteU32(b.DefaultLength); err != nil {
			return err
		}
	}
	if b.GroupingType == "refs" {
		if err := w.WriteU32(uint32(len(b.ReferenceEntries))); err != nil {
			return err
		}
		for _, e := range b.ReferenceEntries {
			if b.Version == 1 && b.DefaultLength == 0 {
				if err := w.WriteU32(uint32(4 + 1 + 4*len(e.DirectReferenceSampleIDs))); err != nil {
					return err
				}
			}
			if err := w.WriteU32(e.SampleID); err != nil {
				return err
			}
			if err := w.WriteU8(uint8(len(e.DirectReferenceSampleIDs))); err != nil {
				return err
			}
			for _, id := range e.DirectReferenceSampleIDs {
				if err := w.WriteU32(id); err != nil {
					return err
				}
			}
		}
	} else {
		if err := w.WriteU32(uint32(len(b.OpaqueEntries))); err != nil {
			return err
		}
		for _, e := range b.OpaqueEntries {
			if b.Version == 1 && b.DefaultLength == 0 {
				if err := w.WriteU32(uint32(len(e))); err != nil {
					return err
				}
			}
			if err := w.WriteBytes(e); err != nil {
				return err
			}
		}
	}
	return endBox(w, pos)
}
