// Package isobmff implements the ISO base media box framework and the box
// types the HEIF brand family uses: the meta-box item graph, the movie-box
// sample tables, and the codec decoder-configuration records.
package isobmff

import (
	"github.com/rs/zerolog/log"

	"github.com/bugVanisher/heif/common/errs"
	"github.com/bugVanisher/heif/utils/bits"
	"github.com/bugVanisher/heif/utils/bits/pio"
)

// BoxType is a 4-byte box tag.
type BoxType [4]byte

func Type(s string) BoxType {
	var t BoxType
	copy(t[:], s)
	return t
}

func (t BoxType) String() string {
	return string(t[:])
}

// Box is a parsed box. Encode serializes the whole box including its
// header; the advertised size always equals the emitted byte count.
type Box interface {
	Type() BoxType
	Encode(w *bits.Writer) error
}

// Header is the length-typed prefix every box carries.
type Header struct {
	Size       uint64
	BoxType    BoxType
	UserType   []byte // 16 bytes when BoxType == "uuid"
	HeaderSize int
}

// PayloadSize reports the byte count between the header and the box end.
func (h Header) PayloadSize() uint64 {
	return h.Size - uint64(h.HeaderSize)
}

// ParseHeader decodes a box header from data. A size of 0 (box runs to the
// end of the enclosing span) is normalized to len(data).
func ParseHeader(data []byte) (Header, error) {
	if len(data) < 8 {
		return Header{}, errs.ErrUnexpectedEOF
	}
	h := Header{
		Size:       uint64(pio.U32BE(data)),
		HeaderSize: 8,
	}
	copy(h.BoxType[:], data[4:8])
	if h.Size == 1 {
		if len(data) < 16 {
			return Header{}, errs.ErrUnexpectedEOF
		}
		h.Size = pio.U64BE(data[8:])
		h.HeaderSize = 16
	} else if h.Size == 0 {
		h.Size = uint64(len(data))
	}
	if h.BoxType == Type("uuid") {
		if uint64(len(data)) < uint64(h.HeaderSize)+16 {
			return Header{}, errs.ErrUnexpectedEOF
		}
		h.UserType = data[h.HeaderSize : h.HeaderSize+16]
		h.HeaderSize += 16
	}
	if h.Size < uint64(h.HeaderSize) || h.Size > uint64(len(data)) {
		return Header{}, errs.Wrapf(errs.ErrMalformedBitstream,
			"isobmff: box %q advertises %d bytes in a %d byte span", h.BoxType, h.Size, len(data))
	}
	return h, nil
}

type parseFunc func(h Header, payload []byte) (Box, error)

// registry maps box tags to constructors. Populated once at package
// initialization and read-only afterwards; unregistered tags fall back to
// UnknownBox.
var registry = map[BoxType]parseFunc{}

func register(tag string, f parseFunc) {
	registry[Type(tag)] = f
}

// Parse decodes the box starting at data[0], consuming exactly its
// advertised size.
func Parse(data []byte) (Box, uint64, error) {
	h, err := ParseHeader(data)
	if err != nil {
		return nil, 0, err
	}
	payload := data[h.HeaderSize:h.Size]
	f, ok := registry[h.BoxType]
	if !ok {
		log.Debug().Str("box", h.BoxType.String()).Uint64("size", h.Size).Msg("unregistered box kept opaque")
		return &UnknownBox{BoxHeader: h, Payload: payload}, h.Size, nil
	}
	b, err := f(h, payload)
	if err != nil {
		return nil, 0, errs.Wrapf(err, "isobmff: box %q", h.BoxType)
	}
	return b, h.Size, nil
}

// ParseChildren walks a container payload by repeated header-read then
// payload-read until the span is exhausted.
func ParseChildren(data []byte) ([]Box, error) {
	var children []Box
	for len(data) > 0 {
		b, n, err := Parse(data)
		if err != nil {
			return nil, err
		}
		children = append(children, b)
		data = data[n:]
	}
	return children, nil
}

// FindChild returns the first child with the given tag, or nil.
func FindChild(children []Box, tag string) Box {
	t := Type(tag)
	for _, c := range children {
		if c.Type() == t {
			return c
		}
	}
	return nil
}

// beginBox reserves a 4-byte size slot plus the tag and returns the slot
// position for endBox to patch.
func beginBox(w *bits.Writer, t BoxType) (int, error) {
	pos := w.Len()
	if err := w.WriteU32(0); err != nil {
		return 0, err
	}
	return pos, w.WriteBytes(t[:])
}

func endBox(w *bits.Writer, pos int) error {
	return w.PatchU32(pos, uint32(w.Len()-pos))
}

// beginFullBox additionally emits the version and 24-bit flags.
func beginFullBox(w *bits.Writer, t BoxType, version uint8, flags uint32) (int, error) {
	pos, err := beginBox(w, t)
	if err != nil {
		return 0, err
	}
	if err := w.WriteU8(version); err != nil {
		return 0, err
	}
	return pos, w.WriteU24(flags)
}

// FullBox carries the version and flags every FullBox variant shares.
type FullBox struct {
	Version uint8
	Flags   uint32
}

func parseFullBox(r *bits.Reader) (FullBox, error) {
	v, err := r.ReadU8()
	if err != nil {
		return FullBox{}, err
	}
	f, err := r.ReadU24()
	if err != nil {
		return FullBox{}, err
	}
	return FullBox{Version: v, Flags: f}, nil
}

// UnknownBox preserves an unrecognized box byte-for-byte so unmodified
// containers round-trip.
type UnknownBox struct {
	BoxHeader Header
	Payload   []byte
}

func (b *UnknownBox) Type() BoxType {
	return b.BoxHeader.BoxType
}

func (b *UnknownBox) Encode(w *bits.Writer) error {
	pos, err := beginBox(w, b.BoxHeader.BoxType)
	if err != nil {
		return err
	}
	if b.BoxHeader.UserType != nil {
		if err := w.WriteBytes(b.BoxHeader.UserType); err != nil {
			return err
		}
	}
	if err := w.WriteBytes(b.Payload); err != nil {
		return err
	}
	return endBox(w, pos)
}

// ContainerBox is the generic parent for pure container tags.
type ContainerBox struct {
	Tag      BoxType
	Children []Box
}

func (b *ContainerBox) Type() BoxType {
	return b.Tag
}

func (b *ContainerBox) Encode(w *bits.Writer) error {
	pos, err := beginBox(w, b.Tag)
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

func parseContainer(tag string) parseFunc {
	return func(h Header, payload []byte) (Box, error) {
		children, err := ParseChildren(payload)
		if err != nil {
			return nil, err
		}
		return &ContainerBox{Tag: Type(tag), Children: children}, nil
	}
}
