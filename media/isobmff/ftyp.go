package isobmff

import (
	"github.com/bugVanisher/heif/utils/bits"
)

func init() {
	register("ftyp", parseFileTypeBox)
	register("mdat", parseMediaDataBox)
	register("free", func(h Header, payload []byte) (Box, error) {
		return &UnknownBox{BoxHeader: h, Payload: payload}, nil
	})
}

// FileTypeBox is the ftyp brand declaration.
type FileTypeBox struct {
	MajorBrand       string
	MinorVersion     uint32
	CompatibleBrands []string
}

func parseFileTypeBox(h Header, payload []byte) (Box, error) {
	r := bits.NewReader(payload)
	major, err := r.ReadBytes(4)
	if err != nil {
		return nil, err
	}
	minor, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	b := &FileTypeBox{MajorBrand: string(major), MinorVersion: minor}
	for r.BytesLeft() >= 4 {
		brand, err := r.ReadBytes(4)
		if err != nil {
			return nil, err
		}
		b.CompatibleBrands = append(b.CompatibleBrands, string(brand))
	}
	return b, nil
}

func (b *FileTypeBox) Type() BoxType {
	return Type("ftyp")
}

func (b *FileTypeBox) Encode(w *bits.Writer) error {
	pos, err := beginBox(w, b.Type())
	if err != nil {
		return err
	}
	majorBrand := Type(b.MajorBrand)
	if err := w.WriteBytes(majorBrand[:]); err != nil {
		return err
	}
	if err := w.WriteU32(b.MinorVersion); err != nil {
		return err
	}
	for _, brand := range b.CompatibleBrands {
		brandType := Type(brand)
		if err := w.WriteBytes(brandType[:]); err != nil {
			return err
		}
	}
	return endBox(w, pos)
}

// HasBrand reports whether brand is the major brand or listed compatible.
func (b *FileTypeBox) HasBrand(brand string) bool {
	if b.MajorBrand == brand {
		return true
	}
	for _, c := range b.CompatibleBrands {
		if c == brand {
			return true
		}
	}
	return false
}

// MediaDataBox holds raw coded bytes. When parsed from a file the payload
// is not copied out of the enclosing span.
type MediaDataBox struct {
	Data []byte
}

func parseMediaDataBox(h Header, payload []byte) (Box, error) {
	return &MediaDataBox{Data: payload}, nil
}

func (b *MediaDataBox) Type() BoxType {
	return Type("mdat")
}

func (b *MediaDataBox) Encode(w *bits.Writer) error {
	pos, err := beginBox(w, b.Type())
	if err != nil {
		return err
	}
	if err := w.WriteBytes(b.Data); err != nil {
		return err
	}
	return endBox(w, pos)
}
