package writer

import (
	"os"

	"github.com/rs/zerolog/log"

	"github.com/bugVanisher/heif/common/errs"
	"github.com/bugVanisher/heif/media/isobmff"
	"github.com/bugVanisher/heif/utils/bits"
)

// Version tags written files through the trailing compatibility mdat.
const Version = "1.0"

// Writer assembles a HEIF file from a content manifest.
type Writer struct{}

func New() *Writer {
	return &Writer{}
}

// Write runs the full composition: bitstream import, context population,
// two-pass offset resolution, and the final emit.
func (w *Writer) Write(m *Manifest) error {
	if err := m.Validate(); err != nil {
		return err
	}
	sources, err := loadSources(m)
	if err != nil {
		return err
	}

	mb := newMetaBuilder()
	tb := newTrackBuilder()
	for i := range m.Content {
		c := &m.Content[i]
		switch c.Master.EncpType {
		case "meta":
			if err := mb.addContent(c, sources); err != nil {
				return err
			}
		case "trak":
			if err := tb.addContent(c, sources); err != nil {
				return err
			}
		}
	}
	if len(m.Egroups) > 0 {
		if mb.empty() {
			return errs.Wrapf(errs.ErrInvalidManifest, "egroups given without meta content")
		}
		if err := mb.addEgroups(m.Egroups); err != nil {
			return err
		}
	}
	if m.General.PrimRefr != 0 {
		id, ok := mb.bsidToItem[m.General.PrimRefr]
		if !ok {
			return errs.Wrapf(errs.ErrInvalidManifest, "prim_refr %d resolves to no meta item", m.General.PrimRefr)
		}
		mb.primaryItem = id + m.General.PrimIndx
	}

	ftyp := &isobmff.FileTypeBox{
		MajorBrand:       m.Brands.Major,
		CompatibleBrands: m.Brands.Compatible,
	}

	var meta *isobmff.MetaBox
	var iloc *isobmff.ItemLocationBox
	if !mb.empty() {
		meta, iloc = mb.build()
	}
	var moov *isobmff.MovieBox
	if !tb.empty() {
		moov = tb.buildMoov()
	}

	// Pass one: tentative serialization with mdat-relative offsets to
	// discover box sizes.
	sizeOf := func(b isobmff.Box) (uint64, error) {
		bw := bits.NewWriter()
		if err := b.Encode(bw); err != nil {
			return 0, err
		}
		return uint64(len(bw.Finish())), nil
	}
	offset, err := sizeOf(ftyp)
	if err != nil {
		return err
	}
	if meta != nil {
		n, err := sizeOf(meta)
		if err != nil {
			return err
		}
		offset += n
	}
	if moov != nil {
		n, err := sizeOf(moov)
		if err != nil {
			return err
		}
		offset += n
	}

	// Offset resolution: every mdat payload lands 8 bytes past its box
	// start.
	if meta != nil {
		payloadStart := offset + 8
		for i := range iloc.Locations {
			if iloc.Locations[i].ConstructionMethod == isobmff.ConstructionFileOffset {
				iloc.Locations[i].BaseOffset = payloadStart
			}
		}
		offset += 8 + uint64(len(mb.mdat))
	}
	for _, t := range tb.tracks {
		t.stco.Offsets[0] = offset + 8
		offset += 8 + uint64(len(t.mdat))
	}

	// Pass two: final serialization with resolved offsets.
	out := bits.NewWriter()
	if err := ftyp.Encode(out); err != nil {
		return err
	}
	if meta != nil {
		if err := meta.Encode(out); err != nil {
			return err
		}
	}
	if moov != nil {
		if err := moov.Encode(out); err != nil {
			return err
		}
	}
	if meta != nil {
		if err := (&isobmff.MediaDataBox{Data: mb.mdat}).Encode(out); err != nil {
			return err
		}
	}
	for _, t := range tb.tracks {
		if err := (&isobmff.MediaDataBox{Data: t.mdat}).Encode(out); err != nil {
			return err
		}
	}
	// Trailing compatibility tag.
	if err := (&isobmff.MediaDataBox{Data: []byte("NHW_" + Version)}).Encode(out); err != nil {
		return err
	}

	data := out.Finish()
	if err := os.WriteFile(m.OutputPath, data, 0o644); err != nil {
		return errs.Wrapf(errs.ErrIo, "write %s: %v", m.OutputPath, err)
	}
	log.Info().Str("path", m.OutputPath).Int("bytes", len(data)).Msg("heif file written")
	return nil
}

// loadSources imports every bitstream the manifest names, once per path.
func loadSources(m *Manifest) (map[string]*mediaSource, error) {
	sources := map[string]*mediaSource{}
	add := func(codeType, path string) error {
		if path == "" {
			return nil
		}
		if _, ok := sources[path]; ok {
			return nil
		}
		src, err := importBitstream(codeType, path)
		if err != nil {
			return err
		}
		sources[path] = src
		return nil
	}
	for i := range m.Content {
		c := &m.Content[i]
		if err := add(c.Master.CodeType, c.Master.FilePath); err != nil {
			return nil, err
		}
		for _, t := range c.Thumbs {
			if err := add(t.CodeType, t.FilePath); err != nil {
				return nil, err
			}
		}
		for _, a := range c.Auxiliary {
			if err := add(a.CodeType, a.FilePath); err != nil {
				return nil, err
			}
		}
		for _, l := range c.Layers {
			if err := add(l.CodeType, l.FilePath); err != nil {
				return nil, err
			}
		}
	}
	return sources, nil
}
