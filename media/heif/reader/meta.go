package reader

import (
	"github.com/bugVanisher/heif/common/errs"
	"github.com/bugVanisher/heif/media/isobmff"
	"github.com/bugVanisher/heif/utils/bits"
	"github.com/bugVanisher/heif/utils/bits/pio"
)

var codedItemTypes = map[string]bool{
	"hvc1": true, "hev1": true, "avc1": true, "avc3": true, "lhv1": true, "lhe1": true,
}

// Grid is the parsed payload of a 'grid' derived item.
type Grid struct {
	Rows         uint32
	Columns      uint32
	OutputWidth  uint32
	OutputHeight uint32
	ItemIDs      []uint32 // tile inputs in row-major order
}

// Overlay is the parsed payload of an 'iovl' derived item.
type Overlay struct {
	CanvasFill   [4]uint16
	OutputWidth  uint32
	OutputHeight uint32
	Offsets      [][2]int32 // per input, canvas-relative
	ItemIDs      []uint32
}

// PropertyInfo is one entry of an item's property association list.
type PropertyInfo struct {
	Index     uint32 // 1-based position under ipco
	Type      string
	Essential bool
}

// ParameterSetMap keys parameter-set byte arrays by kind.
type ParameterSetMap map[string][][]byte

// ItemListByType lists items of a context, declaration order. Meta
// contexts accept "master", "thumb", "aux", the derived types, or a
// literal 4cc; track contexts accept "master", "thumb", "aux" and "sync".
func (r *Reader) ItemListByType(ctx ContextID, itemType string) ([]uint32, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if m := r.metaByID(ctx); m != nil {
		return r.metaItemList(m, itemType)
	}
	if t := r.trackByID(ctx); t != nil {
		return r.trackItemList(t, itemType)
	}
	return nil, errs.ErrInvalidContext
}

func (r *Reader) metaItemList(m *metaContext, itemType string) ([]uint32, error) {
	iinf := m.meta.ItemInfo()
	if iinf == nil {
		return nil, nil
	}
	iref := m.meta.ItemReference()
	isReferencedAs := func(id uint32, refType string) bool {
		if iref == nil {
			return false
		}
		return len(iref.ReferencesFrom(id, refType)) > 0
	}
	var out []uint32
	for _, e := range iinf.Entries {
		switch itemType {
		case "master":
			if codedItemTypes[e.ItemType] &&
				!isReferencedAs(e.ItemID, "thmb") && !isReferencedAs(e.ItemID, "auxl") {
				out = append(out, e.ItemID)
			}
		case "thumb", "thmb":
			if isReferencedAs(e.ItemID, "thmb") {
				out = append(out, e.ItemID)
			}
		case "aux", "auxl":
			if isReferencedAs(e.ItemID, "auxl") {
				out = append(out, e.ItemID)
			}
		default:
			if e.ItemType == itemType {
				out = append(out, e.ItemID)
			}
		}
	}
	return out, nil
}

// ItemType reports an item's 4cc type.
func (r *Reader) ItemType(ctx ContextID, itemID uint32) (string, error) {
	if err := r.ready(); err != nil {
		return "", err
	}
	if m := r.metaByID(ctx); m != nil {
		entry := r.metaEntry(m, itemID)
		if entry == nil {
			return "", errs.ErrInvalidItemID
		}
		return entry.ItemType, nil
	}
	if t := r.trackByID(ctx); t != nil {
		entry, err := t.sampleEntryOf(itemID)
		if err != nil {
			return "", err
		}
		return entry.Type().String(), nil
	}
	return "", errs.ErrInvalidContext
}

func (r *Reader) metaEntry(m *metaContext, itemID uint32) *isobmff.ItemInfoEntry {
	iinf := m.meta.ItemInfo()
	if iinf == nil {
		return nil
	}
	return iinf.EntryByID(itemID)
}

// CoverImageItemID reports the pitm item of a meta context.
func (r *Reader) CoverImageItemID(ctx ContextID) (uint32, error) {
	if err := r.ready(); err != nil {
		return 0, err
	}
	m := r.metaByID(ctx)
	if m == nil {
		if r.trackByID(ctx) != nil {
			return 0, errs.ErrNotApplicable
		}
		return 0, errs.ErrInvalidContext
	}
	pitm := m.meta.PrimaryItem()
	if pitm == nil {
		return 0, errs.Wrapf(errs.ErrNotApplicable, "meta context has no pitm")
	}
	return pitm.ItemID, nil
}

// ReferencedFromItemListByType lists the targets of refType edges leaving
// fromID.
func (r *Reader) ReferencedFromItemListByType(ctx ContextID, fromID uint32, refType string) ([]uint32, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if m := r.metaByID(ctx); m != nil {
		if r.metaEntry(m, fromID) == nil {
			return nil, errs.ErrInvalidItemID
		}
		iref := m.meta.ItemReference()
		if iref == nil {
			return nil, nil
		}
		return iref.ReferencesFrom(fromID, refType), nil
	}
	if t := r.trackByID(ctx); t != nil {
		return r.trackSampleReferences(t, fromID, refType)
	}
	return nil, errs.ErrInvalidContext
}

// ReferencedToItemListByType lists the sources of refType edges arriving
// at toID. For tracks the tref edge maps samples index-to-index.
func (r *Reader) ReferencedToItemListByType(ctx ContextID, toID uint32, refType string) ([]uint32, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if m := r.metaByID(ctx); m != nil {
		if r.metaEntry(m, toID) == nil {
			return nil, errs.ErrInvalidItemID
		}
		iref := m.meta.ItemReference()
		if iref == nil {
			return nil, nil
		}
		return iref.ReferencesTo(toID, refType), nil
	}
	if t := r.trackByID(ctx); t != nil {
		return r.trackSampleReferences(t, toID, refType)
	}
	return nil, errs.ErrInvalidContext
}

// trackSampleReferences resolves a tref edge of this track to per-sample
// correspondence: sample N maps to sample N of the referenced track.
func (r *Reader) trackSampleReferences(t *trackContext, sampleIdx uint32, refType string) ([]uint32, error) {
	if int(sampleIdx) >= len(t.samples) {
		return nil, errs.ErrInvalidItemID
	}
	tref := t.trak.Reference()
	if tref == nil {
		return nil, nil
	}
	var out []uint32
	for _, targetTrackID := range tref.TrackIDsOfType(refType) {
		for _, other := range r.tracks {
			if other.trackID != targetTrackID {
				continue
			}
			if int(sampleIdx) < len(other.samples) {
				out = append(out, sampleIdx)
			}
		}
	}
	return out, nil
}

// ItemData returns an item's raw payload, transparent to whether storage
// was idat or mdat. Protected items surface their raw bytes.
func (r *Reader) ItemData(ctx ContextID, itemID uint32) ([]byte, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if m := r.metaByID(ctx); m != nil {
		return r.metaItemData(m, itemID)
	}
	if t := r.trackByID(ctx); t != nil {
		if int(itemID) >= len(t.samples) {
			return nil, errs.ErrInvalidItemID
		}
		s := t.samples[itemID]
		return r.readAt(s.Offset, uint64(s.Size))
	}
	return nil, errs.ErrInvalidContext
}

func (r *Reader) metaItemData(m *metaContext, itemID uint32) ([]byte, error) {
	if r.metaEntry(m, itemID) == nil {
		return nil, errs.ErrInvalidItemID
	}
	iloc := m.meta.ItemLocation()
	if iloc == nil {
		return nil, errs.Wrapf(errs.ErrMalformedBitstream, "meta without iloc")
	}
	loc := iloc.LocationByID(itemID)
	if loc == nil {
		return nil, errs.Wrapf(errs.ErrInvalidItemID, "item %d has no location", itemID)
	}
	var out []byte
	for _, ext := range loc.Extents {
		switch loc.ConstructionMethod {
		case isobmff.ConstructionFileOffset:
			data, err := r.readAt(loc.BaseOffset+ext.Offset, ext.Length)
			if err != nil {
				return nil, err
			}
			out = append(out, data...)
		case isobmff.ConstructionIdatOffset:
			idat := m.meta.ItemData()
			if idat == nil {
				return nil, errs.Wrapf(errs.ErrMalformedBitstream, "item %d stored in missing idat", itemID)
			}
			start := loc.BaseOffset + ext.Offset
			end := start + ext.Length
			if end > uint64(len(idat.Data)) {
				return nil, errs.Wrapf(errs.ErrMalformedBitstream, "idat extent [%d,%d) of %d", start, end, len(idat.Data))
			}
			out = append(out, idat.Data[start:end]...)
		default:
			return nil, errs.Wrapf(errs.ErrUnsupportedFeature, "iloc construction method %d", loc.ConstructionMethod)
		}
	}
	return out, nil
}

// decoderConfigOf finds an item's decoder configuration property.
func (r *Reader) decoderConfigOf(m *metaContext, itemID uint32) (isobmff.Box, error) {
	iprp := m.meta.ItemProperties()
	if iprp == nil {
		return nil, errs.Wrapf(errs.ErrUnknownCodeType, "item %d has no properties", itemID)
	}
	for _, assoc := range iprp.AssociationsOf(itemID) {
		prop, err := iprp.PropertyByIndex(assoc.Index)
		if err != nil {
			continue
		}
		switch prop.(type) {
		case *isobmff.HevcConfigurationBox, *isobmff.AvcConfigurationBox, *isobmff.LhevcConfigurationBox:
			return prop, nil
		}
	}
	return nil, errs.Wrapf(errs.ErrUnknownCodeType, "item %d has no decoder configuration", itemID)
}

func configRecordSets(cfg isobmff.Box) (paramSets [][]byte, lengthSize int) {
	switch c := cfg.(type) {
	case *isobmff.HevcConfigurationBox:
		return c.Record.ParameterSetNals(), int(c.Record.LengthSizeMinusOne) + 1
	case *isobmff.AvcConfigurationBox:
		return c.Record.ParameterSetNals(), int(c.Record.LengthSizeMinusOne) + 1
	case *isobmff.LhevcConfigurationBox:
		return c.Record.ParameterSetNals(), int(c.Record.LengthSizeMinusOne) + 1
	}
	return nil, 4
}

// lengthPrefixedToAnnexB rewrites NAL length fields into start codes.
func lengthPrefixedToAnnexB(data []byte, lengthSize int) ([]byte, error) {
	out := make([]byte, 0, len(data)+16)
	for pos := 0; pos < len(data); {
		if pos+lengthSize > len(data) {
			return nil, errs.Wrapf(errs.ErrMalformedBitstream, "truncated NAL length at %d", pos)
		}
		var n uint64
		for i := 0; i < lengthSize; i++ {
			n = n<<8 | uint64(data[pos+i])
		}
		pos += lengthSize
		if uint64(pos)+n > uint64(len(data)) {
			return nil, errs.Wrapf(errs.ErrMalformedBitstream, "NAL of %d bytes at %d overruns item", n, pos)
		}
		out = append(out, 0, 0, 0, 1)
		out = append(out, data[pos:pos+int(n)]...)
		pos += int(n)
	}
	return out, nil
}

// ItemDataWithDecoderParameters returns a directly decodable Annex-B
// stream: start-coded parameter sets from the decoder configuration
// record, then the item payload with length prefixes rewritten.
func (r *Reader) ItemDataWithDecoderParameters(ctx ContextID, itemID uint32) ([]byte, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if m := r.metaByID(ctx); m != nil {
		entry := r.metaEntry(m, itemID)
		if entry == nil {
			return nil, errs.ErrInvalidItemID
		}
		if entry.ProtectionIndex != 0 {
			return nil, errs.Wrapf(errs.ErrProtectedItem, "item %d", itemID)
		}
		cfg, err := r.decoderConfigOf(m, itemID)
		if err != nil {
			return nil, err
		}
		data, err := r.metaItemData(m, itemID)
		if err != nil {
			return nil, err
		}
		return assembleAnnexB(cfg, data)
	}
	if t := r.trackByID(ctx); t != nil {
		entry, err := t.sampleEntryOf(itemID)
		if err != nil {
			return nil, err
		}
		visual, ok := entry.(*isobmff.VisualSampleEntry)
		if !ok {
			return nil, errs.Wrapf(errs.ErrUnknownCodeType, "sample entry %q", entry.Type())
		}
		cfg := visual.ConfigBox()
		if cfg == nil {
			return nil, errs.Wrapf(errs.ErrUnknownCodeType, "sample entry %q has no decoder configuration", entry.Type())
		}
		s := t.samples[itemID]
		data, err := r.readAt(s.Offset, uint64(s.Size))
		if err != nil {
			return nil, err
		}
		return assembleAnnexB(cfg, data)
	}
	return nil, errs.ErrInvalidContext
}

func assembleAnnexB(cfg isobmff.Box, payload []byte) ([]byte, error) {
	paramSets, lengthSize := configRecordSets(cfg)
	body, err := lengthPrefixedToAnnexB(payload, lengthSize)
	if err != nil {
		return nil, err
	}
	var out []byte
	for _, ps := range paramSets {
		out = append(out, 0, 0, 0, 1)
		out = append(out, ps...)
	}
	return append(out, body...), nil
}

// DecoderCodeType reports the codec 4cc governing an item.
func (r *Reader) DecoderCodeType(ctx ContextID, itemID uint32) (string, error) {
	if err := r.ready(); err != nil {
		return "", err
	}
	if m := r.metaByID(ctx); m != nil {
		entry := r.metaEntry(m, itemID)
		if entry == nil {
			return "", errs.ErrInvalidItemID
		}
		if !codedItemTypes[entry.ItemType] {
			return "", errs.Wrapf(errs.ErrUnknownCodeType, "item type %q", entry.ItemType)
		}
		return entry.ItemType, nil
	}
	if t := r.trackByID(ctx); t != nil {
		entry, err := t.sampleEntryOf(itemID)
		if err != nil {
			return "", err
		}
		tag := entry.Type().String()
		if !codedItemTypes[tag] {
			return "", errs.Wrapf(errs.ErrUnknownCodeType, "sample entry %q", tag)
		}
		return tag, nil
	}
	return "", errs.ErrInvalidContext
}

// DecoderParameterSets returns the parameter sets of an item's decoder
// configuration, keyed by kind.
func (r *Reader) DecoderParameterSets(ctx ContextID, itemID uint32) (ParameterSetMap, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	var cfg isobmff.Box
	if m := r.metaByID(ctx); m != nil {
		if r.metaEntry(m, itemID) == nil {
			return nil, errs.ErrInvalidItemID
		}
		var err error
		if cfg, err = r.decoderConfigOf(m, itemID); err != nil {
			return nil, err
		}
	} else if t := r.trackByID(ctx); t != nil {
		entry, err := t.sampleEntryOf(itemID)
		if err != nil {
			return nil, err
		}
		visual, ok := entry.(*isobmff.VisualSampleEntry)
		if !ok || visual.ConfigBox() == nil {
			return nil, errs.Wrapf(errs.ErrUnknownCodeType, "sample entry %q", entry.Type())
		}
		cfg = visual.ConfigBox()
	} else {
		return nil, errs.ErrInvalidContext
	}

	sets := ParameterSetMap{}
	switch c := cfg.(type) {
	case *isobmff.AvcConfigurationBox:
		sets["SPS"] = c.Record.SPS
		sets["PPS"] = c.Record.PPS
	case *isobmff.HevcConfigurationBox:
		sets["VPS"] = c.Record.NalUnitsOfType(32)
		sets["SPS"] = c.Record.NalUnitsOfType(33)
		sets["PPS"] = c.Record.NalUnitsOfType(34)
	case *isobmff.LhevcConfigurationBox:
		for _, arr := range c.Record.NalArrays {
			switch arr.NalUnitType {
			case 32:
				sets["VPS"] = append(sets["VPS"], arr.NalUnits...)
			case 33:
				sets["SPS"] = append(sets["SPS"], arr.NalUnits...)
			case 34:
				sets["PPS"] = append(sets["PPS"], arr.NalUnits...)
			}
		}
	}
	return sets, nil
}

// ItemGrid parses a 'grid' item payload with its dimg inputs.
func (r *Reader) ItemGrid(ctx ContextID, itemID uint32) (Grid, error) {
	if err := r.ready(); err != nil {
		return Grid{}, err
	}
	m := r.metaByID(ctx)
	if m == nil {
		return Grid{}, errs.ErrInvalidContext
	}
	entry := r.metaEntry(m, itemID)
	if entry == nil {
		return Grid{}, errs.ErrInvalidItemID
	}
	if entry.ItemType != "grid" {
		return Grid{}, errs.Wrapf(errs.ErrNotApplicable, "item %d is %q, not grid", itemID, entry.ItemType)
	}
	data, err := r.metaItemData(m, itemID)
	if err != nil {
		return Grid{}, err
	}
	if len(data) < 8 {
		return Grid{}, errs.Wrapf(errs.ErrMalformedBitstream, "grid payload of %d bytes", len(data))
	}
	flags := data[1]
	fieldLen := 2
	if flags&1 == 1 {
		fieldLen = 4
	}
	g := Grid{
		Rows:    uint32(data[2]) + 1,
		Columns: uint32(data[3]) + 1,
	}
	if len(data) < 4+2*fieldLen {
		return Grid{}, errs.Wrapf(errs.ErrMalformedBitstream, "grid payload of %d bytes", len(data))
	}
	if fieldLen == 2 {
		g.OutputWidth = uint32(pio.U16BE(data[4:]))
		g.OutputHeight = uint32(pio.U16BE(data[6:]))
	} else {
		g.OutputWidth = pio.U32BE(data[4:])
		g.OutputHeight = pio.U32BE(data[8:])
	}
	iref := m.meta.ItemReference()
	if iref == nil {
		return Grid{}, errs.Wrapf(errs.ErrMalformedBitstream, "grid item without iref")
	}
	g.ItemIDs = iref.ReferencesFrom(itemID, "dimg")
	if uint32(len(g.ItemIDs)) != g.Rows*g.Columns {
		return Grid{}, errs.Wrapf(errs.ErrMalformedBitstream,
			"grid %dx%d with %d dimg inputs", g.Rows, g.Columns, len(g.ItemIDs))
	}
	return g, nil
}

// ItemIovl parses an 'iovl' item payload with its dimg inputs.
func (r *Reader) ItemIovl(ctx ContextID, itemID uint32) (Overlay, error) {
	if err := r.ready(); err != nil {
		return Overlay{}, err
	}
	m := r.metaByID(ctx)
	if m == nil {
		return Overlay{}, errs.ErrInvalidContext
	}
	entry := r.metaEntry(m, itemID)
	if entry == nil {
		return Overlay{}, errs.ErrInvalidItemID
	}
	if entry.ItemType != "iovl" {
		return Overlay{}, errs.Wrapf(errs.ErrNotApplicable, "item %d is %q, not iovl", itemID, entry.ItemType)
	}
	data, err := r.metaItemData(m, itemID)
	if err != nil {
		return Overlay{}, err
	}
	br := bits.NewReader(data)
	if _, err := br.ReadU8(); err != nil { // version
		return Overlay{}, err
	}
	flags, err := br.ReadU8()
	if err != nil {
		return Overlay{}, err
	}
	var o Overlay
	for i := 0; i < 4; i++ {
		v, err := br.ReadU16()
		if err != nil {
			return Overlay{}, err
		}
		o.CanvasFill[i] = v
	}
	readField := func() (uint32, error) {
		if flags&1 == 1 {
			return br.ReadU32()
		}
		v, err := br.ReadU16()
		return uint32(v), err
	}
	if o.OutputWidth, err = readField(); err != nil {
		return Overlay{}, err
	}
	if o.OutputHeight, err = readField(); err != nil {
		return Overlay{}, err
	}
	iref := m.meta.ItemReference()
	if iref == nil {
		return Overlay{}, errs.Wrapf(errs.ErrMalformedBitstream, "iovl item without iref")
	}
	o.ItemIDs = iref.ReferencesFrom(itemID, "dimg")
	for range o.ItemIDs {
		var off [2]int32
		if flags&1 == 1 {
			x, err := br.ReadU32()
			if err != nil {
				return Overlay{}, err
			}
			y, err := br.ReadU32()
			if err != nil {
				return Overlay{}, err
			}
			off[0], off[1] = int32(x), int32(y)
		} else {
			x, err := br.ReadU16()
			if err != nil {
				return Overlay{}, err
			}
			y, err := br.ReadU16()
			if err != nil {
				return Overlay{}, err
			}
			off[0], off[1] = int32(int16(x)), int32(int16(y))
		}
		o.Offsets = append(o.Offsets, off)
	}
	if len(o.Offsets) != len(o.ItemIDs) {
		return Overlay{}, errs.Wrapf(errs.ErrMalformedBitstream,
			"iovl with %d offsets for %d inputs", len(o.Offsets), len(o.ItemIDs))
	}
	return o, nil
}

// ItemProperties lists an item's property associations in listed order.
func (r *Reader) ItemProperties(ctx ContextID, itemID uint32) ([]PropertyInfo, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	m := r.metaByID(ctx)
	if m == nil {
		if r.trackByID(ctx) != nil {
			return nil, errs.ErrNotApplicable
		}
		return nil, errs.ErrInvalidContext
	}
	if r.metaEntry(m, itemID) == nil {
		return nil, errs.ErrInvalidItemID
	}
	iprp := m.meta.ItemProperties()
	if iprp == nil {
		return nil, nil
	}
	var out []PropertyInfo
	for _, assoc := range iprp.AssociationsOf(itemID) {
		prop, err := iprp.PropertyByIndex(assoc.Index)
		if err != nil {
			return nil, err
		}
		out = append(out, PropertyInfo{
			Index:     assoc.Index,
			Type:      prop.Type().String(),
			Essential: assoc.Essential,
		})
	}
	return out, nil
}

func (r *Reader) propertyAt(ctx ContextID, index uint32) (isobmff.Box, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	m := r.metaByID(ctx)
	if m == nil {
		return nil, errs.ErrInvalidContext
	}
	iprp := m.meta.ItemProperties()
	if iprp == nil {
		return nil, errs.ErrInvalidPropertyIndex
	}
	return iprp.PropertyByIndex(index)
}

// PropertyIspe returns the spatial-extents property at a 1-based index.
func (r *Reader) PropertyIspe(ctx ContextID, index uint32) (*isobmff.ImageSpatialExtents, error) {
	prop, err := r.propertyAt(ctx, index)
	if err != nil {
		return nil, err
	}
	v, ok := prop.(*isobmff.ImageSpatialExtents)
	if !ok {
		return nil, errs.Wrapf(errs.ErrInvalidPropertyIndex, "property %d is %q", index, prop.Type())
	}
	return v, nil
}

// PropertyIrot returns the rotation property at a 1-based index.
func (r *Reader) PropertyIrot(ctx ContextID, index uint32) (*isobmff.ImageRotation, error) {
	prop, err := r.propertyAt(ctx, index)
	if err != nil {
		return nil, err
	}
	v, ok := prop.(*isobmff.ImageRotation)
	if !ok {
		return nil, errs.Wrapf(errs.ErrInvalidPropertyIndex, "property %d is %q", index, prop.Type())
	}
	return v, nil
}

// PropertyImir returns the mirror property at a 1-based index.
func (r *Reader) PropertyImir(ctx ContextID, index uint32) (*isobmff.ImageMirror, error) {
	prop, err := r.propertyAt(ctx, index)
	if err != nil {
		return nil, err
	}
	v, ok := prop.(*isobmff.ImageMirror)
	if !ok {
		return nil, errs.Wrapf(errs.ErrInvalidPropertyIndex, "property %d is %q", index, prop.Type())
	}
	return v, nil
}

// PropertyClap returns the clean-aperture property at a 1-based index.
func (r *Reader) PropertyClap(ctx ContextID, index uint32) (*isobmff.CleanAperture, error) {
	prop, err := r.propertyAt(ctx, index)
	if err != nil {
		return nil, err
	}
	v, ok := prop.(*isobmff.CleanAperture)
	if !ok {
		return nil, errs.Wrapf(errs.ErrInvalidPropertyIndex, "property %d is %q", index, prop.Type())
	}
	return v, nil
}

// PropertyRloc returns the relative-location property at a 1-based index.
func (r *Reader) PropertyRloc(ctx ContextID, index uint32) (*isobmff.RelativeLocation, error) {
	prop, err := r.propertyAt(ctx, index)
	if err != nil {
		return nil, err
	}
	v, ok := prop.(*isobmff.RelativeLocation)
	if !ok {
		return nil, errs.Wrapf(errs.ErrInvalidPropertyIndex, "property %d is %q", index, prop.Type())
	}
	return v, nil
}

// PropertyAuxC returns the auxiliary-type property at a 1-based index.
func (r *Reader) PropertyAuxC(ctx ContextID, index uint32) (*isobmff.AuxiliaryType, error) {
	prop, err := r.propertyAt(ctx, index)
	if err != nil {
		return nil, err
	}
	v, ok := prop.(*isobmff.AuxiliaryType)
	if !ok {
		return nil, errs.Wrapf(errs.ErrInvalidPropertyIndex, "property %d is %q", index, prop.Type())
	}
	return v, nil
}

// PropertyLsel returns the layer-selector property at a 1-based index.
func (r *Reader) PropertyLsel(ctx ContextID, index uint32) (*isobmff.LayerSelector, error) {
	prop, err := r.propertyAt(ctx, index)
	if err != nil {
		return nil, err
	}
	v, ok := prop.(*isobmff.LayerSelector)
	if !ok {
		return nil, errs.Wrapf(errs.ErrInvalidPropertyIndex, "property %d is %q", index, prop.Type())
	}
	return v, nil
}

// PropertyTols returns the target-output-layer property at a 1-based
// index.
func (r *Reader) PropertyTols(ctx ContextID, index uint32) (*isobmff.TargetOlsProperty, error) {
	prop, err := r.propertyAt(ctx, index)
	if err != nil {
		return nil, err
	}
	v, ok := prop.(*isobmff.TargetOlsProperty)
	if !ok {
		return nil, errs.Wrapf(errs.ErrInvalidPropertyIndex, "property %d is %q", index, prop.Type())
	}
	return v, nil
}

// PropertyOinf returns the operating-points property at a 1-based index.
func (r *Reader) PropertyOinf(ctx ContextID, index uint32) (*isobmff.OperatingPointsInformation, error) {
	prop, err := r.propertyAt(ctx, index)
	if err != nil {
		return nil, err
	}
	v, ok := prop.(*isobmff.OperatingPointsInformation)
	if !ok {
		return nil, errs.Wrapf(errs.ErrInvalidPropertyIndex, "property %d is %q", index, prop.Type())
	}
	return v, nil
}

// Width reports an item's ispe width.
func (r *Reader) Width(ctx ContextID, itemID uint32) (uint32, error) {
	ispe, err := r.ispeOf(ctx, itemID)
	if err != nil {
		return 0, err
	}
	return ispe.Width, nil
}

// Height reports an item's ispe height.
func (r *Reader) Height(ctx ContextID, itemID uint32) (uint32, error) {
	ispe, err := r.ispeOf(ctx, itemID)
	if err != nil {
		return 0, err
	}
	return ispe.Height, nil
}

func (r *Reader) ispeOf(ctx ContextID, itemID uint32) (*isobmff.ImageSpatialExtents, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	m := r.metaByID(ctx)
	if m == nil {
		if r.trackByID(ctx) != nil {
			return nil, errs.ErrNotApplicable
		}
		return nil, errs.ErrInvalidContext
	}
	if r.metaEntry(m, itemID) == nil {
		return nil, errs.ErrInvalidItemID
	}
	iprp := m.meta.ItemProperties()
	if iprp == nil {
		return nil, errs.Wrapf(errs.ErrNotApplicable, "item %d has no properties", itemID)
	}
	for _, assoc := range iprp.AssociationsOf(itemID) {
		prop, err := iprp.PropertyByIndex(assoc.Index)
		if err != nil {
			continue
		}
		if ispe, ok := prop.(*isobmff.ImageSpatialExtents); ok {
			return ispe, nil
		}
	}
	return nil, errs.Wrapf(errs.ErrNotApplicable, "item %d has no ispe", itemID)
}
