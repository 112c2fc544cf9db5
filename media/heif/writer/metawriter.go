package writer

import (
	"os"

	"github.com/rs/zerolog/log"

	"github.com/bugVanisher/heif/common/errs"
	"github.com/bugVanisher/heif/media/isobmff"
	"github.com/bugVanisher/heif/utils/bits/pio"
)

// metaBuilder accumulates the file-level meta box: items, their locations
// relative to the meta mdat, properties, references and entity groups.
type metaBuilder struct {
	entries    []*isobmff.ItemInfoEntry
	locations  []isobmff.ItemLocation
	references []isobmff.ItemReference
	ipco       *isobmff.ContainerBox
	ipma       *isobmff.ItemPropertyAssociationBox
	idat       []byte
	mdat       []byte
	groups     []*isobmff.EntityToGroupBox

	primaryItem uint32
	nextItemID  uint32
	nextGroupID uint32

	// uniq_bsid → item id of the entry's first image.
	bsidToItem map[uint32]uint32
}

func newMetaBuilder() *metaBuilder {
	return &metaBuilder{
		ipco:        &isobmff.ContainerBox{Tag: isobmff.Type("ipco")},
		ipma:        &isobmff.ItemPropertyAssociationBox{},
		nextItemID:  1,
		nextGroupID: 1,
		bsidToItem:  map[uint32]uint32{},
	}
}

func (b *metaBuilder) empty() bool {
	return len(b.entries) == 0
}

// addProperty places a property under ipco once and returns its 1-based
// index.
func (b *metaBuilder) addProperty(prop isobmff.Box) uint32 {
	b.ipco.Children = append(b.ipco.Children, prop)
	return uint32(len(b.ipco.Children))
}

func (b *metaBuilder) associate(itemID uint32, assocs []isobmff.PropertyAssociation) {
	b.ipma.AddEntry(itemID, assocs)
}

func (b *metaBuilder) addReference(refType string, from uint32, to []uint32) {
	b.references = append(b.references, isobmff.ItemReference{
		ReferenceType: refType,
		FromItemID:    from,
		ToItemIDs:     to,
	})
}

// addMdatItem appends payload bytes to the meta mdat and records the item
// location (construction method 0, offsets patched at layout time).
func (b *metaBuilder) addMdatItem(itemType, name string, payload []byte, hidden bool) uint32 {
	id := b.nextItemID
	b.nextItemID++
	entry := &isobmff.ItemInfoEntry{
		FullBox:  isobmff.FullBox{Version: 2},
		ItemID:   id,
		ItemType: itemType,
		ItemName: name,
	}
	if hidden {
		entry.Flags |= 1
	}
	b.entries = append(b.entries, entry)
	b.locations = append(b.locations, isobmff.ItemLocation{
		ItemID:             id,
		ConstructionMethod: isobmff.ConstructionFileOffset,
		Extents: []isobmff.ItemExtent{{
			Offset: uint64(len(b.mdat)),
			Length: uint64(len(payload)),
		}},
	})
	b.mdat = append(b.mdat, payload...)
	return id
}

// addIdatItem stores the payload inline in idat (construction method 1).
func (b *metaBuilder) addIdatItem(itemType, name string, payload []byte, hidden bool) uint32 {
	id := b.nextItemID
	b.nextItemID++
	entry := &isobmff.ItemInfoEntry{
		FullBox:  isobmff.FullBox{Version: 2},
		ItemID:   id,
		ItemType: itemType,
		ItemName: name,
	}
	if hidden {
		entry.Flags |= 1
	}
	b.entries = append(b.entries, entry)
	b.locations = append(b.locations, isobmff.ItemLocation{
		ItemID:             id,
		ConstructionMethod: isobmff.ConstructionIdatOffset,
		Extents: []isobmff.ItemExtent{{
			Offset: uint64(len(b.idat)),
			Length: uint64(len(payload)),
		}},
	})
	b.idat = append(b.idat, payload...)
	return id
}

// addCodedImages places every sample of a source as one coded item and
// binds the shared config and ispe properties. Extra transform properties
// apply to all of them.
func (b *metaBuilder) addCodedImages(src *mediaSource, name string, hidden bool,
	extraProps []isobmff.PropertyAssociation) ([]uint32, error) {

	cfg, err := src.configBox()
	if err != nil {
		return nil, err
	}
	cfgIdx := b.addProperty(cfg)
	ispeIdx := b.addProperty(&isobmff.ImageSpatialExtents{Width: src.Width, Height: src.Height})
	var ids []uint32
	for _, sample := range src.Samples {
		id := b.addMdatItem(src.CodeType, name, sample.Data, hidden)
		assocs := []isobmff.PropertyAssociation{
			{Index: cfgIdx, Essential: true},
			{Index: ispeIdx},
		}
		assocs = append(assocs, extraProps...)
		b.associate(id, assocs)
		ids = append(ids, id)
	}
	return ids, nil
}

// transformProps realizes a manifest property block into ipco entries.
func (b *metaBuilder) transformProps(p *Property) []isobmff.PropertyAssociation {
	if p == nil {
		return nil
	}
	var out []isobmff.PropertyAssociation
	if p.Irot != nil {
		idx := b.addProperty(&isobmff.ImageRotation{Angle: *p.Irot % 360})
		out = append(out, isobmff.PropertyAssociation{Index: idx, Essential: true})
	}
	if p.Imir != nil {
		axis := uint8(isobmff.MirrorAxisVertical)
		if *p.Imir == "horizontal" {
			axis = isobmff.MirrorAxisHorizontal
		}
		idx := b.addProperty(&isobmff.ImageMirror{Axis: axis})
		out = append(out, isobmff.PropertyAssociation{Index: idx, Essential: true})
	}
	if p.Clap != nil {
		idx := b.addProperty(&isobmff.CleanAperture{
			WidthN: p.Clap.WidthN, WidthD: p.Clap.WidthD,
			HeightN: p.Clap.HeightN, HeightD: p.Clap.HeightD,
			HorizOffN: p.Clap.XOffN, HorizOffD: p.Clap.XOffD,
			VertOffN: p.Clap.YOffN, VertOffD: p.Clap.YOffD,
		})
		out = append(out, isobmff.PropertyAssociation{Index: idx, Essential: true})
	}
	return out
}

// addContent realizes one manifest entry into the meta context.
func (b *metaBuilder) addContent(c *Content, sources map[string]*mediaSource) error {
	src := sources[c.Master.FilePath]
	masterIDs, err := b.addCodedImages(src, "", false, b.transformProps(c.Property))
	if err != nil {
		return err
	}
	if c.Master.UniqBsid != 0 {
		b.bsidToItem[c.Master.UniqBsid] = masterIDs[0]
	}
	if b.primaryItem == 0 {
		b.primaryItem = masterIDs[0]
	}

	for _, t := range c.Thumbs {
		tsrc := sources[t.FilePath]
		thumbIDs, err := b.addCodedImages(tsrc, "", false, nil)
		if err != nil {
			return err
		}
		if t.UniqBsid != 0 {
			b.bsidToItem[t.UniqBsid] = thumbIDs[0]
		}
		for i, id := range thumbIDs {
			if i < len(masterIDs) {
				b.addReference("thmb", id, []uint32{masterIDs[i]})
			}
		}
	}

	for _, a := range c.Auxiliary {
		asrc := sources[a.FilePath]
		auxIdx := b.addProperty(&isobmff.AuxiliaryType{
			AuxType:    a.AuxType,
			AuxSubType: []byte(a.SubType),
		})
		auxIDs, err := b.addCodedImages(asrc, "", false,
			[]isobmff.PropertyAssociation{{Index: auxIdx, Essential: true}})
		if err != nil {
			return err
		}
		for i, id := range auxIDs {
			if i < len(masterIDs) {
				b.addReference("auxl", id, []uint32{masterIDs[i]})
			}
		}
	}

	for _, l := range c.Layers {
		var props []isobmff.PropertyAssociation
		if l.LayerSelection >= 0 {
			idx := b.addProperty(&isobmff.LayerSelector{LayerID: uint16(l.LayerSelection)})
			props = append(props, isobmff.PropertyAssociation{Index: idx, Essential: true})
		}
		tolsIdx := b.addProperty(&isobmff.TargetOlsProperty{TargetOlsIndex: l.TargetOutputLayer})
		props = append(props, isobmff.PropertyAssociation{Index: tolsIdx, Essential: true})
		var layerIDs []uint32
		if l.FilePath != "" {
			lsrc := sources[l.FilePath]
			if layerIDs, err = b.addCodedImages(lsrc, "", l.Hidden, props); err != nil {
				return err
			}
		} else if l.BaseRefr != 0 {
			// Layer selection over the base bitstream itself.
			base, ok := b.bsidToItem[l.BaseRefr]
			if !ok {
				return errs.Wrapf(errs.ErrInvalidManifest, "layer base uniq_bsid %d not yet written", l.BaseRefr)
			}
			id := b.addIdatItem("iden", "", nil, l.Hidden)
			b.addReference("dimg", id, []uint32{base})
			b.associate(id, props)
			layerIDs = []uint32{id}
		}
		if l.UniqBsid != 0 && len(layerIDs) > 0 {
			b.bsidToItem[l.UniqBsid] = layerIDs[0]
		}
		if l.BaseRefr != 0 && l.FilePath != "" {
			base, ok := b.bsidToItem[l.BaseRefr]
			if !ok {
				return errs.Wrapf(errs.ErrInvalidManifest, "layer base uniq_bsid %d not yet written", l.BaseRefr)
			}
			for _, id := range layerIDs {
				b.addReference("base", id, []uint32{base})
			}
		}
	}

	for _, md := range c.Metadata {
		payload, err := os.ReadFile(md.FilePath)
		if err != nil {
			return errs.Wrapf(errs.ErrIo, "read metadata %s: %v", md.FilePath, err)
		}
		var id uint32
		if md.HdlrType == "exif" {
			id = b.addMdatItem("Exif", "", payload, false)
		} else {
			id = b.addMdatItem("mime", "", payload, false)
			b.entries[len(b.entries)-1].ContentType = "application/rdf+xml"
		}
		b.addReference("cdsc", id, []uint32{masterIDs[0]})
	}

	if c.Derived != nil {
		if err := b.addDerived(c.Derived, c.Property); err != nil {
			return err
		}
	}
	return nil
}

func (b *metaBuilder) addDerived(d *Derived, p *Property) error {
	resolve := func(bsid uint32) (uint32, error) {
		id, ok := b.bsidToItem[bsid]
		if !ok {
			return 0, errs.Wrapf(errs.ErrInvalidManifest, "derived input uniq_bsid %d unresolved", bsid)
		}
		return id, nil
	}
	for _, bsid := range d.Iden {
		input, err := resolve(bsid)
		if err != nil {
			return err
		}
		id := b.addIdatItem("iden", "", nil, false)
		b.addReference("dimg", id, []uint32{input})
		if props := b.transformProps(p); len(props) > 0 {
			b.associate(id, props)
		}
	}
	for _, g := range d.Grids {
		payload := make([]byte, 8)
		payload[0] = 0                      // version
		payload[1] = 0                      // flags: 16-bit output fields
		payload[2] = uint8(g.Rows - 1)
		payload[3] = uint8(g.Columns - 1)
		pio.PutU16BE(payload[4:], uint16(g.OutputWidth))
		pio.PutU16BE(payload[6:], uint16(g.OutputHeight))
		id := b.addIdatItem("grid", "", payload, false)
		var inputs []uint32
		for _, bsid := range g.Inputs {
			input, err := resolve(bsid)
			if err != nil {
				return err
			}
			inputs = append(inputs, input)
		}
		b.addReference("dimg", id, inputs)
		ispeIdx := b.addProperty(&isobmff.ImageSpatialExtents{Width: g.OutputWidth, Height: g.OutputHeight})
		b.associate(id, []isobmff.PropertyAssociation{{Index: ispeIdx}})
	}
	for _, o := range d.Iovls {
		payload := make([]byte, 14+4*len(o.Offsets))
		payload[0] = 0
		payload[1] = 0 // 16-bit fields
		for i, fill := range o.CanvasFill {
			pio.PutU16BE(payload[2+2*i:], fill)
		}
		pio.PutU16BE(payload[10:], uint16(o.OutputWidth))
		pio.PutU16BE(payload[12:], uint16(o.OutputHeight))
		for i, off := range o.Offsets {
			pio.PutI16BE(payload[14+4*i:], int16(off.X))
			pio.PutI16BE(payload[14+4*i+2:], int16(off.Y))
		}
		id := b.addIdatItem("iovl", "", payload, false)
		var inputs []uint32
		for _, bsid := range o.Inputs {
			input, err := resolve(bsid)
			if err != nil {
				return err
			}
			inputs = append(inputs, input)
		}
		b.addReference("dimg", id, inputs)
		ispeIdx := b.addProperty(&isobmff.ImageSpatialExtents{Width: o.OutputWidth, Height: o.OutputHeight})
		b.associate(id, []isobmff.PropertyAssociation{{Index: ispeIdx}})
	}
	return nil
}

// addEgroups realizes entity groups over written items.
func (b *metaBuilder) addEgroups(groups []Egroup) error {
	for _, g := range groups {
		for _, list := range g.IdxsLists {
			var ids []uint32
			for _, bsid := range list {
				id, ok := b.bsidToItem[bsid]
				if !ok {
					return errs.Wrapf(errs.ErrInvalidManifest, "egroup uniq_bsid %d unresolved", bsid)
				}
				ids = append(ids, id)
			}
			b.groups = append(b.groups, &isobmff.EntityToGroupBox{
				GroupingType: "altr",
				GroupID:      b.nextGroupID,
				EntityIDs:    ids,
			})
			b.nextGroupID++
		}
	}
	return nil
}

// build assembles the MetaBox. Item locations keep mdat-relative offsets;
// Writer.Write patches the base offsets once the file layout is known.
func (b *metaBuilder) build() (*isobmff.MetaBox, *isobmff.ItemLocationBox) {
	iloc := &isobmff.ItemLocationBox{
		FullBox:   isobmff.FullBox{Version: 1},
		Locations: b.locations,
	}
	meta := &isobmff.MetaBox{}
	meta.Children = append(meta.Children,
		&isobmff.HandlerBox{HandlerType: "pict"},
		&isobmff.PrimaryItemBox{ItemID: b.primaryItem},
		&isobmff.ItemInfoBox{Entries: b.entries},
		iloc,
	)
	if len(b.references) > 0 {
		meta.Children = append(meta.Children, &isobmff.ItemReferenceBox{References: b.references})
	}
	meta.Children = append(meta.Children, &isobmff.ItemPropertiesBox{
		Container:    b.ipco,
		Associations: []*isobmff.ItemPropertyAssociationBox{b.ipma},
	})
	if len(b.idat) > 0 {
		meta.Children = append(meta.Children, &isobmff.ItemDataBox{Data: b.idat})
	}
	if len(b.groups) > 0 {
		meta.Children = append(meta.Children, &isobmff.GroupsListBox{Groups: b.groups})
	}
	log.Debug().Int("items", len(b.entries)).Int("properties", len(b.ipco.Children)).
		Msg("meta context assembled")
	return meta, iloc
}
