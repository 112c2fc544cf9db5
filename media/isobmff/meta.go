package isobmff

import (
	"github.com/bugVanisher/heif/common/errs"
	"github.com/bugVanisher/heif/utils/bits"
)

func init() {
	register("meta", parseMetaBox)
	register("hdlr", parseHandlerBox)
	register("pitm", parsePrimaryItemBox)
	register("iinf", parseItemInfoBox)
	register("infe", parseItemInfoEntry)
	register("iloc", parseItemLocationBox)
	register("iref", parseItemReferenceBox)
	register("idat", parseItemDataBox)
	register("dinf", parseContainer("dinf"))
	register("dref", parseDataReferenceBox)
	register("url ", parseDataEntryUrlBox)
	register("grpl", parseGroupsListBox)
	register("altr", parseEntityToGroupBox("altr"))
}

// MetaBox is the item-graph root. Children keep file declaration order.
type MetaBox struct {
	FullBox
	Children []Box
}

func parseMetaBox(h Header, payload []byte) (Box, error) {
	r := bits.NewReader(payload)
	fb, err := parseFullBox(r)
	if err != nil {
		return nil, err
	}
	children, err := ParseChildren(payload[r.Pos():])
	if err != nil {
		return nil, err
	}
	return &MetaBox{FullBox: fb, Children: children}, nil
}

func (b *MetaBox) Type() BoxType {
	return Type("meta")
}

func (b *MetaBox) Encode(w *bits.Writer) error {
	pos, err := beginFullBox(w, b.Type(), b.Version, b.Flags)
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

func (b *MetaBox) Handler() *HandlerBox {
	if h, ok := FindChild(b.Children, "hdlr").(*HandlerBox); ok {
		return h
	}
	return nil
}

func (b *MetaBox) PrimaryItem() *PrimaryItemBox {
	if p, ok := FindChild(b.Children, "pitm").(*PrimaryItemBox); ok {
		return p
	}
	return nil
}

func (b *MetaBox) ItemInfo() *ItemInfoBox {
	if p, ok := FindChild(b.Children, "iinf").(*ItemInfoBox); ok {
		return p
	}
	return nil
}

func (b *MetaBox) ItemLocation() *ItemLocationBox {
	if p, ok := FindChild(b.Children, "iloc").(*ItemLocationBox); ok {
		return p
	}
	return nil
}

func (b *MetaBox) ItemReference() *ItemReferenceBox {
	if p, ok := FindChild(b.Children, "iref").(*ItemReferenceBox); ok {
		return p
	}
	return nil
}

func (b *MetaBox) ItemProperties() *ItemPropertiesBox {
	if p, ok := FindChild(b.Children, "iprp").(*ItemPropertiesBox); ok {
		return p
	}
	return nil
}

func (b *MetaBox) ItemData() *ItemDataBox {
	if p, ok := FindChild(b.Children, "idat").(*ItemDataBox); ok {
		return p
	}
	return nil
}

func (b *MetaBox) GroupsList() *GroupsListBox {
	if p, ok := FindChild(b.Children, "grpl").(*GroupsListBox); ok {
		return p
	}
	return nil
}

// HandlerBox declares the context handler type ('pict', 'vide', 'meta').
type HandlerBox struct {
	FullBox
	HandlerType string
	Name        string
}

func parseHandlerBox(h Header, payload []byte) (Box, error) {
	r := bits.NewReader(payload)
	fb, err := parseFullBox(r)
	if err != nil {
		return nil, err
	}
	if _, err := r.ReadU32(); err != nil { // pre_defined
		return nil, err
	}
	handler, err := r.ReadBytes(4)
	if err != nil {
		return nil, err
	}
	if err := r.SkipBits(3 * 32); err != nil { // reserved u32[3]
		return nil, err
	}
	b := &HandlerBox{FullBox: fb, HandlerType: string(handler)}
	if r.BytesLeft() > 0 {
		if name, err := r.ReadString(); err == nil {
			b.Name = name
		}
	}
	return b, nil
}

func (b *HandlerBox) Type() BoxType {
	return Type("hdlr")
}

func (b *HandlerBox) Encode(w *bits.Writer) error {
	pos, err := beginFullBox(w, b.Type(), b.Version, b.Flags)
	if err != nil {
		return err
	}
	if err := w.WriteU32(0); err != nil {
		return err
	}
	handlerType := Type(b.HandlerType)
	if err := w.WriteBytes(handlerType[:]); err != nil {
		return err
	}
	for i := 0; i < 3; i++ {
		if err := w.WriteU32(0); err != nil {
			return err
		}
	}
	if err := w.WriteString(b.Name); err != nil {
		return err
	}
	return endBox(w, pos)
}

// PrimaryItemBox names the cover image item.
type PrimaryItemBox struct {
	FullBox
	ItemID uint32
}

func parsePrimaryItemBox(h Header, payload []byte) (Box, error) {
	r := bits.NewReader(payload)
	fb, err := parseFullBox(r)
	if err != nil {
		return nil, err
	}
	b := &PrimaryItemBox{FullBox: fb}
	if fb.Version == 0 {
		id, err := r.ReadU16()
		if err != nil {
			return nil, err
		}
		b.ItemID = uint32(id)
	} else {
		id, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		b.ItemID = id
	}
	return b, nil
}

func (b *PrimaryItemBox) Type() BoxType {
	return Type("pitm")
}

func (b *PrimaryItemBox) Encode(w *bits.Writer) error {
	pos, err := beginFullBox(w, b.Type(), b.Version, b.Flags)
	if err != nil {
		return err
	}
	if b.Version == 0 {
		if err := w.WriteU16(uint16(b.ItemID)); err != nil {
			return err
		}
	} else {
		if err := w.WriteU32(b.ItemID); err != nil {
			return err
		}
	}
	return endBox(w, pos)
}

// ItemInfoBox lists item info entries in declaration order.
type ItemInfoBox struct {
	FullBox
	Entries []*ItemInfoEntry
}

func parseItemInfoBox(h Header, payload []byte) (Box, error) {
	r := bits.NewReader(payload)
	fb, err := parseFullBox(r)
	if err != nil {
		return nil, err
	}
	var count uint32
	if fb.Version == 0 {
		c, err := r.ReadU16()
		if err != nil {
			return nil, err
		}
		count = uint32(c)
	} else {
		c, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		count = c
	}
	children, err := ParseChildren(payload[r.Pos():])
	if err != nil {
		return nil, err
	}
	b := &ItemInfoBox{FullBox: fb}
	for _, c := range children {
		if e, ok := c.(*ItemInfoEntry); ok {
			b.Entries = append(b.Entries, e)
		}
	}
	if uint32(len(b.Entries)) != count {
		return nil, errs.Wrapf(errs.ErrMalformedBitstream,
			"iinf declares %d entries, found %d", count, len(b.Entries))
	}
	return b, nil
}

func (b *ItemInfoBox) Type() BoxType {
	return Type("iinf")
}

func (b *ItemInfoBox) Encode(w *bits.Writer) error {
	pos, err := beginFullBox(w, b.Type(), b.Version, b.Flags)
	if err != nil {
		return err
	}
	if b.Version == 0 {
		if err := w.WriteU16(uint16(len(b.Entries))); err != nil {
			return err
		}
	} else {
		if err := w.WriteU32(uint32(len(b.Entries))); err != nil {
			return err
		}
	}
	for _, e := range b.Entries {
		if err := e.Encode(w); err != nil {
			return err
		}
	}
	return endBox(w, pos)
}

func (b *ItemInfoBox) EntryByID(id uint32) *ItemInfoEntry {
	for _, e := range b.Entries {
		if e.ItemID == id {
			return e
		}
	}
	return nil
}

// ItemInfoEntry describes one item. Versions 2 and 3 are the HEIF forms.
type ItemInfoEntry struct {
	FullBox
	ItemID          uint32
	ProtectionIndex uint16
	ItemType        string
	ItemName        string
	ContentType     string // item type "mime"
	ContentEncoding string
	ItemURIType     string // item type "uri "
}

// Hidden reports the (flags & 1) hidden-item bit.
func (b *ItemInfoEntry) Hidden() bool {
	return b.Flags&1 == 1
}

func parseItemInfoEntry(h Header, payload []byte) (Box, error) {
	r := bits.NewReader(payload)
	fb, err := parseFullBox(r)
	if err != nil {
		return nil, err
	}
	if fb.Version < 2 {
		return nil, errs.Wrapf(errs.ErrUnsupportedFeature, "infe version %d", fb.Version)
	}
	b := &ItemInfoEntry{FullBox: fb}
	if fb.Version == 2 {
		id, err := r.ReadU16()
		if err != nil {
			return nil, err
		}
		b.ItemID = uint32(id)
	} else {
		id, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		b.ItemID = id
	}
	if b.ProtectionIndex, err = r.ReadU16(); err != nil {
		return nil, err
	}
	itemType, err := r.ReadBytes(4)
	if err != nil {
		return nil, err
	}
	b.ItemType = string(itemType)
	if b.ItemName, err = r.ReadString(); err != nil {
		return nil, err
	}
	switch b.ItemType {
	case "mime":
		if b.ContentType, err = r.ReadString(); err != nil {
			return nil, err
		}
		if r.BytesLeft() > 0 {
			if b.ContentEncoding, err = r.ReadString(); err != nil {
				return nil, err
			}
		}
	case "uri ":
		if b.ItemURIType, err = r.ReadString(); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (b *ItemInfoEntry) Type() BoxType {
	return Type("infe")
}

func (b *ItemInfoEntry) Encode(w *bits.Writer) error {
	version := b.Version
	if version < 2 {
		version = 2
	}
	if b.ItemID > 0xffff && version == 2 {
		version = 3
	}
	pos, err := beginFullBox(w, b.Type(), version, b.Flags)
	if err != nil {
		return err
	}
	if version == 2 {
		if err := w.WriteU16(uint16(b.ItemID)); err != nil {
			return err
		}
	} else {
		if err := w.WriteU32(b.ItemID); err != nil {
			return err
		}
	}
	if err := w.WriteU16(b.ProtectionIndex); err != nil {
		return err
	}
	itemType := Type(b.ItemType)
	if err := w.WriteBytes(itemType[:]); err != nil {
		return err
	}
	if err := w.WriteString(b.ItemName); err != nil {
		return err
	}
	switch b.ItemType {
	case "mime":
		if err := w.WriteString(b.ContentType); err != nil {
			return err
		}
		if b.ContentEncoding != "" {
			if err := w.WriteString(b.ContentEncoding); err != nil {
				return err
			}
		}
	case "uri ":
		if err := w.WriteString(b.ItemURIType); err != nil {
			return err
		}
	}
	return endBox(w, pos)
}

// Item location construction methods.
const (
	ConstructionFileOffset = 0
	ConstructionIdatOffset = 1
	ConstructionItemOffset = 2
)

// ItemExtent is one contiguous span of item data.
type ItemExtent struct {
	Index  uint64 // only with index_size > 0
	Offset uint64
	Length uint64
}

// ItemLocation locates one item's data through its extents.
type ItemLocation struct {
	ItemID             uint32
	ConstructionMethod uint8
	DataReferenceIndex uint16
	BaseOffset         uint64
	Extents            []ItemExtent
}

// ItemLocationBox carries the iloc table. The parsed field widths are
// recorded, but Encode does not use them: it always writes 4-byte offset,
// length and base-offset fields and no extent index.
type ItemLocationBox struct {
	FullBox
	OffsetSize     uint8
	LengthSize     uint8
	BaseOffsetSize uint8
	IndexSize      uint8
	Locations      []ItemLocation
}

func parseItemLocationBox(h Header, payload []byte) (Box, error) {
	r := bits.NewReader(payload)
	fb, err := parseFullBox(r)
	if err != nil {
		return nil, err
	}
	if fb.Version > 2 {
		return nil, errs.Wrapf(errs.ErrUnsupportedFeature, "iloc version %d", fb.Version)
	}
	b := &ItemLocationBox{FullBox: fb}
	sizes, err := r.ReadBits(16)
	if err != nil {
		return nil, err
	}
	b.OffsetSize = uint8(sizes >> 12 & 0xf)
	b.LengthSize = uint8(sizes >> 8 & 0xf)
	b.BaseOffsetSize = uint8(sizes >> 4 & 0xf)
	b.IndexSize = uint8(sizes & 0xf)
	for _, s := range []uint8{b.OffsetSize, b.LengthSize, b.BaseOffsetSize} {
		if s != 0 && s != 4 && s != 8 {
			return nil, errs.Wrapf(errs.ErrMalformedBitstream, "iloc field size %d", s)
		}
	}
	var count uint32
	if fb.Version < 2 {
		c, err := r.ReadU16()
		if err != nil {
			return nil, err
		}
		count = uint32(c)
	} else {
		if count, err = r.ReadU32(); err != nil {
			return nil, err
		}
	}
	readSized := func(size uint8) (uint64, error) {
		switch size {
		case 0:
			return 0, nil
		case 4:
			v, err := r.ReadU32()
			return uint64(v), err
		default:
			return r.ReadU64()
		}
	}
	for i := uint32(0); i < count; i++ {
		var loc ItemLocation
		if fb.Version < 2 {
			id, err := r.ReadU16()
			if err != nil {
				return nil, err
			}
			loc.ItemID = uint32(id)
		} else {
			if loc.ItemID, err = r.ReadU32(); err != nil {
				return nil, err
			}
		}
		if fb.Version == 1 || fb.Version == 2 {
			v, err := r.ReadU16()
			if err != nil {
				return nil, err
			}
			loc.ConstructionMethod = uint8(v & 0xf)
		}
		if loc.DataReferenceIndex, err = r.ReadU16(); err != nil {
			return nil, err
		}
		if loc.BaseOffset, err = readSized(b.BaseOffsetSize); err != nil {
			return nil, err
		}
		extentCount, err := r.ReadU16()
		if err != nil {
			return nil, err
		}
		for e := uint16(0); e < extentCount; e++ {
			var ext ItemExtent
			if (fb.Version == 1 || fb.Version == 2) && b.IndexSize > 0 {
				if ext.Index, err = readSized(b.IndexSize); err != nil {
					return nil, err
				}
			}
			if ext.Offset, err = readSized(b.OffsetSize); err != nil {
				return nil, err
			}
			if ext.Length, err = readSized(b.LengthSize); err != nil {
				return nil, err
			}
			loc.Extents = append(loc.Extents, ext)
		}
		b.Locations = append(b.Locations, loc)
	}
	return b, nil
}

func (b *ItemLocationBox) Type() BoxType {
	return Type("iloc")
}

func (b *ItemLocationBox) Encode(w *bits.Writer) error {
	version := b.Version
	for _, loc := range b.Locations {
		if loc.ConstructionMethod != 0 && version == 0 {
			version = 1
		}
		if loc.ItemID > 0xffff {
			version = 2
		}
	}
	pos, err := beginFullBox(w, b.Type(), version, b.Flags)
	if err != nil {
		return err
	}
	// offset_size=4 length_size=4 base_offset_size=4 index_size=0
	if err := w.WriteU16(0x4440); err != nil {
		return err
	}
	if version < 2 {
		if err := w.WriteU16(uint16(len(b.Locations))); err != nil {
			return err
		}
	} else {
		if err := w.WriteU32(uint32(len(b.Locations))); err != nil {
			return err
		}
	}
	for _, loc := range b.Locations {
		if version < 2 {
			if err := w.WriteU16(uint16(loc.ItemID)); err != nil {
				return err
			}
		} else {
			if err := w.WriteU32(loc.ItemID); err != nil {
				return err
			}
		}
		if version >= 1 {
			if err := w.WriteU16(uint16(loc.ConstructionMethod)); err != nil {
				return err
			}
		}
		if err := w.WriteU16(loc.DataReferenceIndex); err != nil {
			return err
		}
		if err := w.WriteU32(uint32(loc.BaseOffset)); err != nil {
			return err
		}
		if err := w.WriteU16(uint16(len(loc.Extents))); err != nil {
			return err
		}
		for _, ext := range loc.Extents {
			if err := w.WriteU32(uint32(ext.Offset)); err != nil {
				return err
			}
			if err := w.WriteU32(uint32(ext.Length)); err != nil {
				return err
			}
		}
	}
	return endBox(w, pos)
}

func (b *ItemLocationBox) LocationByID(id uint32) *ItemLocation {
	for i := range b.Locations {
		if b.Locations[i].ItemID == id {
			return &b.Locations[i]
		}
	}
	return nil
}

// ItemReference is one directed typed edge set of the reference graph.
type ItemReference struct {
	ReferenceType string
	FromItemID    uint32
	ToItemIDs     []uint32
}

// ItemReferenceBox carries all reference edges in declaration order.
type ItemReferenceBox struct {
	FullBox
	References []ItemReference
}

func parseItemReferenceBox(h Header, payload []byte) (Box, error) {
	r := bits.NewReader(payload)
	fb, err := parseFullBox(r)
	if err != nil {
		return nil, err
	}
	b := &ItemReferenceBox{FullBox: fb}
	data := payload[r.Pos():]
	for len(data) > 0 {
		rh, err := ParseHeader(data)
		if err != nil {
			return nil, err
		}
		rr := bits.NewReader(data[rh.HeaderSize:rh.Size])
		ref := ItemReference{ReferenceType: rh.BoxType.String()}
		if fb.Version == 0 {
			from, err := rr.ReadU16()
			if err != nil {
				return nil, err
			}
			ref.FromItemID = uint32(from)
		} else {
			if ref.FromItemID, err = rr.ReadU32(); err != nil {
				return nil, err
			}
		}
		count, err := rr.ReadU16()
		if err != nil {
			return nil, err
		}
		for i := uint16(0); i < count; i++ {
			if fb.Version == 0 {
				to, err := rr.ReadU16()
				if err != nil {
					return nil, err
				}
				ref.ToItemIDs = append(ref.ToItemIDs, uint32(to))
			} else {
				to, err := rr.ReadU32()
				if err != nil {
					return nil, err
				}
				ref.ToItemIDs = append(ref.ToItemIDs, to)
			}
		}
		b.References = append(b.References, ref)
		data = data[rh.Size:]
	}
	return b, nil
}

func (b *ItemReferenceBox) Type() BoxType {
	return Type("iref")
}

func (b *ItemReferenceBox) Encode(w *bits.Writer) error {
	version := b.Version
	for _, ref := range b.References {
		if ref.FromItemID > 0xffff {
			version = 1
		}
		for _, to := range ref.ToItemIDs {
			if to > 0xffff {
				version = 1
			}
		}
	}
	pos, err := beginFullBox(w, b.Type(), version, b.Flags)
	if err != nil {
		return err
	}
	for _, ref := range b.References {
		rpos, err := beginBox(w, Type(ref.ReferenceType))
		if err != nil {
			return err
		}
		if version == 0 {
			if err := w.WriteU16(uint16(ref.FromItemID)); err != nil {
				return err
			}
		} else {
			if err := w.WriteU32(ref.FromItemID); err != nil {
				return err
			}
		}
		if err := w.WriteU16(uint16(len(ref.ToItemIDs))); err != nil {
			return err
		}
		for _, to := range ref.ToItemIDs {
			if version == 0 {
				if err := w.WriteU16(uint16(to)); err != nil {
					return err
				}
			} else {
				if err := w.WriteU32(to); err != nil {
					return err
				}
			}
		}
		if err := endBox(w, rpos); err != nil {
			return err
		}
	}
	return endBox(w, pos)
}

// ReferencesFrom returns the targets of every refType edge leaving fromID,
// in declaration order.
func (b *ItemReferenceBox) ReferencesFrom(fromID uint32, refType string) []uint32 {
	var out []uint32
	for _, ref := range b.References {
		if ref.FromItemID == fromID && ref.ReferenceType == refType {
			out = append(out, ref.ToItemIDs...)
		}
	}
	return out
}

// ReferencesTo returns the sources of every refType edge arriving at toID.
func (b *ItemReferenceBox) ReferencesTo(toID uint32, refType string) []uint32 {
	var out []uint32
	for _, ref := range b.References {
		if ref.ReferenceType != refType {
			continue
		}
		for _, to := range ref.ToItemIDs {
			if to == toID {
				out = append(out, ref.FromItemID)
				break
			}
		}
	}
	return out
}

// ItemDataBox stores inline item payloads (construction method 1).
type ItemDataBox struct {
	Data []byte
}

func parseItemDataBox(h Header, payload []byte) (Box, error) {
	return &ItemDataBox{Data: payload}, nil
}

func (b *ItemDataBox) Type() BoxType {
	return Type("idat")
}

func (b *ItemDataBox) Encode(w *bits.Writer) error {
	pos, err := beginBox(w, b.Type())
	if err != nil {
		return err
	}
	if err := w.WriteBytes(b.Data); err != nil {
		return err
	}
	return endBox(w, pos)
}

// DataReferenceBox indexes data entry boxes; index 1 with the self-contained
// flag means "this file".
type DataReferenceBox struct {
	FullBox
	Entries []Box
}

func parseDataReferenceBox(h Header, payload []byte) (Box, error) {
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
	return &DataReferenceBox{FullBox: fb, Entries: entries}, nil
}

func (b *DataReferenceBox) Type() BoxType {
	return Type("dref")
}

func (b *DataReferenceBox) Encode(w *bits.Writer) error {
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

// DataEntryUrlBox with flag 1 declares self-contained data.
type DataEntryUrlBox struct {
	FullBox
	Location string
}

func parseDataEntryUrlBox(h Header, payload []byte) (Box, error) {
	r := bits.NewReader(payload)
	fb, err := parseFullBox(r)
	if err != nil {
		return nil, err
	}
	b := &DataEntryUrlBox{FullBox: fb}
	if fb.Flags&1 == 0 && r.BytesLeft() > 0 {
		if b.Location, err = r.ReadString(); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (b *DataEntryUrlBox) Type() BoxType {
	return Type("url ")
}

func (b *DataEntryUrlBox) Encode(w *bits.Writer) error {
	pos, err := beginFullBox(w, b.Type(), b.Version, b.Flags)
	if err != nil {
		return err
	}
	if b.Flags&1 == 0 {
		if err := w.WriteString(b.Location); err != nil {
			return err
		}
	}
	return endBox(w, pos)
}

// GroupsListBox holds entity-to-group boxes.
type GroupsListBox struct {
	Groups []*EntityToGroupBox
}

func parseGroupsListBox(h Header, payload []byte) (Box, error) {
	children, err := ParseChildren(payload)
	if err != nil {
		return nil, err
	}
	b := &GroupsListBox{}
	for _, c := range children {
		if g, ok := c.(*EntityToGroupBox); ok {
			b.Groups = append(b.Groups, g)
		}
	}
	return b, nil
}

func (b *GroupsListBox) Type() BoxType {
	return Type("grpl")
}

func (b *GroupsListBox) Encode(w *bits.Writer) error {
	pos, err := beginBox(w, b.Type())
	if err != nil {
		return err
	}
	for _, g := range b.Groups {
		if err := g.Encode(w); err != nil {
			return err
		}
	}
	return endBox(w, pos)
}

// EntityToGroupBox binds entity ids into one group ('altr' for alternates).
type EntityToGroupBox struct {
	FullBox
	GroupingType string
	GroupID      uint32
	EntityIDs    []uint32
}

func parseEntityToGroupBox(tag string) parseFunc {
	return func(h Header, payload []byte) (Box, error) {
		r := bits.NewReader(payload)
		fb, err := parseFullBox(r)
		if err != nil {
			return nil, err
		}
		b := &EntityToGroupBox{FullBox: fb, GroupingType: tag}
		if b.GroupID, err = r.ReadU32(); err != nil {
			return nil, err
		}
		count, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		for i := uint32(0); i < count; i++ {
			id, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			b.EntityIDs = append(b.EntityIDs, id)
		}
		return b, nil
	}
}

func (b *EntityToGroupBox) Type() BoxType {
	return Type(b.GroupingType)
}

func (b *EntityToGroupBox) Encode(w *bits.Writer) error {
	pos, err := beginFullBox(w, b.Type(), b.Version, b.Flags)
	if err != nil {
		return err
	}
	if err := w.WriteU32(b.GroupID); err != nil {
		return err
	}
	if err := w.WriteU32(uint32(len(b.EntityIDs))); err != nil {
		return err
	}
	for _, id := range b.EntityIDs {
		if err := w.WriteU32(id); err != nil {
			return err
		}
	}
	return endBox(w, pos)
}
