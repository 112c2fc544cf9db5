package isobmff

import (
	"github.com/bugVanisher/heif/common/errs"
	"github.com/bugVanisher/heif/utils/bits"
)

func init() {
	register("iprp", parseItemPropertiesBox)
	register("ipco", parseContainer("ipco"))
	register("ipma", parseItemPropertyAssociationBox)
	register("ispe", parseImageSpatialExtents)
	register("irot", parseImageRotation)
	register("imir", parseImageMirror)
	register("clap", parseCleanAperture)
	register("rloc", parseRelativeLocation)
	register("auxC", parseAuxiliaryType)
	register("lsel", parseLayerSelector)
	register("tols", parseTargetOlsProperty)
	register("oinf", parseOperatingPointsInformation)
}

// ItemPropertiesBox pairs the property container with association tables.
type ItemPropertiesBox struct {
	Container    *ContainerBox // ipco
	Associations []*ItemPropertyAssociationBox
}

func parseItemPropertiesBox(h Header, payload []byte) (Box, error) {
	children, err := ParseChildren(payload)
	if err != nil {
		return nil, err
	}
	b := &ItemPropertiesBox{}
	for _, c := range children {
		switch v := c.(type) {
		case *ContainerBox:
			if v.Tag == Type("ipco") {
				b.Container = v
			}
		case *ItemPropertyAssociationBox:
			b.Associations = append(b.Associations, v)
		}
	}
	if b.Container == nil {
		return nil, errs.Wrapf(errs.ErrMalformedBitstream, "iprp without ipco")
	}
	return b, nil
}

func (b *ItemPropertiesBox) Type() BoxType {
	return Type("iprp")
}

func (b *ItemPropertiesBox) Encode(w *bits.Writer) error {
	pos, err := beginBox(w, b.Type())
	if err != nil {
		return err
	}
	if err := b.Container.Encode(w); err != nil {
		return err
	}
	for _, a := range b.Associations {
		if err := a.Encode(w); err != nil {
			return err
		}
	}
	return endBox(w, pos)
}

// PropertyByIndex resolves a 1-based ipco index.
func (b *ItemPropertiesBox) PropertyByIndex(index uint32) (Box, error) {
	if index == 0 || index > uint32(len(b.Container.Children)) {
		return nil, errs.ErrInvalidPropertyIndex
	}
	return b.Container.Children[index-1], nil
}

// AssociationsOf lists an item's (index, essential) pairs in listed order.
func (b *ItemPropertiesBox) AssociationsOf(itemID uint32) []PropertyAssociation {
	for _, a := range b.Associations {
		if entry := a.entryByID(itemID); entry != nil {
			return entry.Associations
		}
	}
	return nil
}

// PropertyAssociation is one (property index, essential) pair.
type PropertyAssociation struct {
	Index     uint32 // 1-based into ipco, 0 reserved
	Essential bool
}

type ipmaEntry struct {
	ItemID       uint32
	Associations []PropertyAssociation
}

// ItemPropertyAssociationBox maps items to property indexes.
type ItemPropertyAssociationBox struct {
	FullBox
	Entries []ipmaEntry
}

func parseItemPropertyAssociationBox(h Header, payload []byte) (Box, error) {
	r := bits.NewReader(payload)
	fb, err := parseFullBox(r)
	if err != nil {
		return nil, err
	}
	b := &ItemPropertyAssociationBox{FullBox: fb}
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	wideIndex := fb.Flags&1 == 1
	for i := uint32(0); i < count; i++ {
		var entry ipmaEntry
		if fb.Version == 0 {
			id, err := r.ReadU16()
			if err != nil {
				return nil, err
			}
			entry.ItemID = uint32(id)
		} else {
			if entry.ItemID, err = r.ReadU32(); err != nil {
				return nil, err
			}
		}
		assocCount, err := r.ReadU8()
		if err != nil {
			return nil, err
		}
		for a := uint8(0); a < assocCount; a++ {
			width := 8
			if wideIndex {
				width = 16
			}
			v, err := r.ReadBits(width)
			if err != nil {
				return nil, err
			}
			essential := v>>(uint(width)-1) == 1
			index := v & (1<<(uint(width)-1) - 1)
			entry.Associations = append(entry.Associations, PropertyAssociation{Index: index, Essential: essential})
		}
		b.Entries = append(b.Entries, entry)
	}
	return b, nil
}

func (b *ItemPropertyAssociationBox) Type() BoxType {
	return Type("ipma")
}

func (b *ItemPropertyAssociationBox) Encode(w *bits.Writer) error {
	pos, err := beginFullBox(w, b.Type(), b.Version, b.Flags)
	if err != nil {
		return err
	}
	if err := w.WriteU32(uint32(len(b.Entries))); err != nil {
		return err
	}
	wideIndex := b.Flags&1 == 1
	for _, entry := range b.Entries {
		if b.Version == 0 {
			if err := w.WriteU16(uint16(entry.ItemID)); err != nil {
				return err
			}
		} else {
			if err := w.WriteU32(entry.ItemID); err != nil {
				return err
			}
		}
		if err := w.WriteU8(uint8(len(entry.Associations))); err != nil {
			return err
		}
		for _, a := range entry.Associations {
			width := 8
			if wideIndex {
				width = 16
			}
			v := a.Index
			if a.Essential {
				v |= 1 << (uint(width) - 1)
			}
			w.WriteBits(v, width)
		}
	}
	return endBox(w, pos)
}

func (b *ItemPropertyAssociationBox) entryByID(itemID uint32) *ipmaEntry {
	for i := range b.Entries {
		if b.Entries[i].ItemID == itemID {
			return &b.Entries[i]
		}
	}
	return nil
}

// AddEntry appends an item's association list.
func (b *ItemPropertyAssociationBox) AddEntry(itemID uint32, assocs []PropertyAssociation) {
	b.Entries = append(b.Entries, ipmaEntry{ItemID: itemID, Associations: assocs})
}

// ImageSpatialExtents is the ispe property.
type ImageSpatialExtents struct {
	FullBox
	Width  uint32
	Height uint32
}

func parseImageSpatialExtents(h Header, payload []byte) (Box, error) {
	r := bits.NewReader(payload)
	fb, err := parseFullBox(r)
	if err != nil {
		return nil, err
	}
	b := &ImageSpatialExtents{FullBox: fb}
	if b.Width, err = r.ReadU32(); err != nil {
		return nil, err
	}
	if b.Height, err = r.ReadU32(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *ImageSpatialExtents) Type() BoxType {
	return Type("ispe")
}

func (b *ImageSpatialExtents) Encode(w *bits.Writer) error {
	pos, err := beginFullBox(w, b.Type(), b.Version, b.Flags)
	if err != nil {
		return err
	}
	if err := w.WriteU32(b.Width); err != nil {
		return err
	}
	if err := w.WriteU32(b.Height); err != nil {
		return err
	}
	return endBox(w, pos)
}

// ImageRotation is the irot transform, counter-clockwise degrees.
type ImageRotation struct {
	Angle uint16 // 0, 90, 180, 270
}

func parseImageRotation(h Header, payload []byte) (Box, error) {
	r := bits.NewReader(payload)
	v, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	return &ImageRotation{Angle: uint16(v&3) * 90}, nil
}

func (b *ImageRotation) Type() BoxType {
	return Type("irot")
}

func (b *ImageRotation) Encode(w *bits.Writer) error {
	pos, err := beginBox(w, b.Type())
	if err != nil {
		return err
	}
	if err := w.WriteU8(uint8(b.Angle/90) & 3); err != nil {
		return err
	}
	return endBox(w, pos)
}

// Mirror axes for imir.
const (
	MirrorAxisVertical   = 0 // left-right swap
	MirrorAxisHorizontal = 1 // top-bottom swap
)

// ImageMirror is the imir transform.
type ImageMirror struct {
	Axis uint8
}

func parseImageMirror(h Header, payload []byte) (Box, error) {
	r := bits.NewReader(payload)
	v, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	return &ImageMirror{Axis: v & 1}, nil
}

func (b *ImageMirror) Type() BoxType {
	return Type("imir")
}

func (b *ImageMirror) Encode(w *bits.Writer) error {
	pos, err := beginBox(w, b.Type())
	if err != nil {
		return err
	}
	if err := w.WriteU8(b.Axis & 1); err != nil {
		return err
	}
	return endBox(w, pos)
}

// CleanAperture is the clap crop property, all fields rationals.
type CleanAperture struct {
	WidthN, WidthD   uint32
	HeightN, HeightD uint32
	HorizOffN        int32
	HorizOffD        uint32
	VertOffN         int32
	VertOffD         uint32
}

func parseCleanAperture(h Header, payload []byte) (Box, error) {
	r := bits.NewReader(payload)
	b := &CleanAperture{}
	var err error
	if b.WidthN, err = r.ReadU32(); err != nil {
		return nil, err
	}
	if b.WidthD, err = r.ReadU32(); err != nil {
		return nil, err
	}
	if b.HeightN, err = r.ReadU32(); err != nil {
		return nil, err
	}
	if b.HeightD, err = r.ReadU32(); err != nil {
		return nil, err
	}
	horizN, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	b.HorizOffN = int32(horizN)
	if b.HorizOffD, err = r.ReadU32(); err != nil {
		return nil, err
	}
	vertN, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	b.VertOffN = int32(vertN)
	if b.VertOffD, err = r.ReadU32(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *CleanAperture) Type() BoxType {
	return Type("clap")
}

func (b *CleanAperture) Encode(w *bits.Writer) error {
	pos, err := beginBox(w, b.Type())
	if err != nil {
		return err
	}
	for _, v := range []uint32{
		b.WidthN, b.WidthD, b.HeightN, b.HeightD,
		uint32(b.HorizOffN), b.HorizOffD, uint32(b.VertOffN), b.VertOffD,
	} {
		if err := w.WriteU32(v); err != nil {
			return err
		}
	}
	return endBox(w, pos)
}

// RelativeLocation is the rloc property placing a tile on a canvas.
type RelativeLocation struct {
	FullBox
	HorizontalOffset uint32
	VerticalOffset   uint32
}

func parseRelativeLocation(h Header, payload []byte) (Box, error) {
	r := bits.NewReader(payload)
	fb, err := parseFullBox(r)
	if err != nil {
		return nil, err
	}
	b := &RelativeLocation{FullBox: fb}
	if b.HorizontalOffset, err = r.ReadU32(); err != nil {
		return nil, err
	}
	if b.VerticalOffset, err = r.ReadU32(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *RelativeLocation) Type() BoxType {
	return Type("rloc")
}

func (b *RelativeLocation) Encode(w *bits.Writer) error {
	pos, err := beginFullBox(w, b.Type(), b.Version, b.Flags)
	if err != nil {
		return err
	}
	if err := w.WriteU32(b.HorizontalOffset); err != nil {
		return err
	}
	if err := w.WriteU32(b.VerticalOffset); err != nil {
		return err
	}
	return endBox(w, pos)
}

// AuxiliaryType is the auxC property tagging an auxiliary image's role.
type AuxiliaryType struct {
	FullBox
	AuxType    string
	AuxSubType []byte
}

func parseAuxiliaryType(h Header, payload []byte) (Box, error) {
	r := bits.NewReader(payload)
	fb, err := parseFullBox(r)
	if err != nil {
		return nil, err
	}
	b := &AuxiliaryType{FullBox: fb}
	if b.AuxType, err = r.ReadString(); err != nil {
		return nil, err
	}
	if r.BytesLeft() > 0 {
		if b.AuxSubType, err = r.ReadBytes(r.BytesLeft()); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (b *AuxiliaryType) Type() BoxType {
	return Type("auxC")
}

func (b *AuxiliaryType) Encode(w *bits.Writer) error {
	pos, err := beginFullBox(w, b.Type(), b.Version, b.Flags)
	if err != nil {
		return err
	}
	if err := w.WriteString(b.AuxType); err != nil {
		return err
	}
	if err := w.WriteBytes(b.AuxSubType); err != nil {
		return err
	}
	return endBox(w, pos)
}

// LayerSelector is the lsel property choosing a coded layer.
type LayerSelector struct {
	LayerID uint16
}

func parseLayerSelector(h Header, payload []byte) (Box, error) {
	r := bits.NewReader(payload)
	id, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	return &LayerSelector{LayerID: id}, nil
}

func (b *LayerSelector) Type() BoxType {
	return Type("lsel")
}

func (b *LayerSelector) Encode(w *bits.Writer) error {
	pos, err := beginBox(w, b.Type())
	if err != nil {
		return err
	}
	if err := w.WriteU16(b.LayerID); err != nil {
		return err
	}
	return endBox(w, pos)
}

// TargetOlsProperty is the tols operating-point selection.
type TargetOlsProperty struct {
	FullBox
	TargetOlsIndex uint16
}

func parseTargetOlsProperty(h Header, payload []byte) (Box, error) {
	r := bits.NewReader(payload)
	fb, err := parseFullBox(r)
	if err != nil {
		return nil, err
	}
	idx, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	return &TargetOlsProperty{FullBox: fb, TargetOlsIndex: idx}, nil
}

func (b *TargetOlsProperty) Type() BoxType {
	return Type("tols")
}

func (b *TargetOlsProperty) Encode(w *bits.Writer) error {
	pos, err := beginFullBox(w, b.Type(), b.Version, b.Flags)
	if err != nil {
		return err
	}
	if err := w.WriteU16(b.TargetOlsIndex); err != nil {
		return err
	}
	return endBox(w, pos)
}

// OperatingPointLayer describes one layer inside an operating point.
type OperatingPointLayer struct {
	LayerID               uint8
	IsOutputLayer         bool
	IsAlternateOutput     bool
}

// OperatingPoint is one output layer set entry of oinf.
type OperatingPoint struct {
	OutputLayerSetIndex uint16
	MaxTemporalID       uint8
	Layers              []OperatingPointLayer
	MinPicWidth         uint16
	MinPicHeight        uint16
	MaxPicWidth         uint16
	MaxPicHeight        uint16
}

// OperatingPointsInformation is the oinf property for layered HEVC.
type OperatingPointsInformation struct {
	FullBox
	ScalabilityMask uint16
	ProfileTierLevels [][]byte // opaque 12-byte PTL records
	OperatingPoints   []OperatingPoint
	MaxLayerCount     uint8
	LayerIDs          []uint8
}

func parseOperatingPointsInformation(h Header, payload []byte) (Box, error) {
	r := bits.NewReader(payload)
	fb, err := parseFullBox(r)
	if err != nil {
		return nil, err
	}
	b := &OperatingPointsInformation{FullBox: fb}
	if b.ScalabilityMask, err = r.ReadU16(); err != nil {
		return nil, err
	}
	v, err := r.ReadBits(8)
	if err != nil {
		return nil, err
	}
	numProfileTierLevel := int(v & 0x3f)
	for i := 0; i < numProfileTierLevel; i++ {
		ptl, err := r.ReadBytes(12)
		if err != nil {
			return nil, err
		}
		b.ProfileTierLevels = append(b.ProfileTierLevels, ptl)
	}
	opCount, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	for i := uint16(0); i < opCount; i++ {
		var op OperatingPoint
		if op.OutputLayerSetIndex, err = r.ReadU16(); err != nil {
			return nil, err
		}
		tid, err := r.ReadU8()
		if err != nil {
			return nil, err
		}
		op.MaxTemporalID = tid
		layerCount, err := r.ReadU8()
		if err != nil {
			return nil, err
		}
		for l := uint8(0); l < layerCount; l++ {
			lv, err := r.ReadBits(8)
			if err != nil {
				return nil, err
			}
			op.Layers = append(op.Layers, OperatingPointLayer{
				LayerID:           uint8(lv >> 2),
				IsOutputLayer:     lv>>1&1 == 1,
				IsAlternateOutput: lv&1 == 1,
			})
		}
		if op.MinPicWidth, err = r.ReadU16(); err != nil {
			return nil, err
		}
		if op.MinPicHeight, err = r.ReadU16(); err != nil {
			return nil, err
		}
		if op.MaxPicWidth, err = r.ReadU16(); err != nil {
			return nil, err
		}
		if op.MaxPicHeight, err = r.ReadU16(); err != nil {
			return nil, err
		}
		// avgFrameRate/constantFrameRate/bitrate block
		if err := r.SkipBits(6 * 8); err != nil {
			return nil, err
		}
		b.OperatingPoints = append(b.OperatingPoints, op)
	}
	if b.MaxLayerCount, err = r.ReadU8(); err != nil {
		return nil, err
	}
	for i := uint8(0); i < b.MaxLayerCount; i++ {
		// layerID(6) + dependency info; keep the id, skip the rest of the byte pair
		lv, err := r.ReadBits(16)
		if err != nil {
			return nil, err
		}
		b.LayerIDs = append(b.LayerIDs, uint8(lv>>10&0x3f))
	}
	return b, nil
}

func (b *OperatingPointsInformation) Type() BoxType {
	return Type("oinf")
}

func (b *OperatingPointsInformation) Encode(w *bits.Writer) error {
	pos, err := beginFullBox(w, b.Type(), b.Version, b.Flags)
	if err != nil {
		return err
	}
	if err := w.WriteU16(b.ScalabilityMask); err != nil {
		return err
	}
	if err := w.WriteU8(uint8(len(b.ProfileTierLevels)) & 0x3f); err != nil {
		return err
	}
	for _, ptl := range b.ProfileTierLevels {
		if err := w.WriteBytes(ptl); err != nil {
			return err
		}
	}
	if err := w.WriteU16(uint16(len(b.OperatingPoints))); err != nil {
		return err
	}
	for _, op := range b.OperatingPoints {
		if err := w.WriteU16(op.OutputLayerSetIndex); err != nil {
			return err
		}
		if err := w.WriteU8(op.MaxTemporalID); err != nil {
			return err
		}
		if err := w.WriteU8(uint8(len(op.Layers))); err != nil {
			return err
		}
		for _, l := range op.Layers {
			v := uint32(l.LayerID) << 2
			if l.IsOutputLayer {
				v |= 2
			}
			if l.IsAlternateOutput {
				v |= 1
			}
			w.WriteBits(v, 8)
		}
		for _, v := range []uint16{op.MinPicWidth, op.MinPicHeight, op.MaxPicWidth, op.MaxPicHeight} {
			if err := w.WriteU16(v); err != nil {
				return err
			}
		}
		// avgFrameRate=0 constantFrameRate=0 maxBitRate block left zero
		if err := w.WriteBytes(make([]byte, 6)); err != nil {
			return err
		}
	}
	if err := w.WriteU8(uint8(len(b.LayerIDs))); err != nil {
		return err
	}
	for _, id := range b.LayerIDs {
		w.WriteBits((uint32(id)&0x3f)<<10, 16)
	}
	return endBox(w, pos)
}
