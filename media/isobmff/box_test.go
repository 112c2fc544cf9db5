package isobmff

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bugVanisher/heif/utils/bits"
)

func encodeBox(t *testing.T, b Box) []byte {
	w := bits.NewWriter()
	require.Nil(t, b.Encode(w))
	return w.Finish()
}

func TestFtypRoundTrip(t *testing.T) {
	in := &FileTypeBox{
		MajorBrand:       "heic",
		MinorVersion:     0,
		CompatibleBrands: []string{"mif1", "heic"},
	}
	data := encodeBox(t, in)
	require.Equal(t, uint32(len(data)), uint32(data[3]))

	box, n, err := Parse(data)
	require.Nil(t, err)
	require.Equal(t, uint64(len(data)), n)
	out := box.(*FileTypeBox)
	require.Equal(t, in.MajorBrand, out.MajorBrand)
	require.Equal(t, in.CompatibleBrands, out.CompatibleBrands)
	require.True(t, out.HasBrand("mif1"))
	require.False(t, out.HasBrand("msf1"))
}

func TestUnknownBoxPreserved(t *testing.T) {
	payload := []byte{1, 2, 3, 4, 5}
	raw := append([]byte{0, 0, 0, 13, 'z', 'z', 'z', 'z'}, payload...)
	box, _, err := Parse(raw)
	require.Nil(t, err)
	unknown := box.(*UnknownBox)
	require.Equal(t, payload, unknown.Payload)
	require.Equal(t, raw, encodeBox(t, unknown))
}

func TestAdvertisedSizeMatchesEmit(t *testing.T) {
	boxes := []Box{
		&PrimaryItemBox{ItemID: 7},
		&ImageSpatialExtents{Width: 4096, Height: 2160},
		&ImageRotation{Angle: 270},
		&ImageMirror{Axis: MirrorAxisHorizontal},
		&LayerSelector{LayerID: 3},
		&TargetOlsProperty{TargetOlsIndex: 2},
	}
	for _, b := range boxes {
		data := encodeBox(t, b)
		h, err := ParseHeader(data)
		require.Nil(t, err)
		require.Equal(t, uint64(len(data)), h.Size, "box %s", b.Type())
	}
}

func TestItemInfoEntryRoundTrip(t *testing.T) {
	in := &ItemInfoEntry{
		FullBox:  FullBox{Version: 2, Flags: 1},
		ItemID:   12,
		ItemType: "hvc1",
		ItemName: "master",
	}
	box, _, err := Parse(encodeBox(t, in))
	require.Nil(t, err)
	out := box.(*ItemInfoEntry)
	require.Equal(t, in.ItemID, out.ItemID)
	require.Equal(t, in.ItemType, out.ItemType)
	require.Equal(t, in.ItemName, out.ItemName)
	require.True(t, out.Hidden())
}

func TestItemLocationRoundTrip(t *testing.T) {
	in := &ItemLocationBox{
		FullBox: FullBox{Version: 1},
		Locations: []ItemLocation{
			{
				ItemID:             1,
				ConstructionMethod: ConstructionFileOffset,
				BaseOffset:         4096,
				Extents:            []ItemExtent{{Offset: 0, Length: 8192}},
			},
			{
				ItemID:             2,
				ConstructionMethod: ConstructionIdatOffset,
				Extents:            []ItemExtent{{Offset: 8, Length: 16}},
			},
		},
	}
	box, _, err := Parse(encodeBox(t, in))
	require.Nil(t, err)
	out := box.(*ItemLocationBox)
	require.Equal(t, 2, len(out.Locations))
	require.Equal(t, uint64(4096), out.Locations[0].BaseOffset)
	require.Equal(t, uint64(8192), out.Locations[0].Extents[0].Length)
	require.Equal(t, uint8(ConstructionIdatOffset), out.Locations[1].ConstructionMethod)
	require.Equal(t, uint64(8), out.Locations[1].Extents[0].Offset)
}

func TestItemReferenceRoundTrip(t *testing.T) {
	in := &ItemReferenceBox{
		References: []ItemReference{
			{ReferenceType: "dimg", FromItemID: 9, ToItemIDs: []uint32{1, 2, 3, 4}},
			{ReferenceType: "thmb", FromItemID: 10, ToItemIDs: []uint32{1}},
		},
	}
	box, _, err := Parse(encodeBox(t, in))
	require.Nil(t, err)
	out := box.(*ItemReferenceBox)
	require.Equal(t, []uint32{1, 2, 3, 4}, out.ReferencesFrom(9, "dimg"))
	require.Equal(t, []uint32{10}, out.ReferencesTo(1, "thmb"))
	require.Nil(t, out.ReferencesFrom(9, "thmb"))
}

func TestItemPropertyAssociationRoundTrip(t *testing.T) {
	in := &ItemPropertyAssociationBox{}
	in.AddEntry(1, []PropertyAssociation{{Index: 1, Essential: true}, {Index: 2}})
	in.AddEntry(2, []PropertyAssociation{{Index: 2}})
	box, _, err := Parse(encodeBox(t, in))
	require.Nil(t, err)
	out := box.(*ItemPropertyAssociationBox)
	require.Equal(t, 2, len(out.Entries))
	require.Equal(t, uint32(1), out.Entries[0].Associations[0].Index)
	require.True(t, out.Entries[0].Associations[0].Essential)
	require.False(t, out.Entries[0].Associations[1].Essential)
}

func TestEditListWidening(t *testing.T) {
	in := &EditListBox{
		Entries: []EditEntry{
			{SegmentDuration: 500, MediaTime: -1, MediaRateInteger: 1},
			{SegmentDuration: 300, MediaTime: 200, MediaRateInteger: 1},
			{SegmentDuration: 100, MediaTime: 0, MediaRateInteger: 0, MediaRateFraction: 0},
		},
	}
	box, _, err := Parse(encodeBox(t, in))
	require.Nil(t, err)
	out := box.(*EditListBox)
	require.Equal(t, in.Entries, out.Entries)
}

func TestChunkOffsetPicksCo64(t *testing.T) {
	small := &ChunkOffsetBox{Offsets: []uint64{100, 200}}
	require.Equal(t, Type("stco"), small.Type())
	large := &ChunkOffsetBox{Offsets: []uint64{1 << 33}}
	require.Equal(t, Type("co64"), large.Type())

	box, _, err := Parse(encodeBox(t, large))
	require.Nil(t, err)
	out := box.(*ChunkOffsetBox)
	require.Equal(t, uint64(1<<33), out.Offsets[0])
	require.True(t, out.Large)
}

func TestSampleToChunkLocate(t *testing.T) {
	stsc := &SampleToChunkBox{Entries: []SampleToChunkEntry{
		{FirstChunk: 1, SamplesPerChunk: 2, SampleDescriptionIndex: 1},
		{FirstChunk: 3, SamplesPerChunk: 1, SampleDescriptionIndex: 2},
	}}
	loc, err := stsc.Locate(0, 4)
	require.Nil(t, err)
	require.Equal(t, uint32(1), loc.ChunkIndex)
	loc, err = stsc.Locate(3, 4)
	require.Nil(t, err)
	require.Equal(t, uint32(2), loc.ChunkIndex)
	require.Equal(t, uint32(1), loc.IndexInChunk)
	loc, err = stsc.Locate(4, 4)
	require.Nil(t, err)
	require.Equal(t, uint32(3), loc.ChunkIndex)
	require.Equal(t, uint32(2), loc.SampleDescriptionIndex)
	loc, err = stsc.Locate(5, 4)
	require.Nil(t, err)
	require.Equal(t, uint32(4), loc.ChunkIndex)
}

func TestHevcConfigRecordRoundTrip(t *testing.T) {
	in := HEVCDecoderConfRecord{
		ConfigurationVersion:             1,
		GeneralProfileSpace:              0,
		GeneralTierFlag:                  0,
		GeneralProfileIdc:                1,
		GeneralProfileCompatibilityFlags: 0x60000000,
		GeneralConstraintIndicatorFlags:  0x900000000000,
		GeneralLevelIdc:                  120,
		ChromaFormat:                     1,
		NumTemporalLayers:                1,
		TemporalIdNested:                 1,
		LengthSizeMinusOne:               3,
		NalArrays: []NalArray{
			{ArrayCompleteness: true, NalUnitType: 32, NalUnits: [][]byte{{0x40, 0x01, 0x0c}}},
			{ArrayCompleteness: true, NalUnitType: 33, NalUnits: [][]byte{{0x42, 0x01, 0x01}}},
			{ArrayCompleteness: true, NalUnitType: 34, NalUnits: [][]byte{{0x44, 0x01, 0xc0}}},
		},
	}
	w := bits.NewWriter()
	require.Nil(t, in.Marshal(w))
	var out HEVCDecoderConfRecord
	require.Nil(t, out.Unmarshal(w.Finish()))
	require.Equal(t, in, out)
}

func TestAvcConfigRecordRoundTrip(t *testing.T) {
	in := AVCDecoderConfRecord{
		ConfigurationVersion: 1,
		AVCProfileIndication: 100,
		ProfileCompatibility: 0,
		AVCLevelIndication:   40,
		LengthSizeMinusOne:   3,
		SPS:                  [][]byte{{0x67, 0x64, 0x00, 0x28}},
		PPS:                  [][]byte{{0x68, 0xee, 0x38, 0x80}},
	}
	w := bits.NewWriter()
	require.Nil(t, in.Marshal(w))
	var out AVCDecoderConfRecord
	require.Nil(t, out.Unmarshal(w.Finish()))
	require.Equal(t, in, out)
}

func TestVisualSampleEntryRoundTrip(t *testing.T) {
	in := &VisualSampleEntry{
		Tag:                Type("hvc1"),
		DataReferenceIndex: 1,
		Width:              1920,
		Height:             1080,
		Children: []Box{&HevcConfigurationBox{Record: HEVCDecoderConfRecord{
			ConfigurationVersion: 1,
			LengthSizeMinusOne:   3,
		}}},
	}
	box, _, err := Parse(encodeBox(t, in))
	require.Nil(t, err)
	out := box.(*VisualSampleEntry)
	require.Equal(t, uint16(1920), out.Width)
	require.Equal(t, uint16(1080), out.Height)
	require.NotNil(t, out.ConfigBox())
}

func TestMetaBoxChildren(t *testing.T) {
	meta := &MetaBox{}
	meta.Children = append(meta.Children,
		&HandlerBox{HandlerType: "pict"},
		&PrimaryItemBox{ItemID: 1},
		&ItemInfoBox{Entries: []*ItemInfoEntry{{
			FullBox: FullBox{Version: 2}, ItemID: 1, ItemType: "hvc1",
		}}},
	)
	box, _, err := Parse(encodeBox(t, meta))
	require.Nil(t, err)
	out := box.(*MetaBox)
	require.Equal(t, "pict", out.Handler().HandlerType)
	require.Equal(t, uint32(1), out.PrimaryItem().ItemID)
	require.Equal(t, 1, len(out.ItemInfo().Entries))
}
