package reader

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bugVanisher/heif/common/errs"
	"github.com/bugVanisher/heif/media/isobmff"
	"github.com/bugVanisher/heif/utils/bits"
	"github.com/bugVanisher/heif/utils/bits/pio"
)

var (
	testVps = []byte{0x40, 0x01, 0x0c, 0x01}
	testSps = []byte{0x42, 0x01, 0x01, 0x01}
	testPps = []byte{0x44, 0x01, 0xc0}
)

func testHvcC() *isobmff.HevcConfigurationBox {
	return &isobmff.HevcConfigurationBox{Record: isobmff.HEVCDecoderConfRecord{
		ConfigurationVersion: 1,
		GeneralProfileIdc:    1,
		GeneralLevelIdc:      120,
		ChromaFormat:         1,
		NumTemporalLayers:    1,
		TemporalIdNested:     1,
		LengthSizeMinusOne:   3,
		NalArrays: []isobmff.NalArray{
			{ArrayCompleteness: true, NalUnitType: 32, NalUnits: [][]byte{testVps}},
			{ArrayCompleteness: true, NalUnitType: 33, NalUnits: [][]byte{testSps}},
			{ArrayCompleteness: true, NalUnitType: 34, NalUnits: [][]byte{testPps}},
		},
	}}
}

// lengthPrefixed wraps a fake coded payload in one 4-byte-length NAL.
func lengthPrefixed(payload []byte) []byte {
	out := make([]byte, 4+len(payload))
	pio.PutU32BE(out, uint32(len(payload)))
	copy(out[4:], payload)
	return out
}

// buildSingleImageFile assembles ftyp + meta + mdat holding one hvc1 item
// of the given payload, resolving the iloc offset in a second pass the
// way the writer does.
func buildSingleImageFile(t *testing.T, itemPayload []byte) []byte {
	ftyp := &isobmff.FileTypeBox{MajorBrand: "heic", CompatibleBrands: []string{"mif1", "heic"}}

	iloc := &isobmff.ItemLocationBox{
		FullBox: isobmff.FullBox{Version: 1},
		Locations: []isobmff.ItemLocation{{
			ItemID:             1,
			ConstructionMethod: isobmff.ConstructionFileOffset,
			Extents:            []isobmff.ItemExtent{{Offset: 0, Length: uint64(len(itemPayload))}},
		}},
	}
	ipma := &isobmff.ItemPropertyAssociationBox{}
	ipma.AddEntry(1, []isobmff.PropertyAssociation{{Index: 1, Essential: true}, {Index: 2}})
	meta := &isobmff.MetaBox{Children: []isobmff.Box{
		&isobmff.HandlerBox{HandlerType: "pict"},
		&isobmff.PrimaryItemBox{ItemID: 1},
		&isobmff.ItemInfoBox{Entries: []*isobmff.ItemInfoEntry{{
			FullBox: isobmff.FullBox{Version: 2}, ItemID: 1, ItemType: "hvc1",
		}}},
		iloc,
		&isobmff.ItemPropertiesBox{
			Container: &isobmff.ContainerBox{Tag: isobmff.Type("ipco"), Children: []isobmff.Box{
				testHvcC(),
				&isobmff.ImageSpatialExtents{Width: 4096, Height: 4096},
			}},
			Associations: []*isobmff.ItemPropertyAssociationBox{ipma},
		},
	}}

	sizeOf := func(b isobmff.Box) uint64 {
		w := bits.NewWriter()
		require.Nil(t, b.Encode(w))
		return uint64(len(w.Finish()))
	}
	iloc.Locations[0].BaseOffset = sizeOf(ftyp) + sizeOf(meta) + 8

	out := bits.NewWriter()
	require.Nil(t, ftyp.Encode(out))
	require.Nil(t, meta.Encode(out))
	require.Nil(t, (&isobmff.MediaDataBox{Data: itemPayload}).Encode(out))
	return out.Finish()
}

func TestReadSingleImage(t *testing.T) {
	coded := lengthPrefixed(bytes.Repeat([]byte{0xaa}, 64))
	file := buildSingleImageFile(t, coded)

	r := New()
	require.Nil(t, r.InitializeStream(bytes.NewReader(file)))

	props, err := r.FileProperties()
	require.Nil(t, err)
	require.True(t, props.HasSingleImage)
	require.True(t, props.HasImageCollection)
	require.Equal(t, 1, len(props.Contexts))
	ctx := props.Contexts[0].ID

	cover, err := r.CoverImageItemID(ctx)
	require.Nil(t, err)
	require.Equal(t, uint32(1), cover)

	w, err := r.Width(ctx, 1)
	require.Nil(t, err)
	require.Equal(t, uint32(4096), w)
	h, err := r.Height(ctx, 1)
	require.Nil(t, err)
	require.Equal(t, uint32(4096), h)

	itemType, err := r.ItemType(ctx, 1)
	require.Nil(t, err)
	require.Equal(t, "hvc1", itemType)

	data, err := r.ItemData(ctx, 1)
	require.Nil(t, err)
	require.Equal(t, coded, data)

	// Annex-B assembly: VPS + SPS + PPS + the item payload, start-coded.
	annexb, err := r.ItemDataWithDecoderParameters(ctx, 1)
	require.Nil(t, err)
	var want []byte
	for _, ps := range [][]byte{testVps, testSps, testPps} {
		want = append(want, 0, 0, 0, 1)
		want = append(want, ps...)
	}
	want = append(want, 0, 0, 0, 1)
	want = append(want, coded[4:]...)
	require.Equal(t, want, annexb)

	sets, err := r.DecoderParameterSets(ctx, 1)
	require.Nil(t, err)
	require.Equal(t, [][]byte{testVps}, sets["VPS"])
	require.Equal(t, [][]byte{testSps}, sets["SPS"])
	require.Equal(t, [][]byte{testPps}, sets["PPS"])

	codeType, err := r.DecoderCodeType(ctx, 1)
	require.Nil(t, err)
	require.Equal(t, "hvc1", codeType)

	props1, err := r.ItemProperties(ctx, 1)
	require.Nil(t, err)
	require.Equal(t, 2, len(props1))
	require.Equal(t, "hvcC", props1[0].Type)
	require.True(t, props1[0].Essential)
	require.Equal(t, "ispe", props1[1].Type)
	require.False(t, props1[1].Essential)
}

func TestReadErrors(t *testing.T) {
	coded := lengthPrefixed([]byte{1, 2, 3})
	file := buildSingleImageFile(t, coded)
	r := New()

	_, err := r.FileProperties()
	require.Equal(t, int32(errs.CodeUninitialized), errs.Code(err))

	require.Nil(t, r.InitializeStream(bytes.NewReader(file)))
	ctx := ContextID(0)

	_, err = r.ItemData(ctx, 42)
	require.Equal(t, int32(errs.CodeInvalidItemID), errs.Code(err))
	_, err = r.ItemData(ContextID(99), 1)
	require.Equal(t, int32(errs.CodeInvalidContext), errs.Code(err))
	_, err = r.ItemGrid(ctx, 1)
	require.Equal(t, int32(errs.CodeNotApplicable), errs.Code(err))
	_, err = r.DisplayWidth(ctx)
	require.Equal(t, int32(errs.CodeNotApplicable), errs.Code(err))
	_, err = r.PropertyIrot(ctx, 7)
	require.Equal(t, int32(errs.CodeInvalidPropertyIndex), errs.Code(err))
}

// buildGridFile assembles 8 tiles plus a grid item referencing them via
// dimg, the grid payload stored in idat.
func buildGridFile(t *testing.T) []byte {
	ftyp := &isobmff.FileTypeBox{MajorBrand: "mif1", CompatibleBrands: []string{"mif1"}}

	const tiles = 8
	tilePayloads := make([][]byte, tiles)
	var mdat []byte
	var entries []*isobmff.ItemInfoEntry
	var locations []isobmff.ItemLocation
	ipma := &isobmff.ItemPropertyAssociationBox{}
	for i := 0; i < tiles; i++ {
		id := uint32(i + 1)
		tilePayloads[i] = lengthPrefixed([]byte{byte(i)})
		entries = append(entries, &isobmff.ItemInfoEntry{
			FullBox: isobmff.FullBox{Version: 2}, ItemID: id, ItemType: "hvc1",
		})
		locations = append(locations, isobmff.ItemLocation{
			ItemID:             id,
			ConstructionMethod: isobmff.ConstructionFileOffset,
			Extents: []isobmff.ItemExtent{{
				Offset: uint64(len(mdat)),
				Length: uint64(len(tilePayloads[i])),
			}},
		})
		ipma.AddEntry(id, []isobmff.PropertyAssociation{{Index: 1, Essential: true}, {Index: 2}})
		mdat = append(mdat, tilePayloads[i]...)
	}
	// grid item: 2 rows x 4 columns, 16-bit output fields, in idat.
	gridPayload := []byte{0, 0, 1, 3, 0x02, 0x00, 0x01, 0x00} // 512x256
	entries = append(entries, &isobmff.ItemInfoEntry{
		FullBox: isobmff.FullBox{Version: 2}, ItemID: 9, ItemType: "grid",
	})
	locations = append(locations, isobmff.ItemLocation{
		ItemID:             9,
		ConstructionMethod: isobmff.ConstructionIdatOffset,
		Extents:            []isobmff.ItemExtent{{Offset: 0, Length: uint64(len(gridPayload))}},
	})

	var gridInputs []uint32
	for i := 0; i < tiles; i++ {
		gridInputs = append(gridInputs, uint32(i+1))
	}
	iloc := &isobmff.ItemLocationBox{FullBox: isobmff.FullBox{Version: 1}, Locations: locations}
	meta := &isobmff.MetaBox{Children: []isobmff.Box{
		&isobmff.HandlerBox{HandlerType: "pict"},
		&isobmff.PrimaryItemBox{ItemID: 9},
		&isobmff.ItemInfoBox{Entries: entries},
		iloc,
		&isobmff.ItemReferenceBox{References: []isobmff.ItemReference{
			{ReferenceType: "dimg", FromItemID: 9, ToItemIDs: gridInputs},
		}},
		&isobmff.ItemPropertiesBox{
			Container: &isobmff.ContainerBox{Tag: isobmff.Type("ipco"), Children: []isobmff.Box{
				testHvcC(),
				&isobmff.ImageSpatialExtents{Width: 128, Height: 128},
			}},
			Associations: []*isobmff.ItemPropertyAssociationBox{ipma},
		},
		&isobmff.ItemDataBox{Data: gridPayload},
	}}

	sizeOf := func(b isobmff.Box) uint64 {
		w := bits.NewWriter()
		require.Nil(t, b.Encode(w))
		return uint64(len(w.Finish()))
	}
	base := sizeOf(ftyp) + sizeOf(meta) + 8
	for i := range iloc.Locations {
		if iloc.Locations[i].ConstructionMethod == isobmff.ConstructionFileOffset {
			iloc.Locations[i].BaseOffset = base
		}
	}

	out := bits.NewWriter()
	require.Nil(t, ftyp.Encode(out))
	require.Nil(t, meta.Encode(out))
	require.Nil(t, (&isobmff.MediaDataBox{Data: mdat}).Encode(out))
	return out.Finish()
}

func TestReadGrid(t *testing.T) {
	file := buildGridFile(t)
	r := New()
	require.Nil(t, r.InitializeStream(bytes.NewReader(file)))
	ctx := ContextID(0)

	grids, err := r.ItemListByType(ctx, "grid")
	require.Nil(t, err)
	require.Equal(t, []uint32{9}, grids)

	grid, err := r.ItemGrid(ctx, 9)
	require.Nil(t, err)
	require.Equal(t, uint32(2), grid.Rows)
	require.Equal(t, uint32(4), grid.Columns)
	require.Equal(t, uint32(512), grid.OutputWidth)
	require.Equal(t, uint32(256), grid.OutputHeight)
	require.Equal(t, []uint32{1, 2, 3, 4, 5, 6, 7, 8}, grid.ItemIDs)

	// Declaration order of the masters.
	masters, err := r.ItemListByType(ctx, "master")
	require.Nil(t, err)
	require.Equal(t, []uint32{1, 2, 3, 4, 5, 6, 7, 8}, masters)

	// dimg edges answer both directions.
	from, err := r.ReferencedFromItemListByType(ctx, 9, "dimg")
	require.Nil(t, err)
	require.Equal(t, masters, from)
	to, err := r.ReferencedToItemListByType(ctx, 3, "dimg")
	require.Nil(t, err)
	require.Equal(t, []uint32{9}, to)

	// Tile payloads resolve through the shared mdat.
	data, err := r.ItemData(ctx, 3)
	require.Nil(t, err)
	require.Equal(t, lengthPrefixed([]byte{2}), data)
}
