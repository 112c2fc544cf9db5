package writer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bugVanisher/heif/common/errs"
	"github.com/bugVanisher/heif/media/codec/nal"
	"github.com/bugVanisher/heif/media/heif/reader"
	"github.com/bugVanisher/heif/utils/bits"
)

// buildAvcStream emits a decodable Annex-B stream: SPS, PPS and count IDR
// frames of a 128x96 baseline sequence.
func buildAvcStream(t *testing.T, count int) []byte {
	sps := bits.NewWriter()
	sps.WriteBits(66, 8) // profile_idc
	sps.WriteBits(0, 6)
	sps.WriteBits(0, 2)
	sps.WriteBits(40, 8) // level_idc
	sps.WriteUE(0)       // sps_id
	sps.WriteUE(0)       // log2_max_frame_num_minus4
	sps.WriteUE(0)       // pic_order_cnt_type
	sps.WriteUE(0)       // log2_max_pic_order_cnt_lsb_minus4
	sps.WriteUE(4)       // max_num_ref_frames
	sps.WriteFlag(false)
	sps.WriteUE(7) // pic_width_in_mbs_minus1
	sps.WriteUE(5) // pic_height_in_map_units_minus1
	sps.WriteFlag(true)
	sps.WriteFlag(true)
	sps.WriteFlag(false)
	sps.WriteFlag(false)
	sps.WriteBit(1)

	pps := bits.NewWriter()
	pps.WriteUE(0)
	pps.WriteUE(0)
	pps.WriteFlag(false)
	pps.WriteFlag(false)
	pps.WriteUE(0)
	pps.WriteUE(0)
	pps.WriteUE(0)
	pps.WriteFlag(false)
	pps.WriteBits(0, 2)
	pps.WriteSE(0)
	pps.WriteSE(0)
	pps.WriteSE(0)
	pps.WriteFlag(false)
	pps.WriteFlag(false)
	pps.WriteFlag(false)
	pps.WriteBit(1)

	units := [][]byte{
		append([]byte{0x67}, nal.AddEmulationPrevention(sps.Finish())...),
		append([]byte{0x68}, nal.AddEmulationPrevention(pps.Finish())...),
	}
	for i := 0; i < count; i++ {
		slice := bits.NewWriter()
		slice.WriteUE(0) // first_mb_in_slice
		slice.WriteUE(2) // slice_type I
		slice.WriteUE(0) // pps_id
		slice.WriteBits(0, 4)
		slice.WriteUE(uint32(i)) // idr_pic_id
		slice.WriteBits(0, 4)    // pic_order_cnt_lsb
		slice.WriteFlag(false)   // no_output_of_prior_pics
		slice.WriteFlag(false)   // long_term_reference
		slice.WriteSE(0)
		slice.WriteBit(1)
		units = append(units, append([]byte{0x65}, nal.AddEmulationPrevention(slice.Finish())...))
	}
	return nal.WriteAnnexB(units)
}

func writeTempBitstream(t *testing.T, count int) string {
	path := filepath.Join(t.TempDir(), "input.264")
	require.Nil(t, os.WriteFile(path, buildAvcStream(t, count), 0o644))
	return path
}

func TestWriteMetaContent(t *testing.T) {
	bitstream := writeTempBitstream(t, 1)
	out := filepath.Join(t.TempDir(), "out.heic")
	m := &Manifest{
		Brands:     Brands{Major: "heic", Compatible: []string{"mif1", "heic"}},
		OutputPath: out,
		Content: []Content{{
			Master: Master{
				CodeType: "avc1",
				FilePath: bitstream,
				HdlrType: "pict",
				EncpType: "meta",
				UniqBsid: 1,
			},
		}},
		General: General{PrimRefr: 1},
	}
	require.Nil(t, New().Write(m))

	r := reader.New()
	require.Nil(t, r.Initialize(out))
	defer r.Close()

	props, err := r.FileProperties()
	require.Nil(t, err)
	require.True(t, props.HasSingleImage)
	require.Equal(t, 1, len(props.Contexts))
	ctx := props.Contexts[0].ID

	cover, err := r.CoverImageItemID(ctx)
	require.Nil(t, err)
	masters, err := r.ItemListByType(ctx, "master")
	require.Nil(t, err)
	require.Equal(t, []uint32{cover}, masters)

	codeType, err := r.DecoderCodeType(ctx, cover)
	require.Nil(t, err)
	require.Equal(t, "avc1", codeType)

	w, err := r.Width(ctx, cover)
	require.Nil(t, err)
	require.Equal(t, uint32(128), w)

	// The item must resolve through the patched iloc offsets.
	annexb, err := r.ItemDataWithDecoderParameters(ctx, cover)
	require.Nil(t, err)
	require.True(t, len(annexb) > 8)

	// Trailing compatibility tag.
	data, err := os.ReadFile(out)
	require.Nil(t, err)
	tag := []byte("NHW_" + Version)
	require.Equal(t, tag, data[len(data)-len(tag):])
}

func TestWriteGridContent(t *testing.T) {
	bitstream := writeTempBitstream(t, 4)
	out := filepath.Join(t.TempDir(), "grid.heic")
	m := &Manifest{
		Brands:     Brands{Major: "mif1", Compatible: []string{"mif1"}},
		OutputPath: out,
		Content: []Content{{
			Master: Master{
				CodeType: "avc1",
				FilePath: bitstream,
				EncpType: "meta",
				UniqBsid: 1,
			},
			Derived: &Derived{Grids: []GridSpec{{
				Rows: 2, Columns: 2,
				OutputWidth: 256, OutputHeight: 192,
				Inputs: []uint32{1, 1, 1, 1},
			}}},
		}},
	}
	require.Nil(t, New().Write(m))

	r := reader.New()
	require.Nil(t, r.Initialize(out))
	defer r.Close()
	ctx := reader.ContextID(0)

	grids, err := r.ItemListByType(ctx, "grid")
	require.Nil(t, err)
	require.Equal(t, 1, len(grids))
	grid, err := r.ItemGrid(ctx, grids[0])
	require.Nil(t, err)
	require.Equal(t, uint32(2), grid.Rows)
	require.Equal(t, uint32(2), grid.Columns)
	require.Equal(t, uint32(256), grid.OutputWidth)
	require.Equal(t, 4, len(grid.ItemIDs))
}

func TestWriteTrackContent(t *testing.T) {
	bitstream := writeTempBitstream(t, 5)
	out := filepath.Join(t.TempDir(), "seq.heic")
	m := &Manifest{
		Brands:     Brands{Major: "msf1", Compatible: []string{"msf1", "heic"}},
		OutputPath: out,
		Content: []Content{{
			Master: Master{
				CodeType: "avc1",
				FilePath: bitstream,
				HdlrType: "pict",
				EncpType: "trak",
				DispRate: 10,
				TickRate: 1000,
			},
		}},
	}
	require.Nil(t, New().Write(m))

	r := reader.New()
	require.Nil(t, r.Initialize(out))
	defer r.Close()

	props, err := r.FileProperties()
	require.Nil(t, err)
	require.True(t, props.HasImageSequence)
	require.Equal(t, 1, len(props.Contexts))
	require.Equal(t, reader.ContextTrack, props.Contexts[0].Type)
	ctx := props.Contexts[0].ID

	samples, err := r.ItemListByType(ctx, "master")
	require.Nil(t, err)
	require.Equal(t, 5, len(samples))

	duration, err := r.PlaybackDurationMS(ctx)
	require.Nil(t, err)
	require.Equal(t, uint64(500), duration)

	stamps, err := r.ItemTimestamps(ctx)
	require.Nil(t, err)
	require.Equal(t, 5, len(stamps))
	require.Equal(t, int64(0), stamps[0].TimeMS)
	require.Equal(t, int64(100), stamps[1].TimeMS)

	data, err := r.ItemData(ctx, samples[0])
	require.Nil(t, err)
	require.True(t, len(data) > 4)
}

func TestManifestValidation(t *testing.T) {
	base := func() *Manifest {
		return &Manifest{
			Brands:     Brands{Major: "heic"},
			OutputPath: "out.heic",
			Content: []Content{{
				Master: Master{CodeType: "avc1", FilePath: "in.264", EncpType: "meta", UniqBsid: 1},
			}},
		}
	}

	require.Nil(t, base().Validate())

	m := base()
	m.Content[0].Master.EncpType = "bogus"
	require.Equal(t, int32(errs.CodeInvalidManifest), errs.Code(m.Validate()))

	m = base()
	m.Content[0].Derived = &Derived{Grids: []GridSpec{{
		Rows: 2, Columns: 2, Inputs: []uint32{1, 1, 1},
	}}}
	require.Equal(t, int32(errs.CodeInvalidManifest), errs.Code(m.Validate()))

	m = base()
	m.Content[0].Derived = &Derived{Iden: []uint32{42}}
	require.Equal(t, int32(errs.CodeInvalidManifest), errs.Code(m.Validate()))

	m = base()
	m.General.PrimRefr = 9
	require.Equal(t, int32(errs.CodeInvalidManifest), errs.Code(m.Validate()))

	m = base()
	m.Content = append(m.Content, Content{
		Master: Master{CodeType: "avc1", FilePath: "b.264", EncpType: "meta", UniqBsid: 1},
	})
	require.Equal(t, int32(errs.CodeInvalidManifest), errs.Code(m.Validate()))
}
