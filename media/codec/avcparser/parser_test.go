package avcparser

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bugVanisher/heif/media/codec/nal"
	"github.com/bugVanisher/heif/utils/bits"
)

// buildSPS emits a baseline SPS RBSP: 128x96, poc type 0, 4-bit frame_num
// and 4-bit poc lsb.
func buildSPS(t *testing.T) []byte {
	w := bits.NewWriter()
	w.WriteBits(66, 8) // profile_idc baseline
	w.WriteBits(0, 6)  // constraint flags
	w.WriteBits(0, 2)  // reserved
	w.WriteBits(40, 8) // level_idc
	w.WriteUE(0)       // sps_id
	w.WriteUE(0)       // log2_max_frame_num_minus4
	w.WriteUE(0)       // pic_order_cnt_type
	w.WriteUE(0)       // log2_max_pic_order_cnt_lsb_minus4
	w.WriteUE(4)       // max_num_ref_frames
	w.WriteFlag(false) // gaps_in_frame_num_value_allowed
	w.WriteUE(7)       // pic_width_in_mbs_minus1
	w.WriteUE(5)       // pic_height_in_map_units_minus1
	w.WriteFlag(true)  // frame_mbs_only
	w.WriteFlag(true)  // direct_8x8_inference
	w.WriteFlag(false) // frame_cropping
	w.WriteFlag(false) // vui_parameters_present
	w.WriteBit(1)      // rbsp stop bit
	return w.Finish()
}

func buildPPS(t *testing.T) []byte {
	w := bits.NewWriter()
	w.WriteUE(0)       // pps_id
	w.WriteUE(0)       // sps_id
	w.WriteFlag(false) // entropy_coding_mode
	w.WriteFlag(false) // pic_order_present
	w.WriteUE(0)       // num_slice_groups_minus1
	w.WriteUE(0)       // num_ref_idx_l0_default_active_minus1
	w.WriteUE(0)       // num_ref_idx_l1_default_active_minus1
	w.WriteFlag(false) // weighted_pred
	w.WriteBits(0, 2)  // weighted_bipred_idc
	w.WriteSE(0)       // pic_init_qp_minus26
	w.WriteSE(0)       // pic_init_qs_minus26
	w.WriteSE(0)       // chroma_qp_index_offset
	w.WriteFlag(false) // deblocking_filter_control_present
	w.WriteFlag(false) // constrained_intra_pred
	w.WriteFlag(false) // redundant_pic_cnt_present
	w.WriteBit(1)      // rbsp stop bit
	return w.Finish()
}

// buildSlice emits one slice RBSP. idr selects the IDR shape.
func buildSlice(t *testing.T, idr bool, frameNum, pocLsb uint32) []byte {
	w := bits.NewWriter()
	w.WriteUE(0) // first_mb_in_slice
	if idr {
		w.WriteUE(2) // slice_type I
	} else {
		w.WriteUE(0) // slice_type P
	}
	w.WriteUE(0)                // pps_id
	w.WriteBits(frameNum, 4)    // frame_num
	if idr {
		w.WriteUE(0) // idr_pic_id
	}
	w.WriteBits(pocLsb, 4) // pic_order_cnt_lsb
	if !idr {
		w.WriteFlag(false) // num_ref_idx_active_override
		w.WriteFlag(false) // ref_pic_list_modification
		w.WriteFlag(false) // adaptive_ref_pic_marking
	} else {
		w.WriteFlag(false) // no_output_of_prior_pics
		w.WriteFlag(false) // long_term_reference
	}
	w.WriteSE(0)  // slice_qp_delta
	w.WriteBit(1) // rbsp stop bit
	return w.Finish()
}

func annexBStream(units ...[]byte) []byte {
	escaped := make([][]byte, 0, len(units))
	for _, u := range units {
		escaped = append(escaped, append([]byte{u[0]}, nal.AddEmulationPrevention(u[1:])...))
	}
	return nal.WriteAnnexB(escaped)
}

func TestParseSPS(t *testing.T) {
	sps, err := ParseSPS(buildSPS(t))
	require.Nil(t, err)
	require.Equal(t, uint32(66), sps.ProfileIdc)
	require.Equal(t, uint32(128), sps.Width())
	require.Equal(t, uint32(96), sps.Height())
	require.Equal(t, uint32(16), sps.MaxFrameNum())
	require.Equal(t, int32(16), sps.MaxPicOrderCntLsb())
}

func TestParsePPS(t *testing.T) {
	pps, err := ParsePPS(buildPPS(t), func(uint32) *SPS { return nil })
	require.Nil(t, err)
	require.Equal(t, uint32(0), pps.PpsID)
	require.False(t, pps.EntropyCodingMode)
	require.Equal(t, pps.ChromaQpIndexOffset, pps.SecondChromaQpIndexOffset)
}

func collectAccessUnits(t *testing.T, stream []byte) []*testAu {
	p, err := New(stream)
	require.Nil(t, err)
	var out []*testAu
	for {
		au, err := p.NextAccessUnit()
		if err == io.EOF {
			break
		}
		require.Nil(t, err)
		out = append(out, &testAu{
			poc:  au.Poc,
			idx:  au.DecodeIndex,
			idr:  au.IsIdr,
			refs: au.RefPicIndices,
		})
	}
	return out
}

type testAu struct {
	poc  int32
	idx  uint32
	idr  bool
	refs []uint32
}

// A frame_num/poc-lsb wrap past the 4-bit modulus carries the POC MSB
// forward: the second frame 0 lands at POC 16, not 0.
func TestPocType0Wrap(t *testing.T) {
	units := [][]byte{
		append([]byte{0x67}, buildSPS(t)...),
		append([]byte{0x68}, buildPPS(t)...),
		append([]byte{0x65}, buildSlice(t, true, 0, 0)...),
	}
	for frame := uint32(1); frame <= 15; frame++ {
		units = append(units, append([]byte{0x61}, buildSlice(t, false, frame, frame)...))
	}
	units = append(units, append([]byte{0x61}, buildSlice(t, false, 0, 0)...))

	aus := collectAccessUnits(t, annexBStream(units...))
	require.Equal(t, 17, len(aus))
	require.True(t, aus[0].idr)
	require.Equal(t, int32(0), aus[0].poc)
	require.Equal(t, int32(15), aus[15].poc)
	require.Equal(t, int32(16), aus[16].poc)
}

func TestPSliceReferences(t *testing.T) {
	units := [][]byte{
		append([]byte{0x67}, buildSPS(t)...),
		append([]byte{0x68}, buildPPS(t)...),
		append([]byte{0x65}, buildSlice(t, true, 0, 0)...),
		append([]byte{0x61}, buildSlice(t, false, 1, 2)...),
		append([]byte{0x61}, buildSlice(t, false, 2, 4)...),
	}
	aus := collectAccessUnits(t, annexBStream(units...))
	require.Equal(t, 3, len(aus))
	require.Nil(t, aus[0].refs)
	require.Equal(t, []uint32{0}, aus[1].refs)
	// List 0 orders short-term references by descending pic_num.
	require.Equal(t, []uint32{1}, aus[2].refs)
}

func TestInitRefListP(t *testing.T) {
	dpb := NewDPB()
	dpb.Add(Picture{DecodeIndex: 0, FrameNum: 0, PicNum: 0, RefType: RefShortTerm})
	dpb.Add(Picture{DecodeIndex: 1, FrameNum: 1, PicNum: 1, RefType: RefShortTerm})
	dpb.Add(Picture{DecodeIndex: 2, FrameNum: 2, PicNum: 2, RefType: RefShortTerm})
	dpb.Add(Picture{DecodeIndex: 3, LongTermPicNum: 0, RefType: RefLongTerm})
	list := dpb.InitRefListP()
	require.Equal(t, []DpbIndex{2, 1, 0, 3}, list)
}

func TestInitRefListsB(t *testing.T) {
	dpb := NewDPB()
	dpb.Add(Picture{DecodeIndex: 0, Poc: 0, RefType: RefShortTerm})
	dpb.Add(Picture{DecodeIndex: 1, Poc: 4, RefType: RefShortTerm})
	dpb.Add(Picture{DecodeIndex: 2, Poc: 8, RefType: RefShortTerm})
	list0, list1 := dpb.InitRefListsB(6)
	// list0: before (descending poc), then after (ascending poc).
	require.Equal(t, []DpbIndex{1, 0, 2}, list0)
	// list1: after first, before second.
	require.Equal(t, []DpbIndex{2, 1, 0}, list1)
}

func TestSlidingWindow(t *testing.T) {
	dpb := NewDPB()
	dpb.Add(Picture{DecodeIndex: 0, PicNum: 0, RefType: RefShortTerm})
	dpb.Add(Picture{DecodeIndex: 1, PicNum: 1, RefType: RefShortTerm})
	dpb.Add(Picture{DecodeIndex: 2, PicNum: 2, RefType: RefShortTerm})
	dpb.SlidingWindow(3)
	require.Equal(t, RefNone, dpb.Pictures[0].RefType)
	require.Equal(t, RefShortTerm, dpb.Pictures[1].RefType)
	require.Equal(t, RefShortTerm, dpb.Pictures[2].RefType)
}

func TestMmcoMarkShortTermUnused(t *testing.T) {
	dpb := NewDPB()
	dpb.Add(Picture{DecodeIndex: 0, PicNum: 3, RefType: RefShortTerm})
	dpb.Add(Picture{DecodeIndex: 1, PicNum: 4, RefType: RefShortTerm})
	curr := Picture{DecodeIndex: 2}
	err := dpb.ApplyMmco([]MmcoOp{{Op: 1, DifferenceOfPicNumsM1: 1}}, &curr, 5, 16)
	require.Nil(t, err)
	require.Equal(t, RefNone, dpb.Pictures[0].RefType)
	require.Equal(t, RefShortTerm, dpb.Pictures[1].RefType)
}

func TestMmco5ResetsAll(t *testing.T) {
	dpb := NewDPB()
	dpb.Add(Picture{DecodeIndex: 0, PicNum: 0, RefType: RefShortTerm})
	dpb.Add(Picture{DecodeIndex: 1, LongTermPicNum: 1, RefType: RefLongTerm})
	curr := Picture{DecodeIndex: 2}
	err := dpb.ApplyMmco([]MmcoOp{{Op: 5}}, &curr, 2, 16)
	require.Nil(t, err)
	require.True(t, curr.HasMmco5)
	for _, pic := range dpb.Pictures {
		require.Equal(t, RefNone, pic.RefType)
	}
}

func TestModifyRefListInsertsShortTerm(t *testing.T) {
	dpb := NewDPB()
	dpb.Add(Picture{DecodeIndex: 0, PicNum: 0, RefType: RefShortTerm})
	dpb.Add(Picture{DecodeIndex: 1, PicNum: 1, RefType: RefShortTerm})
	dpb.Add(Picture{DecodeIndex: 2, PicNum: 2, RefType: RefShortTerm})
	list := dpb.InitRefListP()
	require.Equal(t, []DpbIndex{2, 1, 0}, list)
	// abs_diff_pic_num_minus1=2, idc=0: picNum 3-3=0 moves to the front.
	modified, err := dpb.ModifyRefList(list, []RefListModOp{{Idc: 0, AbsDiffPicNumMinus1: 2}}, 3, 16, 3)
	require.Nil(t, err)
	require.Equal(t, []DpbIndex{0, 2, 1}, modified)
}
