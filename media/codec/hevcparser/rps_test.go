package hevcparser

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bugVanisher/heif/utils/bits"
)

// buildExplicitRPS emits an st_ref_pic_set with the given unit deltas,
// all used by the current picture.
func buildExplicitRPS(w *bits.Writer, numNegative, numPositive int) {
	w.WriteUE(uint32(numNegative))
	w.WriteUE(uint32(numPositive))
	for i := 0; i < numNegative; i++ {
		w.WriteUE(0) // delta_poc_s0_minus1 -> delta 1
		w.WriteFlag(true)
	}
	for i := 0; i < numPositive; i++ {
		w.WriteUE(0) // delta_poc_s1_minus1 -> delta 1
		w.WriteFlag(true)
	}
}

func TestParseExplicitShortTermRPS(t *testing.T) {
	w := bits.NewWriter()
	buildExplicitRPS(w, 2, 1)
	r := bits.NewReader(w.Finish())
	rps, err := parseShortTermRPS(r, 0, nil)
	require.Nil(t, err)
	require.Equal(t, []int32{-1, -2}, rps.DeltaPocS0)
	require.Equal(t, []int32{1}, rps.DeltaPocS1)
	require.Equal(t, []bool{true, true}, rps.UsedByCurrPicS0)
	require.Equal(t, []bool{true}, rps.UsedByCurrPicS1)
}

// Inter-RPS prediction with delta_rps = +1 over {S0: [-1,-2], S1: [+1]}
// derives S0 = [-1] and S1 = [+1, +2].
func TestInterPredictedShortTermRPS(t *testing.T) {
	w := bits.NewWriter()
	buildExplicitRPS(w, 2, 1)
	r := bits.NewReader(w.Finish())
	rps0, err := parseShortTermRPS(r, 0, nil)
	require.Nil(t, err)

	w = bits.NewWriter()
	w.WriteFlag(true) // inter_ref_pic_set_prediction_flag
	w.WriteBit(0)     // delta_rps_sign -> positive
	w.WriteUE(0)      // abs_delta_rps_minus1 -> delta_rps = +1
	for i := 0; i < rps0.NumDeltaPocs()+1; i++ {
		w.WriteFlag(true) // used_by_curr_pic_flag
	}
	r = bits.NewReader(w.Finish())
	rps1, err := parseShortTermRPS(r, 1, []ShortTermRPS{rps0})
	require.Nil(t, err)
	require.Equal(t, []int32{-1}, rps1.DeltaPocS0)
	require.Equal(t, []int32{1, 2}, rps1.DeltaPocS1)
}

func TestDeriveRefPicSets(t *testing.T) {
	sps := &SPS{Log2MaxPicOrderCntLsbMinus4: 0}
	sh := &SliceHeader{
		SliceType:     SliceB,
		UsesInlineRps: true,
		ShortTermRps: ShortTermRPS{
			DeltaPocS0:      []int32{-1, -2},
			DeltaPocS1:      []int32{1},
			UsedByCurrPicS0: []bool{true, false},
			UsedByCurrPicS1: []bool{true},
		},
	}
	dpb := []DpbPicture{
		{DecodeIndex: 0, Poc: 2, Referenced: true},
		{DecodeIndex: 1, Poc: 3, Referenced: true},
		{DecodeIndex: 2, Poc: 5, Referenced: true},
	}
	sets := DeriveRefPicSets(sh, sps, 4, dpb)
	require.Equal(t, []int{1}, sets.StCurrBefore) // poc 3
	require.Equal(t, []int{0}, sets.StFoll)       // poc 2 retained, unused
	require.Equal(t, []int{2}, sets.StCurrAfter)  // poc 5

	list0, list1 := sets.BuildRefLists(sh)
	require.Equal(t, []int{1}, list0)
	require.Equal(t, []int{2}, list1)
}

func TestBuildListRepeatsUntilActive(t *testing.T) {
	sets := RefPicSets{StCurrBefore: []int{4}}
	sh := &SliceHeader{SliceType: SliceP, NumRefIdxL0ActiveMinus1: 2}
	list0, _ := sets.BuildRefLists(sh)
	require.Equal(t, []int{4, 4, 4}, list0)
}

func TestCeilLog2(t *testing.T) {
	require.Equal(t, 0, ceilLog2(1))
	require.Equal(t, 1, ceilLog2(2))
	require.Equal(t, 2, ceilLog2(3))
	require.Equal(t, 2, ceilLog2(4))
	require.Equal(t, 6, ceilLog2(64))
	require.Equal(t, 7, ceilLog2(65))
}
