package nal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitAnnexB(t *testing.T) {
	stream := []byte{
		0, 0, 0, 1, 0x67, 0x42, 0x00,
		0, 0, 1, 0x68, 0xce,
		0, 0, 0, 1, 0x65, 0x88, 0x80, 0x00, 0x00, // trailing zeros stripped
	}
	units, err := SplitAnnexB(stream)
	require.Nil(t, err)
	require.Equal(t, 3, len(units))
	require.Equal(t, []byte{0x67, 0x42}, units[0])
	require.Equal(t, []byte{0x68, 0xce}, units[1])
	require.Equal(t, []byte{0x65, 0x88, 0x80}, units[2])
}

func TestSplitAnnexBNoStartCode(t *testing.T) {
	_, err := SplitAnnexB([]byte{1, 2, 3, 4})
	require.NotNil(t, err)
}

func TestRBSPRoundTrip(t *testing.T) {
	payloads := [][]byte{
		{0x00, 0x00, 0x00},
		{0x00, 0x00, 0x01},
		{0x00, 0x00, 0x02, 0x00, 0x00, 0x03},
		{0xff, 0x00, 0x00, 0x00, 0xff},
		{0x00, 0x00},
	}
	for _, rbsp := range payloads {
		escaped := AddEmulationPrevention(rbsp)
		require.Equal(t, rbsp, ToRBSP(escaped))
	}
}

func TestToRBSPStripsEmulation(t *testing.T) {
	in := []byte{0x00, 0x00, 0x03, 0x01, 0xab}
	require.Equal(t, []byte{0x00, 0x00, 0x01, 0xab}, ToRBSP(in))
}

func TestWriteAnnexB(t *testing.T) {
	out := WriteAnnexB([][]byte{{0x67}, {0x68}})
	require.Equal(t, []byte{0, 0, 0, 1, 0x67, 0, 0, 0, 1, 0x68}, out)
}

func TestParseAvcHeader(t *testing.T) {
	h, err := ParseAvcHeader([]byte{0x65})
	require.Nil(t, err)
	require.Equal(t, uint8(3), h.NalRefIdc)
	require.Equal(t, uint8(AvcNalSliceIdr), h.NalUnitType)
	require.True(t, h.IsVcl())

	_, err = ParseAvcHeader([]byte{0x80})
	require.NotNil(t, err)
}

func TestParseHevcHeader(t *testing.T) {
	// IDR_W_RADL (19), layer 0, tid+1 = 1: 0010011 0 | 00000 001
	h, err := ParseHevcHeader([]byte{0x26, 0x01})
	require.Nil(t, err)
	require.Equal(t, uint8(HevcNalIdrWRadl), h.NalUnitType)
	require.Equal(t, uint8(0), h.NuhLayerID)
	require.Equal(t, uint8(1), h.TemporalIDPlus1)
	require.True(t, h.IsVcl())
	require.True(t, h.IsIrap())

	// SPS (33) on layer 2.
	h, err = ParseHevcHeader([]byte{0x42, 0x11})
	require.Nil(t, err)
	require.Equal(t, uint8(HevcNalSps), h.NalUnitType)
	require.Equal(t, uint8(2), h.NuhLayerID)
	require.False(t, h.IsVcl())
}
