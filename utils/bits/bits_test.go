package bits

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bugVanisher/heif/common/errs"
)

func TestReadBits(t *testing.T) {
	r := NewReader([]byte{0b10110100, 0b01100000})
	b, err := r.ReadBit()
	require.Nil(t, err)
	require.Equal(t, uint32(1), b)
	v, err := r.ReadBits(3)
	require.Nil(t, err)
	require.Equal(t, uint32(0b011), v)
	v, err = r.ReadBits(7)
	require.Nil(t, err)
	require.Equal(t, uint32(0b0100011), v)
	require.Equal(t, 5, r.BitsLeft())
	_, err = r.ReadBits(6)
	require.Equal(t, int32(errs.CodeUnexpectedEOF), errs.Code(err))
}

func TestExpGolombRoundTrip(t *testing.T) {
	values := []uint32{0, 1, 2, 3, 7, 8, 255, 1023, 65535, 1<<31 - 1}
	w := NewWriter()
	for _, v := range values {
		w.WriteUE(v)
	}
	r := NewReader(w.Finish())
	for _, v := range values {
		got, err := r.ReadUE()
		require.Nil(t, err)
		require.Equal(t, v, got)
	}
}

func TestSignedExpGolombRoundTrip(t *testing.T) {
	values := []int32{0, 1, -1, 2, -2, 100, -100, 1 << 20, -(1 << 20)}
	w := NewWriter()
	for _, v := range values {
		w.WriteSE(v)
	}
	r := NewReader(w.Finish())
	for _, v := range values {
		got, err := r.ReadSE()
		require.Nil(t, err)
		require.Equal(t, v, got)
	}
}

func TestSignedExpGolombMapping(t *testing.T) {
	// Codewords 0,1,2,3,4 decode to 0,1,-1,2,-2.
	w := NewWriter()
	for ue := uint32(0); ue <= 4; ue++ {
		w.WriteUE(ue)
	}
	r := NewReader(w.Finish())
	for _, want := range []int32{0, 1, -1, 2, -2} {
		got, err := r.ReadSE()
		require.Nil(t, err)
		require.Equal(t, want, got)
	}
}

func TestByteReadsRequireAlignment(t *testing.T) {
	r := NewReader([]byte{0xab, 0xcd})
	_, err := r.ReadBit()
	require.Nil(t, err)
	_, err = r.ReadBytes(1)
	require.Equal(t, int32(errs.CodeMalformedBitstream), errs.Code(err))
	require.False(t, r.ByteAligned())
	r.AlignToByte()
	b, err := r.ReadBytes(1)
	require.Nil(t, err)
	require.Equal(t, []byte{0xcd}, b)
}

func TestMalformedExpGolomb(t *testing.T) {
	// 40 zero bits: the prefix exceeds the 32-bit codeword bound.
	r := NewReader([]byte{0, 0, 0, 0, 0})
	_, err := r.ReadUE()
	require.Equal(t, int32(errs.CodeMalformedBitstream), errs.Code(err))
}

func TestWriterPatch(t *testing.T) {
	w := NewWriter()
	require.Nil(t, w.WriteU32(0))
	require.Nil(t, w.WriteBytes([]byte("abcd")))
	require.Equal(t, 8, w.Len())
	require.Nil(t, w.PatchU32(0, uint32(w.Len())))
	out := w.Finish()
	require.Equal(t, []byte{0, 0, 0, 8, 'a', 'b', 'c', 'd'}, out)
}

func TestWriterFinishPads(t *testing.T) {
	w := NewWriter()
	w.WriteBits(0b101, 3)
	out := w.Finish()
	require.Equal(t, []byte{0b10100000}, out)
}
