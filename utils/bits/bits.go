// Package bits implements the MSB-first bit cursor shared by the box
// framework and the codec parsers: plain bit reads, Exp-Golomb codes in
// both directions, and a writer that keeps byte positions so enclosing
// structures can back-patch length fields.
package bits

import (
	"github.com/bugVanisher/heif/common/errs"
	"github.com/bugVanisher/heif/utils/bits/pio"
)

// Reader is a bit-level view over an immutable byte slice.
type Reader struct {
	data   []byte
	pos    int  // byte index
	bitPos uint // 0..7, bits consumed of data[pos]
}

func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

func (r *Reader) ReadBit() (uint32, error) {
	if r.pos >= len(r.data) {
		return 0, errs.ErrUnexpectedEOF
	}
	bit := uint32(r.data[r.pos]>>(7-r.bitPos)) & 1
	r.bitPos++
	if r.bitPos == 8 {
		r.bitPos = 0
		r.pos++
	}
	return bit, nil
}

// ReadBits reads 1..32 bits MSB-first.
func (r *Reader) ReadBits(n int) (uint32, error) {
	if n < 1 || n > 32 {
		return 0, errs.Wrapf(errs.ErrMalformedBitstream, "bits: read width %d out of range", n)
	}
	if r.BitsLeft() < n {
		return 0, errs.ErrUnexpectedEOF
	}
	var v uint32
	for i := 0; i < n; i++ {
		bit, _ := r.ReadBit()
		v = v<<1 | bit
	}
	return v, nil
}

func (r *Reader) ReadFlag() (bool, error) {
	bit, err := r.ReadBit()
	return bit == 1, err
}

// ReadUE decodes an unsigned Exp-Golomb codeword. Codewords wider than 32
// significant bits are rejected.
func (r *Reader) ReadUE() (uint32, error) {
	zeros := 0
	for {
		bit, err := r.ReadBit()
		if err != nil {
			return 0, err
		}
		if bit == 1 {
			break
		}
		zeros++
		if zeros > 31 {
			return 0, errs.Wrapf(errs.ErrMalformedBitstream, "bits: exp-golomb prefix of %d zeros", zeros)
		}
	}
	if zeros == 0 {
		return 0, nil
	}
	rest, err := r.ReadBits(zeros)
	if err != nil {
		return 0, err
	}
	return (1<<uint(zeros) | rest) - 1, nil
}

// ReadSE decodes a signed Exp-Golomb codeword.
func (r *Reader) ReadSE() (int32, error) {
	u, err := r.ReadUE()
	if err != nil {
		return 0, err
	}
	if u == 0 {
		return 0, nil
	}
	if u%2 == 1 {
		return int32(u/2 + 1), nil
	}
	return -int32(u / 2), nil
}

// ReadBytes requires byte alignment.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if !r.ByteAligned() {
		return nil, errs.Wrapf(errs.ErrMalformedBitstream, "bits: byte read at bit offset %d", r.bitPos)
	}
	if n < 0 || r.pos+n > len(r.data) {
		return nil, errs.ErrUnexpectedEOF
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *Reader) ReadU8() (uint8, error) {
	b, err := r.ReadBytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) ReadU16() (uint16, error) {
	b, err := r.ReadBytes(2)
	if err != nil {
		return 0, err
	}
	return pio.U16BE(b), nil
}

func (r *Reader) ReadU24() (uint32, error) {
	b, err := r.ReadBytes(3)
	if err != nil {
		return 0, err
	}
	return pio.U24BE(b), nil
}

func (r *Reader) ReadU32() (uint32, error) {
	b, err := r.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return pio.U32BE(b), nil
}

func (r *Reader) ReadU64() (uint64, error) {
	b, err := r.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return pio.U64BE(b), nil
}

// ReadString reads a NUL-terminated string, consuming the terminator.
func (r *Reader) ReadString() (string, error) {
	if !r.ByteAligned() {
		return "", errs.Wrapf(errs.ErrMalformedBitstream, "bits: string read at bit offset %d", r.bitPos)
	}
	start := r.pos
	for r.pos < len(r.data) && r.data[r.pos] != 0 {
		r.pos++
	}
	if r.pos >= len(r.data) {
		return "", errs.ErrUnexpectedEOF
	}
	s := string(r.data[start:r.pos])
	r.pos++ // terminator
	return s, nil
}

func (r *Reader) SkipBits(n int) error {
	if r.BitsLeft() < n {
		return errs.ErrUnexpectedEOF
	}
	total := int(r.bitPos) + n
	r.pos += total / 8
	r.bitPos = uint(total % 8)
	return nil
}

func (r *Reader) ByteAligned() bool {
	return r.bitPos == 0
}

// AlignToByte discards bits up to the next byte boundary.
func (r *Reader) AlignToByte() {
	if r.bitPos != 0 {
		r.bitPos = 0
		r.pos++
	}
}

func (r *Reader) BitsLeft() int {
	return (len(r.data)-r.pos)*8 - int(r.bitPos)
}

func (r *Reader) BytesLeft() int {
	return len(r.data) - r.pos
}

// Pos reports the current byte index (bit offset excluded).
func (r *Reader) Pos() int {
	return r.pos
}

// Writer accumulates bits MSB-first into a growing byte buffer.
type Writer struct {
	buf    []byte
	cur    byte
	curLen uint // bits buffered in cur, 0..7
}

func NewWriter() *Writer {
	return &Writer{}
}

func (w *Writer) WriteBit(bit uint32) {
	w.cur = w.cur<<1 | byte(bit&1)
	w.curLen++
	if w.curLen == 8 {
		w.buf = append(w.buf, w.cur)
		w.cur = 0
		w.curLen = 0
	}
}

func (w *Writer) WriteBits(v uint32, n int) {
	for i := n - 1; i >= 0; i-- {
		w.WriteBit(v >> uint(i))
	}
}

func (w *Writer) WriteFlag(f bool) {
	if f {
		w.WriteBit(1)
	} else {
		w.WriteBit(0)
	}
}

func (w *Writer) WriteUE(v uint32) {
	codeword := uint64(v) + 1
	width := 0
	for t := codeword; t > 0; t >>= 1 {
		width++
	}
	for i := 0; i < width-1; i++ {
		w.WriteBit(0)
	}
	for i := width - 1; i >= 0; i-- {
		w.WriteBit(uint32(codeword >> uint(i)))
	}
}

func (w *Writer) WriteSE(v int32) {
	if v > 0 {
		w.WriteUE(uint32(2*v - 1))
	} else {
		w.WriteUE(uint32(-2 * v))
	}
}

// WriteBytes requires byte alignment so box payloads stay addressable for
// back-patching.
func (w *Writer) WriteBytes(b []byte) error {
	if w.curLen != 0 {
		return errs.Wrapf(errs.ErrMalformedBitstream, "bits: byte write at bit offset %d", w.curLen)
	}
	w.buf = append(w.buf, b...)
	return nil
}

func (w *Writer) WriteU8(v uint8) error {
	return w.WriteBytes([]byte{v})
}

func (w *Writer) WriteU16(v uint16) error {
	var b [2]byte
	pio.PutU16BE(b[:], v)
	return w.WriteBytes(b[:])
}

func (w *Writer) WriteU24(v uint32) error {
	var b [3]byte
	pio.PutU24BE(b[:], v)
	return w.WriteBytes(b[:])
}

func (w *Writer) WriteU32(v uint32) error {
	var b [4]byte
	pio.PutU32BE(b[:], v)
	return w.WriteBytes(b[:])
}

func (w *Writer) WriteU64(v uint64) error {
	var b [8]byte
	pio.PutU64BE(b[:], v)
	return w.WriteBytes(b[:])
}

// WriteString emits s plus a NUL terminator.
func (w *Writer) WriteString(s string) error {
	if err := w.WriteBytes([]byte(s)); err != nil {
		return err
	}
	return w.WriteU8(0)
}

// Len reports whole bytes written so far. Pending bits are excluded.
func (w *Writer) Len() int {
	return len(w.buf)
}

// PatchU32 back-fills a size field at a byte position recorded earlier.
func (w *Writer) PatchU32(pos int, v uint32) error {
	if pos < 0 || pos+4 > len(w.buf) {
		return errs.Wrapf(errs.ErrMalformedBitstream, "bits: patch position %d outside buffer", pos)
	}
	pio.PutU32BE(w.buf[pos:], v)
	return nil
}

func (w *Writer) PatchU64(pos int, v uint64) error {
	if pos < 0 || pos+8 > len(w.buf) {
		return errs.Wrapf(errs.ErrMalformedBitstream, "bits: patch position %d outside buffer", pos)
	}
	pio.PutU64BE(w.buf[pos:], v)
	return nil
}

// Finish pads the final byte with zero bits and returns the buffer.
func (w *Writer) Finish() []byte {
	if w.curLen > 0 {
		w.cur <<= 8 - w.curLen
		w.buf = append(w.buf, w.cur)
		w.cur = 0
		w.curLen = 0
	}
	return w.buf
}
