// Package box implements the ISOBMFF box framing shared by the container and
// the tiled image items: four-character codes, box and full-box headers, and
// bounds-checked big-endian readers and writers.
//
// Every read is checked against the remaining input. A Reader keeps the first
// error it encounters and returns zero values afterwards, so a parser can read
// a run of fields and check Err once.
package box

import (
	"errors"
	"fmt"
	"io"
	"math"
)

// ErrEndOfStream is returned when fewer bytes remain than a layout requires.
// It wraps io.ErrUnexpectedEOF.
var ErrEndOfStream = fmt.Errorf("libtild: end of stream: %w", io.ErrUnexpectedEOF)

var ErrInvalidBox = errors.New("libtild: invalid box")

// Type is a four-character code.
type Type [4]byte

func TypeOf(s string) Type {
	t := Type{' ', ' ', ' ', ' '}
	copy(t[:], s)
	return t
}

func TypeFromUint32(v uint32) Type {
	return Type{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

func (t Type) Uint32() uint32 {
	return uint32(t[0])<<24 | uint32(t[1])<<16 | uint32(t[2])<<8 | uint32(t[3])
}

func (t Type) String() string { return string(t[:]) }

// Box is a serializable box.
type Box interface {
	Type() Type
	WriteBox(w *Writer) error
}

// Header describes a box as found in the input.
type Header struct {
	Type       Type
	Size       uint64 // including the header
	HeaderSize int
}

// Marshal serializes a single box.
func Marshal(b Box) ([]byte, error) {
	w := NewWriter()
	if err := b.WriteBox(w); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// Raw holds a box whose body is kept as-is.
type Raw struct {
	BoxType Type
	Body    []byte
}

func (r *Raw) Type() Type { return r.BoxType }

func (r *Raw) WriteBox(w *Writer) error {
	start := w.StartBox(r.BoxType)
	w.Write(r.Body)
	return w.EndBox(start)
}

func (r *Raw) String() string {
	return fmt.Sprintf("Box: %v\nbody size: %d\n", r.BoxType, len(r.Body))
}

// Reader reads big-endian fields from an in-memory buffer.
type Reader struct {
	data []byte
	pos  int
	err  error
}

func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Err returns the first error encountered.
func (r *Reader) Err() error { return r.err }

// Len returns the number of unread bytes.
func (r *Reader) Len() int { return len(r.data) - r.pos }

func (r *Reader) Pos() int { return r.pos }

// Require checks that at least n bytes remain without consuming them.
func (r *Reader) Require(n uint64) error {
	if r.err != nil {
		return r.err
	}
	if n > uint64(r.Len()) {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrEndOfStream, n, r.pos, r.Len())
	}
	return r.err
}

func (r *Reader) take(n int) []byte {
	if n < 0 {
		r.err = fmt.Errorf("%w: negative read length", ErrInvalidBox)
		return nil
	}
	if r.Require(uint64(n)) != nil {
		return nil
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b
}

// UintN reads an n-byte big-endian unsigned integer, 0 <= n <= 8.
func (r *Reader) UintN(n int) uint64 {
	if n > 8 {
		if r.err == nil {
			r.err = fmt.Errorf("%w: %d-byte integer", ErrInvalidBox, n)
		}
		return 0
	}
	var v uint64
	for _, b := range r.take(n) {
		v = v<<8 | uint64(b)
	}
	return v
}

func (r *Reader) Uint8() uint8   { return uint8(r.UintN(1)) }
func (r *Reader) Uint16() uint16 { return uint16(r.UintN(2)) }
func (r *Reader) Uint32() uint32 { return uint32(r.UintN(4)) }
func (r *Reader) Uint64() uint64 { return r.UintN(8) }

func (r *Reader) Type() Type {
	var t Type
	copy(t[:], r.take(4))
	return t
}

// Bytes returns the next n bytes without copying.
func (r *Reader) Bytes(n int) []byte {
	return r.take(n)
}

// CString reads a null-terminated UTF-8 string.
func (r *Reader) CString() string {
	if r.err != nil {
		return ""
	}
	for i := r.pos; i < len(r.data); i++ {
		if r.data[i] == 0 {
			s := string(r.data[r.pos:i])
			r.pos = i + 1
			return s
		}
	}
	r.err = fmt.Errorf("%w: unterminated string at offset %d", ErrEndOfStream, r.pos)
	return ""
}

// FullBoxHeader reads the version and 24-bit flags of a full box.
func (r *Reader) FullBoxHeader() (version uint8, flags uint32) {
	v := r.Uint32()
	return uint8(v >> 24), v & 0xFFFFFF
}

// NextBox reads the next box header and returns a Reader limited to its body.
// At the end of input it returns io.EOF.
func (r *Reader) NextBox() (Header, *Reader, error) {
	if r.err != nil {
		return Header{}, nil, r.err
	}
	if r.Len() == 0 {
		return Header{}, nil, io.EOF
	}

	header := Header{HeaderSize: 8}
	header.Size = uint64(r.Uint32())
	header.Type = r.Type()

	switch header.Size {
	case 1:
		header.Size = r.Uint64()
		header.HeaderSize += 8
	case 0:
		header.Size = uint64(header.HeaderSize + r.Len())
	}
	if r.err != nil {
		return Header{}, nil, r.err
	}
	if header.Size < uint64(header.HeaderSize) {
		r.err = fmt.Errorf("%w: box %q has size %d", ErrInvalidBox, header.Type, header.Size)
		return Header{}, nil, r.err
	}

	bodySize := header.Size - uint64(header.HeaderSize)
	if err := r.Require(bodySize); err != nil {
		return Header{}, nil, fmt.Errorf("box %q: %w", header.Type, err)
	}
	body := r.take(int(bodySize))
	return header, NewReader(body), nil
}

// Writer appends big-endian fields to a growing buffer.
type Writer struct {
	buf []byte
}

func NewWriter() *Writer {
	return &Writer{}
}

func (w *Writer) Bytes() []byte { return w.buf }

func (w *Writer) Len() int { return len(w.buf) }

// UintN writes the low n bytes of v in big-endian order, 0 <= n <= 8.
func (w *Writer) UintN(v uint64, n int) {
	for i := n - 1; i >= 0; i-- {
		w.buf = append(w.buf, byte(v>>(8*i)))
	}
}

func (w *Writer) Uint8(v uint8)   { w.buf = append(w.buf, v) }
func (w *Writer) Uint16(v uint16) { w.UintN(uint64(v), 2) }
func (w *Writer) Uint32(v uint32) { w.UintN(uint64(v), 4) }
func (w *Writer) Uint64(v uint64) { w.UintN(v, 8) }
func (w *Writer) Type(t Type)     { w.buf = append(w.buf, t[:]...) }
func (w *Writer) Write(p []byte)  { w.buf = append(w.buf, p...) }

func (w *Writer) CString(s string) {
	w.buf = append(w.buf, s...)
	w.buf = append(w.buf, 0)
}

// StartBox reserves space for a box header and returns the box start.
// The size is filled in by EndBox.
func (w *Writer) StartBox(t Type) int {
	start := len(w.buf)
	w.Uint32(0)
	w.Type(t)
	return start
}

func (w *Writer) StartFullBox(t Type, version uint8, flags uint32) int {
	start := w.StartBox(t)
	w.Uint32(uint32(version)<<24 | flags&0xFFFFFF)
	return start
}

// EndBox patches the size of the box started at start.
func (w *Writer) EndBox(start int) error {
	size := len(w.buf) - start
	if uint64(size) > math.MaxUint32 {
		return fmt.Errorf("%w: box of %d bytes", ErrInvalidBox, size)
	}
	w.buf[start] = byte(size >> 24)
	w.buf[start+1] = byte(size >> 16)
	w.buf[start+2] = byte(size >> 8)
	w.buf[start+3] = byte(size)
	return nil
}

// ItemID identifies an item inside a container.
type ItemID uint32
