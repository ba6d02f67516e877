package box_test

import (
	"errors"
	"io"
	"testing"

	"github.com/eak1mov/go-libtild/box"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestWriterReaderFields(t *testing.T) {
	w := box.NewWriter()
	w.Uint8(0x12)
	w.Uint16(0x3456)
	w.Uint32(0x789abcde)
	w.Uint64(0x0102030405060708)
	w.UintN(0x0a0b0c0d0e, 5)
	w.UintN(0x0f1011, 3)
	w.Type(box.TypeOf("tilC"))
	w.CString("name")

	r := box.NewReader(w.Bytes())
	require.Equal(t, uint8(0x12), r.Uint8())
	require.Equal(t, uint16(0x3456), r.Uint16())
	require.Equal(t, uint32(0x789abcde), r.Uint32())
	require.Equal(t, uint64(0x0102030405060708), r.Uint64())
	require.Equal(t, uint64(0x0a0b0c0d0e), r.UintN(5))
	require.Equal(t, uint64(0x0f1011), r.UintN(3))
	require.Equal(t, box.TypeOf("tilC"), r.Type())
	require.Equal(t, "name", r.CString())
	require.NoError(t, r.Err())
	require.Equal(t, 0, r.Len())
}

func TestReaderTruncated(t *testing.T) {
	r := box.NewReader([]byte{1, 2, 3})
	if got := r.Uint32(); got != 0 {
		t.Errorf("Uint32() = %v, want = 0", got)
	}
	require.Truef(t, errors.Is(r.Err(), box.ErrEndOfStream), "%v", r.Err())
	require.Truef(t, errors.Is(r.Err(), io.ErrUnexpectedEOF), "%v", r.Err())

	// sticky: later reads that would fit still fail
	if got := r.Uint8(); got != 0 {
		t.Errorf("Uint8() after error = %v, want = 0", got)
	}
	require.Error(t, r.Err())
}

func TestReaderRequire(t *testing.T) {
	r := box.NewReader(make([]byte, 16))
	require.NoError(t, r.Require(16))
	require.ErrorIs(t, r.Require(1<<40), box.ErrEndOfStream)
	require.Equal(t, 0, r.Pos())
}

func TestTypeConversions(t *testing.T) {
	typ := box.TypeOf("hvc1")
	if got, want := box.TypeFromUint32(typ.Uint32()), typ; got != want {
		t.Errorf("TypeFromUint32(Uint32()) = %v, want = %v", got, want)
	}
	if got, want := typ.Uint32(), uint32(0x68766331); got != want {
		t.Errorf("Uint32() = %#x, want = %#x", got, want)
	}
	if got, want := box.TypeOf("xml").String(), "xml "; got != want {
		t.Errorf("TypeOf(xml) = %q, want = %q", got, want)
	}
}

func TestNextBox(t *testing.T) {
	w := box.NewWriter()
	start := w.StartBox(box.TypeOf("free"))
	w.Write([]byte("abc"))
	require.NoError(t, w.EndBox(start))
	require.NoError(t, (&box.Extent{Width: 640, Height: 480}).WriteBox(w))

	r := box.NewReader(w.Bytes())

	header, body, err := r.NextBox()
	require.NoError(t, err)
	if diff := cmp.Diff(box.Header{Type: box.TypeOf("free"), Size: 11, HeaderSize: 8}, header); diff != "" {
		t.Errorf("NextBox() header mismatch (-want+got):\n%v", diff)
	}
	require.Equal(t, []byte("abc"), body.Bytes(3))

	header, body, err = r.NextBox()
	require.NoError(t, err)
	require.Equal(t, box.TypeExtent, header.Type)
	extent, err := box.ParseExtent(body)
	require.NoError(t, err)
	if diff := cmp.Diff(&box.Extent{Width: 640, Height: 480}, extent); diff != "" {
		t.Errorf("ParseExtent() mismatch (-want+got):\n%v", diff)
	}

	_, _, err = r.NextBox()
	require.ErrorIs(t, err, io.EOF)
}

func TestNextBoxErrors(t *testing.T) {
	for _, tc := range []struct {
		Name string
		Data []byte
		Err  error
	}{
		{Name: "ShortHeader", Data: []byte{0, 0, 0}, Err: box.ErrEndOfStream},
		{Name: "SizeTooSmall", Data: []byte{0, 0, 0, 4, 'f', 'r', 'e', 'e'}, Err: box.ErrInvalidBox},
		{Name: "BodyTruncated", Data: []byte{0, 0, 0, 16, 'f', 'r', 'e', 'e', 1, 2}, Err: box.ErrEndOfStream},
		{Name: "LargeSizeTruncated", Data: []byte{0, 0, 0, 1, 'f', 'r', 'e', 'e', 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, Err: box.ErrEndOfStream},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			_, _, err := box.NewReader(tc.Data).NextBox()
			require.Truef(t, errors.Is(err, tc.Err), "%v", err)
		})
	}
}

func TestNextBoxSizeZero(t *testing.T) {
	data := []byte{0, 0, 0, 0, 'm', 'd', 'a', 't', 1, 2, 3, 4}
	header, body, err := box.NewReader(data).NextBox()
	require.NoError(t, err)
	require.Equal(t, uint64(len(data)), header.Size)
	require.Equal(t, 4, body.Len())
}

func TestRawBox(t *testing.T) {
	raw := &box.Raw{BoxType: box.TypeOf("hvcC"), Body: []byte{1, 2, 3, 4, 5}}
	data, err := box.Marshal(raw)
	require.NoError(t, err)
	require.Len(t, data, 13)

	header, body, err := box.NewReader(data).NextBox()
	require.NoError(t, err)
	require.Equal(t, raw.BoxType, header.Type)
	require.Equal(t, raw.Body, body.Bytes(body.Len()))
}

func TestFullBoxHeader(t *testing.T) {
	w := box.NewWriter()
	start := w.StartFullBox(box.TypeOf("tilC"), 1, 0x2d)
	require.NoError(t, w.EndBox(start))

	_, body, err := box.NewReader(w.Bytes()).NextBox()
	require.NoError(t, err)
	version, flags := body.FullBoxHeader()
	require.Equal(t, uint8(1), version)
	require.Equal(t, uint32(0x2d), flags)
}
