package codec_test

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/eak1mov/go-libtild/box"
	"github.com/eak1mov/go-libtild/codec"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestFormatFromItemType(t *testing.T) {
	for _, tc := range []struct {
		ItemType string
		Format   codec.Format
	}{
		{"hvc1", codec.FormatHEVC},
		{"avc1", codec.FormatAVC},
		{"jpeg", codec.FormatJPEG},
		{"av01", codec.FormatAV1},
		{"vvc1", codec.FormatVVC},
		{"evc1", codec.FormatEVC},
		{"j2k1", codec.FormatJPEG2000},
		{"unci", codec.FormatUncompressed},
		{"mski", codec.FormatMask},
		{"tild", codec.FormatUndefined},
	} {
		t.Run(tc.ItemType, func(t *testing.T) {
			if got, want := codec.FormatFromItemType(box.TypeOf(tc.ItemType)), tc.Format; got != want {
				t.Errorf("FormatFromItemType(%q) = %v, want = %v", tc.ItemType, got, want)
			}
			if tc.Format == codec.FormatUndefined {
				return
			}
			itemType, ok := tc.Format.ItemType()
			require.True(t, ok)
			require.Equal(t, tc.ItemType, itemType.String())
		})
	}
}

func TestUncompressedRoundTrip(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	for i := range src.Pix {
		src.Pix[i] = byte(i * 7)
	}

	data := codec.EncodeUncompressed(src)
	require.Len(t, data, 3*2*4)

	img, err := codec.DefaultRegistry().Decode(codec.FormatUncompressed, data, codec.Options{Width: 3, Height: 2})
	require.NoError(t, err)
	if diff := cmp.Diff(src.Pix, img.(*image.NRGBA).Pix); diff != "" {
		t.Errorf("decoded pixels mismatch (-want+got):\n%v", diff)
	}
}

func TestUncompressedChannels(t *testing.T) {
	registry := codec.DefaultRegistry()
	opts := codec.Options{Width: 2, Height: 2}

	gray, err := registry.Decode(codec.FormatUncompressed, []byte{0, 64, 128, 255}, opts)
	require.NoError(t, err)
	require.Equal(t, color.Gray{Y: 128}, gray.At(0, 1))

	rgb, err := registry.Decode(codec.FormatUncompressed, bytes.Repeat([]byte{10, 20, 30}, 4), opts)
	require.NoError(t, err)
	require.Equal(t, color.NRGBA{R: 10, G: 20, B: 30, A: 255}, rgb.At(1, 1))

	_, err = registry.Decode(codec.FormatUncompressed, []byte{1, 2, 3}, opts)
	require.ErrorIs(t, err, codec.ErrInvalidData)

	_, err = registry.Decode(codec.FormatUncompressed, []byte{1}, codec.Options{})
	require.ErrorIs(t, err, codec.ErrInvalidData)
}

func TestJPEGDecoder(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 16, 8))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, src, nil))

	registry := codec.DefaultRegistry()
	img, err := registry.Decode(codec.FormatJPEG, buf.Bytes(), codec.Options{Width: 16, Height: 8})
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 16, 8), img.Bounds())

	_, err = registry.Decode(codec.FormatJPEG, buf.Bytes(), codec.Options{Width: 8, Height: 8})
	require.ErrorIs(t, err, codec.ErrInvalidData)

	_, err = registry.Decode(codec.FormatJPEG, []byte("not a jpeg"), codec.Options{})
	require.ErrorIs(t, err, codec.ErrInvalidData)
}

func TestRegistryDispatch(t *testing.T) {
	registry := codec.NewRegistry()

	_, err := registry.Decode(codec.FormatHEVC, []byte{1}, codec.Options{})
	require.ErrorIs(t, err, codec.ErrNoDecoder)

	want := image.NewGray(image.Rect(0, 0, 1, 1))
	var gotData []byte
	registry.Register(codec.FormatHEVC, codec.DecoderFunc(func(data []byte, _ codec.Options) (image.Image, error) {
		gotData = data
		return want, nil
	}))

	img, err := registry.Decode(codec.FormatHEVC, []byte{1, 2}, codec.Options{})
	require.NoError(t, err)
	require.Same(t, want, img)
	require.Equal(t, []byte{1, 2}, gotData)
}
