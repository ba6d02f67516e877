package heif_test

import (
	"bytes"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/eak1mov/go-libtild/box"
	"github.com/eak1mov/go-libtild/codec"
	"github.com/eak1mov/go-libtild/heif"
	"github.com/eak1mov/go-libtild/internal"
	"github.com/eak1mov/go-libtild/tild"
	"github.com/eak1mov/go-libtild/tile"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type testFile struct {
	data    []byte
	tiledID box.ItemID
	jpegID  box.ItemID
	jpeg    []byte
}

func writeTestFile(t *testing.T, p tild.Parameters, columns, rows uint32) testFile {
	t.Helper()

	f := heif.New()
	tiled, err := f.AddTiledImage(p)
	require.NoError(t, err)
	for coord, data := range internal.TileCases(columns, rows) {
		require.NoError(t, tiled.AppendTile(coord.X, coord.Y, data))
	}

	jpegData, err := internal.JPEGTile(1, 1, 24, 16)
	require.NoError(t, err)
	jpegID, err := f.AddJPEGImage(jpegData, 0, 0)
	require.NoError(t, err)
	require.NoError(t, f.SetPrimary(tiled.ID()))

	var buf bytes.Buffer
	n, err := f.WriteTo(&buf)
	require.NoError(t, err)
	require.Equal(t, int64(buf.Len()), n)
	return testFile{data: buf.Bytes(), tiledID: tiled.ID(), jpegID: jpegID, jpeg: jpegData}
}

func TestWriteOpen(t *testing.T) {
	p := tild.NewParameters(1024, 1024, 256, 256, box.TypeOf("jpeg"))
	tf := writeTestFile(t, p, 4, 4)

	require.Equal(t, []byte{0, 0, 0, 0x18, 'f', 't', 'y', 'p', 'm', 'i', 'f', '1'}, tf.data[:12])

	f, err := heif.Open(bytes.NewReader(tf.data), int64(len(tf.data)))
	require.NoError(t, err)
	defer f.Close()

	require.Equal(t, []box.ItemID{tf.tiledID, tf.jpegID}, f.Items())
	require.Equal(t, []box.ItemID{tf.tiledID, tf.jpegID}, f.Images())

	primary, err := f.Primary()
	require.NoError(t, err)
	require.Equal(t, tf.tiledID, primary.ID())
	require.Equal(t, heif.KindTiled, primary.Kind())
	width, height := primary.Size()
	require.Equal(t, uint64(1024), width)
	require.Equal(t, uint64(1024), height)

	tiled, ok := primary.Tiled()
	require.True(t, ok)
	if diff := cmp.Diff(p, tiled.Parameters()); diff != "" {
		t.Errorf("Parameters mismatch (-want +got):\n%s", diff)
	}

	got, err := tiled.ReadTile(2, 3)
	require.NoError(t, err)
	require.Equal(t, internal.TilePayload(2, 3), got)

	tiles, err := tile.Collect(tiled)
	require.NoError(t, err)
	require.Len(t, tiles, 16)

	_, err = primary.Decode()
	require.ErrorIs(t, err, tild.ErrUnsupportedFeature)
	_, err = primary.JPEGData()
	require.ErrorIs(t, err, tild.ErrUnsupportedFeature)

	jpegImage, err := f.Image(tf.jpegID)
	require.NoError(t, err)
	require.Equal(t, heif.KindCoded, jpegImage.Kind())
	require.Equal(t, codec.FormatJPEG, jpegImage.Format())
	jpegData, err := jpegImage.JPEGData()
	require.NoError(t, err)
	require.Equal(t, tf.jpeg, jpegData)

	img, err := jpegImage.Decode()
	require.NoError(t, err)
	require.Equal(t, 24, img.Bounds().Dx())
	require.Equal(t, 16, img.Bounds().Dy())

	_, err = jpegImage.DecodeTile(1, 0)
	require.ErrorIs(t, err, tild.ErrIndexOutOfRange)
}

func TestOpenedFileIsReadOnly(t *testing.T) {
	tf := writeTestFile(t, tild.NewParameters(512, 512, 256, 256, box.TypeOf("jpeg")), 2, 2)
	f, err := heif.Open(bytes.NewReader(tf.data), int64(len(tf.data)))
	require.NoError(t, err)

	_, err = f.AddItem(box.TypeOf("jpeg"))
	require.ErrorIs(t, err, heif.ErrReadOnly)
	_, err = f.AppendData(tf.jpegID, []byte("x"))
	require.ErrorIs(t, err, heif.ErrReadOnly)
	require.ErrorIs(t, f.SetPrimary(tf.jpegID), heif.ErrReadOnly)
	_, err = f.WriteTo(&bytes.Buffer{})
	require.ErrorIs(t, err, heif.ErrReadOnly)

	primary, err := f.Primary()
	require.NoError(t, err)
	tiled, _ := primary.Tiled()
	require.ErrorIs(t, tiled.AppendTile(0, 0, []byte("x")), tild.ErrReadOnly)
}

func TestOpenFile(t *testing.T) {
	tf := writeTestFile(t, tild.NewParameters(700, 300, 256, 256, box.TypeOf("jpeg")), 3, 2)
	path := filepath.Join(t.TempDir(), "tiles.heif")
	require.NoError(t, os.WriteFile(path, tf.data, 0o644))

	f, err := heif.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	img, err := f.Image(tf.tiledID)
	require.NoError(t, err)
	tiled, _ := img.Tiled()
	for coord, want := range internal.TileCases(3, 2) {
		got, err := tiled.ReadTile(coord.X, coord.Y)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestPartialTiles(t *testing.T) {
	f := heif.New()
	p := tild.NewParameters(1024, 1024, 256, 256, box.TypeOf("jpeg"))
	p.SizeFieldLength = 0
	tiled, err := f.AddTiledImage(p)
	require.NoError(t, err)
	require.NoError(t, tiled.AppendTile(3, 3, []byte("last")))
	require.NoError(t, tiled.AppendTile(0, 0, []byte("first")))

	var buf bytes.Buffer
	_, err = f.WriteTo(&buf)
	require.NoError(t, err)

	opened, err := heif.Open(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	img, err := opened.Image(tiled.ID())
	require.NoError(t, err)
	loaded, _ := img.Tiled()

	got, err := loaded.ReadTile(0, 0)
	require.NoError(t, err)
	require.Equal(t, []byte("first"), got)
	got, err = loaded.ReadTile(3, 3)
	require.NoError(t, err)
	require.Equal(t, []byte("last"), got)
	_, err = loaded.ReadTile(1, 1)
	require.ErrorIs(t, err, tild.ErrTileNotWritten)
}

func TestDecodeJPEGTiles(t *testing.T) {
	f := heif.New()
	tiled, err := f.AddTiledImage(tild.NewParameters(32, 32, 16, 16, box.TypeOf("jpeg")))
	require.NoError(t, err)
	for coord, data := range internal.JPEGCases(t, 2, 2, 16, 16) {
		require.NoError(t, tiled.AppendTile(coord.X, coord.Y, data))
	}
	var buf bytes.Buffer
	_, err = f.WriteTo(&buf)
	require.NoError(t, err)

	opened, err := heif.Open(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	primary, err := opened.Primary()
	require.NoError(t, err)
	require.Equal(t, codec.FormatJPEG, primary.Format())

	tileImage, err := primary.DecodeTile(1, 0)
	require.NoError(t, err)
	require.Equal(t, 16, tileImage.Bounds().Dx())
}

func TestOpenLimits(t *testing.T) {
	tf := writeTestFile(t, tild.NewParameters(1024, 1024, 256, 256, box.TypeOf("jpeg")), 4, 4)
	f, err := heif.Open(bytes.NewReader(tf.data), int64(len(tf.data)), heif.WithLimits(tild.Limits{MaxTiles: 8}))
	require.NoError(t, err)
	_, err = f.Image(tf.tiledID)
	require.ErrorIs(t, err, tild.ErrSecurityLimitExceeded)
}

func TestMissingConfigProperty(t *testing.T) {
	f := heif.New()
	id, err := f.AddItem(tild.ItemType)
	require.NoError(t, err)
	require.NoError(t, f.AddProperty(id, &box.Extent{Width: 256, Height: 256}, false))
	_, err = f.AppendData(id, make([]byte, 8))
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = f.WriteTo(&buf)
	require.NoError(t, err)

	opened, err := heif.Open(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	_, err = opened.Image(id)
	require.ErrorIs(t, err, tild.ErrInvalidInput)
}

func TestOpenErrors(t *testing.T) {
	tf := writeTestFile(t, tild.NewParameters(512, 512, 256, 256, box.TypeOf("jpeg")), 2, 2)

	configVersion2 := slices.Clone(tf.data)
	i := bytes.Index(configVersion2, []byte("tilC"))
	require.Positive(t, i)
	configVersion2[i+4] = 2

	for _, tc := range []struct {
		name string
		data []byte
		err  error
	}{
		{name: "empty", data: nil, err: heif.ErrInvalidFile},
		{name: "garbage", data: []byte("not a heif file at all"), err: heif.ErrInvalidFile},
		{name: "truncated data", data: tf.data[:len(tf.data)-1], err: heif.ErrInvalidFile},
		{name: "ftyp only", data: tf.data[:0x18], err: heif.ErrInvalidFile},
		{name: "tilC version 2", data: configVersion2, err: tild.ErrUnsupportedVersion},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f, err := heif.Open(bytes.NewReader(tc.data), int64(len(tc.data)))
			require.ErrorIs(t, err, tc.err)
			require.Nil(t, f)
		})
	}
}

func TestItemNotFound(t *testing.T) {
	f := heif.New()
	_, err := f.Image(42)
	require.ErrorIs(t, err, heif.ErrItemNotFound)
	_, err = f.Primary()
	require.ErrorIs(t, err, heif.ErrItemNotFound)
	require.ErrorIs(t, f.SetPrimary(42), heif.ErrItemNotFound)
	_, err = f.ReadData(42, 0, 1)
	require.ErrorIs(t, err, heif.ErrItemNotFound)
}

func TestSharedProperties(t *testing.T) {
	f := heif.New()
	data, err := internal.JPEGTile(0, 0, 8, 8)
	require.NoError(t, err)
	first, err := f.AddJPEGImage(data, 8, 8)
	require.NoError(t, err)
	second, err := f.AddJPEGImage(data, 8, 8)
	require.NoError(t, err)

	a, ok := f.Property(first, box.TypeExtent)
	require.True(t, ok)
	b, ok := f.Property(second, box.TypeExtent)
	require.True(t, ok)
	require.Same(t, a, b)
}

func TestConcurrentTileReads(t *testing.T) {
	f := heif.New()
	tiled, err := f.AddTiledImage(tild.NewParameters(64, 64, 16, 16, box.TypeOf("jpeg")))
	require.NoError(t, err)
	tiles := make(map[tile.Coord][]byte)
	for coord, data := range internal.JPEGCases(t, 4, 4, 16, 16) {
		require.NoError(t, tiled.AppendTile(coord.X, coord.Y, data))
		tiles[coord] = data
	}
	var buf bytes.Buffer
	_, err = f.WriteTo(&buf)
	require.NoError(t, err)

	opened, err := heif.Open(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)

	var g errgroup.Group
	for range 8 {
		g.Go(func() error {
			img, err := opened.Image(tiled.ID())
			if err != nil {
				return err
			}
			item, _ := img.Tiled()
			view, err := item.Image()
			if err != nil {
				return err
			}
			for coord, data := range tiles {
				got, err := item.ReadTile(coord.X, coord.Y)
				if err != nil {
					return err
				}
				if !bytes.Equal(data, got) {
					return fmt.Errorf("tile %v payload mismatch", coord)
				}
				if _, err := img.DecodeTile(coord.X, coord.Y); err != nil {
					return err
				}
				view.At(int(coord.X)*16+8, int(coord.Y)*16+8)
			}
			return view.Err()
		})
	}
	require.NoError(t, g.Wait())
}

func TestDecodeTileConfigurationProperty(t *testing.T) {
	f := heif.New()
	tiled, err := f.AddTiledImage(tild.NewParameters(256, 256, 256, 256, box.TypeOf("hvc1")))
	require.NoError(t, err)
	hvcC := make([]byte, 22)
	hvcC = append(hvcC, 1, 0xa1, 0, 1, 0, 2, 0x42, 0x01)
	require.NoError(t, f.AddProperty(tiled.ID(), &box.Raw{BoxType: box.TypeOf("hvcC"), Body: hvcC}, true))
	require.NoError(t, tiled.AppendTile(0, 0, []byte{0, 0, 0, 1, 0x26}))
	var buf bytes.Buffer
	_, err = f.WriteTo(&buf)
	require.NoError(t, err)

	var config []byte
	registry := codec.NewRegistry()
	registry.Register(codec.FormatHEVC, codec.DecoderFunc(func(data []byte, opts codec.Options) (image.Image, error) {
		config = opts.ConfigurationData
		return image.NewGray(image.Rect(0, 0, opts.Width, opts.Height)), nil
	}))

	opened, err := heif.Open(bytes.NewReader(buf.Bytes()), int64(buf.Len()), heif.WithCodecs(registry))
	require.NoError(t, err)
	primary, err := opened.Primary()
	require.NoError(t, err)
	_, err = primary.DecodeTile(0, 0)
	require.NoError(t, err)
	require.Equal(t, []byte{0, 0, 0, 2, 0x42, 0x01}, config)
}
