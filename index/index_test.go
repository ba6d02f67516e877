package index_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/eak1mov/go-libtild/box"
	"github.com/eak1mov/go-libtild/index"
	"github.com/eak1mov/go-libtild/internal"
	"github.com/eak1mov/go-libtild/tild"
	"github.com/eak1mov/go-libtild/tile"
	"github.com/stretchr/testify/require"
)

func TestWriteReadAll(t *testing.T) {
	items := []index.Item{
		{X: 1, Y: 2, Size: 3, Offset: 4},
		{X: 1 << 31, Y: 7, Size: 1<<32 - 1, Offset: 1 << 40},
	}
	var buf bytes.Buffer
	require.NoError(t, index.WriteAll(items, &buf))
	require.Equal(t, 2*24, buf.Len())
	require.Equal(t, []byte{1, 0, 0, 0, 2, 0, 0, 0, 3, 0, 0, 0, 0, 0, 0, 0, 4, 0, 0, 0, 0, 0, 0, 0}, buf.Bytes()[:24])

	got, err := index.ReadAll(buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, items, got)

	_, err = index.ReadAll(buf.Bytes()[:30])
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestCollect(t *testing.T) {
	c := internal.NewMemContainer()
	item, err := tild.Create(c, tild.NewParameters(512, 512, 256, 256, box.TypeOf("jpeg")))
	require.NoError(t, err)
	require.NoError(t, item.AppendTile(1, 0, []byte("abc")))
	require.NoError(t, item.AppendTile(0, 1, []byte("de")))

	items, err := index.Collect(item)
	require.NoError(t, err)
	require.Len(t, items, 2)

	require.Equal(t, tile.Coord{X: 1, Y: 0}, items[0].Coord())
	require.Equal(t, tile.Location{Offset: 32, Size: 3}, items[0].Location())
	require.Equal(t, tile.Coord{X: 0, Y: 1}, items[1].Coord())
	require.Equal(t, tile.Location{Offset: 35, Size: 2}, items[1].Location())
}
