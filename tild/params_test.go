package tild_test

import (
	"testing"

	"github.com/eak1mov/go-libtild/box"
	"github.com/eak1mov/go-libtild/tild"
	"github.com/stretchr/testify/require"
)

func TestTileCount(t *testing.T) {
	jpeg := box.TypeOf("jpeg")
	for _, tc := range []struct {
		name    string
		p       tild.Parameters
		columns uint64
		rows    uint64
		count   uint64
	}{
		{"exact", tild.NewParameters(512, 512, 256, 256, jpeg), 2, 2, 4},
		{"partial", tild.NewParameters(500, 500, 256, 256, jpeg), 2, 2, 4},
		{"single", tild.NewParameters(1, 1, 256, 256, jpeg), 1, 1, 1},
		{"non-square", tild.NewParameters(1000, 300, 256, 128, jpeg), 4, 3, 12},
		{
			"extra dimensions",
			func() tild.Parameters {
				p := tild.NewParameters(512, 512, 256, 256, jpeg)
				p.ExtraDimensions = []uint64{2, 3, 4}
				return p
			}(),
			2, 2, 96,
		},
		{"max width", tild.NewParameters(1<<64-1, 1, 1<<32-1, 1, jpeg), 1<<32 + 1, 1, 1<<32 + 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.columns, tc.p.TilesHorizontal())
			require.Equal(t, tc.rows, tc.p.TilesVertical())
			count, ok := tc.p.TileCount()
			require.True(t, ok)
			require.Equal(t, tc.count, count)
		})
	}
}

func TestTileCountOverflow(t *testing.T) {
	p := tild.NewParameters(1<<40, 1<<40, 1, 1, box.TypeOf("jpeg"))
	_, ok := p.TileCount()
	require.False(t, ok)

	_, err := tild.DefaultLimits().TileCount(p)
	require.ErrorIs(t, err, tild.ErrSecurityLimitExceeded)
}

func TestLimits(t *testing.T) {
	p := tild.NewParameters(4096*256, 4096*256, 256, 256, box.TypeOf("jpeg"))
	count, err := tild.DefaultLimits().TileCount(p)
	require.NoError(t, err)
	require.Equal(t, uint64(tild.DefaultMaxTiles), count)

	p.ImageWidth += 1
	_, err = tild.DefaultLimits().TileCount(p)
	require.ErrorIs(t, err, tild.ErrSecurityLimitExceeded)

	_, err = tild.Limits{MaxTiles: 3}.TileCount(tild.NewParameters(512, 512, 256, 256, box.TypeOf("jpeg")))
	require.ErrorIs(t, err, tild.ErrSecurityLimitExceeded)

	count, err = tild.Limits{}.TileCount(tild.NewParameters(512, 512, 256, 256, box.TypeOf("jpeg")))
	require.NoError(t, err)
	require.Equal(t, uint64(4), count)
}

func TestValidate(t *testing.T) {
	valid := tild.NewParameters(512, 512, 256, 256, box.TypeOf("jpeg"))
	require.NoError(t, valid.Validate())

	for _, tc := range []struct {
		name   string
		modify func(p *tild.Parameters)
		err    error
	}{
		{"version", func(p *tild.Parameters) { p.Version = 2 }, tild.ErrUnsupportedVersion},
		{"zero image width", func(p *tild.Parameters) { p.ImageWidth = 0 }, tild.ErrInvalidInput},
		{"zero image height", func(p *tild.Parameters) { p.ImageHeight = 0 }, tild.ErrInvalidInput},
		{"zero tile width", func(p *tild.Parameters) { p.TileWidth = 0 }, tild.ErrInvalidInput},
		{"zero tile height", func(p *tild.Parameters) { p.TileHeight = 0 }, tild.ErrInvalidInput},
		{"zero extra dimension", func(p *tild.Parameters) { p.ExtraDimensions = []uint64{2, 0} }, tild.ErrInvalidInput},
		{"nine extra dimensions", func(p *tild.Parameters) { p.ExtraDimensions = make([]uint64, 9) }, tild.ErrInvalidParameters},
		{"offset field", func(p *tild.Parameters) { p.OffsetFieldLength = 24 }, tild.ErrInvalidParameters},
		{"size field", func(p *tild.Parameters) { p.SizeFieldLength = 16 }, tild.ErrInvalidParameters},
	} {
		t.Run(tc.name, func(t *testing.T) {
			p := valid
			tc.modify(&p)
			require.ErrorIs(t, p.Validate(), tc.err)
		})
	}
}

func TestEntrySize(t *testing.T) {
	p := tild.NewParameters(512, 512, 256, 256, box.TypeOf("jpeg"))
	require.Equal(t, 8, p.EntrySize())
	p.OffsetFieldLength, p.SizeFieldLength = 64, 0
	require.Equal(t, 8, p.EntrySize())
	p.OffsetFieldLength, p.SizeFieldLength = 32, 64
	require.Equal(t, 12, p.EntrySize())
}
