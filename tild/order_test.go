package tild_test

import (
	"slices"
	"testing"

	"github.com/eak1mov/go-libtild/tild"
	"github.com/eak1mov/go-libtild/tile"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestRasterOrder(t *testing.T) {
	got := slices.Collect(tild.RasterOrder(3, 2))
	want := []tile.Coord{
		{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 2, Y: 0},
		{X: 0, Y: 1}, {X: 1, Y: 1}, {X: 2, Y: 1},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("RasterOrder mismatch (-want +got):\n%s", diff)
	}
	require.Empty(t, slices.Collect(tild.RasterOrder(0, 5)))
}

func TestHilbertOrder(t *testing.T) {
	got := slices.Collect(tild.HilbertOrder(4, 4))
	require.Len(t, got, 16)
	require.Equal(t, tile.Coord{X: 0, Y: 0}, got[0])
	for i := 1; i < len(got); i++ {
		dx := int(got[i].X) - int(got[i-1].X)
		dy := int(got[i].Y) - int(got[i-1].Y)
		require.Equal(t, 1, dx*dx+dy*dy, "step %d: %v -> %v", i, got[i-1], got[i])
	}
	requireGrid(t, got, 4, 4)
}

func TestHilbertOrderClipped(t *testing.T) {
	got := slices.Collect(tild.HilbertOrder(3, 3))
	require.Len(t, got, 9)
	requireGrid(t, got, 3, 3)

	// Thin grids are visited in raster order.
	got = slices.Collect(tild.HilbertOrder(100, 1))
	if diff := cmp.Diff(slices.Collect(tild.RasterOrder(100, 1)), got); diff != "" {
		t.Errorf("HilbertOrder mismatch (-want +got):\n%s", diff)
	}
}

func requireGrid(t *testing.T, coords []tile.Coord, columns, rows uint64) {
	t.Helper()
	seen := make(map[tile.Coord]bool)
	for _, c := range coords {
		require.True(t, c.Within(columns, rows), "%v outside grid", c)
		require.False(t, seen[c], "%v visited twice", c)
		seen[c] = true
	}
	require.Len(t, seen, int(columns*rows))
}

func TestParseOrder(t *testing.T) {
	for _, o := range []tild.Order{tild.OrderRaster, tild.OrderHilbert} {
		got, err := tild.ParseOrder(o.String())
		require.NoError(t, err)
		require.Equal(t, o, got)
	}
	_, err := tild.ParseOrder("zigzag")
	require.ErrorIs(t, err, tild.ErrInvalidParameters)
}
