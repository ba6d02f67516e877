package internal

import (
	"iter"
	"testing"

	"github.com/eak1mov/go-libtild/tile"
)

// TileCases yields TilePayload for every tile of a columns x rows grid in
// raster order.
func TileCases(columns, rows uint32) iter.Seq2[tile.Coord, []byte] {
	return func(yield func(tile.Coord, []byte) bool) {
		for y := range rows {
			for x := range columns {
				if !yield(tile.Coord{X: x, Y: y}, TilePayload(x, y)) {
					return
				}
			}
		}
	}
}

// JPEGCases yields JPEGTile for every tile of a columns x rows grid.
func JPEGCases(t *testing.T, columns, rows uint32, width, height int) iter.Seq2[tile.Coord, []byte] {
	return func(yield func(tile.Coord, []byte) bool) {
		t.Helper()
		for coord := range TileCases(columns, rows) {
			data, err := JPEGTile(coord.X, coord.Y, width, height)
			if err != nil {
				t.Fatal(err)
			}
			if !yield(coord, data) {
				return
			}
		}
	}
}
