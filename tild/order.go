package tild

import (
	"fmt"
	"iter"
	"math/bits"

	"github.com/eak1mov/go-libtild/tile"
	"github.com/google/hilbert"
)

// Order is the order in which tiles of a grid are visited when writing.
type Order int

const (
	OrderRaster Order = iota
	OrderHilbert
)

func (o Order) String() string {
	switch o {
	case OrderRaster:
		return "raster"
	case OrderHilbert:
		return "hilbert"
	}
	return fmt.Sprintf("Order(%d)", int(o))
}

func ParseOrder(s string) (Order, error) {
	switch s {
	case "raster", "":
		return OrderRaster, nil
	case "hilbert":
		return OrderHilbert, nil
	}
	return 0, fmt.Errorf("%w: unknown tile order %q", ErrInvalidParameters, s)
}

// Coords iterates over the base grid of p in order o.
func (o Order) Coords(columns, rows uint64) iter.Seq[tile.Coord] {
	if o == OrderHilbert {
		return HilbertOrder(columns, rows)
	}
	return RasterOrder(columns, rows)
}

// RasterOrder iterates row by row, left to right.
func RasterOrder(columns, rows uint64) iter.Seq[tile.Coord] {
	return func(yield func(tile.Coord) bool) {
		for y := uint64(0); y < rows; y++ {
			for x := uint64(0); x < columns; x++ {
				if !yield(tile.Coord{X: uint32(x), Y: uint32(y)}) {
					return
				}
			}
		}
	}
}

// HilbertOrder iterates along a Hilbert curve covering the grid, so that
// neighboring tiles end up close in the item data. Grids that fill less
// than a quarter of the enclosing power-of-two square fall back to raster
// order.
func HilbertOrder(columns, rows uint64) iter.Seq[tile.Coord] {
	side := uint64(1) << bits.Len64(max(columns, rows, 1)-1)
	if side > 1<<16 {
		return RasterOrder(columns, rows)
	}
	hi, area := bits.Mul64(columns, rows)
	if hi != 0 || side*side > 4*area {
		return RasterOrder(columns, rows)
	}
	h, err := hilbert.NewHilbert(int(side))
	if err != nil {
		return RasterOrder(columns, rows)
	}

	return func(yield func(tile.Coord) bool) {
		for t := 0; t < int(side*side); t++ {
			x, y, err := h.Map(t)
			if err != nil {
				return
			}
			coord := tile.Coord{X: uint32(x), Y: uint32(y)}
			if !coord.Within(columns, rows) {
				continue
			}
			if !yield(coord) {
				return
			}
		}
	}
}
