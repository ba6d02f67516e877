// Package tile provides tile grid coordinates and the interfaces of tile
// payload sources and sinks used to build and export tiled images.
package tile

import "fmt"

// Coord is the position of a tile in a tile grid: X counts columns from the
// left, Y counts rows from the top.
type Coord struct {
	X uint32
	Y uint32
}

func (c Coord) String() string {
	return fmt.Sprintf("(%d,%d)", c.X, c.Y)
}

// Within reports whether c lies in a grid of the given size.
func (c Coord) Within(columns, rows uint64) bool {
	return uint64(c.X) < columns && uint64(c.Y) < rows
}

// Writer accepts tile payloads.
type Writer interface {
	// WriteTile stores the coded payload of a single tile.
	WriteTile(coord Coord, data []byte) error

	// Finalize completes the writing process: flushes buffers, writes indices.
	// It must be called before closing the Writer.
	Finalize() error
}

type Reader interface {
	// ReadTile reads the coded payload of a single tile.
	// If the tile does not exist, it returns an empty slice with no error.
	ReadTile(coord Coord) ([]byte, error)
}

type Visitor interface {
	// VisitTiles calls the visitor for every stored tile.
	// Order of tiles is implementation-defined.
	VisitTiles(visitor func(Coord, []byte) error) error
}

// Location is the byte range of a tile payload, relative to the start of the
// data of the item that holds it.
type Location struct {
	Offset uint64
	Size   uint64
}

type LocationVisitor interface {
	VisitLocations(visitor func(Coord, Location) error) error
}
