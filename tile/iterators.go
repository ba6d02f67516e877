package tile

import (
	"errors"
	"iter"
)

var errVisitCancelled = errors.New("visit cancelled")

// IterTiles returns an iterator over the tiles of r.
// Iteration panics on errors other than early termination by the caller.
func IterTiles(r Visitor) iter.Seq2[Coord, []byte] {
	return func(yield func(Coord, []byte) bool) {
		err := r.VisitTiles(func(coord Coord, data []byte) error {
			if !yield(coord, data) {
				return errVisitCancelled
			}
			return nil
		})
		if err != nil && err != errVisitCancelled {
			panic(err)
		}
	}
}

func IterLocations(r LocationVisitor) iter.Seq2[Coord, Location] {
	return func(yield func(Coord, Location) bool) {
		err := r.VisitLocations(func(coord Coord, location Location) error {
			if !yield(coord, location) {
				return errVisitCancelled
			}
			return nil
		})
		if err != nil && err != errVisitCancelled {
			panic(err)
		}
	}
}

// Collect reads all tiles of r into a map.
func Collect(r Visitor) (map[Coord][]byte, error) {
	tiles := make(map[Coord][]byte)
	err := r.VisitTiles(func(coord Coord, data []byte) error {
		tiles[coord] = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tiles, nil
}

// GridSize returns the smallest grid holding every tile of r.
func GridSize(r Visitor) (columns, rows uint64, err error) {
	err = r.VisitTiles(func(coord Coord, _ []byte) error {
		columns = max(columns, uint64(coord.X)+1)
		rows = max(rows, uint64(coord.Y)+1)
		return nil
	})
	return columns, rows, err
}
