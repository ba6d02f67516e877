// Package index provides a portable binary index of tile locations.
package index

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/eak1mov/go-libtild/tile"
)

// Item represents a single record in the index, mapping tile coordinates (X, Y)
// to the location (Offset, Size) of the tile payload in the item data.
// It is designed to be easily portable to other languages and utilities.
type Item struct {
	X      uint32
	Y      uint32
	Size   uint32
	_      uint32
	Offset uint64
}

// ItemSize is the encoded size of an Item.
var ItemSize = binary.Size(Item{})

func NewItem(coord tile.Coord, location tile.Location) (Item, error) {
	if location.Size > 1<<32-1 {
		return Item{}, fmt.Errorf("tile %v: size %d does not fit the index", coord, location.Size)
	}
	return Item{X: coord.X, Y: coord.Y, Size: uint32(location.Size), Offset: location.Offset}, nil
}

func (i Item) Coord() tile.Coord {
	return tile.Coord{X: i.X, Y: i.Y}
}

func (i Item) Location() tile.Location {
	return tile.Location{Offset: i.Offset, Size: uint64(i.Size)}
}

// Collect builds index items for every location of r.
func Collect(r tile.LocationVisitor) ([]Item, error) {
	var items []Item
	err := r.VisitLocations(func(coord tile.Coord, location tile.Location) error {
		item, err := NewItem(coord, location)
		if err != nil {
			return err
		}
		items = append(items, item)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

func WriteAll(items []Item, writer io.Writer) error {
	return binary.Write(writer, binary.LittleEndian, items)
}

func ReadAll(indexData []byte) ([]Item, error) {
	if len(indexData)%ItemSize != 0 {
		return nil, fmt.Errorf("index of %d bytes is not a multiple of %d: %w", len(indexData), ItemSize, io.ErrUnexpectedEOF)
	}
	count := len(indexData) / ItemSize
	items := make([]Item, count)

	err := binary.Read(bytes.NewReader(indexData), binary.LittleEndian, items)
	if err != nil {
		return nil, err
	}

	return items, nil
}
