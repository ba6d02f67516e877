package internal

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"slices"

	"github.com/eak1mov/go-libtild/box"
)

// MemContainer is an in-memory item store for tests.
type MemContainer struct {
	nextID     box.ItemID
	ItemTypes  map[box.ItemID]box.Type
	Properties map[box.ItemID][]box.Box
	Essential  map[box.ItemID][]bool
	Data       map[box.ItemID][]byte
}

func NewMemContainer() *MemContainer {
	return &MemContainer{
		nextID:     1,
		ItemTypes:  make(map[box.ItemID]box.Type),
		Properties: make(map[box.ItemID][]box.Box),
		Essential:  make(map[box.ItemID][]bool),
		Data:       make(map[box.ItemID][]byte),
	}
}

func (c *MemContainer) AddItem(itemType box.Type) (box.ItemID, error) {
	id := c.nextID
	c.nextID++
	c.ItemTypes[id] = itemType
	c.Data[id] = nil
	return id, nil
}

func (c *MemContainer) item(id box.ItemID) error {
	if _, ok := c.ItemTypes[id]; !ok {
		return fmt.Errorf("item %d not found", id)
	}
	return nil
}

func (c *MemContainer) AddProperty(id box.ItemID, property box.Box, essential bool) error {
	if err := c.item(id); err != nil {
		return err
	}
	c.Properties[id] = append(c.Properties[id], property)
	c.Essential[id] = append(c.Essential[id], essential)
	return nil
}

func (c *MemContainer) Property(id box.ItemID, propertyType box.Type) (box.Box, bool) {
	for _, p := range c.Properties[id] {
		if p.Type() == propertyType {
			return p, true
		}
	}
	return nil, false
}

func (c *MemContainer) AppendData(id box.ItemID, data []byte) (uint64, error) {
	if err := c.item(id); err != nil {
		return 0, err
	}
	position := uint64(len(c.Data[id]))
	c.Data[id] = append(c.Data[id], data...)
	return position, nil
}

func (c *MemContainer) ReplaceData(id box.ItemID, position uint64, data []byte) error {
	if err := c.item(id); err != nil {
		return err
	}
	itemData := c.Data[id]
	if position > uint64(len(itemData)) || uint64(len(data)) > uint64(len(itemData))-position {
		return fmt.Errorf("replace %d bytes at %d: %w", len(data), position, box.ErrEndOfStream)
	}
	copy(itemData[position:], data)
	return nil
}

func (c *MemContainer) ReadData(id box.ItemID, offset, size uint64) ([]byte, error) {
	if err := c.item(id); err != nil {
		return nil, err
	}
	itemData := c.Data[id]
	if offset > uint64(len(itemData)) || size > uint64(len(itemData))-offset {
		return nil, fmt.Errorf("read %d bytes at %d: %w", size, offset, box.ErrEndOfStream)
	}
	return slices.Clone(itemData[offset : offset+size]), nil
}

func (c *MemContainer) DataSize(id box.ItemID) (uint64, error) {
	if err := c.item(id); err != nil {
		return 0, err
	}
	return uint64(len(c.Data[id])), nil
}

// TilePayload returns a deterministic payload unique to (x, y).
func TilePayload(x, y uint32) []byte {
	return fmt.Appendf(nil, "tile-%d-%d", x, y)
}

// TileColor returns the fill color of the test tile at (x, y).
func TileColor(x, y uint32) color.RGBA {
	return color.RGBA{R: uint8(x * 40), G: uint8(y * 40), B: 128, A: 255}
}

// SolidTile returns a width x height RGBA image filled with TileColor(x, y).
func SolidTile(x, y uint32, width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	c := TileColor(x, y)
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

// JPEGTile encodes SolidTile(x, y, width, height) at maximum quality.
func JPEGTile(x, y uint32, width, height int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, SolidTile(x, y, width, height), &jpeg.Options{Quality: 100}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
