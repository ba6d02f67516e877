package heif

import (
	"fmt"
	"image"

	"github.com/eak1mov/go-libtild/box"
	"github.com/eak1mov/go-libtild/codec"
	"github.com/eak1mov/go-libtild/tild"
)

// Kind is the closed set of image item kinds.
type Kind uint8

const (
	// KindCoded is a single coded image decoded as a whole.
	KindCoded Kind = iota + 1
	// KindTiled is a 'tild' image decoded per tile.
	KindTiled
)

func (k Kind) String() string {
	switch k {
	case KindCoded:
		return "coded"
	case KindTiled:
		return "tiled"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

func kindOf(itemType box.Type) (Kind, bool) {
	if itemType == tild.ItemType {
		return KindTiled, true
	}
	if codec.FormatFromItemType(itemType) != codec.FormatUndefined {
		return KindCoded, true
	}
	return 0, false
}

// Image is an image item of a File.
type Image struct {
	file     *File
	id       box.ItemID
	itemType box.Type
	kind     Kind
	extent   *box.Extent
	tiled    *tild.Item // KindTiled only
}

// Image returns the image item id. Tiled items of opened files are loaded
// with their full offset table.
func (f *File) Image(id box.ItemID) (*Image, error) {
	itemType, err := f.ItemType(id)
	if err != nil {
		return nil, err
	}
	kind, ok := kindOf(itemType)
	if !ok {
		return nil, fmt.Errorf("%w: item %d of type %q is not an image", tild.ErrUnsupportedFeature, id, itemType)
	}

	m := &Image{file: f, id: id, itemType: itemType, kind: kind}
	if p, ok := f.Property(id, box.TypeExtent); ok {
		m.extent, _ = p.(*box.Extent)
	}

	switch kind {
	case KindTiled:
		f.mu.RLock()
		t := f.tiled[id]
		f.mu.RUnlock()
		if t == nil {
			if t, err = tild.Load(f, id, f.tildOptions()...); err != nil {
				return nil, err
			}
			f.mu.Lock()
			f.tiled[id] = t
			f.mu.Unlock()
		}
		m.tiled = t
	case KindCoded:
		if m.extent == nil {
			return nil, fmt.Errorf("%w: image %d without 'ispe' property box", tild.ErrInvalidInput, id)
		}
	}
	return m, nil
}

func (m *Image) ID() box.ItemID { return m.id }

func (m *Image) Kind() Kind { return m.kind }

func (m *Image) ItemType() box.Type { return m.itemType }

// Size returns the image width and height in pixels.
func (m *Image) Size() (width, height uint64) {
	switch m.kind {
	case KindTiled:
		p := m.tiled.Parameters()
		return p.ImageWidth, p.ImageHeight
	case KindCoded:
		return uint64(m.extent.Width), uint64(m.extent.Height)
	}
	return 0, 0
}

// Tiled returns the tiled item behind a KindTiled image.
func (m *Image) Tiled() (*tild.Item, bool) {
	return m.tiled, m.kind == KindTiled
}

// Format returns the compression format of the image or of its tiles.
func (m *Image) Format() codec.Format {
	switch m.kind {
	case KindTiled:
		return m.tiled.CompressionFormat()
	case KindCoded:
		return codec.FormatFromItemType(m.itemType)
	}
	return codec.FormatUndefined
}

// Decode decodes a whole coded image. Tiled images fail with
// tild.ErrUnsupportedFeature; decode them per tile.
func (m *Image) Decode() (image.Image, error) {
	switch m.kind {
	case KindTiled:
		return m.tiled.Decode()
	case KindCoded:
		data, err := m.data()
		if err != nil {
			return nil, err
		}
		opts := codec.Options{Width: int(m.extent.Width), Height: int(m.extent.Height)}
		img, err := m.file.codecs.Decode(m.Format(), data, opts)
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", m.id, err)
		}
		return img, nil
	}
	return nil, fmt.Errorf("%w: image kind %v", tild.ErrUnsupportedFeature, m.kind)
}

// DecodeTile decodes the tile at (x, y). A coded image is its own single tile.
func (m *Image) DecodeTile(x, y uint32) (image.Image, error) {
	switch m.kind {
	case KindTiled:
		return m.tiled.DecodeTile(x, y, codec.Options{})
	case KindCoded:
		if x != 0 || y != 0 {
			return nil, fmt.Errorf("%w: tile (%d,%d) of a single tile image", tild.ErrIndexOutOfRange, x, y)
		}
		return m.Decode()
	}
	return nil, fmt.Errorf("%w: image kind %v", tild.ErrUnsupportedFeature, m.kind)
}

// JPEGData returns the coded data of a JPEG image.
func (m *Image) JPEGData() ([]byte, error) {
	if m.kind != KindCoded || m.Format() != codec.FormatJPEG {
		return nil, fmt.Errorf("%w: image %d is not a JPEG image", tild.ErrUnsupportedFeature, m.id)
	}
	return m.data()
}

func (m *Image) data() ([]byte, error) {
	size, err := m.file.DataSize(m.id)
	if err != nil {
		return nil, err
	}
	return m.file.ReadData(m.id, 0, size)
}
