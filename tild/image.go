package tild

import (
	"errors"
	"image"
	"image/color"
	"image/draw"
	"sync"

	"github.com/eak1mov/go-libtild/codec"
	lru "github.com/hashicorp/golang-lru"
)

const DefaultCacheSize = 200

// Image is a lazily decoded view of a tiled item. Tiles are decoded on first
// access and kept in an LRU cache. Pixels of unwritten tiles are transparent.
type Image struct {
	item   *Item
	cache  *lru.Cache // tile index -> image.Image
	bounds image.Rectangle

	mu  sync.Mutex
	err error
}

// NewImage returns a view of item caching up to cacheSize decoded tiles.
func NewImage(item *Item, cacheSize int) (*Image, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}
	p := item.params
	return &Image{
		item:   item,
		cache:  cache,
		bounds: image.Rect(0, 0, int(p.ImageWidth), int(p.ImageHeight)),
	}, nil
}

func (m *Image) ColorModel() color.Model {
	return color.RGBAModel
}

func (m *Image) Bounds() image.Rectangle {
	return m.bounds
}

// Tile returns the decoded tile at (x, y), nil if the tile has no data.
func (m *Image) Tile(x, y uint32) (image.Image, error) {
	index, err := m.item.table.Index(x, y)
	if err != nil {
		return nil, err
	}
	if val, ok := m.cache.Get(index); ok {
		return val.(image.Image), nil
	}

	img, err := m.item.DecodeTile(x, y, codec.Options{})
	if err != nil {
		return nil, err
	}
	m.cache.Add(index, img)
	return img, nil
}

func (m *Image) At(x, y int) color.Color {
	if !(image.Point{X: x, Y: y}).In(m.bounds) {
		return color.RGBA{}
	}
	tw, th := m.item.TileSize()
	img, err := m.Tile(uint32(x)/tw, uint32(y)/th)
	if err != nil {
		m.setErr(err)
		return color.RGBA{}
	}
	b := img.Bounds()
	return img.At(b.Min.X+x%int(tw), b.Min.Y+y%int(th))
}

// Err returns the first tile error seen by At, ignoring unwritten tiles.
func (m *Image) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

func (m *Image) setErr(err error) {
	if errors.Is(err, ErrTileNotWritten) {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err == nil {
		m.err = err
	}
}

// Render decodes every written tile of the base grid into an RGBA image.
func (m *Image) Render() (*image.RGBA, error) {
	dst := image.NewRGBA(m.bounds)
	tw, th := m.item.TileSize()
	for coord := range m.item.WrittenTiles() {
		img, err := m.Tile(coord.X, coord.Y)
		if err != nil {
			return nil, err
		}
		r := image.Rect(0, 0, int(tw), int(th)).
			Add(image.Pt(int(coord.X*tw), int(coord.Y*th))).
			Intersect(m.bounds)
		draw.Draw(dst, r, img, img.Bounds().Min, draw.Src)
	}
	return dst, nil
}
