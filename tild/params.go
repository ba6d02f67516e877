// Package tild implements tiled large-image items ('tild'): the tiling
// configuration box ('tilC'), the per-tile offset table stored at the start of
// the item data, and the item lifecycle that creates, finalizes, loads and
// decodes single tiles.
package tild

import (
	"fmt"
	"math"
	"math/bits"
	"slices"

	"github.com/eak1mov/go-libtild/box"
)

const (
	// MaxExtraDimensions is the number of extra dimensions kept per image.
	MaxExtraDimensions = 8

	// maxDeclaredExtraDimensions is bounded by the 1-byte count on the wire.
	maxDeclaredExtraDimensions = math.MaxUint8

	// DefaultMaxTiles is the default security limit on the number of tiles.
	DefaultMaxTiles = 4096 * 4096
)

// Parameters describe the tiling geometry and storage layout of a tiled image.
type Parameters struct {
	Version uint8

	// ImageWidth and ImageHeight are not stored in 'tilC'. On load they come
	// from the 'ispe' property.
	ImageWidth  uint64
	ImageHeight uint64

	TileWidth  uint32
	TileHeight uint32

	// ExtraDimensions are additional axes (e.g. depth, time), at most
	// MaxExtraDimensions, each multiplying the tile count.
	ExtraDimensions []uint64

	OffsetFieldLength  uint8 // bits: 32, 40, 48 or 64
	SizeFieldLength    uint8 // bits: 0 (sizes not stored), 24, 32 or 64
	TilesAreSequential bool

	// CompressionType is the item type code of the tile payloads (e.g. "jpeg").
	CompressionType box.Type
}

// NewParameters returns version 1 parameters with 40-bit offsets and 24-bit sizes.
func NewParameters(imageWidth, imageHeight uint64, tileWidth, tileHeight uint32, compression box.Type) Parameters {
	return Parameters{
		Version:           1,
		ImageWidth:        imageWidth,
		ImageHeight:       imageHeight,
		TileWidth:         tileWidth,
		TileHeight:        tileHeight,
		OffsetFieldLength: 40,
		SizeFieldLength:   24,
		CompressionType:   compression,
	}
}

func (p Parameters) clone() Parameters {
	p.ExtraDimensions = slices.Clone(p.ExtraDimensions)
	return p
}

// Validate checks the geometry invariants and the field width choices.
func (p Parameters) Validate() error {
	if p.Version != 1 {
		return fmt.Errorf("%w: tiling version %d", ErrUnsupportedVersion, p.Version)
	}
	if p.ImageWidth == 0 || p.ImageHeight == 0 {
		return fmt.Errorf("%w: image with zero width or height", ErrInvalidInput)
	}
	if p.TileWidth == 0 || p.TileHeight == 0 {
		return fmt.Errorf("%w: tile with zero width or height", ErrInvalidInput)
	}
	if len(p.ExtraDimensions) > MaxExtraDimensions {
		return fmt.Errorf("%w: %d extra dimensions, at most %d supported",
			ErrInvalidParameters, len(p.ExtraDimensions), MaxExtraDimensions)
	}
	for i, d := range p.ExtraDimensions {
		if d == 0 {
			return fmt.Errorf("%w: extra dimension %d is zero", ErrInvalidInput, i)
		}
	}
	if _, err := offsetFieldCode(p.OffsetFieldLength); err != nil {
		return err
	}
	if _, err := sizeFieldCode(p.SizeFieldLength); err != nil {
		return err
	}
	return nil
}

// TilesHorizontal returns the number of tile columns.
func (p Parameters) TilesHorizontal() uint64 {
	return ceilDiv(p.ImageWidth, uint64(p.TileWidth))
}

// TilesVertical returns the number of tile rows.
func (p Parameters) TilesVertical() uint64 {
	return ceilDiv(p.ImageHeight, uint64(p.TileHeight))
}

func ceilDiv(a, b uint64) uint64 {
	if b == 0 {
		return 0
	}
	return a/b + min(a%b, 1)
}

// TileCount returns columns * rows * product(extra dimensions).
// ok is false if the product does not fit in 64 bits.
func (p Parameters) TileCount() (count uint64, ok bool) {
	count = p.TilesHorizontal()
	factors := append([]uint64{p.TilesVertical()}, p.ExtraDimensions[:min(len(p.ExtraDimensions), MaxExtraDimensions)]...)
	for _, f := range factors {
		hi, lo := bits.Mul64(count, f)
		if hi != 0 {
			return 0, false
		}
		count = lo
	}
	return count, true
}

// EntrySize returns the number of bytes per offset table entry.
func (p Parameters) EntrySize() int {
	return (int(p.OffsetFieldLength) + int(p.SizeFieldLength)) / 8
}

// largeDimensions reports whether the image needs more than 16 bits per dimension.
func (p Parameters) largeDimensions() bool {
	return p.ImageWidth > math.MaxUint16 || p.ImageHeight > math.MaxUint16
}

// Limits bound values derived from untrusted input.
type Limits struct {
	// MaxTiles bounds the total tile count. Zero means DefaultMaxTiles.
	MaxTiles uint64
}

func DefaultLimits() Limits {
	return Limits{MaxTiles: DefaultMaxTiles}
}

func (l Limits) maxTiles() uint64 {
	if l.MaxTiles == 0 {
		return DefaultMaxTiles
	}
	return l.MaxTiles
}

// TileCount computes the tile count of p and checks it against the limit.
func (l Limits) TileCount(p Parameters) (uint64, error) {
	count, ok := p.TileCount()
	if !ok || count > l.maxTiles() {
		return 0, fmt.Errorf("%w: number of tiles exceeds %d", ErrSecurityLimitExceeded, l.maxTiles())
	}
	return count, nil
}
