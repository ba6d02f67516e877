package tild

import (
	"fmt"
	"math"
	"strings"

	"github.com/eak1mov/go-libtild/box"
)

var (
	// ItemType is the item type of tiled images.
	ItemType = box.TypeOf("tild")

	// TypeConfig is the box type of the tiling configuration property.
	TypeConfig = box.TypeOf("tilC")
)

// Flag layout of the 'tilC' full box header.
const (
	flagOffsetMask      = 0x03
	flagSizeMask        = 0x0c
	flagSizeShift       = 2
	flagSequential      = 0x10
	flagLargeDimensions = 0x20
	flagsDefined        = 0x3f
)

var (
	offsetFieldLengths = [4]uint8{32, 40, 48, 64}
	sizeFieldLengths   = [4]uint8{0, 24, 32, 64}
)

func offsetFieldCode(length uint8) (uint8, error) {
	for code, l := range offsetFieldLengths {
		if l == length {
			return uint8(code), nil
		}
	}
	return 0, fmt.Errorf("%w: offset field length %d", ErrInvalidParameters, length)
}

func sizeFieldCode(length uint8) (uint8, error) {
	for code, l := range sizeFieldLengths {
		if l == length {
			return uint8(code), nil
		}
	}
	return 0, fmt.Errorf("%w: size field length %d", ErrInvalidParameters, length)
}

// DeriveFlags returns the 'tilC' box version and flags for p.
func DeriveFlags(p Parameters) (version uint8, flags uint8, err error) {
	offsetCode, err := offsetFieldCode(p.OffsetFieldLength)
	if err != nil {
		return 0, 0, err
	}
	sizeCode, err := sizeFieldCode(p.SizeFieldLength)
	if err != nil {
		return 0, 0, err
	}

	flags = offsetCode | sizeCode<<flagSizeShift
	if p.TilesAreSequential {
		flags |= flagSequential
	}
	if p.largeDimensions() {
		flags |= flagLargeDimensions
	}
	return 1, flags, nil
}

// ConfigBox is the tiling configuration property ('tilC').
type ConfigBox struct {
	Parameters Parameters

	// LargeDimensions selects 8-byte extra dimension fields. It is set from
	// the image size by NewConfigBox and from the flags by ParseConfigBox.
	LargeDimensions bool
}

func NewConfigBox(p Parameters) (*ConfigBox, error) {
	if p.Version != 1 {
		return nil, fmt.Errorf("%w: tiling version %d", ErrUnsupportedVersion, p.Version)
	}
	if _, _, err := DeriveFlags(p); err != nil {
		return nil, err
	}
	if len(p.ExtraDimensions) > MaxExtraDimensions {
		return nil, fmt.Errorf("%w: %d extra dimensions", ErrInvalidParameters, len(p.ExtraDimensions))
	}
	c := &ConfigBox{Parameters: p.clone(), LargeDimensions: p.largeDimensions()}
	for _, d := range p.ExtraDimensions {
		if d > math.MaxUint32 {
			c.LargeDimensions = true
		}
	}
	return c, nil
}

func (c *ConfigBox) Type() box.Type { return TypeConfig }

func (c *ConfigBox) dimensionSize() int {
	if c.LargeDimensions {
		return 8
	}
	return 4
}

// WriteBox writes the box. Image width and height are not written: they are
// carried by the 'ispe' property of the same item.
func (c *ConfigBox) WriteBox(w *box.Writer) error {
	p := c.Parameters
	version, flags, err := DeriveFlags(p)
	if err != nil {
		return err
	}
	if c.LargeDimensions {
		flags |= flagLargeDimensions
	}
	if len(p.ExtraDimensions) > MaxExtraDimensions {
		return fmt.Errorf("%w: %d extra dimensions", ErrInvalidParameters, len(p.ExtraDimensions))
	}
	dimSize := c.dimensionSize()
	for _, d := range p.ExtraDimensions {
		if dimSize == 4 && d > math.MaxUint32 {
			return fmt.Errorf("%w: extra dimension %d in 32 bits", ErrFieldOverflow, d)
		}
	}

	start := w.StartFullBox(TypeConfig, version, uint32(flags))
	w.Uint8(uint8(len(p.ExtraDimensions)))
	for _, d := range p.ExtraDimensions {
		w.UintN(d, dimSize)
	}
	w.Uint32(p.TileWidth)
	w.Uint32(p.TileHeight)
	w.Type(p.CompressionType)
	return w.EndBox(start)
}

func (c *ConfigBox) MarshalBinary() ([]byte, error) {
	return box.Marshal(c)
}

func (c *ConfigBox) String() string {
	p := c.Parameters
	var sb strings.Builder
	fmt.Fprintf(&sb, "Box: tilC\n")
	fmt.Fprintf(&sb, "version: %d\n", p.Version)
	fmt.Fprintf(&sb, "tile size: %dx%d\n", p.TileWidth, p.TileHeight)
	fmt.Fprintf(&sb, "compression: %v\n", p.CompressionType)
	fmt.Fprintf(&sb, "tiles are sequential: %v\n", yesNo(p.TilesAreSequential))
	fmt.Fprintf(&sb, "offset field length: %d bits\n", p.OffsetFieldLength)
	fmt.Fprintf(&sb, "size field length: %d bits\n", p.SizeFieldLength)
	fmt.Fprintf(&sb, "number of extra dimensions: %d\n", len(p.ExtraDimensions))
	return sb.String()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// ParseConfigBox parses the body of a 'tilC' box (starting at the full box
// header). Image width and height are left zero.
//
// All declared extra dimensions are read and checked, only the first
// MaxExtraDimensions are kept.
func ParseConfigBox(body *box.Reader) (*ConfigBox, error) {
	version, flags := body.FullBoxHeader()
	if err := body.Err(); err != nil {
		return nil, fmt.Errorf("tilC: %w", err)
	}
	if version != 1 {
		return nil, fmt.Errorf("%w: 'tild' image version %d is not implemented", ErrUnsupportedVersion, version)
	}
	if flags&^flagsDefined != 0 {
		return nil, fmt.Errorf("%w: 'tilC' reserved flags 0x%06x set", ErrInvalidInput, flags&^flagsDefined)
	}

	c := &ConfigBox{
		Parameters: Parameters{
			Version:            version,
			OffsetFieldLength:  offsetFieldLengths[flags&flagOffsetMask],
			SizeFieldLength:    sizeFieldLengths[(flags&flagSizeMask)>>flagSizeShift],
			TilesAreSequential: flags&flagSequential != 0,
		},
		LargeDimensions: flags&flagLargeDimensions != 0,
	}
	p := &c.Parameters

	count := int(body.Uint8())
	dimSize := c.dimensionSize()
	if err := body.Require(uint64(count*dimSize) + 3*4); err != nil {
		return nil, fmt.Errorf("tilC: %w", err)
	}

	for i := range min(count, maxDeclaredExtraDimensions) {
		d := body.UintN(dimSize)
		if body.Err() == nil && d == 0 {
			return nil, fmt.Errorf("%w: 'tild' extra dimension %d is zero", ErrInvalidInput, i)
		}
		if i < MaxExtraDimensions {
			p.ExtraDimensions = append(p.ExtraDimensions, d)
		}
	}

	p.TileWidth = body.Uint32()
	p.TileHeight = body.Uint32()
	p.CompressionType = body.Type()
	if err := body.Err(); err != nil {
		return nil, fmt.Errorf("tilC: %w", err)
	}

	if p.TileWidth == 0 || p.TileHeight == 0 {
		return nil, fmt.Errorf("%w: tile with zero width or height", ErrInvalidInput)
	}
	return c, nil
}

// UnmarshalConfigBox parses a complete 'tilC' box.
func UnmarshalConfigBox(data []byte) (*ConfigBox, error) {
	header, body, err := box.NewReader(data).NextBox()
	if err != nil {
		return nil, fmt.Errorf("tilC: %w", err)
	}
	if header.Type != TypeConfig {
		return nil, fmt.Errorf("%w: box %q is not 'tilC'", ErrInvalidInput, header.Type)
	}
	return ParseConfigBox(body)
}
