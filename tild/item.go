package tild

import (
	"errors"
	"fmt"
	"image"
	"iter"
	"log/slog"
	"math"

	"github.com/eak1mov/go-libtild/box"
	"github.com/eak1mov/go-libtild/codec"
	"github.com/eak1mov/go-libtild/tile"
)

// Container is the item store a tiled item lives in. Items borrow the
// container; it is shared by all items of a file.
type Container interface {
	AddItem(itemType box.Type) (box.ItemID, error)
	AddProperty(id box.ItemID, property box.Box, essential bool) error
	Property(id box.ItemID, propertyType box.Type) (box.Box, bool)

	// AppendData appends to the item data and returns the position of the
	// first appended byte, relative to the start of the item data.
	AppendData(id box.ItemID, data []byte) (uint64, error)
	// ReplaceData overwrites item data previously appended at position.
	ReplaceData(id box.ItemID, position uint64, data []byte) error
	ReadData(id box.ItemID, offset, size uint64) ([]byte, error)
	DataSize(id box.ItemID) (uint64, error)
}

// Item is a tiled image item.
//
// A created item accepts tile payloads through AppendTile until the container
// is written; Finalize rewrites the offset table reserved at creation. A
// loaded item is read-only. DecodeTile may be called concurrently as long as
// no AppendTile or Finalize runs at the same time and the container supports
// concurrent reads.
type Item struct {
	container     Container
	id            box.ItemID
	params        Parameters
	table         *OffsetTable
	tablePosition uint64
	readOnly      bool
	codecs        *codec.Registry
	cacheSize     int
	logger        *slog.Logger
}

type itemConfig struct {
	limits    Limits
	codecs    *codec.Registry
	cacheSize int
	logger    *slog.Logger
}

type Option func(*itemConfig)

func WithLimits(limits Limits) Option {
	return func(c *itemConfig) { c.limits = limits }
}

// WithCodecs sets the decoders used by DecodeTile.
func WithCodecs(codecs *codec.Registry) Option {
	return func(c *itemConfig) { c.codecs = codecs }
}

// WithCacheSize sets the number of decoded tiles kept by Item.Image.
func WithCacheSize(tiles int) Option {
	return func(c *itemConfig) { c.cacheSize = tiles }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *itemConfig) { c.logger = logger }
}

func newItemConfig(opts []Option) itemConfig {
	config := itemConfig{
		limits:    DefaultLimits(),
		cacheSize: DefaultCacheSize,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(&config)
	}
	if config.codecs == nil {
		config.codecs = codec.DefaultRegistry()
	}
	return config
}

// Create adds a new tiled image item to c: the 'tilC' property, an offset
// table with every tile unwritten at the start of the item data, and the
// 'ispe' property.
func Create(c Container, p Parameters, opts ...Option) (*Item, error) {
	config := newItemConfig(opts)

	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.ImageWidth > math.MaxUint32 || p.ImageHeight > math.MaxUint32 {
		return nil, fmt.Errorf("%w: 'ispe' only supports image sizes up to %d pixels per dimension",
			ErrInvalidImageSize, uint32(math.MaxUint32))
	}
	table, err := NewOffsetTable(p, config.limits)
	if err != nil {
		return nil, err
	}
	configBox, err := NewConfigBox(p)
	if err != nil {
		return nil, err
	}

	id, err := c.AddItem(ItemType)
	if err != nil {
		return nil, err
	}
	if err := c.AddProperty(id, configBox, true); err != nil {
		return nil, err
	}
	tablePosition, err := c.AppendData(id, table.Encode())
	if err != nil {
		return nil, err
	}
	extent := &box.Extent{Width: uint32(p.ImageWidth), Height: uint32(p.ImageHeight)}
	if err := c.AddProperty(id, extent, false); err != nil {
		return nil, err
	}

	config.logger.Debug("libtild: created tiled item",
		"item", id,
		"columns", p.TilesHorizontal(),
		"rows", p.TilesVertical(),
		"tiles", table.Len(),
		"table_size", table.HeaderSize())

	return &Item{
		container:     c,
		id:            id,
		params:        p.clone(),
		table:         table,
		tablePosition: tablePosition,
		codecs:        config.codecs,
		cacheSize:     config.cacheSize,
		logger:        config.logger,
	}, nil
}

// Load reads the tiling parameters and the full offset table of item id.
func Load(c Container, id box.ItemID, opts ...Option) (*Item, error) {
	config := newItemConfig(opts)

	property, _ := c.Property(id, TypeConfig)
	configBox, ok := property.(*ConfigBox)
	if !ok {
		return nil, fmt.Errorf("%w: tiled image without 'tilC' property box", ErrInvalidInput)
	}
	property, _ = c.Property(id, box.TypeExtent)
	extent, ok := property.(*box.Extent)
	if !ok {
		return nil, fmt.Errorf("%w: tiled image without 'ispe' property box", ErrInvalidInput)
	}

	p := configBox.Parameters.clone()
	p.ImageWidth = uint64(extent.Width)
	p.ImageHeight = uint64(extent.Height)
	if p.ImageWidth == 0 || p.ImageHeight == 0 {
		return nil, fmt.Errorf("%w: 'tild' image with zero width or height", ErrInvalidInput)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	count, err := config.limits.TileCount(p)
	if err != nil {
		return nil, err
	}
	entrySize := uint64(p.EntrySize())
	if count > math.MaxUint64/entrySize {
		return nil, fmt.Errorf("%w: offset table of %d entries", ErrSecurityLimitExceeded, count)
	}

	data, err := c.ReadData(id, 0, count*entrySize)
	if err != nil {
		return nil, fmt.Errorf("tild offset table: %w", err)
	}
	table, err := DecodeOffsetTable(data, p, config.limits)
	if err != nil {
		return nil, err
	}

	config.logger.Debug("libtild: loaded tiled item", "item", id, "tiles", count)

	return &Item{
		container: c,
		id:        id,
		params:    p,
		table:     table,
		readOnly:  true,
		codecs:    config.codecs,
		cacheSize: config.cacheSize,
		logger:    config.logger,
	}, nil
}

func (it *Item) ID() box.ItemID { return it.id }

func (it *Item) ReadOnly() bool { return it.readOnly }

func (it *Item) Parameters() Parameters { return it.params.clone() }

func (it *Item) TileSize() (width, height uint32) {
	return it.params.TileWidth, it.params.TileHeight
}

// CompressionFormat returns the format of the tile payloads.
func (it *Item) CompressionFormat() codec.Format {
	return codec.FormatFromItemType(it.params.CompressionType)
}

// AppendTile appends the payload of the tile at (x, y) to the item data and
// records its location. Each tile is written once, with a non-empty payload.
func (it *Item) AppendTile(x, y uint32, data []byte) error {
	if it.readOnly {
		return ErrReadOnly
	}
	if len(data) == 0 {
		return fmt.Errorf("%w: tile (%d,%d) with empty payload", ErrInvalidInput, x, y)
	}
	index, err := it.table.Index(x, y)
	if err != nil {
		return err
	}
	if entry, _ := it.table.Entry(index); entry.Present {
		return fmt.Errorf("%w: tile (%d,%d) already written", ErrInvalidInput, x, y)
	}
	if uint64(len(data)) > math.MaxUint32 ||
		(it.params.SizeFieldLength != 0 && !fitsBits(uint64(len(data)), it.params.SizeFieldLength)) {
		return fmt.Errorf("%w: tile of %d bytes in %d bits", ErrFieldOverflow, len(data), it.params.SizeFieldLength)
	}
	end, err := it.container.DataSize(it.id)
	if err != nil {
		return err
	}
	if !fitsBits(end, it.params.OffsetFieldLength) {
		return fmt.Errorf("%w: offset %d in %d bits", ErrFieldOverflow, end, it.params.OffsetFieldLength)
	}

	position, err := it.container.AppendData(it.id, data)
	if err != nil {
		return err
	}
	return it.table.SetEntryAt(index, position, uint32(len(data)))
}

// Finalize rewrites the offset table reserved by Create with the current
// tile locations. The container calls it before writing the file; it must
// not run concurrently with other calls on the same item.
func (it *Item) Finalize() error {
	if it.readOnly {
		return ErrReadOnly
	}
	data := it.table.Encode()
	if err := it.container.ReplaceData(it.id, it.tablePosition, data); err != nil {
		return err
	}

	written := 0
	for range it.table.Present() {
		written++
	}
	it.logger.Debug("libtild: offset table rewritten", "item", it.id, "written", written, "tiles", it.table.Len())
	return nil
}

// Location returns the byte range of the tile at (x, y) in the item data.
// Without stored sizes, a tile extends to the next tile in the item data or
// to the end of the data.
func (it *Item) Location(x, y uint32) (tile.Location, error) {
	index, err := it.table.Index(x, y)
	if err != nil {
		return tile.Location{}, err
	}
	entry, err := it.table.Entry(index)
	if err != nil {
		return tile.Location{}, err
	}
	return it.location(x, y, entry)
}

func (it *Item) location(x, y uint32, entry Entry) (tile.Location, error) {
	if !entry.Present {
		return tile.Location{}, fmt.Errorf("%w: tile (%d,%d)", ErrTileNotWritten, x, y)
	}
	if it.params.SizeFieldLength != 0 {
		return tile.Location{Offset: entry.Offset, Size: uint64(entry.Size)}, nil
	}

	end, found := it.table.nextOffset(entry.Offset)
	if !found {
		size, err := it.container.DataSize(it.id)
		if err != nil {
			return tile.Location{}, err
		}
		end = size
	}
	if end < entry.Offset {
		return tile.Location{}, fmt.Errorf("%w: tile (%d,%d) offset %d beyond item data", ErrInvalidInput, x, y, entry.Offset)
	}
	return tile.Location{Offset: entry.Offset, Size: end - entry.Offset}, nil
}

// ReadTile returns the coded payload of the tile at (x, y).
func (it *Item) ReadTile(x, y uint32) ([]byte, error) {
	location, err := it.Location(x, y)
	if err != nil {
		return nil, err
	}
	return it.container.ReadData(it.id, location.Offset, location.Size)
}

// DecodeTile decodes the tile at (x, y) with the decoder registered for the
// tile compression format. Zero Width and Height in opts default to the tile
// size. Nil ConfigurationData is read from the decoder configuration property
// of the item, if it has one.
func (it *Item) DecodeTile(x, y uint32, opts codec.Options) (image.Image, error) {
	data, err := it.ReadTile(x, y)
	if err != nil {
		return nil, err
	}
	if opts.Width == 0 && opts.Height == 0 {
		opts.Width, opts.Height = int(it.params.TileWidth), int(it.params.TileHeight)
	}
	if opts.ConfigurationData == nil {
		if opts.ConfigurationData, err = it.configurationData(); err != nil {
			return nil, err
		}
	}

	img, err := it.codecs.Decode(it.CompressionFormat(), data, opts)
	if errors.Is(err, codec.ErrNoDecoder) {
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedFeature, err)
	}
	if err != nil {
		return nil, fmt.Errorf("tile (%d,%d): %w", x, y, err)
	}
	return img, nil
}

func (it *Item) configurationData() ([]byte, error) {
	format := it.CompressionFormat()
	configType, ok := format.ConfigType()
	if !ok {
		return nil, nil
	}
	property, ok := it.container.Property(it.id, configType)
	if !ok {
		return nil, nil
	}
	raw, ok := property.(*box.Raw)
	if !ok {
		return nil, fmt.Errorf("%w: %q property of type %T", ErrInvalidInput, configType, property)
	}
	data, err := codec.ConfigurationData(format, raw.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return data, nil
}

// Image returns a lazily decoded view of the item.
func (it *Item) Image() (*Image, error) {
	return NewImage(it, it.cacheSize)
}

// Decode fails: tiled images are decoded per tile.
func (it *Item) Decode() (image.Image, error) {
	return nil, fmt.Errorf("%w: 'tild' images can only be accessed per tile", ErrUnsupportedFeature)
}

// WrittenTiles iterates over the tiles of the base grid that have data.
func (it *Item) WrittenTiles() iter.Seq2[tile.Coord, Entry] {
	return func(yield func(tile.Coord, Entry) bool) {
		gridSize := it.params.TilesHorizontal() * it.params.TilesVertical()
		for index, entry := range it.table.Present() {
			if index >= gridSize {
				return
			}
			if !yield(it.table.Coord(index), entry) {
				return
			}
		}
	}
}

// VisitLocations implements tile.LocationVisitor.
func (it *Item) VisitLocations(visitor func(tile.Coord, tile.Location) error) error {
	for coord, entry := range it.WrittenTiles() {
		location, err := it.location(coord.X, coord.Y, entry)
		if err != nil {
			return err
		}
		if err := visitor(coord, location); err != nil {
			return err
		}
	}
	return nil
}

// VisitTiles implements tile.Visitor.
func (it *Item) VisitTiles(visitor func(tile.Coord, []byte) error) error {
	return it.VisitLocations(func(coord tile.Coord, location tile.Location) error {
		data, err := it.container.ReadData(it.id, location.Offset, location.Size)
		if err != nil {
			return err
		}
		return visitor(coord, data)
	})
}

type tileReader struct{ *Item }

// TileReader returns a tile.Reader that reports unwritten tiles as empty.
func (it *Item) TileReader() tile.Reader { return tileReader{it} }

func (r tileReader) ReadTile(coord tile.Coord) ([]byte, error) {
	data, err := r.Item.ReadTile(coord.X, coord.Y)
	if errors.Is(err, ErrTileNotWritten) {
		return make([]byte, 0), nil
	}
	return data, err
}

// Tiling describes the tile grid for callers assembling a full image.
type Tiling struct {
	Columns         uint64   `json:"columns"`
	Rows            uint64   `json:"rows"`
	TileWidth       uint32   `json:"tile_width"`
	TileHeight      uint32   `json:"tile_height"`
	ImageWidth      uint64   `json:"image_width"`
	ImageHeight     uint64   `json:"image_height"`
	ExtraDimensions []uint64 `json:"extra_dimensions,omitempty"`
}

func (it *Item) Tiling() Tiling {
	return it.params.Tiling()
}

func (p Parameters) Tiling() Tiling {
	return Tiling{
		Columns:         p.TilesHorizontal(),
		Rows:            p.TilesVertical(),
		TileWidth:       p.TileWidth,
		TileHeight:      p.TileHeight,
		ImageWidth:      p.ImageWidth,
		ImageHeight:     p.ImageHeight,
		ExtraDimensions: append([]uint64(nil), p.ExtraDimensions[:min(len(p.ExtraDimensions), MaxExtraDimensions)]...),
	}
}
