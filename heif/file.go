// Package heif is a minimal HEIF-style item container: items with typed
// properties and data, stored as ftyp, meta and mdat boxes. It provides the
// storage for tiled image items.
package heif

import (
	"bytes"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"log/slog"
	"math"
	"slices"
	"sync"

	"github.com/eak1mov/go-libtild/box"
	"github.com/eak1mov/go-libtild/codec"
	"github.com/eak1mov/go-libtild/tild"
)

var (
	ErrInvalidFile  = errors.New("libtild: invalid heif file")
	ErrItemNotFound = errors.New("libtild: item not found")
	ErrReadOnly     = tild.ErrReadOnly
)

type extent struct {
	offset uint64
	length uint64
}

type association struct {
	index     uint16 // 1-based index into the property container
	essential bool
}

type item struct {
	id           box.ItemID
	itemType     box.Type
	name         string
	associations []association

	data    []byte   // items of created files
	extents []extent // items of opened files, absolute file offsets
	size    uint64
}

type File struct {
	mu sync.RWMutex

	items      map[box.ItemID]*item
	order      []box.ItemID
	properties []box.Box
	primary    box.ItemID
	nextID     box.ItemID

	tiled map[box.ItemID]*tild.Item

	source   io.ReaderAt
	closer   io.Closer
	readOnly bool

	limits tild.Limits
	codecs *codec.Registry
	logger *slog.Logger
}

type fileConfig struct {
	limits tild.Limits
	codecs *codec.Registry
	logger *slog.Logger
}

type Option func(*fileConfig)

func WithLimits(limits tild.Limits) Option {
	return func(c *fileConfig) { c.limits = limits }
}

func WithCodecs(codecs *codec.Registry) Option {
	return func(c *fileConfig) { c.codecs = codecs }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *fileConfig) { c.logger = logger }
}

func newFile(opts []Option) *File {
	config := fileConfig{
		limits: tild.DefaultLimits(),
		codecs: codec.DefaultRegistry(),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(&config)
	}
	return &File{
		items:  make(map[box.ItemID]*item),
		tiled:  make(map[box.ItemID]*tild.Item),
		nextID: 1,
		limits: config.limits,
		codecs: config.codecs,
		logger: config.logger,
	}
}

// New returns an empty writable file.
func New(opts ...Option) *File {
	return newFile(opts)
}

func (f *File) tildOptions() []tild.Option {
	return []tild.Option{
		tild.WithLimits(f.limits),
		tild.WithCodecs(f.codecs),
		tild.WithLogger(f.logger),
	}
}

// Close releases the file source, if it was opened with OpenFile.
func (f *File) Close() error {
	if f.closer == nil {
		return nil
	}
	err := f.closer.Close()
	f.closer = nil
	return err
}

func (f *File) lookup(id box.ItemID) (*item, error) {
	it, ok := f.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: item %d", ErrItemNotFound, id)
	}
	return it, nil
}

// AddItem implements tild.Container.
func (f *File) AddItem(itemType box.Type) (box.ItemID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.readOnly {
		return 0, ErrReadOnly
	}
	if f.nextID == math.MaxUint32 {
		return 0, fmt.Errorf("%w: item ids exhausted", tild.ErrSecurityLimitExceeded)
	}
	id := f.nextID
	f.nextID++
	f.items[id] = &item{id: id, itemType: itemType}
	f.order = append(f.order, id)
	return id, nil
}

// AddProperty implements tild.Container. Equal properties are stored once
// and shared between items.
func (f *File) AddProperty(id box.ItemID, property box.Box, essential bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.readOnly {
		return ErrReadOnly
	}
	it, err := f.lookup(id)
	if err != nil {
		return err
	}
	data, err := box.Marshal(property)
	if err != nil {
		return err
	}

	index := -1
	for i, p := range f.properties {
		if other, err := box.Marshal(p); err == nil && bytes.Equal(data, other) {
			index = i
			break
		}
	}
	if index < 0 {
		if len(f.properties) >= 1<<15-1 {
			return fmt.Errorf("%w: too many properties", tild.ErrSecurityLimitExceeded)
		}
		f.properties = append(f.properties, property)
		index = len(f.properties) - 1
	}
	it.associations = append(it.associations, association{index: uint16(index + 1), essential: essential})
	return nil
}

// Property implements tild.Container.
func (f *File) Property(id box.ItemID, propertyType box.Type) (box.Box, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	it, ok := f.items[id]
	if !ok {
		return nil, false
	}
	for _, a := range it.associations {
		p := f.properties[a.index-1]
		if p.Type() == propertyType {
			return p, true
		}
	}
	return nil, false
}

// AppendData implements tild.Container.
func (f *File) AppendData(id box.ItemID, data []byte) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.readOnly {
		return 0, ErrReadOnly
	}
	it, err := f.lookup(id)
	if err != nil {
		return 0, err
	}
	position := uint64(len(it.data))
	it.data = append(it.data, data...)
	it.size = uint64(len(it.data))
	return position, nil
}

// ReplaceData implements tild.Container.
func (f *File) ReplaceData(id box.ItemID, position uint64, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.readOnly {
		return ErrReadOnly
	}
	it, err := f.lookup(id)
	if err != nil {
		return err
	}
	if position > it.size || uint64(len(data)) > it.size-position {
		return fmt.Errorf("%w: replace %d bytes at %d of item %d", box.ErrEndOfStream, len(data), position, id)
	}
	copy(it.data[position:], data)
	return nil
}

// ReadData implements tild.Container. The range is checked against the item
// data size before anything is allocated.
func (f *File) ReadData(id box.ItemID, offset, size uint64) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	it, err := f.lookup(id)
	if err != nil {
		return nil, err
	}
	if offset > it.size || size > it.size-offset {
		return nil, fmt.Errorf("%w: read %d bytes at %d of item %d with %d bytes",
			box.ErrEndOfStream, size, offset, id, it.size)
	}
	if f.source == nil {
		return slices.Clone(it.data[offset : offset+size]), nil
	}

	buf := make([]byte, size)
	out := buf
	for _, e := range it.extents {
		if len(out) == 0 {
			break
		}
		if offset >= e.length {
			offset -= e.length
			continue
		}
		n := min(e.length-offset, uint64(len(out)))
		if _, err := f.source.ReadAt(out[:n], int64(e.offset+offset)); err != nil {
			return nil, fmt.Errorf("item %d: %w", id, err)
		}
		out = out[n:]
		offset = 0
	}
	return buf, nil
}

// DataSize implements tild.Container.
func (f *File) DataSize(id box.ItemID) (uint64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	it, err := f.lookup(id)
	if err != nil {
		return 0, err
	}
	return it.size, nil
}

// Items returns the ids of all items in file order.
func (f *File) Items() []box.ItemID {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Clone(f.order)
}

// ItemType returns the type of item id.
func (f *File) ItemType(id box.ItemID) (box.Type, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	it, err := f.lookup(id)
	if err != nil {
		return box.Type{}, err
	}
	return it.itemType, nil
}

// AddTiledImage creates a tiled image item. Tiles are appended through the
// returned item; its offset table is finalized when the file is written.
func (f *File) AddTiledImage(p tild.Parameters) (*tild.Item, error) {
	t, err := tild.Create(f, p, f.tildOptions()...)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.tiled[t.ID()] = t
	f.mu.Unlock()
	return t, nil
}

// AddJPEGImage adds a JPEG coded image item. A zero width and height are
// taken from the JPEG header.
func (f *File) AddJPEGImage(data []byte, width, height uint32) (box.ItemID, error) {
	if width == 0 && height == 0 {
		config, err := jpeg.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return 0, fmt.Errorf("%w: %w", codec.ErrInvalidData, err)
		}
		width, height = uint32(config.Width), uint32(config.Height)
	}
	if width == 0 || height == 0 {
		return 0, fmt.Errorf("%w: image with zero width or height", tild.ErrInvalidInput)
	}

	itemType, _ := codec.FormatJPEG.ItemType()
	id, err := f.AddItem(itemType)
	if err != nil {
		return 0, err
	}
	if _, err := f.AppendData(id, data); err != nil {
		return 0, err
	}
	if err := f.AddProperty(id, &box.Extent{Width: width, Height: height}, false); err != nil {
		return 0, err
	}
	return id, nil
}

// SetPrimary marks item id as the primary image.
func (f *File) SetPrimary(id box.ItemID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.readOnly {
		return ErrReadOnly
	}
	if _, err := f.lookup(id); err != nil {
		return err
	}
	f.primary = id
	return nil
}

// PrimaryID returns the primary item id, or the first image item if none
// was set.
func (f *File) PrimaryID() (box.ItemID, error) {
	f.mu.RLock()
	primary := f.primary
	f.mu.RUnlock()
	if primary != 0 {
		return primary, nil
	}
	images := f.Images()
	if len(images) == 0 {
		return 0, fmt.Errorf("%w: no image items", ErrItemNotFound)
	}
	return images[0], nil
}

// Primary returns the primary image.
func (f *File) Primary() (*Image, error) {
	id, err := f.PrimaryID()
	if err != nil {
		return nil, err
	}
	return f.Image(id)
}

// Images returns the ids of the image items: tiled items and items coded in
// a known compression format.
func (f *File) Images() []box.ItemID {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var ids []box.ItemID
	for _, id := range f.order {
		if _, ok := kindOf(f.items[id].itemType); ok {
			ids = append(ids, id)
		}
	}
	return ids
}
