package tild

import (
	"fmt"
	"iter"
	"math"
	"slices"
	"strings"

	"github.com/eak1mov/go-libtild/box"
	"github.com/eak1mov/go-libtild/tile"
)

// offsetNotAvailable is the stored offset of a tile without data. Offset 0 of
// the item data always holds the offset table itself, so no tile starts there.
const offsetNotAvailable = 0

// Entry locates a tile payload relative to the start of the item data.
type Entry struct {
	Present bool
	Offset  uint64
	Size    uint32 // 0 if sizes are not stored
}

// OffsetTable holds one Entry per tile in row-major order, extra dimensions
// following the base grid.
type OffsetTable struct {
	params     Parameters
	columns    uint64
	entries    []Entry
	headerSize int
	sorted     []uint64 // present offsets of a decoded table, ascending
}

// NewOffsetTable allocates a table with every entry unwritten.
func NewOffsetTable(p Parameters, limits Limits) (*OffsetTable, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	count, err := limits.TileCount(p)
	if err != nil {
		return nil, err
	}
	return &OffsetTable{
		params:  p.clone(),
		columns: p.TilesHorizontal(),
		entries: make([]Entry, count),
	}, nil
}

func (t *OffsetTable) Len() uint64 { return uint64(len(t.entries)) }

// EncodedSize returns the byte size of the encoded table.
func (t *OffsetTable) EncodedSize() uint64 {
	return t.Len() * uint64(t.params.EntrySize())
}

// HeaderSize returns the size of the table as last encoded, 0 before that.
func (t *OffsetTable) HeaderSize() int { return t.headerSize }

// Index returns the index of the tile at (x, y) in the base grid.
func (t *OffsetTable) Index(x, y uint32) (uint64, error) {
	if !(tile.Coord{X: x, Y: y}).Within(t.columns, t.params.TilesVertical()) {
		return 0, fmt.Errorf("%w: tile (%d,%d) outside %dx%d grid",
			ErrIndexOutOfRange, x, y, t.columns, t.params.TilesVertical())
	}
	return uint64(y)*t.columns + uint64(x), nil
}

func (t *OffsetTable) Coord(index uint64) tile.Coord {
	index %= t.columns * t.params.TilesVertical()
	return tile.Coord{X: uint32(index % t.columns), Y: uint32(index / t.columns)}
}

// SetEntry records the location of the tile at (x, y).
func (t *OffsetTable) SetEntry(x, y uint32, offset uint64, size uint32) error {
	index, err := t.Index(x, y)
	if err != nil {
		return err
	}
	return t.SetEntryAt(index, offset, size)
}

func (t *OffsetTable) SetEntryAt(index uint64, offset uint64, size uint32) error {
	if index >= t.Len() {
		return fmt.Errorf("%w: index %d of %d", ErrIndexOutOfRange, index, t.Len())
	}
	if offset == offsetNotAvailable {
		return fmt.Errorf("%w: tile offset %d is reserved", ErrInvalidInput, offset)
	}
	if !fitsBits(offset, t.params.OffsetFieldLength) {
		return fmt.Errorf("%w: offset %d in %d bits", ErrFieldOverflow, offset, t.params.OffsetFieldLength)
	}
	if t.params.SizeFieldLength != 0 && !fitsBits(uint64(size), t.params.SizeFieldLength) {
		return fmt.Errorf("%w: size %d in %d bits", ErrFieldOverflow, size, t.params.SizeFieldLength)
	}
	t.entries[index] = Entry{Present: true, Offset: offset, Size: size}
	return nil
}

func fitsBits(v uint64, n uint8) bool {
	return n >= 64 || v < 1<<n
}

// Entry returns the entry at index.
func (t *OffsetTable) Entry(index uint64) (Entry, error) {
	if index >= t.Len() {
		return Entry{}, fmt.Errorf("%w: index %d of %d", ErrIndexOutOfRange, index, t.Len())
	}
	return t.entries[index], nil
}

func (t *OffsetTable) Offset(index uint64) (uint64, error) {
	e, err := t.Entry(index)
	return e.Offset, err
}

func (t *OffsetTable) Size(index uint64) (uint32, error) {
	e, err := t.Entry(index)
	return e.Size, err
}

// Present iterates over the entries that have data, in index order.
func (t *OffsetTable) Present() iter.Seq2[uint64, Entry] {
	return func(yield func(uint64, Entry) bool) {
		for i, e := range t.entries {
			if e.Present && !yield(uint64(i), e) {
				return
			}
		}
	}
}

// nextOffset returns the smallest present offset greater than offset.
func (t *OffsetTable) nextOffset(offset uint64) (uint64, bool) {
	if t.sorted != nil {
		i, found := slices.BinarySearch(t.sorted, offset)
		if found {
			i++
		}
		if i < len(t.sorted) {
			return t.sorted[i], true
		}
		return 0, false
	}
	next, found := uint64(math.MaxUint64), false
	for _, e := range t.entries {
		if e.Present && e.Offset > offset && e.Offset < next {
			next, found = e.Offset, true
		}
	}
	return next, found
}

// Encode returns the table as stored in the item data: for each entry the
// offset, then the size if sizes are stored, big-endian.
func (t *OffsetTable) Encode() []byte {
	offsetBytes := int(t.params.OffsetFieldLength) / 8
	sizeBytes := int(t.params.SizeFieldLength) / 8

	w := box.NewWriter()
	for _, e := range t.entries {
		offset := uint64(offsetNotAvailable)
		if e.Present {
			offset = e.Offset
		}
		w.UintN(offset, offsetBytes)
		if sizeBytes != 0 {
			w.UintN(uint64(e.Size), sizeBytes)
		}
	}

	t.headerSize = w.Len()
	return w.Bytes()
}

// DecodeOffsetTable parses a table encoded for p. The tile count is checked
// against limits and the input length against the table size before anything
// is allocated.
func DecodeOffsetTable(data []byte, p Parameters, limits Limits) (*OffsetTable, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	count, err := limits.TileCount(p)
	if err != nil {
		return nil, err
	}

	r := box.NewReader(data)
	entrySize := uint64(p.EntrySize())
	if count > math.MaxUint64/entrySize {
		return nil, fmt.Errorf("%w: offset table of %d entries", ErrSecurityLimitExceeded, count)
	}
	if err := r.Require(count * entrySize); err != nil {
		return nil, fmt.Errorf("tild offset table incomplete: %w", err)
	}

	t := &OffsetTable{
		params:     p.clone(),
		columns:    p.TilesHorizontal(),
		entries:    make([]Entry, count),
		headerSize: int(count * entrySize),
	}

	offsetBytes := int(p.OffsetFieldLength) / 8
	sizeBytes := int(p.SizeFieldLength) / 8
	for i := range t.entries {
		offset := r.UintN(offsetBytes)
		var size uint64
		if sizeBytes != 0 {
			size = r.UintN(sizeBytes)
		}
		if size > math.MaxUint32 {
			return nil, fmt.Errorf("%w: tile %d size %d", ErrInvalidInput, i, size)
		}
		if offset != offsetNotAvailable {
			t.entries[i] = Entry{Present: true, Offset: offset, Size: uint32(size)}
		}
	}
	if err := r.Err(); err != nil {
		return nil, err
	}

	if sizeBytes == 0 {
		t.sorted = make([]uint64, 0, count)
		for _, e := range t.Present() {
			t.sorted = append(t.sorted, e.Offset)
		}
		slices.Sort(t.sorted)
		t.sorted = slices.Compact(t.sorted)
	}
	return t, nil
}

func (t *OffsetTable) String() string {
	var sb strings.Builder
	sb.WriteString("offsets:\n")
	for i, e := range t.entries {
		if !e.Present {
			fmt.Fprintf(&sb, "[%d] not available\n", i)
			continue
		}
		fmt.Fprintf(&sb, "[%d] offset: %d, size: %d\n", i, e.Offset, e.Size)
	}
	return sb.String()
}
