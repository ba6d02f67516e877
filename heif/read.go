package heif

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/eak1mov/go-libtild/box"
	"github.com/eak1mov/go-libtild/tild"
	"golang.org/x/exp/mmap"
)

type propertyParser func(body *box.Reader) (box.Box, error)

var propertyParsers = map[box.Type]propertyParser{
	box.TypeExtent: func(body *box.Reader) (box.Box, error) {
		e, err := box.ParseExtent(body)
		if err != nil {
			return nil, err
		}
		return e, nil
	},
	tild.TypeConfig: func(body *box.Reader) (box.Box, error) {
		c, err := tild.ParseConfigBox(body)
		if err != nil {
			return nil, err
		}
		return c, nil
	},
}

// OpenFile memory-maps the file at path and opens it read-only.
func OpenFile(path string, opts ...Option) (*File, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, err
	}
	f, err := Open(r, int64(r.Len()), opts...)
	if err != nil {
		r.Close()
		return nil, err
	}
	f.closer = r
	return f, nil
}

// Open parses the meta box of a file of the given size. Item data stays in
// r and is read on demand; r must stay valid while the File is used.
func Open(r io.ReaderAt, size int64, opts ...Option) (*File, error) {
	f := newFile(opts)
	f.source = r
	f.readOnly = true

	var hasFileType, hasMeta bool
	for offset := int64(0); offset < size; {
		header, err := readBoxHeader(r, offset, size)
		if err != nil {
			return nil, err
		}
		switch header.Type {
		case typeFileType:
			hasFileType = true
		case typeMeta:
			if hasMeta {
				return nil, fmt.Errorf("%w: more than one 'meta' box", ErrInvalidFile)
			}
			hasMeta = true
			body := make([]byte, header.Size-uint64(header.HeaderSize))
			if _, err := r.ReadAt(body, offset+int64(header.HeaderSize)); err != nil {
				return nil, fmt.Errorf("meta: %w", err)
			}
			if err := f.parseMeta(box.NewReader(body), uint64(size)); err != nil {
				return nil, err
			}
		}
		offset += int64(header.Size)
	}
	if !hasFileType {
		return nil, fmt.Errorf("%w: no 'ftyp' box", ErrInvalidFile)
	}
	if !hasMeta {
		return nil, fmt.Errorf("%w: no 'meta' box", ErrInvalidFile)
	}

	f.logger.Debug("libtild: file opened", "items", len(f.order), "properties", len(f.properties))
	return f, nil
}

func readBoxHeader(r io.ReaderAt, offset, fileSize int64) (box.Header, error) {
	buf := make([]byte, min(16, fileSize-offset))
	if _, err := r.ReadAt(buf, offset); err != nil && !errors.Is(err, io.EOF) {
		return box.Header{}, err
	}
	br := box.NewReader(buf)
	header := box.Header{HeaderSize: 8}
	header.Size = uint64(br.Uint32())
	header.Type = br.Type()
	switch header.Size {
	case 1:
		header.Size = br.Uint64()
		header.HeaderSize += 8
	case 0:
		header.Size = uint64(fileSize - offset)
	}
	if err := br.Err(); err != nil {
		return box.Header{}, fmt.Errorf("%w: box header at %d: %w", ErrInvalidFile, offset, err)
	}
	if header.Size < uint64(header.HeaderSize) || header.Size > uint64(fileSize-offset) {
		return box.Header{}, fmt.Errorf("%w: box %q at %d has size %d", ErrInvalidFile, header.Type, offset, header.Size)
	}
	return header, nil
}

func (f *File) parseMeta(r *box.Reader, fileSize uint64) error {
	if version, _ := r.FullBoxHeader(); version != 0 {
		return fmt.Errorf("%w: 'meta' version %d", ErrInvalidFile, version)
	}

	var locations map[box.ItemID][]extent
	associations := make(map[box.ItemID][]association)
	for {
		header, body, err := r.NextBox()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidFile, err)
		}

		switch header.Type {
		case typeHandler:
			body.FullBoxHeader()
			body.Uint32()
			if handler := body.Type(); body.Err() == nil && handler != handlerPicture {
				return fmt.Errorf("%w: handler %q", ErrInvalidFile, handler)
			}
		case typePrimaryItem:
			if version, _ := body.FullBoxHeader(); version == 0 {
				f.primary = box.ItemID(body.Uint16())
			} else {
				f.primary = box.ItemID(body.Uint32())
			}
		case typeItemInfo:
			err = f.parseItemInfo(body)
		case typeItemLocation:
			locations, err = parseItemLocations(body, fileSize)
		case typeItemProperties:
			err = f.parseItemProperties(body, associations)
		}
		if err == nil {
			err = body.Err()
		}
		if err != nil {
			return fmt.Errorf("%v: %w", header.Type, err)
		}
	}

	for id, list := range associations {
		it, err := f.lookup(id)
		if err != nil {
			return fmt.Errorf("%w: properties of unknown item %d", ErrInvalidFile, id)
		}
		for _, a := range list {
			if int(a.index) > len(f.properties) {
				return fmt.Errorf("%w: item %d property index %d of %d", ErrInvalidFile, id, a.index, len(f.properties))
			}
		}
		it.associations = list
	}
	for id, extents := range locations {
		it, err := f.lookup(id)
		if err != nil {
			return fmt.Errorf("%w: location of unknown item %d", ErrInvalidFile, id)
		}
		it.extents = extents
		for _, e := range extents {
			it.size += e.length
		}
	}
	if f.primary != 0 {
		if _, err := f.lookup(f.primary); err != nil {
			return fmt.Errorf("%w: primary %w", ErrInvalidFile, err)
		}
	}
	for _, id := range f.order {
		if id >= f.nextID {
			f.nextID = id + 1
		}
	}
	return nil
}

func (f *File) parseItemInfo(r *box.Reader) error {
	if version, _ := r.FullBoxHeader(); version == 0 {
		r.Uint16()
	} else {
		r.Uint32()
	}

	for {
		header, body, err := r.NextBox()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if header.Type != typeItemInfoEntry {
			continue
		}

		version, _ := body.FullBoxHeader()
		var id box.ItemID
		switch version {
		case 2:
			id = box.ItemID(body.Uint16())
		case 3:
			id = box.ItemID(body.Uint32())
		default:
			return fmt.Errorf("%w: 'infe' version %d", tild.ErrUnsupportedVersion, version)
		}
		body.Uint16() // protection index
		it := &item{id: id, itemType: body.Type(), name: body.CString()}
		if err := body.Err(); err != nil {
			return err
		}
		if _, ok := f.items[id]; ok || id == 0 {
			return fmt.Errorf("%w: duplicate item id %d", ErrInvalidFile, id)
		}
		f.items[id] = it
		f.order = append(f.order, id)
	}
}

func parseItemLocations(r *box.Reader, fileSize uint64) (map[box.ItemID][]extent, error) {
	version, _ := r.FullBoxHeader()
	if version > 2 {
		return nil, fmt.Errorf("%w: 'iloc' version %d", tild.ErrUnsupportedVersion, version)
	}
	sizes := r.Uint16()
	offsetSize := int(sizes >> 12)
	lengthSize := int(sizes >> 8 & 0xF)
	baseOffsetSize := int(sizes >> 4 & 0xF)
	indexSize := 0
	if version > 0 {
		indexSize = int(sizes & 0xF)
	}

	var count uint32
	if version < 2 {
		count = uint32(r.Uint16())
	} else {
		count = r.Uint32()
	}

	locations := make(map[box.ItemID][]extent)
	for i := uint32(0); i < count && r.Err() == nil; i++ {
		var id box.ItemID
		if version < 2 {
			id = box.ItemID(r.Uint16())
		} else {
			id = box.ItemID(r.Uint32())
		}
		if version > 0 {
			if method := r.Uint16() & 0xF; method != 0 {
				return nil, fmt.Errorf("%w: item %d construction method %d", tild.ErrUnsupportedFeature, id, method)
			}
		}
		if ref := r.Uint16(); ref != 0 {
			return nil, fmt.Errorf("%w: item %d in external data reference %d", tild.ErrUnsupportedFeature, id, ref)
		}
		baseOffset := r.UintN(baseOffsetSize)
		extentCount := r.Uint16()

		var extents []extent
		for j := uint16(0); j < extentCount && r.Err() == nil; j++ {
			if indexSize > 0 {
				r.UintN(indexSize)
			}
			e := extent{offset: r.UintN(offsetSize), length: r.UintN(lengthSize)}
			if e.offset > math.MaxUint64-baseOffset {
				return nil, fmt.Errorf("%w: item %d extent offset overflow", ErrInvalidFile, id)
			}
			e.offset += baseOffset
			if e.offset > fileSize {
				return nil, fmt.Errorf("%w: item %d extent at %d beyond end of file", ErrInvalidFile, id, e.offset)
			}
			if e.length == 0 {
				e.length = fileSize - e.offset
			}
			if e.length > fileSize-e.offset {
				return nil, fmt.Errorf("%w: item %d extent of %d bytes at %d beyond end of file",
					ErrInvalidFile, id, e.length, e.offset)
			}
			extents = append(extents, e)
		}
		locations[id] = extents
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return locations, nil
}

func (f *File) parseItemProperties(r *box.Reader, associations map[box.ItemID][]association) error {
	for {
		header, body, err := r.NextBox()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		switch header.Type {
		case typePropertyContainer:
			if err := f.parsePropertyContainer(body); err != nil {
				return err
			}
		case typePropertyAssociation:
			if err := parseAssociations(body, associations); err != nil {
				return err
			}
		}
	}
}

func (f *File) parsePropertyContainer(r *box.Reader) error {
	for {
		header, body, err := r.NextBox()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		var property box.Box
		if parse, ok := propertyParsers[header.Type]; ok {
			if property, err = parse(body); err != nil {
				return err
			}
		} else {
			property = &box.Raw{BoxType: header.Type, Body: body.Bytes(body.Len())}
		}
		f.properties = append(f.properties, property)
	}
}

func parseAssociations(r *box.Reader, associations map[box.ItemID][]association) error {
	version, flags := r.FullBoxHeader()
	count := r.Uint32()
	for i := uint32(0); i < count && r.Err() == nil; i++ {
		var id box.ItemID
		if version < 1 {
			id = box.ItemID(r.Uint16())
		} else {
			id = box.ItemID(r.Uint32())
		}
		n := int(r.Uint8())
		for range n {
			var a association
			if flags&1 != 0 {
				v := r.Uint16()
				a = association{index: v & 0x7FFF, essential: v&0x8000 != 0}
			} else {
				v := r.Uint8()
				a = association{index: uint16(v & 0x7F), essential: v&0x80 != 0}
			}
			if r.Err() == nil && a.index != 0 {
				associations[id] = append(associations[id], a)
			}
		}
	}
	return r.Err()
}
