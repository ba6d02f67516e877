package heif

import (
	"fmt"
	"io"
	"maps"
	"math"
	"slices"

	"github.com/eak1mov/go-libtild/box"
)

var (
	typeFileType            = box.TypeOf("ftyp")
	typeMeta                = box.TypeOf("meta")
	typeHandler             = box.TypeOf("hdlr")
	typePrimaryItem         = box.TypeOf("pitm")
	typeItemInfo            = box.TypeOf("iinf")
	typeItemInfoEntry       = box.TypeOf("infe")
	typeItemLocation        = box.TypeOf("iloc")
	typeItemProperties      = box.TypeOf("iprp")
	typePropertyContainer   = box.TypeOf("ipco")
	typePropertyAssociation = box.TypeOf("ipma")
	typeMediaData           = box.TypeOf("mdat")

	handlerPicture = box.TypeOf("pict")
	brandMIF1      = box.TypeOf("mif1")
	brandMIAF      = box.TypeOf("miaf")
)

// WriteTo finalizes the tiled items and writes the file: ftyp, then meta,
// then all item data in one mdat box.
func (f *File) WriteTo(w io.Writer) (int64, error) {
	if f.readOnly {
		return 0, ErrReadOnly
	}

	f.mu.RLock()
	tiled := slices.Collect(maps.Values(f.tiled))
	f.mu.RUnlock()
	for _, t := range tiled {
		if err := t.Finalize(); err != nil {
			return 0, fmt.Errorf("item %d: %w", t.ID(), err)
		}
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	fileType := box.NewWriter()
	start := fileType.StartBox(typeFileType)
	fileType.Type(brandMIF1)
	fileType.Uint32(0)
	fileType.Type(brandMIF1)
	fileType.Type(brandMIAF)
	if err := fileType.EndBox(start); err != nil {
		return 0, err
	}

	var dataSize uint64
	for _, id := range f.order {
		dataSize += f.items[id].size
	}
	mdatHeaderSize := uint64(8)
	if dataSize > math.MaxUint32-mdatHeaderSize {
		mdatHeaderSize = 16
	}

	// Extent offsets have a fixed width, so the meta size does not depend on them.
	meta, err := f.metaBox(0)
	if err != nil {
		return 0, err
	}
	dataStart := uint64(fileType.Len()+len(meta)) + mdatHeaderSize
	if meta, err = f.metaBox(dataStart); err != nil {
		return 0, err
	}

	mdat := box.NewWriter()
	if mdatHeaderSize == 8 {
		mdat.Uint32(uint32(dataSize + mdatHeaderSize))
		mdat.Type(typeMediaData)
	} else {
		mdat.Uint32(1)
		mdat.Type(typeMediaData)
		mdat.Uint64(dataSize + mdatHeaderSize)
	}

	var written int64
	for _, chunk := range [][]byte{fileType.Bytes(), meta, mdat.Bytes()} {
		n, err := w.Write(chunk)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
	for _, id := range f.order {
		n, err := w.Write(f.items[id].data)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}

	f.logger.Debug("libtild: file written",
		"items", len(f.order),
		"properties", len(f.properties),
		"data_size", dataSize,
		"size", written)
	return written, nil
}

// metaBox serializes the meta box with item data placed consecutively from
// the absolute file offset dataStart.
func (f *File) metaBox(dataStart uint64) ([]byte, error) {
	var maxID box.ItemID
	for _, id := range f.order {
		maxID = max(maxID, id)
	}
	wideIDs := maxID > math.MaxUint16

	w := box.NewWriter()
	meta := w.StartFullBox(typeMeta, 0, 0)

	start := w.StartFullBox(typeHandler, 0, 0)
	w.Uint32(0)
	w.Type(handlerPicture)
	w.Write(make([]byte, 12))
	w.CString("")
	if err := w.EndBox(start); err != nil {
		return nil, err
	}

	primary := f.primary
	if primary == 0 {
		for _, id := range f.order {
			if _, ok := kindOf(f.items[id].itemType); ok {
				primary = id
				break
			}
		}
	}
	if primary != 0 {
		if wideIDs {
			start = w.StartFullBox(typePrimaryItem, 1, 0)
			w.Uint32(uint32(primary))
		} else {
			start = w.StartFullBox(typePrimaryItem, 0, 0)
			w.Uint16(uint16(primary))
		}
		if err := w.EndBox(start); err != nil {
			return nil, err
		}
	}

	if err := f.writeItemInfo(w, wideIDs); err != nil {
		return nil, err
	}
	if err := f.writeItemLocations(w, wideIDs, dataStart); err != nil {
		return nil, err
	}
	if err := f.writeItemProperties(w, wideIDs); err != nil {
		return nil, err
	}

	if err := w.EndBox(meta); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func (f *File) writeItemInfo(w *box.Writer, wideIDs bool) error {
	var start int
	if len(f.order) > math.MaxUint16 {
		start = w.StartFullBox(typeItemInfo, 1, 0)
		w.Uint32(uint32(len(f.order)))
	} else {
		start = w.StartFullBox(typeItemInfo, 0, 0)
		w.Uint16(uint16(len(f.order)))
	}
	for _, id := range f.order {
		it := f.items[id]
		if wideIDs {
			entry := w.StartFullBox(typeItemInfoEntry, 3, 0)
			w.Uint32(uint32(id))
			w.Uint16(0)
			w.Type(it.itemType)
			w.CString(it.name)
			if err := w.EndBox(entry); err != nil {
				return err
			}
			continue
		}
		entry := w.StartFullBox(typeItemInfoEntry, 2, 0)
		w.Uint16(uint16(id))
		w.Uint16(0)
		w.Type(it.itemType)
		w.CString(it.name)
		if err := w.EndBox(entry); err != nil {
			return err
		}
	}
	return w.EndBox(start)
}

func (f *File) writeItemLocations(w *box.Writer, wideIDs bool, dataStart uint64) error {
	version := uint8(1)
	if wideIDs || len(f.order) > math.MaxUint16 {
		version = 2
	}
	start := w.StartFullBox(typeItemLocation, version, 0)
	w.Uint8(8<<4 | 8) // offset size, length size
	w.Uint8(0)        // base offset size, index size
	if version == 2 {
		w.Uint32(uint32(len(f.order)))
	} else {
		w.Uint16(uint16(len(f.order)))
	}

	position := dataStart
	for _, id := range f.order {
		it := f.items[id]
		if version == 2 {
			w.Uint32(uint32(id))
		} else {
			w.Uint16(uint16(id))
		}
		w.Uint16(0) // construction method: file offset
		w.Uint16(0) // data reference index: this file
		if it.size == 0 {
			w.Uint16(0)
			continue
		}
		w.Uint16(1)
		w.Uint64(position)
		w.Uint64(it.size)
		position += it.size
	}
	return w.EndBox(start)
}

func (f *File) writeItemProperties(w *box.Writer, wideIDs bool) error {
	properties := w.StartBox(typeItemProperties)

	start := w.StartBox(typePropertyContainer)
	for _, p := range f.properties {
		if err := p.WriteBox(w); err != nil {
			return fmt.Errorf("property %v: %w", p.Type(), err)
		}
	}
	if err := w.EndBox(start); err != nil {
		return err
	}

	var version uint8
	if wideIDs {
		version = 1
	}
	var flags uint32
	if len(f.properties) > 1<<7-1 {
		flags = 1
	}

	var entries []*item
	for _, id := range f.order {
		if it := f.items[id]; len(it.associations) > 0 {
			entries = append(entries, it)
		}
	}

	start = w.StartFullBox(typePropertyAssociation, version, flags)
	w.Uint32(uint32(len(entries)))
	for _, it := range entries {
		if len(it.associations) > math.MaxUint8 {
			return fmt.Errorf("item %d: %d properties", it.id, len(it.associations))
		}
		if wideIDs {
			w.Uint32(uint32(it.id))
		} else {
			w.Uint16(uint16(it.id))
		}
		w.Uint8(uint8(len(it.associations)))
		for _, a := range it.associations {
			if flags&1 != 0 {
				v := a.index
				if a.essential {
					v |= 1 << 15
				}
				w.Uint16(v)
				continue
			}
			v := uint8(a.index)
			if a.essential {
				v |= 1 << 7
			}
			w.Uint8(v)
		}
	}
	if err := w.EndBox(start); err != nil {
		return err
	}

	return w.EndBox(properties)
}
