// Package codec maps item-type four-character codes to compression formats
// and dispatches coded payloads to registered decoders.
package codec

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/eak1mov/go-libtild/box"
)

var (
	ErrNoDecoder   = errors.New("libtild: no decoder for compression format")
	ErrInvalidData = errors.New("libtild: invalid coded data")
)

type Format uint8

const (
	FormatUndefined Format = iota
	FormatHEVC
	FormatAVC
	FormatJPEG
	FormatAV1
	FormatVVC
	FormatEVC
	FormatJPEG2000
	FormatUncompressed
	FormatMask
)

var itemTypes = map[Format]box.Type{
	FormatHEVC:         box.TypeOf("hvc1"),
	FormatAVC:          box.TypeOf("avc1"),
	FormatJPEG:         box.TypeOf("jpeg"),
	FormatAV1:          box.TypeOf("av01"),
	FormatVVC:          box.TypeOf("vvc1"),
	FormatEVC:          box.TypeOf("evc1"),
	FormatJPEG2000:     box.TypeOf("j2k1"),
	FormatUncompressed: box.TypeOf("unci"),
	FormatMask:         box.TypeOf("mski"),
}

var formatNames = map[Format]string{
	FormatUndefined:    "undefined",
	FormatHEVC:         "HEVC",
	FormatAVC:          "AVC",
	FormatJPEG:         "JPEG",
	FormatAV1:          "AV1",
	FormatVVC:          "VVC",
	FormatEVC:          "EVC",
	FormatJPEG2000:     "JPEG 2000",
	FormatUncompressed: "uncompressed",
	FormatMask:         "mask",
}

func (f Format) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("Format(%d)", uint8(f))
}

// ItemType returns the item type code of f, or ok=false for FormatUndefined.
func (f Format) ItemType() (box.Type, bool) {
	t, ok := itemTypes[f]
	return t, ok
}

// FormatFromItemType translates an item type (or a tile compression code) to
// a Format. Unknown codes map to FormatUndefined.
func FormatFromItemType(t box.Type) Format {
	for f, it := range itemTypes {
		if it == t {
			return f
		}
	}
	return FormatUndefined
}

// Options carries what a decoder may need besides the payload.
type Options struct {
	// Width and Height are the expected pixel dimensions, 0 if unknown.
	Width  int
	Height int

	// ConfigurationData precedes the payload in the coded stream, e.g. the
	// parameter sets of an HEVC 'hvcC' property. Nil if the item has none.
	ConfigurationData []byte
}

type Decoder interface {
	Decode(data []byte, opts Options) (image.Image, error)
}

type DecoderFunc func(data []byte, opts Options) (image.Image, error)

func (f DecoderFunc) Decode(data []byte, opts Options) (image.Image, error) {
	return f(data, opts)
}

// Registry is a dispatch table from Format to Decoder.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	decoders map[Format]Decoder
}

func NewRegistry() *Registry {
	return &Registry{decoders: make(map[Format]Decoder)}
}

// DefaultRegistry returns a new Registry with the built-in decoders.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(FormatJPEG, DecoderFunc(decodeJPEG))
	r.Register(FormatUncompressed, DecoderFunc(decodeUncompressed))
	return r
}

func (r *Registry) Register(f Format, d Decoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoders[f] = d
}

func (r *Registry) Decoder(f Format) (Decoder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.decoders[f]
	return d, ok
}

func (r *Registry) Decode(f Format, data []byte, opts Options) (image.Image, error) {
	d, ok := r.Decoder(f)
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrNoDecoder, f)
	}
	return d.Decode(data, opts)
}
