package codec

import (
	"fmt"
	"slices"

	"github.com/eak1mov/go-libtild/box"
)

var configTypes = map[Format]box.Type{
	FormatHEVC:     box.TypeOf("hvcC"),
	FormatAVC:      box.TypeOf("avcC"),
	FormatAV1:      box.TypeOf("av1C"),
	FormatVVC:      box.TypeOf("vvcC"),
	FormatEVC:      box.TypeOf("evcC"),
	FormatJPEG:     box.TypeOf("jpgC"),
	FormatJPEG2000: box.TypeOf("j2kH"),
}

// ConfigType returns the type of the item property holding the decoder
// configuration of f.
func (f Format) ConfigType() (box.Type, bool) {
	t, ok := configTypes[f]
	return t, ok
}

// hvcC header fields before numOfArrays.
const hevcConfigHeaderSize = 22

// ConfigurationData converts the body of a decoder configuration property to
// the bytes that precede every coded payload of format f.
//
// HEVC and AVC parameter sets are returned as NAL units with 4-byte
// big-endian length prefixes. For AV1 the configOBUs are returned. Other
// formats return the body unchanged.
func ConfigurationData(f Format, body []byte) ([]byte, error) {
	r := box.NewReader(body)
	w := box.NewWriter()

	switch f {
	case FormatHEVC:
		r.Bytes(hevcConfigHeaderSize)
		arrays := int(r.Uint8())
		for range arrays {
			r.Uint8() // completeness and NAL unit type
			count := int(r.Uint16())
			for i := 0; i < count && r.Err() == nil; i++ {
				appendNAL(w, r)
			}
		}
	case FormatAVC:
		r.Bytes(5)
		sps := int(r.Uint8() & 0x1f)
		for range sps {
			appendNAL(w, r)
		}
		pps := int(r.Uint8())
		for range pps {
			appendNAL(w, r)
		}
	case FormatAV1:
		r.Bytes(4)
		w.Write(r.Bytes(r.Len()))
	default:
		return slices.Clone(body), nil
	}

	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v configuration: %w", ErrInvalidData, f, err)
	}
	return w.Bytes(), nil
}

func appendNAL(w *box.Writer, r *box.Reader) {
	size := int(r.Uint16())
	nal := r.Bytes(size)
	if r.Err() != nil {
		return
	}
	w.Uint32(uint32(size))
	w.Write(nal)
}
