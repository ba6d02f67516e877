package codec

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"slices"
)

func decodeJPEG(data []byte, opts Options) (image.Image, error) {
	if len(opts.ConfigurationData) > 0 {
		data = append(slices.Clip(opts.ConfigurationData), data...)
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidData, err)
	}
	if opts.Width > 0 && opts.Height > 0 {
		if b := img.Bounds(); b.Dx() != opts.Width || b.Dy() != opts.Height {
			return nil, fmt.Errorf("%w: jpeg is %dx%d, want %dx%d", ErrInvalidData, b.Dx(), b.Dy(), opts.Width, opts.Height)
		}
	}
	return img, nil
}
