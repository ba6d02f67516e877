package codec

import (
	"fmt"
	"image"
	"image/draw"
)

// Uncompressed payloads are interleaved 8-bit samples in raster order. The
// channel count (1 gray, 3 RGB, 4 RGBA) follows from the payload length.
func decodeUncompressed(data []byte, opts Options) (image.Image, error) {
	w, h := opts.Width, opts.Height
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: uncompressed data needs image size", ErrInvalidData)
	}
	pixels := w * h
	rect := image.Rect(0, 0, w, h)

	switch len(data) {
	case pixels:
		img := image.NewGray(rect)
		copy(img.Pix, data)
		return img, nil
	case pixels * 3:
		img := image.NewNRGBA(rect)
		for i := range pixels {
			copy(img.Pix[i*4:i*4+3], data[i*3:i*3+3])
			img.Pix[i*4+3] = 0xff
		}
		return img, nil
	case pixels * 4:
		img := image.NewNRGBA(rect)
		copy(img.Pix, data)
		return img, nil
	}
	return nil, fmt.Errorf("%w: %d bytes for %dx%d uncompressed image", ErrInvalidData, len(data), w, h)
}

// EncodeUncompressed returns the interleaved RGBA samples of img.
func EncodeUncompressed(img image.Image) []byte {
	b := img.Bounds()
	nrgba := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(nrgba, nrgba.Bounds(), img, b.Min, draw.Src)
	return nrgba.Pix
}
