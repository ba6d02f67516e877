package tild

import (
	"errors"
	"fmt"

	"github.com/eak1mov/go-libtild/box"
)

var (
	ErrInvalidInput          = errors.New("libtild: invalid input")
	ErrUnsupportedVersion    = errors.New("libtild: unsupported version")
	ErrUnsupportedFeature    = errors.New("libtild: unsupported feature")
	ErrSecurityLimitExceeded = errors.New("libtild: security limit exceeded")
	ErrIndexOutOfRange       = errors.New("libtild: tile index out of range")
	ErrInvalidImageSize      = errors.New("libtild: invalid image size")
	ErrInvalidParameters     = errors.New("libtild: invalid tiling parameters")
	ErrFieldOverflow         = errors.New("libtild: value does not fit field width")
	ErrReadOnly              = errors.New("libtild: item is read-only")
)

// ErrTileNotWritten is returned when a tile has no data yet.
var ErrTileNotWritten = fmt.Errorf("%w: tile data not available", ErrUnsupportedFeature)

// ErrEndOfStream is returned when input is shorter than its declared layout.
var ErrEndOfStream = box.ErrEndOfStream
