package main

import (
	"fmt"
	"io"
	"log/slog"
	"math/bits"
	"os"
	"strings"

	"github.com/eak1mov/go-libtild/box"
	"github.com/eak1mov/go-libtild/heif"
	"github.com/eak1mov/go-libtild/mb"
	"github.com/eak1mov/go-libtild/tile"
	"github.com/eak1mov/go-libtild/xyz"
)

func deduceFormat(format, filePath string) string {
	if format == "" && strings.HasSuffix(filePath, ".mbtiles") {
		return "mbtiles"
	}
	if format == "" && strings.Contains(filePath, "{x}") {
		return "xyz"
	}
	return format
}

func newLogger(verbose bool) *slog.Logger {
	if !verbose {
		return slog.New(slog.DiscardHandler)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// mbtilesCompression maps the MBTiles "format" metadata to an item type.
func mbtilesCompression(metadata map[string]string) (box.Type, bool) {
	switch metadata["format"] {
	case "jpg", "jpeg":
		return box.TypeOf("jpeg"), true
	case "avif":
		return box.TypeOf("av01"), true
	}
	return box.Type{}, false
}

// zoomFor returns the smallest zoom level whose grid holds columns x rows tiles.
func zoomFor(columns, rows uint64) uint32 {
	return uint32(bits.Len64(max(columns, rows, 1) - 1))
}

type tileSource interface {
	tile.Reader
	tile.Visitor
}

func openSource(format, path string, zoom uint32) (tileSource, error) {
	switch format {
	case "mbtiles":
		return mb.NewReader(path, zoom)
	case "xyz":
		return xyz.NewReader(path)
	}
	return nil, fmt.Errorf("invalid input format: %q", format)
}

func openSink(format, path string, zoom uint32, logger *slog.Logger) (tile.Writer, error) {
	switch format {
	case "mbtiles":
		return mb.NewWriter(path, zoom, mb.WithLogger(logger), mb.WithMetadata(map[string]string{
			"name":    "tild",
			"minzoom": fmt.Sprint(zoom),
			"maxzoom": fmt.Sprint(zoom),
		}))
	case "xyz":
		return xyz.NewWriter(path, xyz.WithLogger(logger))
	}
	return nil, fmt.Errorf("invalid output format: %q", format)
}

func closeIfCloser(v any) {
	if closer, ok := v.(io.Closer); ok {
		closer.Close()
	}
}

// openImage opens a file and returns the image item id, or the primary image
// if id is 0.
func openImage(path string, id uint, opts ...heif.Option) (*heif.File, *heif.Image, error) {
	f, err := heif.OpenFile(path, opts...)
	if err != nil {
		return nil, nil, err
	}
	var img *heif.Image
	if id == 0 {
		img, err = f.Primary()
	} else {
		img, err = f.Image(box.ItemID(id))
	}
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return f, img, nil
}
