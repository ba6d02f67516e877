package xyz

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/eak1mov/go-libtild/tile"
)

var ErrFinalized = errors.New("libtild: writer is finalized")

// Writer implements tile.Writer for tiles stored as files. A tile file
// appears under its final name only once it is completely written.
type Writer struct {
	filePattern string
	dirs        map[string]bool
	written     int
	finalized   bool
	logger      *slog.Logger
}

type WriterOption func(*Writer)

func WithLogger(logger *slog.Logger) WriterOption {
	return func(w *Writer) { w.logger = logger }
}

// NewWriter creates a new Writer for the given file pattern (e.g. "/home/user/tiles/{y}/{x}.jpg").
func NewWriter(filePattern string, opts ...WriterOption) (*Writer, error) {
	if err := validatePattern(filePattern); err != nil {
		return nil, err
	}
	w := &Writer{
		filePattern: filePattern,
		dirs:        make(map[string]bool),
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// WriteTile stores tileData in the file for coord. Empty payloads create no
// file, so the tile reads back as missing.
func (w *Writer) WriteTile(coord tile.Coord, tileData []byte) error {
	if w.finalized {
		return ErrFinalized
	}
	if len(tileData) == 0 {
		return nil
	}

	filePath := formatPattern(w.filePattern, coord)
	dirPath := filepath.Dir(filePath)
	if !w.dirs[dirPath] {
		if err := os.MkdirAll(dirPath, 0755); err != nil {
			return err
		}
		w.dirs[dirPath] = true
	}

	tmp, err := os.CreateTemp(dirPath, ".tile-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(tileData); err != nil {
		tmp.Close()
		return fmt.Errorf("tile %v: %w", coord, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("tile %v: %w", coord, err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), filePath); err != nil {
		return err
	}
	w.written++
	return nil
}

func (w *Writer) Finalize() error {
	if w.finalized {
		return ErrFinalized
	}
	w.finalized = true
	w.logger.Debug("libtild: xyz tiles written", "pattern", w.filePattern, "tiles", w.written)
	return nil
}
