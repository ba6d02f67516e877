package mb

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/eak1mov/go-libtild/tile"
)

// Writer implements tile.Writer for one zoom level.
type Writer struct {
	db     *sql.DB
	stmt   *sql.Stmt
	zoom   uint32
	logger *slog.Logger
}

type writerConfig struct {
	Metadata map[string]string
	Logger   *slog.Logger
}

type WriterOption func(*writerConfig)

func WithMetadata(metadata map[string]string) WriterOption {
	return func(c *writerConfig) { c.Metadata = metadata }
}

func WithLogger(logger *slog.Logger) WriterOption {
	return func(c *writerConfig) { c.Logger = logger }
}

// NewWriter creates a new MBTiles file receiving tiles at zoom.
func NewWriter(filePath string, zoom uint32, opts ...WriterOption) (*Writer, error) {
	if err := checkZoom(zoom); err != nil {
		return nil, err
	}
	config := writerConfig{
		Logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(&config)
	}

	var err error
	db, err := sql.Open("sqlite3", filePath)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			db.Close()
		}
	}()

	_, err = db.Exec(`
		CREATE TABLE metadata (name TEXT, value TEXT);
		CREATE TABLE tiles (
			zoom_level INTEGER,
			tile_column INTEGER,
			tile_row INTEGER,
			tile_data BLOB
		);
	`)
	if err != nil {
		return nil, err
	}

	for k, v := range config.Metadata {
		_, err = db.Exec("INSERT INTO metadata (name, value) VALUES (?, ?)", k, v)
		if err != nil {
			return nil, err
		}
	}

	stmt, err := db.Prepare("INSERT INTO tiles (zoom_level, tile_column, tile_row, tile_data) VALUES (?, ?, ?, ?)")
	if err != nil {
		return nil, err
	}

	return &Writer{db: db, stmt: stmt, zoom: zoom, logger: config.Logger}, nil
}

func (w *Writer) Close() error {
	return errors.Join(w.stmt.Close(), w.db.Close())
}

func (w *Writer) WriteTile(coord tile.Coord, tileData []byte) error {
	size := GridSize(w.zoom)
	if !coord.Within(size, size) {
		return fmt.Errorf("%w: tile %v outside zoom %d grid", ErrInvalidZoom, coord, w.zoom)
	}
	x, y := coord.X, uint32(size-1)-coord.Y // XYZ -> TMS

	_, err := w.stmt.Exec(w.zoom, x, y, tileData)
	return err
}

func (w *Writer) Finalize() error {
	w.logger.Debug("libtild: creating mbtiles index")
	_, err := w.db.Exec("CREATE UNIQUE INDEX tile_index ON tiles (zoom_level, tile_column, tile_row)")
	w.logger.Debug("libtild: mbtiles done")
	return err
}
