// Package mb reads and writes the tiles of one zoom level of an MBTiles
// database as a tile grid. Grid coordinates are in XYZ orientation (row 0 at
// the top); the database stores TMS rows.
//
// Note: User must properly initialize the sqlite3 library generic driver
// (e.g. import _ "github.com/mattn/go-sqlite3") before using this package.
package mb

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/eak1mov/go-libtild/tile"
)

// MaxZoom is the deepest zoom level whose grid coordinates fit tile.Coord.
const MaxZoom = 31

var ErrInvalidZoom = errors.New("libtild: invalid zoom level")

// GridSize returns the number of tile columns (and rows) at zoom.
func GridSize(zoom uint32) uint64 {
	return 1 << zoom
}

func checkZoom(zoom uint32) error {
	if zoom > MaxZoom {
		return fmt.Errorf("%w: %d, at most %d supported", ErrInvalidZoom, zoom, MaxZoom)
	}
	return nil
}

// Reader implements tile.Reader and tile.Visitor for one zoom level.
type Reader struct {
	db   *sql.DB
	stmt *sql.Stmt
	zoom uint32
}

// NewReader opens the MBTiles file read-only for tiles at zoom.
//
// The returned Reader must be closed after use to release database resources.
func NewReader(filePath string, zoom uint32) (*Reader, error) {
	if err := checkZoom(zoom); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro", filePath))
	if err != nil {
		return nil, err
	}

	stmt, err := db.Prepare("SELECT tile_data FROM tiles WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?")
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Reader{db: db, stmt: stmt, zoom: zoom}, nil
}

func (r *Reader) Close() error {
	return errors.Join(r.stmt.Close(), r.db.Close())
}

func (r *Reader) Zoom() uint32 { return r.zoom }

func (r *Reader) ReadMetadata() (map[string]string, error) {
	metadata := make(map[string]string)

	rows, err := r.db.Query("SELECT name, value FROM metadata")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		metadata[name] = value
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return metadata, nil
}

// Zooms returns the zoom levels that have tiles, ascending.
func (r *Reader) Zooms() ([]uint32, error) {
	rows, err := r.db.Query("SELECT DISTINCT zoom_level FROM tiles ORDER BY zoom_level")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var zooms []uint32
	for rows.Next() {
		var z uint32
		if err := rows.Scan(&z); err != nil {
			return nil, err
		}
		zooms = append(zooms, z)
	}
	return zooms, rows.Err()
}

func (r *Reader) ReadTile(coord tile.Coord) ([]byte, error) {
	if !coord.Within(GridSize(r.zoom), GridSize(r.zoom)) {
		return make([]byte, 0), nil
	}
	x, y := coord.X, uint32(GridSize(r.zoom)-1)-coord.Y // XYZ -> TMS

	var tileData []byte
	if err := r.stmt.QueryRow(r.zoom, x, y).Scan(&tileData); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return make([]byte, 0), nil
		}
		return nil, err
	}

	return tileData, nil
}

func (r *Reader) VisitTiles(visitor func(tile.Coord, []byte) error) error {
	rows, err := r.db.Query("SELECT tile_column, tile_row, tile_data FROM tiles WHERE zoom_level = ?", r.zoom)
	if err != nil {
		return err
	}
	defer rows.Close()

	size := GridSize(r.zoom)
	for rows.Next() {
		var x, y uint32
		var tileData []byte

		if err := rows.Scan(&x, &y, &tileData); err != nil {
			return err
		}
		if uint64(y) >= size {
			return fmt.Errorf("%w: tile row %d at zoom %d", ErrInvalidZoom, y, r.zoom)
		}

		y = uint32(size-1) - y // TMS -> XYZ

		if err := visitor(tile.Coord{X: x, Y: y}, tileData); err != nil {
			return err
		}
	}

	if err := rows.Err(); err != nil {
		return err
	}

	return nil
}
