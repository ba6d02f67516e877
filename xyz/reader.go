package xyz

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/eak1mov/go-libtild/tile"
)

// Reader implements tile.Reader and tile.Visitor for tiles stored as files.
type Reader struct {
	filePattern string
	rootDir     string
	pathRegexp  *regexp.Regexp
}

// NewReader creates a new Reader for the given file pattern (e.g. "/home/user/tiles/{y}/{x}.jpg").
func NewReader(filePattern string) (*Reader, error) {
	if err := validatePattern(filePattern); err != nil {
		return nil, err
	}

	regexPattern := regexp.QuoteMeta(filePattern)
	regexPattern = strings.ReplaceAll(regexPattern, `\{x\}`, `(?P<x>\d+)`)
	regexPattern = strings.ReplaceAll(regexPattern, `\{y\}`, `(?P<y>\d+)`)
	pathRegex, err := regexp.Compile("^" + regexPattern + "$")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPattern, err)
	}

	path0 := formatPattern(filePattern, tile.Coord{X: 0, Y: 0})
	path1 := formatPattern(filePattern, tile.Coord{X: 1, Y: 1})
	for path0 != path1 {
		path0 = filepath.Dir(path0)
		path1 = filepath.Dir(path1)
	}
	rootDir := path0

	return &Reader{filePattern, rootDir, pathRegex}, nil
}

func (r *Reader) ReadTile(coord tile.Coord) ([]byte, error) {
	filePath := formatPattern(r.filePattern, coord)
	tileData, err := os.ReadFile(filePath)
	if os.IsNotExist(err) {
		return make([]byte, 0), nil
	}
	if err != nil {
		return nil, err
	}
	return tileData, nil
}

// VisitTiles visits every file under the pattern root that matches the
// pattern. Other files are skipped.
func (r *Reader) VisitTiles(visitor func(tile.Coord, []byte) error) error {
	return filepath.WalkDir(r.rootDir, func(filePath string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return nil
		}

		matches := r.pathRegexp.FindStringSubmatch(filePath)
		if matches == nil {
			return nil
		}

		x, err := strconv.ParseUint(matches[r.pathRegexp.SubexpIndex("x")], 10, 32)
		if err != nil {
			return fmt.Errorf("%s: %w", filePath, err)
		}
		y, err := strconv.ParseUint(matches[r.pathRegexp.SubexpIndex("y")], 10, 32)
		if err != nil {
			return fmt.Errorf("%s: %w", filePath, err)
		}

		tileData, err := os.ReadFile(filePath)
		if err != nil {
			return err
		}

		return visitor(tile.Coord{X: uint32(x), Y: uint32(y)}, tileData)
	})
}
