// Package xyz reads and writes tile payloads as individual files named by a
// path pattern with "{x}" and "{y}" placeholders, e.g. "tiles/{y}/{x}.jpg".
package xyz

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/eak1mov/go-libtild/tile"
)

var ErrInvalidPattern = errors.New("libtild: invalid file pattern")

func validatePattern(pattern string) error {
	for _, p := range []string{"{x}", "{y}"} {
		if !strings.Contains(pattern, p) {
			return fmt.Errorf("%w: placeholder %v not found", ErrInvalidPattern, p)
		}
	}
	return nil
}

func formatPattern(pattern string, coord tile.Coord) string {
	return strings.NewReplacer(
		"{x}", strconv.FormatUint(uint64(coord.X), 10),
		"{y}", strconv.FormatUint(uint64(coord.Y), 10),
	).Replace(pattern)
}
