package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/eak1mov/go-libtild/index"
	"github.com/eak1mov/go-libtild/tile"
	"github.com/google/subcommands"
	"github.com/schollz/progressbar/v3"
)

type exportCmd struct {
	inputFormat     string
	inputPath       string
	itemID          uint
	zoom            uint
	outputIndexPath string
	outputTilesPath string
}

func (c *exportCmd) Name() string     { return "export_index" }
func (c *exportCmd) Synopsis() string { return "export tile index and data from a tiled image or tileset" }
func (c *exportCmd) Usage() string {
	return "tildutil export_index -i <path> -o <path> [-t <path> -if <format> -item <id>]\n"
}
func (c *exportCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.inputPath, "i", "", "Input path")
	f.StringVar(&c.inputFormat, "if", "", "Input format (heif, mbtiles, xyz)")
	f.UintVar(&c.itemID, "item", 0, "Item id of heif input (default: primary image)")
	f.UintVar(&c.zoom, "zoom", 0, "Zoom level of mbtiles input")
	f.StringVar(&c.outputIndexPath, "o", "", "Output index file path")
	f.StringVar(&c.outputTilesPath, "t", "", "Output tiles file path")
}

// writeIndex writes items to the index file.
func (c *exportCmd) writeIndex(items []index.Item) error {
	file, err := os.Create(c.outputIndexPath)
	if err != nil {
		return err
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	if err := index.WriteAll(items, w); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return file.Close()
}

// exportTiles concatenates the tiles of reader into the tiles file.
func (c *exportCmd) exportTiles(reader tile.Visitor) error {
	tilesFile, err := os.Create(c.outputTilesPath)
	if err != nil {
		return err
	}
	defer tilesFile.Close()
	tilesWriter := bufio.NewWriter(tilesFile)
	tilesOffset := uint64(0)

	bar := progressbar.NewOptions(-1, progressbar.OptionShowIts(), progressbar.OptionShowCount())

	var items []index.Item
	err = reader.VisitTiles(func(coord tile.Coord, tileData []byte) error {
		item, err := index.NewItem(coord, tile.Location{Offset: tilesOffset, Size: uint64(len(tileData))})
		if err != nil {
			return err
		}
		items = append(items, item)

		if _, err := tilesWriter.Write(tileData); err != nil {
			return err
		}
		tilesOffset += uint64(len(tileData))

		bar.Add(1)
		return nil
	})

	bar.Finish()
	fmt.Println()

	if err != nil {
		return err
	}
	if err := tilesWriter.Flush(); err != nil {
		return err
	}
	if err := tilesFile.Close(); err != nil {
		return err
	}

	return c.writeIndex(items)
}

// exportItem writes the index of a tiled item. Offsets are relative to the
// item data, which is copied to the tiles file when requested.
func (c *exportCmd) exportItem() error {
	f, img, err := openImage(c.inputPath, c.itemID)
	if err != nil {
		return err
	}
	defer f.Close()

	item, ok := img.Tiled()
	if !ok {
		return fmt.Errorf("item %d is not a tiled image", img.ID())
	}

	items, err := index.Collect(item)
	if err != nil {
		return err
	}
	if err := c.writeIndex(items); err != nil {
		return err
	}

	if c.outputTilesPath == "" {
		return nil
	}
	size, err := f.DataSize(item.ID())
	if err != nil {
		return err
	}
	data, err := f.ReadData(item.ID(), 0, size)
	if err != nil {
		return err
	}
	return os.WriteFile(c.outputTilesPath, data, 0o644)
}

func (c *exportCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	format := deduceFormat(c.inputFormat, c.inputPath)
	if format == "" && (strings.HasSuffix(c.inputPath, ".heic") || strings.HasSuffix(c.inputPath, ".heif")) {
		format = "heif"
	}

	var err error
	switch format {
	case "heif":
		err = c.exportItem()
	case "mbtiles", "xyz":
		if c.outputTilesPath == "" {
			log.Println("tiles file path is required for tileset input")
			return subcommands.ExitUsageError
		}
		var source tileSource
		source, err = openSource(format, c.inputPath, uint32(c.zoom))
		if err != nil {
			break
		}
		defer closeIfCloser(source)
		err = c.exportTiles(source)
	default:
		log.Printf("invalid input format: %q", c.inputFormat)
		return subcommands.ExitFailure
	}

	if err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}

	return subcommands.ExitSuccess
}
