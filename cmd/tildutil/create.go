package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/eak1mov/go-libtild/box"
	"github.com/eak1mov/go-libtild/heif"
	"github.com/eak1mov/go-libtild/mb"
	"github.com/eak1mov/go-libtild/tild"
	"github.com/eak1mov/go-libtild/tile"
	"github.com/google/subcommands"
	"github.com/schollz/progressbar/v3"
)

type createCmd struct {
	inputFormat string
	inputPath   string
	outputPath  string
	zoom        uint
	tileWidth   uint
	tileHeight  uint
	imageWidth  uint64
	imageHeight uint64
	compression string
	offsetBits  uint
	sizeBits    uint
	order       string
	maxTiles    uint64
	verbose     bool
}

func (c *createCmd) Name() string     { return "create" }
func (c *createCmd) Synopsis() string { return "create a tiled image from a tile set" }
func (c *createCmd) Usage() string {
	return "tildutil create -i <path> -o <path> [-if <format> -zoom <z> -tw <n> -th <n> -c <fourcc>]\n"
}
func (c *createCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.inputPath, "i", "", "Input path (mbtiles file or xyz pattern with {x} and {y})")
	f.StringVar(&c.inputFormat, "if", "", "Input format (mbtiles, xyz)")
	f.StringVar(&c.outputPath, "o", "", "Output file path")
	f.UintVar(&c.zoom, "zoom", 0, "Zoom level of mbtiles input")
	f.UintVar(&c.tileWidth, "tw", 256, "Tile width in pixels")
	f.UintVar(&c.tileHeight, "th", 256, "Tile height in pixels")
	f.Uint64Var(&c.imageWidth, "width", 0, "Image width in pixels (default: columns * tile width)")
	f.Uint64Var(&c.imageHeight, "height", 0, "Image height in pixels (default: rows * tile height)")
	f.StringVar(&c.compression, "c", "", "Tile compression item type (default: from mbtiles metadata, or jpeg)")
	f.UintVar(&c.offsetBits, "offset-bits", 40, "Offset field length (32, 40, 48, 64)")
	f.UintVar(&c.sizeBits, "size-bits", 24, "Size field length (0, 24, 32, 64)")
	f.StringVar(&c.order, "order", "raster", "Tile append order (raster, hilbert)")
	f.Uint64Var(&c.maxTiles, "max-tiles", tild.DefaultMaxTiles, "Maximum number of tiles")
	f.BoolVar(&c.verbose, "v", false, "Verbose logging")
}

func (c *createCmd) parameters(source tileSource) (tild.Parameters, error) {
	var columns, rows uint64
	if r, ok := source.(*mb.Reader); ok {
		columns, rows = mb.GridSize(r.Zoom()), mb.GridSize(r.Zoom())
	} else {
		var err error
		if columns, rows, err = tile.GridSize(source); err != nil {
			return tild.Parameters{}, err
		}
	}
	if columns == 0 || rows == 0 {
		return tild.Parameters{}, fmt.Errorf("no tiles in %s", c.inputPath)
	}

	compression := box.TypeOf("jpeg")
	if c.compression != "" {
		compression = box.TypeOf(c.compression)
	} else if r, ok := source.(*mb.Reader); ok {
		metadata, err := r.ReadMetadata()
		if err != nil {
			return tild.Parameters{}, err
		}
		if t, ok := mbtilesCompression(metadata); ok {
			compression = t
		}
	}

	width, height := c.imageWidth, c.imageHeight
	if width == 0 {
		width = columns * uint64(c.tileWidth)
	}
	if height == 0 {
		height = rows * uint64(c.tileHeight)
	}

	p := tild.NewParameters(width, height, uint32(c.tileWidth), uint32(c.tileHeight), compression)
	p.OffsetFieldLength = uint8(c.offsetBits)
	p.SizeFieldLength = uint8(c.sizeBits)
	return p, nil
}

func (c *createCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	order, err := tild.ParseOrder(c.order)
	if err != nil {
		log.Println(err)
		return subcommands.ExitUsageError
	}

	source, err := openSource(deduceFormat(c.inputFormat, c.inputPath), c.inputPath, uint32(c.zoom))
	if err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}
	defer closeIfCloser(source)

	p, err := c.parameters(source)
	if err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}

	p.TilesAreSequential = order == tild.OrderRaster

	f := heif.New(heif.WithLimits(tild.Limits{MaxTiles: c.maxTiles}), heif.WithLogger(newLogger(c.verbose)))
	item, err := f.AddTiledImage(p)
	if err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}

	columns, rows := p.TilesHorizontal(), p.TilesVertical()
	bar := progressbar.NewOptions64(int64(columns*rows), progressbar.OptionShowIts(), progressbar.OptionShowCount())
	for coord := range order.Coords(columns, rows) {
		bar.Add(1)
		tileData, err := source.ReadTile(coord)
		if err != nil {
			log.Println(err)
			return subcommands.ExitFailure
		}
		if len(tileData) == 0 {
			continue
		}
		if err := item.AppendTile(coord.X, coord.Y, tileData); err != nil {
			log.Printf("tile %v: %v", coord, err)
			return subcommands.ExitFailure
		}
	}
	bar.Finish()
	fmt.Println()

	if err := writeFile(f, c.outputPath); err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}

	return subcommands.ExitSuccess
}

func writeFile(f *heif.File, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	if _, err := f.WriteTo(w); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return file.Close()
}
