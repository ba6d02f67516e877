package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"image/png"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/eak1mov/go-libtild/codec"
	"github.com/eak1mov/go-libtild/heif"
	"github.com/eak1mov/go-libtild/tild"
	"github.com/eak1mov/go-libtild/tile"
	"github.com/google/subcommands"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/image/tiff"
	"golang.org/x/sync/errgroup"
)

type extractCmd struct {
	inputPath    string
	itemID       uint
	outputFormat string
	outputPath   string
	zoom         int
	decode       bool
	render       string
	jobs         int
	verbose      bool
}

func (c *extractCmd) Name() string     { return "extract" }
func (c *extractCmd) Synopsis() string { return "extract the tiles of a tiled image" }
func (c *extractCmd) Usage() string {
	return "tildutil extract -i <path> -o <path> [-of <format> -item <id> -zoom <z> -decode]\n" +
		"tildutil extract -i <path> -render <png or tiff path> [-item <id>]\n"
}
func (c *extractCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.inputPath, "i", "", "Input file path")
	f.UintVar(&c.itemID, "item", 0, "Item id (default: primary image)")
	f.StringVar(&c.outputPath, "o", "", "Output path (mbtiles file or xyz pattern with {x} and {y})")
	f.StringVar(&c.outputFormat, "of", "", "Output format (mbtiles, xyz)")
	f.IntVar(&c.zoom, "zoom", -1, "Zoom level of mbtiles output (default: smallest that fits the grid)")
	f.BoolVar(&c.decode, "decode", false, "Decode tiles and store them as PNG")
	f.StringVar(&c.render, "render", "", "Render the whole image into a PNG or TIFF file")
	f.IntVar(&c.jobs, "j", runtime.NumCPU(), "Number of decoding goroutines")
	f.BoolVar(&c.verbose, "v", false, "Verbose logging")
}

func (c *extractCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	f, img, err := openImage(c.inputPath, c.itemID, heif.WithLogger(newLogger(c.verbose)))
	if err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}
	defer f.Close()

	item, ok := img.Tiled()
	if !ok {
		log.Printf("item %d is not a tiled image", img.ID())
		return subcommands.ExitFailure
	}

	if c.render != "" {
		if err := renderImage(item, c.render); err != nil {
			log.Println(err)
			return subcommands.ExitFailure
		}
		return subcommands.ExitSuccess
	}

	tiling := item.Tiling()
	zoom := zoomFor(tiling.Columns, tiling.Rows)
	if c.zoom >= 0 {
		zoom = uint32(c.zoom)
	}
	sink, err := openSink(deduceFormat(c.outputFormat, c.outputPath), c.outputPath, zoom, newLogger(c.verbose))
	if err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}
	defer closeIfCloser(sink)

	var coords []tile.Coord
	for coord := range item.WrittenTiles() {
		coords = append(coords, coord)
	}
	bar := progressbar.NewOptions(len(coords), progressbar.OptionShowIts(), progressbar.OptionShowCount())

	if c.decode {
		err = extractDecoded(item, coords, sink, c.jobs, bar)
	} else {
		err = extractRaw(item, coords, sink, bar)
	}
	if err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}
	bar.Finish()
	fmt.Println()

	if err := sink.Finalize(); err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}

	return subcommands.ExitSuccess
}

func extractRaw(item *tild.Item, coords []tile.Coord, sink tile.Writer, bar *progressbar.ProgressBar) error {
	for _, coord := range coords {
		tileData, err := item.ReadTile(coord.X, coord.Y)
		if err != nil {
			return err
		}
		if err := sink.WriteTile(coord, tileData); err != nil {
			return err
		}
		bar.Add(1)
	}
	return nil
}

// extractDecoded decodes tiles concurrently; writes to the sink are serialized.
func extractDecoded(item *tild.Item, coords []tile.Coord, sink tile.Writer, jobs int, bar *progressbar.ProgressBar) error {
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(max(jobs, 1))
	for _, coord := range coords {
		g.Go(func() error {
			img, err := item.DecodeTile(coord.X, coord.Y, codec.Options{})
			if err != nil {
				return err
			}
			var buf bytes.Buffer
			if err := png.Encode(&buf, img); err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			bar.Add(1)
			return sink.WriteTile(coord, buf.Bytes())
		})
	}
	return g.Wait()
}

// renderImage writes the assembled image, as TIFF when path ends in .tif or
// .tiff and as PNG otherwise.
func renderImage(item *tild.Item, path string) error {
	view, err := item.Image()
	if err != nil {
		return err
	}
	rgba, err := view.Render()
	if err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff":
		err = tiff.Encode(file, rgba, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
	default:
		err = png.Encode(file, rgba)
	}
	if err != nil {
		return err
	}
	return file.Close()
}
