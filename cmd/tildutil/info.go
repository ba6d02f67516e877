package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"slices"

	"github.com/eak1mov/go-libtild/heif"
	"github.com/eak1mov/go-libtild/tild"
	"github.com/goccy/go-json"
	"github.com/google/subcommands"
)

type infoCmd struct {
	inputPath string
	jsonOut   bool
}

func (c *infoCmd) Name() string     { return "info" }
func (c *infoCmd) Synopsis() string { return "print the items of a file" }
func (c *infoCmd) Usage() string {
	return "tildutil info -i <path> [-json]\n"
}
func (c *infoCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.inputPath, "i", "", "Input file path")
	f.BoolVar(&c.jsonOut, "json", false, "Print JSON")
}

type itemInfo struct {
	ID      uint32       `json:"id"`
	Type    string       `json:"type"`
	Kind    string       `json:"kind,omitempty"`
	Primary bool         `json:"primary,omitempty"`
	Format  string       `json:"format,omitempty"`
	Width   uint64       `json:"width,omitempty"`
	Height  uint64       `json:"height,omitempty"`
	Tiling  *tild.Tiling `json:"tiling,omitempty"`
	Written int          `json:"written_tiles,omitempty"`
	Error   string       `json:"error,omitempty"`

	config string
}

func describe(f *heif.File) ([]itemInfo, error) {
	primary, _ := f.PrimaryID()
	images := f.Images()

	var infos []itemInfo
	for _, id := range f.Items() {
		itemType, err := f.ItemType(id)
		if err != nil {
			return nil, err
		}
		info := itemInfo{ID: uint32(id), Type: itemType.String(), Primary: id == primary}

		if slices.Contains(images, id) {
			img, err := f.Image(id)
			if err != nil {
				info.Error = err.Error()
				infos = append(infos, info)
				continue
			}
			info.Kind = img.Kind().String()
			info.Format = img.Format().String()
			info.Width, info.Height = img.Size()
			if tiled, ok := img.Tiled(); ok {
				tiling := tiled.Tiling()
				info.Tiling = &tiling
				for range tiled.WrittenTiles() {
					info.Written++
				}
				if config, ok := f.Property(id, tild.TypeConfig); ok {
					info.config = fmt.Sprint(config)
				}
			}
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (c *infoCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	f, err := heif.OpenFile(c.inputPath)
	if err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}
	defer f.Close()

	infos, err := describe(f)
	if err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}

	if c.jsonOut {
		data, err := json.MarshalIndent(infos, "", "  ")
		if err != nil {
			log.Println(err)
			return subcommands.ExitFailure
		}
		os.Stdout.Write(append(data, '\n'))
		return subcommands.ExitSuccess
	}

	for _, info := range infos {
		fmt.Printf("item %d: type %s", info.ID, info.Type)
		if info.Primary {
			fmt.Print(" (primary)")
		}
		fmt.Println()
		if info.Error != "" {
			fmt.Printf("  error: %s\n", info.Error)
			continue
		}
		if info.Kind == "" {
			continue
		}
		fmt.Printf("  %s image %dx%d, %s\n", info.Kind, info.Width, info.Height, info.Format)
		if info.Tiling != nil {
			fmt.Printf("  %dx%d tiles of %dx%d, %d written\n",
				info.Tiling.Columns, info.Tiling.Rows, info.Tiling.TileWidth, info.Tiling.TileHeight, info.Written)
			fmt.Print(info.config)
		}
	}
	return subcommands.ExitSuccess
}
