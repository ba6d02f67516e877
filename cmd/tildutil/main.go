package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
	_ "github.com/mattn/go-sqlite3"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(&createCmd{}, "")
	subcommands.Register(&infoCmd{}, "")
	subcommands.Register(&extractCmd{}, "")
	subcommands.Register(&exportCmd{}, "")

	flag.Parse()
	os.Exit(int(subcommands.Execute(context.Background())))
}
