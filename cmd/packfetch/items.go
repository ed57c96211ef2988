package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/markpe/packfetch/internal/catalog"
)

// runItems lists the entries of a saved catalog search result.
func runItems(args []string) int {
	fs := flag.NewFlagSet("items", flag.ExitOnError)
	showCreator := fs.Bool("creator", false, "Also print the creator name")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: packfetch items [options] <file>

List id and title of every entry in a catalog results file (JSON or YAML).

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Error: exactly one file is required")
		fs.Usage()
		return ExitInvalidArgs
	}

	entries, err := catalog.Load(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitGeneralError
	}

	printEntries(os.Stdout, entries, *showCreator)
	return ExitSuccess
}

func printEntries(w io.Writer, entries []catalog.Entry, showCreator bool) {
	idWidth := 0
	for _, e := range entries {
		idWidth = max(idWidth, runewidth.StringWidth(e.ID))
	}

	for _, e := range entries {
		line := runewidth.FillRight(e.ID, idWidth) + "  " + e.DisplayTitle()
		if showCreator {
			line += " (by " + e.Creator() + ")"
		}
		if len(e.ContentType) > 0 {
			line += " [" + strings.Join(e.ContentType, ", ") + "]"
		}
		fmt.Fprintln(w, line)
	}
}
