package main

import (
	"fmt"
	"os"
)

// Exit codes
const (
	ExitSuccess        = 0
	ExitGeneralError   = 1
	ExitInvalidArgs    = 2
	ExitConfigError    = 3
	ExitDownloadFailed = 4
	ExitStorageError   = 5
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return ExitInvalidArgs
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "fetch":
		return runFetch(cmdArgs)
	case "items":
		return runItems(cmdArgs)
	case "help", "-h", "--help":
		printUsage()
		return ExitSuccess
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		return ExitInvalidArgs
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: packfetch <command> [options]

Commands:
  fetch     Retrieve catalog items and save them to a bucket
  items     List the entries of a saved catalog search result

Run 'packfetch <command> -h' for command-specific help.`)
}
