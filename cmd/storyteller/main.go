package main

import (
	"fmt"
	"log/slog"
	"os"
)

var version = "0.1.0"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" {
		printUsage()
		return 0
	}

	sub := args[0]
	var cmd func([]string) error
	switch sub {
	case "serve":
		cmd = cmdServe
	case "story":
		cmd = cmdStory
	case "audio":
		cmd = cmdAudio
	case "warmup":
		cmd = cmdWarmup
	case "version":
		fmt.Println(version)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand: %s\n\n", sub)
		printUsage()
		return 2
	}
	if err := cmd(args[1:]); err != nil {
		slog.Error(sub+" failed", "err", err)
		return 1
	}
	return 0
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `storyteller %s

Usage:
  storyteller <subcommand> [flags]

Subcommands:
  serve    Run the HTTP API
  story    Caption an image and write a short story about it
  audio    Read story text aloud into a WAV file
  warmup   Load every model and report its state
  version  Print version

Run "storyteller <subcommand> -h" for flags.
`, version)
}
