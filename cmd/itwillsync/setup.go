package main

// setup.go writes the networking-mode configuration. The interactive wizard
// lives in the companion front-end; this is its non-interactive core.

import (
	"flag"
	"fmt"
	"io"

	"github.com/shrijayan/itwillsync/internal/config"
)

const setupUsage = `Usage: itwillsync setup [--local | --tailscale]

Writes the networking mode to the config file. Defaults to local.
`

func runSetup(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("setup", flag.ContinueOnError)
	fs.SetOutput(stderr)
	local := fs.Bool("local", false, "Serve on the LAN address")
	tailscale := fs.Bool("tailscale", false, "Serve on the tailnet address")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(stdout, setupUsage)
		return 2
	}

	if *local && *tailscale {
		fmt.Fprintln(stderr, "Error: --local and --tailscale are mutually exclusive")
		return 2
	}

	mode := config.ModeLocal
	if *tailscale {
		mode = config.ModeTailscale
	}

	if err := config.Save(&config.Config{NetworkingMode: mode}); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	path, _ := config.Path()
	fmt.Fprintf(stdout, "Networking mode %q written to %s\n", mode, path)
	return 0
}
