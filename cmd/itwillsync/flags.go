package main

// flags.go parses the per-session CLI surface. Flags may appear before the
// agent command; "--" ends flag parsing explicitly, and the first non-flag
// argument starts the agent command line.

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shrijayan/itwillsync/internal/config"
)

// sessionOptions is the parsed per-session CLI surface.
type sessionOptions struct {
	// Port is the starting port for the session server's upward scan.
	Port int

	// LocalhostOnly binds the session server to 127.0.0.1.
	LocalhostOnly bool

	// ModeOverride forces the networking mode regardless of config.json.
	// Empty means use the configured mode.
	ModeOverride config.NetworkingMode

	// NoQR suppresses the access QR code.
	NoQR bool

	// Agent is the command to wrap, possibly empty (defaults to the shell).
	Agent []string
}

// parseSessionFlags walks the arguments by hand rather than using a FlagSet:
// the agent's own flags must pass through untouched, so parsing has to stop
// at the first non-flag argument, which flag.Parse does not do for
// interleaved values.
func parseSessionFlags(args []string) (sessionOptions, error) {
	opts := sessionOptions{Port: config.DefaultSessionPort}

	i := 0
	for i < len(args) {
		arg := args[i]
		switch {
		case arg == "--":
			opts.Agent = args[i+1:]
			return opts, nil

		case arg == "--port":
			if i+1 >= len(args) {
				return opts, fmt.Errorf("--port requires a value")
			}
			port, err := strconv.Atoi(args[i+1])
			if err != nil || port <= 0 || port > 65535 {
				return opts, fmt.Errorf("invalid port %q", args[i+1])
			}
			opts.Port = port
			i += 2

		case strings.HasPrefix(arg, "--port="):
			port, err := strconv.Atoi(strings.TrimPrefix(arg, "--port="))
			if err != nil || port <= 0 || port > 65535 {
				return opts, fmt.Errorf("invalid port %q", arg)
			}
			opts.Port = port
			i++

		case arg == "--localhost":
			opts.LocalhostOnly = true
			i++

		case arg == "--tailscale":
			opts.ModeOverride = config.ModeTailscale
			i++

		case arg == "--local":
			opts.ModeOverride = config.ModeLocal
			i++

		case arg == "--no-qr":
			opts.NoQR = true
			i++

		case strings.HasPrefix(arg, "-"):
			return opts, fmt.Errorf("unknown flag %s", arg)

		default:
			// First non-flag argument: everything from here is the agent.
			opts.Agent = args[i:]
			return opts, nil
		}
	}
	return opts, nil
}
