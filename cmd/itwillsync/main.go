// Command itwillsync wraps a terminal agent in a pseudo-terminal and mirrors
// it to browsers on the local network. The first session auto-starts a hub
// daemon that serves a dashboard aggregating every active session.
package main

import (
	"fmt"
	"io"
	"os"
)

// Version is set at build time via -ldflags.
// Example: go build -ldflags="-X main.Version=v0.3.0" ./cmd/itwillsync
var Version = "dev"

const usage = `itwillsync - mirror terminal agents to your phone

Usage:
  itwillsync [options] [--] [agent [args...]]

Runs the agent (default: your shell) in a session served to browser
clients, and registers it with the local hub dashboard.

Options:
  --port <n>     Starting port for the session server (default 7964)
  --localhost    Bind the session server to 127.0.0.1 only
  --tailscale    Use the tailnet address for URLs (overrides config)
  --local        Use the LAN address for URLs (overrides config)
  --no-qr        Skip printing the access QR code

Commands:
  setup          Write the networking-mode config file
  hub info       Show the running hub's connection details
  hub status     Show active and recent sessions
  hub stop       Shut the hub down
`

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) >= 2 {
		switch args[1] {
		case "setup":
			return runSetup(args[2:], stdout, stderr)
		case "hub":
			if len(args) < 3 {
				fmt.Fprintln(stdout, "Usage: itwillsync hub <info|status|stop>")
				return 1
			}
			return runHubCommand(args[2], args[3:], stdout, stderr)
		case "--hub-info":
			return runHubCommand("info", nil, stdout, stderr)
		case "--hub-status":
			return runHubCommand("status", nil, stdout, stderr)
		case "--hub-stop":
			return runHubCommand("stop", nil, stdout, stderr)
		case "--help", "-h", "help":
			fmt.Fprint(stdout, usage)
			return 0
		case "--version", "-v", "version":
			fmt.Fprintf(stdout, "itwillsync %s\n", Version)
			return 0
		}
	}

	opts, err := parseSessionFlags(args[1:])
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		fmt.Fprint(stdout, usage)
		return 2
	}
	return runSession(opts, stdout, stderr)
}
