package main

// run.go is the per-session entry point: spawn the agent under a PTY, serve
// it to browser clients, register with the hub (spawning one if needed),
// and tear everything down on exit.

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	creackpty "github.com/creack/pty"
	"golang.org/x/term"

	"github.com/shrijayan/itwillsync/internal/auth"
	"github.com/shrijayan/itwillsync/internal/config"
	"github.com/shrijayan/itwillsync/internal/hub"
	"github.com/shrijayan/itwillsync/internal/hubclient"
	"github.com/shrijayan/itwillsync/internal/pty"
	"github.com/shrijayan/itwillsync/internal/session"
)

// ptyProxy lets the session server be constructed before the PTY exists.
// The server only writes and resizes; both are no-ops until the agent runs.
type ptyProxy struct {
	proc *pty.Proc
}

func (p *ptyProxy) Write(data []byte) (int, error) {
	if p.proc == nil {
		return 0, nil
	}
	return p.proc.Write(data)
}

func (p *ptyProxy) Resize(cols, rows int) error {
	if p.proc == nil {
		return nil
	}
	return p.proc.Resize(cols, rows)
}

func runSession(opts sessionOptions, stdout, stderr io.Writer) int {
	cfg := config.Load()
	mode := cfg.NetworkingMode
	if opts.ModeOverride != "" {
		mode = opts.ModeOverride
	}

	agent := opts.Agent
	if len(agent) == 0 {
		shell := os.Getenv("SHELL")
		if shell == "" {
			shell = "/bin/sh"
		}
		agent = []string{shell}
	}

	token, err := auth.NewToken()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	cwd, err := os.Getwd()
	if err != nil {
		cwd = ""
	}

	// Server first: the PTY's output callback needs somewhere to go.
	proxy := &ptyProxy{}
	srv := session.New(session.Config{
		Token:         token,
		AssetRoot:     assetRoot("session"),
		LocalhostOnly: opts.LocalhostOnly,
		StartPort:     opts.Port,
		PTY:           proxy,
	})
	if err := srv.Listen(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	srv.Start()
	defer srv.Stop()

	// Host terminal size seeds the PTY so the remote view matches.
	cols, rows := hostTerminalSize()

	exitCh := make(chan int, 1)
	proc, err := pty.Start(pty.Config{
		Command: agent[0],
		Args:    agent[1:],
		Cols:    cols,
		Rows:    rows,
		OnData: func(chunk []byte) {
			os.Stdout.Write(chunk)
			srv.HandleOutput(chunk)
		},
		OnExit: func(code int, signal string) {
			exitCh <- code
		},
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	proxy.proc = proc

	// Hub lifecycle: probe, spawn if absent, register, heartbeat. All of it
	// best-effort; a session without a hub still serves its own clients.
	var client *hubclient.Client
	sessionID := ""
	hubOK := false
	if exe, err := os.Executable(); err == nil {
		client, hubOK = hubclient.Ensure(config.DefaultInternalPort, exe, []string{"hub", "run"})
	}
	if hubOK {
		info, err := client.Register(hub.Registration{
			Name:  filepath.Base(agent[0]),
			Port:  srv.Port(),
			Token: token,
			Agent: agent[0],
			Cwd:   cwd,
			PID:   proc.PID(),
		})
		if err != nil {
			fmt.Fprintf(stderr, "Warning: hub registration failed: %v\n", err)
			hubOK = false
		} else {
			sessionID = info.ID
		}
	} else {
		fmt.Fprintf(stderr, "Warning: no hub available, running standalone\n")
	}

	heartbeatCtx, stopHeartbeats := context.WithCancel(context.Background())
	defer stopHeartbeats()
	if hubOK {
		go client.RunHeartbeats(heartbeatCtx, sessionID)
	}

	printAccessInfo(stdout, mode, srv.Port(), token, hubOK, opts.NoQR)

	// Put the host terminal in raw mode and bridge it to the PTY, so the
	// agent is usable locally while it streams to remote clients.
	var restoreTerm func()
	if term.IsTerminal(int(os.Stdin.Fd())) {
		if oldState, err := term.MakeRaw(int(os.Stdin.Fd())); err == nil {
			restoreTerm = func() { term.Restore(int(os.Stdin.Fd()), oldState) }
		}
	}
	if restoreTerm != nil {
		defer restoreTerm()
	}
	go io.Copy(proc, os.Stdin)

	// Track host terminal resizes and mirror them to the PTY and clients.
	winchCh := make(chan os.Signal, 1)
	signal.Notify(winchCh, syscall.SIGWINCH)
	defer signal.Stop(winchCh)
	go func() {
		for range winchCh {
			cols, rows := hostTerminalSize()
			proc.Resize(cols, rows)
			srv.BroadcastResize(cols, rows)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	exitCode := 0
	select {
	case code := <-exitCh:
		exitCode = code
	case <-sigCh:
		proc.Kill()
		select {
		case code := <-exitCh:
			exitCode = code
		case <-proc.Done():
		}
	}

	// Best-effort unregister on every exit path.
	if hubOK && sessionID != "" {
		client.Unregister(sessionID)
	}
	return exitCode
}

// hostTerminalSize reads the controlling terminal's dimensions, with sane
// defaults when stdin isn't a terminal (tests, pipes).
func hostTerminalSize() (cols, rows int) {
	if ws, err := creackpty.GetsizeFull(os.Stdin); err == nil && ws.Cols > 0 && ws.Rows > 0 {
		return int(ws.Cols), int(ws.Rows)
	}
	return 80, 24
}

// assetRoot locates a bundled asset directory, preferring the build layout
// next to the executable and falling back to the working directory.
func assetRoot(kind string) string {
	if exe, err := os.Executable(); err == nil {
		root := filepath.Join(filepath.Dir(exe), "web", kind)
		if _, err := os.Stat(root); err == nil {
			return root
		}
	}
	return filepath.Join("web", kind)
}
