// Package pty wraps a single agent process in a pseudo-terminal.
//
// A PTY (pseudo-terminal) is a pair of virtual devices: a "master" (ptmx) and
// a "slave" (pts). The agent runs attached to the slave, thinking it's a real
// terminal, while we read output from and write input to the master. This is
// the only platform-specific piece of the runtime; everything above it deals
// in plain byte streams.
package pty

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sync"

	// Third-party PTY library. It handles openpty/forkpty details across
	// platforms so the rest of the code never touches termios.
	"github.com/creack/pty"
)

// Proc is a supervised agent process attached to a pseudo-terminal.
//
// Output is delivered through the OnData callback as raw byte chunks in the
// order the PTY produced them. Termination is signalled once through OnExit
// and through the Done channel.
type Proc struct {
	cmd  *exec.Cmd
	ptmx *os.File

	onData func([]byte)
	onExit func(code int, signal string)

	done     chan struct{}
	killOnce sync.Once

	mu      sync.Mutex
	running bool
}

// Config holds the parameters for starting an agent under a PTY.
type Config struct {
	// Command is the agent executable to run (e.g. "claude").
	Command string

	// Args are passed to the agent verbatim.
	Args []string

	// Dir is the working directory for the agent. Empty means inherit.
	Dir string

	// Cols and Rows set the initial PTY size. Zero values fall back to 80x24.
	Cols, Rows int

	// OnData receives each chunk of PTY output. The slice is only valid for
	// the duration of the call; callers must copy if they retain it.
	OnData func(chunk []byte)

	// OnExit is called exactly once when the agent terminates, with the exit
	// code and the terminating signal name ("" if none).
	OnExit func(code int, signal string)
}

// Start spawns the agent in a fresh PTY and begins forwarding output.
//
// The child inherits the parent environment with TERM=xterm-256color added on
// non-Windows platforms, so full-screen agents render with color support.
func Start(cfg Config) (*Proc, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("pty: no command given")
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Dir = cfg.Dir
	cmd.Env = os.Environ()
	if runtime.GOOS != "windows" {
		cmd.Env = append(cmd.Env, "TERM=xterm-256color")
	}

	cols, rows := cfg.Cols, cfg.Rows
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Cols: uint16(cols),
		Rows: uint16(rows),
	})
	if err != nil {
		return nil, fmt.Errorf("pty: failed to start %s: %w", cfg.Command, err)
	}

	p := &Proc{
		cmd:     cmd,
		ptmx:    ptmx,
		onData:  cfg.OnData,
		onExit:  cfg.OnExit,
		done:    make(chan struct{}),
		running: true,
	}

	go p.readLoop()
	go p.waitForExit()

	return p, nil
}

// readLoop reads PTY output in chunks and forwards each chunk to OnData.
// Reads return as soon as data is available rather than waiting for a
// newline, so interactive redraws and cursor movement arrive immediately.
func (p *Proc) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := p.ptmx.Read(buf)
		if n > 0 && p.onData != nil {
			p.onData(buf[:n])
		}
		if err != nil {
			// EOF or EIO: the slave side closed because the agent exited.
			return
		}
	}
}

// waitForExit reaps the child, closes the PTY master, and fires OnExit.
func (p *Proc) waitForExit() {
	err := p.cmd.Wait()

	p.mu.Lock()
	p.running = false
	if p.ptmx != nil {
		p.ptmx.Close()
	}
	p.mu.Unlock()

	code := 0
	signal := ""
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
			if code == -1 {
				// Killed by a signal; ExitCode is -1 in that case.
				code = 1
				signal = exitErr.String()
			}
		} else {
			code = 1
		}
	} else {
		code = p.cmd.ProcessState.ExitCode()
	}

	if p.onExit != nil {
		p.onExit(code, signal)
	}
	close(p.done)
}

// Write sends input bytes to the PTY, and thus to the agent.
// After the agent has exited this is a no-op.
func (p *Proc) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running || p.ptmx == nil {
		return 0, nil
	}
	return p.ptmx.Write(data)
}

// Resize changes the PTY dimensions. The kernel delivers SIGWINCH to the
// agent, which full-screen programs use to redraw. Resizing after the agent
// has exited is a no-op, not an error.
func (p *Proc) Resize(cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return fmt.Errorf("pty: invalid dimensions %dx%d", cols, rows)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running || p.ptmx == nil {
		return nil
	}

	if err := pty.Setsize(p.ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)}); err != nil {
		return fmt.Errorf("pty: resize failed: %w", err)
	}
	return nil
}

// PID returns the agent's process id. Immutable after Start.
func (p *Proc) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Done returns a channel closed after the agent has exited and OnExit fired.
func (p *Proc) Done() <-chan struct{} {
	return p.done
}

// Running reports whether the agent process is still alive.
func (p *Proc) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Kill forcibly terminates the agent. Safe to call multiple times and after
// the agent has already exited.
func (p *Proc) Kill() {
	p.killOnce.Do(func() {
		p.mu.Lock()
		if p.ptmx != nil {
			p.ptmx.Close()
		}
		p.mu.Unlock()

		if p.cmd.Process != nil {
			p.cmd.Process.Kill()
		}
	})
}
