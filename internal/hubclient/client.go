// Package hubclient is the session side of the session↔hub lifecycle:
// probing for a live hub, spawning one when none exists, registering,
// heartbeating, and unregistering on exit. Everything here is best-effort —
// a hub failure must never stop a session from serving its own clients.
package hubclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/shrijayan/itwillsync/internal/hub"
)

// Per-call timeouts. The hub is on loopback; anything slower than these is
// effectively down.
const (
	healthTimeout     = 2 * time.Second
	registerTimeout   = 5 * time.Second
	unregisterTimeout = 3 * time.Second
	listTimeout       = 3 * time.Second
	heartbeatTimeout  = 2 * time.Second

	// HeartbeatInterval is how often a session refreshes its lastSeen.
	HeartbeatInterval = 10 * time.Second

	// spawnWait bounds how long we watch a freshly spawned hub for its
	// readiness line.
	spawnWait = 10 * time.Second
)

// readyPrefix is the hub's stdout readiness contract.
const readyPrefix = "hub:ready:"

// Client talks to the hub's loopback control API.
type Client struct {
	base string
}

// New creates a client for the hub's internal API port.
func New(internalPort int) *Client {
	return &Client{base: fmt.Sprintf("http://127.0.0.1:%d", internalPort)}
}

// Healthy probes GET /api/health with a short timeout.
func (c *Client) Healthy() bool {
	client := &http.Client{Timeout: healthTimeout}
	resp, err := client.Get(c.base + "/api/health")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// Register submits the session's registration and returns the assigned
// SessionInfo (with the hub-allocated id).
func (c *Client) Register(reg hub.Registration) (*hub.SessionInfo, error) {
	body, err := json.Marshal(reg)
	if err != nil {
		return nil, err
	}

	client := &http.Client{Timeout: registerTimeout}
	resp, err := client.Post(c.base+"/api/sessions", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("hubclient: register failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("hubclient: register returned status %d", resp.StatusCode)
	}

	var payload struct {
		Session hub.SessionInfo `json:"session"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("hubclient: invalid register response: %w", err)
	}
	return &payload.Session, nil
}

// Heartbeat refreshes the session's lastSeen timestamp.
func (c *Client) Heartbeat(id string) error {
	return c.do(http.MethodPut, "/api/sessions/"+id+"/heartbeat", heartbeatTimeout)
}

// Unregister removes the session from the hub.
func (c *Client) Unregister(id string) error {
	return c.do(http.MethodDelete, "/api/sessions/"+id, unregisterTimeout)
}

// StopSession asks the hub to terminate a session's agent.
func (c *Client) StopSession(id string) error {
	return c.do(http.MethodPost, "/api/sessions/"+id+"/stop", unregisterTimeout)
}

// Sessions lists all registered sessions.
func (c *Client) Sessions() ([]hub.SessionInfo, error) {
	client := &http.Client{Timeout: listTimeout}
	resp, err := client.Get(c.base + "/api/sessions")
	if err != nil {
		return nil, fmt.Errorf("hubclient: list failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("hubclient: list returned status %d", resp.StatusCode)
	}

	var payload struct {
		Sessions []hub.SessionInfo `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("hubclient: invalid list response: %w", err)
	}
	return payload.Sessions, nil
}

// RunHeartbeats sends a heartbeat every 10 seconds until the context is
// cancelled. Errors are swallowed: a missed heartbeat costs at most an
// idle flag on the dashboard, and the health sweep tolerates one.
func (c *Client) RunHeartbeats(ctx context.Context, id string) {
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Heartbeat(id); err != nil {
				log.Printf("hubclient: heartbeat failed: %v", err)
			}
		}
	}
}

func (c *Client) do(method, path string, timeout time.Duration) error {
	req, err := http.NewRequest(method, c.base+path, nil)
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("hubclient: %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("hubclient: %s %s returned status %d", method, path, resp.StatusCode)
	}
	return nil
}

// SpawnHub launches the hub binary detached (its own session, no
// controlling terminal) and waits for the readiness line on its stdout.
// The hub keeps running after this process exits.
func SpawnHub(executable string, args []string) error {
	cmd := exec.Command(executable, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("hubclient: failed to pipe hub stdout: %w", err)
	}
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("hubclient: failed to spawn hub: %w", err)
	}
	// Reap the hub if it ever exits while we're still around.
	go cmd.Wait()

	ready := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			if strings.HasPrefix(scanner.Text(), readyPrefix) {
				ready <- nil
				return
			}
		}
		ready <- fmt.Errorf("hubclient: hub exited before reporting ready")
	}()

	select {
	case err := <-ready:
		return err
	case <-time.After(spawnWait):
		return fmt.Errorf("hubclient: hub did not report ready within %s", spawnWait)
	}
}

// Ensure returns a client for a live hub, spawning one if needed. The
// second return is false when no hub could be reached or started; the
// session then runs standalone.
func Ensure(internalPort int, executable string, spawnArgs []string) (*Client, bool) {
	client := New(internalPort)
	if client.Healthy() {
		return client, true
	}

	log.Printf("hubclient: no hub on port %d, spawning one", internalPort)
	if err := SpawnHub(executable, spawnArgs); err != nil {
		log.Printf("hubclient: %v", err)
		return client, false
	}
	if !client.Healthy() {
		log.Printf("hubclient: spawned hub is not responding")
		return client, false
	}
	return client, true
}
