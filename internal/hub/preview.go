package hub

// preview.go implements the preview collector. For every registered session
// the hub keeps one outbound WebSocket connection to that session's own
// fan-out, authenticated with the session token like any other client. The
// collector never sends input: it tails the output stream, watches for
// attention signals, and condenses the stream into a few plain-text lines
// for the dashboard.

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"

	"github.com/shrijayan/itwillsync/internal/ansi"
)

const (
	// previewMaxLines is how many recent lines each session's preview keeps.
	previewMaxLines = 5

	// previewMaxLineLen caps each preview line; longer lines are truncated
	// with a "..." suffix.
	previewMaxLineLen = 80

	// previewThrottle batches preview emissions so a fast-scrolling agent
	// produces at most two dashboard updates per second.
	previewThrottle = 500 * time.Millisecond

	// Reconnect backoff: 1s growing by 1.5x, capped at 10s.
	reconnectInitial = 1 * time.Second
	reconnectMax     = 10 * time.Second
)

// Collector tails every registered session as a read-only client.
type Collector struct {
	registry  *Registry
	onPreview func(sessionID string, lines []string)

	mu       sync.Mutex
	sessions map[string]*previewState
	stopped  bool
}

// NewCollector creates a collector. onPreview receives throttled snapshots;
// it is called from collector goroutines and must not block for long.
func NewCollector(registry *Registry, onPreview func(sessionID string, lines []string)) *Collector {
	return &Collector{
		registry:  registry,
		onPreview: onPreview,
		sessions:  make(map[string]*previewState),
	}
}

// HandleEvent reacts to registry changes. Wired as a registry observer.
func (c *Collector) HandleEvent(e Event) {
	switch e.Type {
	case EventSessionAdded:
		c.startSession(e.Session)
	case EventSessionRemoved:
		c.stopSessionTail(e.Session.ID)
	}
}

// Stop closes every tail connection.
func (c *Collector) Stop() {
	c.mu.Lock()
	c.stopped = true
	states := make([]*previewState, 0, len(c.sessions))
	for _, st := range c.sessions {
		states = append(states, st)
	}
	c.sessions = make(map[string]*previewState)
	c.mu.Unlock()

	for _, st := range states {
		st.close()
	}
}

// Snapshot returns the buffered preview lines for one session.
func (c *Collector) Snapshot(sessionID string) []string {
	c.mu.Lock()
	st, ok := c.sessions[sessionID]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return st.snapshot()
}

// SnapshotAll returns every session's buffered preview lines.
func (c *Collector) SnapshotAll() map[string][]string {
	c.mu.Lock()
	states := make(map[string]*previewState, len(c.sessions))
	for id, st := range c.sessions {
		states[id] = st
	}
	c.mu.Unlock()

	out := make(map[string][]string, len(states))
	for id, st := range states {
		out[id] = st.snapshot()
	}
	return out
}

func (c *Collector) startSession(info SessionInfo) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	if _, exists := c.sessions[info.ID]; exists {
		c.mu.Unlock()
		return
	}
	st := &previewState{
		sessionID: info.ID,
		url:       fmt.Sprintf("ws://127.0.0.1:%d/?token=%s", info.Port, info.Token),
		collector: c,
	}
	c.sessions[info.ID] = st
	c.mu.Unlock()

	go st.run()
}

func (c *Collector) stopSessionTail(sessionID string) {
	c.mu.Lock()
	st, ok := c.sessions[sessionID]
	delete(c.sessions, sessionID)
	c.mu.Unlock()
	if ok {
		st.close()
	}
}

// previewState is the per-session tail. The run goroutine owns the
// connection; the small mutex protects the line buffer, which snapshot
// readers and the throttle timer also touch.
type previewState struct {
	sessionID string
	url       string
	collector *Collector

	mu       sync.Mutex
	conn     *websocket.Conn
	lines    []string
	carry    string
	dirty    bool
	throttle *time.Timer
	closed   bool
}

// run connects to the session and tails it until the session is removed
// from the registry. Reconnects use exponential backoff starting at one
// second, growing 1.5x per attempt, capped at ten seconds, reset after a
// successful connect.
func (st *previewState) run() {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = reconnectInitial
	bo.Multiplier = 1.5
	bo.MaxInterval = reconnectMax
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset()

	for {
		if st.isClosed() {
			return
		}

		conn, _, err := websocket.DefaultDialer.Dial(st.url, nil)
		if err != nil {
			if st.isClosed() {
				return
			}
			delay := bo.NextBackOff()
			time.Sleep(delay)
			continue
		}

		st.mu.Lock()
		if st.closed {
			st.mu.Unlock()
			conn.Close()
			return
		}
		st.conn = conn
		st.mu.Unlock()

		bo.Reset()
		st.readLoop(conn)

		st.mu.Lock()
		st.conn = nil
		st.mu.Unlock()

		if st.isClosed() {
			return
		}
		time.Sleep(bo.NextBackOff())
	}
}

// readLoop consumes frames until the connection dies. Only data frames are
// interesting; everything else the session might send is ignored.
func (st *previewState) readLoop(conn *websocket.Conn) {
	defer conn.Close()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var frame struct {
			Type string `json:"type"`
			Data string `json:"data"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		if frame.Type != "data" {
			continue
		}
		st.handleData(frame.Data)
	}
}

// handleData processes one chunk of session output: attention scan over the
// raw bytes first (control sequences intact), then strip, then line
// assembly into the bounded preview window.
func (st *previewState) handleData(raw string) {
	if ansi.ContainsAttention(raw) {
		st.collector.registry.MarkAttention(st.sessionID)
	}

	clean := ansi.Strip(raw)

	st.mu.Lock()
	st.carry += clean
	parts := strings.Split(st.carry, "\n")
	st.carry = parts[len(parts)-1]
	for _, line := range parts[:len(parts)-1] {
		line = strings.TrimRight(line, " \t")
		if line == "" {
			continue
		}
		st.lines = append(st.lines, truncateLine(line))
	}
	if len(st.lines) > previewMaxLines {
		st.lines = st.lines[len(st.lines)-previewMaxLines:]
	}

	st.dirty = true
	if st.throttle == nil && !st.closed {
		st.throttle = time.AfterFunc(previewThrottle, st.emit)
	}
	st.mu.Unlock()
}

// emit fires from the throttle timer: push a snapshot if anything changed
// since the last emission.
func (st *previewState) emit() {
	st.mu.Lock()
	st.throttle = nil
	if !st.dirty || st.closed {
		st.mu.Unlock()
		return
	}
	st.dirty = false
	lines := make([]string, len(st.lines))
	copy(lines, st.lines)
	st.mu.Unlock()

	if st.collector.onPreview != nil {
		st.collector.onPreview(st.sessionID, lines)
	}
}

func (st *previewState) snapshot() []string {
	st.mu.Lock()
	defer st.mu.Unlock()
	lines := make([]string, len(st.lines))
	copy(lines, st.lines)
	return lines
}

func (st *previewState) isClosed() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.closed
}

func (st *previewState) close() {
	st.mu.Lock()
	st.closed = true
	if st.throttle != nil {
		st.throttle.Stop()
		st.throttle = nil
	}
	conn := st.conn
	st.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// truncateLine enforces the preview line cap, rune-aware so a multibyte
// character is never split mid-sequence.
func truncateLine(line string) string {
	runes := []rune(line)
	if len(runes) <= previewMaxLineLen {
		return line
	}
	return string(runes[:previewMaxLineLen-3]) + "..."
}

var _ PreviewSource = (*Collector)(nil)
