package hub

// dashboard.go implements the externally reachable dashboard server: master
// token auth with per-IP rate limiting on failures, bundled dashboard
// assets, and the WebSocket that streams session-list deltas and preview
// frames to every open dashboard.

import (
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"syscall"

	"github.com/gorilla/websocket"

	"github.com/shrijayan/itwillsync/internal/assets"
	"github.com/shrijayan/itwillsync/internal/auth"
)

// PreviewSource supplies buffered preview lines for connect-time replay.
type PreviewSource interface {
	// Snapshot returns the buffered lines for one session (nil if none).
	Snapshot(sessionID string) []string

	// SnapshotAll returns every session's buffered lines.
	SnapshotAll() map[string][]string
}

// DashboardConfig holds dashboard server parameters.
type DashboardConfig struct {
	// MasterToken authorizes every page and WebSocket upgrade.
	MasterToken string

	// AssetRoot is the dashboard front-end bundle directory.
	AssetRoot string

	// Previews provides buffered preview lines; may be nil in tests.
	Previews PreviewSource

	// OnShutdownRequest is invoked when a master-token-authorized shutdown
	// request arrives. May be nil.
	OnShutdownRequest func()
}

// Dashboard is the hub's external HTTP + WebSocket server.
type Dashboard struct {
	cfg      DashboardConfig
	registry *Registry
	limiter  *auth.RateLimiter
	assets   *assets.Handler
	upgrader websocket.Upgrader

	listener net.Listener
	httpSrv  *http.Server
	port     int

	mu      sync.Mutex
	clients map[*dashClient]bool
	stopped bool
}

// NewDashboard creates the dashboard server around a registry.
func NewDashboard(registry *Registry, cfg DashboardConfig) *Dashboard {
	return &Dashboard{
		cfg:      cfg,
		registry: registry,
		limiter:  auth.NewRateLimiter(),
		assets:   assets.NewHandler(cfg.AssetRoot),
		clients:  make(map[*dashClient]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Listen binds the external dashboard port on all interfaces.
func (d *Dashboard) Listen(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("hub: dashboard bind failed: %w", err)
	}
	d.listener = ln
	d.port = port
	return nil
}

// Port returns the bound port. Valid after Listen.
func (d *Dashboard) Port() int {
	return d.port
}

// Start begins serving. Call after Listen.
func (d *Dashboard) Start() {
	d.httpSrv = &http.Server{Handler: http.HandlerFunc(d.handleRoot)}
	go func() {
		if err := d.httpSrv.Serve(d.listener); err != nil && err != http.ErrServerClosed {
			log.Printf("hub: dashboard server stopped: %v", err)
		}
	}()
	log.Printf("hub: dashboard listening on port %d", d.port)
}

// Stop closes the server and every dashboard connection.
func (d *Dashboard) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	clients := make([]*dashClient, 0, len(d.clients))
	for c := range d.clients {
		clients = append(clients, c)
	}
	d.mu.Unlock()

	for _, c := range clients {
		c.closeSend()
	}
	if d.httpSrv != nil {
		d.httpSrv.Close()
	}
}

// handleRoot is the single entry point. Assets under /assets/ are exempt
// from auth (build artifacts, no secrets); every other path goes through
// the rate limiter and the master-token check.
func (d *Dashboard) handleRoot(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/assets/") {
		// Bundle layout keeps hashed build artifacts under assets/; the
		// path maps straight into the asset root.
		d.assets.Serve(w, r, r.URL.Path)
		return
	}

	ip := clientIP(r)
	if d.limiter.IsBlocked(ip) {
		// Blocked IPs get 429 without a token comparison: the block window
		// must not be probe-able with the correct token either.
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		return
	}

	token := r.URL.Query().Get("token")
	if !auth.TokenEqual(d.cfg.MasterToken, token) {
		d.limiter.RecordFailure(ip)
		log.Printf("hub: dashboard auth failure from %s", ip)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	d.limiter.RecordSuccess(ip)

	if websocket.IsWebSocketUpgrade(r) {
		d.handleWebSocket(w, r)
		return
	}

	if r.URL.Path == "/shutdown" && r.Method == http.MethodPost {
		log.Printf("hub: shutdown requested via dashboard API")
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		if d.cfg.OnShutdownRequest != nil {
			go d.cfg.OnShutdownRequest()
		}
		return
	}

	d.assets.ServeHTTP(w, r)
}

// handleWebSocket upgrades an authenticated dashboard connection and primes
// it with the session list and buffered previews.
func (d *Dashboard) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("hub: dashboard upgrade failed: %v", err)
		return
	}

	client := newDashClient(d, conn)

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		conn.Close()
		return
	}
	d.clients[client] = true
	total := len(d.clients)
	d.mu.Unlock()

	log.Printf("hub: dashboard client %s connected (%d total)", client.id, total)

	go client.writePump()

	// Session list first, then the current preview state for each session
	// that has any, so a fresh dashboard renders without waiting for the
	// next throttled emission.
	client.enqueue(sessionsFrame{Type: dashFrameSessions, Sessions: d.registry.GetAll()})
	if d.cfg.Previews != nil {
		for sessionID, lines := range d.cfg.Previews.SnapshotAll() {
			if len(lines) > 0 {
				client.enqueue(previewFrame{Type: dashFramePreview, SessionID: sessionID, Lines: lines})
			}
		}
	}

	go client.readPump()
}

// BroadcastEvent bridges a registry event to every dashboard connection.
// Wired as a registry observer, so frames arrive in mutation order.
func (d *Dashboard) BroadcastEvent(e Event) {
	var frame any
	switch e.Type {
	case EventSessionAdded:
		frame = sessionAddedFrame{Type: dashFrameSessionAdded, Session: e.Session}
	case EventSessionRemoved:
		frame = sessionRemovedFrame{Type: dashFrameSessionRemoved, SessionID: e.Session.ID}
	case EventSessionUpdated:
		frame = sessionUpdatedFrame{Type: dashFrameSessionUpdated, Session: e.Session}
	default:
		return
	}
	d.broadcast(frame)
}

// BroadcastPreview fans a throttled preview emission out to dashboards.
func (d *Dashboard) BroadcastPreview(sessionID string, lines []string) {
	d.broadcast(previewFrame{Type: dashFramePreview, SessionID: sessionID, Lines: lines})
}

func (d *Dashboard) broadcast(frame any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for client := range d.clients {
		client.enqueue(frame)
	}
}

func (d *Dashboard) removeClient(c *dashClient) {
	d.mu.Lock()
	delete(d.clients, c)
	remaining := len(d.clients)
	d.mu.Unlock()
	log.Printf("hub: dashboard client %s disconnected (%d remaining)", c.id, remaining)
}

// ClientCount returns the number of open dashboard connections.
func (d *Dashboard) ClientCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.clients)
}

// stopSession delivers SIGTERM to a registered session's agent. When the
// process is already gone the session is simply unregistered. Shared by the
// internal API and the dashboard stop-session operation.
func stopSession(registry *Registry, info SessionInfo) {
	if err := syscall.Kill(info.PID, syscall.SIGTERM); err != nil {
		log.Printf("hub: stop signal to pid %d failed (%v), unregistering %s", info.PID, err, info.ID)
		registry.Unregister(info.ID)
	}
}

// clientIP extracts the bare IP from a request's remote address.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
