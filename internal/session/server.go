package session

import (
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	// gorilla/websocket provides the WebSocket protocol implementation:
	// upgrades, message framing, ping/pong, close handshakes.
	"github.com/gorilla/websocket"

	"github.com/shrijayan/itwillsync/internal/assets"
	"github.com/shrijayan/itwillsync/internal/auth"
)

// sendBufferSize is the per-client writer mailbox depth. It absorbs output
// bursts; a client whose mailbox fills up is forcibly disconnected so it can
// reconnect and delta-sync, rather than backpressuring the PTY forwarder.
const sendBufferSize = 256

// maxPortScan bounds the upward port scan when the starting port is taken.
const maxPortScan = 100

// resumeGrace is how long a newly upgraded connection may send a resume
// frame before the server pushes the full scrollback snapshot instead.
const resumeGrace = 100 * time.Millisecond

// PTY is the slice of the supervisor the server needs: input and resize.
// Both are no-ops once the agent has exited.
type PTY interface {
	Write(p []byte) (int, error)
	Resize(cols, rows int) error
}

// Config holds the parameters for a session server.
type Config struct {
	// Token is the 64-hex session token clients must present.
	Token string

	// AssetRoot is the directory holding the bundled terminal page.
	AssetRoot string

	// LocalhostOnly binds to 127.0.0.1 instead of all interfaces.
	LocalhostOnly bool

	// StartPort is where the upward port scan begins.
	StartPort int

	// PTY receives client input and resize requests.
	PTY PTY
}

// Server is the per-session HTTP + WebSocket server. It serves the bundled
// terminal page, authenticates WebSocket upgrades against the session token,
// fans PTY output out to every connected client, and answers resume requests
// from the scrollback buffer.
type Server struct {
	cfg        Config
	assets     *assets.Handler
	scrollback *Scrollback
	upgrader   websocket.Upgrader

	listener net.Listener
	httpSrv  *http.Server
	port     int

	// mu guards clients and stopped, and serializes scrollback appends with
	// client snapshots so a new client never misses or duplicates a frame.
	mu      sync.Mutex
	clients map[*Client]bool
	stopped bool
}

// New creates a session server. Call Listen then Start.
func New(cfg Config) *Server {
	return &Server{
		cfg:        cfg,
		assets:     assets.NewHandler(cfg.AssetRoot),
		scrollback: NewScrollback(),
		clients:    make(map[*Client]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The token is the access control; the page may be opened from
			// any origin on the local network.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Listen binds the server socket, scanning upward from the configured
// starting port until a bind succeeds.
func (s *Server) Listen() error {
	host := ""
	if s.cfg.LocalhostOnly {
		host = "127.0.0.1"
	}

	for port := s.cfg.StartPort; port < s.cfg.StartPort+maxPortScan; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, port))
		if err != nil {
			continue
		}
		s.listener = ln
		s.port = port
		return nil
	}
	return fmt.Errorf("session: no free port in range %d-%d", s.cfg.StartPort, s.cfg.StartPort+maxPortScan-1)
}

// Port returns the bound port. Valid after Listen.
func (s *Server) Port() int {
	return s.port
}

// Start begins serving HTTP in a background goroutine.
func (s *Server) Start() {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)

	s.httpSrv = &http.Server{Handler: mux}
	go func() {
		if err := s.httpSrv.Serve(s.listener); err != nil && err != http.ErrServerClosed {
			log.Printf("session: http server stopped: %v", err)
		}
	}()
	log.Printf("session: listening on port %d", s.port)
}

// handleRoot dispatches between WebSocket upgrades and asset requests.
// Clients connect with ws://host:port/?token=..., the same URL the browser
// page is served from.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		s.handleWebSocket(w, r)
		return
	}
	s.assets.ServeHTTP(w, r)
}

// handleWebSocket authenticates and upgrades a client connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if !auth.TokenEqual(s.cfg.Token, token) {
		log.Printf("session: rejected connection with bad token from %s", r.RemoteAddr)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("session: websocket upgrade failed: %v", err)
		return
	}

	client := newClient(s, conn)

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.clients[client] = true
	total := len(s.clients)
	s.mu.Unlock()

	log.Printf("session: client %s connected (%d total)", client.id, total)

	go client.writePump()
	go client.readPump()

	// If the client doesn't ask to resume within the grace period, send the
	// full scrollback so its view reaches parity with the host.
	time.AfterFunc(resumeGrace, client.syncFull)
}

// HandleOutput ingests a chunk of PTY output: append to scrollback, then
// fan out to every synced client in production order. This is the single
// producer for the scrollback buffer (the PTY read goroutine).
func (s *Server) HandleOutput(chunk []byte) {
	data := sanitizeUTF8(string(chunk))

	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.scrollback.Append(data)
	frame := newDataFrame(data, seq)
	for client := range s.clients {
		if client.synced {
			client.enqueue(frame)
		}
	}
}

// BroadcastResize tells all clients the host terminal changed size so
// remote views can match the PTY dimensions.
func (s *Server) BroadcastResize(cols, rows int) {
	frame := newResizeFrame(cols, rows)

	s.mu.Lock()
	defer s.mu.Unlock()
	for client := range s.clients {
		if client.synced {
			client.enqueue(frame)
		}
	}
}

// syncClient delivers the initial scrollback state to a client exactly once.
// resume selects delta-sync from lastSeq; otherwise the full buffer is sent.
// Holding s.mu makes the snapshot atomic with the fan-out set insertion:
// every later output frame carries a seq strictly beyond the snapshot tail.
func (s *Server) syncClient(c *Client, resume bool, lastSeq int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.synced {
		if resume {
			// Late or repeated resume: answer it, view stays consistent
			// because the delta starts past what the client claims to have.
			data, seq := s.scrollback.Since(lastSeq)
			c.enqueue(newDataFrame(data, seq))
		}
		return
	}

	var data string
	var seq int64
	if resume {
		data, seq = s.scrollback.Since(lastSeq)
	} else {
		data, seq = s.scrollback.Snapshot()
	}
	c.enqueue(newDataFrame(data, seq))
	c.synced = true
}

// removeClient drops a client from the fan-out set.
func (s *Server) removeClient(c *Client) {
	s.mu.Lock()
	delete(s.clients, c)
	remaining := len(s.clients)
	s.mu.Unlock()
	log.Printf("session: client %s disconnected (%d remaining)", c.id, remaining)
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Stop shuts the server down: no new connections, all clients closed.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	clients := make([]*Client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.closeSend()
	}
	if s.httpSrv != nil {
		s.httpSrv.Close()
	}
}
