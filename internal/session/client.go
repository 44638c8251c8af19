package session

// client.go holds the per-connection reader and writer goroutines. Each
// client gets a buffered writer mailbox so a slow phone on a weak signal
// can never stall the PTY forwarder or other clients.

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	// pingInterval is how often the server pings each client.
	pingInterval = 30 * time.Second

	// pongWait is how long to wait for any read (including pongs) before
	// declaring the connection dead. Two ping intervals.
	pongWait = 60 * time.Second

	// writeWait bounds each individual write to the socket.
	writeWait = 10 * time.Second

	// maxMessageSize caps inbound frames. Terminal input is small; anything
	// bigger is a misbehaving client.
	maxMessageSize = 64 * 1024
)

// Client is one WebSocket connection to the session server.
type Client struct {
	id     string
	conn   *websocket.Conn
	server *Server

	// send is the writer mailbox. Frames are marshaled in writePump.
	send chan any

	// done signals shutdown to writePump. Closed exactly once.
	done     chan struct{}
	doneOnce sync.Once

	// synced is true once the initial scrollback state has been delivered.
	// Guarded by server.mu.
	synced bool

	// inputLimiter throttles terminal input so a runaway client can't
	// flood the PTY. 1000 messages/sec with a small burst.
	inputLimiter *rate.Limiter
}

func newClient(s *Server, conn *websocket.Conn) *Client {
	return &Client{
		id:           uuid.NewString(),
		conn:         conn,
		server:       s,
		send:         make(chan any, sendBufferSize),
		done:         make(chan struct{}),
		inputLimiter: rate.NewLimiter(rate.Limit(1000), 10),
	}
}

// enqueue queues a frame for delivery. If the mailbox is full the client is
// forcibly disconnected: it can reconnect and delta-sync, which is cheaper
// than letting it silently miss frames mid-stream.
func (c *Client) enqueue(frame any) {
	select {
	case <-c.done:
	case c.send <- frame:
	default:
		log.Printf("session: client %s send buffer full, disconnecting", c.id)
		c.closeSend()
	}
}

// closeSend signals shutdown exactly once. Safe from any goroutine.
func (c *Client) closeSend() {
	c.doneOnce.Do(func() {
		close(c.done)
	})
}

// syncFull pushes the entire scrollback if the client hasn't resumed yet.
// Fired by a timer shortly after connect.
func (c *Client) syncFull() {
	c.server.syncClient(c, false, 0)
}

// writePump drains the mailbox onto the socket and sends periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			data, err := json.Marshal(frame)
			if err != nil {
				log.Printf("session: failed to marshal frame: %v", err)
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes client frames until the connection dies, then removes
// the client from the fan-out set.
func (c *Client) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.closeSend()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("session: client %s read error: %v", c.id, err)
			}
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			// Malformed frames are silently dropped per the protocol.
			continue
		}

		switch frame.Type {
		case FrameTypeInput:
			if !c.inputLimiter.Allow() || c.server.cfg.PTY == nil {
				continue
			}
			// Forwarded byte-for-byte; a write after agent exit is a no-op.
			c.server.cfg.PTY.Write([]byte(frame.Data))

		case FrameTypeResize:
			if frame.Cols > 0 && frame.Rows > 0 && c.server.cfg.PTY != nil {
				c.server.cfg.PTY.Resize(frame.Cols, frame.Rows)
			}

		case FrameTypeResume:
			c.server.syncClient(c, true, frame.LastSeq)

		default:
			// Unknown types are dropped.
		}
	}
}
