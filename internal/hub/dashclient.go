package hub

// dashclient.go holds the per-dashboard-connection pumps and the handlers
// for dashboard-issued operations (stop, rename, metadata, clear-attention).

import (
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// dashSendBuffer is the writer mailbox depth per dashboard connection.
const dashSendBuffer = 256

// dashClient is one open dashboard WebSocket.
type dashClient struct {
	id        string
	conn      *websocket.Conn
	dashboard *Dashboard

	send     chan any
	done     chan struct{}
	doneOnce sync.Once
}

func newDashClient(d *Dashboard, conn *websocket.Conn) *dashClient {
	return &dashClient{
		id:        uuid.NewString(),
		conn:      conn,
		dashboard: d,
		send:      make(chan any, dashSendBuffer),
		done:      make(chan struct{}),
	}
}

// enqueue queues a frame; a dashboard that can't keep up is disconnected
// and reconnects with a fresh session list.
func (c *dashClient) enqueue(frame any) {
	select {
	case <-c.done:
	case c.send <- frame:
	default:
		log.Printf("hub: dashboard client %s send buffer full, disconnecting", c.id)
		c.closeSend()
	}
}

func (c *dashClient) closeSend() {
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *dashClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			data, err := json.Marshal(frame)
			if err != nil {
				log.Printf("hub: failed to marshal dashboard frame: %v", err)
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *dashClient) readPump() {
	defer func() {
		c.dashboard.removeClient(c)
		c.closeSend()
	}()

	c.conn.SetReadLimit(64 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("hub: dashboard client %s read error: %v", c.id, err)
			}
			return
		}

		var op dashOp
		if err := json.Unmarshal(data, &op); err != nil {
			continue
		}

		switch op.Type {
		case dashOpStopSession:
			c.handleStopSession(op)
		case dashOpRenameSession:
			c.handleRenameSession(op)
		case dashOpGetMetadata:
			c.handleGetMetadata(op)
		case dashOpClearAttention:
			c.handleClearAttention(op)
		default:
			// Unknown operations are dropped.
		}
	}
}

func (c *dashClient) handleStopSession(op dashOp) {
	registry := c.dashboard.registry
	info, ok := registry.GetByID(op.SessionID)
	if !ok {
		c.enqueue(newOperationError(op.Type, op.SessionID, "unknown session"))
		return
	}
	stopSession(registry, info)
}

func (c *dashClient) handleRenameSession(op dashOp) {
	name := strings.TrimSpace(op.Name)
	if name == "" {
		c.enqueue(newOperationError(op.Type, op.SessionID, "missing name"))
		return
	}
	if _, ok := c.dashboard.registry.Rename(op.SessionID, name); !ok {
		c.enqueue(newOperationError(op.Type, op.SessionID, "unknown session"))
	}
	// Success is observed through the session-updated broadcast.
}

func (c *dashClient) handleGetMetadata(op dashOp) {
	info, ok := c.dashboard.registry.GetByID(op.SessionID)
	if !ok {
		c.enqueue(newOperationError(op.Type, op.SessionID, "unknown session"))
		return
	}
	c.enqueue(metadataFrame{
		Type:      dashFrameMetadata,
		SessionID: op.SessionID,
		Metadata: sessionMetadata{
			Session:  info,
			Memory:   residentMemory(info.PID),
			UptimeMs: time.Now().UnixMilli() - info.ConnectedAt,
		},
	})
}

func (c *dashClient) handleClearAttention(op dashOp) {
	if !c.dashboard.registry.ClearAttention(op.SessionID) {
		c.enqueue(newOperationError(op.Type, op.SessionID, "unknown session"))
	}
}
