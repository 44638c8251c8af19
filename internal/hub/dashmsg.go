package hub

// dashmsg.go defines the JSON frames on the dashboard WebSocket. Outbound
// frames use concrete structs; inbound frames share one union struct since
// every dashboard operation carries a sessionId plus at most one extra
// field.

// Outbound frame types.
const (
	dashFrameSessions       = "sessions"
	dashFrameSessionAdded   = "session-added"
	dashFrameSessionRemoved = "session-removed"
	dashFrameSessionUpdated = "session-updated"
	dashFramePreview        = "preview"
	dashFrameMetadata       = "metadata"
	dashFrameOperationError = "operation-error"
)

// Inbound operation types.
const (
	dashOpStopSession    = "stop-session"
	dashOpRenameSession  = "rename-session"
	dashOpGetMetadata    = "get-metadata"
	dashOpClearAttention = "clear-attention"
)

type sessionsFrame struct {
	Type     string        `json:"type"`
	Sessions []SessionInfo `json:"sessions"`
}

type sessionAddedFrame struct {
	Type    string      `json:"type"`
	Session SessionInfo `json:"session"`
}

type sessionRemovedFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

type sessionUpdatedFrame struct {
	Type    string      `json:"type"`
	Session SessionInfo `json:"session"`
}

type previewFrame struct {
	Type      string   `json:"type"`
	SessionID string   `json:"sessionId"`
	Lines     []string `json:"lines"`
}

// sessionMetadata is the payload of a metadata frame: process details the
// dashboard shows on demand rather than streaming.
type sessionMetadata struct {
	Session  SessionInfo `json:"session"`
	Memory   int64       `json:"memory"`
	UptimeMs int64       `json:"uptimeMs"`
}

type metadataFrame struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Metadata  sessionMetadata `json:"metadata"`
}

type operationErrorFrame struct {
	Type      string `json:"type"`
	Operation string `json:"operation"`
	SessionID string `json:"sessionId"`
	Error     string `json:"error"`
}

// dashOp is the union of all dashboard-to-hub operations.
type dashOp struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Name      string `json:"name"`
}

func newOperationError(op, sessionID, msg string) operationErrorFrame {
	return operationErrorFrame{
		Type:      dashFrameOperationError,
		Operation: op,
		SessionID: sessionID,
		Error:     msg,
	}
}
