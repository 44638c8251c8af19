package session

// message.go defines the JSON frames exchanged with terminal clients.
// One JSON value per WebSocket text frame, flat structure, a "type"
// discriminator field.

import "unicode/utf8"

// Frame types sent by clients.
const (
	// FrameTypeInput carries keystrokes to forward into the PTY.
	FrameTypeInput = "input"

	// FrameTypeResize asks the server to resize the PTY.
	FrameTypeResize = "resize"

	// FrameTypeResume requests delta-sync after a reconnect. The server
	// replies with the buffered output past lastSeq.
	FrameTypeResume = "resume"
)

// Frame types sent to clients.
const (
	// FrameTypeData carries PTY output with its tail sequence number.
	FrameTypeData = "data"
	// resize is also broadcast server-to-client when the host terminal's
	// size changes; it reuses FrameTypeResize.
)

// clientFrame is the union of all client-to-server frames. Unknown or
// malformed frames are silently dropped per the protocol.
type clientFrame struct {
	Type    string `json:"type"`
	Data    string `json:"data"`
	Cols    int    `json:"cols"`
	Rows    int    `json:"rows"`
	LastSeq int64  `json:"lastSeq"`
}

// dataFrame is a server-to-client output frame. Seq equals the cumulative
// character count as of the end of this frame.
type dataFrame struct {
	Type string `json:"type"`
	Data string `json:"data"`
	Seq  int64  `json:"seq"`
}

// resizeFrame tells remote clients to match the host PTY dimensions.
type resizeFrame struct {
	Type string `json:"type"`
	Cols int    `json:"cols"`
	Rows int    `json:"rows"`
}

func newDataFrame(data string, seq int64) dataFrame {
	return dataFrame{Type: FrameTypeData, Data: data, Seq: seq}
}

func newResizeFrame(cols, rows int) resizeFrame {
	return resizeFrame{Type: FrameTypeResize, Cols: cols, Rows: rows}
}

// sanitizeUTF8 replaces invalid byte sequences with the Unicode replacement
// character. PTY output can contain arbitrary bytes, but the frames travel
// as JSON, which requires valid UTF-8.
func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	result := make([]rune, 0, len(s))
	for len(s) > 0 {
		r, size := utf8.DecodeRuneInString(s)
		result = append(result, r)
		s = s[size:]
	}
	return string(result)
}
