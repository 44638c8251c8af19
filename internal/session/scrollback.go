// Package session implements the per-session server: it serves the bundled
// browser terminal over HTTP, fans PTY output out to any number of WebSocket
// clients, applies client input and resizes to the PTY, and keeps a bounded
// scrollback so reconnecting clients can delta-sync instead of starting from
// a blank screen.
package session

import (
	"sync"
)

// ScrollbackLimit caps the scrollback buffer at 50 000 characters. Enough to
// repaint a full screen plus recent history on reconnect without letting a
// chatty agent grow server memory without bound.
const ScrollbackLimit = 50000

// Scrollback is the bounded history of PTY output. Each append advances a
// monotonic sequence counter equal to the cumulative number of characters
// ever emitted; the buffer itself is trimmed from the front once it exceeds
// ScrollbackLimit, so old sequence numbers may fall off the head.
type Scrollback struct {
	mu sync.Mutex
	// seq is the cumulative character count as of the buffer tail.
	seq int64
	// data holds the retained tail of the output stream.
	data []byte
}

// NewScrollback creates an empty scrollback buffer.
func NewScrollback() *Scrollback {
	return &Scrollback{}
}

// Append adds a chunk of output and returns the sequence number as of the
// end of this chunk (cumulative character count including it).
func (s *Scrollback) Append(chunk string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq += int64(len(chunk))
	s.data = append(s.data, chunk...)
	if excess := len(s.data) - ScrollbackLimit; excess > 0 {
		s.data = s.data[excess:]
	}
	return s.seq
}

// Snapshot returns the full retained buffer and the sequence number of its
// tail. A new client is sent exactly this before it joins the live fan-out.
func (s *Scrollback) Snapshot() (data string, seq int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.data), s.seq
}

// Since returns the buffered output after lastSeq, for resume requests.
// If the buffer has already been trimmed past lastSeq the whole retained
// buffer is returned; the client observes a gap rather than an error.
func (s *Scrollback) Since(lastSeq int64) (data string, seq int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	head := s.seq - int64(len(s.data))
	switch {
	case lastSeq >= s.seq:
		return "", s.seq
	case lastSeq < head:
		return string(s.data), s.seq
	default:
		return string(s.data[lastSeq-head:]), s.seq
	}
}

// Seq returns the current tail sequence number.
func (s *Scrollback) Seq() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}
