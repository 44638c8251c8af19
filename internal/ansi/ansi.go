// Package ansi strips terminal control sequences from PTY output and detects
// in-band attention signals (bell, OSC notification sequences).
//
// The preview collector runs every received chunk through this package: first
// the attention scan over the raw bytes, then Strip to derive the plain text
// shown on the dashboard.
package ansi

import "strings"

const (
	esc = 0x1b
	bel = 0x07
)

// Strip removes terminal control sequences from s and returns the remaining
// plain text. It handles:
//
//   - CSI sequences: ESC [ ... <final byte in 0x40-0x7E>
//   - OSC sequences: ESC ] ... terminated by BEL or ST (ESC \)
//   - two-byte escapes such as character-set designators: ESC ( B
//   - lone single-character escapes: ESC 7, ESC =
//   - bare carriage returns
//
// Strip is idempotent: control-free text passes through unchanged.
func Strip(s string) string {
	var out strings.Builder
	out.Grow(len(s))

	for i := 0; i < len(s); {
		c := s[i]

		if c == '\r' {
			i++
			continue
		}

		if c != esc {
			out.WriteByte(c)
			i++
			continue
		}

		// Escape sequence. Look at the introducer byte.
		if i+1 >= len(s) {
			// Trailing ESC with nothing after it.
			break
		}

		switch s[i+1] {
		case '[':
			// CSI: parameters and intermediates are 0x20-0x3F, the final
			// byte is 0x40-0x7E.
			j := i + 2
			for j < len(s) && (s[j] < 0x40 || s[j] > 0x7e) {
				j++
			}
			if j < len(s) {
				j++ // consume the final byte
			}
			i = j
		case ']':
			// OSC: runs to BEL or ST.
			_, end := scanOSC(s, i)
			i = end
		case '(', ')', '*', '+', '#', '%':
			// Two-byte escape: the designator plus one payload byte.
			i += 3
		default:
			// Lone single-character escape (ESC 7, ESC =, ESC M, ...).
			i += 2
		}
	}

	return out.String()
}

// ContainsAttention reports whether the raw chunk carries an attention
// signal: a non-progress OSC 9 sequence, OSC 99, OSC 777, or a standalone
// BEL. BEL bytes that terminate an OSC sequence are part of that sequence
// and do not count as standalone.
//
// iTerm-style progress bars are emitted as OSC "9;4;..." frames; agents use
// them constantly while working, so they are explicitly not attention.
func ContainsAttention(raw string) bool {
	for i := 0; i < len(raw); {
		c := raw[i]

		if c == bel {
			// BEL outside any OSC sequence.
			return true
		}

		if c == esc && i+1 < len(raw) && raw[i+1] == ']' {
			payload, end := scanOSC(raw, i)
			if oscIsAttention(payload) {
				return true
			}
			i = end
			continue
		}

		i++
	}
	return false
}

// scanOSC consumes an OSC sequence starting at raw[start] (which must be
// ESC). It returns the payload between "ESC ]" and the terminator, and the
// index of the first byte after the sequence. An unterminated OSC runs to
// the end of the chunk.
func scanOSC(raw string, start int) (payload string, end int) {
	j := start + 2
	for j < len(raw) {
		if raw[j] == bel {
			return raw[start+2 : j], j + 1
		}
		if raw[j] == esc && j+1 < len(raw) && raw[j+1] == '\\' {
			return raw[start+2 : j], j + 2
		}
		j++
	}
	return raw[start+2:], len(raw)
}

// oscIsAttention classifies an OSC payload. The leading number selects the
// command: 9 (notification, unless it's the 9;4 progress variant), 99 (kitty
// notification), 777 (urgency notification).
func oscIsAttention(payload string) bool {
	num := payload
	rest := ""
	if idx := strings.IndexByte(payload, ';'); idx >= 0 {
		num = payload[:idx]
		rest = payload[idx+1:]
	}

	switch num {
	case "9":
		// OSC 9;4;... is an iTerm progress frame, not a notification.
		if rest == "4" || strings.HasPrefix(rest, "4;") {
			return false
		}
		return true
	case "99", "777":
		return true
	}
	return false
}
