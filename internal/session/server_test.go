package session

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakePTY records input and resize calls so tests can assert the server
// forwarded them.
type fakePTY struct {
	mu      sync.Mutex
	input   []byte
	resizes [][2]int
}

func (f *fakePTY) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.input = append(f.input, p...)
	return len(p), nil
}

func (f *fakePTY) Resize(cols, rows int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resizes = append(f.resizes, [2]int{cols, rows})
	return nil
}

func (f *fakePTY) inputString() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return string(f.input)
}

func (f *fakePTY) lastResize() ([2]int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.resizes) == 0 {
		return [2]int{}, false
	}
	return f.resizes[len(f.resizes)-1], true
}

const testToken = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

// startTestServer spins up a session server on an ephemeral port with a
// minimal asset bundle.
func startTestServer(t *testing.T, pty *fakePTY) *Server {
	t.Helper()

	assetDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(assetDir, "index.html"), []byte("<html>term</html>"), 0644); err != nil {
		t.Fatal(err)
	}

	srv := New(Config{
		Token:         testToken,
		AssetRoot:     assetDir,
		LocalhostOnly: true,
		StartPort:     30000,
		PTY:           pty,
	})
	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	srv.Start()
	t.Cleanup(srv.Stop)
	return srv
}

func dial(t *testing.T, srv *Server, token string) *websocket.Conn {
	t.Helper()
	url := fmt.Sprintf("ws://127.0.0.1:%d/?token=%s", srv.Port(), token)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readDataFrame reads frames until it sees a data frame or times out.
func readDataFrame(t *testing.T, conn *websocket.Conn) dataFrame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var frame dataFrame
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("failed to read frame: %v", err)
		}
		if frame.Type == FrameTypeData {
			return frame
		}
	}
}

func TestServer_RejectsBadToken(t *testing.T) {
	srv := startTestServer(t, &fakePTY{})

	url := fmt.Sprintf("ws://127.0.0.1:%d/?token=%s", srv.Port(), strings.Repeat("b", 64))
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected upgrade to fail with a bad token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 response, got %+v", resp)
	}
}

func TestServer_RejectsMissingToken(t *testing.T) {
	srv := startTestServer(t, &fakePTY{})

	url := fmt.Sprintf("ws://127.0.0.1:%d/", srv.Port())
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected upgrade to fail without a token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 response, got %+v", resp)
	}
}

func TestServer_ServesAssets(t *testing.T) {
	srv := startTestServer(t, &fakePTY{})

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/", srv.Port()))
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Errorf("expected 200 for index, got %d", resp.StatusCode)
	}
}

func TestServer_NewClientGetsEmptySnapshotThenLiveFrames(t *testing.T) {
	srv := startTestServer(t, &fakePTY{})
	conn := dial(t, srv, testToken)

	// Initial snapshot: empty buffer, seq 0.
	frame := readDataFrame(t, conn)
	if frame.Data != "" || frame.Seq != 0 {
		t.Errorf("initial snapshot = (%q, %d), want (\"\", 0)", frame.Data, frame.Seq)
	}

	srv.HandleOutput([]byte("hello"))
	frame = readDataFrame(t, conn)
	if frame.Data != "hello" || frame.Seq != 5 {
		t.Errorf("live frame = (%q, %d), want (%q, 5)", frame.Data, frame.Seq, "hello")
	}
}

func TestServer_NewClientGetsFullScrollback(t *testing.T) {
	srv := startTestServer(t, &fakePTY{})

	srv.HandleOutput([]byte("history "))
	srv.HandleOutput([]byte("lines"))

	conn := dial(t, srv, testToken)
	frame := readDataFrame(t, conn)
	if frame.Data != "history lines" || frame.Seq != 13 {
		t.Errorf("snapshot = (%q, %d), want (%q, 13)", frame.Data, frame.Seq, "history lines")
	}
}

func TestServer_SeqStrictlyMonotonic(t *testing.T) {
	srv := startTestServer(t, &fakePTY{})
	conn := dial(t, srv, testToken)
	readDataFrame(t, conn) // initial snapshot

	var assembled strings.Builder
	go func() {
		for i := 0; i < 20; i++ {
			srv.HandleOutput([]byte(fmt.Sprintf("chunk-%02d;", i)))
		}
	}()

	var lastSeq int64
	for assembled.Len() < 20*len("chunk-00;") {
		frame := readDataFrame(t, conn)
		if frame.Seq <= lastSeq {
			t.Fatalf("seq not strictly increasing: %d after %d", frame.Seq, lastSeq)
		}
		if frame.Seq != lastSeq+int64(len(frame.Data)) {
			t.Fatalf("seq %d is not cumulative (last %d + %d chars)", frame.Seq, lastSeq, len(frame.Data))
		}
		lastSeq = frame.Seq
		assembled.WriteString(frame.Data)
	}

	// Every emitted chunk appears in the received stream.
	for i := 0; i < 20; i++ {
		want := fmt.Sprintf("chunk-%02d;", i)
		if !strings.Contains(assembled.String(), want) {
			t.Errorf("assembled stream missing %q", want)
		}
	}
}

func TestServer_ResumeDeltaSync(t *testing.T) {
	srv := startTestServer(t, &fakePTY{})

	// Emit 1000 chars, then disconnect-state: a fresh connection resumes.
	srv.HandleOutput([]byte(strings.Repeat("a", 1000)))
	srv.HandleOutput([]byte(strings.Repeat("b", 500)))

	conn := dial(t, srv, testToken)
	resume, _ := json.Marshal(map[string]any{"type": "resume", "lastSeq": 1000})
	if err := conn.WriteMessage(websocket.TextMessage, resume); err != nil {
		t.Fatalf("failed to send resume: %v", err)
	}

	frame := readDataFrame(t, conn)
	if frame.Seq != 1500 {
		t.Errorf("expected first frame seq 1500, got %d", frame.Seq)
	}
	if len(frame.Data) != 500 {
		t.Errorf("expected payload length 500, got %d", len(frame.Data))
	}
	if frame.Data != strings.Repeat("b", 500) {
		t.Error("resume delta content mismatch")
	}
}

func TestServer_InputForwardedToPTY(t *testing.T) {
	pty := &fakePTY{}
	srv := startTestServer(t, pty)
	conn := dial(t, srv, testToken)
	readDataFrame(t, conn)

	input, _ := json.Marshal(map[string]any{"type": "input", "data": "echo hi\n"})
	if err := conn.WriteMessage(websocket.TextMessage, input); err != nil {
		t.Fatalf("failed to send input: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if pty.inputString() == "echo hi\n" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("PTY input = %q, want %q", pty.inputString(), "echo hi\n")
}

func TestServer_ResizeAppliedToPTY(t *testing.T) {
	pty := &fakePTY{}
	srv := startTestServer(t, pty)
	conn := dial(t, srv, testToken)
	readDataFrame(t, conn)

	msg, _ := json.Marshal(map[string]any{"type": "resize", "cols": 120, "rows": 40})
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		t.Fatalf("failed to send resize: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if size, ok := pty.lastResize(); ok {
			if size != [2]int{120, 40} {
				t.Fatalf("resize = %v, want [120 40]", size)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("resize never reached the PTY")
}

func TestServer_MalformedFrameSilentlyDropped(t *testing.T) {
	pty := &fakePTY{}
	srv := startTestServer(t, pty)
	conn := dial(t, srv, testToken)
	readDataFrame(t, conn)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("failed to send garbage: %v", err)
	}

	// The connection must survive and keep delivering output.
	srv.HandleOutput([]byte("still here"))
	frame := readDataFrame(t, conn)
	if frame.Data != "still here" {
		t.Errorf("expected output after malformed frame, got %q", frame.Data)
	}
}

func TestServer_ResizeBroadcastToClients(t *testing.T) {
	srv := startTestServer(t, &fakePTY{})
	conn := dial(t, srv, testToken)
	readDataFrame(t, conn)

	srv.BroadcastResize(100, 30)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame resizeFrame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("failed to read resize frame: %v", err)
	}
	if frame.Type != FrameTypeResize || frame.Cols != 100 || frame.Rows != 30 {
		t.Errorf("resize frame = %+v, want resize 100x30", frame)
	}
}

func TestServer_MultipleClientsAllReceiveOutput(t *testing.T) {
	srv := startTestServer(t, &fakePTY{})

	connA := dial(t, srv, testToken)
	connB := dial(t, srv, testToken)
	readDataFrame(t, connA)
	readDataFrame(t, connB)

	srv.HandleOutput([]byte("fanout"))

	for _, conn := range []*websocket.Conn{connA, connB} {
		frame := readDataFrame(t, conn)
		if frame.Data != "fanout" {
			t.Errorf("client got %q, want %q", frame.Data, "fanout")
		}
	}
}

func TestServer_PortScanSkipsTakenPort(t *testing.T) {
	pty := &fakePTY{}
	first := startTestServer(t, pty)
	second := startTestServer(t, pty)

	if first.Port() == second.Port() {
		t.Errorf("both servers bound port %d", first.Port())
	}
	if second.Port() <= first.Port() {
		t.Errorf("expected upward scan, got %d then %d", first.Port(), second.Port())
	}
}
