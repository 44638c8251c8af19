package hub

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

const masterToken = "cccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccc"

// fakePreviews is a canned PreviewSource for connect-time replay tests.
type fakePreviews struct {
	data map[string][]string
}

func (f *fakePreviews) Snapshot(id string) []string      { return f.data[id] }
func (f *fakePreviews) SnapshotAll() map[string][]string { return f.data }

func newTestDashboard(t *testing.T, previews PreviewSource) (*Dashboard, *Registry, *httptest.Server) {
	t.Helper()
	r := NewRegistry()
	assetDir := t.TempDir()
	os.WriteFile(filepath.Join(assetDir, "index.html"), []byte("<html>dash</html>"), 0644)
	os.MkdirAll(filepath.Join(assetDir, "assets"), 0755)
	os.WriteFile(filepath.Join(assetDir, "assets", "app.js"), []byte("// app"), 0644)

	d := NewDashboard(r, DashboardConfig{
		MasterToken: masterToken,
		AssetRoot:   assetDir,
		Previews:    previews,
	})
	r.Watch(d.BroadcastEvent)
	r.Start()
	t.Cleanup(r.Stop)

	srv := httptest.NewServer(http.HandlerFunc(d.handleRoot))
	t.Cleanup(srv.Close)
	t.Cleanup(d.Stop)
	return d, r, srv
}

func dialDashboard(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dashboard dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readFrame decodes the next frame into a generic map.
func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var frame map[string]any
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("failed to read dashboard frame: %v", err)
	}
	return frame
}

// readFrameOfType skips frames until one of the wanted type arrives.
func readFrameOfType(t *testing.T, conn *websocket.Conn, frameType string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		frame := readFrame(t, conn)
		if frame["type"] == frameType {
			return frame
		}
	}
	t.Fatalf("no %q frame arrived", frameType)
	return nil
}

func TestDashboard_PageRequiresToken(t *testing.T) {
	_, _, srv := newTestDashboard(t, nil)

	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token: expected 401, got %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/?token=" + masterToken)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("valid token: expected 200, got %d", resp.StatusCode)
	}
}

func TestDashboard_AssetsExemptFromAuth(t *testing.T) {
	_, _, srv := newTestDashboard(t, nil)

	resp, err := http.Get(srv.URL + "/assets/app.js")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("assets should not require auth, got %d", resp.StatusCode)
	}
}

func TestDashboard_RateLimiting(t *testing.T) {
	_, _, srv := newTestDashboard(t, nil)

	badToken := strings.Repeat("d", 64)
	for i := 0; i < 5; i++ {
		resp, err := http.Get(srv.URL + "/?token=" + badToken)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i+1, resp.StatusCode)
		}
	}

	// Sixth bad request: blocked.
	resp, err := http.Get(srv.URL + "/?token=" + badToken)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected 429 after five failures, got %d", resp.StatusCode)
	}

	// Even the correct token is rejected during the block window.
	resp, err = http.Get(srv.URL + "/?token=" + masterToken)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("correct token during block: expected 429, got %d", resp.StatusCode)
	}
}

func TestDashboard_BlockedUpgradeGets429(t *testing.T) {
	d, _, srv := newTestDashboard(t, nil)

	// Exhaust the failure budget directly.
	for i := 0; i < 5; i++ {
		d.limiter.RecordFailure("127.0.0.1")
	}

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?token=" + masterToken
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected upgrade to fail while blocked")
	}
	if resp == nil || resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected 429 on blocked upgrade, got %+v", resp)
	}
}

func TestDashboard_ConnectSendsSessionsThenPreviews(t *testing.T) {
	previews := &fakePreviews{data: map[string][]string{}}
	_, r, srv := newTestDashboard(t, previews)

	info := r.Register(testRegistration())
	previews.data[info.ID] = []string{"compiling...", "done"}

	conn := dialDashboard(t, srv, masterToken)

	frame := readFrame(t, conn)
	if frame["type"] != "sessions" {
		t.Fatalf("first frame should be sessions, got %v", frame["type"])
	}
	sessions := frame["sessions"].([]any)
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session in the initial list, got %d", len(sessions))
	}

	frame = readFrameOfType(t, conn, "preview")
	if frame["sessionId"] != info.ID {
		t.Errorf("preview replay for wrong session %v", frame["sessionId"])
	}
	lines := frame["lines"].([]any)
	if len(lines) != 2 || lines[0] != "compiling..." {
		t.Errorf("unexpected replayed lines %v", lines)
	}
}

func TestDashboard_RegistryEventsBridged(t *testing.T) {
	_, r, srv := newTestDashboard(t, nil)
	conn := dialDashboard(t, srv, masterToken)
	readFrameOfType(t, conn, "sessions")

	info := r.Register(testRegistration())
	frame := readFrameOfType(t, conn, "session-added")
	session := frame["session"].(map[string]any)
	if session["id"] != info.ID {
		t.Errorf("session-added for wrong session %v", session["id"])
	}

	r.Rename(info.ID, "renamed")
	frame = readFrameOfType(t, conn, "session-updated")
	if frame["session"].(map[string]any)["name"] != "renamed" {
		t.Error("session-updated should carry the new name")
	}

	r.Unregister(info.ID)
	frame = readFrameOfType(t, conn, "session-removed")
	if frame["sessionId"] != info.ID {
		t.Errorf("session-removed for wrong session %v", frame["sessionId"])
	}
}

func TestDashboard_RenameOperation(t *testing.T) {
	_, r, srv := newTestDashboard(t, nil)
	info := r.Register(testRegistration())

	conn := dialDashboard(t, srv, masterToken)
	readFrameOfType(t, conn, "sessions")

	op, _ := json.Marshal(map[string]string{"type": "rename-session", "sessionId": info.ID, "name": "  fresh name "})
	if err := conn.WriteMessage(websocket.TextMessage, op); err != nil {
		t.Fatal(err)
	}

	frame := readFrameOfType(t, conn, "session-updated")
	if got := frame["session"].(map[string]any)["name"]; got != "fresh name" {
		t.Errorf("expected trimmed rename, got %v", got)
	}
}

func TestDashboard_OperationErrorForUnknownSession(t *testing.T) {
	_, _, srv := newTestDashboard(t, nil)
	conn := dialDashboard(t, srv, masterToken)
	readFrameOfType(t, conn, "sessions")

	op, _ := json.Marshal(map[string]string{"type": "stop-session", "sessionId": "ffffffffffffffff"})
	if err := conn.WriteMessage(websocket.TextMessage, op); err != nil {
		t.Fatal(err)
	}

	frame := readFrameOfType(t, conn, "operation-error")
	if frame["operation"] != "stop-session" {
		t.Errorf("operation-error names %v", frame["operation"])
	}
	if frame["sessionId"] != "ffffffffffffffff" {
		t.Errorf("operation-error for wrong session %v", frame["sessionId"])
	}
}

func TestDashboard_ClearAttention(t *testing.T) {
	_, r, srv := newTestDashboard(t, nil)
	info := r.Register(testRegistration())
	r.MarkAttention(info.ID)

	conn := dialDashboard(t, srv, masterToken)
	readFrameOfType(t, conn, "sessions")

	op, _ := json.Marshal(map[string]string{"type": "clear-attention", "sessionId": info.ID})
	if err := conn.WriteMessage(websocket.TextMessage, op); err != nil {
		t.Fatal(err)
	}

	frame := readFrameOfType(t, conn, "session-updated")
	if got := frame["session"].(map[string]any)["status"]; got != "active" {
		t.Errorf("expected active after clear-attention, got %v", got)
	}
}

func TestDashboard_GetMetadata(t *testing.T) {
	_, r, srv := newTestDashboard(t, nil)
	reg := testRegistration()
	reg.PID = os.Getpid()
	info := r.Register(reg)

	conn := dialDashboard(t, srv, masterToken)
	readFrameOfType(t, conn, "sessions")

	op, _ := json.Marshal(map[string]string{"type": "get-metadata", "sessionId": info.ID})
	if err := conn.WriteMessage(websocket.TextMessage, op); err != nil {
		t.Fatal(err)
	}

	frame := readFrameOfType(t, conn, "metadata")
	if frame["sessionId"] != info.ID {
		t.Errorf("metadata for wrong session %v", frame["sessionId"])
	}
	metadata := frame["metadata"].(map[string]any)
	if metadata["uptimeMs"] == nil {
		t.Error("metadata should include uptimeMs")
	}
}

func TestDashboard_PreviewBroadcast(t *testing.T) {
	d, _, srv := newTestDashboard(t, nil)
	conn := dialDashboard(t, srv, masterToken)
	readFrameOfType(t, conn, "sessions")

	d.BroadcastPreview("abcd000000000000", []string{"line one", "line two"})

	frame := readFrameOfType(t, conn, "preview")
	lines := frame["lines"].([]any)
	if len(lines) != 2 || lines[1] != "line two" {
		t.Errorf("unexpected preview lines %v", lines)
	}
}

func TestDashboard_MultipleClientsReceiveBroadcasts(t *testing.T) {
	_, r, srv := newTestDashboard(t, nil)

	connA := dialDashboard(t, srv, masterToken)
	connB := dialDashboard(t, srv, masterToken)
	readFrameOfType(t, connA, "sessions")
	readFrameOfType(t, connB, "sessions")

	r.Register(testRegistration())

	for i, conn := range []*websocket.Conn{connA, connB} {
		frame := readFrameOfType(t, conn, "session-added")
		if frame["session"] == nil {
			t.Errorf("client %d: session-added without payload", i)
		}
	}
}

func TestDashboard_ShutdownEndpoint(t *testing.T) {
	r := NewRegistry()
	r.Start()
	defer r.Stop()

	called := make(chan struct{}, 1)
	assetDir := t.TempDir()
	d := NewDashboard(r, DashboardConfig{
		MasterToken:       masterToken,
		AssetRoot:         assetDir,
		OnShutdownRequest: func() { called <- struct{}{} },
	})
	srv := httptest.NewServer(http.HandlerFunc(d.handleRoot))
	defer srv.Close()
	defer d.Stop()

	resp, err := http.Post(fmt.Sprintf("%s/shutdown?token=%s", srv.URL, masterToken), "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Error("shutdown callback was not invoked")
	}
}
