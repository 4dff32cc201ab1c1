package ws

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/auth"
	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/registry"
)

func newTestServer(t *testing.T, policy string) (*httptest.Server, *registry.Registry) {
	t.Helper()
	reg := registry.New(policy, nil)
	h := NewHandler(auth.HeaderResolver{}, reg, HandlerConfig{
		Origins:   []string{"http://localhost:4200"},
		WriteWait: time.Second,
		PongWait:  5 * time.Second,
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv, reg
}

func dial(t *testing.T, srv *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	header := http.Header{}
	header.Set(auth.DefaultUserHeader, userID)
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial failed (status %d): %v", status, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestHandler_RejectsUnauthenticated(t *testing.T) {
	srv, reg := newTestServer(t, registry.PolicyReplace)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected the handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", resp)
	}
	if reg.Count() != 0 {
		t.Error("nothing should be registered")
	}
}

func TestHandler_RejectsForeignOrigin(t *testing.T) {
	srv, _ := newTestServer(t, registry.PolicyReplace)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	header := http.Header{}
	header.Set(auth.DefaultUserHeader, "alice")
	header.Set("Origin", "https://evil.example")

	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Fatal("expected the handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", resp)
	}
}

func TestHandler_PushReachesClient(t *testing.T) {
	srv, reg := newTestServer(t, registry.PolicyReplace)
	conn := dial(t, srv, "alice")
	waitFor(t, func() bool { return reg.Online("alice") })

	payload := map[string]any{"id": "n-1", "title": "Hello", "isRead": false}
	if n := reg.Push("alice", "newNotification", payload); n != 1 {
		t.Fatalf("expected 1 delivery, got %d", n)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var frame struct {
		Event string         `json:"event"`
		Data  map[string]any `json:"data"`
	}
	if err := json.Unmarshal(msg, &frame); err != nil {
		t.Fatalf("decode %s: %v", msg, err)
	}
	if frame.Event != "newNotification" || frame.Data["id"] != "n-1" || frame.Data["title"] != "Hello" {
		t.Errorf("unexpected frame %s", msg)
	}
}

func TestHandler_DisconnectUnregisters(t *testing.T) {
	srv, reg := newTestServer(t, registry.PolicyReplace)
	conn := dial(t, srv, "alice")
	waitFor(t, func() bool { return reg.Online("alice") })

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()
	waitFor(t, func() bool { return !reg.Online("alice") })
}

func TestHandler_SecondConnectionReplacesFirst(t *testing.T) {
	srv, reg := newTestServer(t, registry.PolicyReplace)
	first := dial(t, srv, "alice")
	waitFor(t, func() bool { return reg.Online("alice") })
	firstChan := reg.Lookup("alice")[0]

	second := dial(t, srv, "alice")
	waitFor(t, func() bool {
		chans := reg.Lookup("alice")
		return len(chans) == 1 && chans[0] != firstChan
	})

	// The superseded connection is closed by the server.
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := first.ReadMessage(); err == nil {
		t.Error("expected the first connection to be closed")
	}

	if n := reg.Push("alice", "newNotification", map[string]string{"id": "n-2"}); n != 1 {
		t.Fatalf("expected 1 delivery, got %d", n)
	}
	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, msg, err := second.ReadMessage(); err != nil || !strings.Contains(string(msg), "n-2") {
		t.Errorf("second connection should receive the push, got %s (%v)", msg, err)
	}
	if reg.Count() != 1 {
		t.Errorf("expected 1 live channel, got %d", reg.Count())
	}
}

func TestHandler_MultiPolicyKeepsBoth(t *testing.T) {
	srv, reg := newTestServer(t, registry.PolicyMulti)
	a := dial(t, srv, "bob")
	b := dial(t, srv, "bob")
	waitFor(t, func() bool { return len(reg.Lookup("bob")) == 2 })

	if n := reg.Push("bob", "newNotification", map[string]string{"id": "n-3"}); n != 2 {
		t.Fatalf("expected 2 deliveries, got %d", n)
	}
	for _, c := range []*websocket.Conn{a, b} {
		c.SetReadDeadline(time.Now().Add(2 * time.Second))
		if _, msg, err := c.ReadMessage(); err != nil || !strings.Contains(string(msg), "n-3") {
			t.Errorf("expected push on every connection, got %s (%v)", msg, err)
		}
	}
}

func TestConn_SendAfterClose(t *testing.T) {
	c := newConn(nil, "alice", time.Second, time.Second)
	c.Close()
	c.Close()
	if err := c.Send("newNotification", nil); !errors.Is(err, ErrConnClosed) {
		t.Errorf("expected ErrConnClosed, got %v", err)
	}
}

func TestConn_SlowConsumer(t *testing.T) {
	c := newConn(nil, "alice", time.Second, time.Second)
	for i := 0; i < sendBuffer; i++ {
		if err := c.Send("newNotification", i); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	if err := c.Send("newNotification", "overflow"); !errors.Is(err, ErrSlowConsumer) {
		t.Errorf("expected ErrSlowConsumer, got %v", err)
	}
}

func TestOriginChecker(t *testing.T) {
	tests := []struct {
		name    string
		origins []string
		origin  string
		want    bool
	}{
		{"no origin header", []string{"http://localhost:4200"}, "", true},
		{"allowed", []string{"http://localhost:4200"}, "http://localhost:4200", true},
		{"case insensitive", []string{"http://LOCALHOST:4200"}, "http://localhost:4200", true},
		{"foreign", []string{"http://localhost:4200"}, "https://evil.example", false},
		{"wildcard", []string{"*"}, "https://anything.example", true},
		{"empty list", nil, "https://anything.example", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws/notifications", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if got := OriginChecker(tt.origins)(r); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
