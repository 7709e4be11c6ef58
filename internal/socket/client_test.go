package socket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/models"
)

type handled struct {
	conn  string
	event string
	data  string
}

type recordingHandler struct {
	mu           sync.Mutex
	events       []handled
	disconnected chan string
}

func (h *recordingHandler) Handle(connID, event string, data json.RawMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, handled{connID, event, string(data)})
}

func (h *recordingHandler) Disconnect(connID string) { h.disconnected <- connID }

func (h *recordingHandler) snapshot() []handled {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]handled(nil), h.events...)
}

func startServer(t *testing.T, h Handler, opts Options) (*httptest.Server, chan *Client) {
	t.Helper()
	up := NewUpgrader(nil)
	clients := make(chan *Client, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		Serve(w, r, &up, opts, logging.Discard(), func(c *Client) { clients <- c }, h)
	}))
	t.Cleanup(srv.Close)
	return srv, clients
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func TestClientRoundTrip(t *testing.T) {
	h := &recordingHandler{disconnected: make(chan string, 1)}
	srv, clients := startServer(t, h, Options{})
	conn := dial(t, srv)

	var server *Client
	select {
	case server = <-clients:
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw the connection")
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"chatRequest","data":{"userId":"u1"}}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	// Frames that are not envelopes are skipped, not fatal.
	_ = conn.WriteMessage(websocket.TextMessage, []byte(`garbage`))
	_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"endChat","data":{"roomId":"r1"}}`))

	if !server.Send(models.Outbound{Event: models.EventWaitingForAdmin}) {
		t.Fatal("send refused on a live client")
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got map[string]any
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got["event"] != models.EventWaitingForAdmin {
		t.Fatalf("unexpected frame: %v", got)
	}
	if _, hasData := got["data"]; hasData {
		t.Fatalf("waitingForAdmin should carry no data: %v", got)
	}

	_ = conn.Close()
	select {
	case id := <-h.disconnected:
		if id != server.ID() {
			t.Fatalf("disconnect for %q, want %q", id, server.ID())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect never reported")
	}

	events := h.snapshot()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %+v", events)
	}
	if events[0].event != "chatRequest" || events[1].event != "endChat" {
		t.Fatalf("events out of order: %+v", events)
	}
	if events[0].data != `{"userId":"u1"}` {
		t.Fatalf("payload not passed through: %q", events[0].data)
	}
	if server.Send(models.Outbound{Event: "late"}) {
		t.Fatal("send should fail after close")
	}
}

func TestUpgraderOrigins(t *testing.T) {
	up := NewUpgrader([]string{"http://localhost:5173/"})
	req := httptest.NewRequest(http.MethodGet, "http://dispatch.internal/ws", nil)

	req.Header.Set("Origin", "http://localhost:5173")
	if !up.CheckOrigin(req) {
		t.Error("listed origin rejected")
	}
	req.Header.Set("Origin", "http://evil.example")
	if up.CheckOrigin(req) {
		t.Error("unlisted origin accepted")
	}
	req.Header.Set("Origin", "http://dispatch.internal")
	if !up.CheckOrigin(req) {
		t.Error("same-origin request rejected")
	}
}
