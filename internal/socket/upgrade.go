package socket

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
)

// NewUpgrader accepts same-origin requests and any origin listed in allowed.
// An empty list allows every origin.
func NewUpgrader(allowed []string) websocket.Upgrader {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(strings.ToLower(o), "/")] = struct{}{}
	}
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(set) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			if _, ok := set[strings.ToLower(origin)]; ok {
				return true
			}
			u, err := url.Parse(origin)
			return err == nil && strings.EqualFold(u.Host, r.Host)
		},
	}
}

// Serve upgrades the request and runs the client until it disconnects.
// connect must register the client before any of its events are handled.
func Serve(w http.ResponseWriter, r *http.Request, up *websocket.Upgrader, opts Options, log *slog.Logger, connect func(*Client), h Handler) {
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "error", err)
		return
	}
	c := NewClient(conn, opts, log)
	connect(c)
	c.log.Debug("websocket connected", "remote_addr", r.RemoteAddr)
	go c.WritePump()
	go c.ReadPump(h)
}
