// Package socket carries broker events over gorilla/websocket connections.
package socket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/example/ride-dispatch/internal/models"
)

// Handler receives the events read from a connection.
type Handler interface {
	Handle(connID, event string, data json.RawMessage)
	Disconnect(connID string)
}

type Options struct {
	SendBuffer      int
	MaxMessageBytes int64
	PongWait        time.Duration
	WriteWait       time.Duration
}

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 64 << 10
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	return o
}

// pingPeriod must stay below PongWait.
func (o Options) pingPeriod() time.Duration { return o.PongWait * 9 / 10 }

// Client is one websocket connection. Send never blocks: a client whose
// buffer fills up is closed, and the read side reports the disconnect.
type Client struct {
	id   string
	conn *websocket.Conn
	opts Options
	log  *slog.Logger

	send      chan models.Outbound
	done      chan struct{}
	closeOnce sync.Once
}

func NewClient(conn *websocket.Conn, opts Options, log *slog.Logger) *Client {
	opts = opts.withDefaults()
	id := uuid.NewString()
	return &Client{
		id:   id,
		conn: conn,
		opts: opts,
		log:  log.With("conn_id", id),
		send: make(chan models.Outbound, opts.SendBuffer),
		done: make(chan struct{}),
	}
}

func (c *Client) ID() string { return c.id }

func (c *Client) Send(msg models.Outbound) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	case <-c.done:
		return false
	default:
		c.log.Warn("send buffer full, closing connection", "event", msg.Event)
		// Close writes a close frame; keep that off the caller's goroutine.
		go c.Close()
		return false
	}
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(c.opts.WriteWait))
		err = c.conn.Close()
	})
	return err
}

// ReadPump decodes frames into events until the connection fails, then
// reports the disconnect. It runs on its own goroutine, so events from one
// connection reach the handler in the order they were sent.
func (c *Client) ReadPump(h Handler) {
	defer func() {
		h.Disconnect(c.id)
		_ = c.Close()
	}()

	c.conn.SetReadLimit(c.opts.MaxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Warn("websocket read error", "error", err)
			}
			return
		}
		var env models.Envelope
		if err := json.Unmarshal(frame, &env); err != nil || env.Event == "" {
			c.log.Debug("dropping undecodable frame", "error", err)
			continue
		}
		h.Handle(c.id, env.Event, env.Data)
	}
}

// WritePump drains the send buffer and keeps the connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.opts.pingPeriod())
	defer func() {
		ticker.Stop()
		_ = c.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.log.Warn("websocket write error", "event", msg.Event, "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
