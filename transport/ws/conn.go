package ws

import (
	"chat-relay/domain"
	"chat-relay/domain/event"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"
)

// Options are the keepalive and sizing parameters of a connection.
type Options struct {
	// Time allowed to write a frame to the peer.
	WriteWait time.Duration
	// Time allowed to read the next pong from the peer. Must exceed the ping period.
	PongWait time.Duration
	// Maximum inbound frame size.
	MaxMessageSize int64
}

/*
Conn adapts a gorilla WebSocket connection to contract.Transport.

Gorilla allows a single concurrent reader and a single concurrent writer.
ReadCommand is driven by the session read pump and WriteEvent by its write
pump. Ping and Close use control frames, which gorilla allows concurrently
with every other method.
*/
type Conn struct {
	conn      *websocket.Conn
	opts      Options
	closeOnce sync.Once
}

func NewConn(conn *websocket.Conn, opts Options) *Conn {
	c := &Conn{conn: conn, opts: opts}
	c.conn.SetReadLimit(opts.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	})
	return c
}

// ReadCommand blocks until the next data frame. Decoding errors are returned
// as is so the caller can skip the frame, any other error ends the connection.
func (c *Conn) ReadCommand() (domain.Command, error) {
	_, raw, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return DecodeCommand(raw)
}

func (c *Conn) WriteEvent(evt event.Event) error {
	raw, err := EncodeEvent(evt)
	if err != nil {
		return err
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
	return c.conn.WriteMessage(websocket.TextMessage, raw)
}

func (c *Conn) Ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteWait))
}

// Close sends a close frame carrying code and reason, then releases the
// underlying connection. Only the first call has an effect.
func (c *Conn) Close(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.opts.WriteWait))
		err = c.conn.Close()
	})
	return err
}

func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// NewUpgrader accepts any origin when allowed is empty, otherwise only the listed ones.
func NewUpgrader(allowed []string) *websocket.Upgrader {
	origins := lo.Filter(lo.Map(allowed, func(o string, _ int) string {
		return strings.TrimSpace(o)
	}), func(o string, _ int) bool { return o != "" })
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(origins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			return origin == "" || lo.Contains(origins, origin)
		},
	}
}
