// Package gorillaws is an alternative WebSocket transport built on gorilla/websocket.
package gorillaws

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Conn adapts a gorilla client connection to live.Conn.
type Conn struct {
	conn *websocket.Conn
}

// Dial connects to endpoint with websocket.DefaultDialer.
func Dial(ctx context.Context, endpoint string) (*Conn, error) {
	return DialWithHeader(ctx, endpoint, nil)
}

// DialWithHeader connects to endpoint sending extra handshake headers, e.g. Origin.
func DialWithHeader(ctx context.Context, endpoint string, header http.Header) (*Conn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to dial websocket (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to dial websocket: %w", err)
	}
	return NewConn(conn), nil
}

// NewConn wraps an established connection.
func NewConn(conn *websocket.Conn) *Conn {
	return &Conn{conn: conn}
}

// Read implements live.Conn. Only binary messages are returned.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	c.conn.SetReadDeadline(time.Time{})
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetReadDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		typ, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		if typ == websocket.BinaryMessage {
			return data, nil
		}
	}
}

// Write implements live.Conn.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetWriteDeadline(deadline)
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

// Close implements live.Conn.
func (c *Conn) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.conn.Close()
}

// RemoteAddr implements live.Conn.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
