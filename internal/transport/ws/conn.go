// Package ws provides the default WebSocket client transport for live sessions.
package ws

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// DefaultDialTimeout bounds the TCP connect plus upgrade handshake.
const DefaultDialTimeout = 15 * time.Second

// Conn adapts a gobwas/ws client connection to live.Conn.
type Conn struct {
	conn    net.Conn
	reader  *wsutil.Reader
	control wsutil.FrameHandlerFunc

	// mu serializes frames written by Write, Close and control replies.
	mu sync.Mutex
}

// Dial upgrades a connection to endpoint (ws:// or wss://).
func Dial(ctx context.Context, endpoint string) (*Conn, error) {
	d := ws.Dialer{Timeout: DefaultDialTimeout}
	conn, br, _, err := d.Dial(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to dial websocket: %w", err)
	}
	return NewConn(conn, br), nil
}

// NewConn wraps an upgraded client connection. br holds bytes the server sent
// right after the handshake and may be nil.
func NewConn(conn net.Conn, br *bufio.Reader) *Conn {
	c := &Conn{conn: conn}

	var src io.Reader = conn
	if br != nil {
		src = br
	}
	c.control = wsutil.ControlFrameHandler(lockedWriter{c}, ws.StateClientSide)
	c.reader = &wsutil.Reader{
		Source:         src,
		State:          ws.StateClientSide,
		CheckUTF8:      true,
		OnIntermediate: c.control,
	}
	return c
}

// Read implements live.Conn.
// Returns the next binary message; text messages are skipped and pings answered.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	c.conn.SetReadDeadline(time.Time{})
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetReadDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	data, err := c.next()
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return data, err
}

func (c *Conn) next() ([]byte, error) {
	for {
		hdr, err := c.reader.NextFrame()
		if err != nil {
			return nil, err
		}
		if hdr.OpCode.IsControl() {
			if err := c.control(hdr, c.reader); err != nil {
				return nil, err
			}
			continue
		}
		if hdr.OpCode != ws.OpBinary {
			if err := c.reader.Discard(); err != nil {
				return nil, err
			}
			continue
		}
		return io.ReadAll(c.reader)
	}
}

// Write implements live.Conn.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetWriteDeadline(deadline)
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	return wsutil.WriteClientBinary(c.conn, data)
}

// Close implements live.Conn.
// Sends a normal closure frame before closing the socket.
func (c *Conn) Close() error {
	c.mu.Lock()
	c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	body := ws.NewCloseFrameBody(ws.StatusNormalClosure, "")
	_ = wsutil.WriteClientMessage(c.conn, ws.OpClose, body)
	c.mu.Unlock()
	return c.conn.Close()
}

// RemoteAddr implements live.Conn.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

type lockedWriter struct {
	c *Conn
}

func (w lockedWriter) Write(p []byte) (int, error) {
	w.c.mu.Lock()
	defer w.c.mu.Unlock()
	return w.c.conn.Write(p)
}
