// Package tcp carries protocol frames over a raw TCP stream, the broadcast
// socket's non-WebSocket variant (port 2243).
package tcp

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/fplust/bilibili-live-danmu/pkg/protocol"
)

// MaxFrameSize bounds a single inbound frame.
const MaxFrameSize = 16 << 20

// DefaultEndpoint is the public raw TCP broadcast address.
const DefaultEndpoint = "broadcastlv.chat.bilibili.com:2243"

// Conn adapts net.Conn to live.Conn. A TCP stream has no message
// boundaries, so Read returns exactly one frame at a time.
type Conn struct {
	conn   net.Conn
	header [protocol.HeaderLength]byte

	mu sync.Mutex
}

// Dial opens a TCP connection to addr (host:port). A tcp:// prefix is accepted.
func Dial(ctx context.Context, addr string) (*Conn, error) {
	if len(addr) > 6 && addr[:6] == "tcp://" {
		addr = addr[6:]
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	return NewConn(conn), nil
}

// NewConn wraps a net.Conn.
func NewConn(conn net.Conn) *Conn {
	return &Conn{conn: conn}
}

// Read implements live.Conn.
// Reads one complete frame, header included.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	c.conn.SetReadDeadline(time.Time{})
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetReadDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	data, err := c.readFrame()
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return data, err
}

func (c *Conn) readFrame() ([]byte, error) {
	if _, err := io.ReadFull(c.conn, c.header[:]); err != nil {
		return nil, err
	}
	total, err := protocol.ReadLength(c.header[:])
	if err != nil {
		return nil, err
	}
	if total > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", protocol.ErrFrameTooLarge, total)
	}

	buf := make([]byte, total)
	copy(buf, c.header[:])
	if _, err := io.ReadFull(c.conn, buf[protocol.HeaderLength:]); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return buf, nil
}

// Write implements live.Conn.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetWriteDeadline(deadline)
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	_, err := c.conn.Write(data)
	return err
}

// Close implements live.Conn.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// RemoteAddr implements live.Conn.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
