// Package live runs a subscription session against a live room's broadcast socket.
package live

import "context"

// Conn abstracts the transport carrying whole protocol messages.
// This interface isolates WebSocket and raw TCP details from the session.
type Conn interface {
	// Read returns the next inbound binary message.
	// Returns io.EOF when the connection is closed.
	Read(ctx context.Context) ([]byte, error)

	// Write sends one binary message. Callers serialize writes.
	Write(ctx context.Context, data []byte) error

	// Close closes the connection.
	Close() error

	// RemoteAddr returns the remote address for logging.
	RemoteAddr() string
}

// Dialer opens a Conn to a broadcast endpoint.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, endpoint string) (Conn, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(ctx context.Context, endpoint string) (Conn, error) {
	return f(ctx, endpoint)
}
