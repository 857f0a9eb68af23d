// Package mockserver is a local stand-in for the live broadcast server. It
// speaks the same framed protocol over WebSocket (path /sub) and raw TCP.
package mockserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"

	"github.com/fplust/bilibili-live-danmu/internal/transport/tcp"
	"github.com/fplust/bilibili-live-danmu/pkg/protocol"
)

var ErrNotJoined = errors.New("first frame was not a valid join")

// JoinAckBody is sent in reply to a valid join frame.
var JoinAckBody = []byte(`{"code":0}`)

// Config configures the mock server.
type Config struct {
	// Addr is the WebSocket listen address. Use ":0" for an ephemeral port.
	Addr string
	// TCPAddr enables the raw TCP listener when non-empty.
	TCPAddr string
	// Path is the WebSocket endpoint path (default "/sub").
	Path string
	// Popularity is reported in every heartbeat reply.
	Popularity uint32
	// JoinTimeout bounds the wait for the join frame.
	JoinTimeout time.Duration
	Logger      *slog.Logger
}

// Server accepts subscribers, validates their join frame, answers
// heartbeats and broadcasts command batches.
type Server struct {
	config   Config
	logger   *slog.Logger
	hub      *hub
	listener net.Listener
	server   *http.Server
	tcp      *tcp.Server
	wg       sync.WaitGroup

	heartbeats atomic.Int64
	joins      chan protocol.JoinPayload
	popularity atomic.Uint32
}

// New creates a server; call Start to listen.
func New(config Config) *Server {
	if config.Path == "" {
		config.Path = "/sub"
	}
	if config.JoinTimeout <= 0 {
		config.JoinTimeout = 5 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		config: config,
		logger: logger.With("component", "mockserver"),
		hub:    newHub(),
		joins:  make(chan protocol.JoinPayload, 16),
	}
	s.popularity.Store(config.Popularity)
	return s
}

// Start binds the listeners and serves in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to start WebSocket server: %w", err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc(s.config.Path, s.handleWebSocket)
	s.server = &http.Server{Handler: mux}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("WebSocket server failed", "error", err)
		}
	}()
	s.logger.Info("WebSocket server started", "addr", listener.Addr().String(), "path", s.config.Path)

	if s.config.TCPAddr != "" {
		s.tcp = tcp.NewServer(s.config.TCPAddr, func(c *tcp.Conn) {
			s.serve(c)
		}, s.logger)
		if err := s.tcp.Start(); err != nil {
			s.server.Close()
			return err
		}
	}
	return nil
}

// Stop closes every connection and waits for handlers to finish.
func (s *Server) Stop() {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		s.server.Shutdown(ctx)
		cancel()
	}
	s.hub.closeAll()
	if s.tcp != nil {
		s.tcp.Stop()
	}
	s.wg.Wait()
}

// Addr returns the WebSocket listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// URL returns the ws:// endpoint for clients.
func (s *Server) URL() string {
	return "ws://" + s.Addr() + s.config.Path
}

// TCPAddr returns the raw TCP listening address, or "" when disabled.
func (s *Server) TCPAddr() string {
	if s.tcp != nil {
		return s.tcp.Addr()
	}
	return ""
}

// ClientCount returns the number of joined clients.
func (s *Server) ClientCount() int {
	return s.hub.count()
}

// HeartbeatCount returns the number of heartbeat frames received.
func (s *Server) HeartbeatCount() int64 {
	return s.heartbeats.Load()
}

// SetPopularity changes the value sent in heartbeat replies.
func (s *Server) SetPopularity(n uint32) {
	s.popularity.Store(n)
}

// Joins delivers every accepted join payload. Unread joins beyond the buffer are dropped.
func (s *Server) Joins() <-chan protocol.JoinPayload {
	return s.joins
}

// WaitForClients blocks until at least n clients have joined.
func (s *Server) WaitForClients(ctx context.Context, n int) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for s.ClientCount() < n {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Broadcast sends commands to every client in roomID (0 = all rooms) as one
// zlib command batch, the way the live server pushes them. It returns the
// number of clients reached.
func (s *Server) Broadcast(roomID int64, commands ...[]byte) (int, error) {
	frames := make([]protocol.Frame, 0, len(commands))
	for _, cmd := range commands {
		f, err := protocol.NewFrame(cmd, protocol.OpCommandBatch, protocol.CompressionPlain)
		if err != nil {
			return 0, err
		}
		frames = append(frames, f)
	}
	batch, err := protocol.Compress(protocol.OpCommandBatch, frames...)
	if err != nil {
		return 0, fmt.Errorf("failed to compress batch: %w", err)
	}
	return s.hub.broadcast(roomID, batch.Encode()), nil
}

// BroadcastRaw sends data unchanged, e.g. to exercise malformed input.
func (s *Server) BroadcastRaw(roomID int64, data []byte) int {
	return s.hub.broadcast(roomID, data)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	wsConn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("failed to accept WebSocket connection", "error", err)
		return
	}
	wsConn.SetReadLimit(1 << 20)

	s.wg.Add(1)
	defer s.wg.Done()
	s.serve(&wsPeer{conn: wsConn, remoteAddr: r.RemoteAddr})
}

// serve runs one subscriber until its connection ends.
func (s *Server) serve(conn peerConn) {
	defer conn.Close()
	logger := s.logger.With("remote", conn.RemoteAddr())

	join, err := s.awaitJoin(conn)
	if err != nil {
		logger.Warn("rejecting subscriber", "error", err)
		return
	}

	// register before acknowledging so a broadcast right after the ack reaches the client
	c := &client{conn: conn, roomID: join.RoomID, outgoing: make(chan []byte, 64)}
	s.hub.register(c)
	defer s.hub.unregister(c)
	select {
	case s.joins <- join:
	default:
	}

	ack, _ := protocol.NewFrame(JoinAckBody, protocol.OpJoinAck, protocol.CompressionPlainJSON)
	if err := conn.Write(context.Background(), ack.Encode()); err != nil {
		return
	}
	logger.Info("subscriber joined", "room", join.RoomID, "protover", join.ProtocolVersion)

	done := make(chan struct{})
	defer close(done)
	go s.writeLoop(c, done)

	for {
		data, err := conn.Read(context.Background())
		if err != nil {
			logger.Debug("subscriber left", "error", err)
			return
		}
		frames, err := protocol.Decode(data)
		if err != nil {
			logger.Warn("bad frame from subscriber", "error", err)
		}
		for _, f := range frames {
			if f.Operation != protocol.OpHeartbeat {
				logger.Debug("ignoring frame", "op", f.Operation.String())
				continue
			}
			s.heartbeats.Add(1)
			select {
			case c.outgoing <- protocol.EncodePopularity(s.popularity.Load()):
			default:
			}
		}
	}
}

func (s *Server) awaitJoin(conn peerConn) (protocol.JoinPayload, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.JoinTimeout)
	defer cancel()

	data, err := conn.Read(ctx)
	if err != nil {
		return protocol.JoinPayload{}, fmt.Errorf("failed to read join: %w", err)
	}
	frames, err := protocol.Decode(data)
	if err != nil || len(frames) == 0 || frames[0].Operation != protocol.OpJoin {
		return protocol.JoinPayload{}, ErrNotJoined
	}
	join, err := protocol.DecodeJoin(frames[0].Body)
	if err != nil || join.RoomID <= 0 {
		return protocol.JoinPayload{}, fmt.Errorf("%w: %v", ErrNotJoined, err)
	}
	return join, nil
}

func (s *Server) writeLoop(c *client, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case data := <-c.outgoing:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := c.conn.Write(ctx, data)
			cancel()
			if err != nil {
				s.logger.Debug("failed to write to subscriber", "error", err)
				c.conn.Close()
				return
			}
		}
	}
}

// wsPeer adapts nhooyr.io/websocket to peerConn.
type wsPeer struct {
	conn       *websocket.Conn
	remoteAddr string
}

func (p *wsPeer) Read(ctx context.Context) ([]byte, error) {
	_, data, err := p.conn.Read(ctx)
	return data, err
}

func (p *wsPeer) Write(ctx context.Context, data []byte) error {
	return p.conn.Write(ctx, websocket.MessageBinary, data)
}

// Close drops the connection without waiting for the close handshake.
func (p *wsPeer) Close() error {
	return p.conn.CloseNow()
}

func (p *wsPeer) RemoteAddr() string {
	return p.remoteAddr
}
