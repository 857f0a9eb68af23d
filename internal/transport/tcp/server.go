package tcp

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// Accept retry delays after transient listener errors.
const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// Server accepts raw TCP connections and hands each one, wrapped as a
// frame Conn, to a handler on its own goroutine.
type Server struct {
	address  string
	handler  func(*Conn)
	logger   *slog.Logger
	listener net.Listener
	quit     chan struct{}
	wg       sync.WaitGroup

	mu    sync.Mutex
	conns map[*Conn]struct{}
}

// NewServer creates a server for address. Use ":0" for an ephemeral port.
func NewServer(address string, handler func(*Conn), logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address: address,
		handler: handler,
		logger:  logger,
		quit:    make(chan struct{}),
		conns:   make(map[*Conn]struct{}),
	}
}

// Start binds the listener and starts accepting in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to start TCP server: %w", err)
	}
	s.listener = listener
	s.logger.Info("TCP server started", "addr", listener.Addr().String())

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	var delay time.Duration
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				s.logger.Warn("TCP listener closed", "error", err)
				return
			}
			delay = min(max(2*delay, minAcceptDelay), maxAcceptDelay)
			s.logger.Warn("failed to accept TCP connection", "error", err, "retry_in", delay)
			select {
			case <-s.quit:
				return
			case <-time.After(delay):
			}
			continue
		}
		delay = 0

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			c := NewConn(conn)
			s.track(c, true)
			defer s.track(c, false)
			defer c.Close()
			s.handler(c)
		}()
	}
}

func (s *Server) track(c *Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[c] = struct{}{}
	} else {
		delete(s.conns, c)
	}
}

// Stop closes the listener and every open connection, then waits for
// handlers to return.
func (s *Server) Stop() {
	close(s.quit)
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
