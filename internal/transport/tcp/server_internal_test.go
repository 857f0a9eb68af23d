package tcp

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"
)

// failingListener returns errs from Accept in order, then net.ErrClosed.
type failingListener struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (l *failingListener) Accept() (net.Conn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if len(l.errs) == 0 {
		return nil, net.ErrClosed
	}
	err := l.errs[0]
	l.errs = l.errs[1:]
	return nil, err
}

func (l *failingListener) Close() error   { return nil }
func (l *failingListener) Addr() net.Addr { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)} }

func (l *failingListener) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func startLoop(l net.Listener) (*Server, <-chan struct{}) {
	s := NewServer("", func(*Conn) {}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.listener = l
	s.wg.Add(1)
	go s.acceptLoop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	return s, done
}

func TestAcceptLoop_BacksOffOnErrors(t *testing.T) {
	transient := errors.New("too many open files")
	l := &failingListener{errs: []error{transient, transient, transient}}

	start := time.Now()
	_, done := startLoop(l)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("accept loop did not exit on a closed listener")
	}

	// 5ms + 10ms + 20ms of retry delay
	if elapsed := time.Since(start); elapsed < 35*time.Millisecond {
		t.Errorf("accept loop retried after %v, want at least 35ms of backoff", elapsed)
	}
	if got := l.Calls(); got != 4 {
		t.Errorf("Accept() calls = %d, want 4", got)
	}
}

func TestAcceptLoop_StopDuringBackoff(t *testing.T) {
	errs := make([]error, 100)
	for i := range errs {
		errs[i] = errors.New("transient")
	}
	l := &failingListener{errs: errs}

	s, done := startLoop(l)
	time.Sleep(20 * time.Millisecond)
	close(s.quit)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("accept loop did not exit after quit")
	}
	if got := l.Calls(); got >= 100 {
		t.Errorf("Accept() calls = %d, loop spun without backoff", got)
	}
}
