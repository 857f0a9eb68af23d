package live_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fplust/bilibili-live-danmu/internal/live"
	"github.com/fplust/bilibili-live-danmu/pkg/event"
	"github.com/fplust/bilibili-live-danmu/pkg/protocol"
)

func TestReconnector_Run(t *testing.T) {
	var dials atomic.Int32
	dialer := live.DialerFunc(func(ctx context.Context, endpoint string) (live.Conn, error) {
		switch dials.Add(1) {
		case 1:
			return nil, errors.New("connection refused")
		case 2:
			conn := newMockConn()
			conn.readCh <- frame(t, danmakuBody, protocol.OpCommandBatch)
			close(conn.readCh)
			return conn, nil
		default:
			conn := newMockConn()
			conn.readCh <- frame(t, `{"cmd":`, protocol.OpCommandBatch)
			conn.readCh <- frame(t, danmakuBody, protocol.OpCommandBatch)
			return conn, nil
		}
	})

	stop := errors.New("enough")
	var decodeErrors, received int
	r := &live.Reconnector{
		RoomID:         1,
		Options:        []live.Option{live.WithDialer(dialer), live.WithHeartbeatInterval(time.Hour)},
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		OnDecodeError:  func(error) { decodeErrors++ },
	}

	err := r.Run(context.Background(), func(s *live.Session, ev event.Event) error {
		if s.RoomID() != 1 {
			t.Errorf("RoomID() = %d, want 1", s.RoomID())
		}
		received++
		if received == 2 {
			return stop
		}
		return nil
	})

	if !errors.Is(err, stop) {
		t.Fatalf("Run() error = %v, want %v", err, stop)
	}
	if got := dials.Load(); got != 3 {
		t.Errorf("dials = %d, want 3", got)
	}
	if decodeErrors != 1 {
		t.Errorf("decode errors = %d, want 1", decodeErrors)
	}
}

func TestReconnector_MaxAttempts(t *testing.T) {
	var dials atomic.Int32
	r := &live.Reconnector{
		RoomID: 1,
		Options: []live.Option{live.WithDialer(live.DialerFunc(func(context.Context, string) (live.Conn, error) {
			dials.Add(1)
			return nil, errors.New("connection refused")
		}))},
		InitialBackoff: time.Millisecond,
		MaxAttempts:    3,
	}

	err := r.Run(context.Background(), func(*live.Session, event.Event) error { return nil })
	if !errors.Is(err, live.ErrConnect) {
		t.Errorf("Run() error = %v, want ErrConnect", err)
	}
	if got := dials.Load(); got != 3 {
		t.Errorf("dials = %d, want 3", got)
	}
}

func TestReconnector_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &live.Reconnector{
		RoomID: 1,
		Options: []live.Option{
			live.WithHeartbeatInterval(time.Hour),
			live.WithDialer(live.DialerFunc(func(context.Context, string) (live.Conn, error) {
				return newMockConn(), nil
			})),
		},
	}

	done := make(chan error, 1)
	go func() {
		done <- r.Run(ctx, func(*live.Session, event.Event) error { return nil })
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
