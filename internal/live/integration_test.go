package live_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fplust/bilibili-live-danmu/internal/live"
	"github.com/fplust/bilibili-live-danmu/internal/mockserver"
	"github.com/fplust/bilibili-live-danmu/internal/transport/gorillaws"
	"github.com/fplust/bilibili-live-danmu/internal/transport/tcp"
	"github.com/fplust/bilibili-live-danmu/pkg/event"
	"github.com/fplust/bilibili-live-danmu/pkg/protocol"
)

func TestIntegration_MockServer(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	srv := mockserver.New(mockserver.Config{
		Addr:       "127.0.0.1:0",
		TCPAddr:    "127.0.0.1:0",
		Popularity: 12345,
	})
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer srv.Stop()

	transports := []struct {
		name     string
		endpoint string
		dialer   live.Dialer
	}{
		{name: "gobwas", endpoint: srv.URL()},
		{
			name:     "gorilla",
			endpoint: srv.URL(),
			dialer: live.DialerFunc(func(ctx context.Context, endpoint string) (live.Conn, error) {
				return gorillaws.Dial(ctx, endpoint)
			}),
		},
		{
			name:     "tcp",
			endpoint: srv.TCPAddr(),
			dialer: live.DialerFunc(func(ctx context.Context, endpoint string) (live.Conn, error) {
				return tcp.Dial(ctx, endpoint)
			}),
		},
	}

	for i, tr := range transports {
		t.Run(tr.name, func(t *testing.T) {
			roomID := int64(100 + i)
			rec := &recorder{}
			opts := []live.Option{
				live.WithEndpoint(tr.endpoint),
				live.WithHeartbeatInterval(20 * time.Millisecond),
				live.WithObserver(rec),
			}
			if tr.dialer != nil {
				opts = append(opts, live.WithDialer(tr.dialer))
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			s, err := live.Open(ctx, roomID, opts...)
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}

			select {
			case join := <-srv.Joins():
				want := protocol.NewJoinPayload(roomID)
				if join != want {
					t.Errorf("server saw join %+v, want %+v", join, want)
				}
			case <-ctx.Done():
				t.Fatal("server never saw the join")
			}

			at := time.Unix(1700000000, 0)
			if _, err := srv.Broadcast(roomID,
				mockserver.Danmaku(1, "alice", "hello", at),
				mockserver.SendGift(2, "bob", "投喂", "辣条", 1, 100, "gold"),
			); err != nil {
				t.Fatalf("Broadcast() error = %v", err)
			}
			malformed, err := protocol.Encode([]byte(`{"cmd":`), protocol.OpCommandBatch)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			srv.BroadcastRaw(roomID, malformed)
			if _, err := srv.Broadcast(roomID, mockserver.SuperChat(3, "carol", "hi", "", 50)); err != nil {
				t.Fatalf("Broadcast() error = %v", err)
			}

			var (
				kinds      []event.Kind
				decodeErrs int
			)
			for ev, err := range s.Events(ctx) {
				if err != nil {
					var de *live.DecodeError
					if !errors.As(err, &de) {
						t.Fatalf("fatal error = %v", err)
					}
					decodeErrs++
					continue
				}
				kinds = append(kinds, ev.Kind())
				if len(kinds) == 3 {
					break
				}
			}

			want := []event.Kind{event.KindChat, event.KindGift, event.KindSuperChat}
			if len(kinds) != len(want) {
				t.Fatalf("kinds = %v, want %v", kinds, want)
			}
			for i := range want {
				if kinds[i] != want[i] {
					t.Errorf("kinds[%d] = %v, want %v", i, kinds[i], want[i])
				}
			}
			if decodeErrs != 1 {
				t.Errorf("decode errors = %d, want 1", decodeErrs)
			}

			// keep reading so heartbeat acks are processed
			drained := make(chan struct{})
			go func() {
				defer close(drained)
				for range s.Events(ctx) {
				}
			}()
			waitFor(t, func() bool { return srv.HeartbeatCount() > 0 && rec.snapshot().popularity == 12345 })

			s.Close()
			select {
			case <-s.Done():
			case <-ctx.Done():
				t.Fatal("session did not close")
			}
			<-drained
			snap := rec.snapshot()
			if snap.joinAcks != 1 {
				t.Errorf("join acks = %d, want 1", snap.joinAcks)
			}
			if snap.hbErrors != 0 {
				t.Errorf("heartbeat errors = %d, want 0", snap.hbErrors)
			}
		})
	}
}
