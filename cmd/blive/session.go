package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/fplust/bilibili-live-danmu/internal/config"
	"github.com/fplust/bilibili-live-danmu/internal/live"
	"github.com/fplust/bilibili-live-danmu/internal/transport/gorillaws"
	"github.com/fplust/bilibili-live-danmu/internal/transport/tcp"
	"github.com/fplust/bilibili-live-danmu/internal/transport/ws"
	"github.com/fplust/bilibili-live-danmu/pkg/event"
)

// sessionFlags override the connection section of the config file.
type sessionFlags struct {
	endpoint    string
	transport   string
	heartbeat   time.Duration
	legacy      bool
	noReconnect bool
}

func (f *sessionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.endpoint, "endpoint", "", "Broadcast endpoint (ws://, wss:// or host:port for tcp)")
	cmd.Flags().StringVarP(&f.transport, "transport", "t", "", "Transport: gobwas, gorilla or tcp")
	cmd.Flags().DurationVar(&f.heartbeat, "heartbeat", 0, "Heartbeat interval (default from config, 10s)")
	cmd.Flags().BoolVar(&f.legacy, "legacy", false, "Use protocol version 1 with a 30s heartbeat")
	cmd.Flags().BoolVar(&f.noReconnect, "no-reconnect", false, "Exit when the connection drops")
}

func (f *sessionFlags) apply(cfg *config.Config) error {
	if f.endpoint != "" {
		cfg.Endpoint = f.endpoint
	}
	if f.transport != "" {
		cfg.Transport = f.transport
	}
	if f.legacy {
		cfg.ProtocolVersion = 1
		cfg.HeartbeatInterval = live.LegacyHeartbeatInterval.String()
	}
	if f.heartbeat > 0 {
		cfg.HeartbeatInterval = f.heartbeat.String()
	}
	if f.noReconnect {
		cfg.Reconnect.Enabled = false
	}
	return cfg.Validate()
}

// dialerFor returns the transport dialer selected by cfg, bounded by the dial timeout.
func dialerFor(cfg *config.Config) live.Dialer {
	timeout := cfg.Dial()
	var dial live.DialerFunc
	switch cfg.Transport {
	case config.TransportGorilla:
		dial = func(ctx context.Context, endpoint string) (live.Conn, error) {
			return gorillaws.Dial(ctx, endpoint)
		}
	case config.TransportTCP:
		dial = func(ctx context.Context, endpoint string) (live.Conn, error) {
			return tcp.Dial(ctx, endpoint)
		}
	default:
		dial = func(ctx context.Context, endpoint string) (live.Conn, error) {
			return ws.Dial(ctx, endpoint)
		}
	}
	return live.DialerFunc(func(ctx context.Context, endpoint string) (live.Conn, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return dial(ctx, endpoint)
	})
}

func sessionOptions(cfg *config.Config, logger *slog.Logger, observers ...live.Observer) []live.Option {
	opts := []live.Option{
		live.WithEndpoint(cfg.ResolvedEndpoint()),
		live.WithDialer(dialerFor(cfg)),
		live.WithHeartbeatInterval(cfg.Heartbeat()),
		live.WithWriteTimeout(cfg.Write()),
		live.WithProtocolVersion(cfg.ProtocolVersion),
		live.WithClient(cfg.Platform, cfg.ClientVersion),
		live.WithUID(cfg.UID),
		live.WithLogger(logger),
	}
	if len(observers) > 0 {
		opts = append(opts, live.WithObserver(live.Observers(observers...)))
	}
	return opts
}

// runRoom delivers events of roomID to handle until ctx ends. With reconnect
// enabled the session is re-opened after transport loss.
func runRoom(ctx context.Context, cfg *config.Config, roomID int64, opts []live.Option, logger *slog.Logger, handle func(*live.Session, event.Event) error) error {
	onDecodeError := func(err error) {
		logger.Warn("dropped undecodable message", "error", err)
	}

	var err error
	if cfg.Reconnect.Enabled {
		initial, maxBackoff := cfg.Backoff()
		r := &live.Reconnector{
			RoomID:         roomID,
			Options:        opts,
			InitialBackoff: initial,
			MaxBackoff:     maxBackoff,
			MaxAttempts:    cfg.Reconnect.MaxAttempts,
			Logger:         logger,
			OnDecodeError:  onDecodeError,
		}
		err = r.Run(ctx, handle)
	} else {
		err = runOnce(ctx, roomID, opts, onDecodeError, handle)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runOnce(ctx context.Context, roomID int64, opts []live.Option, onDecodeError func(error), handle func(*live.Session, event.Event) error) error {
	s, err := live.Open(ctx, roomID, opts...)
	if err != nil {
		return err
	}
	defer func() {
		waitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Wait(waitCtx)
	}()

	for ev, err := range s.Events(ctx) {
		if err != nil {
			var de *live.DecodeError
			if errors.As(err, &de) {
				onDecodeError(err)
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("connection lost: %w", err)
		}
		if err := handle(s, ev); err != nil {
			return err
		}
	}
	return ctx.Err()
}
