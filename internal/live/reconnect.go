package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fplust/bilibili-live-danmu/pkg/event"
)

// Reconnector re-opens a room's session with exponential backoff after the
// transport drops. Open never reconnects on its own; this is the caller-side policy.
type Reconnector struct {
	RoomID  int64
	Options []Option

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// MaxAttempts bounds consecutive failed opens. Zero means retry forever.
	MaxAttempts int

	Logger *slog.Logger

	// OnDecodeError is called for non-fatal decode errors. Nil logs them at debug level.
	OnDecodeError func(err error)
}

// Run delivers events to handle until ctx ends, handle returns an error or
// MaxAttempts consecutive opens fail.
func (r *Reconnector) Run(ctx context.Context, handle func(*Session, event.Event) error) error {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	initial := r.InitialBackoff
	if initial <= 0 {
		initial = time.Second
	}
	maxBackoff := r.MaxBackoff
	if maxBackoff < initial {
		maxBackoff = 30 * time.Second
	}

	backoff := initial
	failures := 0
	for {
		s, err := Open(ctx, r.RoomID, r.Options...)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			if r.MaxAttempts > 0 && failures >= r.MaxAttempts {
				return fmt.Errorf("giving up after %d attempts: %w", failures, err)
			}
			logger.Warn("failed to open live session", "room", r.RoomID, "error", err, "retry_in", backoff)
			if err := sleep(ctx, backoff); err != nil {
				return err
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}

		failures = 0
		backoff = initial

		err = r.consume(ctx, s, handle)
		s.Close()
		<-s.Done()

		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		logger.Info("connection lost, reconnecting", "room", r.RoomID, "retry_in", backoff)
		if err := sleep(ctx, backoff); err != nil {
			return err
		}
	}
}

// consume returns a handler error, or nil when the session ended on its own.
func (r *Reconnector) consume(ctx context.Context, s *Session, handle func(*Session, event.Event) error) error {
	for ev, err := range s.Events(ctx) {
		if err != nil {
			var de *DecodeError
			if !errors.As(err, &de) {
				s.logger.Warn("live session ended", "error", err)
				return nil
			}
			if r.OnDecodeError != nil {
				r.OnDecodeError(err)
			} else {
				s.logger.Debug("decode error", "error", err)
			}
			continue
		}
		if err := handle(s, ev); err != nil {
			return err
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
