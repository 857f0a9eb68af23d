package live

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fplust/bilibili-live-danmu/pkg/event"
	"github.com/fplust/bilibili-live-danmu/pkg/protocol"
)

var (
	ErrConnect = errors.New("failed to open live session")
	ErrClosed  = errors.New("live session closed")
)

// Stage names the decoding step a DecodeError came from.
type Stage string

const (
	StageFrame      Stage = "frame"
	StageDecompress Stage = "decompress"
	StageClassify   Stage = "classify"
)

// DecodeError reports part of an inbound message that could not be decoded.
// It is not fatal: the session keeps reading.
type DecodeError struct {
	Stage Stage
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Stage, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Session is a subscription to one room's broadcast stream.
// Next and Events must be used from a single goroutine.
type Session struct {
	id     string
	roomID int64
	opts   options
	logger *slog.Logger
	conn   Conn

	writeMu sync.Mutex

	stopped   atomic.Bool
	stop      chan struct{}
	stopOnce  sync.Once
	heartbeat sync.WaitGroup
	mu        sync.Mutex
	release   func() bool
	done      chan struct{}
	closeErr  error

	// pending holds decoded events and *DecodeError values not yet returned by Next.
	pending *queue.Queue
	readErr error
}

// Open connects to the broadcast endpoint, joins roomID and starts the heartbeat.
// The session closes itself when ctx is cancelled.
func Open(ctx context.Context, roomID int64, opts ...Option) (*Session, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	ctx, span := o.tracer.Start(ctx, "live.Open", trace.WithAttributes(
		attribute.Int64("live.room_id", roomID),
		attribute.String("live.endpoint", o.endpoint),
	))
	defer span.End()

	conn, err := o.dialer.Dial(ctx, o.endpoint)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dial failed")
		return nil, fmt.Errorf("%w: failed to connect to %s: %w", ErrConnect, o.endpoint, err)
	}

	s := &Session{
		id:      uuid.NewString(),
		roomID:  roomID,
		opts:    o,
		conn:    conn,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		pending: queue.New(),
	}
	s.logger = o.logger.With("session", s.id, "room", roomID)

	join := o.join
	join.RoomID = roomID
	frame, err := protocol.EncodeJoin(join)
	if err == nil {
		err = s.write(frame)
	}
	if err != nil {
		conn.Close()
		span.RecordError(err)
		span.SetStatus(codes.Error, "join failed")
		return nil, fmt.Errorf("%w: failed to send join: %w", ErrConnect, err)
	}
	span.SetAttributes(attribute.String("live.session_id", s.id))

	s.heartbeat.Add(1)
	go s.heartbeatLoop()

	s.mu.Lock()
	s.release = context.AfterFunc(ctx, func() {
		s.Close()
	})
	s.mu.Unlock()

	s.logger.Info("joined live room", "remote", conn.RemoteAddr(), "protover", join.ProtocolVersion)
	o.observer.SessionOpened(roomID, s.id)
	return s, nil
}

// ID returns the unique id of this session.
func (s *Session) ID() string {
	return s.id
}

// RoomID returns the room this session subscribed to.
func (s *Session) RoomID() int64 {
	return s.roomID
}

// Next returns the next classified event. A *DecodeError reports a dropped
// message part and may be followed by more events; any other error is final
// and closes the session. Cancelling ctx while Next waits on the transport
// ends the session as well.
func (s *Session) Next(ctx context.Context) (event.Event, error) {
	for {
		if s.pending.Length() > 0 {
			switch v := s.pending.Remove().(type) {
			case event.Event:
				return v, nil
			case error:
				return nil, v
			}
		}
		if s.readErr != nil {
			return nil, s.readErr
		}
		if s.stopped.Load() {
			s.readErr = ErrClosed
			continue
		}

		data, err := s.conn.Read(ctx)
		if err != nil {
			if s.stopped.Load() {
				s.readErr = ErrClosed
			} else {
				s.readErr = fmt.Errorf("failed to read from broadcast socket: %w", err)
				s.logger.Warn("broadcast socket read failed", "error", err)
				s.Close()
			}
			continue
		}
		s.process(ctx, data)
	}
}

// Events returns the session as a lazy sequence. Decode errors are yielded
// alongside events; the sequence ends after a fatal error or Close.
func (s *Session) Events(ctx context.Context) iter.Seq2[event.Event, error] {
	return func(yield func(event.Event, error) bool) {
		for {
			ev, err := s.Next(ctx)
			if err == nil {
				if !yield(ev, nil) {
					return
				}
				continue
			}

			var de *DecodeError
			if errors.As(err, &de) {
				if !yield(nil, err) {
					return
				}
				continue
			}
			if !errors.Is(err, ErrClosed) {
				yield(nil, err)
			}
			return
		}
	}
}

// Close raises the stop flag and returns without waiting. The heartbeat
// finishes any in-flight send before the transport is released; Done is
// closed once that has happened.
func (s *Session) Close() error {
	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		close(s.stop)
		s.mu.Lock()
		release := s.release
		s.mu.Unlock()
		if release != nil {
			release()
		}

		go func() {
			s.heartbeat.Wait()
			s.writeMu.Lock()
			s.closeErr = s.conn.Close()
			s.writeMu.Unlock()

			s.logger.Info("left live room")
			s.opts.observer.SessionClosed(s.roomID, s.id)
			close(s.done)
		}()
	})
	return nil
}

// Done is closed after Close once the heartbeat has exited and the transport is closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait closes the session and blocks until teardown completes or ctx ends.
func (s *Session) Wait(ctx context.Context) error {
	s.Close()
	select {
	case <-s.done:
		return s.closeErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// write sends one frame. The send lock keeps join and heartbeat frames from
// interleaving on the wire.
func (s *Session) write(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.writeTimeout)
	defer cancel()
	return s.conn.Write(ctx, data)
}

func (s *Session) process(ctx context.Context, data []byte) {
	_, span := s.opts.tracer.Start(ctx, "live.decode", trace.WithAttributes(
		attribute.Int("live.message_bytes", len(data)),
	))
	defer span.End()

	s.opts.observer.MessageReceived(len(data))
	before := s.pending.Length()

	frames, err := protocol.Decode(data)
	for _, f := range frames {
		s.handleFrame(f)
	}
	if err != nil {
		s.fail(StageFrame, err)
	}

	span.SetAttributes(
		attribute.Int("live.frames", len(frames)),
		attribute.Int("live.results", s.pending.Length()-before),
	)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
}

func (s *Session) handleFrame(f protocol.Frame) {
	s.opts.observer.FrameDecoded(f.Operation)

	switch f.Operation {
	case protocol.OpCommandBatch:
		inner, err := protocol.Expand(f)
		for _, in := range inner {
			if in.Operation != protocol.OpCommandBatch {
				s.handleFrame(in)
				continue
			}
			s.classify(in.Body)
		}
		if err != nil {
			s.fail(StageDecompress, err)
		}
	case protocol.OpHeartbeatAck:
		if n, ok := protocol.Popularity(f.Body); ok {
			s.opts.observer.PopularityUpdated(n)
		}
	case protocol.OpJoinAck:
		s.logger.Debug("join acknowledged", "body", string(f.Body))
		s.opts.observer.JoinAcknowledged()
	default:
		s.logger.Debug("ignoring frame", "op", f.Operation.String(), "bytes", len(f.Body))
	}
}

func (s *Session) classify(body []byte) {
	ev, err := event.Decode(body)
	if err != nil {
		s.fail(StageClassify, err)
		return
	}
	s.opts.observer.EventClassified(ev)
	s.pending.Add(ev)
}

func (s *Session) fail(stage Stage, err error) {
	s.logger.Debug("dropping undecodable data", "stage", string(stage), "error", err)
	s.opts.observer.DecodeFailed(stage, err)
	s.pending.Add(error(&DecodeError{Stage: stage, Err: err}))
}

func (s *Session) heartbeatLoop() {
	defer s.heartbeat.Done()

	frame := protocol.EncodeHeartbeat()
	ticker := time.NewTicker(s.opts.heartbeatInterval)
	defer ticker.Stop()

	for {
		if s.stopped.Load() {
			s.logger.Debug("heartbeat stopped")
			return
		}
		err := s.write(frame)
		if err != nil {
			s.logger.Warn("failed to send heartbeat", "error", err)
		}
		s.opts.observer.HeartbeatSent(err)

		select {
		case <-s.stop:
			s.logger.Debug("heartbeat stopped")
			return
		case <-ticker.C:
		}
	}
}
