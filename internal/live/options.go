package live

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/fplust/bilibili-live-danmu/internal/transport/ws"
	"github.com/fplust/bilibili-live-danmu/pkg/protocol"
)

const (
	// DefaultEndpoint is the public broadcast socket.
	DefaultEndpoint = "wss://broadcastlv.chat.bilibili.com/sub"

	// DefaultHeartbeatInterval is the period of the latest protocol revision.
	DefaultHeartbeatInterval = 10 * time.Second

	// LegacyHeartbeatInterval was used by protocol version 1 clients.
	LegacyHeartbeatInterval = 30 * time.Second

	DefaultWriteTimeout = 10 * time.Second

	tracerName = "github.com/fplust/bilibili-live-danmu/internal/live"
)

type options struct {
	endpoint          string
	heartbeatInterval time.Duration
	writeTimeout      time.Duration
	join              protocol.JoinPayload
	dialer            Dialer
	logger            *slog.Logger
	observer          Observer
	tracer            trace.Tracer
}

func defaultOptions() options {
	return options{
		endpoint:          DefaultEndpoint,
		heartbeatInterval: DefaultHeartbeatInterval,
		writeTimeout:      DefaultWriteTimeout,
		join:              protocol.NewJoinPayload(0),
		dialer:            DialerFunc(dialWebSocket),
		logger:            slog.Default(),
		observer:          NopObserver{},
		tracer:            otel.Tracer(tracerName),
	}
}

func dialWebSocket(ctx context.Context, endpoint string) (Conn, error) {
	return ws.Dial(ctx, endpoint)
}

// Option configures a Session.
type Option func(*options)

// WithEndpoint overrides the broadcast endpoint URL.
func WithEndpoint(endpoint string) Option {
	return func(o *options) {
		o.endpoint = endpoint
	}
}

// WithHeartbeatInterval sets the heartbeat period. Non-positive values keep the default.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.heartbeatInterval = d
		}
	}
}

// WithWriteTimeout bounds each outbound frame write.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.writeTimeout = d
		}
	}
}

// WithProtocolVersion selects the join protocol version (2 = zlib batches, 1 = plain).
func WithProtocolVersion(v int) Option {
	return func(o *options) {
		o.join.ProtocolVersion = v
	}
}

// WithClient overrides the platform and client version announced on join.
func WithClient(platform, clientVersion string) Option {
	return func(o *options) {
		if platform != "" {
			o.join.Platform = platform
		}
		if clientVersion != "" {
			o.join.ClientVersion = clientVersion
		}
	}
}

// WithUID sets the uid announced on join. Anonymous sessions use 0.
func WithUID(uid int64) Option {
	return func(o *options) {
		o.join.UID = uid
	}
}

// WithDialer replaces the default gobwas WebSocket dialer.
func WithDialer(d Dialer) Option {
	return func(o *options) {
		if d != nil {
			o.dialer = d
		}
	}
}

// WithLogger sets the logger. If nil, slog.Default() is used.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver attaches observer hooks, e.g. Prometheus collectors.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithTracer sets the tracer used for session spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) {
		if t != nil {
			o.tracer = t
		}
	}
}
