// Package metrics exports live session activity as Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fplust/bilibili-live-danmu/internal/live"
	"github.com/fplust/bilibili-live-danmu/pkg/event"
	"github.com/fplust/bilibili-live-danmu/pkg/protocol"
)

// Config configures the collector.
type Config struct {
	// Namespace is the metrics namespace (default: "blive").
	Namespace string

	// ConstLabels are added to all metrics.
	ConstLabels prometheus.Labels

	// Registry is where metrics are registered.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Option configures the collector.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithConstLabels sets constant labels, e.g. the room id.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

func defaultConfig() Config {
	return Config{
		Namespace: "blive",
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Collector implements live.Observer.
type Collector struct {
	sessionsActive  prometheus.Gauge
	sessionsOpened  prometheus.Counter
	messageBytes    prometheus.Histogram
	framesTotal     *prometheus.CounterVec
	eventsTotal     *prometheus.CounterVec
	decodeErrors    *prometheus.CounterVec
	heartbeatsTotal *prometheus.CounterVec
	joinAcks        prometheus.Counter
	popularity      prometheus.Gauge
	giftValue       prometheus.Counter
}

var _ live.Observer = (*Collector)(nil)

// New registers the collector's metrics.
func New(opts ...Option) *Collector {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	counter := func(name, help string) prometheus.CounterOpts {
		return prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		}
	}
	gauge := func(name, help string) prometheus.GaugeOpts {
		return prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		}
	}

	return &Collector{
		sessionsActive: factory.NewGauge(gauge("sessions_active", "Number of open live sessions")),
		sessionsOpened: factory.NewCounter(counter("sessions_opened_total", "Total number of live sessions opened")),
		messageBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Name:        "message_bytes",
			Help:        "Size of inbound transport messages",
			ConstLabels: config.ConstLabels,
			Buckets:     prometheus.ExponentialBuckets(64, 4, 8),
		}),
		framesTotal:     factory.NewCounterVec(counter("frames_total", "Total number of decoded frames"), []string{"op"}),
		eventsTotal:     factory.NewCounterVec(counter("events_total", "Total number of classified events"), []string{"kind"}),
		decodeErrors:    factory.NewCounterVec(counter("decode_errors_total", "Total number of dropped message parts"), []string{"stage"}),
		heartbeatsTotal: factory.NewCounterVec(counter("heartbeats_total", "Total number of heartbeat sends"), []string{"result"}),
		joinAcks:        factory.NewCounter(counter("join_acks_total", "Total number of join acknowledgements")),
		popularity:      factory.NewGauge(gauge("popularity", "Last room popularity reported by the server")),
		giftValue:       factory.NewCounter(counter("gift_value_yuan_total", "Total paid gift and super chat value in yuan")),
	}
}

func (c *Collector) SessionOpened(int64, string) {
	c.sessionsActive.Inc()
	c.sessionsOpened.Inc()
}

func (c *Collector) SessionClosed(int64, string) {
	c.sessionsActive.Dec()
}

func (c *Collector) MessageReceived(size int) {
	c.messageBytes.Observe(float64(size))
}

func (c *Collector) FrameDecoded(op protocol.Operation) {
	c.framesTotal.WithLabelValues(op.String()).Inc()
}

func (c *Collector) EventClassified(ev event.Event) {
	c.eventsTotal.WithLabelValues(ev.Kind().String()).Inc()
	switch e := ev.(type) {
	case event.Gift:
		c.giftValue.Add(float64(e.CoinValue))
	case event.SuperChat:
		c.giftValue.Add(float64(e.Price))
	}
}

func (c *Collector) DecodeFailed(stage live.Stage, err error) {
	c.decodeErrors.WithLabelValues(string(stage)).Inc()
}

func (c *Collector) HeartbeatSent(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.heartbeatsTotal.WithLabelValues(result).Inc()
}

func (c *Collector) JoinAcknowledged() {
	c.joinAcks.Inc()
}

func (c *Collector) PopularityUpdated(n uint32) {
	c.popularity.Set(float64(n))
}
