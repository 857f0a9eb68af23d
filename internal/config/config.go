// Package config loads the blive.json configuration file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

const (
	// FileName is the default configuration file name.
	FileName = "blive.json"

	DefaultEndpoint          = "wss://broadcastlv.chat.bilibili.com/sub"
	DefaultTCPEndpoint       = "broadcastlv.chat.bilibili.com:2243"
	DefaultHeartbeatInterval = "10s"
	DefaultWriteTimeout      = "10s"
	DefaultDialTimeout       = "15s"
	DefaultProtocolVersion   = 2
	DefaultPlatform          = "web"
	DefaultClientVersion     = "1.5.15"
	DefaultAPIAddr           = "127.0.0.1:8080"
)

// Transport names accepted in the transport field.
const (
	TransportGobwas  = "gobwas"
	TransportGorilla = "gorilla"
	TransportTCP     = "tcp"
)

var ErrInvalid = errors.New("invalid configuration")

// Config represents blive.json.
type Config struct {
	// RoomID is the live room to join. The CLI argument overrides it.
	RoomID int64 `json:"room_id,omitempty"`

	// Endpoint is the broadcast URL (ws/wss) or host:port for tcp.
	// Empty selects the public endpoint for the transport.
	Endpoint string `json:"endpoint,omitempty"`

	// Transport is one of gobwas (default), gorilla or tcp.
	Transport string `json:"transport,omitempty"`

	// HeartbeatInterval is a Go duration; "30s" matches legacy clients.
	HeartbeatInterval string `json:"heartbeat_interval,omitempty"`
	DialTimeout       string `json:"dial_timeout,omitempty"`
	WriteTimeout      string `json:"write_timeout,omitempty"`

	ProtocolVersion int    `json:"protocol_version,omitempty"`
	Platform        string `json:"platform,omitempty"`
	ClientVersion   string `json:"client_version,omitempty"`
	UID             int64  `json:"uid,omitempty"`

	// LogLevel is debug, info, warn or error.
	LogLevel string `json:"log_level,omitempty"`

	API       APIConfig       `json:"api,omitempty"`
	Archive   ArchiveConfig   `json:"archive,omitempty"`
	Reconnect ReconnectConfig `json:"reconnect,omitempty"`
}

// APIConfig configures the HTTP status server used by `serve`.
type APIConfig struct {
	Addr string `json:"addr,omitempty"`
}

// ArchiveConfig selects where events are persisted. Empty paths disable a sink.
type ArchiveConfig struct {
	SQLitePath string `json:"sqlite_path,omitempty"`
	RecordPath string `json:"record_path,omitempty"`
}

// ReconnectConfig configures the reconnect policy of long-running commands.
type ReconnectConfig struct {
	Enabled     bool   `json:"enabled"`
	Initial     string `json:"initial,omitempty"`
	Max         string `json:"max,omitempty"`
	MaxAttempts int    `json:"max_attempts,omitempty"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Transport:         TransportGobwas,
		HeartbeatInterval: DefaultHeartbeatInterval,
		DialTimeout:       DefaultDialTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		ProtocolVersion:   DefaultProtocolVersion,
		Platform:          DefaultPlatform,
		ClientVersion:     DefaultClientVersion,
		LogLevel:          "info",
		API:               APIConfig{Addr: DefaultAPIAddr},
		Reconnect: ReconnectConfig{
			Enabled: true,
			Initial: "1s",
			Max:     "30s",
		},
	}
}

// Load reads path on top of the defaults. A missing file is an error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOptional is Load, except a missing file yields the defaults.
func LoadOptional(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// applyDefaults fills in zero values a file may have cleared.
func (c *Config) applyDefaults() {
	d := Default()
	if c.Transport == "" {
		c.Transport = d.Transport
	}
	if c.HeartbeatInterval == "" {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.DialTimeout == "" {
		c.DialTimeout = d.DialTimeout
	}
	if c.WriteTimeout == "" {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ProtocolVersion == 0 {
		c.ProtocolVersion = d.ProtocolVersion
	}
	if c.Platform == "" {
		c.Platform = d.Platform
	}
	if c.ClientVersion == "" {
		c.ClientVersion = d.ClientVersion
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.API.Addr == "" {
		c.API.Addr = d.API.Addr
	}
	if c.Reconnect.Initial == "" {
		c.Reconnect.Initial = d.Reconnect.Initial
	}
	if c.Reconnect.Max == "" {
		c.Reconnect.Max = d.Reconnect.Max
	}
}

// Validate checks field values and duration syntax.
func (c *Config) Validate() error {
	var errs []error
	switch c.Transport {
	case TransportGobwas, TransportGorilla, TransportTCP:
	default:
		errs = append(errs, fmt.Errorf("unknown transport %q", c.Transport))
	}
	if c.RoomID < 0 {
		errs = append(errs, fmt.Errorf("room_id must not be negative"))
	}
	if c.ProtocolVersion != 1 && c.ProtocolVersion != 2 {
		errs = append(errs, fmt.Errorf("protocol_version must be 1 or 2, got %d", c.ProtocolVersion))
	}
	for name, v := range map[string]string{
		"heartbeat_interval": c.HeartbeatInterval,
		"dial_timeout":       c.DialTimeout,
		"write_timeout":      c.WriteTimeout,
		"reconnect.initial":  c.Reconnect.Initial,
		"reconnect.max":      c.Reconnect.Max,
	} {
		if d, err := time.ParseDuration(v); err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("%s: invalid duration %q", name, v))
		}
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.Reconnect.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("reconnect.max_attempts must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// ResolvedEndpoint returns Endpoint, or the public endpoint for the transport.
func (c *Config) ResolvedEndpoint() string {
	if c.Endpoint != "" {
		return c.Endpoint
	}
	if c.Transport == TransportTCP {
		return DefaultTCPEndpoint
	}
	return DefaultEndpoint
}

// Heartbeat returns the parsed heartbeat interval.
func (c *Config) Heartbeat() time.Duration {
	return mustDuration(c.HeartbeatInterval, DefaultHeartbeatInterval)
}

// Dial returns the parsed dial timeout.
func (c *Config) Dial() time.Duration {
	return mustDuration(c.DialTimeout, DefaultDialTimeout)
}

// Write returns the parsed write timeout.
func (c *Config) Write() time.Duration {
	return mustDuration(c.WriteTimeout, DefaultWriteTimeout)
}

// Backoff returns the parsed initial and maximum reconnect delays.
func (c *Config) Backoff() (initial, max time.Duration) {
	return mustDuration(c.Reconnect.Initial, "1s"), mustDuration(c.Reconnect.Max, "30s")
}

// Level returns the parsed log level.
func (c *Config) Level() slog.Level {
	l, _ := ParseLevel(c.LogLevel)
	return l
}

// ParseLevel maps debug/info/warn/error to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log_level %q", s)
	}
	return l, nil
}

func mustDuration(s, fallback string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}
