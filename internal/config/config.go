package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/secondlife/leap/internal/protocol/frame"
	"github.com/secondlife/leap/internal/protocol/session"
)

// Config is the leapctl runtime configuration.
type Config struct {
	Source           string
	StartRequestID   int32
	MaxPayloadBytes  int
	InboundQueueSize int
	HandshakeTimeout time.Duration
	AwaitListenAck   bool
	DumpPath         string
	LogLevel         string
	MetricsAddr      string
}

// config.toml key mapping to Config.
type fileConfig struct {
	Source           string `toml:"source"`
	StartRequestID   int64  `toml:"start_request_id"`
	MaxPayloadBytes  int    `toml:"max_payload_bytes"`
	InboundQueueSize int    `toml:"inbound_queue_size"`
	HandshakeTimeout string `toml:"handshake_timeout"`
	AwaitListenAck   bool   `toml:"await_listen_ack"`
	DumpPath         string `toml:"dump_path"`
	LogLevel         string `toml:"log_level"`
	MetricsAddr      string `toml:"metrics_addr"`
}

func Default() Config {
	sc := session.DefaultConfig()
	return Config{
		Source:           sc.Source,
		StartRequestID:   sc.StartRequestID,
		MaxPayloadBytes:  sc.Limits.MaxPayloadBytes,
		InboundQueueSize: sc.InboundQueueSize,
		HandshakeTimeout: sc.HandshakeTimeout,
		AwaitListenAck:   sc.AwaitListenAck,
		LogLevel:         "info",
	}
}

// Load overlays the keys present in the TOML file at path onto Default.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load leap config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("load leap config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("source") {
		cfg.Source = strings.TrimSpace(raw.Source)
	}
	if meta.IsDefined("start_request_id") {
		if raw.StartRequestID < -1<<31 || raw.StartRequestID > 1<<31-1 {
			return Config{}, fmt.Errorf("load leap config: start_request_id %d out of 32-bit range", raw.StartRequestID)
		}
		cfg.StartRequestID = int32(raw.StartRequestID)
	}
	if meta.IsDefined("max_payload_bytes") {
		cfg.MaxPayloadBytes = raw.MaxPayloadBytes
	}
	if meta.IsDefined("inbound_queue_size") {
		cfg.InboundQueueSize = raw.InboundQueueSize
	}
	if meta.IsDefined("handshake_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.HandshakeTimeout))
		if err != nil {
			return Config{}, fmt.Errorf("load leap config: handshake_timeout: %w", err)
		}
		cfg.HandshakeTimeout = d
	}
	if meta.IsDefined("await_listen_ack") {
		cfg.AwaitListenAck = raw.AwaitListenAck
	}
	if meta.IsDefined("dump_path") {
		cfg.DumpPath = strings.TrimSpace(raw.DumpPath)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("load leap config: %w", err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Source) == "" {
		return fmt.Errorf("source is required")
	}
	if c.MaxPayloadBytes <= 0 {
		return fmt.Errorf("max_payload_bytes must be positive, got %d", c.MaxPayloadBytes)
	}
	if c.InboundQueueSize <= 0 {
		return fmt.Errorf("inbound_queue_size must be positive, got %d", c.InboundQueueSize)
	}
	if c.HandshakeTimeout < 0 {
		return fmt.Errorf("handshake_timeout must not be negative")
	}
	return nil
}

// Session maps the file settings onto a session configuration.
func (c Config) Session() session.Config {
	sc := session.DefaultConfig()
	sc.Source = c.Source
	sc.StartRequestID = c.StartRequestID
	sc.Limits = frame.Limits{
		MaxLengthDigits: frame.DefaultLimits().MaxLengthDigits,
		MaxPayloadBytes: c.MaxPayloadBytes,
	}
	sc.InboundQueueSize = c.InboundQueueSize
	sc.HandshakeTimeout = c.HandshakeTimeout
	sc.AwaitListenAck = c.AwaitListenAck
	return sc
}
