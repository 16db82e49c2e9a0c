// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the rclink YAML configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/Thermoquad/rclink/pkg/rcp"
	"gopkg.in/yaml.v3"
)

// DefaultPath is read when --config is not given
const DefaultPath = "rclink.yaml"

// Roles
const (
	RoleReceiver    = "receiver"
	RoleTransmitter = "transmitter"
)

// Config is the complete rclink configuration
type Config struct {
	Device DeviceConfig `yaml:"device"`
	Link   LinkConfig   `yaml:"link"`
	Timing TimingConfig `yaml:"timing"`
	Bridge BridgeConfig `yaml:"bridge"`
	Store  StoreConfig  `yaml:"store"`
	Log    LogConfig    `yaml:"log"`
}

// DeviceConfig identifies this end of the link
type DeviceConfig struct {
	ID   string `yaml:"id"`   // 5 printable characters or 10 hex digits
	Role string `yaml:"role"` // receiver or transmitter
}

// LinkConfig holds the session settings a receiver hands out at pairing
type LinkConfig struct {
	PayloadSize uint8         `yaml:"payload_size"`
	Channels    uint8         `yaml:"channels"`
	Ack         bool          `yaml:"ack"`
	AckPayload  bool          `yaml:"ack_payload"`
	Tick        time.Duration `yaml:"tick"`
	Power       string        `yaml:"power"`
	RFChannel   uint8         `yaml:"rf_channel"`
	DataRate    string        `yaml:"data_rate"`
	RetryDelay  uint8         `yaml:"retry_delay"`
	RetryCount  uint8         `yaml:"retry_count"`
}

// TimingConfig overrides protocol deadlines
type TimingConfig struct {
	Timeout          time.Duration `yaml:"timeout"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`
	PairSettle       time.Duration `yaml:"pair_settle"`
	ReplySettle      time.Duration `yaml:"reply_settle"`
	DisconnectSettle time.Duration `yaml:"disconnect_settle"`
	ReconnectSettle  time.Duration `yaml:"reconnect_settle"`
	Poll             time.Duration `yaml:"poll"`
}

// BridgeConfig selects the dongle connection
type BridgeConfig struct {
	Port        string        `yaml:"port"`
	Baud        int           `yaml:"baud"`
	URL         string        `yaml:"url"`
	Username    string        `yaml:"username"`
	NoSSLVerify bool          `yaml:"no_ssl_verify"`
	Timeout     time.Duration `yaml:"timeout"`
}

// StoreConfig locates the pairing store
type StoreConfig struct {
	Path string `yaml:"path"`
}

// LogConfig controls structured logging
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// Default returns the built-in configuration
func Default() *Config {
	s := rcp.DefaultSettings()
	t := rcp.DefaultTiming()
	return &Config{
		Device: DeviceConfig{
			ID:   "RCRX1",
			Role: RoleReceiver,
		},
		Link: LinkConfig{
			PayloadSize: s.PayloadSize,
			Channels:    s.ChannelCount,
			Ack:         s.EnableAck,
			AckPayload:  s.EnableAckPayload,
			Tick:        s.TickPeriod,
			Power:       "high",
			RFChannel:   s.RFChannel,
			DataRate:    "1mbps",
			RetryDelay:  s.RetryDelay,
			RetryCount:  s.RetryCount,
		},
		Timing: TimingConfig{
			Timeout:          t.Timeout,
			ConnectTimeout:   t.ConnectTimeout,
			PairSettle:       t.PairSettle,
			ReplySettle:      t.ReplySettle,
			DisconnectSettle: t.DisconnectSettle,
			ReconnectSettle:  t.ReconnectSettle,
			Poll:             t.PollInterval,
		},
		Bridge: BridgeConfig{
			Baud:    115200,
			Timeout: 500 * time.Millisecond,
		},
		Store: StoreConfig{
			Path: "rclink-pairings.cbor",
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. A missing file leaves the defaults in place unless
// required is set.
func Load(path string, required bool) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist) && !required:
	case err != nil:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func applyEnvOverrides(cfg *Config) {
	if id := os.Getenv("RCLINK_DEVICE_ID"); id != "" {
		cfg.Device.ID = id
	}
	if path := os.Getenv("RCLINK_STORE"); path != "" {
		cfg.Store.Path = path
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if _, err := c.DeviceID(); err != nil {
		return err
	}
	switch c.Device.Role {
	case RoleReceiver, RoleTransmitter:
	default:
		return fmt.Errorf("device.role must be %q or %q, got %q", RoleReceiver, RoleTransmitter, c.Device.Role)
	}

	s, err := c.Settings()
	if err != nil {
		return err
	}
	if err := s.Validate(); err != nil {
		return fmt.Errorf("link: %w", err)
	}

	t := c.Timing
	for name, d := range map[string]time.Duration{
		"timeout":         t.Timeout,
		"connect_timeout": t.ConnectTimeout,
		"poll":            t.Poll,
	} {
		if d <= 0 {
			return fmt.Errorf("timing.%s must be positive, got %v", name, d)
		}
	}

	if c.Bridge.Baud <= 0 {
		return fmt.Errorf("bridge.baud must be positive, got %d", c.Bridge.Baud)
	}
	if c.Bridge.Timeout <= 0 {
		return fmt.Errorf("bridge.timeout must be positive, got %v", c.Bridge.Timeout)
	}
	if c.Store.Path == "" {
		return errors.New("store.path is required")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// DeviceID parses the configured address
func (c *Config) DeviceID() (rcp.Address, error) {
	id, err := rcp.ParseAddress(c.Device.ID)
	if err != nil {
		return rcp.Address{}, fmt.Errorf("device.id: %w", err)
	}
	return id, nil
}

// Settings converts the link section to session settings
func (c *Config) Settings() (rcp.Settings, error) {
	power, err := ParsePowerLevel(c.Link.Power)
	if err != nil {
		return rcp.Settings{}, err
	}
	rate, err := ParseDataRate(c.Link.DataRate)
	if err != nil {
		return rcp.Settings{}, err
	}
	return rcp.Settings{
		PayloadSize:      c.Link.PayloadSize,
		ChannelCount:     c.Link.Channels,
		EnableAck:        c.Link.Ack,
		EnableAckPayload: c.Link.AckPayload,
		TickPeriod:       c.Link.Tick,
		PowerLevel:       power,
		RFChannel:        c.Link.RFChannel,
		DataRate:         rate,
		RetryDelay:       c.Link.RetryDelay,
		RetryCount:       c.Link.RetryCount,
	}, nil
}

// ProtocolTiming converts the timing section
func (c *Config) ProtocolTiming() rcp.Timing {
	return rcp.Timing{
		Timeout:          c.Timing.Timeout,
		ConnectTimeout:   c.Timing.ConnectTimeout,
		PairSettle:       c.Timing.PairSettle,
		ReplySettle:      c.Timing.ReplySettle,
		DisconnectSettle: c.Timing.DisconnectSettle,
		ReconnectSettle:  c.Timing.ReconnectSettle,
		PollInterval:     c.Timing.Poll,
	}
}

// ParsePowerLevel accepts min, low, high or max
func ParsePowerLevel(s string) (rcp.PowerLevel, error) {
	switch strings.ToLower(s) {
	case "min":
		return rcp.PowerMin, nil
	case "low":
		return rcp.PowerLow, nil
	case "high":
		return rcp.PowerHigh, nil
	case "max":
		return rcp.PowerMax, nil
	default:
		return 0, fmt.Errorf("link.power: unknown level %q (min, low, high, max)", s)
	}
}

// ParseDataRate accepts 1mbps, 2mbps or 250kbps
func ParseDataRate(s string) (rcp.DataRate, error) {
	switch strings.ToLower(s) {
	case "1mbps":
		return rcp.DataRate1Mbps, nil
	case "2mbps":
		return rcp.DataRate2Mbps, nil
	case "250kbps":
		return rcp.DataRate250Kbps, nil
	default:
		return 0, fmt.Errorf("link.data_rate: unknown rate %q (1mbps, 2mbps, 250kbps)", s)
	}
}

// ParseLevel maps a log level name to slog
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
