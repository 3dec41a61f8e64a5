// Pullwatch - Download Manager Task Synchronization Engine
// Copyright 2026 Pullwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pullwatch/pullwatch

// Package config loads Pullwatch configuration with Koanf v2 from layered
// sources (highest priority wins):
//
//  1. Environment variables with the PULLWATCH_ prefix
//  2. Optional YAML config file (config.yaml)
//  3. Built-in defaults
//
// Config is immutable after Load() and safe for concurrent reads.
package config

import (
	"fmt"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server        ServerConfig       `koanf:"server"`
	Engine        EngineConfig       `koanf:"engine"`
	Notifications NotificationConfig `koanf:"notifications"`
	HTTP          HTTPConfig         `koanf:"http"`
	Logging       LoggingConfig      `koanf:"logging"`
}

// ServerConfig holds the download-manager server connection settings.
//
// Environment Variables:
//   - PULLWATCH_SERVER_URL: server base URL (e.g. http://localhost:8000)
//   - PULLWATCH_SERVER_API_KEY: API key sent on REST and websocket requests
//   - PULLWATCH_SERVER_TIMEOUT: per-request timeout (default: 15s)
//   - PULLWATCH_SERVER_RATE_LIMIT: REST requests per second cap (default: 10)
type ServerConfig struct {
	URL       string        `koanf:"url"`
	APIKey    string        `koanf:"api_key"`
	Timeout   time.Duration `koanf:"timeout"`
	RateLimit float64       `koanf:"rate_limit"`
}

// EngineConfig holds the sync engine's timing knobs. All values the engine
// uses are configured here, never hard-coded.
//
// Environment Variables:
//   - PULLWATCH_ENGINE_HEARTBEAT_INTERVAL: probe cadence on the push channel (default: 15s)
//   - PULLWATCH_ENGINE_LIVENESS_MULTIPLIER: liveness timeout as a multiple of the
//     heartbeat interval; catches half-open sockets (default: 3)
//   - PULLWATCH_ENGINE_POLL_INTERVAL: snapshot poll cadence while the push
//     channel is down (default: 5s)
//   - PULLWATCH_ENGINE_RECONNECT_BASE_DELAY: first reconnect delay (default: 1s)
//   - PULLWATCH_ENGINE_RECONNECT_MAX_DELAY: reconnect delay cap (default: 32s)
//   - PULLWATCH_ENGINE_RECONNECT_JITTER: jitter as a fraction of the capped
//     delay, 0..1 (default: 0.25)
//   - PULLWATCH_ENGINE_TOMBSTONE_TTL: grace window before a locally removed
//     task ID may be resurrected by the server (default: 2m)
type EngineConfig struct {
	HeartbeatInterval  time.Duration `koanf:"heartbeat_interval"`
	LivenessMultiplier int           `koanf:"liveness_multiplier"`
	PollInterval       time.Duration `koanf:"poll_interval"`
	ReconnectBaseDelay time.Duration `koanf:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `koanf:"reconnect_max_delay"`
	ReconnectJitter    float64       `koanf:"reconnect_jitter"`
	TombstoneTTL       time.Duration `koanf:"tombstone_ttl"`
}

// NotificationConfig holds the per-category desktop notification toggles.
//
// Environment Variables:
//   - PULLWATCH_NOTIFICATIONS_ON_COMPLETE: notify when a download finishes (default: true)
//   - PULLWATCH_NOTIFICATIONS_ON_ERROR: notify when a download fails (default: true)
type NotificationConfig struct {
	OnComplete bool `koanf:"on_complete"`
	OnError    bool `koanf:"on_error"`
}

// HTTPConfig holds the local HTTP surface settings (read-only task view,
// submit/cancel, health, metrics).
type HTTPConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			URL:       "",
			APIKey:    "",
			Timeout:   15 * time.Second,
			RateLimit: 10,
		},
		Engine: EngineConfig{
			HeartbeatInterval:  15 * time.Second,
			LivenessMultiplier: 3,
			PollInterval:       5 * time.Second,
			ReconnectBaseDelay: 1 * time.Second,
			ReconnectMaxDelay:  32 * time.Second,
			ReconnectJitter:    0.25,
			TombstoneTTL:       2 * time.Minute,
		},
		Notifications: NotificationConfig{
			OnComplete: true,
			OnError:    true,
		},
		HTTP: HTTPConfig{
			Host:    "127.0.0.1",
			Port:    8614,
			Timeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// LivenessTimeout returns the duration after which a connection with no
// liveness confirmation is considered half-open and force-closed.
func (e EngineConfig) LivenessTimeout() time.Duration {
	return time.Duration(e.LivenessMultiplier) * e.HeartbeatInterval
}

// Addr returns the HTTP listen address.
func (h HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}
