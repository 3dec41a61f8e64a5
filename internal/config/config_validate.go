// Pullwatch - Download Manager Task Synchronization Engine
// Copyright 2026 Pullwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pullwatch/pullwatch

package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks that required configuration is present and valid.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}

	if err := c.validateEngine(); err != nil {
		return err
	}

	if err := c.validateHTTP(); err != nil {
		return err
	}

	return c.validateLogging()
}

// validateServer validates the download server connection settings.
func (c *Config) validateServer() error {
	if c.Server.URL == "" {
		return fmt.Errorf("server.url is required (set PULLWATCH_SERVER_URL)")
	}

	parsed, err := url.Parse(c.Server.URL)
	if err != nil {
		return fmt.Errorf("server.url is not a valid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("server.url must use http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("server.url is missing a host")
	}

	if c.Server.Timeout <= 0 {
		return fmt.Errorf("server.timeout must be positive, got %v", c.Server.Timeout)
	}
	if c.Server.RateLimit <= 0 {
		return fmt.Errorf("server.rate_limit must be positive, got %v", c.Server.RateLimit)
	}

	return nil
}

// validateEngine validates the sync engine timing knobs.
func (c *Config) validateEngine() error {
	e := c.Engine

	if e.HeartbeatInterval <= 0 {
		return fmt.Errorf("engine.heartbeat_interval must be positive, got %v", e.HeartbeatInterval)
	}
	if e.LivenessMultiplier < 2 {
		// A multiplier of 1 races the probe itself: the timeout would fire
		// before a reply to the first probe can arrive.
		return fmt.Errorf("engine.liveness_multiplier must be at least 2, got %d", e.LivenessMultiplier)
	}
	if e.PollInterval <= 0 {
		return fmt.Errorf("engine.poll_interval must be positive, got %v", e.PollInterval)
	}
	if e.ReconnectBaseDelay <= 0 {
		return fmt.Errorf("engine.reconnect_base_delay must be positive, got %v", e.ReconnectBaseDelay)
	}
	if e.ReconnectMaxDelay < e.ReconnectBaseDelay {
		return fmt.Errorf("engine.reconnect_max_delay (%v) must be >= reconnect_base_delay (%v)",
			e.ReconnectMaxDelay, e.ReconnectBaseDelay)
	}
	if e.ReconnectJitter < 0 || e.ReconnectJitter > 1 {
		return fmt.Errorf("engine.reconnect_jitter must be in [0, 1], got %v", e.ReconnectJitter)
	}
	if e.TombstoneTTL <= 0 {
		return fmt.Errorf("engine.tombstone_ttl must be positive, got %v", e.TombstoneTTL)
	}

	return nil
}

// validateHTTP validates the local HTTP surface settings.
func (c *Config) validateHTTP() error {
	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be in 1..65535, got %d", c.HTTP.Port)
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be positive, got %v", c.HTTP.Timeout)
	}
	return nil
}

// validateLogging validates logging settings.
func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "disabled", "":
	default:
		return fmt.Errorf("logging.level %q is not a valid level", c.Logging.Level)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "console", "":
	default:
		return fmt.Errorf("logging.format %q must be json or console", c.Logging.Format)
	}

	return nil
}
