// Pullwatch - Download Manager Task Synchronization Engine
// Copyright 2026 Pullwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pullwatch/pullwatch

package engine

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/pullwatch/pullwatch/internal/config"
	"github.com/pullwatch/pullwatch/internal/logging"
	"github.com/pullwatch/pullwatch/internal/metrics"
	"github.com/pullwatch/pullwatch/internal/models"
)

// ConnState is the push channel's connection state.
type ConnState int32

// Connection states. The machine loops Connecting → Open → Closed →
// Connecting while the engine runs; there is no terminal state short of
// teardown.
const (
	StateClosed ConnState = iota
	StateConnecting
	StateOpen
)

// String implements fmt.Stringer.
func (s ConnState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// handshakeTimeout bounds the websocket dial.
const handshakeTimeout = 10 * time.Second

// writeWait bounds individual frame writes.
const writeWait = 10 * time.Second

// ConnectionManager owns the single push-channel connection and recovers it
// automatically:
//
//   - On open: retry counter resets, liveness timestamp is recorded and a
//     heartbeat loop sends the literal probe token every HeartbeatInterval.
//   - Liveness: if no inbound frame has been seen within
//     LivenessMultiplier x HeartbeatInterval, the connection is force-closed.
//     This catches half-open sockets that never signal closure. Any inbound
//     frame confirms liveness; probe replies exist to force traffic on an
//     otherwise idle channel.
//   - On failure: the next attempt is scheduled after an exponential backoff
//     delay with jitter, and the retry counter increments.
//
// Connection errors are never surfaced to the user; they are retried
// silently. Only application frames forwarded to the adapter carry
// user-visible content.
type ConnectionManager struct {
	serverURL  string
	apiKey     string
	instanceID string
	cfg        config.EngineConfig
	backoff    Backoff

	conn   *websocket.Conn
	connMu sync.Mutex

	state        atomic.Int32
	retryCount   atomic.Int64
	lastLiveness atomic.Int64 // unix nanos of the last inbound frame

	// onFrame receives application frames (never the liveness token).
	onFrame func([]byte)
	// onConnected fires once per successful open; used to trigger a full
	// resync poll.
	onConnected func()
	// onDisconnected fires once per transition out of Open; used to
	// re-enable the poll fallback.
	onDisconnected func()
}

// NewConnectionManager creates a connection manager for the server's push
// channel endpoint. Callbacks may be nil.
func NewConnectionManager(server config.ServerConfig, engineCfg config.EngineConfig) *ConnectionManager {
	return &ConnectionManager{
		serverURL:  server.URL,
		apiKey:     server.APIKey,
		instanceID: uuid.NewString(),
		cfg:        engineCfg,
		backoff:    NewBackoff(engineCfg.ReconnectBaseDelay, engineCfg.ReconnectMaxDelay, engineCfg.ReconnectJitter),
	}
}

// SetCallbacks registers the frame and lifecycle callbacks. Must be called
// before Serve.
func (c *ConnectionManager) SetCallbacks(onFrame func([]byte), onConnected, onDisconnected func()) {
	c.onFrame = onFrame
	c.onConnected = onConnected
	c.onDisconnected = onDisconnected
}

// State returns the current connection state.
func (c *ConnectionManager) State() ConnState {
	return ConnState(c.state.Load())
}

// IsOpen reports whether the push channel is confirmed open. The poll
// fallback suppresses itself while this is true.
func (c *ConnectionManager) IsOpen() bool {
	return c.State() == StateOpen
}

// RetryCount returns the current reconnect attempt counter.
func (c *ConnectionManager) RetryCount() int {
	return int(c.retryCount.Load())
}

// Serve runs the connect/reconnect loop until the context is canceled.
// Every failure — a refused dial or a dropped connection — schedules the
// next attempt after a backoff delay, so a server that accepts the
// handshake and immediately hangs up cannot drive a zero-delay redial
// storm. The retry counter resets only once a connection has proven
// stable by surviving a full heartbeat interval. Implements suture.Service.
func (c *ConnectionManager) Serve(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			c.teardown()
			return err
		}

		c.setState(StateConnecting)

		conn, err := c.dial(ctx)
		if err != nil {
			logging.Debug().Err(err).Msg("push channel dial failed")
			if err := c.waitReconnect(ctx); err != nil {
				c.teardown()
				return err
			}
			continue
		}

		// Entering Open: record liveness, start the heartbeat.
		c.connMu.Lock()
		c.conn = conn
		c.connMu.Unlock()
		c.touchLiveness()
		c.setState(StateOpen)
		logging.Info().Str("state", StateOpen.String()).Msg("push channel connected")
		if c.onConnected != nil {
			c.onConnected()
		}

		openedAt := time.Now()
		c.runConnection(ctx, conn)

		// Surviving a full heartbeat interval proves the connection was
		// genuinely established; its loss starts a fresh backoff sequence.
		// An instant close keeps the counter growing.
		if time.Since(openedAt) >= c.cfg.HeartbeatInterval {
			c.retryCount.Store(0)
		}

		c.setState(StateClosed)
		logging.Info().Str("state", StateClosed.String()).Msg("push channel disconnected")
		if c.onDisconnected != nil {
			c.onDisconnected()
		}

		if ctx.Err() != nil {
			continue
		}
		if err := c.waitReconnect(ctx); err != nil {
			c.teardown()
			return err
		}
	}
}

// waitReconnect counts one failure and sleeps the backoff delay for it.
// Returns the context error when canceled mid-wait.
func (c *ConnectionManager) waitReconnect(ctx context.Context) error {
	retry := int(c.retryCount.Add(1)) - 1
	delay := c.backoff.Delay(retry)
	metrics.ReconnectAttempts.Inc()
	logging.Debug().
		Int("retry", retry).
		Dur("delay", delay).
		Msg("scheduling push channel reconnect")

	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// String implements fmt.Stringer for supervisor logging.
func (c *ConnectionManager) String() string {
	return "connection-manager"
}

// dial establishes the websocket connection.
func (c *ConnectionManager) dial(ctx context.Context) (*websocket.Conn, error) {
	wsURL, err := c.buildEndpointURL()
	if err != nil {
		return nil, fmt.Errorf("build websocket url: %w", err)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout:  handshakeTimeout,
		EnableCompression: true,
	}

	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return conn, nil
}

// buildEndpointURL converts the server base URL into the push channel
// endpoint with authentication and instance identity in the query.
func (c *ConnectionManager) buildEndpointURL() (string, error) {
	parsed, err := url.Parse(c.serverURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}

	scheme := "ws"
	if parsed.Scheme == "https" {
		scheme = "wss"
	}

	endpoint, err := url.Parse(fmt.Sprintf("%s://%s/api/v1/events", scheme, parsed.Host))
	if err != nil {
		return "", fmt.Errorf("parse ws url: %w", err)
	}

	q := endpoint.Query()
	if c.apiKey != "" {
		q.Set("api_key", c.apiKey)
	}
	q.Set("client_id", c.instanceID)
	endpoint.RawQuery = q.Encode()

	return endpoint.String(), nil
}

// runConnection pumps one live connection: a heartbeat goroutine probes and
// enforces the liveness timeout while this goroutine reads frames. Returns
// when the connection dies or the context is canceled.
func (c *ConnectionManager) runConnection(ctx context.Context, conn *websocket.Conn) {
	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.heartbeatLoop(heartbeatCtx, conn)
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.Debug().Err(err).Msg("push channel read error")
			}
			break
		}

		c.touchLiveness()

		if string(message) == models.LivenessToken {
			continue
		}
		if c.onFrame != nil {
			c.onFrame(message)
		}
	}

	stopHeartbeat()
	c.closeConnection()
	wg.Wait()
}

// heartbeatLoop sends the literal probe token at the configured interval
// and force-closes the connection when the liveness timeout lapses.
func (c *ConnectionManager) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	timeout := c.cfg.LivenessTimeout()

	for {
		select {
		case <-ctx.Done():
			// Unblocks the read loop on shutdown; idempotent when the read
			// loop stopped first.
			c.closeConnection()
			return
		case <-ticker.C:
			if since := time.Since(c.livenessAt()); since > timeout {
				metrics.LivenessTimeouts.Inc()
				logging.Warn().
					Dur("since_liveness", since).
					Dur("timeout", timeout).
					Msg("no liveness confirmation, force-closing push channel")
				c.closeConnection()
				return
			}

			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.closeConnection()
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(models.ProbeToken)); err != nil {
				logging.Debug().Err(err).Msg("liveness probe write failed")
				c.closeConnection()
				return
			}
			metrics.ProbesSent.Inc()
		}
	}
}

// closeConnection closes the socket; safe for concurrent and repeated calls.
func (c *ConnectionManager) closeConnection() {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn != nil {
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		_ = c.conn.Close()
		c.conn = nil
	}
}

// teardown is the clean shutdown path: close the socket, no reconnects.
func (c *ConnectionManager) teardown() {
	c.closeConnection()
	c.setState(StateClosed)
}

func (c *ConnectionManager) setState(s ConnState) {
	c.state.Store(int32(s))
	metrics.ConnectionState.Set(float64(s))
}

func (c *ConnectionManager) touchLiveness() {
	c.lastLiveness.Store(time.Now().UnixNano())
}

func (c *ConnectionManager) livenessAt() time.Time {
	return time.Unix(0, c.lastLiveness.Load())
}
