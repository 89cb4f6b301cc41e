// Package push maintains the persistent duplex connection the server uses to
// stream authoritative state changes. Pushed values overlay the polled view
// for the same scope; the channel is receive-only apart from its subscribe
// frame.
package push

import (
	"encoding/json"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/tidwall/gjson"
)

// subscribeFrame is sent once per (re)connect to narrow the stream to a scope.
type subscribeFrame struct {
	Action string `json:"action"`
	Scope  string `json:"scope"`
}

// Config describes one subscription scope.
type Config struct {
	// URL is the websocket endpoint, e.g. "wss://care.example.com/api/v1/stream".
	URL string
	// Scope identifies the monitored entity this channel is narrowed to.
	Scope string
	// OnUpdate receives each pushed value, in arrival order.
	OnUpdate func(scope string, data json.RawMessage)

	// Reconnect backoff. This is the channel's own backoff instance; it shares
	// no state with the retry executor or any poll session.
	ReconnectBase time.Duration
	ReconnectMax  time.Duration
	Multiplier    float64

	Dialer *websocket.Dialer
	Clock  clockwork.Clock
	Logger *slog.Logger
}

// Channel is one live subscription. Create with Open, end with Close.
type Channel struct {
	cfg   Config
	clock clockwork.Clock
	log   *slog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	closed   bool
	attempts int

	stop chan struct{}
	done chan struct{}
}

// Open starts the connect/read/reconnect loop for the given scope.
func Open(cfg Config) *Channel {
	if cfg.ReconnectBase == 0 {
		cfg.ReconnectBase = time.Second
	}
	if cfg.ReconnectMax == 0 {
		cfg.ReconnectMax = time.Minute
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 2.0
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	c := &Channel{
		cfg:   cfg,
		clock: cfg.Clock,
		log:   cfg.Logger.With("component", "push", "scope", cfg.Scope),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go c.run()
	return c
}

// Close tears the channel down. Any in-flight read unblocks and its result is
// dropped; no further updates are delivered after Close returns.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	close(c.stop)
	if conn != nil {
		conn.Close()
	}
	<-c.done
}

// IsConnected reports whether the websocket is currently established.
func (c *Channel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// reconnectDelay computes the wait before the given 0-indexed reconnect
// attempt. Resets to the base after every successful connect.
func reconnectDelay(base, max time.Duration, multiplier float64, attempt int) time.Duration {
	d := float64(base) * math.Pow(multiplier, float64(attempt))
	if m := float64(max); d > m {
		d = m
	}
	return time.Duration(d)
}

func (c *Channel) run() {
	defer close(c.done)

	for {
		if c.isClosed() {
			return
		}

		conn, _, err := c.cfg.Dialer.Dial(c.cfg.URL, nil)
		if err != nil {
			c.log.Warn("Push channel connect failed", "error", err)
			if !c.waitBackoff() {
				return
			}
			continue
		}

		if err := conn.WriteJSON(subscribeFrame{Action: "subscribe", Scope: c.cfg.Scope}); err != nil {
			c.log.Warn("Push channel subscribe failed", "error", err)
			conn.Close()
			if !c.waitBackoff() {
				return
			}
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			conn.Close()
			return
		}
		c.conn = conn
		c.attempts = 0 // successful connect resets the backoff
		c.mu.Unlock()

		c.log.Info("Push channel subscribed")
		c.readLoop(conn)

		c.mu.Lock()
		c.conn = nil
		closed := c.closed
		c.mu.Unlock()
		conn.Close()

		if closed {
			return
		}
		c.log.Warn("Push channel disconnected, reconnecting")
		if !c.waitBackoff() {
			return
		}
	}
}

// readLoop consumes scope-tagged JSON messages until the connection breaks.
func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if c.isClosed() {
			return
		}

		scope := gjson.GetBytes(msg, "scope")
		data := gjson.GetBytes(msg, "data")
		if !scope.Exists() || !data.Exists() {
			c.log.Debug("Ignoring unscoped push message")
			continue
		}

		if c.cfg.OnUpdate != nil {
			c.cfg.OnUpdate(scope.String(), json.RawMessage(data.Raw))
		}
	}
}

// waitBackoff sleeps for the current reconnect delay. It returns false when
// the channel was closed during the wait.
func (c *Channel) waitBackoff() bool {
	c.mu.Lock()
	delay := reconnectDelay(c.cfg.ReconnectBase, c.cfg.ReconnectMax, c.cfg.Multiplier, c.attempts)
	c.attempts++
	c.mu.Unlock()

	select {
	case <-c.clock.After(delay):
		return true
	case <-c.stop:
		return false
	}
}

func (c *Channel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
