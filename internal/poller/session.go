// Package poller repeatedly invokes a caller-supplied fetch operation on a
// timer, stretching its own interval exponentially across failed cycles and
// resetting the moment connectivity returns. One Session per logical feed.
package poller

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// State of a Session.
type State string

const (
	StateIdle       State = "idle"
	StateActive     State = "active"
	StateBackingOff State = "backing-off"
	StateStopped    State = "stopped"
)

// OnlineSource is the injectable connectivity sensor. *connectivity.Monitor
// satisfies it; tests use their own.
type OnlineSource interface {
	IsOnline() bool
	Subscribe(fn func(online bool)) (unsubscribe func())
}

// Config describes one poll session.
type Config struct {
	// Fetch is the operation run each cycle. It owns its own timeout and, if
	// wanted, per-cycle retry; the session only reacts to its final outcome.
	Fetch func(ctx context.Context) error

	// BaseInterval is the spacing between fetches while healthy.
	BaseInterval time.Duration
	// MaxInterval caps the stretched interval while backing off.
	MaxInterval time.Duration
	// Multiplier is the backoff growth factor. Values below 1.0 become 2.0.
	Multiplier float64
	// MaxFailures is the consecutive-failure cap; reaching it stops polling
	// until the next online edge.
	MaxFailures int

	// Online is optional; absent a sensor the session assumes it is online.
	Online OnlineSource
	// Clock is the timer source. Nil means the real clock.
	Clock clockwork.Clock
	Logger *slog.Logger
}

// nextInterval computes the poll spacing after the given number of
// consecutive failures: min(base * multiplier^failures, max).
func nextInterval(base, max time.Duration, multiplier float64, failures int) time.Duration {
	d := float64(base) * math.Pow(multiplier, float64(failures))
	if m := float64(max); max > 0 && d > m {
		d = m
	}
	return time.Duration(d)
}

// Session is one running poll loop. All exported observers are safe for
// concurrent use.
type Session struct {
	cfg   Config
	clock clockwork.Clock
	log   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	state    State
	interval time.Duration
	failures int
	lastErr  error
	polling  bool
	exceeded bool
	online   bool
	closed   bool

	wake        chan struct{}
	done        chan struct{}
	unsubscribe func()
}

// Start validates cfg, issues an immediate fetch, and schedules the next one
// after the base interval. The returned session polls until Stop.
func Start(cfg Config) *Session {
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 2.0
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:      cfg,
		clock:    cfg.Clock,
		log:      cfg.Logger.With("component", "poller"),
		ctx:      ctx,
		cancel:   cancel,
		state:    StateIdle,
		interval: cfg.BaseInterval,
		online:   true,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	if cfg.Online != nil {
		s.online = cfg.Online.IsOnline()
		s.unsubscribe = cfg.Online.Subscribe(s.onConnectivityEdge)
	}

	go s.run()
	return s
}

// Stop tears the session down from any state. The pending timer is cancelled,
// an in-flight fetch is cancelled via its context, and its completion can no
// longer mutate observable state. Stop blocks until the loop has exited.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.cancel()
	<-s.done
}

// onConnectivityEdge reacts to online/offline transitions from the sensor.
// offline→online revives a stopped or backing-off session: counters reset and
// an immediate fetch fires. online→offline just parks the loop.
func (s *Session) onConnectivityEdge(online bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.online = online
	if online {
		s.failures = 0
		s.interval = s.cfg.BaseInterval
		s.exceeded = false
		s.lastErr = nil
		s.state = StateActive
	}
	s.mu.Unlock()

	if online {
		s.log.Info("Connectivity restored, resuming polling")
		select {
		case s.wake <- struct{}{}:
		default:
		}
	} else {
		s.log.Info("Connectivity lost, suppressing fetches")
	}
}

func (s *Session) run() {
	defer close(s.done)

	for {
		s.mu.Lock()
		parked := !s.online || s.exceeded
		interval := s.interval
		s.mu.Unlock()

		if !parked {
			s.fetchOnce()

			s.mu.Lock()
			parked = !s.online || s.exceeded
			interval = s.interval
			s.mu.Unlock()
		}

		if parked {
			// Offline or out of retries: no timer, wait for an edge.
			select {
			case <-s.wake:
				continue
			case <-s.ctx.Done():
				return
			}
		}

		select {
		case <-s.clock.After(interval):
		case <-s.wake:
		case <-s.ctx.Done():
			return
		}
	}
}

// fetchOnce runs one fetch cycle and applies the state transition for its
// outcome. Fetches never overlap: the loop only reaches the next cycle after
// this returns.
func (s *Session) fetchOnce() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.polling = true
	s.state = StateActive
	s.mu.Unlock()

	err := s.cfg.Fetch(s.ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.polling = false

	// Liveness guard: a completion landing after Stop must be a no-op
	// beyond settling the in-flight marker.
	if s.closed {
		return
	}

	if err == nil {
		s.failures = 0
		s.interval = s.cfg.BaseInterval
		s.lastErr = nil
		s.state = StateActive
		return
	}

	s.failures++
	s.lastErr = err

	if s.failures >= s.cfg.MaxFailures {
		s.exceeded = true
		s.state = StateStopped
		s.log.Warn("Poll session exceeded max consecutive failures, polling paused until connectivity recovers",
			"failures", s.failures,
			"error", err)
		return
	}

	s.interval = nextInterval(s.cfg.BaseInterval, s.cfg.MaxInterval, s.cfg.Multiplier, s.failures)
	s.state = StateBackingOff
	s.log.Warn("Poll fetch failed, backing off",
		"failures", s.failures,
		"next_interval", s.interval,
		"error", err)
}

// IsPolling reports whether a fetch is currently in flight.
func (s *Session) IsPolling() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polling
}

// LastError returns the most recent fetch error, nil after a success.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// ConsecutiveFailures returns the current failure streak.
func (s *Session) ConsecutiveFailures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures
}

// IsOnline reports the session's view of connectivity.
func (s *Session) IsOnline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// CurrentInterval returns the spacing before the next scheduled fetch.
func (s *Session) CurrentInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// HasExceededMaxRetries reports whether the session gave up after the
// failure cap. It resets on the next offline→online transition.
func (s *Session) HasExceededMaxRetries() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exceeded
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return StateStopped
	}
	return s.state
}
