// Package engine composes the synchronization layer: connectivity edges drive
// the poll sessions and the mutation queue, pushed deltas overlay the polled
// view, and discards are reported outward. This is the piece the UI layer
// talks to.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	stdsync "sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/carebridge/caresync-go/internal/api"
	"github.com/carebridge/caresync-go/internal/cache"
	"github.com/carebridge/caresync-go/internal/connectivity"
	"github.com/carebridge/caresync-go/internal/notifications"
	"github.com/carebridge/caresync-go/internal/poller"
	"github.com/carebridge/caresync-go/internal/push"
	"github.com/carebridge/caresync-go/internal/queue"
	"github.com/carebridge/caresync-go/internal/retry"
)

// Config wires an Engine together. API, Store and Monitor are required;
// everything else has sensible defaults.
type Config struct {
	API     *api.Client
	Store   queue.Store
	Monitor *connectivity.Monitor

	// PushURL is the websocket endpoint for live updates; empty disables the
	// push channels even for profiles that name a scope.
	PushURL string

	// Profiles lists the feeds to synchronize. Each must be Normalized.
	Profiles []Profile

	// QueueMaxRetries bounds delivery attempts per queued mutation.
	QueueMaxRetries int

	// Webhook, when configured, receives a MutationDiscard report for every
	// operation the queue gives up on.
	Webhook *notifications.Webhook

	Clock  clockwork.Clock
	Logger *slog.Logger
}

// Engine is one running synchronization stack.
type Engine struct {
	cfg     Config
	log     *slog.Logger
	clock   clockwork.Clock
	runID   string
	overlay *cache.Overlay
	queue   *queue.Manager

	mu          stdsync.Mutex
	started     bool
	sessions    map[string]*poller.Session
	channels    map[string]*push.Channel
	unsubscribe func()
}

// New builds the engine and restores the durable queue, but starts nothing.
func New(cfg Config) (*Engine, error) {
	if cfg.API == nil || cfg.Store == nil || cfg.Monitor == nil {
		return nil, fmt.Errorf("engine requires API client, store and connectivity monitor")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	e := &Engine{
		cfg:      cfg,
		clock:    cfg.Clock,
		runID:    fmt.Sprintf("run-%s", uuid.New().String()),
		overlay:  cache.NewOverlay(),
		sessions: make(map[string]*poller.Session),
		channels: make(map[string]*push.Channel),
	}
	e.log = cfg.Logger.With("component", "engine", "run_id", e.runID)

	q, err := queue.NewManager(cfg.Store, e.deliver, queue.Config{
		MaxRetries: cfg.QueueMaxRetries,
		OnDiscard:  e.reportDiscard,
		Logger:     cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("restoring mutation queue: %w", err)
	}
	e.queue = q

	return e, nil
}

// Start spins up one poll session per enabled profile, one push channel per
// named scope, and subscribes the queue to connectivity edges.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return fmt.Errorf("engine already started")
	}
	e.started = true

	e.queue.SetOnline(context.Background(), e.cfg.Monitor.IsOnline())
	e.unsubscribe = e.cfg.Monitor.Subscribe(func(online bool) {
		e.queue.SetOnline(context.Background(), online)
	})

	for _, p := range e.cfg.Profiles {
		if !p.Enabled {
			e.log.Debug("Feed disabled, skipping", "feed", p.Feed)
			continue
		}

		profile := p
		e.sessions[profile.Feed] = poller.Start(poller.Config{
			Fetch:        e.fetchFor(profile),
			BaseInterval: profile.PollInterval,
			MaxInterval:  profile.PollMaxInterval,
			Multiplier:   profile.BackoffMultiplier,
			MaxFailures:  profile.MaxFailures,
			Online:       e.cfg.Monitor,
			Clock:        e.clock,
			Logger:       e.cfg.Logger.With("feed", profile.Feed),
		})
		e.log.Info("Poll session started",
			"feed", profile.Feed,
			"interval", profile.PollInterval)

		if profile.PushScope != "" && e.cfg.PushURL != "" {
			e.channels[profile.PushScope] = push.Open(push.Config{
				URL:      e.cfg.PushURL,
				Scope:    profile.PushScope,
				OnUpdate: e.applyPush,
				Clock:    e.clock,
				Logger:   e.cfg.Logger,
			})
			e.log.Info("Push channel opened", "scope", profile.PushScope)
		}
	}

	return nil
}

// Stop tears everything down: poll timers cancelled, push connections closed,
// connectivity subscription removed. The durable queue keeps its contents.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return
	}
	e.started = false

	if e.unsubscribe != nil {
		e.unsubscribe()
	}
	for feed, s := range e.sessions {
		s.Stop()
		delete(e.sessions, feed)
	}
	for scope, c := range e.channels {
		c.Close()
		delete(e.channels, scope)
	}
	e.log.Info("Sync engine stopped")
}

// Enqueue hands a write to the durable mutation queue. The returned id can be
// correlated with a later discard report; delivery happens in the background.
func (e *Engine) Enqueue(endpoint, method string, payload json.RawMessage) (string, error) {
	return e.queue.Enqueue(endpoint, method, payload)
}

// Overlay exposes the synchronized view for the rendering layer.
func (e *Engine) Overlay() *cache.Overlay {
	return e.overlay
}

// Queue exposes the mutation queue for inspection commands.
func (e *Engine) Queue() *queue.Manager {
	return e.queue
}

// Session returns the poll session for a feed, if one is running.
func (e *Engine) Session(feed string) (*poller.Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[feed]
	return s, ok
}

// fetchFor builds the per-cycle fetch operation for one feed: a retried HTTP
// GET whose result lands in the overlay tagged as a poll value.
func (e *Engine) fetchFor(p Profile) func(ctx context.Context) error {
	cfg := retry.Config{
		MaxRetries: p.FetchRetries,
		BaseDelay:  2 * time.Second,
		MaxDelay:   10 * time.Second,
		Multiplier: 2.0,
		Clock:      e.clock,
	}

	return func(ctx context.Context) error {
		var body []byte
		err := retry.Do(ctx, cfg, "fetch "+p.Feed, func(ctx context.Context) error {
			var ferr error
			body, ferr = e.cfg.API.FetchFeed(ctx, p.Feed)
			return ferr
		})
		if err != nil {
			return err
		}
		e.overlay.Apply(p.Feed, body, cache.SourcePoll)
		return nil
	}
}

// applyPush lands a pushed delta in the overlay. Arrival order wins.
func (e *Engine) applyPush(scope string, data json.RawMessage) {
	e.overlay.Apply(scope, data, cache.SourcePush)
	e.log.Debug("Push update applied", "scope", scope)
}

// deliver sends one queued mutation. Per-item retry counting is the queue's
// job; a failure here simply becomes one more attempt on the operation.
func (e *Engine) deliver(ctx context.Context, op queue.Operation) error {
	return e.cfg.API.Deliver(ctx, op.Endpoint, op.Method, op.Payload)
}

// reportDiscard fans a terminal discard out to the configured webhook. The
// queue already logged it; this must never block a drain pass for long.
func (e *Engine) reportDiscard(op queue.Operation, lastErr error) {
	if e.cfg.Webhook == nil || e.cfg.Webhook.URL == "" {
		return
	}

	report := notifications.MutationDiscard{
		Service:     "caresync",
		OperationID: op.ID,
		Endpoint:    op.Endpoint,
		Method:      op.Method,
		EnqueuedAt:  op.EnqueuedAt,
		RetryCount:  op.RetryCount,
		Message:     lastErr.Error(),
	}
	if err := e.cfg.Webhook.Notify(report); err != nil {
		e.log.Error("Failed to report mutation discard", "operation_id", op.ID, "error", err)
	}
}
