// Package queue captures write operations that could not complete immediately,
// persists them, and replays them in order once the network is available.
//
// Replay ordering is FIFO. A failed item is reinserted at the TAIL, not the
// head: one persistently failing operation must not block everything behind
// it. This is observable in the delivery order after partial failures.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultStoreKey is the slot the serialized queue lives under.
const DefaultStoreKey = "mutation-queue"

// Operation is one pending write. Payload is kept as raw JSON; the queue has
// no opinion about its shape.
type Operation struct {
	ID         string          `json:"id"`
	Endpoint   string          `json:"endpoint"`
	Method     string          `json:"method"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	RetryCount int             `json:"retry_count"`
}

// DeliverFunc sends one operation to the server. The server must tolerate
// re-delivery of an already-applied operation: a crash between delivery and
// store removal makes the client re-send.
type DeliverFunc func(ctx context.Context, op Operation) error

// DiscardFunc is invoked exactly once for each operation the queue gives up
// on. Discards are terminal and must never be silent.
type DiscardFunc func(op Operation, lastErr error)

// Config tunes a Manager.
type Config struct {
	// MaxRetries is how many failed delivery attempts an operation survives
	// before it is discarded.
	MaxRetries int
	// StoreKey overrides DefaultStoreKey.
	StoreKey string
	// OnDiscard receives terminal discards. Nil means log-only.
	OnDiscard DiscardFunc
	Logger    *slog.Logger
}

// Manager owns the persisted queue. It is the only writer of its store key,
// and at most one drain pass runs at a time.
type Manager struct {
	store      Store
	deliver    DeliverFunc
	onDiscard  DiscardFunc
	logger     *slog.Logger
	maxRetries int
	key        string

	mu       sync.Mutex
	ops      []Operation
	draining bool
	online   bool
}

// NewManager restores any previously persisted queue from the store and
// returns a manager ready to accept writes. Replay does not begin until the
// manager is told it is online.
func NewManager(store Store, deliver DeliverFunc, cfg Config) (*Manager, error) {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.StoreKey == "" {
		cfg.StoreKey = DefaultStoreKey
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	m := &Manager{
		store:      store,
		deliver:    deliver,
		onDiscard:  cfg.OnDiscard,
		logger:     cfg.Logger.With("component", "mutation-queue"),
		maxRetries: cfg.MaxRetries,
		key:        cfg.StoreKey,
	}

	data, err := store.Get(m.key)
	if err != nil {
		return nil, fmt.Errorf("loading persisted queue: %w", err)
	}
	if data != nil {
		if err := json.Unmarshal(data, &m.ops); err != nil {
			return nil, fmt.Errorf("decoding persisted queue: %w", err)
		}
	}

	if len(m.ops) > 0 {
		m.logger.Info("Restored pending mutations from store", "count", len(m.ops))
	}

	return m, nil
}

// Enqueue persists a new operation and returns its id without waiting for
// delivery. When the manager is online a background drain pass is kicked off.
func (m *Manager) Enqueue(endpoint, method string, payload json.RawMessage) (string, error) {
	op := Operation{
		ID:         uuid.New().String(),
		Endpoint:   endpoint,
		Method:     method,
		Payload:    payload,
		EnqueuedAt: time.Now().UTC(),
	}

	m.mu.Lock()
	m.ops = append(m.ops, op)
	err := m.persistLocked()
	online := m.online
	m.mu.Unlock()

	if err != nil {
		return "", err
	}

	m.logger.Debug("Mutation enqueued",
		"operation_id", op.ID,
		"endpoint", endpoint,
		"method", method)

	if online {
		go m.Drain(context.Background())
	}

	return op.ID, nil
}

// SetOnline records a connectivity edge. An offline→online edge triggers a
// synchronous drain pass, which is the queue's main replay moment.
func (m *Manager) SetOnline(ctx context.Context, online bool) {
	m.mu.Lock()
	wasOnline := m.online
	m.online = online
	m.mu.Unlock()

	if online && !wasOnline {
		m.Drain(ctx)
	}
}

// Pending returns a snapshot of the queued operations in replay order.
func (m *Manager) Pending() []Operation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Operation, len(m.ops))
	copy(out, m.ops)
	return out
}

// Len reports the number of queued operations.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ops)
}

// Drain attempts delivery of queued operations, head first. It stops early
// when the queue empties, the manager goes offline, a delivery fails (the
// failed item moves to the tail; the next drain comes from the next online
// edge or enqueue), or another drain pass is already running.
func (m *Manager) Drain(ctx context.Context) {
	m.mu.Lock()
	if m.draining || !m.online || len(m.ops) == 0 {
		m.mu.Unlock()
		return
	}
	m.draining = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.draining = false
		m.mu.Unlock()
	}()

	for {
		m.mu.Lock()
		if !m.online || len(m.ops) == 0 || ctx.Err() != nil {
			m.mu.Unlock()
			return
		}
		head := m.ops[0]
		m.mu.Unlock()

		err := m.deliver(ctx, head)

		if err == nil {
			m.removeAndPersist(head.ID)
			m.logger.Debug("Mutation delivered",
				"operation_id", head.ID,
				"endpoint", head.Endpoint)
			continue
		}

		m.mu.Lock()
		// Head may only have been appended-behind meanwhile; find it by id.
		idx := m.indexLocked(head.ID)
		if idx < 0 {
			m.mu.Unlock()
			continue
		}
		m.ops[idx].RetryCount++
		failed := m.ops[idx]

		if failed.RetryCount >= m.maxRetries {
			// Terminal: remove, report, keep draining the rest.
			m.ops = append(m.ops[:idx], m.ops[idx+1:]...)
			if perr := m.persistLocked(); perr != nil {
				m.logger.Error("Failed to persist queue after discard", "error", perr)
			}
			m.mu.Unlock()

			m.logger.Warn("Mutation discarded after exhausting retries",
				"operation_id", failed.ID,
				"endpoint", failed.Endpoint,
				"retry_count", failed.RetryCount,
				"error", err)
			if m.onDiscard != nil {
				m.onDiscard(failed, err)
			}
			continue
		}

		// Still under the cap: tail reinsertion, then halt this pass so a
		// struggling server is not hammered in a hot loop.
		m.ops = append(m.ops[:idx], m.ops[idx+1:]...)
		m.ops = append(m.ops, failed)
		if perr := m.persistLocked(); perr != nil {
			m.logger.Error("Failed to persist queue after requeue", "error", perr)
		}
		m.mu.Unlock()

		m.logger.Warn("Mutation delivery failed, requeued at tail",
			"operation_id", failed.ID,
			"endpoint", failed.Endpoint,
			"retry_count", failed.RetryCount,
			"error", err)
		return
	}
}

func (m *Manager) removeAndPersist(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if idx := m.indexLocked(id); idx >= 0 {
		m.ops = append(m.ops[:idx], m.ops[idx+1:]...)
	}
	if err := m.persistLocked(); err != nil {
		m.logger.Error("Failed to persist queue after delivery", "error", err)
	}
}

func (m *Manager) indexLocked(id string) int {
	for i, op := range m.ops {
		if op.ID == id {
			return i
		}
	}
	return -1
}

func (m *Manager) persistLocked() error {
	data, err := json.Marshal(m.ops)
	if err != nil {
		return fmt.Errorf("encoding queue: %w", err)
	}
	return m.store.Set(m.key, data)
}
