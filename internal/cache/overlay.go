// Package cache holds the client's current view of server state, one entry
// per logical scope. Poll results and pushed deltas both land here;
// whichever arrives last for a scope wins.
package cache

import (
	"encoding/json"
	"sync"
	"time"
)

// Source identifies which update stream produced an entry.
type Source string

const (
	SourcePoll Source = "poll"
	SourcePush Source = "push"
)

// Entry is the latest known value for one scope.
type Entry struct {
	Scope     string          `json:"scope"`
	Value     json.RawMessage `json:"value"`
	Source    Source          `json:"source"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Overlay is a scope-keyed last-write-wins view.
type Overlay struct {
	mu      sync.RWMutex
	entries map[string]Entry
	now     func() time.Time
}

func NewOverlay() *Overlay {
	return &Overlay{
		entries: make(map[string]Entry),
		now:     time.Now,
	}
}

// Apply records a new value for scope, replacing whatever was there.
func (o *Overlay) Apply(scope string, value json.RawMessage, source Source) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries[scope] = Entry{
		Scope:     scope,
		Value:     value,
		Source:    source,
		UpdatedAt: o.now(),
	}
}

// Get returns the current entry for scope, if any.
func (o *Overlay) Get(scope string) (Entry, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	e, ok := o.entries[scope]
	return e, ok
}

// Scopes lists the scopes currently held, in no particular order.
func (o *Overlay) Scopes() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	scopes := make([]string, 0, len(o.entries))
	for s := range o.entries {
		scopes = append(scopes, s)
	}
	return scopes
}
