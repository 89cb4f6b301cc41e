package cache

import (
	"encoding/json"
	"testing"
)

func TestOverlayLastWriteWins(t *testing.T) {
	o := NewOverlay()

	o.Apply("alerts", json.RawMessage(`{"count":1}`), SourcePoll)
	o.Apply("alerts", json.RawMessage(`{"count":2}`), SourcePush)

	entry, ok := o.Get("alerts")
	if !ok {
		t.Fatal("expected entry for scope alerts")
	}
	if string(entry.Value) != `{"count":2}` {
		t.Errorf("Value = %s, want pushed value", entry.Value)
	}
	if entry.Source != SourcePush {
		t.Errorf("Source = %s, want %s", entry.Source, SourcePush)
	}

	// A later poll result replaces the pushed value just the same;
	// arrival order is the only tiebreaker.
	o.Apply("alerts", json.RawMessage(`{"count":3}`), SourcePoll)
	entry, _ = o.Get("alerts")
	if string(entry.Value) != `{"count":3}` {
		t.Errorf("Value = %s, want latest arrival", entry.Value)
	}
}

func TestOverlayScopesAreIndependent(t *testing.T) {
	o := NewOverlay()
	o.Apply("alerts", json.RawMessage(`1`), SourcePoll)
	o.Apply("medications", json.RawMessage(`2`), SourcePush)

	if _, ok := o.Get("behavior-logs"); ok {
		t.Error("unexpected entry for unknown scope")
	}
	if got := len(o.Scopes()); got != 2 {
		t.Errorf("Scopes count = %d, want 2", got)
	}

	entry, _ := o.Get("alerts")
	if string(entry.Value) != `1` {
		t.Errorf("alerts = %s, want 1", entry.Value)
	}
}
