package engine

import (
	"testing"
	"time"
)

func TestProfileParseFromMap(t *testing.T) {
	settings := map[string]string{
		"x-caresync-feed":               "medications",
		"x-caresync-enabled":            "true",
		"x-caresync-poll-interval":      "45s",
		"x-caresync-poll-max-interval":  "5m",
		"x-caresync-backoff-multiplier": "2.5",
		"x-caresync-max-failures":       "4",
		"x-caresync-fetch-retries":      "1",
		"x-caresync-push-scope":         "medications",
	}

	var p Profile
	if err := p.ParseFromMap(settings); err != nil {
		t.Fatalf("ParseFromMap() error = %v", err)
	}

	if p.Feed != "medications" {
		t.Errorf("Feed = %q, want medications", p.Feed)
	}
	if !p.Enabled {
		t.Error("Enabled = false, want true")
	}
	if p.PollInterval != 45*time.Second {
		t.Errorf("PollInterval = %v, want 45s", p.PollInterval)
	}
	if p.PollMaxInterval != 5*time.Minute {
		t.Errorf("PollMaxInterval = %v, want 5m", p.PollMaxInterval)
	}
	if p.BackoffMultiplier != 2.5 {
		t.Errorf("BackoffMultiplier = %v, want 2.5", p.BackoffMultiplier)
	}
	if p.MaxFailures != 4 {
		t.Errorf("MaxFailures = %d, want 4", p.MaxFailures)
	}
	if p.FetchRetries != 1 {
		t.Errorf("FetchRetries = %d, want 1", p.FetchRetries)
	}
	if p.PushScope != "medications" {
		t.Errorf("PushScope = %q, want medications", p.PushScope)
	}
}

func TestProfileParseFromMapPartial(t *testing.T) {
	// Unknown keys are ignored and missing keys leave zero values for
	// Normalize to fill.
	var p Profile
	err := p.ParseFromMap(map[string]string{
		"x-caresync-feed":    "alerts",
		"x-caresync-enabled": "1",
		"x-unrelated-key":    "whatever",
	})
	if err != nil {
		t.Fatalf("ParseFromMap() error = %v", err)
	}
	if p.Feed != "alerts" {
		t.Errorf("Feed = %q, want alerts", p.Feed)
	}
	if !p.Enabled {
		t.Error("Enabled = false, want true for weakly-typed \"1\"")
	}
	if p.PollInterval != 0 {
		t.Errorf("PollInterval = %v, want zero before Normalize", p.PollInterval)
	}
}

func TestProfileNormalize(t *testing.T) {
	tests := []struct {
		name    string
		in      Profile
		want    Profile
		wantErr bool
	}{
		{
			name:    "missing feed rejected",
			in:      Profile{},
			wantErr: true,
		},
		{
			name: "defaults applied",
			in:   Profile{Feed: "alerts"},
			want: Profile{
				Feed:              "alerts",
				PollInterval:      30 * time.Second,
				PollMaxInterval:   2 * time.Minute,
				BackoffMultiplier: 1.5,
				MaxFailures:       3,
				FetchRetries:      2,
			},
		},
		{
			name: "max interval lifted to cover the base interval",
			in: Profile{
				Feed:            "alerts",
				PollInterval:    time.Minute,
				PollMaxInterval: 10 * time.Second,
			},
			want: Profile{
				Feed:              "alerts",
				PollInterval:      time.Minute,
				PollMaxInterval:   4 * time.Minute,
				BackoffMultiplier: 1.5,
				MaxFailures:       3,
				FetchRetries:      2,
			},
		},
		{
			name: "explicit values preserved",
			in: Profile{
				Feed:              "behavior-logs",
				Enabled:           true,
				PollInterval:      10 * time.Second,
				PollMaxInterval:   90 * time.Second,
				BackoffMultiplier: 3.0,
				MaxFailures:       7,
				FetchRetries:      1,
				PushScope:         "behavior-logs",
			},
			want: Profile{
				Feed:              "behavior-logs",
				Enabled:           true,
				PollInterval:      10 * time.Second,
				PollMaxInterval:   90 * time.Second,
				BackoffMultiplier: 3.0,
				MaxFailures:       7,
				FetchRetries:      1,
				PushScope:         "behavior-logs",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.in
			err := p.Normalize()
			if tt.wantErr {
				if err == nil {
					t.Fatal("Normalize() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Normalize() error = %v", err)
			}
			if p != tt.want {
				t.Errorf("Normalize() = %+v, want %+v", p, tt.want)
			}
		})
	}
}

func TestProfileMapRoundTrip(t *testing.T) {
	p := Profile{
		Feed:              "recognition-settings",
		Enabled:           true,
		PollInterval:      20 * time.Second,
		PollMaxInterval:   2 * time.Minute,
		BackoffMultiplier: 1.5,
		MaxFailures:       3,
		FetchRetries:      2,
		PushScope:         "recognition-settings",
	}

	var back Profile
	if err := back.ParseFromMap(p.ToMap()); err != nil {
		t.Fatalf("ParseFromMap() error = %v", err)
	}
	if back != p {
		t.Errorf("round trip = %+v, want %+v", back, p)
	}
}
