package engine

import (
	"fmt"
	"strconv"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// parseProfileFromMap is a generic helper to unmarshal a map[string]string
// into a strongly-typed profile struct using JSON tags.
// It uses weak typing to handle string-to-int/bool conversions.
func parseProfileFromMap[T any](settings map[string]string) (*T, error) {
	var result T

	config := &mapstructure.DecoderConfig{
		Result:           &result,
		WeaklyTypedInput: true,
		TagName:          "json",
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
		),
	}

	decoder, err := mapstructure.NewDecoder(config)
	if err != nil {
		return nil, err
	}

	if err := decoder.Decode(settings); err != nil {
		return nil, err
	}

	return &result, nil
}

// Profile describes how one logical data feed is synchronized: its poll
// cadence, how hard its scheduler backs off, and which push scope overlays it.
// Profiles arrive as string maps (flags, env, or server-provided settings)
// and are hydrated the same way volume metadata hydrates a policy.
//
// Fields:
//   - Feed: the feed endpoint relative to the API base (e.g. "alerts").
//   - Enabled: master switch for polling this feed.
//   - PollInterval: healthy spacing between fetches. Defaults to 30s.
//   - PollMaxInterval: cap for the stretched interval. Defaults to 2m.
//   - BackoffMultiplier: interval growth per consecutive failure. Defaults to 1.5.
//   - MaxFailures: consecutive-failure cap before the feed pauses. Defaults to 3.
//   - FetchRetries: per-cycle retries inside one fetch. Defaults to 2.
//   - PushScope: push-channel scope overlaying this feed; empty disables push.
type Profile struct {
	Feed              string        `json:"x-caresync-feed"`
	Enabled           bool          `json:"x-caresync-enabled"`
	PollInterval      time.Duration `json:"x-caresync-poll-interval"`
	PollMaxInterval   time.Duration `json:"x-caresync-poll-max-interval"`
	BackoffMultiplier float64       `json:"x-caresync-backoff-multiplier"`
	MaxFailures       int           `json:"x-caresync-max-failures"`
	FetchRetries      int           `json:"x-caresync-fetch-retries"`
	PushScope         string        `json:"x-caresync-push-scope"`
}

// Normalize validates the profile and fills in defaults for anything unset.
func (p *Profile) Normalize() error {
	if p.Feed == "" {
		return fmt.Errorf("profile missing feed name")
	}
	if p.PollInterval <= 0 {
		p.PollInterval = 30 * time.Second
	}
	if p.PollMaxInterval < p.PollInterval {
		p.PollMaxInterval = 4 * p.PollInterval
	}
	if p.BackoffMultiplier < 1.0 {
		p.BackoffMultiplier = 1.5
	}
	if p.MaxFailures <= 0 {
		p.MaxFailures = 3
	}
	if p.FetchRetries < 0 {
		p.FetchRetries = 0
	} else if p.FetchRetries == 0 {
		p.FetchRetries = 2
	}
	return nil
}

// ParseFromMap hydrates the profile from a string map.
func (p *Profile) ParseFromMap(settings map[string]string) error {
	parsed, err := parseProfileFromMap[Profile](settings)
	if err != nil {
		return err
	}
	*p = *parsed
	return nil
}

// ToMap serializes the profile back into the string-map form it came from.
func (p *Profile) ToMap() map[string]string {
	return map[string]string{
		"x-caresync-feed":               p.Feed,
		"x-caresync-enabled":            strconv.FormatBool(p.Enabled),
		"x-caresync-poll-interval":      p.PollInterval.String(),
		"x-caresync-poll-max-interval":  p.PollMaxInterval.String(),
		"x-caresync-backoff-multiplier": strconv.FormatFloat(p.BackoffMultiplier, 'f', -1, 64),
		"x-caresync-max-failures":       strconv.Itoa(p.MaxFailures),
		"x-caresync-fetch-retries":      strconv.Itoa(p.FetchRetries),
		"x-caresync-push-scope":         p.PushScope,
	}
}
