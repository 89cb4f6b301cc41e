package retry

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Config defines the parameters for the exponential backoff and retry mechanism.
// It allows fine-tuning of how aggressive the system should be when handling transient errors.
type Config struct {
	// MaxRetries is the maximum number of additional attempts after the initial failure.
	// For example, if MaxRetries is 3, the operation runs at most 4 times (1 initial + 3 retries).
	MaxRetries int

	// BaseDelay is the initial wait time before the first retry.
	// This duration increases multiplicatively with each attempt (BaseDelay * Multiplier^attempt).
	BaseDelay time.Duration

	// MaxDelay is the hard limit for the sleep duration between retries.
	// Even if the exponential calculation exceeds this value, the wait time will be capped here.
	MaxDelay time.Duration

	// Multiplier is the backoff growth factor. Values below 1.0 are treated as 2.0.
	Multiplier float64

	// Jitter randomizes each wait by up to 50% of the computed delay to avoid
	// synchronized retry storms. Off by default so delays stay predictable.
	Jitter bool

	// OperationTimeout is the total time limit for the entire operation, including all retries.
	// Zero means no additional timeout beyond what the caller's context imposes.
	OperationTimeout time.Duration

	// RetryIf decides whether a given failure is worth retrying.
	// Nil means DefaultRetryable.
	RetryIf func(err error) bool

	// OnRetry is invoked before each retry with the 1-based attempt number that
	// just failed and its error. Purely observational; it cannot veto the retry.
	OnRetry func(attempt int, err error)

	// Clock is the time source for backoff waits. Nil means the real clock.
	Clock clockwork.Clock
}

func (c Config) normalized() Config {
	if c.Multiplier < 1.0 {
		c.Multiplier = 2.0
	}
	if c.RetryIf == nil {
		c.RetryIf = DefaultRetryable
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return c
}
