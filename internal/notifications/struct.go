package notifications

import "time"

type Webhook struct {
	URL      string
	Username string
	Password string
	Verify   bool
}

// MutationDiscard reports a queued write the client permanently gave up on.
// Discards are terminal: the operation was removed from the durable queue
// after exhausting its retries and will not be re-sent.
type MutationDiscard struct {
	Service     string    `json:"service"`
	OperationID string    `json:"operation_id"`
	Endpoint    string    `json:"endpoint"`
	Method      string    `json:"method"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
	RetryCount  int       `json:"retry_count"`
	Message     string    `json:"message"`
}
