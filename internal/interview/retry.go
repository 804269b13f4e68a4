package interview

import "time"

// RetryPolicy bounds how many failed submissions may be retried on a single
// turn. The counter resets on every successful exchange, so unrelated
// failures on different turns never eat into each other's budget. A retry is
// only ever offered through explicit user confirmation, after Delay.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// DefaultRetryPolicy matches the engine's expectations: three attempts per
// turn with a one second pause before each offer.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Delay: time.Second}
}

// Exhausted reports whether attempts has reached the ceiling.
func (p RetryPolicy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}
