package worker

import (
	"math"
	"time"
)

// RetryPolicy controls the backoff between sheet sync attempts.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultSheetsRetry is the policy the binaries run the sheets worker
// with. The one-minute cap keeps a long Sheets outage from pushing
// retries past the pending-task poll interval by orders of magnitude.
func DefaultSheetsRetry() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    5,
		InitialDelay:  2 * time.Second,
		MaxDelay:      time.Minute,
		BackoffFactor: 2,
	}
}

// NextDelay returns the backoff for a 1-based attempt number, clamped
// to MaxDelay. Zero-valued fields fall back to sane defaults so a
// partially filled policy still progresses.
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if r.InitialDelay <= 0 {
		r.InitialDelay = time.Second
	}
	if r.BackoffFactor <= 0 {
		r.BackoffFactor = 2
	}

	delay := float64(r.InitialDelay) * math.Pow(r.BackoffFactor, float64(attempt-1))
	d := time.Duration(delay)
	if r.MaxDelay > 0 && d > r.MaxDelay {
		d = r.MaxDelay
	}
	if d <= 0 {
		d = time.Second
	}
	return d
}
