package txn

import (
	"time"

	"github.com/cuemby/gridcore/pkg/gridcore"
	"github.com/cuemby/gridcore/pkg/metrics"
)

// Backoff implements §4.H's timeout strategy for retryable network
// operations: next = min(current * coefficient, maxPerTry), and the
// per-operation timeout is further capped by whatever remains of the
// transaction's total deadline budget.
//
// No corpus example calls a backoff library (cenkalti/backoff and
// jpillora/backoff appear only as transitive entries in a couple of
// go.mod files, never imported directly by any example's own code) and
// none of those libraries expose the "current, capped by a second,
// independently tracked remaining-total budget" shape this formula
// needs, so this is hand-rolled against the spec's formula rather than
// adapted from a corpus usage.
type Backoff struct {
	current     time.Duration
	coefficient float64
	maxPerTry   time.Duration
	deadline    time.Time
}

// NewBackoff creates a Backoff starting at initial, growing by
// coefficient each call to Next, capped per-try at maxPerTry, and bounded
// overall by deadline.
func NewBackoff(initial time.Duration, coefficient float64, maxPerTry time.Duration, deadline time.Time) *Backoff {
	return &Backoff{current: initial, coefficient: coefficient, maxPerTry: maxPerTry, deadline: deadline}
}

// Next returns the timeout for the next retry attempt, or a TxTimeoutError
// if the transaction's total remaining budget is already exhausted.
func (b *Backoff) Next(xid string, now time.Time) (time.Duration, error) {
	remaining := b.deadline.Sub(now)
	if remaining <= 0 {
		metrics.TxTimedOut.Inc()
		return 0, &gridcore.TxTimeoutError{Xid: xid, Elapsed: now.Sub(b.deadline).String()}
	}

	next := time.Duration(float64(b.current) * b.coefficient)
	if next > b.maxPerTry {
		next = b.maxPerTry
	}
	if next <= 0 {
		next = b.current
	}
	b.current = next

	if next > remaining {
		next = remaining
	}
	return next, nil
}

// RemainingTotal reports the time left until the transaction's deadline.
func (b *Backoff) RemainingTotal(now time.Time) time.Duration {
	return b.deadline.Sub(now)
}
