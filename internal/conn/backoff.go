package conn

import (
	"context"
	"math/rand"
	"time"
)

// Backoff defaults for reconnect attempts.
const (
	// defaultInitialBackoff is the delay before the first reconnect.
	defaultInitialBackoff = 200 * time.Millisecond

	// defaultMaxBackoff caps the delay between reconnect attempts.
	defaultMaxBackoff = 10 * time.Second

	// backoffJitterFraction is how much of the computed delay is
	// randomised, so a rack of devices rebooting together does not
	// produce synchronised reconnect storms.
	backoffJitterFraction = 0.25
)

// Backoff computes jittered exponential delays between reconnect
// attempts. The zero value is not usable; call newBackoff.
//
// Thread Safety:
//   - NOT safe for concurrent use. Each connection owns its own Backoff
//     and touches it only from the owning worker goroutine.
type Backoff struct {
	initial  time.Duration
	max      time.Duration
	attempts int
}

// newBackoff returns a Backoff with the given bounds, substituting
// defaults for zero values.
func newBackoff(initial, max time.Duration) *Backoff {
	if initial <= 0 {
		initial = defaultInitialBackoff
	}
	if max <= 0 {
		max = defaultMaxBackoff
	}
	return &Backoff{initial: initial, max: max}
}

// Next returns the delay to apply before the upcoming attempt and
// advances the attempt counter. The first call returns zero so a fresh
// connection dials immediately.
func (b *Backoff) Next() time.Duration {
	if b.attempts == 0 {
		b.attempts++
		return 0
	}

	d := b.initial << (b.attempts - 1)
	if d > b.max || d <= 0 { // <= 0 guards shift overflow
		d = b.max
	}
	b.attempts++

	// Apply +/- jitter around the computed delay.
	jitter := time.Duration(float64(d) * backoffJitterFraction)
	if jitter > 0 {
		d += time.Duration(rand.Int63n(int64(2*jitter))) - jitter
	}
	return d
}

// Wait sleeps for the next delay, returning early if ctx is cancelled.
func (b *Backoff) Wait(ctx context.Context) error {
	d := b.Next()
	if d <= 0 {
		return nil
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Reset clears the attempt counter after a successful connection.
func (b *Backoff) Reset() {
	b.attempts = 0
}
