// Package breaker implements a per-device circuit breaker.
//
// The breaker watches command outcomes over a rolling window. When
// enough traffic has been seen and the failure percentage crosses the
// threshold, it trips open and rejects commands instantly instead of
// letting each one burn a full network timeout. After a reset period a
// single probe command is let through; its outcome decides whether the
// circuit closes again.
package breaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Allow when the circuit is open. Callers fail
// fast without touching the network.
var ErrOpen = errors.New("breaker: circuit open")

// State is the current circuit state.
type State string

// Circuit states.
const (
	// StateClosed passes all traffic and tracks outcomes.
	StateClosed State = "closed"

	// StateOpen rejects all traffic until the reset timeout elapses.
	StateOpen State = "open"

	// StateHalfOpen lets exactly one probe through at a time.
	StateHalfOpen State = "half_open"
)

// Defaults applied by New for zero-valued config fields.
const (
	defaultWindow          = 10 * time.Second
	defaultVolumeThreshold = 5
	defaultErrorPercentage = 50.0
	defaultResetTimeout    = 30 * time.Second
)

// bucketInterval is the granularity of the rolling window. Outcomes are
// binned per second and buckets older than the window are discarded.
const bucketInterval = time.Second

// Config tunes one breaker.
type Config struct {
	// Window is how far back outcomes count toward the failure rate.
	Window time.Duration

	// VolumeThreshold is the minimum number of outcomes in the window
	// before the breaker will trip. Below it a string of failures on a
	// quiet device is not statistically meaningful.
	VolumeThreshold int

	// ErrorPercentage is the failure rate (0-100) at or above which the
	// circuit trips.
	ErrorPercentage float64

	// ResetTimeout is how long an open circuit waits before allowing a
	// half-open probe.
	ResetTimeout time.Duration

	// ProbeFailureReopens controls half-open behaviour after a failed
	// probe: true re-opens for a full ResetTimeout, false allows the
	// next command to probe again immediately.
	ProbeFailureReopens bool

	// Clock overrides time.Now for tests.
	Clock func() time.Time
}

type bucket struct {
	start     time.Time
	successes int
	failures  int
}

// Breaker is a single circuit breaker.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Breaker struct {
	cfg   Config
	clock func() time.Time

	mu       sync.Mutex
	state    State
	buckets  []bucket
	openedAt time.Time
	probing  bool

	// Lifetime counters for health snapshots.
	totalTrips    uint64
	totalRejected uint64
}

// New creates a closed breaker, substituting defaults for zero values.
func New(cfg Config) *Breaker {
	if cfg.Window <= 0 {
		cfg.Window = defaultWindow
	}
	if cfg.VolumeThreshold <= 0 {
		cfg.VolumeThreshold = defaultVolumeThreshold
	}
	if cfg.ErrorPercentage <= 0 {
		cfg.ErrorPercentage = defaultErrorPercentage
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = defaultResetTimeout
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Breaker{cfg: cfg, clock: clock, state: StateClosed}
}

// Allow reports whether a command may proceed. It returns ErrOpen when
// the circuit is open, transitioning open to half-open once the reset
// timeout has elapsed. In half-open only one probe is admitted at a
// time.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		if b.clock().Sub(b.openedAt) < b.cfg.ResetTimeout {
			b.totalRejected++
			return ErrOpen
		}
		b.state = StateHalfOpen
		b.probing = true
		return nil

	case StateHalfOpen:
		if b.probing {
			b.totalRejected++
			return ErrOpen
		}
		b.probing = true
		return nil
	}
	return nil
}

// RecordSuccess notes a successful command outcome.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		// Probe succeeded; the device is back.
		b.state = StateClosed
		b.probing = false
		b.buckets = nil
		return
	}
	b.record(true)
}

// RecordFailure notes a failed command outcome and trips the circuit if
// the window crosses the threshold.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.probing = false
		if b.cfg.ProbeFailureReopens {
			b.trip()
		}
		// Otherwise stay half-open; the next Allow admits a new probe.
		return
	}

	b.record(false)
	if b.state != StateClosed {
		return
	}

	successes, failures := b.windowTotals()
	total := successes + failures
	if total < b.cfg.VolumeThreshold {
		return
	}
	pct := float64(failures) / float64(total) * 100
	if pct >= b.cfg.ErrorPercentage {
		b.trip()
	}
}

// trip opens the circuit. Caller must hold b.mu.
func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = b.clock()
	b.probing = false
	b.buckets = nil
	b.totalTrips++
}

// record bins one outcome into the current bucket and prunes buckets
// that fell out of the window. Caller must hold b.mu.
func (b *Breaker) record(success bool) {
	now := b.clock()
	slot := now.Truncate(bucketInterval)

	n := len(b.buckets)
	if n == 0 || !b.buckets[n-1].start.Equal(slot) {
		b.buckets = append(b.buckets, bucket{start: slot})
		n++
	}
	if success {
		b.buckets[n-1].successes++
	} else {
		b.buckets[n-1].failures++
	}

	cutoff := now.Add(-b.cfg.Window)
	i := 0
	for i < len(b.buckets) && b.buckets[i].start.Before(cutoff) {
		i++
	}
	if i > 0 {
		b.buckets = b.buckets[i:]
	}
}

// windowTotals sums outcomes still inside the window. Caller must hold b.mu.
func (b *Breaker) windowTotals() (successes, failures int) {
	cutoff := b.clock().Add(-b.cfg.Window)
	for _, bk := range b.buckets {
		if bk.start.Before(cutoff) {
			continue
		}
		successes += bk.successes
		failures += bk.failures
	}
	return successes, failures
}

// State returns the current circuit state, applying the open-to-half-open
// transition if the reset timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && b.clock().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Stats is a point-in-time breaker snapshot for health reporting.
type Stats struct {
	State           State   `json:"state"`
	WindowSuccesses int     `json:"window_successes"`
	WindowFailures  int     `json:"window_failures"`
	FailureRate     float64 `json:"failure_rate"`
	Trips           uint64  `json:"trips"`
	Rejected        uint64  `json:"rejected"`
}

// Snapshot returns current statistics.
func (b *Breaker) Snapshot() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, f := b.windowTotals()
	st := Stats{
		State:           b.state,
		WindowSuccesses: s,
		WindowFailures:  f,
		Trips:           b.totalTrips,
		Rejected:        b.totalRejected,
	}
	if s+f > 0 {
		st.FailureRate = float64(f) / float64(s+f) * 100
	}
	return st
}
