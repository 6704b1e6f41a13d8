package breaker

import (
	"errors"
	"testing"
	"time"
)

// fakeClock lets tests march time forward deterministically.
type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestBreaker(clock *fakeClock, probeReopens bool) *Breaker {
	return New(Config{
		Window:              10 * time.Second,
		VolumeThreshold:     5,
		ErrorPercentage:     50,
		ResetTimeout:        30 * time.Second,
		ProbeFailureReopens: probeReopens,
		Clock:               clock.Now,
	})
}

// tripBreaker drives enough failures through a closed breaker to open it.
func tripBreaker(t *testing.T, b *Breaker, clock *fakeClock) {
	t.Helper()
	for i := 0; i < 5; i++ {
		if err := b.Allow(); err != nil {
			t.Fatalf("Allow() #%d error = %v, breaker tripped early", i, err)
		}
		b.RecordFailure()
		clock.Advance(100 * time.Millisecond)
	}
	if b.State() != StateOpen {
		t.Fatalf("State() = %v after 5 failures, want open", b.State())
	}
}

func TestBreakerStaysClosedBelowVolumeThreshold(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock, true)

	// 4 failures out of 4 is 100% but below the volume threshold.
	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	if b.State() != StateClosed {
		t.Errorf("State() = %v, want closed below volume threshold", b.State())
	}
	if err := b.Allow(); err != nil {
		t.Errorf("Allow() error = %v, want nil", err)
	}
}

func TestBreakerStaysClosedBelowErrorPercentage(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock, true)

	// 4 failures out of 10 is 40%, under the 50% threshold.
	for i := 0; i < 6; i++ {
		b.RecordSuccess()
	}
	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	if b.State() != StateClosed {
		t.Errorf("State() = %v, want closed at 40%% failure rate", b.State())
	}
}

func TestBreakerTripsAtThreshold(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock, true)

	// 5 failures out of 10 is exactly 50%.
	for i := 0; i < 5; i++ {
		b.RecordSuccess()
	}
	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	if b.State() != StateOpen {
		t.Errorf("State() = %v, want open at 50%% failure rate", b.State())
	}
	if err := b.Allow(); !errors.Is(err, ErrOpen) {
		t.Errorf("Allow() error = %v, want ErrOpen", err)
	}
}

func TestBreakerFastFailWhileOpen(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock, true)
	tripBreaker(t, b, clock)

	// Every Allow before the reset timeout rejects without blocking.
	start := time.Now()
	for i := 0; i < 100; i++ {
		if err := b.Allow(); !errors.Is(err, ErrOpen) {
			t.Fatalf("Allow() #%d error = %v, want ErrOpen", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 5*time.Millisecond {
		t.Errorf("100 rejections took %v, open circuit must fail fast", elapsed)
	}

	if got := b.Snapshot().Rejected; got != 100 {
		t.Errorf("Snapshot().Rejected = %d, want 100", got)
	}
}

func TestBreakerHalfOpenSingleProbe(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock, true)
	tripBreaker(t, b, clock)

	clock.Advance(30 * time.Second)
	if b.State() != StateHalfOpen {
		t.Fatalf("State() = %v after reset timeout, want half_open", b.State())
	}

	// First Allow admits the probe; the second rejects while the probe
	// is outstanding.
	if err := b.Allow(); err != nil {
		t.Fatalf("probe Allow() error = %v", err)
	}
	if err := b.Allow(); !errors.Is(err, ErrOpen) {
		t.Errorf("second Allow() during probe error = %v, want ErrOpen", err)
	}
}

func TestBreakerRecoversOnProbeSuccess(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock, true)
	tripBreaker(t, b, clock)

	clock.Advance(30 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("probe Allow() error = %v", err)
	}
	b.RecordSuccess()

	if b.State() != StateClosed {
		t.Errorf("State() = %v after probe success, want closed", b.State())
	}
	// Window must be clean: old failures do not re-trip the circuit.
	if err := b.Allow(); err != nil {
		t.Errorf("Allow() after recovery error = %v", err)
	}
	snap := b.Snapshot()
	if snap.WindowFailures != 0 {
		t.Errorf("WindowFailures = %d after recovery, want 0", snap.WindowFailures)
	}
}

func TestBreakerProbeFailureReopens(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock, true)
	tripBreaker(t, b, clock)

	clock.Advance(30 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("probe Allow() error = %v", err)
	}
	b.RecordFailure()

	if b.State() != StateOpen {
		t.Fatalf("State() = %v after failed probe, want open", b.State())
	}
	// A fresh reset timeout applies.
	clock.Advance(29 * time.Second)
	if err := b.Allow(); !errors.Is(err, ErrOpen) {
		t.Errorf("Allow() before new reset timeout error = %v, want ErrOpen", err)
	}
	clock.Advance(time.Second)
	if err := b.Allow(); err != nil {
		t.Errorf("Allow() after new reset timeout error = %v", err)
	}
}

func TestBreakerProbeFailureStaysHalfOpen(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock, false)
	tripBreaker(t, b, clock)

	clock.Advance(30 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("probe Allow() error = %v", err)
	}
	b.RecordFailure()

	if b.State() != StateHalfOpen {
		t.Fatalf("State() = %v after failed probe, want half_open", b.State())
	}
	// Next command probes immediately, no reset timeout.
	if err := b.Allow(); err != nil {
		t.Errorf("Allow() for next probe error = %v", err)
	}
}

func TestBreakerWindowExpiry(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock, true)

	// 4 failures, then let them age out of the 10s window.
	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	clock.Advance(11 * time.Second)

	// A fifth failure now sees only itself in the window: volume 1,
	// below threshold, so the circuit stays closed.
	b.RecordFailure()
	if b.State() != StateClosed {
		t.Errorf("State() = %v, want closed after window expiry", b.State())
	}

	snap := b.Snapshot()
	if snap.WindowFailures != 1 {
		t.Errorf("WindowFailures = %d, want 1", snap.WindowFailures)
	}
}

func TestBreakerSnapshot(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock, true)

	b.RecordSuccess()
	b.RecordSuccess()
	b.RecordFailure()

	snap := b.Snapshot()
	if snap.State != StateClosed {
		t.Errorf("State = %v, want closed", snap.State)
	}
	if snap.WindowSuccesses != 2 || snap.WindowFailures != 1 {
		t.Errorf("window = %d/%d, want 2 successes 1 failure",
			snap.WindowSuccesses, snap.WindowFailures)
	}
	if snap.FailureRate < 33 || snap.FailureRate > 34 {
		t.Errorf("FailureRate = %.1f, want ~33.3", snap.FailureRate)
	}
}

func TestBreakerDefaults(t *testing.T) {
	b := New(Config{})
	if b.cfg.Window != defaultWindow {
		t.Errorf("Window = %v, want %v", b.cfg.Window, defaultWindow)
	}
	if b.cfg.VolumeThreshold != defaultVolumeThreshold {
		t.Errorf("VolumeThreshold = %d, want %d", b.cfg.VolumeThreshold, defaultVolumeThreshold)
	}
	if b.cfg.ErrorPercentage != defaultErrorPercentage {
		t.Errorf("ErrorPercentage = %v, want %v", b.cfg.ErrorPercentage, defaultErrorPercentage)
	}
	if b.cfg.ResetTimeout != defaultResetTimeout {
		t.Errorf("ResetTimeout = %v, want %v", b.cfg.ResetTimeout, defaultResetTimeout)
	}
}
