package queue

import (
	"sort"
	"sync"
	"time"
)

// latencyWindowSize bounds the reservoir of recent exchange durations
// backing the health snapshot percentiles.
const latencyWindowSize = 128

// latencyWindow keeps the most recent exchange durations in a ring.
type latencyWindow struct {
	mu      sync.Mutex
	samples [latencyWindowSize]time.Duration
	next    int
	filled  bool
}

// record adds one exchange duration, evicting the oldest when full.
func (l *latencyWindow) record(d time.Duration) {
	l.mu.Lock()
	l.samples[l.next] = d
	l.next++
	if l.next == len(l.samples) {
		l.next = 0
		l.filled = true
	}
	l.mu.Unlock()
}

// percentiles returns p50/p95/p99 of the recorded samples in
// milliseconds, or zeroes when nothing has been recorded yet.
func (l *latencyWindow) percentiles() (p50, p95, p99 float64) {
	l.mu.Lock()
	n := l.next
	if l.filled {
		n = len(l.samples)
	}
	sorted := make([]time.Duration, n)
	copy(sorted, l.samples[:n])
	l.mu.Unlock()

	if n == 0 {
		return 0, 0, 0
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	at := func(p float64) float64 {
		idx := int(p*float64(n-1) + 0.5)
		return float64(sorted[idx]) / float64(time.Millisecond)
	}
	return at(0.50), at(0.95), at(0.99)
}
