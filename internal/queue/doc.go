// Package queue serialises command execution per device.
//
// Each device gets one Worker: a bounded FIFO queue drained by a single
// goroutine that owns the device's connection. At most one command is in
// flight per device at any moment, so devices that confuse interleaved
// requests only ever see one at a time. Callers submit a command and
// receive a Future to wait on; ordering between different devices is
// never coordinated.
//
// The worker consults the device's circuit breaker before every network
// attempt, applies the retry policy (transport failures retry, protocol
// errors never do, non-idempotent commands stop retrying once bytes may
// have reached the device) and reports each outcome back to the breaker.
package queue
