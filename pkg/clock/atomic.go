// Package clock provides a lock-free monotonic counter used to track the
// last closed ledger sequence number.
package clock

import "sync/atomic"

// AtomicClock is a concurrency-safe monotonic counter.
type AtomicClock struct {
	atomic.Uint64
}

// NewAtomic returns a clock initialized to init.
func NewAtomic(init uint64) *AtomicClock {
	var ac AtomicClock
	ac.Set(init)
	return &ac
}

// Val returns the current value.
func (ac *AtomicClock) Val() uint64 {
	return ac.Load()
}

// Next atomically increments and returns the new value.
func (ac *AtomicClock) Next() uint64 {
	return ac.Add(1)
}

// Set stores t unconditionally.
func (ac *AtomicClock) Set(t uint64) {
	ac.Store(t)
}

// CompareAndSwap is exposed for callers enforcing ledgerSeq == lastClosed+1
// without holding an external lock.
func (ac *AtomicClock) CompareAndSwap(old, new uint64) bool {
	return ac.Uint64.CompareAndSwap(old, new)
}
