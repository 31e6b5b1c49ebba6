package pool

import (
	"sync/atomic"
	"time"
)

// ErrorWindow counts events over a trailing window using one bucket per
// second. Buckets are reused round-robin; a bucket whose stamp falls outside
// the window is treated as empty. All operations are lock-free.
type ErrorWindow struct {
	buckets []errorBucket
}

// errorBucket packs the second it belongs to and its event count into one
// word, so a bucket moving to a new second and the increment happen in the
// same CompareAndSwap.
type errorBucket struct {
	state atomic.Uint64
}

const (
	countBits = 24
	countMask = 1<<countBits - 1
)

func packBucket(sec, count int64) uint64 {
	return uint64(sec)<<countBits | uint64(count)
}

func unpackBucket(state uint64) (sec, count int64) {
	return int64(state >> countBits), int64(state & countMask)
}

// NewErrorWindow creates a window covering the given duration, rounded up to
// whole seconds.
func NewErrorWindow(window time.Duration) *ErrorWindow {
	seconds := int((window + time.Second - 1) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return &ErrorWindow{buckets: make([]errorBucket, seconds)}
}

// Add records one event at now. An event older than the second its bucket
// already holds is dropped, and a bucket saturates at 2^24-1 events.
func (w *ErrorWindow) Add(now time.Time) {
	sec := now.Unix()
	b := &w.buckets[w.index(sec)]
	for {
		state := b.state.Load()
		stamp, count := unpackBucket(state)
		switch {
		case stamp > sec:
			return
		case stamp < sec:
			count = 0
		case count == countMask:
			return
		}
		if b.state.CompareAndSwap(state, packBucket(sec, count+1)) {
			return
		}
	}
}

// Count returns the number of events recorded within the window ending at now.
func (w *ErrorWindow) Count(now time.Time) int64 {
	sec := now.Unix()
	size := int64(len(w.buckets))

	var total int64
	for i := range w.buckets {
		stamp, count := unpackBucket(w.buckets[i].state.Load())
		if stamp <= sec && sec-stamp < size {
			total += count
		}
	}
	return total
}

// Allow reports whether fewer than threshold events happened within the
// window ending at now.
func (w *ErrorWindow) Allow(now time.Time, threshold int64) bool {
	return w.Count(now) < threshold
}

func (w *ErrorWindow) index(sec int64) int {
	n := int64(len(w.buckets))
	return int(((sec % n) + n) % n)
}
