// Package guard provides the small state machines every detector is built
// from: sliding-window counters, hysteresis gates, debounce counters, and
// cooldown maps. All of them take explicit timestamps so detectors stay
// deterministic under test. None of them are safe for concurrent use; each
// instance is owned by exactly one worker.
package guard

import "time"

// SlidingWindow counts timestamps inside a trailing window.
type SlidingWindow struct {
	window time.Duration
	times  []time.Time
}

// NewSlidingWindow creates a counter over the given trailing window.
func NewSlidingWindow(window time.Duration) *SlidingWindow {
	return &SlidingWindow{window: window}
}

// Record adds an occurrence and drops entries that fell out of the window.
func (w *SlidingWindow) Record(now time.Time) {
	w.times = append(w.times, now)
	w.Prune(now)
}

// Prune drops entries older than now minus the window.
func (w *SlidingWindow) Prune(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.times) && w.times[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		w.times = append(w.times[:0], w.times[i:]...)
	}
}

// Count returns the number of recorded occurrences still in the window.
func (w *SlidingWindow) Count() int {
	return len(w.times)
}

// CountSince returns occurrences within the trailing sub-window d, which
// must not exceed the window the counter was built with.
func (w *SlidingWindow) CountSince(now time.Time, d time.Duration) int {
	cutoff := now.Add(-d)
	n := 0
	for _, t := range w.times {
		if !t.Before(cutoff) {
			n++
		}
	}
	return n
}
