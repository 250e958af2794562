package utils

import (
	"sync"
	"time"
)

// SlidingWindow keeps the most recent hits in a fixed ring. Once full, each
// Add overwrites the oldest hit.
type SlidingWindow struct {
	mu     sync.Mutex
	window time.Duration
	hits   []time.Time
	next   int
	full   bool
}

func NewSlidingWindow(window time.Duration, capacity int) *SlidingWindow {
	if capacity < 1 {
		capacity = 1
	}
	return &SlidingWindow{window: window, hits: make([]time.Time, capacity)}
}

// Add records a hit and returns how many retained hits fall inside the
// window ending at now.
func (w *SlidingWindow) Add(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.hits[w.next] = now
	w.next = (w.next + 1) % len(w.hits)
	if w.next == 0 {
		w.full = true
	}
	return w.count(now)
}

func (w *SlidingWindow) Count(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count(now)
}

func (w *SlidingWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.full {
		return len(w.hits)
	}
	return w.next
}

func (w *SlidingWindow) count(now time.Time) int {
	n := w.next
	if w.full {
		n = len(w.hits)
	}
	cutoff := now.Add(-w.window)
	count := 0
	for _, hit := range w.hits[:n] {
		if hit.After(cutoff) && !hit.After(now) {
			count++
		}
	}
	return count
}
