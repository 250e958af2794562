// Package schedule provides the clock, keyed timers, and event waiters the
// modules use for delayed work.
package schedule

import (
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type Timer interface {
	Stop() bool
}

type realClock struct{}

type realTimer struct{ t *time.Timer }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return realTimer{t: time.AfterFunc(d, f)}
}

func (t realTimer) Stop() bool { return t.t.Stop() }

func RealClock() Clock { return realClock{} }

// Scheduler runs at most one pending job per key.
type Scheduler struct {
	mu     sync.Mutex
	clock  Clock
	timers map[string]Timer
}

func NewScheduler(clock Clock) *Scheduler {
	if clock == nil {
		clock = realClock{}
	}
	return &Scheduler{clock: clock, timers: make(map[string]Timer)}
}

func (s *Scheduler) Clock() Clock { return s.clock }

// At runs fn at the given time, or right away when it already passed. A job
// already pending under key is replaced.
func (s *Scheduler) At(key string, at time.Time, fn func()) {
	delay := at.Sub(s.clock.Now())
	if delay < 0 {
		delay = 0
	}
	s.After(key, delay, fn)
}

func (s *Scheduler) After(key string, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing := s.timers[key]; existing != nil {
		existing.Stop()
	}
	var timer Timer
	timer = s.clock.AfterFunc(d, func() {
		s.mu.Lock()
		if s.timers[key] == timer {
			delete(s.timers, key)
		}
		s.mu.Unlock()
		fn()
	})
	s.timers[key] = timer
}

func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	timer := s.timers[key]
	if timer == nil {
		return false
	}
	delete(s.timers, key)
	return timer.Stop()
}

func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *Scheduler) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, timer := range s.timers {
		timer.Stop()
		delete(s.timers, key)
	}
}
