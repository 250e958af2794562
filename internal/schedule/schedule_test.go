package schedule

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeTimer struct {
	stop bool
	fn   func()
}

func (t *fakeTimer) Stop() bool {
	t.stop = true
	return true
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
	delays []time.Duration
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTimer{fn: fn}
	f.timers = append(f.timers, t)
	f.delays = append(f.delays, d)
	return t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	pending := append([]*fakeTimer{}, f.timers...)
	f.timers = nil
	f.delays = nil
	f.mu.Unlock()
	for _, timer := range pending {
		if !timer.stop {
			timer.fn()
		}
	}
}

func TestSchedulerRunsJob(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	s := NewScheduler(clock)

	ran := 0
	s.At("g:u", time.Unix(60, 0), func() { ran++ })
	if s.Pending() != 1 {
		t.Fatalf("expected pending job")
	}
	if clock.delays[0] != time.Minute {
		t.Fatalf("expected 1m delay, got %s", clock.delays[0])
	}

	clock.Advance(time.Minute)
	if ran != 1 {
		t.Fatalf("expected job to run once, ran %d", ran)
	}
	if s.Pending() != 0 {
		t.Fatalf("expected no pending jobs")
	}
}

func TestSchedulerReplaceAndCancel(t *testing.T) {
	clock := &fakeClock{now: time.Unix(100, 0)}
	s := NewScheduler(clock)

	first, second := 0, 0
	s.After("k", time.Second, func() { first++ })
	s.After("k", time.Second, func() { second++ })
	clock.Advance(time.Second)
	if first != 0 || second != 1 {
		t.Fatalf("expected replaced job only, got %d %d", first, second)
	}

	s.After("k", time.Second, func() { first++ })
	if !s.Cancel("k") {
		t.Fatalf("expected cancel to stop a job")
	}
	clock.Advance(time.Second)
	if first != 0 {
		t.Fatalf("cancelled job ran")
	}
	if s.Cancel("k") {
		t.Fatalf("expected nothing to cancel")
	}
}

func TestSchedulerPastTimeRunsImmediately(t *testing.T) {
	clock := &fakeClock{now: time.Unix(100, 0)}
	s := NewScheduler(clock)
	s.At("k", time.Unix(50, 0), func() {})
	if clock.delays[0] != 0 {
		t.Fatalf("expected zero delay, got %s", clock.delays[0])
	}
}

func TestWaiterDelivers(t *testing.T) {
	w := NewWaiter[string](&fakeClock{})
	done := make(chan string, 1)
	go func() {
		got, err := w.Wait(context.Background(), time.Minute, func(s string) bool { return s == "yes" })
		if err != nil {
			done <- "error: " + err.Error()
			return
		}
		done <- got
	}()

	for w.Len() == 0 {
		time.Sleep(time.Millisecond)
	}
	if w.Dispatch("no") {
		t.Fatalf("unexpected match")
	}
	if !w.Dispatch("yes") {
		t.Fatalf("expected match")
	}
	if got := <-done; got != "yes" {
		t.Fatalf("expected yes, got %q", got)
	}
}

func TestWaiterTimesOut(t *testing.T) {
	clock := &fakeClock{}
	w := NewWaiter[int](clock)
	errs := make(chan error, 1)
	go func() {
		_, err := w.Wait(context.Background(), 30*time.Second, func(int) bool { return true })
		errs <- err
	}()

	for w.Len() == 0 {
		time.Sleep(time.Millisecond)
	}
	// AfterFunc is registered right after the pending entry.
	for {
		clock.mu.Lock()
		n := len(clock.timers)
		clock.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	clock.Advance(30 * time.Second)
	if err := <-errs; err != ErrTimeout {
		t.Fatalf("expected timeout, got %v", err)
	}
	if w.Len() != 0 {
		t.Fatalf("expected waiter cleanup")
	}
}

func TestWaiterContextCancel(t *testing.T) {
	w := NewWaiter[int](&fakeClock{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := w.Wait(ctx, time.Minute, func(int) bool { return true }); err != context.Canceled {
		t.Fatalf("expected canceled, got %v", err)
	}
}
