package schedule

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrTimeout = errors.New("wait timed out")

// Waiter hands gateway events to goroutines blocked on a matching event.
type Waiter[T any] struct {
	mu    sync.Mutex
	clock Clock
	next  int
	waits map[int]*pending[T]
}

type pending[T any] struct {
	match func(T) bool
	ch    chan T
}

func NewWaiter[T any](clock Clock) *Waiter[T] {
	if clock == nil {
		clock = realClock{}
	}
	return &Waiter[T]{clock: clock, waits: make(map[int]*pending[T])}
}

// Wait blocks until Dispatch receives an event accepted by match, the
// timeout elapses, or ctx ends.
func (w *Waiter[T]) Wait(ctx context.Context, timeout time.Duration, match func(T) bool) (T, error) {
	p := &pending[T]{match: match, ch: make(chan T, 1)}
	w.mu.Lock()
	id := w.next
	w.next++
	w.waits[id] = p
	w.mu.Unlock()

	expired := make(chan struct{})
	timer := w.clock.AfterFunc(timeout, func() { close(expired) })
	defer func() {
		timer.Stop()
		w.mu.Lock()
		delete(w.waits, id)
		w.mu.Unlock()
	}()

	var zero T
	select {
	case ev := <-p.ch:
		return ev, nil
	case <-expired:
		return zero, ErrTimeout
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Dispatch delivers ev to every waiter it matches and reports whether any
// did. Each waiter receives at most one event.
func (w *Waiter[T]) Dispatch(ev T) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	delivered := false
	for id, p := range w.waits {
		if !p.match(ev) {
			continue
		}
		select {
		case p.ch <- ev:
			delivered = true
		default:
		}
		delete(w.waits, id)
	}
	return delivered
}

func (w *Waiter[T]) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.waits)
}
