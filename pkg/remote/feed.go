package remote

import (
	"sync"
	"sync/atomic"
)

// Feed delivers snapshots to one callback on its own goroutine, in push
// order. A snapshot that is superseded before delivery is dropped: consumers
// only ever need the latest full state.
type Feed[T any] struct {
	fn func([]T)

	mu      sync.Mutex
	pending []T
	has     bool

	cancelled atomic.Bool
	wake      chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
	exited    chan struct{}
}

func NewFeed[T any](fn func([]T)) *Feed[T] {
	f := &Feed[T]{
		fn:     fn,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go f.loop()
	return f
}

// Push queues snap for delivery, replacing any undelivered snapshot.
func (f *Feed[T]) Push(snap []T) {
	if f.cancelled.Load() {
		return
	}
	cp := make([]T, len(snap))
	copy(cp, snap)
	f.mu.Lock()
	f.pending = cp
	f.has = true
	f.mu.Unlock()
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

// Cancel stops delivery. It does not wait for a callback in progress, so it
// is safe to call from inside the callback.
func (f *Feed[T]) Cancel() {
	f.stopOnce.Do(func() {
		f.cancelled.Store(true)
		close(f.done)
	})
}

func (f *Feed[T]) Cancelled() bool { return f.cancelled.Load() }

// Done is closed once Cancel has been called.
func (f *Feed[T]) Done() <-chan struct{} { return f.done }

// Exited is closed when the delivery goroutine has returned.
func (f *Feed[T]) Exited() <-chan struct{} { return f.exited }

func (f *Feed[T]) loop() {
	defer close(f.exited)
	for {
		select {
		case <-f.done:
			return
		case <-f.wake:
		}
		f.mu.Lock()
		snap, ok := f.pending, f.has
		f.pending, f.has = nil, false
		f.mu.Unlock()
		if !ok || f.cancelled.Load() {
			continue
		}
		f.fn(snap)
	}
}
