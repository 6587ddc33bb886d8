// Package queue provides the bounded FIFO that sits between broker worker
// goroutines and a single drain loop.
package queue

import (
	"context"
	"errors"
)

// ErrStopped is returned by Pop when it dequeues the stop sentinel.
var ErrStopped = errors.New("queue: stop sentinel")

type slot[T any] struct {
	val  T
	stop bool
}

// Queue is safe for many producers and one consumer. Capacity is fixed at
// construction; producers block while it is full.
type Queue[T any] struct {
	ch chan slot[T]
}

func New[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{ch: make(chan slot[T], capacity)}
}

// Push blocks until there is room or ctx is done.
func (q *Queue[T]) Push(ctx context.Context, v T) error {
	return q.put(ctx, slot[T]{val: v})
}

// PushStop enqueues the stop sentinel behind everything already queued.
func (q *Queue[T]) PushStop(ctx context.Context) error {
	return q.put(ctx, slot[T]{stop: true})
}

func (q *Queue[T]) put(ctx context.Context, s slot[T]) error {
	select {
	case q.ch <- s:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop blocks until an item is available. It returns ErrStopped for the
// sentinel and ctx.Err() if ctx is done first.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	var zero T
	select {
	case s := <-q.ch:
		if s.stop {
			return zero, ErrStopped
		}
		return s.val, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// TryPop never blocks. Sentinels found here are discarded.
func (q *Queue[T]) TryPop() (T, bool) {
	var zero T
	for {
		select {
		case s := <-q.ch:
			if s.stop {
				continue
			}
			return s.val, true
		default:
			return zero, false
		}
	}
}

// Drain hands every currently queued item to fn until the queue is empty and
// returns how many were handed over.
func (q *Queue[T]) Drain(fn func(T)) int {
	n := 0
	for {
		v, ok := q.TryPop()
		if !ok {
			return n
		}
		fn(v)
		n++
	}
}

func (q *Queue[T]) IsEmpty() bool { return len(q.ch) == 0 }
func (q *Queue[T]) Len() int      { return len(q.ch) }
func (q *Queue[T]) Cap() int      { return cap(q.ch) }
