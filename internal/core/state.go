package core

import (
	"context"
	"sync/atomic"
	"time"
)

type State int32

const (
	Idle State = iota
	Starting
	Running
	Draining
	ShuttingDown
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Draining:
		return "draining"
	case ShuttingDown:
		return "shutting_down"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// StateBox is an atomically updated State.
type StateBox struct{ v atomic.Int32 }

func (b *StateBox) Load() State   { return State(b.v.Load()) }
func (b *StateBox) Store(s State) { b.v.Store(int32(s)) }

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the production Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Finisher closes a channel exactly once.
type Finisher struct {
	ch   chan struct{}
	done atomic.Bool
}

func NewFinisher() *Finisher { return &Finisher{ch: make(chan struct{})} }

func (f *Finisher) Finish() {
	if f.done.CompareAndSwap(false, true) {
		close(f.ch)
	}
}

func (f *Finisher) Done() <-chan struct{} { return f.ch }
