package pipeline

import (
	"context"
	"time"
)

// Event is the internal record every bridge produces or consumes.
type Event struct {
	Fields    map[string]any
	Timestamp time.Time
}

// Shutdown is compared by identity; outputs finish when they receive it.
var Shutdown = &Event{Fields: map[string]any{}}

func NewEvent(fields map[string]any) *Event {
	if fields == nil {
		fields = map[string]any{}
	}
	return &Event{Fields: fields, Timestamp: time.Now().UTC()}
}

func (e *Event) Get(key string) (any, bool) {
	v, ok := e.Fields[key]
	return v, ok
}

func (e *Event) Set(key string, v any) {
	if e.Fields == nil {
		e.Fields = map[string]any{}
	}
	e.Fields[key] = v
}

func (e *Event) Type() string {
	s, _ := e.Fields["type"].(string)
	return s
}

func (e *Event) Tags() []string {
	switch v := e.Fields["tags"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, t := range v {
			if s, ok := t.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func (e *Event) AddTag(tag string) {
	for _, t := range e.Tags() {
		if t == tag {
			return
		}
	}
	e.Set("tags", append(e.Tags(), tag))
}

// Sink receives events from an input bridge.
type Sink interface {
	Push(ctx context.Context, ev *Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev *Event) error

func (f SinkFunc) Push(ctx context.Context, ev *Event) error { return f(ctx, ev) }

// ChanSink forwards events into a channel, blocking while it is full.
type ChanSink chan *Event

func (c ChanSink) Push(ctx context.Context, ev *Event) error {
	select {
	case c <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
