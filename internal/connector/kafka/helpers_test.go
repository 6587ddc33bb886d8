package kafka

import (
	"bytes"
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cuongceg/brokerbridge/internal/core"
	"github.com/cuongceg/brokerbridge/internal/pipeline"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) count(msg string) int {
	return strings.Count(b.String(), `"message":"`+msg+`"`)
}

func testEnv() (core.Env, *syncBuffer) {
	buf := &syncBuffer{}
	return core.Env{Logger: zerolog.New(buf)}, buf
}

// recordSink collects pushed events. When gate is set the first push waits
// for it to be closed.
type recordSink struct {
	mu     sync.Mutex
	events []*pipeline.Event
	gate   chan struct{}
	once   sync.Once
}

func (s *recordSink) Push(_ context.Context, ev *pipeline.Event) error {
	if s.gate != nil {
		s.once.Do(func() { <-s.gate })
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *recordSink) messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, ev := range s.events {
		m, _ := ev.Get("message")
		out = append(out, m.(string))
	}
	return out
}
