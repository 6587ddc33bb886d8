package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongceg/brokerbridge/internal/core"
	"github.com/cuongceg/brokerbridge/internal/pipeline"
)

// stubInput pushes its messages, then waits for Stop unless once is set.
type stubInput struct {
	name    string
	msgs    []string
	once    bool
	err     error
	stopped chan struct{}
	stops   atomic.Int32
	state   core.StateBox
}

func newStubInput(name string, msgs ...string) *stubInput {
	return &stubInput{name: name, msgs: msgs, stopped: make(chan struct{})}
}

func (s *stubInput) Name() string      { return s.name }
func (s *stubInput) State() core.State { return s.state.Load() }

func (s *stubInput) Run(ctx context.Context, sink pipeline.Sink) error {
	defer s.state.Store(core.Stopped)
	s.state.Store(core.Running)
	for _, m := range s.msgs {
		if err := sink.Push(ctx, pipeline.NewEvent(map[string]any{"message": m, "from": s.name})); err != nil {
			return err
		}
	}
	if s.err != nil {
		return s.err
	}
	if s.once {
		return nil
	}
	select {
	case <-s.stopped:
	case <-ctx.Done():
	}
	return nil
}

func (s *stubInput) Stop(context.Context) error {
	if s.stops.Add(1) == 1 {
		close(s.stopped)
	}
	return nil
}

type stubOutput struct {
	name   string
	mu     sync.Mutex
	got    []string
	fin    *core.Finisher
	closes atomic.Int32
}

func newStubOutput(name string) *stubOutput {
	return &stubOutput{name: name, fin: core.NewFinisher()}
}

func (s *stubOutput) Name() string { return s.name }

func (s *stubOutput) Receive(_ context.Context, ev *pipeline.Event) error {
	if ev == pipeline.Shutdown {
		s.fin.Finish()
		return nil
	}
	m, _ := ev.Get("message")
	s.mu.Lock()
	s.got = append(s.got, fmt.Sprint(m))
	s.mu.Unlock()
	return nil
}

func (s *stubOutput) Finished() <-chan struct{} { return s.fin.Done() }
func (s *stubOutput) Close() error {
	s.closes.Add(1)
	return nil
}

func (s *stubOutput) received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.got...)
}

func TestEngine_FansOutInOrder(t *testing.T) {
	in := newStubInput("in", "a", "b", "c")
	in.once = true
	o1, o2 := newStubOutput("o1"), newStubOutput("o2")
	e := &Engine{
		Inputs:  []core.Input{in},
		Outputs: []core.Output{o1, o2},
		Logger:  zerolog.Nop(),
		Buffer:  1,
	}

	require.NoError(t, e.Run(context.Background()))

	for _, o := range []*stubOutput{o1, o2} {
		assert.Equal(t, []string{"a", "b", "c"}, o.received())
		assert.Equal(t, int32(1), o.closes.Load())
		select {
		case <-o.Finished():
		default:
			t.Fatalf("%s did not receive shutdown", o.name)
		}
	}
	assert.Zero(t, in.stops.Load())
}

func TestEngine_CancelStopsInputs(t *testing.T) {
	in1 := newStubInput("in1", "x")
	in2 := newStubInput("in2", "y")
	out := newStubOutput("out")
	e := &Engine{
		Inputs:  []core.Input{in1, in2},
		Outputs: []core.Output{out},
		Logger:  zerolog.Nop(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.Eventually(t, func() bool { return len(out.received()) == 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop")
	}
	assert.Equal(t, int32(1), in1.stops.Load())
	assert.Equal(t, int32(1), in2.stops.Load())
	assert.ElementsMatch(t, []string{"x", "y"}, out.received())
	assert.Equal(t, int32(1), out.closes.Load())
}

func TestEngine_ReportsFatalInputError(t *testing.T) {
	boom := errors.New("restart disabled")
	bad := newStubInput("bad")
	bad.err = boom
	good := newStubInput("good", "ok")
	good.once = true
	out := newStubOutput("out")
	e := &Engine{
		Inputs:  []core.Input{bad, good},
		Outputs: []core.Output{out},
		Logger:  zerolog.Nop(),
	}

	err := e.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"ok"}, out.received())
}

func TestEngine_RequiresInputsAndOutputs(t *testing.T) {
	e := &Engine{Logger: zerolog.Nop()}
	require.Error(t, e.Run(context.Background()))

	e.Inputs = []core.Input{newStubInput("in")}
	require.Error(t, e.Run(context.Background()))
}
