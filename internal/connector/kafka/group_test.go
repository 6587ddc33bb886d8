package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	kafka "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongceg/brokerbridge/internal/queue"
)

type fetchStep struct {
	msg kafka.Message
	err error
}

// fakeFetcher plays its steps in order. Afterwards it returns fallback, or
// blocks until ctx is done when fallback is nil.
type fakeFetcher struct {
	mu       sync.Mutex
	steps    []fetchStep
	fallback error
	fetches  int
	commits  []int64
	closes   int
}

func (f *fakeFetcher) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	f.fetches++
	if len(f.steps) > 0 {
		s := f.steps[0]
		f.steps = f.steps[1:]
		f.mu.Unlock()
		return s.msg, s.err
	}
	fb := f.fallback
	f.mu.Unlock()
	if fb != nil {
		return kafka.Message{}, fb
	}
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *fakeFetcher) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		f.commits = append(f.commits, m.Offset)
	}
	return nil
}

func (f *fakeFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeFetcher) committed() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.commits...)
}

func record(offset int64, value string) fetchStep {
	return fetchStep{msg: kafka.Message{Topic: "orders", Offset: offset, Value: []byte(value)}}
}

// newTestGroup wires fetchers into a readerGroup in creation order.
func newTestGroup(t *testing.T, cfg GroupConfig, sl *recordingSleeper, fetchers ...*fakeFetcher) (*readerGroup, *[]kafka.ReaderConfig) {
	t.Helper()
	if len(cfg.Brokers) == 0 {
		cfg.Brokers = []string{"127.0.0.1:9092"}
	}
	grp, err := NewReaderGroup(cfg, zerolog.Nop())
	require.NoError(t, err)
	g := grp.(*readerGroup)
	g.sleep = sl.sleep

	var mu sync.Mutex
	var configs []kafka.ReaderConfig
	g.newFetcher = func(rc kafka.ReaderConfig) fetcher {
		mu.Lock()
		defer mu.Unlock()
		f := fetchers[len(configs)]
		configs = append(configs, rc)
		return f
	}
	return g, &configs
}

func TestReaderGroup_CommitsAfterEnqueue(t *testing.T) {
	f := &fakeFetcher{steps: []fetchStep{record(10, "a"), record(11, "b")}}
	g, _ := newTestGroup(t, GroupConfig{GroupID: "bridge", Topic: "orders"}, &recordingSleeper{}, f)
	q := queue.New[Message](1)

	require.NoError(t, g.Run(context.Background(), 1, q))
	require.Eventually(t, func() bool { return len(f.committed()) == 1 }, 2*time.Second, 5*time.Millisecond)
	// second record is fetched but waits for queue space, so it stays uncommitted
	assert.Never(t, func() bool { return len(f.committed()) > 1 }, 50*time.Millisecond, 5*time.Millisecond)

	m, err := q.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", string(m.Value))
	require.Eventually(t, func() bool { return len(f.committed()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []int64{10, 11}, f.committed())

	require.NoError(t, g.Shutdown())
	assert.Equal(t, 1, f.closes)
	assert.False(t, g.Running())
}

func TestReaderGroup_ExhaustsRebalanceRetries(t *testing.T) {
	f := &fakeFetcher{fallback: errors.New("group coordinator not available")}
	sl := &recordingSleeper{}
	g, _ := newTestGroup(t, GroupConfig{RebalanceMaxRetries: 2, RebalanceBackoff: 2 * time.Second}, sl, f)

	require.NoError(t, g.Run(context.Background(), 1, queue.New[Message](4)))
	select {
	case err := <-g.Err():
		assert.ErrorIs(t, err, ErrRebalanceExhausted)
		assert.Contains(t, err.Error(), "coordinator")
	case <-time.After(2 * time.Second):
		t.Fatal("no error reported")
	}
	require.NoError(t, g.Shutdown())

	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, sl.slept)
	assert.Equal(t, 3, f.fetches)
}

func TestReaderGroup_SuccessResetsRetryCount(t *testing.T) {
	boom := errors.New("rebalance in progress")
	f := &fakeFetcher{steps: []fetchStep{{err: boom}, record(1, "a"), {err: boom}, record(2, "b")}}
	sl := &recordingSleeper{}
	g, _ := newTestGroup(t, GroupConfig{RebalanceMaxRetries: 1, RebalanceBackoff: time.Second}, sl, f)
	q := queue.New[Message](4)

	require.NoError(t, g.Run(context.Background(), 1, q))
	require.Eventually(t, func() bool { return q.Len() == 2 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, g.Shutdown())

	select {
	case err := <-g.Err():
		t.Fatalf("unexpected group error: %v", err)
	default:
	}
	assert.Equal(t, []time.Duration{time.Second, time.Second}, sl.slept)
}

func TestReaderGroup_PollTimeoutIsNotAFailure(t *testing.T) {
	f := &fakeFetcher{steps: []fetchStep{
		{err: context.DeadlineExceeded},
		{err: context.DeadlineExceeded},
		{err: context.DeadlineExceeded},
		record(5, "late"),
	}}
	sl := &recordingSleeper{}
	g, _ := newTestGroup(t, GroupConfig{PollTimeout: 10 * time.Millisecond}, sl, f)
	q := queue.New[Message](4)

	require.NoError(t, g.Run(context.Background(), 1, q))
	require.Eventually(t, func() bool { return q.Len() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, g.Shutdown())

	assert.Empty(t, sl.slept)
	assert.Len(t, g.Err(), 0)
	assert.Equal(t, []int64{5}, f.committed())
}

func TestReaderGroup_OneReaderPerThread(t *testing.T) {
	f1, f2 := &fakeFetcher{}, &fakeFetcher{}
	g, configs := newTestGroup(t, GroupConfig{GroupID: "bridge", Topic: "orders", ResetBeginning: true}, &recordingSleeper{}, f1, f2)

	require.NoError(t, g.Run(context.Background(), 2, queue.New[Message](4)))
	assert.Error(t, g.Run(context.Background(), 2, queue.New[Message](4)))
	require.NoError(t, g.Shutdown())
	require.NoError(t, g.Shutdown())

	require.Len(t, *configs, 2)
	for _, rc := range *configs {
		assert.Equal(t, "bridge", rc.GroupID)
		assert.Equal(t, "orders", rc.Topic)
		assert.Equal(t, kafka.FirstOffset, rc.StartOffset)
	}
	assert.Equal(t, 1, f1.closes)
	assert.Equal(t, 1, f2.closes)
}

func TestInput_RebalanceExhaustionRestartsClient(t *testing.T) {
	var mu sync.Mutex
	starts := 0
	factory := func(cfg GroupConfig, logger zerolog.Logger) (Group, error) {
		mu.Lock()
		starts++
		mu.Unlock()
		grp, err := NewReaderGroup(cfg, logger)
		if err != nil {
			return nil, err
		}
		g := grp.(*readerGroup)
		g.sleep = func(context.Context, time.Duration) error { return nil }
		g.newFetcher = func(kafka.ReaderConfig) fetcher {
			return &fakeFetcher{fallback: errors.New("broker unreachable")}
		}
		return g, nil
	}
	startCount := func() int {
		mu.Lock()
		defer mu.Unlock()
		return starts
	}

	t.Run("restart disabled", func(t *testing.T) {
		cfg := testInputConfig()
		cfg.RestartOnError = false
		env, _ := testEnv()
		in, err := NewInput(cfg, env, WithGroupFactory(factory))
		require.NoError(t, err)

		err = waitRun(t, runInput(t, context.Background(), in, &recordSink{}))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrRebalanceExhausted)
	})

	t.Run("restart enabled", func(t *testing.T) {
		before := startCount()
		env, logs := testEnv()
		sl := &recordingSleeper{}
		in, err := NewInput(testInputConfig(), env, WithGroupFactory(factory), WithSleeper(sl.sleep))
		require.NoError(t, err)

		done := runInput(t, context.Background(), in, &recordSink{})
		require.Eventually(t, func() bool { return startCount()-before >= 2 }, 2*time.Second, 5*time.Millisecond)
		require.NoError(t, in.Stop(context.Background()))
		require.NoError(t, waitRun(t, done))
		assert.GreaterOrEqual(t, logs.count("kafka client threw exception, restarting"), 1)
	})
}
