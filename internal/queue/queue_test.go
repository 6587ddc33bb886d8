package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_FIFOForEveryCapacity(t *testing.T) {
	ctx := context.Background()
	for c := 1; c <= 16; c++ {
		t.Run(fmt.Sprintf("cap=%d", c), func(t *testing.T) {
			q := New[int](c)
			for i := 0; i < c; i++ {
				require.NoError(t, q.Push(ctx, i))
			}
			for i := 0; i < c; i++ {
				v, err := q.Pop(ctx)
				require.NoError(t, err)
				assert.Equal(t, i, v)
			}
			assert.True(t, q.IsEmpty())
		})
	}
}

func TestQueue_PushBlocksAtCapacity(t *testing.T) {
	ctx := context.Background()
	q := New[string](1)
	require.NoError(t, q.Push(ctx, "A"))

	pushed := make(chan struct{})
	go func() {
		_ = q.Push(ctx, "B")
		close(pushed)
	}()

	select {
	case <-pushed:
		t.Fatal("second push must block while the queue is full")
	case <-time.After(50 * time.Millisecond):
	}

	v, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "A", v)

	select {
	case <-pushed:
	case <-time.After(time.Second):
		t.Fatal("push did not resume after pop")
	}
	v, err = q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "B", v)
}

func TestQueue_StopSentinelAfterPriorItems(t *testing.T) {
	ctx := context.Background()
	q := New[int](8)
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Push(ctx, i))
	}
	require.NoError(t, q.PushStop(ctx))

	var got []int
	for {
		v, err := q.Pop(ctx)
		if err == ErrStopped {
			break
		}
		require.NoError(t, err)
		got = append(got, v)
	}
	assert.Equal(t, []int{0, 1, 2}, got)
}

func TestQueue_StopFromBlockedProducerIsObserved(t *testing.T) {
	ctx := context.Background()
	q := New[int](1)
	require.NoError(t, q.Push(ctx, 1))

	go func() { _ = q.PushStop(ctx) }()

	v, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	_, err = q.Pop(ctx)
	assert.ErrorIs(t, err, ErrStopped)
}

func TestQueue_PopHonoursContext(t *testing.T) {
	q := New[int](1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueue_DrainSkipsSentinel(t *testing.T) {
	ctx := context.Background()
	q := New[int](4)
	require.NoError(t, q.Push(ctx, 1))
	require.NoError(t, q.PushStop(ctx))
	require.NoError(t, q.Push(ctx, 2))

	var got []int
	n := q.Drain(func(v int) { got = append(got, v) })
	assert.Equal(t, 2, n)
	assert.Equal(t, []int{1, 2}, got)
	assert.True(t, q.IsEmpty())
}

func TestQueue_ManyProducersNoLoss(t *testing.T) {
	ctx := context.Background()
	q := New[int](3)
	const producers, perProducer = 4, 50

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				_ = q.Push(ctx, p*1000+i)
			}
		}(p)
	}

	last := map[int]int{}
	for i := 0; i < producers*perProducer; i++ {
		v, err := q.Pop(ctx)
		require.NoError(t, err)
		p, seq := v/1000, v%1000
		if prev, ok := last[p]; ok {
			assert.Greater(t, seq, prev, "per-producer order must hold")
		}
		last[p] = seq
	}
	wg.Wait()
	assert.True(t, q.IsEmpty())
	assert.Equal(t, 3, q.Cap())
}
