package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/cuongceg/brokerbridge/internal/codec"
	"github.com/cuongceg/brokerbridge/internal/config"
	"github.com/cuongceg/brokerbridge/internal/core"
	"github.com/cuongceg/brokerbridge/internal/metrics"
	"github.com/cuongceg/brokerbridge/internal/pipeline"
	"github.com/cuongceg/brokerbridge/internal/queue"
)

// Input consumes a topic as a member of a consumer group. Worker goroutines
// owned by the Group fill a bounded queue; Run is the single drain loop.
type Input struct {
	cfg     InputConfig
	logger  zerolog.Logger
	metrics *metrics.Metrics
	gateway *codec.Gateway
	queue   *queue.Queue[Message]

	newGroup GroupFactory
	sleep    core.Sleeper

	state    core.StateBox
	mu       sync.Mutex
	group    Group
	stopping atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
}

type InputOption func(*Input)

func WithGroupFactory(f GroupFactory) InputOption { return func(in *Input) { in.newGroup = f } }
func WithSleeper(s core.Sleeper) InputOption      { return func(in *Input) { in.sleep = s } }

func NewInput(cfg InputConfig, env core.Env, opts ...InputOption) (*Input, error) {
	if err := config.ValidateStruct(cfg); err != nil {
		return nil, fmt.Errorf("kafka input %q: %w", cfg.Name, err)
	}
	c, err := codec.New(cfg.Codec)
	if err != nil {
		return nil, fmt.Errorf("kafka input %q: %w", cfg.Name, err)
	}
	logger := env.Logger.With().
		Str("component", "kafka-input").
		Str("bridge", cfg.Name).
		Logger()

	in := &Input{
		cfg:      cfg,
		logger:   logger,
		metrics:  env.Metrics,
		gateway:  codec.NewGateway(c, cfg.Name, logger, env.Metrics),
		queue:    queue.New[Message](cfg.QueueSize),
		newGroup: NewReaderGroup,
		sleep:    core.Sleep,
		stopCh:   make(chan struct{}),
	}
	for _, o := range opts {
		o(in)
	}
	in.logger.Info().
		Str("group_id", cfg.GroupID).
		Str("topic_id", cfg.TopicID).
		Strs("brokers", cfg.Brokers).
		Msg("Registering kafka")
	return in, nil
}

func (in *Input) Name() string      { return in.cfg.Name }
func (in *Input) State() core.State { return in.state.Load() }

func (in *Input) groupConfig() (GroupConfig, error) {
	d, err := newDialer(in.cfg.ClientID, in.cfg.TLS, in.cfg.SASL)
	if err != nil {
		return GroupConfig{}, err
	}
	return GroupConfig{
		Brokers:             in.cfg.Brokers,
		GroupID:             in.cfg.GroupID,
		Topic:               in.cfg.TopicID,
		ResetBeginning:      in.cfg.ResetBeginning,
		RebalanceMaxRetries: in.cfg.RebalanceMaxRetries,
		RebalanceBackoff:    in.cfg.RebalanceBackoff,
		PollTimeout:         in.cfg.ConsumerTimeout,
		Dialer:              d,
	}, nil
}

// Run supervises the consumer group until a shutdown signal (Stop or ctx
// cancellation) has been handled and every queued message forwarded. A group
// failure tears the client down and starts a new one after RestartSleep;
// with RestartOnError disabled the failure is returned instead.
func (in *Input) Run(ctx context.Context, sink pipeline.Sink) error {
	in.logger.Info().
		Str("group_id", in.cfg.GroupID).
		Str("topic_id", in.cfg.TopicID).
		Msg("Running kafka")
	defer in.state.Store(core.Stopped)

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			in.metrics.Restart(in.cfg.Name)
		}
		err := in.runGroup(ctx, sink)
		if err == nil {
			return nil
		}
		in.shutdownGroup()
		if !in.cfg.RestartOnError {
			in.logger.Error().Err(err).Msg("kafka client failed, restart disabled")
			return fmt.Errorf("kafka input %q: %w", in.cfg.Name, err)
		}
		in.logger.Warn().Err(err).Dur("sleep", in.cfg.RestartSleep).Msg("kafka client threw exception, restarting")
		if err := in.pause(ctx); err != nil || in.stopping.Load() {
			return in.finish(ctx, sink)
		}
	}
}

func (in *Input) pause(ctx context.Context) error {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-in.stopCh:
			cancel()
		case <-sctx.Done():
		}
	}()
	return in.sleep(sctx, in.cfg.RestartSleep)
}

func (in *Input) runGroup(ctx context.Context, sink pipeline.Sink) error {
	in.state.Store(core.Starting)
	gcfg, err := in.groupConfig()
	if err != nil {
		return err
	}
	g, err := in.newGroup(gcfg, in.logger)
	if err != nil {
		return err
	}
	in.mu.Lock()
	in.group = g
	in.mu.Unlock()

	if err := g.Run(ctx, in.cfg.ConsumerThreads, in.queue); err != nil {
		return err
	}
	in.state.Store(core.Running)

	popCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	go func() {
		select {
		case err := <-g.Err():
			cancel(err)
		case <-popCtx.Done():
		}
	}()

	for {
		msg, err := in.queue.Pop(popCtx)
		switch {
		case err == nil:
			in.metrics.SetQueueDepth(in.cfg.Name, in.queue.Len())
			in.forward(ctx, sink, msg)
		case errors.Is(err, queue.ErrStopped):
			in.logger.Info().Msg("Kafka got shutdown signal")
			return in.finish(ctx, sink)
		case ctx.Err() != nil:
			in.logger.Info().Msg("Kafka got shutdown signal")
			return in.finish(ctx, sink)
		default:
			return context.Cause(popCtx)
		}
	}
}

// finish stops the client and forwards whatever is still buffered.
func (in *Input) finish(ctx context.Context, sink pipeline.Sink) error {
	in.state.Store(core.Draining)
	in.shutdownGroup()
	n := in.queue.Drain(func(m Message) { in.forward(ctx, sink, m) })
	in.metrics.SetQueueDepth(in.cfg.Name, 0)
	in.logger.Info().Int("drained", n).Msg("Done running kafka input")
	return nil
}

func (in *Input) shutdownGroup() {
	in.mu.Lock()
	g := in.group
	in.group = nil
	in.mu.Unlock()
	if g == nil || !g.Running() {
		return
	}
	if err := g.Shutdown(); err != nil {
		in.logger.Warn().Err(err).Msg("kafka consumer group shutdown failed")
	}
}

// forward decodes one message and pushes its events, including those a
// failing codec produced before the failure. Pushes ignore ctx cancellation:
// a popped message is never dropped on the way out.
func (in *Input) forward(ctx context.Context, sink pipeline.Sink, m Message) {
	events, _ := in.gateway.Decode(m.Value)
	pctx := context.WithoutCancel(ctx)
	for _, ev := range events {
		in.cfg.Decorator.Apply(ev)
		ev.Set("kafka", map[string]any{
			"msg_size":       len(m.Value),
			"topic":          in.cfg.TopicID,
			"consumer_group": in.cfg.GroupID,
		})
		if err := sink.Push(pctx, ev); err != nil {
			in.logger.Error().Err(err).Msg("pipeline rejected event")
			continue
		}
		in.metrics.Event(in.cfg.Name, "in")
	}
}

// Stop enqueues the stop sentinel so the drain loop finishes after what is
// already buffered. Calling it again, or after Run returned, is a no-op.
func (in *Input) Stop(ctx context.Context) error {
	if in.state.Load() == core.Stopped {
		return nil
	}
	var err error
	in.stopOnce.Do(func() {
		in.stopping.Store(true)
		close(in.stopCh)
		err = in.queue.PushStop(ctx)
	})
	return err
}
