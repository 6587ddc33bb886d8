package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/cuongceg/brokerbridge/internal/codec"
	"github.com/cuongceg/brokerbridge/internal/config"
	"github.com/cuongceg/brokerbridge/internal/core"
	"github.com/cuongceg/brokerbridge/internal/metrics"
	"github.com/cuongceg/brokerbridge/internal/pipeline"
)

// Input consumes one queue. Deliveries are forwarded synchronously, so the
// prefetch count is the only buffer between broker and pipeline.
type Input struct {
	cfg     InputConfig
	url     string
	logger  zerolog.Logger
	metrics *metrics.Metrics
	gateway *codec.Gateway

	dial  Dialer
	sleep core.Sleeper

	state    core.StateBox
	stopping atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}

	mu       sync.Mutex
	conn     Connection
	ch       Channel
	queue    string
	consumer string
}

type InputOption func(*Input)

func WithDialer(d Dialer) InputOption        { return func(in *Input) { in.dial = d } }
func WithSleeper(s core.Sleeper) InputOption { return func(in *Input) { in.sleep = s } }

func NewInput(cfg InputConfig, env core.Env, opts ...InputOption) (*Input, error) {
	if err := config.ValidateStruct(cfg); err != nil {
		return nil, fmt.Errorf("rabbitmq input %q: %w", cfg.Name, err)
	}
	c, err := codec.New(cfg.Codec)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq input %q: %w", cfg.Name, err)
	}
	logger := env.Logger.With().
		Str("component", "rabbitmq-input").
		Str("bridge", cfg.Name).
		Logger()

	in := &Input{
		cfg:     cfg,
		url:     cfg.ConnectionURL(),
		logger:  logger,
		metrics: env.Metrics,
		gateway: codec.NewGateway(c, cfg.Name, logger, env.Metrics),
		dial:    Dial,
		sleep:   core.Sleep,
		stopCh:  make(chan struct{}),
	}
	for _, o := range opts {
		o(in)
	}
	in.logger.Info().Str("url", in.url).Msg("Registering input")
	return in, nil
}

func (in *Input) Name() string      { return in.cfg.Name }
func (in *Input) State() core.State { return in.state.Load() }

// Run consumes until Stop or ctx cancellation. Connection-class failures
// tear the client down and reconnect after ReconnectDelay, forever; any
// other failure is returned.
func (in *Input) Run(ctx context.Context, sink pipeline.Sink) error {
	defer in.state.Store(core.Stopped)
	defer func() { in.teardown(in.stopping.Load() || ctx.Err() != nil) }()

	for {
		err := in.consume(ctx, sink)
		if err == nil || in.stopping.Load() || ctx.Err() != nil {
			return nil
		}
		if !isConnectionError(err) {
			in.logger.Error().Err(err).Msg("RabbitMQ consumer failed")
			return fmt.Errorf("rabbitmq input %q: %w", in.cfg.Name, err)
		}
		in.logger.Error().Err(err).
			Dur("reconnect_in", in.cfg.ReconnectDelay).
			Msg("RabbitMQ connection error, will attempt to reconnect")
		in.release()
		in.metrics.Restart(in.cfg.Name)
		if err := in.pause(ctx); err != nil || in.stopping.Load() {
			return nil
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
	return in.sleep(sctx, in.cfg.ReconnectDelay)
}

// consume runs one connect/declare/consume cycle. It returns nil when a stop
// was requested.
func (in *Input) consume(ctx context.Context, sink pipeline.Sink) error {
	in.state.Store(core.Starting)
	amqpCfg, err := in.cfg.amqpConfig()
	if err != nil {
		return err
	}
	in.logger.Debug().
		Str("host", in.cfg.Host).
		Int("port", in.cfg.port()).
		Str("vhost", in.cfg.Vhost).
		Str("queue", in.cfg.Queue).
		Msg("Connecting to RabbitMQ")

	u := in.cfg.uri()
	conn, err := in.dial(u.String(), amqpCfg)
	if err != nil {
		return err
	}
	if !in.attach(conn) {
		return nil
	}
	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	in.mu.Lock()
	in.ch = ch
	in.mu.Unlock()

	if err := ch.Qos(in.cfg.PrefetchCount, 0, false); err != nil {
		return fmt.Errorf("set QoS: %w", err)
	}
	in.logger.Info().Str("host", in.cfg.Host).Msg("Connected to RabbitMQ")

	q, err := ch.QueueDeclare(in.cfg.Queue, in.cfg.Durable, in.cfg.AutoDelete, in.cfg.Exclusive, false, in.cfg.arguments())
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", in.cfg.Queue, err)
	}
	in.mu.Lock()
	in.queue = q.Name
	in.mu.Unlock()

	if in.cfg.Exchange != "" {
		if err := ch.QueueBind(q.Name, in.cfg.Key, in.cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", q.Name, in.cfg.Exchange, err)
		}
	}

	tag := "brokerbridge-" + uuid.NewString()
	deliveries, err := ch.Consume(q.Name, tag, !in.cfg.Ack, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", q.Name, err)
	}
	in.mu.Lock()
	in.consumer = tag
	in.mu.Unlock()
	in.logger.Info().Str("queue", q.Name).Msg("Will consume events from queue")
	in.state.Store(core.Running)

	for {
		select {
		case d, ok := <-deliveries:
			if !ok {
				if in.stopping.Load() {
					return nil
				}
				return errDeliveriesClosed
			}
			if err := in.handle(ctx, ch, d, sink); err != nil {
				return err
			}
		case <-in.stopCh:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// attach records conn as the live connection unless a stop already started.
func (in *Input) attach(conn Connection) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.stopping.Load() {
		_ = conn.Close()
		return false
	}
	in.conn = conn
	return true
}

// handle forwards one delivery and acks it after every event was accepted.
// A delivery the codec failed on is rejected without requeue once whatever
// it did decode was forwarded, so it cannot hold a prefetch slot.
func (in *Input) handle(ctx context.Context, ch Channel, d amqp.Delivery, sink pipeline.Sink) error {
	events, ok := in.gateway.Decode(d.Body)
	for _, ev := range events {
		in.cfg.Decorator.Apply(ev)
		ev.Set("source", in.url)
		if err := sink.Push(ctx, ev); err != nil {
			in.logger.Warn().Err(err).Uint64("delivery_tag", d.DeliveryTag).Msg("pipeline rejected event, delivery left unacked")
			return nil
		}
		in.metrics.Event(in.cfg.Name, "in")
	}
	if !in.cfg.Ack {
		return nil
	}
	if !ok {
		return ch.Nack(d.DeliveryTag, false, false)
	}
	return ch.Ack(d.DeliveryTag, false)
}

// release drops the client before a reconnect. The queue is kept so
// messages waiting in it survive.
func (in *Input) release() { in.teardown(false) }

// teardown cancels the consumer, closes channel and connection, and on
// shutdown deletes a non-durable queue when configured to. Safe to call again.
func (in *Input) teardown(shutdown bool) {
	in.mu.Lock()
	conn, ch, queue, consumer := in.conn, in.ch, in.queue, in.consumer
	in.conn, in.ch, in.queue, in.consumer = nil, nil, "", ""
	in.mu.Unlock()

	if ch != nil && !ch.IsClosed() {
		if consumer != "" {
			if err := ch.Cancel(consumer, false); err != nil {
				in.logger.Warn().Err(err).Msg("cancel consumer failed")
			}
		}
		if shutdown && queue != "" && !in.cfg.Durable && in.cfg.DeleteNonDurableOnStop {
			if _, err := ch.QueueDelete(queue, false, false, false); err != nil {
				in.logger.Warn().Err(err).Str("queue", queue).Msg("delete queue failed")
			}
		}
		if err := ch.Close(); err != nil {
			in.logger.Warn().Err(err).Msg("close channel failed")
		}
	}
	if conn != nil && !conn.IsClosed() {
		if err := conn.Close(); err != nil {
			in.logger.Warn().Err(err).Msg("close connection failed")
		}
	}
}

// Stop cancels the consumer and closes the connection. Deliveries still
// being forwarded are abandoned and will be redelivered by the broker.
func (in *Input) Stop(_ context.Context) error {
	if in.state.Load() == core.Stopped {
		return nil
	}
	in.stopOnce.Do(func() {
		in.mu.Lock()
		in.stopping.Store(true)
		in.mu.Unlock()
		in.state.Store(core.ShuttingDown)
		close(in.stopCh)
		in.teardown(true)
	})
	return nil
}
