package rabbitmq

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/cuongceg/brokerbridge/internal/codec"
	"github.com/cuongceg/brokerbridge/internal/config"
	"github.com/cuongceg/brokerbridge/internal/core"
	"github.com/cuongceg/brokerbridge/internal/metrics"
	"github.com/cuongceg/brokerbridge/internal/pipeline"
)

// Output publishes every admitted event to an exchange with publisher
// confirms. A failed publish is logged and dropped. A dead channel is
// reopened on the next event.
type Output struct {
	cfg     OutputConfig
	logger  zerolog.Logger
	metrics *metrics.Metrics
	gateway *codec.Gateway
	dial    Dialer

	mu       sync.Mutex // one publish in flight at a time
	conn     Connection
	ch       Channel
	confirms chan amqp.Confirmation
	returns  chan amqp.Return

	fin    *core.Finisher
	closed atomic.Bool
}

// notifyBuffer holds late confirms and returns of publishes that timed out
// until the next publish skips them.
const notifyBuffer = 64

type OutputOption func(*Output)

func WithOutputDialer(d Dialer) OutputOption { return func(o *Output) { o.dial = d } }

func NewOutput(cfg OutputConfig, env core.Env, opts ...OutputOption) (*Output, error) {
	if err := config.ValidateStruct(cfg); err != nil {
		return nil, fmt.Errorf("rabbitmq output %q: %w", cfg.Name, err)
	}
	c, err := codec.New(cfg.Codec)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq output %q: %w", cfg.Name, err)
	}
	logger := env.Logger.With().
		Str("component", "rabbitmq-output").
		Str("bridge", cfg.Name).
		Logger()

	o := &Output{
		cfg:     cfg,
		logger:  logger,
		metrics: env.Metrics,
		gateway: codec.NewGateway(c, cfg.Name, logger, env.Metrics),
		dial:    Dial,
		fin:     core.NewFinisher(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.mu.Lock()
	err = o.connect()
	o.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("rabbitmq output %q: connect: %w", cfg.Name, err)
	}
	o.logger.Info().
		Str("exchange", cfg.Exchange).
		Str("key", cfg.Key).
		Msg("Registering rabbitmq producer")
	return o, nil
}

// connect requires o.mu.
func (o *Output) connect() error {
	o.release()
	amqpCfg, err := o.cfg.amqpConfig()
	if err != nil {
		return err
	}
	u := o.cfg.uri()
	conn, err := o.dial(u.String(), amqpCfg)
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("egress channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("enable confirms: %w", err)
	}
	o.conn, o.ch = conn, ch
	o.returns = ch.NotifyReturn(make(chan amqp.Return, notifyBuffer))
	o.confirms = ch.NotifyPublish(make(chan amqp.Confirmation, notifyBuffer))
	return nil
}

// release requires o.mu.
func (o *Output) release() {
	if o.ch != nil && !o.ch.IsClosed() {
		_ = o.ch.Close()
	}
	if o.conn != nil && !o.conn.IsClosed() {
		_ = o.conn.Close()
	}
	o.ch, o.conn = nil, nil
}

func (o *Output) Name() string              { return o.cfg.Name }
func (o *Output) Finished() <-chan struct{} { return o.fin.Done() }

func (o *Output) Receive(ctx context.Context, ev *pipeline.Event) error {
	if !o.cfg.Filter.Admit(ev) {
		return nil
	}
	if ev == pipeline.Shutdown {
		o.logger.Info().Msg("RabbitMQ producer got shutdown signal")
		o.fin.Finish()
		return nil
	}
	payload, ok := o.gateway.Encode(ev)
	if !ok {
		return nil
	}
	if err := o.publish(ctx, payload); err != nil {
		o.metrics.SendFailure(o.cfg.Name)
		o.logger.Warn().Err(err).
			Str("exchange", o.cfg.Exchange).
			Str("key", o.cfg.Key).
			Msg("rabbitmq producer threw exception, message dropped")
		return nil
	}
	o.metrics.Event(o.cfg.Name, "out")
	return nil
}

func (o *Output) publish(ctx context.Context, body []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed.Load() {
		return fmt.Errorf("output closed")
	}
	if o.ch == nil || o.ch.IsClosed() {
		if err := o.connect(); err != nil {
			return fmt.Errorf("reconnect: %w", err)
		}
	}

	if _, has := ctx.Deadline(); !has && o.cfg.PublishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.PublishTimeout)
		defer cancel()
	}

	mode := amqp.Transient
	if o.cfg.Persistent {
		mode = amqp.Persistent
	}
	seq := o.ch.GetNextPublishSeqNo()
	id := strconv.FormatUint(seq, 10)
	pub := amqp.Publishing{
		ContentType:  o.cfg.ContentType,
		DeliveryMode: mode,
		MessageId:    id,
		Timestamp:    time.Now(),
		Body:         body,
	}
	// mandatory so unroutable messages come back as a Return
	if err := o.ch.PublishWithContext(ctx, o.cfg.Exchange, o.cfg.Key, true, false, pub); err != nil {
		return err
	}
	return o.await(ctx, seq, id)
}

// await waits for the confirm of delivery tag seq. Confirms and returns left
// over from earlier publishes that timed out are skipped.
func (o *Output) await(ctx context.Context, seq uint64, id string) error {
	var returned *amqp.Return
	for {
		select {
		case ret, ok := <-o.returns:
			if !ok {
				return amqp.ErrClosed
			}
			if ret.MessageId == id {
				returned = &ret
			}
		case conf, ok := <-o.confirms:
			if !ok {
				return amqp.ErrClosed
			}
			if conf.DeliveryTag < seq {
				continue
			}
			// a Return is sent before the confirm of the same message
		drain:
			for returned == nil {
				select {
				case ret, ok := <-o.returns:
					if !ok {
						break drain
					}
					if ret.MessageId == id {
						returned = &ret
					}
				default:
					break drain
				}
			}
			if returned != nil {
				return fmt.Errorf("unroutable: exchange=%s rk=%s reply=%d %s", returned.Exchange, returned.RoutingKey, returned.ReplyCode, returned.ReplyText)
			}
			if !conf.Ack {
				return fmt.Errorf("broker NACKed: exchange=%s rk=%s", o.cfg.Exchange, o.cfg.Key)
			}
			return nil
		case <-ctx.Done():
			return fmt.Errorf("publish confirm: %w", ctx.Err())
		}
	}
}

func (o *Output) Close() error {
	if !o.closed.CompareAndSwap(false, true) {
		return nil
	}
	o.fin.Finish()
	o.mu.Lock()
	defer o.mu.Unlock()
	o.release()
	return nil
}
