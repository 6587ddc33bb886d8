package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	kafka "github.com/segmentio/kafka-go"

	"github.com/cuongceg/brokerbridge/internal/codec"
	"github.com/cuongceg/brokerbridge/internal/config"
	"github.com/cuongceg/brokerbridge/internal/core"
	"github.com/cuongceg/brokerbridge/internal/metrics"
	"github.com/cuongceg/brokerbridge/internal/pipeline"
)

// MessageWriter is the part of *kafka.Writer the output uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Output sends every admitted event to one topic. Sends are best effort:
// a failed send is logged and dropped, never retried.
type Output struct {
	cfg     OutputConfig
	logger  zerolog.Logger
	metrics *metrics.Metrics
	gateway *codec.Gateway
	writer  MessageWriter
	probe   func(ctx context.Context) error

	fin    *core.Finisher
	closed atomic.Bool
}

type OutputOption func(*Output)

// WithWriter replaces the kafka-go writer. No connectivity probe runs unless
// WithProbe is also given.
func WithWriter(w MessageWriter) OutputOption {
	return func(o *Output) { o.writer = w }
}

func WithProbe(p func(ctx context.Context) error) OutputOption {
	return func(o *Output) { o.probe = p }
}

func NewOutput(cfg OutputConfig, env core.Env, opts ...OutputOption) (*Output, error) {
	if err := config.ValidateStruct(cfg); err != nil {
		return nil, fmt.Errorf("kafka output %q: %w", cfg.Name, err)
	}
	c, err := codec.New(cfg.Codec)
	if err != nil {
		return nil, fmt.Errorf("kafka output %q: %w", cfg.Name, err)
	}
	logger := env.Logger.With().
		Str("component", "kafka-output").
		Str("bridge", cfg.Name).
		Logger()

	o := &Output{
		cfg:     cfg,
		logger:  logger,
		metrics: env.Metrics,
		gateway: codec.NewGateway(c, cfg.Name, logger, env.Metrics),
		fin:     core.NewFinisher(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.writer == nil {
		dialer, err := newDialer(cfg.ClientID, cfg.TLS, cfg.SASL)
		if err != nil {
			return nil, fmt.Errorf("kafka output %q: %w", cfg.Name, err)
		}
		o.writer = &kafka.Writer{
			Addr:                   kafka.TCP(cfg.BrokerList...),
			Topic:                  cfg.TopicID,
			Balancer:               &kafka.RoundRobin{},
			Compression:            cfg.compression(),
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: false,
			BatchTimeout:           10 * time.Millisecond,
			BatchBytes:             128 << 10,
			Transport: &kafka.Transport{
				ClientID: cfg.ClientID,
				TLS:      dialer.TLS,
				SASL:     dialer.SASLMechanism,
			},
		}
		if o.probe == nil {
			o.probe = func(ctx context.Context) error { return probeBrokers(ctx, dialer, cfg.BrokerList) }
		}
	}

	if o.probe != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := o.probe(ctx); err != nil {
			_ = o.writer.Close()
			return nil, fmt.Errorf("kafka output %q: connect: %w", cfg.Name, err)
		}
	}
	o.logger.Info().
		Str("topic_id", cfg.TopicID).
		Strs("broker_list", cfg.BrokerList).
		Str("compression_codec", cfg.CompressionCodec).
		Str("compressed_topics", cfg.CompressedTopics).
		Msg("Registering kafka producer")
	return o, nil
}

// probeBrokers succeeds as soon as one broker accepts a connection.
func probeBrokers(ctx context.Context, d *kafka.Dialer, brokers []string) error {
	var errs []error
	for _, b := range brokers {
		conn, err := d.DialContext(ctx, "tcp", b)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		return conn.Close()
	}
	return errors.Join(errs...)
}

func (o *Output) Name() string              { return o.cfg.Name }
func (o *Output) Finished() <-chan struct{} { return o.fin.Done() }

func (o *Output) Receive(ctx context.Context, ev *pipeline.Event) error {
	if !o.cfg.Filter.Admit(ev) {
		return nil
	}
	if ev == pipeline.Shutdown {
		o.logger.Info().Msg("Kafka producer got shutdown signal")
		o.fin.Finish()
		return nil
	}
	payload, ok := o.gateway.Encode(ev)
	if !ok {
		return nil
	}
	if err := o.writer.WriteMessages(ctx, kafka.Message{Value: payload}); err != nil {
		o.metrics.SendFailure(o.cfg.Name)
		o.logger.Warn().Err(err).Str("topic_id", o.cfg.TopicID).Msg("kafka producer threw exception, message dropped")
		return nil
	}
	o.metrics.Event(o.cfg.Name, "out")
	return nil
}

func (o *Output) Close() error {
	if !o.closed.CompareAndSwap(false, true) {
		return nil
	}
	o.fin.Finish()
	return o.writer.Close()
}
