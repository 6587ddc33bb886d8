package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	kafka "github.com/segmentio/kafka-go"

	"github.com/cuongceg/brokerbridge/internal/core"
	"github.com/cuongceg/brokerbridge/internal/queue"
)

// ErrRebalanceExhausted is reported by a group worker that kept failing to
// fetch after RebalanceMaxRetries attempts.
var ErrRebalanceExhausted = errors.New("kafka: rebalance retries exhausted")

// Message is a raw record pulled from the topic.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Time      time.Time
}

type GroupConfig struct {
	Brokers             []string
	GroupID             string
	Topic               string
	ResetBeginning      bool
	RebalanceMaxRetries int
	RebalanceBackoff    time.Duration
	PollTimeout         time.Duration
	Dialer              *kafka.Dialer
}

// Group is a consumer-group client owned by exactly one Input.
type Group interface {
	// Run starts threads workers feeding q and returns once they are running.
	Run(ctx context.Context, threads int, q *queue.Queue[Message]) error
	// Err yields the first fatal worker error.
	Err() <-chan error
	Running() bool
	// Shutdown stops the workers and waits for them.
	Shutdown() error
}

type GroupFactory func(cfg GroupConfig, logger zerolog.Logger) (Group, error)

// fetcher is the part of *kafka.Reader a group worker drives.
type fetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func newKafkaReader(rc kafka.ReaderConfig) fetcher { return kafka.NewReader(rc) }

// NewReaderGroup backs each worker with its own kafka-go group reader so every
// worker is a separate group member with its own partitions.
func NewReaderGroup(cfg GroupConfig, logger zerolog.Logger) (Group, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	return &readerGroup{
		cfg:        cfg,
		logger:     logger,
		errc:       make(chan error, 1),
		sleep:      core.Sleep,
		newFetcher: newKafkaReader,
	}, nil
}

type readerGroup struct {
	cfg        GroupConfig
	logger     zerolog.Logger
	sleep      core.Sleeper
	newFetcher func(kafka.ReaderConfig) fetcher

	mu      sync.Mutex
	readers []fetcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
	errc    chan error
}

func (g *readerGroup) readerConfig() kafka.ReaderConfig {
	start := kafka.LastOffset
	if g.cfg.ResetBeginning {
		start = kafka.FirstOffset
	}
	rc := kafka.ReaderConfig{
		Brokers:          g.cfg.Brokers,
		GroupID:          g.cfg.GroupID,
		Topic:            g.cfg.Topic,
		Dialer:           g.cfg.Dialer,
		StartOffset:      start,
		MinBytes:         1,
		MaxBytes:         10 << 20,
		MaxWait:          500 * time.Millisecond,
		CommitInterval:   0,
		JoinGroupBackoff: g.cfg.RebalanceBackoff,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			g.logger.Warn().Msgf(msg, args...)
		}),
	}
	if g.cfg.RebalanceMaxRetries > 0 {
		rc.MaxAttempts = g.cfg.RebalanceMaxRetries
	}
	return rc
}

func (g *readerGroup) Run(ctx context.Context, threads int, q *queue.Queue[Message]) error {
	if !g.running.CompareAndSwap(false, true) {
		return errors.New("kafka: consumer group already running")
	}
	wctx, cancel := context.WithCancel(ctx)

	g.mu.Lock()
	g.cancel = cancel
	for i := 0; i < threads; i++ {
		r := g.newFetcher(g.readerConfig())
		g.readers = append(g.readers, r)
		g.wg.Add(1)
		go g.worker(wctx, i, r, q)
	}
	g.mu.Unlock()
	return nil
}

func (g *readerGroup) worker(ctx context.Context, id int, r fetcher, q *queue.Queue[Message]) {
	defer g.wg.Done()
	log := g.logger.With().Int("worker", id).Logger()
	failures := 0
	for {
		m, err := g.fetch(ctx, r)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			if g.cfg.PollTimeout > 0 && errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			failures++
			if failures > g.cfg.RebalanceMaxRetries {
				g.report(fmt.Errorf("%w after %d attempts: %v", ErrRebalanceExhausted, failures, err))
				return
			}
			log.Warn().Err(err).Int("attempt", failures).Dur("backoff", g.cfg.RebalanceBackoff).Msg("kafka fetch failed, backing off")
			if g.sleep(ctx, g.cfg.RebalanceBackoff) != nil {
				return
			}
			continue
		}
		failures = 0

		if err := q.Push(ctx, Message{
			Topic:     m.Topic,
			Partition: m.Partition,
			Offset:    m.Offset,
			Key:       m.Key,
			Value:     m.Value,
			Time:      m.Time,
		}); err != nil {
			return
		}
		if err := r.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Int64("offset", m.Offset).Msg("kafka commit failed")
		}
	}
}

func (g *readerGroup) fetch(ctx context.Context, r fetcher) (kafka.Message, error) {
	if g.cfg.PollTimeout <= 0 {
		return r.FetchMessage(ctx)
	}
	pctx, cancel := context.WithTimeout(ctx, g.cfg.PollTimeout)
	defer cancel()
	return r.FetchMessage(pctx)
}

func (g *readerGroup) report(err error) {
	select {
	case g.errc <- err:
	default:
	}
}

func (g *readerGroup) Err() <-chan error { return g.errc }
func (g *readerGroup) Running() bool     { return g.running.Load() }

func (g *readerGroup) Shutdown() error {
	if !g.running.CompareAndSwap(true, false) {
		return nil
	}
	g.mu.Lock()
	cancel, readers := g.cancel, g.readers
	g.readers = nil
	g.mu.Unlock()

	cancel()
	g.wg.Wait()

	var errs []error
	for _, r := range readers {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
