package core

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuongceg/brokerbridge/internal/metrics"
	"github.com/cuongceg/brokerbridge/internal/pipeline"
)

// OutputWithLog times every Receive on the wrapped output.
type OutputWithLog struct {
	Next    Output
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

func (d OutputWithLog) Name() string              { return d.Next.Name() }
func (d OutputWithLog) Close() error              { return d.Next.Close() }
func (d OutputWithLog) Finished() <-chan struct{} { return d.Next.Finished() }
func (d OutputWithLog) Receive(ctx context.Context, ev *pipeline.Event) error {
	t0 := time.Now()
	err := d.Next.Receive(ctx, ev)
	elapsed := time.Since(t0)
	d.Metrics.ObserveReceive(d.Next.Name(), elapsed.Seconds())
	d.Logger.Debug().Str("output", d.Next.Name()).Dur("took", elapsed).Err(err).Msg("event handled")
	return err
}
