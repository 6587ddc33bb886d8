package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuongceg/brokerbridge/internal/core"
	"github.com/cuongceg/brokerbridge/internal/metrics"
	"github.com/cuongceg/brokerbridge/internal/pipeline"
)

// Engine runs every input into one bounded buffer and fans each event out to
// every output. Each output has its own lane so a slow output only stalls
// the others once its lane is full.
type Engine struct {
	Inputs  []core.Input
	Outputs []core.Output
	Logger  zerolog.Logger
	Metrics *metrics.Metrics

	// Dedup drops events whose DedupField value was already routed.
	Dedup      Deduper
	DedupField string

	// tune
	Buffer          int           // shared input buffer (default 1000)
	LaneBuffer      int           // per-output lane depth (default 256)
	ShutdownTimeout time.Duration // wait for outputs to finish (default 30s)
}

func (e *Engine) defaults() {
	if e.Buffer <= 0 {
		e.Buffer = 1000
	}
	if e.LaneBuffer <= 0 {
		e.LaneBuffer = 256
	}
	if e.ShutdownTimeout <= 0 {
		e.ShutdownTimeout = 30 * time.Second
	}
}

// Run blocks until ctx is cancelled or every input has returned. Inputs are
// then stopped and drained, outputs receive pipeline.Shutdown and are closed.
// The returned error joins the fatal errors reported by inputs.
func (e *Engine) Run(ctx context.Context) error {
	if len(e.Inputs) == 0 {
		return errors.New("router: no inputs configured")
	}
	if len(e.Outputs) == 0 {
		return errors.New("router: no outputs configured")
	}
	e.defaults()

	events := make(pipeline.ChanSink, e.Buffer)
	outWG := e.startOutputs(events)

	// inputs get a context that outlives ctx so Stop can drain them
	runCtx, cancelRun := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelRun()

	type result struct {
		name string
		err  error
	}
	results := make(chan result, len(e.Inputs))
	for _, in := range e.Inputs {
		go func(in core.Input) {
			e.Logger.Info().Str("input", in.Name()).Msg("input starting")
			results <- result{name: in.Name(), err: in.Run(runCtx, events)}
		}(in)
	}

	var errs []error
	pending := len(e.Inputs)
	collect := func(r result) {
		pending--
		if r.err != nil {
			e.Logger.Error().Err(r.err).Str("input", r.name).Msg("input terminated")
			errs = append(errs, r.err)
			return
		}
		e.Logger.Info().Str("input", r.name).Msg("input finished")
	}

wait:
	for pending > 0 {
		select {
		case r := <-results:
			collect(r)
		case <-ctx.Done():
			break wait
		}
	}

	if pending > 0 {
		e.Logger.Info().Int("inputs", pending).Msg("stopping inputs")
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.ShutdownTimeout)
		defer cancel()
		for _, in := range e.Inputs {
			if err := in.Stop(stopCtx); err != nil {
				e.Logger.Warn().Err(err).Str("input", in.Name()).Msg("input stop failed")
			}
		}
		aborted := false
		for pending > 0 {
			if aborted {
				collect(<-results)
				continue
			}
			select {
			case r := <-results:
				collect(r)
			case <-stopCtx.Done():
				// cancelling runCtx aborts inputs stuck draining
				e.Logger.Warn().Int("inputs", pending).Msg("inputs did not stop in time")
				cancelRun()
				aborted = true
			}
		}
	}

	// every input has returned, nothing pushes into events any more
	close(events)
	outWG.Wait()
	e.finishOutputs()
	return errors.Join(errs...)
}

// startOutputs fans events out to one lane per output. When events is
// closed each lane gets pipeline.Shutdown and is closed.
func (e *Engine) startOutputs(events <-chan *pipeline.Event) *sync.WaitGroup {
	var wg sync.WaitGroup
	lanes := make([]chan *pipeline.Event, len(e.Outputs))
	for i, out := range e.Outputs {
		lanes[i] = make(chan *pipeline.Event, e.LaneBuffer)
		logged := core.OutputWithLog{Next: out, Logger: e.Logger, Metrics: e.Metrics}
		wg.Add(1)
		go func(out core.Output, lane <-chan *pipeline.Event) {
			defer wg.Done()
			for ev := range lane {
				if err := out.Receive(context.Background(), ev); err != nil {
					e.Logger.Error().Err(err).Str("output", out.Name()).Msg("output rejected event")
				}
			}
		}(logged, lanes[i])
	}
	var dedup *dedupFilter
	if e.Dedup != nil && e.DedupField != "" {
		dedup = &dedupFilter{store: e.Dedup, field: e.DedupField, logger: e.Logger}
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range events {
			if dedup != nil && !dedup.admit(context.Background(), ev) {
				e.Metrics.Duplicate()
				continue
			}
			for _, lane := range lanes {
				lane <- ev
			}
		}
		for _, lane := range lanes {
			lane <- pipeline.Shutdown
			close(lane)
		}
	}()
	return &wg
}

func (e *Engine) finishOutputs() {
	ctx, cancel := context.WithTimeout(context.Background(), e.ShutdownTimeout)
	defer cancel()
	for _, out := range e.Outputs {
		select {
		case <-out.Finished():
		case <-ctx.Done():
			e.Logger.Warn().Str("output", out.Name()).Msg("output did not finish in time")
		}
		if err := out.Close(); err != nil {
			e.Logger.Warn().Err(fmt.Errorf("close %s: %w", out.Name(), err)).Msg("output close failed")
		}
	}
}
