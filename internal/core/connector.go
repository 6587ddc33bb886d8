package core

import (
	"context"

	"github.com/cuongceg/brokerbridge/internal/pipeline"
)

// Input pulls from a broker and pushes decoded events into the pipeline.
// Run blocks until the bridge has finished; Stop asks it to finish and may be
// called more than once.
type Input interface {
	Name() string
	Run(ctx context.Context, sink pipeline.Sink) error
	Stop(ctx context.Context) error
	State() State
}

// Output receives events from the pipeline and publishes them to a broker.
// Receive never fails because of a broker send; Finished is closed once the
// pipeline.Shutdown marker has been received.
type Output interface {
	Name() string
	Receive(ctx context.Context, ev *pipeline.Event) error
	Finished() <-chan struct{}
	Close() error
}
