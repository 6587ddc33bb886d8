package codec

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cuongceg/brokerbridge/internal/metrics"
	"github.com/cuongceg/brokerbridge/internal/pipeline"
)

// Failure describes one payload the gateway could not fully decode, or one
// event it could not encode.
type Failure struct {
	Bridge  string
	Payload []byte
	Event   *pipeline.Event
	Err     error
}

// Gateway runs a Codec for one bridge and keeps a bad payload from ever
// reaching the caller's loop as an error.
type Gateway struct {
	codec   Codec
	bridge  string
	logger  zerolog.Logger
	metrics *metrics.Metrics

	// OnFailure, when set, is told about every discarded payload.
	OnFailure func(Failure)

	mu sync.Mutex
}

func NewGateway(c Codec, bridge string, logger zerolog.Logger, m *metrics.Metrics) *Gateway {
	return &Gateway{
		codec:   c,
		bridge:  bridge,
		logger:  logger,
		metrics: m,
	}
}

func (g *Gateway) Codec() Codec { return g.codec }

// Decode returns every event the payload produced. ok is false when the
// codec failed; events it emitted before failing are still returned. Zero
// events with ok true means the codec is still buffering a partial frame.
func (g *Gateway) Decode(raw []byte) (events []*pipeline.Event, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	err := g.safely(func() error {
		return g.codec.Decode(raw, func(ev *pipeline.Event) { events = append(events, ev) })
	})
	if err != nil {
		g.metrics.DecodeFailure(g.bridge)
		g.logger.Error().
			Str("bridge", g.bridge).
			Str("codec", g.codec.Name()).
			Bytes("payload", raw).
			Int("decoded", len(events)).
			Err(err).
			Msg("Failed to create event")
		g.report(Failure{Bridge: g.bridge, Payload: raw, Err: err})
		return events, false
	}
	return events, true
}

func (g *Gateway) Encode(ev *pipeline.Event) ([]byte, bool) {
	var out []byte
	err := g.safely(func() error {
		var err error
		out, err = g.codec.Encode(ev)
		return err
	})
	if err != nil {
		g.metrics.EncodeFailure(g.bridge)
		g.logger.Error().
			Str("bridge", g.bridge).
			Str("codec", g.codec.Name()).
			Interface("event", ev.Fields).
			Err(err).
			Msg("Failed to encode event")
		g.report(Failure{Bridge: g.bridge, Event: ev, Err: err})
		return nil, false
	}
	return out, true
}

func (g *Gateway) safely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("codec %s panicked: %v", g.codec.Name(), r)
		}
	}()
	return fn()
}

func (g *Gateway) report(f Failure) {
	if g.OnFailure != nil {
		g.OnFailure(f)
	}
}
