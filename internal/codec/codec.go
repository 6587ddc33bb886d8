// Package codec turns broker payloads into pipeline events and back.
package codec

import (
	"fmt"
	"sort"

	"github.com/cuongceg/brokerbridge/internal/pipeline"
)

// Codec decodes one payload into zero or more events and encodes one event
// into one payload. Implementations may buffer partial frames between calls,
// so a Codec instance belongs to a single bridge.
type Codec interface {
	Name() string
	Decode(data []byte, emit func(*pipeline.Event)) error
	Encode(ev *pipeline.Event) ([]byte, error)
}

type Factory func() Codec

var codecs = map[string]Factory{
	"plain":      func() Codec { return Plain{} },
	"json":       func() Codec { return JSON{} },
	"json_lines": func() Codec { return &JSONLines{} },
	"protobuf":   func() Codec { return NewStructCodec() },
}

func Register(name string, f Factory) { codecs[name] = f }

func New(name string) (Codec, error) {
	if name == "" {
		name = "plain"
	}
	f, ok := codecs[name]
	if !ok {
		return nil, fmt.Errorf("unknown codec: %s", name)
	}
	return f(), nil
}

func Known(name string) bool {
	_, ok := codecs[name]
	return ok || name == ""
}

func Names() []string {
	out := make([]string, 0, len(codecs))
	for k := range codecs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
