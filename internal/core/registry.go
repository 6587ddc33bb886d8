package core

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/cuongceg/brokerbridge/internal/metrics"
)

// Env carries the shared collaborators handed to every bridge factory.
type Env struct {
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

type InputFactory func(cfg any, env Env) (Input, error)
type OutputFactory func(cfg any, env Env) (Output, error)

var (
	inputs  = map[string]InputFactory{}
	outputs = map[string]OutputFactory{}
)

func RegisterInput(kind string, f InputFactory)   { inputs[kind] = f }
func RegisterOutput(kind string, f OutputFactory) { outputs[kind] = f }

func BuildInput(kind string, cfg any, env Env) (Input, error) {
	f, ok := inputs[kind]
	if !ok {
		return nil, fmt.Errorf("unknown input type: %s", kind)
	}
	return f(cfg, env)
}

func BuildOutput(kind string, cfg any, env Env) (Output, error) {
	f, ok := outputs[kind]
	if !ok {
		return nil, fmt.Errorf("unknown output type: %s", kind)
	}
	return f(cfg, env)
}

func InputKinds() []string  { return sortedKeys(inputs) }
func OutputKinds() []string { return sortedKeys(outputs) }

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
