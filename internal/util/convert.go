package util

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cuongceg/brokerbridge/internal/config"
	"github.com/cuongceg/brokerbridge/internal/connector/kafka"
	"github.com/cuongceg/brokerbridge/internal/connector/nats"
	"github.com/cuongceg/brokerbridge/internal/connector/rabbitmq"
	"github.com/cuongceg/brokerbridge/internal/core"
)

// InputConfig maps one inputs[] entry onto its bridge's config struct,
// starting from the bridge defaults.
func InputConfig(p config.Plugin, strict bool) (any, error) {
	switch strings.ToLower(p.Type) {
	case "kafka":
		c := kafka.DefaultInputConfig()
		if err := config.DecodeParams(p.Params, &c, strict); err != nil {
			return nil, fmt.Errorf("input %q: decode params: %w", p.Name, err)
		}
		c.Name, c.Decorator = p.Name, p.Decorator()
		if p.Codec != "" {
			c.Codec = p.Codec
		}
		return c, nil
	case "rabbitmq":
		c := rabbitmq.DefaultInputConfig()
		if err := config.DecodeParams(p.Params, &c, strict); err != nil {
			return nil, fmt.Errorf("input %q: decode params: %w", p.Name, err)
		}
		c.Name, c.Decorator = p.Name, p.Decorator()
		if p.Codec != "" {
			c.Codec = p.Codec
		}
		return c, nil
	}
	return nil, fmt.Errorf("input %q: unsupported type %q", p.Name, p.Type)
}

func OutputConfig(p config.Plugin, strict bool) (any, error) {
	switch strings.ToLower(p.Type) {
	case "kafka":
		c := kafka.DefaultOutputConfig()
		if err := config.DecodeParams(p.Params, &c, strict); err != nil {
			return nil, fmt.Errorf("output %q: decode params: %w", p.Name, err)
		}
		c.Name, c.Filter = p.Name, p.Filter
		if p.Codec != "" {
			c.Codec = p.Codec
		}
		return c, nil
	case "rabbitmq":
		c := rabbitmq.DefaultOutputConfig()
		if err := config.DecodeParams(p.Params, &c, strict); err != nil {
			return nil, fmt.Errorf("output %q: decode params: %w", p.Name, err)
		}
		c.Name, c.Filter = p.Name, p.Filter
		if p.Codec != "" {
			c.Codec = p.Codec
		}
		return c, nil
	case "nats":
		c := nats.DefaultOutputConfig()
		if err := config.DecodeParams(p.Params, &c, strict); err != nil {
			return nil, fmt.Errorf("output %q: decode params: %w", p.Name, err)
		}
		c.Name, c.Filter = p.Name, p.Filter
		if p.Codec != "" {
			c.Codec = p.Codec
		}
		return c, nil
	}
	return nil, fmt.Errorf("output %q: unsupported type %q", p.Name, p.Type)
}

// BuildBridges constructs every configured input and output through the
// core registry. On error the outputs already built are closed.
func BuildBridges(uc *config.UserConfig, env core.Env, strict bool) ([]core.Input, []core.Output, error) {
	inputs := make([]core.Input, 0, len(uc.Inputs))
	for _, p := range uc.Inputs {
		cfg, err := InputConfig(p, strict)
		if err != nil {
			return nil, nil, err
		}
		in, err := core.BuildInput(strings.ToLower(p.Type), cfg, env)
		if err != nil {
			return nil, nil, fmt.Errorf("input %q: build: %w", p.Name, err)
		}
		inputs = append(inputs, in)
	}

	outputs := make([]core.Output, 0, len(uc.Outputs))
	for _, p := range uc.Outputs {
		cfg, err := OutputConfig(p, strict)
		if err == nil {
			var out core.Output
			out, err = core.BuildOutput(strings.ToLower(p.Type), cfg, env)
			if err == nil {
				outputs = append(outputs, out)
				continue
			}
			err = fmt.Errorf("output %q: build: %w", p.Name, err)
		}
		var closeErrs []error
		for _, o := range outputs {
			closeErrs = append(closeErrs, o.Close())
		}
		return nil, nil, errors.Join(append([]error{err}, closeErrs...)...)
	}
	return inputs, outputs, nil
}
