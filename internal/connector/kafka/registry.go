package kafka

import (
	"fmt"

	"github.com/cuongceg/brokerbridge/internal/core"
)

func inputFactory(cfg any, env core.Env) (core.Input, error) {
	switch c := cfg.(type) {
	case InputConfig:
		return NewInput(c, env)
	case *InputConfig:
		if c == nil {
			return nil, fmt.Errorf("nil *kafka.InputConfig")
		}
		return NewInput(*c, env)
	default:
		return nil, fmt.Errorf("unexpected config type %T for kafka input", cfg)
	}
}

func outputFactory(cfg any, env core.Env) (core.Output, error) {
	switch c := cfg.(type) {
	case OutputConfig:
		return NewOutput(c, env)
	case *OutputConfig:
		if c == nil {
			return nil, fmt.Errorf("nil *kafka.OutputConfig")
		}
		return NewOutput(*c, env)
	default:
		return nil, fmt.Errorf("unexpected config type %T for kafka output", cfg)
	}
}

func init() {
	core.RegisterInput("kafka", inputFactory)
	core.RegisterOutput("kafka", outputFactory)
}
