package rabbitmq

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
			return nil, fmt.Errorf("nil *rabbitmq.InputConfig")
		}
		return NewInput(*c, env)
	default:
		return nil, fmt.Errorf("unexpected config type %T for rabbitmq input", cfg)
	}
}

func outputFactory(cfg any, env core.Env) (core.Output, error) {
	switch c := cfg.(type) {
	case OutputConfig:
		return NewOutput(c, env)
	case *OutputConfig:
		if c == nil {
			return nil, fmt.Errorf("nil *rabbitmq.OutputConfig")
		}
		return NewOutput(*c, env)
	default:
		return nil, fmt.Errorf("unexpected config type %T for rabbitmq output", cfg)
	}
}

func init() {
	core.RegisterInput("rabbitmq", inputFactory)
	core.RegisterOutput("rabbitmq", outputFactory)
}
