package nats

import (
	"fmt"

	"github.com/cuongceg/brokerbridge/internal/core"
)

func outputFactory(cfg any, env core.Env) (core.Output, error) {
	switch c := cfg.(type) {
	case OutputConfig:
		return NewOutput(c, env)
	case *OutputConfig:
		if c == nil {
			return nil, fmt.Errorf("nil *nats.OutputConfig")
		}
		return NewOutput(*c, env)
	default:
		return nil, fmt.Errorf("invalid cfg type: %T; expected nats.OutputConfig", cfg)
	}
}

func init() { core.RegisterOutput("nats", outputFactory) }
