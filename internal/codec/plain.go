package codec

import (
	"errors"
	"fmt"

	"github.com/cuongceg/brokerbridge/internal/pipeline"
)

// Plain puts the whole payload in the "message" field.
type Plain struct{}

func (Plain) Name() string { return "plain" }

func (Plain) Decode(data []byte, emit func(*pipeline.Event)) error {
	emit(pipeline.NewEvent(map[string]any{"message": string(data)}))
	return nil
}

func (Plain) Encode(ev *pipeline.Event) ([]byte, error) {
	v, ok := ev.Get("message")
	if !ok {
		return nil, errors.New("plain: event has no message field")
	}
	switch m := v.(type) {
	case string:
		return []byte(m), nil
	case []byte:
		return m, nil
	default:
		return []byte(fmt.Sprint(m)), nil
	}
}
