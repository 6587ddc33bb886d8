package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/cuongceg/brokerbridge/internal/pipeline"
)

const timestampField = "@timestamp"

// JSON decodes an object into one event or an array of objects into one
// event per element.
type JSON struct{}

func (JSON) Name() string { return "json" }

func (JSON) Decode(data []byte, emit func(*pipeline.Event)) error {
	return decodeJSON(data, emit)
}

func (JSON) Encode(ev *pipeline.Event) ([]byte, error) {
	return encodeJSON(ev)
}

func decodeJSON(data []byte, emit func(*pipeline.Event)) error {
	if !gjson.ValidBytes(data) {
		return errors.New("json: invalid document")
	}
	r := gjson.ParseBytes(data)
	switch {
	case r.IsObject():
		emit(eventFromObject(r))
	case r.IsArray():
		var events []*pipeline.Event
		for i, el := range r.Array() {
			if !el.IsObject() {
				return fmt.Errorf("json: array element %d is not an object", i)
			}
			events = append(events, eventFromObject(el))
		}
		for _, ev := range events {
			emit(ev)
		}
	default:
		return fmt.Errorf("json: expected object or array, got %s", r.Type)
	}
	return nil
}

func eventFromObject(r gjson.Result) *pipeline.Event {
	fields, _ := r.Value().(map[string]any)
	return pipeline.NewEvent(fields)
}

func encodeJSON(ev *pipeline.Event) ([]byte, error) {
	out := make(map[string]any, len(ev.Fields)+1)
	for k, v := range ev.Fields {
		out[k] = v
	}
	if _, ok := out[timestampField]; !ok && !ev.Timestamp.IsZero() {
		out[timestampField] = ev.Timestamp
	}
	return json.Marshal(out)
}

// JSONLines splits the stream on newlines and keeps an incomplete trailing
// line until the rest of it arrives.
type JSONLines struct {
	buf []byte
}

func (c *JSONLines) Name() string { return "json_lines" }

func (c *JSONLines) Decode(data []byte, emit func(*pipeline.Event)) error {
	c.buf = append(c.buf, data...)
	var firstErr error
	for {
		i := bytes.IndexByte(c.buf, '\n')
		if i < 0 {
			return firstErr
		}
		line := bytes.TrimSpace(c.buf[:i])
		c.buf = c.buf[i+1:]
		if len(line) == 0 {
			continue
		}
		if err := decodeJSON(line, emit); err != nil && firstErr == nil {
			firstErr = err
		}
	}
}

func (c *JSONLines) Encode(ev *pipeline.Event) ([]byte, error) {
	b, err := encodeJSON(ev)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}
