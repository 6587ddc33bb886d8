package codec

import (
	"encoding/json"
	"fmt"
	"reflect"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cuongceg/brokerbridge/internal/pipeline"
)

func newOf[T any]() T {
	rt := reflect.TypeOf((*T)(nil)).Elem()
	if rt.Kind() == reflect.Pointer {
		return reflect.New(rt.Elem()).Interface().(T)
	}
	return reflect.New(rt).Elem().Interface().(T)
}

// ProtoCodec maps a protobuf message of type T to event fields through its
// canonical JSON form.
type ProtoCodec[T proto.Message] struct{}

func NewProtoCodec[T proto.Message]() *ProtoCodec[T] { return &ProtoCodec[T]{} }

// NewStructCodec handles payloads that are serialized google.protobuf.Struct.
func NewStructCodec() *ProtoCodec[*structpb.Struct] { return NewProtoCodec[*structpb.Struct]() }

func (c *ProtoCodec[T]) Name() string { return "protobuf" }

func (c *ProtoCodec[T]) Decode(b []byte, emit func(*pipeline.Event)) error {
	msg := newOf[T]()
	if err := proto.Unmarshal(b, msg); err != nil {
		return fmt.Errorf("protobuf: %w", err)
	}
	jb, err := protojson.Marshal(msg)
	if err != nil {
		return err
	}
	fields := map[string]any{}
	if err := json.Unmarshal(jb, &fields); err != nil {
		return fmt.Errorf("protobuf: %T is not an object message: %w", msg, err)
	}
	emit(pipeline.NewEvent(fields))
	return nil
}

func (c *ProtoCodec[T]) Encode(ev *pipeline.Event) ([]byte, error) {
	jb, err := json.Marshal(ev.Fields)
	if err != nil {
		return nil, err
	}
	msg := newOf[T]()
	if err := protojson.Unmarshal(jb, msg); err != nil {
		return nil, fmt.Errorf("protobuf: %w", err)
	}
	return proto.Marshal(msg)
}
