package envelope

import (
	"fmt"
	"reflect"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/drblury/soknadflow/internal/runtime/jsoncodec"
)

// Codec converts a payload to and from its wire bytes.
type Codec[T any] interface {
	Encode(T) ([]byte, error)
	Decode([]byte) (T, error)
}

// JSONCodec encodes plain Go structs with sonic.
type JSONCodec[T any] struct{}

func (JSONCodec[T]) Encode(v T) ([]byte, error) {
	return jsoncodec.Marshal(v)
}

func (JSONCodec[T]) Decode(data []byte) (T, error) {
	var v T
	if err := jsoncodec.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("failed to unmarshal %s payload: %w", SchemaName[T](), err)
	}
	return v, nil
}

// ProtoJSONCodec encodes protobuf messages in their canonical JSON form.
type ProtoJSONCodec[T proto.Message] struct {
	prototype T
}

// NewProtoJSONCodec returns a codec that decodes into fresh instances of
// prototype's message type.
func NewProtoJSONCodec[T proto.Message](prototype T) ProtoJSONCodec[T] {
	return ProtoJSONCodec[T]{prototype: prototype}
}

func (c ProtoJSONCodec[T]) Encode(v T) ([]byte, error) {
	if isNilProto(v) {
		return nil, fmt.Errorf("cannot marshal nil %s", SchemaName[T]())
	}
	return protojson.Marshal(v)
}

func (c ProtoJSONCodec[T]) Decode(data []byte) (T, error) {
	var zero T
	if isNilProto(c.prototype) {
		return zero, fmt.Errorf("proto codec for %s has no prototype", SchemaName[T]())
	}
	typed, ok := c.prototype.ProtoReflect().New().Interface().(T)
	if !ok {
		return zero, fmt.Errorf("prototype %T cannot be cloned", c.prototype)
	}
	if err := protojson.Unmarshal(data, typed); err != nil {
		return zero, fmt.Errorf("failed to unmarshal %T payload: %w", c.prototype, err)
	}
	return typed, nil
}

// SchemaName is the payload type name written to the event_message_schema
// header.
func SchemaName[T any]() string {
	typ := reflect.TypeFor[T]()
	if typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	return typ.String()
}

func isNilProto(msg proto.Message) bool {
	if msg == nil {
		return true
	}
	v := reflect.ValueOf(msg)
	return v.Kind() == reflect.Pointer && v.IsNil()
}
