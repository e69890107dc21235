// Package topics maps stage topic names to the codec of the payload they carry.
package topics

import (
	"errors"
	"fmt"
	"sync"

	"github.com/drblury/soknadflow/internal/runtime/envelope"
	"github.com/drblury/soknadflow/internal/soknad"
)

var (
	ErrFrozen        = errors.New("topics: registry is frozen")
	ErrUnknownTopic  = errors.New("topics: unknown topic")
	ErrDuplicate     = errors.New("topics: topic already registered")
	ErrTypeMismatch  = errors.New("topics: payload type does not match topic")
	ErrEmptyTopicKey = errors.New("topics: topic name is required")
)

// Names holds the four stage topics for one prefix.
type Names struct {
	Received     string
	Preprocessed string
	Archived     string
	Cleanup      string
}

// NamesFor derives the stage topics from prefix.
func NamesFor(prefix string) Names {
	return Names{
		Received:     prefix + "-mottatt",
		Preprocessed: prefix + "-preprossessert",
		Archived:     prefix + "-arkivert",
		Cleanup:      prefix + "-cleanup",
	}
}

// All lists the topics in pipeline order.
func (n Names) All() []string {
	return []string{n.Received, n.Preprocessed, n.Archived, n.Cleanup}
}

type binding struct {
	schema string
	encode func(any) ([]byte, error)
	decode func([]byte) (any, error)
	codec  any
}

// Registry is written during startup and read-only after Freeze.
type Registry struct {
	mu       sync.RWMutex
	bindings map[string]binding
	frozen   bool
}

func NewRegistry() *Registry {
	return &Registry{bindings: make(map[string]binding)}
}

// NewDefault registers the soknad payloads on the topics of prefix and freezes
// the registry.
func NewDefault(prefix string) (*Registry, Names, error) {
	names := NamesFor(prefix)
	reg := NewRegistry()
	err := errors.Join(
		Register(reg, names.Received, envelope.Codec[soknad.Submission](envelope.JSONCodec[soknad.Submission]{})),
		Register(reg, names.Preprocessed, envelope.Codec[soknad.PreprocessedSubmission](envelope.JSONCodec[soknad.PreprocessedSubmission]{})),
		Register(reg, names.Archived, envelope.Codec[soknad.ArchivedSubmission](envelope.JSONCodec[soknad.ArchivedSubmission]{})),
		Register(reg, names.Cleanup, envelope.Codec[soknad.CleanupInstruction](envelope.JSONCodec[soknad.CleanupInstruction]{})),
	)
	if err != nil {
		return nil, Names{}, err
	}
	reg.Freeze()
	return reg, names, nil
}

// Register binds topic to codec.
func Register[T any](r *Registry, topic string, codec envelope.Codec[T]) error {
	if topic == "" {
		return ErrEmptyTopicKey
	}
	if codec == nil {
		return fmt.Errorf("topics: codec for %q is required", topic)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("%w: cannot register %q", ErrFrozen, topic)
	}
	if _, ok := r.bindings[topic]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicate, topic)
	}

	schema := envelope.SchemaName[T]()
	r.bindings[topic] = binding{
		schema: schema,
		codec:  codec,
		encode: func(v any) ([]byte, error) {
			typed, ok := v.(T)
			if !ok {
				return nil, fmt.Errorf("%w: %q expects %s, got %T", ErrTypeMismatch, topic, schema, v)
			}
			return codec.Encode(typed)
		},
		decode: func(data []byte) (any, error) {
			return codec.Decode(data)
		},
	}
	return nil
}

// Lookup returns the typed codec of topic.
func Lookup[T any](r *Registry, topic string) (envelope.Codec[T], error) {
	b, err := r.binding(topic)
	if err != nil {
		return nil, err
	}
	codec, ok := b.codec.(envelope.Codec[T])
	if !ok {
		return nil, fmt.Errorf("%w: %q carries %s, not %s", ErrTypeMismatch, topic, b.schema, envelope.SchemaName[T]())
	}
	return codec, nil
}

// Encode serialises v with the codec bound to topic.
func (r *Registry) Encode(topic string, v any) ([]byte, error) {
	b, err := r.binding(topic)
	if err != nil {
		return nil, err
	}
	return b.encode(v)
}

// Decode deserialises data with the codec bound to topic.
func (r *Registry) Decode(topic string, data []byte) (any, error) {
	b, err := r.binding(topic)
	if err != nil {
		return nil, err
	}
	return b.decode(data)
}

// Schema returns the payload type name bound to topic.
func (r *Registry) Schema(topic string) (string, bool) {
	b, err := r.binding(topic)
	return b.schema, err == nil
}

// Freeze prevents further registrations.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

func (r *Registry) binding(topic string) (binding, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[topic]
	if !ok {
		return binding{}, fmt.Errorf("%w: %q", ErrUnknownTopic, topic)
	}
	return b, nil
}
