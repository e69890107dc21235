package envelope

import (
	"strconv"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/soknadflow/internal/runtime/ids"
)

// Header keys written on every stage message. These keys are reserved.
const (
	HeaderVersion       = "entry_version"
	HeaderCorrelationID = "correlation_id"
	HeaderRequestID     = "request_id"
	// HeaderPartitionKey is read by the Kafka partitioning marshaler so every
	// stage publishes with the key it consumed.
	HeaderPartitionKey = "partition_key"
	HeaderEventSchema  = "event_message_schema"
)

// ToMessage encodes entry as a Watermill message with a fresh ULID.
func ToMessage[P any](entry Entry[P], codec Codec[P]) (*message.Message, error) {
	payload, err := codec.Encode(entry.Payload)
	if err != nil {
		return nil, err
	}
	msg := message.NewMessage(ids.CreateULID(), payload)
	WriteHeaders(msg.Metadata, entry.Metadata, entry.Key)
	msg.Metadata.Set(HeaderEventSchema, SchemaName[P]())
	return msg, nil
}

// FromMessage decodes msg into a typed entry.
func FromMessage[P any](msg *message.Message, codec Codec[P]) (Entry[P], error) {
	md, key := ReadHeaders(msg.Metadata)
	payload, err := codec.Decode(msg.Payload)
	if err != nil {
		return Entry[P]{}, err
	}
	return Entry[P]{Metadata: md, Key: key, Payload: payload}, nil
}

// WriteHeaders stores the envelope metadata and key in headers.
func WriteHeaders(headers message.Metadata, md Metadata, key string) {
	headers.Set(HeaderVersion, strconv.Itoa(md.Version))
	headers.Set(HeaderCorrelationID, md.CorrelationID)
	if md.RequestID != "" {
		headers.Set(HeaderRequestID, md.RequestID)
	}
	headers.Set(HeaderPartitionKey, key)
}

// ReadHeaders extracts the envelope metadata and key without touching the
// payload. A missing or malformed version yields version 0, which no stage
// supports.
func ReadHeaders(headers message.Metadata) (Metadata, string) {
	version, err := strconv.Atoi(headers.Get(HeaderVersion))
	if err != nil {
		version = 0
	}
	return Metadata{
		Version:       version,
		CorrelationID: headers.Get(HeaderCorrelationID),
		RequestID:     headers.Get(HeaderRequestID),
	}, headers.Get(HeaderPartitionKey)
}
