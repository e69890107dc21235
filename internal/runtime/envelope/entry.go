// Package envelope defines the unit that travels on every stage topic: an
// immutable metadata block, the partition key and a stage specific payload.
package envelope

// CurrentVersion is the envelope version written by the ingress.
const CurrentVersion = 1

// Metadata is created once when a submission enters the pipeline and is
// carried unchanged by every stage.
type Metadata struct {
	Version       int    `json:"version"`
	CorrelationID string `json:"correlation_id"`
	RequestID     string `json:"request_id,omitempty"`
}

// Entry is the record published to and consumed from stage topics. Stages never
// mutate an Entry; they derive the next one with Next.
type Entry[P any] struct {
	Metadata Metadata
	Key      string
	Payload  P
}

// New builds a first-stage entry.
func New[P any](md Metadata, key string, payload P) Entry[P] {
	return Entry[P]{Metadata: md, Key: key, Payload: payload}
}

// Next derives the successor of entry carrying the same metadata and key.
func Next[In, Out any](entry Entry[In], payload Out) Entry[Out] {
	return Entry[Out]{Metadata: entry.Metadata, Key: entry.Key, Payload: payload}
}
