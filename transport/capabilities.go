package transport

// Capabilities describes the delivery guarantees of a transport backend.
type Capabilities struct {
	// Name is the human-readable name of the transport.
	Name string

	// SupportsOrdering indicates messages sharing a partition key are
	// delivered in publish order.
	SupportsOrdering bool

	// SupportsPartitioning indicates the transport routes by partition key.
	SupportsPartitioning bool

	// SupportsAck indicates the transport supports explicit acknowledgment.
	SupportsAck bool

	// SupportsNack indicates a negative acknowledgment leads to redelivery.
	SupportsNack bool

	// Durable indicates unacknowledged messages survive a consumer restart.
	// Stages resumed after a pause only see the failed message again on a
	// durable transport.
	Durable bool

	// SupportsTracing indicates the transport propagates tracing headers natively.
	SupportsTracing bool

	// MaxMessageSize is the maximum message size in bytes (0 = unlimited/unknown).
	MaxMessageSize int64
}

// SupportsReliableDelivery returns true if the transport supports
// at-least-once delivery semantics (ack + nack).
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// PreservesKeyOrder reports whether per-key ordering holds across a stage.
func (c Capabilities) PreservesKeyOrder() bool {
	return c.SupportsOrdering
}

// Predefined capability sets for the built-in transports.
var (
	// ChannelCapabilities for the in-memory bus.
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
	}

	// KafkaCapabilities for Apache Kafka.
	KafkaCapabilities = Capabilities{
		Name:                 "kafka",
		SupportsOrdering:     true,
		SupportsPartitioning: true,
		SupportsAck:          true,
		SupportsNack:         true,
		Durable:              true,
		SupportsTracing:      true,
		MaxMessageSize:       1048576, // Default 1MB
	}

	// RabbitMQCapabilities for RabbitMQ/AMQP with durable queues.
	RabbitMQCapabilities = Capabilities{
		Name:             "rabbitmq",
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
		Durable:          true,
		SupportsTracing:  true,
	}

	// NATSCapabilities for NATS JetStream.
	NATSCapabilities = Capabilities{
		Name:             "nats",
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
		Durable:          true,
		SupportsTracing:  true,
		MaxMessageSize:   1048576, // Default 1MB
	}

	// AWSCapabilities for AWS SNS/SQS. Standard queues do not order.
	AWSCapabilities = Capabilities{
		Name:            "aws",
		SupportsAck:     true,
		SupportsNack:    true,
		Durable:         true,
		SupportsTracing: true,
		MaxMessageSize:  262144, // 256KB
	}
)

// GetCapabilities returns the capabilities for a transport by name from the
// default registry. Unknown transports report a zero set carrying only the name.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
