// Package transport defines the broker abstraction the pipeline stages run on.
// Each backend (kafka, rabbitmq, nats, aws, channel) lives in its own
// sub-package and registers a Builder with the transport registry.
package transport

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Transport combines a publisher and subscriber pair produced by a Builder.
// A stage instance owns its Transport and closes it on teardown.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Builder creates a transport from config.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config provides the values transports need without depending on the full
// config package.
type Config interface {
	// GetPubSubSystem returns the transport name.
	GetPubSubSystem() string

	// Kafka
	GetKafkaBrokers() []string
	GetKafkaClientID() string
	GetKafkaConsumerGroup() string

	// RabbitMQ
	GetRabbitMQURL() string

	// NATS
	GetNATSURL() string

	// AWS
	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}

// CapabilitiesProvider is implemented by transports that can report their capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}

type groupConfig struct {
	Config
	group string
}

func (g groupConfig) GetKafkaConsumerGroup() string { return g.group }

// WithConsumerGroup returns cfg with the consumer group replaced. Stages use
// it so that every stage consumes its input topic under its own group
// (Kafka consumer group, NATS queue group, RabbitMQ and SQS queue suffix).
func WithConsumerGroup(cfg Config, group string) Config {
	if cfg == nil {
		return nil
	}
	if g, ok := cfg.(groupConfig); ok {
		cfg = g.Config
	}
	return groupConfig{Config: cfg, group: group}
}

// ConsumerGroup joins a base group and a stage name as "<base>-<stage>".
func ConsumerGroup(base, stage string) string {
	switch {
	case base == "":
		return stage
	case stage == "":
		return base
	default:
		return base + "-" + stage
	}
}
