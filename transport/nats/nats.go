// Package nats provides a NATS JetStream transport. Each stage consumes its
// input subject through a durable queue consumer named after its consumer
// group, with at most one unacknowledged message so per-subject order holds.
package nats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/drblury/soknadflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "nats"

// Alias is accepted as PubSubSystem as well.
const Alias = "nats-jetstream"

const (
	// DefaultAckWait bounds how long JetStream waits for an ack before
	// redelivering. Retry backoff runs inside a single delivery, so this
	// must exceed the longest retry sequence a stage tolerates.
	DefaultAckWait = 30 * time.Minute

	// DefaultReconnectWait is the delay between reconnect attempts.
	DefaultReconnectWait = 2 * time.Second
)

// ErrNoURL is returned when no NATS URL is configured.
var ErrNoURL = errors.New("nats: no url configured")

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return nats.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return nats.NewSubscriber(cfg, logger)
}

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSCapabilities)
	transport.RegisterWithCapabilities(Alias, Build, transport.NATSCapabilities)
}

func connectOptions(cfg transport.Config) []natsgo.Option {
	opts := []natsgo.Option{
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(DefaultReconnectWait),
	}
	if id := cfg.GetKafkaClientID(); id != "" {
		opts = append(opts, natsgo.Name(id))
	}
	return opts
}

// JetStreamConfig returns the JetStream settings for a consumer group.
func JetStreamConfig(group string) nats.JetStreamConfig {
	return nats.JetStreamConfig{
		AutoProvision: true,
		TrackMsgId:    true,
		DurablePrefix: group,
		SubscribeOptions: []natsgo.SubOpt{
			natsgo.DeliverAll(),
			natsgo.AckExplicit(),
			natsgo.MaxAckPending(1),
			natsgo.AckWait(DefaultAckWait),
		},
	}
}

// Build creates a new NATS JetStream transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetNATSURL()
	if url == "" {
		return transport.Transport{}, ErrNoURL
	}
	group := cfg.GetKafkaConsumerGroup()
	marshaler := &nats.NATSMarshaler{}
	jsConfig := JetStreamConfig(group)

	publisher, err := PublisherFactory(
		nats.PublisherConfig{
			URL:         url,
			NatsOptions: connectOptions(cfg),
			Marshaler:   marshaler,
			JetStream:   jsConfig,
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, fmt.Errorf("nats publisher: %w", err)
	}

	subscriber, err := SubscriberFactory(
		nats.SubscriberConfig{
			URL:              url,
			QueueGroupPrefix: group,
			SubscribersCount: 1,
			AckWaitTimeout:   DefaultAckWait,
			NatsOptions:      connectOptions(cfg),
			Unmarshaler:      marshaler,
			JetStream:        jsConfig,
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, fmt.Errorf("nats subscriber: %w", err)
	}

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.NATSCapabilities
}
