// Package channel provides an in-memory transport on top of Watermill's
// gochannel. It backs the binary's in-memory mode and the pipeline tests.
//
// All stages of a process share one Bus. Publishing blocks until every
// subscriber of the topic has acknowledged, which keeps per-key order across
// stages. The bus is not durable: entries published to a topic without a
// subscriber are dropped, and an entry whose consumer stage pauses is not
// redelivered after it resumes.
package channel

import (
	"context"
	"errors"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/soknadflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "channel"

// Alias is accepted as PubSubSystem for compatibility with Watermill naming.
const Alias = "gochannel"

// ErrBusClosed is returned by operations on a closed bus.
var ErrBusClosed = errors.New("channel: bus closed")

// Factory allows overriding the per-topic channel creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) *gochannel.GoChannel {
	return gochannel.NewGoChannel(cfg, logger)
}

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.ChannelCapabilities)
	transport.RegisterWithCapabilities(Alias, Build, transport.ChannelCapabilities)
}

// Bus is a set of in-memory topics shared by every transport it builds.
// Each topic has its own gochannel so a subscriber leaving one topic never
// waits on publishes in flight on another.
type Bus struct {
	logger watermill.LoggerAdapter

	mu     sync.Mutex
	topics map[string]*gochannel.GoChannel
	closed bool
}

// NewBus creates an empty bus.
func NewBus(logger watermill.LoggerAdapter) *Bus {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Bus{
		logger: logger,
		topics: make(map[string]*gochannel.GoChannel),
	}
}

func (b *Bus) topic(name string) (*gochannel.GoChannel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}
	ch, ok := b.topics[name]
	if !ok {
		ch = Factory(gochannel.Config{BlockPublishUntilSubscriberAck: true}, b.logger)
		b.topics[name] = ch
	}
	return ch, nil
}

// Publish publishes messages to topic and returns once every current
// subscriber has acknowledged them.
func (b *Bus) Publish(topic string, messages ...*message.Message) error {
	ch, err := b.topic(topic)
	if err != nil {
		return err
	}
	return ch.Publish(topic, messages...)
}

// Subscribe subscribes to topic until ctx is done.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	ch, err := b.topic(topic)
	if err != nil {
		return nil, err
	}
	return ch.Subscribe(ctx, topic)
}

// Close closes every topic. Subscriptions end and later calls fail with ErrBusClosed.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	topics := b.topics
	b.topics = nil
	b.mu.Unlock()

	var errs []error
	for _, ch := range topics {
		if err := ch.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Transport returns a publisher/subscriber pair on the bus. Closing them
// leaves the bus open, since a stage closes its transport on every pause.
func (b *Bus) Transport() transport.Transport {
	return transport.Transport{
		Publisher:  busPublisher{bus: b},
		Subscriber: busSubscriber{bus: b},
	}
}

// Builder returns a transport.Builder backed by this bus.
func (b *Bus) Builder() transport.Builder {
	return func(context.Context, transport.Config, watermill.LoggerAdapter) (transport.Transport, error) {
		b.mu.Lock()
		closed := b.closed
		b.mu.Unlock()
		if closed {
			return transport.Transport{}, ErrBusClosed
		}
		return b.Transport(), nil
	}
}

type busPublisher struct{ bus *Bus }

func (p busPublisher) Publish(topic string, messages ...*message.Message) error {
	return p.bus.Publish(topic, messages...)
}

func (busPublisher) Close() error { return nil }

// Subscriptions end when the subscribing context is cancelled, which the
// router does on Close.
type busSubscriber struct{ bus *Bus }

func (s busSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return s.bus.Subscribe(ctx, topic)
}

func (busSubscriber) Close() error { return nil }

var (
	defaultOnce sync.Once
	defaultBus  *Bus
)

// Default returns the process-wide bus used by the registered builder.
func Default() *Bus {
	defaultOnce.Do(func() {
		defaultBus = NewBus(nil)
	})
	return defaultBus
}

// Build returns a transport on the process-wide bus.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	return Default().Builder()(ctx, cfg, logger)
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.ChannelCapabilities
}
