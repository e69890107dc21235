package transport

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockConfig struct {
	pubSubSystem string
	group        string
}

func (m *mockConfig) GetPubSubSystem() string       { return m.pubSubSystem }
func (m *mockConfig) GetKafkaBrokers() []string     { return nil }
func (m *mockConfig) GetKafkaClientID() string      { return "" }
func (m *mockConfig) GetKafkaConsumerGroup() string { return m.group }
func (m *mockConfig) GetRabbitMQURL() string        { return "" }
func (m *mockConfig) GetNATSURL() string            { return "" }
func (m *mockConfig) GetAWSRegion() string          { return "" }
func (m *mockConfig) GetAWSAccountID() string       { return "" }
func (m *mockConfig) GetAWSAccessKeyID() string     { return "" }
func (m *mockConfig) GetAWSSecretAccessKey() string { return "" }
func (m *mockConfig) GetAWSEndpoint() string        { return "" }

type mockPublisher struct{}

func (m *mockPublisher) Publish(topic string, messages ...*message.Message) error { return nil }
func (m *mockPublisher) Close() error                                             { return nil }

type mockSubscriber struct{}

func (m *mockSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	ch := make(chan *message.Message)
	close(ch)
	return ch, nil
}

func (m *mockSubscriber) Close() error { return nil }

func okBuilder(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	return Transport{Publisher: &mockPublisher{}, Subscriber: &mockSubscriber{}}, nil
}

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry()
	assert.NotNil(t, reg.builders)
	assert.NotNil(t, reg.capabilities)
	assert.Empty(t, reg.Names())
}

func TestRegistry_RegisterWithCapabilities(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterWithCapabilities("kafka", okBuilder, KafkaCapabilities)

	assert.True(t, reg.Has("kafka"))
	caps := reg.GetCapabilities("kafka")
	assert.Equal(t, "kafka", caps.Name)
	assert.True(t, caps.PreservesKeyOrder())
	assert.True(t, caps.SupportsReliableDelivery())
}

func TestRegistry_GetCapabilities_Unknown(t *testing.T) {
	caps := NewRegistry().GetCapabilities("unknown")
	assert.Equal(t, "unknown", caps.Name)
	assert.False(t, caps.PreservesKeyOrder())
	assert.False(t, caps.Durable)
}

func TestRegistry_Build(t *testing.T) {
	reg := NewRegistry()
	reg.Register("test-transport", okBuilder)

	tr, err := reg.Build(context.Background(), &mockConfig{pubSubSystem: "test-transport"}, nil)
	require.NoError(t, err)
	assert.NotNil(t, tr.Publisher)
	assert.NotNil(t, tr.Subscriber)
}

func TestRegistry_Build_NilConfig(t *testing.T) {
	_, err := NewRegistry().Build(context.Background(), nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config is required")
}

func TestRegistry_Build_UnknownTransport(t *testing.T) {
	reg := NewRegistry()
	reg.Register("kafka", okBuilder)

	_, err := reg.Build(context.Background(), &mockConfig{pubSubSystem: "carrier-pigeon"}, nil)
	require.ErrorIs(t, err, ErrUnknownTransport)
	assert.Contains(t, err.Error(), `"carrier-pigeon"`)
	assert.Contains(t, err.Error(), "kafka")
}

func TestRegistry_Build_BuilderError(t *testing.T) {
	reg := NewRegistry()
	expectedErr := errors.New("broker unreachable")
	reg.Register("failing", func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
		return Transport{}, expectedErr
	})

	_, err := reg.Build(context.Background(), &mockConfig{pubSubSystem: "failing"}, nil)
	require.ErrorIs(t, err, expectedErr)
	assert.Contains(t, err.Error(), "build failing transport")
}

func TestRegistry_BuilderUsesRegistry(t *testing.T) {
	reg := NewRegistry()
	var seen string
	reg.Register("test", func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
		seen = cfg.GetKafkaConsumerGroup()
		return okBuilder(ctx, cfg, logger)
	})

	build := reg.Builder()
	_, err := build(context.Background(), WithConsumerGroup(&mockConfig{pubSubSystem: "test", group: "base"}, "base-archived"), nil)
	require.NoError(t, err)
	assert.Equal(t, "base-archived", seen)
}

func TestRegistry_NamesSorted(t *testing.T) {
	reg := NewRegistry()
	reg.Register("rabbitmq", okBuilder)
	reg.Register("aws", okBuilder)
	reg.Register("kafka", okBuilder)

	assert.Equal(t, []string{"aws", "kafka", "rabbitmq"}, reg.Names())
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				reg.Register("transport", okBuilder)
				reg.Has("transport")
				reg.Names()
				reg.GetCapabilities("transport")
			}
		}()
	}
	wg.Wait()

	assert.True(t, reg.Has("transport"))
}

func TestWithConsumerGroup(t *testing.T) {
	base := &mockConfig{pubSubSystem: "kafka", group: "soknadflow"}

	cfg := WithConsumerGroup(base, "soknadflow-received")
	assert.Equal(t, "soknadflow-received", cfg.GetKafkaConsumerGroup())
	assert.Equal(t, "kafka", cfg.GetPubSubSystem())
	assert.Equal(t, "soknadflow", base.GetKafkaConsumerGroup())

	again := WithConsumerGroup(cfg, "soknadflow-cleanup")
	assert.Equal(t, "soknadflow-cleanup", again.GetKafkaConsumerGroup())
	_, nested := again.(groupConfig).Config.(groupConfig)
	assert.False(t, nested)

	assert.Nil(t, WithConsumerGroup(nil, "x"))
}

func TestConsumerGroup(t *testing.T) {
	assert.Equal(t, "soknadflow-received", ConsumerGroup("soknadflow", "received"))
	assert.Equal(t, "received", ConsumerGroup("", "received"))
	assert.Equal(t, "soknadflow", ConsumerGroup("soknadflow", ""))
}

func TestCapabilities_BuiltIn(t *testing.T) {
	for _, caps := range []Capabilities{ChannelCapabilities, KafkaCapabilities, RabbitMQCapabilities, NATSCapabilities} {
		assert.True(t, caps.PreservesKeyOrder(), caps.Name)
		assert.True(t, caps.SupportsReliableDelivery(), caps.Name)
	}
	assert.False(t, AWSCapabilities.PreservesKeyOrder())
	assert.False(t, ChannelCapabilities.Durable)
	assert.True(t, KafkaCapabilities.Durable)
}
