package pipeline

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/soknadflow/internal/runtime/envelope"
	"github.com/drblury/soknadflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/soknadflow/internal/runtime/logging"
	"github.com/drblury/soknadflow/internal/runtime/topics"
	"github.com/drblury/soknadflow/internal/soknad"
	"github.com/drblury/soknadflow/transport"
)

const ingressGroup = "ingress"

// Submit publishes submission to the received topic as a version 1 entry
// keyed by the submission id and returns the correlation id it was given.
func (p *Pipeline) Submit(ctx context.Context, submission soknad.Submission, requestID string) (string, error) {
	if err := submission.Validate(); err != nil {
		return "", err
	}
	codec, err := topics.Lookup[soknad.Submission](p.topics, p.names.Received)
	if err != nil {
		return "", err
	}

	md := envelope.Metadata{
		Version:       envelope.CurrentVersion,
		CorrelationID: ids.NewCorrelationID(),
		RequestID:     requestID,
	}
	msg, err := envelope.ToMessage(envelope.New(md, submission.ID, submission), codec)
	if err != nil {
		return "", fmt.Errorf("encode submission %s: %w", submission.ID, err)
	}
	msg.SetContext(ctx)

	publisher, err := p.ingressPublisher(ctx)
	if err != nil {
		return "", err
	}
	if err := publisher.Publish(p.names.Received, msg); err != nil {
		return "", fmt.Errorf("publish submission %s: %w", submission.ID, err)
	}

	p.log.Info("Submission accepted", loggingpkg.LogFields{
		"correlation_id": md.CorrelationID,
		"request_id":     requestID,
		"key":            submission.ID,
		"topic":          p.names.Received,
	})
	return md.CorrelationID, nil
}

// ingressPublisher builds the publisher used by Submit on first use.
func (p *Pipeline) ingressPublisher(ctx context.Context) (message.Publisher, error) {
	p.ingressMu.Lock()
	defer p.ingressMu.Unlock()
	if p.ingress != nil {
		return p.ingress, nil
	}

	group := transport.ConsumerGroup(p.conf.KafkaConsumerGroup, ingressGroup)
	tr, err := p.buildTransport(ctx, transport.WithConsumerGroup(p.conf, group), p.wmLog)
	if err != nil {
		return nil, fmt.Errorf("build ingress transport: %w", err)
	}
	if tr.Subscriber != nil {
		_ = tr.Subscriber.Close()
	}
	p.ingress = tr.Publisher
	return p.ingress, nil
}
