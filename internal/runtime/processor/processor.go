// Package processor wraps a stage's unit of work: it scopes logging to the
// entry's correlation id, retries through the retry executor and derives the
// outgoing entry.
package processor

import (
	"context"

	"github.com/drblury/soknadflow/internal/runtime/envelope"
	"github.com/drblury/soknadflow/internal/runtime/faults"
	loggingpkg "github.com/drblury/soknadflow/internal/runtime/logging"
	"github.com/drblury/soknadflow/internal/runtime/metrics"
	"github.com/drblury/soknadflow/internal/runtime/retry"
)

// Processor holds what every stage shares.
type Processor struct {
	executor *retry.Executor
	policy   retry.Policy
	sink     metrics.Sink
	logger   loggingpkg.ServiceLogger
}

func New(executor *retry.Executor, policy retry.Policy, sink metrics.Sink, logger loggingpkg.ServiceLogger) *Processor {
	if logger == nil {
		logger = loggingpkg.NewNopLogger()
	}
	sink = metrics.OrNop(sink)
	if executor == nil {
		executor = retry.New(sink, logger)
	}
	return &Processor{executor: executor, policy: policy, sink: sink, logger: logger}
}

// Scope returns a context carrying the entry metadata and a logger bound to its
// correlation id, together with that logger.
func (p *Processor) Scope(ctx context.Context, stage string, md envelope.Metadata, key string) (context.Context, loggingpkg.ServiceLogger) {
	logger := p.logger.With(loggingpkg.LogFields{
		"stage":          stage,
		"correlation_id": md.CorrelationID,
		"key":            key,
	})
	ctx = envelope.ContextWithMetadata(ctx, md, key)
	return loggingpkg.IntoContext(ctx, logger), logger
}

// Process runs work on the entry payload until it succeeds and wraps the
// result in the successor entry. Failures that escape the retry executor
// without a tag are escalated to faults.Fatal.
func Process[In, Out any](ctx context.Context, p *Processor, stage string, entry envelope.Entry[In], work func(context.Context, In) (Out, error)) (envelope.Entry[Out], error) {
	ctx, logger := p.Scope(ctx, stage, entry.Metadata, entry.Key)

	out, err := retry.Do(ctx, p.executor, stage, p.policy, func(ctx context.Context) (Out, error) {
		return work(ctx, entry.Payload)
	})
	if err != nil {
		err = faults.Escalate(err)
		logger.Error("Unit of work failed", err, loggingpkg.LogFields{"fault": faults.KindOf(err).String()})
		return envelope.Entry[Out]{}, err
	}

	logger.Debug("Unit of work completed", nil)
	return envelope.Next(entry, out), nil
}
