// Package retry runs a unit of work until it succeeds, backing off
// exponentially between attempts. There is no attempt limit; only tagged
// faults and context cancellation end the loop early.
package retry

import (
	"context"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/drblury/soknadflow/internal/runtime/faults"
	loggingpkg "github.com/drblury/soknadflow/internal/runtime/logging"
	"github.com/drblury/soknadflow/internal/runtime/metrics"
)

// Policy shapes the delay between attempts. A zero MaxDelay leaves the delay
// uncapped.
type Policy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Factor       float64
}

// DefaultPolicy waits 5s after the first failure and doubles up to 10m.
func DefaultPolicy() Policy {
	return Policy{InitialDelay: 5 * time.Second, MaxDelay: 10 * time.Minute, Factor: 2.0}
}

func (p Policy) withDefaults() Policy {
	def := DefaultPolicy()
	if p.InitialDelay <= 0 {
		p.InitialDelay = def.InitialDelay
	}
	if p.Factor < 1 {
		p.Factor = def.Factor
	}
	return p
}

func (p Policy) backOff() *backoff.ExponentialBackOff {
	p = p.withDefaults()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialDelay
	b.Multiplier = p.Factor
	b.MaxInterval = p.MaxDelay
	if p.MaxDelay <= 0 {
		b.MaxInterval = time.Duration(math.MaxInt64)
	}
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Delays returns the first n sleeps the policy produces.
func (p Policy) Delays(n int) []time.Duration {
	b := p.backOff()
	out := make([]time.Duration, 0, n)
	for range n {
		out = append(out, b.NextBackOff())
	}
	return out
}

// Executor carries the collaborators shared by every retried operation.
type Executor struct {
	sink     metrics.Sink
	logger   loggingpkg.ServiceLogger
	newTimer func() backoff.Timer
}

// Option customises an Executor.
type Option func(*Executor)

// WithTimer replaces the wall-clock timer used between attempts.
func WithTimer(factory func() backoff.Timer) Option {
	return func(e *Executor) {
		e.newTimer = factory
	}
}

func New(sink metrics.Sink, logger loggingpkg.ServiceLogger, opts ...Option) *Executor {
	if logger == nil {
		logger = loggingpkg.NewNopLogger()
	}
	e := &Executor{sink: metrics.OrNop(sink), logger: logger}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Do runs block until it returns nil, a Recoverable or Fatal fault, or ctx is
// done. Every attempt is counted under name with outcome OK or FAIL and logged
// through the logger stored in ctx.
func Do[T any](ctx context.Context, e *Executor, name string, policy Policy, block func(context.Context) (T, error)) (T, error) {
	logger := loggingpkg.FromContext(ctx, e.logger)
	attempt := 0

	operation := func() (T, error) {
		attempt++
		if err := ctx.Err(); err != nil {
			var zero T
			return zero, backoff.Permanent(err)
		}

		res, err := block(ctx)
		if err == nil {
			e.sink.RecordAttempt(name, metrics.OutcomeOK)
			logger.Trace("Attempt succeeded", loggingpkg.LogFields{"operation": name, "attempt": attempt})
			return res, nil
		}

		e.sink.RecordAttempt(name, metrics.OutcomeFail)
		kind := faults.KindOf(err)
		logger.Warn("Attempt failed", loggingpkg.LogFields{
			"operation": name,
			"attempt":   attempt,
			"fault":     kind.String(),
			"error":     err.Error(),
		})
		if kind != faults.KindTransient {
			return res, backoff.Permanent(err)
		}
		return res, err
	}

	notify := func(err error, next time.Duration) {
		logger.Debug("Retrying after backoff", loggingpkg.LogFields{
			"operation": name,
			"attempt":   attempt,
			"delay":     next.String(),
		})
	}

	var timer backoff.Timer
	if e.newTimer != nil {
		timer = e.newTimer()
	}
	return backoff.RetryNotifyWithTimerAndData(operation, backoff.WithContext(policy.backOff(), ctx), notify, timer)
}
