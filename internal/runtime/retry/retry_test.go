package retry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/soknadflow/internal/runtime/faults"
	"github.com/drblury/soknadflow/internal/runtime/metrics"
)

// instantTimer fires immediately and records the requested delays.
type instantTimer struct {
	mu     *sync.Mutex
	delays *[]time.Duration
	c      chan time.Time
}

func (t *instantTimer) Start(d time.Duration) {
	t.mu.Lock()
	*t.delays = append(*t.delays, d)
	t.mu.Unlock()
	t.c <- time.Now()
}

func (t *instantTimer) Stop() {}

func (t *instantTimer) C() <-chan time.Time { return t.c }

type delayLog struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (l *delayLog) factory() backoff.Timer {
	return &instantTimer{mu: &l.mu, delays: &l.delays, c: make(chan time.Time, 1)}
}

func (l *delayLog) snapshot() []time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]time.Duration(nil), l.delays...)
}

func newTestExecutor(t *testing.T) (*Executor, *metrics.Recorder, *delayLog) {
	t.Helper()
	rec := metrics.NewRecorder()
	log := &delayLog{}
	return New(rec, nil, WithTimer(log.factory)), rec, log
}

var testPolicy = Policy{InitialDelay: 5 * time.Second, MaxDelay: 10 * time.Second, Factor: 2.0}

func TestDoSucceedsImmediately(t *testing.T) {
	exec, rec, log := newTestExecutor(t)

	got, err := Do(context.Background(), exec, "received", testPolicy, func(context.Context) (string, error) {
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, uint64(1), rec.Attempts("received", metrics.OutcomeOK))
	assert.Equal(t, uint64(0), rec.Attempts("received", metrics.OutcomeFail))
	assert.Empty(t, log.snapshot())
}

func TestDoBacksOffWithinBounds(t *testing.T) {
	exec, rec, log := newTestExecutor(t)
	calls := 0

	got, err := Do(context.Background(), exec, "received", testPolicy, func(context.Context) (int, error) {
		calls++
		if calls <= 3 {
			return 0, errors.New("archive unavailable")
		}
		return calls, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 4, got)
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second, 10 * time.Second}, log.snapshot())
	assert.Equal(t, uint64(3), rec.Attempts("received", metrics.OutcomeFail))
	assert.Equal(t, uint64(1), rec.Attempts("received", metrics.OutcomeOK))
}

func TestDoKeepsRetryingLongSequences(t *testing.T) {
	exec, rec, log := newTestExecutor(t)
	calls := 0

	_, err := Do(context.Background(), exec, "archived", testPolicy, func(context.Context) (struct{}, error) {
		calls++
		if calls < 50 {
			return struct{}{}, errors.New("still down")
		}
		return struct{}{}, nil
	})

	require.NoError(t, err)
	delays := log.snapshot()
	require.Len(t, delays, 49)
	for _, d := range delays[1:] {
		assert.Equal(t, 10*time.Second, d)
	}
	assert.Equal(t, uint64(49), rec.Attempts("archived", metrics.OutcomeFail))
}

func TestDoStopsOnTaggedFaults(t *testing.T) {
	for _, tc := range []struct {
		name string
		err  error
		kind faults.Kind
	}{
		{"recoverable", faults.Recoverable(errors.New("task system rejects")), faults.KindRecoverable},
		{"fatal", faults.Fatal(errors.New("schema broken")), faults.KindFatal},
	} {
		t.Run(tc.name, func(t *testing.T) {
			exec, rec, log := newTestExecutor(t)
			calls := 0

			_, err := Do(context.Background(), exec, "preprocessed", testPolicy, func(context.Context) (int, error) {
				calls++
				return 0, tc.err
			})

			require.Error(t, err)
			assert.Equal(t, tc.kind, faults.KindOf(err))
			assert.ErrorIs(t, err, tc.err)
			assert.Equal(t, 1, calls)
			assert.Empty(t, log.snapshot())
			assert.Equal(t, uint64(1), rec.Attempts("preprocessed", metrics.OutcomeFail))
		})
	}
}

func TestDoStopsWhenContextCanceled(t *testing.T) {
	exec, _, _ := newTestExecutor(t)
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	_, err := Do(ctx, exec, "cleanup", testPolicy, func(context.Context) (int, error) {
		calls++
		if calls == 2 {
			cancel()
		}
		return 0, errors.New("transient")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, calls)
}

func TestDoWithCanceledContextNeverRuns(t *testing.T) {
	exec, rec, _ := newTestExecutor(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Do(ctx, exec, "cleanup", testPolicy, func(context.Context) (int, error) {
		t.Fatal("block must not run")
		return 0, nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, uint64(0), rec.Attempts("cleanup", metrics.OutcomeFail))
}

func TestPolicyDelays(t *testing.T) {
	assert.Equal(t,
		[]time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second, 40 * time.Second},
		Policy{InitialDelay: 5 * time.Second, Factor: 2}.Delays(4),
		"zero max delay is uncapped")

	assert.Equal(t,
		[]time.Duration{time.Second, 3 * time.Second, 4 * time.Second},
		Policy{InitialDelay: time.Second, MaxDelay: 4 * time.Second, Factor: 3}.Delays(3))

	def := Policy{}.Delays(2)
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, def)
}
