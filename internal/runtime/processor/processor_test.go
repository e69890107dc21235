package processor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/soknadflow/internal/runtime/envelope"
	"github.com/drblury/soknadflow/internal/runtime/faults"
	"github.com/drblury/soknadflow/internal/runtime/metrics"
	"github.com/drblury/soknadflow/internal/runtime/retry"
)

type firingTimer struct{ c chan time.Time }

func (t *firingTimer) Start(time.Duration) { t.c <- time.Now() }
func (t *firingTimer) Stop()               {}
func (t *firingTimer) C() <-chan time.Time { return t.c }

func newFiringTimer() backoff.Timer {
	return &firingTimer{c: make(chan time.Time, 1)}
}

type payload struct {
	ID    string `json:"id"`
	Value int    `json:"value"`
}

type result struct {
	ID      string `json:"id"`
	Doubled int    `json:"doubled"`
}

func newTestProcessor() (*Processor, *metrics.Recorder) {
	rec := metrics.NewRecorder()
	exec := retry.New(rec, nil, retry.WithTimer(newFiringTimer))
	return New(exec, retry.DefaultPolicy(), rec, nil), rec
}

func newMessage(t *testing.T, version int, correlationID, key string, p payload) *message.Message {
	t.Helper()
	entry := envelope.New(envelope.Metadata{Version: version, CorrelationID: correlationID}, key, p)
	msg, err := envelope.ToMessage(entry, envelope.JSONCodec[payload]{})
	require.NoError(t, err)
	return msg
}

func TestProcessRetriesUntilSuccess(t *testing.T) {
	proc, rec := newTestProcessor()
	entry := envelope.New(envelope.Metadata{Version: 1, CorrelationID: "abc"}, "s1", payload{ID: "s1", Value: 21})
	calls := 0

	out, err := Process(context.Background(), proc, "received", entry, func(ctx context.Context, in payload) (result, error) {
		calls++
		if calls <= 3 {
			return result{}, errors.New("converter busy")
		}
		return result{ID: in.ID, Doubled: in.Value * 2}, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 4, calls)
	assert.Equal(t, result{ID: "s1", Doubled: 42}, out.Payload)
	assert.Equal(t, "abc", out.Metadata.CorrelationID)
	assert.Equal(t, "s1", out.Key)
	assert.Equal(t, uint64(3), rec.Attempts("received", metrics.OutcomeFail))
	assert.Equal(t, uint64(1), rec.Attempts("received", metrics.OutcomeOK))
}

func TestProcessCarriesCorrelationIntoWork(t *testing.T) {
	proc, _ := newTestProcessor()
	entry := envelope.New(envelope.Metadata{Version: 1, CorrelationID: "abc", RequestID: "req"}, "s1", payload{})

	_, err := Process(context.Background(), proc, "received", entry, func(ctx context.Context, _ payload) (result, error) {
		md, ok := envelope.MetadataFromContext(ctx)
		require.True(t, ok)
		assert.Equal(t, "abc", md.CorrelationID)
		assert.Equal(t, "req", md.RequestID)
		assert.Equal(t, "s1", envelope.KeyFromContext(ctx))
		return result{}, nil
	})
	require.NoError(t, err)
}

func TestProcessPropagatesTaggedFaults(t *testing.T) {
	proc, _ := newTestProcessor()
	entry := envelope.New(envelope.Metadata{Version: 1, CorrelationID: "abc"}, "s1", payload{})
	cause := errors.New("task system rejected")

	_, err := Process(context.Background(), proc, "archived", entry, func(context.Context, payload) (result, error) {
		return result{}, faults.Recoverable(cause)
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, faults.KindRecoverable, faults.KindOf(err))
}

func TestProcessReportsCancellation(t *testing.T) {
	proc, _ := newTestProcessor()
	ctx, cancel := context.WithCancel(context.Background())
	entry := envelope.New(envelope.Metadata{Version: 1, CorrelationID: "abc"}, "s1", payload{})

	_, err := Process(ctx, proc, "archived", entry, func(context.Context, payload) (result, error) {
		cancel()
		return result{}, errors.New("interrupted")
	})

	assert.Equal(t, faults.KindCanceled, faults.KindOf(err))
}

func TestFilter(t *testing.T) {
	f := NewFilter(nil, []string{"blocked-key", "blocked-correlation", ""})

	assert.Equal(t, "", f.Check(envelope.Metadata{Version: 1, CorrelationID: "c"}, "k"))
	assert.Equal(t, ReasonUnsupportedVersion, f.Check(envelope.Metadata{Version: 99}, "k"))
	assert.Equal(t, ReasonUnsupportedVersion, f.Check(envelope.Metadata{Version: 0}, "k"))
	assert.Equal(t, ReasonSkipList, f.Check(envelope.Metadata{Version: 1}, "blocked-key"))
	assert.Equal(t, ReasonSkipList, f.Check(envelope.Metadata{Version: 1, CorrelationID: "blocked-correlation"}, "k"))
	assert.Equal(t, "", f.Check(envelope.Metadata{Version: 1}, ""))

	multi := NewFilter([]int{1, 2}, nil)
	assert.Equal(t, "", multi.Check(envelope.Metadata{Version: 2}, "k"))
}

func doubleWork(calls *[]payload, mu *sync.Mutex) func(context.Context, payload) (result, error) {
	return func(_ context.Context, in payload) (result, error) {
		mu.Lock()
		*calls = append(*calls, in)
		mu.Unlock()
		return result{ID: in.ID, Doubled: in.Value * 2}, nil
	}
}

func TestHandlerPublishesSuccessor(t *testing.T) {
	proc, _ := newTestProcessor()
	var (
		calls []payload
		mu    sync.Mutex
	)
	h, err := Handler(proc, StageOptions{Name: "received", Filter: NewFilter(nil, nil)}, envelope.JSONCodec[payload]{}, envelope.JSONCodec[result]{}, doubleWork(&calls, &mu))
	require.NoError(t, err)

	produced, err := h(newMessage(t, 1, "abc", "s1", payload{ID: "s1", Value: 4}))
	require.NoError(t, err)
	require.Len(t, produced, 1)

	assert.Equal(t, "abc", produced[0].Metadata.Get(envelope.HeaderCorrelationID))
	assert.Equal(t, "s1", produced[0].Metadata.Get(envelope.HeaderPartitionKey))
	assert.Equal(t, "1", produced[0].Metadata.Get(envelope.HeaderVersion))

	out, err := envelope.FromMessage(produced[0], envelope.JSONCodec[result]{})
	require.NoError(t, err)
	assert.Equal(t, result{ID: "s1", Doubled: 8}, out.Payload)
}

func TestHandlerDropsPoisonEntries(t *testing.T) {
	proc, rec := newTestProcessor()
	var (
		calls []payload
		mu    sync.Mutex
	)
	h, err := Handler(proc, StageOptions{Name: "received", Filter: NewFilter([]int{1}, []string{"skip-me"})}, envelope.JSONCodec[payload]{}, envelope.JSONCodec[result]{}, doubleWork(&calls, &mu))
	require.NoError(t, err)

	produced, err := h(newMessage(t, 99, "abc", "s1", payload{ID: "s1"}))
	require.NoError(t, err)
	assert.Empty(t, produced)

	produced, err = h(newMessage(t, 1, "abc", "skip-me", payload{ID: "skip-me"}))
	require.NoError(t, err)
	assert.Empty(t, produced)

	assert.Empty(t, calls, "dropped entries never reach the unit of work")
	assert.Equal(t, uint64(1), rec.Skipped("received", ReasonUnsupportedVersion))
	assert.Equal(t, uint64(1), rec.Skipped("received", ReasonSkipList))
}

func TestHandlerRedeliveryUsesIdenticalInput(t *testing.T) {
	proc, _ := newTestProcessor()
	var (
		calls []payload
		mu    sync.Mutex
	)
	h, err := Handler(proc, StageOptions{Name: "preprocessed", Filter: NewFilter(nil, nil)}, envelope.JSONCodec[payload]{}, envelope.JSONCodec[result]{}, doubleWork(&calls, &mu))
	require.NoError(t, err)

	msg := newMessage(t, 1, "abc", "s1", payload{ID: "s1", Value: 7})
	_, err = h(msg)
	require.NoError(t, err)
	_, err = h(msg.Copy())
	require.NoError(t, err)

	require.Len(t, calls, 2)
	assert.Equal(t, calls[0], calls[1])
}

func TestHandlerDecodeFailureIsFatal(t *testing.T) {
	proc, _ := newTestProcessor()
	var (
		calls []payload
		mu    sync.Mutex
	)
	h, err := Handler(proc, StageOptions{Name: "received", Filter: NewFilter(nil, nil)}, envelope.JSONCodec[payload]{}, envelope.JSONCodec[result]{}, doubleWork(&calls, &mu))
	require.NoError(t, err)

	msg := newMessage(t, 1, "abc", "s1", payload{})
	msg.Payload = []byte(`{"value":"not a number"}`)

	_, err = h(msg)
	require.Error(t, err)
	assert.Equal(t, faults.KindFatal, faults.KindOf(err))
	assert.Empty(t, calls)
}

func TestConsumerHandlerBestEffort(t *testing.T) {
	proc, _ := newTestProcessor()
	opts := StageOptions{Name: "cleanup", Filter: NewFilter(nil, nil), BestEffort: true}

	fatal, err := ConsumerHandler(proc, opts, envelope.JSONCodec[payload]{}, func(context.Context, payload) error {
		return faults.Fatal(errors.New("storage gone"))
	})
	require.NoError(t, err)
	assert.NoError(t, fatal(newMessage(t, 1, "abc", "s1", payload{})), "fatal faults are acknowledged")

	recoverable, err := ConsumerHandler(proc, opts, envelope.JSONCodec[payload]{}, func(context.Context, payload) error {
		return faults.Recoverable(errors.New("storage throttled"))
	})
	require.NoError(t, err)
	err = recoverable(newMessage(t, 1, "abc", "s1", payload{}))
	assert.Equal(t, faults.KindRecoverable, faults.KindOf(err))

	var seen payload
	ok, err := ConsumerHandler(proc, StageOptions{Name: "cleanup", Filter: NewFilter(nil, nil)}, envelope.JSONCodec[payload]{}, func(_ context.Context, in payload) error {
		seen = in
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, ok(newMessage(t, 1, "abc", "s1", payload{ID: "s1"})))
	assert.Equal(t, "s1", seen.ID)
}

func TestHandlerConstructionValidation(t *testing.T) {
	proc, _ := newTestProcessor()
	work := func(context.Context, payload) (result, error) { return result{}, nil }

	_, err := Handler(proc, StageOptions{}, envelope.JSONCodec[payload]{}, envelope.JSONCodec[result]{}, work)
	assert.Error(t, err)
	_, err = Handler[payload, result](proc, StageOptions{Name: "x"}, nil, envelope.JSONCodec[result]{}, work)
	assert.Error(t, err)
	_, err = Handler[payload, result](proc, StageOptions{Name: "x"}, envelope.JSONCodec[payload]{}, envelope.JSONCodec[result]{}, nil)
	assert.Error(t, err)
	_, err = ConsumerHandler[payload](nil, StageOptions{Name: "x"}, envelope.JSONCodec[payload]{}, func(context.Context, payload) error { return nil })
	assert.Error(t, err)
}
