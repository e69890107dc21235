package lifecycle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/soknadflow/internal/runtime/faults"
	"github.com/drblury/soknadflow/internal/runtime/metrics"
)

type fakeTopology struct {
	running   chan struct{}
	closed    chan struct{}
	exit      chan error
	closeOnce sync.Once
	isRunning atomic.Bool
	runErr    error
	neverRun  bool
	hold      chan struct{}
	closes    atomic.Int32
}

func newFakeTopology() *fakeTopology {
	return &fakeTopology{
		running: make(chan struct{}),
		closed:  make(chan struct{}),
		exit:    make(chan error, 1),
	}
}

func (f *fakeTopology) Run(ctx context.Context) error {
	if f.runErr != nil {
		return f.runErr
	}
	if !f.neverRun {
		f.isRunning.Store(true)
		close(f.running)
	}
	defer f.isRunning.Store(false)
	select {
	case <-ctx.Done():
	case <-f.closed:
	case err := <-f.exit:
		return err
	}
	if f.hold != nil {
		<-f.hold
	}
	return nil
}

func (f *fakeTopology) Running() chan struct{} { return f.running }
func (f *fakeTopology) IsRunning() bool        { return f.isRunning.Load() }

func (f *fakeTopology) Close() error {
	f.closes.Add(1)
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

type fakeBuilder struct {
	mu         sync.Mutex
	topologies []*fakeTopology
	reporters  []*Reporter
	prepare    func(*fakeTopology)
	err        error
}

func (b *fakeBuilder) build(r *Reporter) (Topology, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	topo := newFakeTopology()
	if b.prepare != nil {
		b.prepare(topo)
	}
	b.topologies = append(b.topologies, topo)
	b.reporters = append(b.reporters, r)
	return topo, nil
}

func (b *fakeBuilder) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topologies)
}

func (b *fakeBuilder) reporter(i int) *Reporter {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reporters[i]
}

func (b *fakeBuilder) topology(i int) *fakeTopology {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.topologies[i]
}

var testStage = Stage{Name: "archived", InputTopic: "soknad-arkivert", OutputTopic: "soknad-cleanup"}

func newTestManager(t *testing.T, b *fakeBuilder, opts Options) *Manager {
	t.Helper()
	if opts.StartTimeout == 0 {
		opts.StartTimeout = time.Second
	}
	if opts.CloseTimeout == 0 {
		opts.CloseTimeout = time.Second
	}
	m, err := NewManager(testStage, b.build, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Stop() })
	return m
}

func TestNewManagerValidation(t *testing.T) {
	b := &fakeBuilder{}
	_, err := NewManager(Stage{InputTopic: "t"}, b.build, Options{})
	assert.Error(t, err)
	_, err = NewManager(Stage{Name: "s"}, b.build, Options{})
	assert.Error(t, err)
	_, err = NewManager(Stage{Name: "s", InputTopic: "t"}, nil, Options{})
	assert.Error(t, err)
}

func TestLifecycleTransitions(t *testing.T) {
	b := &fakeBuilder{}
	rec := metrics.NewRecorder()
	m := newTestManager(t, b, Options{Sink: rec})
	ctx := context.Background()

	assert.Equal(t, Initialized, m.State())
	assert.Equal(t, Healthy, m.Healthy())
	assert.Equal(t, NotReady, m.Ready())

	require.NoError(t, m.Start(ctx))
	assert.Equal(t, Started, m.State())
	assert.Equal(t, Healthy, m.Healthy())
	assert.Equal(t, Ready, m.Ready())

	require.NoError(t, m.Start(ctx), "start while started is a no-op")
	assert.Equal(t, 1, b.count())

	require.NoError(t, m.Pause())
	assert.Equal(t, Paused, m.State())
	assert.Equal(t, Healthy, m.Healthy())
	assert.Equal(t, NotReady, m.Ready())
	assert.Equal(t, int32(1), b.topology(0).closes.Load())

	require.NoError(t, m.Pause(), "pause while paused is a no-op")

	require.NoError(t, m.Start(ctx))
	assert.Equal(t, Started, m.State())
	assert.Equal(t, 2, b.count(), "resume builds a fresh topology")

	require.NoError(t, m.Stop())
	assert.Equal(t, Stopped, m.State())
	assert.Equal(t, Unhealthy, m.Healthy())
	assert.Equal(t, NotReady, m.Ready())

	assert.ErrorIs(t, m.Start(ctx), ErrStopped)
	assert.ErrorIs(t, m.Pause(), ErrStopped)
	assert.NoError(t, m.Stop())
	assert.Equal(t, 2, b.count())

	assert.Equal(t,
		[]string{"INITIALIZED", "STARTED", "PAUSED", "STARTED", "STOPPED"},
		rec.StateHistory("archived"))
}

func TestPauseBeforeStartIsIllegal(t *testing.T) {
	m := newTestManager(t, &fakeBuilder{}, Options{})
	assert.ErrorIs(t, m.Pause(), ErrIllegalTransition)
	assert.Equal(t, Initialized, m.State())
}

func TestStopBeforeStart(t *testing.T) {
	b := &fakeBuilder{}
	m := newTestManager(t, b, Options{})
	require.NoError(t, m.Stop())
	assert.Equal(t, Stopped, m.State())
	assert.Equal(t, 0, b.count())
}

func TestStartedWithoutRunningTopologyIsUnhealthy(t *testing.T) {
	b := &fakeBuilder{}
	m := newTestManager(t, b, Options{})
	require.NoError(t, m.Start(context.Background()))

	b.topology(0).isRunning.Store(false)
	assert.Equal(t, Unhealthy, m.Healthy())
	assert.Equal(t, Ready, m.Ready())
}

func TestRecoverableFaultPauses(t *testing.T) {
	b := &fakeBuilder{}
	rec := metrics.NewRecorder()
	m := newTestManager(t, b, Options{Sink: rec})
	require.NoError(t, m.Start(context.Background()))

	b.reporter(0).Report(faults.Recoverable(errors.New("task system unavailable")))
	m.WaitFaults()

	assert.Equal(t, Paused, m.State())
	assert.Equal(t, Healthy, m.Healthy())
	assert.Equal(t, NotReady, m.Ready())
	assert.Equal(t, uint64(1), rec.Faults("archived", "recoverable"))

	st := m.Status()
	assert.Equal(t, "task system unavailable", st.LastFault)
	assert.False(t, st.Failed)
	assert.False(t, st.LastFaultAt.IsZero())

	require.NoError(t, m.Start(context.Background()), "a paused stage can be resumed")
	assert.Equal(t, Started, m.State())
}

func TestHealthChecksDoNotWaitForClose(t *testing.T) {
	release := make(chan struct{})
	b := &fakeBuilder{prepare: func(f *fakeTopology) { f.hold = release }}
	m := newTestManager(t, b, Options{CloseTimeout: 5 * time.Second})
	require.NoError(t, m.Start(context.Background()))

	paused := make(chan error, 1)
	go func() { paused <- m.Pause() }()

	require.Eventually(t, func() bool { return m.Ready() == NotReady }, time.Second, time.Millisecond)
	assert.Equal(t, Paused, m.State())
	assert.Equal(t, Healthy, m.Healthy())
	select {
	case <-paused:
		t.Fatal("pause returned while the topology was still running")
	default:
	}

	close(release)
	require.NoError(t, <-paused)
	assert.Equal(t, Paused, m.State())
	assert.Equal(t, int32(1), b.topology(0).closes.Load())
}

func TestFatalFaultStops(t *testing.T) {
	for name, err := range map[string]error{
		"tagged":   faults.Fatal(errors.New("schema corrupt")),
		"untagged": errors.New("panic occurred"),
	} {
		t.Run(name, func(t *testing.T) {
			b := &fakeBuilder{}
			rec := metrics.NewRecorder()
			m := newTestManager(t, b, Options{Sink: rec})
			require.NoError(t, m.Start(context.Background()))

			b.reporter(0).Report(err)
			m.WaitFaults()

			assert.Equal(t, Stopped, m.State())
			assert.Equal(t, Unhealthy, m.Healthy())
			assert.True(t, m.Status().Failed)
			assert.Equal(t, uint64(1), rec.Faults("archived", "fatal"))
			assert.ErrorIs(t, m.Start(context.Background()), ErrStopped)
		})
	}
}

func TestCancellationFaultsAreIgnored(t *testing.T) {
	b := &fakeBuilder{}
	m := newTestManager(t, b, Options{})
	require.NoError(t, m.Start(context.Background()))

	b.reporter(0).Report(context.Canceled)
	b.reporter(0).Report(nil)
	m.WaitFaults()

	assert.Equal(t, Started, m.State())
}

func TestStaleFaultsAreIgnored(t *testing.T) {
	b := &fakeBuilder{}
	m := newTestManager(t, b, Options{})
	ctx := context.Background()
	require.NoError(t, m.Start(ctx))
	require.NoError(t, m.Pause())
	require.NoError(t, m.Start(ctx))

	stale := b.reporter(0)
	assert.Equal(t, uint64(1), stale.Generation())
	stale.Report(faults.Fatal(errors.New("late fault from closed router")))
	m.WaitFaults()

	assert.Equal(t, Started, m.State())
	assert.Equal(t, uint64(2), m.Status().Generation)
}

func TestUnexpectedExitStopsStage(t *testing.T) {
	b := &fakeBuilder{}
	m := newTestManager(t, b, Options{})
	require.NoError(t, m.Start(context.Background()))

	b.topology(0).exit <- errors.New("kafka: client has run out of available brokers")

	assert.Eventually(t, func() bool { return m.State() == Stopped }, time.Second, 5*time.Millisecond)
	assert.Equal(t, Unhealthy, m.Healthy())
	assert.Contains(t, m.Status().LastFault, "out of available brokers")
}

func TestStartTimeout(t *testing.T) {
	b := &fakeBuilder{prepare: func(f *fakeTopology) { f.neverRun = true }}
	m := newTestManager(t, b, Options{StartTimeout: 20 * time.Millisecond})

	err := m.Start(context.Background())
	assert.ErrorIs(t, err, ErrStartTimeout)
	assert.Equal(t, Initialized, m.State())
	assert.Equal(t, int32(1), b.topology(0).closes.Load())
}

func TestStartHonoursContext(t *testing.T) {
	b := &fakeBuilder{prepare: func(f *fakeTopology) { f.neverRun = true }}
	m := newTestManager(t, b, Options{StartTimeout: time.Minute})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, m.Start(ctx), context.DeadlineExceeded)
	assert.Equal(t, Initialized, m.State())
}

func TestStartFailures(t *testing.T) {
	buildErr := errors.New("broker unreachable")
	m := newTestManager(t, &fakeBuilder{err: buildErr}, Options{})
	assert.ErrorIs(t, m.Start(context.Background()), buildErr)
	assert.Equal(t, Initialized, m.State())

	runErr := errors.New("subscribe failed")
	m = newTestManager(t, &fakeBuilder{prepare: func(f *fakeTopology) { f.runErr = runErr }}, Options{})
	assert.ErrorIs(t, m.Start(context.Background()), runErr)
	assert.Equal(t, Initialized, m.State())
}

func TestAutoResumeAfterRecoverableFault(t *testing.T) {
	b := &fakeBuilder{}
	m := newTestManager(t, b, Options{AutoResumeAfter: 20 * time.Millisecond})
	require.NoError(t, m.Start(context.Background()))

	b.reporter(0).Report(faults.Recoverable(errors.New("archive throttled")))
	m.WaitFaults()
	assert.Equal(t, Paused, m.State())

	assert.Eventually(t, func() bool { return m.State() == Started }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, b.count())
}

func TestManualPauseIsNotAutoResumed(t *testing.T) {
	b := &fakeBuilder{}
	m := newTestManager(t, b, Options{AutoResumeAfter: 10 * time.Millisecond})
	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Pause())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, Paused, m.State())
	assert.Equal(t, 1, b.count())
}

func TestStopCancelsAutoResume(t *testing.T) {
	b := &fakeBuilder{}
	m := newTestManager(t, b, Options{AutoResumeAfter: 30 * time.Millisecond})
	require.NoError(t, m.Start(context.Background()))

	b.reporter(0).Report(faults.Recoverable(errors.New("archive throttled")))
	m.WaitFaults()
	require.NoError(t, m.Stop())

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, Stopped, m.State())
	assert.Equal(t, 1, b.count())
}
