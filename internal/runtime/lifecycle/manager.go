// Package lifecycle owns the start, pause, resume and stop transitions of a
// stage and turns them into liveness and readiness.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	errspkg "github.com/drblury/soknadflow/internal/runtime/errors"
	"github.com/drblury/soknadflow/internal/runtime/faults"
	loggingpkg "github.com/drblury/soknadflow/internal/runtime/logging"
	"github.com/drblury/soknadflow/internal/runtime/metrics"
)

var (
	ErrStopped           = errors.New("lifecycle: stage is stopped")
	ErrIllegalTransition = errors.New("lifecycle: illegal transition")
	ErrStartTimeout      = errors.New("lifecycle: topology did not report running in time")
)

// Topology is one running instance of a stage, typically a Watermill
// *message.Router. An instance is never reused after Close.
type Topology interface {
	Run(ctx context.Context) error
	Running() chan struct{}
	IsRunning() bool
	Close() error
}

// Builder creates a fresh topology wired to reporter.
type Builder func(reporter *Reporter) (Topology, error)

// Stage identifies a stage. OutputTopic is empty for the last stage.
type Stage struct {
	Name        string `json:"name"`
	InputTopic  string `json:"input_topic"`
	OutputTopic string `json:"output_topic,omitempty"`
}

// Options tune a Manager.
type Options struct {
	// StartTimeout bounds the wait for a new instance to report running.
	StartTimeout time.Duration
	// CloseTimeout bounds the wait for a closed instance to exit Run.
	CloseTimeout time.Duration
	// AutoResumeAfter restarts a stage paused by a recoverable fault after
	// this delay. Zero disables it.
	AutoResumeAfter time.Duration
	Sink            metrics.Sink
	Logger          loggingpkg.ServiceLogger
}

const (
	defaultStartTimeout = 30 * time.Second
	defaultCloseTimeout = 30 * time.Second
)

type instance struct {
	topology Topology
	cancel   context.CancelFunc
	done     chan struct{}
	err      error
	gen      uint64
	closing  atomic.Bool
}

// Manager drives one stage. Every transition is serialised by its mutex.
// State, Healthy and Ready never take the mutex.
type Manager struct {
	mu sync.Mutex

	stage Stage
	build Builder
	opts  Options
	sink  metrics.Sink
	log   loggingpkg.ServiceLogger

	state       State
	gen         uint64
	current     *instance
	failed      bool
	lastFault   error
	lastFaultAt time.Time

	resumeTimer *time.Timer
	resumeToken uint64

	pendingFaults sync.WaitGroup

	// Mirrors of state and current for the health checks, which must not wait for
	// a transition holding mu.
	stateView atomic.Int32
	liveView  atomic.Pointer[instance]
}

func NewManager(stage Stage, build Builder, opts Options) (*Manager, error) {
	if stage.Name == "" {
		return nil, errspkg.ErrStageNameRequired
	}
	if stage.InputTopic == "" {
		return nil, errspkg.ErrInputTopicRequired
	}
	if build == nil {
		return nil, errspkg.ErrBuilderRequired
	}
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = defaultStartTimeout
	}
	if opts.CloseTimeout <= 0 {
		opts.CloseTimeout = defaultCloseTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = loggingpkg.NewNopLogger()
	}

	m := &Manager{
		stage: stage,
		build: build,
		opts:  opts,
		sink:  metrics.OrNop(opts.Sink),
		log:   logger.With(loggingpkg.LogFields{"stage": stage.Name}),
		state: Initialized,
	}
	m.sink.RecordState(stage.Name, Initialized.String())
	return m, nil
}

// Stage returns the identity of the managed stage.
func (m *Manager) Stage() Stage { return m.stage }

// Start builds and runs a fresh instance unless the stage is already started.
// ctx bounds only the wait for the instance to report running; the instance
// itself lives until Pause, Stop or a fault.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case Stopped:
		return ErrStopped
	case Started:
		return nil
	}
	m.cancelResumeLocked()
	return m.startLocked(ctx)
}

// Pause closes the running instance and keeps the configuration so Start can
// resume.
func (m *Manager) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case Stopped:
		return ErrStopped
	case Initialized:
		return fmt.Errorf("%w: cannot pause %s before it started", ErrIllegalTransition, m.stage.Name)
	case Paused:
		return nil
	}
	m.setStateLocked(Paused)
	return m.closeLocked()
}

// Stop closes the running instance for good. Stopping twice is a no-op.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == Stopped {
		return nil
	}
	m.cancelResumeLocked()
	m.setStateLocked(Stopped)
	return m.closeLocked()
}

// State returns the current lifecycle state. A pause or stop in progress is
// already reported as its target state.
func (m *Manager) State() State {
	return State(m.stateView.Load())
}

// Healthy is Unhealthy once stopped or when started without a running
// instance.
func (m *Manager) Healthy() Health {
	return health(m.State(), m.liveView.Load())
}

// Ready reports Ready only while started.
func (m *Manager) Ready() Readiness {
	if m.State() == Started {
		return Ready
	}
	return NotReady
}

// Status is a point-in-time view of a stage.
type Status struct {
	Stage
	State       State     `json:"state"`
	Health      Health    `json:"health"`
	Readiness   Readiness `json:"readiness"`
	Generation  uint64    `json:"generation"`
	Failed      bool      `json:"failed"`
	LastFault   string    `json:"last_fault,omitempty"`
	LastFaultAt time.Time `json:"last_fault_at"`
	Running     bool      `json:"running"`
}

// Status takes the mutex, so it waits for a transition in progress. That wait
// is bounded by CloseTimeout.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{
		Stage:       m.stage,
		State:       m.state,
		Health:      m.healthLocked(),
		Readiness:   NotReady,
		Generation:  m.gen,
		Failed:      m.failed,
		LastFaultAt: m.lastFaultAt,
		Running:     m.current != nil && m.current.topology.IsRunning(),
	}
	if m.state == Started {
		st.Readiness = Ready
	}
	if m.lastFault != nil {
		st.LastFault = m.lastFault.Error()
	}
	return st
}

// WaitFaults blocks until every reported fault has been handled.
func (m *Manager) WaitFaults() {
	m.pendingFaults.Wait()
}

func (m *Manager) healthLocked() Health {
	return health(m.state, m.current)
}

func health(state State, current *instance) Health {
	switch state {
	case Stopped:
		return Unhealthy
	case Started:
		if current == nil || !current.topology.IsRunning() {
			return Unhealthy
		}
	}
	return Healthy
}

func (m *Manager) startLocked(ctx context.Context) error {
	m.gen++
	gen := m.gen
	topology, err := m.build(&Reporter{manager: m, gen: gen})
	if err != nil {
		return fmt.Errorf("build %s topology: %w", m.stage.Name, err)
	}
	if topology == nil {
		return fmt.Errorf("build %s topology: %w", m.stage.Name, errspkg.ErrBuilderRequired)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	inst := &instance{topology: topology, cancel: cancel, done: make(chan struct{}), gen: gen}
	go func() {
		inst.err = topology.Run(runCtx)
		close(inst.done)
		m.instanceExited(inst)
	}()

	timer := time.NewTimer(m.opts.StartTimeout)
	defer timer.Stop()

	select {
	case <-topology.Running():
	case <-inst.done:
		cancel()
		return fmt.Errorf("start %s: topology exited before running: %w", m.stage.Name, inst.err)
	case <-timer.C:
		m.abandon(inst)
		return fmt.Errorf("start %s: %w", m.stage.Name, ErrStartTimeout)
	case <-ctx.Done():
		m.abandon(inst)
		return fmt.Errorf("start %s: %w", m.stage.Name, ctx.Err())
	}

	m.setCurrentLocked(inst)
	m.failed = false
	m.setStateLocked(Started)
	return nil
}

func (m *Manager) abandon(inst *instance) {
	inst.closing.Store(true)
	inst.cancel()
	if err := inst.topology.Close(); err != nil {
		m.log.Error("Closing abandoned topology failed", err, nil)
	}
}

func (m *Manager) closeLocked() error {
	inst := m.current
	if inst == nil {
		return nil
	}
	m.setCurrentLocked(nil)

	inst.closing.Store(true)
	inst.cancel()
	err := inst.topology.Close()

	timer := time.NewTimer(m.opts.CloseTimeout)
	defer timer.Stop()
	select {
	case <-inst.done:
	case <-timer.C:
		err = errors.Join(err, fmt.Errorf("close %s: topology did not exit within %s", m.stage.Name, m.opts.CloseTimeout))
	}
	if err != nil {
		m.log.Error("Closing topology failed", err, loggingpkg.LogFields{"generation": inst.gen})
	}
	return err
}

func (m *Manager) setCurrentLocked(inst *instance) {
	m.current = inst
	m.liveView.Store(inst)
}

func (m *Manager) setStateLocked(next State) {
	prev := m.state
	m.state = next
	m.stateView.Store(int32(next))
	m.sink.RecordState(m.stage.Name, next.String())
	m.log.Info("Stage state changed", loggingpkg.LogFields{
		"from":       prev.String(),
		"to":         next.String(),
		"generation": m.gen,
	})
}

// instanceExited handles Run returning on its own: a broker-reported fatal
// state of the current instance stops the stage.
func (m *Manager) instanceExited(inst *instance) {
	if inst.closing.Load() {
		return
	}
	err := inst.err
	if err == nil {
		err = errors.New("router exited unexpectedly")
	}
	m.handleFault(inst.gen, faults.Fatal(fmt.Errorf("stage %s: %w", m.stage.Name, err)))
}

// report is called by the Reporter of generation gen.
func (m *Manager) report(gen uint64, err error) {
	if err == nil || faults.KindOf(err) == faults.KindCanceled {
		return
	}
	m.pendingFaults.Add(1)
	go func() {
		defer m.pendingFaults.Done()
		m.handleFault(gen, err)
	}()
}

func (m *Manager) handleFault(gen uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen || m.current == nil || m.current.gen != gen || m.state != Started {
		m.log.Debug("Ignoring fault from stale topology", loggingpkg.LogFields{"generation": gen, "error": err.Error()})
		return
	}

	kind := faults.KindOf(err)
	if kind != faults.KindRecoverable {
		kind = faults.KindFatal
	}
	m.sink.RecordFault(m.stage.Name, kind.String())
	m.lastFault = err
	m.lastFaultAt = time.Now()

	if kind == faults.KindRecoverable {
		m.log.Warn("Recoverable fault, pausing stage", loggingpkg.LogFields{"error": err.Error(), "generation": gen})
		m.setStateLocked(Paused)
		_ = m.closeLocked()
		m.scheduleResumeLocked()
		return
	}

	m.log.Error("Unrecoverable fault, stopping stage", err, loggingpkg.LogFields{"generation": gen})
	m.failed = true
	m.cancelResumeLocked()
	m.setStateLocked(Stopped)
	_ = m.closeLocked()
}

func (m *Manager) scheduleResumeLocked() {
	if m.opts.AutoResumeAfter <= 0 {
		return
	}
	m.cancelResumeLocked()
	m.resumeToken++
	token := m.resumeToken
	m.resumeTimer = time.AfterFunc(m.opts.AutoResumeAfter, func() {
		m.autoResume(token)
	})
}

func (m *Manager) cancelResumeLocked() {
	if m.resumeTimer != nil {
		m.resumeTimer.Stop()
		m.resumeTimer = nil
	}
	m.resumeToken++
}

func (m *Manager) autoResume(token uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if token != m.resumeToken || m.state != Paused {
		return
	}
	m.resumeTimer = nil
	m.log.Info("Resuming stage after fault", nil)
	if err := m.startLocked(context.Background()); err != nil {
		m.log.Error("Automatic resume failed", err, nil)
		m.scheduleResumeLocked()
	}
}
