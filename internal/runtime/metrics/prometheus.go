package metrics

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "soknadflow"

// Prometheus exports the sink measurements as Prometheus collectors.
type Prometheus struct {
	mu sync.Mutex

	attemptsTotal *prometheus.CounterVec
	skippedTotal  *prometheus.CounterVec
	faultsTotal   *prometheus.CounterVec
	stageState    *prometheus.GaugeVec

	current map[string]string
}

func newCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stage",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// NewPrometheus creates the collectors and registers them with registerer.
// Collectors that are already registered are reused.
func NewPrometheus(registerer prometheus.Registerer) (*Prometheus, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	p := &Prometheus{
		attemptsTotal: newCounterVec("attempts_total", "Executions of a stage unit of work by outcome", []string{"stage", "outcome"}),
		skippedTotal:  newCounterVec("skipped_total", "Entries dropped by the stage filter", []string{"stage", "reason"}),
		faultsTotal:   newCounterVec("faults_total", "Faults reported to the stage lifecycle manager", []string{"stage", "kind"}),
		stageState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "stage_state",
				Help:      "Current lifecycle state of a stage; 1 for the active state",
			},
			[]string{"stage", "state"},
		),
		current: make(map[string]string),
	}

	var err error
	if p.attemptsTotal, err = registerCounter(registerer, p.attemptsTotal); err != nil {
		return nil, err
	}
	if p.skippedTotal, err = registerCounter(registerer, p.skippedTotal); err != nil {
		return nil, err
	}
	if p.faultsTotal, err = registerCounter(registerer, p.faultsTotal); err != nil {
		return nil, err
	}
	if err := registerer.Register(p.stageState); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return nil, err
		}
		existing, ok := already.ExistingCollector.(*prometheus.GaugeVec)
		if !ok {
			return nil, err
		}
		p.stageState = existing
	}
	return p, nil
}

func registerCounter(registerer prometheus.Registerer, c *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := registerer.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return nil, err
		}
		existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, err
		}
		return existing, nil
	}
	return c, nil
}

func (p *Prometheus) RecordAttempt(stage, outcome string) {
	p.attemptsTotal.WithLabelValues(stage, outcome).Inc()
}

func (p *Prometheus) RecordSkipped(stage, reason string) {
	p.skippedTotal.WithLabelValues(stage, reason).Inc()
}

func (p *Prometheus) RecordFault(stage, kind string) {
	p.faultsTotal.WithLabelValues(stage, kind).Inc()
}

func (p *Prometheus) RecordState(stage, state string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if prev, ok := p.current[stage]; ok && prev != state {
		p.stageState.WithLabelValues(stage, prev).Set(0)
	}
	p.stageState.WithLabelValues(stage, state).Set(1)
	p.current[stage] = state
}
