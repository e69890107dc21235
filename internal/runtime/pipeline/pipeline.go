// Package pipeline assembles the four soknad stages on one transport: every
// stage consumes its input topic under its own consumer group, runs its unit
// of work through the stage processor and is driven by its own lifecycle
// manager.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	wmmetrics "github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"

	configpkg "github.com/drblury/soknadflow/internal/runtime/config"
	errspkg "github.com/drblury/soknadflow/internal/runtime/errors"
	"github.com/drblury/soknadflow/internal/runtime/lifecycle"
	loggingpkg "github.com/drblury/soknadflow/internal/runtime/logging"
	"github.com/drblury/soknadflow/internal/runtime/metrics"
	"github.com/drblury/soknadflow/internal/runtime/processor"
	"github.com/drblury/soknadflow/internal/runtime/retry"
	"github.com/drblury/soknadflow/internal/runtime/topics"
	"github.com/drblury/soknadflow/internal/soknad"
	"github.com/drblury/soknadflow/transport"
)

// ErrUnknownStage is returned for a stage name the pipeline does not run.
var ErrUnknownStage = errors.New("pipeline: unknown stage")

// Dependencies holds the optional collaborators of a Pipeline. Leave fields
// nil for the defaults.
type Dependencies struct {
	// Transport builds a fresh transport per stage instance. Defaults to
	// Registry.Build.
	Transport transport.Builder
	// Registry resolves the configured PubSubSystem and its capabilities.
	// Defaults to transport.DefaultRegistry.
	Registry *transport.Registry
	// Sink receives stage measurements in addition to Prometheus.
	Sink metrics.Sink
	// Registerer receives the Prometheus collectors when metrics are
	// enabled. Defaults to prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
	// Timer overrides the retry backoff timer.
	Timer func() backoff.Timer
}

// Pipeline runs the Received, Preprocessed, Archived and Cleanup stages.
type Pipeline struct {
	conf   *configpkg.Config
	log    loggingpkg.ServiceLogger
	wmLog  watermill.LoggerAdapter
	names  topics.Names
	topics *topics.Registry
	caps   transport.Capabilities

	buildTransport transport.Builder
	metricsBuilder *wmmetrics.PrometheusMetricsBuilder
	processor      *processor.Processor
	filter         processor.Filter

	stages []*lifecycle.Manager
	byName map[string]*lifecycle.Manager

	ingressMu sync.Mutex
	ingress   message.Publisher
}

// New validates conf and assembles the stages without starting them.
func New(conf *configpkg.Config, log loggingpkg.ServiceLogger, collaborators soknad.Collaborators, deps Dependencies) (*Pipeline, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	withDefaults := conf.WithDefaults()
	conf = &withDefaults
	if err := configpkg.ValidateConfig(conf); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}
	if err := checkCollaborators(collaborators); err != nil {
		return nil, err
	}

	reg, names, err := topics.NewDefault(conf.TopicPrefix)
	if err != nil {
		return nil, err
	}

	registry := deps.Registry
	if registry == nil {
		registry = transport.DefaultRegistry
	}
	build := deps.Transport
	if build == nil {
		build = registry.Builder()
	}

	sink, metricsBuilder, err := newSink(conf, deps)
	if err != nil {
		return nil, err
	}

	var retryOpts []retry.Option
	if deps.Timer != nil {
		retryOpts = append(retryOpts, retry.WithTimer(deps.Timer))
	}
	policy := retry.Policy{
		InitialDelay: conf.RetryInitialInterval,
		MaxDelay:     conf.RetryMaxInterval,
		Factor:       conf.RetryFactor,
	}

	p := &Pipeline{
		conf:           conf,
		log:            log,
		wmLog:          loggingpkg.NewWatermillAdapter(log),
		names:          names,
		topics:         reg,
		caps:           registry.GetCapabilities(conf.PubSubSystem),
		buildTransport: build,
		metricsBuilder: metricsBuilder,
		processor:      processor.New(retry.New(sink, log, retryOpts...), policy, sink, log),
		filter:         processor.NewFilter(conf.SupportedEntryVersions, conf.SkipList),
		byName:         make(map[string]*lifecycle.Manager),
	}

	log.Info("Assembling pipeline", loggingpkg.LogFields{
		"pubsub_system": conf.PubSubSystem,
		"topics":        names.All(),
		"config":        conf.String(),
	})
	if !p.caps.PreservesKeyOrder() {
		log.Warn("Transport does not guarantee per-key ordering", loggingpkg.LogFields{
			"pubsub_system": conf.PubSubSystem,
		})
	}

	specs, err := stageSpecs(reg, names, collaborators)
	if err != nil {
		return nil, err
	}
	for _, spec := range specs {
		if err := p.addStage(spec, sink); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func newSink(conf *configpkg.Config, deps Dependencies) (metrics.Sink, *wmmetrics.PrometheusMetricsBuilder, error) {
	if !conf.MetricsEnabled {
		return metrics.OrNop(deps.Sink), nil, nil
	}
	registerer := deps.Registerer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	prom, err := metrics.NewPrometheus(registerer)
	if err != nil {
		return nil, nil, fmt.Errorf("register stage metrics: %w", err)
	}
	builder := wmmetrics.NewPrometheusMetricsBuilder(registerer, "soknadflow", "router")
	return metrics.Tee(prom, deps.Sink), &builder, nil
}

func (p *Pipeline) addStage(spec stageSpec, sink metrics.Sink) error {
	handler, err := spec.build(p.processor, processor.StageOptions{
		Name:       spec.name,
		Filter:     p.filter,
		BestEffort: spec.bestEffort,
	})
	if err != nil {
		return fmt.Errorf("stage %s: %w", spec.name, err)
	}

	manager, err := lifecycle.NewManager(
		lifecycle.Stage{Name: spec.name, InputTopic: spec.input, OutputTopic: spec.output},
		p.topologyBuilder(spec, handler),
		lifecycle.Options{
			StartTimeout:    p.conf.StageStartTimeout,
			CloseTimeout:    p.conf.StageCloseTimeout,
			AutoResumeAfter: p.conf.AutoResumeAfter,
			Sink:            sink,
			Logger:          p.log,
		},
	)
	if err != nil {
		return err
	}
	p.stages = append(p.stages, manager)
	p.byName[spec.name] = manager
	return nil
}

// topologyBuilder creates a fresh transport and router for every instance of
// the stage. The reporter middleware is outermost so panics turned into
// errors by the recoverer reach the manager.
func (p *Pipeline) topologyBuilder(spec stageSpec, handler stageHandler) lifecycle.Builder {
	return func(reporter *lifecycle.Reporter) (lifecycle.Topology, error) {
		group := transport.ConsumerGroup(p.conf.KafkaConsumerGroup, spec.name)
		tr, err := p.buildTransport(context.Background(), transport.WithConsumerGroup(p.conf, group), p.wmLog)
		if err != nil {
			return nil, err
		}

		router, err := message.NewRouter(message.RouterConfig{CloseTimeout: p.conf.StageCloseTimeout}, p.wmLog)
		if err != nil {
			closeTransport(tr)
			return nil, err
		}
		router.AddMiddleware(
			reporter.Middleware,
			processor.RecovererMiddleware(),
			processor.CorrelationMiddleware(),
			processor.TracerMiddleware(spec.name),
			processor.LogMessagesMiddleware(p.log.With(loggingpkg.LogFields{"stage": spec.name})),
		)
		if p.metricsBuilder != nil {
			p.metricsBuilder.AddPrometheusRouterMetrics(router)
		}

		if handler.handle != nil {
			router.AddHandler(spec.name, spec.input, tr.Subscriber, spec.output, tr.Publisher, handler.handle)
		} else {
			router.AddNoPublisherHandler(spec.name, spec.input, tr.Subscriber, handler.consume)
			_ = tr.Publisher.Close()
		}

		p.log.Debug("Stage instance built", loggingpkg.LogFields{
			"stage":          spec.name,
			"consumer_group": group,
			"generation":     reporter.Generation(),
		})
		return router, nil
	}
}

func closeTransport(tr transport.Transport) {
	if tr.Publisher != nil {
		_ = tr.Publisher.Close()
	}
	if tr.Subscriber != nil {
		_ = tr.Subscriber.Close()
	}
}

// StartAll starts the stages from the last to the first, so every stage has
// a running consumer before anything upstream publishes to it.
func (p *Pipeline) StartAll(ctx context.Context) error {
	for _, m := range slices.Backward(p.stages) {
		if err := m.Start(ctx); err != nil {
			return fmt.Errorf("start stage %s: %w", m.Stage().Name, err)
		}
	}
	p.log.Info("Pipeline started", loggingpkg.LogFields{"stages": StageNames()})
	return nil
}

// StopAll stops every stage in pipeline order and closes the ingress
// publisher. Every stage is stopped even when an earlier one fails.
func (p *Pipeline) StopAll() error {
	var errs []error
	for _, m := range p.stages {
		if err := m.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop stage %s: %w", m.Stage().Name, err))
		}
	}

	p.ingressMu.Lock()
	if p.ingress != nil {
		if err := p.ingress.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close ingress publisher: %w", err))
		}
		p.ingress = nil
	}
	p.ingressMu.Unlock()

	err := errors.Join(errs...)
	if err != nil {
		p.log.Error("Pipeline stopped with errors", err, nil)
	} else {
		p.log.Info("Pipeline stopped", nil)
	}
	return err
}

// Healthy is Healthy only when every stage is.
func (p *Pipeline) Healthy() lifecycle.Health {
	for _, m := range p.stages {
		if m.Healthy() != lifecycle.Healthy {
			return lifecycle.Unhealthy
		}
	}
	return lifecycle.Healthy
}

// Ready is Ready only when every stage is.
func (p *Pipeline) Ready() lifecycle.Readiness {
	for _, m := range p.stages {
		if m.Ready() != lifecycle.Ready {
			return lifecycle.NotReady
		}
	}
	return lifecycle.Ready
}

// Stage returns the manager of a stage by name.
func (p *Pipeline) Stage(name string) (*lifecycle.Manager, error) {
	m, ok := p.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStage, name)
	}
	return m, nil
}

// Statuses returns the status of every stage in pipeline order.
func (p *Pipeline) Statuses() []lifecycle.Status {
	out := make([]lifecycle.Status, 0, len(p.stages))
	for _, m := range p.stages {
		out = append(out, m.Status())
	}
	return out
}

// Topics returns the stage topic names.
func (p *Pipeline) Topics() topics.Names { return p.names }

// Capabilities returns the capabilities of the configured transport.
func (p *Pipeline) Capabilities() transport.Capabilities { return p.caps }
