package soknadflow

import (
	configpkg "github.com/drblury/soknadflow/internal/runtime/config"
	"github.com/drblury/soknadflow/internal/runtime/envelope"
	errspkg "github.com/drblury/soknadflow/internal/runtime/errors"
	"github.com/drblury/soknadflow/internal/runtime/faults"
	idspkg "github.com/drblury/soknadflow/internal/runtime/ids"
	jsoncodec "github.com/drblury/soknadflow/internal/runtime/jsoncodec"
	"github.com/drblury/soknadflow/internal/runtime/lifecycle"
	loggingpkg "github.com/drblury/soknadflow/internal/runtime/logging"
	"github.com/drblury/soknadflow/internal/runtime/metrics"
	"github.com/drblury/soknadflow/internal/runtime/pipeline"
	"github.com/drblury/soknadflow/internal/runtime/retry"
	"github.com/drblury/soknadflow/internal/runtime/topics"
	"github.com/drblury/soknadflow/internal/soknad"
	newtransport "github.com/drblury/soknadflow/transport"
)

type (
	Config                = configpkg.Config
	ConfigValidationError = errspkg.ConfigValidationError

	Pipeline     = pipeline.Pipeline
	Dependencies = pipeline.Dependencies
	TopicNames   = topics.Names

	Metadata = envelope.Metadata

	Submission             = soknad.Submission
	Document               = soknad.Document
	Attachment             = soknad.Attachment
	ArtifactRef            = soknad.ArtifactRef
	PreprocessedSubmission = soknad.PreprocessedSubmission
	ArchivedSubmission     = soknad.ArchivedSubmission
	CleanupInstruction     = soknad.CleanupInstruction

	Collaborators  = soknad.Collaborators
	Preprocessor   = soknad.Preprocessor
	Archiver       = soknad.Archiver
	TaskCreator    = soknad.TaskCreator
	Cleaner        = soknad.Cleaner
	PreprocessFunc = soknad.PreprocessFunc
	ArchiveFunc    = soknad.ArchiveFunc
	CreateTaskFunc = soknad.CreateTaskFunc
	CleanupFunc    = soknad.CleanupFunc

	// Stage lifecycle
	StageManager = lifecycle.Manager
	StageStatus  = lifecycle.Status
	State        = lifecycle.State
	Health       = lifecycle.Health
	Readiness    = lifecycle.Readiness

	// Fault classification
	FaultKind = faults.Kind

	RetryPolicy   = retry.Policy
	MetricsSink   = metrics.Sink
	Recorder      = metrics.Recorder
	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	// Modular transport types
	Transport             = newtransport.Transport
	TransportBuilder      = newtransport.Builder
	TransportConfig       = newtransport.Config
	TransportRegistry     = newtransport.Registry
	TransportCapabilities = newtransport.Capabilities
)

var (
	NewPipeline    = pipeline.New
	HealthHandler  = pipeline.HealthHandler
	StageNames     = pipeline.StageNames
	LoadConfig     = configpkg.Load
	ValidateConfig = configpkg.ValidateConfig
	TopicNamesFor  = topics.NamesFor

	NewLocalStore         = soknad.NewLocalStore
	NewLocalCollaborators = soknad.NewLocalCollaborators

	Recoverable  = faults.Recoverable
	Fatal        = faults.Fatal
	Recoverablef = faults.Recoverablef
	Fatalf       = faults.Fatalf
	KindOf       = faults.KindOf
	IsRetryable  = faults.IsRetryable

	DefaultRetryPolicy = retry.DefaultPolicy
	NewRecorder        = metrics.NewRecorder
	NopMetrics         = metrics.Nop

	// Modular transport registry. Import the transports via
	// _ "github.com/drblury/soknadflow/transport/transports" or individually.
	DefaultTransportRegistry = newtransport.DefaultRegistry
	RegisterTransport        = newtransport.Register
	BuildTransport           = newtransport.Build
	GetCapabilities          = newtransport.GetCapabilities

	CorrelationIDFromContext = envelope.CorrelationIDFromContext

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode

	ErrConfigRequired       = errspkg.ErrConfigRequired
	ErrLoggerRequired       = errspkg.ErrLoggerRequired
	ErrCollaboratorRequired = errspkg.ErrCollaboratorRequired
	ErrUnknownStage         = pipeline.ErrUnknownStage
	ErrStopped              = lifecycle.ErrStopped

	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NewNopLogger         = loggingpkg.NewNopLogger

	NewCorrelationID = idspkg.NewCorrelationID
)

// Stage names in pipeline order.
const (
	StageReceived     = pipeline.StageReceived
	StagePreprocessed = pipeline.StagePreprocessed
	StageArchived     = pipeline.StageArchived
	StageCleanup      = pipeline.StageCleanup
)

// Lifecycle states and health verdicts.
const (
	Initialized = lifecycle.Initialized
	Started     = lifecycle.Started
	Paused      = lifecycle.Paused
	Stopped     = lifecycle.Stopped

	Healthy   = lifecycle.Healthy
	Unhealthy = lifecycle.Unhealthy
	Ready     = lifecycle.Ready
	NotReady  = lifecycle.NotReady
)

// Fault kinds.
const (
	KindTransient   = faults.KindTransient
	KindRecoverable = faults.KindRecoverable
	KindFatal       = faults.KindFatal
	KindCanceled    = faults.KindCanceled
)

// Message header keys written on every stage message.
const (
	HeaderVersion       = envelope.HeaderVersion
	HeaderCorrelationID = envelope.HeaderCorrelationID
	HeaderRequestID     = envelope.HeaderRequestID
	HeaderPartitionKey  = envelope.HeaderPartitionKey
)
