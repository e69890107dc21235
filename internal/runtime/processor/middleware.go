package processor

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/soknadflow/internal/runtime/envelope"
	"github.com/drblury/soknadflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/soknadflow/internal/runtime/logging"
)

const tracerName = "github.com/drblury/soknadflow/processor"

// CorrelationMiddleware stamps a correlation id on messages that arrive
// without one and copies the consumed correlation id onto produced messages
// that lack it.
func CorrelationMiddleware() message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			correlationID := msg.Metadata.Get(envelope.HeaderCorrelationID)
			if correlationID == "" {
				correlationID = ids.NewCorrelationID()
				msg.Metadata.Set(envelope.HeaderCorrelationID, correlationID)
			}

			produced, err := h(msg)
			for _, out := range produced {
				if out.Metadata.Get(envelope.HeaderCorrelationID) == "" {
					out.Metadata.Set(envelope.HeaderCorrelationID, correlationID)
				}
			}
			return produced, err
		}
	}
}

// TracerMiddleware wraps message handling of stage in an OpenTelemetry span.
func TracerMiddleware(stage string) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			tracer := otel.Tracer(tracerName)
			ctx, span := tracer.Start(
				msg.Context(),
				"soknadflow.stage "+stage,
				trace.WithSpanKind(trace.SpanKindConsumer),
			)
			defer span.End()
			msg.SetContext(ctx)

			span.SetAttributes(
				attribute.String("soknadflow.stage", stage),
				attribute.String("message.uuid", msg.UUID),
				attribute.String("soknadflow.correlation_id", msg.Metadata.Get(envelope.HeaderCorrelationID)),
				attribute.String("soknadflow.key", msg.Metadata.Get(envelope.HeaderPartitionKey)),
			)

			produced, err := h(msg)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return produced, err
		}
	}
}

// LogMessagesMiddleware logs the metadata of every handled message at trace
// level.
func LogMessagesMiddleware(logger loggingpkg.ServiceLogger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			logger.Trace("Processing message", loggingpkg.LogFields{
				"message_uuid": msg.UUID,
				"metadata":     fmt.Sprintf("%v", msg.Metadata),
			})
			return h(msg)
		}
	}
}

// RecovererMiddleware converts panics into handler errors. The lifecycle
// manager treats them as fatal.
func RecovererMiddleware() message.HandlerMiddleware {
	return middleware.Recoverer
}
