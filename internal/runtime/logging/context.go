package logging

import "context"

type loggerKey struct{}

// IntoContext stores a scoped logger so code further down the call chain logs
// with the same correlation fields.
func IntoContext(ctx context.Context, logger ServiceLogger) context.Context {
	if logger == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext returns the logger stored by IntoContext, or fallback.
func FromContext(ctx context.Context, fallback ServiceLogger) ServiceLogger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerKey{}).(ServiceLogger); ok {
			return logger
		}
	}
	if fallback == nil {
		return NewNopLogger()
	}
	return fallback
}
