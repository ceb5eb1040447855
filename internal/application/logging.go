package application

import (
	"context"
	"errors"
	"log/slog"

	"github.com/example/program-scheduler/internal/logging"
)

func defaultLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}

func serviceLogger(ctx context.Context, base *slog.Logger, serviceName, operation string, attrs ...any) *slog.Logger {
	logger := logging.FromContext(ctx)
	if logger == nil {
		logger = base
	}
	if logger == nil {
		logger = slog.Default()
	}

	pairs := []any{"service", serviceName}
	if operation != "" {
		pairs = append(pairs, "operation", operation)
	}
	if len(attrs) > 0 {
		pairs = append(pairs, attrs...)
	}
	return logger.With(pairs...)
}

// ErrorKind maps sentinel and validation errors to a stable logging label.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "deadline_exceeded"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	}

	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return "validation"
	}

	return "unexpected"
}

// logOutcome records the result of an operation. Caller mistakes log at
// info, cancellations at debug, and anything else at error with its cause.
func logOutcome(ctx context.Context, logger *slog.Logger, success string, cause, returned error, attrs ...any) {
	if returned == nil {
		logger.InfoContext(ctx, success, attrs...)
		return
	}
	kind := ErrorKind(returned)
	switch kind {
	case "canceled", "deadline_exceeded":
		logger.DebugContext(ctx, "operation abandoned", "error", returned, "error_kind", kind)
	case "validation", "not_found", "conflict":
		logger.InfoContext(ctx, "operation rejected", "error", returned, "error_kind", kind)
	default:
		logger.ErrorContext(ctx, "operation failed", "error", cause, "error_kind", kind)
	}
}
