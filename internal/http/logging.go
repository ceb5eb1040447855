package http

import (
	"log/slog"
	"net/http"

	"github.com/example/program-scheduler/internal/logging"
)

func defaultLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}

// scopedLogger tags the request logger with the operation and the program the
// request addresses.
func scopedLogger(r *http.Request, fallback *slog.Logger, operation string) *slog.Logger {
	logger := logging.FromContext(r.Context())
	if logger == nil {
		logger = defaultLogger(fallback)
	}
	scope := scopeFromRequest(r)
	return logger.With(
		"operation", operation,
		"organization_id", scope.OrganizationID,
		"program_id", scope.ProgramID,
	)
}
