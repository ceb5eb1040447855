package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/example/program-scheduler/internal/application"
)

type contextKey string

const requestIDContextKey contextKey = "request_id"

// ContextWithRequestID returns a derived context carrying the request identifier.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDContextKey, requestID)
}

// RequestIDFromContext extracts the request identifier set by RequestLogger.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDContextKey).(string)
	return id, ok
}

func scopeFromRequest(r *http.Request) application.Scope {
	return application.Scope{
		OrganizationID: strings.TrimSpace(r.PathValue("orgID")),
		ProgramID:      strings.TrimSpace(r.PathValue("programID")),
	}
}
