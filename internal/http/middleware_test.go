package http

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/program-scheduler/internal/logging"
)

func TestRequestLogger(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		incoming string
		wantID   func(t *testing.T, id string)
	}{
		{
			name: "generates a uuid when none is supplied",
			wantID: func(t *testing.T, id string) {
				_, err := uuid.Parse(id)
				assert.NoError(t, err)
			},
		},
		{
			name:     "reuses the caller supplied id",
			incoming: "req-42",
			wantID: func(t *testing.T, id string) {
				assert.Equal(t, "req-42", id)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			base := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

			var seenID string
			var sawLogger bool
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seenID, _ = RequestIDFromContext(r.Context())
				sawLogger = logging.FromContext(r.Context()) != nil
				w.WriteHeader(http.StatusTeapot)
			})

			req := httptest.NewRequest(http.MethodGet, "/orgs/o/programs/p/schedule", nil)
			if tc.incoming != "" {
				req.Header.Set(RequestIDHeader, tc.incoming)
			}
			recorder := httptest.NewRecorder()
			RequestLogger(base)(next).ServeHTTP(recorder, req)

			require.True(t, sawLogger)
			tc.wantID(t, seenID)
			assert.Equal(t, seenID, recorder.Header().Get(RequestIDHeader))
			assert.Contains(t, buf.String(), `"request_id":"`+seenID+`"`)
			assert.Contains(t, buf.String(), `"status":418`)
			assert.Contains(t, buf.String(), `"path":"/orgs/o/programs/p/schedule"`)
		})
	}
}

func TestRequestTimeout(t *testing.T) {
	t.Parallel()

	t.Run("sets a deadline", func(t *testing.T) {
		t.Parallel()
		var hasDeadline bool
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, hasDeadline = r.Context().Deadline()
		})
		RequestTimeout(time.Minute)(next).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
		assert.True(t, hasDeadline)
	})

	t.Run("disabled for non-positive durations", func(t *testing.T) {
		t.Parallel()
		var hasDeadline bool
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, hasDeadline = r.Context().Deadline()
		})
		RequestTimeout(0)(next).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
		assert.False(t, hasDeadline)
	})
}

func TestRouterAppliesMiddlewareInOrder(t *testing.T) {
	t.Parallel()

	var order []string
	tag := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	router := NewRouter(RouterConfig{Middleware: []func(http.Handler) http.Handler{tag("outer"), nil, tag("inner")}})
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusNoContent, recorder.Code)
	assert.Equal(t, []string{"outer", "inner"}, order)
}
