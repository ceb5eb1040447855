package http

import (
	"net/http"
)

// SchedulePrefix is the path every schedule route hangs off.
const SchedulePrefix = "/orgs/{orgID}/programs/{programID}/schedule"

type RouterConfig struct {
	Schedules  *ScheduleHandler
	Middleware []func(http.Handler) http.Handler
}

func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	if cfg.Schedules != nil {
		route := func(method, path string, handler http.HandlerFunc) {
			mux.HandleFunc(method+" "+SchedulePrefix+path, handler)
		}

		route(http.MethodGet, "", cfg.Schedules.ReadModel)
		route(http.MethodGet, "/{$}", cfg.Schedules.ReadModel)
		route(http.MethodGet, "/timeline", cfg.Schedules.Timeline)
		route(http.MethodGet, "/calendar.ics", cfg.Schedules.Calendar)

		route(http.MethodPost, "/rules", cfg.Schedules.UpsertRule)
		route(http.MethodPost, "/rules/preview", cfg.Schedules.PreviewRule)
		route(http.MethodDelete, "/rules/{ruleID}", cfg.Schedules.DeleteRule)

		route(http.MethodPost, "/occurrences", cfg.Schedules.AddOccurrence)
		route(http.MethodPut, "/occurrences/{occurrenceID}", cfg.Schedules.UpdateOccurrence)
		route(http.MethodPost, "/occurrences/{occurrenceID}/skip", cfg.Schedules.SkipOccurrence)
		route(http.MethodPost, "/restore", cfg.Schedules.Restore)
	}

	var handler http.Handler = mux
	if len(cfg.Middleware) > 0 {
		for i := len(cfg.Middleware) - 1; i >= 0; i-- {
			if cfg.Middleware[i] != nil {
				handler = cfg.Middleware[i](handler)
			}
		}
	}

	return handler
}
