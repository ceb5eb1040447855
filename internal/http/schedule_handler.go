package http

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/example/program-scheduler/internal/application"
	"github.com/example/program-scheduler/internal/icalendar"
	"github.com/example/program-scheduler/internal/persistence"
	"github.com/example/program-scheduler/internal/recurrence"
)

const maxBodyBytes = 1 << 20

type scheduleService interface {
	ReadModel(ctx context.Context, params application.ReadModelParams) (application.ReadModel, error)
	Timeline(ctx context.Context, scope application.Scope) (application.Timeline, error)
	PreviewRule(ctx context.Context, input application.RuleInput) ([]recurrence.GeneratedOccurrence, error)
	UpsertRule(ctx context.Context, params application.UpsertRuleParams) (application.MutationResult, error)
	DeleteRule(ctx context.Context, params application.DeleteRuleParams) (application.MutationResult, error)
	AddManualOccurrence(ctx context.Context, params application.AddOccurrenceParams) (application.MutationResult, error)
	UpdateOccurrence(ctx context.Context, params application.UpdateOccurrenceParams) (application.MutationResult, error)
	SkipOccurrence(ctx context.Context, params application.SkipOccurrenceParams) (application.MutationResult, error)
	RestoreOccurrence(ctx context.Context, params application.RestoreOccurrenceParams) (application.MutationResult, error)
}

type ScheduleHandler struct {
	service   scheduleService
	responder responder
	logger    *slog.Logger
	now       func() time.Time
}

func NewScheduleHandler(service scheduleService, logger *slog.Logger) *ScheduleHandler {
	logger = defaultLogger(logger)
	return &ScheduleHandler{
		service:   service,
		responder: newResponder(logger),
		logger:    logger,
		now:       time.Now,
	}
}

func (h *ScheduleHandler) ReadModel(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}

	includeCancelled, _ := strconv.ParseBool(r.URL.Query().Get("include_cancelled"))
	model, err := h.service.ReadModel(r.Context(), application.ReadModelParams{
		Scope:            scopeFromRequest(r),
		IncludeCancelled: includeCancelled,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, mutationResponse{ReadModel: toReadModelDTO(model)})
}

func (h *ScheduleHandler) Timeline(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}

	timeline, err := h.service.Timeline(r.Context(), scopeFromRequest(r))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, timelineResponse{
		Source:      string(timeline.Source),
		Occurrences: toOccurrenceDTOs(timeline.Occurrences),
	})
}

// Calendar serves the scheduled occurrences as an iCalendar feed.
func (h *ScheduleHandler) Calendar(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}

	scope := scopeFromRequest(r)
	model, err := h.service.ReadModel(r.Context(), application.ReadModelParams{Scope: scope})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	var buf bytes.Buffer
	feed := icalendar.Feed{Name: scope.ProgramID, Stamped: h.now()}
	if err := icalendar.Write(&buf, feed, model.Occurrences); err != nil {
		scopedLogger(r, h.logger, "calendar").ErrorContext(r.Context(), "failed to render calendar", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="`+scope.ProgramID+`.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (h *ScheduleHandler) UpsertRule(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}

	var input application.RuleInput
	if !h.decode(w, r, &input) {
		return
	}

	result, err := h.service.UpsertRule(r.Context(), application.UpsertRuleParams{
		Scope: scopeFromRequest(r),
		Input: input,
	})
	h.renderMutation(w, r, result, err)
}

// PreviewRule expands a rule without saving anything.
func (h *ScheduleHandler) PreviewRule(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}

	var input application.RuleInput
	if !h.decode(w, r, &input) {
		return
	}

	occurrences, err := h.service.PreviewRule(r.Context(), input)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	if occurrences == nil {
		occurrences = []recurrence.GeneratedOccurrence{}
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, previewResponse{Occurrences: occurrences})
}

func (h *ScheduleHandler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}

	ruleID := strings.TrimSpace(r.PathValue("ruleID"))
	if ruleID == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errMissingRuleID)
		return
	}

	result, err := h.service.DeleteRule(r.Context(), application.DeleteRuleParams{
		Scope:  scopeFromRequest(r),
		RuleID: ruleID,
	})
	h.renderMutation(w, r, result, err)
}

func (h *ScheduleHandler) AddOccurrence(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}

	var input application.OccurrenceInput
	if !h.decode(w, r, &input) {
		return
	}

	result, err := h.service.AddManualOccurrence(r.Context(), application.AddOccurrenceParams{
		Scope: scopeFromRequest(r),
		Input: input,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, toMutationResponse(result))
}

func (h *ScheduleHandler) UpdateOccurrence(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}

	occurrenceID := strings.TrimSpace(r.PathValue("occurrenceID"))
	if occurrenceID == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errMissingOccurrenceID)
		return
	}

	var input application.OccurrenceInput
	if !h.decode(w, r, &input) {
		return
	}

	result, err := h.service.UpdateOccurrence(r.Context(), application.UpdateOccurrenceParams{
		Scope:        scopeFromRequest(r),
		OccurrenceID: occurrenceID,
		Input:        input,
	})
	h.renderMutation(w, r, result, err)
}

func (h *ScheduleHandler) SkipOccurrence(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}

	occurrenceID := strings.TrimSpace(r.PathValue("occurrenceID"))
	if occurrenceID == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errMissingOccurrenceID)
		return
	}

	result, err := h.service.SkipOccurrence(r.Context(), application.SkipOccurrenceParams{
		Scope:        scopeFromRequest(r),
		OccurrenceID: occurrenceID,
	})
	h.renderMutation(w, r, result, err)
}

func (h *ScheduleHandler) Restore(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}

	var req restoreRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.service.RestoreOccurrence(r.Context(), application.RestoreOccurrenceParams{
		Scope:     scopeFromRequest(r),
		RuleID:    strings.TrimSpace(req.RuleID),
		SourceKey: strings.TrimSpace(req.SourceKey),
	})
	h.renderMutation(w, r, result, err)
}

func (h *ScheduleHandler) ready(w http.ResponseWriter) bool {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return false
	}
	return true
}

func (h *ScheduleHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		scopedLogger(r, h.logger, "decode").DebugContext(r.Context(), "rejected request body", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return false
	}
	return true
}

func (h *ScheduleHandler) renderMutation(w http.ResponseWriter, r *http.Request, result application.MutationResult, err error) {
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toMutationResponse(result))
}

type restoreRequest struct {
	RuleID    string `json:"rule_id"`
	SourceKey string `json:"source_key"`
}

type mutationResponse struct {
	ID        string       `json:"id,omitempty"`
	ReadModel readModelDTO `json:"read_model"`
}

type timelineResponse struct {
	Source      string          `json:"source"`
	Occurrences []occurrenceDTO `json:"occurrences"`
}

type previewResponse struct {
	Occurrences []recurrence.GeneratedOccurrence `json:"occurrences"`
}

type readModelDTO struct {
	Rules       []ruleDTO       `json:"rules"`
	Occurrences []occurrenceDTO `json:"occurrences"`
	Exceptions  []exceptionDTO  `json:"exceptions"`
}

type ruleDTO struct {
	ID            string          `json:"id"`
	ProgramID     string          `json:"program_id"`
	ProgramNodeID *string         `json:"program_node_id,omitempty"`
	Title         string          `json:"title,omitempty"`
	RuleHash      string          `json:"rule_hash"`
	Definition    recurrence.Rule `json:"definition"`
	CreatedAt     string          `json:"created_at"`
	UpdatedAt     string          `json:"updated_at"`
}

type occurrenceDTO struct {
	ID             string         `json:"id"`
	ProgramID      string         `json:"program_id"`
	ProgramNodeID  *string        `json:"program_node_id,omitempty"`
	SourceKey      string         `json:"source_key"`
	SourceType     string         `json:"source_type"`
	SourceRuleID   *string        `json:"source_rule_id,omitempty"`
	Title          string         `json:"title,omitempty"`
	Timezone       string         `json:"timezone"`
	LocalDate      string         `json:"local_date"`
	LocalStartTime *string        `json:"local_start_time,omitempty"`
	LocalEndTime   *string        `json:"local_end_time,omitempty"`
	StartsAt       string         `json:"starts_at_utc"`
	EndsAt         string         `json:"ends_at_utc"`
	Status         string         `json:"status"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

type exceptionDTO struct {
	ID                   string                        `json:"id"`
	RuleID               string                        `json:"rule_id"`
	SourceKey            string                        `json:"source_key"`
	Kind                 string                        `json:"kind"`
	OverrideOccurrenceID *string                       `json:"override_occurrence_id,omitempty"`
	Payload              *persistence.ExceptionPayload `json:"payload,omitempty"`
}

func toMutationResponse(result application.MutationResult) mutationResponse {
	return mutationResponse{ID: result.ID, ReadModel: toReadModelDTO(result.ReadModel)}
}

func toReadModelDTO(model application.ReadModel) readModelDTO {
	dto := readModelDTO{
		Rules:       make([]ruleDTO, 0, len(model.Rules)),
		Occurrences: toOccurrenceDTOs(model.Occurrences),
		Exceptions:  make([]exceptionDTO, 0, len(model.Exceptions)),
	}
	for _, rule := range model.Rules {
		dto.Rules = append(dto.Rules, ruleDTO{
			ID:            rule.ID,
			ProgramID:     rule.ProgramID,
			ProgramNodeID: rule.ProgramNodeID,
			Title:         rule.Title,
			RuleHash:      rule.RuleHash,
			Definition:    rule.Rule,
			CreatedAt:     formatInstant(rule.CreatedAt),
			UpdatedAt:     formatInstant(rule.UpdatedAt),
		})
	}
	for _, exception := range model.Exceptions {
		dto.Exceptions = append(dto.Exceptions, exceptionDTO{
			ID:                   exception.ID,
			RuleID:               exception.RuleID,
			SourceKey:            exception.SourceKey,
			Kind:                 string(exception.Kind),
			OverrideOccurrenceID: exception.OverrideOccurrenceID,
			Payload:              exception.Payload,
		})
	}
	return dto
}

func toOccurrenceDTOs(occurrences []persistence.Occurrence) []occurrenceDTO {
	out := make([]occurrenceDTO, 0, len(occurrences))
	for _, occurrence := range occurrences {
		out = append(out, occurrenceDTO{
			ID:             occurrence.ID,
			ProgramID:      occurrence.ProgramID,
			ProgramNodeID:  occurrence.ProgramNodeID,
			SourceKey:      occurrence.SourceKey,
			SourceType:     string(occurrence.SourceType),
			SourceRuleID:   occurrence.SourceRuleID,
			Title:          occurrence.Title,
			Timezone:       occurrence.Timezone,
			LocalDate:      occurrence.LocalDate.String(),
			LocalStartTime: formatLocalTime(occurrence.LocalStartTime),
			LocalEndTime:   formatLocalTime(occurrence.LocalEndTime),
			StartsAt:       formatInstant(occurrence.StartsAt),
			EndsAt:         formatInstant(occurrence.EndsAt),
			Status:         string(occurrence.Status),
			Metadata:       occurrence.Metadata,
		})
	}
	return out
}

func formatInstant(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatLocalTime(t *recurrence.LocalTime) *string {
	if t == nil {
		return nil
	}
	value := t.String()
	return &value
}
