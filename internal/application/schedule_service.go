package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/program-scheduler/internal/locking"
	"github.com/example/program-scheduler/internal/persistence"
	"github.com/example/program-scheduler/internal/recurrence"
)

const serviceName = "ScheduleService"

// ScheduleService is the operation boundary of the schedule engine: it
// validates input, serializes mutations per program, runs each mutation in
// one store transaction and returns the refreshed read model.
type ScheduleService struct {
	store           persistence.Store
	locker          locking.Locker
	engine          *recurrence.Engine
	idGenerator     func() string
	now             func() time.Time
	logger          *slog.Logger
	defaultTimezone string
}

// ScheduleOption configures optional service behavior.
type ScheduleOption func(*ScheduleService)

// WithEngine replaces the default 18-month-horizon engine.
func WithEngine(engine *recurrence.Engine) ScheduleOption {
	return func(s *ScheduleService) {
		if engine != nil {
			s.engine = engine
		}
	}
}

// WithDefaultTimezone sets the zone used for legacy blocks that carry none.
func WithDefaultTimezone(name string) ScheduleOption {
	return func(s *ScheduleService) {
		if name != "" {
			s.defaultTimezone = name
		}
	}
}

// NewScheduleService wires dependencies for schedule operations.
func NewScheduleService(store persistence.Store, locker locking.Locker, idGenerator func() string, now func() time.Time, opts ...ScheduleOption) *ScheduleService {
	return NewScheduleServiceWithLogger(store, locker, idGenerator, now, nil, opts...)
}

// NewScheduleServiceWithLogger constructs a schedule service with a specified logger.
func NewScheduleServiceWithLogger(store persistence.Store, locker locking.Locker, idGenerator func() string, now func() time.Time, logger *slog.Logger, opts ...ScheduleOption) *ScheduleService {
	if locker == nil {
		locker = locking.NewLocal()
	}
	if idGenerator == nil {
		idGenerator = uuid.NewString
	}
	if now == nil {
		now = time.Now
	}
	s := &ScheduleService{
		store:           store,
		locker:          locker,
		engine:          recurrence.NewEngine(),
		idGenerator:     idGenerator,
		now:             func() time.Time { return now().UTC() },
		logger:          defaultLogger(logger),
		defaultTimezone: "UTC",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ScheduleService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, serviceName, operation, attrs...)
}

// mutate validates the scope, takes the program lock and runs fn inside one
// transaction against the scoped program. The read model returned with the
// id fn reports is loaded in the same transaction, so a mutation either
// commits with its result or not at all.
func (s *ScheduleService) mutate(ctx context.Context, scope Scope, fn func(ctx context.Context, program persistence.Program) (string, error)) (MutationResult, error) {
	if s == nil || s.store == nil {
		return MutationResult{}, fmt.Errorf("ScheduleService is not configured")
	}
	if vErr := validateStruct(scope); vErr.HasErrors() {
		return MutationResult{}, vErr
	}
	if err := ctx.Err(); err != nil {
		return MutationResult{}, err
	}

	release, err := s.locker.Lock(ctx, scope.lockKey())
	if err != nil {
		return MutationResult{}, err
	}
	defer release()

	var result MutationResult
	err = s.store.RunInTx(ctx, func(ctx context.Context) error {
		program, err := s.store.GetProgram(ctx, scope.OrganizationID, scope.ProgramID)
		if err != nil {
			return err
		}
		id, err := fn(ctx, program)
		if err != nil {
			return err
		}
		model, err := s.loadReadModel(ctx, program.ID, false)
		if err != nil {
			return err
		}
		result = MutationResult{ID: id, ReadModel: model}
		return nil
	})
	if err != nil {
		return MutationResult{}, err
	}
	return result, nil
}

// boundaryError converts an internal error into what callers may see:
// validation, not-found and conflict errors unchanged, context errors
// unchanged, and every storage failure as ErrUnavailable. A write that
// references a missing row is a not-found.
func boundaryError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return vErr
	}
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, persistence.ErrNotFound),
		errors.Is(err, persistence.ErrForeignKeyViolation):
		return ErrNotFound
	case errors.Is(err, ErrConflict):
		return ErrConflict
	}
	return ErrUnavailable
}

// ReadModel returns the rules, occurrences and exceptions of one program.
// Cancelled occurrences are included only when requested.
func (s *ScheduleService) ReadModel(ctx context.Context, params ReadModelParams) (model ReadModel, err error) {
	if s == nil || s.store == nil {
		return ReadModel{}, fmt.Errorf("ScheduleService is not configured")
	}
	logger := s.loggerWith(ctx, "ReadModel", "program_id", params.Scope.ProgramID)

	var cause error
	defer func() {
		logOutcome(ctx, logger, "read model loaded", cause, err,
			"occurrence_count", len(model.Occurrences))
	}()

	if vErr := validateStruct(params.Scope); vErr.HasErrors() {
		cause, err = vErr, vErr
		return ReadModel{}, err
	}
	if _, cause = s.store.GetProgram(ctx, params.Scope.OrganizationID, params.Scope.ProgramID); cause != nil {
		err = boundaryError(cause)
		return ReadModel{}, err
	}
	model, cause = s.loadReadModel(ctx, params.Scope.ProgramID, params.IncludeCancelled)
	err = boundaryError(cause)
	return model, err
}

func (s *ScheduleService) loadReadModel(ctx context.Context, programID string, includeCancelled bool) (ReadModel, error) {
	rules, err := s.store.ListRules(ctx, programID)
	if err != nil {
		return ReadModel{}, err
	}
	occurrences, err := s.store.ListOccurrences(ctx, programID, persistence.OccurrenceFilter{IncludeCancelled: includeCancelled})
	if err != nil {
		return ReadModel{}, err
	}
	exceptions, err := s.store.ListExceptions(ctx, programID, "")
	if err != nil {
		return ReadModel{}, err
	}
	return ReadModel{Rules: rules, Occurrences: occurrences, Exceptions: exceptions}, nil
}

// PreviewRule expands a rule without storing anything.
func (s *ScheduleService) PreviewRule(ctx context.Context, input RuleInput) (occurrences []recurrence.GeneratedOccurrence, err error) {
	logger := s.loggerWith(ctx, "PreviewRule", "mode", input.Mode)
	var cause error
	defer func() {
		logOutcome(ctx, logger, "rule previewed", cause, err, "occurrence_count", len(occurrences))
	}()

	rule, vErr := buildRule(input)
	if vErr != nil {
		cause, err = vErr, vErr
		return nil, err
	}
	if rule.ID == "" {
		rule.ID = "preview"
	}
	occurrences, cause = s.engine.Generate(rule)
	if cause != nil {
		err = generateError(cause)
	}
	return occurrences, err
}

// generateError reports engine rejections as validation failures.
func generateError(err error) error {
	var invalid *recurrence.InvalidRuleError
	if errors.As(err, &invalid) {
		vErr := &ValidationError{}
		for _, fe := range invalid.Fields {
			vErr.add(fe.Field, fe.Message)
		}
		return vErr
	}
	return err
}
