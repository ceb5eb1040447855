package testfixtures

import (
	"log/slog"
	"testing"
	"time"

	"github.com/example/program-scheduler/internal/application"
	"github.com/example/program-scheduler/internal/locking"
	"github.com/example/program-scheduler/internal/persistence"
)

// ServiceFactory assists tests with constructing the schedule service using
// deterministic identifiers and clocks.
type ServiceFactory struct {
	Clock       *Clock
	IDGenerator *IDGenerator
}

// ServiceFactoryOption configures a ServiceFactory instance.
type ServiceFactoryOption func(*ServiceFactory)

// NewServiceFactory constructs a ServiceFactory with a one-second ticking
// clock and "id" identifiers.
func NewServiceFactory(opts ...ServiceFactoryOption) *ServiceFactory {
	factory := &ServiceFactory{
		Clock:       NewTickingClock(time.Time{}, time.Second),
		IDGenerator: NewIDGenerator("id"),
	}
	for _, opt := range opts {
		opt(factory)
	}
	if factory.Clock == nil {
		factory.Clock = NewClock(time.Time{})
	}
	if factory.IDGenerator == nil {
		factory.IDGenerator = NewIDGenerator("id")
	}
	return factory
}

// WithClock overrides the clock used by the factory.
func WithClock(clock *Clock) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Clock = clock
	}
}

// WithIDGenerator overrides the identifier generator used by the factory.
func WithIDGenerator(generator *IDGenerator) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.IDGenerator = generator
	}
}

// ScheduleServiceDeps captures dependencies for constructing a schedule
// service. Zero values fall back to factory defaults.
type ScheduleServiceDeps struct {
	Store       persistence.Store
	Locker      locking.Locker
	IDGenerator func() string
	Now         func() time.Time
	Logger      *slog.Logger
	Options     []application.ScheduleOption
}

// NewScheduleService builds a schedule service using the supplied dependencies
// combined with the factory defaults.
func (f *ServiceFactory) NewScheduleService(deps ScheduleServiceDeps) *application.ScheduleService {
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = f.IDGenerator.NextFunc()
	}
	now := deps.Now
	if now == nil {
		now = f.Clock.NowFunc()
	}
	logger := deps.Logger
	if logger == nil {
		logger = DiscardLogger()
	}
	return application.NewScheduleServiceWithLogger(
		deps.Store,
		deps.Locker,
		idGen,
		now,
		logger,
		deps.Options...,
	)
}

// ScheduleHarness bundles a schedule service with the store behind it and
// a seeded program.
type ScheduleHarness struct {
	Service *application.ScheduleService
	Store   persistence.Store
	Program persistence.Program
	Factory *ServiceFactory
}

// Scope addresses the harness program.
func (h ScheduleHarness) Scope() application.Scope {
	return application.Scope{OrganizationID: h.Program.OrganizationID, ProgramID: h.Program.ID}
}

// NewScheduleHarness opens a store with newStore, seeds a default program
// and wires a service over it.
func NewScheduleHarness(tb testing.TB, newStore StoreFactory, opts ...ServiceFactoryOption) ScheduleHarness {
	tb.Helper()
	store := newStore(tb)
	program := SeedProgram(tb, store, NewProgram())
	factory := NewServiceFactory(opts...)
	return ScheduleHarness{
		Service: factory.NewScheduleService(ScheduleServiceDeps{Store: store}),
		Store:   store,
		Program: program,
		Factory: factory,
	}
}
