package persistence_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/program-scheduler/internal/persistence"
	"github.com/example/program-scheduler/internal/recurrence"
	"github.com/example/program-scheduler/internal/testfixtures"
)

// forEachStore runs fn once per store implementation.
func forEachStore(t *testing.T, fn func(t *testing.T, store persistence.Store)) {
	t.Helper()
	for name, open := range testfixtures.StoreFactories() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			fn(t, open(t))
		})
	}
}

func TestProgramRepository(t *testing.T) {
	t.Parallel()

	forEachStore(t, func(t *testing.T, store persistence.Store) {
		ctx := context.Background()
		program := testfixtures.SeedProgram(t, store, testfixtures.NewProgram())

		fetched, err := store.GetProgram(ctx, program.OrganizationID, program.ID)
		if err != nil {
			t.Fatalf("GetProgram failed: %v", err)
		}
		if fetched.Name != program.Name || fetched.ScheduleVersion != persistence.ScheduleVersionLegacy {
			t.Fatalf("unexpected program: %#v", fetched)
		}
		if !fetched.CreatedAt.Equal(program.CreatedAt) {
			t.Fatalf("expected created_at %v, got %v", program.CreatedAt, fetched.CreatedAt)
		}

		if _, err := store.GetProgram(ctx, "other-org", program.ID); !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("expected ErrNotFound for foreign organization, got %v", err)
		}
		if err := store.CreateProgram(ctx, program); !errors.Is(err, persistence.ErrDuplicate) {
			t.Fatalf("expected ErrDuplicate, got %v", err)
		}

		if err := store.SetScheduleVersion(ctx, program.ID, persistence.ScheduleVersionRuleEngine); err != nil {
			t.Fatalf("SetScheduleVersion failed: %v", err)
		}
		if err := store.SetScheduleVersion(ctx, program.ID, persistence.ScheduleVersionRuleEngine); err != nil {
			t.Fatalf("repeated SetScheduleVersion failed: %v", err)
		}
		if err := store.SetScheduleVersion(ctx, program.ID, persistence.ScheduleVersionLegacy); !errors.Is(err, persistence.ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition, got %v", err)
		}
		if err := store.SetScheduleVersion(ctx, "missing", persistence.ScheduleVersionRuleEngine); !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}

		fetched, err = store.GetProgram(ctx, program.OrganizationID, program.ID)
		if err != nil {
			t.Fatalf("GetProgram failed: %v", err)
		}
		if fetched.ScheduleVersion != persistence.ScheduleVersionRuleEngine {
			t.Fatalf("expected rule_engine, got %s", fetched.ScheduleVersion)
		}
	})
}

func TestRuleRepository(t *testing.T) {
	t.Parallel()

	t.Run("round-trips every rule field", func(t *testing.T) {
		t.Parallel()

		forEachStore(t, func(t *testing.T, store persistence.Store) {
			ctx := context.Background()
			program := testfixtures.SeedProgram(t, store, testfixtures.NewProgram())
			rule := testfixtures.NewRule(program,
				testfixtures.WithRuleNode("node-7"),
				testfixtures.WithRule(func(r *recurrence.Rule) {
					r.Mode = recurrence.ModeCustomAdvanced
					r.Timezone = "America/New_York"
					r.EndDate = recurrence.MustParseDate("2024-06-30")
					r.ByMonthday = []int{1, 15}
					r.EndMode = recurrence.EndUntilDate
					r.UntilDate = recurrence.MustParseDate("2024-05-31")
					r.MaxOccurrences = 0
					r.Config = recurrence.AdvancedConfig{
						Dates: []recurrence.Date{recurrence.MustParseDate("2024-01-10")},
						RRule: "FREQ=WEEKLY;BYDAY=MO",
					}
				}),
			)
			if err := store.UpsertRule(ctx, rule); err != nil {
				t.Fatalf("UpsertRule failed: %v", err)
			}

			fetched, err := store.GetRule(ctx, program.ID, rule.ID)
			if err != nil {
				t.Fatalf("GetRule failed: %v", err)
			}
			if fetched.Mode != rule.Mode || fetched.Timezone != rule.Timezone || fetched.RuleHash != rule.RuleHash {
				t.Fatalf("unexpected rule: %#v", fetched)
			}
			if fetched.EndDate != rule.EndDate || fetched.UntilDate != rule.UntilDate || fetched.StartDate != rule.StartDate {
				t.Fatalf("dates not preserved: %#v", fetched.Rule)
			}
			if fetched.StartTime == nil || *fetched.StartTime != *rule.StartTime {
				t.Fatalf("start time not preserved: %v", fetched.StartTime)
			}
			if len(fetched.ByWeekday) != 1 || fetched.ByWeekday[0] != time.Monday {
				t.Fatalf("weekdays not preserved: %v", fetched.ByWeekday)
			}
			if len(fetched.ByMonthday) != 2 || fetched.ByMonthday[1] != 15 {
				t.Fatalf("monthdays not preserved: %v", fetched.ByMonthday)
			}
			if fetched.ProgramNodeID == nil || *fetched.ProgramNodeID != "node-7" {
				t.Fatalf("node not preserved: %v", fetched.ProgramNodeID)
			}
			cfg, ok := fetched.Config.(recurrence.AdvancedConfig)
			if !ok || cfg.RRule != "FREQ=WEEKLY;BYDAY=MO" || len(cfg.Dates) != 1 {
				t.Fatalf("config not preserved: %#v", fetched.Config)
			}

			hash, err := recurrence.Hash(fetched.Rule)
			if err != nil {
				t.Fatalf("Hash failed: %v", err)
			}
			if hash != rule.RuleHash {
				t.Fatal("stored rule hashes differently after a round trip")
			}
		})
	})

	t.Run("upsert keeps created_at and lists in creation order", func(t *testing.T) {
		t.Parallel()

		forEachStore(t, func(t *testing.T, store persistence.Store) {
			ctx := context.Background()
			program := testfixtures.SeedProgram(t, store, testfixtures.NewProgram())
			first := testfixtures.NewRule(program)
			second := testfixtures.NewRule(program)
			for _, rule := range []persistence.ScheduleRule{second, first} {
				if err := store.UpsertRule(ctx, rule); err != nil {
					t.Fatalf("UpsertRule failed: %v", err)
				}
			}

			updated := first
			updated.Title = "Renamed"
			updated.CreatedAt = first.CreatedAt.Add(time.Hour)
			updated.UpdatedAt = first.UpdatedAt.Add(time.Hour)
			if err := store.UpsertRule(ctx, updated); err != nil {
				t.Fatalf("UpsertRule update failed: %v", err)
			}

			rules, err := store.ListRules(ctx, program.ID)
			if err != nil {
				t.Fatalf("ListRules failed: %v", err)
			}
			if len(rules) != 2 || rules[0].ID != first.ID || rules[1].ID != second.ID {
				t.Fatalf("unexpected rule order: %#v", rules)
			}
			if rules[0].Title != "Renamed" || !rules[0].CreatedAt.Equal(first.CreatedAt) {
				t.Fatalf("unexpected updated rule: %#v", rules[0])
			}
		})
	})

	t.Run("rejects rules of unknown programs and deletes with exceptions", func(t *testing.T) {
		t.Parallel()

		forEachStore(t, func(t *testing.T, store persistence.Store) {
			ctx := context.Background()
			program := testfixtures.SeedProgram(t, store, testfixtures.NewProgram())

			orphan := testfixtures.NewRule(persistence.Program{ID: "missing", OrganizationID: "org-1"})
			if err := store.UpsertRule(ctx, orphan); !errors.Is(err, persistence.ErrForeignKeyViolation) {
				t.Fatalf("expected ErrForeignKeyViolation, got %v", err)
			}

			rule := testfixtures.NewRule(program)
			if err := store.UpsertRule(ctx, rule); err != nil {
				t.Fatalf("UpsertRule failed: %v", err)
			}
			key := recurrence.SourceKey(rule.ID, rule.StartDate)
			if _, err := store.UpsertException(ctx, newSkip(program, rule, key)); err != nil {
				t.Fatalf("UpsertException failed: %v", err)
			}

			if err := store.DeleteRule(ctx, program.ID, rule.ID); err != nil {
				t.Fatalf("DeleteRule failed: %v", err)
			}
			if err := store.DeleteRule(ctx, program.ID, rule.ID); !errors.Is(err, persistence.ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
			if _, err := store.GetException(ctx, program.ID, rule.ID, key); !errors.Is(err, persistence.ErrNotFound) {
				t.Fatalf("expected exception to be removed with its rule, got %v", err)
			}
		})
	})
}

func TestOccurrenceRepository(t *testing.T) {
	t.Parallel()

	t.Run("upsert by source key keeps the row id", func(t *testing.T) {
		t.Parallel()

		forEachStore(t, func(t *testing.T, store persistence.Store) {
			ctx := context.Background()
			program := testfixtures.SeedProgram(t, store, testfixtures.NewProgram())
			occurrence := testfixtures.NewOccurrence(program,
				testfixtures.FromRule("rule-x"),
				testfixtures.WithSourceKey("rule-x:2024-02-01"),
			)
			occurrence.Metadata = map[string]any{"room": "A1"}

			id, err := store.UpsertOccurrence(ctx, occurrence)
			if err != nil {
				t.Fatalf("UpsertOccurrence failed: %v", err)
			}
			if id != occurrence.ID {
				t.Fatalf("expected id %s, got %s", occurrence.ID, id)
			}

			replacement := occurrence
			replacement.ID = "some-new-id"
			replacement.Title = "Moved"
			replacement.Status = persistence.StatusCancelled
			id, err = store.UpsertOccurrence(ctx, replacement)
			if err != nil {
				t.Fatalf("UpsertOccurrence update failed: %v", err)
			}
			if id != occurrence.ID {
				t.Fatalf("expected the original id %s to survive, got %s", occurrence.ID, id)
			}

			fetched, err := store.GetOccurrenceBySourceKey(ctx, program.ID, occurrence.SourceKey)
			if err != nil {
				t.Fatalf("GetOccurrenceBySourceKey failed: %v", err)
			}
			if fetched.ID != occurrence.ID || fetched.Title != "Moved" || fetched.Status != persistence.StatusCancelled {
				t.Fatalf("unexpected occurrence: %#v", fetched)
			}
			if fetched.SourceRuleID == nil || *fetched.SourceRuleID != "rule-x" {
				t.Fatalf("source rule not preserved: %v", fetched.SourceRuleID)
			}
			if fetched.Metadata["room"] != "A1" {
				t.Fatalf("metadata not preserved: %v", fetched.Metadata)
			}
			if !fetched.StartsAt.Equal(occurrence.StartsAt) || !fetched.EndsAt.Equal(occurrence.EndsAt) {
				t.Fatalf("instants not preserved: %v %v", fetched.StartsAt, fetched.EndsAt)
			}

			count, err := store.CountOccurrences(ctx, program.ID)
			if err != nil {
				t.Fatalf("CountOccurrences failed: %v", err)
			}
			if count != 1 {
				t.Fatalf("expected 1 occurrence, got %d", count)
			}

			if _, err := store.GetOccurrence(ctx, "other-program", occurrence.ID); !errors.Is(err, persistence.ErrNotFound) {
				t.Fatalf("expected ErrNotFound across programs, got %v", err)
			}
		})
	})

	t.Run("lists by start and filters", func(t *testing.T) {
		t.Parallel()

		forEachStore(t, func(t *testing.T, store persistence.Store) {
			ctx := context.Background()
			program := testfixtures.SeedProgram(t, store, testfixtures.NewProgram())
			base := time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC)

			late := testfixtures.NewOccurrence(program, testfixtures.StartingAt(base.Add(48*time.Hour)), testfixtures.FromRule("rule-a"))
			early := testfixtures.NewOccurrence(program, testfixtures.StartingAt(base), testfixtures.FromRule("rule-a"))
			manual := testfixtures.NewOccurrence(program, testfixtures.StartingAt(base.Add(24*time.Hour)))
			cancelled := testfixtures.NewOccurrence(program,
				testfixtures.StartingAt(base.Add(72*time.Hour)),
				testfixtures.FromRule("rule-b"),
				testfixtures.WithStatus(persistence.StatusCancelled),
			)
			for _, o := range []persistence.Occurrence{late, early, manual, cancelled} {
				if _, err := store.UpsertOccurrence(ctx, o); err != nil {
					t.Fatalf("UpsertOccurrence failed: %v", err)
				}
			}

			scheduled, err := store.ListOccurrences(ctx, program.ID, persistence.OccurrenceFilter{})
			if err != nil {
				t.Fatalf("ListOccurrences failed: %v", err)
			}
			assertOccurrenceIDs(t, scheduled, early.ID, manual.ID, late.ID)

			all, err := store.ListOccurrences(ctx, program.ID, persistence.OccurrenceFilter{IncludeCancelled: true})
			if err != nil {
				t.Fatalf("ListOccurrences failed: %v", err)
			}
			assertOccurrenceIDs(t, all, early.ID, manual.ID, late.ID, cancelled.ID)

			byRule, err := store.ListOccurrences(ctx, program.ID, persistence.OccurrenceFilter{RuleID: "rule-a"})
			if err != nil {
				t.Fatalf("ListOccurrences failed: %v", err)
			}
			assertOccurrenceIDs(t, byRule, early.ID, late.ID)

			manualOnly, err := store.ListOccurrences(ctx, program.ID, persistence.OccurrenceFilter{
				SourceTypes: []persistence.SourceType{persistence.SourceManual},
			})
			if err != nil {
				t.Fatalf("ListOccurrences failed: %v", err)
			}
			assertOccurrenceIDs(t, manualOnly, manual.ID)
		})
	})

	t.Run("sets status by source key", func(t *testing.T) {
		t.Parallel()

		forEachStore(t, func(t *testing.T, store persistence.Store) {
			ctx := context.Background()
			program := testfixtures.SeedProgram(t, store, testfixtures.NewProgram())
			first := testfixtures.NewOccurrence(program)
			second := testfixtures.NewOccurrence(program)
			for _, o := range []persistence.Occurrence{first, second} {
				if _, err := store.UpsertOccurrence(ctx, o); err != nil {
					t.Fatalf("UpsertOccurrence failed: %v", err)
				}
			}

			n, err := store.SetOccurrenceStatus(ctx, program.ID,
				[]string{first.SourceKey, first.SourceKey, "unknown"}, persistence.StatusCancelled)
			if err != nil {
				t.Fatalf("SetOccurrenceStatus failed: %v", err)
			}
			if n != 1 {
				t.Fatalf("expected 1 matched row, got %d", n)
			}

			fetched, err := store.GetOccurrence(ctx, program.ID, first.ID)
			if err != nil {
				t.Fatalf("GetOccurrence failed: %v", err)
			}
			if fetched.Status != persistence.StatusCancelled {
				t.Fatalf("expected cancelled, got %s", fetched.Status)
			}
			fetched, err = store.GetOccurrence(ctx, program.ID, second.ID)
			if err != nil {
				t.Fatalf("GetOccurrence failed: %v", err)
			}
			if fetched.Status != persistence.StatusScheduled {
				t.Fatalf("expected untouched occurrence to stay scheduled, got %s", fetched.Status)
			}
		})
	})
}

func TestExceptionRepository(t *testing.T) {
	t.Parallel()

	forEachStore(t, func(t *testing.T, store persistence.Store) {
		ctx := context.Background()
		program := testfixtures.SeedProgram(t, store, testfixtures.NewProgram())
		rule := testfixtures.NewRule(program)
		if err := store.UpsertRule(ctx, rule); err != nil {
			t.Fatalf("UpsertRule failed: %v", err)
		}
		key := recurrence.SourceKey(rule.ID, rule.StartDate)

		skip := newSkip(program, rule, key)
		id, err := store.UpsertException(ctx, skip)
		if err != nil {
			t.Fatalf("UpsertException failed: %v", err)
		}

		overrideID := "occurrence-override"
		start := recurrence.MustParseLocalTime("11:00")
		override := skip
		override.ID = "exception-other"
		override.Kind = persistence.ExceptionOverride
		override.OverrideOccurrenceID = &overrideID
		override.Payload = &persistence.ExceptionPayload{
			Timezone:       "UTC",
			LocalDate:      recurrence.MustParseDate("2024-01-02"),
			LocalStartTime: &start,
			Title:          "Moved",
		}
		again, err := store.UpsertException(ctx, override)
		if err != nil {
			t.Fatalf("UpsertException update failed: %v", err)
		}
		if again != id {
			t.Fatalf("expected exception id %s to be kept, got %s", id, again)
		}

		fetched, err := store.GetException(ctx, program.ID, rule.ID, key)
		if err != nil {
			t.Fatalf("GetException failed: %v", err)
		}
		if fetched.Kind != persistence.ExceptionOverride || fetched.OverrideOccurrenceID == nil || *fetched.OverrideOccurrenceID != overrideID {
			t.Fatalf("unexpected exception: %#v", fetched)
		}
		if fetched.Payload == nil || fetched.Payload.LocalDate != override.Payload.LocalDate || fetched.Payload.Title != "Moved" {
			t.Fatalf("payload not preserved: %#v", fetched.Payload)
		}

		listed, err := store.ListExceptions(ctx, program.ID, "")
		if err != nil {
			t.Fatalf("ListExceptions failed: %v", err)
		}
		if len(listed) != 1 {
			t.Fatalf("expected 1 exception, got %d", len(listed))
		}
		listed, err = store.ListExceptions(ctx, program.ID, "other-rule")
		if err != nil {
			t.Fatalf("ListExceptions failed: %v", err)
		}
		if len(listed) != 0 {
			t.Fatalf("expected no exceptions for another rule, got %d", len(listed))
		}

		if err := store.DeleteException(ctx, program.ID, rule.ID, key); err != nil {
			t.Fatalf("DeleteException failed: %v", err)
		}
		if err := store.DeleteException(ctx, program.ID, rule.ID, key); !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}

		orphan := newSkip(program, persistence.ScheduleRule{Rule: recurrence.Rule{ID: "missing-rule"}}, key)
		if _, err := store.UpsertException(ctx, orphan); !errors.Is(err, persistence.ErrForeignKeyViolation) {
			t.Fatalf("expected ErrForeignKeyViolation, got %v", err)
		}
	})
}

func TestRunInTxRollsBack(t *testing.T) {
	t.Parallel()

	forEachStore(t, func(t *testing.T, store persistence.Store) {
		ctx := context.Background()
		program := testfixtures.SeedProgram(t, store, testfixtures.NewProgram())
		failure := errors.New("abort")

		err := store.RunInTx(ctx, func(ctx context.Context) error {
			if _, err := store.UpsertOccurrence(ctx, testfixtures.NewOccurrence(program)); err != nil {
				return err
			}
			if err := store.UpsertRule(ctx, testfixtures.NewRule(program)); err != nil {
				return err
			}
			return failure
		})
		if !errors.Is(err, failure) {
			t.Fatalf("expected the callback error, got %v", err)
		}

		count, err := store.CountOccurrences(ctx, program.ID)
		if err != nil {
			t.Fatalf("CountOccurrences failed: %v", err)
		}
		rules, err := store.ListRules(ctx, program.ID)
		if err != nil {
			t.Fatalf("ListRules failed: %v", err)
		}
		if count != 0 || len(rules) != 0 {
			t.Fatalf("expected rollback, found %d occurrences and %d rules", count, len(rules))
		}
	})
}

func TestLegacyBlockRepository(t *testing.T) {
	t.Parallel()

	forEachStore(t, func(t *testing.T, store persistence.Store) {
		ctx := context.Background()
		program := testfixtures.SeedProgram(t, store, testfixtures.NewProgram())
		second := testfixtures.NewLegacyBlock(program, testfixtures.WithLegacyPosition(2))
		first := testfixtures.NewLegacyBlock(program,
			testfixtures.WithLegacyPosition(1),
			testfixtures.WithLegacyKind(persistence.LegacyMeetingPattern),
			testfixtures.WithLegacyDates("2024-03-01", "2024-04-30"),
		)
		first.Weekdays = []time.Weekday{time.Tuesday, time.Thursday}
		for _, b := range []persistence.LegacyScheduleBlock{second, first} {
			if err := store.ImportLegacyBlock(ctx, b); err != nil {
				t.Fatalf("ImportLegacyBlock failed: %v", err)
			}
		}
		if err := store.ImportLegacyBlock(ctx, first); !errors.Is(err, persistence.ErrDuplicate) {
			t.Fatalf("expected ErrDuplicate, got %v", err)
		}

		blocks, err := store.ListLegacyBlocks(ctx, program.ID)
		if err != nil {
			t.Fatalf("ListLegacyBlocks failed: %v", err)
		}
		if len(blocks) != 2 || blocks[0].ID != first.ID || blocks[1].ID != second.ID {
			t.Fatalf("unexpected block order: %#v", blocks)
		}
		if blocks[0].EndDate != first.EndDate || len(blocks[0].Weekdays) != 2 {
			t.Fatalf("block fields not preserved: %#v", blocks[0])
		}
	})
}

func newSkip(program persistence.Program, rule persistence.ScheduleRule, key string) persistence.ScheduleException {
	now := testfixtures.ReferenceTime()
	return persistence.ScheduleException{
		ID:             "exception-" + rule.ID,
		OrganizationID: program.OrganizationID,
		ProgramID:      program.ID,
		RuleID:         rule.ID,
		SourceKey:      key,
		Kind:           persistence.ExceptionSkip,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func assertOccurrenceIDs(t *testing.T, got []persistence.Occurrence, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %d occurrences, got %d", len(want), len(got))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, got[i].ID)
		}
	}
}
