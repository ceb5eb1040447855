// Package memory implements persistence.Store on in-process maps. Every call
// is serialized; RunInTx snapshots the maps and restores them when fn fails.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/example/program-scheduler/internal/persistence"
	"github.com/example/program-scheduler/internal/recurrence"
)

type txKey struct{}

type state struct {
	programs       map[string]persistence.Program
	rules          map[string]persistence.ScheduleRule
	occurrences    map[string]persistence.Occurrence
	occurrenceKeys map[string]string
	exceptions     map[string]persistence.ScheduleException
	legacy         map[string][]persistence.LegacyScheduleBlock
}

// Storage provides an in-memory persistence layer.
type Storage struct {
	mu sync.Mutex
	st state
}

var _ persistence.Store = (*Storage)(nil)

// Open returns an empty Storage.
func Open() *Storage {
	return &Storage{st: newState()}
}

func newState() state {
	return state{
		programs:       make(map[string]persistence.Program),
		rules:          make(map[string]persistence.ScheduleRule),
		occurrences:    make(map[string]persistence.Occurrence),
		occurrenceKeys: make(map[string]string),
		exceptions:     make(map[string]persistence.ScheduleException),
		legacy:         make(map[string][]persistence.LegacyScheduleBlock),
	}
}

// Close releases resources held by the storage. No-op for the in-memory implementation.
func (s *Storage) Close() error {
	return nil
}

// lock acquires the storage mutex unless ctx already belongs to a
// transaction on s, in which case the mutex is already held.
func (s *Storage) lock(ctx context.Context) func() {
	if owner, _ := ctx.Value(txKey{}).(*Storage); owner == s {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// RunInTx runs fn with exclusive access to the store. Nested calls join the
// outer transaction.
func (s *Storage) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if owner, _ := ctx.Value(txKey{}).(*Storage); owner == s {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

func (st state) clone() state {
	out := state{
		programs:       maps.Clone(st.programs),
		rules:          maps.Clone(st.rules),
		occurrences:    maps.Clone(st.occurrences),
		occurrenceKeys: maps.Clone(st.occurrenceKeys),
		exceptions:     maps.Clone(st.exceptions),
		legacy:         make(map[string][]persistence.LegacyScheduleBlock, len(st.legacy)),
	}
	for id, blocks := range st.legacy {
		out.legacy[id] = slices.Clone(blocks)
	}
	return out
}

// --- ProgramRepository implementation ---

// CreateProgram stores a new program.
func (s *Storage) CreateProgram(ctx context.Context, program persistence.Program) error {
	defer s.lock(ctx)()

	if strings.TrimSpace(program.ID) == "" {
		return fmt.Errorf("memory: program id is required: %w", persistence.ErrConstraintViolation)
	}
	if _, ok := s.st.programs[program.ID]; ok {
		return fmt.Errorf("memory: program %s: %w", program.ID, persistence.ErrDuplicate)
	}
	if program.ScheduleVersion == "" {
		program.ScheduleVersion = persistence.ScheduleVersionLegacy
	}
	s.st.programs[program.ID] = program
	return nil
}

// GetProgram returns the program only when it belongs to organizationID.
func (s *Storage) GetProgram(ctx context.Context, organizationID, programID string) (persistence.Program, error) {
	defer s.lock(ctx)()

	program, ok := s.st.programs[programID]
	if !ok || program.OrganizationID != organizationID {
		return persistence.Program{}, persistence.ErrNotFound
	}
	return program, nil
}

// SetScheduleVersion moves a program between schedule representations.
func (s *Storage) SetScheduleVersion(ctx context.Context, programID string, version persistence.ScheduleVersion) error {
	defer s.lock(ctx)()

	program, ok := s.st.programs[programID]
	if !ok {
		return persistence.ErrNotFound
	}
	if !program.ScheduleVersion.CanTransitionTo(version) {
		return fmt.Errorf("memory: %s to %s: %w", program.ScheduleVersion, version, persistence.ErrInvalidTransition)
	}
	if program.ScheduleVersion != version {
		program.ScheduleVersion = version
		program.UpdatedAt = time.Now().UTC()
		s.st.programs[programID] = program
	}
	return nil
}

// --- RuleRepository implementation ---

// UpsertRule inserts a rule or replaces the stored one with the same id.
func (s *Storage) UpsertRule(ctx context.Context, rule persistence.ScheduleRule) error {
	defer s.lock(ctx)()

	if strings.TrimSpace(rule.ID) == "" {
		return fmt.Errorf("memory: rule id is required: %w", persistence.ErrConstraintViolation)
	}
	if _, ok := s.st.programs[rule.ProgramID]; !ok {
		return fmt.Errorf("memory: rule %s program %s: %w", rule.ID, rule.ProgramID, persistence.ErrForeignKeyViolation)
	}
	if existing, ok := s.st.rules[rule.ID]; ok {
		if existing.ProgramID != rule.ProgramID {
			return fmt.Errorf("memory: rule %s belongs to another program: %w", rule.ID, persistence.ErrDuplicate)
		}
		rule.CreatedAt = existing.CreatedAt
	}
	s.st.rules[rule.ID] = cloneRule(rule)
	return nil
}

// GetRule retrieves a rule within a program.
func (s *Storage) GetRule(ctx context.Context, programID, ruleID string) (persistence.ScheduleRule, error) {
	defer s.lock(ctx)()

	rule, ok := s.st.rules[ruleID]
	if !ok || rule.ProgramID != programID {
		return persistence.ScheduleRule{}, persistence.ErrNotFound
	}
	return cloneRule(rule), nil
}

// ListRules returns a program's rules ordered by CreatedAt ascending.
func (s *Storage) ListRules(ctx context.Context, programID string) ([]persistence.ScheduleRule, error) {
	defer s.lock(ctx)()

	rules := make([]persistence.ScheduleRule, 0)
	for _, rule := range s.st.rules {
		if rule.ProgramID == programID {
			rules = append(rules, cloneRule(rule))
		}
	}
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].CreatedAt.Equal(rules[j].CreatedAt) {
			return rules[i].ID < rules[j].ID
		}
		return rules[i].CreatedAt.Before(rules[j].CreatedAt)
	})
	return rules, nil
}

// DeleteRule removes a rule by id together with its exceptions.
func (s *Storage) DeleteRule(ctx context.Context, programID, ruleID string) error {
	defer s.lock(ctx)()

	rule, ok := s.st.rules[ruleID]
	if !ok || rule.ProgramID != programID {
		return persistence.ErrNotFound
	}
	delete(s.st.rules, ruleID)
	for key, exception := range s.st.exceptions {
		if exception.RuleID == ruleID {
			delete(s.st.exceptions, key)
		}
	}
	return nil
}

// --- OccurrenceRepository implementation ---

func occurrenceKey(programID, sourceKey string) string {
	return programID + "\x00" + sourceKey
}

// UpsertOccurrence inserts by (ProgramID, SourceKey) or updates the row that
// already holds the key, keeping its id and CreatedAt.
func (s *Storage) UpsertOccurrence(ctx context.Context, occurrence persistence.Occurrence) (string, error) {
	defer s.lock(ctx)()

	if strings.TrimSpace(occurrence.SourceKey) == "" {
		return "", fmt.Errorf("memory: occurrence source key is required: %w", persistence.ErrConstraintViolation)
	}
	if _, ok := s.st.programs[occurrence.ProgramID]; !ok {
		return "", fmt.Errorf("memory: occurrence program %s: %w", occurrence.ProgramID, persistence.ErrForeignKeyViolation)
	}

	key := occurrenceKey(occurrence.ProgramID, occurrence.SourceKey)
	if id, ok := s.st.occurrenceKeys[key]; ok {
		existing := s.st.occurrences[id]
		occurrence.ID = existing.ID
		occurrence.CreatedAt = existing.CreatedAt
		s.st.occurrences[id] = cloneOccurrence(occurrence)
		return id, nil
	}

	if strings.TrimSpace(occurrence.ID) == "" {
		return "", fmt.Errorf("memory: occurrence id is required: %w", persistence.ErrConstraintViolation)
	}
	if _, ok := s.st.occurrences[occurrence.ID]; ok {
		return "", fmt.Errorf("memory: occurrence %s: %w", occurrence.ID, persistence.ErrDuplicate)
	}
	s.st.occurrences[occurrence.ID] = cloneOccurrence(occurrence)
	s.st.occurrenceKeys[key] = occurrence.ID
	return occurrence.ID, nil
}

// GetOccurrence retrieves an occurrence within a program.
func (s *Storage) GetOccurrence(ctx context.Context, programID, occurrenceID string) (persistence.Occurrence, error) {
	defer s.lock(ctx)()

	occurrence, ok := s.st.occurrences[occurrenceID]
	if !ok || occurrence.ProgramID != programID {
		return persistence.Occurrence{}, persistence.ErrNotFound
	}
	return cloneOccurrence(occurrence), nil
}

// GetOccurrenceBySourceKey retrieves an occurrence by its stable key.
func (s *Storage) GetOccurrenceBySourceKey(ctx context.Context, programID, sourceKey string) (persistence.Occurrence, error) {
	defer s.lock(ctx)()

	id, ok := s.st.occurrenceKeys[occurrenceKey(programID, sourceKey)]
	if !ok {
		return persistence.Occurrence{}, persistence.ErrNotFound
	}
	return cloneOccurrence(s.st.occurrences[id]), nil
}

// ListOccurrences returns matching occurrences ordered by start instant.
func (s *Storage) ListOccurrences(ctx context.Context, programID string, filter persistence.OccurrenceFilter) ([]persistence.Occurrence, error) {
	defer s.lock(ctx)()

	out := make([]persistence.Occurrence, 0)
	for _, occurrence := range s.st.occurrences {
		if occurrence.ProgramID != programID || !matchesOccurrenceFilter(occurrence, filter) {
			continue
		}
		out = append(out, cloneOccurrence(occurrence))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartsAt.Equal(out[j].StartsAt) {
			return out[i].SourceKey < out[j].SourceKey
		}
		return out[i].StartsAt.Before(out[j].StartsAt)
	})
	return out, nil
}

// CountOccurrences counts every occurrence of a program regardless of status.
func (s *Storage) CountOccurrences(ctx context.Context, programID string) (int, error) {
	defer s.lock(ctx)()

	count := 0
	for _, occurrence := range s.st.occurrences {
		if occurrence.ProgramID == programID {
			count++
		}
	}
	return count, nil
}

// SetOccurrenceStatus updates the status of each occurrence named by sourceKeys.
func (s *Storage) SetOccurrenceStatus(ctx context.Context, programID string, sourceKeys []string, status persistence.OccurrenceStatus) (int, error) {
	defer s.lock(ctx)()

	now := time.Now().UTC()
	updated := 0
	for _, key := range uniqueStrings(sourceKeys) {
		id, ok := s.st.occurrenceKeys[occurrenceKey(programID, key)]
		if !ok {
			continue
		}
		occurrence := s.st.occurrences[id]
		if occurrence.Status != status {
			occurrence.Status = status
			occurrence.UpdatedAt = now
			s.st.occurrences[id] = occurrence
		}
		updated++
	}
	return updated, nil
}

// --- ExceptionRepository implementation ---

func exceptionKey(programID, ruleID, sourceKey string) string {
	return programID + "\x00" + ruleID + "\x00" + sourceKey
}

// UpsertException inserts or replaces the exception for (ProgramID, RuleID, SourceKey).
func (s *Storage) UpsertException(ctx context.Context, exception persistence.ScheduleException) (string, error) {
	defer s.lock(ctx)()

	if _, ok := s.st.rules[exception.RuleID]; !ok {
		return "", fmt.Errorf("memory: exception rule %s: %w", exception.RuleID, persistence.ErrForeignKeyViolation)
	}
	key := exceptionKey(exception.ProgramID, exception.RuleID, exception.SourceKey)
	if existing, ok := s.st.exceptions[key]; ok {
		exception.ID = existing.ID
		exception.CreatedAt = existing.CreatedAt
	} else if strings.TrimSpace(exception.ID) == "" {
		return "", fmt.Errorf("memory: exception id is required: %w", persistence.ErrConstraintViolation)
	}
	s.st.exceptions[key] = cloneException(exception)
	return exception.ID, nil
}

// GetException retrieves the standing exception for a rule occurrence.
func (s *Storage) GetException(ctx context.Context, programID, ruleID, sourceKey string) (persistence.ScheduleException, error) {
	defer s.lock(ctx)()

	exception, ok := s.st.exceptions[exceptionKey(programID, ruleID, sourceKey)]
	if !ok {
		return persistence.ScheduleException{}, persistence.ErrNotFound
	}
	return cloneException(exception), nil
}

// ListExceptions returns a program's exceptions, limited to one rule when ruleID is set.
func (s *Storage) ListExceptions(ctx context.Context, programID, ruleID string) ([]persistence.ScheduleException, error) {
	defer s.lock(ctx)()

	out := make([]persistence.ScheduleException, 0)
	for _, exception := range s.st.exceptions {
		if exception.ProgramID != programID || (ruleID != "" && exception.RuleID != ruleID) {
			continue
		}
		out = append(out, cloneException(exception))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RuleID == out[j].RuleID {
			return out[i].SourceKey < out[j].SourceKey
		}
		return out[i].RuleID < out[j].RuleID
	})
	return out, nil
}

// DeleteException removes one exception.
func (s *Storage) DeleteException(ctx context.Context, programID, ruleID, sourceKey string) error {
	defer s.lock(ctx)()

	key := exceptionKey(programID, ruleID, sourceKey)
	if _, ok := s.st.exceptions[key]; !ok {
		return persistence.ErrNotFound
	}
	delete(s.st.exceptions, key)
	return nil
}

// DeleteExceptionsForRule removes every exception of a rule.
func (s *Storage) DeleteExceptionsForRule(ctx context.Context, programID, ruleID string) error {
	defer s.lock(ctx)()

	for key, exception := range s.st.exceptions {
		if exception.ProgramID == programID && exception.RuleID == ruleID {
			delete(s.st.exceptions, key)
		}
	}
	return nil
}

// --- LegacyBlockRepository implementation ---

// ImportLegacyBlock appends a legacy block to its program.
func (s *Storage) ImportLegacyBlock(ctx context.Context, block persistence.LegacyScheduleBlock) error {
	defer s.lock(ctx)()

	if _, ok := s.st.programs[block.ProgramID]; !ok {
		return fmt.Errorf("memory: legacy block program %s: %w", block.ProgramID, persistence.ErrForeignKeyViolation)
	}
	for _, existing := range s.st.legacy[block.ProgramID] {
		if existing.ID == block.ID {
			return fmt.Errorf("memory: legacy block %s: %w", block.ID, persistence.ErrDuplicate)
		}
	}
	block.Weekdays = slices.Clone(block.Weekdays)
	s.st.legacy[block.ProgramID] = append(s.st.legacy[block.ProgramID], block)
	return nil
}

// ListLegacyBlocks returns a program's legacy blocks ordered by Position.
func (s *Storage) ListLegacyBlocks(ctx context.Context, programID string) ([]persistence.LegacyScheduleBlock, error) {
	defer s.lock(ctx)()

	blocks := slices.Clone(s.st.legacy[programID])
	sort.SliceStable(blocks, func(i, j int) bool { return blocks[i].Position < blocks[j].Position })
	for i := range blocks {
		blocks[i].Weekdays = slices.Clone(blocks[i].Weekdays)
	}
	return blocks, nil
}

func matchesOccurrenceFilter(occurrence persistence.Occurrence, filter persistence.OccurrenceFilter) bool {
	if !filter.IncludeCancelled && occurrence.Status != persistence.StatusScheduled {
		return false
	}
	if filter.RuleID != "" && (occurrence.SourceRuleID == nil || *occurrence.SourceRuleID != filter.RuleID) {
		return false
	}
	if len(filter.SourceTypes) > 0 && !slices.Contains(filter.SourceTypes, occurrence.SourceType) {
		return false
	}
	return true
}

func cloneRule(rule persistence.ScheduleRule) persistence.ScheduleRule {
	rule.ByWeekday = slices.Clone(rule.ByWeekday)
	rule.ByMonthday = slices.Clone(rule.ByMonthday)
	rule.StartTime = cloneLocalTime(rule.StartTime)
	rule.EndTime = cloneLocalTime(rule.EndTime)
	rule.ProgramNodeID = cloneString(rule.ProgramNodeID)
	return rule
}

func cloneOccurrence(occurrence persistence.Occurrence) persistence.Occurrence {
	occurrence.ProgramNodeID = cloneString(occurrence.ProgramNodeID)
	occurrence.SourceRuleID = cloneString(occurrence.SourceRuleID)
	occurrence.LocalStartTime = cloneLocalTime(occurrence.LocalStartTime)
	occurrence.LocalEndTime = cloneLocalTime(occurrence.LocalEndTime)
	occurrence.Metadata = maps.Clone(occurrence.Metadata)
	return occurrence
}

func cloneException(exception persistence.ScheduleException) persistence.ScheduleException {
	exception.OverrideOccurrenceID = cloneString(exception.OverrideOccurrenceID)
	if exception.Payload != nil {
		payload := *exception.Payload
		payload.LocalStartTime = cloneLocalTime(payload.LocalStartTime)
		payload.LocalEndTime = cloneLocalTime(payload.LocalEndTime)
		payload.ProgramNodeID = cloneString(payload.ProgramNodeID)
		exception.Payload = &payload
	}
	return exception
}

func cloneString(value *string) *string {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}

func cloneLocalTime(value *recurrence.LocalTime) *recurrence.LocalTime {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
