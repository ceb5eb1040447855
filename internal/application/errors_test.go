package application

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/example/program-scheduler/internal/persistence"
)

func TestValidationError_Error(t *testing.T) {
	t.Parallel()

	var err *ValidationError
	if err.Error() != "" {
		t.Fatalf("expected empty string for nil error, got %q", err.Error())
	}

	empty := &ValidationError{}
	if got := empty.Error(); got != "validation failed" {
		t.Fatalf("expected generic message for empty error, got %q", got)
	}

	withFields := &ValidationError{FieldErrors: map[string]string{"timezone": "bad", "end_date": "bad"}}
	if got := withFields.Error(); got != "validation failed: end_date, timezone" {
		t.Fatalf("expected sorted field summary, got %q", got)
	}
}

func TestValidationError_HasErrors(t *testing.T) {
	t.Parallel()

	var nilErr *ValidationError
	if nilErr.HasErrors() {
		t.Fatalf("expected HasErrors to report false for nil error")
	}
	if (&ValidationError{}).HasErrors() {
		t.Fatalf("expected HasErrors to report false for empty error")
	}
	if !invalidField("mode", "is required").HasErrors() {
		t.Fatalf("expected HasErrors to report true when fields are present")
	}
}

func TestValidationError_AddAndMerge(t *testing.T) {
	t.Parallel()

	base := &ValidationError{}
	base.add("first", "value")
	base.add("first", "ignored")
	if got := base.FieldErrors["first"]; got != "value" {
		t.Fatalf("expected first message to win, got %q", got)
	}

	other := &ValidationError{FieldErrors: map[string]string{"second": "another"}}
	base.merge(other)
	if got := base.FieldErrors["second"]; got != "another" {
		t.Fatalf("expected merge to copy field, got %q", got)
	}

	base.merge(nil)
	if len(base.FieldErrors) != 2 {
		t.Fatalf("expected merge with nil to leave fields unchanged")
	}
}

func TestBoundaryError(t *testing.T) {
	t.Parallel()

	vErr := invalidField("timezone", "is required")
	cases := []struct {
		name string
		in   error
		want error
	}{
		{name: "nil", in: nil, want: nil},
		{name: "validation passes through", in: fmt.Errorf("wrapped: %w", vErr), want: vErr},
		{name: "store not found", in: fmt.Errorf("get rule: %w", persistence.ErrNotFound), want: ErrNotFound},
		{name: "application not found", in: ErrNotFound, want: ErrNotFound},
		{name: "conflict", in: ErrConflict, want: ErrConflict},
		{name: "canceled", in: fmt.Errorf("lock: %w", context.Canceled), want: context.Canceled},
		{name: "deadline", in: context.DeadlineExceeded, want: context.DeadlineExceeded},
		{name: "constraint", in: persistence.ErrConstraintViolation, want: ErrUnavailable},
		{name: "opaque", in: errors.New("disk I/O error"), want: ErrUnavailable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := boundaryError(tc.in)
			if tc.want == nil {
				if got != nil {
					t.Fatalf("expected nil, got %v", got)
				}
				return
			}
			if !errors.Is(got, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestBoundaryErrorHidesStorageCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("database is locked")
	got := boundaryError(fmt.Errorf("upsert occurrence: %w", cause))
	if errors.Is(got, cause) {
		t.Fatalf("expected storage cause to be hidden, got %v", got)
	}
}
