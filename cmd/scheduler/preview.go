package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/example/program-scheduler/internal/application"
	"github.com/example/program-scheduler/internal/locking"
	"github.com/example/program-scheduler/internal/persistence/memory"
	"github.com/example/program-scheduler/internal/recurrence"
)

var previewFormats = []string{"json", "text"}

func newPreviewCommand(a *app) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "preview [rule.json]",
		Short: "Expand a rule without saving it",
		Long: `Reads a rule definition as JSON from the given file, or from stdin when the
argument is omitted or "-", and prints the occurrences it would generate.`,
		Args: cobra.MaximumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range previewFormats {
				if f == format {
					return nil
				}
			}
			return fmt.Errorf("invalid format %q: must be one of %v", format, previewFormats)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.init(cmd.ErrOrStderr()); err != nil {
				return err
			}
			defer a.close()

			input, err := readRuleInput(cmd, args)
			if err != nil {
				return err
			}

			service := application.NewScheduleServiceWithLogger(memory.Open(), locking.NewLocal(), uuid.NewString, time.Now, a.logger)
			occurrences, err := service.PreviewRule(cmd.Context(), input)
			if err != nil {
				var vErr *application.ValidationError
				if errors.As(err, &vErr) {
					writeFieldErrors(cmd.ErrOrStderr(), vErr)
				}
				return err
			}

			if format == "text" {
				return writeOccurrenceTable(cmd.OutOrStdout(), occurrences)
			}
			if occurrences == nil {
				occurrences = []recurrence.GeneratedOccurrence{}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(occurrences)
		},
	}

	cmd.Flags().StringVar(&format, "format", "json", "output format (json|text)")
	return cmd
}

func readRuleInput(cmd *cobra.Command, args []string) (application.RuleInput, error) {
	var r io.Reader = cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return application.RuleInput{}, fmt.Errorf("open rule file: %w", err)
		}
		defer f.Close()
		r = f
	}

	var input application.RuleInput
	if err := json.NewDecoder(r).Decode(&input); err != nil {
		return application.RuleInput{}, fmt.Errorf("decode rule: %w", err)
	}
	return input, nil
}

func writeFieldErrors(w io.Writer, vErr *application.ValidationError) {
	fields := make([]string, 0, len(vErr.FieldErrors))
	for field := range vErr.FieldErrors {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		fmt.Fprintf(w, "  %s: %s\n", field, vErr.FieldErrors[field])
	}
}

func writeOccurrenceTable(w io.Writer, occurrences []recurrence.GeneratedOccurrence) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE KEY\tLOCAL DATE\tSTARTS (UTC)\tENDS (UTC)")
	for _, o := range occurrences {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", o.SourceKey, o.LocalDate, o.StartsAt.UTC().Format(time.RFC3339), o.EndsAt.UTC().Format(time.RFC3339))
	}
	return tw.Flush()
}
