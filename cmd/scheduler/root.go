package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/example/program-scheduler/internal/config"
	"github.com/example/program-scheduler/internal/logging"
)

// app holds what every subcommand shares once configuration is resolved.
type app struct {
	loadConfig func() (config.Config, error)
	cfg        config.Config
	logger     *slog.Logger
	closer     io.Closer
}

func newRootCommand(loadConfig func() (config.Config, error)) *cobra.Command {
	a := &app{loadConfig: loadConfig}

	cmd := &cobra.Command{
		Use:           "scheduler",
		Short:         "Program schedule engine",
		Long:          "Serves the program schedule API, applies database migrations and previews recurrence rules.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runServe(cmd)
		},
	}

	cmd.AddCommand(newServeCommand(a))
	cmd.AddCommand(newMigrateCommand(a))
	cmd.AddCommand(newPreviewCommand(a))

	return cmd
}

// init loads configuration and builds the root logger writing to sink.
func (a *app) init(sink io.Writer) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logger, closer, err := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
		Stdout: sink,
	})
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	a.cfg, a.logger, a.closer = cfg, logger, closer
	return nil
}

func (a *app) close() {
	if a.closer == nil {
		return
	}
	if err := a.closer.Close(); err != nil {
		a.logger.Error("failed to close log file", "error", err)
	}
}
