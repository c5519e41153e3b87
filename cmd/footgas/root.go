package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/halworsen/footgas/internal/config"
	"github.com/halworsen/footgas/internal/db"
	"github.com/halworsen/footgas/internal/logging"
)

type commandContext struct {
	configFlag   *string
	logLevelFlag *string

	configOnce sync.Once
	config     *config.EnvConfig
	configErr  error
}

func newCommandContext(configFlag, logLevelFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag, logLevelFlag: logLevelFlag}
}

// ensureConfig loads the configuration once. An explicit --config flag
// takes the place of FOOTGAS_CONFIG.
func (c *commandContext) ensureConfig() (*config.EnvConfig, error) {
	c.configOnce.Do(func() {
		if c.configFlag != nil && strings.TrimSpace(*c.configFlag) != "" {
			if err := os.Setenv(config.EnvConfigFile, strings.TrimSpace(*c.configFlag)); err != nil {
				c.configErr = err
				return
			}
		}
		if c.logLevelFlag != nil && strings.TrimSpace(*c.logLevelFlag) != "" {
			if err := os.Setenv(config.EnvLogLevel, strings.TrimSpace(*c.logLevelFlag)); err != nil {
				c.configErr = err
				return
			}
		}
		cfg, err := config.New()
		if err != nil {
			c.configErr = fmt.Errorf("load config: %w", err)
			return
		}
		if err := os.MkdirAll(cfg.DataDir(), 0o755); err != nil {
			c.configErr = fmt.Errorf("create data dir: %w", err)
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// logger writes JSON logs to stderr so stdout stays free for command output.
func (c *commandContext) logger() *slog.Logger {
	level := config.DefaultLogLevel
	if c.config != nil {
		level = c.config.LogLevel()
	}
	return logging.NewLoggerTo(os.Stderr, level)
}

func (c *commandContext) openDB(logger *slog.Logger) (*db.DB, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return database, nil
}

func newRootCommand() *cobra.Command {
	var configFlag string
	var logLevelFlag string

	ctx := newCommandContext(&configFlag, &logLevelFlag)

	rootCmd := &cobra.Command{
		Use:           "footgas",
		Short:         "Export video clips that fit under a size limit",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newExportCommand(ctx))
	rootCmd.AddCommand(newJobsCommand(ctx))
	rootCmd.AddCommand(newDoctorCommand(ctx))
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "footgas %s (commit %s, built %s)\n",
				config.Version, config.GitCommit, config.BuildTime)
			return nil
		},
	}
}
