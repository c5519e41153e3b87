package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/halworsen/footgas/internal/api"
	"github.com/halworsen/footgas/internal/config"
	"github.com/halworsen/footgas/internal/db"
	"github.com/halworsen/footgas/internal/export"
	"github.com/halworsen/footgas/internal/ffmpeg"
	"github.com/halworsen/footgas/internal/jobs"
	"github.com/halworsen/footgas/internal/logging"
	"github.com/halworsen/footgas/internal/notify"
	"github.com/halworsen/footgas/internal/playback"
	"github.com/halworsen/footgas/internal/ui"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var headless bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the export agent with its local HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, ctx.logger(), headless || cfg.Headless(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&headless, "headless", false, "Do not show the system tray")
	return cmd
}

func runServe(parent context.Context, cfg *config.EnvConfig, logger *slog.Logger, headless bool, out io.Writer) error {
	startTime := time.Now()
	if parent == nil {
		parent = context.Background()
	}

	lock := flock.New(cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another footgas agent is already running (lock %s)", cfg.LockPath())
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("failed to release agent lock", "error", err)
		}
	}()

	logger.Info("starting footgas agent", "version", config.Version, "data_dir", cfg.DataDir())

	toolRunner := ffmpeg.NewRunner(logger)
	exporter, err := newExporter(cfg, toolRunner, logger)
	if err != nil {
		return fmt.Errorf("export tools: %w", err)
	}

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	repo := jobs.NewRepository(database.Conn())

	authToken, err := ensureAuthToken(repo)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}
	printBanner(out, cfg.Port(), authToken)

	doctor := ffmpeg.NewDoctor(toolRunner, cfg.FFmpegPath(), cfg.FFprobePath(), logger)
	doctor.Refresh(parent)

	service := jobs.NewService(repo, logging.WithComponent(logger, "jobs"))
	broker := jobs.NewBroker()

	var notifier jobs.Notifier
	if cfg.WebhookURL() != "" {
		notifier = notify.NewWebhookClient(cfg.WebhookURL(), cfg.WebhookToken(), cfg.WebhookTimeout(), logger)
		logger.Info("completion webhook enabled", "url", cfg.WebhookURL())
	}

	runner := jobs.NewRunner(service, repo, exporter, broker, notifier, logging.WithComponent(logger, "runner"))

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	go runner.Start(ctx)

	apiServer := api.NewServer(api.ServerConfig{
		Port:      cfg.Port(),
		Service:   service,
		Config:    repo,
		Runner:    runner,
		Progress:  broker,
		Doctor:    doctor,
		Playback:  playback.NewServer(logger),
		Defaults:  cfg.ExportDefaults(),
		Logger:    logging.WithComponent(logger, "api"),
		StartTime: startTime,
		Version:   config.Version,
	})

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- apiServer.Start()
	}()

	sigCtx, stopSignals := signalContext(ctx)
	defer stopSignals()

	if headless {
		logger.Info("running in headless mode (no system tray)")
	} else {
		tray := ui.NewTray(ui.TrayConfig{
			Service: service,
			Runner:  runner,
			Logger:  logger,
			OnOpenAPI: func() {
				printBanner(out, cfg.Port(), authToken)
			},
			OnQuit: func() {
				stopSignals()
			},
		})
		go tray.Run()
	}

	select {
	case <-sigCtx.Done():
		logger.Info("shutdown requested")
	case err := <-serverErr:
		if err != nil {
			logger.Error("HTTP server error", "error", err)
			return fmt.Errorf("http server: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func newExporter(cfg config.Config, runner ffmpeg.Runner, logger *slog.Logger) (*export.Exporter, error) {
	tools, err := ffmpeg.ResolveOptionalProbe(cfg.FFmpegPath(), cfg.FFprobePath(), cfg.DurationSource() == export.DurationProbe)
	if err != nil {
		return nil, err
	}
	return export.New(export.Config{
		Tools:          tools,
		Runner:         runner,
		WorkDir:        cfg.WorkDir(),
		MaxPasses:      cfg.MaxPasses(),
		DurationSource: cfg.DurationSource(),
		Logger:         logger,
	})
}

func ensureAuthToken(repo jobs.Repository) (string, error) {
	ctx := context.Background()

	existing, err := repo.GetConfig(ctx, api.AuthTokenKey)
	if err == nil && existing != "" {
		return existing, nil
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(tokenBytes)

	if err := repo.SetConfig(ctx, api.AuthTokenKey, token); err != nil {
		return "", err
	}

	return token, nil
}

func printBanner(out io.Writer, port int, token string) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, "╔═══════════════════════════════════════════════════════════════════════════════╗")
	fmt.Fprintf(out, "║  FOOTGAS %-68s ║\n", config.Version)
	fmt.Fprintln(out, "╠═══════════════════════════════════════════════════════════════════════════════╣")
	fmt.Fprintf(out, "║  API URL:    http://127.0.0.1:%-47d ║\n", port)
	fmt.Fprintf(out, "║  Auth Token: %-64s ║\n", token)
	fmt.Fprintln(out, "╚═══════════════════════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(out)
}
