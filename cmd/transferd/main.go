package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/flock"
	"github.com/qayeq/transferd/internal/backend/httprange"
	"github.com/qayeq/transferd/internal/cleanup"
	"github.com/qayeq/transferd/internal/config"
	"github.com/qayeq/transferd/internal/history"
	"github.com/qayeq/transferd/internal/http/rest"
	"github.com/qayeq/transferd/internal/logctx"
	"github.com/qayeq/transferd/internal/notifier"
	"github.com/qayeq/transferd/internal/registry"
	"github.com/qayeq/transferd/internal/storage"
	"github.com/qayeq/transferd/internal/storage/sqlite"
	"github.com/qayeq/transferd/internal/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

const serviceName = "transferd"

var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(logctx.NewTraceHandler(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("transferd starting...", "version", version, "log_level", cfg.LogLevel)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Single Instance Lock
	lock := flock.New(filepath.Join(cfg.DataDir, "transferd.lock"))

	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("instance lock error: %w", err)
	}

	if !locked {
		return errors.New("another transferd instance is already running")
	}
	defer lock.Unlock()

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    serviceName,
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(filepath.Join(cfg.DataDir, cfg.DBPath))
	if err != nil {
		return fmt.Errorf("DB error: %w", err)
	}
	defer database.Close()

	var journal storage.TransferJournal = sqlite.NewInstrumentedJournalRepository(database, tel)

	// =========================================================================
	// Start Transfer Registry
	reg := registry.New(logger)
	fetcher := httprange.NewFetcher(reg, nil)

	recorder := history.NewRecorder(reg, journal, tel)
	defer recorder.Close()

	recorder.Watch(ctx)
	setupNotifications(ctx, recorder, cfg)

	// =========================================================================
	// Start API Service
	server := setupServer(ctx, reg, fetcher, journal, tel, cfg)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("start shutdown")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return nil
	})

	// =========================================================================
	// Start Cleanup
	group.Go(func() error {
		runCleanup(groupCtx, journal, cfg)

		return nil
	})

	logger.Info("waiting for transfers...",
		"downloads_dir", cfg.DownloadsDir,
		"retention", cfg.KeepHistoryFor.String(),
		"session_id", recorder.SessionID(),
	)

	return group.Wait()
}

// setupNotifications drains the recorder's terminal-transfer channels and
// forwards them to the configured webhook. Without a webhook we still have
// to drain the channels so the recorder never blocks.
func setupNotifications(ctx context.Context, recorder *history.Recorder, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)

	var notif notifier.Notifier
	if cfg.DiscordWebhookURL != "" {
		notif = &notifier.DiscordNotifier{WebhookURL: cfg.DiscordWebhookURL}
	}

	go func() {
		for t := range recorder.OnCompleted {
			logger.Info("transfer finished", "transfer_id", t.ID, "filename", t.Filename)

			if notif == nil {
				continue
			}

			if notifyErr := notif.Notify(notifier.CompletedMessage(t)); notifyErr != nil {
				logger.Error("failed to send notification", "transfer_id", t.ID, "err", notifyErr)
			}
		}
	}()

	go func() {
		for t := range recorder.OnFailed {
			logger.Error("transfer failed", "transfer_id", t.ID, "filename", t.Filename, "reason", t.Error)

			if notif == nil {
				continue
			}

			if notifyErr := notif.Notify(notifier.FailedMessage(t)); notifyErr != nil {
				logger.Error("failed to send notification", "transfer_id", t.ID, "err", notifyErr)
			}
		}
	}()
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(
	ctx context.Context,
	reg *registry.Registry,
	fetcher *httprange.Fetcher,
	journal storage.TransferJournal,
	tel *telemetry.Telemetry,
	cfg *config.Config,
) *http.Server {
	tHandler := rest.NewTransferHandler(ctx, reg, fetcher, journal, cfg.DownloadsDir)

	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)

	r.Mount("/", tHandler.Routes())
	r.Method(http.MethodGet, "/metrics", tel.Handler())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      otelhttp.NewHandler(r, "transferd_api"),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

func runCleanup(ctx context.Context, journal storage.TransferJournal, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)

	ticker := time.NewTicker(cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("cleanup goroutine shutting down.")

			return
		case <-ticker.C:
			pruned, err := journal.PruneOlderThan(ctx, time.Now().Add(-cfg.KeepHistoryFor))
			if err != nil {
				logger.Error("failed to prune transfer history", "err", err)
			} else if pruned > 0 {
				logger.Info("pruned transfer history", "records", pruned)
			}

			if err := cleanup.RemoveStaleParts(ctx, cfg.DownloadsDir, cfg.KeepHistoryFor); err != nil {
				logger.Error("failed to remove stale partial files", "err", err)
			}
		}
	}
}
