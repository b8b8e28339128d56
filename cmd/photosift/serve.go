package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/photosift/photosift/internal/api"
	"github.com/photosift/photosift/internal/notify"
	"github.com/photosift/photosift/internal/queue"
	"github.com/photosift/photosift/internal/schedule"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long:  "Serves the job, search and upload API, runs queued jobs in the background and, when configured, scans the watch folder on a cron schedule.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}
}

func runServe(ctx context.Context, opts *globalOptions) error {
	a, err := newApp(ctx, opts, os.Stdout)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg, logger := a.cfg, a.logger

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		return fmt.Errorf("upload dir: %w", err)
	}

	notifier := notify.New(notify.WithAllowPrivate(cfg.CallbackAllowPrivate), notify.WithLogger(logger))
	q := queue.New(cfg.QueueSize, cfg.JobConcurrency, a.registry, a.scheduler,
		queue.WithNotifier(notifier), queue.WithLogger(logger))
	if err := q.Recovery(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(runCtx)

	var watcher *schedule.Runner
	if cfg.Watch.Folder != "" {
		watcher, err = schedule.New(cfg.Watch, q, a.registry, logger)
		if err != nil {
			return err
		}
		watcher.Start()
	}

	mux := http.NewServeMux()
	h := api.NewHandler(api.Deps{
		Registry:  a.registry,
		Queue:     q,
		Processor: a.scheduler,
		Searcher:  a.searcher,
		Index:     a.index,
		Cache:     a.checker,
		UploadDir: cfg.UploadDir,
		Logger:    logger,
	})
	h.RegisterRoutes(mux)

	handler := api.Chain(mux,
		api.CORS(cfg.CORSOrigins),
		api.RequestID,
		api.Logging(logger),
		api.Auth(cfg.APIKeys),
		api.RateLimit(cfg.RateLimit),
	)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("photosift listening", "addr", cfg.ListenAddr, "version", Version)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if watcher != nil {
		<-watcher.Stop().Done()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	cancel()
	q.Wait()
	notifier.Wait()
	return nil
}
