package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/photosift/photosift/internal/config"
	"github.com/photosift/photosift/internal/embed"
	"github.com/photosift/photosift/internal/index"
	"github.com/photosift/photosift/internal/job"
	"github.com/photosift/photosift/internal/pipeline"
	"github.com/photosift/photosift/internal/quality"
	"github.com/photosift/photosift/internal/search"
	"github.com/photosift/photosift/internal/vector"
)

type globalOptions struct {
	configPath string
	logLevel   string
}

// app is the wired set of components shared by every subcommand.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	jobs      *job.SQLiteStore
	index     *vector.SQLiteStore
	registry  *job.Registry
	checker   *quality.Checker
	searcher  *search.Engine
	scheduler *pipeline.Scheduler
}

func newApp(ctx context.Context, opts *globalOptions, logOut io.Writer) (*app, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.configPath != "" {
		cfg, err = config.LoadFile(opts.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	level, err := parseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	a := &app{cfg: cfg, logger: logger}
	if a.jobs, err = job.NewSQLiteStore(cfg.DBPath); err != nil {
		return nil, fmt.Errorf("job store: %w", err)
	}
	if a.index, err = vector.NewSQLiteStore(cfg.DBPath, cfg.Collection); err != nil {
		a.jobs.Close()
		return nil, fmt.Errorf("vector store: %w", err)
	}

	provider, err := embed.New(ctx, cfg.Embedding, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("embedding provider: %w", err)
	}
	if !provider.Available() {
		logger.Warn("no embedding provider configured, indexing and search disabled")
	}

	a.registry = job.NewRegistry(job.WithStore(a.jobs), job.WithLogger(logger))
	a.checker = quality.NewChecker(cfg.Quality, quality.WithLogger(logger))
	a.searcher = search.New(provider, a.index, logger)
	a.scheduler = pipeline.NewScheduler(cfg.Batch, a.checker, index.New(provider, a.index, logger), a.registry, logger)
	return a, nil
}

func (a *app) Close() error {
	return errors.Join(a.index.Close(), a.jobs.Close())
}

// clearAll drops job history, cached decodes, the index and uploaded files.
func (a *app) clearAll(ctx context.Context) error {
	var errs []error
	if err := a.registry.Clear(ctx); err != nil {
		errs = append(errs, err)
	}
	a.checker.ClearCache()
	if err := a.index.Clear(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := os.RemoveAll(a.cfg.UploadDir); err != nil {
		errs = append(errs, err)
	} else if err := os.MkdirAll(a.cfg.UploadDir, 0o755); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return l, nil
}
