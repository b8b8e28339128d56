// Package schedule submits periodic processing jobs for a watched folder.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/photosift/photosift/internal/config"
	"github.com/photosift/photosift/internal/job"
)

// parser accepts standard 5-field expressions (minute, hour, dom, month, dow).
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Submitter creates and enqueues a job.
type Submitter interface {
	Submit(req job.CreateRequest) (job.Job, error)
}

// Runner fires a job for the watched folder on every tick, unless the job it
// fired last is still running.
type Runner struct {
	folder    string
	submitter Submitter
	registry  *job.Registry
	cron      *cron.Cron
	logger    *slog.Logger

	mu     sync.Mutex
	lastID string
}

// Validate reports whether expr is a usable 5-field cron expression.
func Validate(expr string) error {
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return nil
}

func New(cfg config.WatchConfig, submitter Submitter, registry *job.Registry, logger *slog.Logger) (*Runner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		folder:    cfg.Folder,
		submitter: submitter,
		registry:  registry,
		logger:    logger.With("component", "schedule"),
	}
	r.cron = cron.New(cron.WithParser(parser), cron.WithLogger(cronLogger{r.logger}))
	if _, err := r.cron.AddFunc(cfg.Schedule, func() { r.Tick() }); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", cfg.Schedule, err)
	}
	return r, nil
}

func (r *Runner) Start() {
	r.logger.Info("watching folder", "folder", r.folder, "next", r.cron.Entries()[0].Schedule.Next(time.Now()))
	r.cron.Start()
}

// Stop halts the schedule. The returned context is done once a running tick returns.
func (r *Runner) Stop() context.Context {
	return r.cron.Stop()
}

// Tick submits a job for the watched folder and returns its id. It returns ""
// when the previously submitted job has not finished yet or submission fails.
func (r *Runner) Tick() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lastID != "" {
		prev, err := r.registry.Get(r.lastID)
		if err == nil && !prev.Status.IsTerminal() {
			r.logger.Info("previous scan still running, skipping tick", "job_id", r.lastID, "status", prev.Status)
			return ""
		}
	}

	j, err := r.submitter.Submit(job.CreateRequest{FolderPath: r.folder})
	if err != nil {
		r.logger.Warn("scheduled submit failed", "folder", r.folder, "error", err)
		return ""
	}
	r.lastID = j.ID
	r.logger.Info("scheduled scan submitted", "job_id", j.ID, "folder", r.folder)
	return j.ID
}

// cronLogger routes cron's internal logging through slog.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
