// Package queue hands submitted jobs to a fixed number of runner goroutines.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/photosift/photosift/internal/job"
)

// ErrFull is returned by Enqueue when no slot is free.
var ErrFull = errors.New("queue full")

// Runner executes one job to a terminal status.
type Runner interface {
	Run(ctx context.Context, id string)
}

// Notifier delivers a finished job to its callback URL.
type Notifier interface {
	Send(ctx context.Context, callbackURL string, payload any)
}

type Queue struct {
	ids         chan string
	concurrency int
	registry    *job.Registry
	runner      Runner
	notifier    Notifier
	logger      *slog.Logger
	wg          sync.WaitGroup
}

type Option func(*Queue)

func WithNotifier(n Notifier) Option {
	return func(q *Queue) { q.notifier = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

// New creates a queue holding up to size pending ids served by concurrency runners.
func New(size, concurrency int, registry *job.Registry, runner Runner, opts ...Option) *Queue {
	q := &Queue{
		ids:         make(chan string, max(1, size)),
		concurrency: max(1, concurrency),
		registry:    registry,
		runner:      runner,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue adds a job id without blocking.
func (q *Queue) Enqueue(id string) error {
	select {
	case q.ids <- id:
		return nil
	default:
		return fmt.Errorf("%w: cannot enqueue job %s", ErrFull, id)
	}
}

// Submit registers req as a new job and enqueues it. A job that cannot be
// queued is finished with an error status before the error is returned.
func (q *Queue) Submit(req job.CreateRequest) (job.Job, error) {
	j, err := q.registry.Submit(req)
	if err != nil {
		return job.Job{}, err
	}
	if err := q.Enqueue(j.ID); err != nil {
		_, _ = q.registry.Update(j.ID, func(j *job.Job) {
			j.Status = job.StatusError
			j.Message = "queue full"
		})
		return job.Job{}, err
	}
	return j, nil
}

// Start launches the runners. They exit when ctx is done; Wait blocks until then.
func (q *Queue) Start(ctx context.Context) {
	for range q.concurrency {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			q.runWorker(ctx)
		}()
	}
}

// Wait blocks until every runner has returned.
func (q *Queue) Wait() {
	q.wg.Wait()
}

// Recovery marks jobs left unfinished by a previous process as failed and
// loads the stored history.
func (q *Queue) Recovery(ctx context.Context) error {
	if err := q.registry.Recover(ctx); err != nil {
		return fmt.Errorf("recover jobs: %w", err)
	}
	return nil
}

func (q *Queue) runWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-q.ids:
			q.processJob(ctx, id)
		}
	}
}

func (q *Queue) processJob(ctx context.Context, id string) {
	j, err := q.registry.Get(id)
	if err != nil {
		// Cleared while waiting.
		q.logger.Debug("queue: job gone", "job_id", id)
		return
	}
	if j.Status.IsTerminal() {
		q.logger.Debug("queue: job already finished", "job_id", id, "status", j.Status)
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := q.registry.Attach(id, cancel); err != nil {
		q.logger.Debug("queue: attach", "job_id", id, "error", err)
		return
	}

	q.runner.Run(jobCtx, id)
	q.finalize(ctx, id)
}

// finalize sends the terminal snapshot to the job's callback URL.
func (q *Queue) finalize(ctx context.Context, id string) {
	j, err := q.registry.Get(id)
	if err != nil || j.CallbackURL == "" || q.notifier == nil {
		return
	}
	// ctx is the queue's context: retries survive job cancellation and stop on shutdown.
	q.notifier.Send(ctx, j.CallbackURL, j)
}
