package job

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/photosift/photosift/internal/common"
)

// MessageCancelled is the terminal message of a job stopped through Cancel.
const MessageCancelled = "job cancelled"

// Event is pushed to subscribers whenever a job changes.
type Event struct {
	Event string // "status" or "result"
	Data  string // JSON snapshot of the job
}

// Registry owns every job known to the process. Reads return copies taken from
// an atomically published snapshot; writes to one job are serialized by that
// job's own lock.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry

	subMu sync.RWMutex
	subs  map[string][]chan Event

	store  Store
	logger *slog.Logger
	now    func() time.Time
}

type entry struct {
	mu     sync.Mutex
	snap   atomic.Pointer[Job]
	cancel context.CancelFunc
}

// Option configures a Registry.
type Option func(*Registry)

// WithStore mirrors every change into s.
func WithStore(s Store) Option {
	return func(r *Registry) { r.store = s }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[string]*entry),
		subs:    make(map[string][]chan Event),
		logger:  slog.Default(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Submit validates req and creates a pending job for it.
func (r *Registry) Submit(req CreateRequest) (Job, error) {
	if err := req.Validate(); err != nil {
		return Job{}, err
	}
	now := r.now()
	j := &Job{
		ID:          uuid.New().String(),
		Status:      StatusPending,
		Message:     "Job created",
		FolderPath:  req.FolderPath,
		CallbackURL: req.CallbackURL,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	e := &entry{}
	e.snap.Store(j)

	r.mu.Lock()
	r.entries[j.ID] = e
	r.mu.Unlock()

	r.persist(j)
	return *j, nil
}

// Get returns a snapshot of the job, or a NotFound error.
func (r *Registry) Get(id string) (Job, error) {
	e, ok := r.lookup(id)
	if !ok {
		return Job{}, common.NotFound(fmt.Sprintf("job %s not found", id))
	}
	return *e.snap.Load(), nil
}

// List returns snapshots of all jobs, newest first.
func (r *Registry) List() []Job {
	r.mu.RLock()
	jobs := make([]Job, 0, len(r.entries))
	for _, e := range r.entries {
		jobs = append(jobs, *e.snap.Load())
	}
	r.mu.RUnlock()

	sort.Slice(jobs, func(a, b int) bool {
		if jobs[a].CreatedAt.Equal(jobs[b].CreatedAt) {
			return jobs[a].ID < jobs[b].ID
		}
		return jobs[a].CreatedAt.After(jobs[b].CreatedAt)
	})
	return jobs
}

// Update applies fn to a copy of the job and publishes the result.
// Progress never moves backwards and is clamped to [0, 100]; a completed job
// always reports 100. A status change that is not forward, or any change to a
// finished job, is rejected.
func (r *Registry) Update(id string, fn func(j *Job)) (Job, error) {
	e, ok := r.lookup(id)
	if !ok {
		return Job{}, common.NotFound(fmt.Sprintf("job %s not found", id))
	}

	e.mu.Lock()
	prev := e.snap.Load()
	if prev.Status.IsTerminal() {
		e.mu.Unlock()
		return *prev, common.Validationf("job %s already %s", id, prev.Status)
	}

	next := *prev
	fn(&next)
	next.ID, next.CreatedAt, next.FolderPath, next.CallbackURL = prev.ID, prev.CreatedAt, prev.FolderPath, prev.CallbackURL

	if !prev.Status.CanTransition(next.Status) {
		e.mu.Unlock()
		return *prev, common.Validationf("job %s: invalid transition %s -> %s", id, prev.Status, next.Status)
	}
	next.Progress = max(prev.Progress, min(next.Progress, 100))
	if next.Status == StatusCompleted {
		next.Progress = 100
	}
	next.UpdatedAt = r.now()
	if next.Status.IsTerminal() {
		t := next.UpdatedAt
		next.FinishedAt = &t
		e.cancel = nil
	}
	e.snap.Store(&next)
	e.mu.Unlock()

	r.persist(&next)
	if next.Status.IsTerminal() {
		r.notifyAndClose(id, Event{Event: "result", Data: encode(&next)})
	} else {
		r.notify(id, Event{Event: "status", Data: encode(&next)})
	}
	return next, nil
}

// Attach records the cancel function of the execution running job id.
func (r *Registry) Attach(id string, cancel context.CancelFunc) error {
	e, ok := r.lookup(id)
	if !ok {
		return common.NotFound(fmt.Sprintf("job %s not found", id))
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.snap.Load().Status.IsTerminal() {
		return common.Validationf("job %s already finished", id)
	}
	e.cancel = cancel
	return nil
}

// Cancel stops a job. A running job is cancelled through its attached handle
// and stops at the next batch boundary; a job that has not started yet is
// finished immediately.
func (r *Registry) Cancel(id string) (Job, error) {
	e, ok := r.lookup(id)
	if !ok {
		return Job{}, common.NotFound(fmt.Sprintf("job %s not found", id))
	}

	e.mu.Lock()
	cur := e.snap.Load()
	cancel := e.cancel
	e.mu.Unlock()

	if cur.Status.IsTerminal() {
		return *cur, common.Validationf("job %s already %s", id, cur.Status)
	}
	if cancel != nil {
		cancel()
		return *cur, nil
	}
	return r.Update(id, func(j *Job) {
		j.Status = StatusError
		j.Message = MessageCancelled
	})
}

// Clear cancels every running job and forgets all of them, including the
// stored history.
func (r *Registry) Clear(ctx context.Context) error {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*entry)
	r.mu.Unlock()

	for _, e := range entries {
		e.mu.Lock()
		if e.cancel != nil {
			e.cancel()
			e.cancel = nil
		}
		e.mu.Unlock()
	}

	r.subMu.Lock()
	subs := r.subs
	r.subs = make(map[string][]chan Event)
	r.subMu.Unlock()
	for _, chans := range subs {
		for _, ch := range chans {
			close(ch)
		}
	}

	if r.store != nil {
		if err := r.store.DeleteAll(ctx); err != nil {
			return common.Store("clear job history", err)
		}
	}
	return nil
}

// Recover loads the stored history, first marking jobs left unfinished by a
// previous process as failed.
func (r *Registry) Recover(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	n, err := r.store.MarkInterrupted(ctx, "interrupted by restart")
	if err != nil {
		return fmt.Errorf("mark interrupted: %w", err)
	}
	if n > 0 {
		r.logger.Warn("recovered interrupted jobs", "count", n)
	}

	jobs, err := r.store.List(ctx)
	if err != nil {
		return fmt.Errorf("load jobs: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range jobs {
		if _, exists := r.entries[j.ID]; exists {
			continue
		}
		e := &entry{}
		e.snap.Store(j)
		r.entries[j.ID] = e
	}
	return nil
}

// Subscribe creates a buffered event channel for a job and returns it.
// The channel is closed after the job's final event.
func (r *Registry) Subscribe(id string) chan Event {
	ch := make(chan Event, 64)
	r.subMu.Lock()
	r.subs[id] = append(r.subs[id], ch)
	r.subMu.Unlock()
	return ch
}

// Unsubscribe removes ch from the job's subscribers.
func (r *Registry) Unsubscribe(id string, ch chan Event) {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	chans := r.subs[id]
	for i, c := range chans {
		if c == ch {
			r.subs[id] = append(chans[:i], chans[i+1:]...)
			break
		}
	}
	if len(r.subs[id]) == 0 {
		delete(r.subs, id)
	}
}

func (r *Registry) lookup(id string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

func (r *Registry) persist(j *Job) {
	if r.store == nil {
		return
	}
	if err := r.store.Save(context.Background(), j); err != nil {
		r.logger.Error("persist job", "job_id", j.ID, "error", err)
	}
}

// notify sends an event to all subscribers of a job without blocking.
func (r *Registry) notify(id string, ev Event) {
	r.subMu.RLock()
	defer r.subMu.RUnlock()
	for _, ch := range r.subs[id] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// notifyAndClose sends the final event and closes all channels for the job.
// A full buffer gives up its oldest progress event so the result still fits.
func (r *Registry) notifyAndClose(id string, ev Event) {
	r.subMu.Lock()
	chans := r.subs[id]
	delete(r.subs, id)
	r.subMu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- ev:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
		close(ch)
	}
}

func encode(j *Job) string {
	data, _ := json.Marshal(j)
	return string(data)
}
