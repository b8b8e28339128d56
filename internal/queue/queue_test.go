package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/photosift/photosift/internal/job"
)

// stubRunner finishes every job it is given, or blocks until cancelled when block is set.
type stubRunner struct {
	reg     *job.Registry
	block   bool
	started chan string
}

func (r *stubRunner) Run(ctx context.Context, id string) {
	if r.started != nil {
		r.started <- id
	}
	if r.block {
		<-ctx.Done()
		r.reg.Update(id, func(j *job.Job) {
			j.Status = job.StatusError
			j.Message = job.MessageCancelled
		})
		return
	}
	r.reg.Update(id, func(j *job.Job) { j.Status = job.StatusCompleted })
}

type sent struct {
	url     string
	payload any
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sent
	done chan struct{}
}

func (n *recordingNotifier) Send(_ context.Context, url string, payload any) {
	n.mu.Lock()
	n.sent = append(n.sent, sent{url, payload})
	n.mu.Unlock()
	if n.done != nil {
		n.done <- struct{}{}
	}
}

func waitStatus(t *testing.T, reg *job.Registry, id string, want job.Status) job.Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		j, err := reg.Get(id)
		if err == nil && j.Status == want {
			return j
		}
		time.Sleep(5 * time.Millisecond)
	}
	j, _ := reg.Get(id)
	t.Fatalf("job %s status = %s, want %s", id, j.Status, want)
	return j
}

func TestEnqueue_Full(t *testing.T) {
	t.Parallel()
	reg := job.NewRegistry()
	q := New(1, 1, reg, &stubRunner{reg: reg})

	if err := q.Enqueue("a"); err != nil {
		t.Fatalf("first Enqueue: %v", err)
	}
	if err := q.Enqueue("b"); !errors.Is(err, ErrFull) {
		t.Errorf("second Enqueue = %v, want ErrFull", err)
	}
}

func TestSubmit_FullQueueFailsJob(t *testing.T) {
	t.Parallel()
	reg := job.NewRegistry()
	q := New(1, 1, reg, &stubRunner{reg: reg})

	if _, err := q.Submit(job.CreateRequest{FolderPath: "/a"}); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Submit(job.CreateRequest{FolderPath: "/b"}); !errors.Is(err, ErrFull) {
		t.Fatalf("Submit = %v, want ErrFull", err)
	}
	var failed int
	for _, j := range reg.List() {
		if j.Status == job.StatusError {
			failed++
		}
	}
	if failed != 1 {
		t.Errorf("failed jobs = %d, want 1", failed)
	}
}

func TestQueue_RunsAndNotifies(t *testing.T) {
	t.Parallel()
	reg := job.NewRegistry()
	n := &recordingNotifier{done: make(chan struct{}, 1)}
	q := New(10, 2, reg, &stubRunner{reg: reg}, WithNotifier(n))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	withHook, err := q.Submit(job.CreateRequest{FolderPath: "/photos", CallbackURL: "https://example.com/hook"})
	if err != nil {
		t.Fatal(err)
	}
	plain, err := q.Submit(job.CreateRequest{FolderPath: "/photos"})
	if err != nil {
		t.Fatal(err)
	}

	waitStatus(t, reg, withHook.ID, job.StatusCompleted)
	waitStatus(t, reg, plain.ID, job.StatusCompleted)

	select {
	case <-n.done:
	case <-time.After(2 * time.Second):
		t.Fatal("callback not sent")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) != 1 || n.sent[0].url != "https://example.com/hook" {
		t.Fatalf("sent = %+v", n.sent)
	}
	if j, ok := n.sent[0].payload.(job.Job); !ok || j.ID != withHook.ID || j.Status != job.StatusCompleted {
		t.Errorf("payload = %+v", n.sent[0].payload)
	}
}

func TestQueue_CancelRunningJob(t *testing.T) {
	t.Parallel()
	reg := job.NewRegistry()
	runner := &stubRunner{reg: reg, block: true, started: make(chan string, 1)}
	q := New(10, 1, reg, runner)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	j, err := q.Submit(job.CreateRequest{FolderPath: "/photos"})
	if err != nil {
		t.Fatal(err)
	}
	<-runner.started
	if _, err := reg.Cancel(j.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	got := waitStatus(t, reg, j.ID, job.StatusError)
	if got.Message != job.MessageCancelled {
		t.Errorf("message = %q", got.Message)
	}
}

func TestQueue_SkipsFinishedJobs(t *testing.T) {
	t.Parallel()
	reg := job.NewRegistry()
	runner := &stubRunner{reg: reg, started: make(chan string, 1)}
	q := New(10, 1, reg, runner)

	j, _ := reg.Submit(job.CreateRequest{FolderPath: "/photos"})
	if _, err := reg.Cancel(j.ID); err != nil {
		t.Fatal(err)
	}
	q.Enqueue(j.ID)
	q.Enqueue("unknown")

	ctx, cancel := context.WithCancel(context.Background())
	q.Start(ctx)
	time.Sleep(50 * time.Millisecond)
	cancel()
	q.Wait()

	select {
	case id := <-runner.started:
		t.Errorf("runner started for %s", id)
	default:
	}
}

func TestRecovery(t *testing.T) {
	t.Parallel()
	store, err := job.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	first := job.NewRegistry(job.WithStore(store))
	j, _ := first.Submit(job.CreateRequest{FolderPath: "/photos"})
	first.Update(j.ID, func(j *job.Job) { j.Status = job.StatusProcessing })

	reg := job.NewRegistry(job.WithStore(store))
	q := New(10, 1, reg, &stubRunner{reg: reg})
	if err := q.Recovery(context.Background()); err != nil {
		t.Fatalf("Recovery: %v", err)
	}
	got, err := reg.Get(j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != job.StatusError {
		t.Errorf("recovered status = %s, want error", got.Status)
	}
}
