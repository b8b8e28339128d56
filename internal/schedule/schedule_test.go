package schedule

import (
	"errors"
	"testing"

	"github.com/photosift/photosift/internal/config"
	"github.com/photosift/photosift/internal/job"
)

type registrySubmitter struct {
	reg   *job.Registry
	calls int
	err   error
}

func (s *registrySubmitter) Submit(req job.CreateRequest) (job.Job, error) {
	s.calls++
	if s.err != nil {
		return job.Job{}, s.err
	}
	return s.reg.Submit(req)
}

func watch(schedule string) config.WatchConfig {
	return config.WatchConfig{Folder: "/photos/inbox", Schedule: schedule}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"*/5 * * * *", false},
		{"0 3 * * 1-5", false},
		{"@hourly", true},
		{"* * * * * *", true},
		{"61 * * * *", true},
		{"", true},
	}
	for _, tt := range tests {
		if err := Validate(tt.expr); (err != nil) != tt.wantErr {
			t.Errorf("Validate(%q) = %v, wantErr %v", tt.expr, err, tt.wantErr)
		}
	}
}

func TestNew_InvalidSchedule(t *testing.T) {
	t.Parallel()
	reg := job.NewRegistry()
	if _, err := New(watch("every minute"), &registrySubmitter{reg: reg}, reg, nil); err == nil {
		t.Error("New accepted an invalid schedule")
	}
}

func TestTick_SkipsWhilePreviousRuns(t *testing.T) {
	t.Parallel()
	reg := job.NewRegistry()
	sub := &registrySubmitter{reg: reg}
	r, err := New(watch("*/5 * * * *"), sub, reg, nil)
	if err != nil {
		t.Fatal(err)
	}

	first := r.Tick()
	if first == "" {
		t.Fatal("first tick submitted nothing")
	}
	j, _ := reg.Get(first)
	if j.FolderPath != "/photos/inbox" {
		t.Errorf("folder = %q", j.FolderPath)
	}

	if id := r.Tick(); id != "" {
		t.Errorf("tick while previous pending submitted %s", id)
	}
	reg.Update(first, func(j *job.Job) { j.Status = job.StatusProcessing })
	if id := r.Tick(); id != "" {
		t.Errorf("tick while previous processing submitted %s", id)
	}

	reg.Update(first, func(j *job.Job) { j.Status = job.StatusCompleted })
	second := r.Tick()
	if second == "" || second == first {
		t.Errorf("tick after completion = %q", second)
	}
	if sub.calls != 2 {
		t.Errorf("submit calls = %d, want 2", sub.calls)
	}
}

func TestTick_PreviousCleared(t *testing.T) {
	t.Parallel()
	reg := job.NewRegistry()
	r, _ := New(watch("0 * * * *"), &registrySubmitter{reg: reg}, reg, nil)

	r.Tick()
	if err := reg.Clear(t.Context()); err != nil {
		t.Fatal(err)
	}
	if id := r.Tick(); id == "" {
		t.Error("tick after clear submitted nothing")
	}
}

func TestTick_SubmitFailure(t *testing.T) {
	t.Parallel()
	reg := job.NewRegistry()
	sub := &registrySubmitter{reg: reg, err: errors.New("queue full")}
	r, _ := New(watch("0 * * * *"), sub, reg, nil)

	if id := r.Tick(); id != "" {
		t.Errorf("Tick = %q, want empty on failure", id)
	}
	sub.err = nil
	if id := r.Tick(); id == "" {
		t.Error("tick after recovery submitted nothing")
	}
}

func TestStartStop(t *testing.T) {
	t.Parallel()
	reg := job.NewRegistry()
	r, _ := New(watch("0 0 1 1 *"), &registrySubmitter{reg: reg}, reg, nil)
	r.Start()
	<-r.Stop().Done()
}
