package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/photosift/photosift/internal/common"
	"github.com/photosift/photosift/internal/config"
	"github.com/photosift/photosift/internal/job"
	"github.com/photosift/photosift/internal/quality"
)

type indexCall struct {
	paths []string
	clear bool
}

type fakeIndexer struct {
	mu    sync.Mutex
	calls []indexCall
	err   error
}

func (f *fakeIndexer) IndexPhotos(_ context.Context, paths []string, clearExisting bool) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, indexCall{paths: append([]string(nil), paths...), clear: clearExisting})
	if f.err != nil {
		return 0, f.err
	}
	return len(paths), nil
}

// sharp has strong vertical edges and mid-range tones.
func sharp(w, h int) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(64)
			if x%2 == 1 {
				v = 192
			}
			g.SetGray(x, y, color.Gray{Y: v})
		}
	}
	return g
}

func flat(w, h int) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, w, h))
	for i := range g.Pix {
		g.Pix[i] = 128
	}
	return g
}

func writePNG(t *testing.T, dir, name string, img image.Image) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	return path
}

func batchConfig(batch, search int) config.BatchConfig {
	return config.BatchConfig{Workers: 2, BatchSize: batch, SearchBatchSize: search}
}

func newScheduler(t *testing.T, batch config.BatchConfig, ix Indexer) (*Scheduler, *job.Registry, *quality.Checker) {
	t.Helper()
	reg := job.NewRegistry()
	checker := quality.NewChecker(config.Default().Quality)
	return NewScheduler(batch, checker, ix, reg, nil), reg, checker
}

// collect drains ch until it is closed and returns the status sequence.
func collect(t *testing.T, ch chan job.Event) ([]job.Status, []int) {
	t.Helper()
	var statuses []job.Status
	var progress []int
	for ev := range ch {
		var j job.Job
		if err := json.Unmarshal([]byte(ev.Data), &j); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		statuses = append(statuses, j.Status)
		progress = append(progress, j.Progress)
	}
	return statuses, progress
}

func TestRun_ScreensAndIndexes(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writePNG(t, dir, "a.png", sharp(32, 32))
	writePNG(t, dir, "b.png", flat(32, 32))
	writePNG(t, dir, "c.png", sharp(32, 32))
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644)

	ix := &fakeIndexer{}
	s, reg, checker := newScheduler(t, batchConfig(2, 25), ix)
	j, err := reg.Submit(job.CreateRequest{FolderPath: dir})
	if err != nil {
		t.Fatal(err)
	}
	ch := reg.Subscribe(j.ID)

	s.Run(context.Background(), j.ID)

	got, err := reg.Get(j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != job.StatusCompleted || got.Progress != 100 {
		t.Fatalf("job = %s/%d, want completed/100 (%s)", got.Status, got.Progress, got.Message)
	}
	r := got.Result
	if r == nil {
		t.Fatal("result missing")
	}
	if r.TotalPhotos != 3 || r.BadPhotos != 1 || r.QualifiedPhotos != 2 || r.IndexedPhotos != 2 {
		t.Errorf("result = %+v", r)
	}
	if len(r.Photos) != 3 || r.Photos[1].Filename != "b.png" || !r.Photos[1].IsDefective {
		t.Errorf("photos = %+v", r.Photos)
	}
	if r.Photos[1].DefectTypes[0] != quality.DefectBlur {
		t.Errorf("b.png defects = %v", r.Photos[1].DefectTypes)
	}
	if checker.CacheLen() != 0 {
		t.Errorf("decode cache holds %d entries after screening", checker.CacheLen())
	}

	statuses, progress := collect(t, ch)
	if statuses[0] != job.StatusInitializing || statuses[len(statuses)-1] != job.StatusCompleted {
		t.Errorf("statuses = %v", statuses)
	}
	for i := 1; i < len(progress); i++ {
		if progress[i] < progress[i-1] {
			t.Errorf("progress went backwards: %v", progress)
		}
	}
}

func TestProcess_IndexChunksClearOnlyFirst(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	for _, name := range []string{"1.png", "2.png", "3.png", "4.png", "5.png"} {
		writePNG(t, dir, name, sharp(16, 16))
	}
	ix := &fakeIndexer{}
	s, _, _ := newScheduler(t, batchConfig(10, 2), ix)

	var updates []Progress
	res, err := s.Process(context.Background(), dir, func(p Progress) { updates = append(updates, p) })
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.IndexedPhotos != 5 {
		t.Errorf("indexed = %d, want 5", res.IndexedPhotos)
	}
	if len(ix.calls) != 3 {
		t.Fatalf("index calls = %d, want 3", len(ix.calls))
	}
	for i, c := range ix.calls {
		if c.clear != (i == 0) {
			t.Errorf("call %d clear = %v", i, c.clear)
		}
	}
	last := updates[len(updates)-1]
	if last.Progress != 100 {
		t.Errorf("final progress = %d, want 100", last.Progress)
	}
	for _, u := range updates {
		if u.Status == "" && u.Progress < screeningShare && u.Current == 0 {
			t.Errorf("screening update without progress: %+v", u)
		}
	}
}

func TestRun_MissingFolder(t *testing.T) {
	t.Parallel()
	s, reg, _ := newScheduler(t, batchConfig(10, 25), &fakeIndexer{})
	j, _ := reg.Submit(job.CreateRequest{FolderPath: filepath.Join(t.TempDir(), "nope")})
	ch := reg.Subscribe(j.ID)

	s.Run(context.Background(), j.ID)

	got, _ := reg.Get(j.ID)
	if got.Status != job.StatusError || got.Message == "" {
		t.Errorf("job = %s %q, want error with message", got.Status, got.Message)
	}
	statuses, _ := collect(t, ch)
	for _, st := range statuses {
		if st == job.StatusProcessing || st == job.StatusCompleted {
			t.Errorf("missing folder passed through %s: %v", st, statuses)
		}
	}
}

func TestProcess_NoImages(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "readme.md"), []byte("x"), 0o644)
	s, _, _ := newScheduler(t, batchConfig(10, 25), &fakeIndexer{})

	_, err := s.Process(context.Background(), dir, nil)
	if !errors.Is(err, common.ErrValidation) {
		t.Errorf("Process = %v, want validation error", err)
	}
}

func TestProcess_AllDefectiveSkipsIndexing(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writePNG(t, dir, "a.png", flat(16, 16))
	ix := &fakeIndexer{}
	s, _, _ := newScheduler(t, batchConfig(10, 25), ix)

	res, err := s.Process(context.Background(), dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.QualifiedPhotos != 0 || res.IndexedPhotos != 0 || len(ix.calls) != 0 {
		t.Errorf("result = %+v, index calls = %d", res, len(ix.calls))
	}
}

func TestRun_Cancelled(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writePNG(t, dir, "a.png", sharp(16, 16))
	s, reg, _ := newScheduler(t, batchConfig(10, 25), &fakeIndexer{})
	j, _ := reg.Submit(job.CreateRequest{FolderPath: dir})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Run(ctx, j.ID)

	got, _ := reg.Get(j.ID)
	if got.Status != job.StatusError || got.Message != job.MessageCancelled {
		t.Errorf("job = %s %q, want error %q", got.Status, got.Message, job.MessageCancelled)
	}
}

func TestRun_IndexerErrorFailsJob(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writePNG(t, dir, "a.png", sharp(16, 16))
	s, reg, _ := newScheduler(t, batchConfig(10, 25), &fakeIndexer{err: errors.New("disk full")})
	j, _ := reg.Submit(job.CreateRequest{FolderPath: dir})

	s.Run(context.Background(), j.ID)

	got, _ := reg.Get(j.ID)
	if got.Status != job.StatusError {
		t.Errorf("status = %s, want error", got.Status)
	}
}

type panicScreener struct{}

func (panicScreener) Check(string) quality.Report { panic("corrupt state") }
func (panicScreener) ClearCache()                 {}

func TestProcess_ScreenerPanicYieldsFallback(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writePNG(t, dir, "a.png", sharp(16, 16))
	s := NewScheduler(batchConfig(10, 25), panicScreener{}, &fakeIndexer{}, job.NewRegistry(), nil)

	res, err := s.Process(context.Background(), dir, nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.TotalPhotos != 1 || res.Photos[0].IsDefective || len(res.Photos[0].DefectTypes) != 0 {
		t.Errorf("result = %+v", res)
	}
}
