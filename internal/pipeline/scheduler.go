// Package pipeline drives a folder through scanning, screening and indexing.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/photosift/photosift/internal/common"
	"github.com/photosift/photosift/internal/config"
	"github.com/photosift/photosift/internal/job"
	"github.com/photosift/photosift/internal/quality"
	"github.com/photosift/photosift/internal/scan"
	"github.com/photosift/photosift/internal/worker"
)

// Screening owns the first 70 points of job progress, indexing the rest.
const screeningShare = 70

// Screener checks a single image. It must not fail; see quality.Checker.
type Screener interface {
	Check(path string) quality.Report
	ClearCache()
}

// Indexer writes embeddings for qualified photos.
type Indexer interface {
	IndexPhotos(ctx context.Context, paths []string, clearExisting bool) (int, error)
}

// Progress is a partial job update emitted while a run advances.
type Progress struct {
	Status   job.Status
	Progress int
	Current  int
	Total    int
	Message  string
}

// Sink receives progress updates. It is called from the run's goroutine only.
type Sink func(Progress)

type Scheduler struct {
	batch    config.BatchConfig
	screener Screener
	indexer  Indexer
	registry *job.Registry
	pool     *worker.Pool
	logger   *slog.Logger
}

func NewScheduler(batch config.BatchConfig, screener Screener, indexer Indexer, registry *job.Registry, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		batch:    batch,
		screener: screener,
		indexer:  indexer,
		registry: registry,
		pool:     worker.New(batch.Workers, batch.BatchSize),
		logger:   logger,
	}
}

// Run executes job id to completion, publishing progress to the registry.
// Every outcome, including cancellation through ctx, ends in a terminal status.
func (s *Scheduler) Run(ctx context.Context, id string) {
	j, err := s.registry.Get(id)
	if err != nil {
		s.logger.Error("run: load job", "job_id", id, "error", err)
		return
	}
	logger := s.logger.With("job_id", id)

	sink := func(p Progress) {
		_, err := s.registry.Update(id, func(j *job.Job) {
			if p.Status != "" {
				j.Status = p.Status
			}
			j.Progress = p.Progress
			j.Current = p.Current
			if p.Total > 0 {
				j.Total = p.Total
			}
			j.Message = p.Message
		})
		if err != nil {
			logger.Debug("progress update dropped", "error", err)
		}
	}

	result, err := s.Process(ctx, j.FolderPath, sink)
	if err != nil {
		msg := err.Error()
		if errors.Is(err, context.Canceled) {
			msg = job.MessageCancelled
		}
		logger.Warn("job failed", "error", err)
		if _, uerr := s.registry.Update(id, func(j *job.Job) {
			j.Status = job.StatusError
			j.Message = msg
		}); uerr != nil {
			logger.Debug("final update dropped", "error", uerr)
		}
		return
	}

	if _, err := s.registry.Update(id, func(j *job.Job) {
		j.Status = job.StatusCompleted
		j.Current = result.TotalPhotos
		j.Message = fmt.Sprintf("Processed %d photos: %d qualified, %d defective, %d indexed",
			result.TotalPhotos, result.QualifiedPhotos, result.BadPhotos, result.IndexedPhotos)
		j.Result = result
	}); err != nil {
		logger.Debug("final update dropped", "error", err)
		return
	}
	logger.Info("job completed", "total", result.TotalPhotos, "qualified", result.QualifiedPhotos, "indexed", result.IndexedPhotos)
}

// Process scans folder, screens every image and indexes the qualified ones.
// sink may be nil. A missing folder or a folder without images is a
// validation error; cancellation is observed between batches.
func (s *Scheduler) Process(ctx context.Context, folder string, sink Sink) (*job.Result, error) {
	if sink == nil {
		sink = func(Progress) {}
	}

	sink(Progress{Status: job.StatusInitializing, Message: "Scanning folder"})
	paths, err := scan.Scan(folder)
	if err != nil {
		return nil, err
	}
	total := len(paths)
	if total == 0 {
		return nil, common.Validationf("no images found in %s", folder)
	}
	sink(Progress{Status: job.StatusProcessing, Total: total, Message: fmt.Sprintf("Found %d images", total)})

	reports, err := s.screen(ctx, paths, sink)
	if err != nil {
		return nil, err
	}

	qualified := make([]string, 0, len(reports))
	for _, r := range reports {
		if !r.IsDefective {
			qualified = append(qualified, r.ImagePath)
		}
	}

	indexed, err := s.index(ctx, qualified, total, sink)
	if err != nil {
		return nil, err
	}
	return summarize(reports, len(qualified), indexed), nil
}

func (s *Scheduler) screen(ctx context.Context, paths []string, sink Sink) ([]quality.Report, error) {
	total := len(paths)
	batches := worker.Split(paths, s.batch.BatchSize)
	reports := make([]quality.Report, 0, total)

	for bi, batch := range batches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, err := worker.Map(ctx, s.pool, batch, func(_ context.Context, sub []string) ([]quality.Report, error) {
			res := make([]quality.Report, 0, len(sub))
			for _, p := range sub {
				res = append(res, s.check(p))
			}
			return res, nil
		})
		if err != nil {
			return nil, fmt.Errorf("screen batch %d/%d: %w", bi+1, len(batches), err)
		}
		reports = append(reports, out...)

		done := len(reports)
		sink(Progress{
			Progress: done * screeningShare / total,
			Current:  done,
			Message:  fmt.Sprintf("Screened %d/%d photos", done, total),
		})
	}
	s.screener.ClearCache()
	return reports, nil
}

// check screens one image, turning a panic into the fallback report.
func (s *Scheduler) check(path string) (r quality.Report) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("quality check panicked", "path", path, "panic", rec)
			r = quality.Report{ImagePath: path, DefectTypes: []string{}, Error: fmt.Sprint(rec)}
		}
	}()
	return s.screener.Check(path)
}

func (s *Scheduler) index(ctx context.Context, qualified []string, total int, sink Sink) (int, error) {
	if len(qualified) == 0 {
		return 0, nil
	}
	chunks := worker.Split(qualified, s.batch.SearchBatchSize)
	indexed, done := 0, 0
	for ci, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		n, err := s.indexer.IndexPhotos(ctx, chunk, ci == 0)
		if err != nil {
			return 0, fmt.Errorf("index chunk %d/%d: %w", ci+1, len(chunks), err)
		}
		indexed += n
		done += len(chunk)
		sink(Progress{
			Progress: screeningShare + (ci+1)*(100-screeningShare)/len(chunks),
			Current:  total,
			Message:  fmt.Sprintf("Indexed %d/%d qualified photos", done, len(qualified)),
		})
	}
	return indexed, nil
}

func summarize(reports []quality.Report, qualified, indexed int) *job.Result {
	res := &job.Result{
		TotalPhotos:     len(reports),
		BadPhotos:       len(reports) - qualified,
		QualifiedPhotos: qualified,
		IndexedPhotos:   indexed,
		Photos:          make([]job.PhotoSummary, 0, len(reports)),
	}
	for _, r := range reports {
		res.Photos = append(res.Photos, job.PhotoSummary{
			ImagePath:   r.ImagePath,
			Filename:    filepath.Base(r.ImagePath),
			IsDefective: r.IsDefective,
			DefectTypes: r.DefectTypes,
		})
	}
	return res
}
