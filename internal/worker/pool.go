// Package worker runs bounded fork-join rounds of work.
package worker

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Pool bounds how many sub-batches run at once.
type Pool struct {
	size int
	sub  int
}

// New returns a pool of size workers fed from batches of batchSize items.
// Sizes below one are treated as one.
func New(size, batchSize int) *Pool {
	size = max(1, size)
	return &Pool{size: size, sub: max(1, batchSize/size)}
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.size
}

// SubBatchSize is how many items each worker takes at a time: the configured
// batch size divided by the worker count, never less than one. A short final
// batch is not split finer.
func (p *Pool) SubBatchSize() int {
	return p.sub
}

// Split cuts items into consecutive chunks of at most size elements.
func Split[T any](items []T, size int) [][]T {
	size = max(1, size)
	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end])
	}
	return chunks
}

// Map splits batch into sub-batches, runs fn on them concurrently with at most
// p.Size() in flight, and waits for all of them before returning. Results keep
// the order of batch. The first error cancels the remaining sub-batches.
func Map[T, R any](ctx context.Context, p *Pool, batch []T, fn func(ctx context.Context, sub []T) ([]R, error)) ([]R, error) {
	subs := Split(batch, p.sub)
	parts := make([][]R, len(subs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.size)
	for i, sub := range subs {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("worker panic: %v", r)
				}
			}()
			out, err := fn(gctx, sub)
			if err != nil {
				return err
			}
			parts[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := make([]R, 0, len(batch))
	for _, part := range parts {
		results = append(results, part...)
	}
	return results, nil
}
