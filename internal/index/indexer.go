// Package index embeds qualified photos and writes them to the vector store.
package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"github.com/photosift/photosift/internal/embed"
	"github.com/photosift/photosift/internal/vector"
)

const (
	// degenerateEpsilon and degenerateLead define a degenerate embedding: one
	// whose first degenerateLead components all have magnitude below epsilon.
	degenerateEpsilon = 1e-6
	degenerateLead    = 10
)

type Indexer struct {
	provider embed.Provider
	store    vector.Store
	logger   *slog.Logger
}

func New(provider embed.Provider, store vector.Store, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{provider: provider, store: store, logger: logger}
}

// IndexPhotos embeds paths and writes the surviving entries in one batch.
// With clearExisting the collection is emptied first. Missing files, repeated
// filenames (first one wins), failed embeddings and degenerate embeddings are
// skipped. Provider or store failures are logged and reported as a count of
// zero; IndexPhotos only returns an error when ctx is done.
func (ix *Indexer) IndexPhotos(ctx context.Context, paths []string, clearExisting bool) (int, error) {
	if len(paths) == 0 {
		return 0, nil
	}
	if !ix.provider.Available() {
		ix.logger.Warn("embedding provider unavailable, skipping indexing", "photos", len(paths))
		return 0, nil
	}

	if clearExisting {
		if n, err := ix.store.Count(ctx); err != nil {
			ix.logger.Error("count collection", "error", err)
		} else if n > 0 {
			ix.logger.Info("clearing collection", "collection", ix.store.Name(), "entries", n)
			if err := ix.store.Clear(ctx); err != nil {
				ix.logger.Error("clear collection", "error", err)
			}
		}
	}

	seen := make(map[string]bool, len(paths))
	entries := make([]vector.Entry, 0, len(paths))
	failed := 0
	for i, path := range paths {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if _, err := os.Stat(path); err != nil {
			ix.logger.Warn("photo missing, skipping", "path", path)
			failed++
			continue
		}
		name := filepath.Base(path)
		if seen[name] {
			ix.logger.Debug("filename already indexed, skipping", "filename", name)
			continue
		}

		vec, err := ix.provider.EncodeImage(ctx, path)
		if err != nil || len(vec) == 0 {
			ix.logger.Warn("embedding failed, skipping", "path", path, "error", err)
			failed++
			continue
		}
		if degenerate(vec) {
			ix.logger.Warn("degenerate embedding, skipping", "path", path)
			failed++
			continue
		}
		id, err := entryID(path, name, i)
		if err != nil {
			ix.logger.Warn("hash photo, skipping", "path", path, "error", err)
			failed++
			continue
		}

		entries = append(entries, vector.Entry{
			ID:       id,
			Vector:   vec,
			Metadata: vector.Metadata{Path: path, Filename: name, Index: i},
		})
		seen[name] = true
	}

	if len(entries) == 0 {
		ix.logger.Warn("no embeddings produced", "photos", len(paths), "failed", failed)
		return 0, nil
	}
	if err := ix.store.Add(ctx, entries); err != nil {
		ix.logger.Error("write embeddings", "entries", len(entries), "error", err)
		return 0, nil
	}
	ix.logger.Info("indexed photos", "indexed", len(entries), "failed", failed, "collection", ix.store.Name())
	return len(entries), nil
}

// degenerate reports whether the leading components of v are all near zero.
func degenerate(v []float32) bool {
	for i := 0; i < len(v) && i < degenerateLead; i++ {
		if math.Abs(float64(v[i])) >= degenerateEpsilon {
			return false
		}
	}
	return true
}

// entryID is "<filename>_<seq>_<content hash prefix>", unique across calls
// for distinct content and stable for identical content.
func entryID(path, name string, seq int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s_%d_%s", name, seq, hex.EncodeToString(h.Sum(nil))[:12]), nil
}
