// Package search answers natural-language queries against the photo index.
package search

import (
	"context"
	"log/slog"
	"strings"

	"github.com/photosift/photosift/internal/common"
	"github.com/photosift/photosift/internal/embed"
	"github.com/photosift/photosift/internal/vector"
)

const DefaultTopK = 10

type Result struct {
	Rank            int     `json:"rank"`
	SimilarityScore float64 `json:"similarity_score"`
	Path            string  `json:"path"`
	Filename        string  `json:"filename"`
}

type Stats struct {
	TotalPhotos        int    `json:"total_photos"`
	CollectionName     string `json:"collection_name"`
	EmbeddingAvailable bool   `json:"embedding_available"`
	Model              string `json:"model,omitempty"`
}

type Engine struct {
	provider embed.Provider
	store    vector.Store
	logger   *slog.Logger
}

func New(provider embed.Provider, store vector.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{provider: provider, store: store, logger: logger}
}

// Similarity maps a cosine distance in [0, 2] to a score in [0, 1].
func Similarity(distance float64) float64 {
	return max(0, min(1, 1-distance/2))
}

// Search returns up to topK photos ranked by similarity to query. A topK of
// zero or less means DefaultTopK. An unavailable provider, a failed text
// embedding or an empty index all yield an empty list.
func (e *Engine) Search(ctx context.Context, query string, topK int) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, common.Validation("query must not be empty")
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	results := []Result{}
	if !e.provider.Available() {
		e.logger.Warn("embedding provider unavailable, search disabled")
		return results, nil
	}

	vec, err := e.provider.EncodeText(ctx, query)
	if err != nil {
		e.logger.Warn("text embedding failed", "query", query, "error", err)
		return results, nil
	}
	count, err := e.store.Count(ctx)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		e.logger.Info("search on empty index", "query", query)
		return results, nil
	}

	hits, err := e.store.Query(ctx, vec, min(topK, count))
	if err != nil {
		return nil, err
	}
	for i, h := range hits {
		results = append(results, Result{
			Rank:            i + 1,
			SimilarityScore: Similarity(h.Distance),
			Path:            h.Metadata.Path,
			Filename:        h.Metadata.Filename,
		})
	}
	e.logger.Info("search", "query", query, "top_k", topK, "results", len(results))
	return results, nil
}

// Stats describes the index.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	n, err := e.store.Count(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		TotalPhotos:        n,
		CollectionName:     e.store.Name(),
		EmbeddingAvailable: e.provider.Available(),
		Model:              e.provider.Model(),
	}, nil
}
