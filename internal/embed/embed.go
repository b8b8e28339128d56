// Package embed computes image and text embeddings in a shared vector space.
package embed

import (
	"context"
	"log/slog"
	"math"

	"github.com/photosift/photosift/internal/common"
	"github.com/photosift/photosift/internal/config"
)

// Provider turns images and text into comparable vectors. Implementations
// report an unavailable capability as an error of kind
// common.ErrProviderUnavailable.
type Provider interface {
	EncodeImage(ctx context.Context, path string) ([]float32, error)
	EncodeText(ctx context.Context, text string) ([]float32, error)
	Available() bool
	Model() string
}

// New returns the provider described by cfg: Unavailable when no endpoint is
// configured, otherwise a Client throttled to cfg.RPS.
func New(ctx context.Context, cfg config.EmbeddingConfig, logger *slog.Logger) (Provider, error) {
	if !cfg.Enabled() {
		return Unavailable{}, nil
	}
	c, err := NewClient(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return NewLimited(c, cfg.RPS), nil
}

// Unavailable is the provider used when no embedding endpoint is configured.
type Unavailable struct{}

func (Unavailable) EncodeImage(context.Context, string) ([]float32, error) {
	return nil, common.ProviderUnavailable("no embedding provider configured", nil)
}

func (Unavailable) EncodeText(context.Context, string) ([]float32, error) {
	return nil, common.ProviderUnavailable("no embedding provider configured", nil)
}

func (Unavailable) Available() bool { return false }

func (Unavailable) Model() string { return "" }

// normalize scales v to unit length and narrows it to float32. A zero vector
// is returned unchanged.
func normalize(v []float64) []float32 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		if norm > 0 {
			x /= norm
		}
		out[i] = float32(x)
	}
	return out
}
