package embed

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/photosift/photosift/internal/common"
)

// Limited throttles calls to another provider.
type Limited struct {
	next    Provider
	limiter *rate.Limiter
}

// NewLimited allows rps calls per second with a burst of one. A non-positive
// rps returns next unchanged.
func NewLimited(next Provider, rps float64) Provider {
	if rps <= 0 {
		return next
	}
	return &Limited{next: next, limiter: rate.NewLimiter(rate.Limit(rps), 1)}
}

func (l *Limited) EncodeImage(ctx context.Context, path string) ([]float32, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, common.ProviderUnavailable("rate limit wait", err)
	}
	return l.next.EncodeImage(ctx, path)
}

func (l *Limited) EncodeText(ctx context.Context, text string) ([]float32, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, common.ProviderUnavailable("rate limit wait", err)
	}
	return l.next.EncodeText(ctx, text)
}

func (l *Limited) Available() bool { return l.next.Available() }

func (l *Limited) Model() string { return l.next.Model() }
