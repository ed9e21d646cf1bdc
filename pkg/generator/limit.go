package generator

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

type limited struct {
	next    Generator
	limiter *rate.Limiter
}

// WithRateLimit paces calls to g through limiter. A nil limiter returns g.
func WithRateLimit(g Generator, limiter *rate.Limiter) Generator {
	if limiter == nil {
		return g
	}
	return &limited{next: g, limiter: limiter}
}

func (l *limited) Generate(ctx context.Context, p Params) ([]byte, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ProviderError{Provider: "ratelimit", Message: fmt.Sprintf("rate limit wait: %v", err), Err: err}
	}
	return l.next.Generate(ctx, p)
}
