package search

import (
	"context"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// defaultProviderInterval spaces requests to providers that declare no
// interval of their own. Most JSON APIs tolerate far more, but a small gap
// keeps burst fan-out polite.
const defaultProviderInterval = 100 * time.Millisecond

// waitProviderRateLimit blocks until the per-provider limiter grants a slot or
// the context is cancelled. Limiters are shared across all concurrent searches
// so two requests hitting the same provider still respect its spacing.
func (s *Service) waitProviderRateLimit(ctx context.Context, providerKey string) error {
	limiter := s.providerLimiter(providerKey)
	if limiter == nil {
		return nil
	}
	return limiter.Wait(ctx)
}

func (s *Service) providerLimiter(providerKey string) *rate.Limiter {
	name := strings.ToLower(strings.TrimSpace(providerKey))
	if name == "" {
		return nil
	}

	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()

	if limiter, ok := s.limiters[name]; ok {
		return limiter
	}

	interval := defaultProviderInterval
	if provider, ok := s.providers[name]; ok {
		if limited, ok := provider.(RateLimited); ok {
			if declared := limited.RequestInterval(); declared > 0 {
				interval = declared
			}
		}
	}

	// Burst of 1: the first request passes immediately, every subsequent one
	// waits out the full interval.
	limiter := rate.NewLimiter(rate.Every(interval), 1)
	s.limiters[name] = limiter
	return limiter
}
