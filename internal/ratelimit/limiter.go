package ratelimit

import "context"

// RateLimiter throttles operations that share a limit key.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Wait(ctx context.Context, key string) error
}
