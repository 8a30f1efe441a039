package ratelimit

import "context"

// RateLimiter controls delivery throughput per application.
type RateLimiter interface {
	Allow(ctx context.Context, application string) (bool, error)
	Wait(ctx context.Context, application string) error
}
