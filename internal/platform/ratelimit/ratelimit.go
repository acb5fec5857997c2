// Package ratelimit builds per-client request limiters for unauthenticated endpoints.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

const storePrefix = "routemate_limiter"

// Limiter wraps a ulule limiter with an optional redis connection to close.
type Limiter struct {
	middleware *stdlib.Middleware
	client     *redis.Client
}

// New creates a limiter for the formatted rate (for example "20-M").
// An empty redisURL keeps counters in process memory.
func New(ctx context.Context, formatted, redisURL string) (*Limiter, error) {
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: parse rate %q: %w", formatted, err)
	}

	var (
		store  limiter.Store
		client *redis.Client
	)
	if redisURL == "" {
		store = memory.NewStoreWithOptions(limiter.StoreOptions{Prefix: storePrefix})
	} else {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("ratelimit: parse redis url: %w", err)
		}
		client = redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("ratelimit: ping redis: %w", err)
		}
		store, err = sredis.NewStoreWithOptions(client, limiter.StoreOptions{Prefix: storePrefix})
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("ratelimit: redis store: %w", err)
		}
	}

	return &Limiter{
		middleware: stdlib.NewMiddleware(limiter.New(store, rate)),
		client:     client,
	}, nil
}

// Handler applies the limit to next, responding 429 once a client exceeds it.
func (l *Limiter) Handler(next http.Handler) http.Handler {
	return l.middleware.Handler(next)
}

// Close releases the redis connection, if any.
func (l *Limiter) Close() error {
	if l.client == nil {
		return nil
	}
	return l.client.Close()
}
