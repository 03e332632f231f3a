// Package idempotency replays the stored response of a POST that is retried
// with the same Idempotency-Key header.
package idempotency

import (
	"context"
	"time"

	redisadapter "github.com/robertarktes/seat-holds/internal/adapters/redis"
)

const (
	Header       = "Idempotency-Key"
	MinKeyLength = 16
	MaxKeyLength = 128
)

type Store interface {
	Get(ctx context.Context, key string) (*redisadapter.IdempResponse, error)
	Set(ctx context.Context, key string, resp redisadapter.IdempResponse, ttl time.Duration) error
}

type Idempotency struct {
	store Store
	ttl   time.Duration
}

func NewIdempotency(store Store, ttl time.Duration) *Idempotency {
	return &Idempotency{store: store, ttl: ttl}
}

type Response struct {
	Status      int
	ContentType string
	Result      []byte
}

// ValidKey reports whether key is acceptable as an idempotency key.
func ValidKey(key string) bool {
	return len(key) >= MinKeyLength && len(key) <= MaxKeyLength
}

// scoped keeps the same key sent to different routes apart.
func scoped(route, key string) string {
	return route + ":" + key
}

// Get returns the stored response, or nil when none exists.
func (i *Idempotency) Get(ctx context.Context, route, key string) (*Response, error) {
	rec, err := i.store.Get(ctx, scoped(route, key))
	if err != nil || rec == nil {
		return nil, err
	}
	return &Response{Status: rec.Status, ContentType: rec.ContentType, Result: rec.Result}, nil
}

func (i *Idempotency) Set(ctx context.Context, route, key string, resp Response) error {
	return i.store.Set(ctx, scoped(route, key), redisadapter.IdempResponse{
		Status:      resp.Status,
		ContentType: resp.ContentType,
		Result:      resp.Result,
	}, i.ttl)
}
