package domain

import (
	"context"
	"io"
	"time"
)

// RateLimiter counts requests per key in a sliding window. The gateway uses
// it per client IP and the order service per venue account.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager hands out expiring locks. The deposit watcher takes one per
// transfer so replicas never credit the same deposit concurrently.
// Acquire returns an error wrapping ErrLockHeld when the key is taken.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// BlobWriter uploads an object, used for the receipt archive.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}
