// Package kv is the persistence boundary: a keyed get/put/delete store
// with optional per-key expiry. No schema beyond keys and opaque values
// is assumed of any backend.
package kv

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// Put writes value under key. ttl <= 0 means no expiry.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// List returns the live keys with the given prefix, in no particular order.
	List(ctx context.Context, prefix string) ([]string, error)
}
