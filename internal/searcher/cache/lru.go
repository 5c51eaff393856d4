package cache

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

// LocalBackend keeps entries in process, bounded by count and a single TTL.
// It serves deployments without Redis; misses are reported as redis.Nil so
// QueryCache treats both backends alike.
type LocalBackend struct {
	lru *expirable.LRU[string, string]
}

func NewLocalBackend(size int, ttl time.Duration) *LocalBackend {
	if size <= 0 {
		size = 1024
	}
	return &LocalBackend{lru: expirable.NewLRU[string, string](size, nil, ttl)}
}

func (b *LocalBackend) Get(_ context.Context, key string) (string, error) {
	v, ok := b.lru.Get(key)
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

// Set stores value under key. The per-call ttl is ignored in favour of the
// backend-wide TTL.
func (b *LocalBackend) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	switch v := value.(type) {
	case []byte:
		b.lru.Add(key, string(v))
	case string:
		b.lru.Add(key, v)
	default:
		return fmt.Errorf("local cache: unsupported value type %T", value)
	}
	return nil
}

// FlushByPattern removes keys matching a glob pattern.
func (b *LocalBackend) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	var n int64
	for _, key := range b.lru.Keys() {
		ok, err := path.Match(pattern, key)
		if err != nil {
			return n, fmt.Errorf("local cache: bad pattern %q: %w", pattern, err)
		}
		if ok && b.lru.Remove(key) {
			n++
		}
	}
	return n, nil
}

func (b *LocalBackend) Len() int {
	return b.lru.Len()
}
