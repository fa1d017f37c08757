// Package cache defines the key-value backend that durable conversation
// memory is written through. Keys live in regions; every entry carries a TTL.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	DefaultRegion = "DEFAULT"

	TypeMemory     = "cachetools"
	TypeRedis      = "redis"
	TypeMongoDB    = "mongodb"
	TypePostgreSQL = "postgresql"
	TypeSQLite     = "sqlite"
)

var (
	ErrNotFound           = errors.New("cache entry not found")
	ErrUnsupportedBackend = errors.New("unsupported cache backend")
)

type Item struct {
	Key       string
	Value     []byte
	ExpiresAt time.Time
}

// Backend stores opaque values under (region, key). A ttl of zero means the
// entry never expires.
type Backend interface {
	Get(ctx context.Context, key, region string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration, region string) error
	Delete(ctx context.Context, key, region string) error
	Items(ctx context.Context, region string) ([]Item, error)
	Close(ctx context.Context) error
}

// RegionKey namespaces a region the same way across every backend
func RegionKey(region string) string {
	if region == "" {
		region = DefaultRegion
	}

	return fmt.Sprintf("region:%s", region)
}

// ExpiresAt returns the zero time for a ttl of zero
func ExpiresAt(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}

	return now.Add(ttl)
}

func Expired(expiresAt, now time.Time) bool {
	return !expiresAt.IsZero() && !now.Before(expiresAt)
}
