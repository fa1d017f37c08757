package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/moviepilot/mpagent/pkg/cache"
	"github.com/redis/go-redis/v9"
)

const scanBatch = 100

type Store struct {
	client *redis.Client
}

type Opts struct {
	URL string
}

func New(ctx context.Context, opts Opts) (*Store, error) {
	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(redisOpts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Store{client: client}, nil
}

// NewWithClient wraps an existing client
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) key(key, region string) string {
	return fmt.Sprintf("%s:%s", cache.RegionKey(region), key)
}

func (s *Store) Get(ctx context.Context, key, region string) ([]byte, error) {
	value, err := s.client.Get(ctx, s.key(key, region)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, cache.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get key: %w", err)
	}

	return value, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration, region string) error {
	if err := s.client.Set(ctx, s.key(key, region), value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set key: %w", err)
	}

	return nil
}

func (s *Store) Delete(ctx context.Context, key, region string) error {
	if err := s.client.Del(ctx, s.key(key, region)).Err(); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}

	return nil
}

func (s *Store) Items(ctx context.Context, region string) ([]cache.Item, error) {
	prefix := cache.RegionKey(region) + ":"

	var items []cache.Item

	iter := s.client.Scan(ctx, 0, prefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		fullKey := iter.Val()

		value, err := s.client.Get(ctx, fullKey).Bytes()
		if err != nil {
			// expired between scan and read
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("failed to read %s: %w", fullKey, err)
		}

		item := cache.Item{
			Key:   strings.TrimPrefix(fullKey, prefix),
			Value: value,
		}

		if ttl, err := s.client.TTL(ctx, fullKey).Result(); err == nil && ttl > 0 {
			item.ExpiresAt = time.Now().Add(ttl)
		}

		items = append(items, item)
	}

	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan region %s: %w", region, err)
	}

	return items, nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Close()
}
