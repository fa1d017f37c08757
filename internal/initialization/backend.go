package initialization

import (
	"context"
	"fmt"

	"github.com/moviepilot/mpagent/pkg/cache"
	"github.com/moviepilot/mpagent/pkg/cache/inmemory"
	"github.com/moviepilot/mpagent/pkg/cache/mongodb"
	"github.com/moviepilot/mpagent/pkg/cache/postgresql"
	"github.com/moviepilot/mpagent/pkg/cache/redis"
	"github.com/moviepilot/mpagent/pkg/cache/sqlite"
	"github.com/rs/zerolog/log"
)

const DefaultSQLitePath = "./data/mpagent.db"

// NewCacheBackend connects the durable memory backend selected by
// CACHE_BACKEND_TYPE
func NewCacheBackend(ctx context.Context, config *Config) (cache.Backend, error) {
	var (
		backend cache.Backend
		err     error
	)

	switch config.CacheBackendType {
	case cache.TypeMemory, "":
		backend = inmemory.New()
	case cache.TypeRedis:
		backend, err = redis.New(ctx, redis.Opts{URL: config.CacheBackendURL})
	case cache.TypeMongoDB:
		backend, err = mongodb.New(ctx, mongodb.Opts{URI: config.CacheBackendURL})
	case cache.TypePostgreSQL:
		backend, err = postgresql.New(ctx, postgresql.Opts{URI: config.CacheBackendURL})
	case cache.TypeSQLite:
		path := config.CacheBackendURL
		if path == "" {
			path = DefaultSQLitePath
		}
		backend, err = sqlite.New(path)
	default:
		return nil, fmt.Errorf("%w: %s", cache.ErrUnsupportedBackend, config.CacheBackendType)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to connect %s cache backend: %w", config.CacheBackendType, err)
	}

	log.Info().Str("type", config.CacheBackendType).Msg("Cache backend ready")

	return backend, nil
}
