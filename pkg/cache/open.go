package cache

import (
	"fmt"

	"github.com/aspirely/aspirely-cli/pkg/config"
	"github.com/aspirely/aspirely-cli/pkg/logger"
)

// Backend names accepted by cache.backend.
const (
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
	BackendNone   = "none"
)

// Open builds the store selected by cache.backend. A backend that cannot
// be opened degrades to NopStore so reads always fetch fresh.
func Open() Store {
	backend := config.GetString("cache.backend")
	store, err := open(backend)
	if err != nil {
		logger.Warn("Cache unavailable, continuing without it", "backend", backend, "error", err)
		return NopStore{}
	}
	return store
}

func open(backend string) (Store, error) {
	switch backend {
	case BackendFile, "":
		return NewFileStore(config.GetString("cache.dir"))
	case BackendRedis:
		return NewRedisStore(
			config.GetString("cache.redis_addr"),
			config.GetString("cache.redis_password"),
			longTTL,
		)
	case BackendSQLite:
		return NewSQLiteStore(config.GetString("cache.sqlite_path"))
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendNone:
		return NopStore{}, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", backend)
	}
}
