package storage

import (
	"context"

	"connector-hub/internal/common/errors"
	"connector-hub/internal/redisx"
)

// Config selects and configures a backend variant
type Config struct {
	Kind Kind

	// Redis holds connection settings when Kind is KindRedis
	Redis *redisx.Config

	// PostgresDSN is the connection string when Kind is KindPostgres
	PostgresDSN string
}

// New constructs the configured backend. The variant set is closed; an
// unrecognized kind is a configuration error, not an extension point.
func New(ctx context.Context, config Config) (Backend, error) {
	switch config.Kind {
	case KindMemory, "":
		return NewMemoryBackend(), nil
	case KindRedis:
		client, err := redisx.NewClient(config.Redis)
		if err != nil {
			return nil, errors.InternalError("failed to connect storage backend", err)
		}
		return NewRedisBackend(client), nil
	case KindPostgres:
		if config.PostgresDSN == "" {
			return nil, errors.ConfigError("postgres backend requires a DSN")
		}
		return NewPostgresBackend(ctx, config.PostgresDSN)
	default:
		return nil, errors.ConfigError("unknown storage backend: " + string(config.Kind))
	}
}
