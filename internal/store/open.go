package store

import (
	"context"
	"fmt"

	"github.com/punchamoorthee/leadops/internal/config"
)

// Open connects the backend selected by cfg.StoreBackend. The Postgres
// schema is applied on open.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pg, err := NewPostgresStore(ctx, cfg.DBSource)
		if err != nil {
			return nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
		return pg, nil
	case config.BackendRedis:
		return NewRedisStore(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	case config.BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
