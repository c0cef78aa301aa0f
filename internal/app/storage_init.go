package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
	"github.com/vladislavdragonenkov/ordercore/internal/storage/memory"
	"github.com/vladislavdragonenkov/ordercore/internal/storage/postgres"
)

// storage — выбранная реализация хранилища.
type storage struct {
	store       domain.Store
	outbox      domain.OutboxRepository
	idempotency domain.IdempotencyRepository
	// postgres заполнен только для драйвера postgres.
	postgres *postgres.Store
	// memory заполнен только для драйвера memory.
	memory *memory.Store
}

func initStorage(ctx context.Context, cfg Config, logger *log.Entry) (storage, error) {
	switch cfg.StorageDriver {
	case StorageDriverMemory, "":
		store := memory.NewStore()
		logger.Info("storage: in-memory")
		return storage{
			store:       store,
			outbox:      store.Outbox(),
			idempotency: memory.NewIdempotencyRepository(),
			memory:      store,
		}, nil
	case StorageDriverPostgres:
		pool := postgres.DefaultPoolConfig()
		pool.MaxOpenConns = cfg.PostgresMaxOpenConns
		pool.MaxIdleConns = cfg.PostgresMaxIdleConns
		if cfg.PostgresConnMaxLifetime > 0 {
			pool.ConnMaxLifetime = cfg.PostgresConnMaxLifetime
		}
		pool.TxTimeout = cfg.PostgresTxTimeout

		store, err := postgres.OpenWithPool(ctx, cfg.PostgresDSN, pool)
		if err != nil {
			return storage{}, err
		}
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return storage{}, fmt.Errorf("migrate schema: %w", err)
			}
		}
		logger.WithField("auto_migrate", cfg.PostgresAutoMigrate).Info("storage: postgres")
		return storage{
			store:       store,
			outbox:      store.Outbox(),
			idempotency: store.Idempotency(),
			postgres:    store,
		}, nil
	default:
		return storage{}, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}
