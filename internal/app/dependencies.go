package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/ordercore/internal/health"
	"github.com/vladislavdragonenkov/ordercore/internal/storage/memory"
	"github.com/vladislavdragonenkov/ordercore/internal/storage/postgres"
	"github.com/vladislavdragonenkov/ordercore/internal/storage/redis"
)

// runtimeDependencies хранит инфраструктуру, выбранную конфигурацией.
type runtimeDependencies struct {
	txm        domain.TxManager
	outboxRepo domain.OutboxRepository
	// При sequence == nil номер считается по заказам внутри транзакции.
	sequence domain.OrderSequence
	checkers map[string]healthcheck.Checker
	// memoryStore заполнен только для драйвера memory.
	memoryStore *memory.Store
	closers     []func() error
}

// Close освобождает подключения в обратном порядке открытия.
func (d *runtimeDependencies) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	deps := &runtimeDependencies{checkers: make(map[string]healthcheck.Checker)}

	switch cfg.StorageDriver {
	case StorageDriverMemory:
		store := memory.NewStore(memory.WithLockTimeout(cfg.MemoryLockTimeout))
		if cfg.SeedDemoCatalog {
			seedDemoCatalog(store)
		}
		deps.txm = store
		deps.outboxRepo = memory.NewOutboxRepository(store)
		deps.memoryStore = store
		deps.checkers["storage"] = healthcheck.NewPingChecker("storage", store)
		logger.Info("using in-memory storage")

	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, errors.New("postgres dsn is required for postgres storage driver")
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		deps.closers = append(deps.closers, store.Close)

		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = deps.Close()
				return nil, fmt.Errorf("migrate postgres: %w", err)
			}
		}
		deps.txm = store
		deps.outboxRepo = postgres.NewOutboxRepository(store)
		deps.checkers["storage"] = healthcheck.NewPingChecker("storage", store)
		logger.WithField("auto_migrate", cfg.PostgresAutoMigrate).Info("using postgres storage")

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}

	if cfg.RedisURL != "" {
		sequence, err := redis.Open(ctx, cfg.RedisURL)
		if err != nil {
			_ = deps.Close()
			return nil, fmt.Errorf("open redis order sequence: %w", err)
		}
		deps.sequence = sequence
		deps.closers = append(deps.closers, sequence.Close)
		deps.checkers["redis"] = healthcheck.NewPingChecker("redis", sequence)
		logger.Info("order numbers are generated by redis")
	}

	deps.checkers["outbox"] = healthcheck.NewOutboxBacklogChecker(deps.outboxRepo, cfg.OutboxMaxPending, cfg.OutboxMaxAge)

	return deps, nil
}

// seedDemoCatalog наполняет пустой склад для локального запуска без БД.
func seedDemoCatalog(store *memory.Store) {
	catalog := []domain.Variant{
		{ID: 1, SKU: "TSHIRT-BLK-M", ProductName: "T-shirt black M", Price: decimal.RequireFromString("19.99"), StockQuantity: 500},
		{ID: 2, SKU: "TSHIRT-WHT-L", ProductName: "T-shirt white L", Price: decimal.RequireFromString("19.99"), StockQuantity: 500},
		{ID: 3, SKU: "HOODIE-GRY-M", ProductName: "Hoodie grey M", Price: decimal.RequireFromString("49.50"), StockQuantity: 200},
		{ID: 4, SKU: "CAP-NAVY", ProductName: "Cap navy", Price: decimal.RequireFromString("12.00"), StockQuantity: 1000},
		{ID: 5, SKU: "MUG-LOGO", ProductName: "Mug with logo", Price: decimal.RequireFromString("8.25"), StockQuantity: 50},
	}
	for _, variant := range catalog {
		store.SeedVariant(variant)
	}
}
