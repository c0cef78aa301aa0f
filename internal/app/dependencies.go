package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/ordercore/internal/health"
	"github.com/vladislavdragonenkov/ordercore/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/ordercore/internal/metrics"
	"github.com/vladislavdragonenkov/ordercore/internal/service/coupon"
	"github.com/vladislavdragonenkov/ordercore/internal/service/idempotency"
	"github.com/vladislavdragonenkov/ordercore/internal/service/inventory"
	"github.com/vladislavdragonenkov/ordercore/internal/service/outbox"
	"github.com/vladislavdragonenkov/ordercore/internal/service/pricing"
	"github.com/vladislavdragonenkov/ordercore/internal/service/wallet"
	"github.com/vladislavdragonenkov/ordercore/internal/service/workflow"
	"github.com/vladislavdragonenkov/ordercore/internal/storage/cache"
	"github.com/vladislavdragonenkov/ordercore/internal/storage/memory"
	"github.com/vladislavdragonenkov/ordercore/internal/storage/postgres"
	"github.com/vladislavdragonenkov/ordercore/internal/version"
)

// Dependencies содержит все зависимости приложения.
type Dependencies struct {
	Store       domain.Store
	Outbox      domain.OutboxRepository
	Idempotency domain.IdempotencyRepository
	// Memory и Postgres взаимоисключающие, в зависимости от StorageDriver.
	Memory   *memory.Store
	Postgres *postgres.Store
	Redis    *redis.Client
	Producer *kafka.Producer

	Offers       pricing.OfferSource
	Metrics      *metrics.OrderMetrics
	Wallet       *wallet.Ledger
	Coupons      *coupon.Tracker
	Pricing      *pricing.Engine
	Orchestrator workflow.Orchestrator

	OutboxWorker      *outbox.Worker
	IdempotencyPruner *idempotency.Pruner
	Health            *healthcheck.Handler

	Logger *log.Entry
}

// NewDependencies создаёт хранилище, внешние клиенты и доменные сервисы.
// Недоступные Redis и Kafka не прерывают запуск: сервис работает без кэша
// и пишет события в лог.
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	st, err := initStorage(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	deps := &Dependencies{
		Store:       st.store,
		Outbox:      st.outbox,
		Idempotency: st.idempotency,
		Memory:      st.memory,
		Postgres:    st.postgres,
		Logger:      logger,
	}

	deps.Offers = pricing.NewStoreOffers(deps.Store)
	if cfg.RedisAddr != "" {
		client, err := cache.NewClient(ctx, cache.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			logger.WithError(err).Warn("redis unavailable, offers are read from storage")
		} else {
			deps.Redis = client
			deps.Offers = cache.NewOfferCache(client, deps.Offers,
				cache.WithTTL(cfg.OfferCacheTTL),
				cache.WithLogger(logger.WithField("component", "offer-cache")),
			)
		}
	}

	// Ошибка уже залогирована, без Kafka продолжаем работу.
	deps.Producer, _ = initKafkaProducer(cfg, logger)

	deps.Metrics = metrics.NewOrderMetrics()
	deps.Wallet = wallet.NewLedger(deps.Store, wallet.WithLogger(logger.WithField("component", "wallet")))
	deps.Coupons = coupon.NewTracker(deps.Store, logger.WithField("component", "coupons"))
	deps.Pricing = pricing.NewEngine(deps.Store, deps.Coupons, deps.Offers, logger.WithField("component", "pricing"))
	deps.Orchestrator = workflow.NewOrchestrator(
		deps.Store,
		inventory.NewLedger(logger.WithField("component", "inventory")),
		deps.Wallet,
		workflow.WithLogger(logger.WithField("component", "workflow")),
		workflow.WithMetrics(deps.Metrics),
		workflow.WithNumberScope(workflow.NumberScope(cfg.OrderNumberScope)),
	)

	publisher, dlq := outboxPublishers(deps.Producer, cfg, logger)
	workerOpts := []outbox.Option{
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	}
	if dlq != nil {
		workerOpts = append(workerOpts, outbox.WithDLQPublisher(dlq))
	}
	deps.OutboxWorker = outbox.NewWorker(deps.Outbox, publisher, workerOpts...)

	deps.IdempotencyPruner = idempotency.NewPruner(deps.Idempotency,
		idempotency.WithLogger(logger.WithField("component", "idempotency-pruner")),
		idempotency.WithInterval(cfg.IdempotencyPruneInterval),
		idempotency.WithBatchSize(cfg.IdempotencyPruneBatchSize),
		idempotency.WithBatchesPerRun(cfg.IdempotencyPruneBatchesPerRun),
	)

	v, _, _ := version.Info()
	deps.Health = healthcheck.NewHandler(v)
	if deps.Postgres != nil {
		deps.Health.RegisterChecker("postgres", healthcheck.NewPingChecker("postgres", deps.Postgres.Ping))
	}
	if deps.Redis != nil {
		deps.Health.RegisterChecker("redis", healthcheck.NewRedisChecker(deps.Redis))
	}

	return deps, nil
}

// Close освобождает внешние подключения.
func (d *Dependencies) Close() error {
	if d == nil {
		return nil
	}

	closeKafka(d.Producer, d.Logger)

	var errs []error
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if d.Postgres != nil {
		if err := d.Postgres.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close postgres: %w", err))
		}
	}
	return errors.Join(errs...)
}
