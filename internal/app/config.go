package app

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordercore/internal/service/workflow"
)

const (
	// StorageDriverMemory хранит данные в памяти процесса.
	StorageDriverMemory = "memory"
	// StorageDriverPostgres хранит данные в PostgreSQL.
	StorageDriverPostgres = "postgres"

	envPrefix = "ORDERCORE_"
)

// Config описывает настройки запуска. Значения читаются из переменных
// окружения с префиксом ORDERCORE_.
type Config struct {
	GRPCAddr        string        `env:"GRPC_ADDR"`
	MetricsAddr     string        `env:"METRICS_ADDR"`
	LogLevel        string        `env:"LOG_LEVEL"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT"`

	StorageDriver           string        `env:"STORAGE_DRIVER"`
	PostgresDSN             string        `env:"POSTGRES_DSN"`
	PostgresAutoMigrate     bool          `env:"POSTGRES_AUTO_MIGRATE"`
	PostgresMaxOpenConns    int           `env:"POSTGRES_MAX_OPEN_CONNS"`
	PostgresMaxIdleConns    int           `env:"POSTGRES_MAX_IDLE_CONNS"`
	PostgresConnMaxLifetime time.Duration `env:"POSTGRES_CONN_MAX_LIFETIME"`
	PostgresTxTimeout       time.Duration `env:"POSTGRES_TX_TIMEOUT"`

	// Пустой RedisAddr отключает кэш предложений.
	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB"`
	OfferCacheTTL time.Duration `env:"OFFER_CACHE_TTL"`

	// Без брокеров события outbox только логируются.
	KafkaBrokers  []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaClientID string   `env:"KAFKA_CLIENT_ID"`
	// Пустой KafkaTopic — маршрутизация по типу агрегата.
	KafkaTopic    string `env:"KAFKA_TOPIC"`
	KafkaDLQTopic string `env:"KAFKA_DLQ_TOPIC"`

	OutboxPollInterval time.Duration `env:"OUTBOX_POLL_INTERVAL"`
	OutboxBatchSize    int           `env:"OUTBOX_BATCH_SIZE"`
	OutboxMaxAttempts  int           `env:"OUTBOX_MAX_ATTEMPTS"`
	OutboxRetryDelay   time.Duration `env:"OUTBOX_RETRY_DELAY"`

	RequireIdempotencyKey bool          `env:"REQUIRE_IDEMPOTENCY_KEY"`
	IdempotencyTTL        time.Duration `env:"IDEMPOTENCY_TTL"`
	// IdempotencyLease — срок, после которого брошенный processing-ключ можно занять заново.
	IdempotencyLease              time.Duration `env:"IDEMPOTENCY_LEASE"`
	IdempotencyPruneInterval      time.Duration `env:"IDEMPOTENCY_PRUNE_INTERVAL"`
	IdempotencyPruneBatchSize     int           `env:"IDEMPOTENCY_PRUNE_BATCH_SIZE"`
	IdempotencyPruneBatchesPerRun int           `env:"IDEMPOTENCY_PRUNE_BATCHES_PER_RUN"`

	OrderNumberScope string `env:"ORDER_NUMBER_SCOPE"`

	// SeedFile — YAML с каталогом, предложениями и купонами для локального запуска.
	SeedFile string `env:"SEED_FILE"`
}

// DefaultConfig возвращает конфигурацию для локального запуска без внешних зависимостей.
func DefaultConfig() Config {
	return Config{
		GRPCAddr:        ":50051",
		MetricsAddr:     ":9090",
		LogLevel:        "info",
		ShutdownTimeout: 5 * time.Second,

		StorageDriver:           StorageDriverMemory,
		PostgresAutoMigrate:     true,
		PostgresMaxOpenConns:    25,
		PostgresMaxIdleConns:    25,
		PostgresConnMaxLifetime: 30 * time.Minute,
		PostgresTxTimeout:       10 * time.Second,

		OfferCacheTTL: 30 * time.Second,

		KafkaClientID: "ordercore",

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   100 * time.Millisecond,

		IdempotencyTTL:                24 * time.Hour,
		IdempotencyLease:              30 * time.Second,
		IdempotencyPruneInterval:      time.Minute,
		IdempotencyPruneBatchSize:     500,
		IdempotencyPruneBatchesPerRun: 20,

		OrderNumberScope: string(workflow.NumberScopeDaily),
	}
}

// LoadConfig накладывает переменные окружения на DefaultConfig и проверяет результат.
func LoadConfig() (Config, error) {
	return loadConfig(env.Options{Prefix: envPrefix})
}

func loadConfig(opts env.Options) (Config, error) {
	cfg := DefaultConfig()
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.GRPCAddr, validation.Required),
		validation.Field(&c.MetricsAddr, validation.Required),
		validation.Field(&c.ShutdownTimeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.LogLevel, validation.Required, validation.By(validLogLevel)),
		validation.Field(&c.StorageDriver, validation.Required,
			validation.In(StorageDriverMemory, StorageDriverPostgres)),
		validation.Field(&c.PostgresDSN,
			validation.When(c.StorageDriver == StorageDriverPostgres, validation.Required)),
		validation.Field(&c.PostgresMaxOpenConns, validation.Required, validation.Min(1)),
		validation.Field(&c.PostgresMaxIdleConns, validation.Min(0)),
		validation.Field(&c.RedisDB, validation.Min(0)),
		validation.Field(&c.OutboxPollInterval, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.OutboxBatchSize, validation.Required, validation.Min(1)),
		validation.Field(&c.OutboxMaxAttempts, validation.Required, validation.Min(1)),
		validation.Field(&c.OutboxRetryDelay, validation.Min(time.Duration(0))),
		validation.Field(&c.IdempotencyTTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.IdempotencyLease, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.IdempotencyPruneInterval, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.IdempotencyPruneBatchSize, validation.Required, validation.Min(1)),
		validation.Field(&c.IdempotencyPruneBatchesPerRun, validation.Required, validation.Min(1)),
		validation.Field(&c.OrderNumberScope, validation.Required,
			validation.In(string(workflow.NumberScopeDaily), string(workflow.NumberScopeGlobal))),
	)
}

func validLogLevel(value any) error {
	level, _ := value.(string)
	if _, err := log.ParseLevel(level); err != nil {
		return fmt.Errorf("unknown log level %q", level)
	}
	return nil
}
