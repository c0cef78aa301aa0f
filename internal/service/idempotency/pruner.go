package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

const (
	defaultPruneInterval  = 10 * time.Minute
	defaultPruneBatchSize = 500
	defaultBatchesPerRun  = 20
)

var (
	pruneRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ordercore_idempotency_prune_runs_total",
		Help: "Idempotency prune runs by outcome (drained, truncated, error).",
	}, []string{"outcome"})
	prunedKeys = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ordercore_idempotency_pruned_keys_total",
		Help: "Expired idempotency keys removed.",
	})
	pruneDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ordercore_idempotency_prune_duration_seconds",
		Help:    "Duration of one idempotency prune run.",
		Buckets: prometheus.DefBuckets,
	})
)

// Sweep — итог одного прохода очистки.
type Sweep struct {
	Deleted int
	Batches int
	// Truncated — проход упёрся в лимит пачек, просроченные ключи могли остаться.
	Truncated bool
}

type pruneSettings struct {
	logger        *log.Entry
	interval      time.Duration
	batchSize     int
	batchesPerRun int
	now           func() time.Time
}

// Option настраивает Pruner.
type Option func(*pruneSettings)

func WithLogger(logger *log.Entry) Option {
	return func(s *pruneSettings) { s.logger = logger }
}

func WithInterval(interval time.Duration) Option {
	return func(s *pruneSettings) { s.interval = interval }
}

// WithBatchSize задаёт число ключей, удаляемых одним запросом.
func WithBatchSize(size int) Option {
	return func(s *pruneSettings) { s.batchSize = size }
}

// WithBatchesPerRun ограничивает число пачек за проход; остаток дождётся следующего.
func WithBatchesPerRun(batches int) Option {
	return func(s *pruneSettings) { s.batchesPerRun = batches }
}

// Pruner периодически удаляет ключи идемпотентности с истёкшим TTL.
type Pruner struct {
	repo domain.IdempotencyRepository
	pruneSettings
}

// NewPruner создаёт очистку ключей идемпотентности.
func NewPruner(repo domain.IdempotencyRepository, options ...Option) *Pruner {
	s := pruneSettings{
		interval:      defaultPruneInterval,
		batchSize:     defaultPruneBatchSize,
		batchesPerRun: defaultBatchesPerRun,
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(&s)
	}
	if s.logger == nil {
		s.logger = log.WithField("component", "idempotency-pruner")
	}
	if s.interval <= 0 {
		s.interval = defaultPruneInterval
	}
	if s.batchSize <= 0 {
		s.batchSize = defaultPruneBatchSize
	}
	if s.batchesPerRun <= 0 {
		s.batchesPerRun = defaultBatchesPerRun
	}
	return &Pruner{repo: repo, pruneSettings: s}
}

// Run чистит ключи сразу и затем раз в interval до отмены ctx.
func (p *Pruner) Run(ctx context.Context) {
	if p.repo == nil {
		p.logger.Warn("idempotency pruner is disabled: repo is nil")
		return
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.runOnce(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Pruner) runOnce(ctx context.Context) {
	started := time.Now()
	sweep, err := p.Sweep(ctx, p.now())
	pruneDuration.Observe(time.Since(started).Seconds())

	fields := log.Fields{"deleted": sweep.Deleted, "batches": sweep.Batches}
	switch {
	case errors.Is(err, context.Canceled):
	case err != nil:
		pruneRuns.WithLabelValues("error").Inc()
		p.logger.WithError(err).WithFields(fields).Warn("idempotency prune failed")
	case sweep.Truncated:
		pruneRuns.WithLabelValues("truncated").Inc()
		p.logger.WithFields(fields).Info("idempotency prune hit the batch limit, continuing next run")
	default:
		pruneRuns.WithLabelValues("drained").Inc()
		if sweep.Deleted > 0 {
			p.logger.WithFields(fields).Info("expired idempotency keys pruned")
		}
	}
}

// Sweep удаляет ключи с ttl <= before пачками по batchSize, не больше
// batchesPerRun пачек. Неполная пачка означает, что просроченных ключей не осталось.
func (p *Pruner) Sweep(ctx context.Context, before time.Time) (Sweep, error) {
	if before.IsZero() {
		before = p.now()
	}

	var sweep Sweep
	for sweep.Batches < p.batchesPerRun {
		if err := ctx.Err(); err != nil {
			return sweep, err
		}

		deleted, err := p.repo.DeleteExpired(ctx, before, p.batchSize)
		if err != nil {
			return sweep, err
		}
		sweep.Batches++
		sweep.Deleted += deleted
		prunedKeys.Add(float64(deleted))

		if deleted < p.batchSize {
			return sweep, nil
		}
	}
	sweep.Truncated = true
	return sweep, nil
}
