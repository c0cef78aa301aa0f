package outbox

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

const (
	defaultPollInterval   = 1 * time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
	maxRetryDelay         = 30 * time.Second
)

// Результаты попыток публикации (label result).
const (
	resultSent       = "sent"
	resultRetry      = "retry"
	resultDeadLetter = "dead_letter"
	resultDLQFailed  = "dlq_failed"
)

// aggregates — типы агрегатов, чей backlog виден в метриках даже при нуле.
var aggregates = []string{domain.AggregateOrder, domain.AggregateWallet, domain.AggregateCoupon}

var (
	publishAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ordercore_outbox_publish_attempts_total",
		Help: "Outbox publish attempts by aggregate type and result.",
	}, []string{"aggregate", "result"})
	pendingRecords = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ordercore_outbox_pending_records",
		Help: "Pending outbox records by aggregate type.",
	}, []string{"aggregate"})
	oldestPendingAge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ordercore_outbox_oldest_pending_age_seconds",
		Help: "Age of the oldest pending outbox record by aggregate type.",
	}, []string{"aggregate"})
)

// Batch — итог одного прохода по outbox.
type Batch struct {
	Sent         int
	DeadLettered int
	// ByAggregate — отправленные сообщения по типам агрегатов.
	ByAggregate map[string]int
}

type settings struct {
	logger         *log.Entry
	deadLetters    domain.DeadLetterPublisher
	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	retryBaseDelay time.Duration
}

// Option настраивает Worker.
type Option func(*settings)

func WithLogger(logger *log.Entry) Option {
	return func(s *settings) { s.logger = logger }
}

// WithDLQPublisher задаёт получателя сообщений, исчерпавших попытки.
func WithDLQPublisher(publisher domain.DeadLetterPublisher) Option {
	return func(s *settings) { s.deadLetters = publisher }
}

func WithPollInterval(interval time.Duration) Option {
	return func(s *settings) { s.pollInterval = interval }
}

func WithBatchSize(size int) Option {
	return func(s *settings) { s.batchSize = size }
}

// WithMaxAttempts задаёт число попыток публикации одного сообщения.
func WithMaxAttempts(attempts int) Option {
	return func(s *settings) { s.maxAttempts = attempts }
}

// WithRetryBaseDelay задаёт первую паузу между попытками; далее она удваивается.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(s *settings) { s.retryBaseDelay = delay }
}

// Worker доставляет события заказов, кошельков и купонов из outbox в брокер.
// Сообщение, не опубликованное за maxAttempts попыток, уходит в DLQ
// и помечается failed, чтобы не блокировать остальной поток.
type Worker struct {
	repo      domain.OutboxRepository
	publisher domain.OutboxPublisher
	settings

	mu sync.Mutex
	// labels — агрегаты, по которым уже выставлялись gauge backlog.
	labels []string
}

// NewWorker создаёт outbox worker.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Worker {
	s := settings{
		pollInterval:   defaultPollInterval,
		batchSize:      defaultBatchSize,
		maxAttempts:    defaultMaxAttempts,
		retryBaseDelay: defaultRetryBaseDelay,
	}
	for _, option := range options {
		option(&s)
	}
	if s.logger == nil {
		s.logger = log.WithField("component", "outbox-worker")
	}
	if s.pollInterval <= 0 {
		s.pollInterval = defaultPollInterval
	}
	if s.batchSize <= 0 {
		s.batchSize = defaultBatchSize
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = defaultMaxAttempts
	}
	s.retryBaseDelay = max(s.retryBaseDelay, 0)

	for _, aggregate := range aggregates {
		pendingRecords.WithLabelValues(aggregate)
		oldestPendingAge.WithLabelValues(aggregate)
	}

	return &Worker{repo: repo, publisher: publisher, settings: s, labels: slices.Clone(aggregates)}
}

// Run опрашивает outbox до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker is disabled: repo or publisher is nil")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		batch := w.ProcessOnce(ctx)
		if batch.Sent+batch.DeadLettered > 0 {
			w.logger.WithFields(log.Fields{
				"sent":          batch.Sent,
				"dead_lettered": batch.DeadLettered,
			}).Debug("outbox batch delivered")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessOnce публикует одну пачку pending-сообщений в порядке записи.
func (w *Worker) ProcessOnce(ctx context.Context) Batch {
	batch := Batch{ByAggregate: make(map[string]int)}
	if ctx.Err() != nil {
		return batch
	}

	messages, err := w.repo.PullPending(ctx, w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull pending outbox messages")
		return batch
	}

	for _, msg := range messages {
		if ctx.Err() != nil {
			break
		}
		if w.deliver(ctx, msg) {
			batch.Sent++
			batch.ByAggregate[msg.AggregateType]++
		} else if ctx.Err() == nil {
			batch.DeadLettered++
		}
	}

	w.refreshBacklog(ctx)
	return batch
}

// deliver публикует сообщение с повторами; при неудаче откладывает его в DLQ.
func (w *Worker) deliver(ctx context.Context, msg domain.OutboxMessage) bool {
	fields := log.Fields{
		"outbox_id":    msg.ID,
		"aggregate":    msg.AggregateType,
		"aggregate_id": msg.AggregateID,
		"event_type":   msg.EventType,
	}

	err := w.publishWithRetry(ctx, msg)
	if err == nil {
		if markErr := w.repo.MarkSent(ctx, msg.ID); markErr != nil {
			w.logger.WithError(markErr).WithFields(fields).Warn("failed to mark outbox message as sent")
		}
		return true
	}
	if ctx.Err() != nil {
		return false
	}

	w.logger.WithError(err).WithFields(fields).Error("outbox publish failed after retries")
	publishAttempts.WithLabelValues(msg.AggregateType, resultDeadLetter).Inc()
	if w.deadLetters != nil {
		if dlqErr := w.deadLetters.PublishDeadLetter(msg, err); dlqErr != nil {
			w.logger.WithError(dlqErr).WithFields(fields).Warn("failed to publish to DLQ")
			publishAttempts.WithLabelValues(msg.AggregateType, resultDLQFailed).Inc()
		}
	}
	if markErr := w.repo.MarkFailed(ctx, msg.ID); markErr != nil {
		w.logger.WithError(markErr).WithFields(fields).Warn("failed to mark outbox message as failed")
	}
	return false
}

func (w *Worker) publishWithRetry(ctx context.Context, msg domain.OutboxMessage) error {
	var lastErr error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		if attempt > 1 {
			if delay := w.retryBackoff(attempt - 1); delay > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(delay):
				}
			}
		}

		lastErr = w.publisher.Publish(msg)
		if lastErr == nil {
			publishAttempts.WithLabelValues(msg.AggregateType, resultSent).Inc()
			return nil
		}
		publishAttempts.WithLabelValues(msg.AggregateType, resultRetry).Inc()
	}
	return fmt.Errorf("%w: %d attempts: %w", domain.ErrOutboxPublish, w.maxAttempts, lastErr)
}

// retryBackoff — пауза после attempt-й неудачной попытки, не больше maxRetryDelay.
func (w *Worker) retryBackoff(attempt int) time.Duration {
	if w.retryBaseDelay <= 0 || attempt < 1 {
		return 0
	}
	delay := w.retryBaseDelay
	for i := 1; i < attempt && delay < maxRetryDelay; i++ {
		delay *= 2
	}
	return min(delay, maxRetryDelay)
}

func (w *Worker) refreshBacklog(ctx context.Context) {
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for aggregate := range stats.ByAggregate {
		if !slices.Contains(w.labels, aggregate) {
			w.labels = append(w.labels, aggregate)
		}
	}

	now := time.Now()
	for _, aggregate := range w.labels {
		backlog := stats.ByAggregate[aggregate]
		pendingRecords.WithLabelValues(aggregate).Set(float64(backlog.PendingCount))
		age := 0.0
		if backlog.PendingCount > 0 && !backlog.OldestPendingAt.IsZero() {
			age = max(now.Sub(backlog.OldestPendingAt).Seconds(), 0)
		}
		oldestPendingAge.WithLabelValues(aggregate).Set(age)
	}
}
