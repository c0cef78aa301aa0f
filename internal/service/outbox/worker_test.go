package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
	"github.com/vladislavdragonenkov/ordercore/internal/storage/memory"
)

func placedEvent(id, orderID string) domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            id,
		AggregateType: domain.AggregateOrder,
		AggregateID:   orderID,
		EventType:     domain.EventOrderPlaced,
		Payload:       []byte(`{"order_id":"` + orderID + `"}`),
	}
}

func TestWorker_ProcessOnce_MarkSent(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{pending: []domain.OutboxMessage{placedEvent("msg-1", "order-1")}}
	publisher := &stubPublisher{}

	worker := NewWorker(repo, publisher, WithRetryBaseDelay(0), WithMaxAttempts(3))
	batch := worker.ProcessOnce(context.Background())
	require.Equal(t, 1, batch.Sent)
	require.Equal(t, 1, batch.ByAggregate[domain.AggregateOrder])

	if got := repo.sent(); len(got) != 1 || got[0] != "msg-1" {
		t.Fatalf("expected msg-1 marked sent, got %v", got)
	}
	if got := repo.failed(); len(got) != 0 {
		t.Fatalf("expected 0 failed marks, got %d", len(got))
	}
	if got := publisher.calls(); got != 1 {
		t.Fatalf("expected 1 publish call, got %d", got)
	}
}

func TestWorker_ProcessOnce_MarkFailedAndDLQAfterRetries(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{pending: []domain.OutboxMessage{placedEvent("msg-2", "order-2")}}
	publisher := &stubPublisher{err: errors.New("broker unavailable")}
	dlqPublisher := &stubDeadLetters{}

	worker := NewWorker(
		repo,
		publisher,
		WithDLQPublisher(dlqPublisher),
		WithRetryBaseDelay(0),
		WithMaxAttempts(3),
	)
	batch := worker.ProcessOnce(context.Background())
	require.Equal(t, Batch{DeadLettered: 1, ByAggregate: map[string]int{}}, batch)

	if got := publisher.calls(); got != 3 {
		t.Fatalf("expected 3 publish attempts, got %d", got)
	}
	if got := repo.sent(); len(got) != 0 {
		t.Fatalf("expected 0 sent marks, got %d", len(got))
	}
	if got := repo.failed(); len(got) != 1 || got[0] != "msg-2" {
		t.Fatalf("expected msg-2 marked failed, got %v", got)
	}

	dlq := dlqPublisher.letters()
	require.Len(t, dlq, 1)
	require.Equal(t, placedEvent("msg-2", "order-2"), dlq[0].msg, "dlq must receive the original message")
	require.ErrorIs(t, dlq[0].cause, domain.ErrOutboxPublish)
	require.ErrorContains(t, dlq[0].cause, "broker unavailable")
}

func TestWorker_ProcessOnce_FailureDoesNotBlockOtherAggregates(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{pending: []domain.OutboxMessage{
		placedEvent("msg-5", "order-5"),
		{ID: "msg-6", AggregateType: domain.AggregateWallet, AggregateID: "user-1", EventType: domain.EventWalletCredited},
		{ID: "msg-7", AggregateType: domain.AggregateCoupon, AggregateID: "SAVE10", EventType: domain.EventCouponApplied},
	}}
	publisher := &stubPublisher{failFor: domain.AggregateWallet}

	worker := NewWorker(repo, publisher, WithRetryBaseDelay(0), WithMaxAttempts(2), WithDLQPublisher(&stubDeadLetters{}))
	batch := worker.ProcessOnce(context.Background())

	require.Equal(t, 2, batch.Sent)
	require.Equal(t, 1, batch.DeadLettered)
	require.Equal(t, map[string]int{domain.AggregateOrder: 1, domain.AggregateCoupon: 1}, batch.ByAggregate)
	require.Equal(t, []string{"msg-5", "msg-7"}, repo.sent())
	require.Equal(t, []string{"msg-6"}, repo.failed())
}

func TestWorker_BacklogGaugesByAggregate(t *testing.T) {
	repo := &stubOutboxRepo{}
	repo.stats.Add(domain.AggregateWallet, 4, time.Now().Add(-time.Minute))
	repo.stats.Add("refund", 1, time.Now())

	worker := NewWorker(repo, &stubPublisher{}, WithRetryBaseDelay(0))
	worker.ProcessOnce(context.Background())

	require.Equal(t, 4.0, testutil.ToFloat64(pendingRecords.WithLabelValues(domain.AggregateWallet)))
	require.Zero(t, testutil.ToFloat64(pendingRecords.WithLabelValues(domain.AggregateOrder)))
	require.Equal(t, 1.0, testutil.ToFloat64(pendingRecords.WithLabelValues("refund")))
	require.Greater(t, testutil.ToFloat64(oldestPendingAge.WithLabelValues(domain.AggregateWallet)), 30.0)

	repo.stats = domain.OutboxStats{}
	worker.ProcessOnce(context.Background())
	require.Zero(t, testutil.ToFloat64(pendingRecords.WithLabelValues("refund")), "drained aggregate must reset to zero")
}

func TestWorker_ProcessOnce_SuccessAfterRetry(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{pending: []domain.OutboxMessage{placedEvent("msg-3", "order-3")}}
	publisher := &stubPublisher{
		sequenceErrors: []error{errors.New("attempt 1"), errors.New("attempt 2"), nil},
	}

	worker := NewWorker(repo, publisher, WithRetryBaseDelay(0), WithMaxAttempts(3))
	worker.ProcessOnce(context.Background())

	if got := publisher.calls(); got != 3 {
		t.Fatalf("expected 3 publish attempts, got %d", got)
	}
	if got := repo.sent(); len(got) != 1 {
		t.Fatalf("expected 1 sent mark, got %d", len(got))
	}
}

func TestWorker_ProcessOnce_CommittedEventsFromStore(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	ctx := context.Background()

	require.NoError(t, store.InTx(ctx, func(tx domain.Tx) error {
		_, err := tx.Outbox().Enqueue(ctx, placedEvent("", "order-10"))
		return err
	}))
	require.Error(t, store.InTx(ctx, func(tx domain.Tx) error {
		if _, err := tx.Outbox().Enqueue(ctx, placedEvent("", "order-11")); err != nil {
			return err
		}
		return errors.New("rollback")
	}))

	publisher := &stubPublisher{}
	worker := NewWorker(store.Outbox(), publisher, WithRetryBaseDelay(0))
	worker.ProcessOnce(ctx)

	published := publisher.published()
	require.Len(t, published, 1)
	require.Equal(t, "order-10", published[0].AggregateID)

	stats, err := store.Outbox().Stats(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.PendingCount)
}

func TestWorker_ProcessOnce_CancelledContext(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{pending: []domain.OutboxMessage{placedEvent("msg-4", "order-4")}}
	publisher := &stubPublisher{}
	worker := NewWorker(repo, publisher)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	worker.ProcessOnce(ctx)

	require.Zero(t, publisher.calls())
}

func TestWorker_RetryBackoff(t *testing.T) {
	t.Parallel()

	worker := NewWorker(&stubOutboxRepo{}, &stubPublisher{}, WithRetryBaseDelay(10*time.Millisecond))
	require.Equal(t, 10*time.Millisecond, worker.retryBackoff(1))
	require.Equal(t, 20*time.Millisecond, worker.retryBackoff(2))
	require.Equal(t, 40*time.Millisecond, worker.retryBackoff(3))
	require.Equal(t, maxRetryDelay, worker.retryBackoff(64))

	worker = NewWorker(&stubOutboxRepo{}, &stubPublisher{}, WithRetryBaseDelay(0))
	require.Zero(t, worker.retryBackoff(5))
}

func TestWorker_Run_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	worker := NewWorker(
		&stubOutboxRepo{},
		&stubPublisher{},
		WithPollInterval(5*time.Millisecond),
		WithRetryBaseDelay(0),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	time.Sleep(15 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
}

type stubOutboxRepo struct {
	mu        sync.Mutex
	pending   []domain.OutboxMessage
	stats     domain.OutboxStats
	sentIDs   []string
	failedIDs []string
}

func (s *stubOutboxRepo) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	return msg, nil
}

func (s *stubOutboxRepo) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit >= len(s.pending) {
		return append([]domain.OutboxMessage(nil), s.pending...), nil
	}
	return append([]domain.OutboxMessage(nil), s.pending[:limit]...), nil
}

func (s *stubOutboxRepo) Stats(_ context.Context) (domain.OutboxStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats, nil
}

func (s *stubOutboxRepo) MarkSent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sentIDs = append(s.sentIDs, id)
	return nil
}

func (s *stubOutboxRepo) MarkFailed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failedIDs = append(s.failedIDs, id)
	return nil
}

func (s *stubOutboxRepo) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sentIDs...)
}

func (s *stubOutboxRepo) failed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.failedIDs...)
}

type stubPublisher struct {
	mu             sync.Mutex
	err            error
	failFor        string
	sequenceErrors []error
	callCount      int
	messages       []domain.OutboxMessage
}

func (s *stubPublisher) Publish(msg domain.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.callCount++
	err := s.err
	if s.failFor != "" && msg.AggregateType == s.failFor {
		err = errors.New("topic unavailable")
	}
	if len(s.sequenceErrors) > 0 {
		err = s.sequenceErrors[0]
		s.sequenceErrors = s.sequenceErrors[1:]
	}
	if err == nil {
		s.messages = append(s.messages, msg)
	}
	return err
}

func (s *stubPublisher) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callCount
}

func (s *stubPublisher) published() []domain.OutboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.OutboxMessage(nil), s.messages...)
}

type deadLetter struct {
	msg   domain.OutboxMessage
	cause error
}

type stubDeadLetters struct {
	mu   sync.Mutex
	sent []deadLetter
}

func (s *stubDeadLetters) PublishDeadLetter(msg domain.OutboxMessage, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, deadLetter{msg: msg, cause: cause})
	return nil
}

func (s *stubDeadLetters) letters() []deadLetter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]deadLetter(nil), s.sent...)
}

var (
	_ domain.OutboxRepository    = (*stubOutboxRepo)(nil)
	_ domain.OutboxPublisher     = (*stubPublisher)(nil)
	_ domain.DeadLetterPublisher = (*stubDeadLetters)(nil)
)
