package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

const defaultIdempotencyTTL = 24 * time.Hour

// idempotencyLedger хранит ключи идемпотентности gRPC-вызовов в памяти процесса.
type idempotencyLedger struct {
	mu      sync.Mutex
	records map[string]domain.IdempotencyRecord
	now     func() time.Time
}

// NewIdempotencyRepository создаёт in-memory хранилище ключей идемпотентности.
func NewIdempotencyRepository() domain.IdempotencyRepository {
	return &idempotencyLedger{
		records: make(map[string]domain.IdempotencyRecord),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (l *idempotencyLedger) Claim(_ context.Context, claim domain.IdempotencyClaim) (domain.IdempotencyRecord, error) {
	claim, err := claim.Normalize()
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}
	now := l.now()
	if claim.ExpiresAt.IsZero() {
		claim.ExpiresAt = now.Add(defaultIdempotencyTTL)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	current, taken := l.records[claim.Key]
	if taken {
		if current.RequestHash != claim.RequestHash {
			return cloneIdempotency(current), domain.ErrIdempotencyHashMismatch
		}
		if !current.Reclaimable(claim.StaleBefore) {
			return cloneIdempotency(current), domain.ErrIdempotencyKeyAlreadyExists
		}
	}

	next := domain.IdempotencyRecord{
		Key:         claim.Key,
		Method:      claim.Method,
		RequestHash: claim.RequestHash,
		Status:      domain.IdempotencyStatusProcessing,
		Attempts:    current.Attempts + 1,
		TTLAt:       claim.ExpiresAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if taken {
		next.CreatedAt = current.CreatedAt
	}
	l.records[claim.Key] = next
	return next, nil
}

func (l *idempotencyLedger) Get(_ context.Context, key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.records[key]
	if !ok {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	return cloneIdempotency(record), nil
}

func (l *idempotencyLedger) Complete(_ context.Context, key string, outcome domain.IdempotencyOutcome) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}
	if !outcome.Status.Terminal() {
		return fmt.Errorf("complete idempotency key %s with status %q", key, outcome.Status)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.records[key]
	if !ok {
		return domain.ErrIdempotencyKeyNotFound
	}
	if record.Status != domain.IdempotencyStatusProcessing {
		return fmt.Errorf("%w: key %s is %s", domain.ErrIdempotencyClaimLost, key, record.Status)
	}

	record.Status = outcome.Status
	record.ResponseBody = slices.Clone(outcome.Body)
	record.StatusCode = outcome.Code
	record.Retryable = outcome.Status == domain.IdempotencyStatusFailed && outcome.Retryable
	record.UpdatedAt = l.now()
	l.records[key] = record
	return nil
}

func (l *idempotencyLedger) DeleteExpired(_ context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = l.now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	expired := make([]domain.IdempotencyRecord, 0)
	for _, record := range l.records {
		if !record.TTLAt.After(before) {
			expired = append(expired, record)
		}
	}
	slices.SortFunc(expired, func(a, b domain.IdempotencyRecord) int {
		return cmp.Or(a.TTLAt.Compare(b.TTLAt), cmp.Compare(a.Key, b.Key))
	})
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}

	for _, record := range expired {
		delete(l.records, record.Key)
	}
	return len(expired), nil
}

var _ domain.IdempotencyRepository = (*idempotencyLedger)(nil)

func cloneIdempotency(record domain.IdempotencyRecord) domain.IdempotencyRecord {
	record.ResponseBody = slices.Clone(record.ResponseBody)
	return record
}
