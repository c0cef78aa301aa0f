package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
	"github.com/vladislavdragonenkov/ordercore/internal/storage/memory"
)

func claimFor(key, hash string, ttl time.Time) domain.IdempotencyClaim {
	return domain.IdempotencyClaim{Key: key, Method: "PlaceOrder", RequestHash: hash, ExpiresAt: ttl}
}

func TestIdempotencyRepository_ClaimAndGet(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewIdempotencyRepository()
	ttl := time.Now().UTC().Add(2 * time.Hour).Round(time.Second)

	claimed, err := repo.Claim(ctx, claimFor("idem-key-1", "hash-1", ttl))
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if claimed.Status != domain.IdempotencyStatusProcessing || claimed.Attempts != 1 {
		t.Fatalf("unexpected claimed record %+v", claimed)
	}

	got, err := repo.Get(ctx, "idem-key-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.RequestHash != "hash-1" || got.Method != "PlaceOrder" {
		t.Fatalf("unexpected record %+v", got)
	}
	if !got.TTLAt.Equal(ttl) {
		t.Fatalf("expected ttl %s, got %s", ttl, got.TTLAt)
	}
}

func TestIdempotencyRepository_ConflictAndHashMismatch(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewIdempotencyRepository()
	ttl := time.Now().UTC().Add(time.Hour)

	if _, err := repo.Claim(ctx, claimFor("idem-key-2", "hash-a", ttl)); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}

	current, err := repo.Claim(ctx, claimFor("idem-key-2", "hash-a", ttl))
	if !errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists) {
		t.Fatalf("expected ErrIdempotencyKeyAlreadyExists, got %v", err)
	}
	if current.Status != domain.IdempotencyStatusProcessing {
		t.Fatalf("conflict must return the current record, got %+v", current)
	}

	if _, err := repo.Claim(ctx, claimFor("idem-key-2", "hash-b", ttl)); !errors.Is(err, domain.ErrIdempotencyHashMismatch) {
		t.Fatalf("expected ErrIdempotencyHashMismatch, got %v", err)
	}
}

func TestIdempotencyRepository_ReclaimsAbandonedProcessing(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewIdempotencyRepository()
	ttl := time.Now().UTC().Add(time.Hour)

	if _, err := repo.Claim(ctx, claimFor("idem-stale", "hash", ttl)); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}

	// всё, что обновлялось раньше чем через минуту, считается брошенным
	claim := claimFor("idem-stale", "hash", ttl)
	claim.StaleBefore = time.Now().UTC().Add(time.Minute)

	other := claim
	other.RequestHash = "other"
	if _, err := repo.Claim(ctx, other); !errors.Is(err, domain.ErrIdempotencyHashMismatch) {
		t.Fatalf("foreign payload must not take the key over, got %v", err)
	}

	reclaimed, err := repo.Claim(ctx, claim)
	if err != nil {
		t.Fatalf("reclaim failed: %v", err)
	}
	if reclaimed.Attempts != 2 {
		t.Fatalf("expected second attempt, got %d", reclaimed.Attempts)
	}
}

func TestIdempotencyRepository_RetryableFailureIsReclaimed(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewIdempotencyRepository()
	ttl := time.Now().UTC().Add(time.Hour)

	for _, key := range []string{"idem-transient", "idem-permanent"} {
		if _, err := repo.Claim(ctx, claimFor(key, "hash", ttl)); err != nil {
			t.Fatalf("Claim(%s) failed: %v", key, err)
		}
	}
	if err := repo.Complete(ctx, "idem-transient", domain.IdempotencyOutcome{Status: domain.IdempotencyStatusFailed, Code: 14, Retryable: true}); err != nil {
		t.Fatalf("Complete transient failed: %v", err)
	}
	if err := repo.Complete(ctx, "idem-permanent", domain.IdempotencyOutcome{Status: domain.IdempotencyStatusFailed, Code: 9}); err != nil {
		t.Fatalf("Complete permanent failed: %v", err)
	}

	again, err := repo.Claim(ctx, claimFor("idem-transient", "hash", ttl))
	if err != nil {
		t.Fatalf("transient failure must be reclaimable: %v", err)
	}
	if again.Status != domain.IdempotencyStatusProcessing || again.StatusCode != 0 || again.Retryable {
		t.Fatalf("reclaimed record must be reset, got %+v", again)
	}

	stored, err := repo.Claim(ctx, claimFor("idem-permanent", "hash", ttl))
	if !errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists) {
		t.Fatalf("expected ErrIdempotencyKeyAlreadyExists, got %v", err)
	}
	if stored.Status != domain.IdempotencyStatusFailed || stored.StatusCode != 9 {
		t.Fatalf("permanent failure must be replayed, got %+v", stored)
	}
}

func TestIdempotencyRepository_CompleteRequiresProcessing(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewIdempotencyRepository()

	done := domain.IdempotencyOutcome{Status: domain.IdempotencyStatusDone, Body: []byte(`{"ok":true}`)}
	if err := repo.Complete(ctx, "missing", done); !errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
		t.Fatalf("expected ErrIdempotencyKeyNotFound, got %v", err)
	}

	if _, err := repo.Claim(ctx, claimFor("idem-done", "hash", time.Time{})); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if err := repo.Complete(ctx, "idem-done", domain.IdempotencyOutcome{Status: domain.IdempotencyStatusProcessing}); err == nil {
		t.Fatal("processing is not a final outcome")
	}
	if err := repo.Complete(ctx, "idem-done", done); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if err := repo.Complete(ctx, "idem-done", done); !errors.Is(err, domain.ErrIdempotencyClaimLost) {
		t.Fatalf("expected ErrIdempotencyClaimLost, got %v", err)
	}

	got, err := repo.Get(ctx, "idem-done")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != domain.IdempotencyStatusDone || string(got.ResponseBody) != `{"ok":true}` {
		t.Fatalf("unexpected record %+v", got)
	}
	if got.TTLAt.IsZero() {
		t.Fatal("zero expiry must fall back to the default ttl")
	}
}

func TestIdempotencyRepository_DeleteExpiredOldestFirst(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewIdempotencyRepository()
	now := time.Now().UTC()

	for key, offset := range map[string]time.Duration{
		"idem-oldest": -3 * time.Hour,
		"idem-older":  -2 * time.Hour,
		"idem-old":    -time.Minute,
		"idem-live":   time.Hour,
	} {
		if _, err := repo.Claim(ctx, claimFor(key, "hash-"+key, now.Add(offset))); err != nil {
			t.Fatalf("Claim(%s) failed: %v", key, err)
		}
	}

	removed, err := repo.DeleteExpired(ctx, now, 2)
	if err != nil {
		t.Fatalf("DeleteExpired failed: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected removed=2, got %d", removed)
	}
	if _, err := repo.Get(ctx, "idem-old"); err != nil {
		t.Fatalf("the youngest expired key must survive the first batch: %v", err)
	}

	removed, err = repo.DeleteExpired(ctx, now, 0)
	if err != nil {
		t.Fatalf("DeleteExpired failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected removed=1, got %d", removed)
	}
	if _, err := repo.Get(ctx, "idem-live"); err != nil {
		t.Fatalf("live key must survive: %v", err)
	}
}
