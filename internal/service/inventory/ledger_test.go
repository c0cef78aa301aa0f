package inventory

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
	"github.com/vladislavdragonenkov/ordercore/internal/storage/memory"
)

func TestLedger_ReserveErrors(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	store.PutVariant(domain.Variant{ID: "empty", Stock: 0})
	store.PutVariant(domain.Variant{ID: "few", Stock: 2})
	ledger := NewLedger(nil)

	tests := []struct {
		name      string
		variantID string
		qty       int
		want      error
	}{
		{name: "out of stock", variantID: "empty", qty: 1, want: domain.ErrOutOfStock},
		{name: "insufficient stock", variantID: "few", qty: 3, want: domain.ErrInsufficientStock},
		{name: "zero quantity", variantID: "few", qty: 0, want: domain.ErrValidation},
		{name: "unknown variant", variantID: "ghost", qty: 1, want: domain.ErrVariantNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.InTx(ctx, func(tx domain.Tx) error {
				return ledger.Reserve(ctx, tx, tt.variantID, tt.qty)
			})
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	few, _ := store.Variant("few")
	assert.Equal(t, 2, few.Stock)

	// OutOfStock и InsufficientStock относятся к одному классу ошибок
	err := store.InTx(ctx, func(tx domain.Tx) error { return ledger.Reserve(ctx, tx, "empty", 1) })
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
}

func TestLedger_ReserveRelease(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	store.PutVariant(domain.Variant{ID: "v1", Stock: 5})
	ledger := NewLedger(nil)

	require.NoError(t, store.InTx(ctx, func(tx domain.Tx) error {
		if err := ledger.Reserve(ctx, tx, "v1", 3); err != nil {
			return err
		}
		return ledger.Release(ctx, tx, "v1", 1)
	}))

	v1, _ := store.Variant("v1")
	assert.Equal(t, 3, v1.Stock)
}

func TestLedger_StockNeverNegativeUnderRandomLoad(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	store.PutVariant(domain.Variant{ID: "v1", Stock: 10})
	ledger := NewLedger(nil)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		reserved int
		released int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rnd := rand.New(rand.NewSource(seed))
			qty := rnd.Intn(3) + 1
			err := store.InTx(ctx, func(tx domain.Tx) error {
				return ledger.Reserve(ctx, tx, "v1", qty)
			})
			if err != nil {
				return
			}
			mu.Lock()
			reserved += qty
			mu.Unlock()

			if rnd.Intn(2) == 0 {
				if err := store.InTx(ctx, func(tx domain.Tx) error {
					return ledger.Release(ctx, tx, "v1", qty)
				}); err == nil {
					mu.Lock()
					released += qty
					mu.Unlock()
				}
			}
		}(int64(i))
	}
	wg.Wait()

	v1, _ := store.Variant("v1")
	assert.GreaterOrEqual(t, v1.Stock, 0)
	assert.Equal(t, 10-reserved+released, v1.Stock)
}

func TestMockLedger_FailsAfterThreshold(t *testing.T) {
	ctx := context.Background()
	mock := NewMockLedger(nil)
	mock.ReserveErr = errors.New("reserve failed")
	mock.FailReserveAfter = 1

	assert.NoError(t, mock.Reserve(ctx, nil, "v1", 1))
	assert.Error(t, mock.Reserve(ctx, nil, "v2", 1))
	assert.NoError(t, mock.Release(ctx, nil, "v1", 1))

	reserve, release := mock.Calls()
	assert.Equal(t, 2, reserve)
	assert.Equal(t, 1, release)
}
