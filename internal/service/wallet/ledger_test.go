package wallet

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
	"github.com/vladislavdragonenkov/ordercore/internal/storage/memory"
)

func amount(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func credit(t *testing.T, store *memory.Store, ledger *Ledger, userID string, v int64) domain.WalletTransaction {
	t.Helper()
	var txn domain.WalletTransaction
	require.NoError(t, store.InTx(context.Background(), func(tx domain.Tx) error {
		var err error
		txn, err = ledger.Credit(context.Background(), tx, domain.WalletEntry{
			UserID: userID, Amount: amount(v), Description: domain.DescriptionCancelRefund, OrderID: "order-1",
		})
		return err
	}))
	return txn
}

func TestLedger_CreditCreatesWalletLazily(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	ledger := NewLedger(store)

	before, err := ledger.Wallet(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, before.Balance.IsZero())

	txn := credit(t, store, ledger, "u1", 250)
	assert.Equal(t, domain.TransactionCredit, txn.Type)
	assert.True(t, txn.BalanceAfter.Equal(amount(250)))
	assert.Equal(t, "order-1", txn.OrderID)

	wallet, err := ledger.Wallet(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, wallet.Balance.Equal(amount(250)))

	events := store.Outbox().AllPending()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventWalletCredited, events[0].EventType)
}

func TestLedger_DebitErrors(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	ledger := NewLedger(store)

	debit := func(userID string, v decimal.Decimal) error {
		return store.InTx(ctx, func(tx domain.Tx) error {
			_, err := ledger.Debit(ctx, tx, domain.WalletEntry{UserID: userID, Amount: v, Description: domain.DescriptionOrderPayment})
			return err
		})
	}

	assert.ErrorIs(t, debit("u1", amount(10)), domain.ErrWalletNotFound)

	credit(t, store, ledger, "u1", 100)
	err := debit("u1", amount(101))
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.Equal(t, domain.KindInsufficientBalance, domain.KindOf(err))

	assert.ErrorIs(t, debit("u1", amount(0)), domain.ErrValidation)
	assert.ErrorIs(t, debit("u1", amount(-5)), domain.ErrValidation)

	require.NoError(t, debit("u1", amount(100)))
	wallet, _ := ledger.Wallet(ctx, "u1")
	assert.True(t, wallet.Balance.IsZero())
}

func TestLedger_HistoryReplaysToBalance(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	ledger := NewLedger(store)

	credit(t, store, ledger, "u1", 500)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = store.InTx(ctx, func(tx domain.Tx) error {
				entry := domain.WalletEntry{UserID: "u1", Amount: amount(int64(10 + i)), Description: domain.DescriptionOrderPayment}
				if i%3 == 0 {
					entry.Description = domain.DescriptionReturnRefund
					_, err := ledger.Credit(ctx, tx, entry)
					return err
				}
				_, err := ledger.Debit(ctx, tx, entry)
				return err
			})
		}(i)
	}
	wg.Wait()

	page, err := ledger.Transactions(ctx, "u1", 1, 100)
	require.NoError(t, err)
	require.Equal(t, page.Total, len(page.Items))

	// журнал отдаётся от новых к старым, проигрываем с начала
	running := decimal.Zero
	for i := len(page.Items) - 1; i >= 0; i-- {
		txn := page.Items[i]
		running = running.Add(txn.Signed())
		assert.True(t, txn.BalanceAfter.Equal(running), "balance_after mismatch at %s", txn.ID)
		assert.False(t, txn.BalanceAfter.IsNegative())
	}

	wallet, _ := ledger.Wallet(ctx, "u1")
	assert.True(t, wallet.Balance.Equal(running))
}

func TestLedger_DepositAndPaging(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	ledger := NewLedger(store)

	for i := 1; i <= 3; i++ {
		_, err := ledger.Deposit(ctx, "u1", amount(int64(i*100)), "ext-"+string(rune('0'+i)))
		require.NoError(t, err)
	}

	page, err := ledger.Transactions(ctx, "u1", 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "ext-1", page.Items[0].ExternalTxID)
	assert.Equal(t, domain.DescriptionDeposit, page.Items[0].Description)

	_, err = ledger.Deposit(ctx, "", amount(10), "")
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

// walletsCreatedElsewhere имитирует кошелёк, созданный параллельной транзакцией
// между чтением и вставкой.
type walletsCreatedElsewhere struct {
	domain.WalletRepository
}

func (r walletsCreatedElsewhere) Create(ctx context.Context, wallet domain.Wallet) error {
	wallet.Balance = amount(40)
	if err := r.WalletRepository.Create(ctx, wallet); err != nil {
		return err
	}
	return domain.ErrConflict
}

type concurrentCreateTx struct {
	domain.Tx
}

func (t concurrentCreateTx) Wallets() domain.WalletRepository {
	return walletsCreatedElsewhere{WalletRepository: t.Tx.Wallets()}
}

func TestLedger_CreditRereadsWalletCreatedConcurrently(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	ledger := NewLedger(store)

	var txn domain.WalletTransaction
	require.NoError(t, store.InTx(ctx, func(tx domain.Tx) error {
		var err error
		txn, err = ledger.Credit(ctx, concurrentCreateTx{Tx: tx}, domain.WalletEntry{
			UserID: "u1", Amount: amount(60), Description: domain.DescriptionCancelRefund, OrderID: "ORD-1",
		})
		return err
	}))
	assert.True(t, txn.BalanceAfter.Equal(amount(100)), "balance after %s", txn.BalanceAfter)

	wallet, err := ledger.Wallet(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, wallet.Balance.Equal(amount(100)))
}
