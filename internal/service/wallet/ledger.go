package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

const defaultPageSize = 20

// Ledger ведёт балансы пользователей и журнал операций.
// Баланс и запись журнала всегда меняются в одной транзакции.
type Ledger struct {
	store  domain.Store
	logger *log.Entry
	now    func() time.Time
}

// Option настраивает Ledger.
type Option func(*Ledger)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLedger создаёт кошельковый журнал поверх хранилища.
func NewLedger(store domain.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		logger: log.New().WithField("component", "wallet"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Credit зачисляет средства. Кошелёк создаётся с нулевым балансом, если его нет.
func (l *Ledger) Credit(ctx context.Context, tx domain.Tx, entry domain.WalletEntry) (domain.WalletTransaction, error) {
	if err := entry.Validate(); err != nil {
		return domain.WalletTransaction{}, err
	}

	wallet, err := l.walletForCredit(ctx, tx, entry.UserID)
	if err != nil {
		return domain.WalletTransaction{}, err
	}

	wallet.Balance = wallet.Balance.Add(entry.Amount)
	return l.apply(ctx, tx, wallet, domain.TransactionCredit, entry)
}

// walletForCredit блокирует кошелёк, создавая его при первом зачислении.
// Если кошелёк успела создать параллельная транзакция, строка перечитывается
// под блокировкой.
func (l *Ledger) walletForCredit(ctx context.Context, tx domain.Tx, userID string) (domain.Wallet, error) {
	wallet, err := tx.Wallets().GetForUpdate(ctx, userID)
	if !errors.Is(err, domain.ErrWalletNotFound) {
		return wallet, err
	}

	now := l.now()
	wallet = domain.Wallet{UserID: userID, Balance: decimal.Zero, CreatedAt: now, UpdatedAt: now}
	err = tx.Wallets().Create(ctx, wallet)
	switch {
	case err == nil:
		return wallet, nil
	case errors.Is(err, domain.ErrConflict):
		l.logger.WithField("user_id", userID).Debug("wallet created concurrently, re-reading")
		return tx.Wallets().GetForUpdate(ctx, userID)
	default:
		return domain.Wallet{}, fmt.Errorf("create wallet: %w", err)
	}
}

// Debit списывает средства; баланс не может стать отрицательным.
func (l *Ledger) Debit(ctx context.Context, tx domain.Tx, entry domain.WalletEntry) (domain.WalletTransaction, error) {
	if err := entry.Validate(); err != nil {
		return domain.WalletTransaction{}, err
	}

	wallet, err := tx.Wallets().GetForUpdate(ctx, entry.UserID)
	if err != nil {
		return domain.WalletTransaction{}, err
	}
	if wallet.Balance.LessThan(entry.Amount) {
		return domain.WalletTransaction{}, fmt.Errorf("%w: balance %s, requested %s",
			domain.ErrInsufficientBalance, wallet.Balance.StringFixed(2), entry.Amount.StringFixed(2))
	}

	wallet.Balance = wallet.Balance.Sub(entry.Amount)
	return l.apply(ctx, tx, wallet, domain.TransactionDebit, entry)
}

func (l *Ledger) apply(ctx context.Context, tx domain.Tx, wallet domain.Wallet, kind domain.TransactionType, entry domain.WalletEntry) (domain.WalletTransaction, error) {
	now := l.now()
	wallet.UpdatedAt = now
	if err := tx.Wallets().UpdateBalance(ctx, wallet); err != nil {
		return domain.WalletTransaction{}, fmt.Errorf("update balance: %w", err)
	}

	txn := domain.WalletTransaction{
		ID:           uuid.NewString(),
		UserID:       entry.UserID,
		Type:         kind,
		Amount:       entry.Amount,
		Description:  entry.Description,
		OrderID:      entry.OrderID,
		OrderNumber:  entry.OrderNumber,
		ExternalTxID: entry.ExternalTxID,
		BalanceAfter: wallet.Balance,
		CreatedAt:    now,
	}
	if err := tx.Wallets().AppendTransaction(ctx, txn); err != nil {
		return domain.WalletTransaction{}, fmt.Errorf("append wallet transaction: %w", err)
	}

	eventType := domain.EventWalletCredited
	if kind == domain.TransactionDebit {
		eventType = domain.EventWalletDebited
	}
	msg, err := domain.NewOutboxMessage(domain.AggregateWallet, entry.UserID, eventType, domain.WalletEvent{
		TransactionID: txn.ID,
		UserID:        txn.UserID,
		Type:          txn.Type,
		Amount:        txn.Amount,
		BalanceAfter:  txn.BalanceAfter,
		OrderID:       txn.OrderID,
		OrderNumber:   txn.OrderNumber,
		Description:   txn.Description,
		OccurredAt:    now,
	})
	if err != nil {
		return domain.WalletTransaction{}, err
	}
	if _, err := tx.Outbox().Enqueue(ctx, msg); err != nil {
		return domain.WalletTransaction{}, fmt.Errorf("enqueue wallet event: %w", err)
	}

	l.logger.WithFields(log.Fields{
		"user_id":       txn.UserID,
		"type":          txn.Type,
		"amount":        txn.Amount.String(),
		"balance_after": txn.BalanceAfter.String(),
		"order_id":      txn.OrderID,
		"order_number":  txn.OrderNumber,
	}).Info("wallet transaction recorded")

	return txn, nil
}

// Deposit пополняет кошелёк внешним платежом в отдельной транзакции.
func (l *Ledger) Deposit(ctx context.Context, userID string, amount decimal.Decimal, externalTxID string) (domain.WalletTransaction, error) {
	var txn domain.WalletTransaction
	err := l.store.InTx(ctx, func(tx domain.Tx) error {
		var err error
		txn, err = l.Credit(ctx, tx, domain.WalletEntry{
			UserID:       userID,
			Amount:       amount,
			Description:  domain.DescriptionDeposit,
			ExternalTxID: externalTxID,
		})
		return err
	})
	return txn, err
}

// Wallet возвращает кошелёк пользователя; до первого зачисления баланс нулевой.
func (l *Ledger) Wallet(ctx context.Context, userID string) (domain.Wallet, error) {
	var wallet domain.Wallet
	err := l.store.InTx(ctx, func(tx domain.Tx) error {
		var err error
		wallet, err = tx.Wallets().GetForUpdate(ctx, userID)
		if errors.Is(err, domain.ErrWalletNotFound) {
			wallet = domain.Wallet{UserID: userID, Balance: decimal.Zero}
			return nil
		}
		return err
	})
	return wallet, err
}

// TransactionPage — страница журнала операций.
type TransactionPage struct {
	Items []domain.WalletTransaction
	Total int
	Page  int
	Limit int
}

// Transactions возвращает страницу журнала, новые операции первыми. Страницы нумеруются с 1.
func (l *Ledger) Transactions(ctx context.Context, userID string, page, limit int) (TransactionPage, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = defaultPageSize
	}

	result := TransactionPage{Page: page, Limit: limit}
	err := l.store.InTx(ctx, func(tx domain.Tx) error {
		var err error
		result.Items, result.Total, err = tx.Wallets().ListTransactions(ctx, userID, limit, (page-1)*limit)
		return err
	})
	return result, err
}

var _ domain.WalletLedger = (*Ledger)(nil)
