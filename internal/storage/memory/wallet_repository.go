package memory

import (
	"context"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

type walletRepository struct {
	tx *memTx
}

// GetForUpdate возвращает кошелёк. Эксклюзивность обеспечивает транзакция Store.
func (r walletRepository) GetForUpdate(_ context.Context, userID string) (domain.Wallet, error) {
	wallet, ok := r.tx.store.wallets[userID]
	if !ok {
		return domain.Wallet{}, domain.ErrWalletNotFound
	}
	return wallet, nil
}

func (r walletRepository) Create(_ context.Context, wallet domain.Wallet) error {
	s := r.tx.store
	if _, exists := s.wallets[wallet.UserID]; exists {
		return domain.ErrConflict
	}
	put(r.tx, s.wallets, wallet.UserID, wallet)
	return nil
}

func (r walletRepository) UpdateBalance(_ context.Context, wallet domain.Wallet) error {
	s := r.tx.store
	if _, exists := s.wallets[wallet.UserID]; !exists {
		return domain.ErrWalletNotFound
	}
	put(r.tx, s.wallets, wallet.UserID, wallet)
	return nil
}

func (r walletRepository) AppendTransaction(_ context.Context, txn domain.WalletTransaction) error {
	s := r.tx.store
	history := s.walletTxns[txn.UserID]
	next := make([]domain.WalletTransaction, len(history), len(history)+1)
	copy(next, history)
	next = append(next, txn)
	put(r.tx, s.walletTxns, txn.UserID, next)
	return nil
}

// ListTransactions отдаёт журнал от новых к старым.
func (r walletRepository) ListTransactions(_ context.Context, userID string, limit, offset int) ([]domain.WalletTransaction, int, error) {
	history := r.tx.store.walletTxns[userID]
	total := len(history)

	result := make([]domain.WalletTransaction, 0)
	for i := total - 1 - offset; i >= 0; i-- {
		result = append(result, history[i])
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, total, nil
}

type cartRepository struct {
	tx *memTx
}

func (r cartRepository) Remove(_ context.Context, userID, productID, variantID string) error {
	remove(r.tx, r.tx.store.carts, shopperKey{userID, productID, variantID})
	return nil
}

type wishlistRepository struct {
	tx *memTx
}

func (r wishlistRepository) Remove(_ context.Context, userID, productID, variantID string) error {
	remove(r.tx, r.tx.store.wishlists, shopperKey{userID, productID, variantID})
	return nil
}

var (
	_ domain.WalletRepository   = walletRepository{}
	_ domain.CartRepository     = cartRepository{}
	_ domain.WishlistRepository = wishlistRepository{}
)
