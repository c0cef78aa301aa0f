package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

type walletRepository struct {
	q querier
}

// GetForUpdate блокирует строку кошелька до конца транзакции.
func (r walletRepository) GetForUpdate(ctx context.Context, userID string) (domain.Wallet, error) {
	var wallet domain.Wallet
	err := r.q.QueryRowContext(ctx, `
		SELECT user_id, balance, created_at, updated_at
		FROM wallets
		WHERE user_id = $1
		FOR UPDATE
	`, userID).Scan(&wallet.UserID, &wallet.Balance, &wallet.CreatedAt, &wallet.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Wallet{}, domain.ErrWalletNotFound
		}
		return domain.Wallet{}, fmt.Errorf("select wallet: %w", err)
	}
	wallet.CreatedAt = wallet.CreatedAt.UTC()
	wallet.UpdatedAt = wallet.UpdatedAt.UTC()
	return wallet, nil
}

// Create вставляет кошелёк без прерывания транзакции при гонке:
// если кошелёк уже создан параллельно, возвращается ErrConflict.
func (r walletRepository) Create(ctx context.Context, wallet domain.Wallet) error {
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO wallets (user_id, balance, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO NOTHING
	`, wallet.UserID, wallet.Balance, wallet.CreatedAt, wallet.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert wallet: %w", err)
	}
	affected, err := rowsAffected(res, "wallet insert")
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r walletRepository) UpdateBalance(ctx context.Context, wallet domain.Wallet) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE wallets SET balance = $2, updated_at = $3 WHERE user_id = $1
	`, wallet.UserID, wallet.Balance, wallet.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update wallet: %w", err)
	}
	affected, err := rowsAffected(res, "wallet update")
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrWalletNotFound
	}
	return nil
}

func (r walletRepository) AppendTransaction(ctx context.Context, txn domain.WalletTransaction) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO wallet_transactions (
			id, user_id, type, amount, description, order_id, order_number, external_tx_id, balance_after, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		txn.ID, txn.UserID, string(txn.Type), txn.Amount, txn.Description,
		txn.OrderID, txn.OrderNumber, txn.ExternalTxID, txn.BalanceAfter, txn.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return fmt.Errorf("insert wallet transaction: %w", err)
	}
	return nil
}

// ListTransactions отдаёт журнал в порядке, обратном записи.
func (r walletRepository) ListTransactions(ctx context.Context, userID string, limit, offset int) ([]domain.WalletTransaction, int, error) {
	var total int
	if err := r.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM wallet_transactions WHERE user_id = $1
	`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count wallet transactions: %w", err)
	}

	query := `
		SELECT id, user_id, type, amount, description, order_id, order_number, external_tx_id, balance_after, created_at
		FROM wallet_transactions
		WHERE user_id = $1
		ORDER BY seq DESC
		OFFSET $2
	`
	args := []any{userID, max(offset, 0)}
	if limit > 0 {
		query += " LIMIT $3"
		args = append(args, limit)
	}

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list wallet transactions: %w", err)
	}
	defer rows.Close()

	result := make([]domain.WalletTransaction, 0)
	for rows.Next() {
		var (
			txn     domain.WalletTransaction
			txnType string
		)
		if err := rows.Scan(
			&txn.ID, &txn.UserID, &txnType, &txn.Amount, &txn.Description,
			&txn.OrderID, &txn.OrderNumber, &txn.ExternalTxID, &txn.BalanceAfter, &txn.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan wallet transaction: %w", err)
		}
		txn.Type = domain.TransactionType(txnType)
		txn.CreatedAt = txn.CreatedAt.UTC()
		result = append(result, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate wallet transactions: %w", err)
	}
	return result, total, nil
}

type cartRepository struct {
	q querier
}

func (r cartRepository) Remove(ctx context.Context, userID, productID, variantID string) error {
	if _, err := r.q.ExecContext(ctx, `
		DELETE FROM cart_items WHERE user_id = $1 AND product_id = $2 AND variant_id = $3
	`, userID, productID, variantID); err != nil {
		return fmt.Errorf("delete cart item: %w", err)
	}
	return nil
}

type wishlistRepository struct {
	q querier
}

func (r wishlistRepository) Remove(ctx context.Context, userID, productID, variantID string) error {
	if _, err := r.q.ExecContext(ctx, `
		DELETE FROM wishlist_items WHERE user_id = $1 AND product_id = $2 AND variant_id = $3
	`, userID, productID, variantID); err != nil {
		return fmt.Errorf("delete wishlist item: %w", err)
	}
	return nil
}

var (
	_ domain.WalletRepository   = walletRepository{}
	_ domain.CartRepository     = cartRepository{}
	_ domain.WishlistRepository = wishlistRepository{}
)
