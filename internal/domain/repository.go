package domain

import (
	"context"
	"time"
)

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ вместе с позициями.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound.
	Get(ctx context.Context, id string) (Order, error)
	// GetByLineID находит заказ по позиции и блокирует его до конца транзакции.
	GetByLineID(ctx context.Context, lineID string) (Order, error)
	// ListByUser возвращает заказы пользователя, новые первыми.
	ListByUser(ctx context.Context, userID string, limit int) ([]Order, error)
	// ListCreatedBetween возвращает заказы за период [from, to).
	ListCreatedBetween(ctx context.Context, from, to time.Time) ([]Order, error)
	// ExistsForUser сообщает, есть ли у пользователя хотя бы один заказ.
	ExistsForUser(ctx context.Context, userID string) (bool, error)
	// Save применяет обновления с учётом optimistic locking.
	Save(ctx context.Context, order Order) error
	// NextSequence атомарно увеличивает именованный счётчик и возвращает новое значение.
	NextSequence(ctx context.Context, name string) (int64, error)
}

// InventoryRepository хранит варианты товаров и их остатки.
type InventoryRepository interface {
	GetVariant(ctx context.Context, id string) (Variant, error)
	// Decrement уменьшает остаток, только если stock >= qty.
	// Возвращает ErrOutOfStock при нулевом остатке и ErrInsufficientStock при нехватке.
	Decrement(ctx context.Context, variantID string, qty int) error
	// Increment безусловно увеличивает остаток.
	Increment(ctx context.Context, variantID string, qty int) error
}

// CatalogRepository — витрина товаров и категорий только для чтения.
type CatalogRepository interface {
	GetProduct(ctx context.Context, id string) (Product, error)
	GetCategory(ctx context.Context, id string) (Category, error)
}

// OfferRepository хранит автоматические предложения.
type OfferRepository interface {
	Create(ctx context.Context, offer Offer) error
	Get(ctx context.Context, id string) (Offer, error)
	SetActive(ctx context.Context, id string, active bool) error
	// ListLive возвращает активные предложения, действующие в момент at.
	ListLive(ctx context.Context, at time.Time) ([]Offer, error)
}

// CouponRepository хранит купоны и счётчики их использования.
type CouponRepository interface {
	// Create возвращает ErrDuplicateCouponCode, если код уже занят.
	Create(ctx context.Context, coupon Coupon) error
	GetByCode(ctx context.Context, code string) (Coupon, error)
	SetActive(ctx context.Context, code string, active bool) error
	// ListActive возвращает активные купоны для подбора доступных пользователю.
	ListActive(ctx context.Context) ([]Coupon, error)
	// AcquireUsage атомарно увеличивает usedCount, если он меньше usageLimit.
	AcquireUsage(ctx context.Context, code, userID string) (Coupon, error)
	// ReleaseUsage снимает одно применение купона указанным пользователем.
	ReleaseUsage(ctx context.Context, code, userID string) (Coupon, error)
}

// WalletRepository хранит кошельки и журнал операций.
type WalletRepository interface {
	// GetForUpdate возвращает кошелёк и блокирует его до конца транзакции.
	GetForUpdate(ctx context.Context, userID string) (Wallet, error)
	Create(ctx context.Context, wallet Wallet) error
	UpdateBalance(ctx context.Context, wallet Wallet) error
	AppendTransaction(ctx context.Context, txn WalletTransaction) error
	// ListTransactions возвращает страницу журнала (новые первыми) и общее число записей.
	ListTransactions(ctx context.Context, userID string, limit, offset int) ([]WalletTransaction, int, error)
}

// CartRepository — корзина пользователя.
type CartRepository interface {
	Remove(ctx context.Context, userID, productID, variantID string) error
}

// WishlistRepository — список желаний пользователя.
type WishlistRepository interface {
	Remove(ctx context.Context, userID, productID, variantID string) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	// Claim занимает ключ под выполнение. Свободный ключ создаётся; ключ,
	// который Reclaimable для того же запроса, занимается повторно. Иначе
	// возвращается текущая запись и ErrIdempotencyKeyAlreadyExists либо
	// ErrIdempotencyHashMismatch.
	Claim(ctx context.Context, claim IdempotencyClaim) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	// Complete фиксирует итог; ключ не в processing даёт ErrIdempotencyClaimLost.
	Complete(ctx context.Context, key string, outcome IdempotencyOutcome) error
	// DeleteExpired удаляет до limit записей с истёкшим TTL, начиная с самых старых.
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}
