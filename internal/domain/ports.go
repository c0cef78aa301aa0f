package domain

import (
	"context"
	"time"
)

// Store открывает транзакции хранилища. Все изменения внутри fn применяются
// вместе либо не применяются вовсе.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx — набор репозиториев, привязанных к одной транзакции.
type Tx interface {
	Orders() OrderRepository
	Inventory() InventoryRepository
	Catalog() CatalogRepository
	Offers() OfferRepository
	Coupons() CouponRepository
	Wallets() WalletRepository
	Carts() CartRepository
	Wishlists() WishlistRepository
	Outbox() OutboxRepository
}

// InventoryLedger резервирует и возвращает остатки в рамках транзакции.
type InventoryLedger interface {
	Reserve(ctx context.Context, tx Tx, variantID string, qty int) error
	Release(ctx context.Context, tx Tx, variantID string, qty int) error
}

// WalletLedger проводит зачисления и списания с записью в журнал.
type WalletLedger interface {
	Credit(ctx context.Context, tx Tx, entry WalletEntry) (WalletTransaction, error)
	Debit(ctx context.Context, tx Tx, entry WalletEntry) (WalletTransaction, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// DeadLetterPublisher откладывает сообщение, которое не удалось опубликовать,
// сохраняя исходный payload для повторной отправки.
type DeadLetterPublisher interface {
	PublishDeadLetter(event OutboxMessage, cause error) error
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

// OutboxBacklog — неотправленные сообщения одного типа агрегата.
type OutboxBacklog struct {
	PendingCount    int
	OldestPendingAt time.Time
}

// OutboxStats описывает backlog transactional outbox: итог и разбивку
// по типам агрегатов (order, wallet, coupon).
type OutboxStats struct {
	OutboxBacklog
	ByAggregate map[string]OutboxBacklog
}

// Add учитывает pending-сообщения агрегата в итоге и разбивке.
func (s *OutboxStats) Add(aggregateType string, count int, oldest time.Time) {
	if count <= 0 {
		return
	}
	if s.ByAggregate == nil {
		s.ByAggregate = make(map[string]OutboxBacklog)
	}
	b := s.ByAggregate[aggregateType]
	b.PendingCount += count
	if b.OldestPendingAt.IsZero() || oldest.Before(b.OldestPendingAt) {
		b.OldestPendingAt = oldest
	}
	s.ByAggregate[aggregateType] = b

	s.PendingCount += count
	if s.OldestPendingAt.IsZero() || oldest.Before(s.OldestPendingAt) {
		s.OldestPendingAt = oldest
	}
}
