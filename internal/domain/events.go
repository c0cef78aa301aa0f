package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Типы агрегатов и событий, которые попадают в transactional outbox.
const (
	AggregateOrder  = "order"
	AggregateWallet = "wallet"
	AggregateCoupon = "coupon"

	EventOrderPlaced            = "order.placed"
	EventOrderRetried           = "order.retried"
	EventOrderLineStatusChanged = "order.line_status_changed"
	EventOrderRefunded          = "order.refunded"
	EventOrderReviewed          = "order.line_reviewed"
	EventWalletCredited         = "wallet.credited"
	EventWalletDebited          = "wallet.debited"
	EventCouponApplied          = "coupon.applied"
	EventCouponRemoved          = "coupon.removed"
)

// OrderEvent — полезная нагрузка событий заказа.
type OrderEvent struct {
	OrderID     string          `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	UserID      string          `json:"user_id"`
	OrderStatus OrderStatus     `json:"order_status"`
	LineID      string          `json:"line_id,omitempty"`
	LineStatus  LineStatus      `json:"line_status,omitempty"`
	Note        string          `json:"note,omitempty"`
	Amount      decimal.Decimal `json:"amount,omitempty"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

// WalletEvent — полезная нагрузка событий кошелька.
type WalletEvent struct {
	TransactionID string          `json:"transaction_id"`
	UserID        string          `json:"user_id"`
	Type          TransactionType `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	OrderID       string          `json:"order_id,omitempty"`
	OrderNumber   string          `json:"order_number,omitempty"`
	Description   string          `json:"description"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// CouponEvent — полезная нагрузка событий купона.
type CouponEvent struct {
	Code       string    `json:"code"`
	UserID     string    `json:"user_id"`
	UsedCount  int       `json:"used_count"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewOutboxMessage сериализует payload в JSON и собирает сообщение outbox.
func NewOutboxMessage(aggregateType, aggregateID, eventType string, payload any) (OutboxMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return OutboxMessage{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return OutboxMessage{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       data,
	}, nil
}
