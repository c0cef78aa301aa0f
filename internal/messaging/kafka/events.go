package kafka

import (
	"encoding/json"
	"time"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

// Topics для Kafka
const (
	TopicOrderEvents     = "ordercore.order.events"
	TopicWalletEvents    = "ordercore.wallet.events"
	TopicCouponEvents    = "ordercore.coupon.events"
	TopicDeadLetterQueue = "ordercore.order.events.dlq"
)

// Kafka headers
const (
	HeaderMessageID     = "x-message-id"
	HeaderEventType     = "x-event-type"
	HeaderAggregateType = "x-aggregate-type"
	HeaderOriginalTopic = "x-original-topic"
	HeaderFailedAt      = "x-failed-at"
	HeaderReplayedAt    = "x-replayed-at"
	HeaderFailureReason = "x-failure-reason"
)

// TopicFor возвращает topic для типа агрегата; неизвестные агрегаты
// уходят в topic событий заказа.
func TopicFor(aggregateType string) string {
	switch aggregateType {
	case domain.AggregateWallet:
		return TopicWalletEvents
	case domain.AggregateCoupon:
		return TopicCouponEvents
	default:
		return TopicOrderEvents
	}
}

// Envelope — формат сообщения, публикуемого из outbox.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"created_at"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NewEnvelope оборачивает outbox-сообщение.
func NewEnvelope(msg domain.OutboxMessage, publishedAt time.Time) Envelope {
	payload := json.RawMessage(msg.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return Envelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       payload,
		CreatedAt:     msg.CreatedAt.UTC(),
		PublishedAt:   publishedAt.UTC(),
	}
}
