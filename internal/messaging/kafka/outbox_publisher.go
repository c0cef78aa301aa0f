package kafka

import (
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

// maxFailureReasonLen ограничивает заголовок с причиной отказа.
const maxFailureReasonLen = 512

// OutboxTopicPublisher публикует outbox-сообщения в Kafka. Пустой topic
// означает маршрутизацию по типу агрегата (см. TopicFor).
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
	now      func() time.Time
}

// NewOutboxPublisher создаёт Kafka-паблишер для transactional outbox.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	return &OutboxTopicPublisher{
		producer: producer,
		topic:    topic,
		now:      time.Now,
	}
}

func (p *OutboxTopicPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}
	topic := p.topic
	if topic == "" {
		topic = TopicFor(event.AggregateType)
	}
	now := p.now().UTC()
	return p.producer.PublishEvent(topic, messageKey(event), NewEnvelope(event, now), eventHeaders(event))
}

// DeadLetterPublisher складывает недоставленные сообщения в DLQ в том же
// конверте, что и основной поток; адрес и причина отказа идут в заголовках.
type DeadLetterPublisher struct {
	producer *Producer
	topic    string
	now      func() time.Time
}

// NewDLQPublisher создаёт паблишер dead letter queue.
func NewDLQPublisher(producer *Producer, topic string) *DeadLetterPublisher {
	if topic == "" {
		topic = TopicDeadLetterQueue
	}
	return &DeadLetterPublisher{
		producer: producer,
		topic:    topic,
		now:      time.Now,
	}
}

func (p *DeadLetterPublisher) PublishDeadLetter(event domain.OutboxMessage, cause error) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka dlq publisher is not initialized")
	}

	now := p.now().UTC()
	headers := eventHeaders(event)
	headers[HeaderOriginalTopic] = TopicFor(event.AggregateType)
	headers[HeaderFailedAt] = now.Format(time.RFC3339Nano)
	if cause != nil {
		reason := cause.Error()
		if len(reason) > maxFailureReasonLen {
			reason = reason[:maxFailureReasonLen]
		}
		headers[HeaderFailureReason] = reason
	}
	return p.producer.PublishEvent(p.topic, messageKey(event), NewEnvelope(event, now), headers)
}

func messageKey(event domain.OutboxMessage) string {
	if event.AggregateID != "" {
		return event.AggregateID
	}
	return event.ID
}

func eventHeaders(event domain.OutboxMessage) map[string]string {
	return map[string]string{
		HeaderMessageID:     event.ID,
		HeaderEventType:     event.EventType,
		HeaderAggregateType: event.AggregateType,
	}
}

var (
	_ domain.OutboxPublisher     = (*OutboxTopicPublisher)(nil)
	_ domain.DeadLetterPublisher = (*DeadLetterPublisher)(nil)
)
