package main

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
	"github.com/vladislavdragonenkov/ordercore/internal/messaging/kafka"
)

type fakeOffsetClient struct {
	partitions []int32
	oldest     map[int32]int64
	newest     map[int32]int64
}

func (f *fakeOffsetClient) GetOffset(_ string, partition int32, at int64) (int64, error) {
	if at == sarama.OffsetOldest {
		return f.oldest[partition], nil
	}
	return f.newest[partition], nil
}

func (f *fakeOffsetClient) Partitions(string) ([]int32, error) { return f.partitions, nil }
func (f *fakeOffsetClient) Close() error                       { return nil }

type fakePartitionConsumer struct {
	messages chan *sarama.ConsumerMessage
	errs     chan *sarama.ConsumerError
}

func (f *fakePartitionConsumer) Messages() <-chan *sarama.ConsumerMessage { return f.messages }
func (f *fakePartitionConsumer) Errors() <-chan *sarama.ConsumerError     { return f.errs }
func (f *fakePartitionConsumer) Close() error                             { return nil }

type fakeConsumerSource struct {
	byPartition map[int32][]*sarama.ConsumerMessage
	startedAt   map[int32]int64
}

func (f *fakeConsumerSource) ConsumePartition(_ string, partition int32, offset int64) (partitionConsumer, error) {
	if f.startedAt == nil {
		f.startedAt = make(map[int32]int64)
	}
	f.startedAt[partition] = offset

	pc := &fakePartitionConsumer{
		messages: make(chan *sarama.ConsumerMessage, len(f.byPartition[partition])),
		errs:     make(chan *sarama.ConsumerError),
	}
	for _, msg := range f.byPartition[partition] {
		if msg.Offset >= offset {
			pc.messages <- msg
		}
	}
	return pc, nil
}

func (f *fakeConsumerSource) Close() error { return nil }

type published struct {
	topic   string
	key     string
	value   []byte
	headers map[string]string
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (f *fakePublisher) Publish(topic, key string, value []byte, headers map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{topic: topic, key: key, value: value, headers: headers})
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func dlqMessage(t *testing.T, partition int32, offset int64, aggregateType, aggregateID string) *sarama.ConsumerMessage {
	t.Helper()
	envelope := kafka.NewEnvelope(domain.OutboxMessage{
		ID:            "msg-" + aggregateID,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     "order.placed",
		Payload:       []byte(`{"order_id":"` + aggregateID + `"}`),
		CreatedAt:     time.Now(),
	}, time.Now())
	value, err := json.Marshal(envelope)
	require.NoError(t, err)

	return &sarama.ConsumerMessage{
		Topic:     kafka.TopicDeadLetterQueue,
		Partition: partition,
		Offset:    offset,
		Key:       []byte(aggregateID),
		Value:     value,
		Headers: []*sarama.RecordHeader{
			{Key: []byte(kafka.HeaderOriginalTopic), Value: []byte(kafka.TopicFor(aggregateType))},
			{Key: []byte(kafka.HeaderFailedAt), Value: []byte(time.Now().Format(time.RFC3339Nano))},
			{Key: []byte(kafka.HeaderFailureReason), Value: []byte("broker unavailable")},
		},
	}
}

func baseConfig() config {
	return config{
		brokers:     []string{"127.0.0.1:9092"},
		sourceTopic: kafka.TopicDeadLetterQueue,
		limit:       defaultReplayLimit,
		idleTimeout: 200 * time.Millisecond,
	}
}

func TestExtractReplayMessage_UsesOriginalTopicHeader(t *testing.T) {
	msg := dlqMessage(t, 0, 0, domain.AggregateWallet, "user-1")
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	replay, err := extractReplayMessage(msg, "", now)
	require.NoError(t, err)

	assert.Equal(t, kafka.TopicWalletEvents, replay.topic)
	assert.Equal(t, "user-1", replay.key)
	assert.Equal(t, msg.Value, replay.value)
	assert.Equal(t, "order.placed", replay.headers[kafka.HeaderEventType])
	assert.Equal(t, now.Format(time.RFC3339Nano), replay.headers[kafka.HeaderReplayedAt])
	assert.NotContains(t, replay.headers, kafka.HeaderFailedAt)
	assert.NotContains(t, replay.headers, kafka.HeaderOriginalTopic)
	assert.NotContains(t, replay.headers, kafka.HeaderFailureReason)
}

func TestExtractReplayMessage_TargetOverrideAndFallback(t *testing.T) {
	msg := dlqMessage(t, 0, 0, domain.AggregateCoupon, "SAVE10")

	replay, err := extractReplayMessage(msg, "custom.topic", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "custom.topic", replay.topic)

	msg.Headers = nil
	msg.Key = nil
	replay, err = extractReplayMessage(msg, "", time.Now())
	require.NoError(t, err)
	assert.Equal(t, kafka.TopicCouponEvents, replay.topic)
	assert.Equal(t, "SAVE10", replay.key)
}

func TestExtractReplayMessage_RejectsForeignPayload(t *testing.T) {
	_, err := extractReplayMessage(&sarama.ConsumerMessage{Value: []byte("not-json")}, "", time.Now())
	require.Error(t, err)

	_, err = extractReplayMessage(&sarama.ConsumerMessage{Value: []byte(`{"foo":"bar"}`)}, "", time.Now())
	require.ErrorContains(t, err, "not an outbox envelope")
}

func TestRunReplay_DryRunDoesNotPublish(t *testing.T) {
	client := &fakeOffsetClient{
		partitions: []int32{0},
		oldest:     map[int32]int64{0: 0},
		newest:     map[int32]int64{0: 2},
	}
	source := &fakeConsumerSource{byPartition: map[int32][]*sarama.ConsumerMessage{
		0: {dlqMessage(t, 0, 0, domain.AggregateOrder, "o-1"), dlqMessage(t, 0, 1, domain.AggregateOrder, "o-2")},
	}}

	stats, err := runReplay(context.Background(), baseConfig(), client, source, nil)
	require.NoError(t, err)
	assert.Equal(t, replayStats{processed: 2, replayed: 2}, stats)
}

func TestRunReplay_ExecutePublishesAcrossPartitions(t *testing.T) {
	client := &fakeOffsetClient{
		partitions: []int32{1, 0},
		oldest:     map[int32]int64{0: 0, 1: 0},
		newest:     map[int32]int64{0: 2, 1: 1},
	}
	source := &fakeConsumerSource{byPartition: map[int32][]*sarama.ConsumerMessage{
		0: {
			dlqMessage(t, 0, 0, domain.AggregateOrder, "o-1"),
			{Partition: 0, Offset: 1, Value: []byte("garbage")},
		},
		1: {dlqMessage(t, 1, 0, domain.AggregateWallet, "user-9")},
	}}
	publisher := &fakePublisher{}

	cfg := baseConfig()
	cfg.execute = true
	stats, err := runReplay(context.Background(), cfg, client, source, publisher)
	require.NoError(t, err)

	assert.Equal(t, replayStats{processed: 3, replayed: 2, skipped: 1}, stats)
	require.Len(t, publisher.sent, 2)
	assert.Equal(t, kafka.TopicOrderEvents, publisher.sent[0].topic)
	assert.Equal(t, kafka.TopicWalletEvents, publisher.sent[1].topic)
}

func TestRunReplay_RespectsLimitAndFromNewest(t *testing.T) {
	client := &fakeOffsetClient{
		partitions: []int32{0},
		oldest:     map[int32]int64{0: 0},
		newest:     map[int32]int64{0: 3},
	}
	source := &fakeConsumerSource{byPartition: map[int32][]*sarama.ConsumerMessage{
		0: {
			dlqMessage(t, 0, 0, domain.AggregateOrder, "o-1"),
			dlqMessage(t, 0, 1, domain.AggregateOrder, "o-2"),
			dlqMessage(t, 0, 2, domain.AggregateOrder, "o-3"),
		},
	}}
	publisher := &fakePublisher{}

	cfg := baseConfig()
	cfg.execute = true
	cfg.fromNewest = true
	cfg.limit = 1
	stats, err := runReplay(context.Background(), cfg, client, source, publisher)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.replayed)
	assert.EqualValues(t, 2, source.startedAt[0])
	require.Len(t, publisher.sent, 1)
	assert.Equal(t, "o-3", publisher.sent[0].key)
}

func TestRunReplay_PublishErrorStops(t *testing.T) {
	client := &fakeOffsetClient{
		partitions: []int32{0},
		oldest:     map[int32]int64{0: 0},
		newest:     map[int32]int64{0: 1},
	}
	source := &fakeConsumerSource{byPartition: map[int32][]*sarama.ConsumerMessage{
		0: {dlqMessage(t, 0, 0, domain.AggregateOrder, "o-1")},
	}}

	cfg := baseConfig()
	cfg.execute = true
	_, err := runReplay(context.Background(), cfg, client, source, &fakePublisher{err: errors.New("broker down")})
	require.ErrorContains(t, err, "broker down")
}

func TestRunReplay_ExecuteRequiresPublisher(t *testing.T) {
	cfg := baseConfig()
	cfg.execute = true
	_, err := runReplay(context.Background(), cfg, &fakeOffsetClient{}, &fakeConsumerSource{}, nil)
	require.ErrorContains(t, err, "publisher is required")
}

func TestRunReplay_IdleTimeoutEndsPartition(t *testing.T) {
	client := &fakeOffsetClient{
		partitions: []int32{0},
		oldest:     map[int32]int64{0: 0},
		newest:     map[int32]int64{0: 5},
	}
	source := &fakeConsumerSource{byPartition: map[int32][]*sarama.ConsumerMessage{
		0: {dlqMessage(t, 0, 0, domain.AggregateOrder, "o-1")},
	}}

	cfg := baseConfig()
	cfg.idleTimeout = 20 * time.Millisecond
	stats, err := runReplay(context.Background(), cfg, client, source, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.processed)
}

func TestNewApp_RequiresBrokers(t *testing.T) {
	t.Setenv("ORDERCORE_KAFKA_BROKERS", "")
	err := newApp().Run([]string{"dlq-reprocess"})
	require.ErrorContains(t, err, "brokers are required")
}

func TestParseBrokers(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, parseBrokers(" a:9092, ,b:9092 "))
	assert.Empty(t, parseBrokers(""))
}
