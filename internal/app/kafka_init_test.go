package app

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

func TestInitKafkaProducer_EmptyBrokers(t *testing.T) {
	producer, err := initKafkaProducer(DefaultConfig(), testLogger())

	require.NoError(t, err)
	require.Nil(t, producer)
}

func TestInitKafkaProducer_UnreachableBroker(t *testing.T) {
	cfg := DefaultConfig()
	cfg.KafkaBrokers = []string{"127.0.0.1:1"}

	producer, err := initKafkaProducer(cfg, testLogger())

	require.Error(t, err)
	require.Nil(t, producer)
}

func TestOutboxPublishers_WithoutKafka(t *testing.T) {
	primary, dlq := outboxPublishers(nil, DefaultConfig(), testLogger())

	require.IsType(t, logPublisher{}, primary)
	require.Nil(t, dlq)
	require.NoError(t, primary.Publish(domain.OutboxMessage{ID: "evt-1", EventType: domain.EventOrderPlaced}))
}

func TestCloseKafka_Nil(t *testing.T) {
	require.NotPanics(t, func() { closeKafka(nil, testLogger()) })
}
