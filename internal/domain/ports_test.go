package domain

import (
	"testing"
	"time"
)

func TestOutboxStatsAdd(t *testing.T) {
	base := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	var stats OutboxStats
	stats.Add(AggregateOrder, 2, base.Add(time.Minute))
	stats.Add(AggregateWallet, 1, base)
	stats.Add(AggregateOrder, 1, base.Add(-time.Minute))
	stats.Add(AggregateCoupon, 0, base.Add(-time.Hour))

	if stats.PendingCount != 4 || !stats.OldestPendingAt.Equal(base.Add(-time.Minute)) {
		t.Fatalf("unexpected totals %+v", stats.OutboxBacklog)
	}
	order := stats.ByAggregate[AggregateOrder]
	if order.PendingCount != 3 || !order.OldestPendingAt.Equal(base.Add(-time.Minute)) {
		t.Fatalf("unexpected order backlog %+v", order)
	}
	if _, ok := stats.ByAggregate[AggregateCoupon]; ok {
		t.Fatalf("empty aggregate must not be recorded")
	}
}
