package memory

import (
	"context"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

// orderRepository — in-memory реализация OrderRepository в рамках транзакции Store.
type orderRepository struct {
	tx *memTx
}

// Create сохраняет новый заказ, если ID и номер ещё не заняты.
func (r orderRepository) Create(_ context.Context, order domain.Order) error {
	s := r.tx.store
	if _, exists := s.orders[order.ID]; exists {
		return domain.ErrOrderVersionConflict
	}
	for _, existing := range s.orders {
		if existing.OrderNumber == order.OrderNumber {
			return domain.ErrOrderVersionConflict
		}
	}

	// Сохраняем копию, чтобы избежать непредсказуемых мутаций извне.
	put(r.tx, s.orders, order.ID, order.Clone())
	for _, line := range order.Lines {
		put(r.tx, s.lineOwners, line.ID, order.ID)
	}
	return nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r orderRepository) Get(_ context.Context, id string) (domain.Order, error) {
	order, ok := r.tx.store.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order.Clone(), nil
}

// GetByLineID находит заказ-владелец позиции. Блокировка обеспечивается транзакцией Store.
func (r orderRepository) GetByLineID(ctx context.Context, lineID string) (domain.Order, error) {
	orderID, ok := r.tx.store.lineOwners[lineID]
	if !ok {
		return domain.Order{}, domain.ErrOrderLineNotFound
	}
	return r.Get(ctx, orderID)
}

// ListByUser возвращает заказы пользователя, ограничивая выборку limit (если >0).
func (r orderRepository) ListByUser(_ context.Context, userID string, limit int) ([]domain.Order, error) {
	result := make([]domain.Order, 0)
	for _, order := range r.tx.store.orders {
		if order.UserID != userID {
			continue
		}
		result = append(result, order.Clone())
	}

	sortNewestFirst(result)

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ListCreatedBetween возвращает заказы, созданные в полуинтервале [from, to).
func (r orderRepository) ListCreatedBetween(_ context.Context, from, to time.Time) ([]domain.Order, error) {
	result := make([]domain.Order, 0)
	for _, order := range r.tx.store.orders {
		if order.CreatedAt.Before(from) || !order.CreatedAt.Before(to) {
			continue
		}
		result = append(result, order.Clone())
	}
	sortNewestFirst(result)
	return result, nil
}

// ExistsForUser сообщает, оформлял ли пользователь заказы.
func (r orderRepository) ExistsForUser(_ context.Context, userID string) (bool, error) {
	for _, order := range r.tx.store.orders {
		if order.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

// Save перезаписывает заказ, проверяя версию (optimistic locking).
func (r orderRepository) Save(_ context.Context, order domain.Order) error {
	s := r.tx.store
	current, ok := s.orders[order.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.ErrOrderVersionConflict
	}
	// Инкрементируем версию перед сохранением.
	order = order.Clone()
	order.Version++
	put(r.tx, s.orders, order.ID, order)
	return nil
}

// NextSequence увеличивает именованный счётчик.
func (r orderRepository) NextSequence(_ context.Context, name string) (int64, error) {
	s := r.tx.store
	next := s.counters[name] + 1
	put(r.tx, s.counters, name, next)
	return next, nil
}

func sortNewestFirst(orders []domain.Order) {
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.After(orders[j].CreatedAt)
		}
		return orders[i].ID > orders[j].ID
	})
}

var _ domain.OrderRepository = orderRepository{}
