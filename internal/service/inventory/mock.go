package inventory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

// MockLedger — конфигурируемая заглушка InventoryLedger для тестов.
// Если Next задан, успешные вызовы передаются ему.
type MockLedger struct {
	Next domain.InventoryLedger

	mu         sync.Mutex
	ReserveErr error
	ReleaseErr error
	// FailReserveAfter — сколько Reserve пройдут успешно перед ReserveErr.
	FailReserveAfter int

	ReserveCalls int
	ReleaseCalls int
}

// NewMockLedger возвращает mock, пропускающий вызовы в next.
func NewMockLedger(next domain.InventoryLedger) *MockLedger {
	return &MockLedger{Next: next}
}

// Reserve возвращает заранее настроенную ошибку и считает вызовы.
func (m *MockLedger) Reserve(ctx context.Context, tx domain.Tx, variantID string, qty int) error {
	m.mu.Lock()
	m.ReserveCalls++
	fail := m.ReserveErr != nil && m.ReserveCalls > m.FailReserveAfter
	m.mu.Unlock()

	if fail {
		return m.ReserveErr
	}
	if m.Next != nil {
		return m.Next.Reserve(ctx, tx, variantID, qty)
	}
	return nil
}

// Release возвращает заранее настроенную ошибку и считает вызовы.
func (m *MockLedger) Release(ctx context.Context, tx domain.Tx, variantID string, qty int) error {
	m.mu.Lock()
	m.ReleaseCalls++
	err := m.ReleaseErr
	m.mu.Unlock()

	if err != nil {
		return err
	}
	if m.Next != nil {
		return m.Next.Release(ctx, tx, variantID, qty)
	}
	return nil
}

// Calls возвращает счётчики вызовов.
func (m *MockLedger) Calls() (reserve, release int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ReserveCalls, m.ReleaseCalls
}

var _ domain.InventoryLedger = (*MockLedger)(nil)
