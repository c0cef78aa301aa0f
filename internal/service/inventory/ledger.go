package inventory

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

// Ledger управляет остатками вариантов. Списание выполняется условным
// атомарным обновлением в хранилище, без чтения и записи в памяти процесса.
type Ledger struct {
	logger *log.Entry
}

// NewLedger создаёт складской журнал.
func NewLedger(logger *log.Entry) *Ledger {
	if logger == nil {
		logger = log.New().WithField("component", "inventory")
	}
	return &Ledger{logger: logger}
}

// Reserve уменьшает остаток на qty, если его хватает.
func (l *Ledger) Reserve(ctx context.Context, tx domain.Tx, variantID string, qty int) error {
	if qty < 1 {
		return domain.NewValidationError(fmt.Errorf("reserve quantity %d must be positive", qty))
	}
	if err := tx.Inventory().Decrement(ctx, variantID, qty); err != nil {
		return err
	}
	l.logger.WithFields(log.Fields{"variant_id": variantID, "qty": qty}).Debug("stock reserved")
	return nil
}

// Release возвращает qty единиц на склад.
func (l *Ledger) Release(ctx context.Context, tx domain.Tx, variantID string, qty int) error {
	if qty < 1 {
		return domain.NewValidationError(fmt.Errorf("release quantity %d must be positive", qty))
	}
	if err := tx.Inventory().Increment(ctx, variantID, qty); err != nil {
		return err
	}
	l.logger.WithFields(log.Fields{"variant_id": variantID, "qty": qty}).Debug("stock released")
	return nil
}

var _ domain.InventoryLedger = (*Ledger)(nil)
