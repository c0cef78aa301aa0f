package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

// NumberScope — область действия счётчика номеров заказов.
type NumberScope string

const (
	// NumberScopeDaily — счётчик свой для каждых суток, суффикс совпадает с датой в номере.
	NumberScopeDaily NumberScope = "daily"
	// NumberScopeGlobal — один счётчик на всё время жизни магазина.
	NumberScopeGlobal NumberScope = "global"
)

const orderCounter = "order_number"

// Valid проверяет область счётчика.
func (s NumberScope) Valid() bool {
	return s == NumberScopeDaily || s == NumberScopeGlobal
}

// nextOrderNumber выдаёт номер вида ORD-YYYYMMDD-NNNN. Суффикс дополняется
// нулями до четырёх цифр и расширяется после 9999.
func nextOrderNumber(ctx context.Context, tx domain.Tx, scope NumberScope, at time.Time) (string, error) {
	day := at.UTC().Format("20060102")
	name := orderCounter
	if scope != NumberScopeGlobal {
		name = orderCounter + ":" + day
	}

	seq, err := tx.Orders().NextSequence(ctx, name)
	if err != nil {
		return "", fmt.Errorf("next order number: %w", err)
	}
	return fmt.Sprintf("ORD-%s-%04d", day, seq), nil
}
