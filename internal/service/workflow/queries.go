package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

const defaultListLimit = 50

// GetOrder возвращает заказ по идентификатору.
func (o *orchestrator) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	var order domain.Order
	err := o.store.InTx(ctx, func(tx domain.Tx) error {
		var err error
		order, err = tx.Orders().Get(ctx, orderID)
		return err
	})
	return order, err
}

// ListOrders возвращает заказы пользователя, новые первыми.
func (o *orchestrator) ListOrders(ctx context.Context, userID string, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	var orders []domain.Order
	err := o.store.InTx(ctx, func(tx domain.Tx) error {
		var err error
		orders, err = tx.Orders().ListByUser(ctx, userID, limit)
		return err
	})
	return orders, err
}

// GetLine возвращает позицию вместе с заказом-владельцем.
func (o *orchestrator) GetLine(ctx context.Context, lineID string) (domain.Order, domain.OrderLine, error) {
	var (
		order domain.Order
		line  domain.OrderLine
	)
	err := o.store.InTx(ctx, func(tx domain.Tx) error {
		var err error
		order, err = tx.Orders().GetByLineID(ctx, lineID)
		if err != nil {
			return err
		}
		line, err = order.Line(lineID)
		return err
	})
	return order, line, err
}

// SalesSummary — сводка продаж за период.
type SalesSummary struct {
	From            time.Time
	To              time.Time
	Orders          int
	FailedOrders    int
	Subtotal        decimal.Decimal
	Discount        decimal.Decimal
	CouponDeduction decimal.Decimal
	Total           decimal.Decimal
	CancelledLines  int
	CancelledAmount decimal.Decimal
	ReturnedLines   int
	ReturnedAmount  decimal.Decimal
}

// SalesSummary агрегирует снимки цен заказов, созданных в [from, to).
// Неоплаченные заказы считаются отдельно и в суммы не входят.
func (o *orchestrator) SalesSummary(ctx context.Context, from, to time.Time) (SalesSummary, error) {
	if !to.After(from) {
		return SalesSummary{}, domain.NewValidationError(fmt.Errorf("period end %s must be after start %s", to.Format(time.RFC3339), from.Format(time.RFC3339)))
	}

	summary := SalesSummary{
		From:            from,
		To:              to,
		Subtotal:        decimal.Zero,
		Discount:        decimal.Zero,
		CouponDeduction: decimal.Zero,
		Total:           decimal.Zero,
		CancelledAmount: decimal.Zero,
		ReturnedAmount:  decimal.Zero,
	}
	err := o.store.InTx(ctx, func(tx domain.Tx) error {
		orders, err := tx.Orders().ListCreatedBetween(ctx, from, to)
		if err != nil {
			return err
		}
		for _, order := range orders {
			if order.Status == domain.OrderStatusFailed {
				summary.FailedOrders++
				continue
			}
			summary.Orders++
			summary.Subtotal = summary.Subtotal.Add(order.Prices.Subtotal)
			summary.Discount = summary.Discount.Add(order.Prices.Discount)
			summary.CouponDeduction = summary.CouponDeduction.Add(order.Prices.CouponDeduction)
			summary.Total = summary.Total.Add(order.Prices.Total)

			var cancelled, returned []domain.OrderLine
			for _, line := range order.Lines {
				switch line.Status {
				case domain.LineStatusCancelled:
					cancelled = append(cancelled, line)
				case domain.LineStatusReturnApproved:
					returned = append(returned, line)
				}
			}
			summary.CancelledLines += len(cancelled)
			summary.CancelledAmount = summary.CancelledAmount.Add(sumAmount(cancelled))
			summary.ReturnedLines += len(returned)
			summary.ReturnedAmount = summary.ReturnedAmount.Add(sumAmount(returned))
		}
		return nil
	})
	return summary, err
}
