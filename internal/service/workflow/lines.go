package workflow

import (
	"context"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

// lineChange описывает переход одной позиции и его побочные эффекты.
type lineChange struct {
	to     domain.LineStatus
	note   string
	before func(line *domain.OrderLine)
}

// CancelOrderItem отменяет недоставленную позицию, возвращает сток и деньги.
func (o *orchestrator) CancelOrderItem(ctx context.Context, lineID, reason string) (domain.Order, error) {
	return o.changeLine(ctx, "cancel_order_item", lineID, lineChange{
		to:   domain.LineStatusCancelled,
		note: reason,
		before: func(line *domain.OrderLine) {
			line.CancelReason = reason
		},
	})
}

// RequestReturn оформляет запрос на возврат доставленной позиции.
func (o *orchestrator) RequestReturn(ctx context.Context, lineID, reason string) (domain.Order, error) {
	return o.changeLine(ctx, "request_return", lineID, lineChange{
		to:   domain.LineStatusReturnRequested,
		note: reason,
		before: func(line *domain.OrderLine) {
			line.ReturnReason = reason
		},
	})
}

// ApproveReturn одобряет возврат: сток возвращается, деньги зачисляются на кошелёк.
func (o *orchestrator) ApproveReturn(ctx context.Context, lineID string) (domain.Order, error) {
	return o.changeLine(ctx, "approve_return", lineID, lineChange{to: domain.LineStatusReturnApproved})
}

// RejectReturn отклоняет возврат.
func (o *orchestrator) RejectReturn(ctx context.Context, lineID string) (domain.Order, error) {
	return o.changeLine(ctx, "reject_return", lineID, lineChange{to: domain.LineStatusReturnRejected})
}

// UpdateOrderStatus — административная смена статуса позиции по тем же правилам.
// Cancelled и Return Approved вызывают те же возвраты стока и денег.
func (o *orchestrator) UpdateOrderStatus(ctx context.Context, lineID string, status domain.LineStatus) (domain.Order, error) {
	return o.changeLine(ctx, "update_order_status", lineID, lineChange{to: status})
}

func (o *orchestrator) changeLine(ctx context.Context, operation, lineID string, change lineChange) (domain.Order, error) {
	var order domain.Order
	err := o.track(operation, log.Fields{"line_id": lineID, "status": change.to}, func() error {
		var err error
		order, err = o.applyLineChange(ctx, lineID, change)
		return err
	})
	return order, err
}

func (o *orchestrator) applyLineChange(ctx context.Context, lineID string, change lineChange) (domain.Order, error) {
	now := o.now()

	var (
		order domain.Order
		line  domain.OrderLine
		from  domain.LineStatus
	)
	err := o.store.InTx(ctx, func(tx domain.Tx) error {
		var err error
		order, err = tx.Orders().GetByLineID(ctx, lineID)
		if err != nil {
			return err
		}
		current, err := order.Line(lineID)
		if err != nil {
			return err
		}
		from = current.Status

		line, err = order.TransitionLine(lineID, change.to, change.note, now)
		if err != nil {
			return err
		}
		if change.before != nil {
			idx := order.LineIndex(lineID)
			change.before(&order.Lines[idx])
			line = order.Lines[idx]
		}

		switch change.to {
		case domain.LineStatusCancelled:
			err = o.releaseAndRefund(ctx, tx, &order, line, domain.DescriptionCancelRefund)
		case domain.LineStatusReturnApproved:
			err = o.releaseAndRefund(ctx, tx, &order, line, domain.DescriptionReturnRefund)
		}
		if err != nil {
			return err
		}

		if err := tx.Orders().Save(ctx, order); err != nil {
			return fmt.Errorf("save order: %w", err)
		}
		order.Version++

		event := orderEvent(order, now)
		event.LineID = line.ID
		event.LineStatus = line.Status
		event.Note = change.note
		event.Amount = line.Amount()
		return o.emitOrderEvent(ctx, tx, domain.EventOrderLineStatusChanged, event)
	})
	if err != nil {
		return domain.Order{}, err
	}

	o.logger.WithFields(log.Fields{
		"order_id":     order.ID,
		"line_id":      lineID,
		"from":         from,
		"to":           line.Status,
		"order_status": order.Status,
	}).Info("order line status changed")
	return order, nil
}

// AddReview сохраняет отзыв на доставленную позицию. Отзыв оставляется один раз.
func (o *orchestrator) AddReview(ctx context.Context, userID, lineID string, rating int, comment string) (domain.Order, error) {
	var order domain.Order
	err := o.track("add_review", log.Fields{"user_id": userID, "line_id": lineID}, func() error {
		if err := validation.Validate(rating, validation.Required, validation.Min(1), validation.Max(5)); err != nil {
			return domain.NewValidationError(fmt.Errorf("rating: %w", err))
		}

		now := o.now()
		return o.store.InTx(ctx, func(tx domain.Tx) error {
			var err error
			order, err = tx.Orders().GetByLineID(ctx, lineID)
			if err != nil {
				return err
			}
			if order.UserID != userID {
				return domain.ErrForbiddenLine
			}

			idx := order.LineIndex(lineID)
			line := &order.Lines[idx]
			if line.Status != domain.LineStatusDelivered {
				return fmt.Errorf("%w: line %s is %s, only delivered items can be reviewed", domain.ErrInvalidState, lineID, line.Status)
			}
			if line.Review != nil {
				return domain.ErrReviewExists
			}
			line.Review = &domain.Review{Rating: rating, Comment: comment, CreatedAt: now}
			order.UpdatedAt = now

			if err := tx.Orders().Save(ctx, order); err != nil {
				return fmt.Errorf("save order: %w", err)
			}
			order.Version++

			event := orderEvent(order, now)
			event.LineID = lineID
			event.LineStatus = line.Status
			event.Note = fmt.Sprintf("rating %d", rating)
			return o.emitOrderEvent(ctx, tx, domain.EventOrderReviewed, event)
		})
	})
	if err != nil {
		return domain.Order{}, err
	}
	return order, nil
}
