package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

const (
	notePlaced  = "Order placed"
	noteRetried = "Payment retried"
)

// payHook выполняется внутри транзакции до сохранения заказа.
type payHook func(ctx context.Context, tx domain.Tx, order *domain.Order) error

// PlaceOrder проверяет доступность всех позиций и создаёт заказ. Для заказа
// с неуспешной оплатой позиции создаются в статусе Failed и сток не резервируется.
func (o *orchestrator) PlaceOrder(ctx context.Context, userID string, req domain.PlaceOrderRequest) (domain.Order, error) {
	var order domain.Order
	err := o.track("place_order", log.Fields{"user_id": userID}, func() error {
		var err error
		order, err = o.place(ctx, userID, req, nil)
		return err
	})
	return order, err
}

// PlaceOrderWithWallet списывает сумму заказа с кошелька и создаёт заказ в той же транзакции.
func (o *orchestrator) PlaceOrderWithWallet(ctx context.Context, userID string, req domain.PlaceOrderRequest) (domain.Order, error) {
	req.Payment = domain.Payment{Method: domain.PaymentMethodWallet, Status: domain.PaymentStatusPaid}

	var order domain.Order
	err := o.track("place_order_wallet", log.Fields{"user_id": userID}, func() error {
		var err error
		order, err = o.place(ctx, userID, req, o.debitWallet)
		return err
	})
	return order, err
}

func (o *orchestrator) place(ctx context.Context, userID string, req domain.PlaceOrderRequest, pay payHook) (domain.Order, error) {
	if userID == "" {
		return domain.Order{}, domain.ErrUserRequired
	}
	if err := req.Validate(); err != nil {
		return domain.Order{}, err
	}

	now := o.now()
	order := domain.Order{
		ID:       uuid.NewString(),
		UserID:   userID,
		Shipping: req.Shipping,
		Payment:  req.Payment,
		Prices:   req.Prices,
		Coupon:   req.Coupon,
	}
	order.Coupon.Code = domain.NormalizeCouponCode(order.Coupon.Code)

	initial := domain.LineStatusConfirmed
	if req.Payment.Failed() {
		initial = domain.LineStatusFailed
	}

	err := o.store.InTx(ctx, func(tx domain.Tx) error {
		lines := make([]domain.OrderLine, 0, len(req.Lines))
		for _, item := range req.Lines {
			product, variant, err := o.checkAvailability(ctx, tx, item.ProductID, item.VariantID, item.Quantity)
			if err != nil {
				return err
			}
			lines = append(lines, snapshotLine(item, product, variant))
		}
		order.Lines = lines

		number, err := nextOrderNumber(ctx, tx, o.numbering, now)
		if err != nil {
			return err
		}
		order.OrderNumber = number

		if err := order.Open(initial, notePlaced, now); err != nil {
			return err
		}
		if errs := order.ValidateInvariants(); len(errs) > 0 {
			return errors.Join(errs...)
		}

		if pay != nil {
			if err := pay(ctx, tx, &order); err != nil {
				return err
			}
		}
		if err := tx.Orders().Create(ctx, order); err != nil {
			return fmt.Errorf("create order: %w", err)
		}

		if initial == domain.LineStatusConfirmed {
			if err := o.reserveLines(ctx, tx, order); err != nil {
				return err
			}
		}

		return o.emitOrderEvent(ctx, tx, domain.EventOrderPlaced, orderEvent(order, now))
	})
	if err != nil {
		return domain.Order{}, err
	}

	o.logger.WithFields(log.Fields{
		"order_id":     order.ID,
		"order_number": order.OrderNumber,
		"user_id":      userID,
		"status":       order.Status,
		"lines":        len(order.Lines),
	}).Info("order placed")
	return order, nil
}

// RetryFailedOrder повторно проверяет доступность позиций неоплаченного заказа,
// переводит их в Confirmed, резервирует сток и заменяет платёжную запись.
func (o *orchestrator) RetryFailedOrder(ctx context.Context, userID, orderID string, payment domain.Payment) (domain.Order, error) {
	var order domain.Order
	err := o.track("retry_failed_order", log.Fields{"user_id": userID, "order_id": orderID}, func() error {
		if err := payment.Validate(); err != nil {
			return domain.NewValidationError(err)
		}
		if payment.Failed() {
			return domain.NewValidationError(errors.New("retry payment must not be failed"))
		}
		var err error
		order, err = o.retry(ctx, userID, orderID, func(_ context.Context, _ domain.Tx, order *domain.Order) error {
			order.Payment = payment
			return nil
		})
		return err
	})
	return order, err
}

// RetryFailedOrderWithWallet оплачивает неоплаченный заказ с кошелька.
func (o *orchestrator) RetryFailedOrderWithWallet(ctx context.Context, userID, orderID string) (domain.Order, error) {
	var order domain.Order
	err := o.track("retry_failed_order_wallet", log.Fields{"user_id": userID, "order_id": orderID}, func() error {
		var err error
		order, err = o.retry(ctx, userID, orderID, func(ctx context.Context, tx domain.Tx, order *domain.Order) error {
			order.Payment = domain.Payment{Method: domain.PaymentMethodWallet, Status: domain.PaymentStatusPaid}
			return o.debitWallet(ctx, tx, order)
		})
		return err
	})
	return order, err
}

func (o *orchestrator) retry(ctx context.Context, userID, orderID string, pay payHook) (domain.Order, error) {
	now := o.now()

	var order domain.Order
	err := o.store.InTx(ctx, func(tx domain.Tx) error {
		var err error
		order, err = tx.Orders().Get(ctx, orderID)
		if err != nil {
			return err
		}
		if order.UserID != userID {
			return domain.ErrOrderNotFound
		}
		if order.Status != domain.OrderStatusFailed {
			return fmt.Errorf("%w: order %s is %s", domain.ErrOrderNotFailed, order.OrderNumber, order.Status)
		}

		for _, line := range order.Lines {
			if _, _, err := o.checkAvailability(ctx, tx, line.ProductID, line.VariantID, line.Quantity); err != nil {
				return err
			}
		}

		if err := order.ConfirmFailedLines(noteRetried, now); err != nil {
			return err
		}
		if err := pay(ctx, tx, &order); err != nil {
			return err
		}
		if err := tx.Orders().Save(ctx, order); err != nil {
			return fmt.Errorf("save order: %w", err)
		}
		order.Version++

		if err := o.reserveLines(ctx, tx, order); err != nil {
			return err
		}
		return o.emitOrderEvent(ctx, tx, domain.EventOrderRetried, orderEvent(order, now))
	})
	if err != nil {
		return domain.Order{}, err
	}

	o.logger.WithFields(log.Fields{
		"order_id":       order.ID,
		"order_number":   order.OrderNumber,
		"payment_method": order.Payment.Method,
	}).Info("failed order confirmed")
	return order, nil
}

// debitWallet списывает итог заказа с кошелька и записывает идентификатор операции в платёж.
func (o *orchestrator) debitWallet(ctx context.Context, tx domain.Tx, order *domain.Order) error {
	txn, err := o.wallet.Debit(ctx, tx, domain.WalletEntry{
		UserID:      order.UserID,
		Amount:      order.Prices.Total,
		Description: domain.DescriptionOrderPayment,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
	})
	if err != nil {
		return err
	}
	order.Payment.TransactionID = txn.ID
	return nil
}

// checkAvailability проверяет товар, вариант, три уровня категорий и остаток.
func (o *orchestrator) checkAvailability(ctx context.Context, tx domain.Tx, productID, variantID string, qty int) (domain.Product, domain.Variant, error) {
	itemErr := func(product domain.Product, err error) error {
		return &domain.ItemError{ProductID: productID, ProductName: product.Name, VariantID: variantID, Err: err}
	}

	product, err := tx.Catalog().GetProduct(ctx, productID)
	if err != nil {
		return domain.Product{}, domain.Variant{}, itemErr(domain.Product{}, err)
	}
	variant, err := tx.Inventory().GetVariant(ctx, variantID)
	if err != nil {
		return domain.Product{}, domain.Variant{}, itemErr(product, err)
	}
	if variant.ProductID != product.ID {
		return domain.Product{}, domain.Variant{}, itemErr(product, domain.ErrVariantNotFound)
	}
	if product.Unlisted || variant.Unlisted {
		return domain.Product{}, domain.Variant{}, itemErr(product, domain.ErrItemUnavailable)
	}

	for _, categoryID := range product.CategoryIDs() {
		category, err := tx.Catalog().GetCategory(ctx, categoryID)
		if errors.Is(err, domain.ErrCategoryNotFound) || (err == nil && !category.Listed) {
			return domain.Product{}, domain.Variant{}, itemErr(product, fmt.Errorf("%w: category %s", domain.ErrItemUnavailable, categoryID))
		}
		if err != nil {
			return domain.Product{}, domain.Variant{}, itemErr(product, err)
		}
	}

	switch {
	case variant.Stock <= 0:
		return domain.Product{}, domain.Variant{}, itemErr(product, domain.ErrOutOfStock)
	case variant.Stock < qty:
		return domain.Product{}, domain.Variant{}, itemErr(product, fmt.Errorf("%w: %d left", domain.ErrInsufficientStock, variant.Stock))
	}
	return product, variant, nil
}

func snapshotLine(item domain.CheckoutLine, product domain.Product, variant domain.Variant) domain.OrderLine {
	return domain.OrderLine{
		ID:        uuid.NewString(),
		ProductID: product.ID,
		VariantID: variant.ID,
		Name:      product.Name,
		Image:     variant.Image,
		Price:     item.Price,
		OldPrice:  variant.OldPrice,
		Size:      variant.Size,
		Color:     variant.Color,
		Quantity:  item.Quantity,
	}
}
