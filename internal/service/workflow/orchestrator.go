package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
	"github.com/vladislavdragonenkov/ordercore/internal/metrics"
)

// Orchestrator описывает операции жизненного цикла заказа.
// Каждая операция выполняется в одной транзакции хранилища: либо все шаги
// применяются вместе, либо ни один.
type Orchestrator interface {
	PlaceOrder(ctx context.Context, userID string, req domain.PlaceOrderRequest) (domain.Order, error)
	PlaceOrderWithWallet(ctx context.Context, userID string, req domain.PlaceOrderRequest) (domain.Order, error)
	RetryFailedOrder(ctx context.Context, userID, orderID string, payment domain.Payment) (domain.Order, error)
	RetryFailedOrderWithWallet(ctx context.Context, userID, orderID string) (domain.Order, error)

	CancelOrderItem(ctx context.Context, lineID, reason string) (domain.Order, error)
	RequestReturn(ctx context.Context, lineID, reason string) (domain.Order, error)
	ApproveReturn(ctx context.Context, lineID string) (domain.Order, error)
	RejectReturn(ctx context.Context, lineID string) (domain.Order, error)
	UpdateOrderStatus(ctx context.Context, lineID string, status domain.LineStatus) (domain.Order, error)
	AddReview(ctx context.Context, userID, lineID string, rating int, comment string) (domain.Order, error)

	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	ListOrders(ctx context.Context, userID string, limit int) ([]domain.Order, error)
	GetLine(ctx context.Context, lineID string) (domain.Order, domain.OrderLine, error)
	SalesSummary(ctx context.Context, from, to time.Time) (SalesSummary, error)
}

// orchestrator связывает склад, кошелёк и агрегат заказа.
type orchestrator struct {
	store     domain.Store
	inventory domain.InventoryLedger
	wallet    domain.WalletLedger
	logger    *log.Entry
	metrics   *metrics.OrderMetrics
	numbering NumberScope
	now       func() time.Time
}

// Option настраивает оркестратор.
type Option func(*orchestrator)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(o *orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics задаёт метрики; nil отключает их.
func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(o *orchestrator) {
		o.metrics = m
	}
}

// WithNumberScope задаёт область счётчика номеров заказов.
func WithNumberScope(scope NumberScope) Option {
	return func(o *orchestrator) {
		if scope.Valid() {
			o.numbering = scope
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(o *orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// NewOrchestrator создаёт оркестратор. По умолчанию метрики пишутся в
// реестр prometheus по умолчанию, номера заказов считаются по дням.
func NewOrchestrator(store domain.Store, inventory domain.InventoryLedger, wallet domain.WalletLedger, opts ...Option) Orchestrator {
	o := &orchestrator{
		store:     store,
		inventory: inventory,
		wallet:    wallet,
		logger:    log.New().WithField("component", "workflow"),
		metrics:   metrics.NewOrderMetrics(),
		numbering: NumberScopeDaily,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// track оборачивает операцию метриками и журналированием ошибки.
func (o *orchestrator) track(operation string, fields log.Fields, fn func() error) error {
	start := time.Now()
	if o.metrics != nil {
		o.metrics.OperationStarted()
	}

	err := fn()

	if o.metrics != nil {
		o.metrics.OperationFinished(operation, string(domain.KindOf(err)), time.Since(start))
	}
	if err != nil {
		entry := o.logger.WithFields(fields).WithField("operation", operation).WithError(err)
		if domain.KindOf(err) == domain.KindUnknown {
			entry.Error("operation failed")
		} else {
			entry.Warn("operation rejected")
		}
	}
	return err
}

func (o *orchestrator) emitOrderEvent(ctx context.Context, tx domain.Tx, eventType string, event domain.OrderEvent) error {
	msg, err := domain.NewOutboxMessage(domain.AggregateOrder, event.OrderID, eventType, event)
	if err != nil {
		return err
	}
	if _, err := tx.Outbox().Enqueue(ctx, msg); err != nil {
		return fmt.Errorf("enqueue %s: %w", eventType, err)
	}
	return nil
}

func orderEvent(order domain.Order, at time.Time) domain.OrderEvent {
	return domain.OrderEvent{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		OrderStatus: order.Status,
		Amount:      order.Prices.Total,
		OccurredAt:  at,
	}
}

// reserveLines резервирует сток под все позиции и чистит корзину и избранное.
func (o *orchestrator) reserveLines(ctx context.Context, tx domain.Tx, order domain.Order) error {
	units := 0
	for _, line := range order.Lines {
		if err := o.inventory.Reserve(ctx, tx, line.VariantID, line.Quantity); err != nil {
			return &domain.ItemError{ProductID: line.ProductID, ProductName: line.Name, VariantID: line.VariantID, Err: err}
		}
		units += line.Quantity
		if err := tx.Carts().Remove(ctx, order.UserID, line.ProductID, line.VariantID); err != nil {
			return fmt.Errorf("remove cart entry: %w", err)
		}
		if err := tx.Wishlists().Remove(ctx, order.UserID, line.ProductID, line.VariantID); err != nil {
			return fmt.Errorf("remove wishlist entry: %w", err)
		}
	}
	if o.metrics != nil {
		o.metrics.RecordReserved(units)
	}
	return nil
}

// releaseAndRefund возвращает сток позиции и, если оплата была не наложенным
// платежом, зачисляет price × quantity на кошелёк и помечает оплату возвращённой.
func (o *orchestrator) releaseAndRefund(ctx context.Context, tx domain.Tx, order *domain.Order, line domain.OrderLine, description string) error {
	if err := o.inventory.Release(ctx, tx, line.VariantID, line.Quantity); err != nil {
		return fmt.Errorf("release stock for line %s: %w", line.ID, err)
	}
	if o.metrics != nil {
		o.metrics.RecordReleased(line.Quantity)
	}

	if !order.Payment.Refundable() {
		return nil
	}

	amount := line.Amount()
	if !amount.IsPositive() {
		return nil
	}
	if _, err := o.wallet.Credit(ctx, tx, domain.WalletEntry{
		UserID:      order.UserID,
		Amount:      amount,
		Description: description,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
	}); err != nil {
		return fmt.Errorf("refund line %s: %w", line.ID, err)
	}
	order.Payment.Status = domain.PaymentStatusRefunded

	event := orderEvent(*order, o.now())
	event.LineID = line.ID
	event.LineStatus = line.Status
	event.Amount = amount
	event.Note = description
	if err := o.emitOrderEvent(ctx, tx, domain.EventOrderRefunded, event); err != nil {
		return err
	}
	if o.metrics != nil {
		o.metrics.RecordRefund(amount.InexactFloat64())
	}
	return nil
}

func sumAmount(lines []domain.OrderLine) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(line.Amount())
	}
	return total
}
