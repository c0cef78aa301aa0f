package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// StatusEntry — запись истории статусов позиции.
type StatusEntry struct {
	Status LineStatus
	At     time.Time
	Note   string
}

// Review — отзыв покупателя на доставленную позицию.
type Review struct {
	Rating    int
	Comment   string
	CreatedAt time.Time
}

// ShippingAddress — снимок адреса доставки на момент оформления.
type ShippingAddress struct {
	Name              string
	AddressLine       string
	Locality          string
	City              string
	State             string
	PinCode           string
	Mobile            string
	AlternativeMobile string
	Landmark          string
	Type              string
}

// Prices — снимок цен заказа. После создания не меняется.
type Prices struct {
	Subtotal        decimal.Decimal
	Discount        decimal.Decimal
	CouponDeduction decimal.Decimal
	Total           decimal.Decimal
}

// AppliedCoupon — снимок применённого купона.
type AppliedCoupon struct {
	Code      string
	Deduction decimal.Decimal
}

// OrderLine — позиция заказа со снимком товара и собственной историей статусов.
type OrderLine struct {
	ID        string
	ProductID string
	VariantID string
	Name      string
	Image     string
	Price     decimal.Decimal
	OldPrice  decimal.Decimal
	Size      string
	Color     string
	Quantity  int
	Status    LineStatus
	// History пополняется только через TransitionLine.
	History      []StatusEntry
	CancelReason string
	ReturnReason string
	Review       *Review
}

// Order агрегирует состояние заказа и его позиции.
type Order struct {
	ID          string
	OrderNumber string
	UserID      string
	Lines       []OrderLine
	Shipping    ShippingAddress
	Payment     Payment
	Prices      Prices
	Coupon      AppliedCoupon
	Status      OrderStatus
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Amount возвращает сумму позиции: цена за единицу, умноженная на количество.
func (l OrderLine) Amount() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// HasStatus сообщает, встречался ли статус в истории позиции.
func (l OrderLine) HasStatus(status LineStatus) bool {
	for _, entry := range l.History {
		if entry.Status == status {
			return true
		}
	}
	return false
}

// LineIndex возвращает индекс позиции или -1.
func (o *Order) LineIndex(lineID string) int {
	for i := range o.Lines {
		if o.Lines[i].ID == lineID {
			return i
		}
	}
	return -1
}

// Line возвращает копию позиции по идентификатору.
func (o *Order) Line(lineID string) (OrderLine, error) {
	idx := o.LineIndex(lineID)
	if idx < 0 {
		return OrderLine{}, ErrOrderLineNotFound
	}
	return o.Lines[idx].clone(), nil
}

// LineStatuses возвращает статусы позиций в порядке их следования.
func (o *Order) LineStatuses() []LineStatus {
	statuses := make([]LineStatus, len(o.Lines))
	for i, line := range o.Lines {
		statuses[i] = line.Status
	}
	return statuses
}

// Recompute пересчитывает агрегированный статус заказа.
func (o *Order) Recompute() {
	o.Status = DeriveStatus(o.LineStatuses())
}

// TransitionLine переводит позицию в новый статус по правилам автомата,
// дописывает историю и сразу пересчитывает статус заказа.
func (o *Order) TransitionLine(lineID string, to LineStatus, note string, at time.Time) (OrderLine, error) {
	if !to.Valid() {
		return OrderLine{}, fmt.Errorf("%w: %q", ErrUnknownStatus, to)
	}

	idx := o.LineIndex(lineID)
	if idx < 0 {
		return OrderLine{}, ErrOrderLineNotFound
	}
	line := &o.Lines[idx]

	if line.Status == to || line.HasStatus(to) {
		return OrderLine{}, fmt.Errorf("%w: line %s already %s", ErrDuplicateStatusTransition, lineID, to)
	}
	if !CanTransition(line.Status, to) {
		return OrderLine{}, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, line.Status, to)
	}

	line.appendStatus(to, note, at)
	o.Recompute()
	o.UpdatedAt = at

	return line.clone(), nil
}

// ConfirmFailedLines переводит все позиции неоплаченного заказа в Confirmed.
func (o *Order) ConfirmFailedLines(note string, at time.Time) error {
	if o.Status != OrderStatusFailed {
		return fmt.Errorf("%w: order %s is %s", ErrOrderNotFailed, o.OrderNumber, o.Status)
	}
	for i := range o.Lines {
		if o.Lines[i].Status != LineStatusFailed {
			return fmt.Errorf("%w: line %s is %s", ErrOrderNotFailed, o.Lines[i].ID, o.Lines[i].Status)
		}
	}
	for i := range o.Lines {
		o.Lines[i].appendStatus(LineStatusConfirmed, note, at)
	}
	o.Recompute()
	o.UpdatedAt = at
	return nil
}

// Open выставляет всем позициям нового заказа начальный статус:
// Confirmed либо Failed для заказа с неуспешной оплатой.
func (o *Order) Open(initial LineStatus, note string, at time.Time) error {
	if initial != LineStatusConfirmed && initial != LineStatusFailed {
		return fmt.Errorf("%w: order cannot start as %s", ErrInvalidStatusTransition, initial)
	}
	for i := range o.Lines {
		o.Lines[i].History = nil
		o.Lines[i].appendStatus(initial, note, at)
	}
	o.Recompute()
	o.CreatedAt = at
	o.UpdatedAt = at
	return nil
}

// Failed — в истории не фиксируется, позиция с ним создаётся и не переходит дальше
// иначе как через ConfirmFailedLines.
func (l *OrderLine) appendStatus(status LineStatus, note string, at time.Time) {
	l.Status = status
	if status == LineStatusFailed {
		return
	}
	l.History = append(l.History, StatusEntry{Status: status, At: at, Note: note})
}

func (l OrderLine) clone() OrderLine {
	dst := l
	dst.History = append([]StatusEntry(nil), l.History...)
	if l.Review != nil {
		review := *l.Review
		dst.Review = &review
	}
	return dst
}

// Clone возвращает глубокую копию заказа.
func (o Order) Clone() Order {
	dst := o
	dst.Lines = make([]OrderLine, len(o.Lines))
	for i, line := range o.Lines {
		dst.Lines[i] = line.clone()
	}
	return dst
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.UserID == "" {
		errs = append(errs, ErrUserRequired)
	}
	if o.OrderNumber == "" {
		errs = append(errs, ErrOrderNumberRequired)
	}
	if len(o.Lines) == 0 {
		errs = append(errs, ErrLinesRequired)
	}
	if o.Prices.Total.IsNegative() {
		errs = append(errs, ErrAmountNegative)
	}

	seen := make(map[string]struct{}, len(o.Lines))
	for _, line := range o.Lines {
		if line.Quantity < 1 {
			errs = append(errs, ErrLineQtyInvalid)
		}
		if line.Price.IsNegative() {
			errs = append(errs, ErrLinePriceInvalid)
		}
		if _, dup := seen[line.ID]; dup {
			errs = append(errs, ErrLineIDDuplicate)
		}
		seen[line.ID] = struct{}{}
	}

	if o.Status != DeriveStatus(o.LineStatuses()) {
		errs = append(errs, ErrStatusMismatch)
	}

	return errs
}

// Ошибки инвариантов заказа.
var (
	ErrUserRequired        = fmt.Errorf("user_id is required: %w", ErrValidation)
	ErrOrderNumberRequired = fmt.Errorf("order number is required: %w", ErrValidation)
	ErrLinesRequired       = fmt.Errorf("order must contain at least one line: %w", ErrValidation)
	ErrAmountNegative      = fmt.Errorf("amount must be non-negative: %w", ErrValidation)
	ErrLineQtyInvalid      = fmt.Errorf("line quantity must be at least one: %w", ErrValidation)
	ErrLinePriceInvalid    = fmt.Errorf("line price must be non-negative: %w", ErrValidation)
	ErrLineIDDuplicate     = fmt.Errorf("line id must be unique: %w", ErrValidation)
	// ErrStatusMismatch — сохранённый статус заказа расходится с позициями.
	ErrStatusMismatch = fmt.Errorf("order status does not match line statuses: %w", ErrInvalidState)
)
