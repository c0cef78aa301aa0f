package domain

import (
	"errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"
)

// CheckoutLine — строка оценённой корзины, из которой создаётся позиция заказа.
type CheckoutLine struct {
	ProductID string
	VariantID string
	Quantity  int
	// Price — цена за единицу после предложений и купона.
	Price decimal.Decimal
}

// Validate проверяет строку корзины.
func (l CheckoutLine) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.ProductID, validation.Required),
		validation.Field(&l.VariantID, validation.Required),
		validation.Field(&l.Quantity, validation.Required, validation.Min(1)),
		validation.Field(&l.Price, validation.By(nonNegative)),
	)
}

// PlaceOrderRequest — снимок корзины и результата оплаты для оформления заказа.
type PlaceOrderRequest struct {
	Lines    []CheckoutLine
	Shipping ShippingAddress
	Payment  Payment
	Prices   Prices
	Coupon   AppliedCoupon
}

// Validate проверяет запрос и возвращает ошибку класса ErrValidation.
func (r PlaceOrderRequest) Validate() error {
	err := validation.ValidateStruct(&r,
		validation.Field(&r.Lines, validation.Required),
		validation.Field(&r.Shipping),
		validation.Field(&r.Payment),
		validation.Field(&r.Prices),
	)
	return NewValidationError(err)
}

// Validate проверяет обязательные поля адреса.
func (a ShippingAddress) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.Name, validation.Required),
		validation.Field(&a.AddressLine, validation.Required),
		validation.Field(&a.City, validation.Required),
		validation.Field(&a.State, validation.Required),
		validation.Field(&a.PinCode, validation.Required),
		validation.Field(&a.Mobile, validation.Required),
	)
}

// Validate проверяет способ и статус оплаты.
func (p Payment) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Method, validation.Required, validation.In(PaymentMethodCOD, PaymentMethodWallet, PaymentMethodOnline)),
		validation.Field(&p.Status, validation.Required, validation.In(PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed)),
	)
}

// Validate проверяет, что суммы снимка неотрицательны.
func (p Prices) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Subtotal, validation.By(nonNegative)),
		validation.Field(&p.Discount, validation.By(nonNegative)),
		validation.Field(&p.CouponDeduction, validation.By(nonNegative)),
		validation.Field(&p.Total, validation.By(nonNegative)),
	)
}

// PositiveAmount — правило ozzo для сумм, которые должны быть больше нуля.
func PositiveAmount(value interface{}) error {
	d, ok := value.(decimal.Decimal)
	if !ok {
		return errors.New("must be a decimal amount")
	}
	if !d.IsPositive() {
		return errors.New("must be greater than zero")
	}
	return nil
}

func nonNegative(value interface{}) error {
	d, ok := value.(decimal.Decimal)
	if !ok {
		return errors.New("must be a decimal amount")
	}
	if d.IsNegative() {
		return errors.New("must be non-negative")
	}
	return nil
}
