package domain

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"
)

// TransactionType — направление движения средств по кошельку.
type TransactionType string

const (
	TransactionCredit TransactionType = "CREDIT"
	TransactionDebit  TransactionType = "DEBIT"
)

// Стандартные описания операций кошелька.
const (
	DescriptionCancelRefund = "Refund for order cancellation"
	DescriptionReturnRefund = "Refund for order return"
	DescriptionOrderPayment = "Payment for order"
	DescriptionDeposit      = "Wallet top-up"
)

// Wallet — баланс пользователя. Создаётся при первом зачислении.
type Wallet struct {
	UserID    string
	Balance   decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

// WalletTransaction — неизменяемая запись о движении средств.
type WalletTransaction struct {
	ID          string
	UserID      string
	Type        TransactionType
	Amount      decimal.Decimal
	Description string
	// OrderID — внутренний идентификатор заказа, OrderNumber — номер, который видит покупатель.
	OrderID      string
	OrderNumber  string
	ExternalTxID string
	// BalanceAfter — баланс сразу после применения этой операции.
	BalanceAfter decimal.Decimal
	CreatedAt    time.Time
}

// WalletEntry — запрос на движение средств.
type WalletEntry struct {
	UserID       string
	Amount       decimal.Decimal
	Description  string
	OrderID      string
	OrderNumber  string
	ExternalTxID string
}

// Validate проверяет пользователя и сумму операции.
func (e WalletEntry) Validate() error {
	err := validation.ValidateStruct(&e,
		validation.Field(&e.UserID, validation.Required),
		validation.Field(&e.Amount, validation.By(PositiveAmount)),
		validation.Field(&e.Description, validation.Required),
	)
	return NewValidationError(err)
}

// Signed возвращает сумму со знаком: зачисление положительно, списание отрицательно.
func (t WalletTransaction) Signed() decimal.Decimal {
	if t.Type == TransactionDebit {
		return t.Amount.Neg()
	}
	return t.Amount
}
