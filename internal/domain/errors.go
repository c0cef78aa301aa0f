package domain

import (
	"errors"
	"fmt"
)

// Базовые виды ошибок ядра. Конкретные ошибки оборачивают один из них,
// поэтому внешний слой может классифицировать ошибку через errors.Is или KindOf.
var (
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrUnavailable         = errors.New("unavailable")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidState        = errors.New("invalid state")
	ErrValidation          = errors.New("validation failed")
)

var (
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = fmt.Errorf("order %w", ErrNotFound)
	// ErrOrderLineNotFound возвращается, если позиция заказа не найдена.
	ErrOrderLineNotFound = fmt.Errorf("order line %w", ErrNotFound)
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = fmt.Errorf("order version %w", ErrConflict)
	// ErrOrderNotFailed — повторная попытка возможна только для заказа в статусе Failed.
	ErrOrderNotFailed = fmt.Errorf("order is not failed: %w", ErrInvalidState)

	// ErrDuplicateStatusTransition — статус уже присутствует в истории позиции.
	ErrDuplicateStatusTransition = fmt.Errorf("duplicate status transition: %w", ErrConflict)
	// ErrInvalidStatusTransition — переход не разрешён конечным автоматом.
	ErrInvalidStatusTransition = fmt.Errorf("status transition not allowed: %w", ErrInvalidState)
	// ErrUnknownStatus — статус позиции вне перечня.
	ErrUnknownStatus = fmt.Errorf("unknown line status: %w", ErrValidation)

	// ErrProductNotFound возвращается, если товар отсутствует в каталоге.
	ErrProductNotFound = fmt.Errorf("product %w", ErrNotFound)
	// ErrCategoryNotFound возвращается, если категория отсутствует в каталоге.
	ErrCategoryNotFound = fmt.Errorf("category %w", ErrNotFound)
	// ErrVariantNotFound возвращается, если вариант товара не найден.
	ErrVariantNotFound = fmt.Errorf("variant %w", ErrNotFound)
	// ErrItemUnavailable — товар, вариант или одна из категорий сняты с витрины.
	ErrItemUnavailable = fmt.Errorf("item %w", ErrUnavailable)
	// ErrOutOfStock — остаток варианта равен нулю.
	ErrOutOfStock = fmt.Errorf("out of stock: %w", ErrInsufficientStock)

	// ErrCouponNotFound возвращается, если купон с таким кодом не найден.
	ErrCouponNotFound = fmt.Errorf("coupon %w", ErrNotFound)
	// ErrCouponExpired — срок действия купона истёк.
	ErrCouponExpired = fmt.Errorf("coupon expired: %w", ErrUnavailable)
	// ErrCouponInactive — купон выключен.
	ErrCouponInactive = fmt.Errorf("coupon inactive: %w", ErrUnavailable)
	// ErrCouponNotStarted — период действия купона ещё не начался.
	ErrCouponNotStarted = fmt.Errorf("coupon not started: %w", ErrUnavailable)
	// ErrCouponUsageLimitReached — usedCount достиг usageLimit.
	ErrCouponUsageLimitReached = fmt.Errorf("coupon usage limit reached: %w", ErrUnavailable)
	// ErrCouponNotEligible — область действия купона не распространяется на пользователя.
	ErrCouponNotEligible = fmt.Errorf("coupon not eligible for user: %w", ErrUnavailable)
	// ErrCouponNotApplied — пользователь не применял купон, отменять нечего.
	ErrCouponNotApplied = fmt.Errorf("coupon not applied by user: %w", ErrInvalidState)
	// ErrMinPurchaseNotMet — сумма покупки меньше минимальной для купона.
	ErrMinPurchaseNotMet = fmt.Errorf("minimum purchase amount not met: %w", ErrInvalidState)
	// ErrDuplicateCouponCode — купон с таким кодом уже существует.
	ErrDuplicateCouponCode = fmt.Errorf("coupon code already exists: %w", ErrConflict)

	// ErrOfferNotFound возвращается, если предложение не найдено.
	ErrOfferNotFound = fmt.Errorf("offer %w", ErrNotFound)

	// ErrWalletNotFound возвращается, если кошелёк пользователя ещё не создан.
	ErrWalletNotFound = fmt.Errorf("wallet %w", ErrNotFound)
	// ErrReviewExists — отзыв на позицию уже оставлен.
	ErrReviewExists = fmt.Errorf("review already exists: %w", ErrConflict)
	// ErrForbiddenLine — позиция принадлежит другому пользователю.
	ErrForbiddenLine = fmt.Errorf("order line belongs to another user: %w", ErrNotFound)

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// ErrorKind — класс ошибки, который видит внешний слой.
type ErrorKind string

const (
	KindUnknown             ErrorKind = "unknown"
	KindNotFound            ErrorKind = "not_found"
	KindConflict            ErrorKind = "conflict"
	KindUnavailable         ErrorKind = "unavailable"
	KindInsufficientStock   ErrorKind = "insufficient_stock"
	KindInsufficientBalance ErrorKind = "insufficient_balance"
	KindInvalidState        ErrorKind = "invalid_state"
	KindValidation          ErrorKind = "validation_failed"
)

var kinds = []struct {
	sentinel error
	kind     ErrorKind
}{
	{ErrNotFound, KindNotFound},
	{ErrConflict, KindConflict},
	{ErrUnavailable, KindUnavailable},
	{ErrInsufficientStock, KindInsufficientStock},
	{ErrInsufficientBalance, KindInsufficientBalance},
	{ErrInvalidState, KindInvalidState},
	{ErrValidation, KindValidation},
}

// KindOf возвращает класс ошибки или KindUnknown для инфраструктурных сбоев.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.sentinel) {
			return k.kind
		}
	}
	return KindUnknown
}

// ItemError указывает на конкретную позицию, из-за которой операция не прошла.
type ItemError struct {
	ProductID   string
	ProductName string
	VariantID   string
	Err         error
}

func (e *ItemError) Error() string {
	name := e.ProductName
	if name == "" {
		name = e.ProductID
	}
	return fmt.Sprintf("%s: %v", name, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

// NewValidationError оборачивает описание некорректного ввода в ErrValidation.
func NewValidationError(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrValidation, err)
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsNotFound проверяет принадлежность ошибки к классу NotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict проверяет принадлежность ошибки к классу Conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
