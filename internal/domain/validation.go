package domain

import (
	"errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Validate проверяет купон перед сохранением.
func (c Coupon) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.Code, validation.Required, validation.Length(3, 32)),
		validation.Field(&c.Type, validation.Required, validation.In(CouponTypeFlat, CouponTypePercentage)),
		validation.Field(&c.Value, validation.By(PositiveAmount), validation.By(c.percentageWithinRange)),
		validation.Field(&c.MinPurchase, validation.By(nonNegative)),
		validation.Field(&c.MaxDiscount, validation.By(nonNegative)),
		validation.Field(&c.Scope, validation.Required, validation.In(CouponScopeGlobal, CouponScopeFirstOrder, CouponScopeUser)),
		validation.Field(&c.UsageLimit, validation.Required, validation.Min(1)),
		validation.Field(&c.UsedCount, validation.Min(0), validation.Max(c.UsageLimit)),
		validation.Field(&c.ExpiresAt, validation.By(c.expiresAfterStart)),
		validation.Field(&c.AllowedUsers, validation.When(c.Scope == CouponScopeUser, validation.Required)),
	)
	return NewValidationError(err)
}

func (c Coupon) percentageWithinRange(value interface{}) error {
	d, _ := value.(decimal.Decimal)
	if c.Type == CouponTypePercentage && d.GreaterThan(hundred) {
		return errors.New("percentage must not exceed 100")
	}
	return nil
}

func (c Coupon) expiresAfterStart(interface{}) error {
	// нулевой срок означает бессрочный купон
	if c.ExpiresAt.IsZero() {
		return nil
	}
	if !c.ValidFrom.IsZero() && !c.ExpiresAt.After(c.ValidFrom) {
		return errors.New("must be after start date")
	}
	return nil
}

// Validate проверяет предложение перед сохранением.
func (o Offer) Validate() error {
	err := validation.ValidateStruct(&o,
		validation.Field(&o.Scope, validation.Required, validation.In(OfferScopeProduct, OfferScopeCategory, OfferScopeGlobal)),
		validation.Field(&o.Value, validation.By(PositiveAmount), validation.By(func(value interface{}) error {
			d, _ := value.(decimal.Decimal)
			if d.GreaterThan(hundred) {
				return errors.New("must not exceed 100")
			}
			return nil
		})),
		validation.Field(&o.TargetID,
			validation.When(o.Scope != OfferScopeGlobal, validation.Required),
			validation.When(o.Scope == OfferScopeGlobal, validation.Empty),
		),
		validation.Field(&o.ValidUntil, validation.When(o.Scope == OfferScopeGlobal, validation.Required)),
	)
	return NewValidationError(err)
}
