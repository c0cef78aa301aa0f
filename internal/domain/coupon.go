package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CouponType — способ расчёта скидки купона.
type CouponType string

const (
	CouponTypeFlat       CouponType = "Flat"
	CouponTypePercentage CouponType = "Percentage"
)

// CouponScope — кому доступен купон.
type CouponScope string

const (
	CouponScopeGlobal     CouponScope = "Global"
	CouponScopeFirstOrder CouponScope = "First Order"
	CouponScopeUser       CouponScope = "User"
)

// CouponUsage — сколько раз конкретный пользователь применил купон.
type CouponUsage struct {
	UserID string
	Count  int
}

// Coupon — скидка по коду с ограничением использования.
type Coupon struct {
	ID          string
	Code        string
	Description string
	Type        CouponType
	Value       decimal.Decimal
	MinPurchase decimal.Decimal
	// MaxDiscount ограничивает процентную скидку; ноль означает без ограничения.
	MaxDiscount  decimal.Decimal
	Scope        CouponScope
	ValidFrom    time.Time
	ExpiresAt    time.Time
	UsageLimit   int
	UsedCount    int
	AllowedUsers []string
	Usage        []CouponUsage
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NormalizeCouponCode приводит код к каноническому виду.
func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// CheckUsable проверяет, что купон можно применить в момент at.
func (c Coupon) CheckUsable(at time.Time) error {
	switch {
	case !c.ExpiresAt.IsZero() && c.ExpiresAt.Before(at):
		return ErrCouponExpired
	case !c.Active:
		return ErrCouponInactive
	case !c.ValidFrom.IsZero() && c.ValidFrom.After(at):
		return ErrCouponNotStarted
	case c.UsedCount >= c.UsageLimit:
		return ErrCouponUsageLimitReached
	}
	return nil
}

// Allows проверяет область действия купона для пользователя.
func (c Coupon) Allows(userID string, hasOrders bool) bool {
	switch c.Scope {
	case CouponScopeGlobal:
		return true
	case CouponScopeFirstOrder:
		return !hasOrders
	case CouponScopeUser:
		for _, id := range c.AllowedUsers {
			if id == userID {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// EligibleFor решает, показывать ли купон пользователю при данной сумме покупки.
func (c Coupon) EligibleFor(userID string, purchase decimal.Decimal, hasOrders bool, at time.Time) bool {
	if purchase.LessThan(c.MinPurchase) {
		return false
	}
	if c.CheckUsable(at) != nil {
		return false
	}
	return c.Allows(userID, hasOrders)
}

// UsageBy возвращает количество применений купона пользователем.
func (c Coupon) UsageBy(userID string) int {
	for _, u := range c.Usage {
		if u.UserID == userID {
			return u.Count
		}
	}
	return 0
}

// Clone возвращает копию купона с независимыми срезами.
func (c Coupon) Clone() Coupon {
	dst := c
	dst.AllowedUsers = append([]string(nil), c.AllowedUsers...)
	dst.Usage = append([]CouponUsage(nil), c.Usage...)
	return dst
}

// AddUsage увеличивает счётчики купона за пользователя.
func (c *Coupon) AddUsage(userID string) {
	c.UsedCount++
	for i := range c.Usage {
		if c.Usage[i].UserID == userID {
			c.Usage[i].Count++
			return
		}
	}
	c.Usage = append(c.Usage, CouponUsage{UserID: userID, Count: 1})
}

// RemoveUsage снимает одно применение именно этого пользователя.
func (c *Coupon) RemoveUsage(userID string) error {
	for i := range c.Usage {
		if c.Usage[i].UserID != userID {
			continue
		}
		c.Usage[i].Count--
		if c.Usage[i].Count <= 0 {
			c.Usage = append(c.Usage[:i], c.Usage[i+1:]...)
		}
		if c.UsedCount > 0 {
			c.UsedCount--
		}
		return nil
	}
	return ErrCouponNotApplied
}
