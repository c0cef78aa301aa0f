package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func baseCoupon(now time.Time) Coupon {
	return Coupon{
		Code:        "SAVE20",
		Type:        CouponTypePercentage,
		Value:       decimal.NewFromInt(20),
		MinPurchase: decimal.NewFromInt(300),
		Scope:       CouponScopeGlobal,
		ValidFrom:   now.Add(-24 * time.Hour),
		ExpiresAt:   now.Add(24 * time.Hour),
		UsageLimit:  2,
		Active:      true,
	}
}

func TestCouponEligibleFor(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	purchase := decimal.NewFromInt(500)

	tests := []struct {
		name      string
		mut       func(c *Coupon)
		hasOrders bool
		purchase  decimal.Decimal
		want      bool
	}{
		{name: "global", mut: func(*Coupon) {}, purchase: purchase, want: true},
		{name: "below minimum", mut: func(*Coupon) {}, purchase: decimal.NewFromInt(299), want: false},
		{name: "inactive", mut: func(c *Coupon) { c.Active = false }, purchase: purchase, want: false},
		{name: "expired", mut: func(c *Coupon) { c.ExpiresAt = now.Add(-time.Minute) }, purchase: purchase, want: false},
		{name: "not started", mut: func(c *Coupon) { c.ValidFrom = now.Add(time.Hour) }, purchase: purchase, want: false},
		{name: "limit reached", mut: func(c *Coupon) { c.UsedCount = 2 }, purchase: purchase, want: false},
		{name: "first order without orders", mut: func(c *Coupon) { c.Scope = CouponScopeFirstOrder }, purchase: purchase, want: true},
		{name: "first order with orders", mut: func(c *Coupon) { c.Scope = CouponScopeFirstOrder }, hasOrders: true, purchase: purchase, want: false},
		{name: "user scope allowed", mut: func(c *Coupon) { c.Scope = CouponScopeUser; c.AllowedUsers = []string{"u1"} }, purchase: purchase, want: true},
		{name: "user scope other", mut: func(c *Coupon) { c.Scope = CouponScopeUser; c.AllowedUsers = []string{"u2"} }, purchase: purchase, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := baseCoupon(now)
			tt.mut(&c)
			if got := c.EligibleFor("u1", tt.purchase, tt.hasOrders, now); got != tt.want {
				t.Fatalf("EligibleFor() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCouponUsageReversalIsKeyedByUser(t *testing.T) {
	c := baseCoupon(time.Now())
	c.UsageLimit = 5
	c.AddUsage("alice")
	c.AddUsage("bob")
	c.AddUsage("alice")

	if c.UsedCount != 3 || c.UsageBy("alice") != 2 || c.UsageBy("bob") != 1 {
		t.Fatalf("unexpected usage %+v", c.Usage)
	}

	// bob применил купон последним по позиции, но снимается применение alice
	if err := c.RemoveUsage("alice"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if c.UsedCount != 2 || c.UsageBy("alice") != 1 || c.UsageBy("bob") != 1 {
		t.Fatalf("unexpected usage after removal %+v", c.Usage)
	}

	if err := c.RemoveUsage("carol"); !errors.Is(err, ErrCouponNotApplied) {
		t.Fatalf("expected not applied, got %v", err)
	}
	if c.UsedCount != 2 {
		t.Fatalf("failed removal must not change counter")
	}
}

func TestCouponValidate(t *testing.T) {
	now := time.Now()
	valid := baseCoupon(now)
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid coupon, got %v", err)
	}

	tooMuch := baseCoupon(now)
	tooMuch.Value = decimal.NewFromInt(150)
	if err := tooMuch.Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	userScope := baseCoupon(now)
	userScope.Scope = CouponScopeUser
	if err := userScope.Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected allowed users to be required, got %v", err)
	}

	backwards := baseCoupon(now)
	backwards.ExpiresAt = backwards.ValidFrom.Add(-time.Hour)
	if err := backwards.Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected date validation error, got %v", err)
	}

	open := baseCoupon(now)
	open.ExpiresAt = time.Time{}
	if err := open.Validate(); err != nil {
		t.Fatalf("coupon without expiry must be valid, got %v", err)
	}
	if !open.EligibleFor("u1", decimal.NewFromInt(500), false, now.Add(10*365*24*time.Hour)) {
		t.Fatalf("coupon without expiry must stay eligible")
	}
}

func TestNormalizeCouponCode(t *testing.T) {
	if got := NormalizeCouponCode("  save20 "); got != "SAVE20" {
		t.Fatalf("unexpected code %q", got)
	}
}
