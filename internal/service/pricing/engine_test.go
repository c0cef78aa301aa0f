package pricing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
	"github.com/vladislavdragonenkov/ordercore/internal/service/coupon"
	"github.com/vladislavdragonenkov/ordercore/internal/storage/memory"
)

type countingOffers struct {
	OfferSource
	invalidated int
}

func (c *countingOffers) Invalidate(ctx context.Context) error {
	c.invalidated++
	return c.OfferSource.Invalidate(ctx)
}

func newEngineFixture(t *testing.T) (*Engine, *memory.Store, *countingOffers) {
	t.Helper()
	store := memory.NewStore()
	store.PutProduct(domain.Product{ID: "p-1", Name: "Shirt", CategoryID: "men"})
	store.PutVariant(domain.Variant{ID: "v-1", ProductID: "p-1", OldPrice: dec("500"), Price: dec("500"), Stock: 10})
	store.PutVariant(domain.Variant{ID: "v-2", ProductID: "p-1", OldPrice: dec("200"), Price: dec("180"), Discount: dec("10"), Stock: 10})

	offers := &countingOffers{OfferSource: NewStoreOffers(store)}
	tracker := coupon.NewTracker(store, nil)
	return NewEngine(store, tracker, offers, nil), store, offers
}

func TestEngine_PriceCartUsesBestOffer(t *testing.T) {
	ctx := context.Background()
	engine, _, offers := newEngineFixture(t)

	_, err := engine.CreateOffer(ctx, domain.Offer{
		Scope:    domain.OfferScopeCategory,
		TargetID: "men",
		Value:    dec("20"),
		Active:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, offers.invalidated)

	cart, err := engine.PriceCart(ctx, []domain.CheckoutLine{
		{VariantID: "v-1", Quantity: 2},
		{VariantID: "v-2", Quantity: 1},
	})
	require.NoError(t, err)
	require.Len(t, cart.Lines, 2)
	assert.True(t, dec("400").Equal(cart.Lines[0].Price))
	assert.True(t, dec("160").Equal(cart.Lines[1].Price))
	assert.True(t, dec("1200").Equal(cart.Prices.Subtotal))
	assert.True(t, dec("960").Equal(cart.Prices.Total))
	assert.True(t, dec("240").Equal(cart.Prices.Discount))

	priced, err := engine.PriceVariant(ctx, "v-2")
	require.NoError(t, err)
	assert.True(t, dec("160").Equal(priced.Price))
	assert.NotEmpty(t, priced.OfferID)
}

func TestEngine_SetOfferActiveRestoresPrice(t *testing.T) {
	ctx := context.Background()
	engine, _, _ := newEngineFixture(t)

	offer, err := engine.CreateOffer(ctx, domain.Offer{Scope: domain.OfferScopeProduct, TargetID: "p-1", Value: dec("50"), Active: true})
	require.NoError(t, err)
	require.NoError(t, engine.SetOfferActive(ctx, offer.ID, false))

	priced, err := engine.PriceVariant(ctx, "v-1")
	require.NoError(t, err)
	assert.True(t, dec("500").Equal(priced.Price))
	assert.Empty(t, priced.OfferID)
}

func TestEngine_ApplyAndRemoveCoupon(t *testing.T) {
	ctx := context.Background()
	engine, store, _ := newEngineFixture(t)

	_, err := engine.coupons.Create(ctx, domain.Coupon{
		Code:        "save20",
		Type:        domain.CouponTypePercentage,
		Value:       dec("20"),
		MinPurchase: dec("300"),
		Scope:       domain.CouponScopeGlobal,
		ValidFrom:   time.Now().UTC().Add(-time.Hour),
		ExpiresAt:   time.Now().UTC().Add(24 * time.Hour),
		UsageLimit:  1,
		Active:      true,
	})
	require.NoError(t, err)

	lines := []domain.CheckoutLine{{ProductID: "p-1", VariantID: "v-1", Quantity: 1, Price: dec("500")}}
	result, err := engine.ApplyCoupon(ctx, "alice", "SAVE20", lines, dec("500"))
	require.NoError(t, err)
	assert.True(t, dec("400").Equal(result.Lines[0].Price))
	assert.True(t, dec("100").Equal(result.Deduction))
	assert.Equal(t, 1, result.Coupon.UsedCount)

	_, err = engine.ApplyCoupon(ctx, "bob", "SAVE20", lines, dec("500"))
	assert.ErrorIs(t, err, domain.ErrCouponUsageLimitReached)

	_, err = engine.RemoveCoupon(ctx, "bob", "SAVE20", lines)
	assert.ErrorIs(t, err, domain.ErrCouponNotApplied)

	cart, err := engine.RemoveCoupon(ctx, "alice", "SAVE20", result.Lines)
	require.NoError(t, err)
	assert.True(t, dec("500").Equal(cart.Lines[0].Price))

	require.NoError(t, store.InTx(ctx, func(tx domain.Tx) error {
		c, err := tx.Coupons().GetByCode(ctx, "SAVE20")
		require.NoError(t, err)
		assert.Equal(t, 0, c.UsedCount)
		return nil
	}))
}

func TestEngine_ApplyCouponScope(t *testing.T) {
	ctx := context.Background()
	engine, _, _ := newEngineFixture(t)

	_, err := engine.coupons.Create(ctx, domain.Coupon{
		Code:         "VIPONLY",
		Type:         domain.CouponTypeFlat,
		Value:        dec("50"),
		Scope:        domain.CouponScopeUser,
		AllowedUsers: []string{"vip"},
		ValidFrom:    time.Now().UTC().Add(-time.Hour),
		ExpiresAt:    time.Now().UTC().Add(time.Hour),
		UsageLimit:   5,
		Active:       true,
	})
	require.NoError(t, err)

	lines := []domain.CheckoutLine{{ProductID: "p-1", VariantID: "v-1", Quantity: 1, Price: dec("500")}}
	_, err = engine.ApplyCoupon(ctx, "stranger", "VIPONLY", lines, dec("500"))
	assert.ErrorIs(t, err, domain.ErrCouponNotEligible)

	_, err = engine.ApplyCoupon(ctx, "vip", "unknown", lines, dec("500"))
	assert.ErrorIs(t, err, domain.ErrCouponNotFound)
}
