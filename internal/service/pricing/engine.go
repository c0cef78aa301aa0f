package pricing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
	"github.com/vladislavdragonenkov/ordercore/internal/service/coupon"
)

// OfferSource отдаёт действующие предложения. Реализация может кэшировать результат.
type OfferSource interface {
	LiveOffers(ctx context.Context, at time.Time) ([]domain.Offer, error)
	Invalidate(ctx context.Context) error
}

// StoreOffers читает предложения напрямую из хранилища.
type StoreOffers struct {
	store domain.Store
}

// NewStoreOffers создаёт источник предложений без кэша.
func NewStoreOffers(store domain.Store) *StoreOffers {
	return &StoreOffers{store: store}
}

// LiveOffers реализует OfferSource.
func (s *StoreOffers) LiveOffers(ctx context.Context, at time.Time) ([]domain.Offer, error) {
	var offers []domain.Offer
	err := s.store.InTx(ctx, func(tx domain.Tx) error {
		var err error
		offers, err = tx.Offers().ListLive(ctx, at)
		return err
	})
	return offers, err
}

// Invalidate ничего не делает: данные всегда свежие.
func (s *StoreOffers) Invalidate(context.Context) error { return nil }

// Cart — оценённая корзина.
type Cart struct {
	Lines  []domain.CheckoutLine
	Prices domain.Prices
}

// Engine считает цены с учётом предложений и купонов.
type Engine struct {
	store   domain.Store
	coupons *coupon.Tracker
	offers  OfferSource
	logger  *log.Entry
	now     func() time.Time
}

// NewEngine создаёт движок скидок. Если offers не задан, предложения читаются из store.
func NewEngine(store domain.Store, coupons *coupon.Tracker, offers OfferSource, logger *log.Entry) *Engine {
	if offers == nil {
		offers = NewStoreOffers(store)
	}
	if logger == nil {
		logger = log.New().WithField("component", "pricing")
	}
	return &Engine{
		store:   store,
		coupons: coupons,
		offers:  offers,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// PriceVariant возвращает вариант с ценой по лучшему предложению.
func (e *Engine) PriceVariant(ctx context.Context, variantID string) (domain.PricedVariant, error) {
	now := e.now()
	offers, err := e.offers.LiveOffers(ctx, now)
	if err != nil {
		return domain.PricedVariant{}, fmt.Errorf("load offers: %w", err)
	}

	var priced domain.PricedVariant
	err = e.store.InTx(ctx, func(tx domain.Tx) error {
		variant, err := tx.Inventory().GetVariant(ctx, variantID)
		if err != nil {
			return err
		}
		product, err := tx.Catalog().GetProduct(ctx, variant.ProductID)
		if err != nil {
			return err
		}
		priced = BestPrice(variant, product, offers, now)
		return nil
	})
	return priced, err
}

// PriceCart оценивает строки корзины по лучшим предложениям. Цена в строках запроса игнорируется.
func (e *Engine) PriceCart(ctx context.Context, items []domain.CheckoutLine) (Cart, error) {
	now := e.now()
	offers, err := e.offers.LiveOffers(ctx, now)
	if err != nil {
		return Cart{}, fmt.Errorf("load offers: %w", err)
	}

	var cart Cart
	err = e.store.InTx(ctx, func(tx domain.Tx) error {
		var err error
		cart, err = priceLines(ctx, tx, items, offers, now)
		return err
	})
	return cart, err
}

func priceLines(ctx context.Context, tx domain.Tx, items []domain.CheckoutLine, offers []domain.Offer, at time.Time) (Cart, error) {
	cart := Cart{Lines: make([]domain.CheckoutLine, 0, len(items))}
	subtotal, total := decimal.Zero, decimal.Zero

	for _, item := range items {
		if item.Quantity < 1 {
			return Cart{}, fmt.Errorf("%w: quantity must be positive for variant %s", domain.ErrValidation, item.VariantID)
		}
		variant, err := tx.Inventory().GetVariant(ctx, item.VariantID)
		if err != nil {
			return Cart{}, err
		}
		product, err := tx.Catalog().GetProduct(ctx, variant.ProductID)
		if err != nil {
			return Cart{}, err
		}

		priced := BestPrice(variant, product, offers, at)
		base := variant.OldPrice
		if base.IsZero() {
			base = variant.Price
		}
		qty := decimal.NewFromInt(int64(item.Quantity))
		subtotal = subtotal.Add(base.Mul(qty))
		total = total.Add(priced.Price.Mul(qty))

		cart.Lines = append(cart.Lines, domain.CheckoutLine{
			ProductID: product.ID,
			VariantID: variant.ID,
			Quantity:  item.Quantity,
			Price:     priced.Price,
		})
	}

	cart.Prices = domain.Prices{
		Subtotal: subtotal,
		Discount: subtotal.Sub(total),
		Total:    total,
	}
	return cart, nil
}

// ApplyCoupon применяет купон к строкам и засчитывает использование.
// Счётчик купона меняется атомарно вместе с проверкой лимита.
func (e *Engine) ApplyCoupon(ctx context.Context, userID, code string, lines []domain.CheckoutLine, purchase decimal.Decimal) (CouponResult, error) {
	now := e.now()

	var result CouponResult
	err := e.store.InTx(ctx, func(tx domain.Tx) error {
		c, err := tx.Coupons().GetByCode(ctx, code)
		if err != nil {
			return err
		}

		result, err = ApplyCoupon(lines, c, purchase, now)
		if err != nil {
			return err
		}
		if !c.ValidFrom.IsZero() && c.ValidFrom.After(now) {
			return domain.ErrCouponNotStarted
		}
		hasOrders, err := tx.Orders().ExistsForUser(ctx, userID)
		if err != nil {
			return err
		}
		if !c.Allows(userID, hasOrders) {
			return domain.ErrCouponNotEligible
		}

		result.Coupon, err = e.coupons.Acquire(ctx, tx, c.Code, userID)
		return err
	})
	if err != nil {
		return CouponResult{}, err
	}

	e.logger.WithFields(log.Fields{
		"coupon":    result.Coupon.Code,
		"user_id":   userID,
		"deduction": result.Deduction.String(),
	}).Info("coupon applied")
	return result, nil
}

// RemoveCoupon снимает применение купона пользователем и заново оценивает строки
// по лучшим предложениям.
func (e *Engine) RemoveCoupon(ctx context.Context, userID, code string, lines []domain.CheckoutLine) (Cart, error) {
	now := e.now()
	offers, err := e.offers.LiveOffers(ctx, now)
	if err != nil {
		return Cart{}, fmt.Errorf("load offers: %w", err)
	}

	var cart Cart
	err = e.store.InTx(ctx, func(tx domain.Tx) error {
		if _, err := e.coupons.Release(ctx, tx, code, userID); err != nil {
			return err
		}
		var err error
		cart, err = priceLines(ctx, tx, lines, offers, now)
		return err
	})
	if err != nil {
		return Cart{}, err
	}

	e.logger.WithFields(log.Fields{"coupon": domain.NormalizeCouponCode(code), "user_id": userID}).Info("coupon removed")
	return cart, nil
}

// CreateOffer сохраняет новое предложение и сбрасывает кэш.
func (e *Engine) CreateOffer(ctx context.Context, offer domain.Offer) (domain.Offer, error) {
	if offer.ID == "" {
		offer.ID = uuid.NewString()
	}
	offer.CreatedAt = e.now()
	if err := offer.Validate(); err != nil {
		return domain.Offer{}, err
	}

	err := e.store.InTx(ctx, func(tx domain.Tx) error {
		return tx.Offers().Create(ctx, offer)
	})
	if err != nil {
		return domain.Offer{}, err
	}

	e.invalidate(ctx)
	e.logger.WithFields(log.Fields{"offer_id": offer.ID, "scope": offer.Scope, "value": offer.Value.String()}).Info("offer created")
	return offer, nil
}

// SetOfferActive включает или выключает предложение.
func (e *Engine) SetOfferActive(ctx context.Context, id string, active bool) error {
	err := e.store.InTx(ctx, func(tx domain.Tx) error {
		return tx.Offers().SetActive(ctx, id, active)
	})
	if err != nil {
		return err
	}
	e.invalidate(ctx)
	return nil
}

func (e *Engine) invalidate(ctx context.Context) {
	if err := e.offers.Invalidate(ctx); err != nil {
		e.logger.WithError(err).Warn("failed to invalidate offer cache")
	}
}
