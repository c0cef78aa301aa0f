package pricing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// BestPrice выбирает предложение с наибольшим процентом среди подходящих товару.
// Предложение применяется, только если его процент строго больше собственной
// скидки варианта; цена считается от OldPrice и округляется до целого.
func BestPrice(variant domain.Variant, product domain.Product, offers []domain.Offer, at time.Time) domain.PricedVariant {
	priced := domain.PricedVariant{Variant: variant}

	var best *domain.Offer
	for i := range offers {
		offer := &offers[i]
		if !offer.LiveAt(at) || !offer.Matches(product) {
			continue
		}
		if best == nil || offer.Value.GreaterThan(best.Value) {
			best = offer
		}
	}
	if best == nil || !best.Value.GreaterThan(variant.Discount) {
		return priced
	}

	priced.Discount = best.Value
	priced.Price = variant.OldPrice.Sub(percentOf(variant.OldPrice, best.Value)).Round(0)
	priced.OfferID = best.ID
	return priced
}

func percentOf(amount, percent decimal.Decimal) decimal.Decimal {
	return amount.Mul(percent).Div(hundred)
}

// CouponResult — строки корзины после применения купона.
type CouponResult struct {
	Lines     []domain.CheckoutLine
	Deduction decimal.Decimal
	Coupon    domain.Coupon
}

// ApplyCoupon пересчитывает цены строк под купон, не трогая счётчики использования.
// Проверки выполняются по порядку: срок, активность, минимальная сумма.
//
// Процентный купон уменьшает цену единицы каждой строки на процент с округлением
// до целого. MaxDiscount, если задан, пропорционально уменьшает скидки единиц
// (с точностью до копеек, вниз). Фиксированный купон делится поровну на все
// единицы товара. Цена единицы не опускается ниже нуля.
//
// Deduction всегда равен фактическому уменьшению суммы строк: сокращение цены
// единицы, умноженное на количество.
func ApplyCoupon(lines []domain.CheckoutLine, coupon domain.Coupon, purchase decimal.Decimal, at time.Time) (CouponResult, error) {
	switch {
	case !coupon.ExpiresAt.IsZero() && coupon.ExpiresAt.Before(at):
		return CouponResult{}, domain.ErrCouponExpired
	case !coupon.Active:
		return CouponResult{}, domain.ErrCouponInactive
	case purchase.LessThan(coupon.MinPurchase):
		return CouponResult{}, fmt.Errorf("%w: requires %s", domain.ErrMinPurchaseNotMet, coupon.MinPurchase.StringFixed(2))
	}

	totalQty := 0
	for _, line := range lines {
		totalQty += line.Quantity
	}
	if totalQty <= 0 {
		return CouponResult{}, fmt.Errorf("%w: no items to discount", domain.ErrValidation)
	}

	out := make([]domain.CheckoutLine, len(lines))
	copy(out, lines)

	var deduction decimal.Decimal
	switch coupon.Type {
	case domain.CouponTypePercentage:
		deduction = applyPercentage(out, coupon)
	case domain.CouponTypeFlat:
		deduction = applyFlat(out, coupon.Value, totalQty)
	default:
		return CouponResult{}, fmt.Errorf("%w: unknown coupon type %q", domain.ErrValidation, coupon.Type)
	}

	return CouponResult{Lines: out, Deduction: deduction, Coupon: coupon}, nil
}

func applyPercentage(lines []domain.CheckoutLine, coupon domain.Coupon) decimal.Decimal {
	cuts := make([]decimal.Decimal, len(lines))
	total := decimal.Zero
	for i, line := range lines {
		cuts[i] = percentOf(line.Price, coupon.Value).Round(0)
		total = total.Add(cuts[i].Mul(decimal.NewFromInt(int64(line.Quantity))))
	}

	if coupon.MaxDiscount.IsPositive() && total.GreaterThan(coupon.MaxDiscount) {
		for i := range cuts {
			cuts[i] = cuts[i].Mul(coupon.MaxDiscount).Div(total).RoundDown(2)
		}
	}
	return cutPrices(lines, cuts)
}

func applyFlat(lines []domain.CheckoutLine, value decimal.Decimal, totalQty int) decimal.Decimal {
	perUnit := value.DivRound(decimal.NewFromInt(int64(totalQty)), 2)
	cuts := make([]decimal.Decimal, len(lines))
	for i := range cuts {
		cuts[i] = perUnit
	}
	return cutPrices(lines, cuts)
}

// cutPrices снижает цену единицы каждой строки, но не ниже нуля, и возвращает
// фактическое уменьшение суммы корзины.
func cutPrices(lines []domain.CheckoutLine, cuts []decimal.Decimal) decimal.Decimal {
	deduction := decimal.Zero
	for i := range lines {
		cut := decimal.Min(cuts[i], lines[i].Price)
		if !cut.IsPositive() {
			continue
		}
		lines[i].Price = lines[i].Price.Sub(cut)
		deduction = deduction.Add(cut.Mul(decimal.NewFromInt(int64(lines[i].Quantity))))
	}
	return deduction
}
