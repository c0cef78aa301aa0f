package memory

import (
	"context"
	"sort"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

type couponRepository struct {
	tx *memTx
}

func (r couponRepository) Create(_ context.Context, coupon domain.Coupon) error {
	s := r.tx.store
	coupon.Code = domain.NormalizeCouponCode(coupon.Code)
	if _, exists := s.coupons[coupon.Code]; exists {
		return domain.ErrDuplicateCouponCode
	}
	put(r.tx, s.coupons, coupon.Code, coupon.Clone())
	return nil
}

func (r couponRepository) GetByCode(_ context.Context, code string) (domain.Coupon, error) {
	coupon, ok := r.tx.store.coupons[domain.NormalizeCouponCode(code)]
	if !ok {
		return domain.Coupon{}, domain.ErrCouponNotFound
	}
	return coupon.Clone(), nil
}

func (r couponRepository) SetActive(_ context.Context, code string, active bool) error {
	s := r.tx.store
	code = domain.NormalizeCouponCode(code)
	coupon, ok := s.coupons[code]
	if !ok {
		return domain.ErrCouponNotFound
	}
	coupon = coupon.Clone()
	coupon.Active = active
	put(r.tx, s.coupons, code, coupon)
	return nil
}

func (r couponRepository) ListActive(_ context.Context) ([]domain.Coupon, error) {
	result := make([]domain.Coupon, 0)
	for _, coupon := range r.tx.store.coupons {
		if coupon.Active {
			result = append(result, coupon.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Code < result[j].Code })
	return result, nil
}

// AcquireUsage увеличивает usedCount, пока он меньше usageLimit.
func (r couponRepository) AcquireUsage(_ context.Context, code, userID string) (domain.Coupon, error) {
	s := r.tx.store
	code = domain.NormalizeCouponCode(code)
	coupon, ok := s.coupons[code]
	if !ok {
		return domain.Coupon{}, domain.ErrCouponNotFound
	}
	if coupon.UsedCount >= coupon.UsageLimit {
		return domain.Coupon{}, domain.ErrCouponUsageLimitReached
	}
	coupon = coupon.Clone()
	coupon.AddUsage(userID)
	put(r.tx, s.coupons, code, coupon)
	return coupon.Clone(), nil
}

// ReleaseUsage снимает применение именно этого пользователя.
func (r couponRepository) ReleaseUsage(_ context.Context, code, userID string) (domain.Coupon, error) {
	s := r.tx.store
	code = domain.NormalizeCouponCode(code)
	coupon, ok := s.coupons[code]
	if !ok {
		return domain.Coupon{}, domain.ErrCouponNotFound
	}
	coupon = coupon.Clone()
	if err := coupon.RemoveUsage(userID); err != nil {
		return domain.Coupon{}, err
	}
	put(r.tx, s.coupons, code, coupon)
	return coupon.Clone(), nil
}

var _ domain.CouponRepository = couponRepository{}
