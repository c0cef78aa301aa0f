package coupon

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

// Tracker ведёт счётчики использования купонов и правила их доступности.
// Счётчик меняется только условным обновлением в хранилище, поэтому
// применения одного купона линеаризуются.
type Tracker struct {
	store  domain.Store
	logger *log.Entry
	now    func() time.Time
}

// NewTracker создаёт трекер купонов.
func NewTracker(store domain.Store, logger *log.Entry) *Tracker {
	if logger == nil {
		logger = log.New().WithField("component", "coupon")
	}
	return &Tracker{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Create заводит новый купон. Код приводится к верхнему регистру.
func (t *Tracker) Create(ctx context.Context, coupon domain.Coupon) (domain.Coupon, error) {
	now := t.now()
	coupon.Code = domain.NormalizeCouponCode(coupon.Code)
	if coupon.ID == "" {
		coupon.ID = uuid.NewString()
	}
	if coupon.ValidFrom.IsZero() {
		coupon.ValidFrom = now
	}
	coupon.UsedCount = 0
	coupon.Usage = nil
	coupon.CreatedAt = now
	coupon.UpdatedAt = now

	if err := coupon.Validate(); err != nil {
		return domain.Coupon{}, err
	}

	err := t.store.InTx(ctx, func(tx domain.Tx) error {
		return tx.Coupons().Create(ctx, coupon)
	})
	if err != nil {
		return domain.Coupon{}, err
	}

	t.logger.WithField("coupon", coupon.Code).Info("coupon created")
	return coupon, nil
}

// SetActive включает или выключает купон.
func (t *Tracker) SetActive(ctx context.Context, code string, active bool) error {
	return t.store.InTx(ctx, func(tx domain.Tx) error {
		return tx.Coupons().SetActive(ctx, code, active)
	})
}

// Eligible возвращает купоны, которые можно предложить пользователю при данной сумме.
func (t *Tracker) Eligible(ctx context.Context, userID string, purchase decimal.Decimal) ([]domain.Coupon, error) {
	now := t.now()

	var result []domain.Coupon
	err := t.store.InTx(ctx, func(tx domain.Tx) error {
		hasOrders, err := tx.Orders().ExistsForUser(ctx, userID)
		if err != nil {
			return err
		}
		active, err := tx.Coupons().ListActive(ctx)
		if err != nil {
			return err
		}
		for _, c := range active {
			if c.EligibleFor(userID, purchase, hasOrders, now) {
				result = append(result, c)
			}
		}
		return nil
	})
	return result, err
}

// Acquire засчитывает применение купона пользователем в рамках транзакции.
func (t *Tracker) Acquire(ctx context.Context, tx domain.Tx, code, userID string) (domain.Coupon, error) {
	coupon, err := tx.Coupons().AcquireUsage(ctx, code, userID)
	if err != nil {
		return domain.Coupon{}, err
	}
	if err := t.emit(ctx, tx, domain.EventCouponApplied, coupon, userID); err != nil {
		return domain.Coupon{}, err
	}
	t.logger.WithFields(log.Fields{"coupon": coupon.Code, "user_id": userID, "used": coupon.UsedCount}).Info("coupon usage acquired")
	return coupon, nil
}

// Release отменяет одно применение купона этим пользователем.
func (t *Tracker) Release(ctx context.Context, tx domain.Tx, code, userID string) (domain.Coupon, error) {
	coupon, err := tx.Coupons().ReleaseUsage(ctx, code, userID)
	if err != nil {
		return domain.Coupon{}, err
	}
	if err := t.emit(ctx, tx, domain.EventCouponRemoved, coupon, userID); err != nil {
		return domain.Coupon{}, err
	}
	t.logger.WithFields(log.Fields{"coupon": coupon.Code, "user_id": userID, "used": coupon.UsedCount}).Info("coupon usage released")
	return coupon, nil
}

func (t *Tracker) emit(ctx context.Context, tx domain.Tx, eventType string, coupon domain.Coupon, userID string) error {
	msg, err := domain.NewOutboxMessage(domain.AggregateCoupon, coupon.Code, eventType, domain.CouponEvent{
		Code:       coupon.Code,
		UserID:     userID,
		UsedCount:  coupon.UsedCount,
		OccurredAt: t.now(),
	})
	if err != nil {
		return err
	}
	if _, err := tx.Outbox().Enqueue(ctx, msg); err != nil {
		return fmt.Errorf("enqueue coupon event: %w", err)
	}
	return nil
}
