package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

const couponColumns = `
	id, code, description, type, value, min_purchase, max_discount, scope,
	valid_from, expires_at, usage_limit, used_count, allowed_users, active,
	created_at, updated_at`

type couponRepository struct {
	q querier
}

func (r couponRepository) Create(ctx context.Context, coupon domain.Coupon) error {
	coupon.Code = domain.NormalizeCouponCode(coupon.Code)
	allowed, err := json.Marshal(nonNilStrings(coupon.AllowedUsers))
	if err != nil {
		return fmt.Errorf("encode allowed users: %w", err)
	}

	_, err = r.q.ExecContext(ctx, `
		INSERT INTO coupons (`+couponColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`,
		coupon.ID, coupon.Code, coupon.Description, string(coupon.Type), coupon.Value,
		coupon.MinPurchase, coupon.MaxDiscount, string(coupon.Scope),
		nullTime(coupon.ValidFrom), nullTime(coupon.ExpiresAt), coupon.UsageLimit, coupon.UsedCount,
		allowed, coupon.Active, coupon.CreatedAt, coupon.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateCouponCode
		}
		return fmt.Errorf("insert coupon: %w", err)
	}
	return nil
}

func (r couponRepository) GetByCode(ctx context.Context, code string) (domain.Coupon, error) {
	coupon, err := scanCoupon(r.q.QueryRowContext(ctx, `
		SELECT `+couponColumns+` FROM coupons WHERE code = $1
	`, domain.NormalizeCouponCode(code)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Coupon{}, domain.ErrCouponNotFound
		}
		return domain.Coupon{}, fmt.Errorf("select coupon: %w", err)
	}
	return r.withUsage(ctx, coupon)
}

func (r couponRepository) SetActive(ctx context.Context, code string, active bool) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE coupons SET active = $2, updated_at = $3 WHERE code = $1
	`, domain.NormalizeCouponCode(code), active, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update coupon: %w", err)
	}
	affected, err := rowsAffected(res, "coupon update")
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrCouponNotFound
	}
	return nil
}

func (r couponRepository) ListActive(ctx context.Context) ([]domain.Coupon, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+couponColumns+` FROM coupons WHERE active ORDER BY code
	`)
	if err != nil {
		return nil, fmt.Errorf("list active coupons: %w", err)
	}

	coupons, err := func() ([]domain.Coupon, error) {
		defer rows.Close()
		result := make([]domain.Coupon, 0)
		for rows.Next() {
			coupon, err := scanCoupon(rows)
			if err != nil {
				return nil, fmt.Errorf("scan coupon: %w", err)
			}
			result = append(result, coupon)
		}
		return result, rows.Err()
	}()
	if err != nil {
		return nil, err
	}

	for i := range coupons {
		if coupons[i], err = r.withUsage(ctx, coupons[i]); err != nil {
			return nil, err
		}
	}
	return coupons, nil
}

// AcquireUsage увеличивает used_count условным UPDATE, поэтому
// параллельные применения не превышают usage_limit.
func (r couponRepository) AcquireUsage(ctx context.Context, code, userID string) (domain.Coupon, error) {
	code = domain.NormalizeCouponCode(code)
	coupon, err := scanCoupon(r.q.QueryRowContext(ctx, `
		UPDATE coupons
		SET used_count = used_count + 1, updated_at = $2
		WHERE code = $1
		  AND used_count < usage_limit
		RETURNING `+couponColumns, code, time.Now().UTC()))
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := r.GetByCode(ctx, code); getErr != nil {
			return domain.Coupon{}, getErr
		}
		return domain.Coupon{}, domain.ErrCouponUsageLimitReached
	}
	if err != nil {
		return domain.Coupon{}, fmt.Errorf("acquire coupon usage: %w", err)
	}

	if _, err := r.q.ExecContext(ctx, `
		INSERT INTO coupon_usages (code, user_id, count) VALUES ($1, $2, 1)
		ON CONFLICT (code, user_id) DO UPDATE SET count = coupon_usages.count + 1
	`, code, userID); err != nil {
		return domain.Coupon{}, fmt.Errorf("record coupon usage: %w", err)
	}
	return r.withUsage(ctx, coupon)
}

// ReleaseUsage снимает одно применение пользователя; без записи
// об использовании возвращает ErrCouponNotApplied.
func (r couponRepository) ReleaseUsage(ctx context.Context, code, userID string) (domain.Coupon, error) {
	code = domain.NormalizeCouponCode(code)

	var exists bool
	if err := r.q.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM coupons WHERE code = $1)
	`, code).Scan(&exists); err != nil {
		return domain.Coupon{}, fmt.Errorf("check coupon: %w", err)
	}
	if !exists {
		return domain.Coupon{}, domain.ErrCouponNotFound
	}

	var remaining int
	err := r.q.QueryRowContext(ctx, `
		UPDATE coupon_usages
		SET count = count - 1
		WHERE code = $1 AND user_id = $2 AND count > 0
		RETURNING count
	`, code, userID).Scan(&remaining)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Coupon{}, domain.ErrCouponNotApplied
	}
	if err != nil {
		return domain.Coupon{}, fmt.Errorf("release coupon usage: %w", err)
	}
	if remaining == 0 {
		if _, err := r.q.ExecContext(ctx, `
			DELETE FROM coupon_usages WHERE code = $1 AND user_id = $2
		`, code, userID); err != nil {
			return domain.Coupon{}, fmt.Errorf("delete coupon usage: %w", err)
		}
	}

	coupon, err := scanCoupon(r.q.QueryRowContext(ctx, `
		UPDATE coupons
		SET used_count = GREATEST(used_count - 1, 0), updated_at = $2
		WHERE code = $1
		RETURNING `+couponColumns, code, time.Now().UTC()))
	if err != nil {
		return domain.Coupon{}, fmt.Errorf("decrement coupon usage: %w", err)
	}
	return r.withUsage(ctx, coupon)
}

func (r couponRepository) withUsage(ctx context.Context, coupon domain.Coupon) (domain.Coupon, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT user_id, count FROM coupon_usages WHERE code = $1 ORDER BY user_id
	`, coupon.Code)
	if err != nil {
		return domain.Coupon{}, fmt.Errorf("load coupon usage: %w", err)
	}
	defer rows.Close()

	coupon.Usage = nil
	for rows.Next() {
		var usage domain.CouponUsage
		if err := rows.Scan(&usage.UserID, &usage.Count); err != nil {
			return domain.Coupon{}, fmt.Errorf("scan coupon usage: %w", err)
		}
		coupon.Usage = append(coupon.Usage, usage)
	}
	if err := rows.Err(); err != nil {
		return domain.Coupon{}, fmt.Errorf("iterate coupon usage: %w", err)
	}
	return coupon, nil
}

func scanCoupon(row rowScanner) (domain.Coupon, error) {
	var (
		coupon     domain.Coupon
		couponType string
		scope      string
		validFrom  sql.NullTime
		expiresAt  sql.NullTime
		allowed    []byte
	)
	if err := row.Scan(
		&coupon.ID, &coupon.Code, &coupon.Description, &couponType, &coupon.Value,
		&coupon.MinPurchase, &coupon.MaxDiscount, &scope,
		&validFrom, &expiresAt, &coupon.UsageLimit, &coupon.UsedCount, &allowed, &coupon.Active,
		&coupon.CreatedAt, &coupon.UpdatedAt,
	); err != nil {
		return domain.Coupon{}, err
	}
	if err := json.Unmarshal(allowed, &coupon.AllowedUsers); err != nil {
		return domain.Coupon{}, fmt.Errorf("decode allowed users of %s: %w", coupon.Code, err)
	}
	if len(coupon.AllowedUsers) == 0 {
		coupon.AllowedUsers = nil
	}
	coupon.Type = domain.CouponType(couponType)
	coupon.Scope = domain.CouponScope(scope)
	coupon.ValidFrom = timeOrZero(validFrom)
	coupon.ExpiresAt = timeOrZero(expiresAt)
	coupon.CreatedAt = coupon.CreatedAt.UTC()
	coupon.UpdatedAt = coupon.UpdatedAt.UTC()
	return coupon, nil
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

var _ domain.CouponRepository = couponRepository{}
