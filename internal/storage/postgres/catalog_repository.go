package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

type inventoryRepository struct {
	q querier
}

func (r inventoryRepository) GetVariant(ctx context.Context, id string) (domain.Variant, error) {
	var v domain.Variant
	err := r.q.QueryRowContext(ctx, `
		SELECT id, product_id, size, color, image, price, old_price, discount, stock, unlisted
		FROM variants
		WHERE id = $1
	`, id).Scan(
		&v.ID, &v.ProductID, &v.Size, &v.Color, &v.Image,
		&v.Price, &v.OldPrice, &v.Discount, &v.Stock, &v.Unlisted,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Variant{}, domain.ErrVariantNotFound
		}
		return domain.Variant{}, fmt.Errorf("select variant: %w", err)
	}
	return v, nil
}

// Decrement списывает остаток условным UPDATE: проверка и списание
// выполняются атомарно под блокировкой строки.
func (r inventoryRepository) Decrement(ctx context.Context, variantID string, qty int) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE variants
		SET stock = stock - $2
		WHERE id = $1
		  AND stock >= $2
	`, variantID, qty)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}
	affected, err := rowsAffected(res, "stock decrement")
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	var stock int
	err = r.q.QueryRowContext(ctx, `SELECT stock FROM variants WHERE id = $1`, variantID).Scan(&stock)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return domain.ErrVariantNotFound
	case err != nil:
		return fmt.Errorf("read stock: %w", err)
	case stock == 0:
		return domain.ErrOutOfStock
	default:
		return domain.ErrInsufficientStock
	}
}

func (r inventoryRepository) Increment(ctx context.Context, variantID string, qty int) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE variants SET stock = stock + $2 WHERE id = $1
	`, variantID, qty)
	if err != nil {
		return fmt.Errorf("increment stock: %w", err)
	}
	affected, err := rowsAffected(res, "stock increment")
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrVariantNotFound
	}
	return nil
}

type catalogRepository struct {
	q querier
}

func (r catalogRepository) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	var p domain.Product
	err := r.q.QueryRowContext(ctx, `
		SELECT id, name, category_id, sub_category_id, third_category_id, unlisted
		FROM products
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.CategoryID, &p.SubCategoryID, &p.ThirdCategoryID, &p.Unlisted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}
	return p, nil
}

func (r catalogRepository) GetCategory(ctx context.Context, id string) (domain.Category, error) {
	var c domain.Category
	err := r.q.QueryRowContext(ctx, `
		SELECT id, name, listed FROM categories WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.Listed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Category{}, domain.ErrCategoryNotFound
		}
		return domain.Category{}, fmt.Errorf("select category: %w", err)
	}
	return c, nil
}

type offerRepository struct {
	q querier
}

const offerColumns = `id, title, scope, value, target_id, valid_from, valid_until, active, created_at`

func (r offerRepository) Create(ctx context.Context, offer domain.Offer) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO offers (`+offerColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`,
		offer.ID, offer.Title, string(offer.Scope), offer.Value, offer.TargetID,
		nullTime(offer.ValidFrom), nullTime(offer.ValidUntil), offer.Active, offer.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return fmt.Errorf("insert offer: %w", err)
	}
	return nil
}

func (r offerRepository) Get(ctx context.Context, id string) (domain.Offer, error) {
	offer, err := scanOffer(r.q.QueryRowContext(ctx, `
		SELECT `+offerColumns+` FROM offers WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Offer{}, domain.ErrOfferNotFound
		}
		return domain.Offer{}, fmt.Errorf("select offer: %w", err)
	}
	return offer, nil
}

func (r offerRepository) SetActive(ctx context.Context, id string, active bool) error {
	res, err := r.q.ExecContext(ctx, `UPDATE offers SET active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("update offer: %w", err)
	}
	affected, err := rowsAffected(res, "offer update")
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrOfferNotFound
	}
	return nil
}

func (r offerRepository) ListLive(ctx context.Context, at time.Time) ([]domain.Offer, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+offerColumns+`
		FROM offers
		WHERE active
		  AND (valid_from IS NULL OR valid_from <= $1)
		  AND (valid_until IS NULL OR valid_until >= $1)
		ORDER BY created_at ASC, id ASC
	`, at)
	if err != nil {
		return nil, fmt.Errorf("list live offers: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Offer, 0)
	for rows.Next() {
		offer, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan offer: %w", err)
		}
		result = append(result, offer)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate offers: %w", err)
	}
	return result, nil
}

func scanOffer(row rowScanner) (domain.Offer, error) {
	var (
		offer      domain.Offer
		scope      string
		validFrom  sql.NullTime
		validUntil sql.NullTime
	)
	if err := row.Scan(
		&offer.ID, &offer.Title, &scope, &offer.Value, &offer.TargetID,
		&validFrom, &validUntil, &offer.Active, &offer.CreatedAt,
	); err != nil {
		return domain.Offer{}, err
	}
	offer.Scope = domain.OfferScope(scope)
	offer.ValidFrom = timeOrZero(validFrom)
	offer.ValidUntil = timeOrZero(validUntil)
	offer.CreatedAt = offer.CreatedAt.UTC()
	return offer, nil
}

var (
	_ domain.InventoryRepository = inventoryRepository{}
	_ domain.CatalogRepository   = catalogRepository{}
	_ domain.OfferRepository     = offerRepository{}
)
