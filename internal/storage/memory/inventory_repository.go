package memory

import (
	"context"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

type inventoryRepository struct {
	tx *memTx
}

func (r inventoryRepository) GetVariant(_ context.Context, id string) (domain.Variant, error) {
	variant, ok := r.tx.store.variants[id]
	if !ok {
		return domain.Variant{}, domain.ErrVariantNotFound
	}
	return variant, nil
}

// Decrement списывает остаток только при достаточном количестве.
func (r inventoryRepository) Decrement(_ context.Context, variantID string, qty int) error {
	s := r.tx.store
	variant, ok := s.variants[variantID]
	if !ok {
		return domain.ErrVariantNotFound
	}
	switch {
	case variant.Stock == 0:
		return domain.ErrOutOfStock
	case variant.Stock < qty:
		return domain.ErrInsufficientStock
	}
	variant.Stock -= qty
	put(r.tx, s.variants, variantID, variant)
	return nil
}

func (r inventoryRepository) Increment(_ context.Context, variantID string, qty int) error {
	s := r.tx.store
	variant, ok := s.variants[variantID]
	if !ok {
		return domain.ErrVariantNotFound
	}
	variant.Stock += qty
	put(r.tx, s.variants, variantID, variant)
	return nil
}

type catalogRepository struct {
	tx *memTx
}

func (r catalogRepository) GetProduct(_ context.Context, id string) (domain.Product, error) {
	product, ok := r.tx.store.products[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product, nil
}

func (r catalogRepository) GetCategory(_ context.Context, id string) (domain.Category, error) {
	category, ok := r.tx.store.categories[id]
	if !ok {
		return domain.Category{}, domain.ErrCategoryNotFound
	}
	return category, nil
}

type offerRepository struct {
	tx *memTx
}

func (r offerRepository) Create(_ context.Context, offer domain.Offer) error {
	s := r.tx.store
	if _, exists := s.offers[offer.ID]; exists {
		return domain.ErrConflict
	}
	put(r.tx, s.offers, offer.ID, offer)
	return nil
}

func (r offerRepository) Get(_ context.Context, id string) (domain.Offer, error) {
	offer, ok := r.tx.store.offers[id]
	if !ok {
		return domain.Offer{}, domain.ErrOfferNotFound
	}
	return offer, nil
}

func (r offerRepository) SetActive(_ context.Context, id string, active bool) error {
	s := r.tx.store
	offer, ok := s.offers[id]
	if !ok {
		return domain.ErrOfferNotFound
	}
	offer.Active = active
	put(r.tx, s.offers, id, offer)
	return nil
}

func (r offerRepository) ListLive(_ context.Context, at time.Time) ([]domain.Offer, error) {
	result := make([]domain.Offer, 0)
	for _, offer := range r.tx.store.offers {
		if offer.LiveAt(at) {
			result = append(result, offer)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

var (
	_ domain.InventoryRepository = inventoryRepository{}
	_ domain.CatalogRepository   = catalogRepository{}
	_ domain.OfferRepository     = offerRepository{}
)
