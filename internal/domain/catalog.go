package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product — карточка товара в том объёме, который нужен проверке доступности.
type Product struct {
	ID              string
	Name            string
	CategoryID      string
	SubCategoryID   string
	ThirdCategoryID string
	Unlisted        bool
}

// CategoryIDs возвращает все три уровня категорий, пропуская пустые.
func (p Product) CategoryIDs() []string {
	ids := make([]string, 0, 3)
	for _, id := range []string{p.CategoryID, p.SubCategoryID, p.ThirdCategoryID} {
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// Category — узел дерева категорий.
type Category struct {
	ID     string
	Name   string
	Listed bool
}

// Variant — покупаемый SKU товара со своим остатком и ценой.
type Variant struct {
	ID        string
	ProductID string
	Size      string
	Color     string
	Image     string
	Price     decimal.Decimal
	OldPrice  decimal.Decimal
	// Discount — сохранённый процент скидки варианта.
	Discount decimal.Decimal
	Stock    int
	Unlisted bool
}

// PricedVariant — вариант с ценой после применения лучшего предложения.
// Исходный Variant при этом не меняется.
type PricedVariant struct {
	Variant
	// OfferID пуст, если ни одно предложение не превысило базовую скидку.
	OfferID string
}

// OfferScope — область действия предложения.
type OfferScope string

const (
	OfferScopeProduct  OfferScope = "product"
	OfferScopeCategory OfferScope = "category"
	OfferScopeGlobal   OfferScope = "global"
)

// Valid проверяет область действия предложения.
func (s OfferScope) Valid() bool {
	switch s {
	case OfferScopeProduct, OfferScopeCategory, OfferScopeGlobal:
		return true
	default:
		return false
	}
}

// Offer — автоматическая скидка в процентах на товар, категорию или весь каталог.
type Offer struct {
	ID    string
	Title string
	Scope OfferScope
	// Value — процент скидки.
	Value decimal.Decimal
	// TargetID пуст для глобальных предложений.
	TargetID   string
	ValidFrom  time.Time
	ValidUntil time.Time
	Active     bool
	CreatedAt  time.Time
}

// LiveAt сообщает, что предложение активно и момент at попадает в период действия.
// Нулевые границы периода не ограничивают его.
func (o Offer) LiveAt(at time.Time) bool {
	if !o.Active {
		return false
	}
	if !o.ValidFrom.IsZero() && at.Before(o.ValidFrom) {
		return false
	}
	if !o.ValidUntil.IsZero() && at.After(o.ValidUntil) {
		return false
	}
	return true
}

// Matches сообщает, распространяется ли предложение на товар.
func (o Offer) Matches(product Product) bool {
	switch o.Scope {
	case OfferScopeGlobal:
		return true
	case OfferScopeProduct:
		return o.TargetID != "" && o.TargetID == product.ID
	case OfferScopeCategory:
		for _, id := range product.CategoryIDs() {
			if id == o.TargetID {
				return true
			}
		}
		return false
	default:
		return false
	}
}
