package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

// Seed — начальные данные магазина из YAML-файла.
type Seed struct {
	Categories []SeedCategory `yaml:"categories"`
	Products   []SeedProduct  `yaml:"products"`
	Variants   []SeedVariant  `yaml:"variants"`
	Offers     []SeedOffer    `yaml:"offers"`
	Coupons    []SeedCoupon   `yaml:"coupons"`
	Deposits   []SeedDeposit  `yaml:"deposits"`
}

type SeedCategory struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Listed bool   `yaml:"listed"`
}

type SeedProduct struct {
	ID              string `yaml:"id"`
	Name            string `yaml:"name"`
	CategoryID      string `yaml:"category_id"`
	SubCategoryID   string `yaml:"sub_category_id"`
	ThirdCategoryID string `yaml:"third_category_id"`
	Unlisted        bool   `yaml:"unlisted"`
}

type SeedVariant struct {
	ID        string          `yaml:"id"`
	ProductID string          `yaml:"product_id"`
	Size      string          `yaml:"size"`
	Color     string          `yaml:"color"`
	Image     string          `yaml:"image"`
	Price     decimal.Decimal `yaml:"price"`
	OldPrice  decimal.Decimal `yaml:"old_price"`
	Discount  decimal.Decimal `yaml:"discount"`
	Stock     int             `yaml:"stock"`
	Unlisted  bool            `yaml:"unlisted"`
}

type SeedOffer struct {
	ID         string          `yaml:"id"`
	Title      string          `yaml:"title"`
	Scope      string          `yaml:"scope"`
	Value      decimal.Decimal `yaml:"value"`
	TargetID   string          `yaml:"target_id"`
	ValidFrom  time.Time       `yaml:"valid_from"`
	ValidUntil time.Time       `yaml:"valid_until"`
}

type SeedCoupon struct {
	Code         string          `yaml:"code"`
	Description  string          `yaml:"description"`
	Type         string          `yaml:"type"`
	Value        decimal.Decimal `yaml:"value"`
	MinPurchase  decimal.Decimal `yaml:"min_purchase"`
	MaxDiscount  decimal.Decimal `yaml:"max_discount"`
	Scope        string          `yaml:"scope"`
	ValidFrom    time.Time       `yaml:"valid_from"`
	ExpiresAt    time.Time       `yaml:"expires_at"`
	UsageLimit   int             `yaml:"usage_limit"`
	AllowedUsers []string        `yaml:"allowed_users"`
}

type SeedDeposit struct {
	UserID       string          `yaml:"user_id"`
	Amount       decimal.Decimal `yaml:"amount"`
	ExternalTxID string          `yaml:"external_tx_id"`
}

// LoadSeed читает YAML-файл с начальными данными.
func LoadSeed(path string) (Seed, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("read seed file: %w", err)
	}
	var seed Seed
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return Seed{}, fmt.Errorf("decode seed file %s: %w", path, err)
	}
	return seed, nil
}

// ApplySeed загружает начальные данные. Каталог можно загрузить только
// в хранилище в памяти, в PostgreSQL каталог ведётся миграциями и внешними
// сервисами. Предложения, купоны и пополнения проходят через доменные сервисы.
func (d *Dependencies) ApplySeed(ctx context.Context, seed Seed) error {
	hasCatalog := len(seed.Categories)+len(seed.Products)+len(seed.Variants) > 0
	if hasCatalog && d.Memory == nil {
		return errors.New("catalog seed requires the memory storage driver")
	}

	for _, c := range seed.Categories {
		d.Memory.PutCategory(domain.Category{ID: c.ID, Name: c.Name, Listed: c.Listed})
	}
	for _, p := range seed.Products {
		d.Memory.PutProduct(domain.Product{
			ID:              p.ID,
			Name:            p.Name,
			CategoryID:      p.CategoryID,
			SubCategoryID:   p.SubCategoryID,
			ThirdCategoryID: p.ThirdCategoryID,
			Unlisted:        p.Unlisted,
		})
	}
	for _, v := range seed.Variants {
		d.Memory.PutVariant(domain.Variant{
			ID:        v.ID,
			ProductID: v.ProductID,
			Size:      v.Size,
			Color:     v.Color,
			Image:     v.Image,
			Price:     v.Price,
			OldPrice:  v.OldPrice,
			Discount:  v.Discount,
			Stock:     v.Stock,
			Unlisted:  v.Unlisted,
		})
	}

	for _, o := range seed.Offers {
		if _, err := d.Pricing.CreateOffer(ctx, domain.Offer{
			ID:         o.ID,
			Title:      o.Title,
			Scope:      domain.OfferScope(o.Scope),
			Value:      o.Value,
			TargetID:   o.TargetID,
			ValidFrom:  o.ValidFrom,
			ValidUntil: o.ValidUntil,
			Active:     true,
		}); err != nil {
			return fmt.Errorf("seed offer %q: %w", o.Title, err)
		}
	}

	for _, c := range seed.Coupons {
		if _, err := d.Coupons.Create(ctx, domain.Coupon{
			Code:         c.Code,
			Description:  c.Description,
			Type:         domain.CouponType(c.Type),
			Value:        c.Value,
			MinPurchase:  c.MinPurchase,
			MaxDiscount:  c.MaxDiscount,
			Scope:        domain.CouponScope(c.Scope),
			ValidFrom:    c.ValidFrom,
			ExpiresAt:    c.ExpiresAt,
			UsageLimit:   c.UsageLimit,
			AllowedUsers: c.AllowedUsers,
			Active:       true,
		}); err != nil {
			return fmt.Errorf("seed coupon %q: %w", c.Code, err)
		}
	}

	for _, dep := range seed.Deposits {
		if _, err := d.Wallet.Deposit(ctx, dep.UserID, dep.Amount, dep.ExternalTxID); err != nil {
			return fmt.Errorf("seed deposit for %s: %w", dep.UserID, err)
		}
	}

	d.Logger.WithFields(log.Fields{
		"variants": len(seed.Variants),
		"offers":   len(seed.Offers),
		"coupons":  len(seed.Coupons),
		"deposits": len(seed.Deposits),
	}).Info("seed applied")
	return nil
}
