package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

const (
	defaultOffersKey = "ordercore:offers:live"
	defaultOffersTTL = 30 * time.Second
)

// OfferLoader — первичный источник действующих предложений.
type OfferLoader interface {
	LiveOffers(ctx context.Context, at time.Time) ([]domain.Offer, error)
}

// OfferCache кэширует список действующих предложений в Redis.
// Ошибки Redis не прерывают расчёт цен: запрос уходит в первичный источник.
// Снимок может отставать не более чем на TTL; потребитель повторно
// проверяет период действия каждого предложения.
type OfferCache struct {
	client redis.Cmdable
	loader OfferLoader
	key    string
	ttl    time.Duration
	logger *log.Entry
}

// OfferCacheOption настраивает OfferCache.
type OfferCacheOption func(*OfferCache)

// WithTTL задаёт время жизни снимка.
func WithTTL(ttl time.Duration) OfferCacheOption {
	return func(c *OfferCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithKey задаёт ключ Redis.
func WithKey(key string) OfferCacheOption {
	return func(c *OfferCache) {
		if key != "" {
			c.key = key
		}
	}
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) OfferCacheOption {
	return func(c *OfferCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewOfferCache создаёт кэш поверх loader.
func NewOfferCache(client redis.Cmdable, loader OfferLoader, opts ...OfferCacheOption) *OfferCache {
	c := &OfferCache{
		client: client,
		loader: loader,
		key:    defaultOffersKey,
		ttl:    defaultOffersTTL,
		logger: log.New().WithField("component", "offer-cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LiveOffers возвращает снимок из Redis либо загружает его и сохраняет.
func (c *OfferCache) LiveOffers(ctx context.Context, at time.Time) ([]domain.Offer, error) {
	raw, err := c.client.Get(ctx, c.key).Bytes()
	switch {
	case err == nil:
		offers, decodeErr := decodeOffers(raw)
		if decodeErr == nil {
			return offers, nil
		}
		c.logger.WithError(decodeErr).Warn("drop corrupted offers snapshot")
	case errors.Is(err, redis.Nil):
	default:
		c.logger.WithError(err).Warn("offer cache read failed, loading from store")
	}

	offers, err := c.loader.LiveOffers(ctx, at)
	if err != nil {
		return nil, err
	}

	payload, err := encodeOffers(offers)
	if err != nil {
		c.logger.WithError(err).Warn("encode offers snapshot")
		return offers, nil
	}
	if err := c.client.Set(ctx, c.key, payload, c.ttl).Err(); err != nil {
		c.logger.WithError(err).Warn("offer cache write failed")
	}
	return offers, nil
}

// Invalidate удаляет снимок после изменения предложений.
func (c *OfferCache) Invalidate(ctx context.Context) error {
	if err := c.client.Del(ctx, c.key).Err(); err != nil {
		return fmt.Errorf("invalidate offers snapshot: %w", err)
	}
	return nil
}

type offerEntry struct {
	ID         string          `json:"id"`
	Title      string          `json:"title"`
	Scope      string          `json:"scope"`
	Value      decimal.Decimal `json:"value"`
	TargetID   string          `json:"target_id,omitempty"`
	ValidFrom  time.Time       `json:"valid_from"`
	ValidUntil time.Time       `json:"valid_until"`
	Active     bool            `json:"active"`
	CreatedAt  time.Time       `json:"created_at"`
}

func encodeOffers(offers []domain.Offer) ([]byte, error) {
	entries := make([]offerEntry, 0, len(offers))
	for _, o := range offers {
		entries = append(entries, offerEntry{
			ID:         o.ID,
			Title:      o.Title,
			Scope:      string(o.Scope),
			Value:      o.Value,
			TargetID:   o.TargetID,
			ValidFrom:  o.ValidFrom,
			ValidUntil: o.ValidUntil,
			Active:     o.Active,
			CreatedAt:  o.CreatedAt,
		})
	}
	return json.Marshal(entries)
}

func decodeOffers(raw []byte) ([]domain.Offer, error) {
	var entries []offerEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, err
	}
	offers := make([]domain.Offer, 0, len(entries))
	for _, e := range entries {
		offers = append(offers, domain.Offer{
			ID:         e.ID,
			Title:      e.Title,
			Scope:      domain.OfferScope(e.Scope),
			Value:      e.Value,
			TargetID:   e.TargetID,
			ValidFrom:  e.ValidFrom,
			ValidUntil: e.ValidUntil,
			Active:     e.Active,
			CreatedAt:  e.CreatedAt,
		})
	}
	return offers, nil
}
