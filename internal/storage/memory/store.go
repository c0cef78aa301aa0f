package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

type shopperKey struct {
	userID    string
	productID string
	variantID string
}

// Store — in-memory хранилище для локальной разработки и тестов.
// Транзакции выполняются строго по одной; каждая мутация пишет шаг отката
// в журнал, и при ошибке журнал проигрывается в обратном порядке.
type Store struct {
	mu sync.Mutex

	orders     map[string]domain.Order
	lineOwners map[string]string
	counters   map[string]int64

	variants   map[string]domain.Variant
	products   map[string]domain.Product
	categories map[string]domain.Category
	offers     map[string]domain.Offer
	coupons    map[string]domain.Coupon

	wallets    map[string]domain.Wallet
	walletTxns map[string][]domain.WalletTransaction

	carts     map[shopperKey]int
	wishlists map[shopperKey]struct{}

	outbox *outboxRepositoryInMemory
}

// NewStore создаёт пустое хранилище.
func NewStore() *Store {
	return &Store{
		orders:     make(map[string]domain.Order),
		lineOwners: make(map[string]string),
		counters:   make(map[string]int64),
		variants:   make(map[string]domain.Variant),
		products:   make(map[string]domain.Product),
		categories: make(map[string]domain.Category),
		offers:     make(map[string]domain.Offer),
		coupons:    make(map[string]domain.Coupon),
		wallets:    make(map[string]domain.Wallet),
		walletTxns: make(map[string][]domain.WalletTransaction),
		carts:      make(map[shopperKey]int),
		wishlists:  make(map[shopperKey]struct{}),
		outbox:     NewOutboxRepository(),
	}
}

// InTx выполняет fn атомарно. События outbox становятся видимы воркеру
// только после успешного завершения fn.
func (s *Store) InTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{store: s}
	defer func() {
		if p := recover(); p != nil {
			tx.rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}

	s.outbox.append(tx.pendingOutbox...)
	return nil
}

// Outbox возвращает репозиторий outbox для воркера публикации.
func (s *Store) Outbox() *outboxRepositoryInMemory {
	return s.outbox
}

type memTx struct {
	store         *Store
	journal       []func()
	pendingOutbox []domain.OutboxMessage
}

func (tx *memTx) rollback() {
	for i := len(tx.journal) - 1; i >= 0; i-- {
		tx.journal[i]()
	}
	tx.journal = nil
	tx.pendingOutbox = nil
}

func (tx *memTx) Orders() domain.OrderRepository        { return orderRepository{tx: tx} }
func (tx *memTx) Inventory() domain.InventoryRepository { return inventoryRepository{tx: tx} }
func (tx *memTx) Catalog() domain.CatalogRepository     { return catalogRepository{tx: tx} }
func (tx *memTx) Offers() domain.OfferRepository        { return offerRepository{tx: tx} }
func (tx *memTx) Coupons() domain.CouponRepository      { return couponRepository{tx: tx} }
func (tx *memTx) Wallets() domain.WalletRepository      { return walletRepository{tx: tx} }
func (tx *memTx) Carts() domain.CartRepository          { return cartRepository{tx: tx} }
func (tx *memTx) Wishlists() domain.WishlistRepository  { return wishlistRepository{tx: tx} }
func (tx *memTx) Outbox() domain.OutboxRepository       { return txOutbox{tx: tx} }

// put записывает значение и запоминает, как вернуть прежнее.
func put[K comparable, V any](tx *memTx, m map[K]V, key K, value V) {
	prev, had := m[key]
	m[key] = value
	tx.journal = append(tx.journal, func() {
		if had {
			m[key] = prev
			return
		}
		delete(m, key)
	})
}

// remove удаляет значение с возможностью отката.
func remove[K comparable, V any](tx *memTx, m map[K]V, key K) {
	prev, had := m[key]
	if !had {
		return
	}
	delete(m, key)
	tx.journal = append(tx.journal, func() {
		m[key] = prev
	})
}

// PutProduct добавляет товар в витрину.
func (s *Store) PutProduct(product domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[product.ID] = product
}

// PutCategory добавляет категорию в витрину.
func (s *Store) PutCategory(category domain.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.categories[category.ID] = category
}

// PutVariant добавляет или заменяет вариант товара.
func (s *Store) PutVariant(variant domain.Variant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.variants[variant.ID] = variant
}

// Variant возвращает текущее состояние варианта.
func (s *Store) Variant(id string) (domain.Variant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.variants[id]
	return v, ok
}

// AddToCart кладёт вариант в корзину пользователя.
func (s *Store) AddToCart(userID, productID, variantID string, qty int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.carts[shopperKey{userID, productID, variantID}] = qty
}

// InCart сообщает, лежит ли вариант в корзине.
func (s *Store) InCart(userID, productID, variantID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.carts[shopperKey{userID, productID, variantID}]
	return ok
}

// AddToWishlist добавляет вариант в список желаний.
func (s *Store) AddToWishlist(userID, productID, variantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wishlists[shopperKey{userID, productID, variantID}] = struct{}{}
}

// InWishlist сообщает, есть ли вариант в списке желаний.
func (s *Store) InWishlist(userID, productID, variantID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.wishlists[shopperKey{userID, productID, variantID}]
	return ok
}

var _ domain.Store = (*Store)(nil)
var _ domain.Tx = (*memTx)(nil)
