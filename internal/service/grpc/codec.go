package grpcsvc

import (
	"encoding/json"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
	"github.com/vladislavdragonenkov/ordercore/internal/service/pricing"
	"github.com/vladislavdragonenkov/ordercore/internal/service/wallet"
)

// decodeRequest переносит поля Struct в DTO через JSON-представление.
func decodeRequest(req *structpb.Struct, dst any) error {
	data, err := protojson.Marshal(req)
	if err != nil {
		return domain.NewValidationError(fmt.Errorf("encode request: %w", err))
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return domain.NewValidationError(fmt.Errorf("decode request: %w", err))
	}
	if v, ok := dst.(validation.Validatable); ok {
		return domain.NewValidationError(v.Validate())
	}
	return nil
}

func encodeResponse(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}

// Запросы.

type lineInput struct {
	ProductID string          `json:"product_id"`
	VariantID string          `json:"variant_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

func (l lineInput) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.VariantID, validation.Required),
		validation.Field(&l.Quantity, validation.Required, validation.Min(1)),
	)
}

func checkoutLines(in []lineInput) []domain.CheckoutLine {
	lines := make([]domain.CheckoutLine, 0, len(in))
	for _, l := range in {
		lines = append(lines, domain.CheckoutLine{
			ProductID: l.ProductID,
			VariantID: l.VariantID,
			Quantity:  l.Quantity,
			Price:     l.Price,
		})
	}
	return lines
}

type shippingJSON struct {
	Name              string `json:"name"`
	AddressLine       string `json:"address_line"`
	Locality          string `json:"locality,omitempty"`
	City              string `json:"city"`
	State             string `json:"state"`
	PinCode           string `json:"pin_code"`
	Mobile            string `json:"mobile"`
	AlternativeMobile string `json:"alternative_mobile,omitempty"`
	Landmark          string `json:"landmark,omitempty"`
	Type              string `json:"type,omitempty"`
}

type paymentJSON struct {
	Method        string `json:"method"`
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id,omitempty"`
}

func (p paymentJSON) toDomain() domain.Payment {
	return domain.Payment{
		Method:        domain.PaymentMethod(p.Method),
		Status:        domain.PaymentStatus(p.Status),
		TransactionID: p.TransactionID,
	}
}

type pricesJSON struct {
	Subtotal        decimal.Decimal `json:"subtotal"`
	Discount        decimal.Decimal `json:"discount"`
	CouponDeduction decimal.Decimal `json:"coupon_deduction"`
	Total           decimal.Decimal `json:"total"`
}

type couponRefJSON struct {
	Code      string          `json:"code,omitempty"`
	Deduction decimal.Decimal `json:"deduction"`
}

type placeOrderRequest struct {
	UserID    string        `json:"user_id"`
	Lines     []lineInput   `json:"lines"`
	Shipping  shippingJSON  `json:"shipping"`
	Payment   paymentJSON   `json:"payment"`
	Prices    pricesJSON    `json:"prices"`
	Coupon    couponRefJSON `json:"coupon"`
	UseWallet bool          `json:"use_wallet"`
}

func (r placeOrderRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.UserID, validation.Required),
		validation.Field(&r.Lines, validation.Required),
	)
}

func (r placeOrderRequest) toDomain() domain.PlaceOrderRequest {
	return domain.PlaceOrderRequest{
		Lines:    checkoutLines(r.Lines),
		Shipping: domain.ShippingAddress(r.Shipping),
		Payment:  r.Payment.toDomain(),
		Prices:   domain.Prices(r.Prices),
		Coupon:   domain.AppliedCoupon(r.Coupon),
	}
}

type retryRequest struct {
	UserID    string      `json:"user_id"`
	OrderID   string      `json:"order_id"`
	Payment   paymentJSON `json:"payment"`
	UseWallet bool        `json:"use_wallet"`
}

func (r retryRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.UserID, validation.Required),
		validation.Field(&r.OrderID, validation.Required),
	)
}

type lineRequest struct {
	LineID string `json:"line_id"`
	Reason string `json:"reason"`
	Status string `json:"status"`
}

func (r lineRequest) Validate() error {
	return validation.ValidateStruct(&r, validation.Field(&r.LineID, validation.Required))
}

type reviewRequest struct {
	UserID  string `json:"user_id"`
	LineID  string `json:"line_id"`
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

func (r reviewRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.UserID, validation.Required),
		validation.Field(&r.LineID, validation.Required),
	)
}

type orderRequest struct {
	OrderID string `json:"order_id"`
}

func (r orderRequest) Validate() error {
	return validation.ValidateStruct(&r, validation.Field(&r.OrderID, validation.Required))
}

type userRequest struct {
	UserID        string          `json:"user_id"`
	Limit         int             `json:"limit"`
	Page          int             `json:"page"`
	PurchaseValue decimal.Decimal `json:"purchase_value"`
}

func (r userRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.UserID, validation.Required),
		validation.Field(&r.Limit, validation.Min(0)),
		validation.Field(&r.Page, validation.Min(0)),
	)
}

type cartRequest struct {
	Lines []lineInput `json:"lines"`
}

func (r cartRequest) Validate() error {
	return validation.ValidateStruct(&r, validation.Field(&r.Lines, validation.Required))
}

type couponRequest struct {
	UserID        string          `json:"user_id"`
	Code          string          `json:"code"`
	Lines         []lineInput     `json:"lines"`
	PurchaseValue decimal.Decimal `json:"purchase_value"`
}

func (r couponRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.UserID, validation.Required),
		validation.Field(&r.Code, validation.Required),
		validation.Field(&r.Lines, validation.Required),
	)
}

type depositRequest struct {
	UserID       string          `json:"user_id"`
	Amount       decimal.Decimal `json:"amount"`
	ExternalTxID string          `json:"external_tx_id"`
}

func (r depositRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.UserID, validation.Required),
		validation.Field(&r.Amount, validation.By(domain.PositiveAmount)),
	)
}

// Ответы.

type historyJSON struct {
	Status string    `json:"status"`
	At     time.Time `json:"at"`
	Note   string    `json:"note,omitempty"`
}

type reviewJSON struct {
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"created_at"`
}

type lineJSON struct {
	ID           string          `json:"id"`
	ProductID    string          `json:"product_id"`
	VariantID    string          `json:"variant_id"`
	Name         string          `json:"name"`
	Image        string          `json:"image,omitempty"`
	Price        decimal.Decimal `json:"price"`
	OldPrice     decimal.Decimal `json:"old_price"`
	Size         string          `json:"size,omitempty"`
	Color        string          `json:"color,omitempty"`
	Quantity     int             `json:"quantity"`
	Amount       decimal.Decimal `json:"amount"`
	Status       string          `json:"status"`
	History      []historyJSON   `json:"history"`
	CancelReason string          `json:"cancel_reason,omitempty"`
	ReturnReason string          `json:"return_reason,omitempty"`
	Review       *reviewJSON     `json:"review,omitempty"`
}

type orderJSON struct {
	ID          string        `json:"id"`
	OrderNumber string        `json:"order_number"`
	UserID      string        `json:"user_id"`
	Status      string        `json:"status"`
	Lines       []lineJSON    `json:"lines"`
	Shipping    shippingJSON  `json:"shipping"`
	Payment     paymentJSON   `json:"payment"`
	Prices      pricesJSON    `json:"prices"`
	Coupon      couponRefJSON `json:"coupon"`
	Version     int64         `json:"version"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

func toOrderJSON(order domain.Order) orderJSON {
	lines := make([]lineJSON, 0, len(order.Lines))
	for _, l := range order.Lines {
		history := make([]historyJSON, 0, len(l.History))
		for _, h := range l.History {
			history = append(history, historyJSON{Status: string(h.Status), At: h.At, Note: h.Note})
		}
		line := lineJSON{
			ID:           l.ID,
			ProductID:    l.ProductID,
			VariantID:    l.VariantID,
			Name:         l.Name,
			Image:        l.Image,
			Price:        l.Price,
			OldPrice:     l.OldPrice,
			Size:         l.Size,
			Color:        l.Color,
			Quantity:     l.Quantity,
			Amount:       l.Amount(),
			Status:       string(l.Status),
			History:      history,
			CancelReason: l.CancelReason,
			ReturnReason: l.ReturnReason,
		}
		if l.Review != nil {
			line.Review = &reviewJSON{Rating: l.Review.Rating, Comment: l.Review.Comment, CreatedAt: l.Review.CreatedAt}
		}
		lines = append(lines, line)
	}

	return orderJSON{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Status:      string(order.Status),
		Lines:       lines,
		Shipping:    shippingJSON(order.Shipping),
		Payment: paymentJSON{
			Method:        string(order.Payment.Method),
			Status:        string(order.Payment.Status),
			TransactionID: order.Payment.TransactionID,
		},
		Prices:    pricesJSON(order.Prices),
		Coupon:    couponRefJSON(order.Coupon),
		Version:   order.Version,
		CreatedAt: order.CreatedAt,
		UpdatedAt: order.UpdatedAt,
	}
}

type cartJSON struct {
	Lines  []lineInput `json:"lines"`
	Prices pricesJSON  `json:"prices"`
}

func toLineInputs(lines []domain.CheckoutLine) []lineInput {
	result := make([]lineInput, 0, len(lines))
	for _, l := range lines {
		result = append(result, lineInput{
			ProductID: l.ProductID,
			VariantID: l.VariantID,
			Quantity:  l.Quantity,
			Price:     l.Price,
		})
	}
	return result
}

func toCartJSON(cart pricing.Cart) cartJSON {
	return cartJSON{Lines: toLineInputs(cart.Lines), Prices: pricesJSON(cart.Prices)}
}

type couponJSON struct {
	Code        string          `json:"code"`
	Description string          `json:"description,omitempty"`
	Type        string          `json:"type"`
	Value       decimal.Decimal `json:"value"`
	MinPurchase decimal.Decimal `json:"min_purchase"`
	MaxDiscount decimal.Decimal `json:"max_discount"`
	Scope       string          `json:"scope"`
	ValidFrom   *time.Time      `json:"valid_from,omitempty"`
	ExpiresAt   *time.Time      `json:"expires_at,omitempty"`
	UsageLimit  int             `json:"usage_limit"`
	UsedCount   int             `json:"used_count"`
	Active      bool            `json:"active"`
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func toCouponJSON(c domain.Coupon) couponJSON {
	return couponJSON{
		Code:        c.Code,
		Description: c.Description,
		Type:        string(c.Type),
		Value:       c.Value,
		MinPurchase: c.MinPurchase,
		MaxDiscount: c.MaxDiscount,
		Scope:       string(c.Scope),
		ValidFrom:   optionalTime(c.ValidFrom),
		ExpiresAt:   optionalTime(c.ExpiresAt),
		UsageLimit:  c.UsageLimit,
		UsedCount:   c.UsedCount,
		Active:      c.Active,
	}
}

type appliedCouponJSON struct {
	Lines     []lineInput     `json:"lines"`
	Deduction decimal.Decimal `json:"deduction"`
	Coupon    couponJSON      `json:"coupon"`
}

type walletJSON struct {
	UserID    string          `json:"user_id"`
	Balance   decimal.Decimal `json:"balance"`
	UpdatedAt *time.Time      `json:"updated_at,omitempty"`
}

type transactionJSON struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	Amount       decimal.Decimal `json:"amount"`
	Description  string          `json:"description"`
	OrderID      string          `json:"order_id,omitempty"`
	OrderNumber  string          `json:"order_number,omitempty"`
	ExternalTxID string          `json:"external_tx_id,omitempty"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	CreatedAt    time.Time       `json:"created_at"`
}

func toTransactionJSON(t domain.WalletTransaction) transactionJSON {
	return transactionJSON{
		ID:           t.ID,
		Type:         string(t.Type),
		Amount:       t.Amount,
		Description:  t.Description,
		OrderID:      t.OrderID,
		OrderNumber:  t.OrderNumber,
		ExternalTxID: t.ExternalTxID,
		BalanceAfter: t.BalanceAfter,
		CreatedAt:    t.CreatedAt,
	}
}

type transactionPageJSON struct {
	Items []transactionJSON `json:"items"`
	Total int               `json:"total"`
	Page  int               `json:"page"`
	Limit int               `json:"limit"`
}

func toTransactionPageJSON(page wallet.TransactionPage) transactionPageJSON {
	items := make([]transactionJSON, 0, len(page.Items))
	for _, t := range page.Items {
		items = append(items, toTransactionJSON(t))
	}
	return transactionPageJSON{Items: items, Total: page.Total, Page: page.Page, Limit: page.Limit}
}
