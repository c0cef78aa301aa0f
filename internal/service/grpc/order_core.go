package grpcsvc

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
	"github.com/vladislavdragonenkov/ordercore/internal/service/coupon"
	"github.com/vladislavdragonenkov/ordercore/internal/service/pricing"
	"github.com/vladislavdragonenkov/ordercore/internal/service/wallet"
	"github.com/vladislavdragonenkov/ordercore/internal/service/workflow"
)

// Dependencies — зависимости gRPC-сервиса.
type Dependencies struct {
	Orchestrator workflow.Orchestrator
	Pricing      *pricing.Engine
	Coupons      *coupon.Tracker
	Wallet       *wallet.Ledger
	Idempotency  domain.IdempotencyRepository
	Logger       *log.Entry

	// RequireIdempotencyKey отклоняет мутации без idempotency-key.
	RequireIdempotencyKey bool
	IdempotencyTTL        time.Duration
	// IdempotencyLease — через сколько брошенный processing-ключ можно занять заново.
	IdempotencyLease time.Duration
}

// OrderCoreService реализует ordercore.v1.OrderCore поверх оркестратора заказов.
type OrderCoreService struct {
	orchestrator workflow.Orchestrator
	pricing      *pricing.Engine
	coupons      *coupon.Tracker
	wallet       *wallet.Ledger
	idemRepo     domain.IdempotencyRepository
	logger       *log.Entry

	requireIdempotencyKey bool
	idempotencyTTL        time.Duration
	idempotencyLease      time.Duration
	now                   func() time.Time
}

// NewOrderCoreService конструирует сервис.
func NewOrderCoreService(deps Dependencies) *OrderCoreService {
	logger := deps.Logger
	if logger == nil {
		logger = log.New().WithField("component", "ordercore-grpc")
	}
	ttl := deps.IdempotencyTTL
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}
	lease := deps.IdempotencyLease
	if lease <= 0 {
		lease = defaultIdempotencyLease
	}
	return &OrderCoreService{
		orchestrator:          deps.Orchestrator,
		pricing:               deps.Pricing,
		coupons:               deps.Coupons,
		wallet:                deps.Wallet,
		idemRepo:              deps.Idempotency,
		logger:                logger,
		requireIdempotencyKey: deps.RequireIdempotencyKey,
		idempotencyTTL:        ttl,
		idempotencyLease:      lease,
		now:                   func() time.Time { return time.Now().UTC() },
	}
}

// mutate оборачивает мутирующий вызов: декодирует запрос, выполняет
// run под защитой idempotency-key и переводит ошибки в gRPC-статусы.
func mutate[T any](s *OrderCoreService, ctx context.Context, method string, req *structpb.Struct, run func(context.Context, T) (any, error)) (*structpb.Struct, error) {
	return s.withIdempotency(ctx, method, req, func(ctx context.Context) (*structpb.Struct, error) {
		return query(s, ctx, method, req, run)
	})
}

func query[T any](s *OrderCoreService, ctx context.Context, method string, req *structpb.Struct, run func(context.Context, T) (any, error)) (*structpb.Struct, error) {
	var in T
	if err := decodeRequest(req, &in); err != nil {
		return nil, toStatus(err)
	}
	out, err := run(ctx, in)
	if err != nil {
		s.logFailure(method, err)
		return nil, toStatus(err)
	}
	resp, err := encodeResponse(out)
	if err != nil {
		s.logger.WithError(err).WithField("method", method).Error("failed to encode response")
		return nil, toStatus(err)
	}
	return resp, nil
}

func (s *OrderCoreService) logFailure(method string, err error) {
	entry := s.logger.WithError(err).WithFields(log.Fields{
		"method": method,
		"kind":   domain.KindOf(err),
	})
	if domain.KindOf(err) == domain.KindUnknown {
		entry.Error("request failed")
		return
	}
	entry.Debug("request rejected")
}

func orderResponse(order domain.Order, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	return toOrderJSON(order), nil
}

// PlaceOrder оформляет заказ из снимка корзины.
func (s *OrderCoreService) PlaceOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return mutate(s, ctx, MethodPlaceOrder, req, func(ctx context.Context, in placeOrderRequest) (any, error) {
		if in.UseWallet {
			return orderResponse(s.orchestrator.PlaceOrderWithWallet(ctx, in.UserID, in.toDomain()))
		}
		return orderResponse(s.orchestrator.PlaceOrder(ctx, in.UserID, in.toDomain()))
	})
}

// RetryFailedOrder повторяет оплату заказа в статусе Failed.
func (s *OrderCoreService) RetryFailedOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return mutate(s, ctx, MethodRetryFailedOrder, req, func(ctx context.Context, in retryRequest) (any, error) {
		if in.UseWallet {
			return orderResponse(s.orchestrator.RetryFailedOrderWithWallet(ctx, in.UserID, in.OrderID))
		}
		return orderResponse(s.orchestrator.RetryFailedOrder(ctx, in.UserID, in.OrderID, in.Payment.toDomain()))
	})
}

func (s *OrderCoreService) CancelOrderItem(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return mutate(s, ctx, MethodCancelOrderItem, req, func(ctx context.Context, in lineRequest) (any, error) {
		return orderResponse(s.orchestrator.CancelOrderItem(ctx, in.LineID, in.Reason))
	})
}

func (s *OrderCoreService) RequestReturn(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return mutate(s, ctx, MethodRequestReturn, req, func(ctx context.Context, in lineRequest) (any, error) {
		return orderResponse(s.orchestrator.RequestReturn(ctx, in.LineID, in.Reason))
	})
}

func (s *OrderCoreService) ApproveReturn(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return mutate(s, ctx, MethodApproveReturn, req, func(ctx context.Context, in lineRequest) (any, error) {
		return orderResponse(s.orchestrator.ApproveReturn(ctx, in.LineID))
	})
}

func (s *OrderCoreService) RejectReturn(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return mutate(s, ctx, MethodRejectReturn, req, func(ctx context.Context, in lineRequest) (any, error) {
		return orderResponse(s.orchestrator.RejectReturn(ctx, in.LineID))
	})
}

// UpdateOrderStatus — административная смена статуса позиции.
func (s *OrderCoreService) UpdateOrderStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return mutate(s, ctx, MethodUpdateOrderStatus, req, func(ctx context.Context, in lineRequest) (any, error) {
		return orderResponse(s.orchestrator.UpdateOrderStatus(ctx, in.LineID, domain.LineStatus(in.Status)))
	})
}

func (s *OrderCoreService) AddReview(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return mutate(s, ctx, MethodAddReview, req, func(ctx context.Context, in reviewRequest) (any, error) {
		return orderResponse(s.orchestrator.AddReview(ctx, in.UserID, in.LineID, in.Rating, in.Comment))
	})
}

func (s *OrderCoreService) GetOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return query(s, ctx, MethodGetOrder, req, func(ctx context.Context, in orderRequest) (any, error) {
		return orderResponse(s.orchestrator.GetOrder(ctx, in.OrderID))
	})
}

func (s *OrderCoreService) ListOrders(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return query(s, ctx, MethodListOrders, req, func(ctx context.Context, in userRequest) (any, error) {
		orders, err := s.orchestrator.ListOrders(ctx, in.UserID, in.Limit)
		if err != nil {
			return nil, err
		}
		result := make([]orderJSON, 0, len(orders))
		for _, order := range orders {
			result = append(result, toOrderJSON(order))
		}
		return map[string]any{"orders": result}, nil
	})
}

// PriceCart оценивает корзину по лучшим предложениям.
func (s *OrderCoreService) PriceCart(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return query(s, ctx, MethodPriceCart, req, func(ctx context.Context, in cartRequest) (any, error) {
		cart, err := s.pricing.PriceCart(ctx, checkoutLines(in.Lines))
		if err != nil {
			return nil, err
		}
		return toCartJSON(cart), nil
	})
}

// ApplyCoupon применяет купон к строкам корзины и засчитывает использование.
func (s *OrderCoreService) ApplyCoupon(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return mutate(s, ctx, MethodApplyCoupon, req, func(ctx context.Context, in couponRequest) (any, error) {
		result, err := s.pricing.ApplyCoupon(ctx, in.UserID, in.Code, checkoutLines(in.Lines), in.PurchaseValue)
		if err != nil {
			return nil, err
		}
		return appliedCouponJSON{
			Lines:     toLineInputs(result.Lines),
			Deduction: result.Deduction,
			Coupon:    toCouponJSON(result.Coupon),
		}, nil
	})
}

func (s *OrderCoreService) RemoveCoupon(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return mutate(s, ctx, MethodRemoveCoupon, req, func(ctx context.Context, in couponRequest) (any, error) {
		cart, err := s.pricing.RemoveCoupon(ctx, in.UserID, in.Code, checkoutLines(in.Lines))
		if err != nil {
			return nil, err
		}
		return toCartJSON(cart), nil
	})
}

func (s *OrderCoreService) EligibleCoupons(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return query(s, ctx, MethodEligibleCoupons, req, func(ctx context.Context, in userRequest) (any, error) {
		coupons, err := s.coupons.Eligible(ctx, in.UserID, in.PurchaseValue)
		if err != nil {
			return nil, err
		}
		result := make([]couponJSON, 0, len(coupons))
		for _, c := range coupons {
			result = append(result, toCouponJSON(c))
		}
		return map[string]any{"coupons": result}, nil
	})
}

func (s *OrderCoreService) GetWallet(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return query(s, ctx, MethodGetWallet, req, func(ctx context.Context, in userRequest) (any, error) {
		w, err := s.wallet.Wallet(ctx, in.UserID)
		if err != nil {
			return nil, err
		}
		return walletJSON{UserID: in.UserID, Balance: w.Balance, UpdatedAt: optionalTime(w.UpdatedAt)}, nil
	})
}

func (s *OrderCoreService) ListTransactions(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return query(s, ctx, MethodListTransactions, req, func(ctx context.Context, in userRequest) (any, error) {
		page, err := s.wallet.Transactions(ctx, in.UserID, in.Page, in.Limit)
		if err != nil {
			return nil, err
		}
		return toTransactionPageJSON(page), nil
	})
}

// Deposit зачисляет на кошелёк подтверждённое внешнее пополнение.
func (s *OrderCoreService) Deposit(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return mutate(s, ctx, MethodDeposit, req, func(ctx context.Context, in depositRequest) (any, error) {
		txn, err := s.wallet.Deposit(ctx, in.UserID, in.Amount, in.ExternalTxID)
		if err != nil {
			return nil, err
		}
		return toTransactionJSON(txn), nil
	})
}

var _ OrderCoreServer = (*OrderCoreService)(nil)
