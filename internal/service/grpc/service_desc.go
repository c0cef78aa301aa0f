package grpcsvc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName — полное имя gRPC-сервиса.
const ServiceName = "ordercore.v1.OrderCore"

// Имена методов OrderCore.
const (
	MethodPlaceOrder        = "PlaceOrder"
	MethodRetryFailedOrder  = "RetryFailedOrder"
	MethodCancelOrderItem   = "CancelOrderItem"
	MethodRequestReturn     = "RequestReturn"
	MethodApproveReturn     = "ApproveReturn"
	MethodRejectReturn      = "RejectReturn"
	MethodUpdateOrderStatus = "UpdateOrderStatus"
	MethodAddReview         = "AddReview"
	MethodGetOrder          = "GetOrder"
	MethodListOrders        = "ListOrders"
	MethodPriceCart         = "PriceCart"
	MethodApplyCoupon       = "ApplyCoupon"
	MethodRemoveCoupon      = "RemoveCoupon"
	MethodEligibleCoupons   = "EligibleCoupons"
	MethodGetWallet         = "GetWallet"
	MethodListTransactions  = "ListTransactions"
	MethodDeposit           = "Deposit"
)

// FullMethod возвращает путь метода в формате /package.Service/Method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// OrderCoreServer — серверная часть ordercore.v1.OrderCore. Запросы и
// ответы передаются как google.protobuf.Struct.
type OrderCoreServer interface {
	PlaceOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RetryFailedOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelOrderItem(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RequestReturn(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ApproveReturn(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RejectReturn(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateOrderStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AddReview(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListOrders(context.Context, *structpb.Struct) (*structpb.Struct, error)
	PriceCart(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ApplyCoupon(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RemoveCoupon(context.Context, *structpb.Struct) (*structpb.Struct, error)
	EligibleCoupons(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetWallet(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListTransactions(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Deposit(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(OrderCoreServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(method string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(OrderCoreServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(OrderCoreServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// OrderCoreServiceDesc описывает сервис для grpc.Server.RegisterService.
var OrderCoreServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*OrderCoreServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler(MethodPlaceOrder, OrderCoreServer.PlaceOrder),
		unaryHandler(MethodRetryFailedOrder, OrderCoreServer.RetryFailedOrder),
		unaryHandler(MethodCancelOrderItem, OrderCoreServer.CancelOrderItem),
		unaryHandler(MethodRequestReturn, OrderCoreServer.RequestReturn),
		unaryHandler(MethodApproveReturn, OrderCoreServer.ApproveReturn),
		unaryHandler(MethodRejectReturn, OrderCoreServer.RejectReturn),
		unaryHandler(MethodUpdateOrderStatus, OrderCoreServer.UpdateOrderStatus),
		unaryHandler(MethodAddReview, OrderCoreServer.AddReview),
		unaryHandler(MethodGetOrder, OrderCoreServer.GetOrder),
		unaryHandler(MethodListOrders, OrderCoreServer.ListOrders),
		unaryHandler(MethodPriceCart, OrderCoreServer.PriceCart),
		unaryHandler(MethodApplyCoupon, OrderCoreServer.ApplyCoupon),
		unaryHandler(MethodRemoveCoupon, OrderCoreServer.RemoveCoupon),
		unaryHandler(MethodEligibleCoupons, OrderCoreServer.EligibleCoupons),
		unaryHandler(MethodGetWallet, OrderCoreServer.GetWallet),
		unaryHandler(MethodListTransactions, OrderCoreServer.ListTransactions),
		unaryHandler(MethodDeposit, OrderCoreServer.Deposit),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ordercore/v1/ordercore.proto",
}

// RegisterOrderCoreServer регистрирует реализацию на сервере.
func RegisterOrderCoreServer(s grpc.ServiceRegistrar, srv OrderCoreServer) {
	s.RegisterService(&OrderCoreServiceDesc, srv)
}

// OrderCoreClient — тонкий клиент поверх grpc.ClientConnInterface.
type OrderCoreClient struct {
	cc grpc.ClientConnInterface
}

// NewOrderCoreClient создаёт клиента.
func NewOrderCoreClient(cc grpc.ClientConnInterface) *OrderCoreClient {
	return &OrderCoreClient{cc: cc}
}

// Call вызывает метод method с запросом req.
func (c *OrderCoreClient) Call(ctx context.Context, method string, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if req == nil {
		req = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, FullMethod(method), req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
