package grpcsvc

import (
	"context"
	"errors"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

// errorDomain — значение ErrorInfo.Domain в деталях статуса.
const errorDomain = "ordercore"

func codeForKind(kind domain.ErrorKind) codes.Code {
	switch kind {
	case domain.KindNotFound:
		return codes.NotFound
	case domain.KindConflict:
		return codes.AlreadyExists
	case domain.KindValidation:
		return codes.InvalidArgument
	case domain.KindUnavailable, domain.KindInsufficientStock,
		domain.KindInsufficientBalance, domain.KindInvalidState:
		return codes.FailedPrecondition
	default:
		return codes.Internal
	}
}

// toStatus переводит доменную ошибку в gRPC-статус. Класс ошибки и
// позиция (для ItemError) передаются в ErrorInfo.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}

	kind := domain.KindOf(err)
	code := codeForKind(kind)
	if domain.IsVersionConflict(err) {
		code = codes.Aborted
	}

	msg := err.Error()
	if code == codes.Internal {
		msg = "internal error"
	}
	st := status.New(code, msg)

	info := &errdetails.ErrorInfo{Reason: string(kind), Domain: errorDomain}
	var itemErr *domain.ItemError
	if errors.As(err, &itemErr) {
		info.Metadata = map[string]string{
			"product_id":   itemErr.ProductID,
			"product_name": itemErr.ProductName,
			"variant_id":   itemErr.VariantID,
		}
	}
	if detailed, detailErr := st.WithDetails(info); detailErr == nil {
		st = detailed
	}
	return st.Err()
}

// ErrorKindOf извлекает класс доменной ошибки из gRPC-статуса.
func ErrorKindOf(err error) domain.ErrorKind {
	st, ok := status.FromError(err)
	if !ok {
		return domain.KindOf(err)
	}
	for _, detail := range st.Details() {
		if info, ok := detail.(*errdetails.ErrorInfo); ok && info.GetDomain() == errorDomain {
			return domain.ErrorKind(info.GetReason())
		}
	}
	return domain.KindUnknown
}
