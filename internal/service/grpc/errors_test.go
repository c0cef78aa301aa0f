package grpcsvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

func TestToStatus_Codes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want codes.Code
	}{
		{"not found", domain.ErrOrderNotFound, codes.NotFound},
		{"version conflict", domain.ErrOrderVersionConflict, codes.Aborted},
		{"duplicate coupon", domain.ErrDuplicateCouponCode, codes.AlreadyExists},
		{"validation", domain.NewValidationError(errors.New("rating must be 1..5")), codes.InvalidArgument},
		{"unavailable", domain.ErrCouponExpired, codes.FailedPrecondition},
		{"stock", domain.ErrOutOfStock, codes.FailedPrecondition},
		{"balance", fmt.Errorf("debit: %w", domain.ErrInsufficientBalance), codes.FailedPrecondition},
		{"state", domain.ErrInvalidStatusTransition, codes.FailedPrecondition},
		{"canceled", context.Canceled, codes.Canceled},
		{"deadline", fmt.Errorf("tx: %w", context.DeadlineExceeded), codes.DeadlineExceeded},
		{"infrastructure", errors.New("connection reset"), codes.Internal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := status.Code(toStatus(tt.err)); got != tt.want {
				t.Fatalf("toStatus(%v) code = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestToStatus_HidesInternalMessage(t *testing.T) {
	t.Parallel()

	st := status.Convert(toStatus(errors.New("pq: password authentication failed")))
	if st.Message() != "internal error" {
		t.Fatalf("unexpected message %q", st.Message())
	}
}

func TestToStatus_ItemErrorDetails(t *testing.T) {
	t.Parallel()

	err := toStatus(&domain.ItemError{
		ProductID:   "p-1",
		ProductName: "Linen Shirt",
		VariantID:   "v-1",
		Err:         domain.ErrItemUnavailable,
	})

	st := status.Convert(err)
	if st.Code() != codes.FailedPrecondition {
		t.Fatalf("unexpected code %s", st.Code())
	}
	var info *errdetails.ErrorInfo
	for _, d := range st.Details() {
		if v, ok := d.(*errdetails.ErrorInfo); ok {
			info = v
		}
	}
	if info == nil {
		t.Fatal("ErrorInfo detail is missing")
	}
	if info.GetReason() != string(domain.KindUnavailable) || info.GetMetadata()["product_name"] != "Linen Shirt" {
		t.Fatalf("unexpected detail %+v", info)
	}
	if ErrorKindOf(err) != domain.KindUnavailable {
		t.Fatalf("unexpected kind %s", ErrorKindOf(err))
	}
}

func TestToStatus_PassesStatusThrough(t *testing.T) {
	t.Parallel()

	original := status.Error(codes.Aborted, "busy")
	if got := toStatus(original); got != original {
		t.Fatalf("expected status error to pass through, got %v", got)
	}
	if toStatus(nil) != nil {
		t.Fatal("nil must stay nil")
	}
}

func TestDecodeIdempotencyFailure(t *testing.T) {
	t.Parallel()

	body, _ := json.Marshal(idempotencyErrorPayload{Code: int32(codes.NotFound), Message: "order not found"})
	err := decodeIdempotencyFailure(domain.IdempotencyRecord{ResponseBody: body})
	if status.Code(err) != codes.NotFound || status.Convert(err).Message() != "order not found" {
		t.Fatalf("unexpected replay error %v", err)
	}

	err = decodeIdempotencyFailure(domain.IdempotencyRecord{StatusCode: int(codes.FailedPrecondition)})
	if status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("expected FailedPrecondition from status code, got %v", err)
	}

	err = decodeIdempotencyFailure(domain.IdempotencyRecord{StatusCode: 999})
	if status.Code(err) != codes.Internal {
		t.Fatalf("expected Internal for out-of-range code, got %v", err)
	}
}
