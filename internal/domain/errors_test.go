package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsVersionConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "version conflict error", err: ErrOrderVersionConflict, want: true},
		{name: "wrapped version conflict error", err: errors.Join(ErrOrderVersionConflict, errors.New("additional context")), want: true},
		{name: "other error", err: ErrOrderNotFound, want: false},
		{name: "nil error", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsVersionConflict(tt.err); got != tt.want {
				t.Errorf("IsVersionConflict() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsIdempotencyConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "idempotency already exists", err: ErrIdempotencyKeyAlreadyExists, want: true},
		{name: "idempotency hash mismatch", err: ErrIdempotencyHashMismatch, want: true},
		{name: "wrapped idempotency conflict", err: errors.Join(ErrIdempotencyHashMismatch, errors.New("extra context")), want: true},
		{name: "non idempotency error", err: ErrOrderVersionConflict, want: false},
		{name: "nil error", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsIdempotencyConflict(tt.err); got != tt.want {
				t.Errorf("IsIdempotencyConflict() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{err: nil, want: ""},
		{err: ErrOrderNotFound, want: KindNotFound},
		{err: ErrWalletNotFound, want: KindNotFound},
		{err: ErrDuplicateStatusTransition, want: KindConflict},
		{err: ErrDuplicateCouponCode, want: KindConflict},
		{err: ErrItemUnavailable, want: KindUnavailable},
		{err: ErrOutOfStock, want: KindInsufficientStock},
		{err: ErrInsufficientBalance, want: KindInsufficientBalance},
		{err: ErrInvalidStatusTransition, want: KindInvalidState},
		{err: NewValidationError(errors.New("qty must be positive")), want: KindValidation},
		{err: fmt.Errorf("reserve: %w", &ItemError{ProductName: "Shirt", Err: ErrInsufficientStock}), want: KindInsufficientStock},
		{err: errors.New("connection reset"), want: KindUnknown},
	}

	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.want {
			t.Fatalf("KindOf(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestItemErrorNamesProduct(t *testing.T) {
	err := &ItemError{ProductID: "p-1", ProductName: "Linen Shirt", Err: ErrOutOfStock}
	if got := err.Error(); got != "Linen Shirt: out of stock: insufficient stock" {
		t.Fatalf("unexpected message %q", got)
	}
	if !errors.Is(err, ErrOutOfStock) || !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected item error to unwrap to stock errors")
	}

	noName := &ItemError{ProductID: "p-2", Err: ErrItemUnavailable}
	if got := noName.Error(); got != "p-2: item unavailable" {
		t.Fatalf("unexpected message %q", got)
	}
}
