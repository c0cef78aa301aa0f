package domain

import "testing"

func TestPayment_Refundable(t *testing.T) {
	tests := []struct {
		name    string
		payment Payment
		want    bool
	}{
		{name: "cash on delivery", payment: Payment{Method: PaymentMethodCOD, Status: PaymentStatusPending}, want: false},
		{name: "wallet", payment: Payment{Method: PaymentMethodWallet, Status: PaymentStatusPaid}, want: true},
		{name: "online", payment: Payment{Method: PaymentMethodOnline, Status: PaymentStatusPaid}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.payment.Refundable(); got != tt.want {
				t.Fatalf("Refundable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPayment_Validate(t *testing.T) {
	tests := []struct {
		name    string
		payment Payment
		wantErr bool
	}{
		{name: "valid online", payment: Payment{Method: PaymentMethodOnline, Status: PaymentStatusPaid, TransactionID: "pay_1"}},
		{name: "valid failed", payment: Payment{Method: PaymentMethodOnline, Status: PaymentStatusFailed}},
		{name: "unknown method", payment: Payment{Method: "Crypto", Status: PaymentStatusPaid}, wantErr: true},
		{name: "missing status", payment: Payment{Method: PaymentMethodCOD}, wantErr: true},
		{name: "refunded is not an input status", payment: Payment{Method: PaymentMethodWallet, Status: PaymentStatusRefunded}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.payment.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
