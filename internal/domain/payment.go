package domain

// PaymentMethod — способ оплаты заказа.
type PaymentMethod string

const (
	PaymentMethodCOD    PaymentMethod = "COD"
	PaymentMethodWallet PaymentMethod = "Wallet"
	PaymentMethodOnline PaymentMethod = "Online"
)

// PaymentStatus описывает состояние платежа в системе.
type PaymentStatus string

const (
	// PaymentStatusPending — платёж ожидается (например, наложенный платёж).
	PaymentStatusPending PaymentStatus = "Pending"
	// PaymentStatusPaid — оплата подтверждена шлюзом или списана с кошелька.
	PaymentStatusPaid PaymentStatus = "Paid"
	// PaymentStatusFailed — шлюз сообщил о неуспешной оплате.
	PaymentStatusFailed PaymentStatus = "Failed"
	// PaymentStatusRefunded — по заказу выполнен возврат на кошелёк.
	PaymentStatusRefunded PaymentStatus = "Refunded"
)

// Payment — платёжная запись заказа. Результат оплаты приходит уже проверенным.
type Payment struct {
	Method        PaymentMethod
	Status        PaymentStatus
	TransactionID string
}

// Valid проверяет, что способ оплаты входит в перечень.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCOD, PaymentMethodWallet, PaymentMethodOnline:
		return true
	default:
		return false
	}
}

// Valid проверяет, что статус платежа входит в перечень.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	default:
		return false
	}
}

// Refundable сообщает, что отмена и возврат зачисляются на кошелёк.
// Наложенный платёж кошелёк не затрагивает.
func (p Payment) Refundable() bool {
	return p.Method == PaymentMethodWallet || p.Method == PaymentMethodOnline
}

// Failed сообщает, что оформление фиксирует неуспешную оплату.
func (p Payment) Failed() bool {
	return p.Status == PaymentStatusFailed
}
