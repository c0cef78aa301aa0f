package domain

// LineStatus описывает состояние отдельной позиции заказа.
type LineStatus string

const (
	// LineStatusFailed — оплата при оформлении не прошла, сток не резервировался.
	LineStatusFailed          LineStatus = "Failed"
	LineStatusConfirmed       LineStatus = "Confirmed"
	LineStatusProcessing      LineStatus = "Processing"
	LineStatusShipped         LineStatus = "Shipped"
	LineStatusOutForDelivery  LineStatus = "Out for Delivery"
	LineStatusDelivered       LineStatus = "Delivered"
	LineStatusCancelled       LineStatus = "Cancelled"
	LineStatusReturnRequested LineStatus = "Return Requested"
	LineStatusReturnApproved  LineStatus = "Return Approved"
	LineStatusReturnRejected  LineStatus = "Return Rejected"
)

// OrderStatus — агрегированный статус заказа, вычисляемый по позициям.
type OrderStatus string

const (
	OrderStatusFailed             OrderStatus = "Failed"
	OrderStatusConfirmed          OrderStatus = "Confirmed"
	OrderStatusProcessing         OrderStatus = "Processing"
	OrderStatusPartiallyShipped   OrderStatus = "Partially Shipped"
	OrderStatusPartiallyDelivered OrderStatus = "Partially Delivered"
	OrderStatusCompleted          OrderStatus = "Completed"
	OrderStatusCancelled          OrderStatus = "Cancelled"
	OrderStatusReturnRequested    OrderStatus = "Return Requested"
	OrderStatusReturnApproved     OrderStatus = "Return Approved"
	OrderStatusReturnRejected     OrderStatus = "Return Rejected"
)

// Порядок стадий доставки. Переход разрешён только вперёд.
var fulfillmentRank = map[LineStatus]int{
	LineStatusConfirmed:      0,
	LineStatusProcessing:     1,
	LineStatusShipped:        2,
	LineStatusOutForDelivery: 3,
	LineStatusDelivered:      4,
}

// Valid проверяет, что статус входит в перечень.
func (s LineStatus) Valid() bool {
	switch s {
	case LineStatusFailed, LineStatusConfirmed, LineStatusProcessing, LineStatusShipped,
		LineStatusOutForDelivery, LineStatusDelivered, LineStatusCancelled,
		LineStatusReturnRequested, LineStatusReturnApproved, LineStatusReturnRejected:
		return true
	default:
		return false
	}
}

// PreDelivery сообщает, что позиция ещё не доставлена и может быть отменена.
func (s LineStatus) PreDelivery() bool {
	rank, ok := fulfillmentRank[s]
	return ok && rank < fulfillmentRank[LineStatusDelivered]
}

// CanTransition проверяет допустимость перехода конечного автомата позиции.
// Failed -> Confirmed сюда не входит: это отдельная операция повтора оплаты.
func CanTransition(from, to LineStatus) bool {
	if from == to {
		return false
	}

	fromRank, fromInPipeline := fulfillmentRank[from]
	toRank, toInPipeline := fulfillmentRank[to]

	switch {
	case to == LineStatusCancelled:
		return from.PreDelivery()
	case fromInPipeline && toInPipeline:
		return toRank > fromRank
	case from == LineStatusDelivered && to == LineStatusReturnRequested:
		return true
	case from == LineStatusReturnRequested:
		return to == LineStatusReturnApproved || to == LineStatusReturnRejected
	default:
		return false
	}
}

// DeriveStatus вычисляет статус заказа по статусам позиций.
// Правила проверяются по порядку, срабатывает первое.
func DeriveStatus(statuses []LineStatus) OrderStatus {
	if len(statuses) == 0 {
		return OrderStatusConfirmed
	}

	all := func(target LineStatus) bool {
		for _, s := range statuses {
			if s != target {
				return false
			}
		}
		return true
	}
	anyOf := func(targets ...LineStatus) bool {
		for _, s := range statuses {
			for _, target := range targets {
				if s == target {
					return true
				}
			}
		}
		return false
	}

	switch {
	case all(LineStatusFailed):
		return OrderStatusFailed
	case all(LineStatusCancelled):
		return OrderStatusCancelled
	case all(LineStatusReturnApproved):
		return OrderStatusReturnApproved
	case all(LineStatusReturnRequested):
		return OrderStatusReturnRequested
	case all(LineStatusReturnRejected):
		return OrderStatusReturnRejected
	case all(LineStatusDelivered):
		return OrderStatusCompleted
	case anyOf(LineStatusDelivered):
		return OrderStatusPartiallyDelivered
	case anyOf(LineStatusShipped, LineStatusOutForDelivery):
		return OrderStatusPartiallyShipped
	case anyOf(LineStatusProcessing):
		return OrderStatusProcessing
	default:
		return OrderStatusConfirmed
	}
}
