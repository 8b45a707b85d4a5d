package domain

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusSuccessful OrderStatus = "successful"
	OrderStatusFailed     OrderStatus = "failed"
)

// IsTerminal reports whether no further payment attempt may move the order.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusSuccessful || s == OrderStatusFailed
}

// IsOpen reports whether the order can still be resumed by a new begin call.
func (s OrderStatus) IsOpen() bool {
	return s == OrderStatusPending || s == OrderStatusProcessing
}

// String representation (for logging)
func (s OrderStatus) String() string {
	return string(s)
}

type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusSuccessful PaymentStatus = "successful"
	PaymentStatusFailed     PaymentStatus = "failed"
)

type RedemptionStatus string

const (
	RedemptionStatusPending    RedemptionStatus = "pending"
	RedemptionStatusSuccessful RedemptionStatus = "successful"
	RedemptionStatusFailed     RedemptionStatus = "failed"
)

var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusPending, OrderStatusProcessing, OrderStatusSuccessful, OrderStatusFailed},
	OrderStatusProcessing: {OrderStatusPending, OrderStatusProcessing, OrderStatusSuccessful, OrderStatusFailed},
}

// CanTransitionTo guards every order status write. Successful is a one-way gate and
// failed orders are never revived; a retry always gets a fresh order.
func CanTransitionTo(from, to OrderStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
