package domain

type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderProcessing OrderStatus = "processing"
	OrderShipped    OrderStatus = "shipped"
	OrderDelivered  OrderStatus = "delivered"
	OrderCancelled  OrderStatus = "cancelled"
)

type PaymentStatus string

const (
	PaymentUnpaid   PaymentStatus = "unpaid"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
)

type ReturnStatus string

const (
	ReturnRequested ReturnStatus = "requested"
	ReturnApproved  ReturnStatus = "approved"
	ReturnReceived  ReturnStatus = "received"
	ReturnCompleted ReturnStatus = "completed"
	ReturnRejected  ReturnStatus = "rejected"
)

var validReturnNext = map[ReturnStatus]map[ReturnStatus]bool{
	ReturnRequested: {ReturnApproved: true, ReturnRejected: true},
	ReturnApproved:  {ReturnReceived: true, ReturnCompleted: true, ReturnRejected: true},
	ReturnReceived:  {ReturnCompleted: true, ReturnRejected: true},
	ReturnCompleted: {},
	ReturnRejected:  {},
}

func CanTransitionReturn(from, to ReturnStatus) bool {
	return validReturnNext[from][to]
}

func (s ReturnStatus) Terminal() bool {
	return s == ReturnCompleted || s == ReturnRejected
}
