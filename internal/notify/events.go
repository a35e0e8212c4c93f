package notify

import (
	"encoding/json"
	"time"
)

const (
	EventOrderConfirmed  = "OrderConfirmed"
	EventPaymentReceived = "PaymentReceived"
	EventTierUpgraded    = "TierUpgraded"
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // one of the Event* consts
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`   // RFC3339
	Producer      string          `json:"producer"`      // e.g., "order-api"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id or user_id
	Payload       json.RawMessage `json:"payload"`
}

// ---- Payload per event ----

type OrderConfirmedPayload struct {
	OrderID       string `json:"order_id"`
	OrderNumber   string `json:"order_number"`
	UserID        string `json:"user_id,omitempty"`
	Channel       string `json:"channel"`
	TotalAmount   int64  `json:"total_amount"`
	CustomerName  string `json:"customer_name"`
	CustomerPhone string `json:"customer_phone,omitempty"`
	CustomerEmail string `json:"customer_email,omitempty"`
}

type PaymentReceivedPayload struct {
	OrderID      string `json:"order_id"`
	OrderNumber  string `json:"order_number"`
	UserID       string `json:"user_id"`
	TotalAmount  int64  `json:"total_amount"`
	PointsEarned int64  `json:"points_earned"`
}

type TierUpgradedPayload struct {
	UserID       string `json:"user_id"`
	PreviousTier string `json:"previous_tier,omitempty"` // slug, empty when the user had none
	NewTier      string `json:"new_tier"`
	TotalSpend   int64  `json:"total_spend"`
}
