package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID             string
	SKU            string
	Name           string
	BrandID        *string
	CategoryID     *string
	BasePrice      int64
	Stock          int // aggregate, mirrors the sum of active batches
	MinOrderQty    int
	OrderIncrement int
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type StockBatch struct {
	ID                string
	ProductID         string
	BatchNumber       string
	QuantityAvailable int
	QuantitySold      int
	ExpiresAt         *time.Time
	ReceivedAt        time.Time
	IsActive          bool
	IsNearExpiry      bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Allocation modes recorded on BatchAllocation.Mode.
const (
	AllocationModeBatch     = ""
	AllocationModeLegacy    = "legacy"
	AllocationModeUnbatched = "unbatched"
)

const LegacyBatchNumber = "LEGACY"

// BatchAllocation is persisted verbatim on the order item (batch_allocations).
type BatchAllocation struct {
	BatchID     *string    `json:"batch_id"`
	BatchNumber string     `json:"batch_number"`
	Quantity    int        `json:"quantity"`
	ExpiresAt   *time.Time `json:"expires_at"`
	Mode        string     `json:"mode,omitempty"`
	ProductID   string     `json:"-"`
}

func (a BatchAllocation) IsLegacy() bool { return a.BatchID == nil }

type PriceRule struct {
	ID              string
	UserID          string
	ProductID       *string
	BrandID         *string
	CategoryID      *string
	CustomPrice     *int64
	DiscountPercent decimal.NullDecimal
	MinQuantity     int
	Priority        int
	ValidFrom       *time.Time
	ValidUntil      *time.Time
	IsActive        bool
}

type RuleScope int

const (
	ScopeGlobal RuleScope = iota + 1
	ScopeCategory
	ScopeBrand
	ScopeProduct
)

func (s RuleScope) String() string {
	switch s {
	case ScopeProduct:
		return "product"
	case ScopeBrand:
		return "brand"
	case ScopeCategory:
		return "category"
	default:
		return "global"
	}
}

// Scope returns the most specific dimension the rule is bound to.
func (r PriceRule) Scope() RuleScope {
	switch {
	case r.ProductID != nil:
		return ScopeProduct
	case r.BrandID != nil:
		return ScopeBrand
	case r.CategoryID != nil:
		return ScopeCategory
	default:
		return ScopeGlobal
	}
}

// ValidAt reports whether now falls inside the rule's validity window.
func (r PriceRule) ValidAt(now time.Time) bool {
	if !r.IsActive {
		return false
	}
	if r.ValidFrom != nil && now.Before(*r.ValidFrom) {
		return false
	}
	if r.ValidUntil != nil && now.After(*r.ValidUntil) {
		return false
	}
	return true
}

type VolumeTier struct {
	ID              string
	ProductID       string
	MinQuantity     int
	MaxQuantity     *int
	UnitPrice       *int64
	DiscountPercent decimal.NullDecimal
}

func (v VolumeTier) Contains(qty int) bool {
	if qty < v.MinQuantity {
		return false
	}
	return v.MaxQuantity == nil || qty <= *v.MaxQuantity
}

type LoyaltyTier struct {
	ID              string
	Name            string
	Slug            string
	DiscountPercent decimal.Decimal
	PointMultiplier decimal.Decimal
	MinSpend        int64
	FreeShipping    bool
}

type Customer struct {
	ID         string
	Name       string
	Email      string
	Phone      string
	TierID     *string
	Points     int64
	TotalSpend int64
	UpdatedAt  time.Time
}

type Cart struct {
	ID     string
	UserID *string
	Items  []CartItem
}

type CartItem struct {
	ID        string
	CartID    string
	ProductID string
	Quantity  int
}

type Channel string

const (
	ChannelStandard Channel = "standard"
	ChannelAssisted Channel = "assisted"
)

type Order struct {
	ID              string
	OrderNumber     string
	UserID          *string
	Channel         Channel
	Status          OrderStatus
	PaymentStatus   PaymentStatus
	PaymentMethod   string
	Subtotal        int64
	DiscountPercent decimal.Decimal
	DiscountAmount  int64
	TotalAmount     int64
	CustomerName    string
	CustomerPhone   string
	CustomerEmail   string
	ShippingAddress string
	Notes           string
	IdempotencyKey  *string
	PaidAt          *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Items           []OrderItem
}

type OrderItem struct {
	ID               string
	OrderID          string
	ProductID        string
	ProductName      string
	Quantity         int
	UnitPrice        int64
	OriginalPrice    int64
	PriceSource      string
	LineTotal        int64
	BatchAllocations []BatchAllocation
}

type PointType string

const (
	PointEarn    PointType = "earn"
	PointAdjust  PointType = "adjust"
	PointReverse PointType = "reverse"
)

type PointTransaction struct {
	ID             string
	UserID         string
	OrderID        *string
	Type           PointType
	Amount         int64
	BalanceAfter   int64
	Description    string
	IdempotencyKey *string
	CreatedAt      time.Time
}

type ReturnType string

const (
	ReturnRefund   ReturnType = "refund"
	ReturnExchange ReturnType = "exchange"
)

type Return struct {
	ID                string
	ReturnNumber      string
	OrderID           string
	UserID            *string
	Type              ReturnType
	Status            ReturnStatus
	Reason            string
	RejectionReason   string
	RefundAmount      int64
	PointsReversed    int64
	SpendReversed     int64
	RequestedAt       time.Time
	ApprovedAt        *time.Time
	ReceivedAt        *time.Time
	CompletedAt       *time.Time
	RejectedAt        *time.Time
	RestockedAt       *time.Time
	LoyaltyReversedAt *time.Time
	UpdatedAt         time.Time
	Items             []ReturnItem
}

type ReturnItem struct {
	ID                string
	ReturnID          string
	OrderItemID       string
	ProductID         string
	BatchInventoryID  *string
	BatchNumber       string
	QuantityRequested int
	QuantityApproved  int
	UnitPrice         int64
	LineTotal         int64
	Restock           bool
}

type AuditEvent struct {
	ID             string
	Action         string
	EntityType     string
	EntityID       *string
	Meta           map[string]any
	IdempotencyKey *string
	Actor          string
	RequestID      string
	CreatedAt      time.Time
}
