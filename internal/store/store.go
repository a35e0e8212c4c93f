// Package store defines the persistence contract shared by the Postgres and
// in-memory implementations. Every Lock* method takes a row lock that is held
// until the surrounding transaction ends.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/Farid-Ze/alfa-beauty-sub000/internal/domain"
)

var (
	ErrNotFound    = domain.ErrNotFound
	ErrDuplicate   = errors.New("store: duplicate key")
	ErrUnavailable = errors.New("store: unavailable")
	ErrUnsupported = errors.New("store: unsupported")
	// ErrTxAborted is returned for statements issued after an earlier statement
	// failed in the same transaction.
	ErrTxAborted = errors.New("store: transaction aborted")
)

// RuleFilter narrows customer price rules to the scopes a bulk lookup needs.
type RuleFilter struct {
	ProductIDs    []string
	BrandIDs      []string
	CategoryIDs   []string
	IncludeGlobal bool
}

type StockLevel struct {
	ProductID  string
	Stock      int
	BatchTotal int // sum of quantity_available over active batches
	BatchCount int // every batch row, active or not
}

type Reader interface {
	ProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)
	Customer(ctx context.Context, id string) (domain.Customer, error)
	LoyaltyTiers(ctx context.Context) ([]domain.LoyaltyTier, error)
	CustomerPriceRules(ctx context.Context, userID string, f RuleFilter) ([]domain.PriceRule, error)
	VolumeTiers(ctx context.Context, productIDs []string) (map[string][]domain.VolumeTier, error)
	StockLevel(ctx context.Context, productID string) (StockLevel, error)
	CartItems(ctx context.Context, cartID string) ([]domain.CartItem, error)
	Order(ctx context.Context, id string) (domain.Order, error)
	OrderByIdempotencyKey(ctx context.Context, key string) (domain.Order, error)
	Return(ctx context.Context, id string) (domain.Return, error)
	PointTransactionByKey(ctx context.Context, key string) (domain.PointTransaction, error)
}

type Tx interface {
	Reader

	// Savepoint runs fn so that a failure inside it is rolled back without
	// aborting the enclosing transaction.
	Savepoint(ctx context.Context, fn func(tx Tx) error) error

	LockProduct(ctx context.Context, id string) (domain.Product, error)
	AdjustProductStock(ctx context.Context, productID string, delta int) error
	SetProductStock(ctx context.Context, productID string, stock int) error
	// LockStockLevels locks product rows ("" = all products) and reports their batch totals.
	LockStockLevels(ctx context.Context, productID string) ([]StockLevel, error)

	InsertBatch(ctx context.Context, b *domain.StockBatch) error
	// LockActiveBatches returns active batches with stock, in FEFO order.
	LockActiveBatches(ctx context.Context, productID string) ([]domain.StockBatch, error)
	LockBatches(ctx context.Context, ids []string) (map[string]domain.StockBatch, error)
	SaveBatch(ctx context.Context, b domain.StockBatch) error
	FlagNearExpiry(ctx context.Context, cutoff time.Time) (int, error)

	LockCart(ctx context.Context, cartID string) (domain.Cart, error)
	UpdateCartItemQuantity(ctx context.Context, itemID string, qty int) error
	ClearCart(ctx context.Context, cartID string) error

	OrderNumberExists(ctx context.Context, number string) (bool, error)
	InsertOrder(ctx context.Context, o *domain.Order) error
	InsertOrderItem(ctx context.Context, it *domain.OrderItem) error
	LockOrder(ctx context.Context, id string) (domain.Order, error)
	UpdateOrderPayment(ctx context.Context, o domain.Order) error

	LockCustomer(ctx context.Context, id string) (domain.Customer, error)
	UpdateCustomerLoyalty(ctx context.Context, c domain.Customer) error
	// InsertPointTransaction reports false when the idempotency key already exists.
	InsertPointTransaction(ctx context.Context, pt *domain.PointTransaction) (bool, error)
	EarnTransactionsForOrder(ctx context.Context, orderID string) ([]domain.PointTransaction, error)

	InsertReturn(ctx context.Context, r *domain.Return) error
	LockReturn(ctx context.Context, id string) (domain.Return, error)
	// ReturnsForOrder lists every return raised against the order, with items.
	ReturnsForOrder(ctx context.Context, orderID string) ([]domain.Return, error)
	UpdateReturn(ctx context.Context, r domain.Return) error
}

type Store interface {
	Reader
	// InTx runs fn in one transaction; a non-nil error rolls everything back.
	InTx(ctx context.Context, fn func(tx Tx) error) error
	// InsertAuditEvent writes outside any business transaction.
	InsertAuditEvent(ctx context.Context, ev *domain.AuditEvent) error
}
