// Package inventory allocates and releases stock from dated batches in
// first-expired-first-out order, keeping the per-product aggregate counter
// in step with the batch detail.
package inventory

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/Farid-Ze/alfa-beauty-sub000/internal/domain"
	"github.com/Farid-Ze/alfa-beauty-sub000/internal/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const DefaultNearExpiryWindow = 90 * 24 * time.Hour

type Allocator struct {
	DB               store.Store
	Logger           *zap.Logger
	Tracer           trace.Tracer
	NearExpiryWindow time.Duration
	Now              func() time.Time
}

// Allocate takes qty units of productID in its own transaction.
func (a *Allocator) Allocate(ctx context.Context, productID string, qty int) ([]domain.BatchAllocation, error) {
	var out []domain.BatchAllocation
	err := a.DB.InTx(ctx, func(tx store.Tx) error {
		var err error
		out, err = a.AllocateTx(ctx, tx, productID, qty)
		return err
	})
	return out, err
}

// AllocateTx walks the product's active batches in FEFO order inside tx. The
// product row is locked before any batch, matching the order ReleaseTx uses.
func (a *Allocator) AllocateTx(ctx context.Context, tx store.Tx, productID string, qty int) (allocs []domain.BatchAllocation, err error) {
	ctx, span := a.tracer().Start(ctx, "inventory.allocate", trace.WithAttributes(
		attribute.String("product.id", productID),
		attribute.Int("inventory.requested", qty),
	))
	defer func() { endSpan(span, err) }()

	if qty <= 0 {
		return nil, &domain.ValidationError{Field: "quantity", Reason: "must be positive", Requested: qty}
	}
	p, err := tx.LockProduct(ctx, productID)
	if err != nil {
		return nil, domain.Persistence("lock product", err)
	}
	if p.Stock < qty {
		return nil, &domain.InsufficientStockError{ProductID: productID, Requested: qty, Available: max(p.Stock, 0)}
	}

	batches, err := tx.LockActiveBatches(ctx, productID)
	if err != nil {
		return nil, domain.Persistence("lock batches", err)
	}

	remaining := qty
	for _, b := range batches {
		if remaining == 0 {
			break
		}
		take := min(remaining, b.QuantityAvailable)
		if take <= 0 {
			continue
		}
		b.QuantityAvailable -= take
		b.QuantitySold += take
		if b.QuantityAvailable == 0 {
			b.IsActive = false
		}
		if err := tx.SaveBatch(ctx, b); err != nil {
			return nil, domain.Persistence("save batch", err)
		}
		id := b.ID
		allocs = append(allocs, domain.BatchAllocation{
			BatchID:     &id,
			BatchNumber: b.BatchNumber,
			Quantity:    take,
			ExpiresAt:   b.ExpiresAt,
			ProductID:   productID,
		})
		remaining -= take
	}

	if remaining > 0 {
		// batch detail is behind the aggregate counter; serve the rest from the counter
		mode := domain.AllocationModeUnbatched
		if len(allocs) == 0 {
			mode = domain.AllocationModeLegacy
		}
		a.logger().Warn("batch stock below aggregate, allocating without batch",
			zap.String("product_id", productID),
			zap.Int("requested", qty),
			zap.Int("unbatched", remaining),
			zap.String("mode", mode))
		allocs = append(allocs, domain.BatchAllocation{
			BatchNumber: domain.LegacyBatchNumber,
			Quantity:    remaining,
			Mode:        mode,
			ProductID:   productID,
		})
	}

	if err := tx.AdjustProductStock(ctx, productID, -qty); err != nil {
		return nil, domain.Persistence("decrement stock", err)
	}
	span.SetAttributes(attribute.Int("inventory.batches", len(allocs)))
	return allocs, nil
}

// Release returns allocations to stock in its own transaction.
func (a *Allocator) Release(ctx context.Context, allocs []domain.BatchAllocation, reason string) error {
	return a.DB.InTx(ctx, func(tx store.Tx) error {
		return a.ReleaseTx(ctx, tx, allocs, reason)
	})
}

// ReleaseTx is the inverse of AllocateTx. Allocations without a batch, or
// whose batch no longer exists, only restore the aggregate counter.
func (a *Allocator) ReleaseTx(ctx context.Context, tx store.Tx, allocs []domain.BatchAllocation, reason string) (err error) {
	ctx, span := a.tracer().Start(ctx, "inventory.release", trace.WithAttributes(
		attribute.Int("inventory.allocations", len(allocs)),
		attribute.String("inventory.reason", reason),
	))
	defer func() { endSpan(span, err) }()

	perProduct := map[string]int{}
	var batchIDs []string
	for _, al := range allocs {
		if al.Quantity <= 0 {
			continue
		}
		if al.ProductID == "" {
			return &domain.ValidationError{Field: "product_id", Reason: "allocation has no product"}
		}
		perProduct[al.ProductID] += al.Quantity
		if al.BatchID != nil {
			batchIDs = append(batchIDs, *al.BatchID)
		}
	}
	if len(perProduct) == 0 {
		return nil
	}

	productIDs := make([]string, 0, len(perProduct))
	for id := range perProduct {
		productIDs = append(productIDs, id)
	}
	sort.Strings(productIDs)
	for _, id := range productIDs {
		if _, err := tx.LockProduct(ctx, id); err != nil {
			return domain.Persistence("lock product", err)
		}
	}

	sort.Strings(batchIDs)
	batches, err := tx.LockBatches(ctx, batchIDs)
	if err != nil {
		return domain.Persistence("lock batches", err)
	}

	touched := map[string]bool{}
	for _, al := range allocs {
		if al.Quantity <= 0 || al.BatchID == nil {
			continue
		}
		b, ok := batches[*al.BatchID]
		if !ok {
			a.logger().Warn("released batch no longer exists, restoring aggregate only",
				zap.String("batch_id", *al.BatchID),
				zap.String("product_id", al.ProductID),
				zap.Int("quantity", al.Quantity))
			continue
		}
		b.QuantityAvailable += al.Quantity
		b.QuantitySold = max(b.QuantitySold-al.Quantity, 0)
		b.IsActive = true
		batches[b.ID] = b
		touched[b.ID] = true
	}

	ids := make([]string, 0, len(touched))
	for id := range touched {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := tx.SaveBatch(ctx, batches[id]); err != nil {
			return domain.Persistence("save batch", err)
		}
	}
	for _, id := range productIDs {
		if err := tx.AdjustProductStock(ctx, id, perProduct[id]); err != nil {
			return domain.Persistence("increment stock", err)
		}
	}

	a.logger().Info("stock released",
		zap.String("reason", reason),
		zap.Strings("product_ids", productIDs),
		zap.Int("batches", len(ids)))
	return nil
}

// HasAvailableStock compares qty with min(batch availability, aggregate).
// Products that never had batches are judged on the aggregate alone.
func (a *Allocator) HasAvailableStock(ctx context.Context, productID string, qty int) (bool, error) {
	lvl, err := a.DB.StockLevel(ctx, productID)
	if err != nil {
		return false, domain.Persistence("stock level", err)
	}
	return qty <= available(lvl), nil
}

func available(lvl store.StockLevel) int {
	if lvl.BatchCount == 0 {
		return lvl.Stock
	}
	return min(lvl.BatchTotal, lvl.Stock)
}

type Correction struct {
	ProductID string `json:"product_id"`
	Previous  int    `json:"previous"`
	Corrected int    `json:"corrected"`
}

// Sync overwrites the aggregate counter with the batch sum wherever they
// disagree. An empty productID syncs every product; products without any
// batch rows are left alone.
func (a *Allocator) Sync(ctx context.Context, productID string) (out []Correction, err error) {
	ctx, span := a.tracer().Start(ctx, "inventory.sync", trace.WithAttributes(attribute.String("product.id", productID)))
	defer func() { endSpan(span, err) }()

	err = a.DB.InTx(ctx, func(tx store.Tx) error {
		out = nil
		levels, err := tx.LockStockLevels(ctx, productID)
		if err != nil {
			return domain.Persistence("lock stock levels", err)
		}
		for _, lvl := range levels {
			if lvl.BatchCount == 0 || lvl.BatchTotal == lvl.Stock {
				continue
			}
			if err := tx.SetProductStock(ctx, lvl.ProductID, lvl.BatchTotal); err != nil {
				return domain.Persistence("set stock", err)
			}
			out = append(out, Correction{ProductID: lvl.ProductID, Previous: lvl.Stock, Corrected: lvl.BatchTotal})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, c := range out {
		a.logger().Info("stock drift corrected",
			zap.String("product_id", c.ProductID),
			zap.Int("previous", c.Previous),
			zap.Int("corrected", c.Corrected))
	}
	span.SetAttributes(attribute.Int("inventory.corrections", len(out)))
	return out, nil
}

type ReceiveInput struct {
	ProductID   string     `json:"product_id"`
	BatchNumber string     `json:"batch_number"`
	Quantity    int        `json:"quantity"`
	ExpiresAt   *time.Time `json:"expires_at"`
	ReceivedAt  time.Time  `json:"received_at"`
}

// Receive books a goods receipt as a new active batch and raises the aggregate.
func (a *Allocator) Receive(ctx context.Context, in ReceiveInput) (domain.StockBatch, error) {
	if in.Quantity <= 0 {
		return domain.StockBatch{}, &domain.ValidationError{Field: "quantity", Reason: "must be positive", Requested: in.Quantity}
	}
	if in.BatchNumber == "" {
		return domain.StockBatch{}, &domain.ValidationError{Field: "batch_number", Reason: "required"}
	}
	now := a.now()
	if in.ReceivedAt.IsZero() {
		in.ReceivedAt = now
	}
	b := domain.StockBatch{
		ProductID:         in.ProductID,
		BatchNumber:       in.BatchNumber,
		QuantityAvailable: in.Quantity,
		ExpiresAt:         in.ExpiresAt,
		ReceivedAt:        in.ReceivedAt,
		IsActive:          true,
		IsNearExpiry:      in.ExpiresAt != nil && !in.ExpiresAt.After(now.Add(a.window())),
	}
	err := a.DB.InTx(ctx, func(tx store.Tx) error {
		if _, err := tx.LockProduct(ctx, in.ProductID); err != nil {
			return domain.Persistence("lock product", err)
		}
		if err := tx.InsertBatch(ctx, &b); err != nil {
			return domain.Persistence("insert batch", err)
		}
		return domain.Persistence("increment stock", tx.AdjustProductStock(ctx, in.ProductID, in.Quantity))
	})
	if err != nil {
		return domain.StockBatch{}, err
	}
	a.logger().Info("batch received",
		zap.String("product_id", b.ProductID),
		zap.String("batch_id", b.ID),
		zap.String("batch_number", b.BatchNumber),
		zap.Int("quantity", b.QuantityAvailable),
		zap.Bool("near_expiry", b.IsNearExpiry))
	return b, nil
}

// RefreshNearExpiry recomputes the near-expiry flag on every active batch and
// reports how many changed.
func (a *Allocator) RefreshNearExpiry(ctx context.Context) (int, error) {
	cutoff := a.now().Add(a.window())
	var n int
	err := a.DB.InTx(ctx, func(tx store.Tx) error {
		var err error
		n, err = tx.FlagNearExpiry(ctx, cutoff)
		return domain.Persistence("flag near expiry", err)
	})
	if err != nil {
		return 0, err
	}
	a.logger().Info("near-expiry flags refreshed", zap.Time("cutoff", cutoff), zap.Int("changed", n))
	return n, nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// IsInsufficient reports whether err is a stock shortfall and returns its detail.
func IsInsufficient(err error) (*domain.InsufficientStockError, bool) {
	var ise *domain.InsufficientStockError
	if errors.As(err, &ise) {
		return ise, true
	}
	return nil, false
}

func (a *Allocator) window() time.Duration {
	if a.NearExpiryWindow <= 0 {
		return DefaultNearExpiryWindow
	}
	return a.NearExpiryWindow
}

func (a *Allocator) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now().UTC()
}

func (a *Allocator) tracer() trace.Tracer {
	if a.Tracer == nil {
		return otel.Tracer("inventory")
	}
	return a.Tracer
}

func (a *Allocator) logger() *zap.Logger {
	if a.Logger == nil {
		return zap.NewNop()
	}
	return a.Logger
}
