// Package returns drives the return state machine and reverses the stock and
// loyalty effects of a completed return.
package returns

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Farid-Ze/alfa-beauty-sub000/internal/audit"
	"github.com/Farid-Ze/alfa-beauty-sub000/internal/domain"
	"github.com/Farid-Ze/alfa-beauty-sub000/internal/inventory"
	"github.com/Farid-Ze/alfa-beauty-sub000/internal/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Service struct {
	DB        store.Store
	Inventory *inventory.Allocator
	Audit     *audit.Log
	Logger    *zap.Logger
	Tracer    trace.Tracer
	Now       func() time.Time

	// LoyaltyReversal takes back earned points when a refund return completes.
	LoyaltyReversal bool
	// SpendReversal also lowers cumulative spend by the refund amount.
	SpendReversal bool
}

type RequestItem struct {
	OrderItemID string `json:"order_item_id"`
	Quantity    int    `json:"quantity"`
	Restock     bool   `json:"restock"`
}

type RequestInput struct {
	OrderID string
	Type    domain.ReturnType
	Reason  string
	Items   []RequestItem
	Actor   string
}

// Request opens a return against a paid order. Each line is split across the
// order item's batch allocations, newest first, so every return item points
// at one batch.
func (s *Service) Request(ctx context.Context, in RequestInput) (ret domain.Return, err error) {
	ctx, span := s.tracer().Start(ctx, "returns.request", trace.WithAttributes(attribute.String("order.id", in.OrderID)))
	defer func() { endSpan(span, err) }()

	if in.Type == "" {
		in.Type = domain.ReturnRefund
	}
	if err := validateRequest(in); err != nil {
		return domain.Return{}, err
	}

	err = s.DB.InTx(ctx, func(tx store.Tx) error {
		o, err := tx.LockOrder(ctx, in.OrderID)
		if err != nil {
			return domain.Persistence("lock order", err)
		}
		if o.PaymentStatus != domain.PaymentPaid {
			return &domain.ValidationError{Field: "order_id", Reason: "order is not paid"}
		}
		prior, err := tx.ReturnsForOrder(ctx, o.ID)
		if err != nil {
			return domain.Persistence("load order returns", err)
		}
		items, err := splitItems(o, in.Items, returnedQuantities(prior))
		if err != nil {
			return err
		}
		ret = domain.Return{
			ReturnNumber: domain.NewReturnNumber(),
			OrderID:      o.ID,
			UserID:       o.UserID,
			Type:         in.Type,
			Status:       domain.ReturnRequested,
			Reason:       in.Reason,
			RequestedAt:  s.now(),
			Items:        items,
		}
		for _, it := range items {
			ret.RefundAmount += it.LineTotal
		}
		if err := tx.InsertReturn(ctx, &ret); err != nil {
			return domain.Persistence("insert return", err)
		}
		return nil
	})
	if err != nil {
		return domain.Return{}, s.fail("request", in.OrderID, err)
	}

	s.logger().Info("return requested",
		zap.String("return_id", ret.ID),
		zap.String("order_id", ret.OrderID),
		zap.Int("items", len(ret.Items)))
	s.Audit.Record(ctx, audit.Entry{
		Action:         "return.requested",
		EntityType:     "return",
		EntityID:       ret.ID,
		IdempotencyKey: domain.AuditKey("return", "requested", ret.ID),
		Actor:          in.Actor,
		Meta: map[string]any{
			"return_number": ret.ReturnNumber,
			"order_id":      ret.OrderID,
			"type":          string(ret.Type),
			"refund_amount": ret.RefundAmount,
		},
	})
	return ret, nil
}

func validateRequest(in RequestInput) error {
	if in.OrderID == "" {
		return &domain.ValidationError{Field: "order_id", Reason: "required"}
	}
	if in.Type != domain.ReturnRefund && in.Type != domain.ReturnExchange {
		return &domain.ValidationError{Field: "type", Reason: fmt.Sprintf("unknown return type %q", in.Type)}
	}
	if len(in.Items) == 0 {
		return &domain.ValidationError{Field: "items", Reason: "at least one item is required"}
	}
	for _, it := range in.Items {
		if it.Quantity <= 0 {
			return &domain.ValidationError{Field: "items.quantity", Reason: "must be positive", Requested: it.Quantity}
		}
	}
	return nil
}

// returnedQuantities sums, per order item, what earlier returns still claim.
// Rejected returns claim nothing; approved ones claim the approved quantity.
func returnedQuantities(prior []domain.Return) map[string]int {
	out := map[string]int{}
	for _, r := range prior {
		if r.Status == domain.ReturnRejected {
			continue
		}
		for _, it := range r.Items {
			q := it.QuantityRequested
			if r.ApprovedAt != nil {
				q = it.QuantityApproved
			}
			out[it.OrderItemID] += q
		}
	}
	return out
}

func splitItems(o domain.Order, req []RequestItem, returned map[string]int) ([]domain.ReturnItem, error) {
	byID := make(map[string]domain.OrderItem, len(o.Items))
	for _, it := range o.Items {
		byID[it.ID] = it
	}
	requested := map[string]int{}
	var out []domain.ReturnItem
	for _, r := range req {
		oi, ok := byID[r.OrderItemID]
		if !ok {
			return nil, &domain.ValidationError{Field: "items.order_item_id", Reason: fmt.Sprintf("item %s is not part of order %s", r.OrderItemID, o.ID)}
		}
		requested[oi.ID] += r.Quantity
		if requested[oi.ID] > oi.Quantity {
			return nil, &domain.ValidationError{Field: "items.quantity", Reason: "exceeds ordered quantity", Requested: requested[oi.ID]}
		}
		if requested[oi.ID] > oi.Quantity-returned[oi.ID] {
			return nil, &domain.ValidationError{
				Field:     "items.quantity",
				Reason:    fmt.Sprintf("exceeds returnable quantity, %d of %d already returned", returned[oi.ID], oi.Quantity),
				Requested: requested[oi.ID],
			}
		}

		remaining := r.Quantity
		allocs := oi.BatchAllocations
		for i := len(allocs) - 1; i >= 0 && remaining > 0; i-- {
			take := min(remaining, allocs[i].Quantity)
			if take <= 0 {
				continue
			}
			out = append(out, returnItem(oi, allocs[i].BatchID, allocs[i].BatchNumber, take, r.Restock))
			remaining -= take
		}
		if remaining > 0 {
			out = append(out, returnItem(oi, nil, domain.LegacyBatchNumber, remaining, r.Restock))
		}
	}
	return out, nil
}

func returnItem(oi domain.OrderItem, batchID *string, batchNumber string, qty int, restock bool) domain.ReturnItem {
	return domain.ReturnItem{
		OrderItemID:       oi.ID,
		ProductID:         oi.ProductID,
		BatchInventoryID:  batchID,
		BatchNumber:       batchNumber,
		QuantityRequested: qty,
		UnitPrice:         oi.UnitPrice,
		LineTotal:         int64(qty) * oi.UnitPrice,
		Restock:           restock,
	}
}

type ApproveInput struct {
	// Quantities narrows quantity_approved per return item id; absent items
	// are approved in full.
	Quantities map[string]int
	Actor      string
}

func (s *Service) Approve(ctx context.Context, returnID string, in ApproveInput) (domain.Return, error) {
	return s.transition(ctx, returnID, domain.ReturnApproved, in.Actor, func(r *domain.Return, now time.Time) error {
		var refund int64
		for i := range r.Items {
			it := &r.Items[i]
			q, ok := in.Quantities[it.ID]
			if !ok {
				q = it.QuantityRequested
			}
			if q < 0 || q > it.QuantityRequested {
				return &domain.ValidationError{Field: "quantity_approved", Reason: "must be between 0 and the requested quantity", Requested: q}
			}
			it.QuantityApproved = q
			it.LineTotal = int64(q) * it.UnitPrice
			refund += it.LineTotal
		}
		r.RefundAmount = refund
		r.ApprovedAt = &now
		return nil
	})
}

func (s *Service) MarkReceived(ctx context.Context, returnID, actor string) (domain.Return, error) {
	return s.transition(ctx, returnID, domain.ReturnReceived, actor, func(r *domain.Return, now time.Time) error {
		r.ReceivedAt = &now
		return nil
	})
}

func (s *Service) Reject(ctx context.Context, returnID, reason, actor string) (domain.Return, error) {
	return s.transition(ctx, returnID, domain.ReturnRejected, actor, func(r *domain.Return, now time.Time) error {
		r.RejectionReason = reason
		r.RejectedAt = &now
		return nil
	})
}

// transition moves a return to target under a row lock. Repeating a
// transition that already happened returns the return unchanged.
func (s *Service) transition(ctx context.Context, returnID string, target domain.ReturnStatus, actor string, apply func(*domain.Return, time.Time) error) (ret domain.Return, err error) {
	ctx, span := s.tracer().Start(ctx, "returns."+string(target), trace.WithAttributes(attribute.String("return.id", returnID)))
	defer func() { endSpan(span, err) }()

	var (
		from    domain.ReturnStatus
		changed bool
	)
	err = s.DB.InTx(ctx, func(tx store.Tx) error {
		r, err := tx.LockReturn(ctx, returnID)
		if err != nil {
			return domain.Persistence("lock return", err)
		}
		ret, from = r, r.Status
		if r.Status == target {
			return nil
		}
		if !domain.CanTransitionReturn(r.Status, target) {
			return &domain.StateTransitionError{Entity: "return", ID: r.ID, From: string(r.Status), To: string(target)}
		}
		if err := apply(&r, s.now()); err != nil {
			return err
		}
		r.Status = target
		if err := tx.UpdateReturn(ctx, r); err != nil {
			return domain.Persistence("update return", err)
		}
		ret, changed = r, true
		return nil
	})
	if err != nil {
		return domain.Return{}, s.fail(string(target), returnID, err)
	}
	if !changed {
		return ret, nil
	}

	action := actionFor(target)
	s.logger().Info("return "+action,
		zap.String("return_id", ret.ID),
		zap.String("from", string(from)))
	meta := map[string]any{"from": string(from), "to": string(target), "refund_amount": ret.RefundAmount}
	if target == domain.ReturnRejected {
		meta["reason"] = ret.RejectionReason
	}
	s.Audit.Record(ctx, audit.Entry{
		Action:         "return." + action,
		EntityType:     "return",
		EntityID:       ret.ID,
		IdempotencyKey: domain.AuditKey("return", action, ret.ID),
		Actor:          actor,
		Meta:           meta,
	})
	return ret, nil
}

func actionFor(st domain.ReturnStatus) string {
	switch st {
	case domain.ReturnApproved:
		return "approve"
	case domain.ReturnReceived:
		return "receive"
	case domain.ReturnRejected:
		return "reject"
	case domain.ReturnCompleted:
		return "complete"
	}
	return string(st)
}

// fail logs unexpected store failures; domain errors pass through quietly.
func (s *Service) fail(op, id string, err error) error {
	var pe *domain.PersistenceError
	if errors.As(err, &pe) && !errors.Is(err, store.ErrNotFound) {
		s.logger().Error("return persistence failure", zap.String("op", op), zap.String("id", id), zap.Error(err))
	}
	return err
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

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *Service) tracer() trace.Tracer {
	if s.Tracer == nil {
		return otel.Tracer("returns")
	}
	return s.Tracer
}

func (s *Service) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
