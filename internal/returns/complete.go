package returns

import (
	"context"
	"errors"

	"github.com/Farid-Ze/alfa-beauty-sub000/internal/audit"
	"github.com/Farid-Ze/alfa-beauty-sub000/internal/domain"
	"github.com/Farid-Ze/alfa-beauty-sub000/internal/store"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Reversal describes the loyalty effect of one completed return.
type Reversal struct {
	Basis          string `json:"basis"` // proportional | multiplier | none
	EarnedPoints   int64  `json:"earned_points"`
	OrderTotal     int64  `json:"order_total"`
	PointsReversed int64  `json:"points_reversed"`
	SpendReversed  int64  `json:"spend_reversed"`
	Applied        bool   `json:"applied"`
}

type CompleteResult struct {
	Return    domain.Return
	Restocked bool
	Reversal  Reversal
	// AlreadyCompleted is set when the call found the return completed.
	AlreadyCompleted bool
}

// CompleteReturn finishes a return: restock, refund recomputation and loyalty
// reversal. The restocked-at and loyalty-reversed-at markers, not the status,
// decide which of these side effects still have to run.
func (s *Service) CompleteReturn(ctx context.Context, returnID, actor string) (res CompleteResult, err error) {
	ctx, span := s.tracer().Start(ctx, "returns.complete", trace.WithAttributes(attribute.String("return.id", returnID)))
	defer func() { endSpan(span, err) }()

	var from domain.ReturnStatus
	err = s.DB.InTx(ctx, func(tx store.Tx) error {
		res = CompleteResult{}
		r, err := tx.LockReturn(ctx, returnID)
		if err != nil {
			return domain.Persistence("lock return", err)
		}
		from = r.Status
		if r.Status == domain.ReturnCompleted && r.CompletedAt != nil {
			res.Return, res.AlreadyCompleted = r, true
			return nil
		}
		if !domain.CanTransitionReturn(r.Status, domain.ReturnCompleted) ||
			(r.Status == domain.ReturnApproved && needsGoods(r)) {
			return &domain.StateTransitionError{Entity: "return", ID: r.ID, From: string(r.Status), To: string(domain.ReturnCompleted)}
		}
		now := s.now()

		for i := range r.Items {
			r.Items[i].LineTotal = int64(r.Items[i].QuantityApproved) * r.Items[i].UnitPrice
		}

		if r.RestockedAt == nil {
			var allocs []domain.BatchAllocation
			for _, it := range r.Items {
				if !it.Restock || it.QuantityApproved <= 0 {
					continue
				}
				allocs = append(allocs, domain.BatchAllocation{
					BatchID:     it.BatchInventoryID,
					BatchNumber: it.BatchNumber,
					Quantity:    it.QuantityApproved,
					ProductID:   it.ProductID,
				})
			}
			if err := s.Inventory.ReleaseTx(ctx, tx, allocs, "return "+r.ReturnNumber); err != nil {
				return err
			}
			r.RestockedAt = &now
			res.Restocked = true
		}

		var refund int64
		for _, it := range r.Items {
			refund += it.LineTotal
		}
		r.RefundAmount = refund

		if s.LoyaltyReversal && r.Type == domain.ReturnRefund && r.LoyaltyReversedAt == nil && r.UserID != nil {
			rev, err := s.reverseLoyalty(ctx, tx, r)
			if err != nil {
				return err
			}
			r.PointsReversed = rev.PointsReversed
			r.SpendReversed = rev.SpendReversed
			r.LoyaltyReversedAt = &now
			res.Reversal = rev
		}

		r.Status = domain.ReturnCompleted
		r.CompletedAt = &now
		if err := tx.UpdateReturn(ctx, r); err != nil {
			return domain.Persistence("update return", err)
		}
		res.Return = r
		return nil
	})
	if err != nil {
		return CompleteResult{}, s.fail("complete", returnID, err)
	}
	if res.AlreadyCompleted {
		return res, nil
	}

	r := res.Return
	s.logger().Info("return completed",
		zap.String("return_id", r.ID),
		zap.String("order_id", r.OrderID),
		zap.Int64("refund_amount", r.RefundAmount),
		zap.Bool("restocked", res.Restocked),
		zap.Int64("points_reversed", r.PointsReversed))
	s.Audit.Record(ctx, audit.Entry{
		Action:         "return.complete",
		EntityType:     "return",
		EntityID:       r.ID,
		IdempotencyKey: domain.AuditKey("return", "complete", r.ID),
		Actor:          actor,
		Meta: map[string]any{
			"from":            string(from),
			"order_id":        r.OrderID,
			"type":            string(r.Type),
			"refund_amount":   r.RefundAmount,
			"restocked":       res.Restocked,
			"items":           len(r.Items),
			"loyalty_basis":   res.Reversal.Basis,
			"earned_points":   res.Reversal.EarnedPoints,
			"order_total":     res.Reversal.OrderTotal,
			"points_reversed": r.PointsReversed,
			"spend_reversed":  r.SpendReversed,
		},
	})
	return res, nil
}

// needsGoods reports whether completing r puts stock back, in which case the
// goods must be marked received first.
func needsGoods(r domain.Return) bool {
	for _, it := range r.Items {
		if it.Restock && it.QuantityApproved > 0 {
			return true
		}
	}
	return false
}

// reverseLoyalty takes back the share of earned points that the refund
// represents. The tier is left as is.
func (s *Service) reverseLoyalty(ctx context.Context, tx store.Tx, r domain.Return) (Reversal, error) {
	o, err := tx.Order(ctx, r.OrderID)
	if err != nil {
		return Reversal{}, domain.Persistence("load order", err)
	}
	cust, err := tx.LockCustomer(ctx, *r.UserID)
	if err != nil {
		return Reversal{}, domain.Persistence("lock customer", err)
	}

	rev := Reversal{OrderTotal: o.TotalAmount, Basis: "none"}
	earned, found, err := originalEarn(ctx, tx, o.ID)
	if err != nil {
		return Reversal{}, err
	}
	switch {
	case found && earned.Amount > 0 && o.TotalAmount > 0:
		rev.Basis = "proportional"
		rev.EarnedPoints = earned.Amount
		rev.PointsReversed = ProportionalPoints(earned.Amount, r.RefundAmount, o.TotalAmount)
	case r.RefundAmount > 0:
		rev.Basis = "multiplier"
		multiplier := decimal.NewFromInt(1)
		tiers, err := tx.LoyaltyTiers(ctx)
		if err != nil {
			return Reversal{}, domain.Persistence("load loyalty tiers", err)
		}
		for _, t := range tiers {
			if cust.TierID != nil && t.ID == *cust.TierID {
				multiplier = t.PointMultiplier
			}
		}
		rev.PointsReversed = domain.PointsFor(r.RefundAmount, multiplier)
	}
	if found && rev.PointsReversed > 0 {
		left, err := unreversedPoints(ctx, tx, o.ID, r.ID, earned.Amount)
		if err != nil {
			return Reversal{}, err
		}
		rev.PointsReversed = min(rev.PointsReversed, left)
	}

	if rev.PointsReversed > 0 {
		key := domain.ReversePointsKey(r.ID, o.ID, cust.ID)
		orderRef := o.ID
		inserted, err := tx.InsertPointTransaction(ctx, &domain.PointTransaction{
			UserID:         cust.ID,
			OrderID:        &orderRef,
			Type:           domain.PointReverse,
			Amount:         -rev.PointsReversed,
			BalanceAfter:   cust.Points - rev.PointsReversed,
			Description:    "Points reversed for return " + r.ReturnNumber,
			IdempotencyKey: &key,
			CreatedAt:      s.now(),
		})
		if err != nil {
			return Reversal{}, domain.Persistence("insert point reversal", err)
		}
		if inserted {
			cust.Points -= rev.PointsReversed
			rev.Applied = true
		} else {
			s.logger().Debug("point reversal already recorded", zap.String("key", key))
		}
	}
	if s.SpendReversal {
		delta := min(r.RefundAmount, cust.TotalSpend)
		cust.TotalSpend -= delta
		rev.SpendReversed = delta
	}
	if err := tx.UpdateCustomerLoyalty(ctx, cust); err != nil {
		return Reversal{}, domain.Persistence("update customer loyalty", err)
	}
	return rev, nil
}

// originalEarn finds the earn transaction of an order by its key, falling
// back to the oldest earn row recorded for the order.
func originalEarn(ctx context.Context, tx store.Tx, orderID string) (domain.PointTransaction, bool, error) {
	pt, err := tx.PointTransactionByKey(ctx, domain.EarnPointsKey(orderID))
	if err == nil {
		return pt, true, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return domain.PointTransaction{}, false, domain.Persistence("load earn transaction", err)
	}
	earns, err := tx.EarnTransactionsForOrder(ctx, orderID)
	if err != nil {
		return domain.PointTransaction{}, false, domain.Persistence("load earn transactions", err)
	}
	if len(earns) == 0 {
		return domain.PointTransaction{}, false, nil
	}
	return earns[0], true, nil
}

// unreversedPoints is what remains of the order's earn after the reversals
// of its other returns.
func unreversedPoints(ctx context.Context, tx store.Tx, orderID, returnID string, earned int64) (int64, error) {
	prior, err := tx.ReturnsForOrder(ctx, orderID)
	if err != nil {
		return 0, domain.Persistence("load order returns", err)
	}
	left := earned
	for _, p := range prior {
		if p.ID != returnID {
			left -= p.PointsReversed
		}
	}
	return max(left, 0), nil
}

// ProportionalPoints is floor(earned * min(1, refund/total)).
func ProportionalPoints(earned, refund, total int64) int64 {
	if earned <= 0 || refund <= 0 || total <= 0 {
		return 0
	}
	if refund >= total {
		return earned
	}
	return decimal.NewFromInt(earned).Mul(decimal.NewFromInt(refund)).Div(decimal.NewFromInt(total)).Floor().IntPart()
}
