package orders

import (
	"context"
	"errors"

	"github.com/Farid-Ze/alfa-beauty-sub000/internal/audit"
	"github.com/Farid-Ze/alfa-beauty-sub000/internal/domain"
	"github.com/Farid-Ze/alfa-beauty-sub000/internal/notify"
	"github.com/Farid-Ze/alfa-beauty-sub000/internal/store"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type CompleteInput struct {
	PaymentMethod string
	Actor         string
}

type CompleteResult struct {
	Order        domain.Order
	PointsEarned int64
	// Skipped is set when the order was already paid or has no customer.
	Skipped      bool
	PreviousTier *domain.LoyaltyTier
	NewTier      *domain.LoyaltyTier
}

func (r CompleteResult) TierChanged() bool { return r.NewTier != nil }

// CompleteOrder marks the order paid and awards loyalty exactly once. Orders
// already paid, or without a customer, are returned unchanged.
func (s *Service) CompleteOrder(ctx context.Context, orderID string, in CompleteInput) (res CompleteResult, err error) {
	ctx, span := s.tracer().Start(ctx, "orders.complete", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer func() { endSpan(span, err) }()

	var spend int64
	err = s.DB.InTx(ctx, func(tx store.Tx) error {
		res = CompleteResult{}
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return domain.Persistence("lock order", err)
		}
		if o.PaymentStatus == domain.PaymentPaid || o.UserID == nil {
			res.Order, res.Skipped = o, true
			return nil
		}

		now := s.now()
		o.PaymentStatus = domain.PaymentPaid
		o.Status = domain.OrderProcessing
		o.PaidAt = &now
		if in.PaymentMethod != "" {
			o.PaymentMethod = in.PaymentMethod
		}
		if err := tx.UpdateOrderPayment(ctx, o); err != nil {
			return domain.Persistence("update order payment", err)
		}

		cust, err := tx.LockCustomer(ctx, *o.UserID)
		if err != nil {
			return domain.Persistence("lock customer", err)
		}
		tiers, err := tx.LoyaltyTiers(ctx)
		if err != nil {
			return domain.Persistence("load loyalty tiers", err)
		}
		current := findTier(tiers, cust.TierID)

		multiplier := decimal.NewFromInt(1)
		if current != nil {
			multiplier = current.PointMultiplier
		}
		points := domain.PointsFor(o.TotalAmount, multiplier)
		if points > 0 {
			key := domain.EarnPointsKey(o.ID)
			orderRef := o.ID
			inserted, err := tx.InsertPointTransaction(ctx, &domain.PointTransaction{
				UserID:         cust.ID,
				OrderID:        &orderRef,
				Type:           domain.PointEarn,
				Amount:         points,
				BalanceAfter:   cust.Points + points,
				Description:    "Points earned for order " + o.OrderNumber,
				IdempotencyKey: &key,
				CreatedAt:      now,
			})
			if err != nil {
				return domain.Persistence("insert point transaction", err)
			}
			if inserted {
				cust.Points += points
				res.PointsEarned = points
			}
		}
		cust.TotalSpend += o.TotalAmount

		if next := EvaluateTier(tiers, cust.TotalSpend); next != nil && (current == nil || next.ID != current.ID) {
			cust.TierID = &next.ID
			res.PreviousTier, res.NewTier = current, next
		}
		if err := tx.UpdateCustomerLoyalty(ctx, cust); err != nil {
			return domain.Persistence("update customer loyalty", err)
		}
		spend = cust.TotalSpend
		res.Order = o
		return nil
	})
	if err != nil {
		if isPersistence(err) && !errors.Is(err, store.ErrNotFound) {
			s.logger().Error("order completion failed", zap.String("order_id", orderID), zap.Error(err))
		}
		return CompleteResult{}, err
	}
	if res.Skipped {
		s.logger().Debug("order completion skipped",
			zap.String("order_id", orderID),
			zap.String("payment_status", string(res.Order.PaymentStatus)))
		return res, nil
	}

	o := res.Order
	userID := *o.UserID
	s.logger().Info("order paid",
		zap.String("order_id", o.ID),
		zap.String("user_id", userID),
		zap.Int64("total_amount", o.TotalAmount),
		zap.Int64("points_earned", res.PointsEarned))

	s.Audit.Record(ctx, audit.Entry{
		Action:         "order.paid",
		EntityType:     "order",
		EntityID:       o.ID,
		IdempotencyKey: domain.AuditKey("order", "paid", o.ID),
		Actor:          in.Actor,
		Meta: map[string]any{
			"total_amount":   o.TotalAmount,
			"points_earned":  res.PointsEarned,
			"payment_method": o.PaymentMethod,
		},
	})
	s.notifier().Notify(ctx, notify.Notification{
		EventType: notify.EventPaymentReceived,
		Key:       o.ID,
		Payload: notify.PaymentReceivedPayload{
			OrderID:      o.ID,
			OrderNumber:  o.OrderNumber,
			UserID:       userID,
			TotalAmount:  o.TotalAmount,
			PointsEarned: res.PointsEarned,
		},
	})

	if res.TierChanged() {
		prev := ""
		if res.PreviousTier != nil {
			prev = res.PreviousTier.Slug
		}
		s.logger().Info("loyalty tier changed",
			zap.String("user_id", userID),
			zap.String("previous_tier", prev),
			zap.String("new_tier", res.NewTier.Slug))
		// cached prices carry the old tier discount
		if s.Pricing != nil {
			if err := s.Pricing.Invalidate(ctx, userID, ""); err != nil {
				s.logger().Warn("price cache invalidation failed", zap.String("user_id", userID), zap.Error(err))
			}
		}
		s.Audit.Record(ctx, audit.Entry{
			Action:         "customer.tier_changed",
			EntityType:     "user",
			EntityID:       userID,
			IdempotencyKey: domain.AuditKey("customer", "tier_changed", userID) + ":" + o.ID,
			Actor:          in.Actor,
			Meta:           map[string]any{"previous_tier": prev, "new_tier": res.NewTier.Slug, "total_spend": spend},
		})
		s.notifier().Notify(ctx, notify.Notification{
			EventType: notify.EventTierUpgraded,
			Key:       userID,
			Payload: notify.TierUpgradedPayload{
				UserID:       userID,
				PreviousTier: prev,
				NewTier:      res.NewTier.Slug,
				TotalSpend:   spend,
			},
		})
	}
	return res, nil
}

// EvaluateTier returns the tier with the highest min_spend not above spend,
// or nil when none qualifies. A lower result than the current tier is a downgrade.
func EvaluateTier(tiers []domain.LoyaltyTier, spend int64) *domain.LoyaltyTier {
	var best *domain.LoyaltyTier
	for i := range tiers {
		t := &tiers[i]
		if t.MinSpend > spend {
			continue
		}
		if best == nil || t.MinSpend > best.MinSpend {
			best = t
		}
	}
	return best
}

func findTier(tiers []domain.LoyaltyTier, id *string) *domain.LoyaltyTier {
	if id == nil {
		return nil
	}
	for i := range tiers {
		if tiers[i].ID == *id {
			return &tiers[i]
		}
	}
	return nil
}

// customerTier loads the customer's current tier; nil when they hold none.
func customerTier(ctx context.Context, r store.Reader, customerID string) (*domain.LoyaltyTier, error) {
	cust, err := r.Customer(ctx, customerID)
	if err != nil {
		return nil, domain.Persistence("load customer", err)
	}
	if cust.TierID == nil {
		return nil, nil
	}
	tiers, err := r.LoyaltyTiers(ctx)
	if err != nil {
		return nil, domain.Persistence("load loyalty tiers", err)
	}
	return findTier(tiers, cust.TierID), nil
}
