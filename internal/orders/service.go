// Package orders turns carts into orders and completes paid orders.
package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Farid-Ze/alfa-beauty-sub000/internal/audit"
	"github.com/Farid-Ze/alfa-beauty-sub000/internal/domain"
	"github.com/Farid-Ze/alfa-beauty-sub000/internal/inventory"
	"github.com/Farid-Ze/alfa-beauty-sub000/internal/notify"
	"github.com/Farid-Ze/alfa-beauty-sub000/internal/pricing"
	"github.com/Farid-Ze/alfa-beauty-sub000/internal/store"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const orderNumberAttempts = 5

type Service struct {
	DB        store.Store
	Pricing   *pricing.Resolver
	Inventory *inventory.Allocator
	Audit     *audit.Log
	Notifier  notify.Notifier
	Logger    *zap.Logger
	Tracer    trace.Tracer
	Now       func() time.Time
}

type CustomerDetails struct {
	Name            string `json:"name"`
	Phone           string `json:"phone"`
	Email           string `json:"email"`
	ShippingAddress string `json:"shipping_address"`
	Notes           string `json:"notes"`
}

type CreateInput struct {
	CartID         string
	CustomerID     string // empty for guests; falls back to the cart owner
	Customer       CustomerDetails
	Channel        domain.Channel
	PaymentMethod  string
	IdempotencyKey string
	Actor          string
}

// Adjustment records a cart line whose quantity was corrected to the
// product's minimum order quantity and increment.
type Adjustment struct {
	CartItemID string `json:"cart_item_id"`
	ProductID  string `json:"product_id"`
	Requested  int    `json:"requested"`
	Corrected  int    `json:"corrected"`
}

type CreateResult struct {
	Order       domain.Order
	Adjustments []Adjustment
	Existing    bool // a retried create returned the order from the first attempt
}

// CreateFromCart prices, allocates and persists the cart as one order in a
// single transaction. Any allocation failure rolls the whole order back.
func (s *Service) CreateFromCart(ctx context.Context, in CreateInput) (res CreateResult, err error) {
	ctx, span := s.tracer().Start(ctx, "orders.create", trace.WithAttributes(
		attribute.String("cart.id", in.CartID),
		attribute.String("order.channel", string(in.Channel)),
	))
	defer func() { endSpan(span, err) }()

	if in.Channel == "" {
		in.Channel = domain.ChannelStandard
	}
	if err := validateCreate(in); err != nil {
		return CreateResult{}, err
	}
	if in.IdempotencyKey != "" {
		existing, err := s.DB.OrderByIdempotencyKey(ctx, in.IdempotencyKey)
		if err == nil {
			return CreateResult{Order: existing, Existing: true}, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return CreateResult{}, s.persistenceFailure("lookup idempotency key", err, zap.String("cart_id", in.CartID))
		}
	}

	err = s.DB.InTx(ctx, func(tx store.Tx) error {
		var err error
		res, err = s.createTx(ctx, tx, in)
		return err
	})
	if errors.Is(err, store.ErrDuplicate) && in.IdempotencyKey != "" {
		// a concurrent create with the same key committed first
		existing, lookupErr := s.DB.OrderByIdempotencyKey(ctx, in.IdempotencyKey)
		if lookupErr == nil {
			return CreateResult{Order: existing, Existing: true}, nil
		}
	}
	if err != nil {
		if isPersistence(err) {
			return CreateResult{}, s.persistenceFailure("create order", err, zap.String("cart_id", in.CartID))
		}
		return CreateResult{}, err
	}

	o := res.Order
	span.SetAttributes(attribute.String("order.id", o.ID), attribute.Int64("order.total", o.TotalAmount))
	s.logger().Info("order created",
		zap.String("order_id", o.ID),
		zap.String("order_number", o.OrderNumber),
		zap.String("channel", string(o.Channel)),
		zap.Int64("total_amount", o.TotalAmount),
		zap.Int("items", len(o.Items)),
		zap.Int("adjustments", len(res.Adjustments)))

	s.Audit.Record(ctx, audit.Entry{
		Action:         "order.created",
		EntityType:     "order",
		EntityID:       o.ID,
		IdempotencyKey: domain.AuditKey("order", "created", o.ID),
		Actor:          in.Actor,
		Meta: map[string]any{
			"order_number":     o.OrderNumber,
			"channel":          string(o.Channel),
			"subtotal":         o.Subtotal,
			"discount_percent": o.DiscountPercent.String(),
			"discount_amount":  o.DiscountAmount,
			"total_amount":     o.TotalAmount,
			"adjustments":      res.Adjustments,
		},
	})
	s.notifier().Notify(ctx, notify.Notification{
		EventType: notify.EventOrderConfirmed,
		Key:       o.ID,
		Payload: notify.OrderConfirmedPayload{
			OrderID:       o.ID,
			OrderNumber:   o.OrderNumber,
			UserID:        deref(o.UserID),
			Channel:       string(o.Channel),
			TotalAmount:   o.TotalAmount,
			CustomerName:  o.CustomerName,
			CustomerPhone: o.CustomerPhone,
			CustomerEmail: o.CustomerEmail,
		},
	})
	return res, nil
}

func validateCreate(in CreateInput) error {
	if in.CartID == "" {
		return &domain.ValidationError{Field: "cart_id", Reason: "required"}
	}
	if in.Customer.Name == "" {
		return &domain.ValidationError{Field: "customer.name", Reason: "required"}
	}
	if in.Channel != domain.ChannelStandard && in.Channel != domain.ChannelAssisted {
		return &domain.ValidationError{Field: "channel", Reason: fmt.Sprintf("unknown channel %q", in.Channel)}
	}
	return nil
}

func (s *Service) createTx(ctx context.Context, tx store.Tx, in CreateInput) (CreateResult, error) {
	cart, err := tx.LockCart(ctx, in.CartID)
	if err != nil {
		return CreateResult{}, domain.Persistence("lock cart", err)
	}
	if len(cart.Items) == 0 {
		return CreateResult{}, domain.ErrEmptyCart
	}
	customerID := in.CustomerID
	if customerID == "" && cart.UserID != nil {
		customerID = *cart.UserID
	}
	if customerID != "" {
		_, err := tx.Customer(ctx, customerID)
		if errors.Is(err, store.ErrNotFound) {
			return CreateResult{}, &domain.ValidationError{Field: "customer_id", Reason: fmt.Sprintf("unknown customer %s", customerID)}
		}
		if err != nil {
			return CreateResult{}, domain.Persistence("load customer", err)
		}
	}

	ids := make([]string, 0, len(cart.Items))
	for _, it := range cart.Items {
		ids = append(ids, it.ProductID)
	}
	products, err := tx.ProductsByIDs(ctx, ids)
	if err != nil {
		return CreateResult{}, domain.Persistence("load products", err)
	}

	// 1) correct quantities against MOQ / increment
	var adjustments []Adjustment
	items := make([]domain.CartItem, 0, len(cart.Items))
	for _, it := range cart.Items {
		p, ok := products[it.ProductID]
		if !ok || !p.IsActive {
			return CreateResult{}, &domain.ValidationError{Field: "product_id", Reason: fmt.Sprintf("product %s is not available", it.ProductID)}
		}
		corrected := CorrectQuantity(it.Quantity, p.MinOrderQty, p.OrderIncrement)
		if corrected != it.Quantity {
			if err := tx.UpdateCartItemQuantity(ctx, it.ID, corrected); err != nil {
				return CreateResult{}, domain.Persistence("correct cart item", err)
			}
			adjustments = append(adjustments, Adjustment{CartItemID: it.ID, ProductID: it.ProductID, Requested: it.Quantity, Corrected: corrected})
			it.Quantity = corrected
		}
		items = append(items, it)
	}
	// fixed product order keeps batch locks consistent across concurrent checkouts
	sort.SliceStable(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })

	// 2) bulk pricing
	lines := make([]pricing.Line, 0, len(items))
	for _, it := range items {
		lines = append(lines, pricing.Line{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	prices, err := s.Pricing.ResolveBulk(ctx, tx, lines, customerID)
	if err != nil {
		return CreateResult{}, err
	}

	// 3) subtotal; tier discount only when no line carries B2B pricing
	var subtotal int64
	var b2b bool
	orderItems := make([]domain.OrderItem, 0, len(items))
	for _, it := range items {
		pr := prices[it.ProductID]
		unit, source := pr.UnitPrice, pr.Source
		if source == pricing.SourceLoyaltyTier {
			// the tier discount is applied once, on the subtotal
			unit, source = pr.OriginalPrice, pricing.SourceBasePrice
		}
		b2b = b2b || source.B2B()
		line := unit * int64(it.Quantity)
		subtotal += line
		orderItems = append(orderItems, domain.OrderItem{
			ProductID:     it.ProductID,
			ProductName:   products[it.ProductID].Name,
			Quantity:      it.Quantity,
			UnitPrice:     unit,
			OriginalPrice: pr.OriginalPrice,
			PriceSource:   string(source),
			LineTotal:     line,
		})
	}

	discountPct := decimal.Zero
	if customerID != "" && !b2b {
		tier, err := customerTier(ctx, tx, customerID)
		if err != nil {
			return CreateResult{}, err
		}
		if tier != nil && tier.DiscountPercent.IsPositive() {
			discountPct = tier.DiscountPercent
		}
	}
	discount := domain.PercentOf(subtotal, discountPct)

	// 4) header
	number, err := uniqueOrderNumber(ctx, tx, in.Channel)
	if err != nil {
		return CreateResult{}, err
	}
	o := domain.Order{
		OrderNumber:     number,
		Channel:         in.Channel,
		Status:          domain.OrderPending,
		PaymentStatus:   domain.PaymentUnpaid,
		PaymentMethod:   in.PaymentMethod,
		Subtotal:        subtotal,
		DiscountPercent: discountPct,
		DiscountAmount:  discount,
		TotalAmount:     subtotal - discount,
		CustomerName:    in.Customer.Name,
		CustomerPhone:   in.Customer.Phone,
		CustomerEmail:   in.Customer.Email,
		ShippingAddress: in.Customer.ShippingAddress,
		Notes:           in.Customer.Notes,
	}
	if customerID != "" {
		o.UserID = &customerID
	}
	if in.IdempotencyKey != "" {
		key := in.IdempotencyKey
		o.IdempotencyKey = &key
	}
	if err := tx.InsertOrder(ctx, &o); err != nil {
		return CreateResult{}, domain.Persistence("insert order", err)
	}

	// 5-6) allocate and persist each line
	for i := range orderItems {
		it := &orderItems[i]
		allocs, err := s.Inventory.AllocateTx(ctx, tx, it.ProductID, it.Quantity)
		if err != nil {
			return CreateResult{}, err
		}
		it.OrderID = o.ID
		it.BatchAllocations = allocs
		if err := tx.InsertOrderItem(ctx, it); err != nil {
			return CreateResult{}, domain.Persistence("insert order item", err)
		}
	}
	o.Items = orderItems

	if err := tx.ClearCart(ctx, cart.ID); err != nil {
		return CreateResult{}, domain.Persistence("clear cart", err)
	}
	return CreateResult{Order: o, Adjustments: adjustments}, nil
}

// CorrectQuantity raises qty to the minimum order quantity and rounds the
// excess up to the next increment.
func CorrectQuantity(qty, moq, inc int) int {
	if moq < 1 {
		moq = 1
	}
	if inc < 1 {
		inc = 1
	}
	if qty < moq {
		return moq
	}
	if over := (qty - moq) % inc; over != 0 {
		return qty + inc - over
	}
	return qty
}

func uniqueOrderNumber(ctx context.Context, tx store.Tx, ch domain.Channel) (string, error) {
	for i := 0; i < orderNumberAttempts; i++ {
		n := domain.NewOrderNumber(ch)
		exists, err := tx.OrderNumberExists(ctx, n)
		if err != nil {
			return "", domain.Persistence("check order number", err)
		}
		if !exists {
			return n, nil
		}
	}
	return "", domain.Persistence("generate order number", errors.New("no unique order number"))
}

func isPersistence(err error) bool {
	var pe *domain.PersistenceError
	return errors.As(err, &pe)
}

// persistenceFailure logs a store failure with its context and returns it.
func (s *Service) persistenceFailure(op string, err error, fields ...zap.Field) error {
	s.logger().Error("order persistence failure", append(fields, zap.String("op", op), zap.Error(err))...)
	return domain.Persistence(op, err)
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

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *Service) notifier() notify.Notifier {
	if s.Notifier == nil {
		return notify.Discard{}
	}
	return s.Notifier
}

func (s *Service) tracer() trace.Tracer {
	if s.Tracer == nil {
		return otel.Tracer("orders")
	}
	return s.Tracer
}

func (s *Service) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
