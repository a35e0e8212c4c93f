package returns

import (
	"context"
	"testing"
	"time"

	"github.com/Farid-Ze/alfa-beauty-sub000/internal/audit"
	"github.com/Farid-Ze/alfa-beauty-sub000/internal/domain"
	"github.com/Farid-Ze/alfa-beauty-sub000/internal/inventory"
	"github.com/Farid-Ze/alfa-beauty-sub000/internal/memstore"
	"github.com/Farid-Ze/alfa-beauty-sub000/internal/orders"
	"github.com/Farid-Ze/alfa-beauty-sub000/internal/pricing"
	"github.com/Farid-Ze/alfa-beauty-sub000/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

type fixture struct {
	ms       *memstore.Store
	svc      *Service
	orders   *orders.Service
	toner    domain.Product // 20000, batches A1 (older) and A2
	cream    domain.Product // 80000, no batches
	customer domain.Customer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ms := memstore.New()
	ms.PutTier(domain.LoyaltyTier{Name: "Member", Slug: "member", DiscountPercent: decimal.Zero, PointMultiplier: decimal.NewFromInt(1)})
	toner := ms.PutProduct(domain.Product{SKU: "TONER", Name: "Toner", BasePrice: 20000, Stock: 10, MinOrderQty: 1, OrderIncrement: 1, IsActive: true})
	ms.PutBatch(domain.StockBatch{ID: "A1", ProductID: toner.ID, BatchNumber: "A1", QuantityAvailable: 5, ExpiresAt: ptr(now.AddDate(0, 3, 0)), ReceivedAt: now.AddDate(0, -2, 0), IsActive: true})
	ms.PutBatch(domain.StockBatch{ID: "A2", ProductID: toner.ID, BatchNumber: "A2", QuantityAvailable: 5, ExpiresAt: ptr(now.AddDate(1, 0, 0)), ReceivedAt: now.AddDate(0, -1, 0), IsActive: true})
	cream := ms.PutProduct(domain.Product{SKU: "CREAM", Name: "Cream", BasePrice: 80000, Stock: 10, MinOrderQty: 1, OrderIncrement: 1, IsActive: true})
	cust := ms.PutCustomer(domain.Customer{Name: "Salon Rina"})

	clock := func() time.Time { return now }
	alloc := &inventory.Allocator{DB: ms, Now: clock}
	log := &audit.Log{Sink: ms}
	return &fixture{
		ms: ms,
		svc: &Service{
			DB: ms, Inventory: alloc, Audit: log, Now: clock,
			LoyaltyReversal: true,
		},
		orders: &orders.Service{
			DB: ms, Inventory: alloc, Audit: log, Now: clock,
			Pricing: &pricing.Resolver{DB: ms, Now: clock},
		},
		toner:    toner,
		cream:    cream,
		customer: cust,
	}
}

// paidOrder checks out the given cart lines and marks the order paid.
func (f *fixture) paidOrder(t *testing.T, items ...domain.CartItem) domain.Order {
	t.Helper()
	ctx := context.Background()
	cart := f.ms.PutCart(domain.Cart{UserID: ptr(f.customer.ID), Items: items})
	res, err := f.orders.CreateFromCart(ctx, orders.CreateInput{CartID: cart.ID, Customer: orders.CustomerDetails{Name: "Rina"}})
	require.NoError(t, err)
	_, err = f.orders.CompleteOrder(ctx, res.Order.ID, orders.CompleteInput{})
	require.NoError(t, err)
	o, err := f.ms.Order(ctx, res.Order.ID)
	require.NoError(t, err)
	return o
}

func itemFor(o domain.Order, productID string) domain.OrderItem {
	for _, it := range o.Items {
		if it.ProductID == productID {
			return it
		}
	}
	return domain.OrderItem{}
}

func TestRequestSplitsAcrossAllocations(t *testing.T) {
	f := newFixture(t)
	o := f.paidOrder(t, domain.CartItem{ProductID: f.toner.ID, Quantity: 7})
	oi := itemFor(o, f.toner.ID)
	require.Len(t, oi.BatchAllocations, 2)

	ret, err := f.svc.Request(context.Background(), RequestInput{
		OrderID: o.ID,
		Reason:  "damaged",
		Items:   []RequestItem{{OrderItemID: oi.ID, Quantity: 3, Restock: true}},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.ReturnRequested, ret.Status)
	assert.Equal(t, domain.ReturnRefund, ret.Type)
	assert.Equal(t, f.customer.ID, *ret.UserID)
	require.Len(t, ret.Items, 2)
	assert.Equal(t, "A2", ret.Items[0].BatchNumber, "newest allocation first")
	assert.Equal(t, 2, ret.Items[0].QuantityRequested)
	assert.Equal(t, "A1", ret.Items[1].BatchNumber)
	assert.Equal(t, 1, ret.Items[1].QuantityRequested)
	assert.Equal(t, int64(3*20000), ret.RefundAmount)
}

func TestRequestValidation(t *testing.T) {
	f := newFixture(t)
	o := f.paidOrder(t, domain.CartItem{ProductID: f.toner.ID, Quantity: 2})
	oi := itemFor(o, f.toner.ID)

	cart := f.ms.PutCart(domain.Cart{Items: []domain.CartItem{{ProductID: f.cream.ID, Quantity: 1}}})
	unpaid, err := f.orders.CreateFromCart(context.Background(), orders.CreateInput{CartID: cart.ID, Customer: orders.CustomerDetails{Name: "Guest"}})
	require.NoError(t, err)

	tests := []struct {
		name string
		in   RequestInput
		want error
	}{
		{"no items", RequestInput{OrderID: o.ID}, domain.ErrValidation},
		{"zero quantity", RequestInput{OrderID: o.ID, Items: []RequestItem{{OrderItemID: oi.ID}}}, domain.ErrValidation},
		{"unknown type", RequestInput{OrderID: o.ID, Type: "gift", Items: []RequestItem{{OrderItemID: oi.ID, Quantity: 1}}}, domain.ErrValidation},
		{"foreign item", RequestInput{OrderID: o.ID, Items: []RequestItem{{OrderItemID: "x", Quantity: 1}}}, domain.ErrValidation},
		{"more than ordered", RequestInput{OrderID: o.ID, Items: []RequestItem{{OrderItemID: oi.ID, Quantity: 2}, {OrderItemID: oi.ID, Quantity: 1}}}, domain.ErrValidation},
		{"unpaid order", RequestInput{OrderID: unpaid.Order.ID, Items: []RequestItem{{OrderItemID: unpaid.Order.Items[0].ID, Quantity: 1}}}, domain.ErrValidation},
		{"unknown order", RequestInput{OrderID: "missing", Items: []RequestItem{{OrderItemID: oi.ID, Quantity: 1}}}, domain.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Request(context.Background(), tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.paidOrder(t, domain.CartItem{ProductID: f.toner.ID, Quantity: 4})
	oi := itemFor(o, f.toner.ID)

	ret, err := f.svc.Request(ctx, RequestInput{OrderID: o.ID, Items: []RequestItem{{OrderItemID: oi.ID, Quantity: 4}}})
	require.NoError(t, err)
	require.Len(t, ret.Items, 1)

	t.Run("approve narrows quantity", func(t *testing.T) {
		got, err := f.svc.Approve(ctx, ret.ID, ApproveInput{Quantities: map[string]int{ret.Items[0].ID: 3}})
		require.NoError(t, err)
		assert.Equal(t, domain.ReturnApproved, got.Status)
		assert.Equal(t, 3, got.Items[0].QuantityApproved)
		assert.Equal(t, int64(60000), got.RefundAmount)
		require.NotNil(t, got.ApprovedAt)
	})

	t.Run("approve again is a no-op", func(t *testing.T) {
		got, err := f.svc.Approve(ctx, ret.ID, ApproveInput{})
		require.NoError(t, err)
		assert.Equal(t, 3, got.Items[0].QuantityApproved)
	})

	t.Run("receive", func(t *testing.T) {
		got, err := f.svc.MarkReceived(ctx, ret.ID, "warehouse")
		require.NoError(t, err)
		assert.Equal(t, domain.ReturnReceived, got.Status)
		require.NotNil(t, got.ReceivedAt)
	})

	t.Run("cannot go back to approved", func(t *testing.T) {
		_, err := f.svc.Approve(ctx, ret.ID, ApproveInput{})
		assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)
	})

	t.Run("reject then approve fails", func(t *testing.T) {
		got, err := f.svc.Reject(ctx, ret.ID, "not our product", "admin")
		require.NoError(t, err)
		assert.Equal(t, domain.ReturnRejected, got.Status)
		assert.Equal(t, "not our product", got.RejectionReason)

		_, err = f.svc.Approve(ctx, ret.ID, ApproveInput{})
		assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)
		_, err = f.svc.CompleteReturn(ctx, ret.ID, "")
		assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)
	})

	t.Run("over-approval rejected", func(t *testing.T) {
		other, err := f.svc.Request(ctx, RequestInput{OrderID: o.ID, Items: []RequestItem{{OrderItemID: oi.ID, Quantity: 1}}})
		require.NoError(t, err)
		_, err = f.svc.Approve(ctx, other.ID, ApproveInput{Quantities: map[string]int{other.Items[0].ID: 2}})
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	var actions []string
	for _, ev := range f.ms.AuditEvents() {
		actions = append(actions, ev.Action)
	}
	assert.Subset(t, actions, []string{"return.requested", "return.approve", "return.receive", "return.reject"})
}

func TestCompleteReturnReversesLoyalty(t *testing.T) {
	f := newFixture(t)
	f.svc.SpendReversal = true
	ctx := context.Background()

	o := f.paidOrder(t,
		domain.CartItem{ProductID: f.toner.ID, Quantity: 1},
		domain.CartItem{ProductID: f.cream.ID, Quantity: 1},
	)
	require.Equal(t, int64(100000), o.TotalAmount)
	earned := f.ms.PointTransactions(f.customer.ID)
	require.Len(t, earned, 1)
	require.Equal(t, int64(10), earned[0].Amount)

	oi := itemFor(o, f.toner.ID)
	ret, err := f.svc.Request(ctx, RequestInput{OrderID: o.ID, Items: []RequestItem{{OrderItemID: oi.ID, Quantity: 1, Restock: true}}})
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, ret.ID, ApproveInput{})
	require.NoError(t, err)
	_, err = f.svc.MarkReceived(ctx, ret.ID, "warehouse")
	require.NoError(t, err)
	stockBefore := f.ms.Product(f.toner.ID).Stock

	res, err := f.svc.CompleteReturn(ctx, ret.ID, "admin")
	require.NoError(t, err)
	assert.False(t, res.AlreadyCompleted)
	assert.True(t, res.Restocked)
	assert.Equal(t, domain.ReturnCompleted, res.Return.Status)
	assert.Equal(t, int64(20000), res.Return.RefundAmount)
	assert.Equal(t, "proportional", res.Reversal.Basis)
	assert.Equal(t, int64(2), res.Return.PointsReversed, "floor(10 x 20000/100000)")
	assert.Equal(t, int64(20000), res.Return.SpendReversed)
	require.NotNil(t, res.Return.RestockedAt)
	require.NotNil(t, res.Return.LoyaltyReversedAt)

	assert.Equal(t, stockBefore+1, f.ms.Product(f.toner.ID).Stock)
	assert.Equal(t, 5, f.ms.Batch("A1").QuantityAvailable)

	again, err := f.svc.CompleteReturn(ctx, ret.ID, "admin")
	require.NoError(t, err)
	assert.True(t, again.AlreadyCompleted)
	assert.Equal(t, stockBefore+1, f.ms.Product(f.toner.ID).Stock, "restocked once")

	var reversals []domain.PointTransaction
	for _, pt := range f.ms.PointTransactions(f.customer.ID) {
		if pt.Type == domain.PointReverse {
			reversals = append(reversals, pt)
		}
	}
	require.Len(t, reversals, 1)
	assert.Equal(t, int64(-2), reversals[0].Amount)
	assert.Equal(t, domain.ReversePointsKey(ret.ID, o.ID, f.customer.ID), *reversals[0].IdempotencyKey)

	cust, err := f.ms.Customer(ctx, f.customer.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(8), cust.Points)
	assert.Equal(t, int64(80000), cust.TotalSpend)
	require.NotNil(t, cust.TierID, "tier is not re-evaluated on reversal")
}

func TestCompleteReturnWithoutRestockOrReversal(t *testing.T) {
	f := newFixture(t)
	f.svc.LoyaltyReversal = false
	ctx := context.Background()

	o := f.paidOrder(t, domain.CartItem{ProductID: f.cream.ID, Quantity: 2})
	oi := itemFor(o, f.cream.ID)
	ret, err := f.svc.Request(ctx, RequestInput{OrderID: o.ID, Type: domain.ReturnExchange, Items: []RequestItem{{OrderItemID: oi.ID, Quantity: 1}}})
	require.NoError(t, err)
	require.Len(t, ret.Items, 1)
	assert.Nil(t, ret.Items[0].BatchInventoryID, "no batch behind the allocation")

	_, err = f.svc.Approve(ctx, ret.ID, ApproveInput{})
	require.NoError(t, err)
	stock := f.ms.Product(f.cream.ID).Stock

	res, err := f.svc.CompleteReturn(ctx, ret.ID, "")
	require.NoError(t, err)
	assert.Equal(t, stock, f.ms.Product(f.cream.ID).Stock)
	assert.Zero(t, res.Return.PointsReversed)
	assert.Nil(t, res.Return.LoyaltyReversedAt)
	assert.NotNil(t, res.Return.RestockedAt, "the restock pass ran, with nothing to restock")
}

func TestCompleteReturnRequiresApproval(t *testing.T) {
	f := newFixture(t)
	o := f.paidOrder(t, domain.CartItem{ProductID: f.toner.ID, Quantity: 1})
	ret, err := f.svc.Request(context.Background(), RequestInput{OrderID: o.ID, Items: []RequestItem{{OrderItemID: o.Items[0].ID, Quantity: 1}}})
	require.NoError(t, err)

	_, err = f.svc.CompleteReturn(context.Background(), ret.ID, "")
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)
}

func TestRestockReturnMustBeReceived(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.paidOrder(t, domain.CartItem{ProductID: f.toner.ID, Quantity: 2})
	oi := itemFor(o, f.toner.ID)

	tests := []struct {
		name    string
		restock bool
		receive bool
		wantErr error
	}{
		{name: "restock from approved", restock: true, wantErr: domain.ErrInvalidStateTransition},
		{name: "restock from received", restock: true, receive: true},
		{name: "no restock from approved"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ret, err := f.svc.Request(ctx, RequestInput{OrderID: o.ID, Items: []RequestItem{{OrderItemID: oi.ID, Quantity: 1, Restock: tt.restock}}})
			require.NoError(t, err)
			_, err = f.svc.Approve(ctx, ret.ID, ApproveInput{})
			require.NoError(t, err)
			if tt.receive {
				_, err = f.svc.MarkReceived(ctx, ret.ID, "warehouse")
				require.NoError(t, err)
			}
			stock := f.ms.Product(f.toner.ID).Stock

			res, err := f.svc.CompleteReturn(ctx, ret.ID, "")
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, stock, f.ms.Product(f.toner.ID).Stock)
				// free the quantity for the next case
				_, err = f.svc.Reject(ctx, ret.ID, "not received", "")
				require.NoError(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, domain.ReturnCompleted, res.Return.Status)
			if tt.restock {
				assert.Equal(t, stock+1, f.ms.Product(f.toner.ID).Stock)
			} else {
				assert.Equal(t, stock, f.ms.Product(f.toner.ID).Stock)
			}
		})
	}
}

func TestRepeatedReturnsAreNetted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.paidOrder(t, domain.CartItem{ProductID: f.toner.ID, Quantity: 7})
	oi := itemFor(o, f.toner.ID)
	require.Equal(t, 3, f.ms.Product(f.toner.ID).Stock)

	fullReturn := func() (domain.Return, error) {
		ret, err := f.svc.Request(ctx, RequestInput{OrderID: o.ID, Items: []RequestItem{{OrderItemID: oi.ID, Quantity: 7, Restock: true}}})
		if err != nil {
			return ret, err
		}
		if _, err := f.svc.Approve(ctx, ret.ID, ApproveInput{}); err != nil {
			return ret, err
		}
		if _, err := f.svc.MarkReceived(ctx, ret.ID, ""); err != nil {
			return ret, err
		}
		res, err := f.svc.CompleteReturn(ctx, ret.ID, "")
		return res.Return, err
	}

	first, err := fullReturn()
	require.NoError(t, err)
	assert.Equal(t, int64(14), first.PointsReversed)

	_, err = fullReturn()
	require.ErrorIs(t, err, domain.ErrValidation)
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "items.quantity", ve.Field)

	assert.Equal(t, 10, f.ms.Product(f.toner.ID).Stock, "restocked once")
	cust, err := f.ms.Customer(ctx, f.customer.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), cust.Points)

	tests := []struct {
		name   string
		status domain.ReturnStatus
		items  []domain.ReturnItem
		want   int
	}{
		{name: "requested claims requested", status: domain.ReturnRequested, items: []domain.ReturnItem{{OrderItemID: "oi", QuantityRequested: 3}}, want: 3},
		{name: "approved claims approved", status: domain.ReturnApproved, items: []domain.ReturnItem{{OrderItemID: "oi", QuantityRequested: 3, QuantityApproved: 1}}, want: 1},
		{name: "rejected claims nothing", status: domain.ReturnRejected, items: []domain.ReturnItem{{OrderItemID: "oi", QuantityRequested: 3}}, want: 0},
		{name: "split items add up", status: domain.ReturnRequested, items: []domain.ReturnItem{{OrderItemID: "oi", QuantityRequested: 2}, {OrderItemID: "oi", QuantityRequested: 1}}, want: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := domain.Return{Status: tt.status, Items: tt.items}
			if tt.status == domain.ReturnApproved {
				r.ApprovedAt = ptr(now)
			}
			assert.Equal(t, tt.want, returnedQuantities([]domain.Return{r})["oi"])
		})
	}
}

func TestPartialReturnsNettedAcrossRequests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.paidOrder(t, domain.CartItem{ProductID: f.toner.ID, Quantity: 4})
	oi := itemFor(o, f.toner.ID)

	first, err := f.svc.Request(ctx, RequestInput{OrderID: o.ID, Items: []RequestItem{{OrderItemID: oi.ID, Quantity: 3}}})
	require.NoError(t, err)
	_, err = f.svc.Request(ctx, RequestInput{OrderID: o.ID, Items: []RequestItem{{OrderItemID: oi.ID, Quantity: 2}}})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.svc.Approve(ctx, first.ID, ApproveInput{Quantities: map[string]int{first.Items[0].ID: 2}})
	require.NoError(t, err)
	_, err = f.svc.Request(ctx, RequestInput{OrderID: o.ID, Items: []RequestItem{{OrderItemID: oi.ID, Quantity: 2}}})
	require.NoError(t, err, "approval narrowed the first return to 2")
}

func TestPointReversalCappedAtEarn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cust := f.ms.PutCustomer(domain.Customer{Name: "Credit Salon", Points: 10, TotalSpend: 100000})

	// two units at 100000 settled for 100000 after a credit note
	var orderID, itemID string
	require.NoError(t, f.ms.InTx(ctx, func(tx store.Tx) error {
		o := domain.Order{
			OrderNumber: "ORD-CREDIT", UserID: ptr(cust.ID), Channel: domain.ChannelStandard,
			Status: domain.OrderProcessing, PaymentStatus: domain.PaymentPaid,
			Subtotal: 200000, TotalAmount: 100000,
		}
		if err := tx.InsertOrder(ctx, &o); err != nil {
			return err
		}
		it := domain.OrderItem{OrderID: o.ID, ProductID: f.cream.ID, Quantity: 2, UnitPrice: 100000, OriginalPrice: 100000, LineTotal: 200000}
		if err := tx.InsertOrderItem(ctx, &it); err != nil {
			return err
		}
		key := domain.EarnPointsKey(o.ID)
		if _, err := tx.InsertPointTransaction(ctx, &domain.PointTransaction{
			UserID: cust.ID, OrderID: ptr(o.ID), Type: domain.PointEarn, Amount: 10, BalanceAfter: 10,
			IdempotencyKey: &key, CreatedAt: now,
		}); err != nil {
			return err
		}
		orderID, itemID = o.ID, it.ID
		return nil
	}))

	var reversed []int64
	for i := 0; i < 2; i++ {
		ret, err := f.svc.Request(ctx, RequestInput{OrderID: orderID, Items: []RequestItem{{OrderItemID: itemID, Quantity: 1}}})
		require.NoError(t, err)
		_, err = f.svc.Approve(ctx, ret.ID, ApproveInput{})
		require.NoError(t, err)
		res, err := f.svc.CompleteReturn(ctx, ret.ID, "")
		require.NoError(t, err)
		reversed = append(reversed, res.Return.PointsReversed)
	}
	assert.Equal(t, []int64{10, 0}, reversed)

	got, err := f.ms.Customer(ctx, cust.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Points)
}

func TestCompleteReturnMultiplierFallback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	gold := f.ms.PutTier(domain.LoyaltyTier{Name: "Gold", Slug: "gold", PointMultiplier: decimal.NewFromInt(2), MinSpend: 10_000_000})
	cust := f.ms.PutCustomer(domain.Customer{Name: "Legacy Salon", TierID: ptr(gold.ID), Points: 100, TotalSpend: 500000})

	// a paid order from before points were recorded per order
	var orderID, itemID string
	require.NoError(t, f.ms.InTx(ctx, func(tx store.Tx) error {
		o := domain.Order{
			OrderNumber: "ORD-LEGACY", UserID: ptr(cust.ID), Channel: domain.ChannelStandard,
			Status: domain.OrderProcessing, PaymentStatus: domain.PaymentPaid,
			Subtotal: 200000, TotalAmount: 200000,
		}
		if err := tx.InsertOrder(ctx, &o); err != nil {
			return err
		}
		it := domain.OrderItem{OrderID: o.ID, ProductID: f.cream.ID, Quantity: 4, UnitPrice: 50000, OriginalPrice: 80000, LineTotal: 200000}
		if err := tx.InsertOrderItem(ctx, &it); err != nil {
			return err
		}
		orderID, itemID = o.ID, it.ID
		return nil
	}))

	ret, err := f.svc.Request(ctx, RequestInput{OrderID: orderID, Items: []RequestItem{{OrderItemID: itemID, Quantity: 1}}})
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, ret.ID, ApproveInput{})
	require.NoError(t, err)

	res, err := f.svc.CompleteReturn(ctx, ret.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "multiplier", res.Reversal.Basis)
	assert.Equal(t, int64(10), res.Return.PointsReversed, "floor(50000/10000) x2")

	got, err := f.ms.Customer(ctx, cust.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(90), got.Points)
	assert.Equal(t, int64(500000), got.TotalSpend, "spend reversal disabled")
}

func TestProportionalPoints(t *testing.T) {
	tests := []struct {
		earned, refund, total, want int64
	}{
		{10, 20000, 100000, 2},
		{10, 100000, 100000, 10},
		{10, 150000, 100000, 10},
		{3, 100, 300, 1},
		{7, 1, 100000, 0},
		{0, 5000, 100000, 0},
		{10, 5000, 0, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ProportionalPoints(tt.earned, tt.refund, tt.total), "%+v", tt)
	}
}
