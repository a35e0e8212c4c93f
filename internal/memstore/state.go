package memstore

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/Farid-Ze/alfa-beauty-sub000/internal/domain"
	"github.com/Farid-Ze/alfa-beauty-sub000/internal/store"
	"github.com/google/uuid"
)

type state struct {
	products  map[string]domain.Product
	batches   map[string]domain.StockBatch
	customers map[string]domain.Customer
	tiers     map[string]domain.LoyaltyTier
	rules     []domain.PriceRule
	volume    map[string][]domain.VolumeTier
	carts     map[string]domain.Cart
	orders    map[string]domain.Order
	orderKeys map[string]string
	points    []domain.PointTransaction
	returns   map[string]domain.Return
	audits    []domain.AuditEvent
	auditKeys map[string]bool
}

func newState() *state {
	return &state{
		products:  map[string]domain.Product{},
		batches:   map[string]domain.StockBatch{},
		customers: map[string]domain.Customer{},
		tiers:     map[string]domain.LoyaltyTier{},
		volume:    map[string][]domain.VolumeTier{},
		carts:     map[string]domain.Cart{},
		orders:    map[string]domain.Order{},
		orderKeys: map[string]string{},
		returns:   map[string]domain.Return{},
		auditKeys: map[string]bool{},
	}
}

func (st *state) clone() *state {
	c := newState()
	for k, v := range st.products {
		c.products[k] = v
	}
	for k, v := range st.batches {
		c.batches[k] = v
	}
	for k, v := range st.customers {
		c.customers[k] = v
	}
	for k, v := range st.tiers {
		c.tiers[k] = v
	}
	c.rules = slices.Clone(st.rules)
	for k, v := range st.volume {
		c.volume[k] = slices.Clone(v)
	}
	for k, v := range st.carts {
		v.Items = slices.Clone(v.Items)
		c.carts[k] = v
	}
	for k, v := range st.orders {
		c.orders[k] = cloneOrder(v)
	}
	for k, v := range st.orderKeys {
		c.orderKeys[k] = v
	}
	c.points = slices.Clone(st.points)
	for k, v := range st.returns {
		v.Items = slices.Clone(v.Items)
		c.returns[k] = v
	}
	c.audits = slices.Clone(st.audits)
	for k, v := range st.auditKeys {
		c.auditKeys[k] = v
	}
	return c
}

func cloneOrder(o domain.Order) domain.Order {
	items := make([]domain.OrderItem, len(o.Items))
	for i, it := range o.Items {
		it.BatchAllocations = slices.Clone(it.BatchAllocations)
		items[i] = it
	}
	o.Items = items
	return o
}

// ---- reads ----

func (st *state) productsByIDs(ids []string) map[string]domain.Product {
	out := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := st.products[id]; ok {
			out[id] = p
		}
	}
	return out
}

func (st *state) customer(id string) (domain.Customer, error) {
	c, ok := st.customers[id]
	if !ok {
		return domain.Customer{}, store.ErrNotFound
	}
	return c, nil
}

func (st *state) loyaltyTiers() []domain.LoyaltyTier {
	out := make([]domain.LoyaltyTier, 0, len(st.tiers))
	for _, t := range st.tiers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MinSpend < out[j].MinSpend })
	return out
}

func (st *state) customerPriceRules(userID string, f store.RuleFilter, unsupported bool) ([]domain.PriceRule, error) {
	if unsupported && (len(f.BrandIDs) > 0 || len(f.CategoryIDs) > 0 || f.IncludeGlobal) {
		return nil, store.ErrUnsupported
	}
	var out []domain.PriceRule
	for _, r := range st.rules {
		if r.UserID != userID || !r.IsActive {
			continue
		}
		switch r.Scope() {
		case domain.ScopeProduct:
			if slices.Contains(f.ProductIDs, *r.ProductID) {
				out = append(out, r)
			}
		case domain.ScopeBrand:
			if slices.Contains(f.BrandIDs, *r.BrandID) {
				out = append(out, r)
			}
		case domain.ScopeCategory:
			if slices.Contains(f.CategoryIDs, *r.CategoryID) {
				out = append(out, r)
			}
		default:
			if f.IncludeGlobal {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

func (st *state) volumeTiers(productIDs []string) map[string][]domain.VolumeTier {
	out := map[string][]domain.VolumeTier{}
	for _, id := range productIDs {
		if v, ok := st.volume[id]; ok {
			out[id] = slices.Clone(v)
		}
	}
	return out
}

func (st *state) stockLevel(productID string) (store.StockLevel, error) {
	p, ok := st.products[productID]
	if !ok {
		return store.StockLevel{}, store.ErrNotFound
	}
	lvl := store.StockLevel{ProductID: p.ID, Stock: p.Stock}
	for _, b := range st.batches {
		if b.ProductID != productID {
			continue
		}
		lvl.BatchCount++
		if b.IsActive {
			lvl.BatchTotal += b.QuantityAvailable
		}
	}
	return lvl, nil
}

func (st *state) cartItems(cartID string) ([]domain.CartItem, error) {
	c, ok := st.carts[cartID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return slices.Clone(c.Items), nil
}

func (st *state) order(id string) (domain.Order, error) {
	o, ok := st.orders[id]
	if !ok {
		return domain.Order{}, store.ErrNotFound
	}
	return cloneOrder(o), nil
}

func (st *state) orderByKey(key string) (domain.Order, error) {
	id, ok := st.orderKeys[key]
	if !ok {
		return domain.Order{}, store.ErrNotFound
	}
	return st.order(id)
}

func (st *state) ret(id string) (domain.Return, error) {
	r, ok := st.returns[id]
	if !ok {
		return domain.Return{}, store.ErrNotFound
	}
	r.Items = slices.Clone(r.Items)
	return r, nil
}

func (st *state) pointByKey(key string) (domain.PointTransaction, error) {
	for _, pt := range st.points {
		if pt.IdempotencyKey != nil && *pt.IdempotencyKey == key {
			return pt, nil
		}
	}
	return domain.PointTransaction{}, store.ErrNotFound
}

// ---- transaction ----

type memTx struct {
	state             *state
	unsupportedScopes bool
	// aborted mirrors Postgres: after a failed statement every later read
	// fails until the transaction or savepoint is rolled back.
	aborted bool
}

var _ store.Tx = (*memTx)(nil)

func (t *memTx) Savepoint(_ context.Context, fn func(tx store.Tx) error) error {
	if t.aborted {
		return store.ErrTxAborted
	}
	snapshot := t.state.clone()
	sp := &memTx{state: t.state, unsupportedScopes: t.unsupportedScopes}
	if err := fn(sp); err != nil {
		*t.state = *snapshot
		return err
	}
	if sp.aborted {
		*t.state = *snapshot
		return store.ErrTxAborted
	}
	return nil
}

func (t *memTx) ProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	if t.aborted {
		return nil, store.ErrTxAborted
	}
	return t.state.productsByIDs(ids), nil
}

func (t *memTx) Customer(_ context.Context, id string) (domain.Customer, error) {
	if t.aborted {
		return domain.Customer{}, store.ErrTxAborted
	}
	return t.state.customer(id)
}

func (t *memTx) LoyaltyTiers(context.Context) ([]domain.LoyaltyTier, error) {
	if t.aborted {
		return nil, store.ErrTxAborted
	}
	return t.state.loyaltyTiers(), nil
}

func (t *memTx) CustomerPriceRules(_ context.Context, userID string, f store.RuleFilter) ([]domain.PriceRule, error) {
	if t.aborted {
		return nil, store.ErrTxAborted
	}
	rules, err := t.state.customerPriceRules(userID, f, t.unsupportedScopes)
	if err != nil {
		t.aborted = true
	}
	return rules, err
}

func (t *memTx) VolumeTiers(_ context.Context, productIDs []string) (map[string][]domain.VolumeTier, error) {
	if t.aborted {
		return nil, store.ErrTxAborted
	}
	return t.state.volumeTiers(productIDs), nil
}

func (t *memTx) StockLevel(_ context.Context, productID string) (store.StockLevel, error) {
	return t.state.stockLevel(productID)
}

func (t *memTx) CartItems(_ context.Context, cartID string) ([]domain.CartItem, error) {
	return t.state.cartItems(cartID)
}

func (t *memTx) Order(_ context.Context, id string) (domain.Order, error) {
	return t.state.order(id)
}

func (t *memTx) OrderByIdempotencyKey(_ context.Context, key string) (domain.Order, error) {
	return t.state.orderByKey(key)
}

func (t *memTx) Return(_ context.Context, id string) (domain.Return, error) {
	return t.state.ret(id)
}

func (t *memTx) PointTransactionByKey(_ context.Context, key string) (domain.PointTransaction, error) {
	return t.state.pointByKey(key)
}

func (t *memTx) LockProduct(_ context.Context, id string) (domain.Product, error) {
	p, ok := t.state.products[id]
	if !ok {
		return domain.Product{}, store.ErrNotFound
	}
	return p, nil
}

func (t *memTx) AdjustProductStock(_ context.Context, productID string, delta int) error {
	p, ok := t.state.products[productID]
	if !ok {
		return store.ErrNotFound
	}
	p.Stock += delta
	p.UpdatedAt = time.Now().UTC()
	t.state.products[productID] = p
	return nil
}

func (t *memTx) SetProductStock(_ context.Context, productID string, stock int) error {
	p, ok := t.state.products[productID]
	if !ok {
		return store.ErrNotFound
	}
	p.Stock = stock
	p.UpdatedAt = time.Now().UTC()
	t.state.products[productID] = p
	return nil
}

func (t *memTx) LockStockLevels(_ context.Context, productID string) ([]store.StockLevel, error) {
	if productID != "" {
		lvl, err := t.state.stockLevel(productID)
		if err != nil {
			return nil, err
		}
		return []store.StockLevel{lvl}, nil
	}
	ids := make([]string, 0, len(t.state.products))
	for id := range t.state.products {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]store.StockLevel, 0, len(ids))
	for _, id := range ids {
		lvl, _ := t.state.stockLevel(id)
		out = append(out, lvl)
	}
	return out, nil
}

func (t *memTx) InsertBatch(_ context.Context, b *domain.StockBatch) error {
	if _, ok := t.state.products[b.ProductID]; !ok {
		return store.ErrNotFound
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	b.CreatedAt, b.UpdatedAt = now, now
	t.state.batches[b.ID] = *b
	return nil
}

func (t *memTx) LockActiveBatches(_ context.Context, productID string) ([]domain.StockBatch, error) {
	var out []domain.StockBatch
	for _, b := range t.state.batches {
		if b.ProductID == productID && b.IsActive && b.QuantityAvailable > 0 {
			out = append(out, b)
		}
	}
	// map iteration is random; ID first keeps equal FEFO keys deterministic
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	domain.SortFEFO(out)
	return out, nil
}

func (t *memTx) LockBatches(_ context.Context, ids []string) (map[string]domain.StockBatch, error) {
	out := make(map[string]domain.StockBatch, len(ids))
	for _, id := range ids {
		if b, ok := t.state.batches[id]; ok {
			out[id] = b
		}
	}
	return out, nil
}

func (t *memTx) SaveBatch(_ context.Context, b domain.StockBatch) error {
	if _, ok := t.state.batches[b.ID]; !ok {
		return store.ErrNotFound
	}
	b.UpdatedAt = time.Now().UTC()
	t.state.batches[b.ID] = b
	return nil
}

func (t *memTx) FlagNearExpiry(_ context.Context, cutoff time.Time) (int, error) {
	n := 0
	for id, b := range t.state.batches {
		if !b.IsActive {
			continue
		}
		near := b.ExpiresAt != nil && !b.ExpiresAt.After(cutoff)
		if near != b.IsNearExpiry {
			b.IsNearExpiry = near
			t.state.batches[id] = b
			n++
		}
	}
	return n, nil
}

func (t *memTx) LockCart(_ context.Context, cartID string) (domain.Cart, error) {
	c, ok := t.state.carts[cartID]
	if !ok {
		return domain.Cart{}, store.ErrNotFound
	}
	c.Items = slices.Clone(c.Items)
	return c, nil
}

func (t *memTx) UpdateCartItemQuantity(_ context.Context, itemID string, qty int) error {
	for id, c := range t.state.carts {
		for i := range c.Items {
			if c.Items[i].ID == itemID {
				c.Items[i].Quantity = qty
				t.state.carts[id] = c
				return nil
			}
		}
	}
	return store.ErrNotFound
}

func (t *memTx) ClearCart(_ context.Context, cartID string) error {
	c, ok := t.state.carts[cartID]
	if !ok {
		return store.ErrNotFound
	}
	c.Items = nil
	t.state.carts[cartID] = c
	return nil
}

func (t *memTx) OrderNumberExists(_ context.Context, number string) (bool, error) {
	for _, o := range t.state.orders {
		if o.OrderNumber == number {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) InsertOrder(_ context.Context, o *domain.Order) error {
	if o.IdempotencyKey != nil {
		if _, ok := t.state.orderKeys[*o.IdempotencyKey]; ok {
			return store.ErrDuplicate
		}
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	o.CreatedAt, o.UpdatedAt = now, now
	saved := cloneOrder(*o)
	saved.Items = nil
	t.state.orders[o.ID] = saved
	if o.IdempotencyKey != nil {
		t.state.orderKeys[*o.IdempotencyKey] = o.ID
	}
	return nil
}

func (t *memTx) InsertOrderItem(_ context.Context, it *domain.OrderItem) error {
	o, ok := t.state.orders[it.OrderID]
	if !ok {
		return store.ErrNotFound
	}
	if it.ID == "" {
		it.ID = uuid.NewString()
	}
	saved := *it
	saved.BatchAllocations = slices.Clone(it.BatchAllocations)
	o.Items = append(o.Items, saved)
	t.state.orders[o.ID] = o
	return nil
}

func (t *memTx) LockOrder(_ context.Context, id string) (domain.Order, error) {
	return t.state.order(id)
}

func (t *memTx) UpdateOrderPayment(_ context.Context, o domain.Order) error {
	cur, ok := t.state.orders[o.ID]
	if !ok {
		return store.ErrNotFound
	}
	cur.Status = o.Status
	cur.PaymentStatus = o.PaymentStatus
	cur.PaymentMethod = o.PaymentMethod
	cur.PaidAt = o.PaidAt
	cur.UpdatedAt = time.Now().UTC()
	t.state.orders[o.ID] = cur
	return nil
}

func (t *memTx) LockCustomer(_ context.Context, id string) (domain.Customer, error) {
	return t.state.customer(id)
}

func (t *memTx) UpdateCustomerLoyalty(_ context.Context, c domain.Customer) error {
	cur, ok := t.state.customers[c.ID]
	if !ok {
		return store.ErrNotFound
	}
	cur.Points = c.Points
	cur.TotalSpend = c.TotalSpend
	cur.TierID = c.TierID
	cur.UpdatedAt = time.Now().UTC()
	t.state.customers[c.ID] = cur
	return nil
}

func (t *memTx) InsertPointTransaction(_ context.Context, pt *domain.PointTransaction) (bool, error) {
	if pt.IdempotencyKey != nil {
		if _, err := t.state.pointByKey(*pt.IdempotencyKey); err == nil {
			return false, nil
		}
	}
	if pt.ID == "" {
		pt.ID = uuid.NewString()
	}
	if pt.CreatedAt.IsZero() {
		pt.CreatedAt = time.Now().UTC()
	}
	t.state.points = append(t.state.points, *pt)
	return true, nil
}

func (t *memTx) EarnTransactionsForOrder(_ context.Context, orderID string) ([]domain.PointTransaction, error) {
	var out []domain.PointTransaction
	for _, pt := range t.state.points {
		if pt.Type == domain.PointEarn && pt.OrderID != nil && *pt.OrderID == orderID {
			out = append(out, pt)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (t *memTx) InsertReturn(_ context.Context, r *domain.Return) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	for i := range r.Items {
		if r.Items[i].ID == "" {
			r.Items[i].ID = uuid.NewString()
		}
		r.Items[i].ReturnID = r.ID
	}
	r.UpdatedAt = time.Now().UTC()
	saved := *r
	saved.Items = slices.Clone(r.Items)
	t.state.returns[r.ID] = saved
	return nil
}

func (t *memTx) LockReturn(_ context.Context, id string) (domain.Return, error) {
	return t.state.ret(id)
}

func (t *memTx) ReturnsForOrder(_ context.Context, orderID string) ([]domain.Return, error) {
	var out []domain.Return
	for id, r := range t.state.returns {
		if r.OrderID == orderID {
			cp, _ := t.state.ret(id)
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].RequestedAt.Before(out[j].RequestedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *memTx) UpdateReturn(_ context.Context, r domain.Return) error {
	if _, ok := t.state.returns[r.ID]; !ok {
		return store.ErrNotFound
	}
	r.UpdatedAt = time.Now().UTC()
	r.Items = slices.Clone(r.Items)
	t.state.returns[r.ID] = r
	return nil
}
