package memstore

import (
	"slices"
	"sort"
	"time"

	"github.com/Farid-Ze/alfa-beauty-sub000/internal/domain"
	"github.com/google/uuid"
)

// Seeding and inspection helpers used by dev mode and tests.

func (s *Store) PutProduct(p domain.Product) domain.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	s.state.products[p.ID] = p
	return p
}

func (s *Store) PutBatch(b domain.StockBatch) domain.StockBatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	s.state.batches[b.ID] = b
	return b
}

func (s *Store) PutCustomer(c domain.Customer) domain.Customer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	s.state.customers[c.ID] = c
	return c
}

func (s *Store) PutTier(t domain.LoyaltyTier) domain.LoyaltyTier {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	s.state.tiers[t.ID] = t
	return t
}

func (s *Store) PutPriceRule(r domain.PriceRule) domain.PriceRule {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	s.state.rules = append(s.state.rules, r)
	return r
}

func (s *Store) PutVolumeTier(v domain.VolumeTier) domain.VolumeTier {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	s.state.volume[v.ProductID] = append(s.state.volume[v.ProductID], v)
	return v
}

func (s *Store) PutCart(c domain.Cart) domain.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	for i := range c.Items {
		if c.Items[i].ID == "" {
			c.Items[i].ID = uuid.NewString()
		}
		c.Items[i].CartID = c.ID
	}
	s.state.carts[c.ID] = c
	return c
}

func (s *Store) Product(id string) domain.Product {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.products[id]
}

func (s *Store) Batch(id string) domain.StockBatch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.batches[id]
}

func (s *Store) Batches(productID string) []domain.StockBatch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.StockBatch
	for _, b := range s.state.batches {
		if b.ProductID == productID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BatchNumber < out[j].BatchNumber })
	return out
}

func (s *Store) PointTransactions(userID string) []domain.PointTransaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.PointTransaction
	for _, pt := range s.state.points {
		if pt.UserID == userID {
			out = append(out, pt)
		}
	}
	return out
}

func (s *Store) AuditEvents() []domain.AuditEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.state.audits)
}
