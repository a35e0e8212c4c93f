// Package memstore is an in-memory store.Store. Transactions are serialized
// behind one mutex and roll back by restoring a snapshot taken at begin.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/Farid-Ze/alfa-beauty-sub000/internal/domain"
	"github.com/Farid-Ze/alfa-beauty-sub000/internal/store"
	"github.com/google/uuid"
)

type Store struct {
	mu    sync.RWMutex
	state *state

	// AuditErr, when set, is returned by InsertAuditEvent.
	AuditErr error
	// UnsupportedScopes makes brand/category price-rule lookups fail with store.ErrUnsupported.
	UnsupportedScopes bool
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{state: newState()}
}

func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	tx := &memTx{state: s.state, unsupportedScopes: s.UnsupportedScopes}
	if err := fn(tx); err != nil {
		s.state = snapshot
		return err
	}
	if tx.aborted {
		// committing an aborted transaction rolls it back
		s.state = snapshot
		return store.ErrTxAborted
	}
	return nil
}

func (s *Store) InsertAuditEvent(_ context.Context, ev *domain.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AuditErr != nil {
		return s.AuditErr
	}
	if ev.IdempotencyKey != nil {
		if s.state.auditKeys[*ev.IdempotencyKey] {
			return store.ErrDuplicate
		}
		s.state.auditKeys[*ev.IdempotencyKey] = true
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	s.state.audits = append(s.state.audits, *ev)
	return nil
}

// ---- lock-free (read-locked) Reader ----

func (s *Store) ProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.productsByIDs(ids), nil
}

func (s *Store) Customer(ctx context.Context, id string) (domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.customer(id)
}

func (s *Store) LoyaltyTiers(ctx context.Context) ([]domain.LoyaltyTier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.loyaltyTiers(), nil
}

func (s *Store) CustomerPriceRules(ctx context.Context, userID string, f store.RuleFilter) ([]domain.PriceRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.customerPriceRules(userID, f, s.UnsupportedScopes)
}

func (s *Store) VolumeTiers(ctx context.Context, productIDs []string) (map[string][]domain.VolumeTier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.volumeTiers(productIDs), nil
}

func (s *Store) StockLevel(ctx context.Context, productID string) (store.StockLevel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.stockLevel(productID)
}

func (s *Store) CartItems(ctx context.Context, cartID string) ([]domain.CartItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.cartItems(cartID)
}

func (s *Store) Order(ctx context.Context, id string) (domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.order(id)
}

func (s *Store) OrderByIdempotencyKey(ctx context.Context, key string) (domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.orderByKey(key)
}

func (s *Store) Return(ctx context.Context, id string) (domain.Return, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ret(id)
}

func (s *Store) PointTransactionByKey(ctx context.Context, key string) (domain.PointTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.pointByKey(key)
}
