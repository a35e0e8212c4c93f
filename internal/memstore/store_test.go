package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/Farid-Ze/alfa-beauty-sub000/internal/domain"
	"github.com/Farid-Ze/alfa-beauty-sub000/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	p := s.PutProduct(domain.Product{Name: "Serum", BasePrice: 50000, Stock: 10, IsActive: true})

	boom := errors.New("boom")
	err := s.InTx(ctx, func(tx store.Tx) error {
		require.NoError(t, tx.AdjustProductStock(ctx, p.ID, -4))
		require.NoError(t, tx.InsertBatch(ctx, &domain.StockBatch{ProductID: p.ID, BatchNumber: "B1", QuantityAvailable: 3, IsActive: true}))
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 10, s.Product(p.ID).Stock)
	assert.Empty(t, s.Batches(p.ID))

	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		return tx.AdjustProductStock(ctx, p.ID, -4)
	}))
	assert.Equal(t, 6, s.Product(p.ID).Stock)
}

func TestFailedStatementAbortsTransaction(t *testing.T) {
	ctx := context.Background()
	wide := store.RuleFilter{ProductIDs: []string{"p1"}, BrandIDs: []string{"b1"}}

	s := New()
	s.UnsupportedScopes = true
	c := s.PutCustomer(domain.Customer{Email: "a@example.com"})
	p := s.PutProduct(domain.Product{Name: "Serum", BasePrice: 50000, Stock: 10, IsActive: true})

	err := s.InTx(ctx, func(tx store.Tx) error {
		_, err := tx.CustomerPriceRules(ctx, c.ID, wide)
		require.ErrorIs(t, err, store.ErrUnsupported)
		_, err = tx.Customer(ctx, c.ID)
		require.ErrorIs(t, err, store.ErrTxAborted)
		return nil
	})
	require.ErrorIs(t, err, store.ErrTxAborted)

	err = s.InTx(ctx, func(tx store.Tx) error {
		require.NoError(t, tx.AdjustProductStock(ctx, p.ID, -1))
		err := tx.Savepoint(ctx, func(sp store.Tx) error {
			require.NoError(t, sp.AdjustProductStock(ctx, p.ID, -5))
			_, err := sp.CustomerPriceRules(ctx, c.ID, wide)
			return err
		})
		require.ErrorIs(t, err, store.ErrUnsupported)
		_, err = tx.Customer(ctx, c.ID)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 9, s.Product(p.ID).Stock, "savepoint work rolled back, outer work kept")
}

func TestInTxHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := New().InTx(ctx, func(store.Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestUniqueKeys(t *testing.T) {
	ctx := context.Background()
	s := New()
	key := "checkout-1"

	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		return tx.InsertOrder(ctx, &domain.Order{OrderNumber: "ORD-1", IdempotencyKey: &key})
	}))
	err := s.InTx(ctx, func(tx store.Tx) error {
		return tx.InsertOrder(ctx, &domain.Order{OrderNumber: "ORD-2", IdempotencyKey: &key})
	})
	assert.ErrorIs(t, err, store.ErrDuplicate)

	o, err := s.OrderByIdempotencyKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "ORD-1", o.OrderNumber)

	earn := domain.EarnPointsKey(o.ID)
	var first, second bool
	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		var err error
		first, err = tx.InsertPointTransaction(ctx, &domain.PointTransaction{UserID: "u1", Type: domain.PointEarn, Amount: 5, IdempotencyKey: &earn})
		if err != nil {
			return err
		}
		second, err = tx.InsertPointTransaction(ctx, &domain.PointTransaction{UserID: "u1", Type: domain.PointEarn, Amount: 5, IdempotencyKey: &earn})
		return err
	}))
	assert.True(t, first)
	assert.False(t, second)
	assert.Len(t, s.PointTransactions("u1"), 1)

	audit := "return:approve:r1"
	require.NoError(t, s.InsertAuditEvent(ctx, &domain.AuditEvent{Action: "return.approve", IdempotencyKey: &audit}))
	assert.ErrorIs(t, s.InsertAuditEvent(ctx, &domain.AuditEvent{Action: "return.approve", IdempotencyKey: &audit}), store.ErrDuplicate)
	assert.Len(t, s.AuditEvents(), 1)
}

func TestNotFound(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.Order(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.Customer(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
