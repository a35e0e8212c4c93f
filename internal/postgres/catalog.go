package postgres

import (
	"context"
	"sort"
	"time"

	"github.com/Farid-Ze/alfa-beauty-sub000/internal/domain"
	"github.com/Farid-Ze/alfa-beauty-sub000/internal/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const productCols = `id, sku, name, brand_id, category_id, base_price, stock,
	min_order_qty, order_increment, is_active, created_at, updated_at`

func scanProduct(row pgx.Row) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.BrandID, &p.CategoryID, &p.BasePrice, &p.Stock,
		&p.MinOrderQty, &p.OrderIncrement, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	return p, mapErr(err)
}

const batchCols = `id, product_id, batch_number, quantity_available, quantity_sold,
	expires_at, received_at, is_active, is_near_expiry, created_at, updated_at`

func scanBatch(row pgx.Row) (domain.StockBatch, error) {
	var b domain.StockBatch
	err := row.Scan(&b.ID, &b.ProductID, &b.BatchNumber, &b.QuantityAvailable, &b.QuantitySold,
		&b.ExpiresAt, &b.ReceivedAt, &b.IsActive, &b.IsNearExpiry, &b.CreatedAt, &b.UpdatedAt)
	return b, mapErr(err)
}

func (q queries) ProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	rows, err := q.db.Query(ctx, `SELECT `+productCols+` FROM products WHERE id = ANY($1)`, ids)
	list, err := collect(rows, err, func(r pgx.Rows) (domain.Product, error) { return scanProduct(r) })
	if err != nil {
		return nil, err
	}
	out := make(map[string]domain.Product, len(list))
	for _, p := range list {
		out[p.ID] = p
	}
	return out, nil
}

const stockLevelSQL = `
	SELECT p.id, p.stock,
	       COALESCE(SUM(b.quantity_available) FILTER (WHERE b.is_active), 0),
	       COUNT(b.id)
	FROM products p
	LEFT JOIN stock_batches b ON b.product_id = p.id`

func scanStockLevel(row pgx.Row) (store.StockLevel, error) {
	var l store.StockLevel
	err := row.Scan(&l.ProductID, &l.Stock, &l.BatchTotal, &l.BatchCount)
	return l, mapErr(err)
}

func (q queries) StockLevel(ctx context.Context, productID string) (store.StockLevel, error) {
	return scanStockLevel(q.db.QueryRow(ctx, stockLevelSQL+` WHERE p.id = $1 GROUP BY p.id`, productID))
}

func (t *pgTx) LockProduct(ctx context.Context, id string) (domain.Product, error) {
	return scanProduct(t.db.QueryRow(ctx, `SELECT `+productCols+` FROM products WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) AdjustProductStock(ctx context.Context, productID string, delta int) error {
	return exec(ctx, t.db, `UPDATE products SET stock = stock + $2, updated_at = now() WHERE id = $1`, productID, delta)
}

func (t *pgTx) SetProductStock(ctx context.Context, productID string, stock int) error {
	return exec(ctx, t.db, `UPDATE products SET stock = $2, updated_at = now() WHERE id = $1`, productID, stock)
}

func (t *pgTx) LockStockLevels(ctx context.Context, productID string) ([]store.StockLevel, error) {
	// lock product rows first, in id order, so concurrent syncs cannot deadlock
	var ids []string
	if productID != "" {
		ids = []string{productID}
	} else {
		rows, err := t.db.Query(ctx, `SELECT id FROM products ORDER BY id`)
		ids, err = collect(rows, err, func(r pgx.Rows) (string, error) {
			var id string
			return id, r.Scan(&id)
		})
		if err != nil {
			return nil, err
		}
	}
	sort.Strings(ids)
	rows, err := t.db.Query(ctx, `SELECT id FROM products WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	locked, err := collect(rows, err, func(r pgx.Rows) (string, error) {
		var id string
		return id, r.Scan(&id)
	})
	if err != nil {
		return nil, err
	}
	if productID != "" && len(locked) == 0 {
		return nil, store.ErrNotFound
	}

	rows, err = t.db.Query(ctx, stockLevelSQL+` WHERE p.id = ANY($1) GROUP BY p.id ORDER BY p.id`, locked)
	return collect(rows, err, func(r pgx.Rows) (store.StockLevel, error) { return scanStockLevel(r) })
}

func (t *pgTx) InsertBatch(ctx context.Context, b *domain.StockBatch) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.ReceivedAt.IsZero() {
		b.ReceivedAt = time.Now().UTC()
	}
	err := t.db.QueryRow(ctx, `
		INSERT INTO stock_batches(id, product_id, batch_number, quantity_available, quantity_sold,
			expires_at, received_at, is_active, is_near_expiry)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at, updated_at`,
		b.ID, b.ProductID, b.BatchNumber, b.QuantityAvailable, b.QuantitySold,
		b.ExpiresAt, b.ReceivedAt, b.IsActive, b.IsNearExpiry,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	return mapErr(err)
}

func (t *pgTx) LockActiveBatches(ctx context.Context, productID string) ([]domain.StockBatch, error) {
	rows, err := t.db.Query(ctx, `
		SELECT `+batchCols+` FROM stock_batches
		WHERE product_id = $1 AND is_active AND quantity_available > 0
		ORDER BY is_near_expiry DESC, expires_at ASC NULLS LAST, received_at ASC, id ASC
		FOR UPDATE`, productID)
	return collect(rows, err, func(r pgx.Rows) (domain.StockBatch, error) { return scanBatch(r) })
}

func (t *pgTx) LockBatches(ctx context.Context, ids []string) (map[string]domain.StockBatch, error) {
	rows, err := t.db.Query(ctx, `
		SELECT `+batchCols+` FROM stock_batches
		WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	list, err := collect(rows, err, func(r pgx.Rows) (domain.StockBatch, error) { return scanBatch(r) })
	if err != nil {
		return nil, err
	}
	out := make(map[string]domain.StockBatch, len(list))
	for _, b := range list {
		out[b.ID] = b
	}
	return out, nil
}

func (t *pgTx) SaveBatch(ctx context.Context, b domain.StockBatch) error {
	return exec(ctx, t.db, `
		UPDATE stock_batches
		SET quantity_available = $2, quantity_sold = $3, is_active = $4, is_near_expiry = $5, updated_at = now()
		WHERE id = $1`,
		b.ID, b.QuantityAvailable, b.QuantitySold, b.IsActive, b.IsNearExpiry)
}

func (t *pgTx) FlagNearExpiry(ctx context.Context, cutoff time.Time) (int, error) {
	ct, err := t.db.Exec(ctx, `
		UPDATE stock_batches
		SET is_near_expiry = (expires_at IS NOT NULL AND expires_at <= $1), updated_at = now()
		WHERE is_active
		  AND is_near_expiry <> (expires_at IS NOT NULL AND expires_at <= $1)`, cutoff)
	if err != nil {
		return 0, mapErr(err)
	}
	return int(ct.RowsAffected()), nil
}
