package postgres

import (
	"context"
	"time"

	"github.com/Farid-Ze/alfa-beauty-sub000/internal/domain"
	"github.com/Farid-Ze/alfa-beauty-sub000/internal/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const customerCols = `id, name, email, phone, loyalty_tier_id, points, total_spend, updated_at`

func scanCustomer(row pgx.Row) (domain.Customer, error) {
	var c domain.Customer
	err := row.Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.TierID, &c.Points, &c.TotalSpend, &c.UpdatedAt)
	return c, mapErr(err)
}

func (q queries) Customer(ctx context.Context, id string) (domain.Customer, error) {
	return scanCustomer(q.db.QueryRow(ctx, `SELECT `+customerCols+` FROM users WHERE id = $1`, id))
}

func (q queries) LoyaltyTiers(ctx context.Context) ([]domain.LoyaltyTier, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, name, slug, discount_percent, point_multiplier, min_spend, free_shipping
		FROM loyalty_tiers ORDER BY min_spend ASC`)
	return collect(rows, err, func(r pgx.Rows) (domain.LoyaltyTier, error) {
		var t domain.LoyaltyTier
		err := r.Scan(&t.ID, &t.Name, &t.Slug, &t.DiscountPercent, &t.PointMultiplier, &t.MinSpend, &t.FreeShipping)
		return t, err
	})
}

const ruleCols = `id, user_id, product_id, custom_price, discount_percent,
	min_quantity, priority, valid_from, valid_until, is_active`

// CustomerPriceRules only touches brand_id/category_id when the filter asks for
// those scopes, so a product-only lookup works against schemas without them.
func (q queries) CustomerPriceRules(ctx context.Context, userID string, f store.RuleFilter) ([]domain.PriceRule, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if len(f.BrandIDs) == 0 && len(f.CategoryIDs) == 0 && !f.IncludeGlobal {
		rows, err = q.db.Query(ctx, `
			SELECT `+ruleCols+`, NULL::text, NULL::text
			FROM customer_price_rules
			WHERE user_id = $1 AND is_active AND product_id = ANY($2)`, userID, f.ProductIDs)
	} else {
		rows, err = q.db.Query(ctx, `
			SELECT `+ruleCols+`, brand_id, category_id
			FROM customer_price_rules
			WHERE user_id = $1 AND is_active AND (
				product_id = ANY($2)
				OR (product_id IS NULL AND brand_id = ANY($3))
				OR (product_id IS NULL AND brand_id IS NULL AND category_id = ANY($4))
				OR ($5 AND product_id IS NULL AND brand_id IS NULL AND category_id IS NULL)
			)`, userID, f.ProductIDs, f.BrandIDs, f.CategoryIDs, f.IncludeGlobal)
	}
	return collect(rows, err, func(r pgx.Rows) (domain.PriceRule, error) {
		var pr domain.PriceRule
		err := r.Scan(&pr.ID, &pr.UserID, &pr.ProductID, &pr.CustomPrice, &pr.DiscountPercent,
			&pr.MinQuantity, &pr.Priority, &pr.ValidFrom, &pr.ValidUntil, &pr.IsActive,
			&pr.BrandID, &pr.CategoryID)
		return pr, err
	})
}

func (q queries) VolumeTiers(ctx context.Context, productIDs []string) (map[string][]domain.VolumeTier, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, product_id, min_quantity, max_quantity, unit_price, discount_percent
		FROM product_volume_tiers
		WHERE product_id = ANY($1)
		ORDER BY product_id, min_quantity DESC`, productIDs)
	list, err := collect(rows, err, func(r pgx.Rows) (domain.VolumeTier, error) {
		var v domain.VolumeTier
		err := r.Scan(&v.ID, &v.ProductID, &v.MinQuantity, &v.MaxQuantity, &v.UnitPrice, &v.DiscountPercent)
		return v, err
	})
	if err != nil {
		return nil, err
	}
	out := map[string][]domain.VolumeTier{}
	for _, v := range list {
		out[v.ProductID] = append(out[v.ProductID], v)
	}
	return out, nil
}

const pointCols = `id, user_id, order_id, type, amount, balance_after, description, idempotency_key, created_at`

func scanPoint(row pgx.Row) (domain.PointTransaction, error) {
	var pt domain.PointTransaction
	var typ string
	err := row.Scan(&pt.ID, &pt.UserID, &pt.OrderID, &typ, &pt.Amount, &pt.BalanceAfter,
		&pt.Description, &pt.IdempotencyKey, &pt.CreatedAt)
	pt.Type = domain.PointType(typ)
	return pt, mapErr(err)
}

func (q queries) PointTransactionByKey(ctx context.Context, key string) (domain.PointTransaction, error) {
	return scanPoint(q.db.QueryRow(ctx, `SELECT `+pointCols+` FROM point_transactions WHERE idempotency_key = $1`, key))
}

func (t *pgTx) LockCustomer(ctx context.Context, id string) (domain.Customer, error) {
	return scanCustomer(t.db.QueryRow(ctx, `SELECT `+customerCols+` FROM users WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) UpdateCustomerLoyalty(ctx context.Context, c domain.Customer) error {
	return exec(ctx, t.db, `
		UPDATE users SET points = $2, total_spend = $3, loyalty_tier_id = $4, updated_at = now()
		WHERE id = $1`, c.ID, c.Points, c.TotalSpend, c.TierID)
}

func (t *pgTx) InsertPointTransaction(ctx context.Context, pt *domain.PointTransaction) (bool, error) {
	if pt.ID == "" {
		pt.ID = uuid.NewString()
	}
	if pt.CreatedAt.IsZero() {
		pt.CreatedAt = time.Now().UTC()
	}
	ct, err := t.db.Exec(ctx, `
		INSERT INTO point_transactions(id, user_id, order_id, type, amount, balance_after,
			description, idempotency_key, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (idempotency_key) DO NOTHING`,
		pt.ID, pt.UserID, pt.OrderID, string(pt.Type), pt.Amount, pt.BalanceAfter,
		pt.Description, pt.IdempotencyKey, pt.CreatedAt)
	if err != nil {
		return false, mapErr(err)
	}
	return ct.RowsAffected() == 1, nil
}

func (t *pgTx) EarnTransactionsForOrder(ctx context.Context, orderID string) ([]domain.PointTransaction, error) {
	rows, err := t.db.Query(ctx, `
		SELECT `+pointCols+` FROM point_transactions
		WHERE order_id = $1 AND type = $2
		ORDER BY created_at ASC`, orderID, string(domain.PointEarn))
	return collect(rows, err, func(r pgx.Rows) (domain.PointTransaction, error) { return scanPoint(r) })
}
