package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Farid-Ze/alfa-beauty-sub000/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const returnCols = `id, return_number, order_id, user_id, type, status, reason, rejection_reason,
	refund_amount, points_reversed, spend_reversed, requested_at, approved_at, received_at,
	completed_at, rejected_at, restocked_at, loyalty_reversed_at, updated_at`

func scanReturn(row pgx.Row) (domain.Return, error) {
	var r domain.Return
	var typ, status string
	err := row.Scan(&r.ID, &r.ReturnNumber, &r.OrderID, &r.UserID, &typ, &status, &r.Reason, &r.RejectionReason,
		&r.RefundAmount, &r.PointsReversed, &r.SpendReversed, &r.RequestedAt, &r.ApprovedAt, &r.ReceivedAt,
		&r.CompletedAt, &r.RejectedAt, &r.RestockedAt, &r.LoyaltyReversedAt, &r.UpdatedAt)
	r.Type = domain.ReturnType(typ)
	r.Status = domain.ReturnStatus(status)
	return r, mapErr(err)
}

func (q queries) returnItems(ctx context.Context, r domain.Return, err error) (domain.Return, error) {
	if err != nil {
		return domain.Return{}, err
	}
	rows, err := q.db.Query(ctx, `
		SELECT id, return_id, order_item_id, product_id, batch_inventory_id, batch_number,
			quantity_requested, quantity_approved, unit_price, line_total, restock
		FROM return_items WHERE return_id = $1 ORDER BY id`, r.ID)
	r.Items, err = collect(rows, err, scanReturnItem)
	return r, err
}

func scanReturnItem(row pgx.Rows) (domain.ReturnItem, error) {
	var it domain.ReturnItem
	err := row.Scan(&it.ID, &it.ReturnID, &it.OrderItemID, &it.ProductID, &it.BatchInventoryID, &it.BatchNumber,
		&it.QuantityRequested, &it.QuantityApproved, &it.UnitPrice, &it.LineTotal, &it.Restock)
	return it, err
}

func (q queries) Return(ctx context.Context, id string) (domain.Return, error) {
	r, err := scanReturn(q.db.QueryRow(ctx, `SELECT `+returnCols+` FROM returns WHERE id = $1`, id))
	return q.returnItems(ctx, r, err)
}

func (t *pgTx) LockReturn(ctx context.Context, id string) (domain.Return, error) {
	r, err := scanReturn(t.db.QueryRow(ctx, `SELECT `+returnCols+` FROM returns WHERE id = $1 FOR UPDATE`, id))
	return t.returnItems(ctx, r, err)
}

func (t *pgTx) ReturnsForOrder(ctx context.Context, orderID string) ([]domain.Return, error) {
	rows, err := t.db.Query(ctx, `SELECT `+returnCols+` FROM returns WHERE order_id = $1 ORDER BY requested_at, id`, orderID)
	out, err := collect(rows, err, func(row pgx.Rows) (domain.Return, error) { return scanReturn(row) })
	if err != nil || len(out) == 0 {
		return out, err
	}
	byID := make(map[string]int, len(out))
	ids := make([]string, 0, len(out))
	for i, r := range out {
		byID[r.ID] = i
		ids = append(ids, r.ID)
	}
	rows, err = t.db.Query(ctx, `
		SELECT id, return_id, order_item_id, product_id, batch_inventory_id, batch_number,
			quantity_requested, quantity_approved, unit_price, line_total, restock
		FROM return_items WHERE return_id = ANY($1) ORDER BY id`, ids)
	items, err := collect(rows, err, scanReturnItem)
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		i := byID[it.ReturnID]
		out[i].Items = append(out[i].Items, it)
	}
	return out, nil
}

func (t *pgTx) InsertReturn(ctx context.Context, r *domain.Return) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.RequestedAt.IsZero() {
		r.RequestedAt = time.Now().UTC()
	}
	err := t.db.QueryRow(ctx, `
		INSERT INTO returns(id, return_number, order_id, user_id, type, status, reason, refund_amount, requested_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING updated_at`,
		r.ID, r.ReturnNumber, r.OrderID, r.UserID, string(r.Type), string(r.Status), r.Reason, r.RefundAmount, r.RequestedAt,
	).Scan(&r.UpdatedAt)
	if err != nil {
		return mapErr(err)
	}

	batch := &pgx.Batch{}
	for i := range r.Items {
		it := &r.Items[i]
		if it.ID == "" {
			it.ID = uuid.NewString()
		}
		it.ReturnID = r.ID
		batch.Queue(`
			INSERT INTO return_items(id, return_id, order_item_id, product_id, batch_inventory_id, batch_number,
				quantity_requested, quantity_approved, unit_price, line_total, restock)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			it.ID, it.ReturnID, it.OrderItemID, it.ProductID, it.BatchInventoryID, it.BatchNumber,
			it.QuantityRequested, it.QuantityApproved, it.UnitPrice, it.LineTotal, it.Restock)
	}
	return t.sendBatch(ctx, batch)
}

func (t *pgTx) UpdateReturn(ctx context.Context, r domain.Return) error {
	err := exec(ctx, t.db, `
		UPDATE returns SET status = $2, rejection_reason = $3, refund_amount = $4, points_reversed = $5,
			spend_reversed = $6, approved_at = $7, received_at = $8, completed_at = $9, rejected_at = $10,
			restocked_at = $11, loyalty_reversed_at = $12, updated_at = now()
		WHERE id = $1`,
		r.ID, string(r.Status), r.RejectionReason, r.RefundAmount, r.PointsReversed,
		r.SpendReversed, r.ApprovedAt, r.ReceivedAt, r.CompletedAt, r.RejectedAt,
		r.RestockedAt, r.LoyaltyReversedAt)
	if err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for _, it := range r.Items {
		batch.Queue(`
			UPDATE return_items SET quantity_approved = $2, line_total = $3, restock = $4
			WHERE id = $1`, it.ID, it.QuantityApproved, it.LineTotal, it.Restock)
	}
	return t.sendBatch(ctx, batch)
}

func (t *pgTx) sendBatch(ctx context.Context, batch *pgx.Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	tx, ok := t.db.(pgx.Tx)
	if !ok {
		return fmt.Errorf("batch outside transaction")
	}
	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return mapErr(err)
		}
	}
	return mapErr(br.Close())
}

// InsertAuditEvent runs on the pool, outside any business transaction.
func (s *Store) InsertAuditEvent(ctx context.Context, ev *domain.AuditEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	meta := ev.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode audit meta: %w", err)
	}
	err = s.Pool.QueryRow(ctx, `
		INSERT INTO audit_events(id, action, entity_type, entity_id, meta, idempotency_key, actor, request_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at`,
		ev.ID, ev.Action, ev.EntityType, ev.EntityID, raw, ev.IdempotencyKey, ev.Actor, ev.RequestID,
	).Scan(&ev.CreatedAt)
	return mapErr(err)
}
