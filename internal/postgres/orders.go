package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Farid-Ze/alfa-beauty-sub000/internal/domain"
	"github.com/Farid-Ze/alfa-beauty-sub000/internal/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func (q queries) CartItems(ctx context.Context, cartID string) ([]domain.CartItem, error) {
	var exists bool
	if err := q.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM carts WHERE id = $1)`, cartID).Scan(&exists); err != nil {
		return nil, mapErr(err)
	}
	if !exists {
		return nil, store.ErrNotFound
	}
	rows, err := q.db.Query(ctx, `
		SELECT id, cart_id, product_id, quantity FROM cart_items
		WHERE cart_id = $1 ORDER BY id`, cartID)
	return collect(rows, err, scanCartItem)
}

func scanCartItem(r pgx.Rows) (domain.CartItem, error) {
	var it domain.CartItem
	err := r.Scan(&it.ID, &it.CartID, &it.ProductID, &it.Quantity)
	return it, err
}

func (t *pgTx) LockCart(ctx context.Context, cartID string) (domain.Cart, error) {
	var c domain.Cart
	err := t.db.QueryRow(ctx, `SELECT id, user_id FROM carts WHERE id = $1 FOR UPDATE`, cartID).Scan(&c.ID, &c.UserID)
	if err != nil {
		return domain.Cart{}, mapErr(err)
	}
	rows, err := t.db.Query(ctx, `
		SELECT id, cart_id, product_id, quantity FROM cart_items
		WHERE cart_id = $1 ORDER BY id FOR UPDATE`, cartID)
	c.Items, err = collect(rows, err, scanCartItem)
	return c, err
}

func (t *pgTx) UpdateCartItemQuantity(ctx context.Context, itemID string, qty int) error {
	return exec(ctx, t.db, `UPDATE cart_items SET quantity = $2 WHERE id = $1`, itemID, qty)
}

func (t *pgTx) ClearCart(ctx context.Context, cartID string) error {
	_, err := t.db.Exec(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID)
	return mapErr(err)
}

const orderCols = `id, order_number, user_id, channel, status, payment_status, payment_method,
	subtotal, discount_percent, discount_amount, total_amount,
	customer_name, customer_phone, customer_email, shipping_address, notes,
	idempotency_key, paid_at, created_at, updated_at`

func scanOrder(row pgx.Row) (domain.Order, error) {
	var o domain.Order
	var channel, status, payment string
	err := row.Scan(&o.ID, &o.OrderNumber, &o.UserID, &channel, &status, &payment, &o.PaymentMethod,
		&o.Subtotal, &o.DiscountPercent, &o.DiscountAmount, &o.TotalAmount,
		&o.CustomerName, &o.CustomerPhone, &o.CustomerEmail, &o.ShippingAddress, &o.Notes,
		&o.IdempotencyKey, &o.PaidAt, &o.CreatedAt, &o.UpdatedAt)
	o.Channel = domain.Channel(channel)
	o.Status = domain.OrderStatus(status)
	o.PaymentStatus = domain.PaymentStatus(payment)
	return o, mapErr(err)
}

func (q queries) orderItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, order_id, product_id, product_name, quantity, unit_price, original_price,
			price_source, line_total, batch_allocations
		FROM order_items WHERE order_id = $1 ORDER BY id`, orderID)
	return collect(rows, err, func(r pgx.Rows) (domain.OrderItem, error) {
		var it domain.OrderItem
		var raw []byte
		if err := r.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductName, &it.Quantity, &it.UnitPrice,
			&it.OriginalPrice, &it.PriceSource, &it.LineTotal, &raw); err != nil {
			return it, err
		}
		if err := json.Unmarshal(raw, &it.BatchAllocations); err != nil {
			return it, fmt.Errorf("decode batch_allocations for item %s: %w", it.ID, err)
		}
		for i := range it.BatchAllocations {
			it.BatchAllocations[i].ProductID = it.ProductID
		}
		return it, nil
	})
}

func (q queries) withItems(ctx context.Context, o domain.Order, err error) (domain.Order, error) {
	if err != nil {
		return domain.Order{}, err
	}
	o.Items, err = q.orderItems(ctx, o.ID)
	return o, err
}

func (q queries) Order(ctx context.Context, id string) (domain.Order, error) {
	o, err := scanOrder(q.db.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id = $1`, id))
	return q.withItems(ctx, o, err)
}

func (q queries) OrderByIdempotencyKey(ctx context.Context, key string) (domain.Order, error) {
	o, err := scanOrder(q.db.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE idempotency_key = $1`, key))
	return q.withItems(ctx, o, err)
}

func (t *pgTx) LockOrder(ctx context.Context, id string) (domain.Order, error) {
	o, err := scanOrder(t.db.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id = $1 FOR UPDATE`, id))
	return t.withItems(ctx, o, err)
}

func (t *pgTx) OrderNumberExists(ctx context.Context, number string) (bool, error) {
	var exists bool
	err := t.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE order_number = $1)`, number).Scan(&exists)
	return exists, mapErr(err)
}

func (t *pgTx) InsertOrder(ctx context.Context, o *domain.Order) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	err := t.db.QueryRow(ctx, `
		INSERT INTO orders(id, order_number, user_id, channel, status, payment_status, payment_method,
			subtotal, discount_percent, discount_amount, total_amount,
			customer_name, customer_phone, customer_email, shipping_address, notes,
			idempotency_key, paid_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		RETURNING created_at, updated_at`,
		o.ID, o.OrderNumber, o.UserID, string(o.Channel), string(o.Status), string(o.PaymentStatus), o.PaymentMethod,
		o.Subtotal, o.DiscountPercent, o.DiscountAmount, o.TotalAmount,
		o.CustomerName, o.CustomerPhone, o.CustomerEmail, o.ShippingAddress, o.Notes,
		o.IdempotencyKey, o.PaidAt,
	).Scan(&o.CreatedAt, &o.UpdatedAt)
	return mapErr(err)
}

func (t *pgTx) InsertOrderItem(ctx context.Context, it *domain.OrderItem) error {
	if it.ID == "" {
		it.ID = uuid.NewString()
	}
	allocs := it.BatchAllocations
	if allocs == nil {
		allocs = []domain.BatchAllocation{}
	}
	raw, err := json.Marshal(allocs)
	if err != nil {
		return fmt.Errorf("encode batch_allocations: %w", err)
	}
	_, err = t.db.Exec(ctx, `
		INSERT INTO order_items(id, order_id, product_id, product_name, quantity, unit_price,
			original_price, price_source, line_total, batch_allocations)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		it.ID, it.OrderID, it.ProductID, it.ProductName, it.Quantity, it.UnitPrice,
		it.OriginalPrice, it.PriceSource, it.LineTotal, raw)
	return mapErr(err)
}

func (t *pgTx) UpdateOrderPayment(ctx context.Context, o domain.Order) error {
	return exec(ctx, t.db, `
		UPDATE orders SET status = $2, payment_status = $3, payment_method = $4, paid_at = $5, updated_at = $6
		WHERE id = $1`,
		o.ID, string(o.Status), string(o.PaymentStatus), o.PaymentMethod, o.PaidAt, time.Now().UTC())
}
