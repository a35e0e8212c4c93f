package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Farid-Ze/alfa-beauty-sub000/internal/domain"
	"github.com/Farid-Ze/alfa-beauty-sub000/internal/orders"
	"github.com/Farid-Ze/alfa-beauty-sub000/internal/redisx"
	"github.com/Farid-Ze/alfa-beauty-sub000/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type OrdersHandler struct {
	Orders *orders.Service
	DB     store.Reader
	Redis  *redis.Client // optional fast paths
	// WhatsAppNumber is handed back on assisted-channel checkouts.
	WhatsAppNumber string
	Logger         *zap.Logger
}

type CheckoutReq struct {
	CustomerID    string                 `json:"customer_id"`
	Customer      orders.CustomerDetails `json:"customer"`
	Channel       domain.Channel         `json:"channel"`
	PaymentMethod string                 `json:"payment_method"`
}

type OrderItemResp struct {
	ProductID        string                   `json:"product_id"`
	ProductName      string                   `json:"product_name"`
	Quantity         int                      `json:"quantity"`
	UnitPrice        int64                    `json:"unit_price"`
	OriginalPrice    int64                    `json:"original_price"`
	PriceSource      string                   `json:"price_source"`
	LineTotal        int64                    `json:"line_total"`
	BatchAllocations []domain.BatchAllocation `json:"batch_allocations"`
}

type OrderResp struct {
	OrderID         string               `json:"order_id"`
	OrderNumber     string               `json:"order_number"`
	Channel         domain.Channel       `json:"channel"`
	Status          domain.OrderStatus   `json:"status"`
	PaymentStatus   domain.PaymentStatus `json:"payment_status"`
	Subtotal        int64                `json:"subtotal"`
	DiscountPercent string               `json:"discount_percent"`
	DiscountAmount  int64                `json:"discount_amount"`
	TotalAmount     int64                `json:"total_amount"`
	Items           []OrderItemResp      `json:"items,omitempty"`
	Adjustments     []orders.Adjustment  `json:"adjustments,omitempty"`
	Idempotent      bool                 `json:"idempotent"`
	WhatsAppNumber  string               `json:"whatsapp_number,omitempty"`
}

type orderStatus struct {
	OrderID       string               `json:"order_id"`
	OrderNumber   string               `json:"order_number"`
	Status        domain.OrderStatus   `json:"status"`
	PaymentStatus domain.PaymentStatus `json:"payment_status"`
	TotalAmount   int64                `json:"total_amount"`
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Post("/carts/{cartID}/checkout", h.checkout)
	r.Get("/orders/{id}", h.getOrder)
	r.Post("/orders/{id}/complete", h.completeOrder)
}

func (h *OrdersHandler) checkout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutReq
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	// Fast-path idempotency via Redis; the DB unique key stays authoritative
	key := r.Header.Get("Idempotency-Key")
	if key != "" && h.Redis != nil {
		idemKey := fmt.Sprintf(redisx.KeyIdemOrderCreate, key)
		if id, err := h.Redis.Get(ctx, idemKey).Result(); err == nil && id != "" {
			if o, err := h.DB.Order(ctx, id); err == nil {
				writeJSON(w, http.StatusOK, h.orderResp(o, nil, true))
				return
			}
		}
	}

	res, err := h.Orders.CreateFromCart(ctx, orders.CreateInput{
		CartID:         chi.URLParam(r, "cartID"),
		CustomerID:     req.CustomerID,
		Customer:       req.Customer,
		Channel:        req.Channel,
		PaymentMethod:  req.PaymentMethod,
		IdempotencyKey: key,
		Actor:          actor(r),
	})
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}

	if h.Redis != nil {
		if key != "" {
			_ = h.Redis.Set(ctx, fmt.Sprintf(redisx.KeyIdemOrderCreate, key), res.Order.ID, redisx.TTLIdempotency).Err()
		}
		h.cacheStatus(ctx, res.Order)
	}

	code := http.StatusCreated
	if res.Existing {
		code = http.StatusOK
	}
	writeJSON(w, code, h.orderResp(res.Order, res.Adjustments, res.Existing))
}

func (h *OrdersHandler) orderResp(o domain.Order, adj []orders.Adjustment, existing bool) OrderResp {
	resp := OrderResp{
		OrderID:         o.ID,
		OrderNumber:     o.OrderNumber,
		Channel:         o.Channel,
		Status:          o.Status,
		PaymentStatus:   o.PaymentStatus,
		Subtotal:        o.Subtotal,
		DiscountPercent: o.DiscountPercent.String(),
		DiscountAmount:  o.DiscountAmount,
		TotalAmount:     o.TotalAmount,
		Adjustments:     adj,
		Idempotent:      existing,
	}
	for _, it := range o.Items {
		resp.Items = append(resp.Items, OrderItemResp{
			ProductID:        it.ProductID,
			ProductName:      it.ProductName,
			Quantity:         it.Quantity,
			UnitPrice:        it.UnitPrice,
			OriginalPrice:    it.OriginalPrice,
			PriceSource:      it.PriceSource,
			LineTotal:        it.LineTotal,
			BatchAllocations: it.BatchAllocations,
		})
	}
	if o.Channel == domain.ChannelAssisted {
		resp.WhatsAppNumber = h.WhatsAppNumber
	}
	return resp
}

func (h *OrdersHandler) cacheStatus(ctx context.Context, o domain.Order) {
	b, _ := json.Marshal(orderStatus{
		OrderID:       o.ID,
		OrderNumber:   o.OrderNumber,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		TotalAmount:   o.TotalAmount,
	})
	if err := h.Redis.Set(ctx, fmt.Sprintf(redisx.KeyOrderStatus, o.ID), b, redisx.TTLStatusCache).Err(); err != nil && h.Logger != nil {
		h.Logger.Warn("order status cache write failed", zap.String("order_id", o.ID), zap.Error(err))
	}
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// 1) cache
	if h.Redis != nil {
		key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
		if s, err := h.Redis.Get(ctx, key).Result(); err == nil && s != "" {
			writeJSON(w, http.StatusOK, json.RawMessage(s))
			return
		}
	}

	// 2) fallback DB
	o, err := h.DB.Order(ctx, orderID)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	if h.Redis != nil {
		h.cacheStatus(ctx, o)
	}
	writeJSON(w, http.StatusOK, orderStatus{
		OrderID:       o.ID,
		OrderNumber:   o.OrderNumber,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		TotalAmount:   o.TotalAmount,
	})
}

type CompleteReq struct {
	PaymentMethod string `json:"payment_method"`
}

type CompleteResp struct {
	OrderID       string               `json:"order_id"`
	Status        domain.OrderStatus   `json:"status"`
	PaymentStatus domain.PaymentStatus `json:"payment_status"`
	PointsEarned  int64                `json:"points_earned"`
	Skipped       bool                 `json:"skipped"`
	NewTier       string               `json:"new_tier,omitempty"`
}

func (h *OrdersHandler) completeOrder(w http.ResponseWriter, r *http.Request) {
	var req CompleteReq
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
			return
		}
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	res, err := h.Orders.CompleteOrder(ctx, chi.URLParam(r, "id"), orders.CompleteInput{
		PaymentMethod: req.PaymentMethod,
		Actor:         actor(r),
	})
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	if h.Redis != nil && !res.Skipped {
		h.cacheStatus(ctx, res.Order)
	}
	resp := CompleteResp{
		OrderID:       res.Order.ID,
		Status:        res.Order.Status,
		PaymentStatus: res.Order.PaymentStatus,
		PointsEarned:  res.PointsEarned,
		Skipped:       res.Skipped,
	}
	if res.TierChanged() {
		resp.NewTier = res.NewTier.Slug
	}
	writeJSON(w, http.StatusOK, resp)
}
