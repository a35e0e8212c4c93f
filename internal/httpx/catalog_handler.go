package httpx

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/Farid-Ze/alfa-beauty-sub000/internal/domain"
	"github.com/Farid-Ze/alfa-beauty-sub000/internal/inventory"
	"github.com/Farid-Ze/alfa-beauty-sub000/internal/pricing"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type CatalogHandler struct {
	Pricing   *pricing.Resolver
	Inventory *inventory.Allocator
	Logger    *zap.Logger
}

func (h *CatalogHandler) Register(r *chi.Mux) {
	r.Get("/prices", h.price)
	r.Post("/prices/bulk", h.bulkPrices)
	r.Post("/prices/invalidate", h.invalidatePrices)
	r.Get("/inventory/{productID}/availability", h.availability)
	r.Post("/inventory/batches", h.receive)
	r.Post("/inventory/sync", h.sync)
	r.Post("/inventory/near-expiry/refresh", h.refreshNearExpiry)
}

func quantityParam(r *http.Request) (int, error) {
	q, err := strconv.Atoi(r.URL.Query().Get("quantity"))
	if err != nil || q <= 0 {
		return 0, &domain.ValidationError{Field: "quantity", Reason: "must be a positive integer"}
	}
	return q, nil
}

func (h *CatalogHandler) price(w http.ResponseWriter, r *http.Request) {
	qty, err := quantityParam(r)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	productID := r.URL.Query().Get("product_id")
	if productID == "" {
		writeError(w, r, h.Logger, &domain.ValidationError{Field: "product_id", Reason: "required"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	res, err := h.Pricing.ResolvePrice(ctx, productID, r.URL.Query().Get("customer_id"), qty)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type BulkPriceReq struct {
	CustomerID string         `json:"customer_id"`
	Items      []pricing.Line `json:"items"`
}

func (h *CatalogHandler) bulkPrices(w http.ResponseWriter, r *http.Request) {
	var req BulkPriceReq
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Items) == 0 {
		writeError(w, r, h.Logger, &domain.ValidationError{Field: "items", Reason: "at least one item is required"})
		return
	}
	for _, l := range req.Items {
		if l.ProductID == "" || l.Quantity <= 0 {
			writeError(w, r, h.Logger, &domain.ValidationError{Field: "items", Reason: "product_id and a positive quantity are required"})
			return
		}
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	out, err := h.Pricing.ResolveBulk(ctx, h.Pricing.DB, req.Items, req.CustomerID)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"prices": out})
}

type InvalidateReq struct {
	CustomerID string `json:"customer_id"`
	ProductID  string `json:"product_id"`
}

func (h *CatalogHandler) invalidatePrices(w http.ResponseWriter, r *http.Request) {
	var req InvalidateReq
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.CustomerID == "" && req.ProductID == "" {
		writeError(w, r, h.Logger, &domain.ValidationError{Field: "customer_id", Reason: "customer_id or product_id is required"})
		return
	}
	if err := h.Pricing.Invalidate(r.Context(), req.CustomerID, req.ProductID); err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CatalogHandler) availability(w http.ResponseWriter, r *http.Request) {
	qty, err := quantityParam(r)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	productID := chi.URLParam(r, "productID")
	ok, err := h.Inventory.HasAvailableStock(r.Context(), productID, qty)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product_id": productID, "quantity": qty, "available": ok})
}

func (h *CatalogHandler) receive(w http.ResponseWriter, r *http.Request) {
	var req inventory.ReceiveInput
	if !decodeJSON(w, r, &req) {
		return
	}
	b, err := h.Inventory.Receive(r.Context(), req)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"batch_id":       b.ID,
		"product_id":     b.ProductID,
		"batch_number":   b.BatchNumber,
		"quantity":       b.QuantityAvailable,
		"expires_at":     b.ExpiresAt,
		"is_near_expiry": b.IsNearExpiry,
	})
}

type SyncReq struct {
	ProductID string `json:"product_id"`
}

func (h *CatalogHandler) sync(w http.ResponseWriter, r *http.Request) {
	var req SyncReq
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	out, err := h.Inventory.Sync(r.Context(), req.ProductID)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	if out == nil {
		out = []inventory.Correction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"corrections": out})
}

func (h *CatalogHandler) refreshNearExpiry(w http.ResponseWriter, r *http.Request) {
	n, err := h.Inventory.RefreshNearExpiry(r.Context())
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"changed": n})
}
