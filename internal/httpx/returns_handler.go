package httpx

import (
	"net/http"
	"time"

	"github.com/Farid-Ze/alfa-beauty-sub000/internal/domain"
	"github.com/Farid-Ze/alfa-beauty-sub000/internal/returns"
	"github.com/Farid-Ze/alfa-beauty-sub000/internal/store"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type ReturnsHandler struct {
	Returns *returns.Service
	DB      store.Reader
	Logger  *zap.Logger
}

type ReturnReq struct {
	OrderID string                `json:"order_id"`
	Type    domain.ReturnType     `json:"type"`
	Reason  string                `json:"reason"`
	Items   []returns.RequestItem `json:"items"`
}

type ReturnItemResp struct {
	ID                string  `json:"id"`
	OrderItemID       string  `json:"order_item_id"`
	ProductID         string  `json:"product_id"`
	BatchID           *string `json:"batch_id"`
	BatchNumber       string  `json:"batch_number"`
	QuantityRequested int     `json:"quantity_requested"`
	QuantityApproved  int     `json:"quantity_approved"`
	UnitPrice         int64   `json:"unit_price"`
	LineTotal         int64   `json:"line_total"`
	Restock           bool    `json:"restock"`
}

type ReturnResp struct {
	ID              string              `json:"id"`
	ReturnNumber    string              `json:"return_number"`
	OrderID         string              `json:"order_id"`
	Type            domain.ReturnType   `json:"type"`
	Status          domain.ReturnStatus `json:"status"`
	RejectionReason string              `json:"rejection_reason,omitempty"`
	RefundAmount    int64               `json:"refund_amount"`
	PointsReversed  int64               `json:"points_reversed"`
	SpendReversed   int64               `json:"spend_reversed"`
	CompletedAt     *time.Time          `json:"completed_at,omitempty"`
	Items           []ReturnItemResp    `json:"items"`
}

func returnResp(ret domain.Return) ReturnResp {
	resp := ReturnResp{
		ID:              ret.ID,
		ReturnNumber:    ret.ReturnNumber,
		OrderID:         ret.OrderID,
		Type:            ret.Type,
		Status:          ret.Status,
		RejectionReason: ret.RejectionReason,
		RefundAmount:    ret.RefundAmount,
		PointsReversed:  ret.PointsReversed,
		SpendReversed:   ret.SpendReversed,
		CompletedAt:     ret.CompletedAt,
		Items:           make([]ReturnItemResp, 0, len(ret.Items)),
	}
	for _, it := range ret.Items {
		resp.Items = append(resp.Items, ReturnItemResp{
			ID:                it.ID,
			OrderItemID:       it.OrderItemID,
			ProductID:         it.ProductID,
			BatchID:           it.BatchInventoryID,
			BatchNumber:       it.BatchNumber,
			QuantityRequested: it.QuantityRequested,
			QuantityApproved:  it.QuantityApproved,
			UnitPrice:         it.UnitPrice,
			LineTotal:         it.LineTotal,
			Restock:           it.Restock,
		})
	}
	return resp
}

func (h *ReturnsHandler) Register(r *chi.Mux) {
	r.Post("/returns", h.request)
	r.Get("/returns/{id}", h.get)
	r.Post("/returns/{id}/approve", h.approve)
	r.Post("/returns/{id}/receive", h.receive)
	r.Post("/returns/{id}/reject", h.reject)
	r.Post("/returns/{id}/complete", h.complete)
}

func (h *ReturnsHandler) request(w http.ResponseWriter, r *http.Request) {
	var req ReturnReq
	if !decodeJSON(w, r, &req) {
		return
	}
	ret, err := h.Returns.Request(r.Context(), returns.RequestInput{
		OrderID: req.OrderID,
		Type:    req.Type,
		Reason:  req.Reason,
		Items:   req.Items,
		Actor:   actor(r),
	})
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, returnResp(ret))
}

func (h *ReturnsHandler) get(w http.ResponseWriter, r *http.Request) {
	ret, err := h.DB.Return(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, returnResp(ret))
}

type ApproveReq struct {
	// Quantities maps return item id to the approved quantity.
	Quantities map[string]int `json:"quantities"`
}

func (h *ReturnsHandler) approve(w http.ResponseWriter, r *http.Request) {
	var req ApproveReq
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	ret, err := h.Returns.Approve(r.Context(), chi.URLParam(r, "id"), returns.ApproveInput{Quantities: req.Quantities, Actor: actor(r)})
	h.respond(w, r, ret, err)
}

func (h *ReturnsHandler) receive(w http.ResponseWriter, r *http.Request) {
	ret, err := h.Returns.MarkReceived(r.Context(), chi.URLParam(r, "id"), actor(r))
	h.respond(w, r, ret, err)
}

type RejectReq struct {
	Reason string `json:"reason"`
}

func (h *ReturnsHandler) reject(w http.ResponseWriter, r *http.Request) {
	var req RejectReq
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	ret, err := h.Returns.Reject(r.Context(), chi.URLParam(r, "id"), req.Reason, actor(r))
	h.respond(w, r, ret, err)
}

func (h *ReturnsHandler) complete(w http.ResponseWriter, r *http.Request) {
	res, err := h.Returns.CompleteReturn(r.Context(), chi.URLParam(r, "id"), actor(r))
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"return":            returnResp(res.Return),
		"restocked":         res.Restocked,
		"reversal":          res.Reversal,
		"already_completed": res.AlreadyCompleted,
	})
}

func (h *ReturnsHandler) respond(w http.ResponseWriter, r *http.Request, ret domain.Return, err error) {
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, returnResp(ret))
}
