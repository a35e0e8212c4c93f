package httpx

import (
	"errors"
	"net/http"

	"github.com/Farid-Ze/alfa-beauty-sub000/internal/domain"
	"github.com/Farid-Ze/alfa-beauty-sub000/internal/inventory"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// writeError maps the domain error taxonomy onto status codes. Unexpected
// failures get a generic message; the detail goes to the log.
func writeError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	var (
		valid *domain.ValidationError
		trans *domain.StateTransitionError
	)
	if stock, ok := inventory.IsInsufficient(err); ok {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":      "cannot fulfill quantity",
			"product_id": stock.ProductID,
			"requested":  stock.Requested,
			"available":  stock.Available,
		})
		return
	}
	switch {
	case errors.As(err, &valid):
		body := map[string]any{"error": valid.Error(), "field": valid.Field}
		if valid.Minimum > 0 {
			body["requested"] = valid.Requested
			body["minimum"] = valid.Minimum
		}
		writeJSON(w, http.StatusUnprocessableEntity, body)
	case errors.As(err, &trans):
		writeJSON(w, http.StatusConflict, map[string]any{"error": trans.Error(), "from": trans.From, "to": trans.To})
	case errors.Is(err, domain.ErrEmptyCart):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "cart is empty"})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	default:
		if log != nil {
			log.Error("request failed",
				zap.String("path", r.URL.Path),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.Error(err))
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "something went wrong, please try again"})
	}
}
