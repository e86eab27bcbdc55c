// internal/ledger/handler.go
package ledger

import (
	"net/http"

	"github.com/shopspring/decimal"

	"pressline/internal/api/respond"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

type historyResponse struct {
	ItemID       int64           `json:"item_id"`
	CurrentStock decimal.Decimal `json:"current_stock"`
	Records      []HistoryRecord `json:"records"`
}

// HandleHistory serves GET /items/{id}/stock-history?limit=.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	itemID, err := respond.PathID(r, "id")
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	limit, err := respond.QueryInt(r, "limit", defaultHistoryLimit)
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	stock, err := h.service.Balance(r.Context(), itemID)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	records, err := h.service.History(r.Context(), itemID, limit)
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	respond.JSON(w, http.StatusOK, historyResponse{ItemID: itemID, CurrentStock: stock, Records: records})
}
