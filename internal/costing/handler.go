// internal/costing/handler.go
package costing

import (
	"net/http"
	"strconv"

	"pressline/internal/api/respond"
	"pressline/internal/apperror"
	"pressline/internal/pricing"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

type noBOMResponse struct {
	ItemID    int64          `json:"item_id"`
	Period    pricing.Period `json:"period"`
	HasBOM    bool           `json:"has_bom"`
	TotalCost int64          `json:"total_cost"`
}

type batchEntry struct {
	ItemID int64           `json:"item_id"`
	Result interface{}     `json:"result,omitempty"`
	Error  *apperror.Error `json:"error,omitempty"`
}

// HandleCost serves GET /cost?item_id=..&period=YYYY-MM. Repeating item_id
// computes several roots independently.
func (h *Handler) HandleCost(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	rawIDs := q["item_id"]
	if len(rawIDs) == 0 {
		respond.Error(w, r, apperror.InvalidInput("item_id가 필요합니다", nil))
		return
	}
	ids := make([]int64, 0, len(rawIDs))
	for _, raw := range rawIDs {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			respond.Error(w, r, apperror.InvalidInput("item_id가 올바르지 않습니다", map[string]interface{}{"item_id": raw}))
			return
		}
		ids = append(ids, id)
	}

	var period pricing.Period
	if raw := q.Get("period"); raw != "" {
		p, err := pricing.ParsePeriod(raw)
		if err != nil {
			respond.Error(w, r, err)
			return
		}
		period = p
	}

	if len(ids) == 1 {
		b, err := h.service.ComputeCost(r.Context(), ids[0], period)
		if err != nil {
			respond.Error(w, r, err)
			return
		}
		respond.JSON(w, http.StatusOK, present(b))
		return
	}

	results := h.service.ComputeCosts(r.Context(), ids, period)
	entries := make([]batchEntry, len(results))
	for i, res := range results {
		entries[i] = batchEntry{ItemID: res.ItemID}
		if res.Err != nil {
			appErr, ok := apperror.As(res.Err)
			if !ok {
				respond.Logger(r.Context()).WithError(res.Err).WithField("item_id", res.ItemID).Error("cost rollup failed")
				appErr = apperror.Internal(res.Err)
			}
			entries[i].Error = appErr
			continue
		}
		entries[i].Result = present(res.Breakdown)
	}
	respond.JSON(w, http.StatusOK, map[string]interface{}{"results": entries})
}

func present(b *CostBreakdown) interface{} {
	if !b.HasBOM {
		return noBOMResponse{ItemID: b.ItemID, Period: b.Period, HasBOM: false, TotalCost: 0}
	}
	return b
}
