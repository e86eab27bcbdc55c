// internal/pricing/handler.go
package pricing

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"pressline/internal/api/respond"
	"pressline/internal/apperror"
)

type Handler struct {
	service  Service
	validate *validator.Validate
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service, validate: validator.New()}
}

type setPriceRequest struct {
	ItemID     int64            `json:"item_id" validate:"required,gt=0"`
	Period     string           `json:"period" validate:"required"`
	UnitPrice  *decimal.Decimal `json:"unit_price"`
	PricePerKg *decimal.Decimal `json:"price_per_kg"`
}

type copyRequest struct {
	From string `json:"from" validate:"required"`
}

type copyResponse struct {
	From   Period `json:"from"`
	To     Period `json:"to"`
	Copied int    `json:"copied"`
}

func decodeBody(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperror.InvalidInput("요청 본문을 해석할 수 없습니다", nil)
	}
	return nil
}

func pathPeriod(r *http.Request) (Period, error) {
	return ParsePeriod(chi.URLParam(r, "period"))
}

// HandleSetPrice serves PUT /prices.
func (h *Handler) HandleSetPrice(w http.ResponseWriter, r *http.Request) {
	var req setPriceRequest
	if err := decodeBody(r, &req); err != nil {
		respond.Error(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respond.Error(w, r, respond.ValidationError(err))
		return
	}

	price := Price{ItemID: req.ItemID, Period: Period(req.Period), UnitPrice: req.UnitPrice, PricePerKg: req.PricePerKg}
	if err := h.service.SetPrice(r.Context(), price); err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, price)
}

// HandleCopyPeriod serves POST /price-periods/{period}/copy.
func (h *Handler) HandleCopyPeriod(w http.ResponseWriter, r *http.Request) {
	to, err := pathPeriod(r)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	var req copyRequest
	if err := decodeBody(r, &req); err != nil {
		respond.Error(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respond.Error(w, r, respond.ValidationError(err))
		return
	}
	from, err := ParsePeriod(req.From)
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	copied, err := h.service.CopyPeriod(r.Context(), from, to)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, copyResponse{From: from, To: to, Copied: copied})
}

// HandleClosePeriod serves POST /price-periods/{period}/close.
func (h *Handler) HandleClosePeriod(w http.ResponseWriter, r *http.Request) {
	period, err := pathPeriod(r)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	if err := h.service.ClosePeriod(r.Context(), period); err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]interface{}{"period": period, "closed": true})
}
