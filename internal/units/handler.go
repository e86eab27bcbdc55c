// internal/units/handler.go
package units

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"pressline/internal/api/respond"
	"pressline/internal/apperror"
)

type Handler struct {
	validate *validator.Validate
}

func NewHandler() *Handler {
	return &Handler{validate: validator.New()}
}

type calculateRequest struct {
	Thickness   *float64 `json:"thickness" validate:"required"`
	Width       *float64 `json:"width" validate:"required"`
	Length      *float64 `json:"length" validate:"required"`
	SEPFactor   *float64 `json:"sep_factor,omitempty"`
	Density     *float64 `json:"density,omitempty"`
	KgUnitPrice *float64 `json:"kg_unit_price,omitempty"`
}

type calculateResponse struct {
	WeightPerPiece decimal.Decimal `json:"weight_per_piece"`
	PieceUnitPrice *int64          `json:"piece_unit_price"`
}

// HandleCalculate serves POST /coil-specs/calculate.
func (h *Handler) HandleCalculate(w http.ResponseWriter, r *http.Request) {
	var req calculateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, r, apperror.InvalidInput("요청 본문을 해석할 수 없습니다", nil))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respond.Error(w, r, respond.ValidationError(err))
		return
	}

	g := Geometry{Thickness: *req.Thickness, Width: *req.Width, Length: *req.Length}
	if req.Density != nil {
		g.Density = *req.Density
	} else {
		g.Density = DefaultDensity
	}
	if req.SEPFactor != nil {
		g.SEPFactor = *req.SEPFactor
	} else {
		g.SEPFactor = DefaultSEPFactor
	}

	weight, err := PieceWeight(g.Thickness, g.Width, g.Length, g.Density, g.SEPFactor)
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	var kgPrice *decimal.Decimal
	if req.KgUnitPrice != nil {
		p := decimal.NewFromFloat(*req.KgUnitPrice)
		kgPrice = &p
	}

	respond.JSON(w, http.StatusOK, calculateResponse{
		WeightPerPiece: weight,
		PieceUnitPrice: PiecePrice(kgPrice, weight),
	})
}
