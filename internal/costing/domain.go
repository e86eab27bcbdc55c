// internal/costing/domain.go
package costing

import (
	"github.com/shopspring/decimal"

	"pressline/internal/pricing"
)

// Line is one BOM line of the exploded root, expressed per unit of the root.
type Line struct {
	ItemID           int64            `json:"item_id"`
	Code             string           `json:"code"`
	ParentID         int64            `json:"parent_id"`
	Level            int              `json:"level"`
	QuantityRequired decimal.Decimal  `json:"quantity_required"`
	QuantityPerRoot  decimal.Decimal  `json:"quantity_per_root"`
	UnitCost         decimal.Decimal  `json:"unit_cost"`
	ExtendedCost     decimal.Decimal  `json:"extended_cost"`
	ScrapCredit      decimal.Decimal  `json:"scrap_credit"`
	IsLeaf           bool             `json:"is_leaf"`
	PriceBasis       pricing.Basis    `json:"price_basis,omitempty"`
	PieceWeight      *decimal.Decimal `json:"piece_weight,omitempty"`
}

// CostBreakdown is the net material cost of one unit of ItemID in Period.
// Monetary fields are whole currency units.
type CostBreakdown struct {
	ItemID            int64           `json:"item_id"`
	Period            pricing.Period  `json:"period"`
	HasBOM            bool            `json:"has_bom"`
	MaterialCost      decimal.Decimal `json:"material_cost"`
	ScrapRevenue      decimal.Decimal `json:"scrap_revenue"`
	ExcessScrapCredit decimal.Decimal `json:"excess_scrap_credit"`
	NetCost           decimal.Decimal `json:"net_cost"`
	TotalCost         decimal.Decimal `json:"total_cost"`
	Lines             []Line          `json:"per_line_breakdown"`
}

// Result is the outcome for one root of a batch request.
type Result struct {
	ItemID    int64          `json:"item_id"`
	Breakdown *CostBreakdown `json:"breakdown,omitempty"`
	Err       error          `json:"-"`
}
