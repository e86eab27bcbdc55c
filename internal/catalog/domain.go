// internal/catalog/domain.go
package catalog

import (
	"time"

	"github.com/shopspring/decimal"

	"pressline/internal/units"
)

// Category classifies an item in the manufacturing flow.
type Category string

const (
	CategoryRaw          Category = "RAW_MATERIAL"
	CategorySubMaterial  Category = "SUB_MATERIAL"
	CategorySemiFinished Category = "SEMI_FINISHED"
	CategoryFinished     Category = "FINISHED"
	CategoryMerchandise  Category = "MERCHANDISE"
)

// Item is a catalog entry. CurrentStock is a projection of the stock ledger
// and is only ever written by it.
type Item struct {
	ID           int64           `json:"id"`
	Code         string          `json:"code"`
	Name         string          `json:"name"`
	Category     Category        `json:"category"`
	Unit         string          `json:"unit"`
	CurrentStock decimal.Decimal `json:"current_stock"`
	SafetyStock  decimal.Decimal `json:"safety_stock"`
	Active       bool            `json:"active"`

	// Coil geometry, set only for coil-derived blanks.
	Thickness *float64 `json:"thickness,omitempty"`
	Width     *float64 `json:"width,omitempty"`
	Length    *float64 `json:"length,omitempty"`
	Density   *float64 `json:"density,omitempty"`
	SEPFactor *float64 `json:"sep_factor,omitempty"`

	// Scrap recovered per produced unit, in kg, and its price per kg.
	ScrapWeight    *decimal.Decimal `json:"scrap_weight,omitempty"`
	ScrapUnitPrice *decimal.Decimal `json:"scrap_unit_price,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Geometry returns the coil geometry of the item, if it has a complete one.
func (i *Item) Geometry() (units.Geometry, bool) {
	if i.Thickness == nil || i.Width == nil || i.Length == nil {
		return units.Geometry{}, false
	}
	g := units.Geometry{Thickness: *i.Thickness, Width: *i.Width, Length: *i.Length}
	if i.Density != nil {
		g.Density = *i.Density
	}
	if i.SEPFactor != nil {
		g.SEPFactor = *i.SEPFactor
	}
	return g.WithDefaults(), true
}

// ScrapCredit is scrap_weight × scrap_unit_price, or zero when either is missing.
func (i *Item) ScrapCredit() decimal.Decimal {
	if i.ScrapWeight == nil || i.ScrapUnitPrice == nil {
		return decimal.Zero
	}
	return i.ScrapWeight.Mul(*i.ScrapUnitPrice)
}

// BOMEdge says one unit of Parent consumes QuantityRequired units of Child.
type BOMEdge struct {
	ID               int64           `json:"id"`
	ParentID         int64           `json:"parent_id"`
	ChildID          int64           `json:"child_id"`
	QuantityRequired decimal.Decimal `json:"quantity_required"`
	LevelNo          int             `json:"level_no"`
	Active           bool            `json:"active"`
}
