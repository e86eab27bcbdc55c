// internal/units/converter.go
package units

import (
	"math"

	"github.com/shopspring/decimal"

	"pressline/internal/apperror"
)

const (
	// DefaultDensity is the density of steel coil in g/cm³.
	DefaultDensity = 7.85
	// DefaultSEPFactor applies no yield loss.
	DefaultSEPFactor = 1.0

	weightPlaces = 4
)

var million = decimal.NewFromInt(1_000_000)

// Geometry describes one blank cut from a coil. Dimensions are in millimetres.
type Geometry struct {
	Thickness float64
	Width     float64
	Length    float64
	Density   float64
	SEPFactor float64
}

// WithDefaults fills a zero density or SEP factor with the standard values.
func (g Geometry) WithDefaults() Geometry {
	if g.Density == 0 {
		g.Density = DefaultDensity
	}
	if g.SEPFactor == 0 {
		g.SEPFactor = DefaultSEPFactor
	}
	return g
}

// PieceWeight returns density × length × width × thickness / 1,000,000 / sepFactor
// in kilograms, rounded to four decimal places. Every input must be finite and positive.
func PieceWeight(thickness, width, length, density, sepFactor float64) (decimal.Decimal, error) {
	checks := []struct {
		field string
		value float64
	}{
		{"thickness", thickness},
		{"width", width},
		{"length", length},
		{"density", density},
		{"sep_factor", sepFactor},
	}
	for _, c := range checks {
		if !(c.value > 0) || math.IsInf(c.value, 0) {
			return decimal.Zero, apperror.InvalidGeometry(c.field, c.value)
		}
	}

	weight := decimal.NewFromFloat(density).
		Mul(decimal.NewFromFloat(length)).
		Mul(decimal.NewFromFloat(width)).
		Mul(decimal.NewFromFloat(thickness)).
		Div(million).
		Div(decimal.NewFromFloat(sepFactor))

	return weight.Round(weightPlaces), nil
}

// GeometryWeight is PieceWeight over a Geometry, with defaults applied.
func GeometryWeight(g Geometry) (decimal.Decimal, error) {
	g = g.WithDefaults()
	return PieceWeight(g.Thickness, g.Width, g.Length, g.Density, g.SEPFactor)
}

// PiecePrice converts a per-kg price into a whole-currency per-piece price.
// A nil pricePerKg means the price is not determinable and yields nil, never zero.
func PiecePrice(pricePerKg *decimal.Decimal, pieceWeight decimal.Decimal) *int64 {
	if pricePerKg == nil {
		return nil
	}
	price := pricePerKg.Mul(pieceWeight).Round(0).IntPart()
	return &price
}
