// internal/pricing/domain.go
package pricing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"pressline/internal/apperror"
)

const periodLayout = "2006-01"

// Period is a calendar month, formatted YYYY-MM.
type Period string

// ParsePeriod validates a YYYY-MM string.
func ParsePeriod(s string) (Period, error) {
	if _, err := time.Parse(periodLayout, s); err != nil {
		return "", apperror.InvalidInput("기간은 YYYY-MM 형식이어야 합니다", map[string]interface{}{"period": s})
	}
	return Period(s), nil
}

// CurrentPeriod returns the period containing now.
func CurrentPeriod(now time.Time) Period {
	return Period(now.Format(periodLayout))
}

// Previous returns the month before p.
func (p Period) Previous() Period {
	t, err := time.Parse(periodLayout, string(p))
	if err != nil {
		return p
	}
	return Period(t.AddDate(0, -1, 0).Format(periodLayout))
}

func (p Period) String() string {
	return string(p)
}

// Basis says how a snapshot is priced.
type Basis string

const (
	BasisUnit Basis = "unit"
	BasisKg   Basis = "kg"
)

// Price is a snapshot value for one item in one period. Exactly one of
// UnitPrice and PricePerKg is set.
type Price struct {
	ItemID     int64            `json:"item_id"`
	Period     Period           `json:"period"`
	UnitPrice  *decimal.Decimal `json:"unit_price,omitempty"`
	PricePerKg *decimal.Decimal `json:"price_per_kg,omitempty"`
}

func (p Price) Basis() Basis {
	if p.PricePerKg != nil {
		return BasisKg
	}
	return BasisUnit
}

// Validate checks that exactly one price field is set and it is not negative.
func (p Price) Validate() error {
	if (p.UnitPrice == nil) == (p.PricePerKg == nil) {
		return apperror.InvalidInput("단가 또는 kg당 단가 중 하나만 입력해야 합니다", map[string]interface{}{"item_id": p.ItemID})
	}
	v := p.UnitPrice
	if v == nil {
		v = p.PricePerKg
	}
	if v.IsNegative() {
		return apperror.InvalidInput(fmt.Sprintf("품목 %d의 단가는 음수일 수 없습니다", p.ItemID), map[string]interface{}{"item_id": p.ItemID})
	}
	return nil
}
