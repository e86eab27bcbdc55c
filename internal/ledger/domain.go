// internal/ledger/domain.go
package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"pressline/internal/apperror"
)

// ChangeType classifies a stock movement.
type ChangeType string

const (
	ChangeIn     ChangeType = "IN"
	ChangeOut    ChangeType = "OUT"
	ChangeAdjust ChangeType = "ADJUST"
)

// QuantityPlaces is the number of decimal places stock quantities are stored with.
const QuantityPlaces = 4

// CheckScale rejects a quantity that the stock columns would have to round.
func CheckScale(field string, q decimal.Decimal) error {
	if !q.Equal(q.Round(QuantityPlaces)) {
		return apperror.InvalidInput(fmt.Sprintf("수량은 소수점 이하 %d자리까지만 입력할 수 있습니다", QuantityPlaces),
			map[string]interface{}{field: q})
	}
	return nil
}

// Mutation is a requested change to one item's on-hand balance.
// QuantityChange is signed: positive for IN, negative for OUT, either for ADJUST.
type Mutation struct {
	ItemID          int64           `json:"item_id"`
	ChangeType      ChangeType      `json:"change_type"`
	QuantityChange  decimal.Decimal `json:"quantity_change"`
	SourceReference string          `json:"source_reference"`
}

// In receives qty units of itemID.
func In(itemID int64, qty decimal.Decimal, ref string) Mutation {
	return Mutation{ItemID: itemID, ChangeType: ChangeIn, QuantityChange: qty.Abs(), SourceReference: ref}
}

// Out issues qty units of itemID.
func Out(itemID int64, qty decimal.Decimal, ref string) Mutation {
	return Mutation{ItemID: itemID, ChangeType: ChangeOut, QuantityChange: qty.Abs().Neg(), SourceReference: ref}
}

// Adjust corrects the balance of itemID by a signed delta.
func Adjust(itemID int64, delta decimal.Decimal, ref string) Mutation {
	return Mutation{ItemID: itemID, ChangeType: ChangeAdjust, QuantityChange: delta, SourceReference: ref}
}

// Validate checks the scale and sign of the change against its type.
func (m Mutation) Validate() error {
	details := map[string]interface{}{"item_id": m.ItemID, "change_type": m.ChangeType}
	if m.ItemID <= 0 {
		return apperror.InvalidInput("품목이 지정되지 않았습니다", details)
	}
	if m.QuantityChange.IsZero() {
		return apperror.InvalidInput("변동 수량은 0일 수 없습니다", details)
	}
	if err := CheckScale("quantity_change", m.QuantityChange); err != nil {
		return err
	}
	switch m.ChangeType {
	case ChangeIn:
		if m.QuantityChange.IsNegative() {
			return apperror.InvalidInput("입고 수량은 양수여야 합니다", details)
		}
	case ChangeOut:
		if m.QuantityChange.IsPositive() {
			return apperror.InvalidInput("출고 수량은 음수로 기록되어야 합니다", details)
		}
	case ChangeAdjust:
	default:
		return apperror.InvalidInput(fmt.Sprintf("알 수 없는 변동 유형입니다: %s", m.ChangeType), details)
	}
	return nil
}

// HistoryRecord is one append-only stock movement with the balance it produced.
type HistoryRecord struct {
	ID               int64           `json:"id"`
	ItemID           int64           `json:"item_id"`
	ChangeType       ChangeType      `json:"change_type"`
	QuantityChange   decimal.Decimal `json:"quantity_change"`
	StockAfter       decimal.Decimal `json:"stock_after"`
	BelowSafetyStock bool            `json:"below_safety_stock"`
	SourceReference  string          `json:"source_reference"`
	IdempotencyKey   string          `json:"idempotency_key"`
	BatchSeq         int             `json:"batch_seq"`
	CreatedAt        time.Time       `json:"created_at"`
}

// Balance is the locked state of one item while a batch is planned.
type Balance struct {
	Stock  decimal.Decimal
	Safety decimal.Decimal
}

// ChainViolation reports a history record whose stock_after does not follow
// from its predecessor, or an item whose current_stock disagrees with its last record.
type ChainViolation struct {
	ItemID   int64
	RecordID int64
	Expected decimal.Decimal
	Actual   decimal.Decimal
}

func (v *ChainViolation) Error() string {
	if v.RecordID == 0 {
		return fmt.Sprintf("item %d: current_stock %s does not match last stock_after %s", v.ItemID, v.Actual, v.Expected)
	}
	return fmt.Sprintf("item %d: record %d has stock_after %s, expected %s", v.ItemID, v.RecordID, v.Actual, v.Expected)
}
