// internal/ledger/plan.go
package ledger

import (
	"sort"

	"github.com/shopspring/decimal"

	"pressline/internal/apperror"
)

// Plan computes the history records a batch would produce against the given
// locked balances. Mutations on the same item are applied in batch order.
// It returns the records and the final balance of every touched item, or the
// first violation; on error nothing of the batch may be persisted.
func Plan(balances map[int64]Balance, mutations []Mutation) ([]HistoryRecord, map[int64]decimal.Decimal, error) {
	if len(mutations) == 0 {
		return nil, nil, apperror.InvalidInput("적용할 재고 변동이 없습니다", nil)
	}

	running := make(map[int64]decimal.Decimal, len(balances))
	records := make([]HistoryRecord, 0, len(mutations))

	for i, m := range mutations {
		if err := m.Validate(); err != nil {
			return nil, nil, err
		}
		bal, ok := balances[m.ItemID]
		if !ok {
			return nil, nil, apperror.NotFound("품목", m.ItemID)
		}

		current, seen := running[m.ItemID]
		if !seen {
			current = bal.Stock
		}
		after := current.Add(m.QuantityChange)
		if after.IsNegative() {
			return nil, nil, apperror.InsufficientStock(m.ItemID, current.String(), m.QuantityChange.Neg().String())
		}
		running[m.ItemID] = after

		records = append(records, HistoryRecord{
			ItemID:           m.ItemID,
			ChangeType:       m.ChangeType,
			QuantityChange:   m.QuantityChange,
			StockAfter:       after,
			BelowSafetyStock: bal.Safety.IsPositive() && after.LessThan(bal.Safety),
			SourceReference:  m.SourceReference,
			BatchSeq:         i + 1,
		})
	}
	return records, running, nil
}

// ItemIDs returns the distinct items of a batch in ascending order, which is
// the order their rows are locked in.
func ItemIDs(mutations []Mutation) []int64 {
	seen := make(map[int64]struct{}, len(mutations))
	ids := make([]int64, 0, len(mutations))
	for _, m := range mutations {
		if _, ok := seen[m.ItemID]; ok {
			continue
		}
		seen[m.ItemID] = struct{}{}
		ids = append(ids, m.ItemID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// VerifyChain checks stock_after[n] = stock_after[n-1] + quantity_change[n]
// over records in apply order, and that current equals the last stock_after.
func VerifyChain(itemID int64, records []HistoryRecord, current decimal.Decimal) error {
	for i := 1; i < len(records); i++ {
		want := records[i-1].StockAfter.Add(records[i].QuantityChange)
		if !records[i].StockAfter.Equal(want) {
			return &ChainViolation{ItemID: itemID, RecordID: records[i].ID, Expected: want, Actual: records[i].StockAfter}
		}
	}
	if len(records) > 0 {
		last := records[len(records)-1].StockAfter
		if !current.Equal(last) {
			return &ChainViolation{ItemID: itemID, Expected: last, Actual: current}
		}
	}
	return nil
}

// sameBatch reports whether previously stored records were produced by mutations.
func sameBatch(records []HistoryRecord, mutations []Mutation) bool {
	if len(records) != len(mutations) {
		return false
	}
	for i, m := range mutations {
		r := records[i]
		if r.ItemID != m.ItemID || r.ChangeType != m.ChangeType || !r.QuantityChange.Equal(m.QuantityChange) {
			return false
		}
	}
	return true
}
