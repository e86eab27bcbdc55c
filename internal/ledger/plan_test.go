package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"pressline/internal/apperror"
)

func qty(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func stock(v int64) Balance {
	return Balance{Stock: qty(v)}
}

func TestPlanAppliesBatch(t *testing.T) {
	records, finals, err := Plan(map[int64]Balance{1: stock(10), 2: stock(0)}, []Mutation{
		Out(1, qty(4), "op:1"),
		In(2, qty(4), "op:1"),
	})
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, ChangeOut, records[0].ChangeType)
	assert.True(t, records[0].QuantityChange.Equal(qty(-4)))
	assert.True(t, records[0].StockAfter.Equal(qty(6)))
	assert.Equal(t, 1, records[0].BatchSeq)

	assert.True(t, records[1].StockAfter.Equal(qty(4)))
	assert.Equal(t, 2, records[1].BatchSeq)

	assert.True(t, finals[1].Equal(qty(6)))
	assert.True(t, finals[2].Equal(qty(4)))
}

func TestPlanInsufficientStockAbortsBatch(t *testing.T) {
	records, finals, err := Plan(map[int64]Balance{1: stock(10), 2: stock(0)}, []Mutation{
		In(2, qty(5), "op:2"),
		Out(1, qty(11), "op:2"),
	})
	require.Error(t, err)
	assert.Nil(t, records)
	assert.Nil(t, finals)

	appErr, ok := apperror.As(err)
	require.True(t, ok)
	assert.Equal(t, apperror.KindInsufficientStock, appErr.Kind)
	assert.Equal(t, int64(1), appErr.Details["item_id"])
	assert.Equal(t, "10", appErr.Details["available"])
	assert.Equal(t, "11", appErr.Details["required"])
}

func TestPlanAppliesSameItemSequentially(t *testing.T) {
	records, finals, err := Plan(map[int64]Balance{1: stock(6)}, []Mutation{
		Out(1, qty(3), "a"),
		Out(1, qty(3), "b"),
	})
	require.NoError(t, err)
	assert.True(t, records[0].StockAfter.Equal(qty(3)))
	assert.True(t, records[1].StockAfter.Equal(qty(0)))
	assert.True(t, finals[1].IsZero())

	_, _, err = Plan(map[int64]Balance{1: stock(5)}, []Mutation{
		Out(1, qty(3), "a"),
		Out(1, qty(3), "b"),
	})
	assert.True(t, apperror.IsKind(err, apperror.KindInsufficientStock))
}

func TestPlanAdjustments(t *testing.T) {
	records, _, err := Plan(map[int64]Balance{1: stock(5)}, []Mutation{Adjust(1, qty(-5), "count")})
	require.NoError(t, err)
	assert.True(t, records[0].StockAfter.IsZero())

	_, _, err = Plan(map[int64]Balance{1: stock(5)}, []Mutation{Adjust(1, qty(-6), "count")})
	assert.True(t, apperror.IsKind(err, apperror.KindInsufficientStock))
}

func TestPlanRejectsInvalidBatches(t *testing.T) {
	balances := map[int64]Balance{1: stock(5)}

	tests := []struct {
		name      string
		mutations []Mutation
		kind      apperror.Kind
	}{
		{"empty batch", nil, apperror.KindInvalidInput},
		{"zero quantity", []Mutation{In(1, decimal.Zero, "x")}, apperror.KindInvalidInput},
		{"positive out", []Mutation{{ItemID: 1, ChangeType: ChangeOut, QuantityChange: qty(1)}}, apperror.KindInvalidInput},
		{"negative in", []Mutation{{ItemID: 1, ChangeType: ChangeIn, QuantityChange: qty(-1)}}, apperror.KindInvalidInput},
		{"unknown type", []Mutation{{ItemID: 1, ChangeType: "MOVE", QuantityChange: qty(1)}}, apperror.KindInvalidInput},
		{"five decimal places", []Mutation{In(1, decimal.RequireFromString("1.23456"), "x")}, apperror.KindInvalidInput},
		{"five decimal adjustment", []Mutation{Adjust(1, decimal.RequireFromString("-0.00001"), "x")}, apperror.KindInvalidInput},
		{"unknown item", []Mutation{In(2, qty(1), "x")}, apperror.KindNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Plan(balances, tt.mutations)
			assert.True(t, apperror.IsKind(err, tt.kind), "got %v", err)
		})
	}
}

func TestPlanFlagsSafetyStock(t *testing.T) {
	balances := map[int64]Balance{1: {Stock: qty(20), Safety: qty(10)}}

	records, _, err := Plan(balances, []Mutation{Out(1, qty(5), "a"), Out(1, qty(6), "b")})
	require.NoError(t, err)
	assert.False(t, records[0].BelowSafetyStock)
	assert.True(t, records[1].BelowSafetyStock)
}

func TestItemIDsAreDistinctAndAscending(t *testing.T) {
	ids := ItemIDs([]Mutation{In(9, qty(1), ""), Out(3, qty(1), ""), In(9, qty(2), ""), In(5, qty(1), "")})
	assert.Equal(t, []int64{3, 5, 9}, ids)
}

func TestVerifyChain(t *testing.T) {
	records := []HistoryRecord{
		{ID: 1, QuantityChange: qty(10), StockAfter: qty(10)},
		{ID: 2, QuantityChange: qty(-4), StockAfter: qty(6)},
		{ID: 3, QuantityChange: qty(1), StockAfter: qty(7)},
	}
	assert.NoError(t, VerifyChain(1, records, qty(7)))

	var violation *ChainViolation
	err := VerifyChain(1, records, qty(8))
	require.ErrorAs(t, err, &violation)
	assert.Zero(t, violation.RecordID)

	records[2].StockAfter = qty(9)
	err = VerifyChain(1, records, qty(9))
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, int64(3), violation.RecordID)
	assert.True(t, violation.Expected.Equal(qty(7)))

	assert.NoError(t, VerifyChain(1, nil, qty(3)), "an item without history has nothing to check")
}

func TestSameBatch(t *testing.T) {
	mutations := []Mutation{Out(1, qty(2), "a"), In(2, qty(2), "a")}
	records, _, err := Plan(map[int64]Balance{1: stock(2), 2: stock(0)}, mutations)
	require.NoError(t, err)

	assert.True(t, sameBatch(records, mutations))
	assert.False(t, sameBatch(records, mutations[:1]))
	assert.False(t, sameBatch(records, []Mutation{Out(1, qty(1), "a"), In(2, qty(2), "a")}))
}

// Applying any sequence of batches keeps every balance non-negative and every
// item's history a running-balance chain ending at its current stock.
func TestLedgerChainProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		itemCount := rapid.Int64Range(1, 3).Draw(t, "items")
		balances := map[int64]Balance{}
		for id := int64(1); id <= itemCount; id++ {
			balances[id] = stock(int64(rapid.IntRange(0, 50).Draw(t, "opening")))
		}
		opening := map[int64]decimal.Decimal{}
		for id, b := range balances {
			opening[id] = b.Stock
		}

		history := map[int64][]HistoryRecord{}
		var nextID int64 = 1

		steps := rapid.IntRange(1, 30).Draw(t, "batches")
		for s := 0; s < steps; s++ {
			size := rapid.IntRange(1, 3).Draw(t, "batch_size")
			batch := make([]Mutation, 0, size)
			for j := 0; j < size; j++ {
				id := rapid.Int64Range(1, itemCount).Draw(t, "item")
				q := qty(int64(rapid.IntRange(1, 20).Draw(t, "qty")))
				if rapid.Bool().Draw(t, "inbound") {
					batch = append(batch, In(id, q, "prop"))
				} else {
					batch = append(batch, Out(id, q, "prop"))
				}
			}

			records, finals, err := Plan(balances, batch)
			if err != nil {
				if !apperror.IsKind(err, apperror.KindInsufficientStock) {
					t.Fatalf("unexpected error: %v", err)
				}
				continue
			}
			for _, r := range records {
				if r.StockAfter.IsNegative() {
					t.Fatalf("negative stock_after %s for item %d", r.StockAfter, r.ItemID)
				}
				r.ID = nextID
				nextID++
				history[r.ItemID] = append(history[r.ItemID], r)
			}
			for id, f := range finals {
				b := balances[id]
				b.Stock = f
				balances[id] = b
			}
		}

		for id, b := range balances {
			if err := VerifyChain(id, history[id], b.Stock); err != nil {
				t.Fatalf("chain broken: %v", err)
			}
			if len(history[id]) > 0 {
				first := history[id][0]
				if !first.StockAfter.Sub(first.QuantityChange).Equal(opening[id]) {
					t.Fatalf("item %d: first record does not start from opening balance %s", id, opening[id])
				}
			}
		}
	})
}
