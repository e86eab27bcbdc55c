package pricing

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pressline/internal/apperror"
	"pressline/internal/pgtest"
)

// unusedPeriod picks a far-future period no earlier run has touched.
func unusedPeriod(t *testing.T, db *sql.DB) Period {
	t.Helper()
	for {
		p := Period(fmt.Sprintf("%04d-%02d", 3000+rand.Intn(6000), 1+rand.Intn(12)))
		var n int
		err := db.QueryRow(`
			SELECT (SELECT COUNT(*) FROM price_periods WHERE period = $1)
			     + (SELECT COUNT(*) FROM price_snapshots WHERE period = $1)
		`, string(p)).Scan(&n)
		require.NoError(t, err)
		if n == 0 {
			return p
		}
	}
}

func unit(v string) *decimal.Decimal {
	d := decimal.RequireFromString(v)
	return &d
}

func TestSetPriceOverridesAndReads(t *testing.T) {
	db := pgtest.Open(t)
	svc := NewService(db)
	ctx := context.Background()
	period := unusedPeriod(t, db)
	item := pgtest.CreateItem(t, db)

	_, err := svc.GetPrice(ctx, item, period)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, svc.SetPrice(ctx, Price{ItemID: item, Period: period, UnitPrice: unit("120")}))
	require.NoError(t, svc.SetPrice(ctx, Price{ItemID: item, Period: period, PricePerKg: unit("950.5")}))

	p, err := svc.GetPrice(ctx, item, period)
	require.NoError(t, err)
	assert.Nil(t, p.UnitPrice)
	require.NotNil(t, p.PricePerKg)
	assert.True(t, p.PricePerKg.Equal(decimal.RequireFromString("950.5")))
	assert.Equal(t, BasisKg, p.Basis())

	err = svc.SetPrice(ctx, Price{ItemID: -1, Period: period, UnitPrice: unit("1")})
	assert.True(t, apperror.IsKind(err, apperror.KindNotFound))
}

func TestClosedPeriodRejectsChanges(t *testing.T) {
	db := pgtest.Open(t)
	svc := NewService(db)
	ctx := context.Background()
	period := unusedPeriod(t, db)
	item := pgtest.CreateItem(t, db)

	require.NoError(t, svc.SetPrice(ctx, Price{ItemID: item, Period: period, UnitPrice: unit("10")}))
	require.NoError(t, svc.ClosePeriod(ctx, period))
	require.NoError(t, svc.ClosePeriod(ctx, period), "closing twice is harmless")

	err := svc.SetPrice(ctx, Price{ItemID: item, Period: period, UnitPrice: unit("20")})
	assert.True(t, apperror.IsKind(err, apperror.KindConflict), "got %v", err)

	p, err := svc.GetPrice(ctx, item, period)
	require.NoError(t, err)
	assert.True(t, p.UnitPrice.Equal(decimal.NewFromInt(10)), "closed snapshot is unchanged")

	// A closed period cannot be seeded either, even while it is empty.
	empty := unusedPeriod(t, db)
	require.NoError(t, svc.ClosePeriod(ctx, empty))
	_, err = svc.CopyPeriod(ctx, period, empty)
	assert.True(t, apperror.IsKind(err, apperror.KindConflict), "got %v", err)
}

func TestCopyPeriod(t *testing.T) {
	db := pgtest.Open(t)
	svc := NewService(db)
	ctx := context.Background()
	from := unusedPeriod(t, db)
	a := pgtest.CreateItem(t, db)
	b := pgtest.CreateItem(t, db)

	require.NoError(t, svc.SetPrice(ctx, Price{ItemID: a, Period: from, UnitPrice: unit("7")}))
	require.NoError(t, svc.SetPrice(ctx, Price{ItemID: b, Period: from, PricePerKg: unit("1200")}))

	to := unusedPeriod(t, db)
	copied, err := svc.CopyPeriod(ctx, from, to)
	require.NoError(t, err)
	assert.Equal(t, 2, copied)

	prices, err := svc.GetPrices(ctx, []int64{a, b}, to)
	require.NoError(t, err)
	require.Len(t, prices, 2)
	assert.True(t, prices[a].UnitPrice.Equal(decimal.NewFromInt(7)))
	assert.True(t, prices[b].PricePerKg.Equal(decimal.NewFromInt(1200)))

	// The copy is independent of its source.
	require.NoError(t, svc.SetPrice(ctx, Price{ItemID: a, Period: from, UnitPrice: unit("8")}))
	p, err := svc.GetPrice(ctx, a, to)
	require.NoError(t, err)
	assert.True(t, p.UnitPrice.Equal(decimal.NewFromInt(7)))
}

func TestCopyPeriodIntoNonEmptyTargetConflicts(t *testing.T) {
	db := pgtest.Open(t)
	svc := NewService(db)
	ctx := context.Background()
	from, to := unusedPeriod(t, db), unusedPeriod(t, db)
	a := pgtest.CreateItem(t, db)
	b := pgtest.CreateItem(t, db)

	require.NoError(t, svc.SetPrice(ctx, Price{ItemID: a, Period: from, UnitPrice: unit("7")}))
	require.NoError(t, svc.SetPrice(ctx, Price{ItemID: b, Period: to, UnitPrice: unit("99")}))

	_, err := svc.CopyPeriod(ctx, from, to)
	require.Error(t, err)
	appErr, ok := apperror.As(err)
	require.True(t, ok)
	assert.Equal(t, apperror.KindConflict, appErr.Kind)

	_, err = svc.GetPrice(ctx, a, to)
	assert.ErrorIs(t, err, ErrNotFound, "nothing was copied")

	_, err = svc.CopyPeriod(ctx, from, from)
	assert.True(t, apperror.IsKind(err, apperror.KindInvalidInput))
	_, err = svc.CopyPeriod(ctx, from, "2026-13")
	assert.True(t, apperror.IsKind(err, apperror.KindInvalidInput))
}

func TestProviderReadsInsideTransaction(t *testing.T) {
	db := pgtest.Open(t)
	svc := NewService(db)
	ctx := context.Background()
	period := unusedPeriod(t, db)
	item := pgtest.CreateItem(t, db)
	require.NoError(t, svc.SetPrice(ctx, Price{ItemID: item, Period: period, UnitPrice: unit("5")}))

	tx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	require.NoError(t, err)
	defer tx.Rollback()
	snapshot := NewProvider(tx)

	before, err := snapshot.GetPrice(ctx, item, period)
	require.NoError(t, err)
	require.NoError(t, svc.SetPrice(ctx, Price{ItemID: item, Period: period, UnitPrice: unit("6")}))
	after, err := snapshot.GetPrice(ctx, item, period)
	require.NoError(t, err)

	assert.True(t, before.UnitPrice.Equal(*after.UnitPrice), "a snapshot does not see later commits")
}
