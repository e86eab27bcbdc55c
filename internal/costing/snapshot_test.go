package costing

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pressline/internal/catalog"
	"pressline/internal/pgtest"
	"pressline/internal/pricing"
)

func setUnitPrice(t *testing.T, svc pricing.Service, itemID int64, v string) {
	t.Helper()
	d := decimal.RequireFromString(v)
	require.NoError(t, svc.SetPrice(context.Background(), pricing.Price{ItemID: itemID, Period: testPeriod, UnitPrice: &d}))
}

func TestSnapshotRollupSeesPriceOverride(t *testing.T) {
	db := pgtest.Open(t)
	logger, _ := test.NewNullLogger()
	prices := pricing.NewService(db)
	ctx := context.Background()

	root := pgtest.CreateItem(t, db, pgtest.WithCategory("FINISHED"))
	sub := pgtest.CreateItem(t, db, pgtest.WithCategory("SEMI_FINISHED"))
	leaf := pgtest.CreateItem(t, db)
	pgtest.AddBOMEdge(t, db, root, sub, "2")
	pgtest.AddBOMEdge(t, db, sub, leaf, "3")
	setUnitPrice(t, prices, leaf, "10")

	e := NewEngine(catalog.NewService(db), prices,
		WithSnapshots(db),
		WithCache(&memoryCache{}, time.Minute),
		WithLogger(logger),
	)

	b, err := e.ComputeCost(ctx, root, testPeriod)
	require.NoError(t, err)
	assertDecimal(t, "60", b.MaterialCost, "2 × 3 × 10")
	require.Len(t, b.Lines, 2)

	setUnitPrice(t, prices, leaf, "25")

	b, err = e.ComputeCost(ctx, root, testPeriod)
	require.NoError(t, err)
	assertDecimal(t, "150", b.MaterialCost, "override is visible on the next call")
}

func TestInputVersionIgnoresStockMovements(t *testing.T) {
	db := pgtest.Open(t)
	ctx := context.Background()
	item := pgtest.CreateItem(t, db, pgtest.WithStock("5"))

	tx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
	require.NoError(t, err)
	defer tx.Rollback()
	cat := catalog.NewService(tx)

	before, err := cat.InputVersion(ctx)
	require.NoError(t, err)

	_, err = tx.ExecContext(ctx, `UPDATE items SET current_stock = current_stock + 1 WHERE id = $1`, item)
	require.NoError(t, err)
	after, err := cat.InputVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after, "stock is not a cost input")

	_, err = tx.ExecContext(ctx, `UPDATE items SET scrap_weight = 0.5, scrap_unit_price = 100 WHERE id = $1`, item)
	require.NoError(t, err)
	after, err = cat.InputVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, before+1, after, "scrap attributes are")
}
