package process

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pressline/internal/apperror"
	"pressline/internal/ledger"
	"pressline/internal/pgtest"
	"pressline/pkg/eventstore"
)

type fixture struct {
	db      *sql.DB
	ledger  ledger.Service
	service Service
}

func newFixture(t *testing.T) *fixture {
	db := pgtest.Open(t)
	logger, _ := test.NewNullLogger()
	led := ledger.NewService(db, logger)
	return &fixture{
		db:      db,
		ledger:  led,
		service: NewService(db, led, eventstore.NewEventStore(db), logger, WithLotPrefix("TST")),
	}
}

func (f *fixture) balance(t *testing.T, itemID int64) decimal.Decimal {
	b, err := f.ledger.Balance(context.Background(), itemID)
	require.NoError(t, err)
	return b
}

func (f *fixture) startedOperation(t *testing.T, inputStock string, planned int64) (*Operation, int64, int64) {
	ctx := context.Background()
	input := pgtest.CreateItem(t, f.db, pgtest.WithStock(inputStock))
	output := pgtest.CreateItem(t, f.db, pgtest.WithCategory("SEMI_FINISHED"))

	op, err := f.service.Create(ctx, NewOperation{
		OperationType:   "BLANKING",
		InputItemID:     input,
		OutputItemID:    output,
		PlannedQuantity: decimal.NewFromInt(planned),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, op.Status)
	assert.Nil(t, op.LotNumber)

	op, err = f.service.Start(ctx, op.ID)
	require.NoError(t, err)
	return op, input, output
}

var lotPattern = regexp.MustCompile(`^TST-\d{8}-\d{4,}$`)

func TestOperationLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	op, input, output := f.startedOperation(t, "100", 10)
	assert.Equal(t, StatusInProgress, op.Status)
	require.NotNil(t, op.LotNumber)
	assert.Regexp(t, lotPattern, *op.LotNumber)
	assert.Equal(t, 2, op.Version)

	completion, err := f.service.Complete(ctx, op.ID, decimal.NewFromInt(8))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, completion.Operation.Status)
	assert.True(t, completion.ConsumedQuantity.Equal(decimal.NewFromInt(8)))
	assert.True(t, completion.Efficiency.Equal(decimal.NewFromInt(80)))
	require.Len(t, completion.StockHistory, 2)

	assert.True(t, f.balance(t, input).Equal(decimal.NewFromInt(92)))
	assert.True(t, f.balance(t, output).Equal(decimal.NewFromInt(8)))

	_, err = f.service.Complete(ctx, op.ID, decimal.NewFromInt(8))
	assert.True(t, apperror.IsKind(err, apperror.KindIllegalTransition))
	assert.True(t, f.balance(t, input).Equal(decimal.NewFromInt(92)), "a second completion moves no stock")

	events, err := f.service.Events(ctx, op.ID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, EventOperationCreated, events[0].EventType)
	assert.Equal(t, EventOperationStarted, events[1].EventType)
	assert.Equal(t, EventOperationCompleted, events[2].EventType)

	assert.NoError(t, f.ledger.Verify(ctx, input))
	assert.NoError(t, f.ledger.Verify(ctx, output))
}

func TestCompleteWithInsufficientStockStaysInProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	op, input, output := f.startedOperation(t, "5", 10)

	_, err := f.service.Complete(ctx, op.ID, decimal.NewFromInt(10))
	appErr, ok := apperror.As(err)
	require.True(t, ok)
	assert.Equal(t, apperror.KindInsufficientStock, appErr.Kind)
	assert.Equal(t, input, appErr.Details["item_id"])

	current, err := f.service.Get(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, current.Status)
	assert.Equal(t, op.Version, current.Version)

	assert.True(t, f.balance(t, input).Equal(decimal.NewFromInt(5)))
	assert.True(t, f.balance(t, output).IsZero())

	completion, err := f.service.Complete(ctx, op.ID, decimal.NewFromInt(5))
	require.NoError(t, err, "the operation can still be completed within available stock")
	assert.Equal(t, StatusCompleted, completion.Operation.Status)
}

func TestCompleteUsesBOMConversion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	op, input, output := f.startedOperation(t, "10", 8)
	pgtest.AddBOMEdge(t, f.db, output, input, "4")

	completion, err := f.service.Complete(ctx, op.ID, decimal.NewFromInt(8))
	require.NoError(t, err)
	assert.True(t, completion.ConversionRatio.Equal(decimal.RequireFromString("0.25")))
	assert.True(t, completion.ConsumedQuantity.Equal(decimal.NewFromInt(2)))
	assert.True(t, f.balance(t, input).Equal(decimal.NewFromInt(8)))
}

func TestCancelledOperationCannotStart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	input := pgtest.CreateItem(t, f.db, pgtest.WithStock("10"))
	output := pgtest.CreateItem(t, f.db)
	op, err := f.service.Create(ctx, NewOperation{
		OperationType:   "PRESS",
		InputItemID:     input,
		OutputItemID:    output,
		PlannedQuantity: decimal.NewFromInt(1),
		AssignLot:       true,
	})
	require.NoError(t, err)
	require.NotNil(t, op.LotNumber)

	cancelled, err := f.service.Cancel(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.CancelledAt)

	_, err = f.service.Start(ctx, op.ID)
	assert.True(t, apperror.IsKind(err, apperror.KindIllegalTransition))

	ops, err := f.service.List(ctx, ListFilter{Status: StatusCancelled, Limit: 500})
	require.NoError(t, err)
	found := false
	for _, o := range ops {
		found = found || o.ID == op.ID
	}
	assert.True(t, found)
}

func TestCreateValidatesItems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := pgtest.CreateItem(t, f.db)

	_, err := f.service.Create(ctx, NewOperation{
		OperationType:   "PRESS",
		InputItemID:     item,
		OutputItemID:    -1,
		PlannedQuantity: decimal.NewFromInt(1),
	})
	assert.True(t, apperror.IsKind(err, apperror.KindNotFound))

	_, err = f.service.Create(ctx, NewOperation{
		OperationType:   "PRESS",
		InputItemID:     item,
		OutputItemID:    item + 1,
		PlannedQuantity: decimal.Zero,
	})
	assert.True(t, apperror.IsKind(err, apperror.KindInvalidInput))

	_, err = f.service.Create(ctx, NewOperation{
		OperationType:   "PRESS",
		InputItemID:     item,
		OutputItemID:    item + 1,
		PlannedQuantity: decimal.RequireFromString("0.00001"),
	})
	assert.True(t, apperror.IsKind(err, apperror.KindInvalidInput))
}

func TestTransitionOnUnknownOperation(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Start(context.Background(), -1)
	assert.True(t, apperror.IsKind(err, apperror.KindNotFound))
}
