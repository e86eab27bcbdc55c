// internal/chaos/experiments.go
package chaos

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"pressline/internal/apperror"
	"pressline/internal/catalog"
	"pressline/internal/ledger"
	"pressline/internal/process"
	"pressline/pkg/eventstore"
)

// Target is the system the drills run against.
type Target struct {
	DB      *sql.DB
	Ledger  ledger.Service
	Process process.Service
	Events  *eventstore.EventStore
}

// Drills returns the predefined experiments, each using workers concurrent callers.
func Drills(t Target, workers int, duration time.Duration) []Experiment {
	return []Experiment{
		ConcurrentStockDraw(t, workers, duration),
		CompletionStorm(t, workers, duration),
	}
}

// ConcurrentStockDraw fires more single-unit draws at one item than it has
// stock for. Exactly the stock on hand must be granted.
func ConcurrentStockDraw(t Target, workers int, duration time.Duration) Experiment {
	var itemID int64
	var granted, rejected atomic.Int64
	stock := workers / 2
	if stock < 1 {
		stock = 1
	}

	return Experiment{
		Name:       "concurrent-stock-draw",
		Hypothesis: "Concurrent draws never overdraw an item and keep its history chain intact",
		Setup: []Action{{
			Name:   "seed-item",
			Target: "stock-ledger",
			Execute: func(ctx context.Context) error {
				id, err := seedItem(ctx, t, catalog.CategoryRaw, decimal.NewFromInt(int64(stock)))
				itemID = id
				return err
			},
		}},
		SteadyState: append(ledgerProbes(t.DB), Probe{
			Name: "drill_item_overdraw",
			Query: func(ctx context.Context) (float64, error) {
				if granted.Load()+rejected.Load() == 0 {
					return 0, nil
				}
				bal, err := t.Ledger.Balance(ctx, itemID)
				if err != nil {
					return 0, err
				}
				expected := decimal.NewFromInt(int64(stock) - granted.Load())
				f, _ := bal.Sub(expected).Float64()
				return f, nil
			},
			Threshold: Threshold{Operator: "==", Value: 0},
		}),
		Method: []Action{{
			Name:   "draw",
			Target: "stock-ledger",
			Execute: func(ctx context.Context) error {
				var unexpected atomic.Int64
				var wg sync.WaitGroup
				for i := 0; i < workers; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						_, err := t.Ledger.Apply(ctx, "chaos:draw:"+uuid.NewString(), []ledger.Mutation{
							ledger.Out(itemID, decimal.NewFromInt(1), "chaos:concurrent-stock-draw"),
						})
						switch {
						case err == nil:
							granted.Add(1)
						case apperror.IsKind(err, apperror.KindInsufficientStock):
							rejected.Add(1)
						default:
							unexpected.Add(1)
						}
					}()
				}
				wg.Wait()

				if n := unexpected.Load(); n > 0 {
					return fmt.Errorf("%d draws failed unexpectedly", n)
				}
				if g := granted.Load(); g != int64(stock) {
					return fmt.Errorf("granted %d draws against stock %d", g, stock)
				}
				return nil
			},
		}},
		Rollback: []Action{deactivate(t.DB, &itemID)},
		Validation: []Assertion{
			{Probe: "negative_stock_items", Condition: isZero, Message: "No item may hold negative stock"},
			{Probe: "broken_chains", Condition: isZero, Message: "Every item's stock must equal its last stock_after"},
			{Probe: "drill_item_overdraw", Condition: isZero, Message: "The drill item must lose exactly the granted draws"},
		},
		Duration: duration,
	}
}

// CompletionStorm completes one started operation from many callers at once.
// Stock must move exactly once and the operation must record one completion.
func CompletionStorm(t Target, workers int, duration time.Duration) Experiment {
	var opID, inputID, outputID int64
	var completed atomic.Int64
	planned := decimal.NewFromInt(10)

	return Experiment{
		Name:       "completion-storm",
		Hypothesis: "Repeated completions of one operation move stock exactly once",
		Setup: []Action{{
			Name:   "seed-operation",
			Target: "process-operations",
			Execute: func(ctx context.Context) error {
				var err error
				if inputID, err = seedItem(ctx, t, catalog.CategoryRaw, decimal.NewFromInt(100)); err != nil {
					return err
				}
				if outputID, err = seedItem(ctx, t, catalog.CategorySemiFinished, decimal.Zero); err != nil {
					return err
				}
				op, err := t.Process.Create(ctx, process.NewOperation{
					OperationType:   "BLANKING",
					InputItemID:     inputID,
					OutputItemID:    outputID,
					PlannedQuantity: planned,
				})
				if err != nil {
					return err
				}
				opID = op.ID
				_, err = t.Process.Start(ctx, opID)
				return err
			},
		}},
		SteadyState: append(ledgerProbes(t.DB),
			Probe{
				Name: "output_stock_drift",
				Query: func(ctx context.Context) (float64, error) {
					bal, err := t.Ledger.Balance(ctx, outputID)
					if err != nil {
						return 0, err
					}
					expected := planned.Mul(decimal.NewFromInt(completed.Load()))
					f, _ := bal.Sub(expected).Float64()
					return f, nil
				},
				Threshold: Threshold{Operator: "==", Value: 0},
			},
			Probe{
				Name: "event_version_drift",
				Query: func(ctx context.Context) (float64, error) {
					if opID == 0 {
						return 0, nil
					}
					op, err := t.Process.Get(ctx, opID)
					if err != nil {
						return 0, err
					}
					streamed, err := t.Events.GetCurrentVersion(ctx, process.AggregateType, opID)
					if err != nil {
						return 0, err
					}
					return float64(op.Version - streamed), nil
				},
				Threshold: Threshold{Operator: "==", Value: 0},
			},
		),
		Method: []Action{{
			Name:   "complete",
			Target: "process-operations",
			Execute: func(ctx context.Context) error {
				var unexpected atomic.Int64
				var wg sync.WaitGroup
				for i := 0; i < workers; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						_, err := t.Process.Complete(ctx, opID, planned)
						switch {
						case err == nil:
							completed.Add(1)
						case apperror.IsKind(err, apperror.KindIllegalTransition):
						default:
							unexpected.Add(1)
						}
					}()
				}
				wg.Wait()

				if n := unexpected.Load(); n > 0 {
					return fmt.Errorf("%d completions failed unexpectedly", n)
				}
				if c := completed.Load(); c != 1 {
					return fmt.Errorf("operation %d completed %d times", opID, c)
				}
				return nil
			},
		}},
		Rollback: []Action{deactivate(t.DB, &inputID), deactivate(t.DB, &outputID)},
		Validation: []Assertion{
			{Probe: "negative_stock_items", Condition: isZero, Message: "No item may hold negative stock"},
			{Probe: "broken_chains", Condition: isZero, Message: "Every item's stock must equal its last stock_after"},
			{Probe: "output_stock_drift", Condition: isZero, Message: "Output stock must rise by one completion only"},
			{Probe: "event_version_drift", Condition: isZero, Message: "The operation's event stream must match its row version"},
		},
		Duration: duration,
	}
}

// ledgerProbes watch invariants that hold across the whole item table.
func ledgerProbes(db *sql.DB) []Probe {
	return []Probe{
		{
			Name: "negative_stock_items",
			Query: func(ctx context.Context) (float64, error) {
				var n int
				err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM items WHERE current_stock < 0`).Scan(&n)
				return float64(n), err
			},
			Threshold: Threshold{Operator: "==", Value: 0},
		},
		{
			Name: "broken_chains",
			Query: func(ctx context.Context) (float64, error) {
				var n int
				err := db.QueryRowContext(ctx, `
					SELECT COUNT(*)
					FROM items i
					JOIN LATERAL (
						SELECT stock_after FROM stock_history h
						WHERE h.item_id = i.id
						ORDER BY h.id DESC
						LIMIT 1
					) last ON TRUE
					WHERE last.stock_after <> i.current_stock
				`).Scan(&n)
				return float64(n), err
			},
			Threshold: Threshold{Operator: "==", Value: 0},
		},
	}
}

// seedItem creates a drill item and books its opening stock through the ledger.
func seedItem(ctx context.Context, t Target, category catalog.Category, stock decimal.Decimal) (int64, error) {
	var id int64
	err := t.DB.QueryRowContext(ctx, `
		INSERT INTO items (code, name, category)
		VALUES ($1, 'chaos drill item', $2)
		RETURNING id
	`, "CHAOS-"+uuid.NewString(), string(category)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("seed item: %w", err)
	}

	if stock.IsPositive() {
		_, err := t.Ledger.Apply(ctx, "chaos:seed:"+uuid.NewString(), []ledger.Mutation{
			ledger.In(id, stock, "chaos:seed"),
		})
		if err != nil {
			return 0, fmt.Errorf("seed stock of %d: %w", id, err)
		}
	}
	return id, nil
}

func deactivate(db *sql.DB, id *int64) Action {
	return Action{
		Name:   "deactivate-item",
		Target: "catalog",
		Execute: func(ctx context.Context) error {
			if *id == 0 {
				return nil
			}
			_, err := db.ExecContext(ctx, `UPDATE items SET active = FALSE, updated_at = NOW() WHERE id = $1`, *id)
			return err
		},
	}
}

func isZero(v float64) bool { return v == 0 }
