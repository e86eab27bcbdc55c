// internal/process/machine.go
package process

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"pressline/internal/apperror"
	"pressline/internal/catalog"
	"pressline/internal/ledger"
)

// allowedFrom lists the states each action may leave. COMPLETED and
// CANCELLED appear nowhere, so they are terminal.
var allowedFrom = map[Action][]Status{
	ActionStart:    {StatusPending},
	ActionComplete: {StatusInProgress},
	ActionCancel:   {StatusPending, StatusInProgress},
}

var hundred = decimal.NewFromInt(100)

// Can reports whether action is legal in the operation's current state.
func (op *Operation) Can(action Action) error {
	for _, s := range allowedFrom[action] {
		if op.Status == s {
			return nil
		}
	}
	return apperror.IllegalTransition(string(op.Status), string(action))
}

// Start moves a pending operation into production. lot is assigned unless the
// operation already carries one.
func (op *Operation) Start(now time.Time, lot string) error {
	if err := op.Can(ActionStart); err != nil {
		return err
	}
	op.Status = StatusInProgress
	op.StartedAt = &now
	if op.LotNumber == nil && lot != "" {
		op.LotNumber = &lot
	}
	return nil
}

// Cancel ends a pending or running operation without touching stock.
func (op *Operation) Cancel(now time.Time) error {
	if err := op.Can(ActionCancel); err != nil {
		return err
	}
	op.Status = StatusCancelled
	op.CancelledAt = &now
	return nil
}

// PlanCompletion works out the stock movements of completing op with actual
// produced units. edge is the active BOM edge output ← input, if any.
// The operation itself is not changed; see MarkCompleted.
func PlanCompletion(op *Operation, actual decimal.Decimal, edge *catalog.BOMEdge) (*CompletionPlan, error) {
	if err := op.Can(ActionComplete); err != nil {
		return nil, err
	}
	if !actual.IsPositive() {
		return nil, apperror.InvalidInput("실제 생산 수량은 0보다 커야 합니다", map[string]interface{}{"actual_quantity": actual})
	}
	if err := ledger.CheckScale("actual_quantity", actual); err != nil {
		return nil, err
	}

	ratio := ConversionRatio(edge)
	consumed := actual.Mul(ratio).Round(ledger.QuantityPlaces)
	if !consumed.IsPositive() {
		return nil, apperror.InvalidInput("투입 수량이 0으로 계산되었습니다", map[string]interface{}{
			"actual_quantity":  actual,
			"conversion_ratio": ratio,
		})
	}

	ref := fmt.Sprintf("process-operation:%d", op.ID)
	return &CompletionPlan{
		ActualQuantity:   actual,
		ConsumedQuantity: consumed,
		ConversionRatio:  ratio,
		Efficiency:       Efficiency(actual, op.PlannedQuantity),
		Mutations: []ledger.Mutation{
			ledger.Out(op.InputItemID, consumed, ref),
			ledger.In(op.OutputItemID, actual, ref),
		},
	}, nil
}

// MarkCompleted records a completion whose stock movements were applied.
func (op *Operation) MarkCompleted(actual decimal.Decimal, now time.Time) error {
	if err := op.Can(ActionComplete); err != nil {
		return err
	}
	op.Status = StatusCompleted
	op.ActualQuantity = &actual
	op.CompletedAt = &now
	return nil
}

// ConversionRatio is the input consumed per produced unit: 1 without a BOM
// edge, otherwise the inverse of the edge's quantity_required.
func ConversionRatio(edge *catalog.BOMEdge) decimal.Decimal {
	if edge == nil || !edge.Active || !edge.QuantityRequired.IsPositive() {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromInt(1).Div(edge.QuantityRequired)
}

// Efficiency is actual / planned as a percentage with two decimals.
func Efficiency(actual, planned decimal.Decimal) decimal.Decimal {
	if !planned.IsPositive() {
		return decimal.Zero
	}
	return actual.Div(planned).Mul(hundred).Round(2)
}

// CompletionKey is the ledger idempotency key of an operation's completion.
func CompletionKey(operationID int64) string {
	return fmt.Sprintf("process-operation:%d:complete", operationID)
}
