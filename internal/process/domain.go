// internal/process/domain.go
package process

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"pressline/internal/ledger"
)

// Status is the lifecycle state of a process operation.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
)

// ParseStatus accepts one of the four lifecycle states.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(s); st {
	case StatusPending, StatusInProgress, StatusCompleted, StatusCancelled:
		return st, true
	}
	return "", false
}

// Action is a transition request.
type Action string

const (
	ActionStart    Action = "start"
	ActionComplete Action = "complete"
	ActionCancel   Action = "cancel"
)

// Operation is one manufacturing job: it turns input items into output items.
type Operation struct {
	ID              int64            `json:"id"`
	OperationType   string           `json:"operation_type"`
	InputItemID     int64            `json:"input_item_id"`
	OutputItemID    int64            `json:"output_item_id"`
	PlannedQuantity decimal.Decimal  `json:"planned_quantity"`
	ActualQuantity  *decimal.Decimal `json:"actual_quantity,omitempty"`
	Status          Status           `json:"status"`
	LotNumber       *string          `json:"lot_number,omitempty"`
	Version         int              `json:"version"`
	CreatedAt       time.Time        `json:"created_at"`
	StartedAt       *time.Time       `json:"started_at,omitempty"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
	CancelledAt     *time.Time       `json:"cancelled_at,omitempty"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// NewOperation is the input for creating an operation.
type NewOperation struct {
	OperationType   string          `json:"operation_type" validate:"required,max=50"`
	InputItemID     int64           `json:"input_item_id" validate:"required,gt=0"`
	OutputItemID    int64           `json:"output_item_id" validate:"required,gt=0,nefield=InputItemID"`
	PlannedQuantity decimal.Decimal `json:"planned_quantity"`
	AssignLot       bool            `json:"assign_lot"`
}

// ListFilter narrows List. A zero Status matches every state.
type ListFilter struct {
	Status Status
	Limit  int
}

// CompletionPlan is what completing an operation will consume and produce.
type CompletionPlan struct {
	ActualQuantity   decimal.Decimal
	ConsumedQuantity decimal.Decimal
	ConversionRatio  decimal.Decimal
	Efficiency       decimal.Decimal
	Mutations        []ledger.Mutation
}

// Completion is the result of a successful complete transition.
type Completion struct {
	Operation        *Operation             `json:"operation"`
	ConsumedQuantity decimal.Decimal        `json:"consumed_quantity"`
	ConversionRatio  decimal.Decimal        `json:"conversion_ratio"`
	Efficiency       decimal.Decimal        `json:"efficiency"`
	StockHistory     []ledger.HistoryRecord `json:"stock_history"`
}

// Event types appended for every transition.
const (
	EventOperationCreated   = "OperationCreated"
	EventOperationStarted   = "OperationStarted"
	EventOperationCompleted = "OperationCompleted"
	EventOperationCancelled = "OperationCancelled"
)

// AggregateType names operation streams in the event store. An operation's
// stream version always equals its row version.
const AggregateType = "process_operation"

type transitionEvent struct {
	From             Status           `json:"from,omitempty"`
	To               Status           `json:"to"`
	LotNumber        *string          `json:"lot_number,omitempty"`
	ActualQuantity   *decimal.Decimal `json:"actual_quantity,omitempty"`
	ConsumedQuantity *decimal.Decimal `json:"consumed_quantity,omitempty"`
	HistoryIDs       []int64          `json:"history_ids,omitempty"`
}

func (e transitionEvent) encode() json.RawMessage {
	data, _ := json.Marshal(e)
	return data
}
