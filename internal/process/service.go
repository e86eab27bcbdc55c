// internal/process/service.go
package process

import (
	"context"

	"github.com/shopspring/decimal"

	"pressline/pkg/eventstore"
)

// Service drives process operations through their state machine. Every
// transition commits the state change, its stock movements and its event
// together, or not at all.
type Service interface {
	Create(ctx context.Context, req NewOperation) (*Operation, error)
	Get(ctx context.Context, id int64) (*Operation, error)
	List(ctx context.Context, filter ListFilter) ([]*Operation, error)
	Start(ctx context.Context, id int64) (*Operation, error)
	Complete(ctx context.Context, id int64, actual decimal.Decimal) (*Completion, error)
	Cancel(ctx context.Context, id int64) (*Operation, error)
	Events(ctx context.Context, id int64) ([]eventstore.Event, error)
}
