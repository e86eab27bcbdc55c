// internal/ledger/service.go
package ledger

import (
	"context"
	"database/sql"

	"github.com/shopspring/decimal"
)

// Service owns Item.current_stock. Every balance change goes through Apply.
type Service interface {
	// Apply commits a batch atomically. A repeated idempotencyKey returns the
	// records of the first application without touching balances.
	Apply(ctx context.Context, idempotencyKey string, mutations []Mutation) ([]HistoryRecord, error)
	// ApplyTx is Apply inside a transaction owned by the caller.
	ApplyTx(ctx context.Context, tx *sql.Tx, idempotencyKey string, mutations []Mutation) ([]HistoryRecord, error)
	History(ctx context.Context, itemID int64, limit int) ([]HistoryRecord, error)
	Balance(ctx context.Context, itemID int64) (decimal.Decimal, error)
	Verify(ctx context.Context, itemID int64) error
}
