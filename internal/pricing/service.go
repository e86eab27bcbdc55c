// internal/pricing/service.go
package pricing

import (
	"context"
)

// Provider resolves the price snapshot of an item for an explicit period.
// It never falls back to another period; a missing snapshot is ErrNotFound.
type Provider interface {
	GetPrice(ctx context.Context, itemID int64, period Period) (*Price, error)
	GetPrices(ctx context.Context, itemIDs []int64, period Period) (map[int64]*Price, error)
}

// Service adds period management on top of lookups.
type Service interface {
	Provider
	SetPrice(ctx context.Context, price Price) error
	CopyPeriod(ctx context.Context, from, to Period) (int, error)
	ClosePeriod(ctx context.Context, period Period) error
}
