// internal/costing/service.go
package costing

import (
	"context"

	"pressline/internal/pricing"
)

// Service computes BOM cost rollups. An empty period means the current one.
type Service interface {
	ComputeCost(ctx context.Context, rootID int64, period pricing.Period) (*CostBreakdown, error)
	ComputeCosts(ctx context.Context, rootIDs []int64, period pricing.Period) []Result
}
