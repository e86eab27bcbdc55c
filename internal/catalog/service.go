// internal/catalog/service.go
package catalog

import (
	"context"
)

// Service is the read side of item and BOM management.
type Service interface {
	GetItem(ctx context.Context, id int64) (*Item, error)
	GetItems(ctx context.Context, ids []int64) (map[int64]*Item, error)
	FindBOMChildren(ctx context.Context, parentID int64) ([]BOMEdge, error)
	FindBOMEdge(ctx context.Context, parentID, childID int64) (*BOMEdge, error)
	// InputVersion changes whenever a BOM edge, a price snapshot or a costed
	// item attribute changes.
	InputVersion(ctx context.Context) (int64, error)
}
