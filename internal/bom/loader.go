// internal/bom/loader.go
package bom

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"pressline/internal/apperror"
	"pressline/internal/catalog"
)

// ChildFinder is the part of the catalog the loader needs.
type ChildFinder interface {
	FindBOMChildren(ctx context.Context, parentID int64) ([]catalog.BOMEdge, error)
}

var tracer = otel.Tracer("pressline/bom")

// Load fetches every edge reachable from rootID, querying each item once,
// and builds the graph from them.
func Load(ctx context.Context, rootID int64, finder ChildFinder, maxDepth int) (*Graph, error) {
	ctx, span := tracer.Start(ctx, "bom.load", trace.WithAttributes(attribute.Int64("root.id", rootID)))
	defer span.End()

	var edges []catalog.BOMEdge
	seen := map[int64]bool{rootID: true}
	frontier := []int64{rootID}

	for level := 0; len(frontier) > 0; level++ {
		var next []int64
		for _, id := range frontier {
			children, err := finder.FindBOMChildren(ctx, id)
			if err != nil {
				span.RecordError(err)
				return nil, fmt.Errorf("load bom children of %d: %w", id, err)
			}
			if len(children) > 0 && level >= maxDepth {
				return nil, apperror.DepthExceeded(rootID, maxDepth)
			}
			for _, e := range children {
				edges = append(edges, e)
				if !seen[e.ChildID] {
					seen[e.ChildID] = true
					next = append(next, e.ChildID)
				}
			}
		}
		frontier = next
	}

	span.SetAttributes(attribute.Int("edges.loaded", len(edges)), attribute.Int("items.loaded", len(seen)))
	return BuildWithLimit(rootID, edges, maxDepth)
}
