// internal/catalog/implementation.go
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"pressline/internal/apperror"
)

// Querier is satisfied by both *sql.DB and *sql.Tx, so lookups can run inside
// the transaction of the request that needs them.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// service implements the Service interface.
type service struct {
	db     Querier
	tracer trace.Tracer
}

// NewService creates a catalog service reading from db.
func NewService(db Querier) Service {
	return &service{
		db:     db,
		tracer: otel.Tracer("pressline/catalog"),
	}
}

const itemColumns = `
	id, code, name, category, unit, current_stock, safety_stock, active,
	thickness, width, length, density, sep_factor, scrap_weight, scrap_unit_price,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row rowScanner) (*Item, error) {
	item := &Item{}
	var thickness, width, length, density, sepFactor sql.NullFloat64
	var scrapWeight, scrapPrice decimal.NullDecimal

	err := row.Scan(
		&item.ID,
		&item.Code,
		&item.Name,
		&item.Category,
		&item.Unit,
		&item.CurrentStock,
		&item.SafetyStock,
		&item.Active,
		&thickness,
		&width,
		&length,
		&density,
		&sepFactor,
		&scrapWeight,
		&scrapPrice,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	item.Thickness = nullFloat(thickness)
	item.Width = nullFloat(width)
	item.Length = nullFloat(length)
	item.Density = nullFloat(density)
	item.SEPFactor = nullFloat(sepFactor)
	if scrapWeight.Valid {
		item.ScrapWeight = &scrapWeight.Decimal
	}
	if scrapPrice.Valid {
		item.ScrapUnitPrice = &scrapPrice.Decimal
	}
	return item, nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// GetItem retrieves an item by its ID.
func (s *service) GetItem(ctx context.Context, id int64) (*Item, error) {
	ctx, span := s.tracer.Start(ctx, "catalog.get_item", trace.WithAttributes(attribute.Int64("item.id", id)))
	defer span.End()

	item, err := scanItem(s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("품목", id)
		}
		return nil, fmt.Errorf("get item %d: %w", id, err)
	}
	return item, nil
}

// GetItems retrieves several items in one round trip. Missing IDs are simply absent from the map.
func (s *service) GetItems(ctx context.Context, ids []int64) (map[int64]*Item, error) {
	ctx, span := s.tracer.Start(ctx, "catalog.get_items", trace.WithAttributes(attribute.Int("item.count", len(ids))))
	defer span.End()

	items := make(map[int64]*Item, len(ids))
	if len(ids) == 0 {
		return items, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items[item.ID] = item
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return items, nil
}

// FindBOMChildren returns the active edges below parentID in stored order.
func (s *service) FindBOMChildren(ctx context.Context, parentID int64) ([]BOMEdge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, parent_id, child_id, quantity_required, level_no, active
		FROM bom_edges
		WHERE parent_id = $1 AND active
		ORDER BY id ASC
	`, parentID)
	if err != nil {
		return nil, fmt.Errorf("query bom children of %d: %w", parentID, err)
	}
	defer rows.Close()

	var edges []BOMEdge
	for rows.Next() {
		var e BOMEdge
		if err := rows.Scan(&e.ID, &e.ParentID, &e.ChildID, &e.QuantityRequired, &e.LevelNo, &e.Active); err != nil {
			return nil, fmt.Errorf("scan bom edge: %w", err)
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bom edges: %w", err)
	}
	return edges, nil
}

// FindBOMEdge returns the active edge parentID → childID, or nil when there is none.
func (s *service) FindBOMEdge(ctx context.Context, parentID, childID int64) (*BOMEdge, error) {
	var e BOMEdge
	err := s.db.QueryRowContext(ctx, `
		SELECT id, parent_id, child_id, quantity_required, level_no, active
		FROM bom_edges
		WHERE parent_id = $1 AND child_id = $2 AND active
		ORDER BY id ASC
		LIMIT 1
	`, parentID, childID).Scan(&e.ID, &e.ParentID, &e.ChildID, &e.QuantityRequired, &e.LevelNo, &e.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query bom edge %d→%d: %w", parentID, childID, err)
	}
	return &e, nil
}

// InputVersion reads the counter the cost-input triggers bump.
func (s *service) InputVersion(ctx context.Context) (int64, error) {
	var v int64
	if err := s.db.QueryRowContext(ctx, `SELECT version FROM cost_input_version`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read cost input version: %w", err)
	}
	return v, nil
}
