// internal/pricing/implementation.go
package pricing

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

var ErrNotFound = errors.New("price snapshot not found")

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// reader implements the Provider interface.
type reader struct {
	q      Querier
	tracer trace.Tracer
}

// NewProvider creates a read-only price lookup over q, which may be a
// transaction whose snapshot the caller wants lookups to share.
func NewProvider(q Querier) Provider {
	return &reader{q: q, tracer: otel.Tracer("pressline/pricing")}
}

// service implements the Service interface.
type service struct {
	*reader
	db *sql.DB
}

// NewService creates a new pricing service instance.
func NewService(db *sql.DB) Service {
	return &service{
		reader: &reader{q: db, tracer: otel.Tracer("pressline/pricing")},
		db:     db,
	}
}

func scanPrice(row interface{ Scan(...interface{}) error }) (*Price, error) {
	var p Price
	var period string
	var unit, perKg decimal.NullDecimal
	if err := row.Scan(&p.ItemID, &period, &unit, &perKg); err != nil {
		return nil, err
	}
	p.Period = Period(period)
	if unit.Valid {
		p.UnitPrice = &unit.Decimal
	}
	if perKg.Valid {
		p.PricePerKg = &perKg.Decimal
	}
	return &p, nil
}

// GetPrice returns the snapshot for exactly (itemID, period).
func (s *reader) GetPrice(ctx context.Context, itemID int64, period Period) (*Price, error) {
	ctx, span := s.tracer.Start(ctx, "pricing.get_price",
		trace.WithAttributes(
			attribute.Int64("item.id", itemID),
			attribute.String("period", period.String()),
		),
	)
	defer span.End()

	p, err := scanPrice(s.q.QueryRowContext(ctx, `
		SELECT item_id, period, unit_price, price_per_kg
		FROM price_snapshots
		WHERE item_id = $1 AND period = $2
	`, itemID, string(period)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get price of %d in %s: %w", itemID, period, err)
	}
	return p, nil
}

// GetPrices returns the snapshots that exist for itemIDs in period.
func (s *reader) GetPrices(ctx context.Context, itemIDs []int64, period Period) (map[int64]*Price, error) {
	ctx, span := s.tracer.Start(ctx, "pricing.get_prices",
		trace.WithAttributes(
			attribute.Int("item.count", len(itemIDs)),
			attribute.String("period", period.String()),
		),
	)
	defer span.End()

	prices := make(map[int64]*Price, len(itemIDs))
	if len(itemIDs) == 0 {
		return prices, nil
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT item_id, period, unit_price, price_per_kg
		FROM price_snapshots
		WHERE item_id = ANY($1) AND period = $2
	`, pq.Array(itemIDs), string(period))
	if err != nil {
		return nil, fmt.Errorf("query prices for %s: %w", period, err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanPrice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan price: %w", err)
		}
		prices[p.ItemID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate prices: %w", err)
	}

	span.SetAttributes(attribute.Int("prices.found", len(prices)))
	return prices, nil
}

// periodClosed reads the period row under lock, which is FOR SHARE for
// writers of single prices and FOR UPDATE for whole-period copies.
func periodClosed(ctx context.Context, tx *sql.Tx, period Period, lock string) (bool, error) {
	var closed bool
	err := tx.QueryRowContext(ctx, `
		SELECT closed_at IS NOT NULL FROM price_periods WHERE period = $1 `+lock,
		string(period)).Scan(&closed)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return closed, err
}

// SetPrice creates or overrides the snapshot of one item in an open period.
func (s *service) SetPrice(ctx context.Context, price Price) error {
	if _, err := ParsePeriod(string(price.Period)); err != nil {
		return err
	}
	if err := price.Validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO price_periods (period) VALUES ($1) ON CONFLICT (period) DO NOTHING
	`, string(price.Period)); err != nil {
		return fmt.Errorf("ensure period %s: %w", price.Period, err)
	}

	closed, err := periodClosed(ctx, tx, price.Period, "FOR SHARE")
	if err != nil {
		return fmt.Errorf("check period %s: %w", price.Period, err)
	}
	if closed {
		return apperror.Conflict("마감된 기간의 단가는 수정할 수 없습니다", map[string]interface{}{"period": price.Period})
	}

	var unit, perKg decimal.NullDecimal
	if price.UnitPrice != nil {
		unit = decimal.NullDecimal{Decimal: *price.UnitPrice, Valid: true}
	}
	if price.PricePerKg != nil {
		perKg = decimal.NullDecimal{Decimal: *price.PricePerKg, Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO price_snapshots (item_id, period, unit_price, price_per_kg)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (item_id, period) DO UPDATE
		SET unit_price = EXCLUDED.unit_price,
		    price_per_kg = EXCLUDED.price_per_kg,
		    updated_at = NOW()
	`, price.ItemID, string(price.Period), unit, perKg)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23503" {
			return apperror.NotFound("품목", price.ItemID)
		}
		return fmt.Errorf("upsert price: %w", err)
	}

	return tx.Commit()
}

// CopyPeriod seeds an empty, open period with every snapshot of another one.
// The target period row is locked for the whole copy, so concurrent copies
// and SetPrice calls on the target queue behind it.
func (s *service) CopyPeriod(ctx context.Context, from, to Period) (int, error) {
	ctx, span := s.tracer.Start(ctx, "pricing.copy_period",
		trace.WithAttributes(
			attribute.String("period.from", from.String()),
			attribute.String("period.to", to.String()),
		),
	)
	defer span.End()

	for _, p := range []Period{from, to} {
		if _, err := ParsePeriod(string(p)); err != nil {
			return 0, err
		}
	}
	if from == to {
		return 0, apperror.InvalidInput("원본과 대상 기간이 같습니다", map[string]interface{}{"period": to})
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO price_periods (period) VALUES ($1) ON CONFLICT (period) DO NOTHING
	`, string(to)); err != nil {
		return 0, fmt.Errorf("ensure period %s: %w", to, err)
	}

	closed, err := periodClosed(ctx, tx, to, "FOR UPDATE")
	if err != nil {
		return 0, fmt.Errorf("lock period %s: %w", to, err)
	}
	if closed {
		return 0, apperror.Conflict("마감된 기간의 단가는 수정할 수 없습니다", map[string]interface{}{"period": to})
	}

	var existing int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM price_snapshots WHERE period = $1`, string(to)).Scan(&existing); err != nil {
		return 0, fmt.Errorf("count target period: %w", err)
	}
	if existing > 0 {
		return 0, apperror.Conflict("대상 기간에 이미 단가가 등록되어 있습니다", map[string]interface{}{"period": to, "existing": existing})
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO price_snapshots (item_id, period, unit_price, price_per_kg)
		SELECT item_id, $2, unit_price, price_per_kg
		FROM price_snapshots
		WHERE period = $1
	`, string(from), string(to))
	if err != nil {
		return 0, fmt.Errorf("copy prices %s→%s: %w", from, to, err)
	}
	copied, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}

	span.SetAttributes(attribute.Int64("prices.copied", copied))
	return int(copied), nil
}

// ClosePeriod freezes a period; its snapshots can no longer be overridden.
func (s *service) ClosePeriod(ctx context.Context, period Period) error {
	if _, err := ParsePeriod(string(period)); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO price_periods (period, closed_at) VALUES ($1, NOW())
		ON CONFLICT (period) DO UPDATE SET closed_at = COALESCE(price_periods.closed_at, NOW())
	`, string(period))
	if err != nil {
		return fmt.Errorf("close period %s: %w", period, err)
	}
	return nil
}
