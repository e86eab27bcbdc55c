// internal/ledger/implementation.go
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"pressline/internal/apperror"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

// service implements the Service interface on Postgres.
type service struct {
	db       *sql.DB
	logger   logrus.FieldLogger
	tracer   trace.Tracer
	applied  metric.Int64Counter
	replayed metric.Int64Counter
}

// NewService creates a ledger backed by db.
func NewService(db *sql.DB, logger logrus.FieldLogger) Service {
	s := &service{
		db:     db,
		logger: logger,
		tracer: otel.Tracer("pressline/ledger"),
	}
	meter := otel.Meter("pressline/ledger")
	if c, err := meter.Int64Counter("ledger.mutations.applied",
		metric.WithDescription("Stock mutations written to the ledger")); err == nil {
		s.applied = c
	}
	if c, err := meter.Int64Counter("ledger.batches.replayed",
		metric.WithDescription("Batches answered from an existing idempotency key")); err == nil {
		s.replayed = c
	}
	return s
}

func (s *service) Apply(ctx context.Context, idempotencyKey string, mutations []Mutation) ([]HistoryRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	records, err := s.ApplyTx(ctx, tx, idempotencyKey, mutations)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return records, nil
}

// ApplyTx locks the touched item rows in ascending id order, plans the batch
// against the locked balances and writes balances and history. On error the
// caller must roll tx back.
func (s *service) ApplyTx(ctx context.Context, tx *sql.Tx, idempotencyKey string, mutations []Mutation) ([]HistoryRecord, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.apply",
		trace.WithAttributes(
			attribute.String("idempotency.key", idempotencyKey),
			attribute.Int("mutation.count", len(mutations)),
		),
	)
	defer span.End()

	if idempotencyKey == "" {
		return nil, apperror.InvalidInput("멱등성 키가 필요합니다", nil)
	}
	if len(mutations) == 0 {
		return nil, apperror.InvalidInput("적용할 재고 변동이 없습니다", nil)
	}

	// Concurrent batches with the same key block here until the first commits.
	res, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_batches (idempotency_key) VALUES ($1)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, idempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("register batch %s: %w", idempotencyKey, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.replay(ctx, tx, span, idempotencyKey, mutations)
	}

	ids := ItemIDs(mutations)
	balances, err := lockBalances(ctx, tx, ids)
	if err != nil {
		return nil, err
	}

	records, finals, err := Plan(balances, mutations)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `
			UPDATE items SET current_stock = $2, updated_at = NOW() WHERE id = $1
		`, id, finals[id]); err != nil {
			return nil, fmt.Errorf("update stock of item %d: %w", id, err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO stock_history
			(item_id, change_type, quantity_change, stock_after, below_safety,
			 source_reference, idempotency_key, batch_seq)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for i := range records {
		r := &records[i]
		r.IdempotencyKey = idempotencyKey
		err := stmt.QueryRowContext(ctx,
			r.ItemID,
			string(r.ChangeType),
			r.QuantityChange,
			r.StockAfter,
			r.BelowSafetyStock,
			r.SourceReference,
			r.IdempotencyKey,
			r.BatchSeq,
		).Scan(&r.ID, &r.CreatedAt)
		if err != nil {
			if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
				return nil, apperror.Conflict("이미 처리된 재고 변동입니다", map[string]interface{}{"idempotency_key": idempotencyKey})
			}
			return nil, fmt.Errorf("insert history record %d: %w", r.BatchSeq, err)
		}
	}

	if s.applied != nil {
		s.applied.Add(ctx, int64(len(records)))
	}
	span.SetAttributes(attribute.Bool("replay", false))
	s.logger.WithFields(logrus.Fields{
		"idempotency_key": idempotencyKey,
		"items":           len(ids),
		"mutations":       len(records),
		"replay":          false,
	}).Info("stock batch applied")
	return records, nil
}

func (s *service) replay(ctx context.Context, tx *sql.Tx, span trace.Span, key string, mutations []Mutation) ([]HistoryRecord, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT `+historyColumns+`
		FROM stock_history
		WHERE idempotency_key = $1
		ORDER BY batch_seq
	`, key)
	if err != nil {
		return nil, fmt.Errorf("load batch %s: %w", key, err)
	}
	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}

	if !sameBatch(records, mutations) {
		return nil, apperror.Conflict("같은 멱등성 키로 다른 재고 변동이 요청되었습니다", map[string]interface{}{"idempotency_key": key})
	}

	if s.replayed != nil {
		s.replayed.Add(ctx, 1)
	}
	span.SetAttributes(attribute.Bool("replay", true))
	s.logger.WithFields(logrus.Fields{
		"idempotency_key": key,
		"mutations":       len(records),
		"replay":          true,
	}).Info("stock batch replayed")
	return records, nil
}

func lockBalances(ctx context.Context, tx *sql.Tx, ids []int64) (map[int64]Balance, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, current_stock, safety_stock
		FROM items
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("lock items: %w", err)
	}
	defer rows.Close()

	balances := make(map[int64]Balance, len(ids))
	for rows.Next() {
		var id int64
		var b Balance
		if err := rows.Scan(&id, &b.Stock, &b.Safety); err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		balances[id] = b
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate balances: %w", err)
	}
	return balances, nil
}

const historyColumns = `
	id, item_id, change_type, quantity_change, stock_after, below_safety,
	source_reference, idempotency_key, batch_seq, created_at`

func scanRecords(rows *sql.Rows) ([]HistoryRecord, error) {
	defer rows.Close()

	records := []HistoryRecord{}
	for rows.Next() {
		var r HistoryRecord
		var changeType string
		err := rows.Scan(
			&r.ID,
			&r.ItemID,
			&changeType,
			&r.QuantityChange,
			&r.StockAfter,
			&r.BelowSafetyStock,
			&r.SourceReference,
			&r.IdempotencyKey,
			&r.BatchSeq,
			&r.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan history record: %w", err)
		}
		r.ChangeType = ChangeType(changeType)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return records, nil
}

// History returns the latest records of an item, newest first.
func (s *service) History(ctx context.Context, itemID int64, limit int) ([]HistoryRecord, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.history",
		trace.WithAttributes(attribute.Int64("item.id", itemID)),
	)
	defer span.End()

	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+historyColumns+`
		FROM stock_history
		WHERE item_id = $1
		ORDER BY id DESC
		LIMIT $2
	`, itemID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history of item %d: %w", itemID, err)
	}
	return scanRecords(rows)
}

func (s *service) Balance(ctx context.Context, itemID int64) (decimal.Decimal, error) {
	return balanceOf(ctx, s.db, itemID)
}

func balanceOf(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}, itemID int64) (decimal.Decimal, error) {
	var stock decimal.Decimal
	err := q.QueryRowContext(ctx, `SELECT current_stock FROM items WHERE id = $1`, itemID).Scan(&stock)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, apperror.NotFound("품목", itemID)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("get balance of item %d: %w", itemID, err)
	}
	return stock, nil
}

// Verify reads the balance and the full history of an item from one snapshot
// and checks the running-balance chain.
func (s *service) Verify(ctx context.Context, itemID int64) error {
	ctx, span := s.tracer.Start(ctx, "ledger.verify",
		trace.WithAttributes(attribute.Int64("item.id", itemID)),
	)
	defer span.End()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := balanceOf(ctx, tx, itemID)
	if err != nil {
		return err
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT `+historyColumns+`
		FROM stock_history
		WHERE item_id = $1
		ORDER BY id
	`, itemID)
	if err != nil {
		return fmt.Errorf("query history of item %d: %w", itemID, err)
	}
	records, err := scanRecords(rows)
	if err != nil {
		return err
	}

	if err := VerifyChain(itemID, records, current); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}
