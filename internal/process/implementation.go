// internal/process/implementation.go
package process

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"pressline/internal/apperror"
	"pressline/internal/catalog"
	"pressline/internal/config"
	"pressline/internal/ledger"
	"pressline/pkg/eventstore"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	defaultLotPrefix = "LOT"
)

// service implements the Service interface.
type service struct {
	db          *sql.DB
	ledger      ledger.Service
	eventStore  *eventstore.EventStore
	logger      logrus.FieldLogger
	lotPrefix   string
	now         func() time.Time
	tracer      trace.Tracer
	transitions metric.Int64Counter
}

// Option configures the service.
type Option func(*service)

func WithLotPrefix(prefix string) Option {
	return func(s *service) {
		if prefix != "" {
			s.lotPrefix = prefix
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

// NewService creates a new process operation service instance.
func NewService(db *sql.DB, led ledger.Service, es *eventstore.EventStore, logger logrus.FieldLogger, opts ...Option) Service {
	s := &service{
		db:         db,
		ledger:     led,
		eventStore: es,
		logger:     logger,
		lotPrefix:  defaultLotPrefix,
		now:        time.Now,
		tracer:     otel.Tracer("pressline/process"),
	}
	for _, opt := range opts {
		opt(s)
	}

	if c, err := otel.Meter("pressline/process").Int64Counter("process.transitions",
		metric.WithDescription("Process operation transitions by action and outcome")); err == nil {
		s.transitions = c
	}
	return s
}

const operationColumns = `
	id, operation_type, input_item_id, output_item_id, planned_quantity, actual_quantity,
	status, lot_number, version, created_at, started_at, completed_at, cancelled_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOperation(row rowScanner) (*Operation, error) {
	op := &Operation{}
	var status string
	var actual decimal.NullDecimal
	var lot sql.NullString
	var startedAt, completedAt, cancelledAt sql.NullTime

	err := row.Scan(
		&op.ID,
		&op.OperationType,
		&op.InputItemID,
		&op.OutputItemID,
		&op.PlannedQuantity,
		&actual,
		&status,
		&lot,
		&op.Version,
		&op.CreatedAt,
		&startedAt,
		&completedAt,
		&cancelledAt,
		&op.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	op.Status = Status(status)
	if actual.Valid {
		op.ActualQuantity = &actual.Decimal
	}
	if lot.Valid {
		op.LotNumber = &lot.String
	}
	if startedAt.Valid {
		op.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		op.CompletedAt = &completedAt.Time
	}
	if cancelledAt.Valid {
		op.CancelledAt = &cancelledAt.Time
	}
	return op, nil
}

// Create registers a PENDING operation after checking both items exist.
func (s *service) Create(ctx context.Context, req NewOperation) (*Operation, error) {
	ctx, span := s.tracer.Start(ctx, "process.create",
		trace.WithAttributes(
			attribute.String("operation.type", req.OperationType),
			attribute.Int64("input.item.id", req.InputItemID),
			attribute.Int64("output.item.id", req.OutputItemID),
		),
	)
	defer span.End()

	if !req.PlannedQuantity.IsPositive() {
		return nil, apperror.InvalidInput("계획 수량은 0보다 커야 합니다", map[string]interface{}{"planned_quantity": req.PlannedQuantity})
	}
	if err := ledger.CheckScale("planned_quantity", req.PlannedQuantity); err != nil {
		return nil, err
	}
	if req.InputItemID == req.OutputItemID {
		return nil, apperror.InvalidInput("투입 품목과 산출 품목이 같을 수 없습니다", map[string]interface{}{"item_id": req.InputItemID})
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	items, err := catalog.NewService(tx).GetItems(ctx, []int64{req.InputItemID, req.OutputItemID})
	if err != nil {
		return nil, err
	}
	for _, id := range []int64{req.InputItemID, req.OutputItemID} {
		if _, ok := items[id]; !ok {
			return nil, apperror.NotFound("품목", id)
		}
	}

	var lot sql.NullString
	if req.AssignLot {
		l, err := nextLot(ctx, tx, s.lotPrefix, s.now())
		if err != nil {
			return nil, err
		}
		lot = sql.NullString{String: l, Valid: true}
	}

	op, err := scanOperation(tx.QueryRowContext(ctx, `
		INSERT INTO process_operations (operation_type, input_item_id, output_item_id, planned_quantity, lot_number)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+operationColumns,
		req.OperationType, req.InputItemID, req.OutputItemID, req.PlannedQuantity, lot,
	))
	if err != nil {
		return nil, fmt.Errorf("insert process operation: %w", err)
	}

	event := eventstore.Event{
		EventType: EventOperationCreated,
		EventData: transitionEvent{To: op.Status, LotNumber: op.LotNumber}.encode(),
	}
	if err := s.eventStore.AppendEventsTx(ctx, tx, AggregateType, op.ID, 0, []eventstore.Event{event}); err != nil {
		return nil, fmt.Errorf("append created event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	span.SetAttributes(attribute.Int64("operation.id", op.ID))
	s.logger.WithFields(logrus.Fields{
		"operation_id":   op.ID,
		"operation_type": op.OperationType,
	}).Info("process operation created")
	return op, nil
}

func (s *service) Get(ctx context.Context, id int64) (*Operation, error) {
	op, err := scanOperation(s.db.QueryRowContext(ctx, `
		SELECT `+operationColumns+` FROM process_operations WHERE id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("공정 작업", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get process operation %d: %w", id, err)
	}
	return op, nil
}

// List returns operations newest first.
func (s *service) List(ctx context.Context, filter ListFilter) ([]*Operation, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+operationColumns+`
		FROM process_operations
		WHERE ($1 = '' OR status = $1)
		ORDER BY id DESC
		LIMIT $2
	`, string(filter.Status), limit)
	if err != nil {
		return nil, fmt.Errorf("list process operations: %w", err)
	}
	defer rows.Close()

	ops := []*Operation{}
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan process operation: %w", err)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate process operations: %w", err)
	}
	return ops, nil
}

// Start assigns a lot number if the operation has none and moves it to IN_PROGRESS.
func (s *service) Start(ctx context.Context, id int64) (*Operation, error) {
	return s.transition(ctx, id, ActionStart, func(ctx context.Context, tx *sql.Tx, op *Operation) (string, transitionEvent, error) {
		if err := op.Can(ActionStart); err != nil {
			return "", transitionEvent{}, err
		}
		now := s.now()
		var lot string
		if op.LotNumber == nil {
			l, err := nextLot(ctx, tx, s.lotPrefix, now)
			if err != nil {
				return "", transitionEvent{}, err
			}
			lot = l
		}
		if err := op.Start(now, lot); err != nil {
			return "", transitionEvent{}, err
		}
		return EventOperationStarted, transitionEvent{LotNumber: op.LotNumber}, nil
	})
}

// Complete consumes input stock and receives output stock through the ledger
// in the same transaction as the status change. When the ledger rejects the
// batch the operation stays IN_PROGRESS.
func (s *service) Complete(ctx context.Context, id int64, actual decimal.Decimal) (*Completion, error) {
	var plan *CompletionPlan
	var records []ledger.HistoryRecord

	op, err := s.transition(ctx, id, ActionComplete, func(ctx context.Context, tx *sql.Tx, op *Operation) (string, transitionEvent, error) {
		if err := op.Can(ActionComplete); err != nil {
			return "", transitionEvent{}, err
		}

		edge, err := catalog.NewService(tx).FindBOMEdge(ctx, op.OutputItemID, op.InputItemID)
		if err != nil {
			return "", transitionEvent{}, err
		}
		plan, err = PlanCompletion(op, actual, edge)
		if err != nil {
			return "", transitionEvent{}, err
		}

		records, err = s.ledger.ApplyTx(ctx, tx, CompletionKey(op.ID), plan.Mutations)
		if err != nil {
			return "", transitionEvent{}, err
		}

		if err := op.MarkCompleted(plan.ActualQuantity, s.now()); err != nil {
			return "", transitionEvent{}, err
		}

		historyIDs := make([]int64, len(records))
		for i, r := range records {
			historyIDs[i] = r.ID
		}
		return EventOperationCompleted, transitionEvent{
			LotNumber:        op.LotNumber,
			ActualQuantity:   &plan.ActualQuantity,
			ConsumedQuantity: &plan.ConsumedQuantity,
			HistoryIDs:       historyIDs,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	return &Completion{
		Operation:        op,
		ConsumedQuantity: plan.ConsumedQuantity,
		ConversionRatio:  plan.ConversionRatio,
		Efficiency:       plan.Efficiency,
		StockHistory:     records,
	}, nil
}

// Cancel ends a PENDING or IN_PROGRESS operation. No stock moves.
func (s *service) Cancel(ctx context.Context, id int64) (*Operation, error) {
	return s.transition(ctx, id, ActionCancel, func(_ context.Context, _ *sql.Tx, op *Operation) (string, transitionEvent, error) {
		if err := op.Cancel(s.now()); err != nil {
			return "", transitionEvent{}, err
		}
		return EventOperationCancelled, transitionEvent{}, nil
	})
}

func (s *service) Events(ctx context.Context, id int64) ([]eventstore.Event, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	events, err := s.eventStore.LoadEvents(ctx, AggregateType, id, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("load events of operation %d: %w", id, err)
	}
	return events, nil
}

type transitionFunc func(ctx context.Context, tx *sql.Tx, op *Operation) (string, transitionEvent, error)

// transition locks the operation row, lets fn mutate it and persists the
// result with its event. Any error rolls the whole transition back.
func (s *service) transition(ctx context.Context, id int64, action Action, fn transitionFunc) (op *Operation, err error) {
	ctx, span := s.tracer.Start(ctx, "process."+string(action),
		trace.WithAttributes(attribute.Int64("operation.id", id)),
	)
	defer span.End()

	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = string(apperror.KindOf(err))
			span.RecordError(err)
		}
		if s.transitions != nil {
			s.transitions.Add(ctx, 1, metric.WithAttributes(
				attribute.String("action", string(action)),
				attribute.String("outcome", outcome),
			))
		}
	}()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	op, err = scanOperation(tx.QueryRowContext(ctx, `
		SELECT `+operationColumns+` FROM process_operations WHERE id = $1 FOR UPDATE
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("공정 작업", id)
	}
	if err != nil {
		return nil, fmt.Errorf("lock process operation %d: %w", id, err)
	}

	from := op.Status
	eventType, payload, err := fn(ctx, tx, op)
	if err != nil {
		return nil, err
	}

	expectedVersion := op.Version
	err = tx.QueryRowContext(ctx, `
		UPDATE process_operations
		SET status = $2,
		    lot_number = $3,
		    actual_quantity = $4,
		    started_at = $5,
		    completed_at = $6,
		    cancelled_at = $7,
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING version, updated_at
	`, op.ID, string(op.Status), op.LotNumber, op.ActualQuantity, op.StartedAt, op.CompletedAt, op.CancelledAt,
	).Scan(&op.Version, &op.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return nil, apperror.Conflict("LOT 번호가 이미 사용 중입니다", map[string]interface{}{"lot_number": op.LotNumber})
		}
		return nil, fmt.Errorf("update process operation %d: %w", id, err)
	}

	payload.From, payload.To = from, op.Status
	event := eventstore.Event{EventType: eventType, EventData: payload.encode()}
	if err := s.eventStore.AppendEventsTx(ctx, tx, AggregateType, op.ID, expectedVersion, []eventstore.Event{event}); err != nil {
		if errors.Is(err, eventstore.ErrConcurrencyConflict) {
			return nil, apperror.Conflict("다른 요청이 먼저 처리되었습니다. 다시 시도해 주세요", map[string]interface{}{"operation_id": id})
		}
		return nil, fmt.Errorf("append %s event: %w", eventType, err)
	}

	if err := tx.Commit(); err != nil {
		config.LogError(s.logger, "process", "transition", "commit", map[string]interface{}{"operation_id": id, "action": action}, err)
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	span.SetAttributes(attribute.String("status.from", string(from)), attribute.String("status.to", string(op.Status)))
	s.logger.WithFields(logrus.Fields{
		"operation_id": op.ID,
		"action":       action,
		"from":         from,
		"to":           op.Status,
	}).Info("process operation transitioned")
	return op, nil
}
