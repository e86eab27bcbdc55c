package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/rand"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pressline/internal/pgtest"
)

const testAggregate = "test_aggregate"

type TestEvent struct {
	Message string `json:"message"`
}

func newEvent(t testing.TB, msg string) Event {
	data, err := json.Marshal(TestEvent{Message: msg})
	require.NoError(t, err)
	return Event{EventType: "TestEvent", EventData: data}
}

func randomAggregate() int64 {
	return rand.Int63n(1 << 40)
}

// appendCommitted appends events in a transaction of their own.
func appendCommitted(ctx context.Context, db *sql.DB, store *EventStore, id int64, expected int, events ...Event) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := store.AppendEventsTx(ctx, tx, testAggregate, id, expected, events); err != nil {
		return err
	}
	return tx.Commit()
}

func TestAppendAndLoadEvents(t *testing.T) {
	db := pgtest.Open(t)
	store := NewEventStore(db)
	ctx := context.Background()
	id := randomAggregate()

	version, err := store.GetCurrentVersion(ctx, testAggregate, id)
	require.NoError(t, err)
	assert.Zero(t, version)

	require.NoError(t, appendCommitted(ctx, db, store, id, 0, newEvent(t, "one"), newEvent(t, "two")))
	require.NoError(t, appendCommitted(ctx, db, store, id, 2, newEvent(t, "three")))

	events, err := store.LoadEvents(ctx, testAggregate, id, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, e := range events {
		assert.Equal(t, i+1, e.Version)
		assert.NotEqual(t, uuid.Nil, e.EventID)
	}

	var last TestEvent
	require.NoError(t, json.Unmarshal(events[2].EventData, &last))
	assert.Equal(t, "three", last.Message)

	ranged, err := store.LoadEvents(ctx, testAggregate, id, 2, 2)
	require.NoError(t, err)
	require.Len(t, ranged, 1)
	assert.Equal(t, 2, ranged[0].Version)

	version, err = store.GetCurrentVersion(ctx, testAggregate, id)
	require.NoError(t, err)
	assert.Equal(t, 3, version)
}

func TestAppendEventsDetectsStaleVersion(t *testing.T) {
	db := pgtest.Open(t)
	store := NewEventStore(db)
	ctx := context.Background()
	id := randomAggregate()

	require.NoError(t, appendCommitted(ctx, db, store, id, 0, newEvent(t, "one")))

	err := appendCommitted(ctx, db, store, id, 0, newEvent(t, "again"))
	assert.ErrorIs(t, err, ErrConcurrencyConflict)

	err = appendCommitted(ctx, db, store, id, -1, newEvent(t, "bad"))
	assert.ErrorIs(t, err, ErrInvalidVersion)
}

func TestAppendEventsTxRollsBackWithCaller(t *testing.T) {
	db := pgtest.Open(t)
	store := NewEventStore(db)
	ctx := context.Background()
	id := randomAggregate()

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, store.AppendEventsTx(ctx, tx, testAggregate, id, 0, []Event{newEvent(t, "discarded")}))
	require.NoError(t, tx.Rollback())

	events, err := store.LoadEvents(ctx, testAggregate, id, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func BenchmarkAppendEventsTx(b *testing.B) {
	db := pgtest.Open(b)
	store := NewEventStore(db)

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		b.StopTimer()
		id := randomAggregate()
		events := []Event{newEvent(b, fmt.Sprintf("event %d", i))}
		b.StartTimer()

		if err := appendCommitted(context.Background(), db, store, id, 0, events...); err != nil {
			b.Fatalf("append failed: %v", err)
		}
	}
}

func BenchmarkLoadEvents(b *testing.B) {
	db := pgtest.Open(b)
	store := NewEventStore(db)

	id := randomAggregate()
	for i := 0; i < 10; i++ {
		if err := appendCommitted(context.Background(), db, store, id, i, newEvent(b, fmt.Sprintf("event %d", i))); err != nil {
			b.Fatalf("failed to setup events for benchmark: %v", err)
		}
	}

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := store.LoadEvents(context.Background(), testAggregate, id, 0, 0); err != nil {
			b.Fatalf("LoadEvents failed: %v", err)
		}
	}
}
