// Package pgtest opens a migrated Postgres database for integration tests,
// skipping the test when none is reachable.
package pgtest

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"pressline/internal/migrations"
)

// migrationLock serializes schema setup between test binaries running in parallel.
const migrationLock = 7_316_001

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Open connects using the PG* environment variables and applies migrations.
func Open(t testing.TB) *sql.DB {
	t.Helper()

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		env("PGHOST", "localhost"),
		env("PGPORT", "5432"),
		env("PGUSER", "user"),
		env("PGPASSWORD", "password"),
		env("PGDATABASE", "testdb"),
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("failed to open database connection: %v", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("skipping: could not connect to postgres: %v", err)
	}

	ctx := context.Background()
	conn, err := db.Conn(ctx)
	if err != nil {
		t.Fatalf("failed to get connection: %v", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, migrationLock); err != nil {
		t.Fatalf("failed to take migration lock: %v", err)
	}
	defer conn.ExecContext(ctx, `SELECT pg_advisory_unlock($1)`, migrationLock)

	if err := migrations.Up(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

// ItemOption customizes an item created by CreateItem.
type ItemOption func(*itemRow)

type itemRow struct {
	category string
	stock    decimal.Decimal
	safety   decimal.Decimal
}

func WithStock(stock string) ItemOption {
	return func(r *itemRow) { r.stock = decimal.RequireFromString(stock) }
}

func WithSafetyStock(safety string) ItemOption {
	return func(r *itemRow) { r.safety = decimal.RequireFromString(safety) }
}

func WithCategory(category string) ItemOption {
	return func(r *itemRow) { r.category = category }
}

// CreateItem inserts an item with a unique code and returns its id.
func CreateItem(t testing.TB, db *sql.DB, opts ...ItemOption) int64 {
	t.Helper()

	row := itemRow{category: "RAW_MATERIAL", stock: decimal.Zero, safety: decimal.Zero}
	for _, opt := range opts {
		opt(&row)
	}

	var id int64
	err := db.QueryRow(`
		INSERT INTO items (code, name, category, current_stock, safety_stock)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, "T-"+uuid.NewString(), "test item", row.category, row.stock, row.safety).Scan(&id)
	if err != nil {
		t.Fatalf("failed to create item: %v", err)
	}
	return id
}

// AddBOMEdge inserts an active edge parent → child.
func AddBOMEdge(t testing.TB, db *sql.DB, parentID, childID int64, qty string) {
	t.Helper()

	if _, err := db.Exec(`
		INSERT INTO bom_edges (parent_id, child_id, quantity_required) VALUES ($1, $2, $3)
	`, parentID, childID, decimal.RequireFromString(qty)); err != nil {
		t.Fatalf("failed to create bom edge: %v", err)
	}
}
