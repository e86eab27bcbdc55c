// internal/process/lot.go
package process

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const lotDateLayout = "20060102"

// FormatLot renders {prefix}-{YYYYMMDD}-{seq:04d}.
func FormatLot(prefix string, day time.Time, seq int) string {
	return fmt.Sprintf("%s-%s-%04d", prefix, day.Format(lotDateLayout), seq)
}

// nextLot reserves the next sequence number of day. The upsert row lock
// serializes concurrent reservations for the same day.
func nextLot(ctx context.Context, tx *sql.Tx, prefix string, day time.Time) (string, error) {
	var seq int
	err := tx.QueryRowContext(ctx, `
		INSERT INTO lot_sequences (lot_date, last_seq) VALUES ($1, 1)
		ON CONFLICT (lot_date) DO UPDATE SET last_seq = lot_sequences.last_seq + 1
		RETURNING last_seq
	`, day.Format("2006-01-02")).Scan(&seq)
	if err != nil {
		return "", fmt.Errorf("reserve lot sequence: %w", err)
	}
	return FormatLot(prefix, day, seq), nil
}
