package audit

import (
	"context"
	"database/sql"
	"fmt"
)

// SQLiteLog appends entries to the audit_entries table. Only INSERT and
// SELECT are ever issued; there is no update or delete path.
type SQLiteLog struct {
	db *sql.DB
}

// NewSQLiteLog wraps an opened, migrated database.
func NewSQLiteLog(db *sql.DB) *SQLiteLog {
	return &SQLiteLog{db: db}
}

func (l *SQLiteLog) Append(ctx context.Context, e Entry) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO audit_entries (id, attempt_id, prior_status, new_status, at, digest)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.AttemptID, e.PriorStatus, e.NewStatus, e.At.UTC(), e.Digest)
	if err != nil {
		return fmt.Errorf("audit: append for attempt %s: %w", e.AttemptID, err)
	}
	return nil
}

func (l *SQLiteLog) ByAttempt(ctx context.Context, attemptID string) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, attempt_id, prior_status, new_status, at, digest
		FROM audit_entries WHERE attempt_id = ? ORDER BY at ASC`, attemptID)
	if err != nil {
		return nil, fmt.Errorf("audit: by attempt %s: %w", attemptID, err)
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.AttemptID, &e.PriorStatus, &e.NewStatus, &e.At, &e.Digest); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
