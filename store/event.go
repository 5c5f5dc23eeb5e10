package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Event one observability record: a detection, validation or execution
// step for a symbol. Alerting and statistics consume these externally.
type Event struct {
	ID      int64     `json:"id"`
	Symbol  string    `json:"symbol"`
	Stage   string    `json:"stage"`  // detect/validate/execute/reconcile/flush
	Status  string    `json:"status"` // ok/rejected/failed/abandoned
	Reason  string    `json:"reason"`
	Details string    `json:"details"`
	Time    time.Time `json:"time"`
}

// Event stages
const (
	StageDetect    = "detect"
	StageValidate  = "validate"
	StageExecute   = "execute"
	StageReconcile = "reconcile"
	StageFlush     = "flush"
)

// Event statuses
const (
	StatusOK        = "ok"
	StatusRejected  = "rejected"
	StatusFailed    = "failed"
	StatusAbandoned = "abandoned"
)

// EventStore append-only observability sink
type EventStore struct {
	db *sql.DB
}

func (s *EventStore) initTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			stage TEXT NOT NULL,
			status TEXT NOT NULL,
			reason TEXT DEFAULT '',
			details TEXT DEFAULT '',
			created_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create events table: %w", err)
	}
	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_events_symbol ON events(symbol, created_at DESC)`)
	if err != nil {
		return fmt.Errorf("failed to create event index: %w", err)
	}
	return nil
}

// Record appends one event row. Failures are returned, not fatal; callers
// log and move on so the sink can never stall a detection cycle.
func (s *EventStore) Record(symbol, stage, status, reason, details string) error {
	_, err := s.db.Exec(`
		INSERT INTO events (symbol, stage, status, reason, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, symbol, stage, status, reason, details, time.Now().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// Recent returns the newest events, most recent first
func (s *EventStore) Recent(limit int) ([]*Event, error) {
	rows, err := s.db.Query(`
		SELECT id, symbol, stage, status, reason, details, created_at
		FROM events ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		var e Event
		var createdAt sql.NullString
		if err := rows.Scan(&e.ID, &e.Symbol, &e.Stage, &e.Status, &e.Reason, &e.Details, &createdAt); err != nil {
			continue
		}
		if createdAt.Valid {
			e.Time, _ = time.Parse(time.RFC3339, createdAt.String)
		}
		out = append(out, &e)
	}
	return out, nil
}

// Prune deletes events older than the retention window.
// Returns the number of rows removed.
func (s *EventStore) Prune(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).Format(time.RFC3339)
	res, err := s.db.Exec(`DELETE FROM events WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune events: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
