package store

import (
	"database/sql"
	"fmt"
	"time"
)

// PositionRecord durable snapshot of one holding, keyed by symbol.
// Mirrors the fast-tier position; the flush worker writes it through on an
// interval, so a row may lag the in-memory state by a few seconds.
type PositionRecord struct {
	Symbol                  string     `json:"symbol"`
	Volume                  int64      `json:"volume"`
	Available               int64      `json:"available"`
	CostPrice               float64    `json:"cost_price"`
	CurrentPrice            float64    `json:"current_price"`
	MarketValue             float64    `json:"market_value"`
	ProfitRatio             float64    `json:"profit_ratio"`
	HighestPrice            float64    `json:"highest_price"`
	StopLossPrice           float64    `json:"stop_loss_price"`
	ProfitTriggered         bool       `json:"profit_triggered"`
	ProfitBreakoutTriggered bool       `json:"profit_breakout_triggered"`
	BreakoutHighestPrice    float64    `json:"breakout_highest_price"`
	OpenDate                *time.Time `json:"open_date"`
	LastUpdate              time.Time  `json:"last_update"`
}

// PositionStore keyed upsert/select/delete for position rows
type PositionStore struct {
	db *sql.DB
}

func (s *PositionStore) initTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS positions (
			symbol TEXT PRIMARY KEY,
			volume INTEGER NOT NULL,
			available INTEGER NOT NULL,
			cost_price REAL NOT NULL,
			current_price REAL DEFAULT 0,
			market_value REAL DEFAULT 0,
			profit_ratio REAL DEFAULT 0,
			highest_price REAL DEFAULT 0,
			stop_loss_price REAL DEFAULT 0,
			profit_triggered INTEGER DEFAULT 0,
			profit_breakout_triggered INTEGER DEFAULT 0,
			breakout_highest_price REAL DEFAULT 0,
			open_date DATETIME,
			last_update DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create positions table: %w", err)
	}
	return nil
}

// Upsert inserts or fully replaces the row for rec.Symbol.
// Idempotent by key, which is what makes the periodic flush safe to repeat.
func (s *PositionStore) Upsert(rec *PositionRecord) error {
	var openDate interface{}
	if rec.OpenDate != nil {
		openDate = rec.OpenDate.Format(time.RFC3339)
	}

	_, err := s.db.Exec(`
		INSERT INTO positions (
			symbol, volume, available, cost_price, current_price, market_value,
			profit_ratio, highest_price, stop_loss_price, profit_triggered,
			profit_breakout_triggered, breakout_highest_price, open_date, last_update
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			volume = excluded.volume,
			available = excluded.available,
			cost_price = excluded.cost_price,
			current_price = excluded.current_price,
			market_value = excluded.market_value,
			profit_ratio = excluded.profit_ratio,
			highest_price = excluded.highest_price,
			stop_loss_price = excluded.stop_loss_price,
			profit_triggered = excluded.profit_triggered,
			profit_breakout_triggered = excluded.profit_breakout_triggered,
			breakout_highest_price = excluded.breakout_highest_price,
			open_date = COALESCE(excluded.open_date, positions.open_date),
			last_update = excluded.last_update
	`,
		rec.Symbol, rec.Volume, rec.Available, rec.CostPrice, rec.CurrentPrice,
		rec.MarketValue, rec.ProfitRatio, rec.HighestPrice, rec.StopLossPrice,
		boolToInt(rec.ProfitTriggered), boolToInt(rec.ProfitBreakoutTriggered),
		rec.BreakoutHighestPrice, openDate, rec.LastUpdate.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert position %s: %w", rec.Symbol, err)
	}
	return nil
}

// Get returns the row for symbol, or nil when absent
func (s *PositionStore) Get(symbol string) (*PositionRecord, error) {
	row := s.db.QueryRow(`
		SELECT symbol, volume, available, cost_price, current_price, market_value,
			profit_ratio, highest_price, stop_loss_price, profit_triggered,
			profit_breakout_triggered, breakout_highest_price, open_date, last_update
		FROM positions WHERE symbol = ?
	`, symbol)

	rec, err := scanPositionRecord(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query position %s: %w", symbol, err)
	}
	return rec, nil
}

// List returns all rows
func (s *PositionStore) List() ([]*PositionRecord, error) {
	rows, err := s.db.Query(`
		SELECT symbol, volume, available, cost_price, current_price, market_value,
			profit_ratio, highest_price, stop_loss_price, profit_triggered,
			profit_breakout_triggered, breakout_highest_price, open_date, last_update
		FROM positions ORDER BY symbol
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var out []*PositionRecord
	for rows.Next() {
		rec, err := scanPositionRecord(rows.Scan)
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Delete removes the row for symbol
func (s *PositionStore) Delete(symbol string) error {
	if _, err := s.db.Exec(`DELETE FROM positions WHERE symbol = ?`, symbol); err != nil {
		return fmt.Errorf("failed to delete position %s: %w", symbol, err)
	}
	return nil
}

func scanPositionRecord(scan func(dest ...interface{}) error) (*PositionRecord, error) {
	var rec PositionRecord
	var profitTriggered, breakoutTriggered int
	var openDate, lastUpdate sql.NullString

	err := scan(
		&rec.Symbol, &rec.Volume, &rec.Available, &rec.CostPrice, &rec.CurrentPrice,
		&rec.MarketValue, &rec.ProfitRatio, &rec.HighestPrice, &rec.StopLossPrice,
		&profitTriggered, &breakoutTriggered, &rec.BreakoutHighestPrice,
		&openDate, &lastUpdate,
	)
	if err != nil {
		return nil, err
	}

	rec.ProfitTriggered = profitTriggered != 0
	rec.ProfitBreakoutTriggered = breakoutTriggered != 0
	if openDate.Valid {
		if t, err := time.Parse(time.RFC3339, openDate.String); err == nil {
			rec.OpenDate = &t
		}
	}
	if lastUpdate.Valid {
		rec.LastUpdate, _ = time.Parse(time.RFC3339, lastUpdate.String)
	}
	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
