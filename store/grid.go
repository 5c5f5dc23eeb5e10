package store

import (
	"database/sql"
	"fmt"
	"time"
)

// GridSessionRecord durable copy of one grid session, keyed by symbol
type GridSessionRecord struct {
	Symbol             string     `json:"symbol"`
	Status             string     `json:"status"` // active/stopped
	CenterPrice        float64    `json:"center_price"`
	CurrentCenterPrice float64    `json:"current_center_price"`
	PriceInterval      float64    `json:"price_interval"`
	PositionRatio      float64    `json:"position_ratio"`
	CallbackRatio      float64    `json:"callback_ratio"`
	MaxInvestment      float64    `json:"max_investment"`
	CurrentInvestment  float64    `json:"current_investment"`
	MaxDeviation       float64    `json:"max_deviation"`
	TargetProfit       float64    `json:"target_profit"`
	StopLoss           float64    `json:"stop_loss"`
	StartTime          time.Time  `json:"start_time"`
	EndTime            time.Time  `json:"end_time"`
	StoppedAt          *time.Time `json:"stopped_at"`
	StopReason         string     `json:"stop_reason"`
	BuyCount           int        `json:"buy_count"`
	SellCount          int        `json:"sell_count"`
	TotalBuyAmount     float64    `json:"total_buy_amount"`
	TotalSellAmount    float64    `json:"total_sell_amount"`
	TradeCount         int        `json:"trade_count"`
}

// GridStore keyed upsert/select/delete for grid session rows
type GridStore struct {
	db *sql.DB
}

func (s *GridStore) initTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS grid_sessions (
			symbol TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			center_price REAL NOT NULL,
			current_center_price REAL NOT NULL,
			price_interval REAL NOT NULL,
			position_ratio REAL NOT NULL,
			callback_ratio REAL NOT NULL,
			max_investment REAL NOT NULL,
			current_investment REAL DEFAULT 0,
			max_deviation REAL NOT NULL,
			target_profit REAL NOT NULL,
			stop_loss REAL NOT NULL,
			start_time DATETIME NOT NULL,
			end_time DATETIME NOT NULL,
			stopped_at DATETIME,
			stop_reason TEXT DEFAULT '',
			buy_count INTEGER DEFAULT 0,
			sell_count INTEGER DEFAULT 0,
			total_buy_amount REAL DEFAULT 0,
			total_sell_amount REAL DEFAULT 0,
			trade_count INTEGER DEFAULT 0
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create grid_sessions table: %w", err)
	}
	return nil
}

// Upsert inserts or replaces the session row for rec.Symbol
func (s *GridStore) Upsert(rec *GridSessionRecord) error {
	var stoppedAt interface{}
	if rec.StoppedAt != nil {
		stoppedAt = rec.StoppedAt.Format(time.RFC3339)
	}

	_, err := s.db.Exec(`
		INSERT INTO grid_sessions (
			symbol, status, center_price, current_center_price, price_interval,
			position_ratio, callback_ratio, max_investment, current_investment,
			max_deviation, target_profit, stop_loss, start_time, end_time,
			stopped_at, stop_reason, buy_count, sell_count,
			total_buy_amount, total_sell_amount, trade_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			status = excluded.status,
			center_price = excluded.center_price,
			current_center_price = excluded.current_center_price,
			price_interval = excluded.price_interval,
			position_ratio = excluded.position_ratio,
			callback_ratio = excluded.callback_ratio,
			max_investment = excluded.max_investment,
			current_investment = excluded.current_investment,
			max_deviation = excluded.max_deviation,
			target_profit = excluded.target_profit,
			stop_loss = excluded.stop_loss,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			stopped_at = excluded.stopped_at,
			stop_reason = excluded.stop_reason,
			buy_count = excluded.buy_count,
			sell_count = excluded.sell_count,
			total_buy_amount = excluded.total_buy_amount,
			total_sell_amount = excluded.total_sell_amount,
			trade_count = excluded.trade_count
	`,
		rec.Symbol, rec.Status, rec.CenterPrice, rec.CurrentCenterPrice,
		rec.PriceInterval, rec.PositionRatio, rec.CallbackRatio,
		rec.MaxInvestment, rec.CurrentInvestment, rec.MaxDeviation,
		rec.TargetProfit, rec.StopLoss,
		rec.StartTime.Format(time.RFC3339), rec.EndTime.Format(time.RFC3339),
		stoppedAt, rec.StopReason, rec.BuyCount, rec.SellCount,
		rec.TotalBuyAmount, rec.TotalSellAmount, rec.TradeCount,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert grid session %s: %w", rec.Symbol, err)
	}
	return nil
}

// Get returns the session row for symbol, or nil when absent
func (s *GridStore) Get(symbol string) (*GridSessionRecord, error) {
	row := s.db.QueryRow(gridSelect+` WHERE symbol = ?`, symbol)
	rec, err := scanGridRecord(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query grid session %s: %w", symbol, err)
	}
	return rec, nil
}

// ListActive returns all sessions with status 'active'
func (s *GridStore) ListActive() ([]*GridSessionRecord, error) {
	rows, err := s.db.Query(gridSelect + ` WHERE status = 'active' ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("failed to query active grid sessions: %w", err)
	}
	defer rows.Close()
	return scanGridRows(rows)
}

// List returns all session rows
func (s *GridStore) List() ([]*GridSessionRecord, error) {
	rows, err := s.db.Query(gridSelect + ` ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("failed to query grid sessions: %w", err)
	}
	defer rows.Close()
	return scanGridRows(rows)
}

// Delete removes the session row for symbol
func (s *GridStore) Delete(symbol string) error {
	if _, err := s.db.Exec(`DELETE FROM grid_sessions WHERE symbol = ?`, symbol); err != nil {
		return fmt.Errorf("failed to delete grid session %s: %w", symbol, err)
	}
	return nil
}

const gridSelect = `
	SELECT symbol, status, center_price, current_center_price, price_interval,
		position_ratio, callback_ratio, max_investment, current_investment,
		max_deviation, target_profit, stop_loss, start_time, end_time,
		stopped_at, stop_reason, buy_count, sell_count,
		total_buy_amount, total_sell_amount, trade_count
	FROM grid_sessions`

func scanGridRows(rows *sql.Rows) ([]*GridSessionRecord, error) {
	var out []*GridSessionRecord
	for rows.Next() {
		rec, err := scanGridRecord(rows.Scan)
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func scanGridRecord(scan func(dest ...interface{}) error) (*GridSessionRecord, error) {
	var rec GridSessionRecord
	var startTime, endTime, stoppedAt sql.NullString

	err := scan(
		&rec.Symbol, &rec.Status, &rec.CenterPrice, &rec.CurrentCenterPrice,
		&rec.PriceInterval, &rec.PositionRatio, &rec.CallbackRatio,
		&rec.MaxInvestment, &rec.CurrentInvestment, &rec.MaxDeviation,
		&rec.TargetProfit, &rec.StopLoss, &startTime, &endTime,
		&stoppedAt, &rec.StopReason, &rec.BuyCount, &rec.SellCount,
		&rec.TotalBuyAmount, &rec.TotalSellAmount, &rec.TradeCount,
	)
	if err != nil {
		return nil, err
	}

	if startTime.Valid {
		rec.StartTime, _ = time.Parse(time.RFC3339, startTime.String)
	}
	if endTime.Valid {
		rec.EndTime, _ = time.Parse(time.RFC3339, endTime.String)
	}
	if stoppedAt.Valid {
		if t, err := time.Parse(time.RFC3339, stoppedAt.String); err == nil {
			rec.StoppedAt = &t
		}
	}
	return &rec, nil
}
