// Package store provides the durable storage layer.
// All database operations go through this package.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"miniqmt/logger"
)

// Store unified data storage over a single SQLite database
type Store struct {
	db *sql.DB

	// Sub-stores (lazy initialization)
	position *PositionStore
	grid     *GridStore
	event    *EventStore

	mu sync.Mutex
}

// New opens (creating if needed) the database at dbPath and initializes
// all tables
func New(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// modernc sqlite is single-writer
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize table structure: %w", err)
	}

	logger.Infof("✅ Database initialized: %s", dbPath)
	return s, nil
}

func (s *Store) initTables() error {
	if err := s.Position().initTables(); err != nil {
		return fmt.Errorf("failed to initialize position tables: %w", err)
	}
	if err := s.Grid().initTables(); err != nil {
		return fmt.Errorf("failed to initialize grid tables: %w", err)
	}
	if err := s.Event().initTables(); err != nil {
		return fmt.Errorf("failed to initialize event tables: %w", err)
	}
	return nil
}

// Position gets the durable position store
func (s *Store) Position() *PositionStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.position == nil {
		s.position = &PositionStore{db: s.db}
	}
	return s.position
}

// Grid gets the grid session store
func (s *Store) Grid() *GridStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grid == nil {
		s.grid = &GridStore{db: s.db}
	}
	return s.grid
}

// Event gets the observability event store
func (s *Store) Event() *EventStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.event == nil {
		s.event = &EventStore{db: s.db}
	}
	return s.event
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}
