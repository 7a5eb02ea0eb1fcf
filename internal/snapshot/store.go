// Package snapshot persists a completed (or in-progress) driver run: a
// sqlite table of every node's per-tick series, and a flat msgpack tick
// log for cheap streaming replay.
package snapshot

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/aristath/backtree/internal/engine"
)

// Store wraps a sqlite connection holding node_ticks rows for one or more
// tagged runs. Connection setup mirrors trader-go/internal/database.DB:
// WAL journal mode, foreign keys on, explicit Close.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates (if needed) and opens the snapshot database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("snapshot: creating directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("snapshot: opening database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("snapshot: pinging database: %w", err)
	}
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)

	s := &Store{conn: conn, path: path}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.conn.Exec(`
CREATE TABLE IF NOT EXISTS node_ticks (
	run_id   TEXT NOT NULL,
	node     TEXT NOT NULL,
	date     TEXT NOT NULL,
	price    REAL NOT NULL,
	value    REAL NOT NULL,
	cash     REAL NOT NULL,
	fee      REAL NOT NULL,
	position REAL NOT NULL,
	PRIMARY KEY (run_id, node, date)
)`)
	if err != nil {
		return fmt.Errorf("snapshot: running migration: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (s *Store) Close() error { return s.conn.Close() }

// Path returns the database file path this store was opened with (for
// archiving).
func (s *Store) Path() string { return s.path }

// Tick is one row of node state committed at a single date.
type Tick struct {
	Node     string
	Date     time.Time
	Price    float64
	Value    float64
	Cash     float64
	Fee      float64
	Position float64
}

// RecordTick persists a single node's tick under runID. It is cheap enough
// to call once per node per committed tick from a driver's TickHook.
func (s *Store) RecordTick(runID string, t Tick) error {
	_, err := s.conn.Exec(
		`INSERT OR REPLACE INTO node_ticks (run_id, node, date, price, value, cash, fee, position)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, t.Node, t.Date.Format(time.RFC3339), t.Price, t.Value, t.Cash, t.Fee, t.Position,
	)
	if err != nil {
		return fmt.Errorf("snapshot: recording tick for %s: %w", t.Node, err)
	}
	return nil
}

// RecordTree walks root's member tree (spec's full pre-order Members()
// list) and records one tick row per node — a strategy's cash/fee, a
// security's position, both carry price/value.
func (s *Store) RecordTree(runID string, date time.Time, root *engine.Strategy) error {
	for _, n := range root.Members() {
		t := Tick{
			Node:  n.FullName(),
			Date:  date,
			Price: n.Price(),
			Value: n.Value(),
		}
		switch node := n.(type) {
		case *engine.Strategy:
			t.Cash = node.Capital()
			t.Fee = node.LastFee()
		case *engine.Security:
			t.Position = node.Position()
		}
		if err := s.RecordTick(runID, t); err != nil {
			return err
		}
	}
	return nil
}

// History returns every recorded tick for node under runID, ordered by
// date — used to reconstruct a series for reporting.
func (s *Store) History(runID, node string) ([]Tick, error) {
	rows, err := s.conn.Query(
		`SELECT date, price, value, cash, fee, position FROM node_ticks
		 WHERE run_id = ? AND node = ? ORDER BY date ASC`,
		runID, node,
	)
	if err != nil {
		return nil, fmt.Errorf("snapshot: querying history for %s: %w", node, err)
	}
	defer rows.Close()

	var out []Tick
	for rows.Next() {
		var t Tick
		var dateStr string
		if err := rows.Scan(&dateStr, &t.Price, &t.Value, &t.Cash, &t.Fee, &t.Position); err != nil {
			return nil, fmt.Errorf("snapshot: scanning history row: %w", err)
		}
		t.Node = node
		t.Date, err = time.Parse(time.RFC3339, dateStr)
		if err != nil {
			return nil, fmt.Errorf("snapshot: parsing date %q: %w", dateStr, err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
