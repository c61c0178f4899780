package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // Import the sqlite3 driver

	"binance-ai-trader-go/internal/models"
)

// Journal is an append-only sqlite audit trail of trades and strategy logs.
// Unlike the in-memory histories it is unbounded, so a full trading session
// can be reconstructed after the bounded FIFO buffers have evicted entries.
type Journal struct {
	db *sql.DB
}

// OpenJournal initializes the database connection and creates necessary tables.
func OpenJournal(dataSourceName string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	j := &Journal{db: db}
	if err = j.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return j, nil
}

func (j *Journal) createTables() error {
	createTradesTableSQL := `
	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp INTEGER NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity REAL NOT NULL,
		price REAL NOT NULL,
		notional REAL NOT NULL,
		status TEXT NOT NULL,
		reason TEXT,
		order_id TEXT
	);`
	if _, err := j.db.Exec(createTradesTableSQL); err != nil {
		return err
	}

	createLogsTableSQL := `
	CREATE TABLE IF NOT EXISTS strategy_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp INTEGER NOT NULL,
		level TEXT NOT NULL,
		message TEXT NOT NULL
	);`
	if _, err := j.db.Exec(createLogsTableSQL); err != nil {
		return err
	}
	return nil
}

// AppendTrade records one executed (or failed) trade attempt.
func (j *Journal) AppendTrade(tr models.TradeRecord) error {
	_, err := j.db.Exec(
		`INSERT INTO trades (timestamp, symbol, side, quantity, price, notional, status, reason, order_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tr.Timestamp.UnixMilli(), tr.Symbol, string(tr.Side), tr.Quantity, tr.Price,
		tr.Notional, string(tr.Status), tr.Reason, tr.OrderID,
	)
	return err
}

// AppendLog records one strategy log entry.
func (j *Journal) AppendLog(entry models.LogEntry) error {
	_, err := j.db.Exec(
		`INSERT INTO strategy_logs (timestamp, level, message) VALUES (?, ?, ?)`,
		entry.Timestamp.UnixMilli(), string(entry.Level), entry.Message,
	)
	return err
}

// TradeCountSince returns how many trades were journaled at or after t.
func (j *Journal) TradeCountSince(t time.Time) (int64, error) {
	var n int64
	err := j.db.QueryRow(`SELECT COUNT(*) FROM trades WHERE timestamp >= ?`, t.UnixMilli()).Scan(&n)
	return n, err
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}
