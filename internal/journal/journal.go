// Package journal persists every execution report to a local SQLite
// database so a restarted operator can audit what the venue did.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/bossim/venue/internal/fixml"
)

// Entry is one journaled execution report
type Entry struct {
	ID                 int64
	Username           string
	OrderID            string
	ClOrdID            string
	ExecID             string
	ExecType           string
	OrdStatus          string
	Symbol             string
	Side               string
	OrdType            string
	Price              string
	Quantity           string
	LastPrice          string
	LastQuantity       string
	RecordedUnixMillis int64
}

type record struct {
	username string
	rpt      *fixml.ExecutionReport
}

// Journal is an append-only execution log. It attaches to the order
// manager as a listener and writes asynchronously so the order path
// never waits on disk.
type Journal struct {
	db     *sql.DB
	logger *zap.Logger
	queue  chan record
	wg     sync.WaitGroup
	closed atomic.Bool
}

// Open creates or opens the journal at path and starts the writer
func Open(path string, logger *zap.Logger) (*Journal, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	j := &Journal{
		db:     db,
		logger: logger,
		queue:  make(chan record, 1024),
	}

	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	j.wg.Add(1)
	go j.writeLoop()
	return j, nil
}

func (j *Journal) migrate() error {
	query := `CREATE TABLE IF NOT EXISTS executions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL,
		order_id TEXT NOT NULL,
		cl_ord_id TEXT NOT NULL,
		exec_id TEXT NOT NULL UNIQUE,
		exec_type TEXT NOT NULL,
		ord_status TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		ord_type TEXT NOT NULL,
		price TEXT NOT NULL,
		quantity TEXT NOT NULL,
		last_price TEXT NOT NULL,
		last_quantity TEXT NOT NULL,
		recorded_unix_millis INTEGER NOT NULL
	)`
	if _, err := j.db.Exec(query); err != nil {
		return fmt.Errorf("failed to execute migration: %w", err)
	}
	return nil
}

// OnExecutionReport queues a report for the writer. Satisfies the
// order manager's listener interface. Reports queued after close, or
// while the queue is full, are dropped with a log line.
func (j *Journal) OnExecutionReport(username string, rpt *fixml.ExecutionReport) {
	if j.closed.Load() {
		return
	}
	select {
	case j.queue <- record{username: username, rpt: rpt}:
	default:
		j.logger.Warn("journal queue full, dropping execution report",
			zap.String("exec_id", rpt.ExecID),
		)
	}
}

func (j *Journal) writeLoop() {
	defer j.wg.Done()
	for rec := range j.queue {
		if err := j.Record(context.Background(), rec.username, rec.rpt); err != nil {
			j.logger.Error("failed to journal execution report",
				zap.String("exec_id", rec.rpt.ExecID),
				zap.Error(err),
			)
		}
	}
}

// Record inserts one execution report. Re-recording an exec id is a
// no-op, so replays stay idempotent.
func (j *Journal) Record(ctx context.Context, username string, rpt *fixml.ExecutionReport) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO executions
		 (username, order_id, cl_ord_id, exec_id, exec_type, ord_status, symbol, side,
		  ord_type, price, quantity, last_price, last_quantity, recorded_unix_millis)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		username, rpt.OrderID, rpt.ClOrdID, rpt.ExecID, rpt.ExecType, rpt.OrdStatus,
		rpt.Symbol, rpt.Side, rpt.OrdType, rpt.Price, rpt.Quantity,
		rpt.LastPrice, rpt.LastQuantity, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert execution: %w", err)
	}
	return nil
}

// List returns the most recent entries, newest first. An empty
// username returns entries for every user.
func (j *Journal) List(ctx context.Context, username string, limit int) ([]Entry, error) {
	query := `SELECT id, username, order_id, cl_ord_id, exec_id, exec_type, ord_status,
	                 symbol, side, ord_type, price, quantity, last_price, last_quantity,
	                 recorded_unix_millis
	          FROM executions`
	args := []any{}
	if username != "" {
		query += " WHERE username = ?"
		args = append(args, username)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		err := rows.Scan(
			&e.ID, &e.Username, &e.OrderID, &e.ClOrdID, &e.ExecID, &e.ExecType,
			&e.OrdStatus, &e.Symbol, &e.Side, &e.OrdType, &e.Price, &e.Quantity,
			&e.LastPrice, &e.LastQuantity, &e.RecordedUnixMillis,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the number of journaled executions of one type, or of
// all types when execType is empty
func (j *Journal) Count(ctx context.Context, execType string) (int, error) {
	query := "SELECT COUNT(*) FROM executions"
	args := []any{}
	if execType != "" {
		query += " WHERE exec_type = ?"
		args = append(args, execType)
	}

	var n int
	if err := j.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count executions: %w", err)
	}
	return n, nil
}

// Close drains the queue, stops the writer, and closes the database
func (j *Journal) Close() error {
	if !j.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(j.queue)
	j.wg.Wait()
	return j.db.Close()
}
