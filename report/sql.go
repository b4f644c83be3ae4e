package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/arturoeanton/wshbox/engine"
	"github.com/arturoeanton/wshbox/ioc"
	"github.com/arturoeanton/wshbox/logger"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

var (
	maxRetries = 3
	retryDelay = 100 * time.Millisecond
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS analyses (
		id          TEXT PRIMARY KEY,
		sample      TEXT NOT NULL,
		sha256      TEXT NOT NULL,
		state       TEXT NOT NULL,
		exit_code   INTEGER NOT NULL,
		error       TEXT,
		started_at  TIMESTAMP NOT NULL,
		duration_ms BIGINT NOT NULL,
		urls        TEXT NOT NULL,
		findings    TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS ioc_events (
		id          TEXT PRIMARY KEY,
		analysis_id TEXT NOT NULL,
		seq         INTEGER NOT NULL,
		recorded_at TIMESTAMP NOT NULL,
		category    TEXT NOT NULL,
		description TEXT NOT NULL,
		payload     TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ioc_events_analysis ON ioc_events (analysis_id, seq)`,
}

// OpenDB opens and pings the configured database, with pool settings
// tuned to the driver.
func OpenDB(ctx context.Context, cfg engine.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", cfg.Driver, err)
	}

	maxOpen, maxIdle := cfg.MaxOpenConns, cfg.MaxIdleConns
	if cfg.Driver == "sqlite3" {
		// sqlite serialises writers
		maxOpen, maxIdle = 1, 1
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to %s database: %w", cfg.Driver, err)
	}
	logger.Verbosef("Database opened: driver=%s, maxConns=%d", cfg.Driver, maxOpen)
	return db, nil
}

// SinkStats counts what a SQLSink stored.
type SinkStats struct {
	Analyses int64
	Events   int64
	Batches  int64
	Errors   int64
}

// SQLSink stores analyses and their events in an SQL database. Events are
// inserted in batches, one transaction per batch, retried with backoff.
type SQLSink struct {
	db        *sql.DB
	driver    string
	batchSize int
	stats     SinkStats
}

// NewSQLSink wraps db. driver selects the placeholder style.
func NewSQLSink(db *sql.DB, driver string, batchSize int) *SQLSink {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &SQLSink{db: db, driver: driver, batchSize: batchSize}
}

// Migrate creates the tables when missing.
func (s *SQLSink) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrating schema: %w", err)
		}
	}
	return nil
}

// Store inserts the analysis row and all of its events.
func (s *SQLSink) Store(ctx context.Context, res *engine.Result) error {
	urls, err := json.Marshal(nonNil(res.URLs))
	if err != nil {
		return err
	}
	findings, err := json.Marshal(nonNil(res.Findings))
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`INSERT INTO analyses
		(id, sample, sha256, state, exit_code, error, started_at, duration_ms, urls, findings)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		res.ID, res.Sample, res.SHA256, res.State.String(), res.ExitCode, res.Error,
		res.StartedAt, res.Duration.Milliseconds(), string(urls), string(findings))
	if err != nil {
		atomic.AddInt64(&s.stats.Errors, 1)
		return fmt.Errorf("storing analysis %s: %w", res.ID, err)
	}
	atomic.AddInt64(&s.stats.Analyses, 1)

	for start := 0; start < len(res.Events); start += s.batchSize {
		end := start + s.batchSize
		if end > len(res.Events) {
			end = len(res.Events)
		}
		if err := s.insertWithRetry(ctx, res.ID, start, res.Events[start:end]); err != nil {
			atomic.AddInt64(&s.stats.Errors, 1)
			return err
		}
	}
	return nil
}

func (s *SQLSink) insertWithRetry(ctx context.Context, analysisID string, offset int, batch []ioc.Event) error {
	var err error
	for retry := 0; retry < maxRetries; retry++ {
		err = s.insertBatch(ctx, analysisID, offset, batch)
		if err == nil {
			atomic.AddInt64(&s.stats.Events, int64(len(batch)))
			atomic.AddInt64(&s.stats.Batches, 1)
			return nil
		}
		logger.Verbosef("Event batch insert failed (attempt %d): %v", retry+1, err)
		if retry == maxRetries-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryDelay * time.Duration(1<<retry)):
		}
	}
	return fmt.Errorf("storing events of %s after %d attempts: %w", analysisID, maxRetries, err)
}

func (s *SQLSink) insertBatch(ctx context.Context, analysisID string, offset int, batch []ioc.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.rebind(`INSERT INTO ioc_events
		(id, analysis_id, seq, recorded_at, category, description, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for i, e := range batch {
		payload, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("encoding payload of event %s: %w", e.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, e.ID, analysisID, offset+i, e.Time, e.Category, e.Description, string(payload)); err != nil {
			return fmt.Errorf("failed to execute statement: %w", err)
		}
	}
	return tx.Commit()
}

// Events loads the events of one analysis in recording order.
func (s *SQLSink) Events(ctx context.Context, analysisID string) ([]ioc.Event, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT id, recorded_at, category, description, payload
		FROM ioc_events WHERE analysis_id = ? ORDER BY seq`), analysisID)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []ioc.Event
	for rows.Next() {
		var (
			e       ioc.Event
			payload string
		)
		if err := rows.Scan(&e.ID, &e.Time, &e.Category, &e.Description, &payload); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
			return nil, fmt.Errorf("decoding payload of event %s: %w", e.ID, err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Stats returns the sink counters.
func (s *SQLSink) Stats() SinkStats {
	return SinkStats{
		Analyses: atomic.LoadInt64(&s.stats.Analyses),
		Events:   atomic.LoadInt64(&s.stats.Events),
		Batches:  atomic.LoadInt64(&s.stats.Batches),
		Errors:   atomic.LoadInt64(&s.stats.Errors),
	}
}

// Close closes the database.
func (s *SQLSink) Close() error { return s.db.Close() }

// rebind turns ? placeholders into $n for postgres.
func (s *SQLSink) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// DB returns the underlying database.
func (s *SQLSink) DB() *sql.DB { return s.db }
