package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS trade_journal (
	id          TEXT PRIMARY KEY,
	recorded_at INTEGER NOT NULL,
	operation   TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	request_id  TEXT NOT NULL DEFAULT '',
	ticket      INTEGER NOT NULL DEFAULT 0,
	symbol      TEXT NOT NULL DEFAULT '',
	order_type  TEXT NOT NULL DEFAULT '',
	volume      TEXT NOT NULL DEFAULT '0',
	price       TEXT NOT NULL DEFAULT '0',
	retcode     INTEGER NOT NULL DEFAULT 0,
	message     TEXT NOT NULL DEFAULT '',
	details     TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS trade_journal_recorded_at_idx ON trade_journal (recorded_at);
`

const sqliteInsertSQL = `
INSERT INTO trade_journal (
	id, recorded_at, operation, outcome, request_id, ticket, symbol,
	order_type, volume, price, retcode, message, details
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const sqliteRecentSQL = `
SELECT id, recorded_at, operation, outcome, request_id, ticket, symbol,
	order_type, volume, price, retcode, message, details
FROM trade_journal
ORDER BY recorded_at DESC, rowid DESC
LIMIT ?`

// SQLite stores the journal in a local database file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating when needed) the database at dsn.
func OpenSQLite(ctx context.Context, dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite journal: %w", err)
	}
	// one writer; also keeps ":memory:" databases on a single connection
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite journal: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite journal wal mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create sqlite journal schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Record implements Journal.
func (s *SQLite) Record(ctx context.Context, entry Entry) error {
	entry.prepare()
	details, err := entry.detailsJSON()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, sqliteInsertSQL,
		entry.ID.String(),
		entry.Time.UnixMilli(),
		entry.Operation,
		string(entry.Outcome),
		entry.RequestID,
		int64(entry.Ticket),
		entry.Symbol,
		entry.OrderType,
		entry.Volume.String(),
		entry.Price.String(),
		entry.Retcode,
		entry.Message,
		details,
	)
	if err != nil {
		return fmt.Errorf("insert journal entry: %w", err)
	}
	return nil
}

// Recent implements Journal.
func (s *SQLite) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, sqliteRecentSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			entry                  Entry
			id, outcome            string
			volume, price, details string
			recordedAt, ticket     int64
		)
		if err := rows.Scan(&id, &recordedAt, &entry.Operation, &outcome, &entry.RequestID,
			&ticket, &entry.Symbol, &entry.OrderType, &volume, &price,
			&entry.Retcode, &entry.Message, &details); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		if entry.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("journal entry id: %w", err)
		}
		if entry.Volume, err = decimal.NewFromString(volume); err != nil {
			return nil, fmt.Errorf("journal entry volume: %w", err)
		}
		if entry.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("journal entry price: %w", err)
		}
		if entry.Details, err = decodeDetails(details); err != nil {
			return nil, err
		}
		entry.Time = time.UnixMilli(recordedAt).UTC()
		entry.Outcome = Outcome(outcome)
		entry.Ticket = uint64(ticket)
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal: %w", err)
	}
	return out, nil
}

// Close implements Journal.
func (s *SQLite) Close() error {
	return s.db.Close()
}
