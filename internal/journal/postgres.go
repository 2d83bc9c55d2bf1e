package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	pgInsertSQL = `
INSERT INTO trade_journal (
    id,
    recorded_at,
    operation,
    outcome,
    request_id,
    ticket,
    symbol,
    order_type,
    volume,
    price,
    retcode,
    message,
    details
)
VALUES (
    @id::uuid,
    @recorded_at,
    @operation,
    @outcome,
    @request_id,
    @ticket,
    @symbol,
    @order_type,
    @volume::numeric,
    @price::numeric,
    @retcode,
    @message,
    @details::jsonb
)
ON CONFLICT (id) DO NOTHING;
`

	pgRecentSQL = `
SELECT id::text,
       recorded_at,
       operation,
       outcome,
       request_id,
       ticket,
       symbol,
       order_type,
       volume::text,
       price::text,
       retcode,
       message,
       details::text
FROM trade_journal
ORDER BY recorded_at DESC
LIMIT @limit;
`
)

// Postgres stores the journal in PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects a pool to dsn. The schema must already be migrated.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres journal: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres journal: %w", err)
	}
	return NewPostgres(pool), nil
}

// NewPostgres wraps an existing pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Record implements Journal.
func (p *Postgres) Record(ctx context.Context, entry Entry) error {
	entry.prepare()
	details, err := entry.detailsJSON()
	if err != nil {
		return err
	}
	args := pgx.NamedArgs{
		"id":          entry.ID.String(),
		"recorded_at": entry.Time,
		"operation":   entry.Operation,
		"outcome":     string(entry.Outcome),
		"request_id":  entry.RequestID,
		"ticket":      int64(entry.Ticket),
		"symbol":      entry.Symbol,
		"order_type":  entry.OrderType,
		"volume":      entry.Volume.String(),
		"price":       entry.Price.String(),
		"retcode":     entry.Retcode,
		"message":     entry.Message,
		"details":     details,
	}
	if _, err := p.pool.Exec(ctx, pgInsertSQL, args); err != nil {
		return fmt.Errorf("insert journal entry: %w", err)
	}
	return nil
}

// Recent implements Journal.
func (p *Postgres) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := p.pool.Query(ctx, pgRecentSQL, pgx.NamedArgs{"limit": limit})
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
			recordedAt             time.Time
			ticket                 int64
			retcode                int32
		)
		if err := rows.Scan(&id, &recordedAt, &entry.Operation, &outcome, &entry.RequestID,
			&ticket, &entry.Symbol, &entry.OrderType, &volume, &price,
			&retcode, &entry.Message, &details); err != nil {
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
		entry.Time = recordedAt.UTC()
		entry.Outcome = Outcome(outcome)
		entry.Ticket = uint64(ticket)
		entry.Retcode = int(retcode)
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal: %w", err)
	}
	return out, nil
}

// Close implements Journal.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
