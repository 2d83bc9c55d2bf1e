// Package journal records the outcome of every trading operation the bridge
// executes. Backends: none, sqlite and postgres.
package journal

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Xolisakesi/metatrrade-mcp/internal/config"
	"github.com/Xolisakesi/metatrrade-mcp/internal/observability"
)

// Outcome classifies how a trading operation ended.
type Outcome string

const (
	// OutcomeExecuted means the terminal accepted the request.
	OutcomeExecuted Outcome = "executed"
	// OutcomeRejected means the terminal answered with a failure retcode.
	OutcomeRejected Outcome = "rejected"
	// OutcomeInvalid means the request failed validation and never reached the terminal.
	OutcomeInvalid Outcome = "invalid"
	// OutcomeFailed means the terminal call itself errored.
	OutcomeFailed Outcome = "failed"
)

// Entry is one journal line.
type Entry struct {
	ID        uuid.UUID
	Time      time.Time
	Operation string
	Outcome   Outcome
	RequestID string
	Ticket    uint64
	Symbol    string
	OrderType string
	Volume    decimal.Decimal
	Price     decimal.Decimal
	Retcode   int
	Message   string
	Details   map[string]any
}

func (e *Entry) prepare() {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	e.Time = e.Time.UTC()
}

func (e Entry) detailsJSON() (string, error) {
	if len(e.Details) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(e.Details)
	if err != nil {
		return "", fmt.Errorf("encode journal details: %w", err)
	}
	return string(raw), nil
}

func decodeDetails(raw string) (map[string]any, error) {
	if raw == "" || raw == "{}" {
		return nil, nil
	}
	var details map[string]any
	if err := json.Unmarshal([]byte(raw), &details); err != nil {
		return nil, fmt.Errorf("decode journal details: %w", err)
	}
	return details, nil
}

// Journal persists entries.
type Journal interface {
	Record(ctx context.Context, entry Entry) error
	// Recent returns up to limit entries, newest first.
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

// Noop discards everything.
type Noop struct{}

// Record implements Journal.
func (Noop) Record(context.Context, Entry) error { return nil }

// Recent implements Journal.
func (Noop) Recent(context.Context, int) ([]Entry, error) { return nil, nil }

// Close implements Journal.
func (Noop) Close() error { return nil }

// Open builds the backend selected by cfg.
func Open(ctx context.Context, cfg config.JournalConfig, logger observability.Logger) (Journal, error) {
	if logger == nil {
		logger = observability.Log()
	}
	switch cfg.Driver {
	case "", config.JournalNone:
		return Noop{}, nil
	case config.JournalSQLite:
		j, err := OpenSQLite(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		logger.Info("trade journal opened", observability.F("driver", "sqlite"))
		return j, nil
	case config.JournalPostgres:
		if cfg.RunMigrations {
			if err := Migrate(ctx, cfg.DSN, logger); err != nil {
				return nil, err
			}
		}
		j, err := OpenPostgres(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		logger.Info("trade journal opened", observability.F("driver", "postgres"))
		return j, nil
	default:
		return nil, fmt.Errorf("unsupported journal driver: %s", cfg.Driver)
	}
}
