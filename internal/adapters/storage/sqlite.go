package storage

// sqlite.go — persistencia durable del memory node y del estado evolutivo.
//
// Tres tablas:
//   - `outcomes`: un round-trip cerrado por fila, inmutable. Los montos van
//     como TEXT para no perder precisión decimal.
//   - `agents`: snapshot del registro evolutivo (UPSERT por nombre).
//   - `breaker`: una fila con el estado del guardián de drawdown.
//
// Prune automático al arrancar: outcomes > 30 días.

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/alejandrodnm/omniperp/internal/domain"
	"github.com/alejandrodnm/omniperp/internal/evolution"
)

const schema = `
CREATE TABLE IF NOT EXISTS outcomes (
    id          TEXT PRIMARY KEY,
    symbol      TEXT NOT NULL,
    side        TEXT NOT NULL,
    entry       TEXT NOT NULL,
    exit        TEXT NOT NULL,
    qty         TEXT NOT NULL,
    leverage    INTEGER NOT NULL DEFAULT 1,
    pnl         TEXT NOT NULL,
    fees        TEXT NOT NULL,
    class       TEXT NOT NULL,
    opened_at   DATETIME,
    closed_at   DATETIME NOT NULL,
    agents      TEXT,
    confidences TEXT,
    tags        TEXT,
    pattern     TEXT
);

CREATE TABLE IF NOT EXISTS agents (
    name       TEXT PRIMARY KEY,
    kind       TEXT NOT NULL,
    generation INTEGER NOT NULL DEFAULT 0,
    parent     TEXT,
    params     TEXT,
    active     INTEGER NOT NULL DEFAULT 1,
    created_at DATETIME
);

CREATE TABLE IF NOT EXISTS breaker (
    id       INTEGER PRIMARY KEY CHECK (id = 1),
    tripped  INTEGER NOT NULL DEFAULT 0,
    realized TEXT NOT NULL DEFAULT '0',
    saved_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_outcomes_symbol ON outcomes(symbol);
CREATE INDEX IF NOT EXISTS idx_outcomes_closed ON outcomes(closed_at DESC);
`

const retentionOutcomes = 30 * 24 * time.Hour

// SQLiteStorage implementa ports.OutcomeStorage usando SQLite (pure Go, sin CGo).
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage abre (o crea) la base en la ruta dada, aplica el schema y
// limpia datos antiguos.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}

	s := &SQLiteStorage{db: db}
	s.pruneOld(context.Background())
	return s, nil
}

func (s *SQLiteStorage) pruneOld(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-retentionOutcomes)
	if _, err := s.db.ExecContext(ctx, `DELETE FROM outcomes WHERE closed_at < ?`, cutoff); err != nil {
		slog.Warn("storage: prune failed", "err", err)
	}
}

// SaveOutcome persiste un round-trip cerrado.
func (s *SQLiteStorage) SaveOutcome(ctx context.Context, o domain.TradeOutcome) error {
	agents, _ := json.Marshal(o.ContributingAgents)
	confidences, _ := json.Marshal(o.Confidences)
	tags, _ := json.Marshal(o.Tags)
	pattern, _ := json.Marshal(o.Pattern)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO outcomes
		  (id, symbol, side, entry, exit, qty, leverage, pnl, fees, class,
		   opened_at, closed_at, agents, confidences, tags, pattern)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.Symbol, string(o.Side),
		o.Entry.String(), o.Exit.String(), o.Qty.String(), o.Leverage,
		o.RealizedPnL.String(), o.Fees.String(), string(o.Class),
		o.OpenedAt.UTC(), o.ClosedAt.UTC(),
		string(agents), string(confidences), string(tags), string(pattern),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveOutcome %s: %w", o.ID, err)
	}
	return nil
}

// LoadOutcomes devuelve los últimos limit outcomes, más recientes primero.
func (s *SQLiteStorage) LoadOutcomes(ctx context.Context, limit int) ([]domain.TradeOutcome, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, symbol, side, entry, exit, qty, leverage, pnl, fees, class,
		       opened_at, closed_at, agents, confidences, tags, pattern
		FROM outcomes ORDER BY closed_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage.LoadOutcomes: %w", err)
	}
	defer rows.Close()

	var out []domain.TradeOutcome
	for rows.Next() {
		var o domain.TradeOutcome
		var side, entry, exit, qty, pnl, fees, class string
		var agents, confidences, tags, pattern sql.NullString
		var openedAt, closedAt sql.NullTime

		if err := rows.Scan(&o.ID, &o.Symbol, &side, &entry, &exit, &qty, &o.Leverage,
			&pnl, &fees, &class, &openedAt, &closedAt,
			&agents, &confidences, &tags, &pattern); err != nil {
			return nil, fmt.Errorf("storage.LoadOutcomes: scan: %w", err)
		}

		o.Side = domain.Side(side)
		o.Class = domain.OutcomeClass(class)
		if o.Entry, err = decimal.NewFromString(entry); err != nil {
			return nil, fmt.Errorf("storage.LoadOutcomes: entry %q: %w", entry, err)
		}
		if o.Exit, err = decimal.NewFromString(exit); err != nil {
			return nil, fmt.Errorf("storage.LoadOutcomes: exit %q: %w", exit, err)
		}
		if o.Qty, err = decimal.NewFromString(qty); err != nil {
			return nil, fmt.Errorf("storage.LoadOutcomes: qty %q: %w", qty, err)
		}
		if o.RealizedPnL, err = decimal.NewFromString(pnl); err != nil {
			return nil, fmt.Errorf("storage.LoadOutcomes: pnl %q: %w", pnl, err)
		}
		if o.Fees, err = decimal.NewFromString(fees); err != nil {
			return nil, fmt.Errorf("storage.LoadOutcomes: fees %q: %w", fees, err)
		}
		if openedAt.Valid {
			o.OpenedAt = openedAt.Time
		}
		if closedAt.Valid {
			o.ClosedAt = closedAt.Time
		}
		if agents.Valid {
			_ = json.Unmarshal([]byte(agents.String), &o.ContributingAgents)
		}
		if confidences.Valid {
			_ = json.Unmarshal([]byte(confidences.String), &o.Confidences)
		}
		if tags.Valid {
			_ = json.Unmarshal([]byte(tags.String), &o.Tags)
		}
		if pattern.Valid {
			_ = json.Unmarshal([]byte(pattern.String), &o.Pattern)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// SaveAgents hace upsert del snapshot completo del registro.
func (s *SQLiteStorage) SaveAgents(ctx context.Context, agents []evolution.AgentMetadata) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.SaveAgents: begin: %w", err)
	}
	defer tx.Rollback()

	for _, a := range agents {
		params, _ := json.Marshal(a.Params)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO agents (name, kind, generation, parent, params, active, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET
			  generation = excluded.generation,
			  params     = excluded.params,
			  active     = excluded.active`,
			a.Name, a.Kind, a.Generation, a.Parent, string(params), boolToInt(a.Active), a.CreatedAt.UTC(),
		); err != nil {
			return fmt.Errorf("storage.SaveAgents %s: %w", a.Name, err)
		}
	}
	return tx.Commit()
}

// LoadAgents restaura el registro evolutivo.
func (s *SQLiteStorage) LoadAgents(ctx context.Context) ([]evolution.AgentMetadata, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, kind, generation, parent, params, active, created_at FROM agents`)
	if err != nil {
		return nil, fmt.Errorf("storage.LoadAgents: %w", err)
	}
	defer rows.Close()

	var out []evolution.AgentMetadata
	for rows.Next() {
		var a evolution.AgentMetadata
		var parent, params sql.NullString
		var active int
		var createdAt sql.NullTime
		if err := rows.Scan(&a.Name, &a.Kind, &a.Generation, &parent, &params, &active, &createdAt); err != nil {
			return nil, fmt.Errorf("storage.LoadAgents: scan: %w", err)
		}
		a.Active = active != 0
		if parent.Valid {
			a.Parent = parent.String
		}
		if params.Valid {
			_ = json.Unmarshal([]byte(params.String), &a.Params)
		}
		if createdAt.Valid {
			a.CreatedAt = createdAt.Time
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SaveBreaker persiste el estado del guardián (una sola fila).
func (s *SQLiteStorage) SaveBreaker(ctx context.Context, tripped bool, realized string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO breaker (id, tripped, realized, saved_at) VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		  tripped = excluded.tripped,
		  realized = excluded.realized,
		  saved_at = excluded.saved_at`,
		boolToInt(tripped), realized, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("storage.SaveBreaker: %w", err)
	}
	return nil
}

// LoadBreaker restaura el estado del guardián. Sin fila = estado limpio.
func (s *SQLiteStorage) LoadBreaker(ctx context.Context) (bool, string, error) {
	var tripped int
	var realized string
	err := s.db.QueryRowContext(ctx,
		`SELECT tripped, realized FROM breaker WHERE id = 1`).Scan(&tripped, &realized)
	if err == sql.ErrNoRows {
		return false, "0", nil
	}
	if err != nil {
		return false, "0", fmt.Errorf("storage.LoadBreaker: %w", err)
	}
	return tripped != 0, realized, nil
}

// Close cierra la base.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
