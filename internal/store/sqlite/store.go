// Package sqlite persists the ledger snapshot and audit log in a local
// SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/alanyoungcy/certaintybot/internal/domain"
)

// Store wraps a SQLite database. It implements domain.LedgerStore and
// domain.AuditStore.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path. ":memory:" is accepted for
// tests.
func Open(path string) (*Store, error) {
	if path == "" {
		path = "certaintybot.db"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; also keeps :memory: on one connection
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: set WAL mode: %w", err)
	}
	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS positions (
			id          TEXT PRIMARY KEY,
			market_id   TEXT NOT NULL,
			token_id    TEXT NOT NULL,
			outcome     TEXT NOT NULL DEFAULT '',
			entry_price REAL NOT NULL,
			size        REAL NOT NULL,
			opened_at   INTEGER NOT NULL,
			status      TEXT NOT NULL,
			pnl         REAL NOT NULL DEFAULT 0,
			resolved_at INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS ledger_state (
			id         INTEGER PRIMARY KEY CHECK (id = 1),
			stats      TEXT NOT NULL,
			daily_pnl  REAL NOT NULL,
			daily_date TEXT NOT NULL,
			saved_at   INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			event      TEXT NOT NULL,
			detail     TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_created_at ON audit_log(created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Save replaces the stored snapshot inside one transaction.
func (s *Store) Save(ctx context.Context, snap domain.LedgerSnapshot) error {
	stats, err := json.Marshal(snap.Stats)
	if err != nil {
		return fmt.Errorf("sqlite: save: marshal stats: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: save: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM positions`); err != nil {
		return fmt.Errorf("sqlite: save: clear positions: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO positions
			(id, market_id, token_id, outcome, entry_price, size, opened_at, status, pnl, resolved_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("sqlite: save: prepare: %w", err)
	}
	defer stmt.Close()

	for _, p := range snap.Positions {
		var resolved sql.NullInt64
		if p.ResolvedAt != nil {
			resolved = sql.NullInt64{Int64: p.ResolvedAt.UnixNano(), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx,
			p.ID, p.MarketID, p.TokenID, p.Outcome, p.EntryPrice, p.Size,
			p.OpenedAt.UnixNano(), string(p.Status), p.PnL, resolved,
		); err != nil {
			return fmt.Errorf("sqlite: save: insert position %s: %w", p.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_state (id, stats, daily_pnl, daily_date, saved_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			stats = excluded.stats,
			daily_pnl = excluded.daily_pnl,
			daily_date = excluded.daily_date,
			saved_at = excluded.saved_at`,
		string(stats), snap.DailyPnL, snap.DailyDate, snap.SavedAt.UnixNano(),
	); err != nil {
		return fmt.Errorf("sqlite: save: upsert state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: save: commit: %w", err)
	}
	return nil
}

// Load reads the stored snapshot. It returns domain.ErrNotFound when Save
// was never called.
func (s *Store) Load(ctx context.Context) (domain.LedgerSnapshot, error) {
	var (
		snap    domain.LedgerSnapshot
		stats   string
		savedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT stats, daily_pnl, daily_date, saved_at FROM ledger_state WHERE id = 1`,
	).Scan(&stats, &snap.DailyPnL, &snap.DailyDate, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.LedgerSnapshot{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.LedgerSnapshot{}, fmt.Errorf("sqlite: load state: %w", err)
	}
	if err := json.Unmarshal([]byte(stats), &snap.Stats); err != nil {
		return domain.LedgerSnapshot{}, fmt.Errorf("sqlite: load: decode stats: %w", err)
	}
	snap.SavedAt = time.Unix(0, savedAt).UTC()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, market_id, token_id, outcome, entry_price, size, opened_at, status, pnl, resolved_at
		FROM positions`)
	if err != nil {
		return domain.LedgerSnapshot{}, fmt.Errorf("sqlite: load positions: %w", err)
	}
	defer rows.Close()

	snap.Positions = make(map[string]domain.Position)
	for rows.Next() {
		var (
			p        domain.Position
			status   string
			opened   int64
			resolved sql.NullInt64
		)
		if err := rows.Scan(&p.ID, &p.MarketID, &p.TokenID, &p.Outcome, &p.EntryPrice, &p.Size,
			&opened, &status, &p.PnL, &resolved); err != nil {
			return domain.LedgerSnapshot{}, fmt.Errorf("sqlite: scan position: %w", err)
		}
		p.Status = domain.PositionStatus(status)
		p.OpenedAt = time.Unix(0, opened).UTC()
		if resolved.Valid {
			t := time.Unix(0, resolved.Int64).UTC()
			p.ResolvedAt = &t
		}
		snap.Positions[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return domain.LedgerSnapshot{}, fmt.Errorf("sqlite: load positions: %w", err)
	}
	return snap, nil
}

// Log appends an audit entry.
func (s *Store) Log(ctx context.Context, event string, detail map[string]any) error {
	body, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("sqlite: audit log: marshal: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (event, detail, created_at) VALUES (?, ?, ?)`,
		event, string(body), time.Now().UnixNano(),
	); err != nil {
		return fmt.Errorf("sqlite: audit log: %w", err)
	}
	return nil
}

// List returns audit entries newest first.
func (s *Store) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, event, detail, created_at FROM audit_log WHERE 1=1`
	args := []any{}
	if opts.Since != nil {
		query += ` AND created_at >= ?`
		args = append(args, opts.Since.UnixNano())
	}
	if opts.Until != nil {
		query += ` AND created_at <= ?`
		args = append(args, opts.Until.UnixNano())
	}
	query += ` ORDER BY id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: audit list: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var (
			e       domain.AuditEntry
			detail  string
			created int64
		)
		if err := rows.Scan(&e.ID, &e.Event, &detail, &created); err != nil {
			return nil, fmt.Errorf("sqlite: audit scan: %w", err)
		}
		if err := json.Unmarshal([]byte(detail), &e.Detail); err != nil {
			return nil, fmt.Errorf("sqlite: audit decode: %w", err)
		}
		e.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
