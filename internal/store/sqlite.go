package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/fuzzmatch/trigramd/internal/apperr"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS records (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS grams (
	record_id  TEXT NOT NULL,
	gram       TEXT NOT NULL,
	valid_from INTEGER NOT NULL,
	valid_to   INTEGER
);

CREATE TABLE IF NOT EXISTS names (
	record_id  TEXT NOT NULL,
	name       TEXT NOT NULL,
	valid_from INTEGER NOT NULL,
	valid_to   INTEGER
);

CREATE INDEX IF NOT EXISTS idx_grams_gram   ON grams(gram);
CREATE INDEX IF NOT EXISTS idx_grams_record ON grams(record_id);
CREATE INDEX IF NOT EXISTS idx_names_record ON names(record_id);
`

// SQLite is the persistent Store implementation. Gram sets are versioned:
// each write closes the current rows (valid_to) and inserts fresh ones, so
// ReadStaleSnapshot transactions can resolve the set that was current at
// the snapshot cutoff.
type SQLite struct {
	conn *sql.DB
}

// OpenSQLite opens (or creates) the database and applies the schema.
func OpenSQLite(dsn string) (*SQLite, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &SQLite{conn: conn}, nil
}

// Begin starts a transaction with the given options.
func (s *SQLite) Begin(ctx context.Context, opts TxOptions) (Tx, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify(err)
	}
	return &sqliteTx{tx: tx, opts: opts}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.conn.Close()
}

// Verify interface satisfaction at compile time.
var _ Store = (*SQLite)(nil)

type sqliteTx struct {
	tx   *sql.Tx
	opts TxOptions
}

func (t *sqliteTx) Commit() error   { return classify(t.tx.Commit()) }
func (t *sqliteTx) Rollback() error { return t.tx.Rollback() }

func (t *sqliteTx) ReplaceGrams(ctx context.Context, id, name string, grams []string) error {
	now := time.Now().UnixMicro()

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO records (id, name, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name       = excluded.name,
			updated_at = excluded.updated_at
	`, id, name, now)
	if err != nil {
		return classify(fmt.Errorf("store: upsert record: %w", err))
	}

	// Close out the current version, then insert the new set.
	if _, err := t.tx.ExecContext(ctx,
		`UPDATE grams SET valid_to = ? WHERE record_id = ? AND valid_to IS NULL`, now, id); err != nil {
		return classify(fmt.Errorf("store: close gram version: %w", err))
	}
	if _, err := t.tx.ExecContext(ctx,
		`UPDATE names SET valid_to = ? WHERE record_id = ? AND valid_to IS NULL`, now, id); err != nil {
		return classify(fmt.Errorf("store: close name version: %w", err))
	}
	return t.insertVersion(ctx, id, name, grams, now)
}

func (t *sqliteTx) InsertRecord(ctx context.Context, id, name string, grams []string) error {
	now := time.Now().UnixMicro()
	if _, err := t.tx.ExecContext(ctx,
		`INSERT INTO records (id, name, updated_at) VALUES (?, ?, ?)`, id, name, now); err != nil {
		return classify(fmt.Errorf("store: insert record: %w", err))
	}
	return t.insertVersion(ctx, id, name, grams, now)
}

func (t *sqliteTx) insertVersion(ctx context.Context, id, name string, grams []string, from int64) error {
	if _, err := t.tx.ExecContext(ctx,
		`INSERT INTO names (record_id, name, valid_from) VALUES (?, ?, ?)`, id, name, from); err != nil {
		return classify(fmt.Errorf("store: insert name version: %w", err))
	}
	if len(grams) == 0 {
		return nil
	}
	stmt, err := t.tx.PrepareContext(ctx,
		`INSERT INTO grams (record_id, gram, valid_from) VALUES (?, ?, ?)`)
	if err != nil {
		return classify(fmt.Errorf("store: prepare gram insert: %w", err))
	}
	defer stmt.Close()
	for _, g := range grams {
		if _, err := stmt.ExecContext(ctx, id, g, from); err != nil {
			return classify(fmt.Errorf("store: insert gram: %w", err))
		}
	}
	return nil
}

func (t *sqliteTx) GetRecord(ctx context.Context, id string) (*Record, error) {
	var rec Record
	var updated int64
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, name, updated_at FROM records WHERE id = ?`, id).
		Scan(&rec.ID, &rec.Name, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, classify(fmt.Errorf("store: get record: %w", err))
	}
	rec.UpdatedAt = time.UnixMicro(updated)

	err = t.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM grams WHERE record_id = ? AND valid_to IS NULL`, id).
		Scan(&rec.GramCount)
	if err != nil {
		return nil, classify(fmt.Errorf("store: count grams: %w", err))
	}
	return &rec, nil
}

// visibility returns the snapshot predicate for this transaction and the
// bind arguments it needs. Alias names the grams table in the enclosing
// query.
func (t *sqliteTx) visibility(alias string) (string, []any) {
	if t.opts.Mode == ReadStaleSnapshot {
		cutoff := t.opts.AsOf.UnixMicro()
		return fmt.Sprintf("(%s.valid_from <= ? AND (%s.valid_to IS NULL OR %s.valid_to > ?))",
			alias, alias, alias), []any{cutoff, cutoff}
	}
	return fmt.Sprintf("%s.valid_to IS NULL", alias), nil
}

func (t *sqliteTx) Candidates(ctx context.Context, grams []string) ([]Candidate, error) {
	if len(grams) == 0 {
		return nil, nil
	}

	visG, argsG := t.visibility("g")
	visS, argsS := t.visibility("s")
	visN, argsN := t.visibility("n")

	q := fmt.Sprintf(`
		SELECT g.record_id,
		       n.name,
		       COUNT(*) AS overlap,
		       (SELECT COUNT(*) FROM grams s WHERE s.record_id = g.record_id AND %s) AS stored
		FROM grams g
		JOIN names n ON n.record_id = g.record_id AND %s
		WHERE %s AND g.gram IN (%s)
		GROUP BY g.record_id, n.name
		ORDER BY g.record_id
	`, visS, visN, visG, placeholders(len(grams)))

	args := make([]any, 0, len(argsS)+len(argsN)+len(argsG)+len(grams))
	args = append(args, argsS...)
	args = append(args, argsN...)
	args = append(args, argsG...)
	for _, g := range grams {
		args = append(args, g)
	}

	rows, err := t.tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, classify(fmt.Errorf("store: candidates: %w", err))
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.ID, &c.Name, &c.Overlap, &c.Stored); err != nil {
			return nil, classify(err)
		}
		out = append(out, c)
	}
	return out, classify(rows.Err())
}

func (t *sqliteTx) PruneVersions(ctx context.Context, before time.Time) (int64, error) {
	cutoff := before.UnixMicro()
	res, err := t.tx.ExecContext(ctx,
		`DELETE FROM grams WHERE valid_to IS NOT NULL AND valid_to < ?`, cutoff)
	if err != nil {
		return 0, classify(fmt.Errorf("store: prune gram versions: %w", err))
	}
	n, _ := res.RowsAffected()

	res, err = t.tx.ExecContext(ctx,
		`DELETE FROM names WHERE valid_to IS NOT NULL AND valid_to < ?`, cutoff)
	if err != nil {
		return 0, classify(fmt.Errorf("store: prune name versions: %w", err))
	}
	m, _ := res.RowsAffected()
	return n + m, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// classify maps a driver error into the apperr taxonomy. Unrecognized
// failures come back as transient so the executor falls back to its fixed
// delay rather than giving up on errors we cannot name.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return fmt.Errorf("%w: %v", apperr.ErrSerializationConflict, err)
		case sqlite3.ErrConstraint:
			if se.ExtendedCode == sqlite3.ErrConstraintUnique ||
				se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
				return fmt.Errorf("%w: %v", apperr.ErrDuplicate, err)
			}
		}
	}
	return fmt.Errorf("%w: %v", apperr.ErrTransient, err)
}
