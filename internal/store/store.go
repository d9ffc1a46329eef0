// Package store defines the backing-store abstraction for the trigram
// index and provides SQLite and in-memory implementations.
package store

import (
	"context"
	"time"
)

// AccessMode selects the isolation flavor for a transaction.
type AccessMode int

const (
	// ReadCommitted is a plain read against current data.
	ReadCommitted AccessMode = iota
	// ReadStaleSnapshot reads against a historical snapshot (TxOptions.AsOf),
	// trading recency for reduced contention with concurrent writers.
	ReadStaleSnapshot
	// Write is a mutating transaction.
	Write
)

// String returns the mode name for logs.
func (m AccessMode) String() string {
	switch m {
	case ReadCommitted:
		return "read"
	case ReadStaleSnapshot:
		return "stale-read"
	case Write:
		return "write"
	default:
		return "unknown"
	}
}

// TxOptions carries per-transaction settings. AsOf is only meaningful for
// ReadStaleSnapshot and names the snapshot cutoff.
type TxOptions struct {
	Mode AccessMode
	AsOf time.Time
}

// Record is the entity the index is derived from. Identity is an opaque
// key owned upstream; the store only reads and replaces it by ID.
type Record struct {
	ID        string
	Name      string
	GramCount int
	UpdatedAt time.Time
}

// Candidate is one row of a set-overlap candidate query: a record whose
// stored gram set intersects the query's, with the intersection size and
// the stored set size the scoring formula needs.
type Candidate struct {
	ID      string
	Name    string
	Overlap int
	Stored  int
}

// Tx is one atomic unit of work against the store. All driver failures
// returned from Tx methods are wrapped in apperr sentinels so callers can
// classify them with errors.Is.
type Tx interface {
	// ReplaceGrams overwrites the stored gram set (and display name) for
	// id, creating the record if it does not exist. Full replacement, not
	// a merge.
	ReplaceGrams(ctx context.Context, id, name string, grams []string) error

	// InsertRecord creates a new record with its gram set. A duplicate id
	// fails with apperr.ErrDuplicate.
	InsertRecord(ctx context.Context, id, name string, grams []string) error

	// GetRecord returns the record for id or apperr.ErrNotFound.
	GetRecord(ctx context.Context, id string) (*Record, error)

	// Candidates returns every record whose stored gram set intersects
	// grams, with overlap and stored-set sizes. Records with empty stored
	// sets never appear. Order is the store's iteration order.
	Candidates(ctx context.Context, grams []string) ([]Candidate, error)

	// PruneVersions deletes gram versions closed before the given cutoff
	// and reports how many rows were removed. Open (current) versions are
	// never touched.
	PruneVersions(ctx context.Context, before time.Time) (int64, error)

	Commit() error
	Rollback() error
}

// Store opens transactions against the backing index.
type Store interface {
	Begin(ctx context.Context, opts TxOptions) (Tx, error)
	Close() error
}
