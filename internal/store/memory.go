package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fuzzmatch/trigramd/internal/apperr"
)

// Memory is an in-memory Store with the same versioned-snapshot semantics
// as the SQLite implementation: an inverted gram index answers the
// candidate filter, and per-record version history serves stale reads.
// Intended for tests and for running without a database file.
type Memory struct {
	mu       sync.RWMutex
	records  map[string]*memRecord
	inverted map[string]map[string]struct{} // gram -> ids with any live version containing it
}

type memRecord struct {
	versions []memVersion // ordered by from; last entry is the open version
}

type memVersion struct {
	from  time.Time
	to    time.Time // zero while the version is current
	name  string
	grams map[string]struct{}
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		records:  make(map[string]*memRecord),
		inverted: make(map[string]map[string]struct{}),
	}
}

// Begin starts a transaction. Mutations are buffered and applied
// atomically on Commit, so a rolled-back attempt leaves no trace.
func (m *Memory) Begin(_ context.Context, opts TxOptions) (Tx, error) {
	return &memTx{store: m, opts: opts}, nil
}

// Close releases nothing; it exists to satisfy Store.
func (m *Memory) Close() error { return nil }

var _ Store = (*Memory)(nil)

type memTx struct {
	store   *Memory
	opts    TxOptions
	pending []func(now time.Time)
	done    bool
}

func (t *memTx) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	now := time.Now()
	for _, apply := range t.pending {
		apply(now)
	}
	return nil
}

func (t *memTx) Rollback() error {
	t.pending = nil
	t.done = true
	return nil
}

func (t *memTx) ReplaceGrams(_ context.Context, id, name string, grams []string) error {
	set := gramSet(grams)
	t.pending = append(t.pending, func(now time.Time) {
		t.store.upsertVersion(id, name, set, now)
	})
	return nil
}

func (t *memTx) InsertRecord(_ context.Context, id, name string, grams []string) error {
	t.store.mu.RLock()
	_, exists := t.store.records[id]
	t.store.mu.RUnlock()
	if exists {
		return apperr.ErrDuplicate
	}
	set := gramSet(grams)
	t.pending = append(t.pending, func(now time.Time) {
		t.store.upsertVersion(id, name, set, now)
	})
	return nil
}

func (t *memTx) GetRecord(_ context.Context, id string) (*Record, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	rec, ok := t.store.records[id]
	if !ok || len(rec.versions) == 0 {
		return nil, apperr.ErrNotFound
	}
	cur := rec.versions[len(rec.versions)-1]
	return &Record{
		ID:        id,
		Name:      cur.name,
		GramCount: len(cur.grams),
		UpdatedAt: cur.from,
	}, nil
}

func (t *memTx) Candidates(_ context.Context, grams []string) ([]Candidate, error) {
	if len(grams) == 0 {
		return nil, nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	// Candidate ids from the inverted index, then resolve each against the
	// version visible to this transaction.
	ids := make(map[string]struct{})
	for _, g := range grams {
		for id := range t.store.inverted[g] {
			ids[id] = struct{}{}
		}
	}

	ordered := make([]string, 0, len(ids))
	for id := range ids {
		ordered = append(ordered, id)
	}
	sort.Strings(ordered)

	var out []Candidate
	for _, id := range ordered {
		rec := t.store.records[id]
		v := rec.versionAt(t.opts)
		if v == nil || len(v.grams) == 0 {
			continue
		}
		overlap := 0
		for _, g := range grams {
			if _, ok := v.grams[g]; ok {
				overlap++
			}
		}
		if overlap == 0 {
			continue
		}
		out = append(out, Candidate{ID: id, Name: v.name, Overlap: overlap, Stored: len(v.grams)})
	}
	return out, nil
}

func (t *memTx) PruneVersions(_ context.Context, before time.Time) (int64, error) {
	// Prune is a single idempotent operation; applying it immediately
	// keeps the removed count observable to the caller.
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	return t.store.prune(before), nil
}

func (r *memRecord) versionAt(opts TxOptions) *memVersion {
	if len(r.versions) == 0 {
		return nil
	}
	if opts.Mode != ReadStaleSnapshot {
		return &r.versions[len(r.versions)-1]
	}
	for i := len(r.versions) - 1; i >= 0; i-- {
		v := &r.versions[i]
		if v.from.After(opts.AsOf) {
			continue
		}
		if v.to.IsZero() || v.to.After(opts.AsOf) {
			return v
		}
	}
	return nil
}

// upsertVersion closes the current version and appends a new open one.
// Caller holds the write lock.
func (m *Memory) upsertVersion(id, name string, grams map[string]struct{}, now time.Time) {
	rec, ok := m.records[id]
	if !ok {
		rec = &memRecord{}
		m.records[id] = rec
	}
	if n := len(rec.versions); n > 0 {
		rec.versions[n-1].to = now
	}
	rec.versions = append(rec.versions, memVersion{from: now, name: name, grams: grams})
	for g := range grams {
		set, ok := m.inverted[g]
		if !ok {
			set = make(map[string]struct{})
			m.inverted[g] = set
		}
		set[id] = struct{}{}
	}
}

// prune drops closed versions older than the cutoff and rebuilds inverted
// entries for the affected records. Caller holds the write lock.
func (m *Memory) prune(before time.Time) int64 {
	var removed int64
	for id, rec := range m.records {
		kept := rec.versions[:0]
		dropped := false
		for _, v := range rec.versions {
			if !v.to.IsZero() && v.to.Before(before) {
				removed++
				dropped = true
				continue
			}
			kept = append(kept, v)
		}
		rec.versions = kept
		if dropped {
			m.reindex(id, rec)
		}
	}
	return removed
}

// reindex rebuilds the inverted entries for one record from its surviving
// versions. Caller holds the write lock.
func (m *Memory) reindex(id string, rec *memRecord) {
	live := make(map[string]struct{})
	for _, v := range rec.versions {
		for g := range v.grams {
			live[g] = struct{}{}
		}
	}
	for g, set := range m.inverted {
		if _, ok := live[g]; ok {
			continue
		}
		if _, ok := set[id]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(m.inverted, g)
			}
		}
	}
}

func gramSet(grams []string) map[string]struct{} {
	set := make(map[string]struct{}, len(grams))
	for _, g := range grams {
		set[g] = struct{}{}
	}
	return set
}
