package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/fuzzmatch/trigramd/internal/apperr"
)

func testSQLite(t *testing.T) Store {
	t.Helper()
	f, err := os.CreateTemp("", "trigramd-store-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	st, err := OpenSQLite(f.Name())
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// implementations runs a subtest against both store implementations.
func implementations(t *testing.T, fn func(t *testing.T, st Store)) {
	t.Helper()
	t.Run("sqlite", func(t *testing.T) { fn(t, testSQLite(t)) })
	t.Run("memory", func(t *testing.T) { fn(t, NewMemory()) })
}

func write(t *testing.T, st Store, fn func(tx Tx) error) {
	t.Helper()
	tx, err := st.Begin(context.Background(), TxOptions{Mode: Write})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		t.Fatalf("tx op: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func candidates(t *testing.T, st Store, opts TxOptions, grams []string) []Candidate {
	t.Helper()
	tx, err := st.Begin(context.Background(), opts)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer tx.Rollback()
	out, err := tx.Candidates(context.Background(), grams)
	if err != nil {
		t.Fatalf("Candidates: %v", err)
	}
	return out
}

func TestReplaceGramsAndCandidates(t *testing.T) {
	implementations(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		write(t, st, func(tx Tx) error {
			return tx.ReplaceGrams(ctx, "r1", "abc", []string{"abc"})
		})
		write(t, st, func(tx Tx) error {
			return tx.ReplaceGrams(ctx, "r2", "abcd", []string{"abc", "bcd"})
		})

		got := candidates(t, st, TxOptions{Mode: ReadCommitted}, []string{"abc", "xyz"})
		if len(got) != 2 {
			t.Fatalf("candidates = %+v, want 2", got)
		}
		for _, c := range got {
			if c.Overlap != 1 {
				t.Errorf("%s overlap = %d, want 1", c.ID, c.Overlap)
			}
		}
		if got[0].ID != "r1" || got[0].Stored != 1 {
			t.Errorf("got[0] = %+v, want r1 with stored=1", got[0])
		}
		if got[1].ID != "r2" || got[1].Stored != 2 {
			t.Errorf("got[1] = %+v, want r2 with stored=2", got[1])
		}
	})
}

func TestReplaceGramsOverwritesWholesale(t *testing.T) {
	implementations(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		write(t, st, func(tx Tx) error {
			return tx.ReplaceGrams(ctx, "r1", "old", []string{"old"})
		})
		write(t, st, func(tx Tx) error {
			return tx.ReplaceGrams(ctx, "r1", "new", []string{"new"})
		})

		if got := candidates(t, st, TxOptions{Mode: ReadCommitted}, []string{"old"}); len(got) != 0 {
			t.Errorf("old grams still match: %+v", got)
		}
		got := candidates(t, st, TxOptions{Mode: ReadCommitted}, []string{"new"})
		if len(got) != 1 || got[0].Name != "new" {
			t.Errorf("new grams = %+v, want one hit named new", got)
		}
	})
}

func TestStaleSnapshotSeesOldVersion(t *testing.T) {
	implementations(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		write(t, st, func(tx Tx) error {
			return tx.ReplaceGrams(ctx, "r1", "old", []string{"old"})
		})

		time.Sleep(20 * time.Millisecond)
		cutoff := time.Now()
		time.Sleep(20 * time.Millisecond)

		write(t, st, func(tx Tx) error {
			return tx.ReplaceGrams(ctx, "r1", "new", []string{"new"})
		})

		stale := TxOptions{Mode: ReadStaleSnapshot, AsOf: cutoff}
		got := candidates(t, st, stale, []string{"old"})
		if len(got) != 1 || got[0].Name != "old" {
			t.Fatalf("stale candidates = %+v, want the old version", got)
		}
		if got := candidates(t, st, stale, []string{"new"}); len(got) != 0 {
			t.Errorf("stale read saw the new version: %+v", got)
		}
	})
}

func TestInsertRecordDuplicate(t *testing.T) {
	implementations(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		write(t, st, func(tx Tx) error {
			return tx.InsertRecord(ctx, "r1", "first", []string{"fir"})
		})

		tx, err := st.Begin(ctx, TxOptions{Mode: Write})
		if err != nil {
			t.Fatalf("Begin: %v", err)
		}
		defer tx.Rollback()
		err = tx.InsertRecord(ctx, "r1", "second", []string{"sec"})
		if !errors.Is(err, apperr.ErrDuplicate) {
			t.Fatalf("InsertRecord dup = %v, want ErrDuplicate", err)
		}
	})
}

func TestGetRecord(t *testing.T) {
	implementations(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		write(t, st, func(tx Tx) error {
			return tx.ReplaceGrams(ctx, "r1", "hello", []string{"hel", "ell", "llo"})
		})

		tx, err := st.Begin(ctx, TxOptions{Mode: ReadCommitted})
		if err != nil {
			t.Fatalf("Begin: %v", err)
		}
		defer tx.Rollback()

		rec, err := tx.GetRecord(ctx, "r1")
		if err != nil {
			t.Fatalf("GetRecord: %v", err)
		}
		if rec.Name != "hello" || rec.GramCount != 3 {
			t.Errorf("record = %+v, want hello with 3 grams", rec)
		}

		if _, err := tx.GetRecord(ctx, "nope"); !errors.Is(err, apperr.ErrNotFound) {
			t.Errorf("GetRecord(nope) = %v, want ErrNotFound", err)
		}
	})
}

func TestEmptyGramSetNeverMatches(t *testing.T) {
	implementations(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		write(t, st, func(tx Tx) error {
			// Text too short to tokenize: stored set is empty.
			return tx.ReplaceGrams(ctx, "r1", "ab", nil)
		})
		if got := candidates(t, st, TxOptions{Mode: ReadCommitted}, []string{"abc"}); len(got) != 0 {
			t.Errorf("empty stored set matched: %+v", got)
		}
	})
}

func TestPruneVersionsRemovesOnlyClosed(t *testing.T) {
	implementations(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		write(t, st, func(tx Tx) error {
			return tx.ReplaceGrams(ctx, "r1", "old", []string{"old"})
		})
		time.Sleep(20 * time.Millisecond)
		write(t, st, func(tx Tx) error {
			return tx.ReplaceGrams(ctx, "r1", "new", []string{"new"})
		})
		time.Sleep(20 * time.Millisecond)

		var removed int64
		write(t, st, func(tx Tx) error {
			var err error
			removed, err = tx.PruneVersions(ctx, time.Now())
			return err
		})
		if removed == 0 {
			t.Fatal("prune removed nothing, want the closed version gone")
		}

		// The open version survives.
		got := candidates(t, st, TxOptions{Mode: ReadCommitted}, []string{"new"})
		if len(got) != 1 {
			t.Errorf("current version missing after prune: %+v", got)
		}
		// A fresh prune finds nothing else to do.
		write(t, st, func(tx Tx) error {
			var err error
			removed, err = tx.PruneVersions(ctx, time.Now())
			return err
		})
		if removed != 0 {
			t.Errorf("second prune removed %d, want 0", removed)
		}
	})
}

func TestCandidatesEmptyQuery(t *testing.T) {
	implementations(t, func(t *testing.T, st Store) {
		if got := candidates(t, st, TxOptions{Mode: ReadCommitted}, nil); len(got) != 0 {
			t.Errorf("candidates(nil) = %+v, want none", got)
		}
	})
}
