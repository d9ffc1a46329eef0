package indexing

import (
	"context"
	"sync"
	"testing"

	"github.com/fuzzmatch/trigramd/internal/store"
	"github.com/fuzzmatch/trigramd/internal/testutil"
)

type recordedNotify struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordedNotify) RecordIndexed(id, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "indexed:"+id+"/"+name)
}

func (r *recordedNotify) RecordCreated(id, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "created:"+id+"/"+name)
}

func gramCount(t *testing.T, st store.Store, id string) int {
	t.Helper()
	tx, err := st.Begin(context.Background(), store.TxOptions{Mode: store.ReadCommitted})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer tx.Rollback()
	rec, err := tx.GetRecord(context.Background(), id)
	if err != nil {
		t.Fatalf("GetRecord(%s): %v", id, err)
	}
	return rec.GramCount
}

func TestIndexWritesGramsAndNotifies(t *testing.T) {
	st := store.NewMemory()
	notify := &recordedNotify{}
	ix := New(testutil.TestExecutor(t, st), nil, notify)

	if err := ix.Index(context.Background(), "r1", "giants"); err != nil {
		t.Fatalf("Index: %v", err)
	}

	// "giants" yields gia, ian, ant, nts.
	if got := gramCount(t, st, "r1"); got != 4 {
		t.Errorf("gram count = %d, want 4", got)
	}
	if len(notify.calls) != 1 || notify.calls[0] != "indexed:r1/giants" {
		t.Errorf("notifications = %v, want [indexed:r1/giants]", notify.calls)
	}
}

func TestIndexOverwritesWholesale(t *testing.T) {
	st := store.NewMemory()
	ix := New(testutil.TestExecutor(t, st), nil, nil)

	if err := ix.Index(context.Background(), "r1", "abcdef"); err != nil {
		t.Fatalf("first Index: %v", err)
	}
	if err := ix.Index(context.Background(), "r1", "xyz"); err != nil {
		t.Fatalf("second Index: %v", err)
	}
	if got := gramCount(t, st, "r1"); got != 1 {
		t.Errorf("gram count after overwrite = %d, want 1", got)
	}
}

func TestIndexShortNameClearsGrams(t *testing.T) {
	st := store.NewMemory()
	ix := New(testutil.TestExecutor(t, st), nil, nil)

	if err := ix.Index(context.Background(), "r1", "abcdef"); err != nil {
		t.Fatalf("first Index: %v", err)
	}
	if err := ix.Index(context.Background(), "r1", "ab"); err != nil {
		t.Fatalf("short Index: %v", err)
	}
	if got := gramCount(t, st, "r1"); got != 0 {
		t.Errorf("gram count = %d, want 0 for a name too short to tokenize", got)
	}
}

func TestIndexRoundTripOnSQLite(t *testing.T) {
	st := testutil.TestSQLite(t)
	ix := New(testutil.TestExecutor(t, st), nil, nil)

	if err := ix.Index(context.Background(), "r1", "new york giants"); err != nil {
		t.Fatalf("Index: %v", err)
	}
	if got := gramCount(t, st, "r1"); got != 13 {
		t.Errorf("gram count = %d, want 13", got)
	}
}

func TestCreateDuplicateIsSilentNoOp(t *testing.T) {
	st := store.NewMemory()
	notify := &recordedNotify{}
	ix := New(testutil.TestExecutor(t, st), nil, notify)

	if err := ix.Create(context.Background(), "r1", "first"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	// The executor absorbs the uniqueness violation; Create reports success
	// but the stored record is untouched.
	if err := ix.Create(context.Background(), "r1", "second version"); err != nil {
		t.Fatalf("duplicate Create: %v", err)
	}

	tx, err := st.Begin(context.Background(), store.TxOptions{Mode: store.ReadCommitted})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer tx.Rollback()
	rec, err := tx.GetRecord(context.Background(), "r1")
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if rec.Name != "first" {
		t.Errorf("name = %q, want %q", rec.Name, "first")
	}
}
