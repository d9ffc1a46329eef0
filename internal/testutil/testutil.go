// Package testutil provides shared test helpers for setting up stores and
// executors.
package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/fuzzmatch/trigramd/internal/executor"
	"github.com/fuzzmatch/trigramd/internal/store"
)

// TestSQLite creates a temporary SQLite store that is automatically
// cleaned up.
func TestSQLite(t *testing.T) *store.SQLite {
	t.Helper()
	f, err := os.CreateTemp("", "trigramd-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	st, err := store.OpenSQLite(f.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// TestExecutor builds an executor whose backoff sleeps are no-ops, so
// retry paths run instantly in tests.
func TestExecutor(t *testing.T, st store.Store, opts ...executor.Option) *executor.Executor {
	t.Helper()
	base := []executor.Option{
		executor.WithSleep(func(context.Context, time.Duration) error { return nil }),
	}
	return executor.New(st, append(base, opts...)...)
}
