// Package indexing turns change-event records into stored trigram sets.
package indexing

import (
	"context"
	"log/slog"

	"github.com/fuzzmatch/trigramd/internal/executor"
	"github.com/fuzzmatch/trigramd/internal/metrics"
	"github.com/fuzzmatch/trigramd/internal/store"
	"github.com/fuzzmatch/trigramd/internal/trigram"
)

// Notifier receives a notification after a record's grams were written.
// The SSE broker satisfies this; a nil Notifier disables notifications.
type Notifier interface {
	RecordIndexed(id, name string)
	RecordCreated(id, name string)
}

// Indexer derives and persists the trigram set for changed records.
type Indexer struct {
	exec     *executor.Executor
	logger   *slog.Logger
	notifier Notifier
}

// New creates an Indexer. notifier may be nil.
func New(exec *executor.Executor, logger *slog.Logger, notifier Notifier) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{exec: exec, logger: logger, notifier: notifier}
}

// Index tokenizes name and replaces the stored gram set for id, wholesale.
// A name too short to produce grams still overwrites the set (with an
// empty one), making the record unmatchable until it grows.
//
// The returned error is informational: the executor has already absorbed
// retryable failures, and ingestion callers log it without letting it
// change their response.
func (ix *Indexer) Index(ctx context.Context, id, name string) error {
	grams := trigram.Tokenize(name)
	err := ix.exec.Execute(ctx, store.Write, func(tx store.Tx) error {
		return tx.ReplaceGrams(ctx, id, name, grams)
	})
	if err != nil {
		ix.logger.Warn("index write failed",
			slog.String("id", id),
			slog.String("error", err.Error()))
		return err
	}
	metrics.IndexedRecords.Inc()
	ix.logger.Debug("indexed record",
		slog.String("id", id),
		slog.Int("grams", len(grams)))
	if ix.notifier != nil {
		ix.notifier.RecordIndexed(id, name)
	}
	return nil
}

// Create inserts a brand-new record with a freshly derived gram set. A
// duplicate id is absorbed by the executor as a benign no-op.
func (ix *Indexer) Create(ctx context.Context, id, name string) error {
	grams := trigram.Tokenize(name)
	err := ix.exec.Execute(ctx, store.Write, func(tx store.Tx) error {
		return tx.InsertRecord(ctx, id, name, grams)
	})
	if err != nil {
		return err
	}
	metrics.IndexedRecords.Inc()
	if ix.notifier != nil {
		ix.notifier.RecordCreated(id, name)
	}
	return nil
}
