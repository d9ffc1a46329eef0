// Package search ranks stored records by trigram overlap with a query.
package search

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/fuzzmatch/trigramd/internal/apperr"
	"github.com/fuzzmatch/trigramd/internal/executor"
	"github.com/fuzzmatch/trigramd/internal/metrics"
	"github.com/fuzzmatch/trigramd/internal/store"
	"github.com/fuzzmatch/trigramd/internal/trigram"
)

// Result is one ranked hit.
//
// Raw is 100 * overlap / delta where delta = 1 + |stored - |Q||; it decides
// the ordering. Score is Raw / |Q|, the display value.
type Result struct {
	PK    string
	Name  string
	Raw   float64
	Score float64
}

// Engine executes fuzzy-match queries through the executor.
type Engine struct {
	exec       *executor.Executor
	logger     *slog.Logger
	staleReads bool
}

// New creates an Engine. When staleReads is set, candidate queries run in
// bounded-staleness snapshot mode to reduce contention with the ingest
// path.
func New(exec *executor.Executor, logger *slog.Logger, staleReads bool) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{exec: exec, logger: logger, staleReads: staleReads}
}

// Search tokenizes query, filters candidates by gram overlap, scores and
// orders them, and truncates to limit. A query too short to tokenize, or a
// store that cannot answer within the retry budget, yields an empty list.
func (e *Engine) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	started := time.Now()
	defer func() { metrics.SearchDuration.Observe(time.Since(started).Seconds()) }()

	grams := trigram.Tokenize(query)
	e.logger.Info("search",
		slog.String("query", query),
		slog.Int("grams", len(grams)),
		slog.Int("limit", limit))
	if len(grams) == 0 {
		return []Result{}, nil
	}

	mode := store.ReadCommitted
	if e.staleReads {
		mode = store.ReadStaleSnapshot
	}

	var cands []store.Candidate
	err := e.exec.Execute(ctx, mode, func(tx store.Tx) error {
		var err error
		cands, err = tx.Candidates(ctx, grams)
		return err
	})
	if errors.Is(err, apperr.ErrRetryExhausted) {
		// Degrade to "nothing matched" rather than failing the request.
		return []Result{}, nil
	}
	if err != nil {
		return nil, err
	}

	results := Score(cands, len(grams))
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Score applies the fixed formula to candidates and orders them by raw
// score descending. Ties keep the store's iteration order.
func Score(cands []store.Candidate, querySize int) []Result {
	results := make([]Result, 0, len(cands))
	for _, c := range cands {
		delta := 1 + abs(c.Stored-querySize)
		raw := 100 * float64(c.Overlap) / float64(delta)
		results = append(results, Result{
			PK:    c.ID,
			Name:  c.Name,
			Raw:   raw,
			Score: raw / float64(querySize),
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Raw > results[j].Raw
	})
	return results
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
