// Package executor wraps units of work against the store with bounded
// retry and classified backoff, so transient contention never surfaces to
// the endpoints.
package executor

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/fuzzmatch/trigramd/internal/apperr"
	"github.com/fuzzmatch/trigramd/internal/metrics"
	"github.com/fuzzmatch/trigramd/internal/store"
)

const (
	// DefaultMaxAttempts is the retry budget, inclusive of the first try.
	DefaultMaxAttempts = 4
	// DefaultStaleOffset is how far in the past stale-snapshot reads land.
	DefaultStaleOffset = 10 * time.Second
	// DefaultTransientDelay is the fixed sleep before retrying an
	// operational (non-conflict) failure.
	DefaultTransientDelay = 5 * time.Second
)

// Executor runs units of work against the store. Each attempt is one
// atomic transaction: the work function runs inside Begin/Commit and a
// failed attempt is rolled back before the next one starts, so retries
// never observe partial state.
type Executor struct {
	store          store.Store
	maxAttempts    int
	staleOffset    time.Duration
	transientDelay time.Duration
	logger         *slog.Logger

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64 // uniform draw from [0, 1)
}

// Option configures an Executor.
type Option func(*Executor)

// WithMaxAttempts sets the retry budget (inclusive of the first attempt).
func WithMaxAttempts(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// WithStaleOffset sets the bounded-staleness offset for snapshot reads.
func WithStaleOffset(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.staleOffset = d
		}
	}
}

// WithTransientDelay overrides the fixed delay for transient failures.
func WithTransientDelay(d time.Duration) Option {
	return func(e *Executor) { e.transientDelay = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithSleep replaces the delay function (tests).
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) { e.sleep = fn }
}

// WithJitter replaces the jitter source (tests).
func WithJitter(fn func() float64) Option {
	return func(e *Executor) { e.jitter = fn }
}

// New creates an Executor over the given store.
func New(st store.Store, opts ...Option) *Executor {
	e := &Executor{
		store:          st,
		maxAttempts:    DefaultMaxAttempts,
		staleOffset:    DefaultStaleOffset,
		transientDelay: DefaultTransientDelay,
		logger:         slog.Default(),
		sleep:          sleepCtx,
		jitter:         rand.Float64,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// StaleOffset returns the configured bounded-staleness offset.
func (e *Executor) StaleOffset() time.Duration { return e.staleOffset }

// Execute runs fn inside a transaction of the given mode, retrying per the
// outcome classification:
//
//   - serialization conflict: exponential backoff 2^attempt * 0.1 s with
//     jitter in [0.5, 1.5), then retry
//   - uniqueness violation: logged and treated as a benign no-op; no retry
//   - transient or unclassified failure: fixed delay, then retry
//   - context cancellation: returned immediately
//
// When the attempt budget is spent, apperr.ErrRetryExhausted is returned;
// callers decide how (or whether) to surface the absence of a result.
func (e *Executor) Execute(ctx context.Context, mode store.AccessMode, fn func(tx store.Tx) error) error {
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		err := e.attempt(ctx, mode, fn)
		switch {
		case err == nil:
			metrics.StoreAttempts.WithLabelValues("success").Inc()
			return nil

		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			return err

		case errors.Is(err, apperr.ErrNotFound):
			// A read that found nothing is an answer, not a failure.
			metrics.StoreAttempts.WithLabelValues("success").Inc()
			return err

		case errors.Is(err, apperr.ErrDuplicate):
			metrics.StoreAttempts.WithLabelValues("duplicate").Inc()
			e.logger.Warn("duplicate write skipped",
				slog.String("mode", mode.String()),
				slog.String("error", err.Error()))
			return nil

		case errors.Is(err, apperr.ErrSerializationConflict):
			metrics.StoreAttempts.WithLabelValues("conflict").Inc()
			delay := e.backoff(attempt)
			e.logger.Warn("serialization conflict, retrying",
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("error", err.Error()))
			if attempt == e.maxAttempts {
				break
			}
			if serr := e.sleep(ctx, delay); serr != nil {
				return serr
			}

		default:
			// Transient and anything we could not classify: conservative
			// fixed-delay retry.
			metrics.StoreAttempts.WithLabelValues("transient").Inc()
			e.logger.Warn("transient store failure, retrying",
				slog.Int("attempt", attempt),
				slog.Duration("delay", e.transientDelay),
				slog.String("error", err.Error()))
			if attempt == e.maxAttempts {
				break
			}
			if serr := e.sleep(ctx, e.transientDelay); serr != nil {
				return serr
			}
		}
	}

	metrics.StoreAttempts.WithLabelValues("exhausted").Inc()
	e.logger.Error("retry budget exhausted",
		slog.String("mode", mode.String()),
		slog.Int("max_attempts", e.maxAttempts))
	return apperr.ErrRetryExhausted
}

// attempt runs one transaction. Rollback on any failure keeps the attempt
// atomic.
func (e *Executor) attempt(ctx context.Context, mode store.AccessMode, fn func(tx store.Tx) error) error {
	opts := store.TxOptions{Mode: mode}
	if mode == store.ReadStaleSnapshot {
		opts.AsOf = time.Now().Add(-e.staleOffset)
	}

	tx, err := e.store.Begin(ctx, opts)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// backoff computes 2^attempt * 0.1 * jitter seconds, jitter in [0.5, 1.5).
func (e *Executor) backoff(attempt int) time.Duration {
	base := float64(int64(1)<<attempt) * 0.1
	return time.Duration(base * (e.jitter() + 0.5) * float64(time.Second))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
