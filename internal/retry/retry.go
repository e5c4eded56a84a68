// Package retry drives a blocking fetch through bounded attempts with linear
// backoff.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	// DefaultMaxRetries is the total number of attempts made when Config leaves it unset.
	DefaultMaxRetries = 3
	// DefaultInitialDelay is the backoff unit used when Config leaves it unset.
	DefaultInitialDelay = 2 * time.Second
)

// AttemptResult classifies one finished attempt.
type AttemptResult string

const (
	// AttemptOK means the attempt produced a non-empty result.
	AttemptOK AttemptResult = "ok"
	// AttemptEmpty means the attempt succeeded with an empty result.
	AttemptEmpty AttemptResult = "empty"
	// AttemptError means the attempt returned an error or panicked.
	AttemptError AttemptResult = "error"
)

// Config controls one FetchWithRetry call.
type Config[T any] struct {
	// MaxRetries is the total number of attempts, including the first one.
	MaxRetries int
	// InitialDelay is multiplied by the attempt number to get the pause after
	// a failed attempt.
	InitialDelay time.Duration
	// Empty reports whether a successful result should still be retried.
	// Nil treats every successful result as non-empty.
	Empty func(T) bool
	// Name labels log records.
	Name   string
	Logger *slog.Logger
	// OnAttempt observes every finished attempt.
	OnAttempt func(attempt int, result AttemptResult, elapsed time.Duration)

	sleep func(ctx context.Context, delay time.Duration) error
}

type attemptOutcome[T any] struct {
	value T
	err   error
}

// FetchWithRetry calls fn until it returns a non-empty result or the attempts
// run out. Every attempt runs on its own goroutine with a context detached
// from ctx cancellation, so an attempt in flight is never cut short; ctx only
// stops the caller from waiting and from scheduling further attempts.
//
// It reports false when no attempt succeeded. It never returns an error.
func FetchWithRetry[T any](ctx context.Context, fn func(context.Context) (T, error), cfg Config[T]) (T, bool) {
	var zero T
	if ctx == nil || fn == nil {
		return zero, false
	}
	cfg = cfg.withDefaults()

	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		cfg.Logger.InfoContext(ctx, "fetch attempt",
			"fetch", cfg.Name,
			"attempt", attempt,
			"max_retries", cfg.MaxRetries,
		)

		startedAt := time.Now()
		outcome, waitErr := runAttempt(ctx, fn)
		if waitErr != nil {
			cfg.Logger.WarnContext(ctx, "fetch abandoned",
				"fetch", cfg.Name,
				"attempt", attempt,
				"error", waitErr,
			)
			return zero, false
		}

		elapsed := time.Since(startedAt)
		switch {
		case outcome.err != nil:
			cfg.observe(attempt, AttemptError, elapsed)
			cfg.Logger.ErrorContext(ctx, "fetch attempt failed",
				"fetch", cfg.Name,
				"attempt", attempt,
				"max_retries", cfg.MaxRetries,
				"error", outcome.err,
			)
		case cfg.Empty != nil && cfg.Empty(outcome.value):
			cfg.observe(attempt, AttemptEmpty, elapsed)
			cfg.Logger.WarnContext(ctx, "fetch attempt returned no data",
				"fetch", cfg.Name,
				"attempt", attempt,
				"max_retries", cfg.MaxRetries,
			)
		default:
			cfg.observe(attempt, AttemptOK, elapsed)
			return outcome.value, true
		}

		if attempt == cfg.MaxRetries {
			break
		}
		delay := cfg.InitialDelay * time.Duration(attempt)
		cfg.Logger.InfoContext(ctx, "fetch retry scheduled",
			"fetch", cfg.Name,
			"attempt", attempt,
			"delay", delay,
		)
		if err := cfg.sleep(ctx, delay); err != nil {
			cfg.Logger.WarnContext(ctx, "fetch abandoned",
				"fetch", cfg.Name,
				"attempt", attempt,
				"error", err,
			)
			return zero, false
		}
	}

	cfg.Logger.ErrorContext(ctx, "fetch retries exhausted",
		"fetch", cfg.Name,
		"max_retries", cfg.MaxRetries,
	)

	return zero, false
}

// FetchSlice is FetchWithRetry for list results, treating an empty slice as a
// failed attempt.
func FetchSlice[E any](ctx context.Context, fn func(context.Context) ([]E, error), cfg Config[[]E]) ([]E, bool) {
	cfg.Empty = func(items []E) bool { return len(items) == 0 }

	return FetchWithRetry(ctx, fn, cfg)
}

func runAttempt[T any](ctx context.Context, fn func(context.Context) (T, error)) (attemptOutcome[T], error) {
	done := make(chan attemptOutcome[T], 1)
	attemptCtx := context.WithoutCancel(ctx)

	go func() {
		var outcome attemptOutcome[T]
		defer func() {
			if recovered := recover(); recovered != nil {
				outcome = attemptOutcome[T]{err: fmt.Errorf("fetch panic: %v", recovered)}
			}
			done <- outcome
		}()
		outcome.value, outcome.err = fn(attemptCtx)
	}()

	select {
	case outcome := <-done:
		return outcome, nil
	case <-ctx.Done():
		return attemptOutcome[T]{}, fmt.Errorf("wait fetch attempt: %w", ctx.Err())
	}
}

func (cfg Config[T]) withDefaults() Config[T] {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.InitialDelay < 0 {
		cfg.InitialDelay = 0
	}
	if cfg.Name == "" {
		cfg.Name = "fetch"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.sleep == nil {
		cfg.sleep = sleepWithContext
	}

	return cfg
}

func (cfg Config[T]) observe(attempt int, result AttemptResult, elapsed time.Duration) {
	if cfg.OnAttempt != nil {
		cfg.OnAttempt(attempt, result, elapsed)
	}
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("sleep with context: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
