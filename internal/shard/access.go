package shard

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrNoTargets is returned by access strategies invoked without any target
// shard.
var ErrNoTargets = errors.New("no target shards")

// Operation is a per-shard operation executed by an AccessStrategy.
type Operation func(ctx context.Context, shardID string) (any, error)

// Outcome is the result of an operation against a single shard: either a
// value or the error the shard failed with.
type Outcome struct {
	ShardID string
	Value   any
	Err     error
}

// AccessStrategy executes an operation against a set of target shards.
//
// Implementations return ErrNoTargets when shardIDs is empty, and an error
// matching ErrCancelled (and the context error) once ctx ends, in which
// case no outcomes are returned.
type AccessStrategy interface {
	Apply(ctx context.Context, shardIDs []string, op Operation) ([]Outcome, error)
}

func cancelled(err error) error {
	return fmt.Errorf("%w: %w", ErrCancelled, err)
}

// SequentialAccess contacts the target shards one at a time, in the given
// order, and stops at the first success. Shards after the successful one
// are never contacted.
//
// The returned outcomes hold every attempt in order. If all shards fail,
// the error is an *AggregateError with the failures in attempt order.
type SequentialAccess struct{}

// Apply implements AccessStrategy.
func (SequentialAccess) Apply(ctx context.Context, shardIDs []string, op Operation) ([]Outcome, error) {
	if len(shardIDs) == 0 {
		return nil, ErrNoTargets
	}
	outcomes := make([]Outcome, 0, len(shardIDs))
	failures := make([]*ShardError, 0, len(shardIDs))
	for _, id := range shardIDs {
		if err := ctx.Err(); err != nil {
			return nil, cancelled(err)
		}
		value, err := op(ctx, id)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, cancelled(ctxErr)
		}
		if err == nil {
			return append(outcomes, Outcome{ShardID: id, Value: value}), nil
		}
		outcomes = append(outcomes, Outcome{ShardID: id, Err: err})
		failures = append(failures, &ShardError{ShardID: id, Err: err})
	}
	return outcomes, &AggregateError{Errors: failures}
}

// ParallelAccess contacts every target shard concurrently. A failing shard
// never affects its siblings; partial failure is reported through the
// outcomes, never as an error.
//
// Outcomes are returned in the order of shardIDs, regardless of the order
// in which the shards completed. Each worker owns exactly one outcome slot
// and the slots are only read after all workers have finished.
type ParallelAccess struct {
	// MaxConcurrency bounds the number of shards contacted at the same
	// time. Zero or negative means unbounded.
	MaxConcurrency int64
}

// Apply implements AccessStrategy.
func (a ParallelAccess) Apply(ctx context.Context, shardIDs []string, op Operation) ([]Outcome, error) {
	if len(shardIDs) == 0 {
		return nil, ErrNoTargets
	}
	// Returning early cancels the workers that are still in flight.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var limit *semaphore.Weighted
	if a.MaxConcurrency > 0 {
		limit = semaphore.NewWeighted(a.MaxConcurrency)
	}

	outcomes := make([]Outcome, len(shardIDs))
	var wg sync.WaitGroup
	wg.Add(len(shardIDs))
	for i, id := range shardIDs {
		go func() {
			defer wg.Done()
			if limit != nil {
				if err := limit.Acquire(ctx, 1); err != nil {
					outcomes[i] = Outcome{ShardID: id, Err: err}
					return
				}
				defer limit.Release(1)
			}
			value, err := op(ctx, id)
			outcomes[i] = Outcome{ShardID: id, Value: value, Err: err}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return nil, cancelled(ctx.Err())
	}
	if err := ctx.Err(); err != nil {
		return nil, cancelled(err)
	}
	return outcomes, nil
}
