package shard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/exp/slices"
)

// Strategy bundles a shard map with the collaborators that decide where
// operations go and how they are executed. It is the configuration point
// of a sharded store: every collaborator can be replaced at construction
// time through an Option.
//
// Defaults:
//   - Resolution: HashResolution over all registered ids
//   - Access (point operations): SequentialAccess
//   - Broadcast (scatter-gather operations): ParallelAccess, unbounded
//   - Naming: DefaultNaming
//
// A Strategy holds no per-call state and is safe for concurrent use.
type Strategy[C Client] struct {
	shards      *Map[C]
	conventions Conventions
	naming      NamingTransform
	resolution  ResolutionStrategy
	access      AccessStrategy
	broadcast   AccessStrategy
	logger      *slog.Logger
}

type strategyOptions struct {
	separator  *string
	naming     NamingTransform
	resolution ResolutionStrategy
	access     AccessStrategy
	broadcast  AccessStrategy
	logger     *slog.Logger
}

// Option configures NewStrategy.
type Option func(*strategyOptions)

// WithResolution replaces the resolution strategy.
func WithResolution(r ResolutionStrategy) Option {
	return func(o *strategyOptions) { o.resolution = r }
}

// WithAccess replaces the access strategy used for point operations.
func WithAccess(a AccessStrategy) Option {
	return func(o *strategyOptions) { o.access = a }
}

// WithBroadcast replaces the access strategy used for operations that fan
// out to several shards.
func WithBroadcast(a AccessStrategy) Option {
	return func(o *strategyOptions) { o.broadcast = a }
}

// WithNaming replaces the naming transform.
func WithNaming(n NamingTransform) Option {
	return func(o *strategyOptions) { o.naming = n }
}

// WithSeparator overrides the identity parts separator inherited from the
// map's conventions.
func WithSeparator(sep string) Option {
	return func(o *strategyOptions) { o.separator = &sep }
}

// WithLogger sets the logger used to report shard failures.
func WithLogger(l *slog.Logger) Option {
	return func(o *strategyOptions) { o.logger = l }
}

// NewStrategy creates a Strategy for the shards in m.
func NewStrategy[C Client](m *Map[C], opts ...Option) *Strategy[C] {
	o := strategyOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	conventions := m.Conventions()
	if o.separator != nil {
		conventions.IdentityPartsSeparator = *o.separator
	}
	s := &Strategy[C]{
		shards:      m,
		conventions: conventions,
		naming:      o.naming,
		resolution:  o.resolution,
		access:      o.access,
		broadcast:   o.broadcast,
		logger:      o.logger,
	}
	if s.naming == nil {
		s.naming = DefaultNaming{}
	}
	if s.resolution == nil {
		s.resolution = NewHashResolution(m.IDs())
	}
	if s.access == nil {
		s.access = SequentialAccess{}
	}
	if s.broadcast == nil {
		s.broadcast = ParallelAccess{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Map returns the shard map.
func (s *Strategy[C]) Map() *Map[C] {
	return s.shards
}

// Conventions returns a copy of the strategy's conventions.
func (s *Strategy[C]) Conventions() Conventions {
	return s.conventions.Clone()
}

// Resolve returns the candidate shards for routingKey.
func (s *Strategy[C]) Resolve(routingKey string, kind OperationKind) []string {
	return s.resolution.Resolve(routingKey, kind)
}

// ModifyName returns the composite name under which baseName is stored on
// shardID.
func (s *Strategy[C]) ModifyName(shardID, baseName string) string {
	return s.naming.Name(s.conventions, CanonicalID(shardID), baseName)
}

// ShardOf recovers the registered shard id embedded in a composite name.
func (s *Strategy[C]) ShardOf(name string) (shardID, baseName string, ok bool) {
	shardID, baseName, ok = SplitName(s.conventions, name)
	if !ok || !s.shards.Contains(shardID) {
		return "", "", false
	}
	return CanonicalID(shardID), baseName, true
}

// Merge combines the successful values of an operation, ordered by shard.
type Merge[T any] func(values []T) T

// Concat merges slices by concatenating them.
func Concat[E any](values [][]E) []E {
	var n int
	for _, v := range values {
		n += len(v)
	}
	merged := make([]E, 0, n)
	for _, v := range values {
		merged = append(merged, v...)
	}
	return merged
}

// Number is the set of types Sum can add up.
type Number interface {
	~int | ~int32 | ~int64 | ~uint32 | ~uint64 | ~float64
}

// Sum merges numbers by adding them up.
func Sum[N Number](values []N) N {
	var total N
	for _, v := range values {
		total += v
	}
	return total
}

// First merges values by keeping the first one.
func First[T any](values []T) T {
	var first T
	if len(values) > 0 {
		first = values[0]
	}
	return first
}

// Result is the merged result of an operation executed against one or more
// shards.
type Result[T any] struct {
	// Value is the merge of all successful values.
	Value T
	// Shards lists the shards that succeeded, in merge order.
	Shards []string
	// Failures lists the shards that failed. Partial failure of a
	// broadcast is not an error; callers decide whether to accept it.
	Failures []*ShardError
}

// Partial reports whether some of the shards failed.
func (r Result[T]) Partial() bool {
	return len(r.Failures) > 0
}

// FailureError returns the failures as an *AggregateError, or nil if no
// shard failed.
func (r Result[T]) FailureError() error {
	if len(r.Failures) == 0 {
		return nil
	}
	return &AggregateError{Errors: r.Failures}
}

// ShardOperation is a typed per-shard operation.
type ShardOperation[C Client, T any] func(ctx context.Context, shardID string, client C) (T, error)

// Execute runs op against shardIDs using the strategy's point access
// strategy. The ids are contacted in the given order, which typically
// comes from Resolve.
//
// Returns:
//   - The merged result of the successful shards
//   - An *AggregateError if every candidate failed
//   - An error matching ErrCancelled if ctx ended first
func Execute[C Client, T any](ctx context.Context, s *Strategy[C], shardIDs []string, op ShardOperation[C, T], merge Merge[T]) (Result[T], error) {
	return run(ctx, s, s.access, shardIDs, op, merge)
}

// Broadcast runs op against shardIDs using the strategy's broadcast access
// strategy. Values are merged in sorted shard id order, independent of both
// the order of shardIDs and the order in which shards complete.
func Broadcast[C Client, T any](ctx context.Context, s *Strategy[C], shardIDs []string, op ShardOperation[C, T], merge Merge[T]) (Result[T], error) {
	ordered := make([]string, 0, len(shardIDs))
	for _, id := range shardIDs {
		ordered = append(ordered, CanonicalID(id))
	}
	slices.Sort(ordered)
	return run(ctx, s, s.broadcast, slices.Compact(ordered), op, merge)
}

func run[C Client, T any](ctx context.Context, s *Strategy[C], access AccessStrategy, shardIDs []string, op ShardOperation[C, T], merge Merge[T]) (Result[T], error) {
	outcomes, err := access.Apply(ctx, shardIDs, func(ctx context.Context, shardID string) (any, error) {
		id := CanonicalID(shardID)
		client, ok := s.shards.Get(id)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownShard, shardID)
		}
		if timeout := client.Conventions().RequestTimeout; timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		start := time.Now()
		value, err := op(ctx, id, client)
		observeOperation(id, start, err)
		return value, err
	})
	if errors.Is(err, ErrCancelled) || errors.Is(err, ErrNoTargets) {
		return Result[T]{}, err
	}

	var result Result[T]
	values := make([]T, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Err != nil {
			s.logger.Debug("shard operation failed", "shard", o.ShardID, "error", o.Err)
			result.Failures = append(result.Failures, &ShardError{ShardID: o.ShardID, Err: o.Err})
			continue
		}
		value, _ := o.Value.(T)
		values = append(values, value)
		result.Shards = append(result.Shards, o.ShardID)
	}
	if err != nil {
		return result, err
	}
	if merge == nil {
		merge = First[T]
	}
	result.Value = merge(values)
	return result, nil
}
