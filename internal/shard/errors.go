package shard

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoShards is returned when a map is constructed without shards.
	ErrNoShards = errors.New("shard map requires at least one shard")

	// ErrCancelled is returned by access strategies when the caller's
	// context ends before the operation completes. Partial results are
	// discarded. The returned error also wraps the context error.
	ErrCancelled = errors.New("shard access cancelled")

	// ErrUnknownShard is returned when an operation targets a shard id
	// that is not registered in the map.
	ErrUnknownShard = errors.New("unknown shard")
)

// DuplicateShardError reports that several shard ids resolved to the same
// physical server, which would route data for different logical shards to
// a single node.
type DuplicateShardError struct {
	URL      string
	ShardIDs []string
}

func (e *DuplicateShardError) Error() string {
	return fmt.Sprintf("multiple shard ids for %s are not supported: %s", e.URL, strings.Join(e.ShardIDs, ", "))
}

// DuplicateShardIDError reports shard ids that only differ in letter case.
type DuplicateShardIDError struct {
	ShardIDs []string
}

func (e *DuplicateShardIDError) Error() string {
	return fmt.Sprintf("shard ids differ only in case: %s", strings.Join(e.ShardIDs, ", "))
}

// ShardError tags a failure with the shard it originated from.
type ShardError struct {
	ShardID string
	Err     error
}

func (e *ShardError) Error() string {
	return fmt.Sprintf("shard %q: %v", e.ShardID, e.Err)
}

func (e *ShardError) Unwrap() error {
	return e.Err
}

// AggregateError is returned when every candidate shard of an operation
// failed. Errors are kept in attempt order.
type AggregateError struct {
	Errors []*ShardError
}

func (e *AggregateError) Error() string {
	if len(e.Errors) == 1 {
		return "all shards failed: " + e.Errors[0].Error()
	}
	parts := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		parts = append(parts, err.Error())
	}
	return fmt.Sprintf("all %d shards failed: %s", len(e.Errors), strings.Join(parts, "; "))
}

// Unwrap exposes the per-shard errors to errors.Is and errors.As.
func (e *AggregateError) Unwrap() []error {
	errs := make([]error, 0, len(e.Errors))
	for _, err := range e.Errors {
		errs = append(errs, err)
	}
	return errs
}

// ByShard returns the per-shard errors keyed by shard id.
func (e *AggregateError) ByShard() map[string]error {
	errs := make(map[string]error, len(e.Errors))
	for _, err := range e.Errors {
		errs[err.ShardID] = err.Err
	}
	return errs
}
