// Package shard implements the routing layer of shardfs: it presents several
// independent storage servers as one logical namespace by deciding which
// server an operation goes to and how the per-server results are combined.
//
// # Overview
//
// A shard is one physical storage server. Callers register shards under
// logical ids ("east", "west", ...) and the routing layer takes care of:
//
//   - Validating the topology: every shard is probed once for its physical
//     identity, and two ids pointing at the same server are rejected
//   - Resolving routing keys to candidate shards deterministically
//   - Embedding the shard id into stored names so they remain unique and
//     can be traced back to their shard
//   - Executing operations against one shard (sequential fallback) or many
//     (parallel scatter-gather) with per-shard failure isolation
//
// # Architecture
//
//	caller
//	  │ name, kind
//	  ▼
//	┌──────────────────────┐   ┌──────────────────────┐
//	│ NamingTransform      │   │ ResolutionStrategy   │
//	│ "/" + id + "/" + name│   │ StableHash mod N     │
//	└──────────────────────┘   └──────────┬───────────┘
//	                                      │ ordered shard ids
//	                                      ▼
//	                           ┌──────────────────────┐
//	                           │ AccessStrategy       │
//	                           │ sequential/parallel  │
//	                           └──────────┬───────────┘
//	                                      │ per-shard operation
//	                                      ▼
//	                           ┌──────────────────────┐
//	                           │ Map (immutable)      │
//	                           │ id → Client          │
//	                           └──────────────────────┘
//
// # Core Components
//
// Map: Immutable registry of shard ids to clients
//   - Built once by NewMap, never mutated afterwards
//   - Case-insensitive ids, stored lower-cased and sorted
//   - Records each shard's identity probe, known or not
//
// StableHash: Deterministic string hash
//   - Seed 11, multiplier 397, folded over UTF-16 code units
//   - Wraps around on overflow; must stay bit-for-bit stable
//
// ResolutionStrategy: Key to candidate shards
//   - HashResolution: one shard per key, all shards for queries
//   - RendezvousResolution: every shard, best first, for fallback reads
//   - ExplicitResolution: honors shard ids embedded in the key
//
// AccessStrategy: Executes operations against shards
//   - SequentialAccess: one at a time, stops at the first success
//   - ParallelAccess: all at once, collects every outcome
//
// Strategy: Bundles a Map with its collaborators; Execute and Broadcast
// run typed operations through it and merge the outcomes.
//
// # Ordering
//
// Every ordering the package produces is derived from the sorted shard ids.
// Go map iteration order and worker completion order never leak into
// routing decisions or merged results.
//
// # Cancellation
//
// Access strategies return an error matching ErrCancelled as soon as the
// caller's context ends. In-flight shard calls are cancelled and partial
// results are discarded, so cancellation is never mistaken for partial
// success.
//
// # Example
//
//	m, err := shard.NewMap(ctx, clients)
//	if err != nil {
//	    return err
//	}
//	s := shard.NewStrategy(m)
//	ids := s.Resolve("report.pdf", shard.OpRead)
//	res, err := shard.Execute(ctx, s, ids,
//	    func(ctx context.Context, id string, c *cluster.Client) ([]byte, error) {
//	        content, _, err := c.DownloadFile(ctx, s.ModifyName(id, "report.pdf"))
//	        return content, err
//	    }, nil)
package shard
