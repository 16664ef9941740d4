package shard

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/exp/slices"
)

// OperationKind describes the kind of operation a routing key is resolved
// for.
type OperationKind int

const (
	// OpRead reads a single file.
	OpRead OperationKind = iota
	// OpWrite creates or replaces a single file.
	OpWrite
	// OpDelete removes a single file.
	OpDelete
	// OpQuery lists or searches files across the namespace.
	OpQuery
	// OpStats gathers statistics across the namespace.
	OpStats
)

func (k OperationKind) String() string {
	switch k {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpDelete:
		return "delete"
	case OpQuery:
		return "query"
	case OpStats:
		return "stats"
	default:
		return "unknown"
	}
}

// SingleKey reports whether operations of this kind address one routing
// key, as opposed to scanning every shard.
func (k OperationKind) SingleKey() bool {
	return k == OpRead || k == OpWrite || k == OpDelete
}

// ResolutionStrategy maps a routing key and operation kind to the ordered
// candidate shard ids the operation should be dispatched to. Resolution is
// a pure function of the registered ids. It cannot fail and never observes
// network state.
type ResolutionStrategy interface {
	Resolve(routingKey string, kind OperationKind) []string
}

// HashResolution routes single-key operations to exactly one shard,
// computed as StableHash(key) mod N over the sorted shard ids. Query and
// stats operations resolve to every shard.
type HashResolution struct {
	ids []string
}

// NewHashResolution creates a HashResolution over ids. The ids are sorted,
// so the order in which they are supplied does not affect routing.
func NewHashResolution(ids []string) *HashResolution {
	sorted := canonicalSorted(ids)
	return &HashResolution{ids: sorted}
}

// Resolve implements ResolutionStrategy.
func (r *HashResolution) Resolve(routingKey string, kind OperationKind) []string {
	if len(r.ids) == 0 {
		return nil
	}
	if !kind.SingleKey() {
		return slices.Clone(r.ids)
	}
	return []string{r.ids[hashIndex(routingKey, len(r.ids))]}
}

// hashIndex maps key onto [0, n) using StableHash, folding negative hashes
// into the positive range.
func hashIndex(key string, n int) int {
	index := int(StableHash(key)) % n
	if index < 0 {
		index += n
	}
	return index
}

// RendezvousResolution orders every shard by its highest-random-weight
// score for the routing key, best first. Sequential access then contacts
// the preferred shard and falls back to the next best ones. Adding a shard
// only moves the keys that now score highest on it.
type RendezvousResolution struct {
	ids  []string
	seed string
}

// NewRendezvousResolution creates a RendezvousResolution over ids. The seed
// separates the score space of independent namespaces and may be empty.
func NewRendezvousResolution(ids []string, seed string) *RendezvousResolution {
	return &RendezvousResolution{ids: canonicalSorted(ids), seed: seed}
}

// Resolve implements ResolutionStrategy.
func (r *RendezvousResolution) Resolve(routingKey string, kind OperationKind) []string {
	if !kind.SingleKey() {
		return slices.Clone(r.ids)
	}
	type scored struct {
		id    string
		score uint64
	}
	candidates := make([]scored, 0, len(r.ids))
	for _, id := range r.ids {
		candidates = append(candidates, scored{id: id, score: rendezvousScore(r.seed, routingKey, id)})
	}
	// Ties are broken by id, so the result never depends on input order.
	slices.SortStableFunc(candidates, func(a, b scored) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		}
		return 0
	})
	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.id)
	}
	return ids
}

func rendezvousScore(seed, key, shardID string) uint64 {
	// An 8-byte digest cannot make blake2b.New fail.
	h, _ := blake2b.New(8, nil)
	if seed != "" {
		h.Write([]byte(seed))
		h.Write([]byte{0})
	}
	h.Write([]byte(key))
	h.Write([]byte{0})
	h.Write([]byte(shardID))
	return binary.BigEndian.Uint64(h.Sum(nil))
}

// ExplicitResolution honors routing keys that already embed a registered
// shard id, such as composite names produced by DefaultNaming. Every other
// key is resolved by the wrapped strategy.
type ExplicitResolution struct {
	conventions Conventions
	ids         []string
	fallback    ResolutionStrategy
}

// NewExplicitResolution creates an ExplicitResolution recognizing the given
// ids and delegating everything else to fallback.
func NewExplicitResolution(conventions Conventions, ids []string, fallback ResolutionStrategy) *ExplicitResolution {
	return &ExplicitResolution{
		conventions: conventions,
		ids:         canonicalSorted(ids),
		fallback:    fallback,
	}
}

// Resolve implements ResolutionStrategy.
func (r *ExplicitResolution) Resolve(routingKey string, kind OperationKind) []string {
	if kind.SingleKey() {
		if shardID, _, ok := SplitName(r.conventions, routingKey); ok {
			canonical := CanonicalID(shardID)
			if _, found := slices.BinarySearch(r.ids, canonical); found {
				return []string{canonical}
			}
		}
	}
	return r.fallback.Resolve(routingKey, kind)
}

func canonicalSorted(ids []string) []string {
	sorted := make([]string, 0, len(ids))
	for _, id := range ids {
		sorted = append(sorted, CanonicalID(id))
	}
	slices.Sort(sorted)
	return slices.Compact(sorted)
}
