package shard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"
)

// DefaultProbeTimeout bounds each identity probe issued while a map is
// constructed.
const DefaultProbeTimeout = 5 * time.Second

// probeJoinGrace is added to the probe timeout when joining probes, so that
// probes hitting their own deadline still report their own error.
const probeJoinGrace = 50 * time.Millisecond

// ErrInvalidShardID is returned for shard ids that are empty or contain the
// identity parts separator.
var ErrInvalidShardID = errors.New("invalid shard id")

// Probe is the outcome of the identity probe of a single shard. A shard
// whose probe failed or timed out has Known set to false and keeps the
// probe error in Err. An unknown identity does not prevent the shard from
// being used once it comes back online.
type Probe struct {
	ShardID  string
	Identity Identity
	Known    bool
	Err      error
}

// Map is the validated, immutable registry of shard ids to shard clients.
//
// Construction probes every shard concurrently and refuses topologies where
// two ids point at the same physical server:
//
//	"east" → http://10.0.0.1:8081 (server 5f0c…) ┐
//	"west" → http://10.0.0.1:8081 (server 5f0c…) ┘ DuplicateShardError
//
// Shard ids are matched case-insensitively and stored in their canonical
// lower-case form. Iteration helpers always walk the ids in sorted order,
// never in Go map order, so that routing and merging stay reproducible.
//
// Thread Safety:
// A Map is never mutated after NewMap returns and may be shared by any
// number of goroutines without locking. Topology changes require building a
// new Map.
type Map[C Client] struct {
	ids         []string
	clients     map[string]C
	probes      map[string]Probe
	conventions Conventions
}

type mapOptions struct {
	probeTimeout time.Duration
	logger       *slog.Logger
}

// MapOption configures NewMap.
type MapOption func(*mapOptions)

// WithProbeTimeout sets the bound applied to each identity probe.
func WithProbeTimeout(d time.Duration) MapOption {
	return func(o *mapOptions) { o.probeTimeout = d }
}

// WithMapLogger sets the logger used to report unknown shard identities.
func WithMapLogger(l *slog.Logger) MapOption {
	return func(o *mapOptions) { o.logger = l }
}

// CanonicalID returns the canonical spelling of a shard id.
func CanonicalID(id string) string {
	return strings.ToLower(id)
}

// NewMap validates shards and builds an immutable Map from them.
//
// Construction steps:
//  1. Reject empty input and ids that only differ in case
//  2. Probe every shard's identity concurrently, each probe bounded by
//     the probe timeout
//  3. Group the shards with a known identity by (server id, URL) and fail
//     with a DuplicateShardError if any group holds more than one id
//  4. Clone the conventions of the first shard, in sorted id order
//
// Probe failures are logged and recorded but never fatal: a shard may be
// offline while the map is built.
//
// Returns:
//   - ErrNoShards if shards is empty
//   - *DuplicateShardIDError if two ids collide under case folding
//   - ErrInvalidShardID if an id is empty or contains the separator
//   - *DuplicateShardError if two ids share a physical server
//
// Example:
//
//	east, _ := cluster.NewClient("http://10.0.0.1:8081")
//	west, _ := cluster.NewClient("http://10.0.0.2:8081")
//	m, err := shard.NewMap(ctx, map[string]*cluster.Client{
//	    "east": east,
//	    "west": west,
//	})
func NewMap[C Client](ctx context.Context, shards map[string]C, opts ...MapOption) (*Map[C], error) {
	if len(shards) == 0 {
		return nil, ErrNoShards
	}
	o := mapOptions{
		probeTimeout: DefaultProbeTimeout,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	registerMetrics()

	clients := make(map[string]C, len(shards))
	spellings := make(map[string][]string, len(shards))
	for id, client := range shards {
		canonical := CanonicalID(id)
		spellings[canonical] = append(spellings[canonical], id)
		clients[canonical] = client
	}
	ids := make([]string, 0, len(clients))
	for id := range clients {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		if len(spellings[id]) > 1 {
			colliding := slices.Clone(spellings[id])
			slices.Sort(colliding)
			return nil, &DuplicateShardIDError{ShardIDs: colliding}
		}
	}

	conventions := clients[ids[0]].Conventions().Clone()
	for _, id := range ids {
		if id == "" || (conventions.IdentityPartsSeparator != "" && strings.Contains(id, conventions.IdentityPartsSeparator)) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidShardID, id)
		}
	}

	probes := probeIdentities(ctx, ids, clients, o.probeTimeout)
	for _, id := range ids {
		if p := probes[id]; p.Known {
			shardIdentityProbesTotal.WithLabelValues("known").Inc()
		} else {
			shardIdentityProbesTotal.WithLabelValues("unknown").Inc()
			o.logger.Warn("shard identity unknown", "shard", id, "error", p.Err)
		}
	}
	if err := CheckDuplicates(ids, probes); err != nil {
		return nil, err
	}

	return &Map[C]{
		ids:         ids,
		clients:     clients,
		probes:      probes,
		conventions: conventions,
	}, nil
}

// probeIdentities probes all shards concurrently. The join is bounded: a
// probe that has not reported by the time the probe timeout (plus a short
// grace period) expires is recorded as unknown.
func probeIdentities[C Client](ctx context.Context, ids []string, clients map[string]C, timeout time.Duration) map[string]Probe {
	reported := make(chan Probe, len(ids))
	var group errgroup.Group
	for _, id := range ids {
		client := clients[id]
		group.Go(func() error {
			reported <- ProbeIdentity(ctx, id, client, timeout)
			return nil
		})
	}
	go func() {
		_ = group.Wait()
		close(reported)
	}()

	probes := make(map[string]Probe, len(ids))
	deadline := time.NewTimer(timeout + probeJoinGrace)
	defer deadline.Stop()
collect:
	for len(probes) < len(ids) {
		select {
		case p, ok := <-reported:
			if !ok {
				break collect
			}
			probes[p.ShardID] = p
		case <-deadline.C:
			break collect
		case <-ctx.Done():
			break collect
		}
	}
	for _, id := range ids {
		if _, ok := probes[id]; !ok {
			err := ctx.Err()
			if err == nil {
				err = fmt.Errorf("identity probe did not complete within %s", timeout)
			}
			probes[id] = Probe{ShardID: id, Err: err}
		}
	}
	return probes
}

// ProbeIdentity issues a single identity probe bounded by timeout.
func ProbeIdentity(ctx context.Context, shardID string, client Client, timeout time.Duration) Probe {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	identity, err := client.GetIdentity(ctx)
	if err != nil {
		return Probe{ShardID: shardID, Err: err}
	}
	return Probe{ShardID: shardID, Identity: identity, Known: true}
}

type physicalShard struct {
	serverID uuid.UUID
	url      string
}

// CheckDuplicates groups the known identities among probes by (server id,
// URL) and reports the first conflicting group in URL order. Unknown
// identities are ignored.
func CheckDuplicates(ids []string, probes map[string]Probe) error {
	groups := make(map[physicalShard][]string)
	for _, id := range ids {
		p, ok := probes[id]
		if !ok || !p.Known {
			continue
		}
		key := physicalShard{serverID: p.Identity.ServerID, url: p.Identity.URL}
		groups[key] = append(groups[key], id)
	}

	var conflict *DuplicateShardError
	for key, members := range groups {
		if len(members) < 2 {
			continue
		}
		if conflict == nil || key.url < conflict.URL || (key.url == conflict.URL && members[0] < conflict.ShardIDs[0]) {
			conflict = &DuplicateShardError{URL: key.url, ShardIDs: members}
		}
	}
	if conflict != nil {
		slices.Sort(conflict.ShardIDs)
		return conflict
	}
	return nil
}

// Len returns the number of registered shards.
func (m *Map[C]) Len() int {
	return len(m.ids)
}

// IDs returns the canonical shard ids in sorted order. The returned slice
// is a copy.
func (m *Map[C]) IDs() []string {
	return slices.Clone(m.ids)
}

// Get returns the client registered under id, matching case-insensitively.
func (m *Map[C]) Get(id string) (C, bool) {
	client, ok := m.clients[CanonicalID(id)]
	return client, ok
}

// Contains reports whether id is registered, matching case-insensitively.
func (m *Map[C]) Contains(id string) bool {
	_, ok := m.clients[CanonicalID(id)]
	return ok
}

// Probe returns the identity probe recorded for id at construction time.
func (m *Map[C]) Probe(id string) (Probe, bool) {
	p, ok := m.probes[CanonicalID(id)]
	return p, ok
}

// Probes returns all construction-time probes in sorted id order.
func (m *Map[C]) Probes() []Probe {
	probes := make([]Probe, 0, len(m.ids))
	for _, id := range m.ids {
		probes = append(probes, m.probes[id])
	}
	return probes
}

// Conventions returns a copy of the map-wide conventions.
func (m *Map[C]) Conventions() Conventions {
	return m.conventions.Clone()
}
