package shard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewMap tests construction from distinct shards.
func TestNewMap(t *testing.T) {
	t.Run("registers every shard", func(t *testing.T) {
		m, clients, err := newFakeMap("east", "west", "central")
		require.NoError(t, err)

		assert.Equal(t, 3, m.Len())
		assert.Equal(t, []string{"central", "east", "west"}, m.IDs())
		for id, client := range clients {
			got, ok := m.Get(id)
			require.True(t, ok, id)
			assert.Same(t, client, got)
			assert.Equal(t, int32(1), client.probes.Load())
		}
	})

	t.Run("lookup ignores letter case", func(t *testing.T) {
		m, clients, err := newFakeMap("East", "west")
		require.NoError(t, err)

		for _, variant := range []string{"east", "EAST", "East", "eAsT"} {
			got, ok := m.Get(variant)
			require.True(t, ok, variant)
			assert.Same(t, clients["East"], got)
			assert.True(t, m.Contains(variant))
		}
		assert.Equal(t, []string{"east", "west"}, m.IDs())
	})

	t.Run("records known identities", func(t *testing.T) {
		m, clients, err := newFakeMap("east")
		require.NoError(t, err)

		p, ok := m.Probe("EAST")
		require.True(t, ok)
		assert.True(t, p.Known)
		assert.NoError(t, p.Err)
		assert.Equal(t, clients["east"].identity, p.Identity)
	})

	t.Run("empty input", func(t *testing.T) {
		_, err := NewMap(context.Background(), map[string]*fakeClient{})
		assert.ErrorIs(t, err, ErrNoShards)

		_, err = NewMap[*fakeClient](context.Background(), nil)
		assert.ErrorIs(t, err, ErrNoShards)
	})

	t.Run("ids colliding under case folding", func(t *testing.T) {
		_, err := NewMap(context.Background(), map[string]*fakeClient{
			"east": newFakeClient("http://a:1"),
			"EAST": newFakeClient("http://b:1"),
		})
		var dupErr *DuplicateShardIDError
		require.ErrorAs(t, err, &dupErr)
		assert.Equal(t, []string{"EAST", "east"}, dupErr.ShardIDs)
	})

	t.Run("ids containing the separator", func(t *testing.T) {
		_, err := NewMap(context.Background(), map[string]*fakeClient{
			"east/1": newFakeClient("http://a:1"),
		})
		assert.ErrorIs(t, err, ErrInvalidShardID)

		_, err = NewMap(context.Background(), map[string]*fakeClient{
			"": newFakeClient("http://a:1"),
		})
		assert.ErrorIs(t, err, ErrInvalidShardID)
	})

	t.Run("conventions come from the first shard in id order", func(t *testing.T) {
		first := newFakeClient("http://a:1")
		first.conventions = Conventions{IdentityPartsSeparator: "|", RequestTimeout: time.Second, MaxPageSize: 10}
		other := newFakeClient("http://b:1")

		m, err := NewMap(context.Background(), map[string]*fakeClient{
			"zulu":  other,
			"alpha": first,
		})
		require.NoError(t, err)
		assert.Equal(t, first.conventions, m.Conventions())
	})
}

// TestNewMapDuplicates tests detection of ids sharing a physical server.
func TestNewMapDuplicates(t *testing.T) {
	t.Run("two ids on the same server", func(t *testing.T) {
		serverID := uuid.New()
		east := &fakeClient{identity: Identity{ServerID: serverID, URL: "http://10.0.0.1:8081"}}
		west := &fakeClient{identity: Identity{ServerID: serverID, URL: "http://10.0.0.1:8081"}}
		central := newFakeClient("http://10.0.0.2:8081")

		_, err := NewMap(context.Background(), map[string]*fakeClient{
			"east":    east,
			"west":    west,
			"central": central,
		})
		var dupErr *DuplicateShardError
		require.ErrorAs(t, err, &dupErr)
		assert.Equal(t, "http://10.0.0.1:8081", dupErr.URL)
		assert.Equal(t, []string{"east", "west"}, dupErr.ShardIDs)
		assert.Contains(t, err.Error(), "http://10.0.0.1:8081")
	})

	t.Run("reports the same conflict on every attempt", func(t *testing.T) {
		serverA, serverB := uuid.New(), uuid.New()
		for i := 0; i < 20; i++ {
			_, err := NewMap(context.Background(), map[string]*fakeClient{
				"a1": {identity: Identity{ServerID: serverA, URL: "http://b.example"}},
				"a2": {identity: Identity{ServerID: serverA, URL: "http://b.example"}},
				"b1": {identity: Identity{ServerID: serverB, URL: "http://a.example"}},
				"b2": {identity: Identity{ServerID: serverB, URL: "http://a.example"}},
			})
			var dupErr *DuplicateShardError
			require.ErrorAs(t, err, &dupErr)
			assert.Equal(t, "http://a.example", dupErr.URL)
			assert.Equal(t, []string{"b1", "b2"}, dupErr.ShardIDs)
		}
	})

	t.Run("same url with different server ids is allowed", func(t *testing.T) {
		_, err := NewMap(context.Background(), map[string]*fakeClient{
			"east": {identity: Identity{ServerID: uuid.New(), URL: "http://10.0.0.1:8081"}},
			"west": {identity: Identity{ServerID: uuid.New(), URL: "http://10.0.0.1:8081"}},
		})
		assert.NoError(t, err)
	})

	t.Run("unknown identities are not compared", func(t *testing.T) {
		serverID := uuid.New()
		down := &fakeClient{identity: Identity{ServerID: serverID, URL: "http://10.0.0.1:8081"}, err: errors.New("connection refused")}
		up := &fakeClient{identity: Identity{ServerID: serverID, URL: "http://10.0.0.1:8081"}}

		m, err := NewMap(context.Background(), map[string]*fakeClient{"east": up, "west": down})
		require.NoError(t, err)
		assert.Equal(t, 2, m.Len())
	})
}

// TestNewMapUnknownIdentity tests that failing probes never abort
// construction.
func TestNewMapUnknownIdentity(t *testing.T) {
	t.Run("failing probe", func(t *testing.T) {
		down := newFakeClient("http://down:1")
		down.err = errors.New("connection refused")

		m, err := NewMap(context.Background(), map[string]*fakeClient{
			"up":   newFakeClient("http://up:1"),
			"down": down,
		})
		require.NoError(t, err)

		p, ok := m.Probe("down")
		require.True(t, ok)
		assert.False(t, p.Known)
		assert.EqualError(t, p.Err, "connection refused")

		got, ok := m.Get("down")
		require.True(t, ok)
		assert.Same(t, down, got)
	})

	t.Run("probe exceeding the timeout", func(t *testing.T) {
		slow := newFakeClient("http://slow:1")
		slow.delay = time.Minute

		m, err := NewMap(context.Background(), map[string]*fakeClient{
			"fast": newFakeClient("http://fast:1"),
			"slow": slow,
		}, WithProbeTimeout(20*time.Millisecond))
		require.NoError(t, err)

		p, _ := m.Probe("slow")
		assert.False(t, p.Known)
		assert.ErrorIs(t, p.Err, context.DeadlineExceeded)

		p, _ = m.Probe("fast")
		assert.True(t, p.Known)
	})

	t.Run("probe ignoring its context does not block construction", func(t *testing.T) {
		stuck := newFakeClient("http://stuck:1")
		stuck.block = make(chan struct{})
		defer close(stuck.block)

		start := time.Now()
		m, err := NewMap(context.Background(), map[string]*fakeClient{
			"stuck": stuck,
			"ok":    newFakeClient("http://ok:1"),
		}, WithProbeTimeout(20*time.Millisecond))
		require.NoError(t, err)
		assert.Less(t, time.Since(start), 2*time.Second)

		p, _ := m.Probe("stuck")
		assert.False(t, p.Known)
		assert.Error(t, p.Err)
		assert.Len(t, m.Probes(), 2)
	})
}

// TestCheckDuplicates exercises the grouping directly.
func TestCheckDuplicates(t *testing.T) {
	serverID := uuid.New()
	probes := map[string]Probe{
		"a": {ShardID: "a", Identity: Identity{ServerID: serverID, URL: "http://x"}, Known: true},
		"b": {ShardID: "b", Identity: Identity{ServerID: serverID, URL: "http://x"}, Known: true},
		"c": {ShardID: "c", Err: errors.New("down")},
	}

	assert.NoError(t, CheckDuplicates([]string{"a", "c"}, probes))

	err := CheckDuplicates([]string{"a", "b", "c"}, probes)
	var dupErr *DuplicateShardError
	require.ErrorAs(t, err, &dupErr)
	assert.Equal(t, "http://x", dupErr.URL)
}
