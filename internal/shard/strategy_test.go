package shard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewStrategy tests the default collaborators and options.
func TestNewStrategy(t *testing.T) {
	m, _, err := newFakeMap("east", "west", "central")
	require.NoError(t, err)

	t.Run("defaults", func(t *testing.T) {
		s := NewStrategy(m)
		assert.IsType(t, &HashResolution{}, s.resolution)
		assert.Equal(t, SequentialAccess{}, s.access)
		assert.Equal(t, ParallelAccess{}, s.broadcast)
		assert.Equal(t, DefaultNaming{}, s.naming)
		assert.Equal(t, m.Conventions(), s.Conventions())
		assert.Same(t, m, s.Map())
	})

	t.Run("options replace collaborators", func(t *testing.T) {
		resolution := NewRendezvousResolution(m.IDs(), "")
		naming := NamingTransformFunc(func(_ Conventions, shardID, baseName string) string {
			return shardID + ":" + baseName
		})
		s := NewStrategy(m,
			WithResolution(resolution),
			WithAccess(ParallelAccess{}),
			WithBroadcast(ParallelAccess{MaxConcurrency: 1}),
			WithNaming(naming),
			WithSeparator("|"),
		)
		assert.Same(t, resolution, s.resolution)
		assert.Equal(t, ParallelAccess{}, s.access)
		assert.Equal(t, ParallelAccess{MaxConcurrency: 1}, s.broadcast)
		assert.Equal(t, "east:a", s.ModifyName("east", "a"))
		assert.Equal(t, "|", s.Conventions().IdentityPartsSeparator)
		// The map keeps its own conventions.
		assert.Equal(t, "/", m.Conventions().IdentityPartsSeparator)
	})

	t.Run("names round trip through ShardOf", func(t *testing.T) {
		s := NewStrategy(m)
		name := s.ModifyName("WEST", "docs/a.txt")
		assert.Equal(t, "/west/docs/a.txt", name)

		shardID, base, ok := s.ShardOf(name)
		require.True(t, ok)
		assert.Equal(t, "west", shardID)
		assert.Equal(t, "docs/a.txt", base)

		_, _, ok = s.ShardOf("/south/docs/a.txt")
		assert.False(t, ok)
	})
}

// TestExecute tests point operations with sequential fallback.
func TestExecute(t *testing.T) {
	m, clients, err := newFakeMap("a", "b", "c")
	require.NoError(t, err)
	s := NewStrategy(m)

	t.Run("falls back until a shard succeeds", func(t *testing.T) {
		var log callLog
		res, err := Execute(context.Background(), s, []string{"a", "b", "c"}, func(_ context.Context, id string, client *fakeClient) (string, error) {
			log.add(id)
			assert.Same(t, clients[id], client)
			if id == "a" {
				return "", errors.New("a failed")
			}
			return "value from " + id, nil
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, log.get())
		assert.Equal(t, "value from b", res.Value)
		assert.Equal(t, []string{"b"}, res.Shards)
		require.Len(t, res.Failures, 1)
		assert.Equal(t, "a", res.Failures[0].ShardID)
	})

	t.Run("every candidate fails", func(t *testing.T) {
		_, err := Execute(context.Background(), s, []string{"b", "a"}, func(_ context.Context, id string, _ *fakeClient) (int, error) {
			return 0, errors.New(id + " unreachable")
		}, nil)
		var aggErr *AggregateError
		require.ErrorAs(t, err, &aggErr)
		assert.Equal(t, "b", aggErr.Errors[0].ShardID)
		assert.Equal(t, "a", aggErr.Errors[1].ShardID)
	})

	t.Run("unknown shard ids are tagged failures", func(t *testing.T) {
		res, err := Execute(context.Background(), s, []string{"nope", "C"}, func(_ context.Context, id string, _ *fakeClient) (string, error) {
			return id, nil
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, "c", res.Value)
		require.Len(t, res.Failures, 1)
		assert.ErrorIs(t, res.Failures[0], ErrUnknownShard)
	})

	t.Run("no candidates", func(t *testing.T) {
		_, err := Execute(context.Background(), s, nil, func(context.Context, string, *fakeClient) (string, error) {
			return "", nil
		}, nil)
		assert.ErrorIs(t, err, ErrNoTargets)
	})
}

// TestBroadcast tests scatter-gather merging.
func TestBroadcast(t *testing.T) {
	m, _, err := newFakeMap("a", "b", "c")
	require.NoError(t, err)
	s := NewStrategy(m)

	items := map[string][]string{
		"a": {"a1", "a2", "a3"},
		"c": {"c1", "c2"},
	}

	t.Run("merges successes in shard order and reports failures", func(t *testing.T) {
		res, err := Broadcast(context.Background(), s, []string{"c", "b", "a"}, func(_ context.Context, id string, _ *fakeClient) ([]string, error) {
			if id == "a" {
				// Complete last, so arrival order differs from shard order.
				time.Sleep(20 * time.Millisecond)
			}
			if id == "b" {
				return nil, errors.New("b failed")
			}
			return items[id], nil
		}, Concat[string])
		require.NoError(t, err)
		assert.Equal(t, []string{"a1", "a2", "a3", "c1", "c2"}, res.Value)
		assert.Equal(t, []string{"a", "c"}, res.Shards)
		assert.True(t, res.Partial())
		require.Len(t, res.Failures, 1)
		assert.Equal(t, "b", res.Failures[0].ShardID)

		var aggErr *AggregateError
		require.ErrorAs(t, res.FailureError(), &aggErr)
		assert.Contains(t, aggErr.ByShard(), "b")
	})

	t.Run("sums counts", func(t *testing.T) {
		res, err := Broadcast(context.Background(), s, m.IDs(), func(_ context.Context, id string, _ *fakeClient) (int64, error) {
			return int64(len(id) * 10), nil
		}, Sum[int64])
		require.NoError(t, err)
		assert.Equal(t, int64(30), res.Value)
		assert.False(t, res.Partial())
		assert.NoError(t, res.FailureError())
	})

	t.Run("all shards failing is still a result", func(t *testing.T) {
		res, err := Broadcast(context.Background(), s, m.IDs(), func(context.Context, string, *fakeClient) ([]string, error) {
			return nil, errors.New("down")
		}, Concat[string])
		require.NoError(t, err)
		assert.Empty(t, res.Value)
		assert.Len(t, res.Failures, 3)
	})

	t.Run("cancellation reports no partial result", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		aDone := make(chan struct{})
		go func() {
			<-aDone
			cancel()
		}()
		res, err := Broadcast(ctx, s, m.IDs(), func(ctx context.Context, id string, _ *fakeClient) ([]string, error) {
			if id == "a" {
				defer close(aDone)
				return items["a"], nil
			}
			<-ctx.Done()
			return nil, ctx.Err()
		}, Concat[string])
		assert.ErrorIs(t, err, ErrCancelled)
		assert.Nil(t, res.Value)
		assert.Nil(t, res.Shards)
		assert.Nil(t, res.Failures)
	})
}

// TestExecuteRequestTimeout tests that each shard call is bounded by its
// client's request timeout.
func TestExecuteRequestTimeout(t *testing.T) {
	slow := newFakeClient("http://slow:1")
	slow.conventions = Conventions{IdentityPartsSeparator: "/", RequestTimeout: 20 * time.Millisecond}
	fast := newFakeClient("http://fast:1")

	m, err := NewMap(context.Background(), map[string]*fakeClient{"fast": fast, "slow": slow})
	require.NoError(t, err)
	s := NewStrategy(m)

	res, err := Broadcast(context.Background(), s, m.IDs(), func(ctx context.Context, id string, _ *fakeClient) ([]string, error) {
		if id == "slow" {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return []string{id}, nil
	}, Concat[string])
	require.NoError(t, err)
	assert.Equal(t, []string{"fast"}, res.Value)
	require.Len(t, res.Failures, 1)
	assert.ErrorIs(t, res.Failures[0], context.DeadlineExceeded)
}

func TestMergeHelpers(t *testing.T) {
	assert.Equal(t, []int{1, 2, 3}, Concat([][]int{{1}, nil, {2, 3}}))
	assert.Empty(t, Concat[int](nil))
	assert.Equal(t, 6.5, Sum([]float64{1, 2.5, 3}))
	assert.Equal(t, "x", First([]string{"x", "y"}))
	assert.Equal(t, "", First[string](nil))
}
