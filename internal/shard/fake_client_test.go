package shard

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// fakeClient is an in-memory shard client whose identity probe can be made
// to fail, stall or block.
type fakeClient struct {
	identity    Identity
	err         error
	delay       time.Duration
	block       chan struct{}
	conventions Conventions
	probes      atomic.Int32
}

func newFakeClient(url string) *fakeClient {
	return &fakeClient{identity: Identity{ServerID: uuid.New(), URL: url}}
}

func (c *fakeClient) GetIdentity(ctx context.Context) (Identity, error) {
	c.probes.Add(1)
	if c.block != nil {
		<-c.block
	}
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return Identity{}, ctx.Err()
		}
	}
	if c.err != nil {
		return Identity{}, c.err
	}
	return c.identity, nil
}

func (c *fakeClient) Conventions() Conventions {
	if c.conventions == (Conventions{}) {
		return DefaultConventions()
	}
	return c.conventions
}

// newFakeMap builds a map of healthy fake clients, one per id.
func newFakeMap(ids ...string) (*Map[*fakeClient], map[string]*fakeClient, error) {
	clients := make(map[string]*fakeClient, len(ids))
	for _, id := range ids {
		clients[id] = newFakeClient("http://" + id + ".example:8081")
	}
	m, err := NewMap(context.Background(), clients)
	return m, clients, err
}
