package coordinator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/dreamware/shardfs/internal/shard"
	"github.com/dreamware/shardfs/internal/storage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var errShardDown = errors.New("shard down")

// memoryShard is an in-process storage node implementing FilesCommands.
type memoryShard struct {
	store    *storage.MemoryStore
	url      string
	serverID uuid.UUID
	calls    atomic.Int32
	probes   atomic.Int32

	mu          sync.Mutex
	down        bool
	probeErr    error
	conventions shard.Conventions
}

func newMemoryShard(url string) *memoryShard {
	return &memoryShard{store: storage.NewMemoryStore(), url: url, serverID: uuid.New()}
}

func (m *memoryShard) setDown(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.down = down
}

func (m *memoryShard) setProbeErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probeErr = err
}

func (m *memoryShard) check(ctx context.Context) error {
	m.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return errShardDown
	}
	return nil
}

func (m *memoryShard) GetIdentity(ctx context.Context) (shard.Identity, error) {
	m.probes.Add(1)
	m.mu.Lock()
	probeErr := m.probeErr
	m.mu.Unlock()
	if probeErr != nil {
		return shard.Identity{}, probeErr
	}
	if err := ctx.Err(); err != nil {
		return shard.Identity{}, err
	}
	return shard.Identity{ServerID: m.serverID, URL: m.url}, nil
}

func (m *memoryShard) Conventions() shard.Conventions {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conventions == (shard.Conventions{}) {
		return shard.DefaultConventions()
	}
	return m.conventions
}

func (m *memoryShard) UploadFile(ctx context.Context, name string, content []byte, metadata map[string]string) (storage.FileHeader, error) {
	if err := m.check(ctx); err != nil {
		return storage.FileHeader{}, err
	}
	return m.store.Put(name, content, metadata)
}

func (m *memoryShard) DownloadFile(ctx context.Context, name string) ([]byte, storage.FileHeader, error) {
	if err := m.check(ctx); err != nil {
		return nil, storage.FileHeader{}, err
	}
	return m.store.Get(name)
}

func (m *memoryShard) DeleteFile(ctx context.Context, name string) error {
	if err := m.check(ctx); err != nil {
		return err
	}
	return m.store.Delete(name)
}

func (m *memoryShard) GetMetadata(ctx context.Context, name string) (storage.FileHeader, error) {
	if err := m.check(ctx); err != nil {
		return storage.FileHeader{}, err
	}
	return m.store.Header(name)
}

func (m *memoryShard) BrowseFiles(ctx context.Context, start, pageSize int) ([]storage.FileHeader, error) {
	if err := m.check(ctx); err != nil {
		return nil, err
	}
	return m.store.Browse(start, pageSize), nil
}

func (m *memoryShard) SearchPrefix(ctx context.Context, prefix string, start, pageSize int) ([]storage.FileHeader, error) {
	if err := m.check(ctx); err != nil {
		return nil, err
	}
	return m.store.SearchPrefix(prefix, start, pageSize), nil
}

func (m *memoryShard) GetStats(ctx context.Context) (storage.Stats, error) {
	if err := m.check(ctx); err != nil {
		return storage.Stats{}, err
	}
	return m.store.Stats(), nil
}

// newTestCluster builds a map of memory shards, one per id.
func newTestCluster(t *testing.T, ids ...string) (*shard.Map[FilesCommands], map[string]*memoryShard) {
	t.Helper()
	shards := make(map[string]*memoryShard, len(ids))
	clients := make(map[string]FilesCommands, len(ids))
	for _, id := range ids {
		s := newMemoryShard("http://" + id + ".example:8081")
		shards[id] = s
		clients[id] = s
	}
	m, err := shard.NewMap(context.Background(), clients)
	require.NoError(t, err)
	return m, shards
}

func newTestFileStore(t *testing.T, opts ...shard.Option) (*FileStore, map[string]*memoryShard) {
	t.Helper()
	m, shards := newTestCluster(t, "east", "west", "central")
	return NewFileStore(shard.NewStrategy(m, opts...), nil), shards
}
