package storage

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func names(headers []FileHeader) []string {
	out := make([]string, 0, len(headers))
	for _, h := range headers {
		out = append(out, h.Name)
	}
	return out
}

// TestMemoryStore tests the in-memory store implementation
func TestMemoryStore(t *testing.T) {
	t.Run("new store is empty", func(t *testing.T) {
		store := NewMemoryStore()

		assert.Empty(t, store.Browse(0, 0))
		assert.Equal(t, Stats{}, store.Stats())

		_, _, err := store.Get("nonexistent")
		assert.ErrorIs(t, err, ErrFileNotFound)
		_, err = store.Header("nonexistent")
		assert.ErrorIs(t, err, ErrFileNotFound)
	})

	t.Run("put and get files", func(t *testing.T) {
		store := NewMemoryStore()
		fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
		store.now = func() time.Time { return fixed }

		h, err := store.Put("/east/a.txt", []byte("hello"), map[string]string{"Content-Type": "text/plain"})
		require.NoError(t, err)
		assert.Equal(t, "/east/a.txt", h.Name)
		assert.Equal(t, int64(5), h.Size)
		assert.Equal(t, fixed, h.LastModified)
		assert.NotEmpty(t, h.ETag)

		content, got, err := store.Get("/east/a.txt")
		require.NoError(t, err)
		assert.Equal(t, []byte("hello"), content)
		assert.Equal(t, h, got)

		header, err := store.Header("/east/a.txt")
		require.NoError(t, err)
		assert.Equal(t, "text/plain", header.Metadata["Content-Type"])
	})

	t.Run("overwrite replaces content and etag", func(t *testing.T) {
		store := NewMemoryStore()

		first, err := store.Put("a", []byte("one"), nil)
		require.NoError(t, err)
		second, err := store.Put("a", []byte("three"), nil)
		require.NoError(t, err)
		assert.NotEqual(t, first.ETag, second.ETag)

		content, _, err := store.Get("a")
		require.NoError(t, err)
		assert.Equal(t, []byte("three"), content)
		assert.Equal(t, Stats{Files: 1, Bytes: 5}, store.Stats())
	})

	t.Run("delete files", func(t *testing.T) {
		store := NewMemoryStore()
		_, err := store.Put("a", []byte("x"), nil)
		require.NoError(t, err)

		require.NoError(t, store.Delete("a"))
		_, _, err = store.Get("a")
		assert.ErrorIs(t, err, ErrFileNotFound)
		assert.ErrorIs(t, store.Delete("a"), ErrFileNotFound)
	})

	t.Run("empty name is rejected", func(t *testing.T) {
		store := NewMemoryStore()
		_, err := store.Put("", []byte("x"), nil)
		assert.ErrorIs(t, err, ErrInvalidName)
	})

	t.Run("empty content is stored", func(t *testing.T) {
		store := NewMemoryStore()
		_, err := store.Put("empty", nil, nil)
		require.NoError(t, err)

		content, h, err := store.Get("empty")
		require.NoError(t, err)
		assert.NotNil(t, content)
		assert.Empty(t, content)
		assert.Zero(t, h.Size)
	})

	t.Run("returned data is isolated from the store", func(t *testing.T) {
		store := NewMemoryStore()
		input := []byte("original")
		md := map[string]string{"k": "v"}
		_, err := store.Put("a", input, md)
		require.NoError(t, err)

		input[0] = 'X'
		md["k"] = "changed"

		content, h, err := store.Get("a")
		require.NoError(t, err)
		assert.Equal(t, []byte("original"), content)
		assert.Equal(t, "v", h.Metadata["k"])

		content[0] = 'Y'
		h.Metadata["k"] = "mutated"
		again, h2, err := store.Get("a")
		require.NoError(t, err)
		assert.Equal(t, []byte("original"), again)
		assert.Equal(t, "v", h2.Metadata["k"])
	})
}

// TestMemoryStoreBrowse tests paging and prefix search
func TestMemoryStoreBrowse(t *testing.T) {
	store := NewMemoryStore()
	for _, name := range []string{"d/4", "a/1", "c/3", "b/2", "a/5"} {
		_, err := store.Put(name, []byte(name), nil)
		require.NoError(t, err)
	}

	tests := []struct {
		name     string
		prefix   string
		start    int
		pageSize int
		want     []string
	}{
		{name: "everything in name order", want: []string{"a/1", "a/5", "b/2", "c/3", "d/4"}},
		{name: "first page", pageSize: 2, want: []string{"a/1", "a/5"}},
		{name: "second page", start: 2, pageSize: 2, want: []string{"b/2", "c/3"}},
		{name: "last partial page", start: 4, pageSize: 2, want: []string{"d/4"}},
		{name: "start past end", start: 10, pageSize: 2, want: []string{}},
		{name: "negative start", start: -3, pageSize: 1, want: []string{"a/1"}},
		{name: "prefix", prefix: "a/", want: []string{"a/1", "a/5"}},
		{name: "prefix paged", prefix: "a/", start: 1, pageSize: 5, want: []string{"a/5"}},
		{name: "prefix without matches", prefix: "z", want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []FileHeader
			if tt.prefix == "" {
				got = store.Browse(tt.start, tt.pageSize)
			} else {
				got = store.SearchPrefix(tt.prefix, tt.start, tt.pageSize)
			}
			assert.Equal(t, tt.want, names(got))
		})
	}
}

// TestMemoryStoreConcurrency tests thread-safe concurrent access
func TestMemoryStoreConcurrency(t *testing.T) {
	store := NewMemoryStore()
	const workers, ops = 20, 50

	var wg sync.WaitGroup
	wg.Add(workers * 2)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < ops; j++ {
				name := fmt.Sprintf("w%d/f%d", i, j)
				if _, err := store.Put(name, []byte("data"), nil); err != nil {
					t.Errorf("put %s: %v", name, err)
				}
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < ops; j++ {
				store.Browse(0, 10)
				store.SearchPrefix(fmt.Sprintf("w%d/", i), 0, 0)
				store.Stats()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, Stats{Files: workers * ops, Bytes: workers * ops * 4}, store.Stats())
}
