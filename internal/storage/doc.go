// Package storage implements the file store behind a single shardfs node.
//
// A node is one physical shard. It stores files under the composite names
// produced by the routing layer ("/east/reports/q1.pdf") and knows nothing
// about other shards: browse, search and stats only ever describe the
// local contents.
//
// # Core Interface
//
// Store: Named file storage
//   - Put(name, content, metadata) - Store or replace a file
//   - Get(name) - Retrieve content and header
//   - Header(name) - Retrieve the header only
//   - Delete(name) - Remove a file
//   - Browse(start, pageSize) - Page through files in name order
//   - SearchPrefix(prefix, start, pageSize) - Browse limited to a prefix
//   - Stats() - File count and total bytes
//
// # Implementations
//
// MemoryStore: In-memory storage with sync.RWMutex
//   - No persistence (data lost on restart)
//   - Content and metadata are copied in and out
//   - Every write gets a fresh ETag
//
// # Ordering
//
// Browse and SearchPrefix order files by byte-wise name comparison. Paging
// is offset based, so a page is stable only while the store is not
// modified.
//
// # Errors
//
// ErrFileNotFound: Get, Header and Delete of a missing file
//
// ErrInvalidName: Put with an empty name
//
// # Usage
//
//	store := storage.NewMemoryStore()
//	h, err := store.Put("/east/a.txt", []byte("hello"), nil)
//	if err != nil {
//	    return err
//	}
//	content, h, err := store.Get(h.Name)
//	if errors.Is(err, storage.ErrFileNotFound) {
//	    ...
//	}
package storage
