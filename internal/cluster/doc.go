// Package cluster implements the HTTP protocol between the shardfs front end
// and its storage nodes: the wire types, the node Server and the Client the
// front end uses as its shard client.
//
// # Overview
//
// The topology is static. The front end is configured with the base URL of
// every node and talks to each through one Client:
//
//	              ┌──────────────┐
//	              │  Front end   │
//	              │              │
//	              │ - shard.Map  │
//	              │ - Strategy   │
//	              │ - FileStore  │
//	              └──────┬───────┘
//	                     │ cluster.Client (HTTP/JSON)
//	      ┌──────────────┼──────────────┐
//	      │              │              │
//	┌─────▼─────┐  ┌─────▼─────┐  ┌─────▼─────┐
//	│  Node     │  │  Node     │  │  Node     │
//	│  "east"   │  │  "west"   │  │ "central" │
//	│  Server   │  │  Server   │  │  Server   │
//	└───────────┘  └───────────┘  └───────────┘
//
// # Node Protocol
//
// Identity (GET /identity):
//   - Returns the node's server id, a UUID stable for the node's lifetime
//   - Used by the front end to detect two shard ids pointing at one node
//
// Files (/file?name=...):
//   - GET returns the content; the header travels JSON encoded in X-Shardfs-File
//   - PUT stores the body; metadata travels JSON encoded in X-Shardfs-Metadata
//   - DELETE removes the file
//
// Headers (GET /header?name=...): the file header as JSON
//
// Listing (GET /files?start=&pageSize=[&prefix=]):
//   - Pages through the node's files in name order
//   - With prefix, only names starting with it
//
// Stats (GET /stats): file count and total bytes
//
// Health (GET /health) and Prometheus metrics (GET /metrics)
//
// File names are passed as query parameters because composite names of the
// form "/east/docs/a.txt" contain slashes.
//
// # Errors
//
// Non-2xx responses are returned as *StatusError carrying the method, URL,
// code and the server's error message. A 404 matches both ErrNotFound and
// storage.ErrFileNotFound:
//
//	_, _, err := client.DownloadFile(ctx, name)
//	if errors.Is(err, storage.ErrFileNotFound) {
//	    // missing on that shard
//	}
//
// Transport failures and context cancellation are returned unchanged, so
// errors.Is(err, context.DeadlineExceeded) works for per-shard timeouts.
//
// # URL Canonicalization
//
// NewClient canonicalizes the node URL (lower-cased scheme and host, no
// default port, no trailing slash). GetIdentity reports this canonical URL,
// so "http://NODE:80/" and "http://node" are detected as the same shard.
package cluster
