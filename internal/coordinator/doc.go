// Package coordinator presents the nodes of a shard map to the front end as
// a single file namespace and keeps track of their health.
//
// # Overview
//
// The coordinator sits between the front end HTTP API and the routing layer
// in package shard. It decides how each file operation is routed and how
// shard results and failures are combined:
//
//	┌─────────────────────────────────────┐
//	│           COORDINATOR               │
//	├─────────────────────────────────────┤
//	│                                     │
//	│  ┌──────────────────────────────┐   │
//	│  │   FileStore                  │   │
//	│  │   - Upload / Download        │   │
//	│  │   - Delete / Metadata        │   │
//	│  │   - Browse / Search / Stats  │   │
//	│  └──────────────────────────────┘   │
//	│                                     │
//	│  ┌──────────────────────────────┐   │
//	│  │   HealthMonitor              │   │
//	│  │   - Periodic identity probes │   │
//	│  │   - Failure threshold        │   │
//	│  │   - Late duplicate detection │   │
//	│  └──────────────────────────────┘   │
//	│                                     │
//	└─────────────────────────────────────┘
//
// # Core Components
//
// FileStore: Routes file operations through a shard.Strategy
//   - Point operations go to the shard the file name resolves to
//   - Names that already embed a registered shard id skip resolution
//   - Listings and statistics fan out to every shard
//   - A listing succeeds while at least one shard answers
//
// HealthMonitor: Re-probes shard identities in the background
//   - Marks a shard unhealthy after 3 consecutive failed probes
//   - Picks up shards that were offline when the map was built
//   - Flags a late shard that duplicates another as StatusConflict
//
// # Naming
//
// Files are stored on their node under a composite name that embeds the
// shard id, "/east/reports/q1.pdf" for "reports/q1.pdf" on shard east. Upload
// returns the composite name; the other point operations accept either form.
//
// # Listing Order
//
// Browse and Search order files by shard, in sorted shard id order, and then
// by name within each shard. Pages are exact slices of that order: each
// shard is asked for its first start+pageSize files and the page is cut from
// the concatenation.
//
// # Failure Handling
//
//   - A point operation that fails on every candidate returns the shard
//     errors as a *shard.AggregateError
//   - If every candidate reported the file missing, the error matches
//     storage.ErrFileNotFound instead
//   - Listings and Stats report the shards that failed in FailedShards
//   - Cancellation of the caller's context returns shard.ErrCancelled
//
// # Example Usage
//
//	strategy := shard.NewStrategy(m, shard.WithBroadcast(shard.ParallelAccess{MaxConcurrency: 8}))
//	files := coordinator.NewFileStore(strategy, logger)
//
//	h, err := files.Upload(ctx, "reports/q1.pdf", content, nil)
//	// h.Name == "/east/reports/q1.pdf"
//
//	page, err := files.Browse(ctx, 0, 100)
//	for id, msg := range page.FailedShards {
//	    logger.Warn("shard not listed", "shard", id, "error", msg)
//	}
//
//	monitor := coordinator.NewHealthMonitor(m, 10*time.Second)
//	monitor.Start(ctx)
//	defer monitor.Stop()
package coordinator
