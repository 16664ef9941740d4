package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/dreamware/shardfs/internal/shard"
	"github.com/dreamware/shardfs/internal/storage"
)

// FilesCommands is the client capability of a storage node: identity for the
// routing layer plus the file operations the FileStore routes.
type FilesCommands interface {
	shard.Client
	UploadFile(ctx context.Context, name string, content []byte, metadata map[string]string) (storage.FileHeader, error)
	DownloadFile(ctx context.Context, name string) ([]byte, storage.FileHeader, error)
	DeleteFile(ctx context.Context, name string) error
	GetMetadata(ctx context.Context, name string) (storage.FileHeader, error)
	BrowseFiles(ctx context.Context, start, pageSize int) ([]storage.FileHeader, error)
	SearchPrefix(ctx context.Context, prefix string, start, pageSize int) ([]storage.FileHeader, error)
	GetStats(ctx context.Context) (storage.Stats, error)
}

// Listing is one page of a browse or prefix search across all shards.
type Listing struct {
	Files    []storage.FileHeader `json:"files"`
	Start    int                  `json:"start"`
	PageSize int                  `json:"pageSize"`
	// FailedShards maps the shards that could not be listed to their
	// error. The page is then built from the remaining shards only.
	FailedShards map[string]string `json:"failedShards,omitempty"`
}

// StatsSummary aggregates the statistics of all shards.
type StatsSummary struct {
	storage.Stats
	Shards       []string          `json:"shards"`
	FailedShards map[string]string `json:"failedShards,omitempty"`
}

// File is a downloaded file.
type File struct {
	Header  storage.FileHeader
	Content []byte
}

// FileStore presents the shards of a strategy as a single file namespace.
//
// Files are stored on their shard under the composite name produced by the
// strategy's naming transform, and that composite name is what Upload
// returns. Point operations accept either form:
//
//   - a composite name whose embedded shard id is registered goes straight
//     to that shard, skipping resolution
//   - any other name is resolved to candidate shards and rewritten with
//     each candidate's id
//
// Browse, search and stats fan out to every shard concurrently and tolerate
// partial failure; only a failure of every shard is an error.
type FileStore struct {
	strategy *shard.Strategy[FilesCommands]
	logger   *slog.Logger
}

// NewFileStore creates a FileStore over strategy.
func NewFileStore(strategy *shard.Strategy[FilesCommands], logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{strategy: strategy, logger: logger}
}

// Strategy returns the underlying strategy.
func (fs *FileStore) Strategy() *shard.Strategy[FilesCommands] {
	return fs.strategy
}

// route returns the candidate shards for name along with a function
// mapping a shard id to the name stored on that shard.
func (fs *FileStore) route(name string, kind shard.OperationKind) ([]string, func(shardID string) string) {
	if shardID, _, ok := fs.strategy.ShardOf(name); ok {
		return []string{shardID}, func(string) string { return name }
	}
	return fs.strategy.Resolve(name, kind), func(shardID string) string {
		return fs.strategy.ModifyName(shardID, name)
	}
}

// Upload stores content under name and returns the header of the stored
// file, whose Name is the composite name to use for later operations.
func (fs *FileStore) Upload(ctx context.Context, name string, content []byte, metadata map[string]string) (storage.FileHeader, error) {
	if name == "" {
		return storage.FileHeader{}, storage.ErrInvalidName
	}
	ids, stored := fs.route(name, shard.OpWrite)
	res, err := shard.Execute(ctx, fs.strategy, ids, func(ctx context.Context, shardID string, c FilesCommands) (storage.FileHeader, error) {
		return c.UploadFile(ctx, stored(shardID), content, metadata)
	}, nil)
	if err != nil {
		return storage.FileHeader{}, fs.pointError("upload", name, err)
	}
	fs.logger.Debug("file uploaded", "name", res.Value.Name, "shard", res.Shards[0], "size", res.Value.Size)
	return res.Value, nil
}

// Download fetches the content and header of name.
func (fs *FileStore) Download(ctx context.Context, name string) (File, error) {
	ids, stored := fs.route(name, shard.OpRead)
	res, err := shard.Execute(ctx, fs.strategy, ids, func(ctx context.Context, shardID string, c FilesCommands) (File, error) {
		content, h, err := c.DownloadFile(ctx, stored(shardID))
		return File{Header: h, Content: content}, err
	}, nil)
	if err != nil {
		return File{}, fs.pointError("download", name, err)
	}
	return res.Value, nil
}

// Delete removes name.
func (fs *FileStore) Delete(ctx context.Context, name string) error {
	ids, stored := fs.route(name, shard.OpDelete)
	_, err := shard.Execute(ctx, fs.strategy, ids, func(ctx context.Context, shardID string, c FilesCommands) (struct{}, error) {
		return struct{}{}, c.DeleteFile(ctx, stored(shardID))
	}, nil)
	if err != nil {
		return fs.pointError("delete", name, err)
	}
	return nil
}

// Metadata fetches the header of name.
func (fs *FileStore) Metadata(ctx context.Context, name string) (storage.FileHeader, error) {
	ids, stored := fs.route(name, shard.OpRead)
	res, err := shard.Execute(ctx, fs.strategy, ids, func(ctx context.Context, shardID string, c FilesCommands) (storage.FileHeader, error) {
		return c.GetMetadata(ctx, stored(shardID))
	}, nil)
	if err != nil {
		return storage.FileHeader{}, fs.pointError("metadata", name, err)
	}
	return res.Value, nil
}

// pointError turns the failure of a point operation into the error returned
// to callers. A file missing on every candidate is reported as
// storage.ErrFileNotFound.
func (fs *FileStore) pointError(op, name string, err error) error {
	var agg *shard.AggregateError
	if errors.As(err, &agg) && allNotFound(agg) {
		return fmt.Errorf("%s %q: %w", op, name, storage.ErrFileNotFound)
	}
	if !errors.Is(err, shard.ErrCancelled) {
		fs.logger.Warn("file operation failed", "operation", op, "name", name, "error", err)
	}
	return fmt.Errorf("%s %q: %w", op, name, err)
}

func allNotFound(agg *shard.AggregateError) bool {
	for _, e := range agg.Errors {
		if !errors.Is(e, storage.ErrFileNotFound) {
			return false
		}
	}
	return len(agg.Errors) > 0
}

// pageBounds clamps pageSize to the conventions' MaxPageSize. Zero means
// the maximum.
func (fs *FileStore) pageBounds(start, pageSize int) (int, int) {
	if start < 0 {
		start = 0
	}
	maxSize := fs.strategy.Conventions().MaxPageSize
	if maxSize <= 0 {
		maxSize = shard.DefaultMaxPageSize
	}
	if pageSize <= 0 || pageSize > maxSize {
		pageSize = maxSize
	}
	return start, pageSize
}

// Browse lists one page of the namespace. Files are ordered by shard, in
// sorted shard id order, then by name within each shard.
func (fs *FileStore) Browse(ctx context.Context, start, pageSize int) (Listing, error) {
	start, pageSize = fs.pageBounds(start, pageSize)
	return fs.list(ctx, fs.strategy.Resolve("", shard.OpQuery), start, pageSize, func(ctx context.Context, _ string, c FilesCommands, limit int) ([]storage.FileHeader, error) {
		return c.BrowseFiles(ctx, 0, limit)
	})
}

// Search lists one page of the files whose base name starts with prefix,
// ordered like Browse. A prefix carrying a registered shard id only
// searches that shard.
func (fs *FileStore) Search(ctx context.Context, prefix string, start, pageSize int) (Listing, error) {
	start, pageSize = fs.pageBounds(start, pageSize)
	ids, stored := fs.route(prefix, shard.OpQuery)
	return fs.list(ctx, ids, start, pageSize, func(ctx context.Context, shardID string, c FilesCommands, limit int) ([]storage.FileHeader, error) {
		return c.SearchPrefix(ctx, stored(shardID), 0, limit)
	})
}

type listFunc func(ctx context.Context, shardID string, c FilesCommands, limit int) ([]storage.FileHeader, error)

// list builds a page of the shard-ordered concatenation of every shard's
// listing. Fetching the first start+pageSize files of each shard is enough:
// any file of the page is among them.
func (fs *FileStore) list(ctx context.Context, ids []string, start, pageSize int, fetch listFunc) (Listing, error) {
	limit := math.MaxInt
	if start <= math.MaxInt-pageSize {
		limit = start + pageSize
	}
	res, err := shard.Broadcast(ctx, fs.strategy, ids, func(ctx context.Context, shardID string, c FilesCommands) ([]storage.FileHeader, error) {
		return fetch(ctx, shardID, c, limit)
	}, shard.Concat[storage.FileHeader])
	if err != nil {
		return Listing{}, err
	}
	if len(res.Shards) == 0 {
		return Listing{}, res.FailureError()
	}

	files := res.Value
	if start > len(files) {
		start = len(files)
	}
	end := min(start+pageSize, len(files))
	return Listing{
		Files:        files[start:end],
		Start:        start,
		PageSize:     pageSize,
		FailedShards: failedShards(res.Failures),
	}, nil
}

// Stats sums the statistics of every shard.
func (fs *FileStore) Stats(ctx context.Context) (StatsSummary, error) {
	res, err := shard.Broadcast(ctx, fs.strategy, fs.strategy.Resolve("", shard.OpStats), func(ctx context.Context, _ string, c FilesCommands) (storage.Stats, error) {
		return c.GetStats(ctx)
	}, sumStats)
	if err != nil {
		return StatsSummary{}, err
	}
	if len(res.Shards) == 0 {
		return StatsSummary{}, res.FailureError()
	}
	return StatsSummary{
		Stats:        res.Value,
		Shards:       res.Shards,
		FailedShards: failedShards(res.Failures),
	}, nil
}

func sumStats(values []storage.Stats) storage.Stats {
	files := make([]int64, 0, len(values))
	bytes := make([]int64, 0, len(values))
	for _, v := range values {
		files = append(files, v.Files)
		bytes = append(bytes, v.Bytes)
	}
	return storage.Stats{Files: shard.Sum(files), Bytes: shard.Sum(bytes)}
}

func failedShards(failures []*shard.ShardError) map[string]string {
	if len(failures) == 0 {
		return nil
	}
	out := make(map[string]string, len(failures))
	for _, f := range failures {
		out[f.ShardID] = f.Err.Error()
	}
	return out
}
