package storage

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"
)

var (
	// ErrFileNotFound is returned when a file doesn't exist in the store
	ErrFileNotFound = errors.New("file not found")

	// ErrInvalidName is returned for empty file names
	ErrInvalidName = errors.New("invalid file name")
)

// FileHeader describes a stored file without its content.
type FileHeader struct {
	Name         string            `json:"name"`
	Size         int64             `json:"size"`
	LastModified time.Time         `json:"lastModified"`
	ETag         string            `json:"etag"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Clone returns a deep copy of h.
func (h FileHeader) Clone() FileHeader {
	if h.Metadata != nil {
		md := make(map[string]string, len(h.Metadata))
		for k, v := range h.Metadata {
			md[k] = v
		}
		h.Metadata = md
	}
	return h
}

// Stats contains statistics about the store
type Stats struct {
	Files int64 `json:"files"` // Number of files
	Bytes int64 `json:"bytes"` // Total size of all contents in bytes
}

// Store defines the interface for named file storage on a single node.
// All implementations must be thread-safe for concurrent access.
type Store interface {
	// Put stores content under name, replacing any existing file.
	// Returns the header of the stored file.
	Put(name string, content []byte, metadata map[string]string) (FileHeader, error)

	// Get retrieves a file's content and header.
	// Returns ErrFileNotFound if the file doesn't exist.
	Get(name string) ([]byte, FileHeader, error)

	// Header retrieves a file's header only.
	Header(name string) (FileHeader, error)

	// Delete removes a file.
	// Returns ErrFileNotFound if the file doesn't exist.
	Delete(name string) error

	// Browse returns up to pageSize headers in name order, skipping the
	// first start files. A pageSize of zero or less means no limit.
	Browse(start, pageSize int) []FileHeader

	// SearchPrefix is Browse restricted to names starting with prefix.
	SearchPrefix(prefix string, start, pageSize int) []FileHeader

	// Stats returns storage statistics.
	Stats() Stats
}

type file struct {
	header  FileHeader
	content []byte
}

// MemoryStore implements Store with in-memory storage.
// Uses sync.RWMutex for thread-safe concurrent access.
type MemoryStore struct {
	mu    sync.RWMutex
	files map[string]file
	now   func() time.Time
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		files: make(map[string]file),
		now:   time.Now,
	}
}

// Put stores a copy of content so callers may reuse their buffer.
func (m *MemoryStore) Put(name string, content []byte, metadata map[string]string) (FileHeader, error) {
	if name == "" {
		return FileHeader{}, ErrInvalidName
	}
	stored := slices.Clone(content)
	if stored == nil {
		stored = []byte{}
	}
	h := FileHeader{
		Name:         name,
		Size:         int64(len(stored)),
		LastModified: m.now().UTC(),
		ETag:         uuid.NewString(),
		Metadata:     metadata,
	}.Clone()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[name] = file{header: h, content: stored}
	return h.Clone(), nil
}

// Get returns a copy of the content to prevent external modification.
func (m *MemoryStore) Get(name string) ([]byte, FileHeader, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, ok := m.files[name]
	if !ok {
		return nil, FileHeader{}, ErrFileNotFound
	}
	return slices.Clone(f.content), f.header.Clone(), nil
}

// Header retrieves a file's header
func (m *MemoryStore) Header(name string) (FileHeader, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, ok := m.files[name]
	if !ok {
		return FileHeader{}, ErrFileNotFound
	}
	return f.header.Clone(), nil
}

// Delete removes a file
func (m *MemoryStore) Delete(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.files[name]; !ok {
		return ErrFileNotFound
	}
	delete(m.files, name)
	return nil
}

// Browse returns a page of headers in name order
func (m *MemoryStore) Browse(start, pageSize int) []FileHeader {
	return m.page("", start, pageSize)
}

// SearchPrefix returns a page of headers whose names start with prefix
func (m *MemoryStore) SearchPrefix(prefix string, start, pageSize int) []FileHeader {
	return m.page(prefix, start, pageSize)
}

func (m *MemoryStore) page(prefix string, start, pageSize int) []FileHeader {
	m.mu.RLock()
	names := make([]string, 0, len(m.files))
	for name := range m.files {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	slices.Sort(names)

	if start < 0 {
		start = 0
	}
	if start > len(names) {
		start = len(names)
	}
	names = names[start:]
	if pageSize > 0 && pageSize < len(names) {
		names = names[:pageSize]
	}

	headers := make([]FileHeader, 0, len(names))
	for _, name := range names {
		headers = append(headers, m.files[name].header.Clone())
	}
	m.mu.RUnlock()
	return headers
}

// Stats returns storage statistics
func (m *MemoryStore) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var bytes int64
	for _, f := range m.files {
		bytes += f.header.Size
	}
	return Stats{
		Files: int64(len(m.files)),
		Bytes: bytes,
	}
}
