package cluster

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/dreamware/shardfs/internal/storage"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MaxUploadBytes bounds the size of a single uploaded file.
const MaxUploadBytes = 64 << 20

var (
	nodeMetricsOnce sync.Once

	nodeOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shardfs",
			Subsystem: "node",
			Name:      "operations_total",
			Help:      "Number of file operations served by the storage node, by operation and outcome.",
		},
		[]string{"operation", "outcome"})
)

// Server serves a storage.Store over the node HTTP protocol. Every node is
// one physical shard and reports a stable server id from /identity.
type Server struct {
	store     storage.Store
	serverID  uuid.UUID
	publicURL string
	logger    *slog.Logger
}

// NewServer creates a node server for store.
//
// Parameters:
//   - store: Local file store
//   - serverID: Identity reported to the front end; must be unique per node
//   - publicURL: Address the node advertises, informational only
//   - logger: Logger for request failures, slog.Default() if nil
func NewServer(store storage.Store, serverID uuid.UUID, publicURL string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	nodeMetricsOnce.Do(func() {
		prometheus.MustRegister(nodeOperationsTotal)
	})
	return &Server{store: store, serverID: serverID, publicURL: publicURL, logger: logger}
}

// ServerID returns the server's identity.
func (s *Server) ServerID() uuid.UUID {
	return s.serverID
}

// Handler returns the HTTP routes of the node.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(PathHealth, func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc(PathIdentity, s.handleIdentity)
	mux.HandleFunc(PathFile, s.handleFile)
	mux.HandleFunc(PathHeader, s.handleHeader)
	mux.HandleFunc(PathFiles, s.handleList)
	mux.HandleFunc(PathStats, s.handleStats)
	mux.Handle(PathMetrics, promhttp.Handler())
	return mux
}

func (s *Server) observe(op string, err error) {
	outcome := "success"
	switch {
	case errors.Is(err, storage.ErrFileNotFound):
		outcome = "not_found"
	case err != nil:
		outcome = "failure"
	}
	nodeOperationsTotal.WithLabelValues(op, outcome).Inc()
}

func (s *Server) writeStoreError(w http.ResponseWriter, op string, err error) {
	s.observe(op, err)
	switch {
	case errors.Is(err, storage.ErrFileNotFound):
		WriteError(w, http.StatusNotFound, err)
	case errors.Is(err, storage.ErrInvalidName):
		WriteError(w, http.StatusBadRequest, err)
	default:
		s.logger.Error("store operation failed", "operation", op, "error", err)
		WriteError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) handleIdentity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	WriteJSON(w, http.StatusOK, IdentityResponse{ServerID: s.serverID, URL: s.publicURL})
}

func fileName(r *http.Request) (string, error) {
	name := r.URL.Query().Get("name")
	if name == "" {
		return "", fmt.Errorf("%w: missing name parameter", storage.ErrInvalidName)
	}
	return name, nil
}

// handleFile serves GET, PUT and DELETE of a single file. The file name is
// passed as the name query parameter since composite names contain
// slashes.
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	name, err := fileName(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err)
		return
	}

	switch r.Method {
	case http.MethodGet:
		content, h, err := s.store.Get(name)
		if err != nil {
			s.writeStoreError(w, "download", err)
			return
		}
		encoded, err := json.Marshal(h)
		if err != nil {
			s.writeStoreError(w, "download", err)
			return
		}
		w.Header().Set(HeaderFile, string(encoded))
		w.Header().Set("ETag", strconv.Quote(h.ETag))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Length", strconv.Itoa(len(content)))
		_, _ = w.Write(content)
		s.observe("download", nil)

	case http.MethodPut:
		var metadata map[string]string
		if raw := r.Header.Get(HeaderMetadata); raw != "" {
			if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
				WriteError(w, http.StatusBadRequest, fmt.Errorf("invalid %s header: %w", HeaderMetadata, err))
				return
			}
		}
		content, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxUploadBytes))
		if err != nil {
			WriteError(w, http.StatusRequestEntityTooLarge, err)
			return
		}
		h, err := s.store.Put(name, content, metadata)
		if err != nil {
			s.writeStoreError(w, "upload", err)
			return
		}
		s.observe("upload", nil)
		WriteJSON(w, http.StatusOK, h)

	case http.MethodDelete:
		if err := s.store.Delete(name); err != nil {
			s.writeStoreError(w, "delete", err)
			return
		}
		s.observe("delete", nil)
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleHeader(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	name, err := fileName(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err)
		return
	}
	h, err := s.store.Header(name)
	if err != nil {
		s.writeStoreError(w, "metadata", err)
		return
	}
	s.observe("metadata", nil)
	WriteJSON(w, http.StatusOK, h)
}

// ParsePage reads the start and pageSize query parameters. Missing values
// default to zero.
func ParsePage(r *http.Request) (start, pageSize int, err error) {
	q := r.URL.Query()
	if v := q.Get("start"); v != "" {
		if start, err = strconv.Atoi(v); err != nil || start < 0 {
			return 0, 0, fmt.Errorf("invalid start %q", v)
		}
	}
	if v := q.Get("pageSize"); v != "" {
		if pageSize, err = strconv.Atoi(v); err != nil || pageSize < 0 {
			return 0, 0, fmt.Errorf("invalid pageSize %q", v)
		}
	}
	return start, pageSize, nil
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	start, pageSize, err := ParsePage(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err)
		return
	}
	var files []storage.FileHeader
	op := "browse"
	if r.URL.Query().Has("prefix") {
		op = "search"
		files = s.store.SearchPrefix(r.URL.Query().Get("prefix"), start, pageSize)
	} else {
		files = s.store.Browse(start, pageSize)
	}
	s.observe(op, nil)
	WriteJSON(w, http.StatusOK, BrowseResponse{Files: files})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.observe("stats", nil)
	WriteJSON(w, http.StatusOK, s.store.Stats())
}
