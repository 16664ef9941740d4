package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dreamware/shardfs/internal/cluster"
	"github.com/dreamware/shardfs/internal/coordinator"
	"github.com/dreamware/shardfs/internal/shard"
	"github.com/dreamware/shardfs/internal/storage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/exp/slices"
)

type server struct {
	files   *coordinator.FileStore
	monitor *coordinator.HealthMonitor
	logger  *slog.Logger
}

func newServer(files *coordinator.FileStore, monitor *coordinator.HealthMonitor, logger *slog.Logger) *server {
	return &server{files: files, monitor: monitor, logger: logger}
}

// routes returns the front end HTTP API. The file endpoints use the node
// paths and parameters.
func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(cluster.PathHealth, s.handleHealth)
	mux.HandleFunc(cluster.PathFile, s.handleFile)
	mux.HandleFunc(cluster.PathHeader, s.handleHeader)
	mux.HandleFunc(cluster.PathFiles, s.handleList)
	mux.HandleFunc(cluster.PathStats, s.handleStats)
	mux.HandleFunc("/shards", s.handleShards)
	mux.Handle(cluster.PathMetrics, promhttp.Handler())
	return mux
}

// writeFileError maps routing and storage errors onto status codes.
func (s *server) writeFileError(w http.ResponseWriter, err error) {
	var agg *shard.AggregateError
	switch {
	case errors.Is(err, storage.ErrFileNotFound):
		cluster.WriteError(w, http.StatusNotFound, err)
	case errors.Is(err, storage.ErrInvalidName):
		cluster.WriteError(w, http.StatusBadRequest, err)
	case errors.Is(err, shard.ErrCancelled):
		cluster.WriteError(w, http.StatusServiceUnavailable, err)
	case errors.As(err, &agg):
		cluster.WriteError(w, http.StatusBadGateway, err)
	default:
		s.logger.Error("request failed", "error", err)
		cluster.WriteError(w, http.StatusInternalServerError, err)
	}
}

func (s *server) handleFile(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		cluster.WriteError(w, http.StatusBadRequest, errors.New("name parameter is required"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		f, err := s.files.Download(r.Context(), name)
		if err != nil {
			s.writeFileError(w, err)
			return
		}
		encoded, err := json.Marshal(f.Header)
		if err != nil {
			s.writeFileError(w, err)
			return
		}
		w.Header().Set(cluster.HeaderFile, string(encoded))
		w.Header().Set("ETag", strconv.Quote(f.Header.ETag))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Length", strconv.Itoa(len(f.Content)))
		_, _ = w.Write(f.Content)

	case http.MethodPut:
		var metadata map[string]string
		if raw := r.Header.Get(cluster.HeaderMetadata); raw != "" {
			if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
				cluster.WriteError(w, http.StatusBadRequest, err)
				return
			}
		}
		content, err := io.ReadAll(http.MaxBytesReader(w, r.Body, cluster.MaxUploadBytes))
		if err != nil {
			cluster.WriteError(w, http.StatusRequestEntityTooLarge, err)
			return
		}
		h, err := s.files.Upload(r.Context(), name, content, metadata)
		if err != nil {
			s.writeFileError(w, err)
			return
		}
		cluster.WriteJSON(w, http.StatusOK, h)

	case http.MethodDelete:
		if err := s.files.Delete(r.Context(), name); err != nil {
			s.writeFileError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *server) handleHeader(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		cluster.WriteError(w, http.StatusBadRequest, errors.New("name parameter is required"))
		return
	}
	h, err := s.files.Metadata(r.Context(), name)
	if err != nil {
		s.writeFileError(w, err)
		return
	}
	cluster.WriteJSON(w, http.StatusOK, h)
}

func (s *server) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	start, pageSize, err := cluster.ParsePage(r)
	if err != nil {
		cluster.WriteError(w, http.StatusBadRequest, err)
		return
	}
	var listing coordinator.Listing
	if q := r.URL.Query(); q.Has("prefix") {
		listing, err = s.files.Search(r.Context(), q.Get("prefix"), start, pageSize)
	} else {
		listing, err = s.files.Browse(r.Context(), start, pageSize)
	}
	if err != nil {
		s.writeFileError(w, err)
		return
	}
	cluster.WriteJSON(w, http.StatusOK, listing)
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	stats, err := s.files.Stats(r.Context())
	if err != nil {
		s.writeFileError(w, err)
		return
	}
	cluster.WriteJSON(w, http.StatusOK, stats)
}

type shardStatus struct {
	ID               string                  `json:"id"`
	Status           coordinator.ShardStatus `json:"status"`
	ServerID         string                  `json:"serverId,omitempty"`
	URL              string                  `json:"url,omitempty"`
	ConsecutiveFails int                     `json:"consecutiveFails"`
	LastError        string                  `json:"lastError,omitempty"`
}

// handleShards lists every shard with its health in sorted id order.
func (s *server) handleShards(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	all := s.monitor.GetAllShardHealth()
	out := make([]shardStatus, 0, len(all))
	for id, h := range all {
		st := shardStatus{
			ID:               id,
			Status:           h.Status,
			URL:              h.Identity.URL,
			ConsecutiveFails: h.ConsecutiveFails,
			LastError:        h.LastError,
		}
		if h.Status != coordinator.StatusUnknown {
			st.ServerID = h.Identity.ServerID.String()
		}
		out = append(out, st)
	}
	slices.SortFunc(out, func(a, b shardStatus) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	cluster.WriteJSON(w, http.StatusOK, struct {
		Shards []shardStatus `json:"shards"`
	}{Shards: out})
}

// handleHealth reports "ok" while every shard is healthy and "degraded"
// otherwise. It always answers 200.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	for _, h := range s.monitor.GetAllShardHealth() {
		if h.Status != coordinator.StatusHealthy {
			status = "degraded"
			break
		}
	}
	cluster.WriteJSON(w, http.StatusOK, map[string]string{"status": status})
}
