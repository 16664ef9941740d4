// Package main implements the shardfs storage node, one physical shard of
// the sharded file store.
//
// The node is a plain file server. It knows nothing about other shards or
// about the routing layer: the front end decides which node a file goes to
// and under which composite name it is stored.
//
// Architecture:
//
//	┌─────────────────────────────────────────┐
//	│                Node                     │
//	├─────────────────────────────────────────┤
//	│  HTTP API:                              │
//	│    /health       - Health check         │
//	│    /identity     - Server id            │
//	│    /file         - GET/PUT/DELETE       │
//	│    /header       - File header          │
//	│    /files        - Browse and search    │
//	│    /stats        - File count and bytes │
//	│    /metrics      - Prometheus metrics   │
//	├─────────────────────────────────────────┤
//	│  Components:                            │
//	│    cluster.Server - HTTP protocol       │
//	│    MemoryStore    - File storage        │
//	└─────────────────────────────────────────┘
//
// Configuration:
//   - NODE_LISTEN: Listen address (default: ":8081")
//   - NODE_ADDR: Public address, reported from /identity (default: "http://127.0.0.1:8081")
//   - NODE_SERVER_ID: Server id, a UUID (default: random at start-up)
//   - LOG_LEVEL: debug, info, warn or error (default: info)
//
// A node restarted without NODE_SERVER_ID reports a new identity. Set it to
// keep the identity stable across restarts.
//
// Example usage:
//
//	NODE_LISTEN=:8081 \
//	NODE_ADDR=http://10.0.0.1:8081 \
//	NODE_SERVER_ID=5f0c57a8-9a4e-4b8e-8f8e-0d6f3b00a001 \
//	./node
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dreamware/shardfs/internal/cluster"
	"github.com/dreamware/shardfs/internal/storage"
	"github.com/google/uuid"
)

// logFatal is a variable to allow mocking fatal exits in tests.
var logFatal = func(format string, args ...any) {
	slog.Error(fmt.Sprintf(format, args...))
	os.Exit(1)
}

// config is the node configuration read from the environment.
type config struct {
	Listen   string
	Addr     string
	ServerID uuid.UUID
	LogLevel slog.Level
}

// loadConfig reads the node configuration from the environment.
//
// Returns an error if NODE_SERVER_ID or LOG_LEVEL is set to an invalid
// value.
func loadConfig() (config, error) {
	cfg := config{
		Listen: getenv("NODE_LISTEN", ":8081"),
		Addr:   getenv("NODE_ADDR", "http://127.0.0.1:8081"),
	}
	if raw := os.Getenv("NODE_SERVER_ID"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return config{}, fmt.Errorf("invalid NODE_SERVER_ID %q: %w", raw, err)
		}
		cfg.ServerID = id
	} else {
		cfg.ServerID = uuid.New()
	}
	level, err := parseLevel(getenv("LOG_LEVEL", "info"))
	if err != nil {
		return config{}, err
	}
	cfg.LogLevel = level
	return cfg, nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL %q: %w", s, err)
	}
	return level, nil
}

// newServer wires the node's storage and HTTP server.
func newServer(cfg config, logger *slog.Logger) *http.Server {
	node := cluster.NewServer(storage.NewMemoryStore(), cfg.ServerID, cfg.Addr, logger)
	return &http.Server{
		Addr:              cfg.Listen,
		Handler:           node.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// main runs the node until SIGINT or SIGTERM, then shuts down gracefully.
func main() {
	cfg, err := loadConfig()
	if err != nil {
		logFatal("config: %v", err)
		return
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	s := newServer(cfg, logger)
	go func() {
		logger.Info("node listening", "listen", cfg.Listen, "public", cfg.Addr, "server_id", cfg.ServerID)
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logFatal("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	logger.Info("node stopped")
}

// getenv retrieves an environment variable with a fallback default value.
//
// Example:
//
//	listen := getenv("NODE_LISTEN", ":8081")
//	// Returns $NODE_LISTEN if set, otherwise ":8081"
func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
