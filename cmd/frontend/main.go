// Package main implements the shardfs front end, which presents a fixed set
// of storage nodes as one file namespace.
//
// On start-up the front end probes every configured node for its identity,
// refuses to start if two shard ids point at the same node, and then routes
// every request through the shard strategy:
//
//	client ──► front end ──► shard.Strategy ──► node "east"
//	                                       ├──► node "west"
//	                                       └──► node "central"
//
// Configuration is read from the jsonnet file given as the only argument,
// or from the environment when no argument is given (see ConfigFromEnv).
//
// Example usage:
//
//	./frontend frontend.jsonnet
//
//	FRONTEND_SHARDS=east=http://10.0.0.1:8081,west=http://10.0.0.2:8081 ./frontend
//
//	curl -X PUT --data-binary @report.pdf 'localhost:8080/file?name=reports/q1.pdf'
//	curl 'localhost:8080/files?prefix=reports/'
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
	"github.com/dreamware/shardfs/internal/coordinator"
	"github.com/dreamware/shardfs/internal/shard"
)

// logFatal is a variable to allow mocking fatal exits in tests.
var logFatal = func(format string, args ...any) {
	slog.Error(fmt.Sprintf(format, args...))
	os.Exit(1)
}

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		logFatal("config: %v", err)
		return
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		logFatal("config: %v", err)
		return
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	strategy, err := buildStrategy(ctx, cfg, logger)
	if err != nil {
		logFatal("shards: %v", err)
		return
	}
	monitor := coordinator.NewHealthMonitor(strategy.Map(), time.Duration(cfg.HealthCheckInterval))
	monitor.SetLogger(logger)
	monitor.SetProbeTimeout(time.Duration(cfg.ProbeTimeout))
	monitor.Start(ctx)
	defer monitor.Stop()

	srv := newServer(coordinator.NewFileStore(strategy, logger), monitor, logger)
	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("frontend listening", "listen", cfg.Listen, "shards", strategy.Map().IDs(), "resolution", cfg.Resolution)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logFatal("listen: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	logger.Info("frontend stopped")
}

// loadConfig reads the configuration file named by args, or the environment
// if args is empty.
func loadConfig(args []string) (Config, error) {
	switch len(args) {
	case 0:
		return ConfigFromEnv()
	case 1:
		return LoadConfigFile(args[0])
	default:
		return Config{}, errors.New("usage: frontend [frontend.jsonnet]")
	}
}

func newLogger(level string) (*slog.Logger, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: l})), nil
}

// buildStrategy creates a client per configured shard, validates the
// topology and assembles the routing strategy.
func buildStrategy(ctx context.Context, cfg Config, logger *slog.Logger) (*shard.Strategy[coordinator.FilesCommands], error) {
	conventions := cfg.Conventions()
	clients := make(map[string]coordinator.FilesCommands, len(cfg.Shards))
	for id, url := range cfg.Shards {
		c, err := cluster.NewClient(url, cluster.WithConventions(conventions))
		if err != nil {
			return nil, fmt.Errorf("shard %q: %w", id, err)
		}
		clients[id] = c
	}

	m, err := shard.NewMap(ctx, clients,
		shard.WithProbeTimeout(time.Duration(cfg.ProbeTimeout)),
		shard.WithMapLogger(logger))
	if err != nil {
		return nil, err
	}

	var resolution shard.ResolutionStrategy
	switch cfg.Resolution {
	case ResolutionRendezvous:
		resolution = shard.NewRendezvousResolution(m.IDs(), cfg.RendezvousSeed)
	case ResolutionExplicitHash:
		resolution = shard.NewExplicitResolution(m.Conventions(), m.IDs(), shard.NewHashResolution(m.IDs()))
	default:
		resolution = shard.NewHashResolution(m.IDs())
	}

	return shard.NewStrategy(m,
		shard.WithResolution(resolution),
		shard.WithBroadcast(shard.ParallelAccess{MaxConcurrency: cfg.MaxConcurrency}),
		shard.WithLogger(logger),
	), nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
