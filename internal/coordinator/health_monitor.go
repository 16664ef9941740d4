package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dreamware/shardfs/internal/shard"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"
)

// ShardStatus is the health status of a shard as seen by the HealthMonitor.
type ShardStatus string

const (
	// StatusUnknown means the shard has not answered an identity probe yet.
	StatusUnknown ShardStatus = "unknown"
	// StatusHealthy means the last identity probe succeeded.
	StatusHealthy ShardStatus = "healthy"
	// StatusUnhealthy means the shard failed maxFailures probes in a row.
	StatusUnhealthy ShardStatus = "unhealthy"
	// StatusConflict means the shard answered with the identity of another
	// registered shard. The map was validated without it and cannot be
	// rebuilt in place, so the topology must be fixed by an operator.
	StatusConflict ShardStatus = "conflict"
)

var allStatuses = []ShardStatus{StatusUnknown, StatusHealthy, StatusUnhealthy, StatusConflict}

var (
	healthMetricsOnce sync.Once

	shardHealth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "shardfs",
			Subsystem: "coordinator",
			Name:      "shard_health",
			Help:      "Current health status of each shard, 1 for the active status and 0 otherwise.",
		},
		[]string{"shard", "status"})
)

// ShardHealth tracks the health status of a single shard.
// Thread-safe: Protected by HealthMonitor's mutex when accessed.
type ShardHealth struct {
	LastCheck        time.Time      // Timestamp of the last probe attempt
	LastHealthy      time.Time      // Timestamp of the last successful probe
	Identity         shard.Identity // Last identity the shard reported
	ShardID          string         // Canonical shard id
	Status           ShardStatus    // Current status
	LastError        string         // Error of the last failed probe or the conflict
	ConsecutiveFails int            // Number of consecutive failed probes
	validated        bool           // Identity was known when the map was built
}

type healthTarget struct {
	id     string
	client shard.Client
}

// HealthMonitor periodically re-probes the identity of every shard in a
// map. Shards that were offline while the map was built are picked up when
// they come back; if such a shard turns out to duplicate another shard it is
// flagged StatusConflict and reported at error level.
// Thread-safe: All methods are safe for concurrent access.
type HealthMonitor struct {
	targets     []healthTarget
	shards      map[string]*ShardHealth
	onUnhealthy func(shardID string)
	logger      *slog.Logger
	ctx         context.Context
	cancel      context.CancelFunc
	interval    time.Duration
	timeout     time.Duration
	mu          sync.RWMutex
	wg          sync.WaitGroup
	maxFailures int
}

// NewHealthMonitor creates a health monitor for the shards of m, seeded with
// the identity probes taken when m was built. Shards are marked unhealthy
// after 3 consecutive failed probes.
//
// Parameters:
//   - m: Shard map to monitor
//   - interval: How often to probe every shard (recommended: 10s)
//
// Example:
//
//	monitor := coordinator.NewHealthMonitor(m, 10*time.Second)
//	monitor.Start(ctx)
//	defer monitor.Stop()
func NewHealthMonitor[C shard.Client](m *shard.Map[C], interval time.Duration) *HealthMonitor {
	healthMetricsOnce.Do(func() {
		prometheus.MustRegister(shardHealth)
	})
	ctx, cancel := context.WithCancel(context.Background())
	h := &HealthMonitor{
		shards:      make(map[string]*ShardHealth, m.Len()),
		logger:      slog.Default(),
		ctx:         ctx,
		cancel:      cancel,
		interval:    interval,
		timeout:     2 * time.Second,
		maxFailures: 3,
	}
	for _, p := range m.Probes() {
		client, _ := m.Get(p.ShardID)
		h.targets = append(h.targets, healthTarget{id: p.ShardID, client: client})
		health := &ShardHealth{ShardID: p.ShardID, Status: StatusUnknown, validated: p.Known}
		if p.Known {
			health.Status = StatusHealthy
			health.Identity = p.Identity
			health.LastHealthy = time.Now()
		} else if p.Err != nil {
			health.LastError = p.Err.Error()
		}
		h.shards[p.ShardID] = health
		h.setGauge(p.ShardID, health.Status)
	}
	return h
}

// SetOnUnhealthy sets the callback invoked when a shard becomes unhealthy or
// conflicting. The callback runs on its own goroutine.
func (h *HealthMonitor) SetOnUnhealthy(callback func(shardID string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onUnhealthy = callback
}

// SetLogger replaces the logger.
func (h *HealthMonitor) SetLogger(logger *slog.Logger) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.logger = logger
}

// SetProbeTimeout bounds each identity probe.
func (h *HealthMonitor) SetProbeTimeout(timeout time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.timeout = timeout
}

// Start probes all shards every interval on a background goroutine until
// ctx is canceled or Stop is called. The first round of probes starts
// immediately.
func (h *HealthMonitor) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.run(ctx)
}

func (h *HealthMonitor) run(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.logger.Info("health monitor started", "interval", h.interval, "shards", len(h.targets))
	h.CheckAll(ctx)

	for {
		select {
		case <-ticker.C:
			h.CheckAll(ctx)
		case <-ctx.Done():
			h.logger.Info("health monitor stopping", "reason", ctx.Err())
			return
		case <-h.ctx.Done():
			return
		}
	}
}

// Stop shuts down the monitor and waits for Start to return.
func (h *HealthMonitor) Stop() {
	h.cancel()
	h.wg.Wait()
	h.logger.Info("health monitor stopped")
}

// CheckAll probes every shard once, concurrently, and updates their status.
func (h *HealthMonitor) CheckAll(ctx context.Context) {
	h.mu.RLock()
	timeout := h.timeout
	h.mu.RUnlock()

	probes := make([]shard.Probe, len(h.targets))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range h.targets {
		g.Go(func() error {
			probes[i] = shard.ProbeIdentity(gctx, t.id, t.client, timeout)
			return nil
		})
	}
	_ = g.Wait()
	if ctx.Err() != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	now := time.Now()
	previous := make(map[string]ShardStatus, len(h.shards))
	for id, health := range h.shards {
		previous[id] = health.Status
	}
	var notify []string
	for _, p := range probes {
		if id, changed := h.record(p, now); changed {
			notify = append(notify, id)
		}
	}
	notify = append(notify, h.detectConflicts(previous)...)
	for _, id := range h.sortedIDs() {
		h.setGauge(id, h.shards[id].Status)
	}
	if h.onUnhealthy != nil {
		for _, id := range notify {
			go h.onUnhealthy(id)
		}
	}
}

// record applies a probe result. It reports whether the shard just became
// unhealthy.
func (h *HealthMonitor) record(p shard.Probe, now time.Time) (string, bool) {
	health := h.shards[p.ShardID]
	health.LastCheck = now

	if !p.Known {
		health.ConsecutiveFails++
		health.LastError = p.Err.Error()
		h.logger.Warn("shard identity probe failed",
			"shard", p.ShardID, "attempt", health.ConsecutiveFails, "max", h.maxFailures, "error", p.Err)
		if health.ConsecutiveFails >= h.maxFailures && health.Status != StatusUnhealthy {
			health.Status = StatusUnhealthy
			h.logger.Warn("shard marked unhealthy", "shard", p.ShardID, "failures", health.ConsecutiveFails)
			return p.ShardID, true
		}
		return p.ShardID, false
	}

	if health.Status == StatusUnhealthy {
		h.logger.Info("shard recovered", "shard", p.ShardID)
	}
	if health.Status == StatusUnknown {
		h.logger.Info("shard identity discovered", "shard", p.ShardID, "server_id", p.Identity.ServerID, "url", p.Identity.URL)
	}
	if health.Identity != p.Identity && health.Identity.ServerID != uuid.Nil {
		h.logger.Info("shard identity changed", "shard", p.ShardID,
			"previous", health.Identity.ServerID, "current", p.Identity.ServerID)
	}
	health.Identity = p.Identity
	health.Status = StatusHealthy
	health.ConsecutiveFails = 0
	health.LastError = ""
	health.LastHealthy = now
	return p.ShardID, false
}

// detectConflicts flags shards whose identity collides with another shard.
// Shards validated at map construction keep serving; only the late comers
// are flagged. It returns the shards that newly entered StatusConflict.
func (h *HealthMonitor) detectConflicts(previous map[string]ShardStatus) []string {
	type physical struct {
		serverID uuid.UUID
		url      string
	}
	groups := make(map[physical][]string)
	for _, id := range h.sortedIDs() {
		health := h.shards[id]
		if health.Status != StatusHealthy && health.Status != StatusConflict {
			continue
		}
		key := physical{health.Identity.ServerID, health.Identity.URL}
		groups[key] = append(groups[key], id)
	}

	var flagged []string
	for key, ids := range groups {
		if len(ids) < 2 {
			continue
		}
		conflict := &shard.DuplicateShardError{URL: key.url, ShardIDs: ids}
		allLate := true
		for _, id := range ids {
			if h.shards[id].validated {
				allLate = false
				break
			}
		}
		for _, id := range ids {
			health := h.shards[id]
			if health.validated && !allLate {
				continue
			}
			if previous[id] != StatusConflict {
				h.logger.Error("shard duplicates another shard, topology must be fixed",
					"shard", id, "url", key.url, "server_id", key.serverID, "error", conflict)
				flagged = append(flagged, id)
			}
			health.Status = StatusConflict
			health.LastError = conflict.Error()
		}
	}
	slices.Sort(flagged)
	return flagged
}

func (h *HealthMonitor) sortedIDs() []string {
	ids := make([]string, 0, len(h.shards))
	for id := range h.shards {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (h *HealthMonitor) setGauge(shardID string, status ShardStatus) {
	for _, s := range allStatuses {
		v := 0.0
		if s == status {
			v = 1
		}
		shardHealth.WithLabelValues(shardID, string(s)).Set(v)
	}
}

// GetShardHealth returns a copy of the health record of shardID, or nil if
// the shard is not monitored.
func (h *HealthMonitor) GetShardHealth(shardID string) *ShardHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health, exists := h.shards[shard.CanonicalID(shardID)]
	if !exists {
		return nil
	}
	c := *health
	return &c
}

// GetAllShardHealth returns copies of all health records, keyed by shard id.
func (h *HealthMonitor) GetAllShardHealth() map[string]*ShardHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make(map[string]*ShardHealth, len(h.shards))
	for id, health := range h.shards {
		c := *health
		result[id] = &c
	}
	return result
}

// IsHealthy reports whether shardID is currently healthy.
func (h *HealthMonitor) IsHealthy(shardID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health, exists := h.shards[shard.CanonicalID(shardID)]
	return exists && health.Status == StatusHealthy
}
