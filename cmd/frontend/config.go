package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dreamware/shardfs/internal/shard"
	"github.com/google/go-jsonnet"
	"golang.org/x/exp/slices"
)

// Resolution strategy names accepted in the configuration.
const (
	ResolutionHash         = "hash"
	ResolutionRendezvous   = "rendezvous"
	ResolutionExplicitHash = "explicit-hash"
)

// Duration is a time.Duration read from a Go duration string such as "5s".
type Duration time.Duration

// UnmarshalJSON parses a JSON string with time.ParseDuration.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string such as \"5s\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Config is the front end configuration.
//
// Example (frontend.jsonnet):
//
//	{
//	  listen: ':8080',
//	  shards: {
//	    east: 'http://10.0.0.1:8081',
//	    west: 'http://10.0.0.2:8081',
//	  },
//	  resolution: 'hash',
//	  requestTimeout: '5s',
//	  maxConcurrency: std.parseInt(std.extVar('MAX_CONCURRENCY')),
//	}
type Config struct {
	Listen              string            `json:"listen"`
	Shards              map[string]string `json:"shards"`
	Separator           string            `json:"separator"`
	ProbeTimeout        Duration          `json:"probeTimeout"`
	RequestTimeout      Duration          `json:"requestTimeout"`
	MaxConcurrency      int64             `json:"maxConcurrency"`
	MaxPageSize         int               `json:"maxPageSize"`
	Resolution          string            `json:"resolution"`
	RendezvousSeed      string            `json:"rendezvousSeed"`
	HealthCheckInterval Duration          `json:"healthCheckInterval"`
	LogLevel            string            `json:"logLevel"`
}

func defaultConfig() Config {
	return Config{
		Listen:              ":8080",
		Separator:           shard.DefaultIdentityPartsSeparator,
		ProbeTimeout:        Duration(shard.DefaultProbeTimeout),
		RequestTimeout:      Duration(shard.DefaultRequestTimeout),
		MaxPageSize:         shard.DefaultMaxPageSize,
		Resolution:          ResolutionHash,
		HealthCheckInterval: Duration(10 * time.Second),
		LogLevel:            "info",
	}
}

// Conventions returns the shard conventions every client is created with.
func (c Config) Conventions() shard.Conventions {
	return shard.Conventions{
		IdentityPartsSeparator: c.Separator,
		RequestTimeout:         time.Duration(c.RequestTimeout),
		MaxPageSize:            c.MaxPageSize,
	}
}

// Validate reports the first configuration error.
func (c Config) Validate() error {
	if c.Listen == "" {
		return errors.New("listen address is required")
	}
	if len(c.Shards) == 0 {
		return errors.New("at least one shard is required")
	}
	for id, url := range c.Shards {
		if url == "" {
			return fmt.Errorf("shard %q: url is required", id)
		}
	}
	if c.Separator == "" {
		return errors.New("separator must not be empty")
	}
	if !slices.Contains([]string{ResolutionHash, ResolutionRendezvous, ResolutionExplicitHash}, c.Resolution) {
		return fmt.Errorf("unknown resolution %q", c.Resolution)
	}
	if c.ProbeTimeout <= 0 {
		return errors.New("probeTimeout must be positive")
	}
	if c.MaxConcurrency < 0 {
		return errors.New("maxConcurrency must not be negative")
	}
	if c.HealthCheckInterval <= 0 {
		return errors.New("healthCheckInterval must be positive")
	}
	return nil
}

// LoadConfigFile evaluates a jsonnet configuration file. Environment
// variables are available to it through std.extVar. Fields missing from the
// file keep their defaults; unknown fields are rejected.
func LoadConfigFile(path string) (Config, error) {
	vm := jsonnet.MakeVM()
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			vm.ExtVar(k, v)
		}
	}
	out, err := vm.EvaluateFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("evaluate %s: %w", path, err)
	}

	cfg := defaultConfig()
	dec := json.NewDecoder(strings.NewReader(out))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ConfigFromEnv builds a configuration from environment variables, for
// running without a configuration file:
//   - FRONTEND_ADDR: Listen address (default: ":8080")
//   - FRONTEND_SHARDS: Comma separated id=url pairs (required)
//   - FRONTEND_RESOLUTION: hash, rendezvous or explicit-hash (default: hash)
//   - FRONTEND_MAX_CONCURRENCY: Broadcast concurrency bound (default: unbounded)
//   - LOG_LEVEL: debug, info, warn or error (default: info)
func ConfigFromEnv() (Config, error) {
	cfg := defaultConfig()
	cfg.Listen = getenv("FRONTEND_ADDR", cfg.Listen)
	cfg.Resolution = getenv("FRONTEND_RESOLUTION", cfg.Resolution)
	cfg.LogLevel = getenv("LOG_LEVEL", cfg.LogLevel)
	if v := os.Getenv("FRONTEND_MAX_CONCURRENCY"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid FRONTEND_MAX_CONCURRENCY %q: %w", v, err)
		}
		cfg.MaxConcurrency = n
	}
	raw := os.Getenv("FRONTEND_SHARDS")
	if raw == "" {
		return Config{}, errors.New("missing env FRONTEND_SHARDS")
	}
	shards, err := parseShards(raw)
	if err != nil {
		return Config{}, err
	}
	cfg.Shards = shards
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// parseShards parses "east=http://a:8081,west=http://b:8081".
func parseShards(s string) (map[string]string, error) {
	shards := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		id, url, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(id) == "" {
			return nil, fmt.Errorf("invalid shard %q, want id=url", pair)
		}
		id = strings.TrimSpace(id)
		if _, dup := shards[id]; dup {
			return nil, fmt.Errorf("shard %q listed twice", id)
		}
		shards[id] = strings.TrimSpace(url)
	}
	return shards, nil
}
