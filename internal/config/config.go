package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all lattice configuration. Engine tunables can additionally be
// overridden at runtime through the engine_config table; see Service.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Engine   EngineConfig   `toml:"engine"`
	Index    IndexConfig    `toml:"index"`
}

type ServerConfig struct {
	Bind string `toml:"bind"`
	Port int    `toml:"port"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

// EngineConfig holds the confidence, inference, and scheduler tunables.
type EngineConfig struct {
	// MaxAgeDays controls the exponential recency decay of attribute
	// confidence: exp(-age_days / max_age_days).
	MaxAgeDays float64 `toml:"max_age_days"`

	// MinInferenceConfidence is the floor below which inference does not
	// materialize an edge.
	MinInferenceConfidence float64 `toml:"min_inference_confidence"`

	// StaleBatchSize bounds one confidence refresh batch.
	StaleBatchSize int `toml:"stale_batch_size"`

	// StaleMaxAgeHours marks a materialized score stale once this old.
	StaleMaxAgeHours int `toml:"stale_max_age_hours"`

	// CascadeFanout caps cascaded queue entries per triggering change.
	CascadeFanout int `toml:"cascade_fanout"`

	// CascadePriorityDrop is subtracted from the trigger priority for
	// cascaded entries, keeping them strictly lower.
	CascadePriorityDrop int `toml:"cascade_priority_drop"`

	// WritePriority is the queue priority for a directly changed node.
	WritePriority int `toml:"write_priority"`

	// MaxRetries bounds re-inference attempts per queue entry.
	MaxRetries int `toml:"max_retries"`

	// CandidateLimit bounds the candidate set one inference pass may touch.
	CandidateLimit int `toml:"candidate_limit"`

	// CleanupThreshold and CleanupRetentionHours control removal of
	// auto-inferred edges whose confidence stayed low past retention.
	CleanupThreshold      float64 `toml:"cleanup_threshold"`
	CleanupRetentionHours int     `toml:"cleanup_retention_hours"`

	// MaintenanceIntervalMinutes drives the background scheduler ticker in
	// serve mode.
	MaintenanceIntervalMinutes int `toml:"maintenance_interval_minutes"`

	// IndexCheckEvery runs the partition-count check every Nth
	// maintenance run rather than every invocation.
	IndexCheckEvery int `toml:"index_check_every"`
}

// IndexConfig holds the vector similarity index tunables.
type IndexConfig struct {
	// Dimensions is the fixed embedding dimension accepted by the index.
	Dimensions int `toml:"dimensions"`

	// MinPartitions and MaxPartitions clamp the recommended partition count.
	MinPartitions int `toml:"min_partitions"`
	MaxPartitions int `toml:"max_partitions"`

	// ProbeFraction is the fraction of partitions probed per query.
	ProbeFraction float64 `toml:"probe_fraction"`

	// DriftThreshold marks the index drifted; RebuildThreshold triggers the
	// actual rebuild. Both are relative deltas against the current count.
	DriftThreshold   float64 `toml:"drift_threshold"`
	RebuildThreshold float64 `toml:"rebuild_threshold"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 37888,
		},
		Database: DatabaseConfig{
			Path: "", // resolved at runtime via store.DefaultDBPath()
		},
		Engine: EngineConfig{
			MaxAgeDays:                 365,
			MinInferenceConfidence:     0.2,
			StaleBatchSize:             100,
			StaleMaxAgeHours:           24,
			CascadeFanout:              20,
			CascadePriorityDrop:        2,
			WritePriority:              5,
			MaxRetries:                 3,
			CandidateLimit:             500,
			CleanupThreshold:           0.1,
			CleanupRetentionHours:      7 * 24,
			MaintenanceIntervalMinutes: 15,
			IndexCheckEvery:            4,
		},
		Index: IndexConfig{
			Dimensions:       768,
			MinPartitions:    10,
			MaxPartitions:    10000,
			ProbeFraction:    0.1,
			DriftThreshold:   0.2,
			RebuildThreshold: 0.5,
		},
	}
}

// Validate checks all tunables against their allowed ranges.
func (c *Config) Validate() error {
	if c.Engine.MaxAgeDays <= 0 {
		return fmt.Errorf("engine.max_age_days must be positive, got %f", c.Engine.MaxAgeDays)
	}
	if c.Engine.MinInferenceConfidence < 0 || c.Engine.MinInferenceConfidence > 1 {
		return fmt.Errorf("engine.min_inference_confidence must be in [0,1], got %f", c.Engine.MinInferenceConfidence)
	}
	if c.Engine.StaleBatchSize <= 0 {
		return fmt.Errorf("engine.stale_batch_size must be positive, got %d", c.Engine.StaleBatchSize)
	}
	if c.Engine.StaleMaxAgeHours <= 0 {
		return fmt.Errorf("engine.stale_max_age_hours must be positive, got %d", c.Engine.StaleMaxAgeHours)
	}
	if c.Engine.CascadeFanout < 0 {
		return fmt.Errorf("engine.cascade_fanout must be non-negative, got %d", c.Engine.CascadeFanout)
	}
	if c.Engine.CascadePriorityDrop < 1 {
		return fmt.Errorf("engine.cascade_priority_drop must be at least 1, got %d", c.Engine.CascadePriorityDrop)
	}
	if c.Engine.WritePriority < 1 || c.Engine.WritePriority > 10 {
		return fmt.Errorf("engine.write_priority must be in [1,10], got %d", c.Engine.WritePriority)
	}
	if c.Engine.MaxRetries < 0 {
		return fmt.Errorf("engine.max_retries must be non-negative, got %d", c.Engine.MaxRetries)
	}
	if c.Engine.CandidateLimit <= 0 {
		return fmt.Errorf("engine.candidate_limit must be positive, got %d", c.Engine.CandidateLimit)
	}
	if c.Engine.CleanupThreshold < 0 || c.Engine.CleanupThreshold > 1 {
		return fmt.Errorf("engine.cleanup_threshold must be in [0,1], got %f", c.Engine.CleanupThreshold)
	}
	if c.Engine.IndexCheckEvery < 1 {
		return fmt.Errorf("engine.index_check_every must be at least 1, got %d", c.Engine.IndexCheckEvery)
	}
	if c.Index.Dimensions <= 0 {
		return fmt.Errorf("index.dimensions must be positive, got %d", c.Index.Dimensions)
	}
	if c.Index.MinPartitions < 1 || c.Index.MaxPartitions < c.Index.MinPartitions {
		return fmt.Errorf("index partition bounds invalid: [%d,%d]", c.Index.MinPartitions, c.Index.MaxPartitions)
	}
	if c.Index.ProbeFraction <= 0 || c.Index.ProbeFraction > 1 {
		return fmt.Errorf("index.probe_fraction must be in (0,1], got %f", c.Index.ProbeFraction)
	}
	if c.Index.DriftThreshold <= 0 || c.Index.RebuildThreshold < c.Index.DriftThreshold {
		return fmt.Errorf("index hysteresis thresholds invalid: drift=%f rebuild=%f",
			c.Index.DriftThreshold, c.Index.RebuildThreshold)
	}
	return nil
}

// ApplyOverrides sets tunables from persisted key/value pairs. Unknown keys
// are rejected so typos surface instead of silently doing nothing.
func (c *Config) ApplyOverrides(overrides map[string]string) error {
	for key, value := range overrides {
		if err := c.applyOverride(key, value); err != nil {
			return err
		}
	}
	return c.Validate()
}

func (c *Config) applyOverride(key, value string) error {
	switch key {
	case "max_age_days":
		return parseFloat(value, key, &c.Engine.MaxAgeDays)
	case "min_inference_confidence":
		return parseFloat(value, key, &c.Engine.MinInferenceConfidence)
	case "stale_batch_size":
		return parseInt(value, key, &c.Engine.StaleBatchSize)
	case "stale_max_age_hours":
		return parseInt(value, key, &c.Engine.StaleMaxAgeHours)
	case "cascade_fanout":
		return parseInt(value, key, &c.Engine.CascadeFanout)
	case "cascade_priority_drop":
		return parseInt(value, key, &c.Engine.CascadePriorityDrop)
	case "write_priority":
		return parseInt(value, key, &c.Engine.WritePriority)
	case "max_retries":
		return parseInt(value, key, &c.Engine.MaxRetries)
	case "candidate_limit":
		return parseInt(value, key, &c.Engine.CandidateLimit)
	case "cleanup_threshold":
		return parseFloat(value, key, &c.Engine.CleanupThreshold)
	case "cleanup_retention_hours":
		return parseInt(value, key, &c.Engine.CleanupRetentionHours)
	case "maintenance_interval_minutes":
		return parseInt(value, key, &c.Engine.MaintenanceIntervalMinutes)
	case "index_check_every":
		return parseInt(value, key, &c.Engine.IndexCheckEvery)
	case "dimensions":
		return parseInt(value, key, &c.Index.Dimensions)
	case "min_partitions":
		return parseInt(value, key, &c.Index.MinPartitions)
	case "max_partitions":
		return parseInt(value, key, &c.Index.MaxPartitions)
	case "probe_fraction":
		return parseFloat(value, key, &c.Index.ProbeFraction)
	case "drift_threshold":
		return parseFloat(value, key, &c.Index.DriftThreshold)
	case "rebuild_threshold":
		return parseFloat(value, key, &c.Index.RebuildThreshold)
	default:
		return fmt.Errorf("unknown config key %q", key)
	}
}

// ApplyEnv reads LATTICE_BIND / LATTICE_PORT / LATTICE_DB overrides.
func (c *Config) ApplyEnv() {
	if bind := os.Getenv("LATTICE_BIND"); bind != "" {
		c.Server.Bind = bind
	}
	if port := os.Getenv("LATTICE_PORT"); port != "" {
		if n, err := strconv.Atoi(port); err == nil && n > 0 {
			c.Server.Port = n
		}
	}
	if path := os.Getenv("LATTICE_DB"); path != "" {
		c.Database.Path = path
	}
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}

func parseFloat(value, key string, dst *float64) error {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("config key %q: %w", key, err)
	}
	*dst = f
	return nil
}

func parseInt(value, key string, dst *int) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("config key %q: %w", key, err)
	}
	*dst = n
	return nil
}
