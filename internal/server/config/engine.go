package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/yndnr/snapstream/internal/snapshot"
	"github.com/yndnr/snapstream/internal/storage/coord"
	"github.com/yndnr/snapstream/internal/telemetry/metric"
)

// ToEngineConfig converts Config to snapshot.Config.
//
// A host id is generated when none is configured.
func ToEngineConfig(cfg *Config, store coord.Store, metrics *metric.Registry, logger *slog.Logger) (snapshot.Config, error) {
	if cfg == nil {
		return snapshot.Config{}, fmt.Errorf("config is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	hostID := cfg.Node.HostID
	if hostID == "" {
		hostID = GenerateHostID()
		logger.Info("generated host id", "host_id", hostID)
	}

	out := snapshot.DefaultConfig(hostID, store)
	if cfg.Snapshot.BufferCount > 0 {
		out.BufferCount = cfg.Snapshot.BufferCount
	}
	if cfg.Snapshot.BufferSize > 0 {
		out.BufferSize = cfg.Snapshot.BufferSize
	}
	if cfg.Snapshot.PublishTimeout > 0 {
		out.PublishTimeout = cfg.Snapshot.PublishTimeout
	}
	if cfg.Coord.Root != "" {
		out.Root = cfg.Coord.Root
	}
	out.Priority = cfg.Snapshot.Priority
	out.CompletionRetention = cfg.Snapshot.CompletionRetention
	out.Metrics = metrics
	out.Logger = logger

	if err := out.Validate(); err != nil {
		return snapshot.Config{}, err
	}
	return out, nil
}

// ToBadgerConfig converts the coordination section to a Badger configuration.
func ToBadgerConfig(cfg *Config) coord.BadgerConfig {
	out := coord.DefaultBadgerConfig(cfg.Coord.DataDir)
	out.InMemory = cfg.Coord.InMemory
	if cfg.Coord.GCInterval > 0 {
		out.GCInterval = cfg.Coord.GCInterval
	}
	return out
}

// StreamRateBytesPerSec returns the stream target rate limit.
func StreamRateBytesPerSec(cfg *Config) int64 {
	return int64(cfg.Snapshot.StreamRateMBps) << 20
}

// GenerateHostID returns a new unique host id, e.g. "node-01hq3...".
func GenerateHostID() string {
	return "node-" + strings.ToLower(ulid.Make().String())
}
