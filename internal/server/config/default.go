package config

import (
	"time"

	"github.com/yndnr/snapstream/internal/snapshot"
	"github.com/yndnr/snapstream/internal/storage/bufpool"
	"github.com/yndnr/snapstream/internal/storage/coord"
	"github.com/yndnr/snapstream/internal/storage/memory"
)

// Default configuration values.
const (
	DefaultOutputDir  = "snapshots"
	DefaultCoordDir   = "coord"
	DefaultGCInterval = 10 * time.Minute

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Node: NodeSection{
			Sites: memory.DefaultPartitions,
		},
		Snapshot: SnapshotSection{
			BufferCount:         bufpool.DefaultCapacity,
			BufferSize:          bufpool.DefaultBufferSize,
			PublishTimeout:      snapshot.DefaultPublishTimeout,
			CompletionRetention: snapshot.DefaultCompletionRetention,
			OutputDir:           DefaultOutputDir,
		},
		Coord: CoordSection{
			DataDir:    DefaultCoordDir,
			Root:       coord.DefaultRoot,
			GCInterval: DefaultGCInterval,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

// DefaultMap returns the defaults keyed by configuration path, for
// confloader.WithDefaults.
func DefaultMap() map[string]any {
	d := Default()
	return map[string]any{
		"node.sites":                    d.Node.Sites,
		"snapshot.buffer_count":         d.Snapshot.BufferCount,
		"snapshot.buffer_size":          d.Snapshot.BufferSize,
		"snapshot.priority":             d.Snapshot.Priority,
		"snapshot.publish_timeout":      d.Snapshot.PublishTimeout.String(),
		"snapshot.completion_retention": d.Snapshot.CompletionRetention,
		"snapshot.output_dir":           d.Snapshot.OutputDir,
		"coord.data_dir":                d.Coord.DataDir,
		"coord.root":                    d.Coord.Root,
		"coord.gc_interval":             d.Coord.GCInterval.String(),
		"log.level":                     d.Log.Level,
		"log.format":                    d.Log.Format,
	}
}
