package config

import "time"

// Config is the root configuration of snapstream.
type Config struct {
	Node     NodeSection     `koanf:"node" json:"node" yaml:"node"`
	Snapshot SnapshotSection `koanf:"snapshot" json:"snapshot" yaml:"snapshot"`
	Coord    CoordSection    `koanf:"coord" json:"coord" yaml:"coord"`
	Metrics  MetricsSection  `koanf:"metrics" json:"metrics" yaml:"metrics"`
	Log      LogSection      `koanf:"log" json:"log" yaml:"log"`
}

// NodeSection describes the local node.
type NodeSection struct {
	// HostID identifies the node in the coordination store.
	// If empty, one is generated at startup.
	HostID string `koanf:"host_id" json:"host_id" yaml:"host_id"`

	// Sites is the number of sites on this node. Each site owns one
	// partition of the row store.
	Sites int `koanf:"sites" json:"sites" yaml:"sites"`
}

// SnapshotSection configures snapshot streaming.
type SnapshotSection struct {
	BufferCount int `koanf:"buffer_count" json:"buffer_count" yaml:"buffer_count"`
	BufferSize  int `koanf:"buffer_size" json:"buffer_size" yaml:"buffer_size"`

	// Priority throttles streaming, 0 (off) to 10. Hot-reloadable.
	Priority int `koanf:"priority" json:"priority" yaml:"priority"`

	PublishTimeout      time.Duration `koanf:"publish_timeout" json:"publish_timeout" yaml:"publish_timeout"`
	CompletionRetention int           `koanf:"completion_retention" json:"completion_retention" yaml:"completion_retention"`

	// OutputDir receives snapshot files.
	OutputDir string `koanf:"output_dir" json:"output_dir" yaml:"output_dir"`

	// EncryptionKey is a hex secret; when set, file frames are sealed.
	EncryptionKey string `koanf:"encryption_key" json:"encryption_key" yaml:"encryption_key"`

	// Cipher selects the sealing algorithm. Empty selects by hardware.
	Cipher string `koanf:"cipher" json:"cipher" yaml:"cipher"`

	// StreamRateMBps limits stream targets. 0 means unlimited.
	StreamRateMBps int `koanf:"stream_rate_mbps" json:"stream_rate_mbps" yaml:"stream_rate_mbps"`
}

// CoordSection configures the coordination store.
type CoordSection struct {
	DataDir    string        `koanf:"data_dir" json:"data_dir" yaml:"data_dir"`
	Root       string        `koanf:"root" json:"root" yaml:"root"`
	InMemory   bool          `koanf:"in_memory" json:"in_memory" yaml:"in_memory"`
	GCInterval time.Duration `koanf:"gc_interval" json:"gc_interval" yaml:"gc_interval"`
}

// MetricsSection configures the Prometheus endpoint.
type MetricsSection struct {
	// Addr serves /metrics, /status and the health probes when non-empty.
	Addr string `koanf:"addr" json:"addr" yaml:"addr"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level" json:"level" yaml:"level"`
	Format string `koanf:"format" json:"format" yaml:"format"`
}
