package snapshot

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/yndnr/snapstream/internal/storage/bufpool"
	"github.com/yndnr/snapstream/internal/storage/coord"
	"github.com/yndnr/snapstream/internal/telemetry/metric"
)

// Default configuration values.
const (
	DefaultPublishTimeout       = 10 * time.Minute
	DefaultCompletionRetention  = 30
	DefaultPublishRetryInterval = 100 * time.Millisecond
	DefaultPublishMaxInterval   = 5 * time.Second

	// MaxPriority bounds the throttle priority.
	MaxPriority = 10
)

// FatalHandler is called when the node can no longer guarantee the
// consistency of snapshot metadata. The default handler logs and panics.
type FatalHandler func(err error)

// Config configures a Node.
type Config struct {
	// HostID identifies this node in the coordination store.
	HostID string

	// BufferCount is the number of snapshot buffers shared by all sites.
	BufferCount int

	// BufferSize is the size of each buffer in bytes.
	BufferSize int

	// Priority throttles streaming. 0 disables throttling; each step adds
	// 5ms between units of work when the node is busy.
	Priority int

	// PublishTimeout is the absolute deadline for publishing the completion record.
	PublishTimeout time.Duration

	// PublishRetryInterval and PublishMaxInterval bound the publish backoff.
	PublishRetryInterval time.Duration
	PublishMaxInterval   time.Duration

	// CompletionRetention is the number of completion records kept after a
	// successful publish. Zero or less disables trimming.
	CompletionRetention int

	// Root is the coordination key-space root.
	Root string

	// Store is the coordination store. Required.
	Store coord.Store

	// Idle reports whether the node has no transactional work, in which case
	// throttling is skipped. Nil means never idle.
	Idle func() bool

	// Fatal handles unrecoverable faults.
	Fatal FatalHandler

	// Metrics is optional.
	Metrics *metric.Registry

	// Logger for logging.
	Logger *slog.Logger
}

// DefaultConfig returns the default node configuration.
func DefaultConfig(hostID string, store coord.Store) Config {
	return Config{
		HostID:               hostID,
		BufferCount:          bufpool.DefaultCapacity,
		BufferSize:           bufpool.DefaultBufferSize,
		PublishTimeout:       DefaultPublishTimeout,
		PublishRetryInterval: DefaultPublishRetryInterval,
		PublishMaxInterval:   DefaultPublishMaxInterval,
		CompletionRetention:  DefaultCompletionRetention,
		Root:                 coord.DefaultRoot,
		Store:                store,
		Logger:               slog.Default(),
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.HostID == "" {
		return fmt.Errorf("snapshot: host_id is required")
	}
	if c.Store == nil {
		return fmt.Errorf("snapshot: coordination store is required")
	}
	if c.BufferCount < 0 {
		return fmt.Errorf("snapshot: buffer_count must not be negative, got %d", c.BufferCount)
	}
	if c.BufferSize < 0 {
		return fmt.Errorf("snapshot: buffer_size must not be negative, got %d", c.BufferSize)
	}
	if c.Priority < 0 || c.Priority > MaxPriority {
		return fmt.Errorf("snapshot: priority must be in [0, %d], got %d", MaxPriority, c.Priority)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.BufferCount == 0 {
		c.BufferCount = bufpool.DefaultCapacity
	}
	if c.BufferSize == 0 {
		c.BufferSize = bufpool.DefaultBufferSize
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = DefaultPublishTimeout
	}
	if c.PublishRetryInterval <= 0 {
		c.PublishRetryInterval = DefaultPublishRetryInterval
	}
	if c.PublishMaxInterval < c.PublishRetryInterval {
		c.PublishMaxInterval = max(DefaultPublishMaxInterval, c.PublishRetryInterval)
	}
	if c.Root == "" {
		c.Root = coord.DefaultRoot
	}
	if c.Idle == nil {
		c.Idle = func() bool { return false }
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Fatal == nil {
		logger := c.Logger
		c.Fatal = func(err error) {
			logger.Error("snapshot metadata can no longer be guaranteed, stopping node", "error", err)
			panic(err)
		}
	}
}
