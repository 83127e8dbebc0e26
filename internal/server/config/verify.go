package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/yndnr/snapstream/internal/snapshot"
	"github.com/yndnr/snapstream/internal/telemetry/logger"
	"github.com/yndnr/snapstream/pkg/crypto/adaptive"
)

// Verify validates the configuration and reports every problem found.
func Verify(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	return errors.Join(
		verifyNode(&cfg.Node),
		verifySnapshot(&cfg.Snapshot),
		verifyCoord(&cfg.Coord),
		verifyLog(&cfg.Log),
	)
}

func verifyNode(cfg *NodeSection) error {
	var errs []error
	if cfg.Sites < 1 {
		errs = append(errs, fmt.Errorf("node.sites must be at least 1, got %d", cfg.Sites))
	}
	if strings.ContainsAny(cfg.HostID, "/ ") {
		errs = append(errs, fmt.Errorf("node.host_id %q must not contain '/' or spaces", cfg.HostID))
	}
	return errors.Join(errs...)
}

func verifySnapshot(cfg *SnapshotSection) error {
	var errs []error
	if cfg.BufferCount < 1 {
		errs = append(errs, fmt.Errorf("snapshot.buffer_count must be at least 1, got %d", cfg.BufferCount))
	}
	if cfg.BufferSize < 1024 {
		errs = append(errs, fmt.Errorf("snapshot.buffer_size must be at least 1024, got %d", cfg.BufferSize))
	}
	if cfg.Priority < 0 || cfg.Priority > snapshot.MaxPriority {
		errs = append(errs, fmt.Errorf("snapshot.priority must be in [0, %d], got %d", snapshot.MaxPriority, cfg.Priority))
	}
	if cfg.PublishTimeout <= 0 {
		errs = append(errs, errors.New("snapshot.publish_timeout must be positive"))
	}
	if cfg.CompletionRetention < 0 {
		errs = append(errs, errors.New("snapshot.completion_retention must not be negative"))
	}
	if cfg.StreamRateMBps < 0 {
		errs = append(errs, errors.New("snapshot.stream_rate_mbps must not be negative"))
	}
	if cfg.EncryptionKey != "" {
		if _, err := DecodeSecret(cfg.EncryptionKey); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := adaptive.ParseCipherType(cfg.Cipher); err != nil {
		errs = append(errs, fmt.Errorf("snapshot.cipher: %w", err))
	}
	return errors.Join(errs...)
}

func verifyCoord(cfg *CoordSection) error {
	var errs []error
	if !cfg.InMemory && cfg.DataDir == "" {
		errs = append(errs, errors.New("coord.data_dir is required unless coord.in_memory is set"))
	}
	if cfg.Root != "" && !strings.HasPrefix(cfg.Root, "/") {
		errs = append(errs, fmt.Errorf("coord.root %q must be absolute", cfg.Root))
	}
	return errors.Join(errs...)
}

func verifyLog(cfg *LogSection) error {
	var errs []error
	if !logger.ValidLevel(cfg.Level) {
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", cfg.Level))
	}
	switch strings.ToLower(cfg.Format) {
	case "json", "text", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not one of json, text", cfg.Format))
	}
	return errors.Join(errs...)
}

// DecodeSecret decodes a hex encryption key and checks its length.
func DecodeSecret(s string) ([]byte, error) {
	secret, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("snapshot.encryption_key must be hex: %w", err)
	}
	if len(secret) < adaptive.MinSecretLength {
		return nil, fmt.Errorf("snapshot.encryption_key must decode to at least %d bytes, got %d",
			adaptive.MinSecretLength, len(secret))
	}
	return secret, nil
}
