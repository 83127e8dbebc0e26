package config

import "github.com/yndnr/snapstream/internal/telemetry/logger"

// Sanitize returns a copy of the config with sensitive fields masked.
//
// This is used for logging configuration without exposing secrets.
func Sanitize(cfg *Config) *Config {
	sanitized := *cfg
	if sanitized.Snapshot.EncryptionKey != "" {
		sanitized.Snapshot.EncryptionKey = logger.MaskSecret(sanitized.Snapshot.EncryptionKey)
	}
	return &sanitized
}
