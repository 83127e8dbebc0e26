// Package config defines the snapstream configuration.
//
//   - spec.go: Config struct definition
//   - default.go: Default values, also exposed as a flat map for the loader
//   - verify.go: Validation
//   - sanitize.go: Log sanitization (hide sensitive values)
//   - engine.go: Conversion to the snapshot engine and coordination store
//
// Configuration is loaded via internal/infra/confloader from defaults, a
// YAML file, SNAPSTREAM_* environment variables and flags.
package config
