// Package command provides the snapstream CLI commands.
//
// This package defines all CLI commands using urfave/cli/v2:
//
//   - root.go: Root command, global flags, config and logger setup
//   - save.go: Snapshot a dataset into file targets and publish completion
//   - saver.go: The in-process node that save drives
//   - completions.go: Inspect and trim completion records and node markers
//   - verify.go: Verify snapshot files
//   - config.go: Show and validate the effective configuration
//   - version.go: Build information
//
// Commands follow a consistent pattern of loading configuration, doing the
// work and formatting the result with internal/cli/output.
package command
