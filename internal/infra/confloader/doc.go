// Package confloader loads snapstream configuration with koanf.
//
// Sources, lowest priority first:
//
//  1. Default values (WithDefaults)
//  2. Configuration file (YAML)
//  3. Environment variables (SNAPSTREAM_<SECTION>_<KEY>)
//  4. Command-line flags (LoadMap)
//
// Watcher reports changes to configuration files so long-running commands
// can hot-reload the settings that support it.
package confloader
