// Package output renders CLI results.
//
//   - formatter.go: Formatter interface and factory
//   - table.go: Aligned tables built from structs, slices and maps
//   - json.go: Indented JSON
//   - yaml.go: YAML via gopkg.in/yaml.v3
//   - spinner.go: Status line for long-running commands
//
// Table output is for people; json and yaml are stable and meant for
// scripts. Struct fields tagged `table:"-"` are omitted from tables and
// fields tagged `table:"wide"` only appear in wide mode.
package output
