// Package main provides the entry point for snapstream.
//
// snapstream streams consistent snapshots of an in-memory table store to
// snapshot files and publishes their completion to a coordination store:
//
//   - Save a dataset with throttled, multi-site streaming
//   - List, show and prune completion records
//   - List nodes currently snapshotting
//   - Verify snapshot files, including sealed ones
//
// Usage:
//
//	snapstream save --dataset data.yaml --out ./snapshots --sites 4
//	snapstream completions list -o json
//	snapstream verify ./snapshots/*.snap
package main
