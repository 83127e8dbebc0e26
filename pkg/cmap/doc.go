// Package cmap provides a concurrent map for snapstream.
//
// The map is keyed by string and split into shards selected with murmur3,
// each guarded by its own RWMutex:
//
//   - Sharding: configurable power-of-two shard count
//   - Optimistic locking: version-based compare-and-swap for Versioned values
//   - Iteration: shard-by-shard Range under read locks
//
// Usage:
//
//	m := cmap.New[*Row]()
//	m.Set("key", row)
//	val, ok := m.Get("key")
package cmap
