// Package memory provides an in-memory partitioned table store.
//
// Tables hold key/value rows. Rows of partitioned tables are assigned to a
// partition by murmur3 hash of the key; replicated tables hold every row on
// every partition.
//
// The store exposes a per-partition RowSource so snapshot streaming can run
// against it: Activate captures a point-in-time, key-ordered cursor per
// predicate and Fill serializes rows into caller buffers.
//
// Thread Safety:
//
// All Store operations are safe for concurrent use. A RowSource is driven
// by a single site and is not safe for concurrent Fill calls on one table.
package memory
