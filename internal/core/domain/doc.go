// Package domain defines the core domain models for snapstream.
//
// Domain models are pure value objects and contracts without any
// IO dependencies or framework coupling. This package contains:
//
//   - TableTask: one (table, predicate, target) streaming obligation
//   - Target / RowSource: contracts of the data targets and the
//     execution engine that feed the streaming engine
//   - Future: completion handle for asynchronous buffer writes
//   - ExportSequenceNumbers: per-partition export progress and its merge
//   - CompletionRecord: the cluster-wide snapshot completion record
//   - Errors: domain-specific error definitions
package domain
