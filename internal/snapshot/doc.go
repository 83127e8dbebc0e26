// Package snapshot streams table snapshots from a node's sites to data targets
// and publishes each node's outcome to the coordination store.
//
// A Node owns the state shared by all sites of a process: the buffer pool, the
// set of sites still streaming the current snapshot, the deferred completion
// queue and the throttle scheduler. Each Site drives its own table task
// registry from a single executor goroutine through DoSnapshotWork. The last
// site to drain closes the remaining targets and publishes the node's result
// into the snapshot's completion record with optimistic concurrency.
//
// Lifecycle of one snapshot on a node:
//
//	STREAMING -> LOCAL_DRAIN -> DONE                               (not last)
//	STREAMING -> LOCAL_DRAIN -> CLOSING_TARGETS -> PUBLISHING -> DONE (last)
//
// Every site registered with a node takes part in every snapshot, even with no
// tasks, so that the node knows which site finishes last.
package snapshot
