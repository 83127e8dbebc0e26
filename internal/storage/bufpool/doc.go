// Package bufpool implements the bounded buffer pool shared by every site of
// a node during snapshot streaming.
//
// A pool hands out fixed-size buffers in all-or-nothing batches: a table with
// N tasks either gets N buffers or none. Buffers are allocated lazily up to
// the pool capacity and recycled through a free list. Every acquired buffer
// must be released exactly once; releasing a buffer twice, or releasing a
// buffer from another pool, panics.
package bufpool
