// Package target provides the data targets that snapshot streams write to.
//
// Every target uses the same framing:
//
//	magic "SNAPSTRM"
//	u32 header length, JSON header
//	frames: u32 payload length, i32 table id, payload
//	terminator: a frame header with length 0xFFFFFFFF
//
// A FileTarget appends a SHA-256 trailer over everything before it and
// publishes the file with an atomic rename on Close. A StreamTarget writes
// the same frames to any io.WriteCloser under a bandwidth limit.
//
// Writes are queued to a per-target goroutine and report completion through
// a domain.Future; the payload must stay untouched until the future completes.
package target
