package domain

import "fmt"

// FormatKind identifies how a data target persists snapshot frames.
type FormatKind uint8

const (
	// FormatFile persists frames to a local file.
	FormatFile FormatKind = iota + 1

	// FormatStream sends frames over a network stream to a joining replica.
	FormatStream
)

// String returns the lowercase name of the kind.
func (k FormatKind) String() string {
	switch k {
	case FormatFile:
		return "file"
	case FormatStream:
		return "stream"
	default:
		return fmt.Sprintf("format(%d)", uint8(k))
	}
}

// Format describes a data target.
type Format struct {
	Kind FormatKind

	// EarlyCloseAllowed reports whether the target may be closed as soon as
	// its table is exhausted, before the rest of the snapshot completes.
	EarlyCloseAllowed bool
}

// Target is the destination of one or more table tasks.
//
// Write hands a serialized frame of tableID to the target. The payload slice
// stays valid until the returned future completes; the target must not retain
// it afterwards. Close is called at most once per node.
type Target interface {
	ID() string
	Write(tableID int32, payload []byte) *Future
	Close() error
	NeedsFinalClose() bool
	Format() Format
}

// TableTask is one (table, predicate, target) streaming obligation.
//
// A task is created when a snapshot is initiated and is immutable afterwards.
// Target may be nil when the target is opened lazily; it is then bound by
// TargetID when the site receives its targets.
type TableTask struct {
	TableID   int32
	TableName string

	// Predicate selects the rows to stream. Empty means the whole table.
	Predicate []byte

	// DeleteTuples deletes matched rows from the live table as they are streamed.
	DeleteTuples bool

	// Replicated is set for tables stored identically at every site.
	Replicated bool

	TargetID string
	Target   Target
}

// Predicate is the row selection handed to the row source on activation.
type Predicate struct {
	Expr         []byte
	DeleteTuples bool
}

// RowSource is the execution-engine side of table streaming for one partition.
type RowSource interface {
	// Activate prepares a point-in-time stream of the table with one cursor
	// per predicate. It returns false if the table cannot be streamed.
	Activate(tableID int32, predicates []Predicate) bool

	// Fill serializes the next rows of each cursor into the buffer at the same
	// index and returns the number of bytes written to each. remaining reports
	// whether any cursor still has rows to deliver.
	Fill(tableID int32, bufs [][]byte) (filled []int, remaining bool, err error)
}
