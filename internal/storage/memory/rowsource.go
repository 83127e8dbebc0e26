package memory

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/yndnr/snapstream/internal/core/domain"
)

// RowSource streams the rows one partition can see.
type RowSource struct {
	store     *Store
	partition int32

	mu      sync.Mutex
	streams map[int32]*tableStream
}

var _ domain.RowSource = (*RowSource)(nil)

type cursor struct {
	rows         []row
	pos          int
	deleteTuples bool
}

func (c *cursor) exhausted() bool { return c.pos >= len(c.rows) }

type tableStream struct {
	cursors []*cursor
}

// RowSource returns a row source for partition p.
func (s *Store) RowSource(p int32) *RowSource {
	return &RowSource{
		store:     s,
		partition: p,
		streams:   make(map[int32]*tableStream),
	}
}

// Partition returns the partition this source reads.
func (rs *RowSource) Partition() int32 {
	return rs.partition
}

// Activate captures one point-in-time cursor per predicate. A predicate
// expression is a row key prefix; an empty expression selects every row.
// It returns false if the table does not exist or is already streaming.
func (rs *RowSource) Activate(tableID int32, predicates []domain.Predicate) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if _, ok := rs.streams[tableID]; ok || len(predicates) == 0 {
		return false
	}

	ts := &tableStream{cursors: make([]*cursor, len(predicates))}
	for i, pred := range predicates {
		rows, err := rs.store.capture(tableID, rs.partition, string(pred.Expr))
		if err != nil {
			return false
		}
		ts.cursors[i] = &cursor{rows: rows, deleteTuples: pred.DeleteTuples}
	}
	rs.streams[tableID] = ts
	return true
}

// Fill serializes the next rows of each cursor into the matching buffer.
// filled[i] is the number of bytes written to bufs[i]. remaining reports
// whether any cursor has rows left; once it is false the stream is retired.
func (rs *RowSource) Fill(tableID int32, bufs [][]byte) ([]int, bool, error) {
	rs.mu.Lock()
	ts, ok := rs.streams[tableID]
	rs.mu.Unlock()
	if !ok {
		return nil, false, domain.ErrRowSource.WithDetails(fmt.Sprintf("table %d not activated", tableID))
	}
	if len(bufs) != len(ts.cursors) {
		return nil, false, domain.ErrRowSource.WithDetails(
			fmt.Sprintf("table %d: %d buffers for %d tasks", tableID, len(bufs), len(ts.cursors)))
	}

	filled := make([]int, len(bufs))
	remaining := false
	for i, c := range ts.cursors {
		n, err := rs.fillOne(tableID, c, bufs[i])
		if err != nil {
			rs.retire(tableID)
			return nil, false, err
		}
		filled[i] = n
		if !c.exhausted() {
			remaining = true
		}
	}

	if !remaining {
		rs.retire(tableID)
	}
	return filled, remaining, nil
}

func (rs *RowSource) fillOne(tableID int32, c *cursor, buf []byte) (int, error) {
	off := 0
	for !c.exhausted() {
		r := c.rows[c.pos]
		size := EncodedRowSize(r.key, r.value)
		if off+size > len(buf) {
			if off == 0 {
				return 0, domain.ErrRowSource.WithDetails(
					fmt.Sprintf("table %d: row %q (%d bytes) exceeds buffer (%d bytes)", tableID, r.key, size, len(buf)))
			}
			break
		}
		off += encodeRow(buf[off:], r.key, r.value)
		c.pos++

		if c.deleteTuples {
			if err := rs.store.Delete(tableID, r.key); err != nil {
				return 0, domain.ErrRowSource.WithCause(err)
			}
		}
	}
	return off, nil
}

func (rs *RowSource) retire(tableID int32) {
	rs.mu.Lock()
	delete(rs.streams, tableID)
	rs.mu.Unlock()
}

// EncodedRowSize returns the serialized size of a row.
func EncodedRowSize(key string, value []byte) int {
	return uvarintLen(uint64(len(key))) + len(key) + uvarintLen(uint64(len(value))) + len(value)
}

func uvarintLen(x uint64) int {
	n := 1
	for x >= 0x80 {
		x >>= 7
		n++
	}
	return n
}

func encodeRow(dst []byte, key string, value []byte) int {
	n := binary.PutUvarint(dst, uint64(len(key)))
	n += copy(dst[n:], key)
	n += binary.PutUvarint(dst[n:], uint64(len(value)))
	n += copy(dst[n:], value)
	return n
}

// DecodeRows walks the rows serialized in payload.
func DecodeRows(payload []byte, fn func(key string, value []byte) error) (int, error) {
	rows := 0
	for off := 0; off < len(payload); {
		key, n, err := readField(payload[off:])
		if err != nil {
			return rows, fmt.Errorf("memory: row %d key: %w", rows, err)
		}
		off += n
		value, n, err := readField(payload[off:])
		if err != nil {
			return rows, fmt.Errorf("memory: row %d value: %w", rows, err)
		}
		off += n

		if fn != nil {
			if err := fn(string(key), value); err != nil {
				return rows, err
			}
		}
		rows++
	}
	return rows, nil
}

func readField(b []byte) ([]byte, int, error) {
	l, n := binary.Uvarint(b)
	if n <= 0 {
		return nil, 0, fmt.Errorf("bad length prefix")
	}
	if uint64(len(b)-n) < l {
		return nil, 0, fmt.Errorf("field of %d bytes truncated", l)
	}
	end := n + int(l)
	return b[n:end], end, nil
}
