package memory

import (
	"errors"
	"fmt"
	"testing"

	"github.com/yndnr/snapstream/internal/core/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New(2)
	for _, def := range []TableDef{
		{ID: 1, Name: "orders"},
		{ID: 2, Name: "regions", Replicated: true},
	} {
		if err := s.CreateTable(def); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 20; i++ {
		s.Put(1, fmt.Sprintf("o-%02d", i), []byte(fmt.Sprintf("order %d", i)))
	}
	for _, r := range []string{"eu", "us", "apac"} {
		s.Put(2, r, []byte(r))
	}
	return s
}

func TestStore_Tables(t *testing.T) {
	s := newTestStore(t)

	if err := s.CreateTable(TableDef{ID: 1, Name: "dup"}); !errors.Is(err, ErrTableExists) {
		t.Errorf("CreateTable(dup id) = %v, want ErrTableExists", err)
	}
	if err := s.Put(99, "k", nil); !errors.Is(err, ErrTableNotFound) {
		t.Errorf("Put(missing table) = %v, want ErrTableNotFound", err)
	}

	defs := s.Tables()
	if len(defs) != 2 || defs[0].ID != 1 || defs[1].ID != 2 {
		t.Errorf("Tables() = %+v", defs)
	}
	if def, ok := s.TableByName("regions"); !ok || !def.Replicated {
		t.Errorf("TableByName(regions) = %+v, %v", def, ok)
	}
}

func TestStore_PartitionsCoverAllRows(t *testing.T) {
	s := newTestStore(t)

	total := 0
	for p := int32(0); p < int32(s.Partitions()); p++ {
		total += s.CountPartition(1, p)
		if s.CountPartition(2, p) != 3 {
			t.Errorf("replicated table on partition %d has %d rows, want 3", p, s.CountPartition(2, p))
		}
	}
	if total != s.Count(1) {
		t.Errorf("partitions hold %d rows, table has %d", total, s.Count(1))
	}

	s.Delete(1, "o-00")
	if _, ok := s.Get(1, "o-00"); ok {
		t.Error("row still present after Delete")
	}
	if s.Count(1) != 19 {
		t.Errorf("Count = %d, want 19", s.Count(1))
	}
}

func drain(t *testing.T, rs *RowSource, tableID int32, tasks int, bufSize int) [][]string {
	t.Helper()
	keys := make([][]string, tasks)
	for round := 0; ; round++ {
		if round > 1000 {
			t.Fatal("row source never exhausted")
		}
		bufs := make([][]byte, tasks)
		for i := range bufs {
			bufs[i] = make([]byte, bufSize)
		}
		filled, remaining, err := rs.Fill(tableID, bufs)
		if err != nil {
			t.Fatalf("Fill() = %v", err)
		}
		for i, n := range filled {
			DecodeRows(bufs[i][:n], func(k string, _ []byte) error {
				keys[i] = append(keys[i], k)
				return nil
			})
		}
		if !remaining {
			return keys
		}
	}
}

func TestRowSource_PredicatesAndPointInTime(t *testing.T) {
	s := newTestStore(t)
	rs := s.RowSource(0)

	preds := []domain.Predicate{
		{},
		{Expr: []byte("o-1")},
	}
	if !rs.Activate(1, preds) {
		t.Fatal("Activate() = false")
	}
	if rs.Activate(1, preds) {
		t.Error("second Activate of an active table should fail")
	}

	// Writes after activation are not visible to the stream.
	s.Put(1, "o-99", []byte("late"))

	keys := drain(t, rs, 1, 2, 24)

	if len(keys[0]) != s.CountPartition(1, 0)-boolInt(s.PartitionOf("o-99") == 0) {
		t.Errorf("whole-table task streamed %d rows", len(keys[0]))
	}
	for i := 1; i < len(keys[0]); i++ {
		if keys[0][i-1] >= keys[0][i] {
			t.Errorf("rows out of order: %v", keys[0])
			break
		}
	}
	for _, k := range keys[1] {
		if k[:3] != "o-1" {
			t.Errorf("predicate task streamed %q", k)
		}
	}

	// The stream is retired once exhausted.
	if _, _, err := rs.Fill(1, make([][]byte, 2)); !errors.Is(err, domain.ErrRowSource) {
		t.Errorf("Fill after exhaustion = %v, want ErrRowSource", err)
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func TestRowSource_DeleteTuples(t *testing.T) {
	s := newTestStore(t)
	rs := s.RowSource(1)

	before := s.CountPartition(1, 1)
	if !rs.Activate(1, []domain.Predicate{{DeleteTuples: true}}) {
		t.Fatal("Activate() = false")
	}
	keys := drain(t, rs, 1, 1, 1024)

	if len(keys[0]) != before {
		t.Errorf("streamed %d rows, want %d", len(keys[0]), before)
	}
	if s.CountPartition(1, 1) != 0 {
		t.Errorf("partition still holds %d rows", s.CountPartition(1, 1))
	}
}

func TestRowSource_Errors(t *testing.T) {
	s := newTestStore(t)
	rs := s.RowSource(0)

	if rs.Activate(42, []domain.Predicate{{}}) {
		t.Error("Activate(missing table) = true")
	}
	if !rs.Activate(2, []domain.Predicate{{}}) {
		t.Fatal("Activate(regions) = false")
	}
	if _, _, err := rs.Fill(2, make([][]byte, 3)); !errors.Is(err, domain.ErrRowSource) {
		t.Errorf("Fill with wrong buffer count = %v", err)
	}

	if !rs.Activate(1, []domain.Predicate{{}}) {
		t.Fatal("Activate(orders) = false")
	}
	if _, _, err := rs.Fill(1, [][]byte{make([]byte, 2)}); !errors.Is(err, domain.ErrRowSource) {
		t.Errorf("Fill with tiny buffer = %v, want ErrRowSource", err)
	}
}

func TestDecodeRows(t *testing.T) {
	buf := make([]byte, 64)
	n := encodeRow(buf, "key", []byte("value"))
	n += encodeRow(buf[n:], "", nil)
	if n != EncodedRowSize("key", []byte("value"))+EncodedRowSize("", nil) {
		t.Fatalf("encoded %d bytes", n)
	}

	var got []string
	rows, err := DecodeRows(buf[:n], func(k string, v []byte) error {
		got = append(got, k+"="+string(v))
		return nil
	})
	if err != nil || rows != 2 || got[0] != "key=value" || got[1] != "=" {
		t.Errorf("DecodeRows = (%d, %v, %v)", rows, got, err)
	}

	if _, err := DecodeRows(buf[:3], nil); err == nil {
		t.Error("DecodeRows(truncated) = nil error")
	}
}
