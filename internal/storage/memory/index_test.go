package memory

import (
	"fmt"
	"testing"
)

func TestKeySet(t *testing.T) {
	set := NewKeySet()
	set.Add("b")
	set.Add("a")
	set.Add("b")

	if set.Len() != 2 {
		t.Fatalf("Len = %d, want 2", set.Len())
	}
	if !set.Contains("a") || set.Contains("z") {
		t.Fatal("Contains returned wrong result")
	}
	if got := fmt.Sprint(set.Sorted()); got != "[a b]" {
		t.Errorf("Sorted() = %s, want [a b]", got)
	}

	set.Remove("a")
	if set.Contains("a") || set.Len() != 1 {
		t.Fatal("Remove did not drop key")
	}
}

func TestPartitionIndex(t *testing.T) {
	idx := NewPartitionIndex(2)
	idx.Add(0, "k2")
	idx.Add(0, "k1")
	idx.Add(1, "k3")

	if got := fmt.Sprint(idx.Keys(0)); got != "[k1 k2]" {
		t.Errorf("Keys(0) = %s", got)
	}
	if idx.Count(1) != 1 {
		t.Errorf("Count(1) = %d, want 1", idx.Count(1))
	}
	idx.Remove(1, "k3")
	if idx.Count(1) != 0 {
		t.Errorf("Count(1) after remove = %d", idx.Count(1))
	}
}
