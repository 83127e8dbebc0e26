package snapshot

import (
	"sync"
	"testing"
)

func TestExecutor_RunsInOrder(t *testing.T) {
	e := NewExecutor()
	defer e.Stop()

	var (
		mu  sync.Mutex
		got []int
		wg  sync.WaitGroup
	)
	for i := range 100 {
		wg.Add(1)
		if !e.Offer(func() {
			defer wg.Done()
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}) {
			t.Fatal("Offer rejected a unit before Stop")
		}
	}
	wg.Wait()

	for i, v := range got {
		if v != i {
			t.Fatalf("unit %d ran at position %d", v, i)
		}
	}
}

func TestExecutor_Stop(t *testing.T) {
	e := NewExecutor()
	block := make(chan struct{})
	started := make(chan struct{})
	e.Offer(func() {
		close(started)
		<-block
	})
	<-started

	ran := false
	e.Offer(func() { ran = true })

	stopped := make(chan struct{})
	go func() {
		e.Stop()
		close(stopped)
	}()
	close(block)
	<-stopped

	if ran {
		t.Error("queued unit ran after Stop")
	}
	if e.Offer(func() {}) {
		t.Error("Offer accepted a unit after Stop")
	}
	e.Stop()
}
