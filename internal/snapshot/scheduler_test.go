package snapshot

import (
	"sync"
	"testing"
	"time"
)

// fakeClock drives a Scheduler deterministically.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	delays []time.Duration
}

func newTestScheduler(priority int, idle func() bool, jitter time.Duration) (*Scheduler, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	s := NewScheduler(priority, idle, nil)
	s.now = func() time.Time {
		clock.mu.Lock()
		defer clock.mu.Unlock()
		return clock.now
	}
	s.after = func(d time.Duration, fn func()) {
		clock.mu.Lock()
		clock.delays = append(clock.delays, d)
		clock.mu.Unlock()
		fn()
	}
	s.jitter = func() time.Duration { return jitter }
	return s, clock
}

func TestScheduler_Immediate(t *testing.T) {
	tests := []struct {
		name     string
		priority int
		idle     bool
	}{
		{"priority zero", 0, false},
		{"idle node", 5, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, clock := newTestScheduler(tt.priority, func() bool { return tt.idle }, 0)
			runs := 0
			for range 5 {
				s.MaybeScheduleMore(func() { runs++ })
			}
			if runs != 5 {
				t.Errorf("runs = %d, want 5", runs)
			}
			if len(clock.delays) != 0 {
				t.Errorf("deferred %d units, want none", len(clock.delays))
			}
		})
	}
}

func TestScheduler_ThrottleSpacing(t *testing.T) {
	for _, jitter := range []time.Duration{0, 7 * time.Millisecond, maxJitter} {
		s, clock := newTestScheduler(3, nil, jitter)
		runs := 0
		for range 4 {
			s.MaybeScheduleMore(func() { runs++ })
		}
		if runs != 4 {
			t.Fatalf("runs = %d, want 4", runs)
		}

		// The first unit runs now; the rest are deferred along the watermark.
		step := 15*time.Millisecond + jitter
		want := []time.Duration{step, 2 * step, 3 * step}
		if len(clock.delays) != len(want) {
			t.Fatalf("delays = %v, want %v", clock.delays, want)
		}
		for i := range want {
			if clock.delays[i] != want[i] {
				t.Errorf("jitter %v: delay[%d] = %v, want %v", jitter, i, clock.delays[i], want[i])
			}
			if i > 0 && clock.delays[i]-clock.delays[i-1] < 15*time.Millisecond {
				t.Errorf("units %d and %d less than 15ms apart", i-1, i)
			}
		}
	}
}

func TestScheduler_WatermarkCatchesUp(t *testing.T) {
	s, clock := newTestScheduler(2, nil, 0)
	s.MaybeScheduleMore(func() {})
	s.MaybeScheduleMore(func() {})

	clock.mu.Lock()
	clock.now = clock.now.Add(time.Second)
	clock.mu.Unlock()

	s.MaybeScheduleMore(func() {})
	if len(clock.delays) != 1 {
		t.Errorf("delays = %v, want only the second unit deferred", clock.delays)
	}
}

func TestScheduler_PriorityClamped(t *testing.T) {
	s := NewScheduler(0, nil, nil)
	tests := []struct{ in, want int }{
		{-4, 0},
		{3, 3},
		{MaxPriority + 5, MaxPriority},
	}
	for _, tt := range tests {
		s.SetPriority(tt.in)
		if got := s.Priority(); got != tt.want {
			t.Errorf("SetPriority(%d): Priority() = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestScheduler_RealJitterBounded(t *testing.T) {
	s := NewScheduler(1, nil, nil)
	for range 100 {
		if j := s.jitter(); j < 0 || j > maxJitter {
			t.Fatalf("jitter %v out of [0, %v]", j, maxJitter)
		}
	}
}
