package snapshot

import (
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yndnr/snapstream/internal/telemetry/metric"
)

const (
	priorityStep = 5 * time.Millisecond
	maxJitter    = 15 * time.Millisecond
)

// Scheduler throttles snapshot work so streaming does not starve
// transaction processing.
//
// All sites of a node share one scheduler and therefore one quiet-until
// watermark: each deferred unit pushes the watermark forward by
// 5ms*priority plus up to 15ms of jitter.
type Scheduler struct {
	priority atomic.Int32
	idle     func() bool
	metrics  *metric.Registry

	now    func() time.Time
	after  func(d time.Duration, fn func())
	jitter func() time.Duration

	mu         sync.Mutex
	quietUntil time.Time
}

// NewScheduler creates a scheduler. idle may be nil.
func NewScheduler(priority int, idle func() bool, metrics *metric.Registry) *Scheduler {
	if idle == nil {
		idle = func() bool { return false }
	}
	s := &Scheduler{
		idle:    idle,
		metrics: metrics,
		now:     time.Now,
		after: func(d time.Duration, fn func()) {
			time.AfterFunc(d, fn)
		},
		jitter: func() time.Duration {
			return rand.N(maxJitter + 1)
		},
	}
	s.SetPriority(priority)
	return s
}

// SetPriority changes the throttle priority, clamped to [0, MaxPriority].
func (s *Scheduler) SetPriority(p int) {
	s.priority.Store(int32(min(max(p, 0), MaxPriority)))
}

// Priority returns the throttle priority.
func (s *Scheduler) Priority() int {
	return int(s.priority.Load())
}

// MaybeScheduleMore runs enqueue now when throttling is off or the node is
// idle, and otherwise at the current quiet-until deadline.
func (s *Scheduler) MaybeScheduleMore(enqueue func()) {
	p := s.Priority()
	if p == 0 || s.idle() {
		s.metrics.Scheduled(0)
		enqueue()
		return
	}

	s.mu.Lock()
	now := s.now()
	if s.quietUntil.Before(now) {
		s.quietUntil = now
	}
	deadline := s.quietUntil
	s.quietUntil = s.quietUntil.Add(time.Duration(p)*priorityStep + s.jitter())
	s.mu.Unlock()

	delay := deadline.Sub(now)
	s.metrics.Scheduled(delay)
	if delay <= 0 {
		enqueue()
		return
	}
	s.after(delay, enqueue)
}
