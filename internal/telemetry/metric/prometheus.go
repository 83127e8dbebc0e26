package metric

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "snapstream"

// Registry holds all engine metrics.
type Registry struct {
	reg *prometheus.Registry

	TablesDrained  prometheus.Counter
	BytesStreamed  prometheus.Counter
	WriteFailures  prometheus.Counter
	TargetsClosed  *prometheus.CounterVec
	PublishAttempt *prometheus.CounterVec
	Completions    *prometheus.CounterVec
	ScheduleDelay  prometheus.Histogram
	ActiveSites    prometheus.Gauge

	streamed atomic.Int64
}

// NewRegistry creates a registry with the engine metrics and the Go runtime
// collectors registered.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		TablesDrained: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "tables_drained_total",
			Help:      "Tables whose row stream was exhausted on a site",
		}),
		BytesStreamed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "bytes_total",
			Help:      "Row payload bytes handed to data targets",
		}),
		WriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "write_failures_total",
			Help:      "Buffer writes that failed on a data target",
		}),
		TargetsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "target",
			Name:      "closed_total",
			Help:      "Data targets closed, by phase (early, final) and result",
		}, []string{"phase", "result"}),
		PublishAttempt: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "completion",
			Name:      "publish_attempts_total",
			Help:      "Completion record publish attempts, by outcome",
		}, []string{"outcome"}),
		Completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "completion",
			Name:      "published_total",
			Help:      "Node completions published, by snapshot result",
		}, []string{"result"}),
		ScheduleDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "delay_seconds",
			Help:      "Throttle delay applied before a unit of snapshot work",
			Buckets:   []float64{0, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		ActiveSites: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "active_sites",
			Help:      "Sites that have not yet drained their snapshot tables",
		}),
	}

	r.reg.MustRegister(
		r.TablesDrained,
		r.BytesStreamed,
		r.WriteFailures,
		r.TargetsClosed,
		r.PublishAttempt,
		r.Completions,
		r.ScheduleDelay,
		r.ActiveSites,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Register adds extra collectors, such as a PoolCollector.
func (r *Registry) Register(cs ...prometheus.Collector) error {
	if r == nil {
		return nil
	}
	for _, c := range cs {
		if err := r.reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Gatherer exposes the underlying registry for scraping and tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// TableDrained records an exhausted table stream.
func (r *Registry) TableDrained() {
	if r != nil {
		r.TablesDrained.Inc()
	}
}

// Streamed records payload bytes handed to targets.
func (r *Registry) Streamed(n int) {
	if r != nil {
		r.BytesStreamed.Add(float64(n))
		r.streamed.Add(int64(n))
	}
}

// StreamedBytes returns the payload bytes recorded so far.
func (r *Registry) StreamedBytes() int64 {
	if r == nil {
		return 0
	}
	return r.streamed.Load()
}

// WriteFailed records a failed target write.
func (r *Registry) WriteFailed() {
	if r != nil {
		r.WriteFailures.Inc()
	}
}

// TargetClosed records a target close in phase "early" or "final".
func (r *Registry) TargetClosed(phase string, err error) {
	if r != nil {
		r.TargetsClosed.WithLabelValues(phase, result(err)).Inc()
	}
}

// PublishAttempted records one read-merge-write attempt.
func (r *Registry) PublishAttempted(outcome string) {
	if r != nil {
		r.PublishAttempt.WithLabelValues(outcome).Inc()
	}
}

// Completed records a published node completion.
func (r *Registry) Completed(succeeded bool) {
	if r == nil {
		return
	}
	if succeeded {
		r.Completions.WithLabelValues("success").Inc()
	} else {
		r.Completions.WithLabelValues("failure").Inc()
	}
}

// Scheduled records the throttle delay of one unit of work.
func (r *Registry) Scheduled(delay time.Duration) {
	if r != nil {
		r.ScheduleDelay.Observe(delay.Seconds())
	}
}

// SetActiveSites records the size of the active site set.
func (r *Registry) SetActiveSites(n int) {
	if r != nil {
		r.ActiveSites.Set(float64(n))
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
