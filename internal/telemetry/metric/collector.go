package metric

import "github.com/prometheus/client_golang/prometheus"

// PoolStats is the read side of the buffer pool.
type PoolStats interface {
	Capacity() int
	Outstanding() int
	Allocated() int
	AcquireFailures() uint64
}

// PoolCollector samples a buffer pool on every scrape.
type PoolCollector struct {
	pool PoolStats

	capacity    *prometheus.Desc
	inUse       *prometheus.Desc
	allocated   *prometheus.Desc
	acquireFail *prometheus.Desc
}

// NewPoolCollector creates a collector for pool.
func NewPoolCollector(pool PoolStats) *PoolCollector {
	fq := func(name string) string {
		return prometheus.BuildFQName(namespace, "bufpool", name)
	}
	return &PoolCollector{
		pool:        pool,
		capacity:    prometheus.NewDesc(fq("capacity"), "Maximum number of snapshot buffers", nil, nil),
		inUse:       prometheus.NewDesc(fq("in_use"), "Snapshot buffers currently acquired", nil, nil),
		allocated:   prometheus.NewDesc(fq("allocated"), "Snapshot buffers allocated so far", nil, nil),
		acquireFail: prometheus.NewDesc(fq("acquire_failures_total"), "Buffer reservations refused for lack of space", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.capacity
	ch <- c.inUse
	ch <- c.allocated
	ch <- c.acquireFail
}

// Collect implements prometheus.Collector.
func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.capacity, prometheus.GaugeValue, float64(c.pool.Capacity()))
	ch <- prometheus.MustNewConstMetric(c.inUse, prometheus.GaugeValue, float64(c.pool.Outstanding()))
	ch <- prometheus.MustNewConstMetric(c.allocated, prometheus.GaugeValue, float64(c.pool.Allocated()))
	ch <- prometheus.MustNewConstMetric(c.acquireFail, prometheus.CounterValue, float64(c.pool.AcquireFailures()))
}

// StoreSizer reports the on-disk size of a coordination store.
type StoreSizer interface {
	Size() (lsm, vlog int64)
}

// StoreCollector samples coordination store size on every scrape.
type StoreCollector struct {
	store StoreSizer
	size  *prometheus.Desc
}

// NewStoreCollector creates a collector for store.
func NewStoreCollector(store StoreSizer) *StoreCollector {
	return &StoreCollector{
		store: store,
		size: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "coord", "size_bytes"),
			"Coordination store size in bytes, by component",
			[]string{"component"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *StoreCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.size
}

// Collect implements prometheus.Collector.
func (c *StoreCollector) Collect(ch chan<- prometheus.Metric) {
	lsm, vlog := c.store.Size()
	ch <- prometheus.MustNewConstMetric(c.size, prometheus.GaugeValue, float64(lsm), "lsm")
	ch <- prometheus.MustNewConstMetric(c.size, prometheus.GaugeValue, float64(vlog), "vlog")
}
