package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rdma-go/r2dma/internal/rpc"
)

// PoolStats is the subset of bufpool.Pool and workpool.Pool this
// collector reads; it
// is a narrow interface (mirroring Provider above) so tests can stub
// it without constructing real verbs devices.
type PoolStats interface {
	Available() int
	Capacity() int
}

// RuntimeCollector reports the internal occupancy of the buffer pool,
// work descriptor pool, and RPC waiter table as Prometheus gauges,
// complementing RdmaCollector's sysfs-sourced counters with the
// library's own runtime state.
type RuntimeCollector struct {
	bufPool  PoolStats
	workPool PoolStats
	waiters  *rpc.Waiters

	bufAvailableDesc  *prometheus.Desc
	bufCapacityDesc   *prometheus.Desc
	workAvailableDesc *prometheus.Desc
	workCapacityDesc  *prometheus.Desc
	waitersDesc       *prometheus.Desc
}

// NewRuntimeCollector builds a collector over the given pools. waiters
// may be nil if the caller only wants pool occupancy (e.g. a process
// that never speaks RPC).
func NewRuntimeCollector(bufPool, workPool PoolStats, waiters *rpc.Waiters) *RuntimeCollector {
	return &RuntimeCollector{
		bufPool:  bufPool,
		workPool: workPool,
		waiters:  waiters,

		bufAvailableDesc: prometheus.NewDesc(
			"r2dma_buffer_pool_available_blocks",
			"Number of buffer pool blocks currently free.",
			nil, nil,
		),
		bufCapacityDesc: prometheus.NewDesc(
			"r2dma_buffer_pool_capacity_blocks",
			"Total number of blocks the buffer pool was created with.",
			nil, nil,
		),
		workAvailableDesc: prometheus.NewDesc(
			"r2dma_work_pool_available_descriptors",
			"Number of work descriptors currently free.",
			nil, nil,
		),
		workCapacityDesc: prometheus.NewDesc(
			"r2dma_work_pool_capacity_descriptors",
			"Total number of work descriptors the pool was created with.",
			nil, nil,
		),
		waitersDesc: prometheus.NewDesc(
			"r2dma_rpc_waiters_pending",
			"Number of RPC calls currently awaiting a response.",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *RuntimeCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.bufAvailableDesc
	ch <- c.bufCapacityDesc
	ch <- c.workAvailableDesc
	ch <- c.workCapacityDesc
	ch <- c.waitersDesc
}

// Collect implements prometheus.Collector.
func (c *RuntimeCollector) Collect(ch chan<- prometheus.Metric) {
	if c.bufPool != nil {
		ch <- prometheus.MustNewConstMetric(c.bufAvailableDesc, prometheus.GaugeValue, float64(c.bufPool.Available()))
		ch <- prometheus.MustNewConstMetric(c.bufCapacityDesc, prometheus.GaugeValue, float64(c.bufPool.Capacity()))
	}
	if c.workPool != nil {
		ch <- prometheus.MustNewConstMetric(c.workAvailableDesc, prometheus.GaugeValue, float64(c.workPool.Available()))
		ch <- prometheus.MustNewConstMetric(c.workCapacityDesc, prometheus.GaugeValue, float64(c.workPool.Capacity()))
	}
	if c.waiters != nil {
		ch <- prometheus.MustNewConstMetric(c.waitersDesc, prometheus.GaugeValue, float64(c.waiters.Len()))
	}
}
