// Package metrics exposes prometheus collectors for every layer of the
// store. Counters are plain atomics mirrored into prometheus on Collect, so
// hot paths never touch the prometheus client and tests can read values
// directly.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "lumpstore"

// Builder carries the registration target and the instance label attached
// to every metric it builds. A zero Builder produces working metrics that
// are simply not registered anywhere.
type Builder struct {
	// Instance distinguishes devices/storages within one process; it ends
	// up as a const label on every metric.
	Instance string

	// Registry receives the collectors; nil disables registration.
	Registry prometheus.Registerer
}

func (b *Builder) labels() prometheus.Labels {
	if b == nil || b.Instance == "" {
		return nil
	}
	return prometheus.Labels{"instance": b.Instance}
}

func (b *Builder) register(c prometheus.Collector) {
	if b != nil && b.Registry != nil {
		b.Registry.MustRegister(c)
	}
}

// Counter is a monotonic counter readable without a prometheus scrape.
type Counter struct {
	v    atomic.Uint64
	desc *prometheus.Desc
}

func newCounter(subsystem, name, help string, labels prometheus.Labels) *Counter {
	return &Counter{
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, name), help, nil, labels),
	}
}

func (c *Counter) Inc()          { c.v.Add(1) }
func (c *Counter) Add(n uint64)  { c.v.Add(n) }
func (c *Counter) Value() uint64 { return c.v.Load() }

func (c *Counter) collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.desc, prometheus.CounterValue, float64(c.v.Load()))
}

// Gauge is a settable value readable without a prometheus scrape.
type Gauge struct {
	v    atomic.Int64
	desc *prometheus.Desc
}

func newGauge(subsystem, name, help string, labels prometheus.Labels) *Gauge {
	return &Gauge{
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, name), help, nil, labels),
	}
}

func (g *Gauge) Set(v int64)  { g.v.Store(v) }
func (g *Gauge) Add(d int64)  { g.v.Add(d) }
func (g *Gauge) Value() int64 { return g.v.Load() }

func (g *Gauge) collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(g.desc, prometheus.GaugeValue, float64(g.v.Load()))
}

// BlockIOMetrics counts block-layer reads and writes. The operation tests
// of the disk-access budget are built on these counters.
type BlockIOMetrics struct {
	Reads        *Counter
	Writes       *Counter
	BytesRead    *Counter
	BytesWritten *Counter
}

func NewBlockIOMetrics(b *Builder) *BlockIOMetrics {
	l := b.labels()
	m := &BlockIOMetrics{
		Reads:        newCounter("block", "reads_total", "Number of block read calls", l),
		Writes:       newCounter("block", "writes_total", "Number of block write calls", l),
		BytesRead:    newCounter("block", "read_bytes_total", "Bytes read from the device", l),
		BytesWritten: newCounter("block", "written_bytes_total", "Bytes written to the device", l),
	}
	b.register(m)
	return m
}

func (m *BlockIOMetrics) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(m, ch)
}

func (m *BlockIOMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Reads.collect(ch)
	m.Writes.collect(ch)
	m.BytesRead.collect(ch)
	m.BytesWritten.collect(ch)
}

// StorageMetrics counts engine operations.
type StorageMetrics struct {
	Puts            *Counter
	EmbeddedPuts    *Counter
	DataRegionPuts  *Counter
	Gets            *Counter
	Deletes         *Counter
	DeleteRanges    *Counter
	NoSpaceFailures *Counter
}

func NewStorageMetrics(b *Builder) *StorageMetrics {
	l := b.labels()
	m := &StorageMetrics{
		Puts:            newCounter("storage", "puts_total", "Number of PUT operations", l),
		EmbeddedPuts:    newCounter("storage", "embedded_puts_total", "PUTs embedded in the journal", l),
		DataRegionPuts:  newCounter("storage", "data_region_puts_total", "PUTs written to the data region", l),
		Gets:            newCounter("storage", "gets_total", "Number of GET operations", l),
		Deletes:         newCounter("storage", "deletes_total", "Number of DELETE operations", l),
		DeleteRanges:    newCounter("storage", "delete_ranges_total", "Number of DELETE-RANGE operations", l),
		NoSpaceFailures: newCounter("storage", "nospace_failures_total", "Operations failed for lack of space", l),
	}
	b.register(m)
	return m
}

func (m *StorageMetrics) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(m, ch)
}

func (m *StorageMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Puts.collect(ch)
	m.EmbeddedPuts.collect(ch)
	m.DataRegionPuts.collect(ch)
	m.Gets.collect(ch)
	m.Deletes.collect(ch)
	m.DeleteRanges.collect(ch)
	m.NoSpaceFailures.collect(ch)
}

// JournalMetrics tracks the journal ring and its GC.
type JournalMetrics struct {
	AppendedRecords    *Counter
	GCDequeuedRecords  *Counter
	GCRelocatedRecords *Counter
	Syncs              *Counter
	UsageBytes         *Gauge
	CapacityBytes      *Gauge
}

func NewJournalMetrics(b *Builder) *JournalMetrics {
	l := b.labels()
	m := &JournalMetrics{
		AppendedRecords:    newCounter("journal", "appended_records_total", "Records appended to the ring", l),
		GCDequeuedRecords:  newCounter("journal", "gc_dequeued_records_total", "Records examined by GC", l),
		GCRelocatedRecords: newCounter("journal", "gc_relocated_records_total", "Live records re-appended by GC", l),
		Syncs:              newCounter("journal", "syncs_total", "Journal sync calls issued", l),
		UsageBytes:         newGauge("journal", "usage_bytes", "Bytes between unreleased head and tail", l),
		CapacityBytes:      newGauge("journal", "capacity_bytes", "Ring capacity in bytes", l),
	}
	b.register(m)
	return m
}

func (m *JournalMetrics) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(m, ch)
}

func (m *JournalMetrics) Collect(ch chan<- prometheus.Metric) {
	m.AppendedRecords.collect(ch)
	m.GCDequeuedRecords.collect(ch)
	m.GCRelocatedRecords.collect(ch)
	m.Syncs.collect(ch)
	m.UsageBytes.collect(ch)
	m.CapacityBytes.collect(ch)
}

// AllocatorMetrics tracks the data-region allocator.
type AllocatorMetrics struct {
	AllocatedPortions *Counter
	ReleasedPortions  *Counter
	NoSpaceFailures   *Counter
	FreeListLen       *Gauge
	UsageBytes        *Gauge
	CapacityBytes     *Gauge
}

func NewAllocatorMetrics(b *Builder) *AllocatorMetrics {
	l := b.labels()
	m := &AllocatorMetrics{
		AllocatedPortions: newCounter("allocator", "allocated_portions_total", "Extents handed out", l),
		ReleasedPortions:  newCounter("allocator", "released_portions_total", "Extents returned", l),
		NoSpaceFailures:   newCounter("allocator", "nospace_failures_total", "Allocations failed for lack of space", l),
		FreeListLen:       newGauge("allocator", "free_list_len", "Number of free extents", l),
		UsageBytes:        newGauge("allocator", "usage_bytes", "Allocated bytes in the data region", l),
		CapacityBytes:     newGauge("allocator", "capacity_bytes", "Data region capacity in bytes", l),
	}
	b.register(m)
	return m
}

func (m *AllocatorMetrics) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(m, ch)
}

func (m *AllocatorMetrics) Collect(ch chan<- prometheus.Metric) {
	m.AllocatedPortions.collect(ch)
	m.ReleasedPortions.collect(ch)
	m.NoSpaceFailures.collect(ch)
	m.FreeListLen.collect(ch)
	m.UsageBytes.collect(ch)
	m.CapacityBytes.collect(ch)
}

// DeviceMetrics tracks the request queue of a device.
type DeviceMetrics struct {
	Enqueued *Counter
	Dequeued *Counter
	Expired  *Counter
	Canceled *Counter
	Failed   *Counter
	SideJobs *Counter
	QueueLen *Gauge
	Status   *Gauge
}

func NewDeviceMetrics(b *Builder) *DeviceMetrics {
	l := b.labels()
	m := &DeviceMetrics{
		Enqueued: newCounter("device", "enqueued_requests_total", "Requests accepted into the queue", l),
		Dequeued: newCounter("device", "dequeued_requests_total", "Requests dispatched to the engine", l),
		Expired:  newCounter("device", "expired_requests_total", "Requests failed with an expired deadline", l),
		Canceled: newCounter("device", "canceled_requests_total", "Requests canceled before dispatch", l),
		Failed:   newCounter("device", "failed_requests_total", "Requests completed with an error", l),
		SideJobs: newCounter("device", "side_jobs_total", "Side jobs run while idle", l),
		QueueLen: newGauge("device", "queue_len", "Requests currently queued", l),
		Status:   newGauge("device", "status", "Device status (0 starting, 1 running, 2 stopped)", l),
	}
	b.register(m)
	return m
}

func (m *DeviceMetrics) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(m, ch)
}

func (m *DeviceMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Enqueued.collect(ch)
	m.Dequeued.collect(ch)
	m.Expired.collect(ch)
	m.Canceled.collect(ch)
	m.Failed.collect(ch)
	m.SideJobs.collect(ch)
	m.QueueLen.collect(ch)
	m.Status.collect(ch)
}
