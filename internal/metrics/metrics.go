// Package metrics provides Prometheus metrics for the storage engine
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus series the engine exposes over /metrics.
// This is an observability surface only — spec.md's "no network wire
// protocol" Non-goal refers to the database's own client protocol, not to
// operational telemetry.
type Metrics struct {
	// Buffer pool metrics
	BufferHitsTotal     prometheus.Counter
	BufferMissesTotal    prometheus.Counter
	BufferEvictionsTotal prometheus.Counter
	BufferPinnedFrames   prometheus.Gauge
	BufferDirtyFrames    prometheus.Gauge

	// Disk manager metrics
	PageReadsTotal      prometheus.Counter
	PageWritesTotal     prometheus.Counter
	PageIODuration      *prometheus.HistogramVec

	// WAL metrics
	WalAppendsTotal     prometheus.Counter
	WalFsyncsTotal      prometheus.Counter
	WalFsyncDuration    prometheus.Histogram
	WalBytesWritten     prometheus.Counter

	// Transaction metrics
	TxnBeginsTotal    prometheus.Counter
	TxnCommitsTotal   prometheus.Counter
	TxnAbortsTotal    prometheus.Counter
	TxnActiveGauge    prometheus.Gauge

	// B+tree metrics
	BtreeSplitsTotal prometheus.Counter
	BtreeMergesTotal prometheus.Counter

	// Query execution metrics
	StatementsTotal    *prometheus.CounterVec
	StatementDuration  *prometheus.HistogramVec

	ServerUptimeSeconds prometheus.Gauge
	ServerStartTime     time.Time
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		ServerStartTime: time.Now(),
	}

	m.BufferHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quilldb_buffer_pool_hits_total",
		Help: "Total number of buffer pool fetches satisfied without a disk read",
	})
	m.BufferMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quilldb_buffer_pool_misses_total",
		Help: "Total number of buffer pool fetches that required a disk read",
	})
	m.BufferEvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quilldb_buffer_pool_evictions_total",
		Help: "Total number of frames evicted by the replacement policy",
	})
	m.BufferPinnedFrames = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quilldb_buffer_pool_pinned_frames",
		Help: "Current number of pinned frames",
	})
	m.BufferDirtyFrames = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quilldb_buffer_pool_dirty_frames",
		Help: "Current number of dirty frames",
	})

	m.PageReadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quilldb_page_reads_total",
		Help: "Total number of pages read from disk",
	})
	m.PageWritesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quilldb_page_writes_total",
		Help: "Total number of pages written to disk",
	})
	m.PageIODuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quilldb_page_io_duration_seconds",
			Help:    "Duration of page-level disk I/O",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		},
		[]string{"op"},
	)

	m.WalAppendsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quilldb_wal_appends_total",
		Help: "Total number of log records appended",
	})
	m.WalFsyncsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quilldb_wal_fsyncs_total",
		Help: "Total number of WAL fsync calls",
	})
	m.WalFsyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quilldb_wal_fsync_duration_seconds",
		Help:    "Duration of WAL fsync calls",
		Buckets: prometheus.DefBuckets,
	})
	m.WalBytesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quilldb_wal_bytes_written_total",
		Help: "Total bytes appended to the write-ahead log",
	})

	m.TxnBeginsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quilldb_txn_begins_total",
		Help: "Total number of transactions begun",
	})
	m.TxnCommitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quilldb_txn_commits_total",
		Help: "Total number of transactions committed",
	})
	m.TxnAbortsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quilldb_txn_aborts_total",
		Help: "Total number of transactions aborted",
	})
	m.TxnActiveGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quilldb_txn_active",
		Help: "Number of currently active transactions",
	})

	m.BtreeSplitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quilldb_btree_splits_total",
		Help: "Total number of B+tree node splits",
	})
	m.BtreeMergesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quilldb_btree_merges_total",
		Help: "Total number of B+tree node merges",
	})

	m.StatementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quilldb_statements_total",
			Help: "Total number of executed statements by kind and status",
		},
		[]string{"kind", "status"},
	)
	m.StatementDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quilldb_statement_duration_seconds",
			Help:    "Duration of statement execution",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	m.ServerUptimeSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quilldb_uptime_seconds",
		Help: "Process uptime in seconds",
	})

	go m.updateUptime()

	return m
}

func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.ServerUptimeSeconds.Set(time.Since(m.ServerStartTime).Seconds())
	}
}

// RecordBufferHit records a buffer pool fetch that avoided a disk read.
func (m *Metrics) RecordBufferHit() { m.BufferHitsTotal.Inc() }

// RecordBufferMiss records a buffer pool fetch that required a disk read.
func (m *Metrics) RecordBufferMiss() { m.BufferMissesTotal.Inc() }

// RecordBufferEviction records a frame eviction.
func (m *Metrics) RecordBufferEviction() { m.BufferEvictionsTotal.Inc() }

// RecordPageIO records a disk read or write and its latency.
func (m *Metrics) RecordPageIO(op string, duration time.Duration) {
	if op == "read" {
		m.PageReadsTotal.Inc()
	} else {
		m.PageWritesTotal.Inc()
	}
	m.PageIODuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordWalAppend records one log record append.
func (m *Metrics) RecordWalAppend(bytes int) {
	m.WalAppendsTotal.Inc()
	m.WalBytesWritten.Add(float64(bytes))
}

// RecordWalFsync records one WAL fsync call.
func (m *Metrics) RecordWalFsync(duration time.Duration) {
	m.WalFsyncsTotal.Inc()
	m.WalFsyncDuration.Observe(duration.Seconds())
}

// RecordTxnBegin records a transaction beginning.
func (m *Metrics) RecordTxnBegin() {
	m.TxnBeginsTotal.Inc()
	m.TxnActiveGauge.Inc()
}

// RecordTxnCommit records a transaction committing.
func (m *Metrics) RecordTxnCommit() {
	m.TxnCommitsTotal.Inc()
	m.TxnActiveGauge.Dec()
}

// RecordTxnAbort records a transaction aborting.
func (m *Metrics) RecordTxnAbort() {
	m.TxnAbortsTotal.Inc()
	m.TxnActiveGauge.Dec()
}

// RecordBtreeSplit records a B+tree node split.
func (m *Metrics) RecordBtreeSplit() { m.BtreeSplitsTotal.Inc() }

// RecordBtreeMerge records a B+tree node merge.
func (m *Metrics) RecordBtreeMerge() { m.BtreeMergesTotal.Inc() }

// RecordStatement records a completed statement execution.
func (m *Metrics) RecordStatement(kind, status string, duration time.Duration) {
	m.StatementsTotal.WithLabelValues(kind, status).Inc()
	m.StatementDuration.WithLabelValues(kind).Observe(duration.Seconds())
}
