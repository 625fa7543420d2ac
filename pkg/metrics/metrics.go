// Package metrics exposes Prometheus metrics for strata's read path and
// index maintenance.
//
// # Basic Usage
//
//	// Count the rows a column scan looked at
//	metrics.ColumnScanRows.WithLabelValues(metrics.ResultReturned).Add(float64(stats.RowsReturned))
//
//	// Time a scan
//	timer := metrics.NewTimer("find")
//	runScan()
//	metrics.ScanDuration.WithLabelValues("COLUMN_SCAN").Observe(timer.Stop().Seconds())
//
//	// Per collection convenience wrapper
//	c := metrics.NewCollector("orders")
//	c.RecordPlan("COLLSCAN")
//
// All metrics are registered with the default registry on package load.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Row outcomes reported by ColumnScanRows.
const (
	ResultReturned         = "returned"
	ResultFilteredByPath   = "filtered_by_path"
	ResultFilteredResidual = "filtered_residual"
)

var (
	// ColumnScanRows counts rows visited by column scans, by outcome.
	// Labels: result (returned/filtered_by_path/filtered_residual)
	ColumnScanRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strata_column_scan_rows_total",
			Help: "Rows visited by column scans, by outcome",
		},
		[]string{"result"},
	)

	// ColumnScanCellsRead counts cells merged into partial documents.
	ColumnScanCellsRead = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "strata_column_scan_cells_read_total",
			Help: "Cells read by column scans",
		},
	)

	// PlanSelected counts winning plans by stage.
	// Labels: stage (COLUMN_SCAN/COLLSCAN)
	PlanSelected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strata_plan_selected_total",
			Help: "Winning query plans by stage",
		},
		[]string{"stage"},
	)

	// ScanDuration tracks scan latency in seconds.
	// Labels: stage (COLUMN_SCAN/COLLSCAN)
	ScanDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "strata_scan_duration_seconds",
			Help: "Scan duration in seconds",
			Buckets: []float64{
				1e-5, // 10μs
				1e-4, // 100μs
				1e-3, // 1ms
				1e-2, // 10ms
				1e-1, // 100ms
				1,    // 1s
				10,   // 10s
			},
		},
		[]string{"stage"},
	)

	// IndexColumns reports the number of path columns per index.
	IndexColumns = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "strata_index_columns",
			Help: "Number of path columns in a column store index",
		},
		[]string{"index"},
	)

	// IndexRows reports the number of rows per index.
	IndexRows = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "strata_index_rows",
			Help: "Number of rows in a column store index",
		},
		[]string{"index"},
	)

	// IndexBuildDuration tracks full index builds in seconds.
	IndexBuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "strata_index_build_duration_seconds",
			Help:    "Column store index build duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1e-4, 10, 7),
		},
	)
)

// Collector records metrics on behalf of one collection. It remembers the
// last values it published so callers can read them back.
type Collector struct {
	name      string
	startTime time.Time

	mu    sync.RWMutex
	plans map[string]int64
	rows  map[string]int64
	cells int64
}

// NewCollector creates a collector for the named collection.
func NewCollector(name string) *Collector {
	return &Collector{
		name:      name,
		startTime: time.Now(),
		plans:     make(map[string]int64),
		rows:      make(map[string]int64),
	}
}

// RecordPlan counts one winning plan.
func (c *Collector) RecordPlan(stage string) {
	PlanSelected.WithLabelValues(stage).Inc()
	c.mu.Lock()
	c.plans[stage]++
	c.mu.Unlock()
}

// RecordScan publishes the outcome of one scan.
func (c *Collector) RecordScan(stage string, d time.Duration, rows map[string]int64, cells int64) {
	ScanDuration.WithLabelValues(stage).Observe(d.Seconds())
	if cells > 0 {
		ColumnScanCellsRead.Add(float64(cells))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for result, n := range rows {
		if n == 0 {
			continue
		}
		ColumnScanRows.WithLabelValues(result).Add(float64(n))
		c.rows[result] += n
	}
	c.cells += cells
}

// RecordIndex publishes the current size of an index.
func (c *Collector) RecordIndex(index string, rows, columns int) {
	IndexRows.WithLabelValues(index).Set(float64(rows))
	IndexColumns.WithLabelValues(index).Set(float64(columns))
}

// ForgetIndex removes the gauges of a dropped index.
func (c *Collector) ForgetIndex(index string) {
	IndexRows.DeleteLabelValues(index)
	IndexColumns.DeleteLabelValues(index)
}

// GetAll returns the values this collector has recorded.
func (c *Collector) GetAll() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	plans := make(map[string]int64, len(c.plans))
	for k, v := range c.plans {
		plans[k] = v
	}
	rows := make(map[string]int64, len(c.rows))
	for k, v := range c.rows {
		rows[k] = v
	}
	return map[string]interface{}{
		"collection": c.name,
		"uptime":     time.Since(c.startTime).Seconds(),
		"plans":      plans,
		"rows":       rows,
		"cells":      c.cells,
	}
}

// StartTime returns when the collector was created
func (c *Collector) StartTime() time.Time {
	return c.startTime
}

// Timer provides a simple timing mechanism for measuring operation durations.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a new timer and starts timing immediately.
//
// Example:
//
//	timer := metrics.NewTimer("index_build")
//	build()
//	metrics.IndexBuildDuration.Observe(timer.Stop().Seconds())
func NewTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

// Name returns the timer's name.
func (t *Timer) Name() string { return t.name }

// Stop returns the elapsed duration since creation. It may be called
// repeatedly.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}
