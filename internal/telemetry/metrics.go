// Package telemetry provides Prometheus metrics for the sync pipeline and
// the channel reconciler. All recorders are nil-safe so call sites do not
// need metrics wired to function.
package telemetry

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sheetbridge"

// SyncMetrics records sync pipeline outcomes.
type SyncMetrics struct {
	runs     *prometheus.CounterVec
	rows     prometheus.Counter
	duration prometheus.Histogram
}

// NewSyncMetrics registers sync pipeline metrics on the given registerer.
func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	factory := promauto.With(reg)
	return &SyncMetrics{
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "Number of sync pipeline invocations by outcome.",
		}, []string{"status"}),
		rows: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_rows_total",
			Help:      "Number of rows upserted by successful sync runs.",
		}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Duration of sync pipeline invocations.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// RecordSync records one pipeline invocation.
func (m *SyncMetrics) RecordSync(_ context.Context, rows int, d time.Duration, success bool) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "failure"
	}
	m.runs.WithLabelValues(status).Inc()
	m.duration.Observe(d.Seconds())
	if success {
		m.rows.Add(float64(rows))
	}
}

// ReconcileMetrics records channel reconciliation outcomes.
type ReconcileMetrics struct {
	runs *prometheus.CounterVec
}

// NewReconcileMetrics registers reconciler metrics on the given registerer.
func NewReconcileMetrics(reg prometheus.Registerer) *ReconcileMetrics {
	factory := promauto.With(reg)
	return &ReconcileMetrics{
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_runs_total",
			Help:      "Number of channel reconciliation runs by outcome.",
		}, []string{"status"}),
	}
}

// RecordRun records one reconciliation run.
func (m *ReconcileMetrics) RecordRun(_ context.Context, success bool) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "failure"
	}
	m.runs.WithLabelValues(status).Inc()
}
