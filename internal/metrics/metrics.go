package metrics

import (
    "net/http"
    "time"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
    conversions = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "pdfbridge",
            Name:      "conversions_total",
            Help:      "Total conversions by kind (docx, image) and result",
        },
        []string{"kind", "result"},
    )

    conversionLatency = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{
            Namespace: "pdfbridge",
            Name:      "conversion_duration_seconds",
            Help:      "Duration of conversions by kind",
            Buckets:   prometheus.DefBuckets,
        },
        []string{"kind"},
    )

    cleanupTasks = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "pdfbridge",
            Name:      "cleanup_tasks_total",
            Help:      "Retention cleanup task executions by result (clean, partial)",
        },
        []string{"result"},
    )

    cleanupDeletions = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "pdfbridge",
            Name:      "cleanup_deletions_total",
            Help:      "Individual deletions during cleanup by target kind and result",
        },
        []string{"kind", "result"},
    )

    pendingTasks = prometheus.NewGauge(
        prometheus.GaugeOpts{
            Namespace: "pdfbridge",
            Name:      "pending_cleanup_tasks",
            Help:      "Cleanup tasks currently scheduled and not yet fired",
        },
    )

    uploadsRejected = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "pdfbridge",
            Name:      "uploads_rejected_total",
            Help:      "Rejected upload requests by reason (empty, too_many, too_large, extension, content, malformed)",
        },
        []string{"reason"},
    )
)

// Init registers collectors.
func Init() {
    prometheus.MustRegister(conversions, conversionLatency, cleanupTasks, cleanupDeletions, pendingTasks, uploadsRejected)
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

func ObserveConversion(kind, result string, dur time.Duration) {
    conversions.WithLabelValues(kind, result).Inc()
    conversionLatency.WithLabelValues(kind).Observe(dur.Seconds())
}

func IncCleanupTask(result string)          { cleanupTasks.WithLabelValues(result).Inc() }
func IncCleanupDeletion(kind, result string) { cleanupDeletions.WithLabelValues(kind, result).Inc() }
func IncRejected(reason string)             { uploadsRejected.WithLabelValues(reason).Inc() }

func SetPendingTasks(n int) { pendingTasks.Set(float64(n)) }
