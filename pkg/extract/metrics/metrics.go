package metrics

import (
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// System metrics
	SystemMemoryUsage = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "system_memory_bytes",
		Help: "Current system memory usage",
	})

	SystemGoroutines = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "system_goroutines",
		Help: "Number of goroutines",
	})

	// Extraction metrics
	ExtractionCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "extraction_call_duration_seconds",
			Help: "Time spent per language-model extraction call",
		},
		[]string{"status"},
	)

	BatchesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extraction_batches_total",
			Help: "Total number of batches processed",
		},
		[]string{"status"},
	)

	ExtractionRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "extraction_retries_total",
		Help: "Number of retried extraction calls",
	})

	EntitiesExtracted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entities_extracted_total",
			Help: "Number of entities extracted",
		},
		[]string{"source_type"},
	)

	RelationshipsExtracted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relationships_extracted_total",
			Help: "Number of relationships extracted",
		},
		[]string{"relation"},
	)

	// Validator metrics
	PayloadRepairs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payload_repairs_total",
			Help: "Number of model payloads recovered by the repair step",
		},
		[]string{"stage"},
	)

	ValidationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payload_validation_failures_total",
		Help: "Number of model payloads rejected as irrecoverable",
	})

	RecordsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "records_dropped_total",
			Help: "Number of individual records dropped during field validation",
		},
		[]string{"record_type"},
	)
)

// UpdateSystemMetrics updates system-level metrics
func UpdateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	SystemMemoryUsage.Set(float64(m.Alloc))
	SystemGoroutines.Set(float64(runtime.NumGoroutine()))
}
