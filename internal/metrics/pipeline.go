package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "catalogsync"

// Pipeline Prometheus metrics.
var (
	RecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Export records decoded, by kind",
		},
		[]string{"kind"},
	)

	RecordsSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_skipped_total",
			Help:      "Records skipped or degraded, by reason",
		},
		[]string{"reason"}, // malformed, unknown_kind, orphan, product_missing
	)

	BatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Store writes and index chunks, by stage and status",
		},
		[]string{"stage", "status"},
	)

	BatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Duration of one batch write or index chunk, retries included",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"stage"},
	)

	DocumentsIndexedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_indexed_total",
			Help:      "Search documents submitted, by status",
		},
		[]string{"status"},
	)

	ExportPollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "export_polls_total",
			Help:      "Bulk export status polls, by observed status",
		},
		[]string{"status"},
	)

	RunStage = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_stage",
			Help:      "1 for the stage the current run is in, 0 otherwise",
		},
		[]string{"stage"},
	)
)

// Batch stages.
const (
	StagePersist = "persist"
	StageIndex   = "index"
)

// Batch statuses.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
	StatusDryRun = "dry_run"
)

func pipelineCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		RecordsTotal,
		RecordsSkippedTotal,
		BatchesTotal,
		BatchDuration,
		DocumentsIndexedTotal,
		ExportPollsTotal,
		RunStage,
	}
}

var registerOnce sync.Once

// Register registers every collector of this package with reg. Must be called once from main.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		for _, c := range pipelineCollectors() {
			reg.MustRegister(c)
		}
		for _, c := range embeddingCollectors() {
			reg.MustRegister(c)
		}
		for _, c := range httpCollectors() {
			reg.MustRegister(c)
		}
	})
}

// SetStage marks stage as the only active one.
func SetStage(stage string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == stage {
			v = 1
		}
		RunStage.WithLabelValues(s).Set(v)
	}
}
