package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/semmidev/keepsake/internal/domain"
	"github.com/semmidev/keepsake/internal/usecase"
)

// Recorder exports orchestration outcomes as Prometheus series.
type Recorder struct {
	backups         *prometheus.CounterVec
	rollbacks       *prometheus.CounterVec
	retentionPruned prometheus.Counter
	artifactErrors  prometheus.Counter
	duration        *prometheus.HistogramVec
	inflight        prometheus.Gauge
	ticks           *prometheus.CounterVec
}

func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		backups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keepsake_backups_total",
			Help: "Finished backup attempts by resource kind and status",
		}, []string{"kind", "status"}),
		rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keepsake_rollbacks_total",
			Help: "Finished rollbacks by status",
		}, []string{"status"}),
		retentionPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "keepsake_retention_deleted_total",
			Help: "Backups removed from the ledger by retention",
		}),
		artifactErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "keepsake_retention_artifact_errors_total",
			Help: "Artifacts retention could not delete from the sink",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "keepsake_backup_duration_seconds",
			Help:    "Backup duration from dispatch to finalize",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600, 7200},
		}, []string{"kind"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "keepsake_inflight",
			Help: "Backups currently running",
		}),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keepsake_ticks_total",
			Help: "Per-resource scheduler tick outcomes",
		}, []string{"outcome"}),
	}

	reg.MustRegister(r.backups, r.rollbacks, r.retentionPruned, r.artifactErrors, r.duration, r.inflight, r.ticks)
	return r
}

func (r *Recorder) BackupFinished(kind domain.ResourceKind, status domain.BackupStatus, took time.Duration) {
	r.backups.WithLabelValues(string(kind), string(status)).Inc()
	r.duration.WithLabelValues(string(kind)).Observe(took.Seconds())
}

func (r *Recorder) RollbackFinished(status domain.RollbackStatus) {
	r.rollbacks.WithLabelValues(string(status)).Inc()
}

func (r *Recorder) RetentionPruned(deleted, artifactErrors int) {
	r.retentionPruned.Add(float64(deleted))
	r.artifactErrors.Add(float64(artifactErrors))
}

func (r *Recorder) InflightChanged(delta int) {
	r.inflight.Add(float64(delta))
}

func (r *Recorder) TickCompleted(res usecase.TickResult) {
	r.ticks.WithLabelValues("dispatched").Add(float64(len(res.Dispatched)))
	r.ticks.WithLabelValues("busy").Add(float64(len(res.Busy)))
	r.ticks.WithLabelValues("not_due").Add(float64(len(res.NotDue)))
	r.ticks.WithLabelValues("no_policy").Add(float64(len(res.NoPolicy)))
	r.ticks.WithLabelValues("errored").Add(float64(len(res.Errored)))
}
