package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Lifecycle counts what happens to ephemeral objects.
type Lifecycle interface {
	IncIngested(result string)
	IncDeletion(result string)
	IncDeleteAttempt()
	IncRecovered(state string)
	IncOrphanedBlob()
	SetArmed(n int)
}

// Noop implements Lifecycle without emitting anything.
type Noop struct{}

func (Noop) IncIngested(string)  {}
func (Noop) IncDeletion(string)  {}
func (Noop) IncDeleteAttempt()   {}
func (Noop) IncRecovered(string) {}
func (Noop) IncOrphanedBlob()    {}
func (Noop) SetArmed(int)        {}

// Prom implements Lifecycle backed by Prometheus collectors.
type Prom struct {
	ingested       *prometheus.CounterVec
	deletions      *prometheus.CounterVec
	deleteAttempts prometheus.Counter
	recovered      *prometheus.CounterVec
	orphaned       prometheus.Counter
	armed          prometheus.Gauge
	once           sync.Once
}

// NewProm builds the collectors and registers them with reg.
func NewProm(namespace string, reg prometheus.Registerer) *Prom {
	p := &Prom{
		ingested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "objects_ingested_total",
			Help:      "Ingest attempts by result",
		}, []string{"result"}),
		deletions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deletions_total",
			Help:      "Deletion sequences by result",
		}, []string{"result"}),
		deleteAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blob_delete_attempts_total",
			Help:      "Blob store delete calls issued",
		}),
		recovered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recovery_rearmed_total",
			Help:      "Records re-armed by the recovery pass, by state found",
		}, []string{"state"}),
		orphaned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orphaned_blobs_total",
			Help:      "Blobs stored without a metadata record",
		}),
		armed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "armed_triggers",
			Help:      "Deletion triggers currently armed in this process",
		}),
	}
	p.once.Do(func() {
		reg.MustRegister(p.ingested, p.deletions, p.deleteAttempts, p.recovered, p.orphaned, p.armed)
	})
	return p
}

func (p *Prom) IncIngested(result string) {
	p.ingested.WithLabelValues(result).Inc()
}

func (p *Prom) IncDeletion(result string) {
	p.deletions.WithLabelValues(result).Inc()
}

func (p *Prom) IncDeleteAttempt() {
	p.deleteAttempts.Inc()
}

func (p *Prom) IncRecovered(state string) {
	p.recovered.WithLabelValues(state).Inc()
}

func (p *Prom) IncOrphanedBlob() {
	p.orphaned.Inc()
}

func (p *Prom) SetArmed(n int) {
	p.armed.Set(float64(n))
}

// Handler returns an HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
