package metric

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric this package registers.
const Namespace = "permamesh"

// Registry holds all application metrics, registered on a private
// prometheus registry so tests never collide on the global default.
type Registry struct {
	reg *prometheus.Registry

	// Token verification
	TokensVerified prometheus.Counter
	TokensRejected *prometheus.CounterVec // label: reason (error code)

	// Service requests
	RequestsTotal   *prometheus.CounterVec   // labels: operation, outcome
	RequestDuration *prometheus.HistogramVec // label: operation

	// Consensus
	ConsensusCommits prometheus.Counter
	ViewChanges      prometheus.Counter

	// Storage
	RecordsStored prometheus.Counter

	// Cluster health
	QuorumAtRisk prometheus.Gauge
}

// NewRegistry creates and registers all application metrics.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		TokensVerified: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "tokens_verified_total",
			Help:      "Capability tokens that passed verification.",
		}),
		TokensRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "tokens_rejected_total",
			Help:      "Capability tokens rejected, by error code.",
		}, []string{"reason"}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "requests_total",
			Help:      "Service requests, by operation and outcome.",
		}, []string{"operation", "outcome"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "request_duration_seconds",
			Help:      "Service request latency, by operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		ConsensusCommits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "consensus_commits_total",
			Help:      "Requests committed by consensus on this node.",
		}),
		ViewChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "consensus_view_changes_total",
			Help:      "View changes this node participated in.",
		}),
		RecordsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "records_stored_total",
			Help:      "Permanent records appended to the ledger.",
		}),
		QuorumAtRisk: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "quorum_at_risk",
			Help:      "1 when more than f consensus nodes are unreachable.",
		}),
	}

	reg.MustRegister(
		r.TokensVerified,
		r.TokensRejected,
		r.RequestsTotal,
		r.RequestDuration,
		r.ConsensusCommits,
		r.ViewChanges,
		r.RecordsStored,
		r.QuorumAtRisk,
	)

	return r
}

// Prometheus exposes the underlying registry for additional collectors
// (badger engine metrics, the ledger shard collector).
func (r *Registry) Prometheus() *prometheus.Registry {
	return r.reg
}

// Handler returns the HTTP handler serving this registry at /metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
