// Package metrics holds the Prometheus collectors of the storage backend.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics of the storage backend.
type Metrics struct {
	// Sessions counts finished transactions by outcome.
	Sessions *prometheus.CounterVec // pithos_sessions_total{outcome}

	// Commissions counts quotaholder commissions by state.
	Commissions *prometheus.CounterVec // pithos_commissions_total{state}

	// Messages counts published events by event type and result.
	Messages *prometheus.CounterVec // pithos_messages_total{event_type,result}

	// QuotaRejections counts writes refused for exceeding a quota.
	QuotaRejections *prometheus.CounterVec // pithos_quota_rejections_total{scope}

	BlockBytesWritten prometheus.Counter
	BlocksWritten     prometheus.Counter
}

// New registers the metrics with registry. If nil, the default Prometheus
// registry is used.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		Sessions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pithos_sessions_total",
			Help: "Backend transactions by outcome",
		}, []string{"outcome"}),

		Commissions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pithos_commissions_total",
			Help: "Quotaholder commissions by state (issued, accepted, rejected, failed)",
		}, []string{"state"}),

		Messages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pithos_messages_total",
			Help: "Published events by event type and result",
		}, []string{"event_type", "result"}),

		QuotaRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pithos_quota_rejections_total",
			Help: "Writes refused for exceeding an account or container quota",
		}, []string{"scope"}),

		BlockBytesWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "pithos_block_bytes_written_total",
			Help: "Bytes passed to block writes",
		}),

		BlocksWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "pithos_blocks_written_total",
			Help: "Block writes",
		}),
	}
}

// SessionEnded records the outcome of one transaction.
func (m *Metrics) SessionEnded(success bool) {
	outcome := "rollback"
	if success {
		outcome = "commit"
	}
	m.Sessions.WithLabelValues(outcome).Inc()
}

// CommissionsResolved records one resolve call.
func (m *Metrics) CommissionsResolved(accepted int, rejected int) {
	m.Commissions.WithLabelValues("accepted").Add(float64(accepted))
	m.Commissions.WithLabelValues("rejected").Add(float64(rejected))
}

// MessageSent records one publish attempt.
func (m *Metrics) MessageSent(eventType string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Messages.WithLabelValues(eventType, result).Inc()
}

// BlockWritten records one block write of n bytes.
func (m *Metrics) BlockWritten(n int) {
	m.BlocksWritten.Inc()
	m.BlockBytesWritten.Add(float64(n))
}
