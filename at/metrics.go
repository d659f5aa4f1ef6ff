package at

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records exchange outcomes and notification traffic. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	exchanges     *prometheus.CounterVec
	duration      prometheus.Histogram
	notifications *prometheus.CounterVec
}

// NewMetrics creates the channel collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "atlink",
			Name:      "exchanges_total",
			Help:      "AT command exchanges by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "atlink",
			Name:      "exchange_duration_seconds",
			Help:      "Time from command write to final line.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 180},
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "atlink",
			Name:      "notifications_total",
			Help:      "Unsolicited result codes by delivery result.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.exchanges, m.duration, m.notifications)
	return m
}

func (m *Metrics) exchange(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.exchanges.WithLabelValues(outcome).Inc()
	m.duration.Observe(d.Seconds())
}

func (m *Metrics) notification(delivered bool) {
	if m == nil {
		return
	}
	result := "delivered"
	if !delivered {
		result = "dropped"
	}
	m.notifications.WithLabelValues(result).Inc()
}
