// Package metrics exposes the Prometheus collectors for visitor activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "visitorlog"

// Metrics implements the metrics hooks of the presence, checkin, importer
// and retention packages.
type Metrics struct {
	checkIns            *prometheus.CounterVec
	checkOuts           *prometheus.CounterVec
	orientationRequired *prometheus.CounterVec
	importRows          *prometheus.CounterVec
	purgedVisitors      prometheus.Counter
	present             prometheus.Gauge
}

// New registers the collectors with reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		checkIns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkins_total",
			Help:      "Check-in attempts by result.",
		}, []string{"result"}),
		checkOuts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkouts_total",
			Help:      "Check-out attempts by result.",
		}, []string{"result"}),
		orientationRequired: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orientation_required_total",
			Help:      "Check-ins sent to orientation, by reason.",
		}, []string{"reason"}),
		importRows: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_rows_total",
			Help:      "Training import rows by outcome.",
		}, []string{"outcome"}),
		purgedVisitors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purged_visitors_total",
			Help:      "Visitors deleted by the retention purge.",
		}),
		present: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "present_visitors",
			Help:      "Visitors on site at the last dashboard load.",
		}),
	}
}

func (m *Metrics) ObserveCheckIn(result string)  { m.checkIns.WithLabelValues(result).Inc() }
func (m *Metrics) ObserveCheckOut(result string) { m.checkOuts.WithLabelValues(result).Inc() }
func (m *Metrics) SetPresent(n int)              { m.present.Set(float64(n)) }

func (m *Metrics) ObserveOrientationRequired(reason string) {
	m.orientationRequired.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveImportRow(outcome string) { m.importRows.WithLabelValues(outcome).Inc() }

func (m *Metrics) ObservePurged(n int) {
	if n > 0 {
		m.purgedVisitors.Add(float64(n))
	}
}
