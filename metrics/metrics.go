// Package metrics exposes Prometheus instrumentation for scans,
// reconciliation and distributions.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ScansTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "campaign_engine",
		Name:      "scans_total",
		Help:      "Number of full ledger scans performed.",
	})

	ScanReadFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "campaign_engine",
		Name:      "scan_read_failures_total",
		Help:      "Campaign reads that failed during scans, per chain.",
	}, []string{"chain_id"})

	DiscrepanciesFound = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "campaign_engine",
		Name:      "discrepancies",
		Help:      "Discrepancies found by the most recent scan, per kind.",
	}, []string{"kind"})

	DistributionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "campaign_engine",
		Name:      "distributions_total",
		Help:      "Distribution attempts by kind and terminal status.",
	}, []string{"kind", "status"})

	SettingsChangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "campaign_engine",
		Name:      "settings_changes_total",
		Help:      "Settings-change transitions by type and status.",
	}, []string{"type", "status"})
)

// Handler serves the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
