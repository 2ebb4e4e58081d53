// Package metrics holds the Prometheus instruments shared by the engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	bidsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_bids_total",
			Help: "Bid submissions by result (accepted or a rejection code)",
		},
		[]string{"result"},
	)

	arbitrationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "auction_arbitration_duration_seconds",
			Help:    "Time spent inside the per-lot locked section",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
	)

	leadershipChanges = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "auction_leadership_changes_total",
			Help: "Accepted bids that replaced the leading bidder",
		},
	)

	lotExtensions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "auction_lot_extensions_total",
			Help: "Soft-close extensions applied to ends_at",
		},
	)

	gatewayRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_gateway_requests_total",
			Help: "Payment gateway calls by operation and result",
		},
		[]string{"operation", "result"},
	)

	gatewayDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "auction_gateway_request_duration_seconds",
			Help:    "Payment gateway call latency including retries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	compensationFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "auction_compensation_failures_total",
			Help: "Hold releases that failed and were queued for reconciliation",
		},
	)

	lotsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_lots_closed_total",
			Help: "Lots closed by the settlement scheduler by result",
		},
		[]string{"result"},
	)

	captures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_settlement_captures_total",
			Help: "Settlement captures by result (paid or flagged)",
		},
		[]string{"result"},
	)

	changePublishes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_change_stream_publishes_total",
			Help: "Change-stream and dispatcher publishes by stream and result",
		},
		[]string{"stream", "result"},
	)
)

// Handler exposes the default registry for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}

func TrackBid(result string) { bidsTotal.WithLabelValues(result).Inc() }

func TrackArbitration(d time.Duration) { arbitrationDuration.Observe(d.Seconds()) }

func TrackLeadershipChange() { leadershipChanges.Inc() }

func TrackExtension() { lotExtensions.Inc() }

func TrackGateway(operation, result string, d time.Duration) {
	gatewayRequests.WithLabelValues(operation, result).Inc()
	gatewayDuration.WithLabelValues(operation).Observe(d.Seconds())
}

func TrackCompensationFailure() { compensationFailures.Inc() }

func TrackLotClosed(result string) { lotsClosed.WithLabelValues(result).Inc() }

func TrackCapture(result string) { captures.WithLabelValues(result).Inc() }

func TrackPublish(stream string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	changePublishes.WithLabelValues(stream, result).Inc()
}
