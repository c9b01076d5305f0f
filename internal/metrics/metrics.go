// Package metrics holds the Prometheus collectors of the settlement path.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SettlementsTotal counts purchase attempts by outcome kind ("none" on success).
var SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "marketplace",
	Name:      "settlements_total",
	Help:      "Purchase settlement attempts by outcome",
}, []string{"outcome"})

var SettlementDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "marketplace",
	Name:      "settlement_duration_seconds",
	Help:      "Latency of purchase settlements including commit or rollback",
	Buckets:   prometheus.DefBuckets,
}, []string{"outcome"})

// SettledVolume accumulates charged totals per payment method
var SettledVolume = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "marketplace",
	Name:      "settled_volume_total",
	Help:      "Sum of charged totals of committed purchases by payment method",
}, []string{"method"})

var PlatformFees = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "marketplace",
	Name:      "platform_fees_total",
	Help:      "Sum of service fees retained by the platform",
})

// SellerCreditSkipped counts purchases whose product owner no longer exists
var SellerCreditSkipped = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "marketplace",
	Name:      "seller_credit_skipped_total",
	Help:      "Committed purchases where the seller record was missing and no credit was applied",
})
