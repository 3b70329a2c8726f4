// Package metrics exposes dialer core state to Prometheus.
// Metrics are fed from the event bus by Sink; nothing in the core imports this package directly.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the custom prometheus registry for the dialer.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

const namespace = "dialer"

// =============================================================================
// PACING
// =============================================================================

// PacingCapacity is the capacity the controller last applied to the slot pool.
var PacingCapacity = factory.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "pacing",
	Name:      "capacity",
	Help:      "Current dial slot capacity per campaign",
}, []string{"campaign"})

var PacingDropRateObserved = factory.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "pacing",
	Name:      "drop_rate_observed",
	Help:      "Drop rate read from the rolling outcome window on the last tick",
}, []string{"campaign"})

var PacingDropRateSmoothed = factory.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "pacing",
	Name:      "drop_rate_smoothed",
	Help:      "Exponentially smoothed drop rate",
}, []string{"campaign"})

var PacingDropRateTarget = factory.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "pacing",
	Name:      "drop_rate_target",
	Help:      "Configured target drop rate",
}, []string{"campaign"})

var PacingAdjustmentsTotal = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "pacing",
	Name:      "adjustments_total",
	Help:      "Capacity changes by direction",
}, []string{"campaign", "direction"})

// =============================================================================
// SLOTS
// =============================================================================

var SlotsOccupied = factory.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "slots",
	Name:      "occupied",
	Help:      "Dial slots currently dialing or bridged",
}, []string{"campaign"})

// SlotsExhaustedTotal counts Busy answers from the pool (backpressure, not failures).
var SlotsExhaustedTotal = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "slots",
	Name:      "exhausted_total",
	Help:      "Acquisitions refused because occupancy reached capacity",
}, []string{"campaign"})

// =============================================================================
// SESSIONS
// =============================================================================

var SessionTransitionsTotal = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "session",
	Name:      "transitions_total",
	Help:      "Agent session state transitions by target state",
}, []string{"campaign", "to"})

var SessionsArchivedTotal = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "session",
	Name:      "archived_total",
	Help:      "Sessions archived by disposition code",
}, []string{"campaign", "code"})

var ForcedDispositionsTotal = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "session",
	Name:      "forced_dispositions_total",
	Help:      "Sessions released by the wrap-up timeout",
}, []string{"campaign"})

var TransfersTotal = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "session",
	Name:      "transfers_total",
	Help:      "Completed transfers by policy",
}, []string{"campaign", "policy"})

var CallsDroppedTotal = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "calls",
	Name:      "dropped_total",
	Help:      "Answered calls dropped with no agent available",
}, []string{"campaign"})

var CallsDialedTotal = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "calls",
	Name:      "dialed_total",
	Help:      "Outbound attempts handed to the telephony layer",
}, []string{"campaign"})

// CampaignStatus is 1 for the campaign's current status label and 0 otherwise.
var CampaignStatus = factory.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "campaign",
	Name:      "status",
	Help:      "Campaign lifecycle status",
}, []string{"campaign", "status"})

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

// ResetCampaign removes every series labeled with campaign.
func ResetCampaign(campaign string) {
	labels := prometheus.Labels{"campaign": campaign}
	for _, v := range []*prometheus.GaugeVec{PacingCapacity, PacingDropRateObserved, PacingDropRateSmoothed, PacingDropRateTarget, SlotsOccupied, CampaignStatus} {
		v.DeletePartialMatch(labels)
	}
	for _, v := range []*prometheus.CounterVec{PacingAdjustmentsTotal, SlotsExhaustedTotal, SessionTransitionsTotal, SessionsArchivedTotal, ForcedDispositionsTotal, TransfersTotal, CallsDroppedTotal, CallsDialedTotal} {
		v.DeletePartialMatch(labels)
	}
}
