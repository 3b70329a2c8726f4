package metrics

import (
	"sync"

	"dialer-platform/internal/events"
)

// Sink updates the registry from core events. It never blocks.
type Sink struct {
	mu       sync.Mutex
	capacity map[string]float64
	status   map[string]string
}

func NewSink() *Sink {
	return &Sink{capacity: map[string]float64{}, status: map[string]string{}}
}

func (s *Sink) Publish(e events.Event) {
	campaign := e.CampaignID
	if campaign == "" {
		return
	}

	switch e.Type {
	case events.TypeCapacityChanged:
		next := float64(e.Capacity)
		s.mu.Lock()
		prev, seen := s.capacity[campaign]
		s.capacity[campaign] = next
		s.mu.Unlock()
		PacingCapacity.WithLabelValues(campaign).Set(next)
		switch {
		case e.Reason == events.ReasonSuspend || e.Reason == events.ReasonResume:
		case seen && next > prev:
			PacingAdjustmentsTotal.WithLabelValues(campaign, "up").Inc()
		case seen && next < prev:
			PacingAdjustmentsTotal.WithLabelValues(campaign, "down").Inc()
		}
	case events.TypeDropRateSample:
		PacingDropRateObserved.WithLabelValues(campaign).Set(e.Observed)
		PacingDropRateSmoothed.WithLabelValues(campaign).Set(e.Smoothed)
		PacingDropRateTarget.WithLabelValues(campaign).Set(e.Target)
	case events.TypeSlotsOccupancy:
		SlotsOccupied.WithLabelValues(campaign).Set(float64(e.Occupied))
	case events.TypeSlotsExhausted:
		SlotsExhaustedTotal.WithLabelValues(campaign).Inc()
	case events.TypeSessionState:
		SessionTransitionsTotal.WithLabelValues(campaign, e.To).Inc()
	case events.TypeSessionArchived:
		SessionsArchivedTotal.WithLabelValues(campaign, e.Code).Inc()
	case events.TypeForcedDisposition:
		ForcedDispositionsTotal.WithLabelValues(campaign).Inc()
	case events.TypeSessionTransfer:
		TransfersTotal.WithLabelValues(campaign, e.Code).Inc()
	case events.TypeCallDropped:
		CallsDroppedTotal.WithLabelValues(campaign).Inc()
	case events.TypeCallDialed:
		CallsDialedTotal.WithLabelValues(campaign).Inc()
	case events.TypeCampaignStatus:
		s.mu.Lock()
		prev := s.status[campaign]
		s.status[campaign] = e.To
		s.mu.Unlock()
		if prev != "" {
			CampaignStatus.WithLabelValues(campaign, prev).Set(0)
		}
		CampaignStatus.WithLabelValues(campaign, e.To).Set(1)
	}
}
