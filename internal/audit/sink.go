package audit

import (
	"context"
	"log/slog"
	"sync/atomic"

	"dialer-platform/internal/events"
)

// Sink turns recovery events from the bus into audit records.
// Publish only enqueues; Run performs the writes.
type Sink struct {
	svc   *Service
	log   *slog.Logger
	queue chan events.Event

	dropped atomic.Uint64
}

func NewSink(svc *Service, buffer int, log *slog.Logger) *Sink {
	if buffer <= 0 {
		buffer = 256
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sink{svc: svc, log: log, queue: make(chan events.Event, buffer)}
}

func (s *Sink) Publish(e events.Event) {
	switch e.Type {
	case events.TypeForcedDisposition, events.TypeCallDropped:
	default:
		return
	}
	select {
	case s.queue <- e:
	default:
		s.dropped.Add(1)
	}
}

func (s *Sink) Dropped() uint64 { return s.dropped.Load() }

func (s *Sink) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-s.queue:
			if err := s.write(ctx, e); err != nil {
				s.log.Warn("audit append failed", "type", string(e.Type), "campaign_id", e.CampaignID, "err", err)
			}
		}
	}
}

func (s *Sink) write(ctx context.Context, e events.Event) error {
	if e.Type == events.TypeForcedDisposition {
		return s.svc.LogForcedDisposition(ctx, e.CampaignID, e.AgentID, e.SessionID, e.Code)
	}
	return s.svc.Append(ctx, Event{
		CampaignID: e.CampaignID,
		Type:       EventTypeCallDropped,
		ActorID:    ActorSystem,
		SessionID:  e.SessionID,
		Message:    e.Reason,
		CreatedAt:  e.At,
	})
}
