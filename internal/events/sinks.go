package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
)

// LogSink writes every event as a structured log line.
type LogSink struct {
	Log *slog.Logger
}

func (s LogSink) Publish(e Event) {
	l := s.Log
	if l == nil {
		l = slog.Default()
	}
	attrs := []any{"event_id", e.ID, "campaign_id", e.CampaignID}
	if e.AgentID != "" {
		attrs = append(attrs, "agent_id", e.AgentID)
	}
	if e.SessionID != "" {
		attrs = append(attrs, "session_id", e.SessionID)
	}
	if e.From != "" || e.To != "" {
		attrs = append(attrs, "from", e.From, "to", e.To)
	}
	if e.Code != "" {
		attrs = append(attrs, "code", e.Code)
	}
	if e.Reason != "" {
		attrs = append(attrs, "reason", e.Reason)
	}
	switch e.Type {
	case TypeCapacityChanged, TypeSlotsExhausted, TypeSlotsOccupancy:
		attrs = append(attrs, "capacity", e.Capacity, "occupied", e.Occupied)
	case TypeDropRateSample:
		attrs = append(attrs, "observed", e.Observed, "smoothed", e.Smoothed, "target", e.Target)
	}

	switch e.Type {
	case TypeForcedDisposition, TypeCallDropped:
		l.Warn(string(e.Type), attrs...)
	case TypeSlotsOccupancy, TypeDropRateSample:
		l.Debug(string(e.Type), attrs...)
	default:
		l.Info(string(e.Type), attrs...)
	}
}

// RedisSink publishes events as JSON on a per-campaign pub/sub channel.
//
// Publish only enqueues; Run drains the queue. When the queue is full the event is dropped
// and counted, so the core never waits on Redis.
type RedisSink struct {
	rdb    *redis.Client
	prefix string
	queue  chan Event
	log    *slog.Logger

	dropped atomic.Uint64
}

const defaultChannelPrefix = "dialer:events:"

func NewRedisSink(rdb *redis.Client, buffer int, log *slog.Logger) *RedisSink {
	if buffer <= 0 {
		buffer = 1024
	}
	if log == nil {
		log = slog.Default()
	}
	return &RedisSink{rdb: rdb, prefix: defaultChannelPrefix, queue: make(chan Event, buffer), log: log}
}

// Channel returns the pub/sub channel used for a campaign.
func (s *RedisSink) Channel(campaignID string) string {
	return s.prefix + campaignID
}

func (s *RedisSink) Publish(e Event) {
	select {
	case s.queue <- e:
	default:
		s.dropped.Add(1)
	}
}

// Dropped reports events discarded because the queue was full.
func (s *RedisSink) Dropped() uint64 { return s.dropped.Load() }

// Run publishes queued events until ctx is done.
func (s *RedisSink) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-s.queue:
			payload, err := json.Marshal(e)
			if err != nil {
				s.log.Error("event marshal failed", "type", e.Type, "err", err)
				continue
			}
			if err := s.rdb.Publish(ctx, s.Channel(e.CampaignID), payload).Err(); err != nil && ctx.Err() == nil {
				s.log.Warn("event publish failed", "type", e.Type, "campaign_id", e.CampaignID, "err", err)
			}
		}
	}
}
