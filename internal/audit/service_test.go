package audit

import (
	"context"
	"testing"
	"time"

	"dialer-platform/internal/events"
)

func TestService_AppendRequiresCampaignAndType(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.Append(context.Background(), Event{Type: EventTypeCampaignCommand}); err == nil {
		t.Fatalf("expected error")
	}
	if err := svc.Append(context.Background(), Event{CampaignID: "c"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestService_AppendsImmutableEvents(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.LogCampaignCommand(context.Background(), "c1", "pause", Actor{ID: "u", Role: "supervisor", IP: "1.2.3.4"}); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := svc.LogTargetChange(context.Background(), "c1", 0.03, 0.05, Actor{ID: "u"}); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	evs := repo.Events()
	if len(evs) != 2 {
		t.Fatalf("expected 2 events, got %d", len(evs))
	}
	if evs[0].IPAddress != "1.2.3.4" || evs[0].Message != "pause" {
		t.Fatalf("unexpected command event %+v", evs[0])
	}
	if evs[1].Type != EventTypeTargetChange || evs[1].ID == "" || evs[1].CreatedAt.IsZero() {
		t.Fatalf("unexpected target event %+v", evs[1])
	}
}

func TestSink_RecordsForcedDispositions(t *testing.T) {
	repo := NewMemoryRepo()
	sink := NewSink(NewService(repo), 4, nil)

	sink.Publish(events.Event{Type: events.TypeSessionState, CampaignID: "c1"})
	sink.Publish(events.Event{Type: events.TypeForcedDisposition, CampaignID: "c1", AgentID: "a1", SessionID: "s1", Code: "WRAPUP_TIMEOUT"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = sink.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for len(repo.Events()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	evs := repo.Events()
	if len(evs) != 1 {
		t.Fatalf("expected 1 audit event, got %d", len(evs))
	}
	if evs[0].Type != EventTypeForcedDisposition || evs[0].ActorID != ActorSystem || evs[0].SessionID != "s1" {
		t.Fatalf("unexpected audit event %+v", evs[0])
	}
}
