package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// No Update/Delete methods are provided by design.
type Repository interface {
	Append(ctx context.Context, e Event) error
	ListByCampaign(ctx context.Context, q Query) ([]Event, error)
}

// Query selects a campaign's audit trail, newest first. Empty Types matches all.
type Query struct {
	CampaignID string
	Types      []EventType
	Limit      int
}

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// Service logs internal audit information.
//
// Audit is internal-only. Callers treat audit logging as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.CampaignID == "" {
		return ErrInvalidEvent
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// List returns the campaign's audit trail, newest first.
func (s *Service) List(ctx context.Context, q Query) ([]Event, error) {
	if s.repo == nil {
		return nil, errors.New("audit: repository not configured")
	}
	if q.CampaignID == "" {
		return nil, ErrInvalidEvent
	}
	switch {
	case q.Limit <= 0:
		q.Limit = defaultListLimit
	case q.Limit > maxListLimit:
		q.Limit = maxListLimit
	}
	return s.repo.ListByCampaign(ctx, q)
}

// Actor identifies who issued a command.
type Actor struct {
	ID   string
	Role string
	IP   string
}

// LogCampaignCommand records start/pause/resume/stop issued by an operator.
func (s *Service) LogCampaignCommand(ctx context.Context, campaignID, command string, actor Actor) error {
	return s.Append(ctx, Event{
		CampaignID: campaignID,
		Type:       EventTypeCampaignCommand,
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		IPAddress:  actor.IP,
		Message:    command,
	})
}

// LogTargetChange records a target drop rate reconfiguration.
func (s *Service) LogTargetChange(ctx context.Context, campaignID string, from, to float64, actor Actor) error {
	return s.Append(ctx, Event{
		CampaignID: campaignID,
		Type:       EventTypeTargetChange,
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		IPAddress:  actor.IP,
		Message:    fmt.Sprintf("target drop rate %.4f -> %.4f", from, to),
		Metadata:   fmt.Sprintf(`{"from":%g,"to":%g}`, from, to),
	})
}

// LogForcedDisposition records a session closed by the wrap-up timeout.
func (s *Service) LogForcedDisposition(ctx context.Context, campaignID, agentID, sessionID, code string) error {
	return s.Append(ctx, Event{
		CampaignID: campaignID,
		Type:       EventTypeForcedDisposition,
		ActorID:    ActorSystem,
		AgentID:    agentID,
		SessionID:  sessionID,
		Message:    "wrap-up timeout, disposition " + code,
	})
}
