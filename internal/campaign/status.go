package campaign

import "errors"

// Status is the campaign lifecycle: Draft -> Running <-> Paused -> Completed.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

var (
	ErrNotReady        = errors.New("campaign: not ready")
	ErrInvalidStatus   = errors.New("campaign: invalid status transition")
	ErrNotRunning      = errors.New("campaign: not running")
	ErrBusy            = errors.New("campaign: no dial slot available")
	ErrInvalidLead     = errors.New("campaign: lead requires ref and phone")
	ErrUnknownAgent    = errors.New("campaign: unknown agent")
	ErrUnknownAttempt  = errors.New("campaign: unknown attempt")
	ErrUnknownCampaign = errors.New("campaign: unknown campaign")
	ErrDuplicate       = errors.New("campaign: duplicate id")
)
