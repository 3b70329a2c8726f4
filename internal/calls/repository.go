package calls

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"dialer-platform/internal/stats"
	"dialer-platform/pkg/utils"
)

var ErrInvalidRecord = errors.New("calls: invalid record")

// Repository stores archived sessions. Insert must be idempotent on SessionID.
type Repository interface {
	Insert(ctx context.Context, r Record) error
	List(ctx context.Context, f Filter) ([]Record, error)
}

// Schema creates the archive table. Applied with utils.EnsureSchema at startup.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS call_records (
  session_id text PRIMARY KEY,
  campaign_id text NOT NULL,
  agent_id text NOT NULL DEFAULT '',
  lead_ref text NOT NULL,
  attempt_id text NOT NULL DEFAULT '',
  disposition text NOT NULL,
  forced_disposition boolean NOT NULL DEFAULT false,
  outcome text NOT NULL,
  is_sale boolean NOT NULL DEFAULT false,
  end_reason text NOT NULL DEFAULT '',
  transferred_from text NOT NULL DEFAULT '',
  transfer_target_id text NOT NULL DEFAULT '',
  started_at timestamptz NOT NULL,
  connected_at timestamptz,
  ended_at timestamptz,
  archived_at timestamptz NOT NULL,
  talk_seconds int NOT NULL DEFAULT 0,
  hold_seconds int NOT NULL DEFAULT 0,
  wrap_seconds int NOT NULL DEFAULT 0
)`,
	`CREATE INDEX IF NOT EXISTS call_records_campaign_archived ON call_records (campaign_id, archived_at)`,
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Insert(ctx context.Context, rec Record) error {
	if rec.SessionID == "" || rec.CampaignID == "" {
		return ErrInvalidRecord
	}
	const q = `
INSERT INTO call_records (
  session_id, campaign_id, agent_id, lead_ref, attempt_id, disposition, forced_disposition, outcome,
  is_sale, end_reason, transferred_from, transfer_target_id, started_at, connected_at, ended_at,
  archived_at, talk_seconds, hold_seconds, wrap_seconds
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19
)
ON CONFLICT (session_id) DO NOTHING
`
	return utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, q,
			rec.SessionID,
			rec.CampaignID,
			rec.AgentID,
			rec.LeadRef,
			rec.AttemptID,
			rec.Disposition,
			rec.ForcedDisposition,
			string(rec.Outcome),
			rec.IsSale,
			rec.EndReason,
			rec.TransferredFrom,
			rec.TransferTargetID,
			rec.StartedAt,
			rec.ConnectedAt,
			rec.EndedAt,
			rec.ArchivedAt,
			rec.TalkSeconds,
			rec.HoldSeconds,
			rec.WrapSeconds,
		)
		return err
	})
}

func (r *PostgresRepo) List(ctx context.Context, f Filter) ([]Record, error) {
	q, args := buildListQuery(f)
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Record, 0)
	for rows.Next() {
		var (
			rec     Record
			outcome string
		)
		if err := rows.Scan(
			&rec.SessionID,
			&rec.CampaignID,
			&rec.AgentID,
			&rec.LeadRef,
			&rec.AttemptID,
			&rec.Disposition,
			&rec.ForcedDisposition,
			&outcome,
			&rec.IsSale,
			&rec.EndReason,
			&rec.TransferredFrom,
			&rec.TransferTargetID,
			&rec.StartedAt,
			&rec.ConnectedAt,
			&rec.EndedAt,
			&rec.ArchivedAt,
			&rec.TalkSeconds,
			&rec.HoldSeconds,
			&rec.WrapSeconds,
		); err != nil {
			return nil, err
		}
		rec.Outcome = statsOutcome(outcome)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func buildListQuery(f Filter) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.CampaignID != "" {
		add("campaign_id = $%d", f.CampaignID)
	}
	if f.AgentID != "" {
		add("agent_id = $%d", f.AgentID)
	}
	if !f.From.IsZero() {
		add("archived_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("archived_at < $%d", f.To)
	}

	var b strings.Builder
	b.WriteString(`
SELECT session_id, campaign_id, agent_id, lead_ref, attempt_id, disposition, forced_disposition, outcome,
  is_sale, end_reason, transferred_from, transfer_target_id, started_at, connected_at, ended_at,
  archived_at, talk_seconds, hold_seconds, wrap_seconds
FROM call_records`)
	if len(where) > 0 {
		b.WriteString("\nWHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString("\nORDER BY archived_at ASC")
	if f.Limit > 0 {
		args = append(args, f.Limit)
		fmt.Fprintf(&b, "\nLIMIT $%d", len(args))
	}
	return b.String(), args
}

func statsOutcome(s string) stats.Outcome {
	o := stats.Outcome(s)
	if !o.Valid() {
		return ""
	}
	return o
}
