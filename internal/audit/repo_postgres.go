package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Schema creates audit_events. Applied with utils.EnsureSchema at startup.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS audit_events (
  id text PRIMARY KEY,
  campaign_id text NOT NULL,
  type text NOT NULL,
  actor_id text NOT NULL DEFAULT '',
  actor_role text NOT NULL DEFAULT '',
  ip_address text NOT NULL DEFAULT '',
  agent_id text NOT NULL DEFAULT '',
  session_id text NOT NULL DEFAULT '',
  message text NOT NULL DEFAULT '',
  metadata text NOT NULL DEFAULT '',
  created_at timestamptz NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS audit_events_campaign_created ON audit_events (campaign_id, created_at)`,
}

// PostgresRepo appends to audit_events. No UPDATE or DELETE statements exist here.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events (
  id, campaign_id, type, actor_id, actor_role, ip_address, agent_id, session_id, message, metadata, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.CampaignID,
		string(e.Type),
		e.ActorID,
		e.ActorRole,
		e.IPAddress,
		e.AgentID,
		e.SessionID,
		e.Message,
		e.Metadata,
		e.CreatedAt,
	)
	return err
}

func (r *PostgresRepo) ListByCampaign(ctx context.Context, q Query) ([]Event, error) {
	var b strings.Builder
	b.WriteString(`
SELECT id, campaign_id, type, actor_id, actor_role, ip_address, agent_id, session_id, message, metadata, created_at
FROM audit_events
WHERE campaign_id = $1`)
	args := []any{q.CampaignID}
	if len(q.Types) > 0 {
		ph := make([]string, len(q.Types))
		for i, t := range q.Types {
			args = append(args, string(t))
			ph[i] = fmt.Sprintf("$%d", len(args))
		}
		b.WriteString(" AND type IN (" + strings.Join(ph, ",") + ")")
	}
	b.WriteString(" ORDER BY created_at DESC")
	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e   Event
			typ string
		)
		if err := rows.Scan(&e.ID, &e.CampaignID, &typ, &e.ActorID, &e.ActorRole, &e.IPAddress, &e.AgentID, &e.SessionID, &e.Message, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Type = EventType(typ)
		out = append(out, e)
	}
	return out, rows.Err()
}
