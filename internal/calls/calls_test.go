package calls

import (
	"context"
	"strings"
	"testing"
	"time"

	"dialer-platform/internal/dispositions"
	"dialer-platform/internal/session"
	"dialer-platform/internal/stats"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func archivedSession(id string, at time.Time) session.Session {
	connected := at.Add(5 * time.Second)
	ended := connected.Add(95 * time.Second)
	archived := ended.Add(12 * time.Second)
	return session.Session{
		ID:           id,
		CampaignID:   "camp-1",
		AgentID:      "agent-1",
		LeadRef:      "lead-" + id,
		StartedAt:    at,
		ConnectedAt:  &connected,
		EndedAt:      &ended,
		ArchivedAt:   &archived,
		HoldDuration: 15 * time.Second,
		Disposition:  "SALE",
		Outcome:      stats.OutcomeAnswered,
	}
}

func TestFromSession_ComputesDurations(t *testing.T) {
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	rec := FromSession(archivedSession("s1", start), dispositions.Code{ID: "SALE", IsSale: true})

	assert.Equal(t, 80, rec.TalkSeconds)
	assert.Equal(t, 15, rec.HoldSeconds)
	assert.Equal(t, 12, rec.WrapSeconds)
	assert.True(t, rec.IsSale)
	assert.Equal(t, start.Add(112*time.Second), rec.ArchivedAt)
}

func TestMemoryRepo_InsertIsIdempotentAndFilters(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	r1 := FromSession(archivedSession("s1", base), dispositions.Code{})
	r2 := FromSession(archivedSession("s2", base.Add(time.Hour)), dispositions.Code{})
	r2.CampaignID = "camp-2"

	require.NoError(t, repo.Insert(ctx, r1))
	require.NoError(t, repo.Insert(ctx, r1))
	require.NoError(t, repo.Insert(ctx, r2))
	require.ErrorIs(t, repo.Insert(ctx, Record{}), ErrInvalidRecord)

	all, err := repo.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, "s1", all[0].SessionID)

	camp, _ := repo.List(ctx, Filter{CampaignID: "camp-1"})
	assert.Len(t, camp, 1)

	window, _ := repo.List(ctx, Filter{From: base.Add(30 * time.Minute), To: base.Add(2 * time.Hour)})
	require.Len(t, window, 1)
	assert.Equal(t, "s2", window[0].SessionID)
}

func TestBuildListQuery(t *testing.T) {
	q, args := buildListQuery(Filter{CampaignID: "c", From: time.Unix(1, 0), Limit: 10})
	assert.Contains(t, q, "WHERE campaign_id = $1 AND archived_at >= $2")
	assert.True(t, strings.HasSuffix(q, "LIMIT $3"))
	assert.Len(t, args, 3)
}

type failingRepo struct{}

func (failingRepo) Insert(context.Context, Record) error { return assert.AnError }
func (failingRepo) List(context.Context, Filter) ([]Record, error) {
	return nil, nil
}

func TestArchiver_WritesAndFlushesOnShutdown(t *testing.T) {
	repo := NewMemoryRepo()
	a := NewArchiver(repo, 8, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	require.True(t, a.Enqueue(FromSession(archivedSession("s1", base), dispositions.Code{})))

	require.Eventually(t, func() bool { return a.Stats().Written == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	recs, _ := repo.List(context.Background(), Filter{})
	assert.Len(t, recs, 1)
}

func TestArchiver_DropsWhenFullAndCountsFailures(t *testing.T) {
	a := NewArchiver(failingRepo{}, 1, nil)
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	assert.True(t, a.Enqueue(FromSession(archivedSession("s1", base), dispositions.Code{})))
	assert.False(t, a.Enqueue(FromSession(archivedSession("s2", base), dispositions.Code{})))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, a.Run(ctx))

	st := a.Stats()
	assert.Equal(t, uint64(1), st.Dropped)
	assert.Equal(t, uint64(1), st.Failed)
	assert.Equal(t, 0, st.Queued)
}
