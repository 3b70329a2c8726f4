package calls

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Archiver writes records off the hot path. Enqueue never blocks; a full queue drops the
// record and counts it, so an unavailable database never stalls agents or pacing.
type Archiver struct {
	repo    Repository
	log     *slog.Logger
	queue   chan Record
	timeout time.Duration

	written atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

func NewArchiver(repo Repository, buffer int, log *slog.Logger) *Archiver {
	if buffer <= 0 {
		buffer = 1024
	}
	if log == nil {
		log = slog.Default()
	}
	return &Archiver{repo: repo, log: log, queue: make(chan Record, buffer), timeout: 5 * time.Second}
}

func (a *Archiver) Enqueue(r Record) bool {
	select {
	case a.queue <- r:
		return true
	default:
		a.dropped.Add(1)
		a.log.Error("call archive queue full, record dropped", "session_id", r.SessionID, "campaign_id", r.CampaignID)
		return false
	}
}

// Run drains the queue until ctx is done, then flushes what is left.
func (a *Archiver) Run(ctx context.Context) error {
	for {
		select {
		case r := <-a.queue:
			a.write(ctx, r)
		case <-ctx.Done():
			a.flush()
			return nil
		}
	}
}

func (a *Archiver) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	for {
		select {
		case r := <-a.queue:
			a.write(ctx, r)
		default:
			return
		}
	}
}

func (a *Archiver) write(ctx context.Context, r Record) {
	wctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	if err := a.repo.Insert(wctx, r); err != nil {
		a.failed.Add(1)
		a.log.Error("call archive insert failed", "session_id", r.SessionID, "campaign_id", r.CampaignID, "err", err)
		return
	}
	a.written.Add(1)
}

// ArchiverStats are cumulative counters.
type ArchiverStats struct {
	Written uint64 `json:"written"`
	Dropped uint64 `json:"dropped"`
	Failed  uint64 `json:"failed"`
	Queued  int    `json:"queued"`
}

func (a *Archiver) Stats() ArchiverStats {
	return ArchiverStats{
		Written: a.written.Load(),
		Dropped: a.dropped.Load(),
		Failed:  a.failed.Load(),
		Queued:  len(a.queue),
	}
}
