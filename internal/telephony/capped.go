package telephony

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"dialer-platform/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// CappedDialer enforces a trunk-wide concurrent call cap shared by every dialer process
// through a Redis counter. Slot pools cap a single campaign; the trunk cap protects the carrier.
type CappedDialer struct {
	next  Dialer
	rdb   *redis.Client
	key   string
	limit int
	ttl   time.Duration
	log   *slog.Logger

	mu   sync.Mutex
	held map[string]struct{}
}

func NewCappedDialer(next Dialer, rdb *redis.Client, key string, limit int, ttl time.Duration, log *slog.Logger) (*CappedDialer, error) {
	if next == nil {
		return nil, errors.New("telephony: capped dialer requires an inner dialer")
	}
	if limit <= 0 {
		return nil, errors.New("telephony: trunk cap must be > 0")
	}
	if key == "" {
		key = "dialer:trunk:active"
	}
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	if log == nil {
		log = slog.Default()
	}
	return &CappedDialer{next: next, rdb: rdb, key: key, limit: limit, ttl: ttl, log: log, held: map[string]struct{}{}}, nil
}

func (d *CappedDialer) Name() string { return d.next.Name() + "+trunkcap" }

func (d *CappedDialer) Dial(ctx context.Context, req DialRequest) (string, error) {
	ok, err := utils.AcquireTrunkSlot(ctx, d.rdb, d.key, d.limit, d.ttl)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrTrunkBusy
	}
	id, err := d.next.Dial(ctx, req)
	if err != nil {
		if rerr := utils.ReleaseTrunkSlot(ctx, d.rdb, d.key); rerr != nil {
			d.log.Warn("trunk slot release failed", "err", rerr)
		}
		return "", err
	}
	d.mu.Lock()
	d.held[id] = struct{}{}
	d.mu.Unlock()
	return id, nil
}

// Hangup releases the trunk slot once per attempt.
func (d *CappedDialer) Hangup(ctx context.Context, attemptID string) error {
	err := d.next.Hangup(ctx, attemptID)

	d.mu.Lock()
	_, held := d.held[attemptID]
	delete(d.held, attemptID)
	d.mu.Unlock()

	if held {
		if rerr := utils.ReleaseTrunkSlot(ctx, d.rdb, d.key); rerr != nil {
			d.log.Warn("trunk slot release failed", "attempt_id", attemptID, "err", rerr)
			if err == nil {
				err = rerr
			}
		}
	}
	return err
}

// Usage reads the current trunk-wide count.
func (d *CappedDialer) Usage(ctx context.Context) (int, error) {
	return utils.TrunkUsage(ctx, d.rdb, d.key)
}
