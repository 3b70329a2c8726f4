package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake is a manually advanced Clock for deterministic tests and simulations.
// Callbacks registered with AfterFunc run synchronously inside Advance, in deadline order,
// without the fake's lock held (callbacks may schedule more timers).
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	seq     int
	timers  []*fakeTimer
	tickers []*fakeTicker
}

// NewFake returns a Fake starting at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	t := &fakeTimer{clock: f, at: f.now.Add(d), seq: f.seq, fn: fn}
	f.timers = append(f.timers, t)
	return t
}

func (f *Fake) NewTicker(d time.Duration) Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTicker{clock: f, every: d, next: f.now.Add(d), ch: make(chan time.Time, 1)}
	f.tickers = append(f.tickers, t)
	return t
}

// Advance moves the clock forward by d, firing due timers and tickers along the way.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()

	for {
		t := f.popDue(target)
		if t == nil {
			break
		}
		t.fn()
	}

	f.mu.Lock()
	f.now = target
	tickers := append([]*fakeTicker(nil), f.tickers...)
	f.mu.Unlock()

	for _, tk := range tickers {
		tk.fire(target)
	}
}

// Pending reports how many timers are still scheduled.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.timers)
}

func (f *Fake) popDue(target time.Time) *fakeTimer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.timers) == 0 {
		return nil
	}
	sort.SliceStable(f.timers, func(i, j int) bool {
		if f.timers[i].at.Equal(f.timers[j].at) {
			return f.timers[i].seq < f.timers[j].seq
		}
		return f.timers[i].at.Before(f.timers[j].at)
	})
	t := f.timers[0]
	if t.at.After(target) {
		return nil
	}
	f.timers = f.timers[1:]
	if t.at.After(f.now) {
		f.now = t.at
	}
	return t
}

func (f *Fake) remove(t *fakeTimer) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, x := range f.timers {
		if x == t {
			f.timers = append(f.timers[:i], f.timers[i+1:]...)
			return true
		}
	}
	return false
}

func (f *Fake) removeTicker(t *fakeTicker) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, x := range f.tickers {
		if x == t {
			f.tickers = append(f.tickers[:i], f.tickers[i+1:]...)
			return
		}
	}
}

type fakeTimer struct {
	clock *Fake
	at    time.Time
	seq   int
	fn    func()
}

func (t *fakeTimer) Stop() bool { return t.clock.remove(t) }

type fakeTicker struct {
	clock *Fake
	every time.Duration
	next  time.Time
	ch    chan time.Time
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }

func (t *fakeTicker) Stop() { t.clock.removeTicker(t) }

// fire delivers at most one pending tick; like time.Ticker, slow receivers miss ticks.
func (t *fakeTicker) fire(now time.Time) {
	if t.every <= 0 || now.Before(t.next) {
		return
	}
	for !now.Before(t.next) {
		t.next = t.next.Add(t.every)
	}
	select {
	case t.ch <- now:
	default:
	}
}
