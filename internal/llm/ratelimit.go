package llm

import (
	"context"
	"sync"
	"time"
)

// rateWindow enforces a sliding 60-second cap on request starts. The (N+1)-th
// request begins no sooner than 60 seconds after the earliest request still
// inside the window. A limit of zero or below disables the window entirely.
type rateWindow struct {
	limit int

	mu    sync.Mutex
	times []time.Time
	// now and sleep are test seams.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func newRateWindow(limit int) *rateWindow {
	return &rateWindow{
		limit: limit,
		now:   time.Now,
		sleep: sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Wait blocks until a request slot is available, then records the request
// start. The lock is released while sleeping, so another caller may claim
// the freed slot first; the window is re-checked after every wake and the
// slot is only taken when occupancy is below the limit. It returns early
// only when ctx is cancelled.
func (w *rateWindow) Wait(ctx context.Context) error {
	if w == nil || w.limit <= 0 {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	for {
		now := w.now()
		w.prune(now)
		if len(w.times) < w.limit {
			w.times = append(w.times, now)
			return nil
		}
		// Entries surviving prune are strictly inside the window, so the
		// wait is always positive.
		wait := w.times[0].Add(60 * time.Second).Sub(now)
		w.mu.Unlock()
		err := w.sleep(ctx, wait)
		w.mu.Lock()
		if err != nil {
			return err
		}
	}
}

func (w *rateWindow) prune(now time.Time) {
	keep := w.times[:0]
	for _, t := range w.times {
		if now.Sub(t) < 60*time.Second {
			keep = append(keep, t)
		}
	}
	w.times = keep
}
