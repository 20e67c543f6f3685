// Package schedule owns the process-wide fetch disciplines: a global
// concurrency bound, per-host mutual exclusion with a post-release
// cooldown, and a single gate serializing PDF extraction. All of the
// state lives inside a Scheduler value injected where it is needed;
// nothing here is ambient.
package schedule

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Scheduler coordinates fetches. Acquire order is fixed: the global slot
// first, then the host's exclusive slot, then the cooldown sleep while the
// host slot is held, so waiters for the same host keep their arrival order.
// The PDF gate is taken after the global slot and released before it.
type Scheduler struct {
	global *semaphore.Weighted
	pdf    *semaphore.Weighted

	coolDown time.Duration

	mu          sync.Mutex
	hosts       map[string]*semaphore.Weighted
	nextAllowed map[string]time.Time

	// now and sleep are test seams.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a Scheduler. concurrentLimit values below 1 are clamped to 1.
func New(concurrentLimit int, coolDown time.Duration) *Scheduler {
	if concurrentLimit < 1 {
		concurrentLimit = 1
	}
	return &Scheduler{
		global:      semaphore.NewWeighted(int64(concurrentLimit)),
		pdf:         semaphore.NewWeighted(1),
		coolDown:    coolDown,
		hosts:       make(map[string]*semaphore.Weighted),
		nextAllowed: make(map[string]time.Time),
		now:         time.Now,
		sleep:       sleepCtx,
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

// Domain extracts the scheduling key for a URL: the hostname lowercased
// with any port stripped. URLs without a hostname map to "".
func Domain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func (s *Scheduler) hostSem(domain string) *semaphore.Weighted {
	s.mu.Lock()
	defer s.mu.Unlock()
	sem, ok := s.hosts[domain]
	if !ok {
		sem = semaphore.NewWeighted(1)
		s.hosts[domain] = sem
	}
	return sem
}

// Acquire claims a fetch slot for rawURL, blocking on the global bound, the
// host's exclusive slot, and any remaining cooldown for the host. It returns
// a release function that must be called exactly once; release records the
// next allowed time for the host. Cancellation unblocks every wait.
func (s *Scheduler) Acquire(ctx context.Context, rawURL string) (func(), error) {
	domain := Domain(rawURL)

	if err := s.global.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	host := s.hostSem(domain)
	if err := host.Acquire(ctx, 1); err != nil {
		s.global.Release(1)
		return nil, err
	}

	// Cooldown sleep happens while holding the host slot so later arrivals
	// cannot jump the queue.
	s.mu.Lock()
	wait := s.nextAllowed[domain].Sub(s.now())
	s.mu.Unlock()
	if wait > 0 {
		if err := s.sleep(ctx, wait); err != nil {
			host.Release(1)
			s.global.Release(1)
			return nil, err
		}
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			s.mu.Lock()
			s.nextAllowed[domain] = s.now().Add(s.coolDown)
			s.mu.Unlock()
			host.Release(1)
			s.global.Release(1)
		})
	}
	return release, nil
}

// AcquirePDF claims the process-wide PDF extraction gate. Callers must
// already hold a fetch slot and must release the gate before releasing it,
// which keeps the lock order deadlock-free.
func (s *Scheduler) AcquirePDF(ctx context.Context) (func(), error) {
	if err := s.pdf.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	var once sync.Once
	return func() { once.Do(func() { s.pdf.Release(1) }) }, nil
}
