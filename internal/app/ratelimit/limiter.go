package ratelimit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/windrunne/6ix-app/internal/app/clock"
)

// window holds the recorded hit timestamps for one identity:scope key.
// hits stays sorted ascending; maxWindow is the longest window any quota
// has checked against this key, which bounds both purging and eviction.
type window struct {
	mu        sync.Mutex
	hits      []time.Time
	maxWindow time.Duration
	touched   time.Time
	dead      bool
}

// MemoryLimiter is an exact sliding-window limiter. Each key carries its
// own lock; multi-key operations lock in sorted key order, so concurrent
// callers serialize per key without an engine-wide lock.
type MemoryLimiter struct {
	mu      sync.RWMutex
	windows map[string]*window
	clock   clock.Clock
}

var _ Limiter = (*MemoryLimiter)(nil)

// NewMemoryLimiter creates a limiter. A nil clk defaults to the system
// clock.
func NewMemoryLimiter(clk clock.Clock) *MemoryLimiter {
	if clk == nil {
		clk = clock.System()
	}
	return &MemoryLimiter{
		windows: make(map[string]*window),
		clock:   clk,
	}
}

// Allow checks every quota for the identity and records the call only if
// all of them admit it. Quotas sharing a scope share one hit series, so an
// hourly and a daily cap on the same scope count the same events.
func (l *MemoryLimiter) Allow(_ context.Context, identity string, quotas ...Quota) (Decision, error) {
	if len(quotas) == 0 {
		return Decision{Allowed: true}, nil
	}

	keys, perKey := groupByKey(identity, quotas)
	windows := l.acquire(keys, perKey)
	defer func() {
		for i := len(windows) - 1; i >= 0; i-- {
			windows[i].mu.Unlock()
		}
	}()

	now := l.clock.Now()

	minRemaining := -1
	for i, k := range keys {
		w := windows[i]
		w.purge(now)

		for _, q := range perKey[k].quotas {
			count := w.countSince(now.Add(-q.Window))
			if count >= q.Limit {
				return Decision{
					Scope:      q.Scope,
					RetryAfter: w.retryAfter(now, q, count),
				}, nil
			}
			if headroom := q.Limit - count - 1; minRemaining < 0 || headroom < minRemaining {
				minRemaining = headroom
			}
		}
	}

	for _, w := range windows {
		w.hits = append(w.hits, now)
		w.touched = now
	}
	return Decision{Allowed: true, Remaining: minRemaining}, nil
}

// EvictStale drops windows that are empty and have been idle for longer
// than their window. Returns the number of evicted entries.
func (l *MemoryLimiter) EvictStale(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	evicted := 0
	for key, w := range l.windows {
		w.mu.Lock()
		w.purge(now)
		if len(w.hits) == 0 && now.Sub(w.touched) > w.maxWindow {
			w.dead = true
			delete(l.windows, key)
			evicted++
		}
		w.mu.Unlock()
	}
	return evicted
}

type keyQuotas struct {
	maxWindow time.Duration
	quotas    []Quota
}

func groupByKey(identity string, quotas []Quota) ([]string, map[string]*keyQuotas) {
	perKey := make(map[string]*keyQuotas, len(quotas))
	keys := make([]string, 0, len(quotas))
	for _, q := range quotas {
		k := windowKey(identity, q.Scope)
		kq, ok := perKey[k]
		if !ok {
			kq = &keyQuotas{}
			perKey[k] = kq
			keys = append(keys, k)
		}
		kq.quotas = append(kq.quotas, q)
		if q.Window > kq.maxWindow {
			kq.maxWindow = q.Window
		}
	}
	sort.Strings(keys)
	return keys, perKey
}

// acquire resolves and locks the windows for keys (already sorted). A
// window evicted between lookup and lock is marked dead; drop the locks
// and resolve again.
func (l *MemoryLimiter) acquire(keys []string, perKey map[string]*keyQuotas) []*window {
	for {
		windows := make([]*window, len(keys))
		for i, k := range keys {
			windows[i] = l.lookup(k, perKey[k].maxWindow)
		}

		ok := true
		for i, w := range windows {
			w.mu.Lock()
			if w.dead {
				for j := i; j >= 0; j-- {
					windows[j].mu.Unlock()
				}
				ok = false
				break
			}
			if mw := perKey[keys[i]].maxWindow; mw > w.maxWindow {
				w.maxWindow = mw
			}
		}
		if ok {
			return windows
		}
	}
}

func (l *MemoryLimiter) lookup(key string, maxWindow time.Duration) *window {
	l.mu.RLock()
	w, ok := l.windows[key]
	l.mu.RUnlock()
	if ok {
		return w
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if w, ok := l.windows[key]; ok {
		return w
	}
	w = &window{maxWindow: maxWindow, touched: l.clock.Now()}
	l.windows[key] = w
	return w
}

func (w *window) purge(now time.Time) {
	cutoff := now.Add(-w.maxWindow)
	idx := sort.Search(len(w.hits), func(i int) bool {
		return !w.hits[i].Before(cutoff)
	})
	if idx > 0 {
		w.hits = append(w.hits[:0], w.hits[idx:]...)
	}
}

func (w *window) countSince(cutoff time.Time) int {
	idx := sort.Search(len(w.hits), func(i int) bool {
		return !w.hits[i].Before(cutoff)
	})
	return len(w.hits) - idx
}

// retryAfter is how long until enough in-window hits age out for one more
// call to pass the quota.
func (w *window) retryAfter(now time.Time, q Quota, count int) time.Duration {
	inWindow := w.hits[len(w.hits)-count:]
	blocking := inWindow[count-q.Limit]
	return blocking.Add(q.Window).Sub(now)
}
