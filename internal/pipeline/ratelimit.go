package pipeline

import (
	"fmt"
	"sync"
	"time"

	"killsense/internal/model"
)

// limiter caps notifications for one profile: at most MaxPerWindow inside
// Window, and one per location per Cooldown.
type limiter struct {
	mu    sync.Mutex
	cfg   model.RateLimitConfig
	sent  []time.Time
	byLoc map[int64]time.Time
}

func newLimiter(cfg model.RateLimitConfig) *limiter {
	return &limiter{cfg: cfg, byLoc: make(map[int64]time.Time)}
}

func (l *limiter) configure(cfg model.RateLimitConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cfg = cfg
}

// Allow records a notification at now when permitted. The returned reason
// is empty when allowed.
func (l *limiter) Allow(locationID int64, now time.Time) (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cfg.Cooldown > 0 {
		if ts, ok := l.byLoc[locationID]; ok && now.Sub(ts) < l.cfg.Cooldown {
			return false, fmt.Sprintf("location %d in cooldown", locationID)
		}
	}
	if l.cfg.MaxPerWindow > 0 && l.cfg.Window > 0 {
		l.evict(now.Add(-l.cfg.Window))
		if len(l.sent) >= l.cfg.MaxPerWindow {
			return false, fmt.Sprintf("%d notifications within %s", len(l.sent), l.cfg.Window)
		}
		l.sent = append(l.sent, now)
	}
	if l.cfg.Cooldown > 0 {
		l.byLoc[locationID] = now
		if len(l.byLoc) > 10000 {
			l.compact(now)
		}
	}
	return true, ""
}

func (l *limiter) evict(cutoff time.Time) {
	i := 0
	for i < len(l.sent) && l.sent[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return
	}
	l.sent = append(l.sent[:0], l.sent[i:]...)
}

func (l *limiter) compact(now time.Time) {
	for loc, ts := range l.byLoc {
		if now.Sub(ts) >= l.cfg.Cooldown {
			delete(l.byLoc, loc)
		}
	}
}
