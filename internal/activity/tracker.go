// Package activity keeps per-location sliding windows of recent kills and
// summarises them for the activity signal.
package activity

import (
	"sort"
	"sync"
	"time"

	"killsense/internal/model"
	"killsense/internal/signals"
)

type entry struct {
	ts    time.Time
	pod   bool
	corps []int64
}

// window holds entries in timestamp order. Evicted entries are skipped via
// head and compacted once they make up half the slice.
type window struct {
	entries []entry
	head    int
}

func (w *window) add(e entry) {
	live := w.entries[w.head:]
	i := sort.Search(len(live), func(i int) bool { return live[i].ts.After(e.ts) })
	pos := w.head + i
	w.entries = append(w.entries, entry{})
	copy(w.entries[pos+1:], w.entries[pos:])
	w.entries[pos] = e
}

func (w *window) evict(cutoff time.Time) {
	for w.head < len(w.entries) && w.entries[w.head].ts.Before(cutoff) {
		w.head++
	}
	if w.head > 0 && w.head*2 >= len(w.entries) {
		w.entries = append([]entry{}, w.entries[w.head:]...)
		w.head = 0
	}
}

func (w *window) live() []entry {
	return w.entries[w.head:]
}

type Tracker struct {
	mu    sync.Mutex
	short time.Duration
	long  time.Duration
	byLoc map[int64]*window
	now   func() time.Time
}

func NewTracker(short, long time.Duration) *Tracker {
	if short <= 0 {
		short = 10 * time.Minute
	}
	if long < short {
		long = 24 * time.Hour
	}
	return &Tracker{
		short: short,
		long:  long,
		byLoc: make(map[int64]*window),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the clock used for window cutoffs.
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// Observe records a kill. Kills older than the long window are ignored.
func (t *Tracker) Observe(ev *model.Event) {
	if ev == nil || ev.LocationID == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	ts := ev.Timestamp
	if ts.IsZero() || ts.After(now) {
		ts = now
	}
	if ts.Before(now.Add(-t.long)) {
		return
	}
	w, ok := t.byLoc[ev.LocationID]
	if !ok {
		w = &window{entries: make([]entry, 0, 16)}
		t.byLoc[ev.LocationID] = w
	}
	w.evict(now.Add(-t.long))
	w.add(entry{ts: ts, pod: ev.IsPod, corps: attackerCorps(ev)})
}

// Stats summarises the windows for locationID. It reports false when no
// kill is on record there.
func (t *Tracker) Stats(locationID int64) (signals.ActivityStats, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	w, ok := t.byLoc[locationID]
	if !ok {
		return signals.ActivityStats{}, false
	}
	now := t.now()
	w.evict(now.Add(-t.long))
	live := w.live()
	if len(live) == 0 {
		delete(t.byLoc, locationID)
		return signals.ActivityStats{}, false
	}
	shortCut := now.Add(-t.short)
	hourCut := now.Add(-time.Hour)
	var st signals.ActivityStats
	hours := make(map[int64]struct{})
	var recent []entry
	for _, e := range live {
		hours[e.ts.Unix()/3600] = struct{}{}
		if !e.ts.Before(hourCut) {
			st.LastHour++
		}
		if !e.ts.Before(shortCut) {
			st.Last10m++
			if e.pod {
				st.Pods10m++
			}
			recent = append(recent, e)
		}
	}
	st.ActiveHours = len(hours)
	st.HourlyBaseline = float64(len(live)) / t.long.Hours()
	st.RepeatAttackerShare = repeatShare(recent)
	return st, true
}

// Prune drops locations with no kill inside the long window.
func (t *Tracker) Prune() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-t.long)
	removed := 0
	for loc, w := range t.byLoc {
		w.evict(cutoff)
		if len(w.live()) == 0 {
			delete(t.byLoc, loc)
			removed++
		}
	}
	return removed
}

func (t *Tracker) Locations() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byLoc)
}

func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byLoc = make(map[int64]*window)
}

func attackerCorps(ev *model.Event) []int64 {
	seen := make(map[int64]struct{}, len(ev.Attackers))
	out := make([]int64, 0, len(ev.Attackers))
	for _, a := range ev.Attackers {
		if a.CorporationID == 0 {
			continue
		}
		if _, ok := seen[a.CorporationID]; ok {
			continue
		}
		seen[a.CorporationID] = struct{}{}
		out = append(out, a.CorporationID)
	}
	return out
}

// repeatShare is the fraction of kills that share an attacker corporation
// with at least one other kill in the set.
func repeatShare(kills []entry) float64 {
	if len(kills) < 2 {
		return 0
	}
	counts := make(map[int64]int)
	for _, k := range kills {
		for _, c := range k.corps {
			counts[c]++
		}
	}
	repeated := 0
	for _, k := range kills {
		for _, c := range k.corps {
			if counts[c] > 1 {
				repeated++
				break
			}
		}
	}
	return float64(repeated) / float64(len(kills))
}
