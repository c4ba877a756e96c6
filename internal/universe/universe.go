// Package universe answers security and jump-distance lookups from the
// static map tables in configuration.
package universe

import (
	"sync"

	"killsense/internal/config"
)

type Map struct {
	security map[int64]float64
	gates    map[int64][]int64
	maxJumps int

	mu    sync.Mutex
	cache map[[2]int64]int
}

func New(cfg config.UniverseConfig) *Map {
	m := &Map{
		security: cfg.Security,
		gates:    make(map[int64][]int64, len(cfg.Gates)),
		maxJumps: cfg.MaxJumps,
		cache:    make(map[[2]int64]int),
	}
	if m.maxJumps <= 0 {
		m.maxJumps = 10
	}
	// Gates are bidirectional even when only one side is listed.
	for from, tos := range cfg.Gates {
		for _, to := range tos {
			m.gates[from] = appendUnique(m.gates[from], to)
			m.gates[to] = appendUnique(m.gates[to], from)
		}
	}
	return m
}

func appendUnique(list []int64, id int64) []int64 {
	for _, v := range list {
		if v == id {
			return list
		}
	}
	return append(list, id)
}

func (m *Map) Security(locationID int64) (float64, bool) {
	if m == nil {
		return 0, false
	}
	v, ok := m.security[locationID]
	return v, ok
}

// Distance is the jump count between two systems, found by breadth-first
// search up to the configured maximum. Results are cached, including
// misses (stored as -1).
func (m *Map) Distance(from, to int64) (int, bool) {
	if m == nil {
		return 0, false
	}
	if from == to {
		return 0, true
	}
	key := [2]int64{from, to}
	if from > to {
		key = [2]int64{to, from}
	}
	m.mu.Lock()
	d, ok := m.cache[key]
	m.mu.Unlock()
	if ok {
		return d, d >= 0
	}
	d = m.search(from, to)
	m.mu.Lock()
	m.cache[key] = d
	m.mu.Unlock()
	return d, d >= 0
}

func (m *Map) search(from, to int64) int {
	if len(m.gates[from]) == 0 {
		return -1
	}
	visited := map[int64]struct{}{from: {}}
	frontier := []int64{from}
	for depth := 1; depth <= m.maxJumps && len(frontier) > 0; depth++ {
		var next []int64
		for _, sys := range frontier {
			for _, n := range m.gates[sys] {
				if n == to {
					return depth
				}
				if _, seen := visited[n]; seen {
					continue
				}
				visited[n] = struct{}{}
				next = append(next, n)
			}
		}
		frontier = next
	}
	return -1
}
