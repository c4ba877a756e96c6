// Package watchlist turns configured entity lists into the sets the
// politics and war signals and the watchlist rules look at.
package watchlist

import (
	"sort"
	"strings"

	"killsense/internal/config"
	"killsense/internal/model"
	"killsense/internal/signals"
)

type Set struct {
	Groups     map[string]signals.EntitySet
	WarTargets signals.EntitySet
	Standings  map[int64]float64
}

func Build(cfg config.WatchlistsConfig) *Set {
	s := &Set{
		Groups:     buildGroups(cfg.Groups),
		WarTargets: buildEntitySet(cfg.WarTargets),
		Standings:  buildStandings(cfg.Standings),
	}
	return s
}

func buildGroups(groups map[string]config.EntityList) map[string]signals.EntitySet {
	if len(groups) == 0 {
		return nil
	}
	out := make(map[string]signals.EntitySet, len(groups))
	for name, list := range groups {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		set := buildEntitySet(list)
		if set.Empty() {
			continue
		}
		out[name] = set
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func buildEntitySet(list config.EntityList) signals.EntitySet {
	return signals.NewEntitySet(cleanIDs(list.Characters), cleanIDs(list.Corporations), cleanIDs(list.Alliances))
}

func cleanIDs(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id > 0 {
			out = append(out, id)
		}
	}
	return out
}

func buildStandings(in map[int64]float64) map[int64]float64 {
	if len(in) == 0 {
		return nil
	}
	out := make(map[int64]float64, len(in))
	for id, v := range in {
		if id <= 0 {
			continue
		}
		if v < -10 {
			v = -10
		} else if v > 10 {
			v = 10
		}
		out[id] = v
	}
	return out
}

// Apply copies the sets into an evaluation context.
func (s *Set) Apply(ctx *signals.EvalContext) {
	if s == nil || ctx == nil {
		return
	}
	ctx.Groups = s.Groups
	ctx.WarTargets = s.WarTargets
	ctx.Standings = s.Standings
}

func (s *Set) Names() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.Groups))
	for name := range s.Groups {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Involved lists the groups with a member on either side of ev.
func (s *Set) Involved(ev *model.Event) []string {
	if s == nil || ev == nil {
		return nil
	}
	var out []string
	for _, name := range s.Names() {
		set := s.Groups[name]
		if set.HasVictim(ev) {
			out = append(out, name)
			continue
		}
		for _, a := range ev.Attackers {
			if set.HasAttacker(a) {
				out = append(out, name)
				break
			}
		}
	}
	return out
}
