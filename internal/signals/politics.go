package signals

import (
	"fmt"
	"sort"
	"strings"

	"killsense/internal/model"
)

const (
	RoleVictim    = "victim"
	RoleFinalBlow = "final_blow"
	RoleAttacker  = "attacker"
)

var defaultRoleWeights = map[string]float64{
	RoleVictim:    1.0,
	RoleFinalBlow: 0.8,
	RoleAttacker:  0.6,
}

// Politics scores involvement of watched entity groups. It needs the full
// attacker list, so it cannot score before detail is fetched.
type Politics struct{}

func (*Politics) Name() string          { return "politics" }
func (*Politics) Category() string      { return CategoryPolitics }
func (*Politics) PrefetchCapable() bool { return false }

type involvement struct {
	group string
	role  string
}

func (p *Politics) Score(ev *model.Event, _ int64, in Input) (model.SignalScore, error) {
	if ev == nil {
		return model.ZeroSignal(p.Name(), false, ReasonNoEvent), nil
	}
	groups := politicsGroups(in)
	if len(groups) == 0 {
		return model.ZeroSignal(p.Name(), false, "no groups configured"), nil
	}
	hits := involvedGroups(ev, groups)
	present := make(map[string]bool, len(hits))
	for _, h := range hits {
		present[h.group] = true
	}
	if anyOf := in.Params.Strings("require_any"); len(anyOf) > 0 {
		ok := false
		for _, g := range anyOf {
			if present[g] {
				ok = true
				break
			}
		}
		if !ok {
			return model.ZeroSignal(p.Name(), false, "require_any groups not involved").WithMatch(false), nil
		}
	}
	for _, g := range in.Params.Strings("require_all") {
		if !present[g] {
			return model.ZeroSignal(p.Name(), false, fmt.Sprintf("required group %s not involved", g)).WithMatch(false), nil
		}
	}
	if len(hits) == 0 {
		return model.ZeroSignal(p.Name(), false, "no watched groups involved"), nil
	}
	roles := roleWeights(in.Params)
	best := 0.0
	bestHit := hits[0]
	for _, h := range hits {
		if w := roles[h.role]; w > best {
			best = w
			bestHit = h
		}
	}
	reason := fmt.Sprintf("%s as %s", bestHit.group, bestHit.role)
	if bestHit.role != RoleVictim && ev.IsSolo() {
		mult := in.Params.Float("solo_multiplier", 1.0)
		best *= mult
		if mult != 1 {
			reason += fmt.Sprintf(" (solo x%.2f)", mult)
		}
	}
	return model.NewSignalScore(p.Name(), best, false, reason).WithRaw(groupNames(hits)), nil
}

// Penalty applies the configured npc_only and pod_only dampening to the
// whole politics category.
func (p *Politics) Penalty(ev *model.Event, in Input) (float64, string) {
	if ev == nil {
		return 1, ""
	}
	penalties := in.Params.Map("penalties")
	if penalties == nil {
		return 1, ""
	}
	factor := 1.0
	var reasons []string
	if ev.AllNPC() {
		if f, ok := model.ToFloat(penalties["npc_only"]); ok {
			factor *= f
			reasons = append(reasons, "npc_only")
		}
	}
	if ev.IsPod {
		if f, ok := model.ToFloat(penalties["pod_only"]); ok {
			factor *= f
			reasons = append(reasons, "pod_only")
		}
	}
	return factor, strings.Join(reasons, ",")
}

func (*Politics) Validate(params Params) []string {
	var errs []string
	groups := params.Map("groups")
	if params.Has("groups") && groups == nil {
		errs = append(errs, errParam("groups", "must be a mapping of group name to members"))
	}
	for name, raw := range groups {
		m, ok := toMap(raw)
		if !ok {
			errs = append(errs, errParam("groups", "%s must be a mapping", name))
			continue
		}
		if len(toIDs(m["characters"]))+len(toIDs(m["corporations"]))+len(toIDs(m["alliances"])) == 0 {
			errs = append(errs, errParam("groups", "%s has no members", name))
		}
	}
	if roles := params.Map("roles"); roles != nil {
		for role, v := range roles {
			if _, known := defaultRoleWeights[role]; !known {
				errs = append(errs, errParam("roles", "unknown role %q", role))
				continue
			}
			if f, ok := model.ToFloat(v); !ok || f < 0 || f > 1 {
				errs = append(errs, errParam("roles", "%s weight must be in [0, 1]", role))
			}
		}
	}
	if m := params.Float("solo_multiplier", 1); m < 0 {
		errs = append(errs, errParam("solo_multiplier", "must be >= 0"))
	}
	if penalties := params.Map("penalties"); penalties != nil {
		for name, v := range penalties {
			if name != "npc_only" && name != "pod_only" {
				errs = append(errs, errParam("penalties", "unknown penalty %q", name))
				continue
			}
			if f, ok := model.ToFloat(v); !ok || f < 0 || f > 1 {
				errs = append(errs, errParam("penalties", "%s factor must be in [0, 1]", name))
			}
		}
	}
	for _, key := range []string{"require_any", "require_all"} {
		for _, g := range params.Strings(key) {
			if _, ok := groups[g]; !ok && groups != nil {
				errs = append(errs, errParam(key, "references unknown group %q", g))
			}
		}
	}
	return errs
}

func politicsGroups(in Input) map[string]EntitySet {
	out := make(map[string]EntitySet)
	for name, set := range in.Ctx.groups() {
		out[name] = set
	}
	for name, raw := range in.Params.Map("groups") {
		m, ok := toMap(raw)
		if !ok {
			continue
		}
		out[name] = NewEntitySet(toIDs(m["characters"]), toIDs(m["corporations"]), toIDs(m["alliances"]))
	}
	if watch := in.Params.Strings("watch"); len(watch) > 0 {
		filtered := make(map[string]EntitySet, len(watch))
		for _, name := range watch {
			if set, ok := out[name]; ok {
				filtered[name] = set
			}
		}
		return filtered
	}
	return out
}

func involvedGroups(ev *model.Event, groups map[string]EntitySet) []involvement {
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)
	var hits []involvement
	for _, name := range names {
		set := groups[name]
		if set.HasVictim(ev) {
			hits = append(hits, involvement{group: name, role: RoleVictim})
		}
		for _, a := range ev.Attackers {
			if !set.HasAttacker(a) {
				continue
			}
			role := RoleAttacker
			if a.FinalBlow {
				role = RoleFinalBlow
			}
			hits = append(hits, involvement{group: name, role: role})
		}
	}
	return hits
}

func roleWeights(p Params) map[string]float64 {
	out := make(map[string]float64, len(defaultRoleWeights))
	for k, v := range defaultRoleWeights {
		out[k] = v
	}
	for role, v := range p.Map("roles") {
		if f, ok := model.ToFloat(v); ok {
			out[role] = f
		}
	}
	return out
}

func groupNames(hits []involvement) []string {
	seen := make(map[string]struct{}, len(hits))
	var out []string
	for _, h := range hits {
		if _, ok := seen[h.group]; ok {
			continue
		}
		seen[h.group] = struct{}{}
		out = append(out, h.group)
	}
	return out
}
