package rules

import (
	"fmt"
	"sort"

	"killsense/internal/model"
	"killsense/internal/signals"
)

const HighValueISK = 1e9

const (
	RulePodOnly           = "pod_only"
	RuleNPCOnly           = "npc_only"
	RuleSolo              = "solo"
	RuleHighValue         = "high_value"
	RuleCapitalKill       = "capital_kill"
	RuleStructureKill     = "structure_kill"
	RuleWatchlistVictim   = "watchlist_victim"
	RuleWatchlistAttacker = "watchlist_attacker"
	RuleWarTarget         = "war_target"
	RuleAwox              = "awox"
)

// Builtins returns factories for every built-in rule keyed by id.
func Builtins() map[string]Factory {
	return map[string]Factory{
		RulePodOnly: func() Rule {
			return NewFunc(RulePodOnly, false, func(ev *model.Event, _ *signals.EvalContext) (bool, string) {
				return ev.IsPod, "capsule loss"
			})
		},
		RuleNPCOnly: func() Rule {
			return NewFunc(RuleNPCOnly, false, func(ev *model.Event, _ *signals.EvalContext) (bool, string) {
				return ev.AllNPC(), "all attackers are NPCs"
			})
		},
		RuleSolo: func() Rule {
			return NewFunc(RuleSolo, false, func(ev *model.Event, _ *signals.EvalContext) (bool, string) {
				return ev.IsSolo(), "single attacker"
			})
		},
		RuleHighValue: func() Rule {
			return NewFunc(RuleHighValue, false, func(ev *model.Event, _ *signals.EvalContext) (bool, string) {
				return ev.TotalValue >= HighValueISK, fmt.Sprintf("value %.0f >= %.0f", ev.TotalValue, HighValueISK)
			})
		},
		RuleCapitalKill: func() Rule {
			return NewFunc(RuleCapitalKill, true, func(ev *model.Event, _ *signals.EvalContext) (bool, string) {
				class := ev.VictimShipClass()
				return class == model.ShipClassCapital || class == model.ShipClassSupercapital, class + " destroyed"
			})
		},
		RuleStructureKill: func() Rule {
			return NewFunc(RuleStructureKill, true, func(ev *model.Event, _ *signals.EvalContext) (bool, string) {
				return ev.VictimShipClass() == model.ShipClassStructure, "structure destroyed"
			})
		},
		RuleWatchlistVictim: func() Rule {
			return NewFunc(RuleWatchlistVictim, false, func(ev *model.Event, ctx *signals.EvalContext) (bool, string) {
				for _, name := range groupNames(ctx) {
					if ctx.Groups[name].HasVictim(ev) {
						return true, "victim on watchlist " + name
					}
				}
				return false, ""
			})
		},
		RuleWatchlistAttacker: func() Rule {
			return NewFunc(RuleWatchlistAttacker, false, func(ev *model.Event, ctx *signals.EvalContext) (bool, string) {
				for _, name := range groupNames(ctx) {
					for _, a := range ev.Attackers {
						if ctx.Groups[name].HasAttacker(a) {
							return true, "attacker on watchlist " + name
						}
					}
				}
				return false, ""
			})
		},
		RuleWarTarget: func() Rule {
			return NewFunc(RuleWarTarget, false, func(ev *model.Event, ctx *signals.EvalContext) (bool, string) {
				if ctx == nil || ctx.WarTargets.Empty() {
					return false, ""
				}
				if ctx.WarTargets.HasVictim(ev) {
					return true, "war target victim"
				}
				for _, a := range ev.Attackers {
					if ctx.WarTargets.HasAttacker(a) {
						return true, "war target attacker"
					}
				}
				return false, ""
			})
		},
		RuleAwox: func() Rule {
			return NewFunc(RuleAwox, false, func(ev *model.Event, _ *signals.EvalContext) (bool, string) {
				corp := ev.Victim.CorporationID
				if corp == 0 || model.IsNPCCorporation(corp) {
					return false, ""
				}
				for _, a := range ev.Attackers {
					if a.CorporationID == corp {
						return true, fmt.Sprintf("attacker in victim corporation %d", corp)
					}
				}
				return false, ""
			})
		},
	}
}

func groupNames(ctx *signals.EvalContext) []string {
	if ctx == nil || len(ctx.Groups) == 0 {
		return nil
	}
	names := make([]string, 0, len(ctx.Groups))
	for name := range ctx.Groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
