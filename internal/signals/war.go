package signals

import (
	"fmt"

	"killsense/internal/model"
)

const (
	defaultHostileStanding = -5.0
	defaultBlueStanding    = 5.0
)

// War scores kills involving war targets or entities with negative
// standings. A blue victim killed by a hostile scores as a loss.
type War struct{}

func (*War) Name() string          { return "war" }
func (*War) Category() string      { return CategoryWar }
func (*War) PrefetchCapable() bool { return false }

func (w *War) Score(ev *model.Event, _ int64, in Input) (model.SignalScore, error) {
	if ev == nil {
		return model.ZeroSignal(w.Name(), false, ReasonNoEvent), nil
	}
	targets := warTargets(in)
	targetScore := in.Params.Float("target_score", 1.0)
	if !targets.Empty() {
		if targets.HasVictim(ev) {
			return model.NewSignalScore(w.Name(), targetScore, false, "war target victim"), nil
		}
		for _, at := range ev.Attackers {
			if targets.HasAttacker(at) {
				return model.NewSignalScore(w.Name(), targetScore*in.Params.Float("attacker_factor", 0.9), false, "war target attacker"), nil
			}
		}
	}

	hostile := in.Params.Float("hostile_below", defaultHostileStanding)
	blue := in.Params.Float("blue_above", defaultBlueStanding)
	victimStanding, victimKnown := in.Ctx.standing(ev.Victim.CharacterID, ev.Victim.CorporationID, ev.Victim.AllianceID)
	if victimKnown && victimStanding <= hostile {
		return model.NewSignalScore(w.Name(), in.Params.Float("hostile_score", 0.8), false, fmt.Sprintf("hostile victim (%.1f)", victimStanding)).WithRaw(victimStanding), nil
	}
	for _, at := range ev.Attackers {
		s, ok := in.Ctx.standing(at.CharacterID, at.CorporationID, at.AllianceID)
		if !ok || s > hostile {
			continue
		}
		if victimKnown && victimStanding >= blue {
			return model.NewSignalScore(w.Name(), in.Params.Float("loss_score", 1.0), false, fmt.Sprintf("blue loss to hostile (%.1f)", s)).WithRaw(s), nil
		}
		return model.NewSignalScore(w.Name(), in.Params.Float("hostile_score", 0.8)*0.75, false, fmt.Sprintf("hostile attacker (%.1f)", s)).WithRaw(s), nil
	}
	return model.ZeroSignal(w.Name(), false, "no war targets or hostiles involved"), nil
}

func warTargets(in Input) EntitySet {
	var base EntitySet
	if in.Ctx != nil {
		base = in.Ctx.WarTargets
	}
	extra := NewEntitySet(in.Params.IDs("characters"), in.Params.IDs("corporations"), in.Params.IDs("alliances"))
	if extra.Empty() {
		return base
	}
	return base.Union(extra)
}

func (*War) Validate(params Params) []string {
	var errs []string
	for _, key := range []string{"target_score", "hostile_score", "loss_score", "attacker_factor"} {
		if !params.Has(key) {
			continue
		}
		if f, ok := model.ToFloat(params[key]); !ok || f < 0 || f > 1 {
			errs = append(errs, errParam(key, "must be in [0, 1]"))
		}
	}
	hostile := params.Float("hostile_below", defaultHostileStanding)
	blue := params.Float("blue_above", defaultBlueStanding)
	if hostile < -10 || hostile > 10 || blue < -10 || blue > 10 {
		errs = append(errs, errParam("standings", "thresholds must be in [-10, 10]"))
	}
	if hostile >= blue {
		errs = append(errs, errParam("hostile_below", "must be less than blue_above"))
	}
	return errs
}
