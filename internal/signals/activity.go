package signals

import (
	"fmt"
	"strings"

	"killsense/internal/model"
)

const (
	PatternGatecamp  = "gatecamp"
	PatternSpike     = "spike"
	PatternSustained = "sustained"
)

// Activity detects gatecamps, activity spikes and sustained fighting from
// the injected activity statistics.
type Activity struct{}

func (*Activity) Name() string          { return "activity" }
func (*Activity) Category() string      { return CategoryActivity }
func (*Activity) PrefetchCapable() bool { return false }

func (a *Activity) Score(ev *model.Event, locationID int64, in Input) (model.SignalScore, error) {
	if ev == nil {
		return model.ZeroSignal(a.Name(), false, ReasonNoEvent), nil
	}
	if in.Ctx == nil || in.Ctx.Activity == nil {
		return model.ZeroSignal(a.Name(), false, "no activity data"), nil
	}
	stats, ok := in.Ctx.Activity(locationID)
	if !ok {
		return model.ZeroSignal(a.Name(), false, "no recent activity"), nil
	}
	best := 0.0
	var patterns []string
	consider := func(name string, score float64) {
		patterns = append(patterns, name)
		if score > best {
			best = score
		}
	}

	camp := in.Params.Map(PatternGatecamp)
	if camp != nil || !in.Params.Has(PatternGatecamp) {
		minKills := int(camp.Float("min_kills", 3))
		minShare := camp.Float("min_repeat_share", 0.5)
		if stats.Last10m >= minKills && stats.RepeatAttackerShare >= minShare {
			consider(PatternGatecamp, camp.Float("score", 1.0))
		}
	}
	spike := in.Params.Map(PatternSpike)
	if spike != nil || !in.Params.Has(PatternSpike) {
		mult := spike.Float("multiplier", 3.0)
		minKills := int(spike.Float("min_kills", 5))
		if stats.LastHour >= minKills && float64(stats.LastHour) >= stats.HourlyBaseline*mult {
			consider(PatternSpike, spike.Float("score", 0.8))
		}
	}
	sustained := in.Params.Map(PatternSustained)
	if sustained != nil || !in.Params.Has(PatternSustained) {
		minHours := int(sustained.Float("min_active_hours", 3))
		if stats.ActiveHours >= minHours {
			consider(PatternSustained, sustained.Float("score", 0.6))
		}
	}
	if len(patterns) == 0 {
		return model.ZeroSignal(a.Name(), false, fmt.Sprintf("%d kills in last hour, no pattern", stats.LastHour)).WithRaw(stats), nil
	}
	return model.NewSignalScore(a.Name(), best, false, strings.Join(patterns, ",")).WithRaw(stats), nil
}

func (*Activity) Validate(params Params) []string {
	var errs []string
	for _, name := range []string{PatternGatecamp, PatternSpike, PatternSustained} {
		if !params.Has(name) {
			continue
		}
		m := params.Map(name)
		if m == nil {
			if b, ok := params[name].(bool); ok && !b {
				continue
			}
			errs = append(errs, errParam(name, "must be a mapping or false"))
			continue
		}
		if s := m.Float("score", 0.5); s < 0 || s > 1 {
			errs = append(errs, errParam(name, "score must be in [0, 1]"))
		}
		for _, key := range []string{"min_kills", "min_active_hours", "multiplier"} {
			if m.Has(key) && m.Float(key, 0) < 0 {
				errs = append(errs, errParam(name, "%s must be >= 0", key))
			}
		}
		if share := m.Float("min_repeat_share", 0); share < 0 || share > 1 {
			errs = append(errs, errParam(name, "min_repeat_share must be in [0, 1]"))
		}
	}
	return errs
}
