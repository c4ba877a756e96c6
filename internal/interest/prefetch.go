package interest

import (
	"fmt"

	"killsense/internal/aggregate"
	"killsense/internal/model"
	"killsense/internal/signals"
)

func (e *Engine) resolvePrefetchMode(m model.PrefetchMode) (model.PrefetchMode, error) {
	mode := m.OrDefault()
	if !mode.Valid() {
		return "", fmt.Errorf("%w: unknown prefetch mode %q", ErrInvalidProfile, m)
	}
	if mode != model.PrefetchAuto {
		return mode, nil
	}
	capable, _ := e.prefetchCounts()
	if capable == 0 || !e.rules.AllNotifyPrefetchCapable() {
		return model.PrefetchConservative, nil
	}
	return model.PrefetchStrict, nil
}

// prefetchCounts returns the number of active categories that can be scored
// before detail is fetched, and the number of active categories overall.
func (e *Engine) prefetchCounts() (capable, enabled int) {
	for _, plan := range e.categories {
		if !plan.active() {
			continue
		}
		enabled++
		if plan.prefetch {
			capable++
		}
	}
	return capable, enabled
}

type tally struct {
	known         []aggregate.Term
	unknown       []aggregate.Term
	knownSum      float64
	unknownWeight float64
	totalWeight   float64
	capable       int
	enabled       int
}

// withUnknown returns the aggregation terms with every unknown category set
// to score.
func (t tally) withUnknown(score float64) []aggregate.Term {
	out := make([]aggregate.Term, 0, len(t.known)+len(t.unknown))
	out = append(out, t.known...)
	for _, u := range t.unknown {
		out = append(out, aggregate.Term{Score: score, Weight: u.Weight})
	}
	return out
}

// Prefetch decides whether an event at locationID is worth fetching in
// full. partial may carry fields known ahead of detail, or be nil.
func (e *Engine) Prefetch(locationID int64, partial *model.Event, ctx *signals.EvalContext) *model.PrefetchDecision {
	d := &model.PrefetchDecision{
		Mode:       e.prefetchMode,
		Threshold:  e.prefetchThreshold,
		LocationID: locationID,
		Profile:    e.profile,
	}
	d.PrefetchCategories, d.EnabledCategories = e.prefetchCounts()

	ruleEv := prefetchEvent(locationID, partial)
	if ids := matched(e.rules.PrefetchIgnore(ruleEv, ctx)); len(ids) > 0 {
		d.IgnoreShortCircuit = true
		d.Reason = "always_ignore: " + joinIDs(ids)
		return d
	}
	if ids := matched(e.rules.PrefetchNotify(ruleEv, ctx)); len(ids) > 0 {
		d.NotifyShortCircuit = true
		d.ShouldFetch = true
		d.UpperBound = 1
		d.Reason = "always_notify: " + joinIDs(ids)
		return d
	}

	t := e.tallyCategories(locationID, partial, ctx)
	if t.totalWeight <= 0 {
		d.ShouldFetch = true
		d.UpperBound = 1
		d.Reason = "no active categories"
		return d
	}
	conservativeLower := t.knownSum / t.totalWeight
	conservativeUpper := (t.knownSum + t.unknownWeight*e.unknown) / t.totalWeight

	switch e.prefetchMode {
	case model.PrefetchBypass:
		d.LowerBound, d.UpperBound = conservativeLower, conservativeUpper
		if t.capable > 0 {
			d.Score = ptr(conservativeLower)
		}
		d.ShouldFetch = true
		d.Reason = "bypass"

	case model.PrefetchStrict:
		if t.capable == 0 {
			d.LowerBound, d.UpperBound = 0, aggregate.Combine(e.mode, t.withUnknown(e.unknown))
			d.ShouldFetch = true
			d.Reason = "no prefetch-capable categories"
			return d
		}
		score := aggregate.Combine(e.mode, t.withUnknown(0))
		d.Score = ptr(score)
		d.LowerBound = score
		d.UpperBound = aggregate.Combine(e.mode, t.withUnknown(e.unknown))
		required := e.prefetchThreshold * aggregate.RMSSafetyFactor(t.enabled)
		d.ShouldFetch = score >= required
		d.Reason = fmt.Sprintf("score %.3f vs %.3f (threshold %.2f x safety %.2f)", score, required, e.prefetchThreshold, aggregate.RMSSafetyFactor(t.enabled))

	default:
		d.LowerBound, d.UpperBound = conservativeLower, conservativeUpper
		if t.capable > 0 {
			d.Score = ptr(conservativeLower)
		}
		d.ShouldFetch = conservativeUpper >= e.prefetchThreshold
		d.Reason = fmt.Sprintf("bounds [%.3f, %.3f] vs %.3f", conservativeLower, conservativeUpper, e.prefetchThreshold)
	}
	return d
}

// tallyCategories scores prefetch-capable categories against the partial
// event. A capable category whose signals all lack the data they need is
// treated as unknown, like a category that cannot score before fetch.
func (e *Engine) tallyCategories(locationID int64, partial *model.Event, ctx *signals.EvalContext) tally {
	var t tally
	for _, plan := range e.categories {
		if !plan.active() {
			continue
		}
		t.enabled++
		t.totalWeight += plan.weight
		if plan.prefetch {
			t.capable++
			if score, ok := e.prefetchCategoryScore(plan, locationID, partial, ctx); ok {
				t.known = append(t.known, aggregate.Term{Score: score, Weight: plan.weight})
				t.knownSum += score * plan.weight
				continue
			}
		}
		t.unknown = append(t.unknown, aggregate.Term{Weight: plan.weight})
		t.unknownWeight += plan.weight
	}
	return t
}

func (e *Engine) prefetchCategoryScore(plan categoryPlan, locationID int64, partial *model.Event, ctx *signals.EvalContext) (float64, bool) {
	scores := make(map[string]model.SignalScore, len(plan.signals))
	var names []string
	factor := 1.0
	for _, sp := range plan.signals {
		in := signals.Input{Params: sp.params, Ctx: ctx}
		s := e.scoreSignal(sp, partial, locationID, in)
		if s.Reason == signals.ReasonNoEvent {
			continue
		}
		scores[sp.name] = s
		names = append(names, sp.name)
		if pen, ok := sp.provider.(signals.Penalizer); ok {
			f, _ := e.penalty(sp, pen, partial, in)
			factor *= f
		}
	}
	if len(names) == 0 {
		return 0, false
	}
	c := aggregate.Category(plan.name, plan.weight, names, scores)
	c.PenaltyFactor = model.Clamp01(factor)
	return c.PenalizedScore(), true
}

// prefetchEvent gives rules something to look at: the partial event when
// supplied, else an event carrying only the location.
func prefetchEvent(locationID int64, partial *model.Event) *model.Event {
	if partial == nil {
		return &model.Event{LocationID: locationID}
	}
	if partial.LocationID == 0 {
		cp := *partial
		cp.LocationID = locationID
		return &cp
	}
	return partial
}

func matched(list []model.RuleMatch) []string {
	var out []string
	for _, m := range list {
		if m.Matched {
			out = append(out, m.RuleID)
		}
	}
	return out
}

func ptr(v float64) *float64 { return &v }
