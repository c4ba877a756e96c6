// Package interest turns an event into a tiered notification decision for
// one profile, and decides before detail is known whether an event is worth
// fetching at all.
package interest

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"killsense/internal/aggregate"
	"killsense/internal/model"
	"killsense/internal/registry"
	"killsense/internal/rules"
	"killsense/internal/signals"
)

var ErrInvalidProfile = errors.New("invalid profile")

type signalPlan struct {
	name     string
	provider signals.Provider
	params   signals.Params
	weight   float64
}

type categoryPlan struct {
	name     string
	weight   float64
	signals  []signalPlan
	prefetch bool
}

func (c categoryPlan) active() bool {
	return c.weight > 0 && len(c.signals) > 0
}

func (c categoryPlan) configured() []string {
	out := make([]string, 0, len(c.signals))
	for _, s := range c.signals {
		out = append(out, s.name)
	}
	return out
}

// Engine evaluates events for a single profile. Everything it holds is
// resolved in New and never modified, so one Engine may serve concurrent
// Evaluate and Prefetch calls.
type Engine struct {
	profile    string
	mode       model.AggregationMode
	weights    map[string]float64
	thresholds model.Thresholds
	gates      model.RulesConfig
	categories []categoryPlan
	rules      *rules.Evaluator

	prefetchMode      model.PrefetchMode
	prefetchThreshold float64
	unknown           float64

	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithClock sets the clock used for EvaluatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New builds an engine from a profile. It fails on unknown rules or
// signals, disabled features and profiles with no positive weight; the
// fuller checks live in the validate package.
func New(p model.Profile, reg *registry.Registry, opts ...Option) (*Engine, error) {
	if reg == nil {
		reg = registry.Default()
	}
	switch p.Engine {
	case "", "interest", "v2":
	default:
		return nil, fmt.Errorf("%w: unsupported engine %q", ErrInvalidProfile, p.Engine)
	}
	mode := p.Mode.OrDefault()
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: unknown aggregation mode %q", ErrInvalidProfile, p.Mode)
	}
	weights, err := ResolveWeights(p)
	if err != nil {
		return nil, err
	}
	positive := false
	for _, w := range weights {
		positive = positive || w > 0
	}
	if !positive {
		return nil, fmt.Errorf("%w: no category has a positive weight", ErrInvalidProfile)
	}
	e := &Engine{
		profile:    p.Name,
		mode:       mode,
		weights:    weights,
		thresholds: p.Thresholds.Resolve(),
		gates:      p.Rules,
		unknown:    model.Clamp01(p.Prefetch.Unknown()),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	e.categories, err = buildPlans(weights, ResolveSignals(p), reg, p.Features)
	if err != nil {
		return nil, err
	}
	e.rules, err = rules.NewEvaluator(p.Rules, p.Features, reg, e.logger)
	if err != nil {
		return nil, err
	}
	e.prefetchThreshold = e.thresholds.Digest
	if p.Prefetch.Threshold != nil {
		e.prefetchThreshold = *p.Prefetch.Threshold
	}
	e.prefetchMode, err = e.resolvePrefetchMode(p.Prefetch.Mode)
	if err != nil {
		return nil, err
	}
	return e, nil
}

func buildPlans(weights map[string]float64, cfg map[string]map[string]model.SignalConfig, reg *registry.Registry, features model.Features) ([]categoryPlan, error) {
	for cat := range cfg {
		if !signals.IsCategory(cat) {
			return nil, fmt.Errorf("%w: signals: unknown category %q", ErrInvalidProfile, cat)
		}
	}
	plans := make([]categoryPlan, 0, len(signals.Categories))
	for _, cat := range signals.Categories {
		plan := categoryPlan{name: cat, weight: weights[cat], prefetch: true}
		names := make([]string, 0, len(cfg[cat]))
		for name := range cfg[cat] {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			sc := cfg[cat][name]
			if !sc.Enabled() {
				continue
			}
			provider, ok := reg.Signal(cat, name)
			if !ok {
				if !features.CustomSignals {
					return nil, fmt.Errorf("%w: signal %s/%s not registered", ErrInvalidProfile, cat, name)
				}
				continue
			}
			plan.signals = append(plan.signals, signalPlan{
				name:     name,
				provider: provider,
				params:   signals.Params(sc),
				weight:   sc.Weight(),
			})
			plan.prefetch = plan.prefetch && provider.PrefetchCapable()
		}
		plans = append(plans, plan)
	}
	return plans, nil
}

func (e *Engine) Profile() string                  { return e.profile }
func (e *Engine) Mode() model.AggregationMode      { return e.mode }
func (e *Engine) Thresholds() model.Thresholds     { return e.thresholds }
func (e *Engine) PrefetchMode() model.PrefetchMode { return e.prefetchMode }

// Weights returns a copy of the resolved category weights.
func (e *Engine) Weights() map[string]float64 {
	out := make(map[string]float64, len(e.weights))
	for k, v := range e.weights {
		out[k] = v
	}
	return out
}

// Evaluate runs the full decision for an event with known detail. The
// returned result is never modified afterwards.
func (e *Engine) Evaluate(ev *model.Event, ctx *signals.EvalContext) *model.InterestResult {
	if ev == nil {
		ev = &model.Event{}
	}
	res := &model.InterestResult{
		ID:          uuid.NewString(),
		Profile:     e.profile,
		KillID:      ev.KillID,
		LocationID:  ev.LocationID,
		Mode:        e.mode,
		Thresholds:  e.thresholds,
		State:       model.StateStart,
		EvaluatedAt: e.now(),
	}

	res.State = model.StateIgnoreCheck
	res.AlwaysIgnore = e.rules.Ignore(ev, ctx)
	if rules.AnyMatched(res.AlwaysIgnore) {
		// always_ignore wins over always_notify; both are kept for diagnostics.
		res.AlwaysNotify = e.rules.Notify(ev, ctx)
		res.Categories = e.scoreCategories(ev, ev.LocationID, ctx)
		return e.filter(res)
	}

	res.State = model.StateNotifyCheck
	res.AlwaysNotify = e.rules.Notify(ev, ctx)
	res.NotifyBypass = rules.AnyMatched(res.AlwaysNotify)

	res.State = model.StateScoreCategories
	res.Categories = e.scoreCategories(ev, ev.LocationID, ctx)

	if res.NotifyBypass {
		res.GatesPassed = true
	} else {
		res.State = model.StateGateCheck
		passed, reason := rules.CheckGates(e.gates, res.Categories)
		res.GatesPassed = passed
		if !passed {
			res.GateReason = reason
			return e.filter(res)
		}
	}

	res.State = model.StateAggregate
	res.Interest = aggregate.Interest(e.mode, res.Categories)

	res.State = model.StateTierAssign
	if res.NotifyBypass {
		res.Tier = model.TierNotify
		if res.Interest >= e.thresholds.Priority {
			res.Tier = model.TierPriority
		}
	} else {
		res.Tier = e.thresholds.TierFor(res.Interest)
	}
	res.State = model.StateDone
	return res
}

func (e *Engine) filter(res *model.InterestResult) *model.InterestResult {
	res.Interest = 0
	res.Tier = model.TierFilter
	res.State = model.StateFiltered
	return res
}

// scoreCategories scores every category plan. Inactive categories are
// reported with no score so gates and diagnostics can see them.
func (e *Engine) scoreCategories(ev *model.Event, locationID int64, ctx *signals.EvalContext) map[string]model.CategoryScore {
	out := make(map[string]model.CategoryScore, len(e.categories))
	for _, plan := range e.categories {
		out[plan.name] = e.scoreCategory(plan, ev, locationID, ctx)
	}
	return out
}

func (e *Engine) scoreCategory(plan categoryPlan, ev *model.Event, locationID int64, ctx *signals.EvalContext) model.CategoryScore {
	if !plan.active() {
		return aggregate.Category(plan.name, plan.weight, plan.configured(), nil)
	}
	scores := make(map[string]model.SignalScore, len(plan.signals))
	factor := 1.0
	var reasons []string
	for _, sp := range plan.signals {
		in := signals.Input{Params: sp.params, Ctx: ctx}
		scores[sp.name] = e.scoreSignal(sp, ev, locationID, in)
		if pen, ok := sp.provider.(signals.Penalizer); ok {
			f, reason := e.penalty(sp, pen, ev, in)
			factor *= f
			if reason != "" {
				reasons = append(reasons, reason)
			}
		}
	}
	c := aggregate.Category(plan.name, plan.weight, plan.configured(), scores)
	c.PenaltyFactor = model.Clamp01(factor)
	c.PenaltyReason = joinIDs(reasons)
	return c
}

// scoreSignal isolates one provider: an error or panic yields a zero score
// carrying the failure text, and sibling signals are unaffected.
func (e *Engine) scoreSignal(sp signalPlan, ev *model.Event, locationID int64, in signals.Input) (s model.SignalScore) {
	capable := sp.provider.PrefetchCapable()
	defer func() {
		if rec := recover(); rec != nil {
			s = model.ZeroSignal(sp.name, capable, fmt.Sprintf("panic: %v", rec)).WithWeight(sp.weight)
			e.warn("signal panicked", "signal", sp.name, "err", rec)
		}
	}()
	s, err := sp.provider.Score(ev, locationID, in)
	if err != nil {
		e.warn("signal failed", "signal", sp.name, "err", err)
		return model.ZeroSignal(sp.name, capable, err.Error()).WithWeight(sp.weight)
	}
	s.Signal = sp.name
	s.Score = model.Clamp01(s.Score)
	s.PrefetchCapable = capable
	return s.WithWeight(sp.weight)
}

func (e *Engine) penalty(sp signalPlan, pen signals.Penalizer, ev *model.Event, in signals.Input) (f float64, reason string) {
	defer func() {
		if rec := recover(); rec != nil {
			e.warn("penalty panicked", "signal", sp.name, "err", rec)
			f, reason = 1, ""
		}
	}()
	f, reason = pen.Penalty(ev, in)
	if f < 0 {
		f = 0
	}
	return f, reason
}

func (e *Engine) warn(msg string, args ...any) {
	if e.logger != nil {
		e.logger.Warn(msg, append([]any{"profile", e.profile}, args...)...)
	}
}

func joinIDs(ids []string) string {
	return strings.Join(ids, ",")
}
