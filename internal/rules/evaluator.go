package rules

import (
	"fmt"
	"log/slog"
	"sort"

	"killsense/internal/model"
	"killsense/internal/signals"
)

// BuildCustom compiles the profile's custom rule definitions. Expression
// rules require the rule_expressions feature.
func BuildCustom(defs map[string]model.CustomRule, features model.Features) (map[string]Rule, error) {
	out := make(map[string]Rule, len(defs))
	ids := make([]string, 0, len(defs))
	for id := range defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		def := defs[id]
		switch {
		case def.Expression != "" && len(def.Conditions) > 0:
			return nil, fmt.Errorf("rule %s: conditions and expression are mutually exclusive", id)
		case def.Expression != "":
			if !features.RuleExpressions {
				return nil, fmt.Errorf("rule %s: expressions need features.rule_expressions: %w", id, ErrFeatureDisabled)
			}
			r, err := newExpressionRule(id, def)
			if err != nil {
				return nil, err
			}
			out[id] = r
		default:
			r, err := newConditionRule(id, def)
			if err != nil {
				return nil, err
			}
			out[id] = r
		}
	}
	return out, nil
}

// Evaluator applies one profile's always_notify and always_ignore lists.
// It is immutable after construction.
type Evaluator struct {
	notify []Rule
	ignore []Rule
	logger *slog.Logger
}

// NewEvaluator resolves every referenced rule id, custom definitions first
// and then src. Any unresolvable id fails with ErrUnknownRule.
func NewEvaluator(cfg model.RulesConfig, features model.Features, src Source, logger *slog.Logger) (*Evaluator, error) {
	custom, err := BuildCustom(cfg.Custom, features)
	if err != nil {
		return nil, err
	}
	resolve := func(ids []string) ([]Rule, error) {
		out := make([]Rule, 0, len(ids))
		for _, id := range ids {
			if r, ok := custom[id]; ok {
				out = append(out, r)
				continue
			}
			if src != nil {
				if r, ok := src.Rule(id); ok {
					out = append(out, r)
					continue
				}
			}
			return nil, fmt.Errorf("%w: %s", ErrUnknownRule, id)
		}
		return out, nil
	}
	e := &Evaluator{logger: logger}
	if e.notify, err = resolve(cfg.AlwaysNotify); err != nil {
		return nil, err
	}
	if e.ignore, err = resolve(cfg.AlwaysIgnore); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Evaluator) NotifyRules() []Rule { return e.notify }
func (e *Evaluator) IgnoreRules() []Rule { return e.ignore }

// Ignore evaluates the always_ignore list.
func (e *Evaluator) Ignore(ev *model.Event, ctx *signals.EvalContext) []model.RuleMatch {
	return e.run(e.ignore, ev, ctx, false)
}

// Notify evaluates the always_notify list.
func (e *Evaluator) Notify(ev *model.Event, ctx *signals.EvalContext) []model.RuleMatch {
	return e.run(e.notify, ev, ctx, false)
}

// PrefetchIgnore and PrefetchNotify only consult prefetch-capable rules.
func (e *Evaluator) PrefetchIgnore(ev *model.Event, ctx *signals.EvalContext) []model.RuleMatch {
	return e.run(e.ignore, ev, ctx, true)
}

func (e *Evaluator) PrefetchNotify(ev *model.Event, ctx *signals.EvalContext) []model.RuleMatch {
	return e.run(e.notify, ev, ctx, true)
}

// AllNotifyPrefetchCapable reports whether every always_notify rule can be
// decided before detail is fetched.
func (e *Evaluator) AllNotifyPrefetchCapable() bool {
	for _, r := range e.notify {
		if !r.PrefetchCapable() {
			return false
		}
	}
	return true
}

func (e *Evaluator) run(list []Rule, ev *model.Event, ctx *signals.EvalContext, prefetchOnly bool) []model.RuleMatch {
	out := make([]model.RuleMatch, 0, len(list))
	for _, r := range list {
		if prefetchOnly && !r.PrefetchCapable() {
			continue
		}
		out = append(out, e.evalOne(r, ev, ctx))
	}
	return out
}

// evalOne never lets a rule failure propagate: errors and panics count as
// not matched.
func (e *Evaluator) evalOne(r Rule, ev *model.Event, ctx *signals.EvalContext) (m model.RuleMatch) {
	m = model.RuleMatch{RuleID: r.ID(), PrefetchCapable: r.PrefetchCapable()}
	defer func() {
		if rec := recover(); rec != nil {
			m.Matched = false
			m.Reason = ""
			m.Err = fmt.Sprintf("panic: %v", rec)
			e.warn(r.ID(), m.Err)
		}
	}()
	matched, reason, err := r.Match(ev, ctx)
	if err != nil {
		m.Err = err.Error()
		e.warn(r.ID(), m.Err)
		return m
	}
	m.Matched = matched
	if matched {
		m.Reason = reason
	}
	return m
}

func (e *Evaluator) warn(id, msg string) {
	if e.logger != nil {
		e.logger.Warn("rule evaluation failed", "rule_id", id, "err", msg)
	}
}

// AnyMatched reports whether any rule in list fired.
func AnyMatched(list []model.RuleMatch) bool {
	for _, m := range list {
		if m.Matched {
			return true
		}
	}
	return false
}
