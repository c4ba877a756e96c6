// Package rules holds the boolean override rules (always_notify, always_ignore)
// and the evaluator that applies them with a fixed precedence.
package rules

import (
	"errors"

	"killsense/internal/model"
	"killsense/internal/signals"
)

var (
	ErrUnknownRule     = errors.New("unknown rule")
	ErrFeatureDisabled = errors.New("feature disabled")
)

// Rule is a named predicate over an event. Like signal providers, a rule
// instance is shared across evaluations and must hold no per-call state.
type Rule interface {
	ID() string
	PrefetchCapable() bool
	Match(ev *model.Event, ctx *signals.EvalContext) (bool, string, error)
}

// Source resolves rule ids that are not defined by the profile itself.
type Source interface {
	Rule(id string) (Rule, bool)
}

// Factory builds a rule instance.
type Factory func() Rule

type funcRule struct {
	id       string
	prefetch bool
	fn       func(ev *model.Event, ctx *signals.EvalContext) (bool, string)
}

func (r *funcRule) ID() string            { return r.id }
func (r *funcRule) PrefetchCapable() bool { return r.prefetch }

func (r *funcRule) Match(ev *model.Event, ctx *signals.EvalContext) (bool, string, error) {
	if ev == nil {
		return false, "", nil
	}
	ok, reason := r.fn(ev, ctx)
	return ok, reason, nil
}

// NewFunc wraps a plain predicate as a Rule.
func NewFunc(id string, prefetch bool, fn func(ev *model.Event, ctx *signals.EvalContext) (bool, string)) Rule {
	return &funcRule{id: id, prefetch: prefetch, fn: fn}
}
