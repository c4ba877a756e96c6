// Package validate checks a profile before an engine is built from it. All
// problems are collected into a Report rather than returned one at a time.
package validate

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"killsense/internal/interest"
	"killsense/internal/model"
	"killsense/internal/presets"
	"killsense/internal/registry"
	"killsense/internal/rules"
	"killsense/internal/signals"
)

// Complexity is detected from which blocks a profile uses.
type Complexity string

const (
	Simple       Complexity = "simple"
	Intermediate Complexity = "intermediate"
	Advanced     Complexity = "advanced"
)

const (
	CodeRequired         = "required"
	CodeNotAllowed       = "not_allowed_for_tier"
	CodeUnknownEngine    = "unknown_engine"
	CodeUnknownPreset    = "unknown_preset"
	CodeUnknownCategory  = "unknown_category"
	CodeNegativeWeight   = "negative_weight"
	CodeNoPositiveWeight = "no_positive_weight"
	CodeBadAdjustment    = "invalid_adjustment"
	CodeOutOfRange       = "out_of_range"
	CodeThresholdOrder   = "threshold_order"
	CodeGateUnknown      = "gate_unknown_category"
	CodeGateDisabled     = "gate_category_disabled"
	CodeInvalidMode      = "invalid_mode"
	CodeMaxNeedsBypass   = "max_requires_bypass"
	CodeUnknownRule      = "unknown_rule"
	CodeInvalidRule      = "invalid_rule"
	CodeRuleConflict     = "rule_conflict"
	CodeUnknownSignal    = "unknown_signal"
	CodeFeatureDisabled  = "feature_disabled"
	CodeSignalParam      = "invalid_signal_param"
	CodeInactiveCategory = "inactive_category"
	CodeUnknownDelivery  = "unknown_delivery"
	CodeRateLimit        = "invalid_rate_limit"
)

type Issue struct {
	Field      string `json:"field"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

func (i Issue) Error() string {
	if i.Field == "" {
		return fmt.Sprintf("%s (%s)", i.Message, i.Code)
	}
	return fmt.Sprintf("%s: %s (%s)", i.Field, i.Message, i.Code)
}

type Report struct {
	Profile  string     `json:"profile"`
	Tier     Complexity `json:"tier"`
	Errors   []Issue    `json:"errors"`
	Warnings []Issue    `json:"warnings"`
}

func (r *Report) OK() bool {
	return len(r.Errors) == 0
}

// Err joins every error issue, or returns nil when there are none.
func (r *Report) Err() error {
	if r.OK() {
		return nil
	}
	errs := make([]error, 0, len(r.Errors))
	for _, issue := range r.Errors {
		errs = append(errs, issue)
	}
	err := errors.Join(errs...)
	if r.Profile != "" {
		return fmt.Errorf("profile %s: %w", r.Profile, err)
	}
	return err
}

func (r *Report) addError(field, code, suggestion, format string, args ...any) {
	r.Errors = append(r.Errors, Issue{Field: field, Code: code, Message: fmt.Sprintf(format, args...), Suggestion: suggestion})
}

func (r *Report) addWarning(field, code, suggestion, format string, args ...any) {
	r.Warnings = append(r.Warnings, Issue{Field: field, Code: code, Message: fmt.Sprintf(format, args...), Suggestion: suggestion})
}

// DetectComplexity classifies a profile: a raw signals block makes it
// advanced, explicit weights intermediate, anything else simple.
func DetectComplexity(p model.Profile) Complexity {
	switch {
	case len(p.Signals) > 0:
		return Advanced
	case len(p.Weights) > 0:
		return Intermediate
	default:
		return Simple
	}
}

// Profile validates one profile against the providers in reg. A nil reg
// means the default registry.
func Profile(p model.Profile, reg *registry.Registry) *Report {
	if reg == nil {
		reg = registry.Default()
	}
	r := &Report{Profile: p.Name, Tier: DetectComplexity(p)}
	checkTier(r, p)
	checkEngine(r, p)
	weights := checkWeights(r, p)
	checkThresholds(r, p)
	checkModes(r, p)
	checkGates(r, p, weights)
	checkRules(r, p, reg)
	checkSignals(r, p, reg, weights)
	checkRateLimit(r, p)
	checkDelivery(r, p, reg)
	return r
}

// Profiles validates a profile set, adding duplicate-name errors to the
// later profile.
func Profiles(ps []model.Profile, reg *registry.Registry) []*Report {
	seen := make(map[string]bool, len(ps))
	out := make([]*Report, 0, len(ps))
	for i, p := range ps {
		r := Profile(p, reg)
		switch {
		case p.Name == "":
			r.addError(fmt.Sprintf("profiles[%d].name", i), CodeRequired, "", "profile name is required")
		case seen[p.Name]:
			r.addError(fmt.Sprintf("profiles[%d].name", i), CodeRequired, "", "duplicate profile name %q", p.Name)
		}
		seen[p.Name] = true
		out = append(out, r)
	}
	return out
}

// Err joins the errors of every report.
func Err(reports []*Report) error {
	var errs []error
	for _, r := range reports {
		if err := r.Err(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func checkTier(r *Report, p model.Profile) {
	switch r.Tier {
	case Simple:
		if p.Preset == "" {
			r.addError("preset", CodeRequired, "pick one of: "+strings.Join(presets.Names(), ", "), "a simple profile needs a preset")
		}
		if len(p.Rules.Custom) > 0 {
			r.addError("rules.custom", CodeNotAllowed, "add explicit weights or signals to use custom rules", "custom rules are not available to simple profiles")
		}
		if p.Rules.HasGates() {
			r.addError("rules.require_all", CodeNotAllowed, "add explicit weights or signals to use gates", "gates are not available to simple profiles")
		}
	case Intermediate:
		if p.Preset == "" {
			r.addError("preset", CodeRequired, "the preset supplies signal defaults; add one such as balanced", "an intermediate profile needs a preset")
		}
	case Advanced:
		if p.Preset == "" && len(p.Weights) == 0 {
			r.addError("weights", CodeRequired, "set weights or a preset", "an advanced profile needs a preset or explicit weights")
		}
	}
	if p.Preset != "" {
		if _, ok := presets.Get(p.Preset); !ok {
			r.addError("preset", CodeUnknownPreset, suggest(p.Preset, presets.Names()), "unknown preset %q", p.Preset)
		}
	}
}

func checkEngine(r *Report, p model.Profile) {
	switch p.Engine {
	case "", "interest", "v2":
	default:
		r.addError("engine", CodeUnknownEngine, `use "interest"`, "unsupported engine %q", p.Engine)
	}
}

// checkWeights reports weight problems and returns the resolved weights, or
// nil if they could not be resolved.
func checkWeights(r *Report, p model.Profile) map[string]float64 {
	for cat, w := range p.Weights {
		if !signals.IsCategory(cat) {
			r.addError("weights."+cat, CodeUnknownCategory, suggest(cat, signals.Categories), "unknown category %q", cat)
		}
		if w < 0 {
			r.addError("weights."+cat, CodeNegativeWeight, "use 0 to disable a category", "weight %.2f is negative", w)
		}
	}
	for cat, adj := range p.Customize {
		if !signals.IsCategory(cat) {
			r.addError("customize."+cat, CodeUnknownCategory, suggest(cat, signals.Categories), "unknown category %q", cat)
		}
		if _, err := interest.ParseAdjustment(adj); err != nil {
			r.addError("customize."+cat, CodeBadAdjustment, `use a signed percentage such as "+20%" or "-50%"`, "%v", err)
		}
	}
	weights, err := interest.ResolveWeights(p)
	if err != nil {
		return nil
	}
	for _, w := range weights {
		if w > 0 {
			return weights
		}
	}
	r.addError("weights", CodeNoPositiveWeight, "give at least one category a weight above 0", "no category has a positive weight")
	return weights
}

func checkThresholds(r *Report, p model.Profile) {
	t := p.Thresholds
	for _, f := range []struct {
		name string
		v    *float64
	}{{"priority", t.Priority}, {"notify", t.Notify}, {"digest", t.Digest}} {
		if f.v != nil && (*f.v < 0 || *f.v > 1) {
			r.addError("thresholds."+f.name, CodeOutOfRange, "thresholds are fractions in [0, 1]", "%.2f is outside [0, 1]", *f.v)
		}
	}
	res := t.Resolve()
	if res.Digest > res.Notify || res.Notify > res.Priority {
		r.addError("thresholds", CodeThresholdOrder, "keep digest <= notify <= priority",
			"thresholds out of order: digest %.2f, notify %.2f, priority %.2f", res.Digest, res.Notify, res.Priority)
	}
}

func checkModes(r *Report, p model.Profile) {
	mode := p.Mode.OrDefault()
	if !mode.Valid() {
		r.addError("mode", CodeInvalidMode, "use weighted, linear or max", "unknown aggregation mode %q", p.Mode)
	}
	pm := p.Prefetch.Mode.OrDefault()
	if !pm.Valid() {
		r.addError("prefetch.mode", CodeInvalidMode, "use auto, strict, conservative or bypass", "unknown prefetch mode %q", p.Prefetch.Mode)
	}
	if mode == model.ModeMax && pm != model.PrefetchBypass {
		r.addError("prefetch.mode", CodeMaxNeedsBypass, "set prefetch.mode: bypass",
			"max aggregation has no useful prefetch bound; prefetch must be bypassed")
	}
	if u := p.Prefetch.UnknownAssumption; u != nil && (*u < 0 || *u > 1) {
		r.addError("prefetch.unknown_assumption", CodeOutOfRange, "use a value in [0, 1]", "%.2f is outside [0, 1]", *u)
	}
	if th := p.Prefetch.Threshold; th != nil && (*th < 0 || *th > 1) {
		r.addError("prefetch.threshold", CodeOutOfRange, "use a value in [0, 1]", "%.2f is outside [0, 1]", *th)
	}
}

func checkGates(r *Report, p model.Profile, weights map[string]float64) {
	check := func(field string, cats []string) {
		for _, cat := range cats {
			if !signals.IsCategory(cat) {
				r.addError(field, CodeGateUnknown, suggest(cat, signals.Categories), "gate references unknown category %q", cat)
				continue
			}
			if weights != nil && weights[cat] <= 0 {
				r.addError(field, CodeGateDisabled, fmt.Sprintf("give %s a positive weight or drop it from the gate", cat),
					"gate references %s, which has weight 0", cat)
			}
		}
	}
	check("rules.require_all", p.Rules.RequireAll)
	check("rules.require_any", p.Rules.RequireAny)
}

func checkRules(r *Report, p model.Profile, reg *registry.Registry) {
	custom := make(map[string]bool, len(p.Rules.Custom))
	ids := make([]string, 0, len(p.Rules.Custom))
	for id := range p.Rules.Custom {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		custom[id] = true
		_, err := rules.BuildCustom(map[string]model.CustomRule{id: p.Rules.Custom[id]}, p.Features)
		switch {
		case errors.Is(err, rules.ErrFeatureDisabled):
			r.addError("rules.custom."+id, CodeFeatureDisabled, "set features.rule_expressions: true", "%v", err)
		case err != nil:
			r.addError("rules.custom."+id, CodeInvalidRule, "", "%v", err)
		}
	}
	known := reg.RuleIDs()
	resolve := func(field string, list []string) {
		for _, id := range list {
			if custom[id] {
				continue
			}
			if _, ok := reg.Rule(id); !ok {
				r.addError(field, CodeUnknownRule, suggest(id, known), "unknown rule %q", id)
			}
		}
	}
	resolve("rules.always_notify", p.Rules.AlwaysNotify)
	resolve("rules.always_ignore", p.Rules.AlwaysIgnore)

	ignored := make(map[string]bool, len(p.Rules.AlwaysIgnore))
	for _, id := range p.Rules.AlwaysIgnore {
		ignored[id] = true
	}
	for _, id := range p.Rules.AlwaysNotify {
		if ignored[id] {
			r.addWarning("rules", CodeRuleConflict, "remove it from one of the lists",
				"rule %q is in both always_notify and always_ignore; ignore wins", id)
		}
	}
}

func checkSignals(r *Report, p model.Profile, reg *registry.Registry, weights map[string]float64) {
	cats := make([]string, 0, len(p.Signals))
	for cat := range p.Signals {
		cats = append(cats, cat)
	}
	sort.Strings(cats)
	resolved := interest.ResolveSignals(p)
	for _, cat := range cats {
		if !signals.IsCategory(cat) {
			r.addError("signals."+cat, CodeUnknownCategory, suggest(cat, signals.Categories), "unknown category %q", cat)
			continue
		}
		names := make([]string, 0, len(p.Signals[cat]))
		for name := range p.Signals[cat] {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			field := "signals." + cat + "." + name
			provider, ok := reg.Signal(cat, name)
			if !ok {
				if p.Features.CustomSignals {
					r.addWarning(field, CodeUnknownSignal, "", "signal %q is not registered and will be skipped", name)
				} else {
					r.addError(field, CodeFeatureDisabled, suggest(name, reg.SignalNames(cat)),
						"signal %q is not built in; custom signals need features.custom_signals", name)
				}
				continue
			}
			cfg := resolved[cat][name]
			if v, ok := cfg["weight"]; ok {
				if w, ok := model.ToFloat(v); !ok || w < 0 {
					r.addError(field+".weight", CodeSignalParam, "use a number >= 0", "signal weight %v is invalid", v)
				}
			}
			for _, msg := range provider.Validate(signals.Params(cfg)) {
				r.addError(field, CodeSignalParam, "", "%s", msg)
			}
		}
	}
	if weights == nil {
		return
	}
	for _, cat := range signals.Categories {
		if weights[cat] <= 0 {
			continue
		}
		enabled := 0
		for name, cfg := range resolved[cat] {
			if _, ok := reg.Signal(cat, name); ok && cfg.Enabled() {
				enabled++
			}
		}
		if enabled == 0 {
			r.addWarning("weights."+cat, CodeInactiveCategory, fmt.Sprintf("configure a signal under signals.%s", cat),
				"%s has weight %.2f but no enabled signals; it will not contribute", cat, weights[cat])
		}
	}
}

func checkRateLimit(r *Report, p model.Profile) {
	rl := p.RateLimit
	if rl.MaxPerWindow < 0 {
		r.addError("rate_limit.max_per_window", CodeRateLimit, "use 0 to disable", "must be >= 0")
	}
	if rl.MaxPerWindow > 0 && rl.Window <= 0 {
		r.addError("rate_limit.window", CodeRateLimit, "set a window such as 1h", "a positive window is required with max_per_window")
	}
	if rl.Cooldown < 0 {
		r.addError("rate_limit.cooldown", CodeRateLimit, "", "must be >= 0")
	}
}

func checkDelivery(r *Report, p model.Profile, reg *registry.Registry) {
	for i, d := range p.Delivery {
		field := fmt.Sprintf("delivery[%d]", i)
		if _, ok := reg.Delivery(d.Provider); !ok {
			r.addError(field+".provider", CodeUnknownDelivery, "use log, webhook or kafka", "unknown delivery provider %q", d.Provider)
		}
	}
}

// suggest names the closest candidate, or lists them all when nothing is
// close.
func suggest(name string, candidates []string) string {
	if len(candidates) == 0 {
		return ""
	}
	best, bestDist := "", -1
	for _, c := range candidates {
		d := distance(strings.ToLower(name), strings.ToLower(c))
		if bestDist < 0 || d < bestDist {
			best, bestDist = c, d
		}
	}
	if bestDist <= 2 || (bestDist <= len(name)/2 && bestDist < len(best)) {
		return fmt.Sprintf("did you mean %q?", best)
	}
	return "expected one of: " + strings.Join(candidates, ", ")
}

func distance(a, b string) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = minInt(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

func minInt(v ...int) int {
	m := v[0]
	for _, x := range v[1:] {
		if x < m {
			m = x
		}
	}
	return m
}
