package rules

import (
	"fmt"
	"strings"

	"killsense/internal/model"
	"killsense/internal/signals"
)

const (
	OpEq    = "eq"
	OpNe    = "ne"
	OpGt    = "gt"
	OpGte   = "gte"
	OpLt    = "lt"
	OpLte   = "lte"
	OpIn    = "in"
	OpNotIn = "not_in"
)

var knownOps = map[string]struct{}{
	OpEq: {}, OpNe: {}, OpGt: {}, OpGte: {}, OpLt: {}, OpLte: {}, OpIn: {}, OpNotIn: {},
}

// fieldValues resolves a dotted field name against an event. Fields under
// "attackers." yield one value per attacker.
func fieldValues(ev *model.Event, field string) ([]any, bool) {
	switch field {
	case "kill_id":
		return []any{ev.KillID}, true
	case "location_id":
		return []any{ev.LocationID}, true
	case "total_value":
		return []any{ev.TotalValue}, true
	case "attacker_count":
		return []any{int64(ev.AttackerTotal())}, true
	case "is_pod":
		return []any{ev.IsPod}, true
	case "npc":
		return []any{ev.AllNPC()}, true
	case "solo":
		return []any{ev.IsSolo()}, true
	case "hour":
		if ev.Timestamp.IsZero() {
			return nil, true
		}
		return []any{int64(ev.Timestamp.UTC().Hour())}, true
	case "victim.character_id":
		return []any{ev.Victim.CharacterID}, true
	case "victim.corporation_id":
		return []any{ev.Victim.CorporationID}, true
	case "victim.alliance_id":
		return []any{ev.Victim.AllianceID}, true
	case "victim.ship_type_id":
		return []any{ev.Victim.ShipTypeID}, true
	case "victim.ship_group_id":
		return []any{ev.Victim.ShipGroupID}, true
	case "victim.ship_class":
		return []any{ev.VictimShipClass()}, true
	}
	if rest, ok := strings.CutPrefix(field, "final_blow."); ok {
		fb, found := ev.FinalBlow()
		if !found {
			return nil, attackerField(rest) != nil
		}
		get := attackerField(rest)
		if get == nil {
			return nil, false
		}
		return []any{get(fb)}, true
	}
	if rest, ok := strings.CutPrefix(field, "attackers."); ok {
		get := attackerField(rest)
		if get == nil {
			return nil, false
		}
		out := make([]any, 0, len(ev.Attackers))
		for _, a := range ev.Attackers {
			out = append(out, get(a))
		}
		return out, true
	}
	return nil, false
}

func attackerField(name string) func(model.Attacker) any {
	switch name {
	case "character_id":
		return func(a model.Attacker) any { return a.CharacterID }
	case "corporation_id":
		return func(a model.Attacker) any { return a.CorporationID }
	case "alliance_id":
		return func(a model.Attacker) any { return a.AllianceID }
	case "ship_type_id":
		return func(a model.Attacker) any { return a.ShipTypeID }
	}
	return nil
}

// KnownField reports whether a condition field can be resolved.
func KnownField(field string) bool {
	_, ok := fieldValues(&model.Event{}, field)
	return ok
}

type conditionRule struct {
	id         string
	matchAny   bool
	conditions []model.Condition
	prefetch   bool
}

func newConditionRule(id string, def model.CustomRule) (*conditionRule, error) {
	if len(def.Conditions) == 0 {
		return nil, fmt.Errorf("rule %s: no conditions", id)
	}
	matchAny := false
	switch strings.ToLower(def.Match) {
	case "", "all":
	case "any":
		matchAny = true
	default:
		return nil, fmt.Errorf("rule %s: match must be all or any, got %q", id, def.Match)
	}
	for i, c := range def.Conditions {
		if !KnownField(c.Field) {
			return nil, fmt.Errorf("rule %s: condition %d: unknown field %q", id, i, c.Field)
		}
		if _, ok := knownOps[c.Op]; !ok {
			return nil, fmt.Errorf("rule %s: condition %d: unknown operator %q", id, i, c.Op)
		}
		if (c.Op == OpIn || c.Op == OpNotIn) && !isList(c.Value) {
			return nil, fmt.Errorf("rule %s: condition %d: %s needs a list value", id, i, c.Op)
		}
	}
	return &conditionRule{id: id, matchAny: matchAny, conditions: def.Conditions, prefetch: def.PrefetchCapable}, nil
}

func (r *conditionRule) ID() string            { return r.id }
func (r *conditionRule) PrefetchCapable() bool { return r.prefetch }

func (r *conditionRule) Match(ev *model.Event, _ *signals.EvalContext) (bool, string, error) {
	if ev == nil {
		return false, "", nil
	}
	var hit []string
	for _, c := range r.conditions {
		values, ok := fieldValues(ev, c.Field)
		if !ok {
			return false, "", fmt.Errorf("unknown field %q", c.Field)
		}
		ok = evalCondition(values, c.Op, c.Value)
		if ok {
			hit = append(hit, fmt.Sprintf("%s %s %v", c.Field, c.Op, c.Value))
		}
		if r.matchAny && ok {
			return true, strings.Join(hit, ", "), nil
		}
		if !r.matchAny && !ok {
			return false, "", nil
		}
	}
	if r.matchAny {
		return false, "", nil
	}
	return true, strings.Join(hit, ", "), nil
}

// evalCondition applies op over a multi-valued field: positive operators
// need one value to satisfy them, ne and not_in need every value to.
func evalCondition(values []any, op string, want any) bool {
	if len(values) == 0 {
		return op == OpNe || op == OpNotIn
	}
	negated := op == OpNe || op == OpNotIn
	for _, v := range values {
		ok := compare(v, op, want)
		if negated && !ok {
			return false
		}
		if !negated && ok {
			return true
		}
	}
	return negated
}

func compare(v any, op string, want any) bool {
	switch op {
	case OpEq:
		return equal(v, want)
	case OpNe:
		return !equal(v, want)
	case OpIn:
		return inList(v, want)
	case OpNotIn:
		return !inList(v, want)
	}
	a, ok1 := model.ToFloat(v)
	b, ok2 := model.ToFloat(want)
	if !ok1 || !ok2 {
		return false
	}
	switch op {
	case OpGt:
		return a > b
	case OpGte:
		return a >= b
	case OpLt:
		return a < b
	case OpLte:
		return a <= b
	}
	return false
}

func equal(a, b any) bool {
	if fa, ok := model.ToFloat(a); ok {
		if _, isString := a.(string); !isString {
			fb, ok := model.ToFloat(b)
			return ok && fa == fb
		}
	}
	switch av := a.(type) {
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case string:
		return strings.EqualFold(av, fmt.Sprint(b))
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func inList(v any, list any) bool {
	for _, item := range listOf(list) {
		if equal(v, item) {
			return true
		}
	}
	return false
}

func isList(v any) bool {
	return listOf(v) != nil
}

func listOf(v any) []any {
	switch l := v.(type) {
	case []any:
		return l
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out
	case []int64:
		out := make([]any, len(l))
		for i, n := range l {
			out[i] = n
		}
		return out
	case []int:
		out := make([]any, len(l))
		for i, n := range l {
			out[i] = n
		}
		return out
	case []float64:
		out := make([]any, len(l))
		for i, n := range l {
			out[i] = n
		}
		return out
	}
	return nil
}
