package rules

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/open-policy-agent/opa/rego"

	"killsense/internal/model"
	"killsense/internal/signals"
)

const expressionTimeout = 250 * time.Millisecond

// expressionRule evaluates a Rego query with the event bound to input. The
// rule matches when the query yields a result and no expression in it is
// false.
type expressionRule struct {
	id       string
	query    string
	prefetch bool
	prepared rego.PreparedEvalQuery
}

func newExpressionRule(id string, def model.CustomRule) (*expressionRule, error) {
	pq, err := rego.New(rego.Query(def.Expression)).PrepareForEval(context.Background())
	if err != nil {
		return nil, fmt.Errorf("rule %s: compile expression: %w", id, err)
	}
	return &expressionRule{id: id, query: def.Expression, prefetch: def.PrefetchCapable, prepared: pq}, nil
}

func (r *expressionRule) ID() string            { return r.id }
func (r *expressionRule) PrefetchCapable() bool { return r.prefetch }

func (r *expressionRule) Match(ev *model.Event, ctx *signals.EvalContext) (bool, string, error) {
	if ev == nil {
		return false, "", nil
	}
	input, err := expressionInput(ev, ctx)
	if err != nil {
		return false, "", err
	}
	c, cancel := context.WithTimeout(context.Background(), expressionTimeout)
	defer cancel()
	rs, err := r.prepared.Eval(c, rego.EvalInput(input))
	if err != nil {
		return false, "", fmt.Errorf("eval %s: %w", r.id, err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, "", nil
	}
	for _, e := range rs[0].Expressions {
		if b, ok := e.Value.(bool); ok && !b {
			return false, "", nil
		}
	}
	return true, r.query, nil
}

func expressionInput(ev *model.Event, ctx *signals.EvalContext) (map[string]any, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	var input map[string]any
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, err
	}
	if v, ok := input["victim"].(map[string]any); ok {
		v["ship_class"] = ev.VictimShipClass()
	}
	input["attacker_count"] = ev.AttackerTotal()
	input["solo"] = ev.IsSolo()
	input["npc"] = ev.AllNPC()
	if ctx != nil && len(ctx.Extra) > 0 {
		// Extra may hold values rego cannot convert; pass only what survives JSON.
		if b, err := json.Marshal(ctx.Extra); err == nil {
			var extra map[string]any
			if json.Unmarshal(b, &extra) == nil {
				input["context"] = extra
			}
		}
	}
	return input, nil
}
