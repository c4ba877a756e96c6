package signals

import (
	"fmt"
	"strconv"

	"killsense/internal/model"
)

// Params is a signal's configuration as decoded from YAML or JSON.
type Params map[string]any

func (p Params) Float(key string, def float64) float64 {
	if f, ok := model.ToFloat(p[key]); ok {
		return f
	}
	return def
}

func (p Params) Bool(key string, def bool) bool {
	if b, ok := p[key].(bool); ok {
		return b
	}
	return def
}

func (p Params) String(key string, def string) string {
	if s, ok := p[key].(string); ok && s != "" {
		return s
	}
	return def
}

func (p Params) Map(key string) Params {
	m, ok := toMap(p[key])
	if !ok {
		return nil
	}
	return m
}

func (p Params) List(key string) []any {
	if l, ok := p[key].([]any); ok {
		return l
	}
	return nil
}

func (p Params) IDs(key string) []int64 {
	return toIDs(p[key])
}

func (p Params) Strings(key string) []string {
	return toStrings(p[key])
}

func (p Params) Has(key string) bool {
	_, ok := p[key]
	return ok
}

func toMap(v any) (Params, bool) {
	switch m := v.(type) {
	case Params:
		return m, true
	case map[string]any:
		return Params(m), true
	case model.SignalConfig:
		return Params(m), true
	case map[any]any:
		out := make(Params, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	}
	return nil, false
}

func toIDs(v any) []int64 {
	switch l := v.(type) {
	case []int64:
		return l
	case []int:
		out := make([]int64, 0, len(l))
		for _, n := range l {
			out = append(out, int64(n))
		}
		return out
	case []any:
		out := make([]int64, 0, len(l))
		for _, item := range l {
			if id, ok := toID(item); ok {
				out = append(out, id)
			}
		}
		return out
	}
	if id, ok := toID(v); ok {
		return []int64{id}
	}
	return nil
}

func toID(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case string:
		id, err := strconv.ParseInt(n, 10, 64)
		return id, err == nil
	}
	return 0, false
}

func toStrings(v any) []string {
	switch l := v.(type) {
	case []string:
		return l
	case []any:
		out := make([]string, 0, len(l))
		for _, item := range l {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if l == "" {
			return nil
		}
		return []string{l}
	}
	return nil
}

// band is a {within: n, score: s} distance band.
type band struct {
	Within int
	Score  float64
}

func parseBands(raw []any) ([]band, []string) {
	var out []band
	var errs []string
	for i, item := range raw {
		m, ok := toMap(item)
		if !ok {
			errs = append(errs, errParam("bands", "entry %d is not a mapping", i))
			continue
		}
		within, ok1 := model.ToFloat(m["within"])
		score, ok2 := model.ToFloat(m["score"])
		if !ok1 || !ok2 {
			errs = append(errs, errParam("bands", "entry %d needs numeric within and score", i))
			continue
		}
		if score < 0 || score > 1 {
			errs = append(errs, errParam("bands", "entry %d score must be in [0, 1]", i))
		}
		if within < 0 {
			errs = append(errs, errParam("bands", "entry %d within must be >= 0", i))
		}
		out = append(out, band{Within: int(within), Score: score})
	}
	for i := 1; i < len(out); i++ {
		if out[i].Within < out[i-1].Within {
			errs = append(errs, errParam("bands", "entries must be in ascending order of within"))
			break
		}
	}
	return out, errs
}

func bandScore(bands []band, jumps int) (float64, bool) {
	for _, b := range bands {
		if jumps <= b.Within {
			return b.Score, true
		}
	}
	return 0, false
}
