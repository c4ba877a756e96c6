// Package scaling maps raw numeric values onto [0,1] scores.
package scaling

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"killsense/internal/model"
)

// Func is a pure numeric curve. Apply always returns a value in [0,1].
type Func interface {
	Apply(x float64) float64
	Validate() []string
}

// Builder constructs a Func from a parameter map.
type Builder func(params map[string]any) (Func, error)

const (
	KindSigmoid = "sigmoid"
	KindLinear  = "linear"
	KindLog     = "log"
	KindStep    = "step"
	KindInverse = "inverse"
)

func Builders() map[string]Builder {
	return map[string]Builder{
		KindSigmoid: func(p map[string]any) (Func, error) { return NewSigmoid(p), nil },
		KindLinear:  func(p map[string]any) (Func, error) { return NewLinear(p), nil },
		KindLog:     func(p map[string]any) (Func, error) { return NewLog(p), nil },
		KindStep:    NewStep,
		KindInverse: func(p map[string]any) (Func, error) { return NewInverse(p), nil },
	}
}

// New builds and validates a curve of the given kind.
func New(kind string, params map[string]any) (Func, error) {
	b, ok := Builders()[strings.ToLower(kind)]
	if !ok {
		return nil, fmt.Errorf("unknown scaling function %q", kind)
	}
	f, err := b(params)
	if err != nil {
		return nil, err
	}
	if errs := f.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("%s: %s", kind, strings.Join(errs, "; "))
	}
	return f, nil
}

type Sigmoid struct {
	Min       float64
	Max       float64
	Pivot     float64
	Steepness float64
}

func NewSigmoid(p map[string]any) *Sigmoid {
	s := &Sigmoid{
		Min:       param(p, "min", 0),
		Max:       param(p, "max", 1),
		Steepness: param(p, "steepness", 10),
	}
	s.Pivot = param(p, "pivot", (s.Min+s.Max)/2)
	return s
}

// Apply evaluates the logistic curve over the normalised position of x in
// [Min,Max], rescaled so that Min maps to 0 and Max maps to 1.
func (s *Sigmoid) Apply(x float64) float64 {
	if x <= s.Min {
		return 0
	}
	if x >= s.Max {
		return 1
	}
	span := s.Max - s.Min
	t := (x - s.Min) / span
	p := (s.Pivot - s.Min) / span
	lo := logistic(0, p, s.Steepness)
	hi := logistic(1, p, s.Steepness)
	if hi-lo <= 0 {
		return model.Clamp01(t)
	}
	return model.Clamp01((logistic(t, p, s.Steepness) - lo) / (hi - lo))
}

func logistic(t, p, k float64) float64 {
	return 1 / (1 + math.Exp(-k*(t-p)))
}

func (s *Sigmoid) Validate() []string {
	var errs []string
	if s.Max <= s.Min {
		errs = append(errs, "max must be greater than min")
	}
	if s.Pivot < s.Min || s.Pivot > s.Max {
		errs = append(errs, "pivot must lie within [min, max]")
	}
	if s.Steepness <= 0 {
		errs = append(errs, "steepness must be > 0")
	}
	return errs
}

type Linear struct {
	Min    float64
	Max    float64
	Invert bool
}

func NewLinear(p map[string]any) *Linear {
	l := &Linear{Min: param(p, "min", 0), Max: param(p, "max", 1)}
	if v, ok := p["invert"].(bool); ok {
		l.Invert = v
	}
	return l
}

func (l *Linear) Apply(x float64) float64 {
	var v float64
	switch {
	case x <= l.Min:
		v = 0
	case x >= l.Max:
		v = 1
	default:
		v = (x - l.Min) / (l.Max - l.Min)
	}
	if l.Invert {
		v = 1 - v
	}
	return model.Clamp01(v)
}

func (l *Linear) Validate() []string {
	if l.Max <= l.Min {
		return []string{"max must be greater than min"}
	}
	return nil
}

// Log compresses wide ranges: log1p(x-min) / log1p(max-min).
type Log struct {
	Min float64
	Max float64
}

func NewLog(p map[string]any) *Log {
	return &Log{Min: param(p, "min", 0), Max: param(p, "max", 1)}
}

func (l *Log) Apply(x float64) float64 {
	if x <= l.Min {
		return 0
	}
	if x >= l.Max {
		return 1
	}
	den := math.Log1p(l.Max - l.Min)
	if den <= 0 {
		return 0
	}
	return model.Clamp01(math.Log1p(x-l.Min) / den)
}

func (l *Log) Validate() []string {
	if l.Max <= l.Min {
		return []string{"max must be greater than min"}
	}
	return nil
}

type Threshold struct {
	Below float64
	Score float64
}

type Step struct {
	Steps      []Threshold
	Default    float64
	HasDefault bool
}

// NewStep reads an ordered list of {below, score} entries, optionally ending
// with a {default} entry.
func NewStep(p map[string]any) (Func, error) {
	raw, ok := p["steps"].([]any)
	if !ok {
		return nil, fmt.Errorf("step: steps must be a list")
	}
	s := &Step{}
	for i, item := range raw {
		m, ok := asMap(item)
		if !ok {
			return nil, fmt.Errorf("step: entry %d is not a mapping", i)
		}
		if d, ok := m["default"]; ok {
			f, ok := model.ToFloat(d)
			if !ok {
				return nil, fmt.Errorf("step: entry %d default is not numeric", i)
			}
			s.Default = f
			s.HasDefault = true
			continue
		}
		below, ok1 := model.ToFloat(m["below"])
		score, ok2 := model.ToFloat(m["score"])
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("step: entry %d needs numeric below and score", i)
		}
		s.Steps = append(s.Steps, Threshold{Below: below, Score: score})
	}
	if d, ok := p["default"]; ok && !s.HasDefault {
		if f, ok := model.ToFloat(d); ok {
			s.Default = f
			s.HasDefault = true
		}
	}
	return s, nil
}

func (s *Step) Apply(x float64) float64 {
	for _, st := range s.Steps {
		if x < st.Below {
			return model.Clamp01(st.Score)
		}
	}
	if s.HasDefault {
		return model.Clamp01(s.Default)
	}
	return 0
}

func (s *Step) Validate() []string {
	var errs []string
	if len(s.Steps) == 0 && !s.HasDefault {
		errs = append(errs, "at least one step is required")
	}
	if !sort.SliceIsSorted(s.Steps, func(i, j int) bool { return s.Steps[i].Below < s.Steps[j].Below }) {
		errs = append(errs, "steps must be in ascending order of below")
	}
	for i, st := range s.Steps {
		if st.Score < 0 || st.Score > 1 {
			errs = append(errs, fmt.Sprintf("step %d score must be in [0, 1]", i))
		}
	}
	if s.HasDefault && (s.Default < 0 || s.Default > 1) {
		errs = append(errs, "default score must be in [0, 1]")
	}
	return errs
}

// Inverse decays as base/(base+value) and never drops below Floor.
type Inverse struct {
	Base  float64
	Floor float64
}

func NewInverse(p map[string]any) *Inverse {
	return &Inverse{Base: param(p, "base", 1), Floor: param(p, "floor", 0)}
}

func (v *Inverse) Apply(x float64) float64 {
	if x < 0 {
		x = 0
	}
	s := v.Base / (v.Base + x)
	if s < v.Floor {
		s = v.Floor
	}
	return model.Clamp01(s)
}

func (v *Inverse) Validate() []string {
	var errs []string
	if v.Base <= 0 {
		errs = append(errs, "base must be > 0")
	}
	if v.Floor < 0 || v.Floor > 1 {
		errs = append(errs, "floor must be in [0, 1]")
	}
	return errs
}

func param(p map[string]any, key string, def float64) float64 {
	if p == nil {
		return def
	}
	if f, ok := model.ToFloat(p[key]); ok {
		return f
	}
	return def
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	case model.SignalConfig:
		return map[string]any(m), true
	}
	return nil, false
}
