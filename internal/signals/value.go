package signals

import (
	"fmt"
	"strings"

	"killsense/internal/model"
	"killsense/internal/scaling"
)

var defaultValueCurve = map[string]any{
	"min":       0.0,
	"max":       10e9,
	"pivot":     1e9,
	"steepness": 6.0,
}

// Value scores the total destroyed+dropped value through a scaling curve.
// Curves resolve through the registry when one is attached, else through
// the built-in kinds.
type Value struct {
	curves CurveResolver
}

func (v *Value) UseCurves(r CurveResolver) { v.curves = r }

func (*Value) Name() string          { return "value" }
func (*Value) Category() string      { return CategoryValue }
func (*Value) PrefetchCapable() bool { return true }

func (v *Value) Score(ev *model.Event, _ int64, in Input) (model.SignalScore, error) {
	if ev == nil {
		return model.ZeroSignal(v.Name(), true, ReasonNoEvent), nil
	}
	if floor := in.Params.Float("min_value", 0); ev.TotalValue < floor {
		return model.NewSignalScore(v.Name(), 0, true, fmt.Sprintf("%s below minimum %s", formatISK(ev.TotalValue), formatISK(floor))).WithRaw(ev.TotalValue), nil
	}
	curve, err := v.curve(in.Params)
	if err != nil {
		return model.SignalScore{}, err
	}
	score := curve.Apply(ev.TotalValue)
	return model.NewSignalScore(v.Name(), score, true, formatISK(ev.TotalValue)).WithRaw(ev.TotalValue), nil
}

func (v *Value) curve(p Params) (scaling.Func, error) {
	kind := p.String("scale", scaling.KindSigmoid)
	params := p.Map("curve")
	if params == nil {
		params = Params{}
		if strings.EqualFold(kind, scaling.KindSigmoid) {
			for k, val := range defaultValueCurve {
				params[k] = val
			}
		}
		for k, val := range p {
			params[k] = val
		}
	}
	if v.curves != nil {
		return v.curves(kind, params)
	}
	return scaling.New(kind, params)
}

func (v *Value) Validate(params Params) []string {
	var errs []string
	if _, err := v.curve(params); err != nil {
		errs = append(errs, errParam("scale", "%v", err))
	}
	if params.Float("min_value", 0) < 0 {
		errs = append(errs, errParam("min_value", "must be >= 0"))
	}
	return errs
}

func formatISK(v float64) string {
	switch {
	case v >= 1e12:
		return fmt.Sprintf("%.2fT ISK", v/1e12)
	case v >= 1e9:
		return fmt.Sprintf("%.2fB ISK", v/1e9)
	case v >= 1e6:
		return fmt.Sprintf("%.1fM ISK", v/1e6)
	case v >= 1e3:
		return fmt.Sprintf("%.0fK ISK", v/1e3)
	}
	return fmt.Sprintf("%.0f ISK", v)
}
