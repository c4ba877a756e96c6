package signals

import (
	"fmt"

	"killsense/internal/model"
)

// Ship scores the victim's ship class against a class → score table.
type Ship struct{}

func (*Ship) Name() string          { return "ship" }
func (*Ship) Category() string      { return CategoryShip }
func (*Ship) PrefetchCapable() bool { return true }

func (s *Ship) Score(ev *model.Event, _ int64, in Input) (model.SignalScore, error) {
	if ev == nil {
		return model.ZeroSignal(s.Name(), true, ReasonNoEvent), nil
	}
	class := ev.VictimShipClass()
	if class == "" {
		return model.ZeroSignal(s.Name(), true, fmt.Sprintf("unknown ship group %d", ev.Victim.ShipGroupID)), nil
	}
	for _, ex := range in.Params.Strings("exclude") {
		if ex == class {
			return model.ZeroSignal(s.Name(), true, class+" excluded").WithMatch(false), nil
		}
	}
	if classes := in.Params.Map("classes"); classes != nil {
		if v, ok := model.ToFloat(classes[class]); ok {
			return model.NewSignalScore(s.Name(), v, true, class).WithRaw(class), nil
		}
	}
	def := in.Params.Float("default", 0)
	return model.NewSignalScore(s.Name(), def, true, class+" (default)").WithRaw(class), nil
}

func (*Ship) Validate(params Params) []string {
	var errs []string
	classes := params.Map("classes")
	if classes == nil && params.Has("classes") {
		errs = append(errs, errParam("classes", "must be a mapping of ship class to score"))
	}
	for class, v := range classes {
		if !model.KnownShipClass(class) {
			errs = append(errs, errParam("classes", "unknown ship class %q", class))
		}
		if f, ok := model.ToFloat(v); !ok || f < 0 || f > 1 {
			errs = append(errs, errParam("classes", "%s score must be in [0, 1]", class))
		}
	}
	for _, ex := range params.Strings("exclude") {
		if !model.KnownShipClass(ex) {
			errs = append(errs, errParam("exclude", "unknown ship class %q", ex))
		}
	}
	if d := params.Float("default", 0); d < 0 || d > 1 {
		errs = append(errs, errParam("default", "must be in [0, 1]"))
	}
	return errs
}
