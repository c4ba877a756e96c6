package signals

import (
	"fmt"

	"killsense/internal/model"
)

type route struct {
	Name        string
	Systems     map[int64]struct{}
	ShipClasses map[string]struct{}
	Score       float64
}

func parseRoutes(raw []any) ([]route, []string) {
	var out []route
	var errs []string
	for i, item := range raw {
		m, ok := toMap(item)
		if !ok {
			errs = append(errs, errParam("routes", "entry %d is not a mapping", i))
			continue
		}
		r := route{Name: m.String("name", fmt.Sprintf("route-%d", i)), Score: m.Float("score", 1.0)}
		r.Systems = idSet(m.IDs("systems"))
		if len(r.Systems) == 0 {
			errs = append(errs, errParam("routes", "%s has no systems", r.Name))
		}
		if r.Score < 0 || r.Score > 1 {
			errs = append(errs, errParam("routes", "%s score must be in [0, 1]", r.Name))
		}
		for _, class := range m.Strings("ship_classes") {
			if !model.KnownShipClass(class) {
				errs = append(errs, errParam("routes", "%s: unknown ship class %q", r.Name, class))
				continue
			}
			if r.ShipClasses == nil {
				r.ShipClasses = make(map[string]struct{})
			}
			r.ShipClasses[class] = struct{}{}
		}
		out = append(out, r)
	}
	return out, errs
}

// Routes matches kills on named travel corridors, optionally filtered to
// the victim ship classes that travel them.
type Routes struct{}

func (*Routes) Name() string          { return "routes" }
func (*Routes) Category() string      { return CategoryRoutes }
func (*Routes) PrefetchCapable() bool { return false }

func (r *Routes) Score(ev *model.Event, locationID int64, in Input) (model.SignalScore, error) {
	if ev == nil {
		return model.ZeroSignal(r.Name(), false, ReasonNoEvent), nil
	}
	routes, errs := parseRoutes(in.Params.List("routes"))
	if len(errs) > 0 {
		return model.SignalScore{}, fmt.Errorf("routes: %s", errs[0])
	}
	class := ev.VictimShipClass()
	best := 0.0
	matched := ""
	onRoute := ""
	for _, rt := range routes {
		if _, ok := rt.Systems[locationID]; !ok {
			continue
		}
		onRoute = rt.Name
		if len(rt.ShipClasses) > 0 {
			if _, ok := rt.ShipClasses[class]; !ok {
				continue
			}
		}
		if rt.Score > best {
			best = rt.Score
			matched = rt.Name
		}
	}
	if matched == "" {
		if onRoute != "" {
			return model.ZeroSignal(r.Name(), false, fmt.Sprintf("on %s but %s not watched", onRoute, class)), nil
		}
		return model.ZeroSignal(r.Name(), false, "not on a watched route"), nil
	}
	return model.NewSignalScore(r.Name(), best, false, "on route "+matched).WithRaw(matched), nil
}

func (*Routes) Validate(params Params) []string {
	raw := params.List("routes")
	if len(raw) == 0 {
		return []string{errParam("routes", "at least one route is required")}
	}
	_, errs := parseRoutes(raw)
	return errs
}
