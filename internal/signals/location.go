package signals

import (
	"fmt"
	"math"

	"killsense/internal/model"
)

var defaultJumpBands = []band{
	{Within: 0, Score: 1.0},
	{Within: 1, Score: 0.85},
	{Within: 2, Score: 0.7},
	{Within: 3, Score: 0.55},
	{Within: 5, Score: 0.35},
	{Within: 8, Score: 0.15},
}

// Geographic scores proximity to the configured reference systems using
// the injected jump distance function.
type Geographic struct{}

func (*Geographic) Name() string          { return "geographic" }
func (*Geographic) Category() string      { return CategoryLocation }
func (*Geographic) PrefetchCapable() bool { return true }

func (g *Geographic) Score(_ *model.Event, locationID int64, in Input) (model.SignalScore, error) {
	systems := in.Params.IDs("systems")
	if len(systems) == 0 {
		return model.ZeroSignal(g.Name(), true, "no reference systems"), nil
	}
	bands := defaultJumpBands
	if raw := in.Params.List("bands"); len(raw) > 0 {
		parsed, errs := parseBands(raw)
		if len(errs) > 0 {
			return model.SignalScore{}, fmt.Errorf("geographic: %s", errs[0])
		}
		bands = parsed
	}
	best := -1
	var nearest int64
	for _, sys := range systems {
		jumps, ok := in.Ctx.distance(sys, locationID)
		if !ok {
			continue
		}
		if best < 0 || jumps < best {
			best = jumps
			nearest = sys
		}
	}
	if best < 0 {
		return model.ZeroSignal(g.Name(), true, "distance unknown"), nil
	}
	score, ok := bandScore(bands, best)
	if !ok {
		return model.NewSignalScore(g.Name(), 0, true, fmt.Sprintf("%d jumps from %d, outside all bands", best, nearest)).WithRaw(best), nil
	}
	return model.NewSignalScore(g.Name(), score, true, fmt.Sprintf("%d jumps from %d", best, nearest)).WithRaw(best), nil
}

func (*Geographic) Validate(params Params) []string {
	var errs []string
	if len(params.IDs("systems")) == 0 {
		errs = append(errs, errParam("systems", "at least one reference system is required"))
	}
	if raw := params.List("bands"); len(raw) > 0 {
		_, bandErrs := parseBands(raw)
		errs = append(errs, bandErrs...)
	} else if params.Has("bands") {
		errs = append(errs, errParam("bands", "must be a non-empty list"))
	}
	return errs
}

const (
	SecHighsec  = "highsec"
	SecLowsec   = "lowsec"
	SecNullsec  = "nullsec"
	SecWormhole = "wormhole"
)

var defaultSecurityBands = map[string]float64{
	SecHighsec:  0.3,
	SecLowsec:   0.7,
	SecNullsec:  1.0,
	SecWormhole: 0.8,
}

// SecurityBand classifies a location. Wormhole space is recognised by its id
// range; everything else by rounded security status.
func SecurityBand(locationID int64, status float64) string {
	if locationID >= 31000000 && locationID < 32000000 {
		return SecWormhole
	}
	rounded := math.Round(status*10) / 10
	switch {
	case rounded >= 0.5:
		return SecHighsec
	case rounded > 0:
		return SecLowsec
	default:
		return SecNullsec
	}
}

// Security maps the security band of the location onto a configured score.
type Security struct{}

func (*Security) Name() string          { return "security" }
func (*Security) Category() string      { return CategoryLocation }
func (*Security) PrefetchCapable() bool { return true }

func (s *Security) Score(_ *model.Event, locationID int64, in Input) (model.SignalScore, error) {
	var status float64
	known := false
	if in.Ctx != nil && in.Ctx.Security != nil {
		status, known = in.Ctx.Security(locationID)
	}
	if !known && !(locationID >= 31000000 && locationID < 32000000) {
		return model.ZeroSignal(s.Name(), true, "security status unknown"), nil
	}
	if in.Params.Has("min") || in.Params.Has("max") {
		lo := in.Params.Float("min", -1)
		hi := in.Params.Float("max", 1)
		if status >= lo && status <= hi {
			return model.NewSignalScore(s.Name(), 1, true, fmt.Sprintf("security %.1f in [%.1f, %.1f]", status, lo, hi)).WithRaw(status), nil
		}
		return model.NewSignalScore(s.Name(), 0, true, fmt.Sprintf("security %.1f outside [%.1f, %.1f]", status, lo, hi)).WithRaw(status), nil
	}
	bandName := SecurityBand(locationID, status)
	score, ok := defaultSecurityBands[bandName]
	if bands := in.Params.Map("bands"); bands != nil {
		score, ok = model.ToFloat(bands[bandName])
	}
	if !ok {
		score = 0
	}
	return model.NewSignalScore(s.Name(), score, true, bandName).WithRaw(status), nil
}

func (*Security) Validate(params Params) []string {
	var errs []string
	if bands := params.Map("bands"); bands != nil {
		for name, v := range bands {
			switch name {
			case SecHighsec, SecLowsec, SecNullsec, SecWormhole:
			default:
				errs = append(errs, errParam("bands", "unknown security band %q", name))
				continue
			}
			f, ok := model.ToFloat(v)
			if !ok || f < 0 || f > 1 {
				errs = append(errs, errParam("bands", "%s score must be in [0, 1]", name))
			}
		}
	} else if params.Has("bands") {
		errs = append(errs, errParam("bands", "must be a mapping of band to score"))
	}
	if params.Has("min") && params.Has("max") && params.Float("min", 0) > params.Float("max", 0) {
		errs = append(errs, errParam("min", "must not exceed max"))
	}
	return errs
}
