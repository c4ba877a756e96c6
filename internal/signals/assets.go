package signals

import (
	"fmt"

	"killsense/internal/model"
)

var defaultAssetBands = []band{
	{Within: 0, Score: 1.0},
	{Within: 1, Score: 0.8},
	{Within: 3, Score: 0.5},
	{Within: 5, Score: 0.25},
}

type asset struct {
	LocationID int64
	Kind       string
	Name       string
}

func parseAssets(raw []any) ([]asset, []string) {
	var out []asset
	var errs []string
	for i, item := range raw {
		m, ok := toMap(item)
		if !ok {
			if id, ok := toID(item); ok && id != 0 {
				out = append(out, asset{LocationID: id, Kind: "location", Name: fmt.Sprint(id)})
				continue
			}
			errs = append(errs, errParam("locations", "entry %d is not a mapping or id", i))
			continue
		}
		id, ok := toID(m["location_id"])
		if !ok || id == 0 {
			errs = append(errs, errParam("locations", "entry %d needs location_id", i))
			continue
		}
		out = append(out, asset{
			LocationID: id,
			Kind:       m.String("kind", "structure"),
			Name:       m.String("name", fmt.Sprint(id)),
		})
	}
	return out, errs
}

// Assets scores proximity to the structures and offices a profile owns.
type Assets struct{}

func (*Assets) Name() string          { return "assets" }
func (*Assets) Category() string      { return CategoryAssets }
func (*Assets) PrefetchCapable() bool { return false }

func (a *Assets) Score(ev *model.Event, locationID int64, in Input) (model.SignalScore, error) {
	if ev == nil {
		return model.ZeroSignal(a.Name(), false, ReasonNoEvent), nil
	}
	assets, errs := parseAssets(in.Params.List("locations"))
	if len(errs) > 0 {
		return model.SignalScore{}, fmt.Errorf("assets: %s", errs[0])
	}
	if len(assets) == 0 {
		return model.ZeroSignal(a.Name(), false, "no asset locations"), nil
	}
	bands := defaultAssetBands
	if raw := in.Params.List("bands"); len(raw) > 0 {
		parsed, berrs := parseBands(raw)
		if len(berrs) > 0 {
			return model.SignalScore{}, fmt.Errorf("assets: %s", berrs[0])
		}
		bands = parsed
	}
	best := -1
	var nearest asset
	for _, as := range assets {
		jumps, ok := in.Ctx.distance(as.LocationID, locationID)
		if !ok {
			continue
		}
		if best < 0 || jumps < best {
			best = jumps
			nearest = as
		}
	}
	if best < 0 {
		return model.ZeroSignal(a.Name(), false, "distance unknown"), nil
	}
	score, ok := bandScore(bands, best)
	if !ok {
		score = 0
	}
	return model.NewSignalScore(a.Name(), score, false, fmt.Sprintf("%d jumps from %s %s", best, nearest.Kind, nearest.Name)).WithRaw(best), nil
}

func (*Assets) Validate(params Params) []string {
	var errs []string
	raw := params.List("locations")
	if len(raw) == 0 {
		errs = append(errs, errParam("locations", "at least one location is required"))
	}
	_, lerrs := parseAssets(raw)
	errs = append(errs, lerrs...)
	if bands := params.List("bands"); len(bands) > 0 {
		_, berrs := parseBands(bands)
		errs = append(errs, berrs...)
	}
	return errs
}
