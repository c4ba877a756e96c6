package interest

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"killsense/internal/model"
	"killsense/internal/presets"
	"killsense/internal/signals"
)

// ParseAdjustment turns a customize slider such as "+20%" or "-50%" into a
// multiplier (1.2, 0.5). A bare percentage without sign is treated as an
// increase.
func ParseAdjustment(s string) (float64, error) {
	v := strings.TrimSpace(s)
	if !strings.HasSuffix(v, "%") {
		return 0, fmt.Errorf("adjustment %q must end in %%", s)
	}
	v = strings.TrimSpace(strings.TrimSuffix(v, "%"))
	if v == "" {
		return 0, fmt.Errorf("adjustment %q has no value", s)
	}
	pct, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("adjustment %q: %w", s, err)
	}
	return 1 + pct/100, nil
}

// ResolveWeights computes the frozen category weight map: explicit weights
// if present, else the preset's, then customize multipliers floored at 0.
func ResolveWeights(p model.Profile) (map[string]float64, error) {
	var base map[string]float64
	switch {
	case len(p.Weights) > 0:
		base = p.Weights
	case p.Preset != "":
		preset, ok := presets.Get(p.Preset)
		if !ok {
			return nil, fmt.Errorf("%w: unknown preset %q", ErrInvalidProfile, p.Preset)
		}
		base = preset.Weights
	default:
		return nil, fmt.Errorf("%w: no weights and no preset", ErrInvalidProfile)
	}
	out := make(map[string]float64, len(base))
	for cat, w := range base {
		if !signals.IsCategory(cat) {
			return nil, fmt.Errorf("%w: unknown category %q", ErrInvalidProfile, cat)
		}
		if w < 0 {
			w = 0
		}
		out[cat] = w
	}
	cats := make([]string, 0, len(p.Customize))
	for cat := range p.Customize {
		cats = append(cats, cat)
	}
	sort.Strings(cats)
	for _, cat := range cats {
		if !signals.IsCategory(cat) {
			return nil, fmt.Errorf("%w: customize: unknown category %q", ErrInvalidProfile, cat)
		}
		mult, err := ParseAdjustment(p.Customize[cat])
		if err != nil {
			return nil, fmt.Errorf("%w: customize %s: %v", ErrInvalidProfile, cat, err)
		}
		w := out[cat] * mult
		if w < 0 {
			w = 0
		}
		out[cat] = w
	}
	return out, nil
}

// ResolveSignals layers the base signal configuration, the preset's
// overrides and the profile's signals block, merging per key.
func ResolveSignals(p model.Profile) map[string]map[string]model.SignalConfig {
	out := presets.DefaultSignals()
	if preset, ok := presets.Get(p.Preset); ok {
		mergeSignals(out, preset.Signals)
	}
	mergeSignals(out, p.Signals)
	return out
}

func mergeSignals(dst, src map[string]map[string]model.SignalConfig) {
	for cat, sigs := range src {
		if dst[cat] == nil {
			dst[cat] = make(map[string]model.SignalConfig, len(sigs))
		}
		for name, cfg := range sigs {
			merged := make(model.SignalConfig, len(cfg))
			for k, v := range dst[cat][name] {
				merged[k] = v
			}
			for k, v := range cfg {
				merged[k] = v
			}
			dst[cat][name] = merged
		}
	}
}
