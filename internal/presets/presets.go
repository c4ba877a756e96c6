// Package presets provides named starting points for profiles: a category
// weight map plus default signal configuration.
package presets

import (
	"sort"

	"killsense/internal/model"
)

type Preset struct {
	Name        string
	Description string
	Weights     map[string]float64
	// Signals overrides DefaultSignals per category and signal.
	Signals map[string]map[string]model.SignalConfig
}

var catalog = map[string]Preset{
	"balanced": {
		Name:        "balanced",
		Description: "general awareness across every category",
		Weights: map[string]float64{
			"location": 1.0, "value": 1.0, "ship": 0.8, "time": 0.3, "politics": 0.8,
			"routes": 0.5, "activity": 0.6, "assets": 0.5, "war": 0.8,
		},
	},
	"hunter": {
		Name:        "hunter",
		Description: "active fights and gatecamps near home",
		Weights: map[string]float64{
			"location": 1.0, "activity": 1.0, "ship": 0.7, "value": 0.5, "politics": 0.4, "war": 0.6, "time": 0.2,
		},
		Signals: map[string]map[string]model.SignalConfig{
			"ship": {"ship": {
				"classes": map[string]any{
					"frigate": 0.5, "destroyer": 0.5, "cruiser": 0.7, "battlecruiser": 0.8,
					"battleship": 0.9, "capital": 1.0, "supercapital": 1.0,
				},
				"exclude": []any{"capsule", "shuttle"},
			}},
		},
	},
	"home_defense": {
		Name:        "home_defense",
		Description: "threats to owned space, structures and allies",
		Weights: map[string]float64{
			"location": 1.0, "assets": 1.0, "politics": 0.9, "war": 1.0, "activity": 0.7, "ship": 0.4, "value": 0.3,
		},
	},
	"industrialist": {
		Name:        "industrialist",
		Description: "hauling routes and industrial losses",
		Weights: map[string]float64{
			"routes": 1.0, "assets": 0.8, "location": 0.6, "ship": 0.8, "activity": 0.8, "war": 0.7,
		},
		Signals: map[string]map[string]model.SignalConfig{
			"ship": {"ship": {
				"classes": map[string]any{
					"industrial": 1.0, "freighter": 1.0, "mining": 0.9, "capital": 0.6,
				},
				"default": 0.1,
			}},
		},
	},
	"whale_watcher": {
		Name:        "whale_watcher",
		Description: "expensive losses anywhere",
		Weights: map[string]float64{
			"value": 1.0, "ship": 0.6,
		},
		Signals: map[string]map[string]model.SignalConfig{
			"value": {"value": {"min_value": 100e6}},
		},
	},
}

// defaultSignals is the configuration every profile starts from. Signals that
// need profile data to do anything (geographic systems, routes, asset
// locations) are absent and must be configured explicitly.
var defaultSignals = map[string]map[string]model.SignalConfig{
	"location": {"security": {}},
	"value":    {"value": {}},
	"ship": {"ship": {
		"classes": map[string]any{
			"capsule": 0.05, "shuttle": 0.05, "frigate": 0.3, "destroyer": 0.35, "cruiser": 0.5,
			"battlecruiser": 0.6, "battleship": 0.7, "industrial": 0.5, "mining": 0.4,
			"freighter": 0.8, "capital": 0.95, "supercapital": 1.0, "structure": 0.9,
		},
		"default": 0.3,
	}},
	"time": {"time": {
		"windows": []any{map[string]any{"start": 17, "end": 23, "score": 1.0}},
		"default": 0.3,
	}},
	"politics": {"politics": {}},
	"activity": {"activity": {}},
	"war":      {"war": {}},
}

func Get(name string) (Preset, bool) {
	p, ok := catalog[name]
	if !ok {
		return Preset{}, false
	}
	return Preset{
		Name:        p.Name,
		Description: p.Description,
		Weights:     copyWeights(p.Weights),
		Signals:     copySignals(p.Signals),
	}, true
}

func Names() []string {
	out := make([]string, 0, len(catalog))
	for name := range catalog {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// DefaultSignals returns a fresh copy of the base signal configuration.
func DefaultSignals() map[string]map[string]model.SignalConfig {
	return copySignals(defaultSignals)
}

func copyWeights(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copySignals(in map[string]map[string]model.SignalConfig) map[string]map[string]model.SignalConfig {
	out := make(map[string]map[string]model.SignalConfig, len(in))
	for cat, sigs := range in {
		m := make(map[string]model.SignalConfig, len(sigs))
		for name, cfg := range sigs {
			c := make(model.SignalConfig, len(cfg))
			for k, v := range cfg {
				c[k] = v
			}
			m[name] = c
		}
		out[cat] = m
	}
	return out
}
