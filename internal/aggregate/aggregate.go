// Package aggregate combines signal scores into category scores and
// category scores into a single interest value.
package aggregate

import (
	"math"
	"sort"

	"killsense/internal/model"
)

// Category folds the configured signals of one category into a weighted
// mean. If every signal weight is zero the category scores 0.
func Category(name string, weight float64, configured []string, scores map[string]model.SignalScore) model.CategoryScore {
	c := model.CategoryScore{
		Category:      name,
		Weight:        weight,
		PenaltyFactor: 1.0,
		Signals:       scores,
		Configured:    configured,
	}
	if weight <= 0 || len(configured) == 0 {
		return c
	}
	var sum, total float64
	for _, n := range configured {
		s, ok := scores[n]
		if !ok {
			continue
		}
		sum += s.Score * s.Weight
		total += s.Weight
	}
	if total > 0 {
		c.Score = model.Clamp01(sum / total)
	}
	return c
}

// Term is one input to cross-category aggregation.
type Term struct {
	Score  float64
	Weight float64
}

// Terms extracts the active categories (enabled and configured) in name
// order, using penalized scores.
func Terms(cats map[string]model.CategoryScore) []Term {
	names := make([]string, 0, len(cats))
	for name, c := range cats {
		if c.Active() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]Term, 0, len(names))
	for _, name := range names {
		c := cats[name]
		out = append(out, Term{Score: c.PenalizedScore(), Weight: c.Weight})
	}
	return out
}

// Interest aggregates the active categories under mode.
func Interest(mode model.AggregationMode, cats map[string]model.CategoryScore) float64 {
	return Combine(mode, Terms(cats))
}

func Combine(mode model.AggregationMode, terms []Term) float64 {
	switch mode.OrDefault() {
	case model.ModeLinear:
		return Linear(terms)
	case model.ModeMax:
		return Max(terms)
	default:
		return WeightedRMS(terms)
	}
}

// WeightedRMS is sqrt(Σ w·s² / Σ w).
func WeightedRMS(terms []Term) float64 {
	var num, den float64
	for _, t := range terms {
		num += t.Weight * t.Score * t.Score
		den += t.Weight
	}
	if den <= 0 {
		return 0
	}
	return model.Clamp01(math.Sqrt(num / den))
}

func Linear(terms []Term) float64 {
	var num, den float64
	for _, t := range terms {
		num += t.Weight * t.Score
		den += t.Weight
	}
	if den <= 0 {
		return 0
	}
	return model.Clamp01(num / den)
}

// Max ignores weights.
func Max(terms []Term) float64 {
	best := 0.0
	for _, t := range terms {
		if t.Score > best {
			best = t.Score
		}
	}
	return model.Clamp01(best)
}

// RMSSafetyFactor scales a prefetch threshold by the number of enabled
// categories: max(1/sqrt(n), 0.45), and 1 for n <= 1.
func RMSSafetyFactor(n int) float64 {
	if n <= 1 {
		return 1.0
	}
	return math.Max(1/math.Sqrt(float64(n)), 0.45)
}
