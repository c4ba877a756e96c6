package model

import "math"

// MatchThreshold is the score at or above which a signal or category counts
// as matching when no explicit flag is given.
const MatchThreshold = 0.3

type SignalScore struct {
	Signal          string  `json:"signal"`
	Score           float64 `json:"score"`
	Weight          float64 `json:"weight"`
	Matched         *bool   `json:"matched,omitempty"`
	PrefetchCapable bool    `json:"prefetch_capable"`
	Reason          string  `json:"reason,omitempty"`
	Raw             any     `json:"raw,omitempty"`
}

// NewSignalScore clamps score into [0,1] and defaults the weight to 1.
func NewSignalScore(signal string, score float64, prefetch bool, reason string) SignalScore {
	return SignalScore{
		Signal:          signal,
		Score:           Clamp01(score),
		Weight:          1.0,
		PrefetchCapable: prefetch,
		Reason:          reason,
	}
}

func ZeroSignal(signal string, prefetch bool, reason string) SignalScore {
	return NewSignalScore(signal, 0, prefetch, reason)
}

func (s SignalScore) WithWeight(w float64) SignalScore {
	if w < 0 || math.IsNaN(w) {
		w = 0
	}
	s.Weight = w
	return s
}

func (s SignalScore) WithRaw(raw any) SignalScore {
	s.Raw = raw
	return s
}

func (s SignalScore) WithMatch(matched bool) SignalScore {
	s.Matched = &matched
	return s
}

func (s SignalScore) IsMatch() bool {
	if s.Matched != nil {
		return *s.Matched
	}
	return s.Score >= MatchThreshold
}

type CategoryScore struct {
	Category      string                 `json:"category"`
	Score         float64                `json:"score"`
	Weight        float64                `json:"weight"`
	PenaltyFactor float64                `json:"penalty_factor"`
	PenaltyReason string                 `json:"penalty_reason,omitempty"`
	Signals       map[string]SignalScore `json:"signals,omitempty"`
	Configured    []string               `json:"configured,omitempty"`
}

func (c CategoryScore) PenalizedScore() float64 {
	return Clamp01(c.Score * c.PenaltyFactor)
}

func (c CategoryScore) IsMatch() bool {
	return c.PenalizedScore() >= MatchThreshold
}

func (c CategoryScore) IsEnabled() bool {
	return c.Weight > 0
}

func (c CategoryScore) IsConfigured() bool {
	return len(c.Configured) > 0
}

// PrefetchCapable is the AND over all configured child signals. A category
// with nothing configured is vacuously capable.
func (c CategoryScore) PrefetchCapable() bool {
	for _, name := range c.Configured {
		sig, ok := c.Signals[name]
		if !ok || !sig.PrefetchCapable {
			return false
		}
	}
	return true
}

func (c CategoryScore) Active() bool {
	return c.IsEnabled() && c.IsConfigured()
}

type RuleMatch struct {
	RuleID          string `json:"rule_id"`
	Matched         bool   `json:"matched"`
	Reason          string `json:"reason,omitempty"`
	PrefetchCapable bool   `json:"prefetch_capable"`
	Err             string `json:"error,omitempty"`
}

func Clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
