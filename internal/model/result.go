package model

import (
	"fmt"
	"sort"
	"time"
)

type State string

const (
	StateStart           State = "start"
	StateIgnoreCheck     State = "ignore_check"
	StateNotifyCheck     State = "notify_check"
	StateScoreCategories State = "score_categories"
	StateGateCheck       State = "gate_check"
	StateAggregate       State = "aggregate"
	StateTierAssign      State = "tier_assign"
	StateFiltered        State = "filtered"
	StateDone            State = "done"
)

type InterestResult struct {
	ID           string                   `json:"id"`
	Profile      string                   `json:"profile"`
	KillID       int64                    `json:"kill_id"`
	LocationID   int64                    `json:"location_id"`
	Interest     float64                  `json:"interest"`
	Tier         Tier                     `json:"tier"`
	Mode         AggregationMode          `json:"mode"`
	Categories   map[string]CategoryScore `json:"categories"`
	AlwaysNotify []RuleMatch              `json:"always_notify,omitempty"`
	AlwaysIgnore []RuleMatch              `json:"always_ignore,omitempty"`
	NotifyBypass bool                     `json:"notify_bypass"`
	GatesPassed  bool                     `json:"gates_passed"`
	GateReason   string                   `json:"gate_reason,omitempty"`
	Thresholds   Thresholds               `json:"thresholds"`
	Prefetch     *PrefetchDecision        `json:"prefetch,omitempty"`
	RateLimited  *RateLimitNote           `json:"rate_limited,omitempty"`
	State        State                    `json:"state"`
	EvaluatedAt  time.Time                `json:"evaluated_at"`
}

// RateLimitNote records the tier a result earned before a notification
// rate limit downgraded it.
type RateLimitNote struct {
	Tier   Tier   `json:"tier"`
	Reason string `json:"reason"`
}

func (r *InterestResult) ShouldNotify() bool {
	return r != nil && r.Tier >= TierNotify
}

func (r *InterestResult) IsPriority() bool {
	return r != nil && r.Tier == TierPriority
}

func (r *InterestResult) IsDigest() bool {
	return r != nil && r.Tier == TierDigest
}

func (r *InterestResult) ShouldFetch() bool {
	if r == nil {
		return false
	}
	if r.Prefetch == nil {
		return true
	}
	return r.Prefetch.ShouldFetch
}

// MatchedNotify returns the ids of always_notify rules that fired.
func (r *InterestResult) MatchedNotify() []string {
	return matchedIDs(r.AlwaysNotify)
}

func (r *InterestResult) MatchedIgnore() []string {
	return matchedIDs(r.AlwaysIgnore)
}

func matchedIDs(list []RuleMatch) []string {
	var out []string
	for _, m := range list {
		if m.Matched {
			out = append(out, m.RuleID)
		}
	}
	return out
}

// Breakdown renders one diagnostic line per active category, strongest first.
func (r *InterestResult) Breakdown() []string {
	if r == nil {
		return nil
	}
	cats := make([]CategoryScore, 0, len(r.Categories))
	for _, c := range r.Categories {
		if c.Active() {
			cats = append(cats, c)
		}
	}
	sort.Slice(cats, func(i, j int) bool {
		pi, pj := cats[i].PenalizedScore(), cats[j].PenalizedScore()
		if pi != pj {
			return pi > pj
		}
		return cats[i].Category < cats[j].Category
	})
	out := make([]string, 0, len(cats)+1)
	for _, c := range cats {
		line := fmt.Sprintf("%s: %.2f (weight %.2f)", c.Category, c.PenalizedScore(), c.Weight)
		if c.PenaltyFactor != 1 {
			line += fmt.Sprintf(" penalty x%.2f", c.PenaltyFactor)
			if c.PenaltyReason != "" {
				line += " [" + c.PenaltyReason + "]"
			}
		}
		out = append(out, line)
	}
	if ids := r.MatchedIgnore(); len(ids) > 0 {
		out = append(out, fmt.Sprintf("always_ignore: %v", ids))
	}
	if ids := r.MatchedNotify(); len(ids) > 0 {
		out = append(out, fmt.Sprintf("always_notify: %v", ids))
	}
	if !r.GatesPassed && r.GateReason != "" {
		out = append(out, "gate: "+r.GateReason)
	}
	return out
}

type PrefetchDecision struct {
	ShouldFetch        bool         `json:"should_fetch"`
	Score              *float64     `json:"score"`
	LowerBound         float64      `json:"lower_bound"`
	UpperBound         float64      `json:"upper_bound"`
	Threshold          float64      `json:"threshold"`
	Mode               PrefetchMode `json:"mode"`
	Reason             string       `json:"reason"`
	PrefetchCategories int          `json:"prefetch_categories"`
	EnabledCategories  int          `json:"enabled_categories"`
	IgnoreShortCircuit bool         `json:"ignore_short_circuit"`
	NotifyShortCircuit bool         `json:"notify_short_circuit"`
	LocationID         int64        `json:"location_id"`
	Profile            string       `json:"profile"`
}
