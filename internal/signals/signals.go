// Package signals defines the signal provider contract, the per-evaluation
// context that carries injected collaborators, and the built-in providers.
package signals

import (
	"fmt"
	"time"

	"killsense/internal/model"
	"killsense/internal/scaling"
)

const (
	CategoryLocation = "location"
	CategoryValue    = "value"
	CategoryShip     = "ship"
	CategoryTime     = "time"
	CategoryPolitics = "politics"
	CategoryRoutes   = "routes"
	CategoryActivity = "activity"
	CategoryAssets   = "assets"
	CategoryWar      = "war"
)

// Categories is the canonical category set, in display order.
var Categories = []string{
	CategoryLocation,
	CategoryValue,
	CategoryShip,
	CategoryTime,
	CategoryPolitics,
	CategoryRoutes,
	CategoryActivity,
	CategoryAssets,
	CategoryWar,
}

func IsCategory(name string) bool {
	for _, c := range Categories {
		if c == name {
			return true
		}
	}
	return false
}

const ReasonNoEvent = "no event data"

// Provider scores one named signal. Implementations must hold no per-call
// state: a single instance is shared by every evaluation.
type Provider interface {
	Name() string
	Category() string
	PrefetchCapable() bool
	// Score is called with ev == nil during prefetch. Providers that need
	// event detail return a zero score rather than an error in that case.
	Score(ev *model.Event, locationID int64, in Input) (model.SignalScore, error)
	Validate(params Params) []string
}

// Penalizer is implemented by providers that can dampen their whole
// category, independent of their own score.
type Penalizer interface {
	Penalty(ev *model.Event, in Input) (factor float64, reason string)
}

// Factory builds a provider instance.
type Factory func() Provider

// Builtin describes one built-in provider for registration.
type Builtin struct {
	Category string
	Name     string
	Factory  Factory
}

func Builtins() []Builtin {
	return []Builtin{
		{CategoryLocation, "geographic", func() Provider { return &Geographic{} }},
		{CategoryLocation, "security", func() Provider { return &Security{} }},
		{CategoryValue, "value", func() Provider { return &Value{} }},
		{CategoryShip, "ship", func() Provider { return &Ship{} }},
		{CategoryTime, "time", func() Provider { return &TimeOfDay{} }},
		{CategoryPolitics, "politics", func() Provider { return &Politics{} }},
		{CategoryRoutes, "routes", func() Provider { return &Routes{} }},
		{CategoryActivity, "activity", func() Provider { return &Activity{} }},
		{CategoryAssets, "assets", func() Provider { return &Assets{} }},
		{CategoryWar, "war", func() Provider { return &War{} }},
	}
}

// Input is the merged configuration seen by a provider: its own params with
// the per-evaluation context layered on top.
// CurveResolver builds a scaling curve by kind.
type CurveResolver func(kind string, params map[string]any) (scaling.Func, error)

// CurveUser is implemented by providers that score through scaling curves.
// The registry hands them its curve lookup when it builds them.
type CurveUser interface {
	UseCurves(CurveResolver)
}

type Input struct {
	Params Params
	Ctx    *EvalContext
}

// Get returns the context overlay value for key if present, else the param.
func (in Input) Get(key string) (any, bool) {
	if in.Ctx != nil && in.Ctx.Extra != nil {
		if v, ok := in.Ctx.Extra[key]; ok {
			return v, true
		}
	}
	v, ok := in.Params[key]
	return v, ok
}

func (in Input) Float(key string, def float64) float64 {
	v, ok := in.Get(key)
	if !ok {
		return def
	}
	if f, ok := model.ToFloat(v); ok {
		return f
	}
	return def
}

func (in Input) Now() time.Time {
	return in.Ctx.now()
}

type EntitySet struct {
	Characters   map[int64]struct{}
	Corporations map[int64]struct{}
	Alliances    map[int64]struct{}
}

func NewEntitySet(characters, corporations, alliances []int64) EntitySet {
	return EntitySet{
		Characters:   idSet(characters),
		Corporations: idSet(corporations),
		Alliances:    idSet(alliances),
	}
}

func idSet(ids []int64) map[int64]struct{} {
	if len(ids) == 0 {
		return nil
	}
	out := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		out[id] = struct{}{}
	}
	return out
}

func (s EntitySet) Empty() bool {
	return len(s.Characters) == 0 && len(s.Corporations) == 0 && len(s.Alliances) == 0
}

// Union returns a new set holding the members of both.
func (s EntitySet) Union(o EntitySet) EntitySet {
	merge := func(a, b map[int64]struct{}) map[int64]struct{} {
		if len(a)+len(b) == 0 {
			return nil
		}
		out := make(map[int64]struct{}, len(a)+len(b))
		for id := range a {
			out[id] = struct{}{}
		}
		for id := range b {
			out[id] = struct{}{}
		}
		return out
	}
	return EntitySet{
		Characters:   merge(s.Characters, o.Characters),
		Corporations: merge(s.Corporations, o.Corporations),
		Alliances:    merge(s.Alliances, o.Alliances),
	}
}

func (s EntitySet) Contains(characterID, corporationID, allianceID int64) bool {
	if characterID != 0 && s.Characters != nil {
		if _, ok := s.Characters[characterID]; ok {
			return true
		}
	}
	if corporationID != 0 && s.Corporations != nil {
		if _, ok := s.Corporations[corporationID]; ok {
			return true
		}
	}
	if allianceID != 0 && s.Alliances != nil {
		if _, ok := s.Alliances[allianceID]; ok {
			return true
		}
	}
	return false
}

func (s EntitySet) HasVictim(ev *model.Event) bool {
	if ev == nil {
		return false
	}
	return s.Contains(ev.Victim.CharacterID, ev.Victim.CorporationID, ev.Victim.AllianceID)
}

func (s EntitySet) HasAttacker(a model.Attacker) bool {
	return s.Contains(a.CharacterID, a.CorporationID, a.AllianceID)
}

// ActivityStats summarises recent kills around one location.
type ActivityStats struct {
	Last10m             int     `json:"last_10m"`
	LastHour            int     `json:"last_hour"`
	Pods10m             int     `json:"pods_10m"`
	HourlyBaseline      float64 `json:"hourly_baseline"`
	ActiveHours         int     `json:"active_hours"`
	RepeatAttackerShare float64 `json:"repeat_attacker_share"`
}

// EvalContext carries collaborators injected per evaluation. Every field is
// optional; providers degrade to a zero score when what they need is absent.
type EvalContext struct {
	Distance   func(from, to int64) (int, bool)
	Security   func(locationID int64) (float64, bool)
	Activity   func(locationID int64) (ActivityStats, bool)
	Groups     map[string]EntitySet
	WarTargets EntitySet
	Standings  map[int64]float64
	Now        func() time.Time
	Extra      map[string]any
}

func (c *EvalContext) now() time.Time {
	if c == nil || c.Now == nil {
		return time.Now().UTC()
	}
	return c.Now()
}

func (c *EvalContext) distance(from, to int64) (int, bool) {
	if from == to {
		return 0, true
	}
	if c == nil || c.Distance == nil {
		return 0, false
	}
	return c.Distance(from, to)
}

func (c *EvalContext) groups() map[string]EntitySet {
	if c == nil {
		return nil
	}
	return c.Groups
}

func (c *EvalContext) standing(ids ...int64) (float64, bool) {
	if c == nil || len(c.Standings) == 0 {
		return 0, false
	}
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if s, ok := c.Standings[id]; ok {
			return s, true
		}
	}
	return 0, false
}

func errParam(key string, format string, args ...any) string {
	return fmt.Sprintf("%s: %s", key, fmt.Sprintf(format, args...))
}
