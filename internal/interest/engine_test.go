package interest

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"killsense/internal/model"
	"killsense/internal/registry"
	"killsense/internal/rules"
	"killsense/internal/signals"
)

type fixedSignal struct {
	name     string
	category string
	score    float64
	prefetch bool
	err      error
	panics   bool
}

func (f *fixedSignal) Name() string          { return f.name }
func (f *fixedSignal) Category() string      { return f.category }
func (f *fixedSignal) PrefetchCapable() bool { return f.prefetch }
func (f *fixedSignal) Validate(signals.Params) []string {
	return nil
}

func (f *fixedSignal) Score(*model.Event, int64, signals.Input) (model.SignalScore, error) {
	if f.panics {
		panic("provider exploded")
	}
	if f.err != nil {
		return model.SignalScore{}, f.err
	}
	return model.NewSignalScore(f.name, f.score, f.prefetch, "fixed"), nil
}

func registryWith(providers ...*fixedSignal) *registry.Registry {
	reg := registry.Default()
	for _, p := range providers {
		p := p
		reg.RegisterSignal(p.category, p.name, func() signals.Provider { return p })
	}
	return reg
}

func valueAt(score float64) *fixedSignal {
	return &fixedSignal{name: "value", category: signals.CategoryValue, score: score, prefetch: true}
}

func fptr(v float64) *float64 { return &v }

func killEvent() *model.Event {
	return &model.Event{
		KillID:     100,
		LocationID: 30002537,
		Timestamp:  time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC),
		Victim:     model.Victim{CharacterID: 1, CorporationID: 98000001, AllianceID: 99, ShipGroupID: 27},
		Attackers: []model.Attacker{
			{CharacterID: 2, CorporationID: 98000002, FinalBlow: true},
			{CharacterID: 3, CorporationID: 98000002},
		},
		TotalValue: 400e6,
	}
}

func podEvent() *model.Event {
	ev := killEvent()
	ev.IsPod = true
	ev.Victim.ShipGroupID = 29
	ev.TotalValue = 5e9
	return ev
}

func mustEngine(t *testing.T, p model.Profile, reg *registry.Registry) *Engine {
	t.Helper()
	e, err := New(p, reg)
	require.NoError(t, err)
	return e
}

func TestValueOnlyProfileReachesPriority(t *testing.T) {
	e := mustEngine(t, model.Profile{Name: "a", Weights: map[string]float64{"value": 1.0}}, registryWith(valueAt(0.9)))
	res := e.Evaluate(killEvent(), nil)
	assert.InDelta(t, 0.9, res.Interest, 1e-9)
	assert.Equal(t, model.TierPriority, res.Tier)
	assert.Equal(t, model.StateDone, res.State)
	assert.True(t, res.ShouldNotify())
	assert.True(t, res.IsPriority())
	assert.True(t, res.ShouldFetch())
	assert.NotEmpty(t, res.ID)
	assert.Equal(t, int64(100), res.KillID)
}

func TestPodIgnoreFilters(t *testing.T) {
	p := model.Profile{
		Name:    "b",
		Weights: map[string]float64{"value": 1.0, "ship": 1.0, "location": 1.0},
		Rules:   model.RulesConfig{AlwaysIgnore: []string{rules.RulePodOnly}},
	}
	e := mustEngine(t, p, registryWith(valueAt(1.0)))
	res := e.Evaluate(podEvent(), nil)
	assert.Equal(t, model.TierFilter, res.Tier)
	assert.Zero(t, res.Interest)
	assert.Equal(t, model.StateFiltered, res.State)
	assert.Equal(t, []string{rules.RulePodOnly}, res.MatchedIgnore())
	assert.InDelta(t, 1.0, res.Categories["value"].Score, 1e-9)

	res = e.Evaluate(killEvent(), nil)
	assert.NotEqual(t, model.TierFilter, res.Tier)
}

func TestIgnoreBeatsNotify(t *testing.T) {
	p := model.Profile{
		Weights: map[string]float64{"value": 1.0},
		Rules: model.RulesConfig{
			AlwaysIgnore: []string{rules.RulePodOnly},
			AlwaysNotify: []string{rules.RuleHighValue},
		},
	}
	res := mustEngine(t, p, registryWith(valueAt(1.0))).Evaluate(podEvent(), nil)
	assert.Equal(t, model.TierFilter, res.Tier)
	assert.False(t, res.NotifyBypass)
	assert.Equal(t, []string{rules.RuleHighValue}, res.MatchedNotify())
}

func TestNotifyBypassesGatesAndFloorsAtNotify(t *testing.T) {
	p := model.Profile{
		Weights: map[string]float64{"value": 1.0, "politics": 1.0},
		Rules: model.RulesConfig{
			AlwaysNotify: []string{rules.RuleHighValue},
			RequireAll:   []string{"politics"},
		},
	}
	e := mustEngine(t, p, registryWith(valueAt(0.3)))
	ev := killEvent()
	ev.TotalValue = 2e9
	res := e.Evaluate(ev, nil)
	assert.True(t, res.NotifyBypass)
	assert.True(t, res.GatesPassed)
	assert.Equal(t, model.TierNotify, res.Tier)
	assert.Equal(t, model.StateDone, res.State)

	e = mustEngine(t, p, registryWith(valueAt(1.0), &fixedSignal{name: "politics", category: signals.CategoryPolitics, score: 1.0}))
	assert.Equal(t, model.TierPriority, e.Evaluate(ev, nil).Tier)
}

func TestGatesFilter(t *testing.T) {
	p := model.Profile{
		Weights: map[string]float64{"value": 1.0, "politics": 1.0},
		Rules:   model.RulesConfig{RequireAll: []string{"politics"}},
	}
	res := mustEngine(t, p, registryWith(valueAt(1.0))).Evaluate(killEvent(), nil)
	assert.Equal(t, model.TierFilter, res.Tier)
	assert.False(t, res.GatesPassed)
	assert.Contains(t, res.GateReason, "politics")
	assert.Equal(t, model.StateFiltered, res.State)

	p.Rules = model.RulesConfig{RequireAny: []string{"politics", "value"}}
	res = mustEngine(t, p, registryWith(valueAt(1.0))).Evaluate(killEvent(), nil)
	assert.True(t, res.GatesPassed)
	assert.InDelta(t, math.Sqrt(0.5), res.Interest, 1e-9)
	assert.Equal(t, model.TierNotify, res.Tier)
}

func TestTierBoundaries(t *testing.T) {
	cases := []struct {
		score float64
		want  model.Tier
	}{
		{0.85, model.TierPriority},
		{0.6, model.TierNotify},
		{0.4, model.TierDigest},
		{0.1, model.TierLogOnly},
		{0, model.TierFilter},
	}
	for _, c := range cases {
		e := mustEngine(t, model.Profile{Mode: model.ModeLinear, Weights: map[string]float64{"value": 1}}, registryWith(valueAt(c.score)))
		assert.Equal(t, c.want, e.Evaluate(killEvent(), nil).Tier, "score %.2f", c.score)
	}
}

func TestFailingSignalsDegradeToZero(t *testing.T) {
	reg := registryWith(
		valueAt(0.8),
		&fixedSignal{name: "broken", category: signals.CategoryValue, err: errors.New("upstream timeout")},
		&fixedSignal{name: "bomb", category: signals.CategoryShip, panics: true},
	)
	p := model.Profile{
		Weights: map[string]float64{"value": 1, "ship": 1},
		Signals: map[string]map[string]model.SignalConfig{
			"value": {"broken": {}},
			"ship":  {"bomb": {}, "ship": {"enabled": false}},
		},
	}
	res := mustEngine(t, p, reg).Evaluate(killEvent(), nil)
	value := res.Categories["value"]
	assert.Equal(t, "upstream timeout", value.Signals["broken"].Reason)
	assert.InDelta(t, 0.4, value.Score, 1e-9)
	assert.Contains(t, res.Categories["ship"].Signals["bomb"].Reason, "provider exploded")
	assert.Equal(t, model.StateDone, res.State)
}

func TestPoliticsPenaltyReachesCategory(t *testing.T) {
	p := model.Profile{
		Weights: map[string]float64{"politics": 1},
		Signals: map[string]map[string]model.SignalConfig{
			"politics": {"politics": {
				"groups":    map[string]any{"friends": map[string]any{"alliances": []any{99}}},
				"penalties": map[string]any{"npc_only": 0.5},
			}},
		},
	}
	ev := killEvent()
	ev.Attackers = []model.Attacker{{CorporationID: 1000125, FinalBlow: true}}
	res := mustEngine(t, p, nil).Evaluate(ev, nil)
	c := res.Categories["politics"]
	assert.InDelta(t, 1.0, c.Score, 1e-9)
	assert.InDelta(t, 0.5, c.PenaltyFactor, 1e-9)
	assert.Equal(t, "npc_only", c.PenaltyReason)
	assert.InDelta(t, 0.5, res.Interest, 1e-9)
	assert.Equal(t, model.TierDigest, res.Tier)
}

func TestNewRejectsBadProfiles(t *testing.T) {
	_, err := New(model.Profile{Weights: map[string]float64{"value": 1}, Rules: model.RulesConfig{AlwaysNotify: []string{"nope"}}}, nil)
	assert.True(t, errors.Is(err, rules.ErrUnknownRule))

	_, err = New(model.Profile{
		Weights: map[string]float64{"value": 1},
		Rules: model.RulesConfig{
			AlwaysNotify: []string{"x"},
			Custom:       map[string]model.CustomRule{"x": {Expression: "input.is_pod"}},
		},
	}, nil)
	assert.True(t, errors.Is(err, rules.ErrFeatureDisabled))

	_, err = New(model.Profile{Weights: map[string]float64{"value": 0}}, nil)
	assert.True(t, errors.Is(err, ErrInvalidProfile))

	_, err = New(model.Profile{Preset: "no_such_preset"}, nil)
	assert.True(t, errors.Is(err, ErrInvalidProfile))

	_, err = New(model.Profile{Weights: map[string]float64{"value": 1}, Mode: "median"}, nil)
	assert.True(t, errors.Is(err, ErrInvalidProfile))

	_, err = New(model.Profile{Weights: map[string]float64{"value": 1}, Signals: map[string]map[string]model.SignalConfig{"value": {"mystery": {}}}}, nil)
	assert.True(t, errors.Is(err, ErrInvalidProfile))
}

func TestConcurrentEvaluate(t *testing.T) {
	e := mustEngine(t, model.Profile{Preset: "balanced"}, nil)
	first := e.Evaluate(killEvent(), nil)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := e.Evaluate(killEvent(), nil)
			assert.Equal(t, first.Interest, res.Interest)
			assert.Equal(t, first.Tier, res.Tier)
		}()
	}
	wg.Wait()
}

func TestResolveWeights(t *testing.T) {
	w, err := ResolveWeights(model.Profile{Preset: "whale_watcher", Customize: map[string]string{"ship": "+50%", "value": "-150%"}})
	require.NoError(t, err)
	assert.InDelta(t, 0.9, w["ship"], 1e-9)
	assert.Zero(t, w["value"])

	w, err = ResolveWeights(model.Profile{Preset: "hunter", Weights: map[string]float64{"war": 2}})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"war": 2}, w)

	_, err = ResolveWeights(model.Profile{Weights: map[string]float64{"loot": 1}})
	assert.Error(t, err)
	_, err = ResolveWeights(model.Profile{Preset: "hunter", Customize: map[string]string{"ship": "lots"}})
	assert.Error(t, err)
}

func TestParseAdjustment(t *testing.T) {
	cases := map[string]float64{"+20%": 1.2, "-50%": 0.5, "0%": 1, "100%": 2, " +5 % ": 1.05}
	for in, want := range cases {
		got, err := ParseAdjustment(in)
		require.NoError(t, err, in)
		assert.InDelta(t, want, got, 1e-9, in)
	}
	for _, bad := range []string{"", "20", "%", "abc%"} {
		_, err := ParseAdjustment(bad)
		assert.Error(t, err, bad)
	}
}

func TestResolveSignalsLayers(t *testing.T) {
	got := ResolveSignals(model.Profile{
		Preset: "hunter",
		Signals: map[string]map[string]model.SignalConfig{
			"ship":     {"ship": {"default": 0.25}},
			"location": {"geographic": {"systems": []any{30000142}}},
		},
	})
	ship := got["ship"]["ship"]
	assert.Equal(t, 0.25, ship["default"])
	assert.Contains(t, ship, "exclude")
	assert.Contains(t, got["location"], "security")
	assert.Contains(t, got["location"], "geographic")
}
