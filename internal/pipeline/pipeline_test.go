package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"killsense/internal/config"
	"killsense/internal/delivery"
	"killsense/internal/ingest"
	"killsense/internal/model"
	"killsense/internal/registry"
	"killsense/internal/signals"
	"killsense/internal/storage"
)

// valueSignal scores isk value linearly up to one billion.
type valueSignal struct{}

func (valueSignal) Name() string                     { return "value" }
func (valueSignal) Category() string                 { return signals.CategoryValue }
func (valueSignal) PrefetchCapable() bool            { return true }
func (valueSignal) Validate(signals.Params) []string { return nil }
func (valueSignal) Score(ev *model.Event, _ int64, _ signals.Input) (model.SignalScore, error) {
	if ev == nil {
		return model.ZeroSignal("value", true, signals.ReasonNoEvent), nil
	}
	return model.NewSignalScore("value", ev.TotalValue/1e9, true, "linear"), nil
}

type capture struct {
	mu   sync.Mutex
	got  []delivery.Payload
	seen chan struct{}
}

func newCapture() *capture { return &capture{seen: make(chan struct{}, 16)} }

func (c *capture) Name() string { return "capture" }
func (c *capture) Deliver(_ context.Context, _ *model.InterestResult, p delivery.Payload, _ model.DeliveryConfig) bool {
	c.mu.Lock()
	c.got = append(c.got, p)
	c.mu.Unlock()
	c.seen <- struct{}{}
	return true
}

func (c *capture) payloads() []delivery.Payload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]delivery.Payload(nil), c.got...)
}

func testRegistry(c *capture) *registry.Registry {
	reg := registry.Default()
	reg.RegisterSignal(signals.CategoryValue, "value", func() signals.Provider { return valueSignal{} })
	if c != nil {
		reg.RegisterDelivery("capture", func() delivery.Provider { return c })
	}
	return reg
}

func hunter() model.Profile {
	return model.Profile{
		Name:     "hunter",
		Mode:     model.ModeLinear,
		Weights:  map[string]float64{"value": 1},
		Prefetch: model.PrefetchConfig{Mode: model.PrefetchStrict},
	}
}

func testConfig(profiles ...model.Profile) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Profiles = profiles
	return cfg
}

func kill(id, loc int64, value float64) *model.Event {
	return &model.Event{
		KillID:     id,
		LocationID: loc,
		Timestamp:  time.Now().UTC(),
		Victim:     model.Victim{CharacterID: 1, CorporationID: 98000001, ShipGroupID: 27},
		Attackers:  []model.Attacker{{CharacterID: 2, CorporationID: 98000002, FinalBlow: true}},
		TotalValue: value,
		Source:     "test",
	}
}

func TestProcessRecordsResults(t *testing.T) {
	store, err := storage.NewSQLite("file:" + filepath.Join(t.TempDir(), "p.db"))
	require.NoError(t, err)
	require.NoError(t, store.Init(context.Background()))
	defer store.Close()

	p, err := New(testConfig(hunter()), Deps{Registry: testRegistry(nil), Store: store})
	require.NoError(t, err)

	out := p.Handle(context.Background(), kill(1, 30000142, 900e6))
	require.Len(t, out, 1)
	res := out[0]
	assert.Equal(t, model.TierPriority, res.Tier)
	require.NotNil(t, res.Prefetch)
	assert.True(t, res.Prefetch.ShouldFetch)

	assert.Equal(t, 1, p.Results().Len())
	stats, ok := p.Metrics().Get("hunter")
	require.True(t, ok)
	assert.Equal(t, uint64(1), stats.Tiers["priority"])
	assert.Equal(t, uint64(1), stats.PrefetchFetch)

	saved, err := store.ListResults(context.Background(), "hunter", 10)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, res.ID, saved[0].ID)
	assert.Equal(t, uint64(1), p.Processed())
}

func TestPrefetchDropSkipsEvaluation(t *testing.T) {
	p, err := New(testConfig(hunter()), Deps{Registry: testRegistry(nil)})
	require.NoError(t, err)

	out := p.Handle(context.Background(), kill(2, 30000142, 50e6))
	assert.Empty(t, out)
	assert.Zero(t, p.Results().Len())
	stats, ok := p.Metrics().Get("hunter")
	require.True(t, ok)
	assert.Equal(t, uint64(1), stats.PrefetchDrop)
	assert.Zero(t, stats.Evaluations)
}

func TestPrefetchDisabledEvaluatesEverything(t *testing.T) {
	cfg := testConfig(hunter())
	cfg.Pipeline.Prefetch = false
	p, err := New(cfg, Deps{Registry: testRegistry(nil)})
	require.NoError(t, err)

	out := p.Handle(context.Background(), kill(2, 30000142, 50e6))
	require.Len(t, out, 1)
	assert.Equal(t, model.TierLogOnly, out[0].Tier)
	assert.Nil(t, out[0].Prefetch)
}

func TestRateLimitDowngradesToDigest(t *testing.T) {
	prof := hunter()
	prof.RateLimit = model.RateLimitConfig{MaxPerWindow: 1, Window: time.Hour}
	p, err := New(testConfig(prof), Deps{Registry: testRegistry(nil)})
	require.NoError(t, err)

	first := p.Handle(context.Background(), kill(1, 30000142, 900e6))
	second := p.Handle(context.Background(), kill(2, 30002187, 950e6))
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, model.TierPriority, first[0].Tier)
	assert.Equal(t, model.TierDigest, second[0].Tier)

	stats, _ := p.Metrics().Get("hunter")
	assert.Equal(t, uint64(1), stats.RateLimited)

	// Limiter state survives a reload of the same profile.
	require.NoError(t, p.UpdateConfig(testConfig(prof)))
	third := p.Handle(context.Background(), kill(3, 30002510, 950e6))
	assert.Equal(t, model.TierDigest, third[0].Tier)
}

func TestRejectedReloadKeepsLimiterSettings(t *testing.T) {
	prof := hunter()
	prof.RateLimit = model.RateLimitConfig{MaxPerWindow: 1, Window: time.Hour}
	p, err := New(testConfig(prof), Deps{Registry: testRegistry(nil)})
	require.NoError(t, err)

	unlimited := hunter()
	bad := hunter()
	bad.Name = "bad"
	bad.Rules.AlwaysNotify = []string{"no_such_rule"}
	require.Error(t, p.UpdateConfig(testConfig(unlimited, bad)))

	lim := p.current().profiles["hunter"].limiter
	assert.Equal(t, 1, lim.cfg.MaxPerWindow)
	assert.Equal(t, time.Hour, lim.cfg.Window)

	p.Handle(context.Background(), kill(1, 30000142, 900e6))
	second := p.Handle(context.Background(), kill(2, 30002187, 950e6))
	require.Len(t, second, 1)
	assert.Equal(t, model.TierDigest, second[0].Tier)

	// An accepted reload applies the new settings to the same limiter.
	require.NoError(t, p.UpdateConfig(testConfig(unlimited)))
	assert.Same(t, lim, p.current().profiles["hunter"].limiter)
	assert.Zero(t, lim.cfg.MaxPerWindow)
}

func TestRateLimitLeavesEngineResultAlone(t *testing.T) {
	prof := hunter()
	prof.RateLimit = model.RateLimitConfig{MaxPerWindow: 1, Window: time.Hour}
	p, err := New(testConfig(prof), Deps{Registry: testRegistry(nil)})
	require.NoError(t, err)
	rt := p.current().profiles["hunter"]

	first := rt.engine.Evaluate(kill(1, 30000142, 900e6), p.EvalContext())
	out := p.annotate(rt, first, nil)
	assert.Equal(t, model.TierPriority, out.Tier)
	assert.Nil(t, out.RateLimited)

	engineRes := rt.engine.Evaluate(kill(2, 30002187, 950e6), p.EvalContext())
	decision := &model.PrefetchDecision{ShouldFetch: true}
	limited := p.annotate(rt, engineRes, decision)
	assert.NotSame(t, engineRes, limited)
	assert.Equal(t, model.TierDigest, limited.Tier)
	require.NotNil(t, limited.RateLimited)
	assert.Equal(t, model.TierPriority, limited.RateLimited.Tier)
	assert.NotEmpty(t, limited.RateLimited.Reason)
	assert.Same(t, decision, limited.Prefetch)

	assert.Equal(t, model.TierPriority, engineRes.Tier)
	assert.Nil(t, engineRes.RateLimited)
	assert.Nil(t, engineRes.Prefetch)
}

func TestDuplicateKillsAreDropped(t *testing.T) {
	p, err := New(testConfig(hunter()), Deps{
		Registry: testRegistry(nil),
		Deduper:  ingest.NewMemoryDeduper(time.Minute),
	})
	require.NoError(t, err)

	assert.Len(t, p.Handle(context.Background(), kill(7, 30000142, 900e6)), 1)
	assert.Nil(t, p.Handle(context.Background(), kill(7, 30000142, 900e6)))
	snap := p.Metrics().Snapshot()
	assert.Equal(t, uint64(1), snap.Duplicates)
	assert.Equal(t, uint64(1), snap.Ingested["test"])
}

func TestActivityFeedsContext(t *testing.T) {
	p, err := New(testConfig(hunter()), Deps{Registry: testRegistry(nil)})
	require.NoError(t, err)
	p.Handle(context.Background(), kill(1, 30000142, 900e6))
	p.Handle(context.Background(), kill(2, 30000142, 10e6))

	stats, ok := p.EvalContext().Activity(30000142)
	require.True(t, ok)
	assert.Equal(t, 2, stats.Last10m)

	p.Reset()
	_, ok = p.EvalContext().Activity(30000142)
	assert.False(t, ok)
	assert.Zero(t, p.Results().Len())
}

func TestDeliveryRespectsMinTier(t *testing.T) {
	c := newCapture()
	prof := hunter()
	prof.Delivery = []model.DeliveryConfig{
		{Provider: "capture"},
		{Provider: "capture", MinTier: model.TierDigest},
	}
	p, err := New(testConfig(prof), Deps{Registry: testRegistry(c)})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan *model.Event, 4)
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, in, 1) }()

	in <- kill(1, 30000142, 500e6) // digest: only the digest subscription
	in <- kill(2, 30002187, 900e6) // priority: both

	for i := 0; i < 3; i++ {
		select {
		case <-c.seen:
		case <-time.After(3 * time.Second):
			t.Fatalf("expected 3 deliveries, got %d", len(c.payloads()))
		}
	}
	cancel()
	require.NoError(t, <-done)

	got := c.payloads()
	require.Len(t, got, 3)
	tiers := map[string]int{}
	for _, pl := range got {
		tiers[pl.Tier]++
	}
	assert.Equal(t, map[string]int{"digest": 1, "priority": 2}, tiers)

	stats, _ := p.Metrics().Get("hunter")
	assert.Equal(t, uint64(3), stats.Delivered)
}

func TestUnknownDeliveryProviderCountsFailure(t *testing.T) {
	prof := hunter()
	prof.Delivery = []model.DeliveryConfig{{Provider: "pager"}}
	p, err := New(testConfig(prof), Deps{Registry: testRegistry(nil)})
	require.NoError(t, err)
	res := p.Handle(context.Background(), kill(1, 30000142, 900e6))
	require.Len(t, res, 1)
	p.deliver(context.Background(), <-p.deliveries)
	stats, _ := p.Metrics().Get("hunter")
	assert.Equal(t, uint64(1), stats.DeliveryFailed)
}

func TestUpdateConfigKeepsPreviousOnError(t *testing.T) {
	p, err := New(testConfig(hunter()), Deps{Registry: testRegistry(nil)})
	require.NoError(t, err)

	bad := model.Profile{Name: "broken", Preset: "no_such_preset"}
	err = p.UpdateConfig(testConfig(hunter(), bad))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `profile "broken"`)
	assert.Equal(t, []string{"hunter"}, p.Profiles())
}

func TestEvaluateAndPrefetchByName(t *testing.T) {
	other := hunter()
	other.Name = "trader"
	other.Thresholds = model.ThresholdsConfig{Priority: fptr(0.95)}
	p, err := New(testConfig(hunter(), other), Deps{Registry: testRegistry(nil)})
	require.NoError(t, err)

	res, err := p.Evaluate("trader", kill(1, 30000142, 900e6))
	require.NoError(t, err)
	assert.Equal(t, model.TierNotify, res.Tier)
	assert.Zero(t, p.Results().Len())

	d, err := p.Prefetch("hunter", 30000142, &model.Event{TotalValue: 10e6})
	require.NoError(t, err)
	assert.False(t, d.ShouldFetch)

	_, err = p.Evaluate("nobody", kill(1, 1, 1))
	assert.True(t, errors.Is(err, ErrUnknownProfile))
	_, err = p.Prefetch("nobody", 1, nil)
	assert.True(t, errors.Is(err, ErrUnknownProfile))

	sums := p.Summaries()
	require.Len(t, sums, 2)
	assert.Equal(t, "strict", sums[0].PrefetchMode)
	assert.InDelta(t, 0.95, sums[1].Thresholds.Priority, 1e-9)
}

func fptr(v float64) *float64 { return &v }
