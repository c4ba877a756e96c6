// Package pipeline routes ingested kills through every configured profile:
// prefetch, evaluate, rate limit, record and deliver.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"killsense/internal/activity"
	"killsense/internal/config"
	"killsense/internal/delivery"
	"killsense/internal/ingest"
	"killsense/internal/interest"
	"killsense/internal/metrics"
	"killsense/internal/model"
	"killsense/internal/registry"
	"killsense/internal/results"
	"killsense/internal/signals"
	"killsense/internal/storage"
	"killsense/internal/universe"
	"killsense/internal/watchlist"
)

var ErrUnknownProfile = errors.New("unknown profile")

// Deps are the long-lived collaborators. Store and Deduper may be nil.
type Deps struct {
	Registry *registry.Registry
	Results  *results.Store
	Metrics  *metrics.Store
	Store    storage.Store
	Activity *activity.Tracker
	Deduper  ingest.Deduper
	Logger   *slog.Logger
}

type profileRuntime struct {
	profile model.Profile
	engine  *interest.Engine
	limiter *limiter
}

// state is swapped as a whole on reload so an event never sees a mix of
// old and new profiles.
type state struct {
	cfg      *config.Config
	profiles map[string]*profileRuntime
	order    []string
	universe *universe.Map
	watch    *watchlist.Set
}

type deliveryJob struct {
	result  *model.InterestResult
	payload delivery.Payload
	cfg     model.DeliveryConfig
}

type Pipeline struct {
	deps       Deps
	state      atomic.Pointer[state]
	reloadMu   sync.Mutex
	deliveries chan deliveryJob
	now        func() time.Time
	processed  atomic.Uint64
	started    time.Time
}

func New(cfg *config.Config, deps Deps) (*Pipeline, error) {
	if deps.Registry == nil {
		deps.Registry = registry.Default()
	}
	for name, f := range delivery.BuiltinsWithLogger(deps.Logger) {
		deps.Registry.RegisterDelivery(name, f)
	}
	if deps.Results == nil {
		deps.Results = results.NewStore(cfg.Results.StoreLimit)
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewStore(cfg.Metrics.Namespace)
	}
	if deps.Activity == nil {
		deps.Activity = activity.NewTracker(cfg.Activity.ShortWindow, cfg.Activity.LongWindow)
	}
	queue := cfg.Pipeline.DeliveryQueue
	if queue <= 0 {
		queue = 1000
	}
	p := &Pipeline{
		deps:       deps,
		deliveries: make(chan deliveryJob, queue),
		now:        func() time.Time { return time.Now().UTC() },
		started:    time.Now().UTC(),
	}
	if err := p.UpdateConfig(cfg); err != nil {
		return nil, err
	}
	return p, nil
}

// UpdateConfig rebuilds every profile engine. On any error the previous
// configuration stays in effect. Rate limiter state survives for profiles
// that keep their name.
func (p *Pipeline) UpdateConfig(cfg *config.Config) error {
	p.reloadMu.Lock()
	defer p.reloadMu.Unlock()
	prev := p.state.Load()
	next := &state{
		cfg:      cfg,
		profiles: make(map[string]*profileRuntime, len(cfg.Profiles)),
		universe: universe.New(cfg.Universe),
		watch:    watchlist.Build(cfg.Watchlists),
	}
	var (
		errs      []error
		reconfigs []func()
	)
	for _, prof := range cfg.Profiles {
		eng, err := interest.New(prof, p.deps.Registry, interest.WithLogger(p.deps.Logger))
		if err != nil {
			errs = append(errs, fmt.Errorf("profile %q: %w", prof.Name, err))
			continue
		}
		rt := &profileRuntime{profile: prof, engine: eng}
		if prev != nil {
			if old, ok := prev.profiles[prof.Name]; ok {
				lim, rl := old.limiter, prof.RateLimit
				rt.limiter = lim
				// Live limiters only change once the whole reload is accepted.
				reconfigs = append(reconfigs, func() { lim.configure(rl) })
			}
		}
		if rt.limiter == nil {
			rt.limiter = newLimiter(prof.RateLimit)
		}
		next.profiles[prof.Name] = rt
		next.order = append(next.order, prof.Name)
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	for _, fn := range reconfigs {
		fn()
	}
	p.state.Store(next)
	if p.deps.Logger != nil {
		p.deps.Logger.Info("pipeline configured", "profiles", next.order, "prefetch", cfg.Pipeline.Prefetch)
	}
	return nil
}

func (p *Pipeline) current() *state {
	return p.state.Load()
}

func (p *Pipeline) Profiles() []string {
	st := p.current()
	out := make([]string, len(st.order))
	copy(out, st.order)
	return out
}

func (p *Pipeline) Results() *results.Store { return p.deps.Results }
func (p *Pipeline) Metrics() *metrics.Store { return p.deps.Metrics }
func (p *Pipeline) Processed() uint64       { return p.processed.Load() }
func (p *Pipeline) Started() time.Time      { return p.started }
func (p *Pipeline) Config() *config.Config  { return p.current().cfg }
func (p *Pipeline) Registry() *registry.Registry {
	return p.deps.Registry
}

// EvalContext wires the universe tables, activity tracker and watchlists
// into a fresh per-evaluation context.
func (p *Pipeline) EvalContext() *signals.EvalContext {
	return p.evalContext(p.current())
}

func (p *Pipeline) evalContext(st *state) *signals.EvalContext {
	ctx := &signals.EvalContext{
		Distance: st.universe.Distance,
		Security: st.universe.Security,
		Activity: p.deps.Activity.Stats,
		Now:      p.now,
	}
	st.watch.Apply(ctx)
	return ctx
}

// Run consumes events until ctx is done, with workers draining the
// delivery queue.
func (p *Pipeline) Run(ctx context.Context, in <-chan *model.Event, workers int) error {
	if workers <= 0 {
		workers = 2
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.deliverLoop(ctx)
		}()
	}
	defer wg.Wait()
	for {
		select {
		case ev := <-in:
			if ev != nil {
				p.Handle(ctx, ev)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// Handle runs one ingested event through dedupe and every profile.
func (p *Pipeline) Handle(ctx context.Context, ev *model.Event) []*model.InterestResult {
	now := p.now()
	if p.deps.Deduper != nil && p.deps.Deduper.Seen(ctx, ev.KillID, now) {
		p.deps.Metrics.ObserveDuplicate()
		return nil
	}
	p.deps.Metrics.ObserveIngest(ev.Source)
	out := p.Process(ctx, ev)
	// Observe after scoring so the kill does not count toward its own
	// activity.
	p.deps.Activity.Observe(ev)
	p.processed.Add(1)
	return out
}

// Process evaluates ev for every profile and records and dispatches the
// results. Events dropped by prefetch yield no result.
func (p *Pipeline) Process(ctx context.Context, ev *model.Event) []*model.InterestResult {
	st := p.current()
	evalCtx := p.evalContext(st)
	out := make([]*model.InterestResult, 0, len(st.order))
	for _, name := range st.order {
		rt := st.profiles[name]
		var decision *model.PrefetchDecision
		if st.cfg.Pipeline.Prefetch {
			decision = rt.engine.Prefetch(ev.LocationID, prefetchView(ev), evalCtx)
			p.deps.Metrics.ObservePrefetch(name, decision)
			p.savePrefetch(ctx, st, ev.KillID, decision)
			if !decision.ShouldFetch {
				if p.deps.Logger != nil {
					p.deps.Logger.Debug("kill dropped by prefetch", "profile", name, "kill_id", ev.KillID, "reason", decision.Reason)
				}
				continue
			}
		}
		res := p.annotate(rt, rt.engine.Evaluate(ev, evalCtx), decision)
		p.record(ctx, st, res)
		p.dispatch(rt, res, ev)
		out = append(out, res)
	}
	return out
}

// prefetchView keeps only what a killmail feed announces before the full
// mail is fetched.
func prefetchView(ev *model.Event) *model.Event {
	return &model.Event{
		KillID:     ev.KillID,
		LocationID: ev.LocationID,
		Timestamp:  ev.Timestamp,
		TotalValue: ev.TotalValue,
		NPC:        ev.NPC,
		Solo:       ev.Solo,
		Victim:     model.Victim{ShipGroupID: ev.Victim.ShipGroupID, ShipTypeID: ev.Victim.ShipTypeID},
	}
}

// annotate returns a copy of the engine result carrying the prefetch
// decision and any rate limit downgrade. The engine result is not modified.
func (p *Pipeline) annotate(rt *profileRuntime, engineRes *model.InterestResult, decision *model.PrefetchDecision) *model.InterestResult {
	res := new(model.InterestResult)
	*res = *engineRes
	res.Prefetch = decision
	p.applyRateLimit(rt, res)
	return res
}

func (p *Pipeline) applyRateLimit(rt *profileRuntime, res *model.InterestResult) {
	if res.Tier < model.TierNotify {
		return
	}
	ok, reason := rt.limiter.Allow(res.LocationID, res.EvaluatedAt)
	if ok {
		return
	}
	if p.deps.Logger != nil {
		p.deps.Logger.Info("notification rate limited",
			"profile", res.Profile,
			"kill_id", res.KillID,
			"tier", res.Tier.String(),
			"reason", reason,
		)
	}
	res.RateLimited = &model.RateLimitNote{Tier: res.Tier, Reason: reason}
	res.Tier = model.TierDigest
	p.deps.Metrics.ObserveRateLimited(res.Profile)
}

func (p *Pipeline) record(ctx context.Context, st *state, res *model.InterestResult) {
	p.deps.Results.Add(*res)
	p.deps.Metrics.ObserveResult(res)
	if p.deps.Logger != nil && res.Tier >= model.TierNotify {
		p.deps.Logger.Info("kill of interest",
			"profile", res.Profile,
			"kill_id", res.KillID,
			"tier", res.Tier.String(),
			"interest", res.Interest,
		)
	}
	if p.deps.Store == nil {
		return
	}
	saveCtx, cancel := context.WithTimeout(ctx, st.cfg.Pipeline.SaveTimeout)
	defer cancel()
	if err := p.deps.Store.SaveResult(saveCtx, res); err != nil && p.deps.Logger != nil {
		p.deps.Logger.Warn("result save failed", "err", err)
	}
}

func (p *Pipeline) savePrefetch(ctx context.Context, st *state, killID int64, d *model.PrefetchDecision) {
	if p.deps.Store == nil {
		return
	}
	saveCtx, cancel := context.WithTimeout(ctx, st.cfg.Pipeline.SaveTimeout)
	defer cancel()
	if err := p.deps.Store.SavePrefetch(saveCtx, killID, d, p.now()); err != nil && p.deps.Logger != nil {
		p.deps.Logger.Warn("prefetch save failed", "err", err)
	}
}

// dispatch queues the result for every delivery whose minimum tier it
// reaches. An unset minimum means notify.
func (p *Pipeline) dispatch(rt *profileRuntime, res *model.InterestResult, ev *model.Event) {
	if len(rt.profile.Delivery) == 0 || res.Tier == model.TierFilter {
		return
	}
	payload := delivery.Render(res, ev)
	for _, dc := range rt.profile.Delivery {
		minTier := dc.MinTier
		if minTier == model.TierFilter {
			minTier = model.TierNotify
		}
		if res.Tier < minTier {
			continue
		}
		select {
		case p.deliveries <- deliveryJob{result: res, payload: payload, cfg: dc}:
		default:
			if p.deps.Logger != nil {
				p.deps.Logger.Warn("delivery queue full, dropping notification", "profile", res.Profile, "kill_id", res.KillID, "provider", dc.Provider)
			}
			p.deps.Metrics.ObserveDelivery(res.Profile, dc.Provider, false)
		}
	}
}

func (p *Pipeline) deliverLoop(ctx context.Context) {
	for {
		select {
		case job := <-p.deliveries:
			p.deliver(ctx, job)
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pipeline) deliver(ctx context.Context, job deliveryJob) {
	prov, ok := p.deps.Registry.Delivery(job.cfg.Provider)
	if !ok {
		if p.deps.Logger != nil {
			p.deps.Logger.Warn("unknown delivery provider", "provider", job.cfg.Provider, "profile", job.result.Profile)
		}
		p.deps.Metrics.ObserveDelivery(job.result.Profile, job.cfg.Provider, false)
		return
	}
	delivered := func() (ok bool) {
		defer func() {
			if r := recover(); r != nil {
				if p.deps.Logger != nil {
					p.deps.Logger.Error("delivery provider panicked", "provider", job.cfg.Provider, "panic", r)
				}
				ok = false
			}
		}()
		return prov.Deliver(ctx, job.result, job.payload, job.cfg)
	}()
	p.deps.Metrics.ObserveDelivery(job.result.Profile, job.cfg.Provider, delivered)
}

// Evaluate scores ev for one profile without recording or delivering.
func (p *Pipeline) Evaluate(profile string, ev *model.Event) (*model.InterestResult, error) {
	st := p.current()
	rt, ok := st.profiles[profile]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProfile, profile)
	}
	return rt.engine.Evaluate(ev, p.evalContext(st)), nil
}

// Prefetch runs the prefetch scorer for one profile without recording.
func (p *Pipeline) Prefetch(profile string, locationID int64, partial *model.Event) (*model.PrefetchDecision, error) {
	st := p.current()
	rt, ok := st.profiles[profile]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProfile, profile)
	}
	return rt.engine.Prefetch(locationID, partial, p.evalContext(st)), nil
}

// Housekeeping drops stale activity windows.
func (p *Pipeline) Housekeeping() {
	n := p.deps.Activity.Prune()
	if p.deps.Logger != nil && n > 0 {
		p.deps.Logger.Debug("activity windows pruned", "locations", n)
	}
}

// Reset clears in-memory history: results, counters and activity.
func (p *Pipeline) Reset() {
	p.deps.Results.Clear()
	p.deps.Metrics.Clear()
	p.deps.Activity.Reset()
}

// ProfileSummary describes one loaded profile for status output.
type ProfileSummary struct {
	Name         string             `json:"name"`
	Mode         string             `json:"mode"`
	PrefetchMode string             `json:"prefetch_mode"`
	Thresholds   model.Thresholds   `json:"thresholds"`
	Weights      map[string]float64 `json:"weights"`
	Deliveries   []string           `json:"deliveries,omitempty"`
}

func (p *Pipeline) Summaries() []ProfileSummary {
	st := p.current()
	out := make([]ProfileSummary, 0, len(st.order))
	for _, name := range st.order {
		rt := st.profiles[name]
		s := ProfileSummary{
			Name:         name,
			Mode:         string(rt.engine.Mode()),
			PrefetchMode: string(rt.engine.PrefetchMode()),
			Thresholds:   rt.engine.Thresholds(),
			Weights:      rt.engine.Weights(),
		}
		for _, d := range rt.profile.Delivery {
			s.Deliveries = append(s.Deliveries, d.Provider)
		}
		sort.Strings(s.Deliveries)
		out = append(out, s)
	}
	return out
}

func (p *Pipeline) Close() error {
	return p.deps.Registry.Close()
}
