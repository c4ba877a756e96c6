// Package metrics counts evaluation outcomes per profile and exposes them
// both as a JSON snapshot and as Prometheus collectors.
package metrics

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"killsense/internal/model"
)

type ProfileStats struct {
	Evaluations    uint64            `json:"evaluations"`
	Tiers          map[string]uint64 `json:"tiers"`
	PrefetchFetch  uint64            `json:"prefetch_fetch"`
	PrefetchDrop   uint64            `json:"prefetch_drop"`
	RateLimited    uint64            `json:"rate_limited"`
	Delivered      uint64            `json:"delivered"`
	DeliveryFailed uint64            `json:"delivery_failed"`
	LastEvaluated  time.Time         `json:"last_evaluated"`
}

type Snapshot struct {
	Ingested   map[string]uint64       `json:"ingested"`
	Duplicates uint64                  `json:"duplicates"`
	Profiles   map[string]ProfileStats `json:"profiles"`
}

type Store struct {
	mu         sync.RWMutex
	byProfile  map[string]*ProfileStats
	ingested   map[string]uint64
	duplicates uint64

	registry      *prometheus.Registry
	evaluations   *prometheus.CounterVec
	interest      *prometheus.HistogramVec
	prefetch      *prometheus.CounterVec
	rateLimited   *prometheus.CounterVec
	deliveries    *prometheus.CounterVec
	ingestedTotal *prometheus.CounterVec
	duplicatesTot prometheus.Counter
}

// NewStore registers its collectors on a private registry so several
// stores (tests, multiple pipelines) never collide.
func NewStore(namespace string) *Store {
	if namespace == "" {
		namespace = "killsense"
	}
	s := &Store{
		byProfile: make(map[string]*ProfileStats),
		ingested:  make(map[string]uint64),
		registry:  prometheus.NewRegistry(),
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Kill evaluations by profile and assigned tier.",
		}, []string{"profile", "tier"}),
		interest: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "interest_score",
			Help:      "Distribution of final interest scores by profile.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}, []string{"profile"}),
		prefetch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prefetch_decisions_total",
			Help:      "Prefetch decisions by profile and outcome.",
		}, []string{"profile", "decision"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Results downgraded by the profile rate limit.",
		}, []string{"profile"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Delivery attempts by profile, provider and status.",
		}, []string{"profile", "provider", "status"}),
		ingestedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_ingested_total",
			Help:      "Killmails accepted into the pipeline by source.",
		}, []string{"source"}),
		duplicatesTot: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_duplicate_total",
			Help:      "Killmails dropped as duplicates.",
		}),
	}
	s.registry.MustRegister(
		s.evaluations,
		s.interest,
		s.prefetch,
		s.rateLimited,
		s.deliveries,
		s.ingestedTotal,
		s.duplicatesTot,
	)
	return s
}

func (s *Store) profile(name string) *ProfileStats {
	p, ok := s.byProfile[name]
	if !ok {
		p = &ProfileStats{Tiers: make(map[string]uint64)}
		s.byProfile[name] = p
	}
	return p
}

func (s *Store) ObserveIngest(source string) {
	s.mu.Lock()
	s.ingested[source]++
	s.mu.Unlock()
	s.ingestedTotal.WithLabelValues(source).Inc()
}

func (s *Store) ObserveDuplicate() {
	s.mu.Lock()
	s.duplicates++
	s.mu.Unlock()
	s.duplicatesTot.Inc()
}

func (s *Store) ObserveResult(res *model.InterestResult) {
	if res == nil {
		return
	}
	tier := res.Tier.String()
	s.mu.Lock()
	p := s.profile(res.Profile)
	p.Evaluations++
	p.Tiers[tier]++
	p.LastEvaluated = res.EvaluatedAt
	s.mu.Unlock()
	s.evaluations.WithLabelValues(res.Profile, tier).Inc()
	s.interest.WithLabelValues(res.Profile).Observe(res.Interest)
}

func (s *Store) ObservePrefetch(profile string, d *model.PrefetchDecision) {
	if d == nil {
		return
	}
	decision := "drop"
	s.mu.Lock()
	p := s.profile(profile)
	if d.ShouldFetch {
		decision = "fetch"
		p.PrefetchFetch++
	} else {
		p.PrefetchDrop++
	}
	s.mu.Unlock()
	s.prefetch.WithLabelValues(profile, decision).Inc()
}

func (s *Store) ObserveRateLimited(profile string) {
	s.mu.Lock()
	s.profile(profile).RateLimited++
	s.mu.Unlock()
	s.rateLimited.WithLabelValues(profile).Inc()
}

func (s *Store) ObserveDelivery(profile, provider string, ok bool) {
	status := "ok"
	s.mu.Lock()
	p := s.profile(profile)
	if ok {
		p.Delivered++
	} else {
		status = "failed"
		p.DeliveryFailed++
	}
	s.mu.Unlock()
	s.deliveries.WithLabelValues(profile, provider, status).Inc()
}

func (s *Store) Get(profile string) (ProfileStats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byProfile[profile]
	if !ok {
		return ProfileStats{}, false
	}
	return p.clone(), true
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := Snapshot{
		Ingested:   make(map[string]uint64, len(s.ingested)),
		Duplicates: s.duplicates,
		Profiles:   make(map[string]ProfileStats, len(s.byProfile)),
	}
	for k, v := range s.ingested {
		out.Ingested[k] = v
	}
	for name, p := range s.byProfile {
		out.Profiles[name] = p.clone()
	}
	return out
}

func (s *Store) Profiles() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.byProfile))
	for name := range s.byProfile {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (p *ProfileStats) clone() ProfileStats {
	c := *p
	c.Tiers = make(map[string]uint64, len(p.Tiers))
	for k, v := range p.Tiers {
		c.Tiers[k] = v
	}
	return c
}

// Clear resets the JSON snapshot. Prometheus counters are monotonic and
// are left alone.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byProfile = make(map[string]*ProfileStats)
	s.ingested = make(map[string]uint64)
	s.duplicates = 0
}

func (s *Store) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

func (s *Store) Registry() *prometheus.Registry {
	return s.registry
}
