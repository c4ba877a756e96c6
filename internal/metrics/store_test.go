package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"killsense/internal/model"
)

func TestObserveAndSnapshot(t *testing.T) {
	s := NewStore("test")
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s.ObserveIngest("rest")
	s.ObserveIngest("rest")
	s.ObserveDuplicate()
	s.ObserveResult(&model.InterestResult{Profile: "hunter", Tier: model.TierPriority, Interest: 0.9, EvaluatedAt: at})
	s.ObserveResult(&model.InterestResult{Profile: "hunter", Tier: model.TierDigest, Interest: 0.4, EvaluatedAt: at})
	s.ObservePrefetch("hunter", &model.PrefetchDecision{ShouldFetch: true})
	s.ObservePrefetch("hunter", &model.PrefetchDecision{ShouldFetch: false})
	s.ObserveRateLimited("hunter")
	s.ObserveDelivery("hunter", "log", true)
	s.ObserveDelivery("hunter", "webhook", false)
	s.ObserveResult(nil)
	s.ObservePrefetch("hunter", nil)

	p, ok := s.Get("hunter")
	require.True(t, ok)
	assert.Equal(t, uint64(2), p.Evaluations)
	assert.Equal(t, map[string]uint64{"priority": 1, "digest": 1}, p.Tiers)
	assert.Equal(t, uint64(1), p.PrefetchFetch)
	assert.Equal(t, uint64(1), p.PrefetchDrop)
	assert.Equal(t, uint64(1), p.RateLimited)
	assert.Equal(t, uint64(1), p.Delivered)
	assert.Equal(t, uint64(1), p.DeliveryFailed)
	assert.Equal(t, at, p.LastEvaluated)

	snap := s.Snapshot()
	assert.Equal(t, uint64(2), snap.Ingested["rest"])
	assert.Equal(t, uint64(1), snap.Duplicates)
	assert.Equal(t, []string{"hunter"}, s.Profiles())

	assert.InDelta(t, 1, testutil.ToFloat64(s.evaluations.WithLabelValues("hunter", "priority")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(s.deliveries.WithLabelValues("hunter", "webhook", "failed")), 1e-9)

	s.Clear()
	_, ok = s.Get("hunter")
	assert.False(t, ok)
	assert.InDelta(t, 2, testutil.ToFloat64(s.ingestedTotal.WithLabelValues("rest")), 1e-9)
}

func TestSnapshotIsACopy(t *testing.T) {
	s := NewStore("")
	s.ObserveResult(&model.InterestResult{Profile: "p", Tier: model.TierNotify})
	snap := s.Snapshot()
	snap.Profiles["p"].Tiers["notify"] = 99
	p, _ := s.Get("p")
	assert.Equal(t, uint64(1), p.Tiers["notify"])
}

func TestPrometheusHandler(t *testing.T) {
	s := NewStore("ks")
	s.ObserveResult(&model.InterestResult{Profile: "p", Tier: model.TierNotify, Interest: 0.6})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `ks_evaluations_total{profile="p",tier="notify"} 1`)
}
