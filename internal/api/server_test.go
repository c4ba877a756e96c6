package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"killsense/internal/config"
	"killsense/internal/model"
	"killsense/internal/pipeline"
	"killsense/internal/registry"
	"killsense/internal/signals"
)

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

const killmail = `{"killmail_id": 9, "killmail_time": "2026-03-01T18:22:05Z", "solar_system_id": 30000142,
  "victim": {"ship_type_id": 587, "ship_group_id": 25}, "attackers": [{"character_id": 2, "final_blow": true}],
  "zkb": {"totalValue": 900000000}}`

func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	reg := registry.Default()
	reg.RegisterSignal(signals.CategoryValue, "value", func() signals.Provider { return valueSignal{} })
	cfg := config.DefaultConfig()
	cfg.Profiles = []model.Profile{{
		Name:     "hunter",
		Mode:     model.ModeLinear,
		Weights:  map[string]float64{"value": 1},
		Prefetch: model.PrefetchConfig{Mode: model.PrefetchStrict},
	}}
	pipe, err := pipeline.New(cfg, pipeline.Deps{Registry: reg})
	require.NoError(t, err)
	s := NewServer(config.NewStatic(cfg), pipe, nil, nil, "test")
	return s, s.Router(5 * time.Second)
}

func do(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	h.ServeHTTP(rec, req)
	return rec
}

func TestStatus(t *testing.T) {
	_, h := newTestServer(t)
	rec := do(h, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "test", resp.Version)
	require.Len(t, resp.Profiles, 1)
	assert.Equal(t, "hunter", resp.Profiles[0].Name)
	assert.True(t, resp.Ingest.REST)
}

func TestEvaluate(t *testing.T) {
	s, h := newTestServer(t)
	rec := do(h, http.MethodPost, "/evaluate?profile=hunter", killmail)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp evaluateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, model.TierPriority, resp.Result.Tier)
	assert.True(t, resp.Notify)
	assert.NotEmpty(t, resp.Breakdown)
	// Ad-hoc evaluation is not recorded.
	assert.Zero(t, s.pipe.Results().Len())

	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodPost, "/evaluate", killmail).Code)
	assert.Equal(t, http.StatusNotFound, do(h, http.MethodPost, "/evaluate?profile=nobody", killmail).Code)
	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodPost, "/evaluate?profile=hunter", "{").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(h, http.MethodGet, "/evaluate", "").Code)
}

func TestPrefetch(t *testing.T) {
	_, h := newTestServer(t)
	rec := do(h, http.MethodPost, "/prefetch?profile=hunter&location_id=30000142", `{"kill_id": 1, "total_value": 20000000}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var d model.PrefetchDecision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.False(t, d.ShouldFetch)
	assert.Equal(t, int64(30000142), d.LocationID)

	rec = do(h, http.MethodPost, "/prefetch?profile=hunter&location_id=30000142", `{"total_value": 2000000000}`)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.True(t, d.ShouldFetch)

	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodPost, "/prefetch?profile=hunter", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodPost, "/prefetch?profile=hunter&location_id=x", "").Code)
	assert.Equal(t, http.StatusNotFound, do(h, http.MethodPost, "/prefetch?profile=none&location_id=1", "").Code)
}

func TestResultsAndMetrics(t *testing.T) {
	s, h := newTestServer(t)
	ev, err := s.decoder.Decode([]byte(killmail))
	require.NoError(t, err)
	s.pipe.Handle(context.Background(), ev)

	rec := do(h, http.MethodGet, "/results?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Results []model.InterestResult `json:"results"`
		Count   int                    `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)

	rec = do(h, http.MethodGet, "/results?profile=other", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Zero(t, list.Count)

	rec = do(h, http.MethodGet, "/results?since=2000-01-01T00:00:00Z&profile=hunter", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)

	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodGet, "/results?since=yesterday", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodGet, "/results?limit=-1", "").Code)
	assert.Equal(t, http.StatusNotFound, do(h, http.MethodGet, "/results?source=store", "").Code)

	rec = do(h, http.MethodGet, "/metrics/hunter", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"priority":1`)
	assert.Equal(t, http.StatusNotFound, do(h, http.MethodGet, "/metrics/nobody", "").Code)

	rec = do(h, http.MethodGet, "/metrics", "")
	assert.Contains(t, rec.Body.String(), `"hunter"`)

	rec = do(h, http.MethodGet, "/metrics/prometheus", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "killsense_evaluations_total")

	rec = do(h, http.MethodPost, "/admin/clear", `{"target": "results"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, s.pipe.Results().Len())
	_, ok := s.pipe.Metrics().Get("hunter")
	assert.True(t, ok)

	assert.Equal(t, http.StatusOK, do(h, http.MethodPost, "/admin/clear", "").Code)
	_, ok = s.pipe.Metrics().Get("hunter")
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodPost, "/admin/clear", `{"target": "disk"}`).Code)
}

func TestValidate(t *testing.T) {
	_, h := newTestServer(t)

	rec := do(h, http.MethodPost, "/validate", "name: ok\npreset: whale_watcher\n")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"ok":true`)

	body := `{"profiles": [{"name": "a", "weights": {"valeu": 1}}, {"name": "b", "preset": "whale_watcher", "thresholds": {"priority": 0.3, "notify": 0.6}}]}`
	rec = do(h, http.MethodPost, "/validate", body)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "valeu")
	assert.Contains(t, rec.Body.String(), "threshold_order")

	rec = do(h, http.MethodPost, "/validate", `[{"name": "x", "preset": "whale_watcher"}]`)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodPost, "/validate", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodPost, "/validate", "42").Code)
}

func TestReloadStatic(t *testing.T) {
	_, h := newTestServer(t)
	rec := do(h, http.MethodPost, "/admin/reload", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "hunter")
}
