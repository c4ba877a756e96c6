package delivery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"killsense/internal/model"
)

func result() *model.InterestResult {
	return &model.InterestResult{
		Profile:    "home",
		KillID:     42,
		LocationID: 30002537,
		Interest:   0.91,
		Tier:       model.TierPriority,
		Categories: map[string]model.CategoryScore{
			"value": {Category: "value", Score: 0.91, Weight: 1, PenaltyFactor: 1, Configured: []string{"value"}},
		},
		AlwaysNotify: []model.RuleMatch{{RuleID: "capital_kill", Matched: true}},
		EvaluatedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestRender(t *testing.T) {
	ev := &model.Event{KillID: 42, TotalValue: 3e9, Victim: model.Victim{ShipGroupID: 485}, AttackerCount: 30}
	p := Render(result(), ev)
	assert.Equal(t, "[PRIORITY] kill 42 (0.91)", p.Title)
	assert.Equal(t, "priority", p.Tier)
	assert.Equal(t, "capital", p.Fields["ship_class"])
	assert.Equal(t, "30", p.Fields["attackers"])
	assert.Equal(t, "capital_kill", p.Fields["rules"])
	assert.Contains(t, p.Body, "value: 0.91")
}

func TestWebhookPostsJSON(t *testing.T) {
	var got Payload
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cfg := model.DeliveryConfig{Provider: ProviderWebhook, URL: srv.URL, Headers: map[string]string{"Authorization": "Bearer x"}}
	ok := NewWebhook(nil).Deliver(context.Background(), result(), Render(result(), nil), cfg)
	require.True(t, ok)
	assert.Equal(t, int64(42), got.KillID)
	assert.Equal(t, "Bearer x", auth)
}

func TestWebhookFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	wh := NewWebhook(nil)
	assert.False(t, wh.Deliver(context.Background(), result(), Payload{}, model.DeliveryConfig{URL: srv.URL}))
	assert.False(t, wh.Deliver(context.Background(), result(), Payload{}, model.DeliveryConfig{}))
}

func TestKafkaNeedsTopic(t *testing.T) {
	k := NewKafka(nil)
	assert.False(t, k.Deliver(context.Background(), result(), Payload{}, model.DeliveryConfig{Brokers: []string{"localhost:9092"}}))
	assert.NoError(t, k.Close())
}

func TestLogAlwaysSucceeds(t *testing.T) {
	assert.True(t, NewLog(nil).Deliver(context.Background(), result(), Payload{}, model.DeliveryConfig{}))
}
