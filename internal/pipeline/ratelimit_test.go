package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"killsense/internal/model"
)

func TestLimiterWindow(t *testing.T) {
	l := newLimiter(model.RateLimitConfig{MaxPerWindow: 2, Window: time.Minute})
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ok, _ := l.Allow(1, base)
	assert.True(t, ok)
	ok, _ = l.Allow(2, base.Add(10*time.Second))
	assert.True(t, ok)
	ok, reason := l.Allow(3, base.Add(20*time.Second))
	assert.False(t, ok)
	assert.Contains(t, reason, "notifications within")
	ok, _ = l.Allow(3, base.Add(61*time.Second))
	assert.True(t, ok)
}

func TestLimiterCooldown(t *testing.T) {
	l := newLimiter(model.RateLimitConfig{Cooldown: 5 * time.Minute})
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ok, _ := l.Allow(30000142, base)
	assert.True(t, ok)
	ok, reason := l.Allow(30000142, base.Add(time.Minute))
	assert.False(t, ok)
	assert.Contains(t, reason, "cooldown")
	ok, _ = l.Allow(30002187, base.Add(time.Minute))
	assert.True(t, ok)
	ok, _ = l.Allow(30000142, base.Add(5*time.Minute))
	assert.True(t, ok)
}

func TestLimiterUnlimited(t *testing.T) {
	l := newLimiter(model.RateLimitConfig{})
	now := time.Now()
	for i := 0; i < 100; i++ {
		ok, _ := l.Allow(1, now)
		assert.True(t, ok)
	}
	l.configure(model.RateLimitConfig{MaxPerWindow: 1, Window: time.Hour})
	ok, _ := l.Allow(1, now)
	assert.True(t, ok)
	ok, _ = l.Allow(1, now)
	assert.False(t, ok)
}
