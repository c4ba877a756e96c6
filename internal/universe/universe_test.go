package universe

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"killsense/internal/config"
)

func chain() *Map {
	return New(config.UniverseConfig{
		Security: map[int64]float64{1: 0.9, 4: -0.3},
		Gates: map[int64][]int64{
			1: {2},
			2: {3},
			3: {4},
			9: {10},
		},
		MaxJumps: 3,
	})
}

func TestDistance(t *testing.T) {
	m := chain()
	cases := []struct {
		from, to int64
		want     int
		ok       bool
	}{
		{1, 1, 0, true},
		{1, 2, 1, true},
		{4, 1, 3, true},
		{1, 4, 3, true},
		{1, 9, 0, false},
		{5, 6, 0, false},
	}
	for _, c := range cases {
		d, ok := m.Distance(c.from, c.to)
		assert.Equal(t, c.ok, ok, "%d->%d", c.from, c.to)
		if c.ok {
			assert.Equal(t, c.want, d, "%d->%d", c.from, c.to)
		}
	}
	d, ok := m.Distance(4, 1)
	assert.True(t, ok)
	assert.Equal(t, 3, d)
}

func TestMaxJumps(t *testing.T) {
	m := New(config.UniverseConfig{Gates: map[int64][]int64{1: {2}, 2: {3}, 3: {4}}, MaxJumps: 2})
	_, ok := m.Distance(1, 4)
	assert.False(t, ok)
	d, ok := m.Distance(1, 3)
	assert.True(t, ok)
	assert.Equal(t, 2, d)
}

func TestSecurity(t *testing.T) {
	m := chain()
	v, ok := m.Security(4)
	assert.True(t, ok)
	assert.InDelta(t, -0.3, v, 1e-9)
	_, ok = m.Security(2)
	assert.False(t, ok)

	var nilMap *Map
	_, ok = nilMap.Security(1)
	assert.False(t, ok)
}
