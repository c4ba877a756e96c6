package scaling

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSigmoidEndpointsAndPivot(t *testing.T) {
	s := NewSigmoid(map[string]any{"min": 0.0, "max": 200.0, "pivot": 100.0, "steepness": 8.0})
	require.Empty(t, s.Validate())

	assert.Equal(t, 0.0, s.Apply(-5))
	assert.Equal(t, 0.0, s.Apply(0))
	assert.Equal(t, 1.0, s.Apply(200))
	assert.Equal(t, 1.0, s.Apply(1e12))
	assert.InDelta(t, 0.5, s.Apply(100), 1e-9)
	assert.Less(t, s.Apply(50), s.Apply(150))
}

func TestSigmoidValidate(t *testing.T) {
	s := NewSigmoid(map[string]any{"min": 10, "max": 5, "steepness": -1})
	errs := s.Validate()
	assert.Len(t, errs, 3)
}

func TestLinear(t *testing.T) {
	l := NewLinear(map[string]any{"min": 10, "max": 20})
	assert.Equal(t, 0.0, l.Apply(5))
	assert.InDelta(t, 0.5, l.Apply(15), 1e-9)
	assert.Equal(t, 1.0, l.Apply(25))

	inv := NewLinear(map[string]any{"min": 10, "max": 20, "invert": true})
	assert.Equal(t, 1.0, inv.Apply(5))
	assert.InDelta(t, 0.25, inv.Apply(17.5), 1e-9)
}

func TestLogNearZero(t *testing.T) {
	l := NewLog(map[string]any{"min": 0, "max": 1e10})
	require.Empty(t, l.Validate())
	assert.Equal(t, 0.0, l.Apply(0))
	small := l.Apply(1e-12)
	assert.False(t, math.IsNaN(small))
	assert.GreaterOrEqual(t, small, 0.0)
	assert.InDelta(t, math.Log1p(1e5)/math.Log1p(1e10), l.Apply(1e5), 1e-12)
	assert.Equal(t, 1.0, l.Apply(2e10))
}

func TestStepFirstMatchWins(t *testing.T) {
	f, err := New(KindStep, map[string]any{
		"steps": []any{
			map[string]any{"below": 10, "score": 0.1},
			map[string]any{"below": 100, "score": 0.5},
			map[string]any{"default": 0.9},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 0.1, f.Apply(5))
	assert.Equal(t, 0.5, f.Apply(10))
	assert.Equal(t, 0.5, f.Apply(99))
	assert.Equal(t, 0.9, f.Apply(1000))
}

func TestStepRejectsUnordered(t *testing.T) {
	_, err := New(KindStep, map[string]any{
		"steps": []any{
			map[string]any{"below": 100, "score": 0.5},
			map[string]any{"below": 10, "score": 0.1},
		},
	})
	require.Error(t, err)
}

func TestStepWithoutDefaultFallsToZero(t *testing.T) {
	f, err := New(KindStep, map[string]any{
		"steps": []any{map[string]any{"below": 1, "score": 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, 0.0, f.Apply(2))
}

func TestInverseFloor(t *testing.T) {
	v := NewInverse(map[string]any{"base": 5, "floor": 0.2})
	assert.Equal(t, 1.0, v.Apply(0))
	assert.InDelta(t, 0.5, v.Apply(5), 1e-9)
	assert.Equal(t, 0.2, v.Apply(1000))
}

func TestNewUnknownKind(t *testing.T) {
	_, err := New("cubic", nil)
	require.Error(t, err)
}

func TestOutputsAlwaysClamped(t *testing.T) {
	inputs := []float64{-1e9, -1, 0, 0.5, 1, 3, 1e9, math.Inf(1)}
	for kind, b := range Builders() {
		params := map[string]any{"min": 0, "max": 10}
		if kind == KindStep {
			params["steps"] = []any{map[string]any{"below": 5, "score": 0.4}}
		}
		f, err := b(params)
		require.NoError(t, err, kind)
		for _, x := range inputs {
			v := f.Apply(x)
			assert.GreaterOrEqual(t, v, 0.0, kind)
			assert.LessOrEqual(t, v, 1.0, kind)
		}
	}
}
