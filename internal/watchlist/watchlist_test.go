package watchlist

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"killsense/internal/config"
	"killsense/internal/model"
	"killsense/internal/signals"
)

func TestBuildAndInvolved(t *testing.T) {
	s := Build(config.WatchlistsConfig{
		Groups: map[string]config.EntityList{
			"friends": {Alliances: []int64{99}},
			"reds":    {Corporations: []int64{500, 0, -3}},
			"empty":   {Characters: []int64{0}},
			" ":       {Characters: []int64{1}},
		},
		WarTargets: config.EntityList{Characters: []int64{42}},
		Standings:  map[int64]float64{500: -25, 99: 7.5, 0: 10},
	})
	assert.Equal(t, []string{"friends", "reds"}, s.Names())
	assert.False(t, s.WarTargets.Empty())
	assert.Equal(t, map[int64]float64{500: -10, 99: 7.5}, s.Standings)

	ev := &model.Event{
		Victim:    model.Victim{AllianceID: 99},
		Attackers: []model.Attacker{{CorporationID: 500}},
	}
	assert.Equal(t, []string{"friends", "reds"}, s.Involved(ev))

	ctx := &signals.EvalContext{}
	s.Apply(ctx)
	assert.Len(t, ctx.Groups, 2)
	assert.True(t, ctx.WarTargets.Contains(42, 0, 0))
}

func TestEmptyConfig(t *testing.T) {
	s := Build(config.WatchlistsConfig{})
	assert.Nil(t, s.Groups)
	assert.Nil(t, s.Standings)
	assert.True(t, s.WarTargets.Empty())
	assert.Empty(t, s.Involved(&model.Event{}))
}
