package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const esiKill = `{
  "killmail_id": 128000001,
  "killmail_time": "2026-03-01T18:22:05Z",
  "solar_system_id": 30002537,
  "victim": {"character_id": 9001, "corporation_id": 98000001, "alliance_id": 99000001, "ship_type_id": 24690},
  "attackers": [
    {"character_id": 9100, "corporation_id": 98000002, "ship_type_id": 17738, "final_blow": true},
    {"corporation_id": 1000125}
  ],
  "zkb": {"locationID": 40161, "hash": "abc", "totalValue": 412000000.5, "npc": false, "solo": false}
}`

func TestDecodeESIWithZkb(t *testing.T) {
	d := NewDecoder(map[int64]int64{24690: 27})
	ev, err := d.Decode([]byte(esiKill))
	require.NoError(t, err)

	assert.Equal(t, int64(128000001), ev.KillID)
	assert.Equal(t, int64(30002537), ev.LocationID)
	assert.Equal(t, time.Date(2026, 3, 1, 18, 22, 5, 0, time.UTC), ev.Timestamp)
	assert.Equal(t, int64(27), ev.Victim.ShipGroupID)
	assert.Equal(t, "battleship", ev.VictimShipClass())
	assert.Equal(t, 2, ev.AttackerTotal())
	assert.InDelta(t, 412000000.5, ev.TotalValue, 1e-6)
	assert.Equal(t, "abc", ev.Hash)
	assert.Equal(t, "zkb", ev.Source)
	fb, ok := ev.FinalBlow()
	require.True(t, ok)
	assert.Equal(t, int64(9100), fb.CharacterID)
}

func TestDecodeRedisQPackage(t *testing.T) {
	raw := `{"package": {"killID": 77, "killmail": {"killmail_time": "2026.03.01 18:22", "solar_system_id": 30000142,
	  "victim": {"ship_type_id": 670}, "attackers": [{"character_id": 1}]},
	  "zkb": {"destroyedValue": 1000, "droppedValue": 500, "solo": true}}}`
	ev, err := NewDecoder(nil).Decode([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, int64(77), ev.KillID)
	assert.True(t, ev.IsPod)
	assert.True(t, ev.Solo)
	assert.InDelta(t, 1500, ev.TotalValue, 1e-9)
	assert.Equal(t, time.Date(2026, 3, 1, 18, 22, 0, 0, time.UTC), ev.Timestamp)
}

func TestDecodeNativeEvent(t *testing.T) {
	raw := `{"kill_id": 5, "location_id": 30000142, "timestamp": "2026-03-01T10:00:00+02:00",
	  "victim": {"ship_group_id": 29}, "total_value": 12.5}`
	ev, err := NewDecoder(nil).Decode([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, int64(5), ev.KillID)
	assert.True(t, ev.IsPod)
	assert.Equal(t, time.UTC, ev.Timestamp.Location())
	assert.Equal(t, 8, ev.Timestamp.Hour())
	assert.Equal(t, "event", ev.Source)
}

func TestDecodeRejects(t *testing.T) {
	d := NewDecoder(nil)
	cases := map[string]string{
		"empty":       "   ",
		"not json":    "kill 5 happened",
		"no id":       `{"solar_system_id": 1}`,
		"no location": `{"killmail_id": 3}`,
		"bad time":    `{"killmail_id": 3, "solar_system_id": 1, "killmail_time": "yesterday"}`,
		"empty pkg":   `{"package": null}`,
	}
	for name, raw := range cases {
		_, err := d.Decode([]byte(raw))
		assert.Error(t, err, name)
	}
}

func TestDecodeMissingTimestampUsesClock(t *testing.T) {
	d := NewDecoder(nil)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	d.now = func() time.Time { return fixed }
	ev, err := d.Decode([]byte(`{"killmail_id": 3, "solar_system_id": 1}`))
	require.NoError(t, err)
	assert.Equal(t, fixed, ev.Timestamp)
	assert.Equal(t, "esi", ev.Source)
}

func TestDecodeMany(t *testing.T) {
	d := NewDecoder(nil)
	evs, failed, err := d.DecodeMany([]byte(`[{"kill_id": 1, "location_id": 2}, {"kill_id": 0}, ` + esiKill + `]`))
	require.NoError(t, err)
	assert.Equal(t, 1, failed)
	require.Len(t, evs, 2)
	assert.Equal(t, int64(128000001), evs[1].KillID)

	evs, failed, err = d.DecodeMany([]byte(esiKill))
	require.NoError(t, err)
	assert.Zero(t, failed)
	assert.Len(t, evs, 1)

	_, _, err = d.DecodeMany([]byte(`[1,`))
	assert.Error(t, err)
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2026, 3, 1, 18, 22, 5, 0, time.UTC)
	for _, in := range []string{
		"2026-03-01T18:22:05Z",
		"2026-03-01 18:22:05",
		"2026.03.01 18:22:05",
		"1772389325",
		"1772389325000",
	} {
		got, err := ParseTimestamp(in)
		require.NoError(t, err, in)
		assert.True(t, want.Equal(got), "%s: %s", in, got)
	}
	_, err := ParseTimestamp("")
	assert.Error(t, err)
	_, err = ParseTimestamp("03/01/2026")
	assert.Error(t, err)
}
