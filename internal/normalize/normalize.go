// Package normalize turns raw killmail documents into model events. It
// accepts ESI killmails with an optional zKillboard block, RedisQ packages
// wrapping the same, and the flat event shape the service itself emits.
package normalize

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"killsense/internal/model"
)

var ErrEmpty = errors.New("empty killmail")

// capsuleTypes are the ship type ids of pods.
var capsuleTypes = map[int64]struct{}{670: {}, 33328: {}}

type Decoder struct {
	// TypeGroups resolves ship type ids to group ids.
	TypeGroups map[int64]int64
	now        func() time.Time
}

func NewDecoder(typeGroups map[int64]int64) *Decoder {
	return &Decoder{TypeGroups: typeGroups, now: func() time.Time { return time.Now().UTC() }}
}

type esiCharacter struct {
	CharacterID   int64 `json:"character_id"`
	CorporationID int64 `json:"corporation_id"`
	AllianceID    int64 `json:"alliance_id"`
	ShipTypeID    int64 `json:"ship_type_id"`
	ShipGroupID   int64 `json:"ship_group_id"`
	FinalBlow     bool  `json:"final_blow"`
}

type zkbBlock struct {
	LocationID     int64   `json:"locationID"`
	Hash           string  `json:"hash"`
	TotalValue     float64 `json:"totalValue"`
	DestroyedValue float64 `json:"destroyedValue"`
	DroppedValue   float64 `json:"droppedValue"`
	NPC            bool    `json:"npc"`
	Solo           bool    `json:"solo"`
}

type killmail struct {
	KillmailID    int64          `json:"killmail_id"`
	KillID        int64          `json:"killID"`
	KillmailTime  string         `json:"killmail_time"`
	SolarSystemID int64          `json:"solar_system_id"`
	Victim        esiCharacter   `json:"victim"`
	Attackers     []esiCharacter `json:"attackers"`
	Zkb           *zkbBlock      `json:"zkb"`
}

type redisQPackage struct {
	Package *struct {
		KillID   int64     `json:"killID"`
		Killmail *killmail `json:"killmail"`
		Zkb      *zkbBlock `json:"zkb"`
	} `json:"package"`
}

// Decode parses one killmail document.
func (d *Decoder) Decode(raw []byte) (*model.Event, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, ErrEmpty
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("decode killmail: %w", err)
	}
	switch {
	case probe["package"] != nil:
		var pkg redisQPackage
		if err := json.Unmarshal(raw, &pkg); err != nil {
			return nil, fmt.Errorf("decode redisq package: %w", err)
		}
		if pkg.Package == nil || pkg.Package.Killmail == nil {
			return nil, ErrEmpty
		}
		km := pkg.Package.Killmail
		if km.Zkb == nil {
			km.Zkb = pkg.Package.Zkb
		}
		if km.KillmailID == 0 {
			km.KillmailID = pkg.Package.KillID
		}
		return d.fromKillmail(km)
	case probe["kill_id"] != nil:
		var ev model.Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		return d.finish(&ev)
	default:
		var km killmail
		if err := json.Unmarshal(raw, &km); err != nil {
			return nil, fmt.Errorf("decode killmail: %w", err)
		}
		return d.fromKillmail(&km)
	}
}

// DecodeMany accepts either one document or a JSON array of them. Elements
// that fail to decode are counted, not fatal.
func (d *Decoder) DecodeMany(raw []byte) ([]*model.Event, int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, 0, ErrEmpty
	}
	if raw[0] != '[' {
		ev, err := d.Decode(raw)
		if err != nil {
			return nil, 1, err
		}
		return []*model.Event{ev}, 0, nil
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, 0, fmt.Errorf("decode killmail list: %w", err)
	}
	out := make([]*model.Event, 0, len(list))
	failed := 0
	for _, item := range list {
		ev, err := d.Decode(item)
		if err != nil {
			failed++
			continue
		}
		out = append(out, ev)
	}
	return out, failed, nil
}

func (d *Decoder) fromKillmail(km *killmail) (*model.Event, error) {
	id := km.KillmailID
	if id == 0 {
		id = km.KillID
	}
	if id == 0 {
		return nil, errors.New("killmail has no id")
	}
	ev := &model.Event{
		KillID:     id,
		LocationID: km.SolarSystemID,
		Victim: model.Victim{
			CharacterID:   km.Victim.CharacterID,
			CorporationID: km.Victim.CorporationID,
			AllianceID:    km.Victim.AllianceID,
			ShipTypeID:    km.Victim.ShipTypeID,
			ShipGroupID:   km.Victim.ShipGroupID,
		},
		AttackerCount: len(km.Attackers),
		Source:        "esi",
	}
	if km.KillmailTime != "" {
		ts, err := ParseTimestamp(km.KillmailTime)
		if err != nil {
			return nil, fmt.Errorf("killmail %d: %w", id, err)
		}
		ev.Timestamp = ts
	}
	ev.Attackers = make([]model.Attacker, 0, len(km.Attackers))
	for _, a := range km.Attackers {
		ev.Attackers = append(ev.Attackers, model.Attacker{
			CharacterID:   a.CharacterID,
			CorporationID: a.CorporationID,
			AllianceID:    a.AllianceID,
			ShipTypeID:    a.ShipTypeID,
			FinalBlow:     a.FinalBlow,
		})
	}
	if z := km.Zkb; z != nil {
		ev.Hash = z.Hash
		ev.NPC = z.NPC
		ev.Solo = z.Solo
		ev.TotalValue = z.TotalValue
		if ev.TotalValue == 0 {
			ev.TotalValue = z.DestroyedValue + z.DroppedValue
		}
		if ev.LocationID == 0 {
			ev.LocationID = z.LocationID
		}
		ev.Source = "zkb"
	}
	return d.finish(ev)
}

func (d *Decoder) finish(ev *model.Event) (*model.Event, error) {
	if ev.KillID == 0 {
		return nil, errors.New("event has no kill id")
	}
	if ev.LocationID == 0 {
		return nil, fmt.Errorf("kill %d has no location", ev.KillID)
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = d.now()
	}
	ev.Timestamp = ev.Timestamp.UTC()
	if ev.Victim.ShipGroupID == 0 && ev.Victim.ShipTypeID != 0 {
		ev.Victim.ShipGroupID = d.TypeGroups[ev.Victim.ShipTypeID]
	}
	if _, ok := capsuleTypes[ev.Victim.ShipTypeID]; ok {
		ev.IsPod = true
	}
	if ev.Victim.ShipGroupID != 0 && model.ShipClassForGroup(ev.Victim.ShipGroupID) == model.ShipClassCapsule {
		ev.IsPod = true
	}
	if ev.TotalValue < 0 {
		ev.TotalValue = 0
	}
	if ev.Source == "" {
		ev.Source = "event"
	}
	return ev, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006.01.02 15:04:05",
	"2006.01.02 15:04",
}

// ParseTimestamp accepts RFC 3339, the in-game "2006.01.02 15:04" form and
// unix seconds or milliseconds. Zoneless forms are read as UTC, which is
// EVE time.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

func parseUnix(value string) (time.Time, error) {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	if len(value) >= 13 {
		return time.UnixMilli(n).UTC(), nil
	}
	return time.Unix(n, 0).UTC(), nil
}
