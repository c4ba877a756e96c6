package model

import "time"

type Victim struct {
	CharacterID   int64  `json:"character_id,omitempty"`
	CorporationID int64  `json:"corporation_id,omitempty"`
	AllianceID    int64  `json:"alliance_id,omitempty"`
	ShipTypeID    int64  `json:"ship_type_id,omitempty"`
	ShipGroupID   int64  `json:"ship_group_id,omitempty"`
	ShipClass     string `json:"ship_class,omitempty"`
}

type Attacker struct {
	CharacterID   int64 `json:"character_id,omitempty"`
	CorporationID int64 `json:"corporation_id,omitempty"`
	AllianceID    int64 `json:"alliance_id,omitempty"`
	ShipTypeID    int64 `json:"ship_type_id,omitempty"`
	FinalBlow     bool  `json:"final_blow,omitempty"`
}

// Event is a single kill as seen by the engine. It is never mutated after
// construction; providers and rules only read it.
type Event struct {
	KillID        int64      `json:"kill_id"`
	Hash          string     `json:"hash,omitempty"`
	LocationID    int64      `json:"location_id"`
	Timestamp     time.Time  `json:"timestamp"`
	Victim        Victim     `json:"victim"`
	Attackers     []Attacker `json:"attackers,omitempty"`
	AttackerCount int        `json:"attacker_count,omitempty"`
	TotalValue    float64    `json:"total_value"`
	IsPod         bool       `json:"is_pod,omitempty"`
	NPC           bool       `json:"npc,omitempty"`
	Solo          bool       `json:"solo,omitempty"`
	Source        string     `json:"source,omitempty"`
}

func (e *Event) VictimShipClass() string {
	if e == nil {
		return ""
	}
	if e.Victim.ShipClass != "" {
		return e.Victim.ShipClass
	}
	if e.IsPod {
		return ShipClassCapsule
	}
	return ShipClassForGroup(e.Victim.ShipGroupID)
}

func (e *Event) FinalBlow() (Attacker, bool) {
	if e == nil {
		return Attacker{}, false
	}
	for _, a := range e.Attackers {
		if a.FinalBlow {
			return a, true
		}
	}
	return Attacker{}, false
}

// AttackerTotal prefers the explicit count (killmails can be truncated) and
// falls back to the attacker list length.
func (e *Event) AttackerTotal() int {
	if e == nil {
		return 0
	}
	if e.AttackerCount > 0 {
		return e.AttackerCount
	}
	return len(e.Attackers)
}

func (e *Event) IsSolo() bool {
	if e == nil {
		return false
	}
	return e.Solo || e.AttackerTotal() == 1
}

// IsNPCCorporation uses the reserved NPC corporation id range. This is an
// id-range heuristic, not a verified flag.
func IsNPCCorporation(id int64) bool {
	return id >= 1000000 && id < 2000000
}

// AllNPC reports whether every attacker belongs to an NPC corporation.
func (e *Event) AllNPC() bool {
	if e == nil {
		return false
	}
	if e.NPC {
		return true
	}
	if len(e.Attackers) == 0 {
		return false
	}
	for _, a := range e.Attackers {
		if a.CorporationID == 0 {
			if a.CharacterID != 0 {
				return false
			}
			continue
		}
		if !IsNPCCorporation(a.CorporationID) {
			return false
		}
	}
	return true
}
