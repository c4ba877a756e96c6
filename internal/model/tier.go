package model

import (
	"fmt"
	"strings"
)

type Tier int

const (
	TierFilter Tier = iota
	TierLogOnly
	TierDigest
	TierNotify
	TierPriority
)

var tierNames = [...]string{"filter", "log_only", "digest", "notify", "priority"}

func (t Tier) String() string {
	if t < TierFilter || t > TierPriority {
		return fmt.Sprintf("tier(%d)", int(t))
	}
	return tierNames[t]
}

func ParseTier(s string) (Tier, error) {
	n := strings.ToLower(strings.TrimSpace(s))
	n = strings.ReplaceAll(n, "-", "_")
	for i, name := range tierNames {
		if n == name {
			return Tier(i), nil
		}
	}
	if n == "log" {
		return TierLogOnly, nil
	}
	return TierFilter, fmt.Errorf("unknown tier %q", s)
}

func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Tier) UnmarshalText(b []byte) error {
	v, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

type AggregationMode string

const (
	ModeWeighted AggregationMode = "weighted"
	ModeLinear   AggregationMode = "linear"
	ModeMax      AggregationMode = "max"
)

func (m AggregationMode) Valid() bool {
	switch m {
	case ModeWeighted, ModeLinear, ModeMax:
		return true
	}
	return false
}

// OrDefault maps the empty mode (and the "rms" alias) to weighted.
func (m AggregationMode) OrDefault() AggregationMode {
	switch strings.ToLower(string(m)) {
	case "", "rms", string(ModeWeighted):
		return ModeWeighted
	}
	return AggregationMode(strings.ToLower(string(m)))
}

type PrefetchMode string

const (
	PrefetchAuto         PrefetchMode = "auto"
	PrefetchStrict       PrefetchMode = "strict"
	PrefetchConservative PrefetchMode = "conservative"
	PrefetchBypass       PrefetchMode = "bypass"
)

func (m PrefetchMode) Valid() bool {
	switch m {
	case PrefetchAuto, PrefetchStrict, PrefetchConservative, PrefetchBypass:
		return true
	}
	return false
}

func (m PrefetchMode) OrDefault() PrefetchMode {
	if m == "" {
		return PrefetchAuto
	}
	return PrefetchMode(strings.ToLower(string(m)))
}
