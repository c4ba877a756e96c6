package model

import (
	"fmt"
	"time"
)

const (
	DefaultPriorityThreshold = 0.85
	DefaultNotifyThreshold   = 0.60
	DefaultDigestThreshold   = 0.40
	DefaultUnknownAssumption = 1.0
)

// Profile is one notification profile as loaded from configuration. It is
// treated as read-only once an engine has been built from it.
type Profile struct {
	Name       string                             `json:"name" yaml:"name"`
	Engine     string                             `json:"engine,omitempty" yaml:"engine,omitempty"`
	Mode       AggregationMode                    `json:"mode,omitempty" yaml:"mode,omitempty"`
	Preset     string                             `json:"preset,omitempty" yaml:"preset,omitempty"`
	Customize  map[string]string                  `json:"customize,omitempty" yaml:"customize,omitempty"`
	Weights    map[string]float64                 `json:"weights,omitempty" yaml:"weights,omitempty"`
	Signals    map[string]map[string]SignalConfig `json:"signals,omitempty" yaml:"signals,omitempty"`
	Rules      RulesConfig                        `json:"rules,omitempty" yaml:"rules,omitempty"`
	Thresholds ThresholdsConfig                   `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
	Prefetch   PrefetchConfig                     `json:"prefetch,omitempty" yaml:"prefetch,omitempty"`
	RateLimit  RateLimitConfig                    `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
	Delivery   []DeliveryConfig                   `json:"delivery,omitempty" yaml:"delivery,omitempty"`
	Features   Features                           `json:"features,omitempty" yaml:"features,omitempty"`
}

// SignalConfig holds the parameters of one signal. The "weight" key is the
// signal's weight inside its category; everything else is provider-specific.
type SignalConfig map[string]any

func (c SignalConfig) Weight() float64 {
	if c == nil {
		return 1.0
	}
	v, ok := c["weight"]
	if !ok {
		return 1.0
	}
	f, ok := ToFloat(v)
	if !ok || f < 0 {
		return 0
	}
	return f
}

func (c SignalConfig) Enabled() bool {
	if c == nil {
		return true
	}
	if v, ok := c["enabled"].(bool); ok {
		return v
	}
	return true
}

type ThresholdsConfig struct {
	Priority *float64 `json:"priority,omitempty" yaml:"priority,omitempty"`
	Notify   *float64 `json:"notify,omitempty" yaml:"notify,omitempty"`
	Digest   *float64 `json:"digest,omitempty" yaml:"digest,omitempty"`
}

type Thresholds struct {
	Priority float64 `json:"priority"`
	Notify   float64 `json:"notify"`
	Digest   float64 `json:"digest"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		Priority: DefaultPriorityThreshold,
		Notify:   DefaultNotifyThreshold,
		Digest:   DefaultDigestThreshold,
	}
}

func (c ThresholdsConfig) Resolve() Thresholds {
	t := DefaultThresholds()
	if c.Priority != nil {
		t.Priority = *c.Priority
	}
	if c.Notify != nil {
		t.Notify = *c.Notify
	}
	if c.Digest != nil {
		t.Digest = *c.Digest
	}
	return t
}

// TierFor maps an interest value onto a tier.
func (t Thresholds) TierFor(interest float64) Tier {
	switch {
	case interest >= t.Priority:
		return TierPriority
	case interest >= t.Notify:
		return TierNotify
	case interest >= t.Digest:
		return TierDigest
	case interest > 0:
		return TierLogOnly
	default:
		return TierFilter
	}
}

type RulesConfig struct {
	AlwaysNotify []string              `json:"always_notify,omitempty" yaml:"always_notify,omitempty"`
	AlwaysIgnore []string              `json:"always_ignore,omitempty" yaml:"always_ignore,omitempty"`
	RequireAll   []string              `json:"require_all,omitempty" yaml:"require_all,omitempty"`
	RequireAny   []string              `json:"require_any,omitempty" yaml:"require_any,omitempty"`
	Custom       map[string]CustomRule `json:"custom,omitempty" yaml:"custom,omitempty"`
}

func (r RulesConfig) HasGates() bool {
	return len(r.RequireAll) > 0 || len(r.RequireAny) > 0
}

type CustomRule struct {
	Description     string      `json:"description,omitempty" yaml:"description,omitempty"`
	Match           string      `json:"match,omitempty" yaml:"match,omitempty"`
	Conditions      []Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Expression      string      `json:"expression,omitempty" yaml:"expression,omitempty"`
	PrefetchCapable bool        `json:"prefetch_capable,omitempty" yaml:"prefetch_capable,omitempty"`
}

type Condition struct {
	Field string `json:"field" yaml:"field"`
	Op    string `json:"op" yaml:"op"`
	Value any    `json:"value" yaml:"value"`
}

type PrefetchConfig struct {
	Mode              PrefetchMode `json:"mode,omitempty" yaml:"mode,omitempty"`
	Threshold         *float64     `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	UnknownAssumption *float64     `json:"unknown_assumption,omitempty" yaml:"unknown_assumption,omitempty"`
}

func (p PrefetchConfig) Unknown() float64 {
	if p.UnknownAssumption == nil {
		return DefaultUnknownAssumption
	}
	return *p.UnknownAssumption
}

type RateLimitConfig struct {
	MaxPerWindow int           `json:"max_per_window,omitempty" yaml:"max_per_window,omitempty"`
	Window       time.Duration `json:"window,omitempty" yaml:"window,omitempty"`
	Cooldown     time.Duration `json:"cooldown,omitempty" yaml:"cooldown,omitempty"`
}

type DeliveryConfig struct {
	Provider string            `json:"provider" yaml:"provider"`
	MinTier  Tier              `json:"min_tier,omitempty" yaml:"min_tier,omitempty"`
	URL      string            `json:"url,omitempty" yaml:"url,omitempty"`
	Headers  map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Brokers  []string          `json:"brokers,omitempty" yaml:"brokers,omitempty"`
	Topic    string            `json:"topic,omitempty" yaml:"topic,omitempty"`
	Timeout  time.Duration     `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

type Features struct {
	RuleExpressions bool `json:"rule_expressions,omitempty" yaml:"rule_expressions,omitempty"`
	CustomSignals   bool `json:"custom_signals,omitempty" yaml:"custom_signals,omitempty"`
}

// ToFloat accepts the numeric shapes produced by the JSON and YAML decoders.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case uint:
		return float64(n), true
	case string:
		var f float64
		if _, err := fmt.Sscanf(n, "%g", &f); err == nil {
			return f, true
		}
	}
	return 0, false
}
