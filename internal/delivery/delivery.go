// Package delivery renders results into payloads and hands them to the
// configured channels.
package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"killsense/internal/model"
)

const (
	ProviderLog     = "log"
	ProviderWebhook = "webhook"
	ProviderKafka   = "kafka"

	defaultTimeout = 5 * time.Second
)

// Provider delivers one result. Deliver reports success; failures are
// logged by the provider and never retried here.
type Provider interface {
	Name() string
	Deliver(ctx context.Context, result *model.InterestResult, payload Payload, cfg model.DeliveryConfig) bool
}

// Factory builds a provider instance.
type Factory func() Provider

type Payload struct {
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Tier      string            `json:"tier"`
	KillID    int64             `json:"kill_id"`
	Location  int64             `json:"location_id"`
	Interest  float64           `json:"interest"`
	Profile   string            `json:"profile"`
	Fields    map[string]string `json:"fields,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Render builds the default payload for a result.
func Render(r *model.InterestResult, ev *model.Event) Payload {
	p := Payload{
		Title:     fmt.Sprintf("[%s] kill %d (%.2f)", strings.ToUpper(r.Tier.String()), r.KillID, r.Interest),
		Body:      strings.Join(r.Breakdown(), "\n"),
		Tier:      r.Tier.String(),
		KillID:    r.KillID,
		Location:  r.LocationID,
		Interest:  r.Interest,
		Profile:   r.Profile,
		Timestamp: r.EvaluatedAt,
		Fields:    map[string]string{},
	}
	if ev != nil {
		if class := ev.VictimShipClass(); class != "" {
			p.Fields["ship_class"] = class
		}
		p.Fields["value"] = fmt.Sprintf("%.0f", ev.TotalValue)
		p.Fields["attackers"] = fmt.Sprint(ev.AttackerTotal())
		if !ev.Timestamp.IsZero() {
			p.Timestamp = ev.Timestamp
		}
	}
	if ids := r.MatchedNotify(); len(ids) > 0 {
		sort.Strings(ids)
		p.Fields["rules"] = strings.Join(ids, ",")
	}
	return p
}

// Builtins returns factories for the built-in providers.
func Builtins() map[string]Factory {
	return BuiltinsWithLogger(nil)
}

// BuiltinsWithLogger is Builtins with every provider logging to logger.
func BuiltinsWithLogger(logger *slog.Logger) map[string]Factory {
	return map[string]Factory{
		ProviderLog:     func() Provider { return NewLog(logger) },
		ProviderWebhook: func() Provider { return NewWebhook(logger) },
		ProviderKafka:   func() Provider { return NewKafka(logger) },
	}
}

func timeout(cfg model.DeliveryConfig) time.Duration {
	if cfg.Timeout > 0 {
		return cfg.Timeout
	}
	return defaultTimeout
}
