package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Pruner enforces the retention window on a Store.
type Pruner struct {
	store     Store
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

func NewPruner(store Store, retention time.Duration, logger *slog.Logger) *Pruner {
	return &Pruner{store: store, retention: retention, logger: logger, now: time.Now}
}

// Run deletes everything older than the retention window once.
func (p *Pruner) Run(ctx context.Context) (int64, error) {
	if p.store == nil || p.retention <= 0 {
		return 0, nil
	}
	cutoff := p.now().UTC().Add(-p.retention)
	n, err := p.store.Prune(ctx, cutoff)
	if err != nil {
		return n, err
	}
	if p.logger != nil && n > 0 {
		p.logger.Info("decision log pruned", "rows", n, "before", cutoff)
	}
	return n, nil
}

// Schedule runs the prune job, and any extra housekeeping jobs, on a cron
// spec until ctx is done.
func (p *Pruner) Schedule(ctx context.Context, spec string, extra ...func()) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		runCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		if _, err := p.Run(runCtx); err != nil && p.logger != nil {
			p.logger.Warn("decision log prune failed", "err", err)
		}
		for _, fn := range extra {
			fn()
		}
	})
	if err != nil {
		return nil, fmt.Errorf("prune schedule %q: %w", spec, err)
	}
	c.Start()
	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	if p.logger != nil {
		p.logger.Info("retention schedule started", "schedule", spec, "retention", p.retention.String())
	}
	return c, nil
}
