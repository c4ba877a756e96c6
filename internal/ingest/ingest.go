// Package ingest feeds killmails from the configured sources into the
// evaluation channel.
package ingest

import (
	"bytes"
	"context"
	"log/slog"
	"time"

	"killsense/internal/model"
	"killsense/internal/normalize"
)

// SendNonBlocking drops the event rather than stall a reader when the
// pipeline is behind.
func SendNonBlocking(ctx context.Context, out chan<- *model.Event, ev *model.Event, logger *slog.Logger) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	default:
		if logger != nil {
			logger.Warn("event channel full, dropping event", "kill_id", ev.KillID, "source", ev.Source)
		}
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// decodeLine is shared by the line-oriented sources. Blank lines are
// skipped silently.
func decodeLine(ctx context.Context, dec *normalize.Decoder, line []byte, source string, out chan<- *model.Event, logger *slog.Logger) bool {
	if len(bytes.TrimSpace(line)) == 0 {
		return false
	}
	ev, err := dec.Decode(line)
	if err != nil {
		if logger != nil {
			logger.Warn("killmail decode error", "source", source, "err", err)
		}
		return false
	}
	ev.Source = source
	return SendNonBlocking(ctx, out, ev, logger)
}
