package signals

import (
	"fmt"
	"time"

	"killsense/internal/model"
)

type hourWindow struct {
	Start int
	End   int
	Score float64
}

// contains treats End as exclusive and wraps past midnight when Start > End.
func (w hourWindow) contains(hour int) bool {
	if w.Start == w.End {
		return true
	}
	if w.Start < w.End {
		return hour >= w.Start && hour < w.End
	}
	return hour >= w.Start || hour < w.End
}

// TimeOfDay matches the event hour against configured windows. Without an
// event timestamp it falls back to the context clock.
type TimeOfDay struct{}

func (*TimeOfDay) Name() string          { return "time" }
func (*TimeOfDay) Category() string      { return CategoryTime }
func (*TimeOfDay) PrefetchCapable() bool { return true }

func (t *TimeOfDay) Score(ev *model.Event, _ int64, in Input) (model.SignalScore, error) {
	windows, errs := parseWindows(in.Params.List("windows"))
	if len(errs) > 0 {
		return model.SignalScore{}, fmt.Errorf("time: %s", errs[0])
	}
	ts := in.Now()
	source := "now"
	if ev != nil && !ev.Timestamp.IsZero() {
		ts = ev.Timestamp
		source = "event"
	}
	if tz := in.Params.String("timezone", ""); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return model.SignalScore{}, fmt.Errorf("time: %w", err)
		}
		ts = ts.In(loc)
	} else {
		ts = ts.UTC()
	}
	hour := ts.Hour()
	best := -1.0
	for _, w := range windows {
		if w.contains(hour) && w.Score > best {
			best = w.Score
		}
	}
	if best < 0 {
		def := in.Params.Float("default", 0)
		return model.NewSignalScore(t.Name(), def, true, fmt.Sprintf("%02d:00 (%s) outside windows", hour, source)).WithRaw(hour), nil
	}
	return model.NewSignalScore(t.Name(), best, true, fmt.Sprintf("%02d:00 (%s) in window", hour, source)).WithRaw(hour), nil
}

func parseWindows(raw []any) ([]hourWindow, []string) {
	var out []hourWindow
	var errs []string
	for i, item := range raw {
		m, ok := toMap(item)
		if !ok {
			errs = append(errs, errParam("windows", "entry %d is not a mapping", i))
			continue
		}
		start, ok1 := model.ToFloat(m["start"])
		end, ok2 := model.ToFloat(m["end"])
		if !ok1 || !ok2 {
			errs = append(errs, errParam("windows", "entry %d needs numeric start and end", i))
			continue
		}
		if start < 0 || start > 23 || end < 0 || end > 24 {
			errs = append(errs, errParam("windows", "entry %d hours out of range", i))
			continue
		}
		score := 1.0
		if v, ok := m["score"]; ok {
			score, ok = model.ToFloat(v)
			if !ok || score < 0 || score > 1 {
				errs = append(errs, errParam("windows", "entry %d score must be in [0, 1]", i))
				continue
			}
		}
		out = append(out, hourWindow{Start: int(start), End: int(end) % 24, Score: score})
	}
	return out, errs
}

func (*TimeOfDay) Validate(params Params) []string {
	var errs []string
	raw := params.List("windows")
	if len(raw) == 0 {
		errs = append(errs, errParam("windows", "at least one window is required"))
	}
	_, werrs := parseWindows(raw)
	errs = append(errs, werrs...)
	if tz := params.String("timezone", ""); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, errParam("timezone", "%v", err))
		}
	}
	return errs
}
