package agent

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/agora/internal/provider"
)

// Window is a half-open time-of-day range in seconds since midnight.
type Window struct {
	Start, End int
}

// ParseWindow parses "HH:MM-HH:MM". A window may not wrap past midnight.
func ParseWindow(s string) (Window, error) {
	from, to, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return Window{}, fmt.Errorf("parse window %q: missing '-'", s)
	}
	start, err := clock(from)
	if err != nil {
		return Window{}, fmt.Errorf("parse window %q: %w", s, err)
	}
	end, err := clock(to)
	if err != nil {
		return Window{}, fmt.Errorf("parse window %q: %w", s, err)
	}
	if end <= start {
		return Window{}, fmt.Errorf("parse window %q: end not after start", s)
	}
	return Window{Start: start, End: end}, nil
}

func clock(s string) (int, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("bad clock %q", s)
	}
	hh, err := strconv.Atoi(h)
	if err != nil || hh < 0 || hh > 24 {
		return 0, fmt.Errorf("bad hour %q", h)
	}
	mm, err := strconv.Atoi(m)
	if err != nil || mm < 0 || mm > 59 || (hh == 24 && mm != 0) {
		return 0, fmt.Errorf("bad minute %q", m)
	}
	return hh*3600 + mm*60, nil
}

// Contains reports whether the time of day of t is inside w.
func (w Window) Contains(t time.Time) bool {
	sec := t.Hour()*3600 + t.Minute()*60 + t.Second()
	return w.Start <= sec && sec < w.End
}

// Plan is an agent's set of active windows for one day.
type Plan struct {
	Slots   []string
	windows []Window
}

// NewPlan builds a plan from slot strings, dropping malformed ones.
func NewPlan(slots []string) Plan {
	p := Plan{}
	for _, s := range slots {
		w, err := ParseWindow(s)
		if err != nil {
			continue
		}
		p.Slots = append(p.Slots, s)
		p.windows = append(p.windows, w)
	}
	return p
}

// Active reports whether t falls in any window.
func (p Plan) Active(t time.Time) bool {
	for _, w := range p.windows {
		if w.Contains(t) {
			return true
		}
	}
	return false
}

// MakePlan asks for the active slots of the day containing now. An
// unusable reply yields an empty plan.
func MakePlan(ctx context.Context, c provider.Completer, characteristics string, now time.Time, logger *zap.Logger) Plan {
	resp := c.Complete(ctx, provider.Request{
		System: provider.Render(promptPlanSystem, map[string]string{"characteristics": characteristics}),
		Prompt: provider.Render(promptPlan, map[string]string{"date": now.Format("2006-01-02")}),
	})
	var slots []string
	if err := decodeJSON(resp, &slots); err != nil {
		logger.Debug("plan response unusable", zap.Error(err), zap.String("response", resp))
		return Plan{}
	}
	return NewPlan(slots)
}
