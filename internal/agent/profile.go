package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nidhogg/agora/internal/act"
	"github.com/nidhogg/agora/internal/provider"
	"github.com/nidhogg/agora/internal/timeutil"
)

const (
	portraitPerBucket = 20
	portraitMaxActs   = 100
)

// Profile holds the characteristics summary. Once set it is reused.
type Profile struct {
	Characteristics string `json:"characteristics"`
}

// Portrait returns the cached characteristics, or derives and caches them
// from history over [begin, end) bucketed by iv.
func (p *Profile) Portrait(ctx context.Context, c provider.Completer, history []act.Act, begin, end time.Time, iv timeutil.Interval) string {
	if p.Characteristics != "" {
		return p.Characteristics
	}
	p.Characteristics = c.Complete(ctx, provider.Request{
		Prompt: provider.Render(promptProfile, map[string]string{"history": portraitHistory(history, begin, end, iv)}),
	})
	return p.Characteristics
}

func portraitHistory(history []act.Act, begin, end time.Time, iv timeutil.Interval) string {
	var b strings.Builder
	var kept []act.Act
	for _, bucket := range timeutil.Buckets(begin, end, iv) {
		var step []act.Act
		for _, a := range history {
			if !a.Timestamp.Before(bucket[0]) && a.Timestamp.Before(bucket[1]) {
				step = append(step, a)
			}
		}
		if len(step) == 0 {
			fmt.Fprintf(&b, "%s to %s: No activities.\n", timeutil.Format(bucket[0]), timeutil.Format(bucket[1]))
		}
		if len(step) > portraitPerBucket {
			step = step[len(step)-portraitPerBucket:]
		}
		kept = append(kept, step...)
	}
	if len(kept) > portraitMaxActs {
		kept = kept[len(kept)-portraitMaxActs:]
	}
	for _, a := range kept {
		verb := portraitVerb(a.Kind)
		if verb == "" {
			continue
		}
		fmt.Fprintf(&b, "%s %s a post: \"%s\"\n", timeutil.Format(a.Timestamp), verb, a.Text)
	}
	return b.String()
}

func portraitVerb(k act.Kind) string {
	switch {
	case k == act.KindRead:
		return "read"
	case k == act.KindLike:
		return "like"
	case k == act.KindPost:
		return "write"
	case k.IsRepost():
		return "repost"
	}
	return ""
}
