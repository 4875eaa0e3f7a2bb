package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/agora/internal/act"
	"github.com/nidhogg/agora/internal/provider"
)

// BatchSize is the number of posts judged per batched reaction call.
const BatchSize = 10

const (
	reactTimeLayout = "06-01-02 15:04"
	postTimeLayout  = "2006-01-02 15:04"
)

var errEmptyResponse = errors.New("empty response")

// ActionModule turns prompts into acts. It holds no per-agent state.
type ActionModule struct {
	completer provider.Completer
	fineTuned bool
	logger    *zap.Logger
}

// NewActionModule creates an action module. fineTuned routes reaction and
// post calls to the fine-tuned model.
func NewActionModule(c provider.Completer, fineTuned bool, logger *zap.Logger) *ActionModule {
	return &ActionModule{completer: c, fineTuned: fineTuned, logger: logger}
}

// decision is one structured reaction. Both keys must be present.
type decision struct {
	Like   *string `json:"Like"`
	Repost *string `json:"Repost"`
}

var errIncompleteDecision = errors.New("decision without Like or Repost")

func (d decision) check() error {
	if d.Like == nil || d.Repost == nil {
		return errIncompleteDecision
	}
	return nil
}

func (d decision) acts(text string, now time.Time) []act.Act {
	acts := []act.Act{act.New(act.KindRead, text, now)}
	if yes(d.Like) {
		acts = append(acts, act.New(act.KindLike, text, now))
	}
	if yes(d.Repost) {
		acts = append(acts, act.New(act.KindRetweet, text, now))
	}
	return acts
}

// ReactToPost always returns a read act, followed by like and retweet acts
// when the model says yes. Any failure means no like and no repost.
func (m *ActionModule) ReactToPost(ctx context.Context, text string, memories []string, characteristics string, now time.Time) []act.Act {
	resp := m.completer.Complete(ctx, provider.Request{
		System: provider.Render(promptReactSystem, map[string]string{"characteristics": characteristics}),
		Prompt: provider.Render(promptReact, map[string]string{
			"timestamp": now.Format(reactTimeLayout),
			"post":      text,
			"memories":  numbered(memories, 1),
		}),
		FineTuned: m.fineTuned,
	})
	var d decision
	err := decodeJSON(resp, &d)
	if err == nil {
		err = d.check()
	}
	if err != nil {
		m.logger.Debug("react response unusable", zap.Error(err), zap.String("response", resp))
		d = decision{}
	}
	return d.acts(text, now)
}

// ReactToPosts judges texts in batches of BatchSize. A batch whose reply is
// malformed or has the wrong number of decisions is redone one post at a
// time, so the result always has len(texts) entries.
func (m *ActionModule) ReactToPosts(ctx context.Context, texts []string, memories []string, characteristics string, now time.Time) [][]act.Act {
	out := make([][]act.Act, 0, len(texts))
	for start := 0; start < len(texts); start += BatchSize {
		batch := texts[start:min(start+BatchSize, len(texts))]
		out = append(out, m.reactBatch(ctx, batch, memories, characteristics, now)...)
	}
	return out
}

func (m *ActionModule) reactBatch(ctx context.Context, texts []string, memories []string, characteristics string, now time.Time) [][]act.Act {
	resp := m.completer.Complete(ctx, provider.Request{
		System: provider.Render(promptReactsSystem, map[string]string{"characteristics": characteristics}),
		Prompt: provider.Render(promptReacts, map[string]string{
			"timestamp": now.Format(reactTimeLayout),
			"posts":     numbered(texts, 1),
			"memories":  numbered(memories, 1),
		}),
		FineTuned: m.fineTuned,
	})
	var ds []decision
	err := decodeJSON(resp, &ds)
	if err == nil && len(ds) != len(texts) {
		err = fmt.Errorf("got %d decisions for %d posts", len(ds), len(texts))
	}
	for i := 0; err == nil && i < len(ds); i++ {
		if cerr := ds[i].check(); cerr != nil {
			err = fmt.Errorf("decision %d: %w", i, cerr)
		}
	}
	if err != nil {
		m.logger.Debug("batch react failed, falling back to single posts", zap.Error(err), zap.Int("posts", len(texts)))
		out := make([][]act.Act, len(texts))
		for i, t := range texts {
			out[i] = m.ReactToPost(ctx, t, memories, characteristics, now)
		}
		return out
	}
	out := make([][]act.Act, len(texts))
	for i, d := range ds {
		out[i] = d.acts(texts[i], now)
	}
	return out
}

// WritePost returns one post act, or none when the model abstains or the
// reply cannot be parsed. force selects a prompt that discourages abstaining.
func (m *ActionModule) WritePost(ctx context.Context, memories []string, characteristics string, previous []string, now time.Time, force bool) []act.Act {
	prev := "No previous posts"
	if len(previous) > 0 {
		prev = numbered(previous, 1)
	}
	tmpl := promptPost
	if force {
		tmpl = promptPostForce
	}
	resp := m.completer.Complete(ctx, provider.Request{
		System: provider.Render(promptPostSystem, map[string]string{"characteristics": characteristics}),
		Prompt: provider.Render(tmpl, map[string]string{
			"timestamp":      now.Format(postTimeLayout),
			"memories":       numbered(memories, 1),
			"previous_posts": prev,
		}),
		FineTuned: m.fineTuned,
	})
	var p struct {
		Post string `json:"Post"`
	}
	if err := decodeJSON(resp, &p); err != nil {
		m.logger.Debug("post response unusable", zap.Error(err), zap.String("response", resp))
		return nil
	}
	text := strings.TrimSpace(p.Post)
	if text == "" || strings.Contains(strings.ToLower(text), act.NoPost) {
		return nil
	}
	return []act.Act{act.New(act.KindPost, text, now)}
}

// NextAction is a predicted next activity.
type NextAction struct {
	Action string    `json:"action"` // Browsing, Posting or None
	Time   time.Time `json:"time,omitzero"`
	Raw    string    `json:"raw,omitempty"`
}

var (
	actionRe = regexp.MustCompile(`(?i)action:\s*\[?"?(browsing|posting|none)`)
	timeRe   = regexp.MustCompile(`(?i)time:\s*\[?"?(\d{4}-\d{2}-\d{2} \d{2}:\d{2})`)
)

// PredictNext asks for the next activity and its approximate time.
func (m *ActionModule) PredictNext(ctx context.Context, characteristics string, memories, behavior []string, now time.Time) NextAction {
	resp := m.completer.Complete(ctx, provider.Request{
		Prompt: provider.Render(promptNextAction, map[string]string{
			"characteristics": characteristics,
			"memories":        numbered(memories, 1),
			"behavior_record": strings.Join(behavior, "\n"),
			"timestamp":       now.Format(postTimeLayout),
		}),
	})
	return parseNextAction(resp)
}

func parseNextAction(resp string) NextAction {
	next := NextAction{Action: "None", Raw: resp}
	if m := actionRe.FindStringSubmatch(resp); m != nil {
		next.Action = strings.ToUpper(m[1][:1]) + strings.ToLower(m[1][1:])
	}
	if next.Action == "None" {
		return next
	}
	if m := timeRe.FindStringSubmatch(resp); m != nil {
		if t, err := time.ParseInLocation(postTimeLayout, m[1], time.UTC); err == nil {
			next.Time = t
		}
	}
	return next
}

// decodeJSON strips code fences and whitespace and decodes the rest.
func decodeJSON(resp string, v any) error {
	s := strings.Trim(resp, "`|json \t\r\n")
	if s == "" {
		return errEmptyResponse
	}
	if err := json.Unmarshal([]byte(s), v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func yes(s *string) bool {
	return s != nil && strings.EqualFold(strings.TrimSpace(*s), "yes")
}

// numbered renders items as "1. a\n2. b" starting at from.
func numbered(items []string, from int) string {
	lines := make([]string, len(items))
	for i, it := range items {
		lines[i] = fmt.Sprintf("%d. %s", i+from, it)
	}
	return strings.Join(lines, "\n")
}
