// Package agent holds the decision-making unit owned by each simulated
// user: memory, profile, daily plan and the prompts that drive them.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/agora/internal/act"
	"github.com/nidhogg/agora/internal/memory"
	"github.com/nidhogg/agora/internal/provider"
	"github.com/nidhogg/agora/internal/timeutil"
)

// Agent types as written to checkpoints.
const (
	TypeLLM   = "LLMAgent"
	TypeNaive = "NaiveAgent"
)

// ErrUnknownAgentType is returned when a snapshot names no known agent.
var ErrUnknownAgentType = errors.New("unknown agent type")

// Retrieval queries used when no post text is at hand.
const (
	queryGenerate = "Something that impresses."
	queryNext     = "What should I do next?"
)

const nextActionRecords = 50

// Agent is the capability set every agent variant provides.
type Agent interface {
	Type() string
	Characteristics() string

	// React judges one post and remembers it.
	React(ctx context.Context, text string, now time.Time) []act.Act
	// ReactAll judges posts in batches. len(result) == len(texts).
	ReactAll(ctx context.Context, texts []string, now time.Time) [][]act.Act
	// Generate possibly writes a post in the style of previous.
	Generate(ctx context.Context, previous []string, now time.Time, force bool) []act.Act

	MakePlan(ctx context.Context, now time.Time) []string
	ActiveAt(now time.Time) bool

	Replay(ctx context.Context, a act.Act)
	ReplayBatch(ctx context.Context, acts []act.Act, ts time.Time)
	DailyReflect(ctx context.Context, acts []act.Act, now time.Time) string

	Portrait(ctx context.Context, history []act.Act, begin, end time.Time, iv timeutil.Interval) string
	DecideNextAction(ctx context.Context, now time.Time) NextAction

	Snapshot(ctx context.Context, archive *memory.Archive) (Snapshot, error)
}

// Snapshot is the checkpoint form of an agent.
type Snapshot struct {
	Type    string           `json:"type"`
	Info    map[string]any   `json:"info,omitempty"`
	Memory  *memory.Snapshot `json:"memory,omitempty"`
	Profile *Profile         `json:"profile,omitempty"`
	Plan    []string         `json:"plan,omitempty"`
}

// Deps are the shared services agents are built from.
type Deps struct {
	Completer provider.Completer
	Embedder  memory.Embedder
	Memory    memory.Options
	FineTuned bool
	Logger    *zap.Logger
}

// LLMAgent drives decisions through the generation service. Its methods
// serialize on an internal lock so status readers can query it while a
// simulation step runs.
type LLMAgent struct {
	mu       sync.Mutex
	id       string
	info     map[string]any
	deps     Deps
	action   *ActionModule
	memory   *memory.Module
	profile  Profile
	plan     Plan
	behavior []act.Act
	logger   *zap.Logger
}

// NewLLMAgent creates an agent with empty memory for user id.
func NewLLMAgent(id string, info map[string]any, deps Deps) *LLMAgent {
	opts := deps.Memory
	opts.Index = id
	return newLLMAgent(id, info, deps, memory.New(deps.Completer, deps.Embedder, opts, deps.Logger))
}

func newLLMAgent(id string, info map[string]any, deps Deps, mem *memory.Module) *LLMAgent {
	return &LLMAgent{
		id:     id,
		info:   info,
		deps:   deps,
		action: NewActionModule(deps.Completer, deps.FineTuned, deps.Logger),
		memory: mem,
		logger: deps.Logger.With(zap.String("agent", id)),
	}
}

func (a *LLMAgent) Type() string { return TypeLLM }

func (a *LLMAgent) Characteristics() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.profile.Characteristics
}

// SetCharacteristics installs a cached profile.
func (a *LLMAgent) SetCharacteristics(s string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.profile.Characteristics = s
}

// Memory exposes the agent's memory module.
func (a *LLMAgent) Memory() *memory.Module { return a.memory }

// Behavior returns a copy of the agent's behavior record.
func (a *LLMAgent) Behavior() []act.Act {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]act.Act(nil), a.behavior...)
}

func (a *LLMAgent) React(ctx context.Context, text string, now time.Time) []act.Act {
	a.mu.Lock()
	defer a.mu.Unlock()

	memories := a.memory.Retrieve(ctx, text, now)
	acts := a.action.ReactToPost(ctx, text, memories, a.profile.Characteristics, now)
	a.remember(ctx, act.Reception(text, acts), now)
	a.behavior = append(a.behavior, acts...)
	return acts
}

func (a *LLMAgent) ReactAll(ctx context.Context, texts []string, now time.Time) [][]act.Act {
	if len(texts) == 0 {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	query := make([]string, len(texts))
	for i, t := range texts {
		query[i] = fmt.Sprintf("%d. %s", i, t)
	}
	memories := a.memory.Retrieve(ctx, strings.Join(query, "\n"), now)
	actss := a.action.ReactToPosts(ctx, texts, memories, a.profile.Characteristics, now)

	received := make([]string, len(actss))
	for i, acts := range actss {
		received[i] = act.Reception(texts[i], acts)
		a.behavior = append(a.behavior, acts...)
	}
	a.memory.AddObservations(ctx, received, now)
	return actss
}

func (a *LLMAgent) Generate(ctx context.Context, previous []string, now time.Time, force bool) []act.Act {
	a.mu.Lock()
	defer a.mu.Unlock()

	memories := a.memory.Retrieve(ctx, queryGenerate, now)
	acts := a.action.WritePost(ctx, memories, a.profile.Characteristics, previous, now, force)
	for _, p := range acts {
		a.remember(ctx, act.Narrate(p), now)
	}
	a.behavior = append(a.behavior, acts...)
	return acts
}

// remember stores an observation prefixed with its minute timestamp.
func (a *LLMAgent) remember(ctx context.Context, text string, now time.Time) {
	a.memory.AddObservation(ctx, now.Format(postTimeLayout)+"\n"+text, now)
}

func (a *LLMAgent) MakePlan(ctx context.Context, now time.Time) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.plan = MakePlan(ctx, a.deps.Completer, a.profile.Characteristics, now, a.logger)
	return append([]string(nil), a.plan.Slots...)
}

func (a *LLMAgent) ActiveAt(now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.plan.Active(now)
}

func (a *LLMAgent) Replay(ctx context.Context, x act.Act) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s := act.Narrate(x); s != "" {
		a.remember(ctx, s, x.Timestamp)
	}
	a.behavior = append(a.behavior, x)
}

func (a *LLMAgent) ReplayBatch(ctx context.Context, acts []act.Act, ts time.Time) {
	if len(acts) == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	lines := make([]string, 0, len(acts))
	for _, x := range acts {
		if s := act.Narrate(x); s != "" {
			lines = append(lines, s)
		}
	}
	a.logger.Debug("replay batch", zap.Int("acts", len(acts)), zap.Time("at", ts))
	a.memory.AddObservations(ctx, lines, ts)
	a.behavior = append(a.behavior, acts...)
}

func (a *LLMAgent) DailyReflect(ctx context.Context, acts []act.Act, now time.Time) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.memory.DailyReflect(ctx, acts, now)
}

func (a *LLMAgent) Portrait(ctx context.Context, history []act.Act, begin, end time.Time, iv timeutil.Interval) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.profile.Portrait(ctx, a.deps.Completer, history, begin, end, iv)
}

func (a *LLMAgent) DecideNextAction(ctx context.Context, now time.Time) NextAction {
	a.mu.Lock()
	defer a.mu.Unlock()

	memories := a.memory.Retrieve(ctx, queryNext, now)
	recent := a.behavior
	if len(recent) > nextActionRecords {
		recent = recent[len(recent)-nextActionRecords:]
	}
	lines := make([]string, len(recent))
	for i, x := range recent {
		lines[i] = fmt.Sprintf(`On %s, %s a post: """%s"""`, timeutil.Format(x.Timestamp), x.Kind, x.Text)
	}
	return a.action.PredictNext(ctx, a.profile.Characteristics, memories, lines, now)
}

func (a *LLMAgent) Snapshot(ctx context.Context, archive *memory.Archive) (Snapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap, err := a.memory.Save(ctx, archive)
	if err != nil {
		return Snapshot{}, err
	}
	profile := a.profile
	return Snapshot{
		Type:    TypeLLM,
		Info:    a.info,
		Memory:  &snap,
		Profile: &profile,
		Plan:    append([]string(nil), a.plan.Slots...),
	}, nil
}

// NaiveAgent reads everything and does nothing else.
type NaiveAgent struct {
	info map[string]any
}

// NewNaiveAgent creates a no-op agent.
func NewNaiveAgent(info map[string]any) *NaiveAgent { return &NaiveAgent{info: info} }

func (n *NaiveAgent) Type() string            { return TypeNaive }
func (n *NaiveAgent) Characteristics() string { return "" }

func (n *NaiveAgent) React(_ context.Context, text string, now time.Time) []act.Act {
	return []act.Act{act.New(act.KindRead, text, now)}
}

func (n *NaiveAgent) ReactAll(ctx context.Context, texts []string, now time.Time) [][]act.Act {
	out := make([][]act.Act, len(texts))
	for i, t := range texts {
		out[i] = n.React(ctx, t, now)
	}
	return out
}

func (n *NaiveAgent) Generate(context.Context, []string, time.Time, bool) []act.Act { return nil }
func (n *NaiveAgent) MakePlan(context.Context, time.Time) []string                { return nil }
func (n *NaiveAgent) ActiveAt(time.Time) bool                                      { return true }
func (n *NaiveAgent) Replay(context.Context, act.Act)                              {}
func (n *NaiveAgent) ReplayBatch(context.Context, []act.Act, time.Time)            {}
func (n *NaiveAgent) DailyReflect(context.Context, []act.Act, time.Time) string    { return "" }

func (n *NaiveAgent) Portrait(context.Context, []act.Act, time.Time, time.Time, timeutil.Interval) string {
	return ""
}

func (n *NaiveAgent) DecideNextAction(context.Context, time.Time) NextAction {
	return NextAction{Action: "None"}
}

func (n *NaiveAgent) Snapshot(context.Context, *memory.Archive) (Snapshot, error) {
	return Snapshot{Type: TypeNaive, Info: n.info}, nil
}

// Load rebuilds an agent for user id from its snapshot.
func Load(ctx context.Context, id string, snap Snapshot, archive *memory.Archive, deps Deps) (Agent, error) {
	switch snap.Type {
	case TypeNaive:
		return NewNaiveAgent(snap.Info), nil
	case TypeLLM:
	default:
		return nil, fmt.Errorf("load agent %s: %w: %q", id, ErrUnknownAgentType, snap.Type)
	}

	var mem *memory.Module
	if snap.Memory != nil {
		m, err := memory.Load(ctx, *snap.Memory, archive, deps.Completer, deps.Embedder, deps.Memory, deps.Logger)
		if err != nil {
			return nil, fmt.Errorf("load agent %s: %w", id, err)
		}
		mem = m
	} else {
		opts := deps.Memory
		opts.Index = id
		mem = memory.New(deps.Completer, deps.Embedder, opts, deps.Logger)
	}
	a := newLLMAgent(id, snap.Info, deps, mem)
	if snap.Profile != nil {
		a.profile = *snap.Profile
	}
	a.plan = NewPlan(snap.Plan)
	return a, nil
}
