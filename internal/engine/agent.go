package engine

import (
	"context"

	"github.com/ChamsBouzaiene/dyno/internal/engine/protocol"
	"github.com/ChamsBouzaiene/dyno/internal/prompts"
)

// Agent runs invocations of one variant. It holds no per-conversation state
// and is safe for concurrent use across projects.
type Agent struct {
	planner Planner
	tools   ToolExecutor
	store   StateStore
	meter   Meter
	titler  Titler
	hooks   Hooks
	config  AgentConfig
}

// Variant returns the agent's variant.
func (a *Agent) Variant() Variant { return a.config.Variant }

// systemPrompt renders the variant prompt for workingDir.
func (a *Agent) systemPrompt(workingDir string) (string, error) {
	if a.config.SystemPrompt != "" {
		return prompts.Expand(a.config.SystemPrompt, workingDir), nil
	}
	return prompts.Render(a.config.Variant.PromptID, a.config.PromptVersion, workingDir)
}

// Run executes one invocation until the agent replies, fails, is stopped or
// runs out of iterations. It never returns without persisting the
// conversation (unless it could not be loaded) and settling usage.
func (a *Agent) Run(ctx context.Context, inv Invocation) Result {
	if inv.ID == "" {
		inv.ID = protocol.NewInvocationID()
	}
	if inv.Sink == nil {
		inv.Sink = discardSink{}
	}
	r := &run{
		agent: a,
		inv:   inv,
		tab:   newUsageTab(a.meter, inv),
		st: &State{
			InvocationID:  inv.ID,
			ProjectID:     inv.ProjectID,
			UserID:        inv.UserID,
			Variant:       a.config.Variant.Name,
			MaxIterations: a.config.Variant.MaxIterations,
			Files:         make(map[string]string),
		},
	}
	return r.execute(ctx)
}

type discardSink struct{}

func (discardSink) Emit(context.Context, protocol.Event) error { return nil }
