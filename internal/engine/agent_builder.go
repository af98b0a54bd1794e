package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ChamsBouzaiene/dyno/internal/prompts"
)

// AgentBuilder helps construct an Agent with a fluent API.
type AgentBuilder struct {
	config        AgentConfig
	planner       Planner
	tools         ToolExecutor
	store         StateStore
	meter         Meter
	titler        Titler
	hooks         Hooks
	maxIterations *int
}

// NewAgentBuilder creates a new agent builder with default configuration.
func NewAgentBuilder() *AgentBuilder {
	return &AgentBuilder{
		config: DefaultAgentConfig(),
	}
}

// WithPlanner sets the planning service.
func (b *AgentBuilder) WithPlanner(p Planner) *AgentBuilder {
	b.planner = p
	return b
}

// WithToolExecutor sets the tool executor.
func (b *AgentBuilder) WithToolExecutor(t ToolExecutor) *AgentBuilder {
	b.tools = t
	return b
}

// WithStateStore sets the conversation store.
func (b *AgentBuilder) WithStateStore(s StateStore) *AgentBuilder {
	b.store = s
	return b
}

// WithMeter sets usage accounting. Without one, usage is tracked but not settled.
func (b *AgentBuilder) WithMeter(m Meter) *AgentBuilder {
	b.meter = m
	return b
}

// WithTitler enables title generation on the first turn of a conversation.
func (b *AgentBuilder) WithTitler(t Titler) *AgentBuilder {
	b.titler = t
	return b
}

// WithVariant selects the build or ask flavour.
func (b *AgentBuilder) WithVariant(v Variant) *AgentBuilder {
	b.config.Variant = v
	return b
}

// WithMaxIterations overrides the variant's iteration ceiling. Zero is allowed.
func (b *AgentBuilder) WithMaxIterations(n int) *AgentBuilder {
	b.maxIterations = &n
	return b
}

// WithRetryPolicy sets the retry policy for planner calls.
func (b *AgentBuilder) WithRetryPolicy(p RetryPolicy) *AgentBuilder {
	b.config.RetryPolicy = p
	return b
}

// WithPromptVersion pins the system prompt version.
func (b *AgentBuilder) WithPromptVersion(version prompts.Version) *AgentBuilder {
	b.config.PromptVersion = version
	return b
}

// WithSystemPrompt replaces the registry prompt entirely.
func (b *AgentBuilder) WithSystemPrompt(prompt string) *AgentBuilder {
	b.config.SystemPrompt = prompt
	return b
}

// WithHooks sets custom hooks.
func (b *AgentBuilder) WithHooks(hooks Hooks) *AgentBuilder {
	b.hooks = hooks
	return b
}

// Build constructs the Agent instance.
func (b *AgentBuilder) Build(_ context.Context) (*Agent, error) {
	if b.planner == nil {
		return nil, fmt.Errorf("planner not configured: use WithPlanner")
	}
	if b.tools == nil {
		return nil, fmt.Errorf("tool executor not configured: use WithToolExecutor")
	}
	if b.store == nil {
		return nil, fmt.Errorf("state store not configured: use WithStateStore")
	}
	if b.config.Variant.Name == "" {
		return nil, fmt.Errorf("variant not configured: use WithVariant")
	}

	if b.maxIterations != nil {
		if *b.maxIterations < 0 {
			return nil, fmt.Errorf("max iterations must not be negative, got %d", *b.maxIterations)
		}
		b.config.Variant.MaxIterations = *b.maxIterations
	}

	if b.config.SystemPrompt == "" {
		if _, err := prompts.DefaultRegistry().Lookup(b.config.Variant.PromptID, b.config.PromptVersion); err != nil {
			return nil, err
		}
	}

	if b.hooks == nil {
		b.hooks = DefaultHooks()
	}

	slog.Debug("agent built",
		"variant", b.config.Variant.Name,
		"max_iterations", b.config.Variant.MaxIterations,
		"tools", len(b.config.Variant.Allowed),
		"prompt", b.config.Variant.PromptID)

	return &Agent{
		planner: b.planner,
		tools:   b.tools,
		store:   b.store,
		meter:   b.meter,
		titler:  b.titler,
		hooks:   b.hooks,
		config:  b.config,
	}, nil
}
