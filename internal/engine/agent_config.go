package engine

import "github.com/ChamsBouzaiene/dyno/internal/prompts"

// AgentConfig holds configuration for an agent instance.
type AgentConfig struct {
	Variant       Variant
	RetryPolicy   RetryPolicy
	PromptVersion prompts.Version // empty = newest
	SystemPrompt  string                // overrides the registry prompt when set
}

// DefaultAgentConfig returns a default agent configuration.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		Variant:     BuildVariant(),
		RetryPolicy: DefaultPlanRetryPolicy(),
	}
}
