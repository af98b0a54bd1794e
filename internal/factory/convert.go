package factory

import (
	"github.com/ChamsBouzaiene/dyno/internal/config"
	"github.com/ChamsBouzaiene/dyno/internal/engine"
	"github.com/ChamsBouzaiene/dyno/internal/providers"
	"github.com/ChamsBouzaiene/dyno/internal/sandbox"
	"github.com/ChamsBouzaiene/dyno/internal/tools"
)

// ProviderConfig maps the llm section onto a provider config.
func ProviderConfig(c config.LLMConfig) providers.Config {
	return providers.Config{
		Provider:        c.Provider,
		Model:           c.Model,
		APIKey:          c.APIKey,
		BaseURL:         c.BaseURL,
		MaxOutputTokens: c.MaxOutputTokens,
		Temperature:     c.Temperature,
	}
}

// SandboxConfig maps the sandbox section onto a sandbox config. Unset fields
// keep the sandbox defaults.
func SandboxConfig(c config.SandboxConfig) sandbox.Config {
	out := sandbox.DefaultConfig()
	out.Mode = sandbox.ParseMode(c.Mode)
	if c.Image != "" {
		out.Image = c.Image
	}
	if c.CPU != "" {
		out.CPU = c.CPU
	}
	if c.Memory != "" {
		out.Memory = c.Memory
	}
	if c.CmdTimeout > 0 {
		out.CmdTimeout = c.CmdTimeout
	}
	if c.HostRoot != "" {
		out.HostRoot = c.HostRoot
	}
	if c.Port > 0 {
		out.Port = c.Port
	}
	return out
}

// ToolsConfig maps the sandbox section onto the tool executor config. An empty
// verify command disables verification.
func ToolsConfig(c config.SandboxConfig) tools.Config {
	out := tools.DefaultConfig()
	out.VerifyCommand = c.VerifyCommand
	if c.VerifyTimeout > 0 {
		out.VerifyTimeout = c.VerifyTimeout
	}
	if c.ServerLogPath != "" {
		out.ServerLogPath = c.ServerLogPath
	}
	return out
}

// RetryPolicy builds the planner retry policy from the agent section.
func RetryPolicy(c config.AgentConfig) engine.RetryPolicy {
	p := engine.DefaultPlanRetryPolicy()
	p.MaxRetries = c.RetryAttempts
	if c.RetryInitialDelay > 0 {
		p.InitialDelay = c.RetryInitialDelay
	}
	return p
}
