package providers

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// Config selects and configures a planning provider.
type Config struct {
	Provider        string  `mapstructure:"provider"`
	Model           string  `mapstructure:"model"`
	APIKey          string  `mapstructure:"api_key"`
	BaseURL         string  `mapstructure:"base_url"`
	MaxOutputTokens int     `mapstructure:"max_output_tokens"`
	Temperature     float32 `mapstructure:"temperature"`
}

type preset struct {
	apiKeyEnv    string
	defaultModel string
	baseURL      string
	anthropic    bool
	keyOptional  bool
}

// OpenAI-compatible endpoints go through the OpenAI adapter.
var presets = map[string]preset{
	"anthropic": {apiKeyEnv: "ANTHROPIC_API_KEY", defaultModel: "claude-sonnet-4-5", anthropic: true},
	"openai":    {apiKeyEnv: "OPENAI_API_KEY", defaultModel: "gpt-4.1"},
	"kimi":      {apiKeyEnv: "KIMI_API_KEY", defaultModel: "kimi-k2-250711", baseURL: "https://ark.ap-southeast.bytepluses.com/api/v3"},
	"gemini":    {apiKeyEnv: "GEMINI_API_KEY", defaultModel: "gemini-2.5-flash", baseURL: "https://generativelanguage.googleapis.com/v1beta/openai"},
	"deepseek":  {apiKeyEnv: "DEEPSEEK_API_KEY", defaultModel: "deepseek-chat", baseURL: "https://api.deepseek.com/v1"},
	"groq":      {apiKeyEnv: "GROQ_API_KEY", defaultModel: "llama-3.3-70b-versatile", baseURL: "https://api.groq.com/openai/v1"},
	"ollama":    {apiKeyEnv: "OLLAMA_API_KEY", defaultModel: "llama3.1", baseURL: "http://localhost:11434/v1", keyOptional: true},
	"lmstudio":  {apiKeyEnv: "LMSTUDIO_API_KEY", defaultModel: "local-model", baseURL: "http://localhost:1234/v1", keyOptional: true},
}

// Providers lists the supported provider names.
func Providers() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New creates the client for cfg.Provider. Missing model, base URL and API key
// fall back to the provider's defaults and its API key environment variable.
func New(cfg Config) (Client, error) {
	name := strings.ToLower(cfg.Provider)
	if name == "" {
		name = "anthropic"
	}
	p, ok := presets[name]
	if !ok {
		return nil, fmt.Errorf("unknown LLM provider: %s (supported: %s)", cfg.Provider, strings.Join(Providers(), ", "))
	}

	if cfg.Model == "" {
		cfg.Model = p.defaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = p.baseURL
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv(p.apiKeyEnv)
	}
	if cfg.APIKey == "" {
		if !p.keyOptional {
			return nil, fmt.Errorf("%s API key not set: use llm.api_key or %s", name, p.apiKeyEnv)
		}
		cfg.APIKey = name
	}

	if p.anthropic {
		return NewAnthropicPlanner(cfg), nil
	}
	return NewOpenAIPlanner(cfg), nil
}
