package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	anthropic "github.com/liushuangls/go-anthropic/v2"

	"github.com/ChamsBouzaiene/dyno/internal/engine"
)

// AnthropicPlanner asks Claude for exactly one tool call per request.
type AnthropicPlanner struct {
	client      *anthropic.Client
	model       string
	maxTokens   int
	temperature float32
}

var _ Client = (*AnthropicPlanner)(nil)

// NewAnthropicPlanner creates a planner for the Anthropic Messages API.
func NewAnthropicPlanner(cfg Config) *AnthropicPlanner {
	var opts []anthropic.ClientOption
	if cfg.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
	}
	p := &AnthropicPlanner{
		client:      anthropic.NewClient(cfg.APIKey, opts...),
		model:       cfg.Model,
		maxTokens:   cfg.MaxOutputTokens,
		temperature: cfg.Temperature,
	}
	if p.maxTokens <= 0 {
		p.maxTokens = defaultMaxTokens
	}
	if p.temperature <= 0 {
		p.temperature = defaultTemperature
	}
	return p
}

// Model returns the configured model name.
func (p *AnthropicPlanner) Model() string { return p.model }

// Plan implements engine.Planner.
func (p *AnthropicPlanner) Plan(ctx context.Context, req engine.PlanRequest) (engine.PlanResponse, error) {
	tools, err := anthropicTools(allowedKinds(req))
	if err != nil {
		return engine.PlanResponse{}, err
	}

	temperature := p.temperature
	msgReq := anthropic.MessagesRequest{
		Model: anthropic.Model(p.model),
		MultiSystem: []anthropic.MessageSystemPart{{
			Type: "text",
			Text: systemText(req),
			// The system prompt is identical across iterations.
			CacheControl: &anthropic.MessageCacheControl{Type: anthropic.CacheControlTypeEphemeral},
		}},
		Messages:    anthropicMessages(req.History),
		MaxTokens:   p.maxTokens,
		Temperature: &temperature,
		Tools:       tools,
		ToolChoice:  &anthropic.ToolChoice{Type: "any"},
	}

	resp, err := p.client.CreateMessages(ctx, msgReq)
	if err != nil {
		return engine.PlanResponse{Model: p.model}, wrapError(ctx, err)
	}

	out := engine.PlanResponse{
		Model: p.model,
		Usage: engine.Usage{
			// Cache writes are billed as input; cache reads are reported separately.
			InputTokens:       resp.Usage.InputTokens + resp.Usage.CacheCreationInputTokens,
			OutputTokens:      resp.Usage.OutputTokens,
			CachedInputTokens: resp.Usage.CacheReadInputTokens,
		},
	}
	if resp.Model != "" {
		out.Model = string(resp.Model)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case anthropic.MessagesContentTypeText:
			if block.Text != nil {
				text.WriteString(*block.Text)
			}
		case "tool_use":
			if block.MessageContentToolUse == nil || block.Name == "" {
				continue
			}
			call, err := decodeCall(block.ID, block.Name, block.Input, req)
			if err != nil {
				return out, err
			}
			// Only the first tool call is used.
			out.Call = call
			return out, nil
		}
	}

	reason := string(resp.StopReason)
	if reason == "" {
		reason = "stop"
	}
	return out, &engine.FinishReasonError{Reason: reason, Text: text.String()}
}

// Title implements engine.Titler.
func (p *AnthropicPlanner) Title(ctx context.Context, prompt string) (string, error) {
	temperature := float32(0.3)
	resp, err := p.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:       anthropic.Model(p.model),
		System:      titlePrompt,
		Messages:    []anthropic.Message{anthropic.NewUserTextMessage(prompt)},
		MaxTokens:   titleMaxTokens,
		Temperature: &temperature,
	})
	if err != nil {
		return "", wrapError(ctx, err)
	}
	for _, block := range resp.Content {
		if block.Type == anthropic.MessagesContentTypeText && block.Text != nil {
			return cleanTitle(*block.Text), nil
		}
	}
	return "", nil
}

func anthropicTools(kinds []engine.ActionKind) ([]anthropic.ToolDefinition, error) {
	var defs []anthropic.ToolDefinition
	for _, spec := range engine.Specs(kinds) {
		var schemaObj map[string]any
		if err := json.Unmarshal([]byte(spec.SchemaJSON), &schemaObj); err != nil {
			return nil, fmt.Errorf("invalid tool schema JSON for %s: %w", spec.Kind, err)
		}
		defs = append(defs, anthropic.ToolDefinition{
			Name:        string(spec.Kind),
			Description: spec.Description,
			InputSchema: schemaObj,
		})
	}
	return defs, nil
}

// anthropicMessages converts history into alternating user/assistant turns.
// Tool results travel as user content; consecutive same-role turns are merged.
func anthropicMessages(history []engine.Message) []anthropic.Message {
	var out []anthropic.Message
	add := func(role anthropic.ChatRole, content anthropic.MessageContent) {
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, content)
			return
		}
		out = append(out, anthropic.Message{Role: role, Content: []anthropic.MessageContent{content}})
	}

	pending := map[string]bool{}
	for _, msg := range history {
		switch msg.Role {
		case engine.RoleUser:
			add(anthropic.RoleUser, anthropic.NewTextMessageContent(msg.Content))
		case engine.RoleAssistant:
			if msg.ToolCall != nil {
				add(anthropic.RoleAssistant, anthropic.NewToolUseMessageContent(
					msg.ToolCall.ID, msg.ToolCall.Name(), toolArgs(msg.ToolCall)))
				pending[msg.ToolCall.ID] = true
				continue
			}
			if strings.TrimSpace(msg.Content) != "" {
				add(anthropic.RoleAssistant, anthropic.NewTextMessageContent(msg.Content))
			}
		case engine.RoleTool:
			// A result without its tool_use is rejected by the API.
			if !pending[msg.ToolCallID] {
				continue
			}
			delete(pending, msg.ToolCallID)
			add(anthropic.RoleUser, anthropic.NewToolResultMessageContent(msg.ToolCallID, nonEmpty(msg.Content), false))
		}
	}
	return out
}
