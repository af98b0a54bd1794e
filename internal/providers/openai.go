package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/meguminnnnnnnnn/go-openai"

	"github.com/ChamsBouzaiene/dyno/internal/engine"
)

// OpenAIPlanner drives OpenAI-compatible chat completion endpoints with
// function tools and tool_choice "required".
type OpenAIPlanner struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
}

var _ Client = (*OpenAIPlanner)(nil)

// NewOpenAIPlanner creates a planner. cfg.BaseURL selects a compatible endpoint.
func NewOpenAIPlanner(cfg Config) *OpenAIPlanner {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	p := &OpenAIPlanner{
		client:      openai.NewClientWithConfig(config),
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
func (p *OpenAIPlanner) Model() string { return p.model }

// Plan implements engine.Planner.
func (p *OpenAIPlanner) Plan(ctx context.Context, req engine.PlanRequest) (engine.PlanResponse, error) {
	tools, err := openaiTools(allowedKinds(req))
	if err != nil {
		return engine.PlanResponse{}, err
	}

	temperature := p.temperature
	chatReq := openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    openaiMessages(systemText(req), req.History),
		Tools:       tools,
		ToolChoice:  "required",
		MaxTokens:   p.maxTokens,
		Temperature: &temperature,
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return engine.PlanResponse{Model: p.model}, wrapError(ctx, err)
	}

	out := engine.PlanResponse{Model: p.model, Usage: openaiUsage(resp.Usage)}
	if resp.Model != "" {
		out.Model = resp.Model
	}
	if len(resp.Choices) == 0 {
		return out, &engine.FinishReasonError{Reason: "empty_response"}
	}

	choice := resp.Choices[0]
	for _, tc := range choice.Message.ToolCalls {
		if tc.Function.Name == "" {
			continue
		}
		call, err := decodeCall(tc.ID, tc.Function.Name, json.RawMessage(tc.Function.Arguments), req)
		if err != nil {
			return out, err
		}
		out.Call = call
		return out, nil
	}

	reason := string(choice.FinishReason)
	if reason == "" {
		reason = "stop"
	}
	return out, &engine.FinishReasonError{Reason: reason, Text: choice.Message.Content}
}

// Title implements engine.Titler.
func (p *OpenAIPlanner) Title(ctx context.Context, prompt string) (string, error) {
	temperature := float32(0.3)
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: titlePrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   titleMaxTokens,
		Temperature: &temperature,
	})
	if err != nil {
		return "", wrapError(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return cleanTitle(resp.Choices[0].Message.Content), nil
}

// openaiUsage normalizes usage so that input excludes cached prompt tokens.
func openaiUsage(u openai.Usage) engine.Usage {
	cached := 0
	if u.PromptTokensDetails != nil {
		cached = u.PromptTokensDetails.CachedTokens
	}
	input := u.PromptTokens - cached
	if input < 0 {
		input = 0
	}
	return engine.Usage{InputTokens: input, OutputTokens: u.CompletionTokens, CachedInputTokens: cached}
}

func openaiTools(kinds []engine.ActionKind) ([]openai.Tool, error) {
	var tools []openai.Tool
	for _, spec := range engine.Specs(kinds) {
		var schemaObj map[string]any
		if err := json.Unmarshal([]byte(spec.SchemaJSON), &schemaObj); err != nil {
			return nil, fmt.Errorf("invalid tool schema JSON for %s: %w", spec.Kind, err)
		}
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        string(spec.Kind),
				Description: spec.Description,
				Parameters:  schemaObj,
			},
		})
	}
	return tools, nil
}

func openaiMessages(system string, history []engine.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})

	pending := map[string]bool{}
	for _, msg := range history {
		switch msg.Role {
		case engine.RoleUser:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: msg.Content})
		case engine.RoleAssistant:
			if msg.ToolCall != nil {
				// Some SDK versions serialize "" as null, which the API rejects.
				out = append(out, openai.ChatCompletionMessage{
					Role:    openai.ChatMessageRoleAssistant,
					Content: " ",
					ToolCalls: []openai.ToolCall{{
						ID:   msg.ToolCall.ID,
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      msg.ToolCall.Name(),
							Arguments: string(toolArgs(msg.ToolCall)),
						},
					}},
				})
				pending[msg.ToolCall.ID] = true
				continue
			}
			if strings.TrimSpace(msg.Content) != "" {
				out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: msg.Content})
			}
		case engine.RoleTool:
			// Tool messages must follow the assistant message that requested them.
			if !pending[msg.ToolCallID] {
				continue
			}
			delete(pending, msg.ToolCallID)
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: msg.ToolCallID,
				Content:    nonEmpty(msg.Content),
			})
		}
	}
	return out
}
