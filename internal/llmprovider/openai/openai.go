// Package openai adapts the OpenAI chat-completions API to the agent
// package's LLMProvider contract.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/webauto/agent/internal/agent"
	"github.com/webauto/agent/internal/llmprovider/providererr"
)

// Config configures a Provider.
type Config struct {
	APIKey       string
	BaseURL      string
	MaxRetries   int
	RetryDelay   time.Duration
	DefaultModel string
}

// Provider implements agent.LLMProvider against OpenAI's chat-completions
// streaming API.
type Provider struct {
	client       *openai.Client
	maxRetries   int
	retryDelay   time.Duration
	defaultModel string
}

// New constructs a Provider. Defaults: 3 retries, 1s base delay, gpt-4o.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o"
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &Provider{
		client:       openai.NewClientWithConfig(clientCfg),
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		defaultModel: cfg.DefaultModel,
	}, nil
}

func (p *Provider) Name() string { return "openai" }

// Complete drains one streaming chat-completion call, retrying transient
// stream-setup failures, and materializes an agent.Completion.
func (p *Provider) Complete(ctx context.Context, req agent.CompletionRequest) (*agent.Completion, error) {
	messages, err := convertMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("openai: convert messages: %w", err)
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    p.defaultModel,
		Messages: messages,
		Stream:   true,
	}
	if req.MaxOutputTokens > 0 {
		chatReq.MaxTokens = req.MaxOutputTokens
	}
	if len(req.Tools) > 0 {
		tools, err := convertTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("openai: convert tools: %w", err)
		}
		chatReq.Tools = tools
		if req.ToolChoice == "required" {
			chatReq.ToolChoice = "required"
		}
	}

	var stream *openai.ChatCompletionStream
	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.retryDelay * time.Duration(attempt)):
			}
		}
		stream, lastErr = p.client.CreateChatCompletionStream(ctx, chatReq)
		if lastErr == nil {
			break
		}
		wrapped := wrapError(lastErr, p.defaultModel)
		if !providererr.IsRetryable(wrapped) {
			return nil, wrapped
		}
	}
	if lastErr != nil {
		return nil, wrapError(lastErr, p.defaultModel)
	}
	defer stream.Close()

	return p.drain(ctx, stream)
}

type pendingToolCall struct {
	id, name string
	args     strings.Builder
}

func (p *Provider) drain(ctx context.Context, stream *openai.ChatCompletionStream) (*agent.Completion, error) {
	completion := &agent.Completion{FinishReason: agent.FinishStop}
	var textBuilder strings.Builder
	calls := make(map[int]*pendingToolCall)
	order := make([]int, 0, 1)

	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, wrapError(err, p.defaultModel)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		delta := choice.Delta

		if delta.Content != "" {
			textBuilder.WriteString(delta.Content)
		}

		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			pc, ok := calls[idx]
			if !ok {
				pc = &pendingToolCall{}
				calls[idx] = pc
				order = append(order, idx)
			}
			if tc.ID != "" {
				pc.id = tc.ID
			}
			if tc.Function.Name != "" {
				pc.name = tc.Function.Name
				completion.Parts = append(completion.Parts, agent.Part{Type: agent.PartToolInputStart, ToolCallID: pc.id, ToolName: pc.name})
			}
			if tc.Function.Arguments != "" {
				pc.args.WriteString(tc.Function.Arguments)
			}
		}

		if choice.FinishReason == openai.FinishReasonLength {
			completion.FinishReason = agent.FinishLength
		}
		if choice.FinishReason == openai.FinishReasonContentFilter {
			completion.FinishReason = agent.FinishContentFilter
		}
	}

	for _, idx := range order {
		pc := calls[idx]
		if pc.id == "" || pc.name == "" {
			continue
		}
		input := json.RawMessage(pc.args.String())
		completion.ToolCalls = append(completion.ToolCalls, agent.ToolCallRequest{ID: pc.id, Name: pc.name, Input: input})
		completion.Parts = append(completion.Parts, agent.Part{Type: agent.PartToolCall, ToolCallID: pc.id, ToolName: pc.name, ToolInput: input})
	}
	if len(completion.ToolCalls) > 0 {
		completion.FinishReason = agent.FinishToolCalls
	}
	completion.Text = textBuilder.String()
	return completion, nil
}

func convertMessages(messages []agent.LogEntry) ([]openai.ChatCompletionMessage, error) {
	var result []openai.ChatCompletionMessage
	for _, m := range messages {
		switch m.Role {
		case agent.RoleSystem:
			result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: m.Content})
		case agent.RoleAssistant:
			result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Content})
		case agent.RoleTool:
			content := ""
			if m.ToolResult != nil {
				if !m.ToolResult.Success {
					content = m.ToolResult.Error
				} else if m.ToolResult.Result != "" {
					content = m.ToolResult.Result
				} else {
					content = m.ToolResult.ExtractedData
				}
			}
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    content,
				ToolCallID: m.ToolCallID,
			})
		default: // user
			if len(m.Parts) == 0 {
				result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: m.Content})
				continue
			}
			var mc []openai.ChatMessagePart
			for _, part := range m.Parts {
				switch p := part.(type) {
				case agent.TextPart:
					mc = append(mc, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: p.Text})
				case agent.ImagePart:
					url := fmt.Sprintf("data:%s;base64,%s", p.MediaType, base64.StdEncoding.EncodeToString(p.Data))
					mc = append(mc, openai.ChatMessagePart{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: url, Detail: openai.ImageURLDetailAuto},
					})
				}
			}
			result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, MultiContent: mc})
		}
	}
	return result, nil
}

func convertTools(tools []agent.ToolSpec) ([]openai.Tool, error) {
	result := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		var schema map[string]any
		if err := json.Unmarshal(t.Schema, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", t.Name, err)
		}
		result = append(result, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schema,
			},
		})
	}
	return result, nil
}

func wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return providererr.New("openai", model, err).WithStatus(apiErr.HTTPStatusCode)
	}
	return providererr.New("openai", model, err)
}
