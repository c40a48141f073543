// Package anthropic adapts the Anthropic Messages API to the agent package's
// LLMProvider contract, translating Claude's content-block streaming events
// into the closed reasoning/tool-call Part tag set spec.md 6 requires.
package anthropic

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

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

// Provider implements agent.LLMProvider against Anthropic's Messages API.
type Provider struct {
	client       anthropic.Client
	maxRetries   int
	retryDelay   time.Duration
	defaultModel string
}

// New constructs a Provider. Defaults: 3 retries, 1s base delay,
// claude-sonnet-4-20250514.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Provider{
		client:       anthropic.NewClient(opts...),
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		defaultModel: cfg.DefaultModel,
	}, nil
}

func (p *Provider) Name() string { return "anthropic" }

// Complete drains one streaming Messages call with retry-on-transient-error,
// converting Anthropic's content_block_* events into agent.Part values.
func (p *Provider) Complete(ctx context.Context, req agent.CompletionRequest) (*agent.Completion, error) {
	messages, err := convertMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("anthropic: convert messages: %w", err)
	}
	tools, err := convertTools(req.Tools)
	if err != nil {
		return nil, fmt.Errorf("anthropic: convert tools: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.defaultModel),
		Messages:  messages,
		MaxTokens: int64(maxTokensOrDefault(req.MaxOutputTokens)),
		Tools:     tools,
	}
	if system := systemPrompt(req.Messages); system != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: system}}
	}

	var completion *agent.Completion
	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoffDelay(p.retryDelay, attempt-1)):
			}
		}
		stream := p.client.Messages.NewStreaming(ctx, params)
		completion, lastErr = p.drain(ctx, stream, p.defaultModel)
		if lastErr == nil {
			return completion, nil
		}
		if !providererr.IsRetryable(lastErr) {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

func (p *Provider) drain(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], model string) (*agent.Completion, error) {
	completion := &agent.Completion{FinishReason: agent.FinishStop}
	var textBuilder strings.Builder
	var currentToolID, currentToolName string
	var currentToolInput strings.Builder
	var inputTokens, outputTokens int
	sawTool := false

	for stream.Next() {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		event := stream.Current()

		switch event.Type {
		case "message_start":
			ms := event.AsMessageStart()
			if ms.Message.Usage.InputTokens > 0 {
				inputTokens = int(ms.Message.Usage.InputTokens)
			}

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				toolUse := block.AsToolUse()
				currentToolID = toolUse.ID
				currentToolName = toolUse.Name
				currentToolInput.Reset()
				completion.Parts = append(completion.Parts, agent.Part{Type: agent.PartToolInputStart, ToolCallID: currentToolID, ToolName: currentToolName})
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				textBuilder.WriteString(delta.Text)
			case "thinking_delta":
				completion.Parts = append(completion.Parts, agent.Part{Type: agent.PartReasoningDelta, ReasoningDelta: delta.Thinking})
			case "input_json_delta":
				currentToolInput.WriteString(delta.PartialJSON)
			}

		case "content_block_stop":
			if currentToolName != "" {
				sawTool = true
				input := json.RawMessage(currentToolInput.String())
				completion.ToolCalls = append(completion.ToolCalls, agent.ToolCallRequest{ID: currentToolID, Name: currentToolName, Input: input})
				completion.Parts = append(completion.Parts, agent.Part{Type: agent.PartToolCall, ToolCallID: currentToolID, ToolName: currentToolName, ToolInput: input})
				currentToolName = ""
			}

		case "message_delta":
			md := event.AsMessageDelta()
			if md.Usage.OutputTokens > 0 {
				outputTokens = int(md.Usage.OutputTokens)
			}

		case "message_stop":
			completion.Text = textBuilder.String()
			completion.Usage = agent.Usage{InputTokens: inputTokens, OutputTokens: outputTokens}
			if sawTool {
				completion.FinishReason = agent.FinishToolCalls
			}
			return completion, nil

		case "error":
			return nil, wrapError(errors.New("anthropic stream error"), model)
		}
	}

	if err := stream.Err(); err != nil {
		return nil, wrapError(err, model)
	}
	completion.Text = textBuilder.String()
	completion.Usage = agent.Usage{InputTokens: inputTokens, OutputTokens: outputTokens}
	if sawTool {
		completion.FinishReason = agent.FinishToolCalls
	}
	return completion, nil
}

func systemPrompt(messages []agent.LogEntry) string {
	for _, m := range messages {
		if m.Role == agent.RoleSystem {
			return m.Content
		}
	}
	return ""
}

func convertMessages(messages []agent.LogEntry) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	for _, m := range messages {
		switch m.Role {
		case agent.RoleSystem:
			continue
		case agent.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			result = append(result, anthropic.NewAssistantMessage(blocks...))
		case agent.RoleTool:
			content := ""
			isErr := false
			if m.ToolResult != nil {
				if !m.ToolResult.Success {
					isErr = true
					content = m.ToolResult.Error
				} else {
					content = m.ToolResult.Result
					if content == "" {
						content = m.ToolResult.ExtractedData
					}
				}
			}
			result = append(result, anthropic.NewUserMessage(anthropic.NewToolResultBlock(m.ToolCallID, content, isErr)))
		default: // user
			var blocks []anthropic.ContentBlockParamUnion
			if len(m.Parts) > 0 {
				for _, part := range m.Parts {
					switch p := part.(type) {
					case agent.TextPart:
						blocks = append(blocks, anthropic.NewTextBlock(p.Text))
					case agent.ImagePart:
						blocks = append(blocks, anthropic.NewImageBlockBase64(p.MediaType, base64.StdEncoding.EncodeToString(p.Data)))
					}
				}
			} else if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			result = append(result, anthropic.NewUserMessage(blocks...))
		}
	}
	return result, nil
}

func convertTools(tools []agent.ToolSpec) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(t.Schema, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", t.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if param.OfTool != nil {
			param.OfTool.Description = anthropic.String(t.Description)
		}
		result = append(result, param)
	}
	return result, nil
}

func maxTokensOrDefault(n int) int {
	if n <= 0 {
		return 4096
	}
	return n
}

func wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return providererr.New("anthropic", model, err).WithStatus(apiErr.StatusCode)
	}
	return providererr.New("anthropic", model, err)
}

// backoffDelay mirrors the teacher's exponential schedule (retryDelay *
// 2^attempt); Complete sleeps for it between its own retry attempts.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	return time.Duration(float64(base) * math.Pow(2, float64(attempt)))
}
