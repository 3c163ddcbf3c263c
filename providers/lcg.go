// Package providers contains vendor adapters for the kestrel Provider
// contract. The langchaingo-backed LCG adapter covers every vendor
// langchaingo supports (OpenAI, Anthropic, Ollama, Google, Bedrock, ...).
package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"
	"github.com/tmc/langchaingo/llms"

	"github.com/kestrel-agents/kestrel"
)

// LCG adapts an llms.Model to the kestrel Provider contract. It normalizes
// token usage across vendors, classifies failures as transient or permanent
// for the retry policy, and repairs malformed tool-call argument JSON before
// rejecting it.
//
//	llm, _ := openai.New(openai.WithToken(apiKey))
//	provider := providers.NewLCG(llm).WithModelName("gpt-4o")
type LCG struct {
	model     llms.Model
	modelName string
}

// NewLCG creates an adapter wrapping the given llms.Model.
func NewLCG(model llms.Model) *LCG {
	return &LCG{model: model}
}

// WithModelName sets the model name passed on each call. Returns the
// adapter for chaining.
func (p *LCG) WithModelName(name string) *LCG {
	p.modelName = name
	return p
}

// Unwrap returns the underlying llms.Model.
func (p *LCG) Unwrap() llms.Model {
	return p.model
}

// Generate implements kestrel.Provider.
func (p *LCG) Generate(ctx context.Context, req kestrel.GenerateRequest) (*kestrel.GenerateResponse, error) {
	messages, options := p.buildCall(req)

	start := time.Now()
	response, err := p.model.GenerateContent(ctx, messages, options...)
	duration := time.Since(start)
	if err != nil {
		return nil, classify(err)
	}

	return convertResponse(response, duration)
}

// GenerateStream implements kestrel.StreamingProvider. Text arrives as
// incremental deltas; tool calls are emitted as start/delta/end chunks once
// the vendor response completes, since langchaingo surfaces them only on the
// final response.
func (p *LCG) GenerateStream(ctx context.Context, req kestrel.GenerateRequest) (*kestrel.Stream, error) {
	messages, options := p.buildCall(req)
	stream := kestrel.NewStream()

	options = append(options, llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
		if len(chunk) > 0 {
			stream.Push(kestrel.StreamChunk{Type: kestrel.ChunkTextDelta, Text: string(chunk)})
		}
		return nil
	}))

	go func() {
		start := time.Now()
		response, err := p.model.GenerateContent(ctx, messages, options...)
		duration := time.Since(start)
		if err != nil {
			stream.Finish(nil, classify(err))
			return
		}
		converted, err := convertResponse(response, duration)
		if err != nil {
			stream.Finish(nil, err)
			return
		}
		for _, call := range converted.ToolCalls {
			stream.Push(kestrel.StreamChunk{Type: kestrel.ChunkToolCallStart, CallID: call.ID, Name: call.Name})
			stream.Push(kestrel.StreamChunk{Type: kestrel.ChunkToolCallDelta, CallID: call.ID, Text: call.RawArguments})
			stream.Push(kestrel.StreamChunk{Type: kestrel.ChunkToolCallEnd, CallID: call.ID})
		}
		stream.Finish(converted, nil)
	}()

	return stream, nil
}

func (p *LCG) buildCall(req kestrel.GenerateRequest) ([]llms.MessageContent, []llms.CallOption) {
	messages := make([]llms.MessageContent, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, llms.MessageContent{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextContent{Text: req.SystemPrompt}},
		})
	}
	messages = append(messages, kestrel.MessagesAsLLMS(req.Messages)...)

	var options []llms.CallOption
	if p.modelName != "" {
		options = append(options, llms.WithModel(p.modelName))
	}
	if len(req.Tools) > 0 {
		tools := make([]llms.Tool, len(req.Tools))
		for i, schema := range req.Tools {
			tools[i] = llms.Tool{
				Type: "function",
				Function: &llms.FunctionDefinition{
					Name:        schema.Name,
					Description: schema.Description,
					Parameters:  schema.Parameters,
				},
			}
		}
		options = append(options, llms.WithTools(tools))
	}
	if req.MaxTokens > 0 {
		options = append(options, llms.WithMaxTokens(req.MaxTokens))
	}
	if req.Temperature >= 0 {
		options = append(options, llms.WithTemperature(req.Temperature))
	}
	return messages, options
}

// convertResponse maps the vendor response to the neutral shape. An empty
// choice list is a permanent provider error, not a panic.
func convertResponse(response *llms.ContentResponse, duration time.Duration) (*kestrel.GenerateResponse, error) {
	if response == nil || len(response.Choices) == 0 {
		return nil, kestrel.NewPermanentError(fmt.Errorf("providers: response has no choices"))
	}
	choice := response.Choices[0]

	out := &kestrel.GenerateResponse{
		Text:  choice.Content,
		Usage: extractUsage(choice.GenerationInfo, duration),
	}

	for _, call := range choice.ToolCalls {
		if call.FunctionCall == nil {
			continue
		}
		args, raw, err := parseArguments(call.FunctionCall.Arguments)
		if err != nil {
			return nil, kestrel.NewPermanentError(
				fmt.Errorf("providers: tool call %q has unparsable arguments: %w", call.FunctionCall.Name, err))
		}
		out.ToolCalls = append(out.ToolCalls, kestrel.ToolCallRequest{
			ID:           call.ID,
			Name:         call.FunctionCall.Name,
			Arguments:    args,
			RawArguments: raw,
		})
	}
	return out, nil
}

// parseArguments decodes tool-call argument JSON, running it through
// jsonrepair when the vendor emitted malformed output (truncation, single
// quotes, trailing commas). Returns the JSON that actually parsed so history
// echoes what execution saw.
func parseArguments(raw string) (map[string]any, string, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, "{}", nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err == nil {
		return args, raw, nil
	}
	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return nil, "", err
	}
	if err := json.Unmarshal([]byte(repaired), &args); err != nil {
		return nil, "", err
	}
	return args, repaired, nil
}

// extractUsage normalizes token accounting across vendor GenerationInfo key
// conventions.
func extractUsage(info map[string]any, duration time.Duration) kestrel.Usage {
	usage := kestrel.Usage{Duration: duration}
	if info == nil {
		return usage
	}
	// OpenAI and compatible vendors use PromptTokens/CompletionTokens,
	// Anthropic uses InputTokens/OutputTokens, Google and Bedrock use
	// snake_case.
	usage.InputTokens = firstInt(info, "PromptTokens", "InputTokens", "input_tokens")
	usage.OutputTokens = firstInt(info, "CompletionTokens", "OutputTokens", "output_tokens")
	usage.TotalTokens = firstInt(info, "TotalTokens", "total_tokens")
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	}
	return usage
}

func firstInt(info map[string]any, keys ...string) int {
	for _, key := range keys {
		switch n := info[key].(type) {
		case int:
			if n > 0 {
				return n
			}
		case int32:
			if n > 0 {
				return int(n)
			}
		case int64:
			if n > 0 {
				return int(n)
			}
		case float64:
			if n > 0 {
				return int(n)
			}
		}
	}
	return 0
}

// classify wraps a vendor error for the retry policy. Rate limits, timeouts,
// and 5xx-class failures retry; authentication and request-validation
// failures abort immediately.
func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "status code: 429", "rate limit", "overloaded", "529"),
		containsAny(msg, "status code: 500", "status code: 502", "status code: 503", "status code: 504"),
		containsAny(msg, "timeout", "deadline exceeded", "connection reset", "connection refused", "eof"):
		return kestrel.NewTransientError(err)
	case containsAny(msg, "status code: 401", "status code: 403", "api key", "authentication", "unauthorized"),
		containsAny(msg, "status code: 400", "invalid request", "context length", "maximum context"):
		return kestrel.NewPermanentError(err)
	default:
		// Unclassified vendor failures retry; the backoff absorbs the
		// ambiguity.
		return kestrel.NewTransientError(err)
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

var (
	_ kestrel.Provider          = (*LCG)(nil)
	_ kestrel.StreamingProvider = (*LCG)(nil)
)
