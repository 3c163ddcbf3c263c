package kestrel

import (
	"strings"

	"github.com/tmc/langchaingo/llms"
)

// Message is the vendor-neutral conversation unit. It wraps langchaingo's
// MessageContent so providers can be swapped without re-mapping history.
//
// Invariant: a [llms.ToolCall] part inside an assistant message must be
// followed, with no intervening unpaired message, by a tool message carrying
// the matching [llms.ToolCallResponse]. [History] preserves this invariant
// across pruning.
type Message struct {
	Role  llms.ChatMessageType
	Parts []llms.ContentPart
}

// UserMessage builds a user message with a single text part.
func UserMessage(text string) Message {
	return Message{
		Role:  llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{llms.TextContent{Text: text}},
	}
}

// AssistantMessage builds an assistant message with a single text part.
func AssistantMessage(text string) Message {
	return Message{
		Role:  llms.ChatMessageTypeAI,
		Parts: []llms.ContentPart{llms.TextContent{Text: text}},
	}
}

// AssistantToolCallMessage builds an assistant message requesting the given
// tool calls. Text may be empty; when present it is placed before the calls.
func AssistantToolCallMessage(text string, calls []ToolCallRequest) Message {
	parts := make([]llms.ContentPart, 0, len(calls)+1)
	if text != "" {
		parts = append(parts, llms.TextContent{Text: text})
	}
	for _, call := range calls {
		parts = append(parts, llms.ToolCall{
			ID:   call.ID,
			Type: "function",
			FunctionCall: &llms.FunctionCall{
				Name:      call.Name,
				Arguments: call.RawArguments,
			},
		})
	}
	return Message{Role: llms.ChatMessageTypeAI, Parts: parts}
}

// ToolResponseMessage builds the tool message answering the call with the
// given id.
func ToolResponseMessage(callID, toolName, content string) Message {
	return Message{
		Role: llms.ChatMessageTypeTool,
		Parts: []llms.ContentPart{llms.ToolCallResponse{
			ToolCallID: callID,
			Name:       toolName,
			Content:    content,
		}},
	}
}

// ToolCallIDs returns the ids of all tool-call parts in the message.
// Empty for messages that request no tools.
func (m Message) ToolCallIDs() []string {
	var ids []string
	for _, part := range m.Parts {
		if call, ok := part.(llms.ToolCall); ok {
			ids = append(ids, call.ID)
		}
	}
	return ids
}

// ToolResponseIDs returns the call ids answered by tool-response parts in
// the message.
func (m Message) ToolResponseIDs() []string {
	var ids []string
	for _, part := range m.Parts {
		if resp, ok := part.(llms.ToolCallResponse); ok {
			ids = append(ids, resp.ToolCallID)
		}
	}
	return ids
}

// Text concatenates all text parts of the message.
func (m Message) Text() string {
	var sb strings.Builder
	for _, part := range m.Parts {
		if text, ok := part.(llms.TextContent); ok {
			sb.WriteString(text.Text)
		}
	}
	return sb.String()
}

// AsLLMS converts the message to langchaingo's MessageContent.
func (m Message) AsLLMS() llms.MessageContent {
	return llms.MessageContent{Role: m.Role, Parts: m.Parts}
}

// MessagesAsLLMS converts a slice of messages for a provider call.
func MessagesAsLLMS(messages []Message) []llms.MessageContent {
	out := make([]llms.MessageContent, len(messages))
	for i, m := range messages {
		out[i] = m.AsLLMS()
	}
	return out
}
