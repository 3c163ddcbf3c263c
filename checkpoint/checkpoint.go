// Package checkpoint serializes session state to a versioned JSON document
// and restores it. The storage medium is the caller's concern; the package
// only defines the document and the round trip.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/kestrel-agents/kestrel"
)

// Version is the current document format version. Unmarshal rejects
// documents from a newer format.
const Version = 1

// Document is one serialized checkpoint.
type Document struct {
	Version   int       `json:"version"`
	SessionID string    `json:"session_id,omitempty"`
	SavedAt   time.Time `json:"saved_at"`

	Messages []messageDoc `json:"messages"`

	// Observability carries the run counters at capture time.
	Observability kestrel.RunStats `json:"observability"`

	// Delegation carries the delegation chain state, when the session runs
	// in multi-agent mode.
	Delegation *DelegationState `json:"delegation,omitempty"`
}

// DelegationState is the restorable part of a delegation chain.
type DelegationState struct {
	Chain    []string `json:"chain,omitempty"`
	MaxDepth int      `json:"max_depth"`
}

type messageDoc struct {
	Role  string    `json:"role"`
	Parts []partDoc `json:"parts"`
}

type partDoc struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	Content   string `json:"content,omitempty"`
}

const (
	partText         = "text"
	partToolCall     = "tool_call"
	partToolResponse = "tool_response"
)

// Capture builds a Document from the current session state.
func Capture(sessionID string, history *kestrel.History, stats kestrel.RunStats, delegation *DelegationState) (*Document, error) {
	snapshot := history.Snapshot()
	messages := make([]messageDoc, 0, len(snapshot))
	for _, m := range snapshot {
		doc, err := encodeMessage(m)
		if err != nil {
			return nil, err
		}
		messages = append(messages, doc)
	}
	return &Document{
		Version:       Version,
		SessionID:     sessionID,
		SavedAt:       time.Now().UTC(),
		Messages:      messages,
		Observability: stats,
		Delegation:    delegation,
	}, nil
}

// Marshal encodes the document as JSON.
func (d *Document) Marshal() ([]byte, error) {
	return json.Marshal(d)
}

// Unmarshal decodes a checkpoint document, rejecting unknown versions.
func Unmarshal(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("checkpoint: decode: %w", err)
	}
	if doc.Version < 1 || doc.Version > Version {
		return nil, fmt.Errorf("checkpoint: unsupported document version %d", doc.Version)
	}
	return &doc, nil
}

// Restore clears the history and refills it from the document. Pruning
// applies on the way in, so a document larger than the history's ceilings
// restores to the newest pair-consistent suffix.
func (d *Document) Restore(history *kestrel.History) error {
	messages, err := d.HistoryMessages()
	if err != nil {
		return err
	}
	history.Clear()
	history.Add(messages...)
	return nil
}

// HistoryMessages decodes the document's conversation.
func (d *Document) HistoryMessages() ([]kestrel.Message, error) {
	out := make([]kestrel.Message, 0, len(d.Messages))
	for i, doc := range d.Messages {
		m, err := decodeMessage(doc)
		if err != nil {
			return nil, fmt.Errorf("checkpoint: message %d: %w", i, err)
		}
		out = append(out, m)
	}
	return out, nil
}

func encodeMessage(m kestrel.Message) (messageDoc, error) {
	doc := messageDoc{Role: string(m.Role)}
	for _, part := range m.Parts {
		switch p := part.(type) {
		case llms.TextContent:
			doc.Parts = append(doc.Parts, partDoc{Type: partText, Text: p.Text})
		case llms.ToolCall:
			pd := partDoc{Type: partToolCall, CallID: p.ID}
			if p.FunctionCall != nil {
				pd.Name = p.FunctionCall.Name
				pd.Arguments = p.FunctionCall.Arguments
			}
			doc.Parts = append(doc.Parts, pd)
		case llms.ToolCallResponse:
			doc.Parts = append(doc.Parts, partDoc{
				Type:    partToolResponse,
				CallID:  p.ToolCallID,
				Name:    p.Name,
				Content: p.Content,
			})
		default:
			return messageDoc{}, fmt.Errorf("checkpoint: unsupported part type %T", part)
		}
	}
	return doc, nil
}

func decodeMessage(doc messageDoc) (kestrel.Message, error) {
	m := kestrel.Message{Role: llms.ChatMessageType(doc.Role)}
	for _, pd := range doc.Parts {
		switch pd.Type {
		case partText:
			m.Parts = append(m.Parts, llms.TextContent{Text: pd.Text})
		case partToolCall:
			m.Parts = append(m.Parts, llms.ToolCall{
				ID:   pd.CallID,
				Type: "function",
				FunctionCall: &llms.FunctionCall{
					Name:      pd.Name,
					Arguments: pd.Arguments,
				},
			})
		case partToolResponse:
			m.Parts = append(m.Parts, llms.ToolCallResponse{
				ToolCallID: pd.CallID,
				Name:       pd.Name,
				Content:    pd.Content,
			})
		default:
			return kestrel.Message{}, fmt.Errorf("unknown part type %q", pd.Type)
		}
	}
	return m, nil
}
