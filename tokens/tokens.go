// Package tokens provides a model-accurate token estimator backed by
// tiktoken encodings. Use it when the default length heuristic prunes the
// conversation too early or too late for your model.
package tokens

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/kestrel-agents/kestrel"
)

// Tiktoken estimates message tokens with a tiktoken encoding.
type Tiktoken struct {
	encoding *tiktoken.Tiktoken
}

// NewTiktoken creates an estimator for the named encoding, e.g.
// "cl100k_base" or "o200k_base".
func NewTiktoken(encoding string) (*Tiktoken, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("tokens: get encoding %q: %w", encoding, err)
	}
	return &Tiktoken{encoding: enc}, nil
}

// NewTiktokenForModel creates an estimator for the named model, e.g.
// "gpt-4o".
func NewTiktokenForModel(model string) (*Tiktoken, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return nil, fmt.Errorf("tokens: encoding for model %q: %w", model, err)
	}
	return &Tiktoken{encoding: enc}, nil
}

// EstimateMessage counts the tokens of the message's text parts. Non-text
// parts (tool calls, tool responses) are approximated by their serialized
// length when present in Text output.
func (t *Tiktoken) EstimateMessage(m kestrel.Message) int {
	n := len(t.encoding.Encode(m.Text(), nil, nil))
	if n < 1 {
		n = 1
	}
	return n
}

var _ kestrel.TokenEstimator = (*Tiktoken)(nil)
