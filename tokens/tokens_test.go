package tokens_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-agents/kestrel"
	"github.com/kestrel-agents/kestrel/tokens"
)

func newCl100k(t *testing.T) *tokens.Tiktoken {
	t.Helper()
	estimator, err := tokens.NewTiktoken("cl100k_base")
	if err != nil {
		t.Skipf("cl100k_base encoding unavailable: %v", err)
	}
	return estimator
}

func TestTiktokenEstimateMessage(t *testing.T) {
	estimator := newCl100k(t)

	// "hello world" is 2 tokens under cl100k_base.
	assert.Equal(t, 2, estimator.EstimateMessage(kestrel.UserMessage("hello world")))

	// Empty messages still cost at least one token.
	assert.Equal(t, 1, estimator.EstimateMessage(kestrel.UserMessage("")))
}

func TestTiktokenUnknownEncoding(t *testing.T) {
	_, err := tokens.NewTiktoken("no-such-encoding")
	require.Error(t, err)
}

func TestTiktokenDrivesHistoryPruning(t *testing.T) {
	estimator := newCl100k(t)
	h := kestrel.NewHistory(
		kestrel.WithMaxMessages(0),
		kestrel.WithMaxTokens(50),
		kestrel.WithTokenEstimator(estimator),
	)

	// Each message runs well past half the ceiling, so at most one can
	// survive pruning.
	filler := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 4)
	h.Add(kestrel.UserMessage(filler + "one"))
	h.Add(kestrel.AssistantMessage(filler + "two"))
	h.Add(kestrel.UserMessage(filler + "three"))

	require.Equal(t, 1, h.Len())
	assert.Contains(t, h.Snapshot()[0].Text(), "three")
}
