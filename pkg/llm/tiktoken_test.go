package llm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTiktokenCounterTemplateOffset(t *testing.T) {
	counter := NewTiktokenCounter("")

	n, err := counter.CountTokens("")
	require.NoError(t, err)
	assert.Equal(t, chatTemplateTokens, n)

	n, err = counter.CountTokens("hello world")
	require.NoError(t, err)
	assert.Equal(t, 2+chatTemplateTokens, n)
}

func TestTiktokenCounterPrefixMonotonic(t *testing.T) {
	counter := NewTiktokenCounter(DefaultEncoding)

	prompt, err := DirectPrompt(
		`<table class="waffle"><tr><td>notes</td><td>Price</td></tr><tr><td>Basic</td><td>10 €</td></tr></table>`,
		"Which plan costs less than 20 €?",
	)
	require.NoError(t, err)

	words := strings.SplitAfter(prompt, " ")
	previous := 0
	for i := range words {
		n, err := counter.CountTokens(strings.Join(words[:i+1], ""))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, previous, "prefix of %d words", i+1)
		previous = n
	}
}

func TestTiktokenCounterUnknownEncoding(t *testing.T) {
	_, err := NewTiktokenCounter("no_such_encoding").CountTokens("x")
	assert.Error(t, err)
}

func TestDefaultCounterNeedsNoNetwork(t *testing.T) {
	// An unreachable proxy makes any download attempt fail.
	t.Setenv("HTTPS_PROXY", "http://127.0.0.1:1")
	t.Setenv("TIKTOKEN_CACHE_DIR", t.TempDir())

	budget := NewBudgeter(NewTiktokenCounter(""), RefineTokenLimit)
	fits, err := budget.Fits("How many rows are there?")
	require.NoError(t, err)
	assert.True(t, fits)
}
